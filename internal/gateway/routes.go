package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/soyeahso/voicebridge/internal/convai"
	"github.com/soyeahso/voicebridge/internal/demo"
	"github.com/soyeahso/voicebridge/internal/elevenlabs"
	"github.com/soyeahso/voicebridge/internal/hooks"
	"github.com/soyeahso/voicebridge/internal/nlq"
	"github.com/soyeahso/voicebridge/internal/relay"
	"github.com/soyeahso/voicebridge/internal/store"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 64 * 1024

// registerHTTPRoutes sets up all HTTP routes on the server mux.
func (s *Server) registerHTTPRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /sessions", s.handleSessions)

	mux.HandleFunc("GET /voicechat/ws", s.handleVoiceWS(demo.Voicechat))

	mux.HandleFunc("GET /aibi/ws", s.handleVoiceWS(demo.AIBI))
	mux.HandleFunc("POST /aibi/nlq", s.handleNLQ)

	mux.HandleFunc("GET /landing-voicechat/ws/access-token", s.handleAccessToken)
	mux.HandleFunc("GET /landing-voicechat/ws", s.requireAccessToken(s.handleVoiceWS(demo.Landing)))
	mux.HandleFunc("POST /landing-voicechat/conversations/{conversation_id}/feedback", s.handleFeedback)

	// Catch-all for unknown routes
	mux.HandleFunc("/", handleNotFound)
}

// handleVoiceWS upgrades the browser connection and relays it to the
// variant's provider agent until either side closes.
func (s *Server) handleVoiceWS(variant string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		debug, _ := strconv.ParseBool(q.Get("debug"))
		params := relay.Params{
			Variant:    variant,
			AgentID:    s.agentFor(variant),
			VoiceID:    q.Get("voice_id"),
			Debug:      debug,
			RemoteAddr: r.RemoteAddr,
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn().Err(err).Str("variant", variant).Msg("websocket upgrade failed")
			return
		}

		if err := s.proxy.Serve(r.Context(), conn, s.routers[variant], params); err != nil {
			var cfgErr *elevenlabs.ConfigurationError
			if errors.As(err, &cfgErr) {
				s.log.Error().Str("variant", variant).Str("missing", cfgErr.Field).Msg("voice session rejected: provider not configured")
				return
			}
			s.log.Warn().Err(err).Str("variant", variant).Msg("voice session setup failed")
		}
	}
}

// requireAccessToken rejects the upgrade unless the caller presents the
// token issued to its IP. Tokens are consumed on first use.
func (s *Server) requireAccessToken(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !s.authLimiter.allow(ip) {
			s.log.Warn().Str("ip", ip).Msg("rate limited, too many invalid access tokens")
			respondError(w, http.StatusTooManyRequests, "Too many invalid access tokens")
			return
		}

		token := r.URL.Query().Get("access_token")
		if token == "" {
			respondError(w, http.StatusForbidden, "Access token is required")
			return
		}
		if !s.tokens.Validate(ip, token) {
			s.authLimiter.recordFailure(ip)
			s.log.Warn().Str("ip", ip).Str("scope", s.tokens.Scope()).Msg("invalid access token")
			respondError(w, http.StatusUnauthorized, "Invalid or expired access token")
			return
		}
		next(w, r)
	}
}

func (s *Server) handleAccessToken(w http.ResponseWriter, r *http.Request) {
	token, err := s.tokens.Generate(clientIP(r))
	if err != nil {
		s.log.Error().Err(err).Msg("generating access token")
		respondError(w, http.StatusInternalServerError, "Could not generate access token")
		return
	}
	respond(w, http.StatusOK, "Landing Voicechat is available", map[string]string{
		"access_token": token,
	})
}

type nlqRequest struct {
	UserQuery string `json:"user_query"`
}

func (s *Server) handleNLQ(w http.ResponseWriter, r *http.Request) {
	var req nlqRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.UserQuery) == "" {
		respondError(w, http.StatusBadRequest, "user_query is required")
		return
	}
	if s.nlq == nil {
		respondError(w, http.StatusServiceUnavailable, demo.ErrNLQUnavailable.Error())
		return
	}

	result, err := s.nlq.Compute(r.Context(), req.UserQuery)
	if err != nil {
		s.log.Error().Err(err).Str("query", req.UserQuery).Msg("natural language query failed")
		status := http.StatusInternalServerError
		if errors.Is(err, nlq.ErrEmptyQuery) {
			status = http.StatusBadRequest
		}
		respondError(w, status, "Error processing natural language query: "+err.Error())
		return
	}
	respond(w, http.StatusOK, "Successfully generated and executed SQL query", result)
}

type feedbackRequest struct {
	Key convai.FeedbackKey `json:"key"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	conversationID := r.PathValue("conversation_id")

	var req feedbackRequest
	if err := decodeBody(w, r, &req); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !req.Key.Valid() {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("key must be %q or %q", convai.FeedbackLike, convai.FeedbackDislike))
		return
	}
	if s.feedback == nil {
		respondError(w, http.StatusServiceUnavailable, "feedback is not configured")
		return
	}

	if err := s.feedback.SendFeedback(r.Context(), conversationID, req.Key); err != nil {
		s.log.Error().Err(err).Str("conversationId", conversationID).Msg("sending conversation feedback")
		respondError(w, feedbackErrorStatus(err), "Error sending conversation feedback: "+err.Error())
		return
	}

	s.hooks.Emit(context.WithoutCancel(r.Context()), hooks.EventFeedbackSent, map[string]any{
		"conversationId": conversationID,
		"feedback":       string(req.Key),
	})
	respond(w, http.StatusOK,
		fmt.Sprintf("Successfully sent feedback (%s) for conversation %s", req.Key, conversationID),
		map[string]string{"key": string(req.Key)})
}

func feedbackErrorStatus(err error) int {
	var cfgErr *elevenlabs.ConfigurationError
	var authErr *elevenlabs.UpstreamAuthError
	switch {
	case errors.As(err, &cfgErr):
		return http.StatusServiceUnavailable
	case errors.As(err, &authErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// HealthResponse is returned by GET /health.
type HealthResponse struct {
	Status        string  `json:"status"`
	Version       string  `json:"version"`
	Sessions      int     `json:"sessions"`
	UptimeSeconds float64 `json:"uptimeSeconds,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := HealthResponse{
		Status:   "ok",
		Version:  s.version,
		Sessions: s.proxy.Sessions().Count(),
	}
	if !s.startedAt.IsZero() {
		h.UptimeSeconds = time.Since(s.startedAt).Seconds()
	}
	respond(w, http.StatusOK, "Service is healthy", h)
}

// SessionsResponse lists live sessions and, with a store, recent history.
type SessionsResponse struct {
	Active []relay.Info           `json:"active"`
	Recent []store.SessionRecord `json:"recent,omitempty"`
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	resp := SessionsResponse{Active: s.proxy.Sessions().List()}
	if resp.Active == nil {
		resp.Active = []relay.Info{}
	}

	if s.sessions != nil {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		recent, err := s.sessions.Recent(limit)
		if err != nil {
			s.log.Error().Err(err).Msg("listing recent sessions")
			respondError(w, http.StatusInternalServerError, "Could not list sessions")
			return
		}
		resp.Recent = recent
	}
	respond(w, http.StatusOK, fmt.Sprintf("%d active sessions", len(resp.Active)), resp)
}

// handleNotFound returns a 404 for unknown routes.
func handleNotFound(w http.ResponseWriter, r *http.Request) {
	respondError(w, http.StatusNotFound, "not found: "+r.URL.Path)
}

// decodeBody reads a size-limited JSON body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
