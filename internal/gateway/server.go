package gateway

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/soyeahso/voicebridge/internal/accesstoken"
	"github.com/soyeahso/voicebridge/internal/config"
	"github.com/soyeahso/voicebridge/internal/convai"
	"github.com/soyeahso/voicebridge/internal/demo"
	"github.com/soyeahso/voicebridge/internal/hooks"
	"github.com/soyeahso/voicebridge/internal/logging"
	"github.com/soyeahso/voicebridge/internal/relay"
	"github.com/soyeahso/voicebridge/internal/store"
	"github.com/soyeahso/voicebridge/internal/version"
)

// LandingTokenScope names the access tokens guarding the landing assistant.
const LandingTokenScope = "landing-voicechat"

// FeedbackSender forwards conversation ratings to the provider.
type FeedbackSender interface {
	SendFeedback(ctx context.Context, conversationID string, key convai.FeedbackKey) error
}

// Server is the voicebridge HTTP + WebSocket server.
type Server struct {
	cfg     config.Config
	log     *logging.Logger
	proxy   *relay.Proxy
	version string

	routers  map[string]*relay.Router // variant → router
	nlq      demo.Answerer
	tokens   *accesstoken.Manager
	feedback FeedbackSender
	sessions *store.SessionStore
	hooks    *hooks.Manager

	startedAt   time.Time
	httpServer  *http.Server
	upgrader    websocket.Upgrader
	authLimiter *authRateLimiter
}

// authRateLimiter tracks failed access token presentations per IP.
type authRateLimiter struct {
	mu       sync.Mutex
	failures map[string][]time.Time
}

const (
	authRateWindow   = 5 * time.Minute
	authRateMaxFails = 10
	authRateMaxIPs   = 10000 // max tracked IPs to prevent memory exhaustion
)

func newAuthRateLimiter() *authRateLimiter {
	return &authRateLimiter{failures: make(map[string][]time.Time)}
}

// run removes stale entries every minute until ctx is done.
func (l *authRateLimiter) run(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.prune()
		}
	}
}

func (l *authRateLimiter) prune() {
	l.mu.Lock()
	defer l.mu.Unlock()
	cutoff := time.Now().Add(-authRateWindow)
	for ip, times := range l.failures {
		filtered := recentSince(times, cutoff)
		if len(filtered) == 0 {
			delete(l.failures, ip)
		} else {
			l.failures[ip] = filtered
		}
	}
}

func recentSince(times []time.Time, cutoff time.Time) []time.Time {
	filtered := times[:0]
	for _, t := range times {
		if t.After(cutoff) {
			filtered = append(filtered, t)
		}
	}
	return filtered
}

func (l *authRateLimiter) allow(ip string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	filtered := recentSince(l.failures[ip], time.Now().Add(-authRateWindow))
	if len(filtered) == 0 {
		delete(l.failures, ip)
		return true
	}
	l.failures[ip] = filtered
	return len(filtered) < authRateMaxFails
}

func (l *authRateLimiter) recordFailure(ip string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Evict the oldest IP once the cap is reached
	if _, exists := l.failures[ip]; !exists && len(l.failures) >= authRateMaxIPs {
		var oldestIP string
		var oldestTime time.Time
		for addr, times := range l.failures {
			if len(times) > 0 && (oldestIP == "" || times[0].Before(oldestTime)) {
				oldestIP = addr
				oldestTime = times[0]
			}
		}
		if oldestIP != "" {
			delete(l.failures, oldestIP)
		}
	}

	l.failures[ip] = append(l.failures[ip], time.Now())
}

// clientIP is the host part of the request's remote address.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return r.RemoteAddr
	}
	return host
}

// ServerOption configures the gateway server.
type ServerOption func(*Server)

// WithHooks sets the hook manager for gateway and feedback events.
func WithHooks(hm *hooks.Manager) ServerOption {
	return func(s *Server) {
		s.hooks = hm
	}
}

// WithStore enables the session history endpoint.
func WithStore(ss *store.SessionStore) ServerOption {
	return func(s *Server) {
		s.sessions = ss
	}
}

// WithNLQ sets the answerer behind POST /aibi/nlq and the aibi query tool.
func WithNLQ(a demo.Answerer) ServerOption {
	return func(s *Server) {
		s.nlq = a
	}
}

// WithAccessTokens replaces the landing access token manager.
func WithAccessTokens(m *accesstoken.Manager) ServerOption {
	return func(s *Server) {
		s.tokens = m
	}
}

// WithFeedback sets the provider client used for conversation feedback.
func WithFeedback(f FeedbackSender) ServerOption {
	return func(s *Server) {
		s.feedback = f
	}
}

// WithRouter overrides the message router of a demo variant.
func WithRouter(variant string, r *relay.Router) ServerOption {
	return func(s *Server) {
		s.routers[variant] = r
	}
}

// New creates a new gateway server relaying sessions through proxy.
// Variants without an explicit router get the default demo router.
func New(cfg config.Config, proxy *relay.Proxy, log *logging.Logger, opts ...ServerOption) *Server {
	s := &Server{
		cfg:         cfg,
		log:         log.Sub("gateway"),
		proxy:       proxy,
		version:     version.Version,
		routers:     make(map[string]*relay.Router),
		authLimiter: newAuthRateLimiter(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkWebSocketOrigin(cfg.Gateway.AllowedOrigins),
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.tokens == nil {
		s.tokens = accesstoken.New(LandingTokenScope, cfg.Demos.Landing.AccessTokenExpiry(), log)
	}
	if _, ok := s.routers[demo.Voicechat]; !ok {
		s.routers[demo.Voicechat] = demo.VoicechatRouter(log)
	}
	if _, ok := s.routers[demo.AIBI]; !ok {
		s.routers[demo.AIBI] = demo.AIBIRouter(cfg.Demos.AIBI, s.nlq, log)
	}
	if _, ok := s.routers[demo.Landing]; !ok {
		s.routers[demo.Landing] = demo.LandingRouter(demo.LandingOptions{
			ContactFormTool: cfg.Demos.Landing.ContactFormTool,
		}, log)
	}
	return s
}

// checkWebSocketOrigin returns a function that validates WebSocket Origin headers.
// If no origins are configured, only same-origin (no Origin header) or non-browser
// clients are allowed. If origins are configured, the Origin must match one of them.
func checkWebSocketOrigin(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Same-origin or non-browser clients
		}
		return isOriginAllowed(origin, allowed)
	}
}

// agentFor resolves the provider agent of a variant. The landing assistant
// falls back to the voice chat agent.
func (s *Server) agentFor(variant string) string {
	d := s.cfg.Demos
	switch variant {
	case demo.Voicechat:
		return d.Voicechat.AgentID
	case demo.AIBI:
		return d.AIBI.AgentID
	case demo.Landing:
		if d.Landing.AgentID != "" {
			return d.Landing.AgentID
		}
		return d.Voicechat.AgentID
	}
	return ""
}

// resolveBindAddr computes the listen address from config.
func resolveBindAddr(cfg config.GatewayConfig) string {
	switch cfg.Bind {
	case "loopback":
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	case "lan", "auto":
		return fmt.Sprintf("0.0.0.0:%d", cfg.Port)
	case "custom":
		host := cfg.CustomBindHost
		if host == "" {
			host = "0.0.0.0"
		}
		return fmt.Sprintf("%s:%d", host, cfg.Port)
	default:
		return fmt.Sprintf("127.0.0.1:%d", cfg.Port)
	}
}

// Handler returns the routed HTTP handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.registerHTTPRoutes(mux)
	return withMiddleware(mux, s.log, s.cfg.Gateway.AllowedOrigins)
}

// Start begins listening for HTTP and WebSocket connections.
// It blocks until the context is cancelled or an error occurs.
func (s *Server) Start(ctx context.Context) error {
	addr := resolveBindAddr(s.cfg.Gateway)

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      3 * time.Minute, // NLQ answers may retry several LLM calls
		IdleTimeout:       120 * time.Second,
		BaseContext:       func(l net.Listener) context.Context { return ctx },
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	if s.cfg.Gateway.TLS.Enabled {
		cert, err := tls.LoadX509KeyPair(s.cfg.Gateway.TLS.CertPath, s.cfg.Gateway.TLS.KeyPath)
		if err != nil {
			ln.Close()
			return fmt.Errorf("loading TLS certificate: %w", err)
		}
		tlsCfg := &tls.Config{
			Certificates: []tls.Certificate{cert},
			MinVersion:   tls.VersionTLS12,
		}
		ln = tls.NewListener(ln, tlsCfg)
		s.log.Info().Msg("TLS enabled")
	} else if s.cfg.Gateway.Bind != "loopback" {
		s.log.Warn().Msg("TLS is not enabled, browser audio will travel in cleartext")
	}

	s.startedAt = time.Now()
	go s.authLimiter.run(ctx)

	s.log.Info().
		Str("addr", ln.Addr().String()).
		Str("bind", s.cfg.Gateway.Bind).
		Bool("nlq", s.nlq != nil).
		Bool("store", s.sessions != nil).
		Msg("gateway server starting")

	s.hooks.Emit(ctx, hooks.EventGatewayStart, map[string]any{
		"addr": ln.Addr().String(),
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-ctx.Done()
		s.log.Info().Msg("shutting down gateway server")
		s.hooks.Emit(context.Background(), hooks.EventGatewayStop, nil)

		// Hijacked websocket connections are not tracked by Shutdown.
		s.proxy.CloseAll("server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Warn().Err(err).Msg("graceful shutdown incomplete")
		}
	}()

	if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-done
	return nil
}

// Addr returns the server's listen address, or empty string if not started.
func (s *Server) Addr() string {
	if s.httpServer != nil {
		return s.httpServer.Addr
	}
	return ""
}
