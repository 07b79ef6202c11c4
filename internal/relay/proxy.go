package relay

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/soyeahso/voicebridge/internal/hooks"
	"github.com/soyeahso/voicebridge/internal/logging"
	"github.com/soyeahso/voicebridge/internal/metrics"
)

// Proxy creates and supervises sessions that share one provider account.
type Proxy struct {
	acquirer Acquirer
	dialer   Dialer
	sessions *Registry
	hooks    *hooks.Manager
	limits   Limits
	log      *logging.Logger
}

// ProxyOption configures a Proxy.
type ProxyOption func(*Proxy)

// WithDialer replaces the provider websocket dialer.
func WithDialer(d Dialer) ProxyOption {
	return func(p *Proxy) {
		p.dialer = d
	}
}

// WithHooks sets the hook manager for session lifecycle events.
func WithHooks(hm *hooks.Manager) ProxyOption {
	return func(p *Proxy) {
		p.hooks = hm
	}
}

// WithLimits overrides socket limits and the teardown timeout.
func WithLimits(l Limits) ProxyOption {
	return func(p *Proxy) {
		p.limits = l.withDefaults()
	}
}

// NewProxy creates a proxy acquiring provider URLs from acq.
func NewProxy(acq Acquirer, log *logging.Logger, opts ...ProxyOption) *Proxy {
	p := &Proxy{
		acquirer: acq,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 15 * time.Second,
		},
		limits: DefaultLimits,
		log:    log.Sub("relay"),
	}
	p.sessions = NewRegistry(p.log)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Sessions returns the active session registry.
func (p *Proxy) Sessions() *Registry { return p.sessions }

// NewSession wraps an accepted client socket. The session is not started.
func (p *Proxy) NewSession(client Conn, router *Router, params Params) *Session {
	id := newClientID()
	client.SetReadLimit(p.limits.ReadLimit)
	return &Session{
		id:        id,
		params:    params,
		limits:    p.limits,
		router:    router,
		acquirer:  p.acquirer,
		dialer:    p.dialer,
		hooks:     p.hooks,
		log:       p.log.Session(id, params.Variant),
		client:    newLeg(legClient, client, p.limits.WriteTimeout),
		startedAt: time.Now(),
		done:      make(chan struct{}),
	}
}

// Serve runs a session for an accepted client socket until it ends. Only
// setup failures are returned; relay failures are contained and logged.
func (p *Proxy) Serve(ctx context.Context, client Conn, router *Router, params Params) error {
	s := p.NewSession(client, router, params)
	s.log.Info().Str("remote", params.RemoteAddr).Msg("client connected")

	if err := s.Setup(ctx); err != nil {
		metrics.SessionsTotal.WithLabelValues(params.Variant, "setup_failed").Inc()
		return err
	}

	if err := p.sessions.Add(s); err != nil {
		s.Close("duplicate session")
		return err
	}
	metrics.SessionsTotal.WithLabelValues(params.Variant, "established").Inc()

	p.hooks.Emit(ctx, hooks.EventSessionStart, map[string]any{
		"clientId": s.id,
		"variant":  params.Variant,
		"agentId":  params.AgentID,
		"remote":   params.RemoteAddr,
	})

	// Registry.CloseAll waits for Remove, so it must follow the hook.
	defer func() {
		metrics.SessionDuration.WithLabelValues(params.Variant).Observe(time.Since(s.startedAt).Seconds())
		p.hooks.Emit(context.WithoutCancel(ctx), hooks.EventSessionEnd, map[string]any{
			"clientId":       s.id,
			"variant":        params.Variant,
			"conversationId": s.ConversationID(),
			"reason":         s.CloseReason(),
			"durationMs":     time.Since(s.startedAt).Milliseconds(),
		})
		p.sessions.Remove(s.id)
	}()

	if err := s.Run(ctx); err != nil {
		s.log.Debug().Err(err).Msg("relay stopped")
	}
	return nil
}

// CloseAll closes every active session.
func (p *Proxy) CloseAll(reason string) {
	p.sessions.CloseAll(reason)
}
