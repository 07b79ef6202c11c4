// Package relay bridges a browser websocket to the ElevenLabs Conversational
// AI websocket, routing each message through a per-variant Router.
package relay

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/soyeahso/voicebridge/internal/convai"
	"github.com/soyeahso/voicebridge/internal/hooks"
	"github.com/soyeahso/voicebridge/internal/logging"
	"github.com/soyeahso/voicebridge/internal/metrics"
)

// State is the lifecycle position of a Session.
type State int32

const (
	StateInit State = iota
	StateClientAccepted
	StateProviderConnecting
	StateBothConnected
	StateRelaying
	StateTearingDown
	StateClosed
)

var stateNames = [...]string{
	StateInit:               "init",
	StateClientAccepted:     "client_accepted",
	StateProviderConnecting: "provider_connecting",
	StateBothConnected:      "both_connected",
	StateRelaying:           "relaying",
	StateTearingDown:        "tearing_down",
	StateClosed:             "closed",
}

func (s State) String() string {
	if int(s) >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Acquirer returns a signed provider websocket URL for an agent.
type Acquirer interface {
	SignedURL(ctx context.Context, agentID string) (string, error)
}

// Dialer opens the provider websocket. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Params are the per-session connection parameters.
type Params struct {
	Variant    string
	AgentID    string
	VoiceID    string
	Debug      bool
	RemoteAddr string
}

// Limits bound socket and teardown behaviour.
type Limits struct {
	ReadLimit       int64
	WriteTimeout    time.Duration
	TeardownTimeout time.Duration
}

// DefaultLimits are used for zero fields of Limits.
var DefaultLimits = Limits{
	ReadLimit:       4 * 1024 * 1024,
	WriteTimeout:    10 * time.Second,
	TeardownTimeout: 2 * time.Second,
}

func (l Limits) withDefaults() Limits {
	if l.ReadLimit <= 0 {
		l.ReadLimit = DefaultLimits.ReadLimit
	}
	if l.WriteTimeout <= 0 {
		l.WriteTimeout = DefaultLimits.WriteTimeout
	}
	if l.TeardownTimeout <= 0 {
		l.TeardownTimeout = DefaultLimits.TeardownTimeout
	}
	return l
}

// Session owns the client and provider legs of one voice conversation.
type Session struct {
	id       string
	params   Params
	limits   Limits
	router   *Router
	acquirer Acquirer
	dialer   Dialer
	hooks    *hooks.Manager
	log      *logging.Logger

	client   *leg
	provider *leg

	state          atomic.Int32
	seq            atomic.Int64
	conversationID atomic.Pointer[string]
	startedAt      time.Time

	mu     sync.Mutex
	cancel context.CancelCauseFunc
	reason string

	tasks       sync.WaitGroup
	tasksClosed bool
	done     chan struct{}
	doneOnce sync.Once
}

// ID is the client id announced to the browser.
func (s *Session) ID() string { return s.id }

// Params returns the connection parameters.
func (s *Session) Params() Params { return s.params }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// StartedAt is when the client leg was accepted.
func (s *Session) StartedAt() time.Time { return s.startedAt }

// ClientConnected reports the client leg liveness flag.
func (s *Session) ClientConnected() bool { return s.client.isConnected() }

// ProviderConnected reports the provider leg liveness flag.
func (s *Session) ProviderConnected() bool { return s.provider.isConnected() }

// Active reports whether both legs are live.
func (s *Session) Active() bool { return s.ClientConnected() && s.ProviderConnected() }

// ConversationID is the provider's conversation id, once announced.
func (s *Session) ConversationID() string {
	if p := s.conversationID.Load(); p != nil {
		return *p
	}
	return ""
}

// CloseReason describes why the session ended.
func (s *Session) CloseReason() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reason
}

// Done is closed once the session reaches StateClosed.
func (s *Session) Done() <-chan struct{} { return s.done }

// NextScope returns a new per-session scope used to derive correlation ids.
func (s *Session) NextScope() string {
	return fmt.Sprintf("%s:%d", s.id, s.seq.Add(1))
}

// Logger returns the session-scoped logger.
func (s *Session) Logger() *logging.Logger { return s.log }

// SendToClient writes a message to the browser leg.
func (s *Session) SendToClient(msg convai.Message) error {
	return s.client.send(msg.Bytes())
}

// SendToProvider writes a message to the provider leg.
func (s *Session) SendToProvider(msg convai.Message) error {
	if s.provider == nil {
		return ErrNotConnected
	}
	return s.provider.send(msg.Bytes())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
	s.log.Trace().Str("state", st.String()).Msg("session state")
}

func (s *Session) setReason(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reason == "" {
		s.reason = reason
	}
}

func (s *Session) finish() {
	s.doneOnce.Do(func() {
		s.setState(StateClosed)
		close(s.done)
	})
}

// Setup opens the provider leg. On failure the client is sent an error
// event, both legs are closed and the error is returned.
func (s *Session) Setup(ctx context.Context) error {
	// The transport has already completed the client handshake.
	s.setState(StateClientAccepted)
	s.setState(StateProviderConnecting)

	signed, err := s.acquirer.SignedURL(ctx, s.params.AgentID)
	if err != nil {
		metrics.SignedURLRequests.WithLabelValues("error").Inc()
		return s.failSetup(&UpstreamConnectError{Stage: "signed_url", Err: err})
	}
	metrics.SignedURLRequests.WithLabelValues("ok").Inc()

	target, err := providerURL(signed, s.params)
	if err != nil {
		return s.failSetup(&UpstreamConnectError{Stage: "signed_url", Err: err})
	}

	conn, _, err := s.dialer.DialContext(ctx, target, nil)
	if err != nil {
		return s.failSetup(&UpstreamConnectError{Stage: "dial", Err: err})
	}
	conn.SetReadLimit(s.limits.ReadLimit)

	s.provider = newLeg(legProvider, conn, s.limits.WriteTimeout)
	s.setState(StateBothConnected)
	s.log.Info().Str("agentId", s.params.AgentID).Msg("provider connected")
	return nil
}

func (s *Session) failSetup(err error) error {
	s.setState(StateTearingDown)
	s.setReason("failed to connect to provider")
	s.log.Error().Err(err).Msg("provider connection failed")
	s.client.fail("failed to connect to provider")
	s.finish()
	return err
}

// providerURL adds the session parameters to the signed URL.
func providerURL(signed string, p Params) (string, error) {
	u, err := url.Parse(signed)
	if err != nil {
		return "", fmt.Errorf("parsing signed url: %w", err)
	}
	q := u.Query()
	q.Set("agent_id", p.AgentID)
	if p.VoiceID != "" {
		q.Set("voice_id", p.VoiceID)
	}
	if p.Debug {
		q.Set("debug", "true")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run relays messages until either leg closes or the session is closed.
// The returned error explains why relaying stopped; it is informational,
// the session is fully torn down when Run returns.
func (s *Session) Run(ctx context.Context) error {
	if s.State() != StateBothConnected {
		return ErrNotConnected
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	if err := s.SendToClient(convai.ConnectedEvent(s.id)); err != nil {
		s.teardown(&PeerClosedError{Leg: legClient, Err: err})
		s.finish()
		return err
	}
	s.setState(StateRelaying)

	fromClient := make(chan convai.Message)
	fromProvider := make(chan convai.Message)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return s.pump(gctx, s.client, fromClient) })
	g.Go(func() error { return s.pump(gctx, s.provider, fromProvider) })
	g.Go(func() error { return s.relay(gctx, ClientToProvider, fromClient, s.provider) })
	g.Go(func() error { return s.relay(gctx, ProviderToClient, fromProvider, s.client) })
	g.Go(func() error {
		<-gctx.Done()
		s.teardown(context.Cause(gctx))
		return nil
	})

	waited := make(chan error, 1)
	go func() { waited <- g.Wait() }()

	var err error
	var deadline time.Time
	select {
	case err = <-waited:
		deadline = time.Now().Add(s.limits.TeardownTimeout)
	case <-gctx.Done():
		deadline = time.Now().Add(s.limits.TeardownTimeout)
		select {
		case err = <-waited:
		case <-time.After(time.Until(deadline)):
			err = context.Cause(gctx)
			s.log.Warn().Dur("timeout", s.limits.TeardownTimeout).Msg("relay tasks did not stop in time")
		}
	}

	// Force both sockets closed whatever the loops managed to do.
	s.client.close(websocket.CloseNormalClosure, "session closed")
	s.provider.close(websocket.CloseNormalClosure, "session closed")
	if !s.waitTasks(time.Until(deadline)) {
		s.log.Warn().Dur("timeout", s.limits.TeardownTimeout).Msg("handlers did not stop in time")
	}
	s.finish()

	s.log.Info().Str("reason", s.CloseReason()).Msg("session closed")
	return err
}

// pump reads one leg and feeds parsed messages to out in receipt order.
func (s *Session) pump(ctx context.Context, l *leg, out chan<- convai.Message) error {
	defer close(out)
	for {
		_, data, err := l.conn.ReadMessage()
		if err != nil {
			l.connected.Store(false)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			pc := &PeerClosedError{Leg: l.name, Err: err}
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				pc.Code = ce.Code
			}
			return pc
		}

		msg, err := convai.Parse(data)
		if err != nil {
			s.log.Warn().Err(err).Str("leg", l.name).Int("bytes", len(data)).Msg("dropping malformed message")
			continue
		}

		select {
		case out <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// relay routes messages from in to the target leg.
func (s *Session) relay(ctx context.Context, dir Direction, in <-chan convai.Message, target *leg) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &UnexpectedError{Where: dir.String(), Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	for {
		var msg convai.Message
		var ok bool
		select {
		case msg, ok = <-in:
			if !ok {
				// The pump reports why it stopped.
				<-ctx.Done()
				return ctx.Err()
			}
		case <-ctx.Done():
			return ctx.Err()
		}

		s.observe(ctx, msg)

		out, forward := s.router.Route(ctx, s, dir, msg)
		if !forward {
			metrics.MessagesSuppressed.WithLabelValues(dir.String()).Inc()
			continue
		}
		if err := target.send(out.Bytes()); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &PeerClosedError{Leg: target.name, Err: err}
		}
		metrics.MessagesRelayed.WithLabelValues(dir.String()).Inc()
	}
}

// observe records session facts carried by provider events.
func (s *Session) observe(ctx context.Context, msg convai.Message) {
	id, ok := msg.ConversationID()
	if !ok {
		return
	}
	s.conversationID.Store(&id)
	s.log.Info().Str("conversationId", id).Msg("conversation started")
	s.hooks.EmitAsync(context.WithoutCancel(ctx), hooks.EventConversationStarted, map[string]any{
		"clientId":       s.id,
		"variant":        s.params.Variant,
		"conversationId": id,
	})
}

// teardown notifies and closes the legs according to why relaying stopped.
func (s *Session) teardown(cause error) {
	s.setState(StateTearingDown)

	var (
		pc  *PeerClosedError
		req *closeRequest
	)
	switch {
	case errors.As(cause, &req):
		s.setReason(req.reason)
		s.client.fail(req.reason)
		s.provider.close(websocket.CloseNormalClosure, req.reason)

	case errors.As(cause, &pc) && pc.Leg == legClient:
		s.setReason("client disconnected")
		s.log.Debug().Err(cause).Msg("client leg closed")
		s.client.close(websocket.CloseNormalClosure, "")
		s.provider.close(websocket.CloseNormalClosure, "client disconnected")

	case errors.As(cause, &pc) && pc.Leg == legProvider:
		s.setReason("provider disconnected")
		s.log.Info().Err(cause).Msg("provider leg closed")
		s.client.fail("provider connection closed")
		s.provider.close(websocket.CloseNormalClosure, "")

	case errors.Is(cause, context.Canceled), errors.Is(cause, context.DeadlineExceeded):
		s.setReason("session cancelled")
		s.client.fail("session closed")
		s.provider.close(websocket.CloseNormalClosure, "session closed")

	default:
		s.setReason("unexpected error")
		s.log.Error().Err(cause).Msg("relay failed")
		s.client.fail("unexpected error")
		s.provider.close(websocket.CloseInternalServerErr, "unexpected error")
	}
}

// Close ends the session with reason. It is idempotent and waits up to the
// teardown timeout for the relay loops to stop.
func (s *Session) Close(reason string) {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel(&closeRequest{reason: reason})
		select {
		case <-s.done:
		case <-time.After(s.limits.TeardownTimeout):
		}
	} else {
		s.teardown(&closeRequest{reason: reason})
	}

	s.client.close(websocket.CloseNormalClosure, reason)
	s.provider.close(websocket.CloseNormalClosure, reason)
	if cancel == nil {
		s.finish()
	}
}

// spawn runs a fire-and-forget handler. Handlers are dropped once teardown
// has started waiting for them.
func (s *Session) spawn(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tasksClosed {
		return
	}
	s.tasks.Add(1)
	go func() {
		defer s.tasks.Done()
		fn()
	}()
}

// waitTasks waits up to timeout for fire-and-forget handlers to return.
func (s *Session) waitTasks(timeout time.Duration) bool {
	s.mu.Lock()
	s.tasksClosed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.tasks.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (s *Session) emitToolCall(tool, callID, status string, err error) {
	data := map[string]any{
		"clientId":   s.id,
		"variant":    s.params.Variant,
		"toolName":   tool,
		"toolCallId": callID,
		"status":     status,
	}
	if err != nil {
		data["error"] = err.Error()
	}
	s.hooks.EmitAsync(context.Background(), hooks.EventToolCall, data)
}

func newClientID() string {
	return uuid.New().String()
}
