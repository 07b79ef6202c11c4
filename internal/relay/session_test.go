package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/soyeahso/voicebridge/internal/convai"
	"github.com/soyeahso/voicebridge/internal/hooks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type acquirerFunc func(ctx context.Context, agentID string) (string, error)

func (f acquirerFunc) SignedURL(ctx context.Context, agentID string) (string, error) {
	return f(ctx, agentID)
}

// providerStub is a fake provider websocket endpoint.
type providerStub struct {
	srv     *httptest.Server
	conns   chan *websocket.Conn
	queries chan url.Values
}

func newProviderStub(t *testing.T) *providerStub {
	t.Helper()
	ps := &providerStub{
		conns:   make(chan *websocket.Conn, 4),
		queries: make(chan url.Values, 4),
	}
	upgrader := websocket.Upgrader{}
	ps.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		ps.queries <- r.URL.Query()
		ps.conns <- conn
	}))
	t.Cleanup(ps.srv.Close)
	return ps
}

func (ps *providerStub) signedURL() string {
	return "ws" + strings.TrimPrefix(ps.srv.URL, "http") + "/v1/convai/conversation?conversation_signature=sig"
}

func (ps *providerStub) acquirer() Acquirer {
	return acquirerFunc(func(_ context.Context, agentID string) (string, error) {
		return ps.signedURL(), nil
	})
}

func (ps *providerStub) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case c := <-ps.conns:
		t.Cleanup(func() { c.Close() })
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("provider was never dialed")
		return nil
	}
}

type harness struct {
	proxy    *Proxy
	provider *providerStub
	srv      *httptest.Server
	serveErr chan error
}

func newHarness(t *testing.T, acq Acquirer, router func() *Router, opts ...ProxyOption) *harness {
	t.Helper()
	h := &harness{
		provider: newProviderStub(t),
		serveErr: make(chan error, 4),
	}
	if acq == nil {
		acq = h.provider.acquirer()
	}
	opts = append([]ProxyOption{WithLimits(Limits{TeardownTimeout: 2 * time.Second})}, opts...)
	h.proxy = NewProxy(acq, testLogger(), opts...)

	upgrader := websocket.Upgrader{}
	h.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		q := r.URL.Query()
		h.serveErr <- h.proxy.Serve(context.Background(), conn, router(), Params{
			Variant:    "test",
			AgentID:    "agent-1",
			VoiceID:    q.Get("voice_id"),
			Debug:      q.Get("debug") == "true",
			RemoteAddr: r.RemoteAddr,
		})
	}))
	t.Cleanup(h.srv.Close)
	return h
}

func (h *harness) dial(t *testing.T, query string) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/ws"
	if query != "" {
		u += "?" + query
	}
	c, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

// connect dials the proxy and consumes the connected event.
func (h *harness) connect(t *testing.T) (client, provider *websocket.Conn, clientID string) {
	t.Helper()
	client = h.dial(t, "")
	provider = h.provider.accept(t)
	first := readJSON(t, client)
	require.Equal(t, "connected", first["type"])
	data := first["data"].(map[string]any)
	return client, provider, data["client_id"].(string)
}

func readRaw(t *testing.T, c *websocket.Conn) []byte {
	t.Helper()
	c.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := c.ReadMessage()
	require.NoError(t, err)
	return data
}

func readJSON(t *testing.T, c *websocket.Conn) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(readRaw(t, c), &m))
	return m
}

func send(t *testing.T, c *websocket.Conn, s string) {
	t.Helper()
	require.NoError(t, c.WriteMessage(websocket.TextMessage, []byte(s)))
}

func plainRouter() *Router {
	return NewRouter(testLogger())
}

func TestSession_ConnectedIsFirstMessage(t *testing.T) {
	h := newHarness(t, nil, plainRouter)
	client := h.dial(t, "voice_id=voice-9&debug=true")
	h.provider.accept(t)

	first := readJSON(t, client)
	assert.Equal(t, "connected", first["type"])
	data := first["data"].(map[string]any)
	assert.Equal(t, "connected", data["status"])
	assert.NotEmpty(t, data["client_id"])

	q := <-h.provider.queries
	assert.Equal(t, "agent-1", q.Get("agent_id"))
	assert.Equal(t, "voice-9", q.Get("voice_id"))
	assert.Equal(t, "true", q.Get("debug"))
	assert.Equal(t, "sig", q.Get("conversation_signature"))

	require.Eventually(t, func() bool { return h.proxy.Sessions().Count() == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestSession_SetupFailureNotifiesClient(t *testing.T) {
	acq := acquirerFunc(func(context.Context, string) (string, error) {
		return "", errors.New("401 invalid api key")
	})
	h := newHarness(t, acq, plainRouter)
	client := h.dial(t, "")

	msg := readJSON(t, client)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "failed to connect to provider", msg["data"].(map[string]any)["error"])

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := client.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.CloseNormalClosure, ce.Code)

	select {
	case err := <-h.serveErr:
		var upErr *UpstreamConnectError
		require.ErrorAs(t, err, &upErr)
		assert.Equal(t, "signed_url", upErr.Stage)
		assert.Contains(t, upErr.Error(), "invalid api key")
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	assert.Equal(t, 0, h.proxy.Sessions().Count())
	assert.Empty(t, h.provider.conns)
}

func TestSession_DialFailure(t *testing.T) {
	acq := acquirerFunc(func(context.Context, string) (string, error) {
		return "ws://127.0.0.1:1/unreachable", nil
	})
	h := newHarness(t, acq, plainRouter)
	client := h.dial(t, "")

	msg := readJSON(t, client)
	assert.Equal(t, "error", msg["type"])

	select {
	case err := <-h.serveErr:
		var upErr *UpstreamConnectError
		require.ErrorAs(t, err, &upErr)
		assert.Equal(t, "dial", upErr.Stage)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestSession_RelaysBothDirectionsVerbatim(t *testing.T) {
	h := newHarness(t, nil, plainRouter)
	client, provider, _ := h.connect(t)

	audioChunk := `{"user_audio_chunk":"AAECAwQ=","type":"user_audio_chunk"}`
	send(t, client, audioChunk)
	assert.Equal(t, audioChunk, string(readRaw(t, provider)))

	agentAudio := `{"type":"audio","audio_event":{"audio_base_64":"UklGRg==","event_id":1}}`
	send(t, provider, agentAudio)
	assert.Equal(t, agentAudio, string(readRaw(t, client)))
}

func TestSession_PreservesOrderPerLeg(t *testing.T) {
	h := newHarness(t, nil, plainRouter)
	client, provider, _ := h.connect(t)

	for i := range 20 {
		send(t, client, `{"type":"user_message","n":`+strconv.Itoa(i)+`}`)
	}
	for i := range 20 {
		msg := readRaw(t, provider)
		assert.Contains(t, string(msg), `"n":`+strconv.Itoa(i)+`}`)
	}
}

func TestSession_UnhandledToolResultIsForwarded(t *testing.T) {
	h := newHarness(t, nil, plainRouter)
	client, provider, _ := h.connect(t)

	result := `{"type":"client_tool_result","tool_call_id":"lookup_123","result":"done","is_error":false}`
	send(t, client, result)
	assert.Equal(t, result, string(readRaw(t, provider)))
}

func TestSession_SuppressedMessageNeverReachesProvider(t *testing.T) {
	router := func() *Router {
		r := NewRouter(testLogger())
		r.Suppress(ClientToProvider, func(convai.Message) bool { return false })
		r.Suppress(ClientToProvider, SuppressType(convai.ClientToolResult))
		return r
	}
	h := newHarness(t, nil, router)
	client, provider, _ := h.connect(t)

	send(t, client, `{"type":"client_tool_result","tool_call_id":"x_1","result":"secret","is_error":false}`)
	send(t, client, `{"type":"user_activity"}`)

	got := readJSON(t, provider)
	assert.Equal(t, "user_activity", got["type"])
}

func lookupRouter(replyToProvider, replyToClient bool, capability Capability) func() *Router {
	return func() *Router {
		r := NewRouter(testLogger())
		r.Register(HandleToolCall(ToolCallSpec{
			ToolName:        "lookup",
			Required:        []string{"q"},
			Capability:      capability,
			ReplyToProvider: replyToProvider,
			ReplyToClient:   replyToClient,
			ClientToolName:  "show_lookup",
		}))
		return r
	}
}

func echoCapability(_ context.Context, params map[string]any) (any, error) {
	return map[string]any{"answer": params["q"]}, nil
}

func TestSession_ToolCallRepliesToProviderOnly(t *testing.T) {
	h := newHarness(t, nil, lookupRouter(true, false, echoCapability))
	client, provider, _ := h.connect(t)

	send(t, provider, `{"type":"client_tool_call","client_tool_call":{"tool_name":"lookup","tool_call_id":"abc_123","parameters":{"q":"x"}}}`)

	reply := readJSON(t, provider)
	assert.Equal(t, "client_tool_result", reply["type"])
	assert.True(t, strings.HasSuffix(reply["tool_call_id"].(string), "_123"))
	assert.JSONEq(t, `{"answer":"x"}`, reply["result"].(string))
	assert.Equal(t, false, reply["is_error"])

	// Nothing from the exchange reaches the client: the next message it sees
	// is the ping sent afterwards.
	send(t, provider, `{"type":"ping","ping_event":{"event_id":7}}`)
	assert.Equal(t, "ping", readJSON(t, client)["type"])
}

func TestSession_ToolCallRepliesToBothLegs(t *testing.T) {
	h := newHarness(t, nil, lookupRouter(true, true, echoCapability))
	client, provider, _ := h.connect(t)

	send(t, provider, `{"type":"client_tool_call","client_tool_call":{"tool_name":"lookup","tool_call_id":"lookup_777","parameters":{"q":"top sellers"}}}`)

	toProvider := readJSON(t, provider)
	assert.Equal(t, "client_tool_result", toProvider["type"])
	assert.Equal(t, "lookup_777", toProvider["tool_call_id"])

	toClient := readJSON(t, client)
	assert.Equal(t, "client_tool_call", toClient["type"])
	call := toClient["client_tool_call"].(map[string]any)
	assert.Equal(t, "show_lookup", call["tool_name"])
	assert.Equal(t, "show_lookup_777", call["tool_call_id"])
	assert.Equal(t, "top sellers", call["parameters"].(map[string]any)["answer"])
}

func TestSession_MissingToolParametersIsSilent(t *testing.T) {
	h := newHarness(t, nil, lookupRouter(true, true, echoCapability))
	client, provider, _ := h.connect(t)

	send(t, provider, `{"type":"client_tool_call","client_tool_call":{"tool_name":"lookup","tool_call_id":"abc_1","parameters":{"other":"x"}}}`)
	send(t, provider, `{"type":"ping"}`)
	assert.Equal(t, "ping", readJSON(t, client)["type"])

	send(t, client, `{"type":"pong"}`)
	assert.Equal(t, "pong", readJSON(t, provider)["type"])
	assert.True(t, h.proxy.Sessions().Count() == 1)
}

func TestSession_CapabilityErrorSendsNothing(t *testing.T) {
	failing := func(context.Context, map[string]any) (any, error) {
		return nil, errors.New("database unavailable")
	}
	h := newHarness(t, nil, lookupRouter(true, true, failing))
	client, provider, _ := h.connect(t)

	send(t, provider, `{"type":"client_tool_call","client_tool_call":{"tool_name":"lookup","tool_call_id":"abc_2","parameters":{"q":"x"}}}`)
	send(t, provider, `{"type":"ping"}`)
	assert.Equal(t, "ping", readJSON(t, client)["type"])

	send(t, client, `{"type":"pong"}`)
	assert.Equal(t, "pong", readJSON(t, provider)["type"])
}

func TestSession_ClientDisconnectClosesProvider(t *testing.T) {
	h := newHarness(t, nil, plainRouter)
	client, provider, _ := h.connect(t)
	require.Eventually(t, func() bool { return h.proxy.Sessions().Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	// Drop the TCP connection without a close frame.
	client.UnderlyingConn().Close()

	provider.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := provider.ReadMessage()
	require.Error(t, err)
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		assert.Equal(t, websocket.CloseNormalClosure, ce.Code)
	}

	require.Eventually(t, func() bool { return h.proxy.Sessions().Count() == 0 }, 3*time.Second, 10*time.Millisecond)
	select {
	case err := <-h.serveErr:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("Serve did not return")
	}
}

func TestSession_ProviderCloseNotifiesClient(t *testing.T) {
	h := newHarness(t, nil, plainRouter)
	client, provider, _ := h.connect(t)

	provider.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "conversation ended"))
	provider.Close()

	msg := readJSON(t, client)
	assert.Equal(t, "error", msg["type"])
	data := msg["data"].(map[string]any)
	assert.Equal(t, "provider connection closed", data["error"])
	assert.Equal(t, "connection_closed", data["code"])

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := client.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, websocket.CloseNormalClosure, ce.Code)

	require.Eventually(t, func() bool { return h.proxy.Sessions().Count() == 0 }, 3*time.Second, 10*time.Millisecond)
}

func TestSession_CloseAllIsIdempotent(t *testing.T) {
	h := newHarness(t, nil, plainRouter)
	client, provider, clientID := h.connect(t)
	require.Eventually(t, func() bool { return h.proxy.Sessions().Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	s, ok := h.proxy.Sessions().Get(clientID)
	require.True(t, ok)
	assert.True(t, s.Active())

	h.proxy.CloseAll("server shutting down")

	assert.False(t, s.ClientConnected())
	assert.False(t, s.ProviderConnected())
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, "server shutting down", s.CloseReason())

	msg := readJSON(t, client)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, "server shutting down", msg["data"].(map[string]any)["error"])

	// Late provider traffic is never relayed.
	provider.WriteMessage(websocket.TextMessage, []byte(`{"type":"audio"}`))
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err := client.ReadMessage()
	var ce *websocket.CloseError
	require.ErrorAs(t, err, &ce)

	assert.NotPanics(t, func() { s.Close("again") })
	assert.Equal(t, "server shutting down", s.CloseReason())
	require.Eventually(t, func() bool { return h.proxy.Sessions().Count() == 0 }, 3*time.Second, 10*time.Millisecond)
}

func TestSession_CloseWaitsForFireAndForgetHandlers(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool
	router := func() *Router {
		r := NewRouter(testLogger())
		r.Register(Handler{
			Name:      "slow-observer",
			Direction: ClientToProvider,
			Match:     TypeIs("user_activity"),
			Policy:    FireAndForget,
			Action: func(ctx context.Context, _ *Session, _ convai.Message) (*convai.Message, error) {
				close(started)
				<-ctx.Done()
				time.Sleep(100 * time.Millisecond)
				finished.Store(true)
				return nil, nil
			},
		})
		return r
	}
	h := newHarness(t, nil, router)
	client, provider, clientID := h.connect(t)
	s, ok := h.proxy.Sessions().Get(clientID)
	require.True(t, ok)

	send(t, client, `{"type":"user_activity"}`)
	assert.Equal(t, "user_activity", readJSON(t, provider)["type"])
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not start")
	}

	s.Close("done")
	assert.Equal(t, StateClosed, s.State())
	assert.True(t, finished.Load())
}

func TestSession_CloseAllReturnsAfterSessionEnd(t *testing.T) {
	hm := hooks.NewManager(testLogger())
	var ended atomic.Bool
	hm.On(hooks.EventSessionEnd, "slow-recorder", func(context.Context, hooks.Payload) error {
		time.Sleep(100 * time.Millisecond)
		ended.Store(true)
		return nil
	})
	h := newHarness(t, nil, plainRouter, WithHooks(hm))
	h.connect(t)
	require.Eventually(t, func() bool { return h.proxy.Sessions().Count() == 1 }, 2*time.Second, 10*time.Millisecond)

	h.proxy.CloseAll("server shutting down")

	assert.True(t, ended.Load())
	assert.Equal(t, 0, h.proxy.Sessions().Count())
}

func TestSession_ConversationIDIsRecorded(t *testing.T) {
	h := newHarness(t, nil, plainRouter)
	client, provider, clientID := h.connect(t)

	send(t, provider, `{"type":"conversation_initiation_metadata","conversation_initiation_metadata_event":{"conversation_id":"conv_9"}}`)
	readRaw(t, client)

	s, ok := h.proxy.Sessions().Get(clientID)
	require.True(t, ok)
	assert.Equal(t, "conv_9", s.ConversationID())

	list := h.proxy.Sessions().List()
	require.Len(t, list, 1)
	assert.Equal(t, "conv_9", list[0].ConversationID)
	assert.Equal(t, "relaying", list[0].State)
}

func TestSession_MalformedFrameIsDropped(t *testing.T) {
	h := newHarness(t, nil, plainRouter)
	client, provider, _ := h.connect(t)

	send(t, client, `not json`)
	send(t, client, `{"type":"user_activity"}`)
	assert.Equal(t, "user_activity", readJSON(t, provider)["type"])
}

func TestRegistry_RejectsDuplicate(t *testing.T) {
	reg := NewRegistry(testLogger())
	s := bareSession()
	require.NoError(t, reg.Add(s))
	assert.ErrorIs(t, reg.Add(s), ErrSessionExists)
	reg.Remove(s.ID())
	assert.Equal(t, 0, reg.Count())
	reg.Remove(s.ID())
}
