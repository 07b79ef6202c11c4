package relay

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/soyeahso/voicebridge/internal/convai"
	"github.com/soyeahso/voicebridge/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logging.Logger {
	return logging.New(nil, "silent")
}

func bareSession() *Session {
	return &Session{
		id:     "client-1",
		params: Params{Variant: "test"},
		log:    testLogger(),
		done:   make(chan struct{}),
	}
}

func mustParse(t *testing.T, s string) convai.Message {
	t.Helper()
	msg, err := convai.Parse([]byte(s))
	require.NoError(t, err)
	return msg
}

func TestRoute_ForwardsUnmatchedVerbatim(t *testing.T) {
	r := NewRouter(testLogger())
	msg := mustParse(t, `{"type":"client_tool_result","tool_call_id":"x_1","result":"ok","is_error":false}`)

	out, forward := r.Route(context.Background(), bareSession(), ClientToProvider, msg)
	require.True(t, forward)
	assert.Equal(t, msg.Bytes(), out.Bytes())
}

func TestRoute_PredicatesAreORed(t *testing.T) {
	r := NewRouter(testLogger())
	r.Suppress(ClientToProvider, func(convai.Message) bool { return false })
	r.Suppress(ClientToProvider, SuppressType(convai.UserActivity))

	_, forward := r.Route(context.Background(), bareSession(), ClientToProvider, mustParse(t, `{"type":"user_activity"}`))
	assert.False(t, forward)

	_, forward = r.Route(context.Background(), bareSession(), ClientToProvider, mustParse(t, `{"type":"user_message","text":"hi"}`))
	assert.True(t, forward)
}

func TestRoute_PredicatesAreDirectionScoped(t *testing.T) {
	r := NewRouter(testLogger())
	r.Suppress(ClientToProvider, SuppressType(convai.Ping))

	_, forward := r.Route(context.Background(), bareSession(), ProviderToClient, mustParse(t, `{"type":"ping"}`))
	assert.True(t, forward)
}

func TestRoute_PanickingPredicateDoesNotSuppress(t *testing.T) {
	r := NewRouter(testLogger())
	r.Suppress(ClientToProvider, func(convai.Message) bool { panic("boom") })

	_, forward := r.Route(context.Background(), bareSession(), ClientToProvider, mustParse(t, `{"type":"pong"}`))
	assert.True(t, forward)
}

func TestRoute_FirstBlockingHandlerWins(t *testing.T) {
	r := NewRouter(testLogger())
	replacement := mustParse(t, `{"type":"audio","replaced":true}`)

	var secondCalls atomic.Int32
	r.Register(Handler{
		Name:      "first",
		Direction: ProviderToClient,
		Match:     TypeIs(convai.Audio),
		Policy:    Blocking,
		Action: func(context.Context, *Session, convai.Message) (*convai.Message, error) {
			return &replacement, nil
		},
	})
	r.Register(Handler{
		Name:      "second",
		Direction: ProviderToClient,
		Match:     TypeIs(convai.Audio),
		Policy:    Blocking,
		Action: func(context.Context, *Session, convai.Message) (*convai.Message, error) {
			secondCalls.Add(1)
			return nil, nil
		},
	})

	out, forward := r.Route(context.Background(), bareSession(), ProviderToClient, mustParse(t, `{"type":"audio"}`))
	require.True(t, forward)
	assert.Equal(t, replacement.Bytes(), out.Bytes())
	assert.Equal(t, int32(0), secondCalls.Load())
}

func TestRoute_BlockingReplacementBypassesPredicates(t *testing.T) {
	r := NewRouter(testLogger())
	replacement := mustParse(t, `{"type":"client_tool_call","rewritten":true}`)
	r.Suppress(ProviderToClient, SuppressType(convai.ClientToolCall))
	r.Register(Handler{
		Name:      "rewrite",
		Direction: ProviderToClient,
		Match:     TypeIs(convai.ClientToolCall),
		Policy:    Blocking,
		Action: func(context.Context, *Session, convai.Message) (*convai.Message, error) {
			return &replacement, nil
		},
	})

	out, forward := r.Route(context.Background(), bareSession(), ProviderToClient, mustParse(t, `{"type":"client_tool_call"}`))
	require.True(t, forward)
	assert.Equal(t, replacement.Bytes(), out.Bytes())
}

func TestRoute_BlockingNilOrErrorSuppresses(t *testing.T) {
	for _, tc := range []struct {
		name string
		err  error
	}{
		{"nil result", nil},
		{"error", errors.New("handler failed")},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := NewRouter(testLogger())
			r.Register(Handler{
				Name:      "blocking",
				Direction: ClientToProvider,
				Match:     TypeIs(convai.UserMessage),
				Policy:    Blocking,
				Action: func(context.Context, *Session, convai.Message) (*convai.Message, error) {
					return nil, tc.err
				},
			})
			_, forward := r.Route(context.Background(), bareSession(), ClientToProvider, mustParse(t, `{"type":"user_message"}`))
			assert.False(t, forward)
		})
	}
}

func TestRoute_BlockingPanicIsContained(t *testing.T) {
	r := NewRouter(testLogger())
	r.Register(Handler{
		Name:      "panics",
		Direction: ClientToProvider,
		Match:     TypeIs(convai.UserMessage),
		Policy:    Blocking,
		Action: func(context.Context, *Session, convai.Message) (*convai.Message, error) {
			panic("capability exploded")
		},
	})

	assert.NotPanics(t, func() {
		_, forward := r.Route(context.Background(), bareSession(), ClientToProvider, mustParse(t, `{"type":"user_message"}`))
		assert.False(t, forward)
	})
}

func TestRoute_FireAndForgetRunsAndOriginalIsForwarded(t *testing.T) {
	r := NewRouter(testLogger())
	ran := make(chan string, 1)
	ignored := mustParse(t, `{"type":"agent_response","ignored":true}`)

	r.Register(Handler{
		Name:      "observer",
		Direction: ProviderToClient,
		Match:     TypeIs(convai.AgentResponse),
		Policy:    FireAndForget,
		Action: func(_ context.Context, _ *Session, msg convai.Message) (*convai.Message, error) {
			ran <- string(msg.Type)
			return &ignored, nil
		},
	})

	s := bareSession()
	msg := mustParse(t, `{"type":"agent_response","agent_response_event":{"agent_response":"hi"}}`)
	out, forward := r.Route(context.Background(), s, ProviderToClient, msg)
	require.True(t, forward)
	assert.Equal(t, msg.Bytes(), out.Bytes())

	select {
	case got := <-ran:
		assert.Equal(t, "agent_response", got)
	case <-time.After(2 * time.Second):
		t.Fatal("fire-and-forget handler did not run")
	}
	assert.True(t, s.waitTasks(2*time.Second))
}

func TestRoute_MatcherPanicIsNoMatch(t *testing.T) {
	r := NewRouter(testLogger())
	var called atomic.Bool
	r.Register(Handler{
		Name:      "fragile",
		Direction: ProviderToClient,
		Match:     func(convai.Message) (Verdict, error) { panic("missing nested key") },
		Policy:    Blocking,
		Action: func(context.Context, *Session, convai.Message) (*convai.Message, error) {
			called.Store(true)
			return nil, nil
		},
	})

	_, forward := r.Route(context.Background(), bareSession(), ProviderToClient, mustParse(t, `{"type":"audio"}`))
	assert.True(t, forward)
	assert.False(t, called.Load())
}

func TestRoute_InvalidToolCallIsSilentlyDropped(t *testing.T) {
	r := NewRouter(testLogger())
	var called atomic.Bool
	r.Register(Handler{
		Name:      "lookup",
		Direction: ProviderToClient,
		Match:     MatchToolCall("lookup", "q"),
		Policy:    Blocking,
		Action: func(context.Context, *Session, convai.Message) (*convai.Message, error) {
			called.Store(true)
			return nil, nil
		},
	})

	msg := mustParse(t, `{"type":"client_tool_call","client_tool_call":{"tool_name":"lookup","tool_call_id":"abc_1","parameters":{}}}`)
	_, forward := r.Route(context.Background(), bareSession(), ProviderToClient, msg)
	assert.False(t, forward)
	assert.False(t, called.Load())
}

func TestMatchToolCall(t *testing.T) {
	m := MatchToolCall("lookup", "q", "limit")

	v, err := m(mustParse(t, `{"type":"client_tool_call","client_tool_call":{"tool_name":"lookup","parameters":{"q":"x","limit":3}}}`))
	assert.Equal(t, Matched, v)
	assert.NoError(t, err)

	v, err = m(mustParse(t, `{"type":"client_tool_call","client_tool_call":{"tool_name":"other","parameters":{}}}`))
	assert.Equal(t, NoMatch, v)
	assert.NoError(t, err)

	v, err = m(mustParse(t, `{"type":"client_tool_call","client_tool_call":{"tool_name":"lookup","parameters":{"q":"x"}}}`))
	assert.Equal(t, Invalid, v)
	var missing *MissingToolParametersError
	require.ErrorAs(t, err, &missing)
	assert.Equal(t, "lookup", missing.ToolName)
	assert.Equal(t, []string{"limit"}, missing.Missing)

	v, _ = m(mustParse(t, `{"type":"audio"}`))
	assert.Equal(t, NoMatch, v)
}

func TestToParameters(t *testing.T) {
	m, err := toParameters(map[string]any{"a": 1})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1}, m)

	m, err = toParameters(struct {
		Title string `json:"title"`
	}{Title: "Sales"})
	require.NoError(t, err)
	assert.Equal(t, "Sales", m["title"])

	m, err = toParameters("plain text")
	require.NoError(t, err)
	assert.Equal(t, "plain text", m["result"])
}

func TestProviderURL(t *testing.T) {
	u, err := providerURL("wss://api.example/v1/convai/conversation?conversation_signature=sig", Params{
		AgentID: "agent-1",
		VoiceID: "voice-9",
		Debug:   true,
	})
	require.NoError(t, err)
	assert.Contains(t, u, "conversation_signature=sig")
	assert.Contains(t, u, "agent_id=agent-1")
	assert.Contains(t, u, "voice_id=voice-9")
	assert.Contains(t, u, "debug=true")

	u, err = providerURL("wss://api.example/ws", Params{AgentID: "a"})
	require.NoError(t, err)
	assert.NotContains(t, u, "voice_id")
	assert.NotContains(t, u, "debug")
}

func TestDirectionAndStateStrings(t *testing.T) {
	assert.Equal(t, "client_to_provider", ClientToProvider.String())
	assert.Equal(t, "provider_to_client", ProviderToClient.String())
	assert.Equal(t, "relaying", StateRelaying.String())
	assert.Equal(t, "closed", StateClosed.String())
}
