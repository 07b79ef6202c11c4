package store

import (
	"context"
	"fmt"
	"time"

	"github.com/soyeahso/voicebridge/internal/hooks"
	"github.com/soyeahso/voicebridge/internal/logging"
	"github.com/soyeahso/voicebridge/internal/plugin"
	"github.com/soyeahso/voicebridge/internal/version"
)

const recorderHook = "store.recorder"

// Recorder writes session lifecycle hook events to the audit trail. It
// satisfies plugin.Plugin.
type Recorder struct {
	sessions *SessionStore
	log      *logging.Logger
	hm       *hooks.Manager
}

// NewRecorder creates a recorder writing to sessions.
func NewRecorder(sessions *SessionStore, log *logging.Logger) *Recorder {
	return &Recorder{sessions: sessions, log: log.Sub("store.recorder")}
}

func (r *Recorder) ID() string      { return "session-recorder" }
func (r *Recorder) Name() string    { return "Session recorder" }
func (r *Recorder) Version() string { return version.Version }

// Init attaches the recorder to the plugin API's hook bus.
func (r *Recorder) Init(_ context.Context, api plugin.API) error {
	if api.Hooks == nil {
		return fmt.Errorf("session recorder requires a hook manager")
	}
	if api.Log != nil {
		r.log = api.Log
	}
	r.hm = api.Hooks
	r.Attach(api.Hooks)
	return nil
}

// Close detaches the recorder from the hook bus it was initialized with.
func (r *Recorder) Close() error {
	if r.hm != nil {
		r.Detach(r.hm)
		r.hm = nil
	}
	return nil
}

// Attach subscribes the recorder to hm.
func (r *Recorder) Attach(hm *hooks.Manager) {
	hm.On(hooks.EventSessionStart, recorderHook, r.onSessionStart)
	hm.On(hooks.EventConversationStarted, recorderHook, r.onConversationStarted)
	hm.On(hooks.EventSessionEnd, recorderHook, r.onSessionEnd)
	hm.On(hooks.EventToolCall, recorderHook, r.onToolCall)
	hm.On(hooks.EventFeedbackSent, recorderHook, r.onFeedback)
}

// Detach removes the recorder's handlers from hm.
func (r *Recorder) Detach(hm *hooks.Manager) {
	for _, event := range []string{
		hooks.EventSessionStart,
		hooks.EventConversationStarted,
		hooks.EventSessionEnd,
		hooks.EventToolCall,
		hooks.EventFeedbackSent,
	} {
		hm.Off(event, recorderHook)
	}
}

func (r *Recorder) onSessionStart(_ context.Context, p hooks.Payload) error {
	clientID := str(p.Data, "clientId")
	if clientID == "" {
		return fmt.Errorf("%s without clientId", p.Event)
	}
	return r.sessions.Start(SessionRecord{
		ClientID:   clientID,
		Variant:    str(p.Data, "variant"),
		AgentID:    str(p.Data, "agentId"),
		RemoteAddr: str(p.Data, "remote"),
	})
}

func (r *Recorder) onConversationStarted(_ context.Context, p hooks.Payload) error {
	return r.sessions.SetConversation(str(p.Data, "clientId"), str(p.Data, "conversationId"))
}

func (r *Recorder) onSessionEnd(_ context.Context, p hooks.Payload) error {
	var duration time.Duration
	switch ms := p.Data["durationMs"].(type) {
	case int64:
		duration = time.Duration(ms) * time.Millisecond
	case int:
		duration = time.Duration(ms) * time.Millisecond
	}
	return r.sessions.End(str(p.Data, "clientId"), str(p.Data, "conversationId"), str(p.Data, "reason"), duration)
}

func (r *Recorder) onToolCall(_ context.Context, p hooks.Payload) error {
	return r.sessions.RecordToolCall(ToolCallRecord{
		ClientID:   str(p.Data, "clientId"),
		ToolName:   str(p.Data, "toolName"),
		ToolCallID: str(p.Data, "toolCallId"),
		Status:     str(p.Data, "status"),
		Error:      str(p.Data, "error"),
	})
}

func (r *Recorder) onFeedback(_ context.Context, p hooks.Payload) error {
	return r.sessions.RecordFeedback(str(p.Data, "conversationId"), str(p.Data, "feedback"))
}

func str(data map[string]any, key string) string {
	s, _ := data[key].(string)
	return s
}
