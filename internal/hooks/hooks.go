// Package hooks is the in-process event bus for gateway and voice session
// lifecycle events. Plugins such as the session recorder subscribe to it.
package hooks

import (
	"context"
	"fmt"
	"sync"

	"github.com/soyeahso/voicebridge/internal/logging"
	"github.com/soyeahso/voicebridge/internal/metrics"
)

const (
	// EventSessionStart fires once both legs of a voice session are connected.
	EventSessionStart = "session_start"
	// EventSessionEnd fires after teardown with the close reason and duration.
	EventSessionEnd = "session_end"
	// EventConversationStarted fires when the provider reports a conversation id.
	EventConversationStarted = "conversation_started"
	// EventToolCall fires for every intercepted tool call, successful or not.
	EventToolCall = "tool_call"
	// EventFeedbackSent fires after conversation feedback reached the provider.
	EventFeedbackSent = "feedback_sent"

	EventGatewayStart = "gateway_start"
	EventGatewayStop  = "gateway_stop"
)

// AllEvents lists every event the gateway emits.
var AllEvents = []string{
	EventSessionStart,
	EventSessionEnd,
	EventConversationStarted,
	EventToolCall,
	EventFeedbackSent,
	EventGatewayStart,
	EventGatewayStop,
}

// Payload carries event data to hook handlers.
type Payload struct {
	Event string         `json:"event"`
	Data  map[string]any `json:"data,omitempty"`
}

// Handler handles one event. Errors and panics are logged and counted; they
// never reach the emitter.
type Handler func(ctx context.Context, p Payload) error

// Manager dispatches events to named handlers. A nil *Manager drops events.
type Manager struct {
	mu       sync.RWMutex
	handlers map[string][]namedHandler
	inflight sync.WaitGroup
	log      *logging.Logger
}

type namedHandler struct {
	name    string
	handler Handler
}

func NewManager(log *logging.Logger) *Manager {
	return &Manager{
		handlers: make(map[string][]namedHandler),
		log:      log.Sub("hooks"),
	}
}

// On appends handler to event. name is the key used by Off and in logs.
func (m *Manager) On(event, name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[event] = append(m.handlers[event], namedHandler{name: name, handler: handler})
	m.log.Debug().Str("event", event).Str("handler", name).Msg("hook registered")
}

// Off removes every handler registered under name for event.
func (m *Manager) Off(event, name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.handlers[event][:0:0]
	for _, h := range m.handlers[event] {
		if h.name != name {
			kept = append(kept, h)
		}
	}
	if len(kept) == 0 {
		delete(m.handlers, event)
		return
	}
	m.handlers[event] = kept
}

// Emit runs the handlers for event in registration order on the calling
// goroutine.
func (m *Manager) Emit(ctx context.Context, event string, data map[string]any) {
	if m == nil {
		return
	}
	payload := Payload{Event: event, Data: data}
	for _, h := range m.snapshot(event) {
		m.call(ctx, h, payload)
	}
}

// EmitAsync runs each handler for event on its own goroutine and returns
// immediately. Wait blocks until they finish.
func (m *Manager) EmitAsync(ctx context.Context, event string, data map[string]any) {
	if m == nil {
		return
	}
	payload := Payload{Event: event, Data: data}
	for _, h := range m.snapshot(event) {
		m.inflight.Add(1)
		go func() {
			defer m.inflight.Done()
			m.call(ctx, h, payload)
		}()
	}
}

// Wait blocks until every handler started by EmitAsync has returned.
func (m *Manager) Wait() {
	if m == nil {
		return
	}
	m.inflight.Wait()
}

func (m *Manager) snapshot(event string) []namedHandler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]namedHandler(nil), m.handlers[event]...)
}

func (m *Manager) call(ctx context.Context, h namedHandler, p Payload) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()
		err = h.handler(ctx, p)
	}()
	if err == nil {
		return
	}
	metrics.HookFailures.WithLabelValues(p.Event, h.name).Inc()
	m.log.Warn().
		Err(err).
		Str("event", p.Event).
		Str("handler", h.name).
		Msg("hook handler failed")
}

// Count returns the number of handlers registered for event.
func (m *Manager) Count(event string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.handlers[event])
}

// Events returns the events with at least one handler, in no particular order.
func (m *Manager) Events() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	events := make([]string, 0, len(m.handlers))
	for event := range m.handlers {
		events = append(events, event)
	}
	return events
}
