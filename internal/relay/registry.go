package relay

import (
	"sort"
	"sync"
	"time"

	"github.com/soyeahso/voicebridge/internal/logging"
	"github.com/soyeahso/voicebridge/internal/metrics"
)

// Info is a point-in-time view of a session.
type Info struct {
	ClientID       string    `json:"clientId"`
	Variant        string    `json:"variant"`
	AgentID        string    `json:"agentId"`
	ConversationID string    `json:"conversationId,omitempty"`
	State          string    `json:"state"`
	StartedAt      time.Time `json:"startedAt"`
}

// Registry tracks active sessions by client id.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session // clientID → Session
	gone     map[string]chan struct{}
	log      *logging.Logger
}

// NewRegistry creates an empty session registry.
func NewRegistry(log *logging.Logger) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		gone:     make(map[string]chan struct{}),
		log:      log,
	}
}

// Add registers a session. A client id may only be registered once.
func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.id]; exists {
		return ErrSessionExists
	}
	r.sessions[s.id] = s
	r.gone[s.id] = make(chan struct{})
	metrics.SessionsActive.WithLabelValues(s.params.Variant).Inc()
	r.log.Info().Str("clientId", s.id).Str("variant", s.params.Variant).Msg("session registered")
	return nil
}

// Remove unregisters a session by client id.
func (r *Registry) Remove(clientID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[clientID]
	if !ok {
		return
	}
	delete(r.sessions, clientID)
	close(r.gone[clientID])
	delete(r.gone, clientID)
	metrics.SessionsActive.WithLabelValues(s.params.Variant).Dec()
	r.log.Info().Str("clientId", clientID).Msg("session removed")
}

// Get returns a session by client id.
func (r *Registry) Get(clientID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[clientID]
	return s, ok
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// List returns a snapshot of registered sessions, oldest first.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, Info{
			ClientID:       s.id,
			Variant:        s.params.Variant,
			AgentID:        s.params.AgentID,
			ConversationID: s.ConversationID(),
			State:          s.State().String(),
			StartedAt:      s.startedAt,
		})
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

// CloseAll closes every registered session concurrently and waits until
// each has been removed, so session_end hooks have run when it returns.
func (r *Registry) CloseAll(reason string) {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	gone := make([]chan struct{}, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		gone = append(gone, r.gone[id])
	}
	r.mu.RUnlock()

	var wg sync.WaitGroup
	for _, s := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.Close(reason)
		}(s)
	}
	wg.Wait()
	for _, ch := range gone {
		<-ch
	}

	if len(sessions) > 0 {
		r.log.Info().Int("sessions", len(sessions)).Str("reason", reason).Msg("closed all sessions")
	}
}
