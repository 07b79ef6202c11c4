package plugin

import (
	"context"
	"fmt"
	"sync"

	"github.com/soyeahso/voicebridge/internal/hooks"
	"github.com/soyeahso/voicebridge/internal/logging"
)

// Registry owns plugin lifecycle. Plugins are initialized in registration
// order and closed in reverse.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]Plugin
	order   []string
	started []string
	hooks   *hooks.Manager
	log     *logging.Logger
}

// NewRegistry creates a registry handing hm to every plugin.
func NewRegistry(hm *hooks.Manager, log *logging.Logger) *Registry {
	return &Registry{
		plugins: make(map[string]Plugin),
		hooks:   hm,
		log:     log.Sub("plugins"),
	}
}

// Register adds p without initializing it.
func (r *Registry) Register(p Plugin) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.plugins[p.ID()]; exists {
		return fmt.Errorf("plugin already registered: %s", p.ID())
	}

	r.plugins[p.ID()] = p
	r.order = append(r.order, p.ID())

	r.log.Debug().
		Str("id", p.ID()).
		Str("version", p.Version()).
		Msg("plugin registered")
	return nil
}

// InitAll initializes every registered plugin. When one fails, the plugins
// already initialized are closed before the error is returned.
func (r *Registry) InitAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range r.order {
		if contains(r.started, id) {
			continue
		}
		p := r.plugins[id]
		api := API{Hooks: r.hooks, Log: r.log.Sub(id)}

		if err := p.Init(ctx, api); err != nil {
			r.closeStarted()
			return fmt.Errorf("init plugin %s: %w", id, err)
		}
		r.started = append(r.started, id)
		r.log.Info().Str("id", id).Str("name", p.Name()).Msg("plugin initialized")
	}
	return nil
}

// CloseAll closes initialized plugins in reverse order.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closeStarted()
}

func (r *Registry) closeStarted() {
	for i := len(r.started) - 1; i >= 0; i-- {
		id := r.started[i]
		if err := r.plugins[id].Close(); err != nil {
			r.log.Error().Err(err).Str("id", id).Msg("plugin close error")
		}
	}
	r.started = nil
}

// Get returns a plugin by ID, or nil.
func (r *Registry) Get(id string) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.plugins[id]
}

// Info summarizes registered plugins in registration order.
func (r *Registry) Info() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	infos := make([]Info, 0, len(r.order))
	for _, id := range r.order {
		p := r.plugins[id]
		infos = append(infos, Info{
			ID:      p.ID(),
			Name:    p.Name(),
			Version: p.Version(),
			Active:  contains(r.started, id),
		})
	}
	return infos
}

// Info is the summary of one plugin.
type Info struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Version string `json:"version"`
	Active  bool   `json:"active"`
}

func contains(ids []string, id string) bool {
	for _, s := range ids {
		if s == id {
			return true
		}
	}
	return false
}
