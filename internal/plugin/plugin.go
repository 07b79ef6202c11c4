// Package plugin manages optional gateway extensions that observe voice
// sessions through the hook bus.
package plugin

import (
	"context"

	"github.com/soyeahso/voicebridge/internal/hooks"
	"github.com/soyeahso/voicebridge/internal/logging"
)

// Plugin is an extension loaded by `voicebridge gateway run`.
type Plugin interface {
	// ID returns a unique identifier such as "session-recorder".
	ID() string

	Name() string
	Version() string

	// Init subscribes the plugin to the events it cares about.
	Init(ctx context.Context, api API) error

	// Close unsubscribes the plugin and releases its resources.
	Close() error
}

// API is what a plugin receives at Init.
type API struct {
	Hooks *hooks.Manager
	Log   *logging.Logger
}
