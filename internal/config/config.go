package config

import (
	"fmt"
	"time"
)

// ConfigError represents a configuration error.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s", e.Message)
}

// Default values shared by Defaults and applyDefaults.
const (
	DefaultPort                   = 8088
	DefaultElevenLabsBaseURL      = "https://api.elevenlabs.io"
	DefaultTeardownTimeoutMs      = 2000
	DefaultWriteTimeoutMs         = 10000
	DefaultReadLimitBytes         = 4 * 1024 * 1024
	DefaultAccessTokenExpiryMins  = 5
	DefaultNLQMaxRetries          = 5
	DefaultNLQQueryTimeoutMs      = 30000
	DefaultAIBIToolName           = "query_database"
	DefaultAIBIClientToolName     = "display_query_results"
	DefaultLandingContactFormTool = "fill_contact_form"
)

// Defaults returns a Config with sensible defaults applied.
func Defaults() Config {
	return Config{
		Gateway: GatewayConfig{
			Port: DefaultPort,
			Bind: "loopback",
		},
		Logging: LoggingConfig{
			Level:        "info",
			ConsoleStyle: "pretty",
		},
		ElevenLabs: ElevenLabsConfig{
			BaseURL: DefaultElevenLabsBaseURL,
		},
		Relay: RelayConfig{
			TeardownTimeoutMs: DefaultTeardownTimeoutMs,
			WriteTimeoutMs:    DefaultWriteTimeoutMs,
			ReadLimitBytes:    DefaultReadLimitBytes,
		},
		Demos: DemosConfig{
			AIBI: AIBIConfig{
				ToolName:       DefaultAIBIToolName,
				RequiredParams: []string{"query"},
				ReplyTo:        []string{"provider", "client"},
				ClientToolName: DefaultAIBIClientToolName,
			},
			Landing: LandingConfig{
				AccessTokenExpiryMinutes: DefaultAccessTokenExpiryMins,
				ContactFormTool:          DefaultLandingContactFormTool,
			},
		},
		NLQ: NLQConfig{
			Driver:         "sqlite",
			MaxRetries:     DefaultNLQMaxRetries,
			QueryTimeoutMs: DefaultNLQQueryTimeoutMs,
			LLM: LLMConfig{
				Provider: "ollama",
			},
		},
		Store: StoreConfig{
			Enabled: true,
		},
	}
}

// TeardownTimeout is the bounded wait for relay goroutines on session close.
func (r RelayConfig) TeardownTimeout() time.Duration {
	return time.Duration(r.TeardownTimeoutMs) * time.Millisecond
}

// WriteTimeout is the deadline applied to each websocket write.
func (r RelayConfig) WriteTimeout() time.Duration {
	return time.Duration(r.WriteTimeoutMs) * time.Millisecond
}

// QueryTimeout bounds a single NLQ computation.
func (n NLQConfig) QueryTimeout() time.Duration {
	return time.Duration(n.QueryTimeoutMs) * time.Millisecond
}

// AccessTokenExpiry is the lifetime of a landing access token.
func (l LandingConfig) AccessTokenExpiry() time.Duration {
	return time.Duration(l.AccessTokenExpiryMinutes) * time.Minute
}
