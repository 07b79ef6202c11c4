package llm

import (
	"fmt"

	"github.com/soyeahso/voicebridge/internal/config"
	"github.com/soyeahso/voicebridge/internal/logging"
)

// NewFromConfig builds the client selected by cfg.Provider. An empty provider
// selects Ollama.
func NewFromConfig(cfg config.LLMConfig, log *logging.Logger) (Client, error) {
	var c Client
	switch cfg.Provider {
	case "claude":
		if cfg.APIKey == "" {
			return nil, &ProviderError{Provider: "claude", Message: "api key not configured"}
		}
		c = NewClaudeClient(cfg.Endpoint, cfg.APIKey, cfg.Model)
	case "", "ollama":
		c = NewOllamaClient(cfg.Endpoint, cfg.Model)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	log.Sub("llm").Info().Str("provider", c.Name()).Str("model", cfg.Model).Msg("LLM provider configured")
	return c, nil
}
