package config

import (
	"fmt"
	"slices"
)

// ValidationIssue describes a problem with a config value.
type ValidationIssue struct {
	Path    string
	Message string
}

func (v ValidationIssue) String() string {
	return fmt.Sprintf("%s: %s", v.Path, v.Message)
}

// Validate checks a Config for issues. Returns nil if valid.
// Missing agent ids and API keys are not reported here: a demo without
// credentials still serves, and each session fails with a configuration error.
func Validate(cfg *Config) []ValidationIssue {
	var issues []ValidationIssue

	if cfg.Gateway.Port < 0 || cfg.Gateway.Port > 65535 {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.port",
			Message: fmt.Sprintf("port must be 0-65535, got %d", cfg.Gateway.Port),
		})
	}

	validBinds := []string{"auto", "lan", "loopback", "custom"}
	if cfg.Gateway.Bind != "" && !slices.Contains(validBinds, cfg.Gateway.Bind) {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.bind",
			Message: fmt.Sprintf("must be one of %v, got %q", validBinds, cfg.Gateway.Bind),
		})
	}

	if cfg.Gateway.TLS.Enabled && (cfg.Gateway.TLS.CertPath == "" || cfg.Gateway.TLS.KeyPath == "") {
		issues = append(issues, ValidationIssue{
			Path:    "gateway.tls",
			Message: "certPath and keyPath are required when TLS is enabled",
		})
	}

	validLogLevels := []string{"silent", "fatal", "error", "warn", "info", "debug", "trace"}
	if cfg.Logging.Level != "" && !slices.Contains(validLogLevels, cfg.Logging.Level) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.level",
			Message: fmt.Sprintf("must be one of %v, got %q", validLogLevels, cfg.Logging.Level),
		})
	}

	validConsoleStyles := []string{"pretty", "json"}
	if cfg.Logging.ConsoleStyle != "" && !slices.Contains(validConsoleStyles, cfg.Logging.ConsoleStyle) {
		issues = append(issues, ValidationIssue{
			Path:    "logging.consoleStyle",
			Message: fmt.Sprintf("must be one of %v, got %q", validConsoleStyles, cfg.Logging.ConsoleStyle),
		})
	}

	if cfg.Relay.TeardownTimeoutMs < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "relay.teardownTimeoutMs",
			Message: "must not be negative",
		})
	}
	if cfg.Relay.ReadLimitBytes < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "relay.readLimitBytes",
			Message: "must not be negative",
		})
	}

	validReplyTargets := []string{"provider", "client"}
	for _, target := range cfg.Demos.AIBI.ReplyTo {
		if !slices.Contains(validReplyTargets, target) {
			issues = append(issues, ValidationIssue{
				Path:    "demos.aibi.replyTo",
				Message: fmt.Sprintf("must be a subset of %v, got %q", validReplyTargets, target),
			})
		}
	}

	if cfg.Demos.Landing.AccessTokenExpiryMinutes < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "demos.landing.accessTokenExpiryMinutes",
			Message: "must not be negative",
		})
	}

	validDrivers := []string{"sqlite", "pgx"}
	if cfg.NLQ.Driver != "" && !slices.Contains(validDrivers, cfg.NLQ.Driver) {
		issues = append(issues, ValidationIssue{
			Path:    "nlq.driver",
			Message: fmt.Sprintf("must be one of %v, got %q", validDrivers, cfg.NLQ.Driver),
		})
	}
	if cfg.NLQ.Driver == "pgx" && cfg.NLQ.DSN == "" {
		issues = append(issues, ValidationIssue{
			Path:    "nlq.dsn",
			Message: "required when driver is pgx",
		})
	}
	if cfg.NLQ.MaxRetries < 0 {
		issues = append(issues, ValidationIssue{
			Path:    "nlq.maxRetries",
			Message: "must not be negative",
		})
	}

	validProviders := []string{"claude", "ollama"}
	if cfg.NLQ.LLM.Provider != "" && !slices.Contains(validProviders, cfg.NLQ.LLM.Provider) {
		issues = append(issues, ValidationIssue{
			Path:    "nlq.llm.provider",
			Message: fmt.Sprintf("must be one of %v, got %q", validProviders, cfg.NLQ.LLM.Provider),
		})
	}
	if cfg.NLQ.LLM.Provider == "claude" && cfg.NLQ.LLM.APIKey == "" {
		issues = append(issues, ValidationIssue{
			Path:    "nlq.llm.apiKey",
			Message: "required when provider is claude",
		})
	}

	return issues
}
