package config

import (
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// envVarPattern matches ${VAR_NAME} patterns in strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars replaces ${VAR} patterns with environment variable values.
// Unset variables are left unchanged.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := match[2 : len(match)-1]
		if val, ok := os.LookupEnv(varName); ok {
			return val
		}
		return match
	})
}

// expandSensitiveFields processes environment variable references in
// credential fields so keys and DSNs can be stored as ${ENV_VAR}.
func expandSensitiveFields(cfg *Config) {
	cfg.ElevenLabs.APIKey = expandEnvVars(cfg.ElevenLabs.APIKey)
	cfg.Demos.Voicechat.AgentID = expandEnvVars(cfg.Demos.Voicechat.AgentID)
	cfg.Demos.AIBI.AgentID = expandEnvVars(cfg.Demos.AIBI.AgentID)
	cfg.Demos.Landing.AgentID = expandEnvVars(cfg.Demos.Landing.AgentID)
	cfg.NLQ.DSN = expandEnvVars(cfg.NLQ.DSN)
	cfg.NLQ.LLM.APIKey = expandEnvVars(cfg.NLQ.LLM.APIKey)
}

// Load reads the config file, applies environment overrides, and returns
// a merged Config. Missing files produce defaults only.
func Load(path string) (Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(&cfg)
			return cfg, nil
		}
		return cfg, err
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}

	applyDefaults(&cfg)
	expandSensitiveFields(&cfg)
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// LoadRaw reads the config file into a generic map for path-based access.
func LoadRaw(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]any{}, nil
		}
		return nil, err
	}

	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, &ConfigError{Message: "failed to parse config: " + err.Error()}
	}
	if raw == nil {
		raw = map[string]any{}
	}
	return raw, nil
}

// SaveRaw writes a generic map back to a YAML config file.
func SaveRaw(path string, raw map[string]any) error {
	data, err := yaml.Marshal(raw)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

// applyDefaults fills zero-value fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Gateway.Port == 0 {
		cfg.Gateway.Port = DefaultPort
	}
	if cfg.Gateway.Bind == "" {
		cfg.Gateway.Bind = "loopback"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.ConsoleStyle == "" {
		cfg.Logging.ConsoleStyle = "pretty"
	}
	if cfg.ElevenLabs.BaseURL == "" {
		cfg.ElevenLabs.BaseURL = DefaultElevenLabsBaseURL
	}
	cfg.ElevenLabs.BaseURL = strings.TrimSuffix(cfg.ElevenLabs.BaseURL, "/")
	if cfg.Relay.TeardownTimeoutMs == 0 {
		cfg.Relay.TeardownTimeoutMs = DefaultTeardownTimeoutMs
	}
	if cfg.Relay.WriteTimeoutMs == 0 {
		cfg.Relay.WriteTimeoutMs = DefaultWriteTimeoutMs
	}
	if cfg.Relay.ReadLimitBytes == 0 {
		cfg.Relay.ReadLimitBytes = DefaultReadLimitBytes
	}
	if cfg.Demos.AIBI.ToolName == "" {
		cfg.Demos.AIBI.ToolName = DefaultAIBIToolName
	}
	if cfg.Demos.AIBI.ClientToolName == "" {
		cfg.Demos.AIBI.ClientToolName = DefaultAIBIClientToolName
	}
	if cfg.Demos.Landing.AccessTokenExpiryMinutes == 0 {
		cfg.Demos.Landing.AccessTokenExpiryMinutes = DefaultAccessTokenExpiryMins
	}
	if cfg.Demos.Landing.ContactFormTool == "" {
		cfg.Demos.Landing.ContactFormTool = DefaultLandingContactFormTool
	}
	if cfg.NLQ.Driver == "" {
		cfg.NLQ.Driver = "sqlite"
	}
	if cfg.NLQ.MaxRetries == 0 {
		cfg.NLQ.MaxRetries = DefaultNLQMaxRetries
	}
	if cfg.NLQ.QueryTimeoutMs == 0 {
		cfg.NLQ.QueryTimeoutMs = DefaultNLQQueryTimeoutMs
	}
}

// applyEnvOverrides reads VOICEBRIDGE_* and provider environment variables
// and overrides config values.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VOICEBRIDGE_GATEWAY_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Gateway.Port = port
		}
	}
	if v := os.Getenv("VOICEBRIDGE_GATEWAY_BIND"); v != "" {
		cfg.Gateway.Bind = v
	}
	if v := os.Getenv("VOICEBRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("VOICEBRIDGE_NLQ_DSN"); v != "" {
		cfg.NLQ.DSN = v
	}
	if v := os.Getenv("ELEVENLABS_API_KEY"); v != "" {
		cfg.ElevenLabs.APIKey = v
	}
	if v := os.Getenv("VOICECHAT_ELEVENLABS_AGENT_ID"); v != "" {
		cfg.Demos.Voicechat.AgentID = v
	}
	if v := os.Getenv("DEMO_AIBI_ELEVENLABS_AGENT_ID"); v != "" {
		cfg.Demos.AIBI.AgentID = v
	}
	if v := os.Getenv("LANDING_VOICECHAT_ELEVENLABS_AGENT_ID"); v != "" {
		cfg.Demos.Landing.AgentID = v
	}
}
