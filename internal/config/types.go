package config

// Config is the root configuration for voicebridge.
type Config struct {
	Gateway    GatewayConfig    `yaml:"gateway,omitempty"`
	Logging    LoggingConfig    `yaml:"logging,omitempty"`
	ElevenLabs ElevenLabsConfig `yaml:"elevenlabs,omitempty"`
	Relay      RelayConfig      `yaml:"relay,omitempty"`
	Demos      DemosConfig      `yaml:"demos,omitempty"`
	NLQ        NLQConfig        `yaml:"nlq,omitempty"`
	Store      StoreConfig      `yaml:"store,omitempty"`
}

// GatewayConfig controls the HTTP/WebSocket server.
type GatewayConfig struct {
	Port           int        `yaml:"port,omitempty"`
	Bind           string     `yaml:"bind,omitempty"` // "auto" | "lan" | "loopback" | "custom"
	CustomBindHost string     `yaml:"customBindHost,omitempty"`
	TLS            GatewayTLS `yaml:"tls,omitempty"`
	AllowedOrigins []string   `yaml:"allowedOrigins,omitempty"`
}

// GatewayTLS configures TLS for the gateway.
type GatewayTLS struct {
	Enabled  bool   `yaml:"enabled,omitempty"`
	CertPath string `yaml:"certPath,omitempty"`
	KeyPath  string `yaml:"keyPath,omitempty"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	Level        string `yaml:"level,omitempty"` // "silent" | "fatal" | "error" | "warn" | "info" | "debug" | "trace"
	File         string `yaml:"file,omitempty"`
	ConsoleStyle string `yaml:"consoleStyle,omitempty"` // "pretty" | "json"
}

// ElevenLabsConfig holds provider credentials. The API key is usually
// supplied as ${ELEVENLABS_API_KEY} or through the environment.
type ElevenLabsConfig struct {
	APIKey  string `yaml:"apiKey,omitempty"`
	BaseURL string `yaml:"baseUrl,omitempty"`
}

// RelayConfig tunes the per-session proxy.
type RelayConfig struct {
	TeardownTimeoutMs int   `yaml:"teardownTimeoutMs,omitempty"`
	WriteTimeoutMs    int   `yaml:"writeTimeoutMs,omitempty"`
	ReadLimitBytes    int64 `yaml:"readLimitBytes,omitempty"`
}

// DemosConfig groups the demo variants served by the gateway.
type DemosConfig struct {
	Voicechat VoicechatConfig `yaml:"voicechat,omitempty"`
	AIBI      AIBIConfig      `yaml:"aibi,omitempty"`
	Landing   LandingConfig   `yaml:"landing,omitempty"`
}

// VoicechatConfig configures the plain voice chat relay.
type VoicechatConfig struct {
	AgentID string `yaml:"agentId,omitempty"`
}

// AIBIConfig configures the analytics demo and its database tool.
type AIBIConfig struct {
	AgentID        string   `yaml:"agentId,omitempty"`
	ToolName       string   `yaml:"toolName,omitempty"`
	RequiredParams []string `yaml:"requiredParams,omitempty"`
	ReplyTo        []string `yaml:"replyTo,omitempty"` // subset of "provider", "client"
	ClientToolName string   `yaml:"clientToolName,omitempty"`
}

// LandingConfig configures the landing-page assistant.
type LandingConfig struct {
	AgentID                  string `yaml:"agentId,omitempty"`
	AccessTokenExpiryMinutes int    `yaml:"accessTokenExpiryMinutes,omitempty"`
	TriggersFile             string `yaml:"triggersFile,omitempty"`
	ContactFormTool          string `yaml:"contactFormTool,omitempty"`
}

// NLQConfig configures natural-language querying.
type NLQConfig struct {
	Driver         string    `yaml:"driver,omitempty"` // "sqlite" | "pgx"
	DSN            string    `yaml:"dsn,omitempty"`
	SchemaFile     string    `yaml:"schemaFile,omitempty"` // schema description for the model; demo schema when empty
	MaxRetries     int       `yaml:"maxRetries,omitempty"`
	QueryTimeoutMs int       `yaml:"queryTimeoutMs,omitempty"`
	LLM            LLMConfig `yaml:"llm,omitempty"`
}

// LLMConfig selects the text-to-SQL model.
type LLMConfig struct {
	Provider string `yaml:"provider,omitempty"` // "claude" | "ollama"
	APIKey   string `yaml:"apiKey,omitempty"`
	Model    string `yaml:"model,omitempty"`
	Endpoint string `yaml:"endpoint,omitempty"`
}

// StoreConfig controls the session audit database.
type StoreConfig struct {
	Enabled bool   `yaml:"enabled,omitempty"`
	Path    string `yaml:"path,omitempty"`
}
