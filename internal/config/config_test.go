package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, DefaultPort, cfg.Gateway.Port)
	assert.Equal(t, "loopback", cfg.Gateway.Bind)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "https://api.elevenlabs.io", cfg.ElevenLabs.BaseURL)
	assert.Equal(t, 2*time.Second, cfg.Relay.TeardownTimeout())
	assert.Equal(t, "query_database", cfg.Demos.AIBI.ToolName)
	assert.Equal(t, []string{"query"}, cfg.Demos.AIBI.RequiredParams)
	assert.Equal(t, []string{"provider", "client"}, cfg.Demos.AIBI.ReplyTo)
	assert.Equal(t, 5*time.Minute, cfg.Demos.Landing.AccessTokenExpiry())
	assert.Equal(t, "fill_contact_form", cfg.Demos.Landing.ContactFormTool)
	assert.Equal(t, "sqlite", cfg.NLQ.Driver)
	assert.Equal(t, 5, cfg.NLQ.MaxRetries)
	assert.True(t, cfg.Store.Enabled)
}

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)
	assert.Equal(t, DefaultPort, cfg.Gateway.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadValidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	yaml := `
gateway:
  port: 9999
  bind: lan
  allowedOrigins:
    - https://example.com
logging:
  level: debug
  consoleStyle: json
elevenlabs:
  baseUrl: http://localhost:9000/
relay:
  teardownTimeoutMs: 500
demos:
  voicechat:
    agentId: agent-voice
  aibi:
    agentId: agent-bi
    toolName: run_sql
    replyTo: [client]
  landing:
    agentId: agent-landing
    accessTokenExpiryMinutes: 10
nlq:
  driver: pgx
  dsn: postgres://demo@localhost/demo
store:
  enabled: false
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Gateway.Port)
	assert.Equal(t, "lan", cfg.Gateway.Bind)
	assert.Equal(t, []string{"https://example.com"}, cfg.Gateway.AllowedOrigins)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.ConsoleStyle)
	assert.Equal(t, "http://localhost:9000", cfg.ElevenLabs.BaseURL)
	assert.Equal(t, 500*time.Millisecond, cfg.Relay.TeardownTimeout())
	assert.Equal(t, DefaultWriteTimeoutMs, cfg.Relay.WriteTimeoutMs)
	assert.Equal(t, "agent-voice", cfg.Demos.Voicechat.AgentID)
	assert.Equal(t, "agent-bi", cfg.Demos.AIBI.AgentID)
	assert.Equal(t, "run_sql", cfg.Demos.AIBI.ToolName)
	assert.Equal(t, []string{"client"}, cfg.Demos.AIBI.ReplyTo)
	assert.Equal(t, "display_query_results", cfg.Demos.AIBI.ClientToolName)
	assert.Equal(t, 10, cfg.Demos.Landing.AccessTokenExpiryMinutes)
	assert.Equal(t, "pgx", cfg.NLQ.Driver)
	assert.Equal(t, "postgres://demo@localhost/demo", cfg.NLQ.DSN)
	assert.False(t, cfg.Store.Enabled)
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{{invalid yaml"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config")
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("VOICEBRIDGE_GATEWAY_PORT", "12345")
	t.Setenv("VOICEBRIDGE_LOG_LEVEL", "TRACE")
	t.Setenv("ELEVENLABS_API_KEY", "xi-secret")
	t.Setenv("VOICECHAT_ELEVENLABS_AGENT_ID", "agent-a")
	t.Setenv("DEMO_AIBI_ELEVENLABS_AGENT_ID", "agent-b")
	t.Setenv("LANDING_VOICECHAT_ELEVENLABS_AGENT_ID", "agent-c")

	cfg, err := Load("/nonexistent/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 12345, cfg.Gateway.Port)
	assert.Equal(t, "trace", cfg.Logging.Level)
	assert.Equal(t, "xi-secret", cfg.ElevenLabs.APIKey)
	assert.Equal(t, "agent-a", cfg.Demos.Voicechat.AgentID)
	assert.Equal(t, "agent-b", cfg.Demos.AIBI.AgentID)
	assert.Equal(t, "agent-c", cfg.Demos.Landing.AgentID)
}

func TestLoadExpandsSecrets(t *testing.T) {
	t.Setenv("MY_XI_KEY", "expanded-key")
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("elevenlabs:\n  apiKey: ${MY_XI_KEY}\nnlq:\n  dsn: ${UNSET_DSN_VAR}\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "expanded-key", cfg.ElevenLabs.APIKey)
	assert.Equal(t, "${UNSET_DSN_VAR}", cfg.NLQ.DSN)
}

func TestLoadRawAndSaveRaw(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")

	raw := map[string]any{
		"gateway": map[string]any{
			"port": 9999,
		},
	}

	require.NoError(t, SaveRaw(path, raw))

	loaded, err := LoadRaw(path)
	require.NoError(t, err)

	val, ok := GetValueAtPath(loaded, []string{"gateway", "port"})
	assert.True(t, ok)
	assert.Equal(t, 9999, val)
}

func TestLoadRawEmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	raw, err := LoadRaw(path)
	require.NoError(t, err)
	assert.NotNil(t, raw)
}
