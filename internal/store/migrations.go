package store

// migration represents a single schema migration.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// migrations is the ordered list of all schema migrations.
var migrations = []migration{
	{
		Version: 1,
		Name:    "create voice sessions",
		SQL: `
			CREATE TABLE voice_sessions (
				client_id        TEXT PRIMARY KEY,
				variant          TEXT NOT NULL,
				agent_id         TEXT NOT NULL DEFAULT '',
				remote_addr      TEXT NOT NULL DEFAULT '',
				conversation_id  TEXT NOT NULL DEFAULT '',
				started_at       TEXT NOT NULL DEFAULT (datetime('now')),
				ended_at         TEXT,
				close_reason     TEXT NOT NULL DEFAULT '',
				duration_ms      INTEGER NOT NULL DEFAULT 0
			);

			CREATE INDEX idx_voice_sessions_started ON voice_sessions (started_at);
			CREATE INDEX idx_voice_sessions_conversation ON voice_sessions (conversation_id);
		`,
	},
	{
		Version: 2,
		Name:    "create tool calls",
		SQL: `
			CREATE TABLE tool_calls (
				id            INTEGER PRIMARY KEY AUTOINCREMENT,
				client_id     TEXT NOT NULL,
				tool_name     TEXT NOT NULL,
				tool_call_id  TEXT NOT NULL DEFAULT '',
				status        TEXT NOT NULL,
				error         TEXT NOT NULL DEFAULT '',
				created_at    TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_tool_calls_client ON tool_calls (client_id, id);
		`,
	},
	{
		Version: 3,
		Name:    "create conversation feedback",
		SQL: `
			CREATE TABLE conversation_feedback (
				id               INTEGER PRIMARY KEY AUTOINCREMENT,
				conversation_id  TEXT NOT NULL,
				feedback         TEXT NOT NULL,
				created_at       TEXT NOT NULL DEFAULT (datetime('now'))
			);

			CREATE INDEX idx_feedback_conversation ON conversation_feedback (conversation_id);
		`,
	},
}
