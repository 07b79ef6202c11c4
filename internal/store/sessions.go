package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SessionRecord is one relayed voice session.
type SessionRecord struct {
	ClientID       string     `json:"clientId"`
	Variant        string     `json:"variant"`
	AgentID        string     `json:"agentId,omitempty"`
	RemoteAddr     string     `json:"remoteAddr,omitempty"`
	ConversationID string     `json:"conversationId,omitempty"`
	StartedAt      time.Time  `json:"startedAt"`
	EndedAt        *time.Time `json:"endedAt,omitempty"`
	CloseReason    string     `json:"closeReason,omitempty"`
	DurationMs     int64      `json:"durationMs"`
}

// ToolCallRecord is one intercepted tool call outcome.
type ToolCallRecord struct {
	ClientID   string    `json:"clientId"`
	ToolName   string    `json:"toolName"`
	ToolCallID string    `json:"toolCallId,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}

// SessionStore reads and writes the voice session audit trail.
type SessionStore struct {
	db *DB
}

// NewSessionStore creates a session store using the given database.
func NewSessionStore(db *DB) *SessionStore {
	return &SessionStore{db: db}
}

// Start inserts a session row. Starting an existing client id is a no-op.
func (s *SessionStore) Start(rec SessionRecord) error {
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now()
	}
	_, err := s.db.sql.Exec(
		`INSERT OR IGNORE INTO voice_sessions (client_id, variant, agent_id, remote_addr, started_at)
		 VALUES (?, ?, ?, ?, ?)`,
		rec.ClientID, rec.Variant, rec.AgentID, rec.RemoteAddr, rec.StartedAt.UTC().Format(time.DateTime),
	)
	if err != nil {
		return fmt.Errorf("inserting session %s: %w", rec.ClientID, err)
	}
	return nil
}

// SetConversation records the provider conversation id of a session.
func (s *SessionStore) SetConversation(clientID, conversationID string) error {
	_, err := s.db.sql.Exec(
		`UPDATE voice_sessions SET conversation_id = ? WHERE client_id = ?`,
		conversationID, clientID,
	)
	if err != nil {
		return fmt.Errorf("updating conversation of %s: %w", clientID, err)
	}
	return nil
}

// End marks a session closed.
func (s *SessionStore) End(clientID, conversationID, reason string, duration time.Duration) error {
	_, err := s.db.sql.Exec(
		`UPDATE voice_sessions
		 SET ended_at = ?, close_reason = ?, duration_ms = ?,
		     conversation_id = CASE WHEN ? != '' THEN ? ELSE conversation_id END
		 WHERE client_id = ?`,
		time.Now().UTC().Format(time.DateTime), reason, duration.Milliseconds(),
		conversationID, conversationID, clientID,
	)
	if err != nil {
		return fmt.Errorf("ending session %s: %w", clientID, err)
	}
	return nil
}

// Get returns a session by client id, or nil if not found.
func (s *SessionStore) Get(clientID string) (*SessionRecord, error) {
	row := s.db.sql.QueryRow(
		`SELECT client_id, variant, agent_id, remote_addr, conversation_id, started_at, ended_at, close_reason, duration_ms
		 FROM voice_sessions WHERE client_id = ?`, clientID,
	)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

// Recent returns up to limit sessions, newest first.
func (s *SessionStore) Recent(limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.sql.Query(
		`SELECT client_id, variant, agent_id, remote_addr, conversation_id, started_at, ended_at, close_reason, duration_ms
		 FROM voice_sessions ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*SessionRecord, error) {
	var rec SessionRecord
	var startedAt string
	var endedAt sql.NullString
	if err := row.Scan(
		&rec.ClientID, &rec.Variant, &rec.AgentID, &rec.RemoteAddr, &rec.ConversationID,
		&startedAt, &endedAt, &rec.CloseReason, &rec.DurationMs,
	); err != nil {
		return nil, err
	}
	rec.StartedAt, _ = time.Parse(time.DateTime, startedAt)
	if endedAt.Valid {
		t, _ := time.Parse(time.DateTime, endedAt.String)
		rec.EndedAt = &t
	}
	return &rec, nil
}

// RecordToolCall appends a tool call outcome.
func (s *SessionStore) RecordToolCall(rec ToolCallRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	_, err := s.db.sql.Exec(
		`INSERT INTO tool_calls (client_id, tool_name, tool_call_id, status, error, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ClientID, rec.ToolName, rec.ToolCallID, rec.Status, rec.Error,
		rec.CreatedAt.UTC().Format(time.DateTime),
	)
	if err != nil {
		return fmt.Errorf("recording tool call %s: %w", rec.ToolName, err)
	}
	return nil
}

// ToolCalls returns the tool calls of a session in arrival order.
func (s *SessionStore) ToolCalls(clientID string) ([]ToolCallRecord, error) {
	rows, err := s.db.sql.Query(
		`SELECT client_id, tool_name, tool_call_id, status, error, created_at
		 FROM tool_calls WHERE client_id = ? ORDER BY id`, clientID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing tool calls: %w", err)
	}
	defer rows.Close()

	var out []ToolCallRecord
	for rows.Next() {
		var rec ToolCallRecord
		var createdAt string
		if err := rows.Scan(&rec.ClientID, &rec.ToolName, &rec.ToolCallID, &rec.Status, &rec.Error, &createdAt); err != nil {
			return nil, err
		}
		rec.CreatedAt, _ = time.Parse(time.DateTime, createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecordFeedback stores a like or dislike sent for a conversation.
func (s *SessionStore) RecordFeedback(conversationID, feedback string) error {
	_, err := s.db.sql.Exec(
		`INSERT INTO conversation_feedback (conversation_id, feedback) VALUES (?, ?)`,
		conversationID, feedback,
	)
	if err != nil {
		return fmt.Errorf("recording feedback for %s: %w", conversationID, err)
	}
	return nil
}

// Feedback returns the feedback values sent for a conversation, oldest first.
func (s *SessionStore) Feedback(conversationID string) ([]string, error) {
	rows, err := s.db.sql.Query(
		`SELECT feedback FROM conversation_feedback WHERE conversation_id = ? ORDER BY id`, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing feedback: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}
