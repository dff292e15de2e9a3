package session

import (
	"database/sql"
	"encoding/json"
	"fmt"
)

// SQLiteRepository keeps one row per session key, with the message
// window and pending action stored as JSON columns. A row whose JSON
// no longer parses loads as absent, matching the file backend.
type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(db *sql.DB) (*SQLiteRepository, error) {
	schema := `CREATE TABLE IF NOT EXISTS sessions (
		key TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		channel_id TEXT NOT NULL,
		scope TEXT NOT NULL,
		domain TEXT NOT NULL DEFAULT '',
		messages TEXT NOT NULL DEFAULT '[]',
		pending_action TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("init sessions schema: %w", err)
	}
	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Load(key Key) (*Session, error) {
	row := r.db.QueryRow(`SELECT user_id, channel_id, scope, domain, messages,
		pending_action, created_at, updated_at FROM sessions WHERE key = ?`, key.String())

	var sess Session
	var messages string
	var pending sql.NullString
	err := row.Scan(&sess.UserID, &sess.ChannelID, &sess.Scope, &sess.Domain,
		&messages, &pending, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}

	if err := json.Unmarshal([]byte(messages), &sess.Messages); err != nil {
		return nil, nil
	}
	if pending.Valid && pending.String != "" {
		var action PendingAction
		if err := json.Unmarshal([]byte(pending.String), &action); err != nil {
			return nil, nil
		}
		sess.PendingAction = &action
	}
	return &sess, nil
}

func (r *SQLiteRepository) Save(key Key, s *Session) error {
	messages, err := json.Marshal(s.Messages)
	if err != nil {
		return fmt.Errorf("marshal messages: %w", err)
	}
	var pending any
	if s.PendingAction != nil {
		data, err := json.Marshal(s.PendingAction)
		if err != nil {
			return fmt.Errorf("marshal pending action: %w", err)
		}
		pending = string(data)
	}

	_, err = r.db.Exec(`INSERT INTO sessions
		(key, user_id, channel_id, scope, domain, messages, pending_action, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			domain = excluded.domain,
			messages = excluded.messages,
			pending_action = excluded.pending_action,
			updated_at = excluded.updated_at`,
		key.String(), s.UserID, s.ChannelID, s.Scope, s.Domain,
		string(messages), pending, s.CreatedAt, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}
