// Package store persists all family data in a local SQLite database:
// items, kids, activities, links, ingested messages, extraction output,
// and the append-only agent action log.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Store wraps the SQLite database holding all per-user family data.
type Store struct {
	db *sql.DB
}

// NewStore opens (creating if necessary) the database at dbPath and
// ensures the schema exists.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening store database: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating store database: %w", err)
	}
	log.Debug().Str("path", dbPath).Msg("store_opened")
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS family_items (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		start_at TIMESTAMP,
		end_at TIMESTAMP,
		deadline_at TIMESTAMP,
		status TEXT NOT NULL DEFAULT 'open',
		snooze_until TIMESTAMP,
		checklist TEXT NOT NULL DEFAULT '[]',
		tags TEXT NOT NULL DEFAULT '[]',
		priority INTEGER,
		created_from TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_items_user_status ON family_items(user_id, status);
	CREATE INDEX IF NOT EXISTS idx_items_user_type ON family_items(user_id, type);

	CREATE TABLE IF NOT EXISTS kids (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		birthday TEXT,
		grade TEXT,
		notes TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_kids_user ON kids(user_id);

	CREATE TABLE IF NOT EXISTS activities (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		name TEXT NOT NULL,
		notes TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_activities_user ON activities(user_id);

	CREATE TABLE IF NOT EXISTS family_item_links (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		family_item_id TEXT NOT NULL,
		kid_id TEXT,
		activity_id TEXT,
		source_message_id TEXT,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_links_item ON family_item_links(family_item_id);
	CREATE INDEX IF NOT EXISTS idx_links_kid ON family_item_links(kid_id);
	CREATE INDEX IF NOT EXISTS idx_links_activity ON family_item_links(activity_id);

	CREATE TABLE IF NOT EXISTS source_messages (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		provider TEXT NOT NULL,
		external_id TEXT,
		folder TEXT,
		subject TEXT NOT NULL,
		sender_name TEXT,
		sender_email TEXT NOT NULL,
		received_at TIMESTAMP,
		body_text TEXT NOT NULL,
		body_html TEXT,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_user ON source_messages(user_id, created_at);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_messages_external
		ON source_messages(user_id, provider, external_id)
		WHERE external_id IS NOT NULL;

	CREATE TABLE IF NOT EXISTS extractions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		source_message_id TEXT NOT NULL,
		extractor_version TEXT NOT NULL,
		input_snapshot TEXT NOT NULL,
		output_raw TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_extractions_message ON extractions(source_message_id);

	CREATE TABLE IF NOT EXISTS suggestions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		extraction_id TEXT NOT NULL,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT,
		start_at TIMESTAMP,
		end_at TIMESTAMP,
		deadline_at TIMESTAMP,
		location_text TEXT,
		urls TEXT NOT NULL DEFAULT '[]',
		checklist TEXT NOT NULL DEFAULT '[]',
		confidence REAL NOT NULL,
		suggested_kid_ids TEXT NOT NULL DEFAULT '[]',
		suggested_activity_name TEXT,
		dedupe_key TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT 'new',
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_suggestions_user_state ON suggestions(user_id, state);
	CREATE INDEX IF NOT EXISTS idx_suggestions_dedupe ON suggestions(user_id, dedupe_key);

	CREATE TABLE IF NOT EXISTS agent_actions (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		actor TEXT NOT NULL,
		action_type TEXT NOT NULL,
		target_table TEXT,
		target_id TEXT,
		before_json TEXT,
		after_json TEXT,
		diff_json TEXT,
		conversation_id TEXT,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_actions_user ON agent_actions(user_id, created_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// marshalJSON encodes v as JSON for a TEXT column, defaulting to "[]"
// for nil slices so columns stay non-null.
func marshalJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil || string(b) == "null" {
		return "[]"
	}
	return string(b)
}

func unmarshalJSON[T any](raw string) T {
	var v T
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &v)
	}
	return v
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func timePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time.UTC()
	return &t
}

func nullInt(i *int) sql.NullInt64 {
	if i == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*i), Valid: true}
}

func intPtr(ni sql.NullInt64) *int {
	if !ni.Valid {
		return nil
	}
	i := int(ni.Int64)
	return &i
}

// tx runs fn inside a transaction, rolling back on error.
func (s *Store) tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}
