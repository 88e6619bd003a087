package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Audit actors.
const (
	ActorAI   = "ai"
	ActorUser = "user"
)

// Audit target tables.
const (
	TargetFamilyItems = "family_items"
	TargetKids        = "kids"
	TargetActivities  = "activities"
	TargetLinks       = "family_item_links"
)

// AgentAction is one append-only audit record of a mutation performed
// through the agent (or a user-driven undo).
type AgentAction struct {
	ID             string          `json:"id"`
	UserID         string          `json:"user_id"`
	Actor          string          `json:"actor"`
	ActionType     string          `json:"action_type"`
	TargetTable    *string         `json:"target_table"`
	TargetID       *string         `json:"target_id"`
	Before         json.RawMessage `json:"before_json"`
	After          json.RawMessage `json:"after_json"`
	Diff           json.RawMessage `json:"diff_json"`
	ConversationID *string         `json:"conversation_id"`
	CreatedAt      time.Time       `json:"created_at"`
}

// ActionRecord holds the fields for a new audit record.
type ActionRecord struct {
	Actor          string
	ActionType     string
	TargetTable    string
	TargetID       string
	Before         any
	After          any
	Diff           any
	ConversationID string
}

const actionColumns = `id, user_id, actor, action_type, target_table, target_id,
	before_json, after_json, diff_json, conversation_id, created_at`

func marshalSnapshot(v any) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("marshaling snapshot: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// LogAction appends one audit record. Records are never updated or deleted.
func (s *Store) LogAction(ctx context.Context, userID string, rec ActionRecord) (*AgentAction, error) {
	before, err := marshalSnapshot(rec.Before)
	if err != nil {
		return nil, err
	}
	after, err := marshalSnapshot(rec.After)
	if err != nil {
		return nil, err
	}
	diff, err := marshalSnapshot(rec.Diff)
	if err != nil {
		return nil, err
	}

	a := &AgentAction{
		ID:         uuid.NewString(),
		UserID:     userID,
		Actor:      rec.Actor,
		ActionType: rec.ActionType,
		CreatedAt:  time.Now().UTC(),
	}
	if rec.TargetTable != "" {
		a.TargetTable = &rec.TargetTable
	}
	if rec.TargetID != "" {
		a.TargetID = &rec.TargetID
	}
	if rec.ConversationID != "" {
		a.ConversationID = &rec.ConversationID
	}
	if before.Valid {
		a.Before = json.RawMessage(before.String)
	}
	if after.Valid {
		a.After = json.RawMessage(after.String)
	}
	if diff.Valid {
		a.Diff = json.RawMessage(diff.String)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_actions (`+actionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Actor, a.ActionType, nullString(a.TargetTable),
		nullString(a.TargetID), before, after, diff,
		nullString(a.ConversationID), a.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting agent action: %w", err)
	}
	return a, nil
}

func scanAction(row interface{ Scan(...any) error }) (*AgentAction, error) {
	var (
		a              AgentAction
		targetTable    sql.NullString
		targetID       sql.NullString
		before         sql.NullString
		after          sql.NullString
		diff           sql.NullString
		conversationID sql.NullString
	)
	err := row.Scan(&a.ID, &a.UserID, &a.Actor, &a.ActionType, &targetTable,
		&targetID, &before, &after, &diff, &conversationID, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.TargetTable = stringPtr(targetTable)
	a.TargetID = stringPtr(targetID)
	a.ConversationID = stringPtr(conversationID)
	if before.Valid {
		a.Before = json.RawMessage(before.String)
	}
	if after.Valid {
		a.After = json.RawMessage(after.String)
	}
	if diff.Valid {
		a.Diff = json.RawMessage(diff.String)
	}
	a.CreatedAt = a.CreatedAt.UTC()
	return &a, nil
}

// GetActionByID returns the audit record, or (nil, nil) when not found.
func (s *Store) GetActionByID(ctx context.Context, userID, id string) (*AgentAction, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+actionColumns+" FROM agent_actions WHERE id = ? AND user_id = ?",
		id, userID)
	a, err := scanAction(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying agent action: %w", err)
	}
	return a, nil
}

// ListActions returns the user's most recent audit records.
func (s *Store) ListActions(ctx context.Context, userID string, limit int) ([]*AgentAction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+actionColumns+` FROM agent_actions
		WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying agent actions: %w", err)
	}
	defer rows.Close()

	var actions []*AgentAction
	for rows.Next() {
		a, err := scanAction(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agent action: %w", err)
		}
		actions = append(actions, a)
	}
	return actions, rows.Err()
}
