package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const messageColumns = `id, user_id, provider, external_id, folder, subject,
	sender_name, sender_email, received_at, body_text, body_html, created_at`

func scanMessage(row interface{ Scan(...any) error }) (*SourceMessage, error) {
	var (
		m          SourceMessage
		externalID sql.NullString
		folder     sql.NullString
		senderName sql.NullString
		receivedAt sql.NullTime
		bodyHTML   sql.NullString
	)
	err := row.Scan(&m.ID, &m.UserID, &m.Provider, &externalID, &folder,
		&m.Subject, &senderName, &m.SenderEmail, &receivedAt, &m.BodyText,
		&bodyHTML, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	m.ExternalID = stringPtr(externalID)
	m.Folder = stringPtr(folder)
	m.SenderName = stringPtr(senderName)
	m.ReceivedAt = timePtr(receivedAt)
	m.BodyHTML = stringPtr(bodyHTML)
	m.CreatedAt = m.CreatedAt.UTC()
	return &m, nil
}

// CreateSourceMessage inserts an ingested message.
func (s *Store) CreateSourceMessage(ctx context.Context, userID string, c SourceMessageCreate) (*SourceMessage, error) {
	m := &SourceMessage{
		ID:          uuid.NewString(),
		UserID:      userID,
		Provider:    c.Provider,
		ExternalID:  c.ExternalID,
		Folder:      c.Folder,
		Subject:     c.Subject,
		SenderName:  c.SenderName,
		SenderEmail: c.SenderEmail,
		ReceivedAt:  c.ReceivedAt,
		BodyText:    c.BodyText,
		BodyHTML:    c.BodyHTML,
		CreatedAt:   time.Now().UTC(),
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO source_messages (`+messageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.UserID, m.Provider, nullString(m.ExternalID), nullString(m.Folder),
		m.Subject, nullString(m.SenderName), m.SenderEmail, nullTime(m.ReceivedAt),
		m.BodyText, nullString(m.BodyHTML), m.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting source message: %w", err)
	}
	return m, nil
}

// GetSourceMessageByID returns the message, or (nil, nil) when not found.
func (s *Store) GetSourceMessageByID(ctx context.Context, userID, id string) (*SourceMessage, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+messageColumns+" FROM source_messages WHERE id = ? AND user_id = ?",
		id, userID)
	m, err := scanMessage(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying source message: %w", err)
	}
	return m, nil
}

// ListSourceMessages returns the most recent messages for the user.
func (s *Store) ListSourceMessages(ctx context.Context, userID string, limit int) ([]*SourceMessage, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM source_messages
		WHERE user_id = ? ORDER BY created_at DESC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying source messages: %w", err)
	}
	defer rows.Close()

	var messages []*SourceMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning source message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ListUnextractedMessages returns messages for the user that have no
// extraction run recorded yet, oldest first.
func (s *Store) ListUnextractedMessages(ctx context.Context, userID string, limit int) ([]*SourceMessage, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM source_messages m
		WHERE m.user_id = ?
			AND NOT EXISTS (SELECT 1 FROM extractions e WHERE e.source_message_id = m.id)
		ORDER BY m.created_at ASC LIMIT ?`,
		userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying unextracted messages: %w", err)
	}
	defer rows.Close()

	var messages []*SourceMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning source message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// ListMessageUserIDs returns the distinct users that have ingested
// messages. Used by the background extraction sweep.
func (s *Store) ListMessageUserIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT DISTINCT user_id FROM source_messages ORDER BY user_id")
	if err != nil {
		return nil, fmt.Errorf("querying message user ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning user id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
