package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const kidColumns = "id, user_id, name, birthday, grade, notes, created_at, updated_at"

func scanKid(row interface{ Scan(...any) error }) (*Kid, error) {
	var (
		k        Kid
		birthday sql.NullString
		grade    sql.NullString
		notes    sql.NullString
	)
	err := row.Scan(&k.ID, &k.UserID, &k.Name, &birthday, &grade, &notes,
		&k.CreatedAt, &k.UpdatedAt)
	if err != nil {
		return nil, err
	}
	k.Birthday = stringPtr(birthday)
	k.Grade = stringPtr(grade)
	k.Notes = stringPtr(notes)
	k.CreatedAt = k.CreatedAt.UTC()
	k.UpdatedAt = k.UpdatedAt.UTC()
	return &k, nil
}

// CreateKid inserts a new kid profile.
func (s *Store) CreateKid(ctx context.Context, userID string, c KidCreate) (*Kid, error) {
	now := time.Now().UTC()
	k := &Kid{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      c.Name,
		Birthday:  c.Birthday,
		Grade:     c.Grade,
		Notes:     c.Notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO kids (`+kidColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		k.ID, k.UserID, k.Name, nullString(k.Birthday), nullString(k.Grade),
		nullString(k.Notes), k.CreatedAt, k.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting kid: %w", err)
	}
	return k, nil
}

// GetKidByID returns the kid, or (nil, nil) when not found.
func (s *Store) GetKidByID(ctx context.Context, userID, id string) (*Kid, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+kidColumns+" FROM kids WHERE id = ? AND user_id = ?", id, userID)
	k, err := scanKid(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying kid: %w", err)
	}
	return k, nil
}

// ListKids returns all kids for the user, ordered by name.
func (s *Store) ListKids(ctx context.Context, userID string) ([]*Kid, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+kidColumns+" FROM kids WHERE user_id = ? ORDER BY name", userID)
	if err != nil {
		return nil, fmt.Errorf("querying kids: %w", err)
	}
	defer rows.Close()

	var kids []*Kid
	for rows.Next() {
		k, err := scanKid(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning kid: %w", err)
		}
		kids = append(kids, k)
	}
	return kids, rows.Err()
}

// UpdateKid writes the kid's mutable fields back and refreshes updated_at.
func (s *Store) UpdateKid(ctx context.Context, userID string, k *Kid) error {
	k.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE kids SET name = ?, birthday = ?, grade = ?, notes = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		k.Name, nullString(k.Birthday), nullString(k.Grade), nullString(k.Notes),
		k.UpdatedAt, k.ID, userID)
	if err != nil {
		return fmt.Errorf("updating kid: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteKid removes the kid and any links referencing it.
func (s *Store) DeleteKid(ctx context.Context, userID, id string) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM family_item_links WHERE kid_id = ? AND user_id = ?", id, userID); err != nil {
			return fmt.Errorf("deleting kid links: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			"DELETE FROM kids WHERE id = ? AND user_id = ?", id, userID)
		if err != nil {
			return fmt.Errorf("deleting kid: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}
