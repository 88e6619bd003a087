package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const activityColumns = "id, user_id, name, notes, created_at, updated_at"

func scanActivity(row interface{ Scan(...any) error }) (*Activity, error) {
	var (
		a     Activity
		notes sql.NullString
	)
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &notes, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	a.Notes = stringPtr(notes)
	a.CreatedAt = a.CreatedAt.UTC()
	a.UpdatedAt = a.UpdatedAt.UTC()
	return &a, nil
}

// CreateActivity inserts a new activity.
func (s *Store) CreateActivity(ctx context.Context, userID, name string, notes *string) (*Activity, error) {
	now := time.Now().UTC()
	a := &Activity{
		ID:        uuid.NewString(),
		UserID:    userID,
		Name:      name,
		Notes:     notes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activities (`+activityColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, a.UserID, a.Name, nullString(a.Notes), a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting activity: %w", err)
	}
	return a, nil
}

// GetActivityByID returns the activity, or (nil, nil) when not found.
func (s *Store) GetActivityByID(ctx context.Context, userID, id string) (*Activity, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+activityColumns+" FROM activities WHERE id = ? AND user_id = ?", id, userID)
	a, err := scanActivity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying activity: %w", err)
	}
	return a, nil
}

// FindActivityByName matches case-insensitively on the trimmed name.
// Returns (nil, nil) when no activity matches.
func (s *Store) FindActivityByName(ctx context.Context, userID, name string) (*Activity, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+activityColumns+` FROM activities
		WHERE user_id = ? AND LOWER(TRIM(name)) = ?`,
		userID, strings.ToLower(strings.TrimSpace(name)))
	a, err := scanActivity(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying activity by name: %w", err)
	}
	return a, nil
}

// UpsertActivityByName returns the existing activity with the given name
// or creates a new one. The boolean reports whether a row was created.
func (s *Store) UpsertActivityByName(ctx context.Context, userID, name string) (*Activity, bool, error) {
	a, err := s.FindActivityByName(ctx, userID, name)
	if err != nil {
		return nil, false, err
	}
	if a != nil {
		return a, false, nil
	}
	a, err = s.CreateActivity(ctx, userID, strings.TrimSpace(name), nil)
	if err != nil {
		return nil, false, err
	}
	return a, true, nil
}

// ListActivities returns all activities for the user, ordered by name.
func (s *Store) ListActivities(ctx context.Context, userID string) ([]*Activity, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+activityColumns+" FROM activities WHERE user_id = ? ORDER BY name", userID)
	if err != nil {
		return nil, fmt.Errorf("querying activities: %w", err)
	}
	defer rows.Close()

	var activities []*Activity
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning activity: %w", err)
		}
		activities = append(activities, a)
	}
	return activities, rows.Err()
}

// UpdateActivity writes the activity's mutable fields back.
func (s *Store) UpdateActivity(ctx context.Context, userID string, a *Activity) error {
	a.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE activities SET name = ?, notes = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		a.Name, nullString(a.Notes), a.UpdatedAt, a.ID, userID)
	if err != nil {
		return fmt.Errorf("updating activity: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteActivity removes the activity and any links referencing it.
func (s *Store) DeleteActivity(ctx context.Context, userID, id string) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM family_item_links WHERE activity_id = ? AND user_id = ?", id, userID); err != nil {
			return fmt.Errorf("deleting activity links: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			"DELETE FROM activities WHERE id = ? AND user_id = ?", id, userID)
		if err != nil {
			return fmt.Errorf("deleting activity: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}
