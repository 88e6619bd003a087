package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const itemColumns = `id, user_id, type, title, description, start_at, end_at,
	deadline_at, status, snooze_until, checklist, tags, priority,
	created_from, created_at, updated_at`

func scanItem(row interface{ Scan(...any) error }) (*FamilyItem, error) {
	var (
		it          FamilyItem
		description sql.NullString
		startAt     sql.NullTime
		endAt       sql.NullTime
		deadlineAt  sql.NullTime
		snoozeUntil sql.NullTime
		checklist   string
		tags        string
		priority    sql.NullInt64
	)
	err := row.Scan(&it.ID, &it.UserID, &it.Type, &it.Title, &description,
		&startAt, &endAt, &deadlineAt, &it.Status, &snoozeUntil,
		&checklist, &tags, &priority, &it.CreatedFrom, &it.CreatedAt, &it.UpdatedAt)
	if err != nil {
		return nil, err
	}
	it.Description = stringPtr(description)
	it.StartAt = timePtr(startAt)
	it.EndAt = timePtr(endAt)
	it.DeadlineAt = timePtr(deadlineAt)
	it.SnoozeUntil = timePtr(snoozeUntil)
	it.Checklist = unmarshalJSON[[]ChecklistItem](checklist)
	it.Tags = unmarshalJSON[[]string](tags)
	it.Priority = intPtr(priority)
	it.CreatedAt = it.CreatedAt.UTC()
	it.UpdatedAt = it.UpdatedAt.UTC()
	return &it, nil
}

// CreateItem inserts a new family item and returns it.
func (s *Store) CreateItem(ctx context.Context, userID string, c ItemCreate, createdFrom string) (*FamilyItem, error) {
	now := time.Now().UTC()
	status := c.Status
	if status == "" {
		status = ItemStatusOpen
	}
	it := &FamilyItem{
		ID:          uuid.NewString(),
		UserID:      userID,
		Type:        c.Type,
		Title:       c.Title,
		Description: c.Description,
		StartAt:     c.StartAt,
		EndAt:       c.EndAt,
		DeadlineAt:  c.DeadlineAt,
		Status:      status,
		Checklist:   c.Checklist,
		Tags:        c.Tags,
		Priority:    c.Priority,
		CreatedFrom: createdFrom,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO family_items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		it.ID, it.UserID, it.Type, it.Title, nullString(it.Description),
		nullTime(it.StartAt), nullTime(it.EndAt), nullTime(it.DeadlineAt),
		it.Status, nullTime(it.SnoozeUntil), marshalJSON(it.Checklist),
		marshalJSON(it.Tags), nullInt(it.Priority), it.CreatedFrom,
		it.CreatedAt, it.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting item: %w", err)
	}
	return it, nil
}

// GetItemByID returns the item, or (nil, nil) when it does not exist or
// belongs to another user.
func (s *Store) GetItemByID(ctx context.Context, userID, id string) (*FamilyItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+itemColumns+` FROM family_items WHERE id = ? AND user_id = ?`,
		id, userID)
	it, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying item: %w", err)
	}
	return it, nil
}

// ListItems returns items matching the filter plus the total match count
// before limit/offset.
func (s *Store) ListItems(ctx context.Context, userID string, f ItemFilter) ([]*FamilyItem, int, error) {
	where := []string{"i.user_id = ?"}
	args := []any{userID}
	if f.Status != "" {
		where = append(where, "i.status = ?")
		args = append(args, f.Status)
	}
	if f.Type != "" {
		where = append(where, "i.type = ?")
		args = append(args, f.Type)
	}
	if f.KidID != "" {
		where = append(where, "EXISTS (SELECT 1 FROM family_item_links l WHERE l.family_item_id = i.id AND l.kid_id = ?)")
		args = append(args, f.KidID)
	}
	if f.ActivityID != "" {
		where = append(where, "EXISTS (SELECT 1 FROM family_item_links l WHERE l.family_item_id = i.id AND l.activity_id = ?)")
		args = append(args, f.ActivityID)
	}
	cond := strings.Join(where, " AND ")

	var total int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM family_items i WHERE "+cond, args...).Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("counting items: %w", err)
	}

	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := `SELECT ` + itemColumns + `
		FROM family_items i WHERE ` + cond + `
		ORDER BY COALESCE(i.start_at, i.deadline_at, i.created_at) ASC
		LIMIT ? OFFSET ?`
	args = append(args, limit, f.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("querying items: %w", err)
	}
	defer rows.Close()

	var items []*FamilyItem
	for rows.Next() {
		it, err := scanItem(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning item: %w", err)
		}
		items = append(items, it)
	}
	return items, total, rows.Err()
}

// UpdateItem writes all mutable fields of the item back to the database
// and refreshes updated_at. Callers load the item, mutate fields, save.
func (s *Store) UpdateItem(ctx context.Context, userID string, it *FamilyItem) error {
	it.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE family_items SET title = ?, description = ?, start_at = ?,
			end_at = ?, deadline_at = ?, status = ?, snooze_until = ?,
			checklist = ?, tags = ?, priority = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		it.Title, nullString(it.Description), nullTime(it.StartAt),
		nullTime(it.EndAt), nullTime(it.DeadlineAt), it.Status,
		nullTime(it.SnoozeUntil), marshalJSON(it.Checklist),
		marshalJSON(it.Tags), nullInt(it.Priority), it.UpdatedAt,
		it.ID, userID)
	if err != nil {
		return fmt.Errorf("updating item: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteItem removes the item and all of its links.
func (s *Store) DeleteItem(ctx context.Context, userID, id string) error {
	return s.tx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM family_item_links WHERE family_item_id = ? AND user_id = ?", id, userID); err != nil {
			return fmt.Errorf("deleting item links: %w", err)
		}
		res, err := tx.ExecContext(ctx,
			"DELETE FROM family_items WHERE id = ? AND user_id = ?", id, userID)
		if err != nil {
			return fmt.Errorf("deleting item: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return sql.ErrNoRows
		}
		return nil
	})
}
