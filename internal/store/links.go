package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const linkColumns = "id, user_id, family_item_id, kid_id, activity_id, source_message_id, created_at"

func scanLink(row interface{ Scan(...any) error }) (*Link, error) {
	var (
		l          Link
		kidID      sql.NullString
		activityID sql.NullString
		messageID  sql.NullString
	)
	err := row.Scan(&l.ID, &l.UserID, &l.FamilyItemID, &kidID, &activityID,
		&messageID, &l.CreatedAt)
	if err != nil {
		return nil, err
	}
	l.KidID = stringPtr(kidID)
	l.ActivityID = stringPtr(activityID)
	l.SourceMessageID = stringPtr(messageID)
	l.CreatedAt = l.CreatedAt.UTC()
	return &l, nil
}

func insertLink(ctx context.Context, q interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, userID, itemID string, kidID, activityID, messageID *string) (*Link, error) {
	l := &Link{
		ID:              uuid.NewString(),
		UserID:          userID,
		FamilyItemID:    itemID,
		KidID:           kidID,
		ActivityID:      activityID,
		SourceMessageID: messageID,
		CreatedAt:       time.Now().UTC(),
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO family_item_links (`+linkColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.UserID, l.FamilyItemID, nullString(l.KidID),
		nullString(l.ActivityID), nullString(l.SourceMessageID), l.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("inserting link: %w", err)
	}
	return l, nil
}

// ListLinksForItem returns all links attached to the item.
func (s *Store) ListLinksForItem(ctx context.Context, userID, itemID string) ([]*Link, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+linkColumns+` FROM family_item_links
		WHERE family_item_id = ? AND user_id = ? ORDER BY created_at`,
		itemID, userID)
	if err != nil {
		return nil, fmt.Errorf("querying links: %w", err)
	}
	defer rows.Close()

	var links []*Link
	for rows.Next() {
		l, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning link: %w", err)
		}
		links = append(links, l)
	}
	return links, rows.Err()
}

// LinkItemToKids creates kid links for the item, skipping kids already
// linked, and returns only the links it created.
func (s *Store) LinkItemToKids(ctx context.Context, userID, itemID string, kidIDs []string) ([]*Link, error) {
	existing, err := s.ListLinksForItem(ctx, userID, itemID)
	if err != nil {
		return nil, err
	}
	linked := map[string]bool{}
	for _, l := range existing {
		if l.KidID != nil {
			linked[*l.KidID] = true
		}
	}

	var created []*Link
	for _, kidID := range kidIDs {
		if linked[kidID] {
			continue
		}
		kid := kidID
		l, err := insertLink(ctx, s.db, userID, itemID, &kid, nil, nil)
		if err != nil {
			return nil, err
		}
		linked[kidID] = true
		created = append(created, l)
	}
	return created, nil
}

// UnlinkItemFromKids removes kid links for the item and returns the
// links that were deleted.
func (s *Store) UnlinkItemFromKids(ctx context.Context, userID, itemID string, kidIDs []string) ([]*Link, error) {
	existing, err := s.ListLinksForItem(ctx, userID, itemID)
	if err != nil {
		return nil, err
	}
	wanted := map[string]bool{}
	for _, kidID := range kidIDs {
		wanted[kidID] = true
	}

	var deleted []*Link
	for _, l := range existing {
		if l.KidID == nil || !wanted[*l.KidID] {
			continue
		}
		if _, err := s.db.ExecContext(ctx,
			"DELETE FROM family_item_links WHERE id = ? AND user_id = ?", l.ID, userID); err != nil {
			return nil, fmt.Errorf("deleting kid link: %w", err)
		}
		deleted = append(deleted, l)
	}
	return deleted, nil
}

// SetItemActivity replaces any existing activity link on the item with
// a link to the given activity. It returns the removed links and the
// newly created one.
func (s *Store) SetItemActivity(ctx context.Context, userID, itemID, activityID string) (removed []*Link, created *Link, err error) {
	removed, err = s.ClearItemActivity(ctx, userID, itemID)
	if err != nil {
		return nil, nil, err
	}
	created, err = insertLink(ctx, s.db, userID, itemID, nil, &activityID, nil)
	if err != nil {
		return nil, nil, err
	}
	return removed, created, nil
}

// ClearItemActivity removes all activity links from the item and
// returns the deleted links.
func (s *Store) ClearItemActivity(ctx context.Context, userID, itemID string) ([]*Link, error) {
	existing, err := s.ListLinksForItem(ctx, userID, itemID)
	if err != nil {
		return nil, err
	}
	var deleted []*Link
	for _, l := range existing {
		if l.ActivityID == nil {
			continue
		}
		if _, err := s.db.ExecContext(ctx,
			"DELETE FROM family_item_links WHERE id = ? AND user_id = ?", l.ID, userID); err != nil {
			return nil, fmt.Errorf("deleting activity link: %w", err)
		}
		deleted = append(deleted, l)
	}
	return deleted, nil
}
