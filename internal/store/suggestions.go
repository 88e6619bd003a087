package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const suggestionColumns = `id, user_id, extraction_id, type, title, description,
	start_at, end_at, deadline_at, location_text, urls, checklist, confidence,
	suggested_kid_ids, suggested_activity_name, dedupe_key, state, created_at`

func scanSuggestion(row interface{ Scan(...any) error }) (*Suggestion, error) {
	var (
		sg           Suggestion
		description  sql.NullString
		startAt      sql.NullTime
		endAt        sql.NullTime
		deadlineAt   sql.NullTime
		locationText sql.NullString
		urls         string
		checklist    string
		kidIDs       string
		activityName sql.NullString
	)
	err := row.Scan(&sg.ID, &sg.UserID, &sg.ExtractionID, &sg.Type, &sg.Title,
		&description, &startAt, &endAt, &deadlineAt, &locationText, &urls,
		&checklist, &sg.Confidence, &kidIDs, &activityName, &sg.DedupeKey,
		&sg.State, &sg.CreatedAt)
	if err != nil {
		return nil, err
	}
	sg.Description = stringPtr(description)
	sg.StartAt = timePtr(startAt)
	sg.EndAt = timePtr(endAt)
	sg.DeadlineAt = timePtr(deadlineAt)
	sg.LocationText = stringPtr(locationText)
	sg.URLs = unmarshalJSON[[]string](urls)
	sg.Checklist = unmarshalJSON[[]string](checklist)
	sg.SuggestedKidIDs = unmarshalJSON[[]string](kidIDs)
	sg.SuggestedActivityName = stringPtr(activityName)
	sg.CreatedAt = sg.CreatedAt.UTC()
	return &sg, nil
}

// CreateExtraction records one extraction run and its suggestions.
// Suggestions whose dedupe key already exists for the user are skipped.
func (s *Store) CreateExtraction(ctx context.Context, userID, sourceMessageID, version, inputSnapshot, outputRaw string, sugs []SuggestionCreate) (*Extraction, []*Suggestion, error) {
	ex := &Extraction{
		ID:               uuid.NewString(),
		UserID:           userID,
		SourceMessageID:  sourceMessageID,
		ExtractorVersion: version,
		InputSnapshot:    inputSnapshot,
		OutputRaw:        outputRaw,
		CreatedAt:        time.Now().UTC(),
	}
	var created []*Suggestion
	err := s.tx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO extractions (id, user_id, source_message_id, extractor_version,
				input_snapshot, output_raw, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ex.ID, ex.UserID, ex.SourceMessageID, ex.ExtractorVersion,
			ex.InputSnapshot, ex.OutputRaw, ex.CreatedAt)
		if err != nil {
			return fmt.Errorf("inserting extraction: %w", err)
		}
		for _, c := range sugs {
			var dup int
			err := tx.QueryRowContext(ctx,
				"SELECT COUNT(*) FROM suggestions WHERE user_id = ? AND dedupe_key = ?",
				userID, c.DedupeKey).Scan(&dup)
			if err != nil {
				return fmt.Errorf("checking dedupe key: %w", err)
			}
			if dup > 0 {
				log.Debug().Str("dedupe_key", c.DedupeKey).Msg("suggestion_deduplicated")
				continue
			}
			sg := &Suggestion{
				ID:                    uuid.NewString(),
				UserID:                userID,
				ExtractionID:          ex.ID,
				Type:                  c.Type,
				Title:                 c.Title,
				Description:           c.Description,
				StartAt:               c.StartAt,
				EndAt:                 c.EndAt,
				DeadlineAt:            c.DeadlineAt,
				LocationText:          c.LocationText,
				URLs:                  c.URLs,
				Checklist:             c.Checklist,
				Confidence:            c.Confidence,
				SuggestedKidIDs:       c.SuggestedKidIDs,
				SuggestedActivityName: c.SuggestedActivityName,
				DedupeKey:             c.DedupeKey,
				State:                 SuggestionStateNew,
				CreatedAt:             time.Now().UTC(),
			}
			_, err = tx.ExecContext(ctx, `
				INSERT INTO suggestions (`+suggestionColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				sg.ID, sg.UserID, sg.ExtractionID, sg.Type, sg.Title,
				nullString(sg.Description), nullTime(sg.StartAt), nullTime(sg.EndAt),
				nullTime(sg.DeadlineAt), nullString(sg.LocationText),
				marshalJSON(sg.URLs), marshalJSON(sg.Checklist), sg.Confidence,
				marshalJSON(sg.SuggestedKidIDs), nullString(sg.SuggestedActivityName),
				sg.DedupeKey, sg.State, sg.CreatedAt)
			if err != nil {
				return fmt.Errorf("inserting suggestion: %w", err)
			}
			created = append(created, sg)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return ex, created, nil
}

// GetExtractionByID returns the extraction, or (nil, nil) when not found.
func (s *Store) GetExtractionByID(ctx context.Context, userID, id string) (*Extraction, error) {
	var ex Extraction
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, source_message_id, extractor_version, input_snapshot,
			output_raw, created_at
		FROM extractions WHERE id = ? AND user_id = ?`, id, userID).
		Scan(&ex.ID, &ex.UserID, &ex.SourceMessageID, &ex.ExtractorVersion,
			&ex.InputSnapshot, &ex.OutputRaw, &ex.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying extraction: %w", err)
	}
	ex.CreatedAt = ex.CreatedAt.UTC()
	return &ex, nil
}

// ListSuggestions returns the user's suggestions, optionally filtered by state.
func (s *Store) ListSuggestions(ctx context.Context, userID, state string, limit int) ([]*Suggestion, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	query := "SELECT " + suggestionColumns + " FROM suggestions WHERE user_id = ?"
	args := []any{userID}
	if state != "" {
		query += " AND state = ?"
		args = append(args, state)
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying suggestions: %w", err)
	}
	defer rows.Close()

	var sugs []*Suggestion
	for rows.Next() {
		sg, err := scanSuggestion(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning suggestion: %w", err)
		}
		sugs = append(sugs, sg)
	}
	return sugs, rows.Err()
}

// GetSuggestionByID returns the suggestion, or (nil, nil) when not found.
func (s *Store) GetSuggestionByID(ctx context.Context, userID, id string) (*Suggestion, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+suggestionColumns+" FROM suggestions WHERE id = ? AND user_id = ?",
		id, userID)
	sg, err := scanSuggestion(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying suggestion: %w", err)
	}
	return sg, nil
}

// SetSuggestionState transitions a suggestion to the given state.
func (s *Store) SetSuggestionState(ctx context.Context, userID, id, state string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE suggestions SET state = ? WHERE id = ? AND user_id = ?",
		state, id, userID)
	if err != nil {
		return fmt.Errorf("updating suggestion state: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ApprovalResult describes one suggestion turned into a family item.
type ApprovalResult struct {
	SuggestionID string      `json:"suggestion_id"`
	Item         *FamilyItem `json:"item"`
	Links        []*Link     `json:"links"`
}

// ApproveSuggestions turns each named suggestion in state "new" into a
// family item with links to its source message, suggested kids, and
// upserted activity. Suggestions not in state "new" or not found are
// skipped.
func (s *Store) ApproveSuggestions(ctx context.Context, userID string, ids []string) ([]ApprovalResult, error) {
	var results []ApprovalResult
	for _, id := range ids {
		sg, err := s.GetSuggestionByID(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		if sg == nil || sg.State != SuggestionStateNew {
			continue
		}

		checklist := make([]ChecklistItem, 0, len(sg.Checklist))
		for _, text := range sg.Checklist {
			checklist = append(checklist, ChecklistItem{Text: text})
		}
		item, err := s.CreateItem(ctx, userID, ItemCreate{
			Type:        sg.Type,
			Title:       sg.Title,
			Description: sg.Description,
			StartAt:     sg.StartAt,
			EndAt:       sg.EndAt,
			DeadlineAt:  sg.DeadlineAt,
			Checklist:   checklist,
		}, CreatedFromApproved)
		if err != nil {
			return nil, err
		}

		var links []*Link

		ex, err := s.GetExtractionByID(ctx, userID, sg.ExtractionID)
		if err != nil {
			return nil, err
		}
		if ex != nil {
			msgID := ex.SourceMessageID
			l, err := insertLink(ctx, s.db, userID, item.ID, nil, nil, &msgID)
			if err != nil {
				return nil, err
			}
			links = append(links, l)
		}

		for _, kidID := range sg.SuggestedKidIDs {
			kid, err := s.GetKidByID(ctx, userID, kidID)
			if err != nil {
				return nil, err
			}
			if kid == nil {
				continue
			}
			created, err := s.LinkItemToKids(ctx, userID, item.ID, []string{kidID})
			if err != nil {
				return nil, err
			}
			links = append(links, created...)
		}

		if sg.SuggestedActivityName != nil && strings.TrimSpace(*sg.SuggestedActivityName) != "" {
			activity, _, err := s.UpsertActivityByName(ctx, userID, *sg.SuggestedActivityName)
			if err != nil {
				return nil, err
			}
			_, l, err := s.SetItemActivity(ctx, userID, item.ID, activity.ID)
			if err != nil {
				return nil, err
			}
			links = append(links, l)
		}

		if err := s.SetSuggestionState(ctx, userID, sg.ID, SuggestionStateApproved); err != nil {
			return nil, err
		}
		results = append(results, ApprovalResult{SuggestionID: sg.ID, Item: item, Links: links})
	}
	return results, nil
}
