package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/andyfreed/kiddos/internal/store"
)

// Undo failure modes.
var (
	ErrActionNotFound     = errors.New("action not found")
	ErrUndoNotSupported   = errors.New("undo not supported for this action")
	ErrMissingBeforeState = errors.New("missing before state for undo")
)

// UndoService reverses the two reversible audit record kinds on family
// items: a create is undone by deleting the item, an update by writing
// back the captured before snapshot's mutable fields. Everything else
// is unsupported. Undo itself is not audited, so an undo cannot be
// undone.
type UndoService struct {
	store *store.Store
}

// NewUndoService wires the undo service.
func NewUndoService(st *store.Store) *UndoService {
	return &UndoService{store: st}
}

// UndoResult reports what an undo did.
type UndoResult struct {
	ActionID string            `json:"action_id"`
	Undone   string            `json:"undone"` // "deleted" or "restored"
	Item     *store.FamilyItem `json:"item,omitempty"`
}

// Undo reverses the audit record with the given id for the user.
func (u *UndoService) Undo(ctx context.Context, userID, actionID string) (*UndoResult, error) {
	action, err := u.store.GetActionByID(ctx, userID, actionID)
	if err != nil {
		return nil, err
	}
	if action == nil {
		return nil, ErrActionNotFound
	}
	if action.TargetTable == nil || *action.TargetTable != store.TargetFamilyItems {
		return nil, ErrUndoNotSupported
	}

	switch action.ActionType {
	case ActionCreateFamilyItem:
		if action.TargetID == nil {
			return nil, ErrUndoNotSupported
		}
		if err := u.store.DeleteItem(ctx, userID, *action.TargetID); err != nil {
			return nil, fmt.Errorf("deleting created item: %w", err)
		}
		log.Info().Str("action_id", actionID).Str("item_id", *action.TargetID).Msg("undo_create_applied")
		return &UndoResult{ActionID: actionID, Undone: "deleted"}, nil

	case ActionUpdateFamilyItem:
		if len(action.Before) == 0 {
			return nil, ErrMissingBeforeState
		}
		var before store.FamilyItem
		if err := json.Unmarshal(action.Before, &before); err != nil {
			return nil, ErrMissingBeforeState
		}
		if action.TargetID == nil || before.ID == "" || before.ID != *action.TargetID {
			return nil, ErrMissingBeforeState
		}

		current, err := u.store.GetItemByID(ctx, userID, before.ID)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, fmt.Errorf("item %s not found", before.ID)
		}
		restored := *current
		restored.Title = before.Title
		restored.Description = before.Description
		restored.StartAt = before.StartAt
		restored.EndAt = before.EndAt
		restored.DeadlineAt = before.DeadlineAt
		restored.Status = before.Status
		restored.Priority = before.Priority
		restored.Checklist = before.Checklist
		restored.Tags = before.Tags
		restored.SnoozeUntil = before.SnoozeUntil
		if err := u.store.UpdateItem(ctx, userID, &restored); err != nil {
			return nil, fmt.Errorf("restoring item: %w", err)
		}
		log.Info().Str("action_id", actionID).Str("item_id", restored.ID).Msg("undo_update_applied")
		return &UndoResult{ActionID: actionID, Undone: "restored", Item: &restored}, nil

	default:
		return nil, ErrUndoNotSupported
	}
}
