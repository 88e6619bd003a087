package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	kiddosotel "github.com/andyfreed/kiddos/internal/otel"
	"github.com/andyfreed/kiddos/internal/store"
)

var tracer = kiddosotel.Tracer("github.com/andyfreed/kiddos/internal/agent")

// Audit action types.
const (
	ActionCreateFamilyItem  = "create_family_item"
	ActionUpdateFamilyItem  = "update_family_item"
	ActionDeleteFamilyItem  = "delete_family_item"
	ActionUpdateKid         = "update_kid"
	ActionDeleteKid         = "delete_kid"
	ActionCreateActivity    = "create_activity"
	ActionUpdateActivity    = "update_activity"
	ActionDeleteActivity    = "delete_activity"
	ActionLinkItemToKid     = "link_item_to_kid"
	ActionUnlinkItemFromKid = "unlink_item_from_kid"
	ActionSetItemActivity   = "set_item_activity"
	ActionClearItemActivity = "clear_item_activity"
	ActionLinkItemToSource  = "link_item_to_source"
)

// ExtractionRunner runs AI extraction over one ingested source message.
type ExtractionRunner interface {
	Run(ctx context.Context, userID, sourceMessageID string) (*store.Extraction, []*store.Suggestion, error)
}

// Executor performs one validated tool invocation against the store and
// writes one audit record per mutation. Read-only tools write nothing.
type Executor struct {
	store     *store.Store
	registry  *Registry
	extractor ExtractionRunner
}

// NewExecutor wires the executor. extractor may be nil, in which case
// run_extraction fails at call time.
func NewExecutor(st *store.Store, registry *Registry, extractor ExtractionRunner) *Executor {
	return &Executor{store: st, registry: registry, extractor: extractor}
}

// Execute validates and runs one tool invocation as the given actor.
// The returned value is the tool result, serializable to JSON.
func (e *Executor) Execute(ctx context.Context, userID, name string, args json.RawMessage, actor, conversationID string) (any, error) {
	ctx, span := tracer.Start(ctx, "tool.execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("tool.name", name),
		attribute.String("tool.actor", actor),
	)

	if err := e.registry.Validate(name, args); err != nil {
		return nil, err
	}

	result, err := e.dispatch(ctx, userID, name, args, actor, conversationID)
	if err != nil {
		log.Warn().Err(err).Str("tool", name).Str("actor", actor).Msg("tool_execution_failed")
		return nil, err
	}
	log.Info().Str("tool", name).Str("actor", actor).Msg("tool_executed")
	return result, nil
}

func (e *Executor) dispatch(ctx context.Context, userID, name string, args json.RawMessage, actor, conversationID string) (any, error) {
	switch name {
	case ToolListItems:
		return e.listItems(ctx, userID, args)
	case ToolCreateItem:
		return e.createItem(ctx, userID, args, actor, conversationID)
	case ToolUpdateItem:
		return e.updateItem(ctx, userID, args, actor, conversationID)
	case ToolDeleteItem:
		return e.deleteItem(ctx, userID, args, actor, conversationID)
	case ToolListInbox:
		return e.listInbox(ctx, userID, args)
	case ToolListKids:
		return e.listKids(ctx, userID, args)
	case ToolRenameKid:
		return e.renameKid(ctx, userID, args, actor, conversationID)
	case ToolUpdateKid:
		return e.updateKid(ctx, userID, args, actor, conversationID)
	case ToolDeleteKid:
		return e.deleteKid(ctx, userID, args, actor, conversationID)
	case ToolGetItemLinks:
		return e.getItemLinks(ctx, userID, args)
	case ToolLinkItemToKids:
		return e.linkItemToKids(ctx, userID, args, actor, conversationID)
	case ToolUnlinkItemFromKids:
		return e.unlinkItemFromKids(ctx, userID, args, actor, conversationID)
	case ToolSetItemActivity:
		return e.setItemActivity(ctx, userID, args, actor, conversationID)
	case ToolClearItemActivity:
		return e.clearItemActivity(ctx, userID, args, actor, conversationID)
	case ToolListActivities:
		return e.listActivities(ctx, userID, args)
	case ToolCreateActivity:
		return e.createActivity(ctx, userID, args, actor, conversationID)
	case ToolUpdateActivity:
		return e.updateActivity(ctx, userID, args, actor, conversationID)
	case ToolDeleteActivity:
		return e.deleteActivity(ctx, userID, args, actor, conversationID)
	case ToolListSuggestions:
		return e.listSuggestions(ctx, userID, args)
	case ToolApproveSuggestions:
		return e.approveSuggestions(ctx, userID, args, actor, conversationID)
	case ToolRunExtraction:
		return e.runExtraction(ctx, userID, args)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAction, name)
	}
}

// optionalString distinguishes absent, explicit null, and a value when
// unmarshaling partial update arguments.
type optionalString struct {
	set   bool
	value *string
}

func (o *optionalString) UnmarshalJSON(b []byte) error {
	o.set = true
	return json.Unmarshal(b, &o.value)
}

type optionalTime struct {
	set   bool
	value *time.Time
}

func (o *optionalTime) UnmarshalJSON(b []byte) error {
	o.set = true
	var s *string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return fmt.Errorf("parsing timestamp %q: %w", *s, err)
	}
	t = t.UTC()
	o.value = &t
	return nil
}

type optionalInt struct {
	set   bool
	value *int
}

func (o *optionalInt) UnmarshalJSON(b []byte) error {
	o.set = true
	return json.Unmarshal(b, &o.value)
}

func badArgs(tool string, err error) error {
	return &InvalidArgumentsError{Tool: tool, Fields: []string{err.Error()}}
}

func (e *Executor) listItems(ctx context.Context, userID string, args json.RawMessage) (any, error) {
	var a struct {
		Status string `json:"status"`
		Type   string `json:"type"`
		Limit  int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, badArgs(ToolListItems, err)
	}
	limit := a.Limit
	if limit == 0 {
		limit = 25
	}
	items, total, err := e.store.ListItems(ctx, userID, store.ItemFilter{
		Status: a.Status, Type: a.Type, Limit: limit,
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"items": items, "total": total}, nil
}

func (e *Executor) createItem(ctx context.Context, userID string, args json.RawMessage, actor, conversationID string) (any, error) {
	var a struct {
		Type        string       `json:"type"`
		Title       string       `json:"title"`
		Description *string      `json:"description"`
		StartAt     optionalTime `json:"start_at"`
		EndAt       optionalTime `json:"end_at"`
		DeadlineAt  optionalTime `json:"deadline_at"`
		Priority    *int         `json:"priority"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, badArgs(ToolCreateItem, err)
	}
	itemType := a.Type
	if itemType == "" {
		itemType = store.ItemTypeTask
	}
	item, err := e.store.CreateItem(ctx, userID, store.ItemCreate{
		Type:        itemType,
		Title:       a.Title,
		Description: a.Description,
		StartAt:     a.StartAt.value,
		EndAt:       a.EndAt.value,
		DeadlineAt:  a.DeadlineAt.value,
		Status:      store.ItemStatusOpen,
		Priority:    a.Priority,
	}, store.CreatedFromChat)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.LogAction(ctx, userID, store.ActionRecord{
		Actor:          actor,
		ActionType:     ActionCreateFamilyItem,
		TargetTable:    store.TargetFamilyItems,
		TargetID:       item.ID,
		After:          item,
		ConversationID: conversationID,
	}); err != nil {
		return nil, err
	}
	return map[string]any{"item": item}, nil
}

func (e *Executor) updateItem(ctx context.Context, userID string, args json.RawMessage, actor, conversationID string) (any, error) {
	var a struct {
		ID          string         `json:"id"`
		Title       *string        `json:"title"`
		Description optionalString `json:"description"`
		StartAt     optionalTime   `json:"start_at"`
		EndAt       optionalTime   `json:"end_at"`
		DeadlineAt  optionalTime   `json:"deadline_at"`
		Status      *string        `json:"status"`
		Priority    optionalInt    `json:"priority"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, badArgs(ToolUpdateItem, err)
	}
	before, err := e.store.GetItemByID(ctx, userID, a.ID)
	if err != nil {
		return nil, err
	}
	if before == nil {
		return nil, fmt.Errorf("item %s not found", a.ID)
	}

	updated := *before
	if a.Title != nil {
		updated.Title = *a.Title
	}
	if a.Description.set {
		updated.Description = a.Description.value
	}
	if a.StartAt.set {
		updated.StartAt = a.StartAt.value
	}
	if a.EndAt.set {
		updated.EndAt = a.EndAt.value
	}
	if a.DeadlineAt.set {
		updated.DeadlineAt = a.DeadlineAt.value
	}
	if a.Status != nil {
		updated.Status = *a.Status
	}
	if a.Priority.set {
		updated.Priority = a.Priority.value
	}
	if err := e.store.UpdateItem(ctx, userID, &updated); err != nil {
		return nil, err
	}
	if _, err := e.store.LogAction(ctx, userID, store.ActionRecord{
		Actor:          actor,
		ActionType:     ActionUpdateFamilyItem,
		TargetTable:    store.TargetFamilyItems,
		TargetID:       updated.ID,
		Before:         before,
		After:          &updated,
		ConversationID: conversationID,
	}); err != nil {
		return nil, err
	}
	return map[string]any{"item": &updated}, nil
}

func (e *Executor) deleteItem(ctx context.Context, userID string, args json.RawMessage, actor, conversationID string) (any, error) {
	var a struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, badArgs(ToolDeleteItem, err)
	}
	before, err := e.store.GetItemByID(ctx, userID, a.ID)
	if err != nil {
		return nil, err
	}
	if before == nil {
		return nil, fmt.Errorf("item %s not found", a.ID)
	}
	if err := e.store.DeleteItem(ctx, userID, a.ID); err != nil {
		return nil, err
	}
	if _, err := e.store.LogAction(ctx, userID, store.ActionRecord{
		Actor:          actor,
		ActionType:     ActionDeleteFamilyItem,
		TargetTable:    store.TargetFamilyItems,
		TargetID:       a.ID,
		Before:         before,
		ConversationID: conversationID,
	}); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": true}, nil
}

func (e *Executor) listInbox(ctx context.Context, userID string, args json.RawMessage) (any, error) {
	var a struct {
		Limit int `json:"limit"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, badArgs(ToolListInbox, err)
	}
	limit := a.Limit
	if limit == 0 {
		limit = 25
	}
	messages, err := e.store.ListSourceMessages(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	summaries := make([]map[string]any, 0, len(messages))
	for _, m := range messages {
		summaries = append(summaries, map[string]any{
			"id":           m.ID,
			"provider":     m.Provider,
			"subject":      m.Subject,
			"sender_email": m.SenderEmail,
			"received_at":  m.ReceivedAt,
			"created_at":   m.CreatedAt,
		})
	}
	return map[string]any{"messages": summaries}, nil
}

func (e *Executor) listKids(ctx context.Context, userID string, args json.RawMessage) (any, error) {
	var a struct {
		Limit int `json:"limit"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, badArgs(ToolListKids, err)
	}
	kids, err := e.store.ListKids(ctx, userID)
	if err != nil {
		return nil, err
	}
	if a.Limit > 0 && len(kids) > a.Limit {
		kids = kids[:a.Limit]
	}
	summaries := make([]map[string]any, 0, len(kids))
	for _, k := range kids {
		summaries = append(summaries, map[string]any{
			"id": k.ID, "name": k.Name, "grade": k.Grade, "birthday": k.Birthday,
		})
	}
	return map[string]any{"kids": summaries}, nil
}

func (e *Executor) renameKid(ctx context.Context, userID string, args json.RawMessage, actor, conversationID string) (any, error) {
	var a struct {
		FromName string `json:"fromName"`
		ToName   string `json:"toName"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, badArgs(ToolRenameKid, err)
	}
	kids, err := e.store.ListKids(ctx, userID)
	if err != nil {
		return nil, err
	}
	from := strings.ToLower(strings.TrimSpace(a.FromName))
	var matches []*store.Kid
	for _, k := range kids {
		if strings.ToLower(strings.TrimSpace(k.Name)) == from {
			matches = append(matches, k)
		}
	}
	if len(matches) == 0 {
		names := make([]map[string]any, 0, len(kids))
		for _, k := range kids {
			names = append(names, map[string]any{"id": k.ID, "name": k.Name})
		}
		return map[string]any{
			"ok":      false,
			"message": fmt.Sprintf("No kid found with name %q.", a.FromName),
			"kids":    names,
		}, nil
	}
	if len(matches) > 1 {
		names := make([]map[string]any, 0, len(matches))
		for _, k := range matches {
			names = append(names, map[string]any{"id": k.ID, "name": k.Name})
		}
		return map[string]any{
			"ok":      false,
			"message": fmt.Sprintf("Multiple kids match %q. Please specify which one by id.", a.FromName),
			"matches": names,
		}, nil
	}

	before := *matches[0]
	updated := before
	updated.Name = a.ToName
	if err := e.store.UpdateKid(ctx, userID, &updated); err != nil {
		return nil, err
	}
	if _, err := e.store.LogAction(ctx, userID, store.ActionRecord{
		Actor:          actor,
		ActionType:     ActionUpdateKid,
		TargetTable:    store.TargetKids,
		TargetID:       updated.ID,
		Before:         &before,
		After:          &updated,
		Diff:           map[string]any{"name": map[string]string{"from": before.Name, "to": updated.Name}},
		ConversationID: conversationID,
	}); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "kid": &updated}, nil
}

func (e *Executor) updateKid(ctx context.Context, userID string, args json.RawMessage, actor, conversationID string) (any, error) {
	var a struct {
		ID       string         `json:"id"`
		Name     *string        `json:"name"`
		Birthday optionalString `json:"birthday"`
		Grade    optionalString `json:"grade"`
		Notes    optionalString `json:"notes"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, badArgs(ToolUpdateKid, err)
	}
	before, err := e.store.GetKidByID(ctx, userID, a.ID)
	if err != nil {
		return nil, err
	}
	if before == nil {
		return nil, fmt.Errorf("kid %s not found", a.ID)
	}

	updated := *before
	if a.Name != nil {
		updated.Name = *a.Name
	}
	if a.Birthday.set {
		updated.Birthday = a.Birthday.value
	}
	if a.Grade.set {
		updated.Grade = a.Grade.value
	}
	if a.Notes.set {
		updated.Notes = a.Notes.value
	}
	if err := e.store.UpdateKid(ctx, userID, &updated); err != nil {
		return nil, err
	}
	if _, err := e.store.LogAction(ctx, userID, store.ActionRecord{
		Actor:          actor,
		ActionType:     ActionUpdateKid,
		TargetTable:    store.TargetKids,
		TargetID:       updated.ID,
		Before:         before,
		After:          &updated,
		ConversationID: conversationID,
	}); err != nil {
		return nil, err
	}
	return map[string]any{"kid": &updated}, nil
}

func (e *Executor) deleteKid(ctx context.Context, userID string, args json.RawMessage, actor, conversationID string) (any, error) {
	var a struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, badArgs(ToolDeleteKid, err)
	}
	before, err := e.store.GetKidByID(ctx, userID, a.ID)
	if err != nil {
		return nil, err
	}
	if before == nil {
		return nil, fmt.Errorf("kid %s not found", a.ID)
	}
	if err := e.store.DeleteKid(ctx, userID, a.ID); err != nil {
		return nil, err
	}
	if _, err := e.store.LogAction(ctx, userID, store.ActionRecord{
		Actor:          actor,
		ActionType:     ActionDeleteKid,
		TargetTable:    store.TargetKids,
		TargetID:       a.ID,
		Before:         before,
		ConversationID: conversationID,
	}); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": true}, nil
}

func (e *Executor) getItemLinks(ctx context.Context, userID string, args json.RawMessage) (any, error) {
	var a struct {
		ItemID string `json:"itemId"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, badArgs(ToolGetItemLinks, err)
	}
	links, err := e.store.ListLinksForItem(ctx, userID, a.ItemID)
	if err != nil {
		return nil, err
	}
	var kidIDs, activityIDs []string
	seenKid, seenActivity := map[string]bool{}, map[string]bool{}
	for _, l := range links {
		if l.KidID != nil && !seenKid[*l.KidID] {
			seenKid[*l.KidID] = true
			kidIDs = append(kidIDs, *l.KidID)
		}
		if l.ActivityID != nil && !seenActivity[*l.ActivityID] {
			seenActivity[*l.ActivityID] = true
			activityIDs = append(activityIDs, *l.ActivityID)
		}
	}
	return map[string]any{
		"itemId": a.ItemID, "kidIds": kidIDs, "activityIds": activityIDs, "links": links,
	}, nil
}

func (e *Executor) linkItemToKids(ctx context.Context, userID string, args json.RawMessage, actor, conversationID string) (any, error) {
	var a struct {
		ItemID string   `json:"itemId"`
		KidIDs []string `json:"kidIds"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, badArgs(ToolLinkItemToKids, err)
	}
	created, err := e.store.LinkItemToKids(ctx, userID, a.ItemID, a.KidIDs)
	if err != nil {
		return nil, err
	}
	for _, link := range created {
		if _, err := e.store.LogAction(ctx, userID, store.ActionRecord{
			Actor:          actor,
			ActionType:     ActionLinkItemToKid,
			TargetTable:    store.TargetLinks,
			TargetID:       link.ID,
			After:          link,
			ConversationID: conversationID,
		}); err != nil {
			return nil, err
		}
	}
	return map[string]any{"createdCount": len(created), "created": created}, nil
}

func (e *Executor) unlinkItemFromKids(ctx context.Context, userID string, args json.RawMessage, actor, conversationID string) (any, error) {
	var a struct {
		ItemID string   `json:"itemId"`
		KidIDs []string `json:"kidIds"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, badArgs(ToolUnlinkItemFromKids, err)
	}
	deleted, err := e.store.UnlinkItemFromKids(ctx, userID, a.ItemID, a.KidIDs)
	if err != nil {
		return nil, err
	}
	for _, link := range deleted {
		if _, err := e.store.LogAction(ctx, userID, store.ActionRecord{
			Actor:          actor,
			ActionType:     ActionUnlinkItemFromKid,
			TargetTable:    store.TargetLinks,
			TargetID:       link.ID,
			Before:         link,
			ConversationID: conversationID,
		}); err != nil {
			return nil, err
		}
	}
	return map[string]any{"deletedCount": len(deleted), "deleted": deleted}, nil
}

func (e *Executor) setItemActivity(ctx context.Context, userID string, args json.RawMessage, actor, conversationID string) (any, error) {
	var a struct {
		ItemID       string  `json:"itemId"`
		ActivityID   *string `json:"activityId"`
		ActivityName *string `json:"activityName"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, badArgs(ToolSetItemActivity, err)
	}

	var activityID string
	switch {
	case a.ActivityID != nil && *a.ActivityID != "":
		activityID = *a.ActivityID
	case a.ActivityName != nil && strings.TrimSpace(*a.ActivityName) != "":
		activity, _, err := e.store.UpsertActivityByName(ctx, userID, *a.ActivityName)
		if err != nil {
			return nil, err
		}
		activityID = activity.ID
	default:
		return nil, &InvalidArgumentsError{Tool: ToolSetItemActivity,
			Fields: []string{"one of activityId or activityName is required"}}
	}

	replaced, created, err := e.store.SetItemActivity(ctx, userID, a.ItemID, activityID)
	if err != nil {
		return nil, err
	}
	for _, link := range replaced {
		if _, err := e.store.LogAction(ctx, userID, store.ActionRecord{
			Actor:          actor,
			ActionType:     ActionClearItemActivity,
			TargetTable:    store.TargetLinks,
			TargetID:       link.ID,
			Before:         link,
			ConversationID: conversationID,
		}); err != nil {
			return nil, err
		}
	}
	if _, err := e.store.LogAction(ctx, userID, store.ActionRecord{
		Actor:          actor,
		ActionType:     ActionSetItemActivity,
		TargetTable:    store.TargetLinks,
		TargetID:       created.ID,
		After:          created,
		ConversationID: conversationID,
	}); err != nil {
		return nil, err
	}
	return map[string]any{"replacedCount": len(replaced), "created": created}, nil
}

func (e *Executor) clearItemActivity(ctx context.Context, userID string, args json.RawMessage, actor, conversationID string) (any, error) {
	var a struct {
		ItemID string `json:"itemId"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, badArgs(ToolClearItemActivity, err)
	}
	deleted, err := e.store.ClearItemActivity(ctx, userID, a.ItemID)
	if err != nil {
		return nil, err
	}
	for _, link := range deleted {
		if _, err := e.store.LogAction(ctx, userID, store.ActionRecord{
			Actor:          actor,
			ActionType:     ActionClearItemActivity,
			TargetTable:    store.TargetLinks,
			TargetID:       link.ID,
			Before:         link,
			ConversationID: conversationID,
		}); err != nil {
			return nil, err
		}
	}
	return map[string]any{"deletedCount": len(deleted), "deleted": deleted}, nil
}

func (e *Executor) listActivities(ctx context.Context, userID string, args json.RawMessage) (any, error) {
	var a struct {
		Limit int `json:"limit"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, badArgs(ToolListActivities, err)
	}
	activities, err := e.store.ListActivities(ctx, userID)
	if err != nil {
		return nil, err
	}
	if a.Limit > 0 && len(activities) > a.Limit {
		activities = activities[:a.Limit]
	}
	summaries := make([]map[string]any, 0, len(activities))
	for _, act := range activities {
		summaries = append(summaries, map[string]any{
			"id": act.ID, "name": act.Name, "notes": act.Notes,
		})
	}
	return map[string]any{"activities": summaries}, nil
}

func (e *Executor) createActivity(ctx context.Context, userID string, args json.RawMessage, actor, conversationID string) (any, error) {
	var a struct {
		Name  string  `json:"name"`
		Notes *string `json:"notes"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, badArgs(ToolCreateActivity, err)
	}
	activity, err := e.store.CreateActivity(ctx, userID, a.Name, a.Notes)
	if err != nil {
		return nil, err
	}
	if _, err := e.store.LogAction(ctx, userID, store.ActionRecord{
		Actor:          actor,
		ActionType:     ActionCreateActivity,
		TargetTable:    store.TargetActivities,
		TargetID:       activity.ID,
		After:          activity,
		ConversationID: conversationID,
	}); err != nil {
		return nil, err
	}
	return map[string]any{"activity": activity}, nil
}

func (e *Executor) updateActivity(ctx context.Context, userID string, args json.RawMessage, actor, conversationID string) (any, error) {
	var a struct {
		ID    string         `json:"id"`
		Name  *string        `json:"name"`
		Notes optionalString `json:"notes"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, badArgs(ToolUpdateActivity, err)
	}
	before, err := e.store.GetActivityByID(ctx, userID, a.ID)
	if err != nil {
		return nil, err
	}
	if before == nil {
		return nil, fmt.Errorf("activity %s not found", a.ID)
	}

	updated := *before
	if a.Name != nil {
		updated.Name = *a.Name
	}
	if a.Notes.set {
		updated.Notes = a.Notes.value
	}
	if err := e.store.UpdateActivity(ctx, userID, &updated); err != nil {
		return nil, err
	}
	if _, err := e.store.LogAction(ctx, userID, store.ActionRecord{
		Actor:          actor,
		ActionType:     ActionUpdateActivity,
		TargetTable:    store.TargetActivities,
		TargetID:       updated.ID,
		Before:         before,
		After:          &updated,
		ConversationID: conversationID,
	}); err != nil {
		return nil, err
	}
	return map[string]any{"activity": &updated}, nil
}

func (e *Executor) deleteActivity(ctx context.Context, userID string, args json.RawMessage, actor, conversationID string) (any, error) {
	var a struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, badArgs(ToolDeleteActivity, err)
	}
	before, err := e.store.GetActivityByID(ctx, userID, a.ID)
	if err != nil {
		return nil, err
	}
	if before == nil {
		return nil, fmt.Errorf("activity %s not found", a.ID)
	}
	if err := e.store.DeleteActivity(ctx, userID, a.ID); err != nil {
		return nil, err
	}
	if _, err := e.store.LogAction(ctx, userID, store.ActionRecord{
		Actor:          actor,
		ActionType:     ActionDeleteActivity,
		TargetTable:    store.TargetActivities,
		TargetID:       a.ID,
		Before:         before,
		ConversationID: conversationID,
	}); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": true}, nil
}

func (e *Executor) listSuggestions(ctx context.Context, userID string, args json.RawMessage) (any, error) {
	var a struct {
		State string `json:"state"`
		Limit int    `json:"limit"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, badArgs(ToolListSuggestions, err)
	}
	state := a.State
	if state == "" {
		state = store.SuggestionStateNew
	}
	sugs, err := e.store.ListSuggestions(ctx, userID, state, a.Limit)
	if err != nil {
		return nil, err
	}
	return map[string]any{"suggestions": sugs}, nil
}

func (e *Executor) approveSuggestions(ctx context.Context, userID string, args json.RawMessage, actor, conversationID string) (any, error) {
	var a struct {
		SuggestionIDs []string `json:"suggestionIds"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, badArgs(ToolApproveSuggestions, err)
	}
	results, err := e.store.ApproveSuggestions(ctx, userID, a.SuggestionIDs)
	if err != nil {
		return nil, err
	}
	items := make([]*store.FamilyItem, 0, len(results))
	for _, res := range results {
		items = append(items, res.Item)
		if _, err := e.store.LogAction(ctx, userID, store.ActionRecord{
			Actor:          actor,
			ActionType:     ActionCreateFamilyItem,
			TargetTable:    store.TargetFamilyItems,
			TargetID:       res.Item.ID,
			After:          res.Item,
			ConversationID: conversationID,
		}); err != nil {
			return nil, err
		}
		for _, link := range res.Links {
			actionType := ActionLinkItemToSource
			if link.KidID != nil {
				actionType = ActionLinkItemToKid
			} else if link.ActivityID != nil {
				actionType = ActionSetItemActivity
			}
			if _, err := e.store.LogAction(ctx, userID, store.ActionRecord{
				Actor:          actor,
				ActionType:     actionType,
				TargetTable:    store.TargetLinks,
				TargetID:       link.ID,
				After:          link,
				ConversationID: conversationID,
			}); err != nil {
				return nil, err
			}
		}
	}
	return map[string]any{"familyItems": items}, nil
}

func (e *Executor) runExtraction(ctx context.Context, userID string, args json.RawMessage) (any, error) {
	if e.extractor == nil {
		return nil, fmt.Errorf("extraction is not configured")
	}
	var a struct {
		SourceMessageID string `json:"sourceMessageId"`
	}
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, badArgs(ToolRunExtraction, err)
	}
	extraction, sugs, err := e.extractor.Run(ctx, userID, a.SourceMessageID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"extractionId": extraction.ID, "suggestions": sugs}, nil
}
