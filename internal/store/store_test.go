package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUserID = "user-1"

func strPtr(s string) *string { return &s }
func iPtr(i int) *int         { return &i }

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	st, err := NewStore(filepath.Join(dir, "kiddos.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestCreateAndGetItem(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	due := time.Date(2026, 3, 12, 17, 0, 0, 0, time.UTC)
	item, err := st.CreateItem(ctx, testUserID, ItemCreate{
		Type:        ItemTypeDeadline,
		Title:       "Permission slip",
		Description: strPtr("Sign and return"),
		DeadlineAt:  &due,
		Checklist:   []ChecklistItem{{Text: "sign"}, {Text: "return"}},
		Tags:        []string{"school"},
		Priority:    iPtr(2),
	}, CreatedFromManual)
	require.NoError(t, err)
	assert.NotEmpty(t, item.ID)
	assert.Equal(t, ItemStatusOpen, item.Status)

	got, err := st.GetItemByID(ctx, testUserID, item.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Permission slip", got.Title)
	assert.Equal(t, "Sign and return", *got.Description)
	assert.True(t, got.DeadlineAt.Equal(due))
	assert.Len(t, got.Checklist, 2)
	assert.Equal(t, []string{"school"}, got.Tags)
	assert.Equal(t, 2, *got.Priority)
	assert.Equal(t, CreatedFromManual, got.CreatedFrom)
}

func TestGetItemMissingReturnsNil(t *testing.T) {
	st := newTestStore(t)

	got, err := st.GetItemByID(context.Background(), testUserID, "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestItemsAreUserScoped(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	item, err := st.CreateItem(ctx, "alice", ItemCreate{Type: ItemTypeTask, Title: "Buy cleats"}, CreatedFromManual)
	require.NoError(t, err)

	got, err := st.GetItemByID(ctx, "bob", item.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	items, total, err := st.ListItems(ctx, "bob", ItemFilter{})
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Zero(t, total)
}

func TestListItemsFilters(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	open, err := st.CreateItem(ctx, testUserID, ItemCreate{Type: ItemTypeTask, Title: "Open task"}, CreatedFromManual)
	require.NoError(t, err)
	done, err := st.CreateItem(ctx, testUserID, ItemCreate{Type: ItemTypeEvent, Title: "Done event", Status: ItemStatusDone}, CreatedFromManual)
	require.NoError(t, err)

	byStatus, total, err := st.ListItems(ctx, testUserID, ItemFilter{Status: ItemStatusDone})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, byStatus, 1)
	assert.Equal(t, done.ID, byStatus[0].ID)

	byType, _, err := st.ListItems(ctx, testUserID, ItemFilter{Type: ItemTypeTask})
	require.NoError(t, err)
	require.Len(t, byType, 1)
	assert.Equal(t, open.ID, byType[0].ID)
}

func TestListItemsByKid(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	kid, err := st.CreateKid(ctx, testUserID, KidCreate{Name: "Maya"})
	require.NoError(t, err)

	linked, err := st.CreateItem(ctx, testUserID, ItemCreate{Type: ItemTypeTask, Title: "Linked"}, CreatedFromManual)
	require.NoError(t, err)
	_, err = st.CreateItem(ctx, testUserID, ItemCreate{Type: ItemTypeTask, Title: "Unlinked"}, CreatedFromManual)
	require.NoError(t, err)

	_, err = st.LinkItemToKids(ctx, testUserID, linked.ID, []string{kid.ID})
	require.NoError(t, err)

	items, total, err := st.ListItems(ctx, testUserID, ItemFilter{KidID: kid.ID})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, items, 1)
	assert.Equal(t, linked.ID, items[0].ID)
}

func TestUpdateItem(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	item, err := st.CreateItem(ctx, testUserID, ItemCreate{Type: ItemTypeTask, Title: "Before"}, CreatedFromManual)
	require.NoError(t, err)

	item.Title = "After"
	item.Status = ItemStatusDone
	item.Tags = []string{"updated"}
	require.NoError(t, st.UpdateItem(ctx, testUserID, item))

	got, err := st.GetItemByID(ctx, testUserID, item.ID)
	require.NoError(t, err)
	assert.Equal(t, "After", got.Title)
	assert.Equal(t, ItemStatusDone, got.Status)
	assert.Equal(t, []string{"updated"}, got.Tags)
}

func TestDeleteItemRemovesLinks(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	kid, err := st.CreateKid(ctx, testUserID, KidCreate{Name: "Maya"})
	require.NoError(t, err)
	item, err := st.CreateItem(ctx, testUserID, ItemCreate{Type: ItemTypeTask, Title: "Doomed"}, CreatedFromManual)
	require.NoError(t, err)
	_, err = st.LinkItemToKids(ctx, testUserID, item.ID, []string{kid.ID})
	require.NoError(t, err)

	require.NoError(t, st.DeleteItem(ctx, testUserID, item.ID))

	got, err := st.GetItemByID(ctx, testUserID, item.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	links, err := st.ListLinksForItem(ctx, testUserID, item.ID)
	require.NoError(t, err)
	assert.Empty(t, links)
}

func TestLinkItemToKidsDeduplicates(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	kid, err := st.CreateKid(ctx, testUserID, KidCreate{Name: "Maya"})
	require.NoError(t, err)
	item, err := st.CreateItem(ctx, testUserID, ItemCreate{Type: ItemTypeTask, Title: "Practice"}, CreatedFromManual)
	require.NoError(t, err)

	first, err := st.LinkItemToKids(ctx, testUserID, item.ID, []string{kid.ID})
	require.NoError(t, err)
	assert.Len(t, first, 1)

	second, err := st.LinkItemToKids(ctx, testUserID, item.ID, []string{kid.ID})
	require.NoError(t, err)
	assert.Empty(t, second)

	links, err := st.ListLinksForItem(ctx, testUserID, item.ID)
	require.NoError(t, err)
	assert.Len(t, links, 1)
}

func TestSetItemActivityReplacesExisting(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	soccer, err := st.CreateActivity(ctx, testUserID, "Soccer", nil)
	require.NoError(t, err)
	piano, err := st.CreateActivity(ctx, testUserID, "Piano", nil)
	require.NoError(t, err)
	item, err := st.CreateItem(ctx, testUserID, ItemCreate{Type: ItemTypeEvent, Title: "Practice"}, CreatedFromManual)
	require.NoError(t, err)

	removed, created, err := st.SetItemActivity(ctx, testUserID, item.ID, soccer.ID)
	require.NoError(t, err)
	assert.Empty(t, removed)
	require.NotNil(t, created)
	assert.Equal(t, soccer.ID, *created.ActivityID)

	removed, created, err = st.SetItemActivity(ctx, testUserID, item.ID, piano.ID)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, soccer.ID, *removed[0].ActivityID)
	assert.Equal(t, piano.ID, *created.ActivityID)
}

func TestUpsertActivityByName(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	first, created, err := st.UpsertActivityByName(ctx, testUserID, "Soccer")
	require.NoError(t, err)
	assert.True(t, created)

	// Case and whitespace insensitive match.
	second, created, err := st.UpsertActivityByName(ctx, testUserID, "  soccer ")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
}

func TestSourceMessageDedupeByExternalID(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	c := SourceMessageCreate{
		Provider:    ProviderOutlook,
		ExternalID:  strPtr("msg-1"),
		Subject:     "Field trip",
		SenderEmail: "school@example.com",
		BodyText:    "Details inside",
	}
	_, err := st.CreateSourceMessage(ctx, testUserID, c)
	require.NoError(t, err)

	_, err = st.CreateSourceMessage(ctx, testUserID, c)
	assert.Error(t, err)
}

func TestListUnextractedMessages(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	msg, err := st.CreateSourceMessage(ctx, testUserID, SourceMessageCreate{
		Provider:    ProviderManual,
		Subject:     "One",
		SenderEmail: "a@example.com",
		BodyText:    "body",
	})
	require.NoError(t, err)

	pending, err := st.ListUnextractedMessages(ctx, testUserID, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, msg.ID, pending[0].ID)

	_, _, err = st.CreateExtraction(ctx, testUserID, msg.ID, "v1", "{}", "{}", nil)
	require.NoError(t, err)

	pending, err = st.ListUnextractedMessages(ctx, testUserID, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCreateExtractionSkipsDuplicateSuggestions(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	msg, err := st.CreateSourceMessage(ctx, testUserID, SourceMessageCreate{
		Provider:    ProviderManual,
		Subject:     "Fair",
		SenderEmail: "a@example.com",
		BodyText:    "body",
	})
	require.NoError(t, err)

	sug := SuggestionCreate{Type: ItemTypeEvent, Title: "Science fair", Confidence: 0.9, DedupeKey: "dk-1"}
	_, first, err := st.CreateExtraction(ctx, testUserID, msg.ID, "v1", "{}", "{}", []SuggestionCreate{sug})
	require.NoError(t, err)
	assert.Len(t, first, 1)

	_, second, err := st.CreateExtraction(ctx, testUserID, msg.ID, "v1", "{}", "{}", []SuggestionCreate{sug})
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestApproveSuggestions(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	kid, err := st.CreateKid(ctx, testUserID, KidCreate{Name: "Maya"})
	require.NoError(t, err)

	msg, err := st.CreateSourceMessage(ctx, testUserID, SourceMessageCreate{
		Provider:    ProviderManual,
		Subject:     "Picture day",
		SenderEmail: "school@example.com",
		BodyText:    "body",
	})
	require.NoError(t, err)

	start := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)
	_, sugs, err := st.CreateExtraction(ctx, testUserID, msg.ID, "v1", "{}", "{}", []SuggestionCreate{{
		Type:                  ItemTypeEvent,
		Title:                 "Picture day",
		StartAt:               &start,
		Confidence:            0.95,
		SuggestedKidIDs:       []string{kid.ID},
		SuggestedActivityName: strPtr("School"),
		DedupeKey:             "dk-pic",
	}})
	require.NoError(t, err)
	require.Len(t, sugs, 1)

	results, err := st.ApproveSuggestions(ctx, testUserID, []string{sugs[0].ID})
	require.NoError(t, err)
	require.Len(t, results, 1)

	item := results[0].Item
	assert.Equal(t, "Picture day", item.Title)
	assert.Equal(t, CreatedFromApproved, item.CreatedFrom)
	assert.True(t, item.StartAt.Equal(start))

	// Source message, kid, and activity links all created.
	links, err := st.ListLinksForItem(ctx, testUserID, item.ID)
	require.NoError(t, err)
	var kidLinks, msgLinks, actLinks int
	for _, l := range links {
		switch {
		case l.KidID != nil:
			kidLinks++
		case l.SourceMessageID != nil:
			msgLinks++
		case l.ActivityID != nil:
			actLinks++
		}
	}
	assert.Equal(t, 1, kidLinks)
	assert.Equal(t, 1, msgLinks)
	assert.Equal(t, 1, actLinks)

	got, err := st.GetSuggestionByID(ctx, testUserID, sugs[0].ID)
	require.NoError(t, err)
	assert.Equal(t, SuggestionStateApproved, got.State)

	// Approving again is a no-op for already-approved suggestions.
	again, err := st.ApproveSuggestions(ctx, testUserID, []string{sugs[0].ID})
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestLogAndListActions(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rec, err := st.LogAction(ctx, testUserID, ActionRecord{
		Actor:       ActorAI,
		ActionType:  "create_family_item",
		TargetTable: TargetFamilyItems,
		TargetID:    "item-1",
		After:       map[string]string{"title": "New"},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, rec.ID)

	got, err := st.GetActionByID(ctx, testUserID, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, ActorAI, got.Actor)
	assert.Equal(t, "create_family_item", got.ActionType)
	assert.JSONEq(t, `{"title":"New"}`, string(got.After))

	list, err := st.ListActions(ctx, testUserID, 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, rec.ID, list[0].ID)

	missing, err := st.GetActionByID(ctx, testUserID, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
