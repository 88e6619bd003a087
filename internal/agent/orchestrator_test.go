package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andyfreed/kiddos/internal/llm"
	"github.com/andyfreed/kiddos/internal/store"
	"github.com/andyfreed/kiddos/internal/testutil"
)

func newTestOrchestrator(t *testing.T, provider llm.Provider) (*Orchestrator, *store.Store, *TokenCodec) {
	t.Helper()
	st := testutil.NewTestStore(t)
	registry := newTestRegistry(t)
	executor := NewExecutor(st, registry, nil)
	codec := NewTokenCodec([]byte(testSigningKey))
	return NewOrchestrator(st, provider, registry, executor, codec, "gpt-4o-mini"), st, codec
}

func TestHandleTurnEmptyRequest(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, &testutil.MockProvider{})

	_, err := o.HandleTurn(context.Background(), testutil.TestUserID, TurnRequest{})
	assert.ErrorIs(t, err, ErrEmptyTurn)
}

func TestHandleTurnPlainAnswer(t *testing.T) {
	provider := &testutil.ScriptedProvider{Responses: []*llm.Response{
		{Content: "You have nothing due this week.", FinishReason: "stop"},
	}}
	o, _, _ := newTestOrchestrator(t, provider)

	resp, err := o.HandleTurn(context.Background(), testutil.TestUserID, TurnRequest{Message: "anything due?"})
	require.NoError(t, err)
	assert.Equal(t, "You have nothing due this week.", resp.Response)
	assert.False(t, resp.RequiresConfirm)
	assert.Empty(t, resp.ToolCalls)

	// One model call, no summarization round for a plain answer.
	assert.Equal(t, 1, provider.CallCount)
}

func TestHandleTurnContextSnapshotInSystemMessages(t *testing.T) {
	provider := &testutil.ScriptedProvider{Responses: []*llm.Response{
		{Content: "ok", FinishReason: "stop"},
	}}
	o, st, _ := newTestOrchestrator(t, provider)
	ctx := context.Background()

	_, err := st.CreateKid(ctx, testutil.TestUserID, store.KidCreate{Name: "Maya"})
	require.NoError(t, err)

	_, err = o.HandleTurn(ctx, testutil.TestUserID, TurnRequest{Message: "hi"})
	require.NoError(t, err)

	require.Len(t, provider.ReceivedMessages, 1)
	msgs := provider.ReceivedMessages[0]
	require.Len(t, msgs, 3)
	assert.Equal(t, llm.RoleSystem, msgs[1].Role)
	assert.Contains(t, msgs[1].Content, "Maya")
}

func TestHandleTurnExecutesLowRiskToolsAndSummarizes(t *testing.T) {
	provider := &testutil.ScriptedProvider{Responses: []*llm.Response{
		{
			ToolCalls: []llm.ToolCall{{
				ID:        "call_1",
				Name:      ToolCreateItem,
				Arguments: json.RawMessage(`{"type":"task","title":"Pack swim bag"}`),
			}},
			FinishReason: "tool_calls",
		},
		{Content: "I added the swim bag task.", FinishReason: "stop"},
	}}
	o, st, _ := newTestOrchestrator(t, provider)
	ctx := context.Background()

	resp, err := o.HandleTurn(ctx, testutil.TestUserID, TurnRequest{Message: "add swim bag task"})
	require.NoError(t, err)
	assert.Equal(t, "I added the swim bag task.", resp.Response)
	assert.False(t, resp.RequiresConfirm)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, ToolCreateItem, resp.ToolCalls[0].Tool)

	items, total, err := st.ListItems(ctx, testutil.TestUserID, store.ItemFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	assert.Equal(t, "Pack swim bag", items[0].Title)

	actions, err := st.ListActions(ctx, testutil.TestUserID, 10)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, store.ActorAI, actions[0].Actor)

	// Summarization round echoes the assistant tool calls and a tool message.
	require.Equal(t, 2, provider.CallCount)
	second := provider.ReceivedMessages[1]
	var sawToolMsg bool
	for _, m := range second {
		if m.Role == llm.RoleTool {
			sawToolMsg = true
			assert.Equal(t, "call_1", m.ToolCallID)
		}
	}
	assert.True(t, sawToolMsg)
}

func TestHandleTurnSummarizationFailureFallsBack(t *testing.T) {
	provider := &testutil.ScriptedProvider{
		Responses: []*llm.Response{
			{
				ToolCalls: []llm.ToolCall{{
					ID:        "call_1",
					Name:      ToolCreateItem,
					Arguments: json.RawMessage(`{"type":"task","title":"x"}`),
				}},
				FinishReason: "tool_calls",
			},
		},
		ErrOnCall: 2,
		Err:       errors.New("model unavailable"),
	}
	o, st, _ := newTestOrchestrator(t, provider)
	ctx := context.Background()

	resp, err := o.HandleTurn(ctx, testutil.TestUserID, TurnRequest{Message: "add task"})
	require.NoError(t, err)
	assert.Equal(t, "Done.", resp.Response)

	// The executed mutation is never rolled back.
	_, total, err := st.ListItems(ctx, testutil.TestUserID, store.ItemFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestHandleTurnPausesOnRiskyCall(t *testing.T) {
	provider := &testutil.ScriptedProvider{Responses: []*llm.Response{
		{
			ToolCalls: []llm.ToolCall{
				{ID: "c1", Name: ToolCreateItem, Arguments: json.RawMessage(`{"type":"task","title":"First"}`)},
				{ID: "c2", Name: ToolDeleteItem, Arguments: json.RawMessage(`{"id":"victim"}`)},
				{ID: "c3", Name: ToolCreateItem, Arguments: json.RawMessage(`{"type":"task","title":"After"}`)},
			},
			FinishReason: "tool_calls",
		},
	}}
	o, st, codec := newTestOrchestrator(t, provider)
	ctx := context.Background()

	resp, err := o.HandleTurn(ctx, testutil.TestUserID, TurnRequest{Message: "clean up"})
	require.NoError(t, err)
	assert.True(t, resp.RequiresConfirm)
	assert.NotEmpty(t, resp.ConfirmToken)
	require.NotNil(t, resp.PendingAction)
	assert.Equal(t, ToolDeleteItem, resp.PendingAction.Type)
	assert.Equal(t, RiskHigh, resp.PendingAction.RiskLevel)
	assert.Contains(t, resp.Response, "needs confirmation")

	// The pre-pause call already ran.
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, ToolCreateItem, resp.ToolCalls[0].Tool)
	_, total, err := st.ListItems(ctx, testutil.TestUserID, store.ItemFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)

	// The token carries the queued follow-up, not the executed call.
	payload, err := codec.Verify(resp.ConfirmToken)
	require.NoError(t, err)
	assert.Equal(t, testutil.TestUserID, payload.UserID)
	assert.Equal(t, ToolDeleteItem, payload.Action)
	require.Len(t, payload.Remaining, 1)
	assert.Equal(t, ToolCreateItem, payload.Remaining[0].Name)

	// No summarization round when paused.
	assert.Equal(t, 1, provider.CallCount)
}

func TestResumeConfirmedExecutesAsUser(t *testing.T) {
	o, st, codec := newTestOrchestrator(t, &testutil.ScriptedProvider{})
	ctx := context.Background()

	item, err := st.CreateItem(ctx, testutil.TestUserID,
		store.ItemCreate{Type: store.ItemTypeTask, Title: "Doomed"}, store.CreatedFromManual)
	require.NoError(t, err)

	token, err := codec.Mint(ConfirmPayload{
		UserID: testutil.TestUserID,
		Action: ToolDeleteItem,
		Args:   json.RawMessage(fmt.Sprintf(`{"id":%q}`, item.ID)),
		Remaining: []QueuedCall{
			{Name: ToolCreateItem, Args: json.RawMessage(`{"type":"task","title":"Replacement"}`)},
		},
	})
	require.NoError(t, err)

	resp, err := o.HandleTurn(ctx, testutil.TestUserID, TurnRequest{ConfirmToken: token})
	require.NoError(t, err)
	assert.False(t, resp.RequiresConfirm)
	assert.Equal(t, "Done. I applied the confirmed change.", resp.Response)
	require.Len(t, resp.ToolCalls, 2)

	got, err := st.GetItemByID(ctx, testutil.TestUserID, item.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	// Both the confirmed call and the resumed queue run as actor "user".
	actions, err := st.ListActions(ctx, testutil.TestUserID, 10)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	for _, a := range actions {
		assert.Equal(t, store.ActorUser, a.Actor)
	}
}

func TestResumeConfirmedRejectsWrongUser(t *testing.T) {
	o, _, codec := newTestOrchestrator(t, &testutil.ScriptedProvider{})

	token, err := codec.Mint(ConfirmPayload{
		UserID: "someone-else",
		Action: ToolDeleteItem,
		Args:   json.RawMessage(`{"id":"i1"}`),
	})
	require.NoError(t, err)

	_, err = o.HandleTurn(context.Background(), testutil.TestUserID, TurnRequest{ConfirmToken: token})
	assert.ErrorIs(t, err, ErrTokenWrongUser)
}

func TestResumeConfirmedRejectsBadToken(t *testing.T) {
	o, _, _ := newTestOrchestrator(t, &testutil.ScriptedProvider{})

	_, err := o.HandleTurn(context.Background(), testutil.TestUserID, TurnRequest{ConfirmToken: "junk"})
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestResumeConfirmedPausesAgainOnNextRiskyCall(t *testing.T) {
	o, st, codec := newTestOrchestrator(t, &testutil.ScriptedProvider{})
	ctx := context.Background()

	first, err := st.CreateItem(ctx, testutil.TestUserID,
		store.ItemCreate{Type: store.ItemTypeTask, Title: "First"}, store.CreatedFromManual)
	require.NoError(t, err)
	second, err := st.CreateItem(ctx, testutil.TestUserID,
		store.ItemCreate{Type: store.ItemTypeTask, Title: "Second"}, store.CreatedFromManual)
	require.NoError(t, err)

	token, err := codec.Mint(ConfirmPayload{
		UserID: testutil.TestUserID,
		Action: ToolDeleteItem,
		Args:   json.RawMessage(fmt.Sprintf(`{"id":%q}`, first.ID)),
		Remaining: []QueuedCall{
			{Name: ToolDeleteItem, Args: json.RawMessage(fmt.Sprintf(`{"id":%q}`, second.ID))},
		},
	})
	require.NoError(t, err)

	resp, err := o.HandleTurn(ctx, testutil.TestUserID, TurnRequest{ConfirmToken: token})
	require.NoError(t, err)
	assert.True(t, resp.RequiresConfirm)
	require.NotNil(t, resp.PendingAction)
	assert.Equal(t, ToolDeleteItem, resp.PendingAction.Type)

	// First delete applied, second deferred behind the new token.
	got, err := st.GetItemByID(ctx, testutil.TestUserID, first.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
	still, err := st.GetItemByID(ctx, testutil.TestUserID, second.ID)
	require.NoError(t, err)
	assert.NotNil(t, still)

	payload, err := codec.Verify(resp.ConfirmToken)
	require.NoError(t, err)
	assert.Equal(t, ToolDeleteItem, payload.Action)
	assert.Empty(t, payload.Remaining)
}

func TestResumeConfirmedSkipsInvalidQueuedCall(t *testing.T) {
	o, st, codec := newTestOrchestrator(t, &testutil.ScriptedProvider{})
	ctx := context.Background()

	item, err := st.CreateItem(ctx, testutil.TestUserID,
		store.ItemCreate{Type: store.ItemTypeTask, Title: "Doomed"}, store.CreatedFromManual)
	require.NoError(t, err)

	token, err := codec.Mint(ConfirmPayload{
		UserID: testutil.TestUserID,
		Action: ToolDeleteItem,
		Args:   json.RawMessage(fmt.Sprintf(`{"id":%q}`, item.ID)),
		Remaining: []QueuedCall{
			{Name: ToolCreateItem, Args: json.RawMessage(`{"type":"task"}`)},
			{Name: ToolCreateItem, Args: json.RawMessage(`{"type":"task","title":"Valid"}`)},
		},
	})
	require.NoError(t, err)

	resp, err := o.HandleTurn(ctx, testutil.TestUserID, TurnRequest{ConfirmToken: token})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 3)

	// Invalid queued call surfaces as an error result; later calls still run.
	errResult, ok := resp.ToolCalls[1].Result.(map[string]any)
	require.True(t, ok)
	assert.Contains(t, errResult["error"], "invalid arguments")

	items, _, err := st.ListItems(ctx, testutil.TestUserID, store.ItemFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "Valid", items[0].Title)
}

func TestFreshTurnSkipsInvalidModelCall(t *testing.T) {
	provider := &testutil.ScriptedProvider{Responses: []*llm.Response{
		{
			ToolCalls: []llm.ToolCall{
				{ID: "c1", Name: ToolCreateItem, Arguments: json.RawMessage(`{"title":""}`)},
				{ID: "c2", Name: ToolCreateItem, Arguments: json.RawMessage(`{"type":"task","title":"Good"}`)},
			},
			FinishReason: "tool_calls",
		},
		{Content: "Added the valid one.", FinishReason: "stop"},
	}}
	o, st, _ := newTestOrchestrator(t, provider)
	ctx := context.Background()

	resp, err := o.HandleTurn(ctx, testutil.TestUserID, TurnRequest{Message: "add items"})
	require.NoError(t, err)
	require.Len(t, resp.ToolCalls, 2)

	_, total, err := st.ListItems(ctx, testutil.TestUserID, store.ItemFilter{})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestFreshTurnModelFailure(t *testing.T) {
	provider := &testutil.MockProvider{Err: errors.New("upstream timeout")}
	o, _, _ := newTestOrchestrator(t, provider)

	_, err := o.HandleTurn(context.Background(), testutil.TestUserID, TurnRequest{Message: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "language model call failed")
}
