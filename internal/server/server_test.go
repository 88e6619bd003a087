package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andyfreed/kiddos/internal/agent"
	"github.com/andyfreed/kiddos/internal/extract"
	"github.com/andyfreed/kiddos/internal/llm"
	"github.com/andyfreed/kiddos/internal/store"
	"github.com/andyfreed/kiddos/internal/testutil"
)

const testAPIKey = "test-api-key"

func newTestServer(t *testing.T, provider llm.Provider, opts ...Option) (http.Handler, *store.Store) {
	t.Helper()
	st := testutil.NewTestStore(t)
	vault := testutil.NewTestVault(t)
	registry, err := agent.NewRegistry()
	require.NoError(t, err)
	extractor, err := extract.NewExtractor(st, provider, "gpt-4o-mini")
	require.NoError(t, err)
	executor := agent.NewExecutor(st, registry, extractor)
	codec := agent.NewTokenCodec([]byte(testutil.TestSigningKey))
	orchestrator := agent.NewOrchestrator(st, provider, registry, executor, codec, "gpt-4o-mini")
	undo := agent.NewUndoService(st)

	apiKeys := map[string]string{testAPIKey: testutil.TestUserID}
	srv := NewServer(st, orchestrator, executor, undo, extractor, vault, apiKeys, opts...)
	return srv.Routes(), st
}

func doJSON(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Kiddos-Key", testAPIKey)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeMap(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&out))
	return out
}

func TestHealthUnauthenticated(t *testing.T) {
	h, _ := newTestServer(t, &testutil.MockProvider{}, WithVersion("1.2.3"))

	for _, path := range []string{"/health", "/v1/health"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		out := decodeMap(t, rec)
		assert.Equal(t, "ok", out["status"])
		assert.Equal(t, "1.2.3", out["version"])
	}
}

func TestAuthRejectsMissingKey(t *testing.T) {
	h, _ := newTestServer(t, &testutil.MockProvider{})

	req := httptest.NewRequest(http.MethodGet, "/v1/items", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	out := decodeMap(t, rec)
	assert.Equal(t, "unauthorized", out["error"])
}

func TestAuthRejectsWrongKey(t *testing.T) {
	h, _ := newTestServer(t, &testutil.MockProvider{})

	req := httptest.NewRequest(http.MethodGet, "/v1/items", nil)
	req.Header.Set("X-Kiddos-Key", "not-the-key")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthAcceptsHeaderAndBearer(t *testing.T) {
	h, _ := newTestServer(t, &testutil.MockProvider{})

	req := httptest.NewRequest(http.MethodGet, "/v1/items", nil)
	req.Header.Set("X-Kiddos-Key", testAPIKey)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/v1/items", nil)
	req.Header.Set("Authorization", "Bearer "+testAPIKey)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitReturns429(t *testing.T) {
	h, _ := newTestServer(t, &testutil.MockProvider{}, WithRateLimit(1, 1))

	rec := doJSON(t, h, http.MethodGet, "/v1/items", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/items", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	out := decodeMap(t, rec)
	assert.Equal(t, "rate_limit_exceeded", out["error"])
}

func TestIngestManualValidation(t *testing.T) {
	h, _ := newTestServer(t, &testutil.MockProvider{})

	cases := []struct {
		name string
		body string
	}{
		{"missing subject", `{"senderEmail":"a@b.com","body":"hi"}`},
		{"missing sender", `{"subject":"Hi","body":"hi"}`},
		{"missing body", `{"subject":"Hi","senderEmail":"a@b.com"}`},
		{"bad receivedAt", `{"subject":"Hi","senderEmail":"a@b.com","body":"hi","receivedAt":"yesterday"}`},
		{"unknown field", `{"subject":"Hi","senderEmail":"a@b.com","body":"hi","bogus":true}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(t, h, http.MethodPost, "/v1/ingest/manual", tc.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestIngestManualSanitizesHTML(t *testing.T) {
	h, _ := newTestServer(t, &testutil.MockProvider{})

	body := `{"subject":"Practice moved","senderEmail":"coach@club.org","bodyHtml":"<p>New time 5pm</p><script>alert(1)</script>"}`
	rec := doJSON(t, h, http.MethodPost, "/v1/ingest/manual", body)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeMap(t, rec)
	assert.Equal(t, true, out["success"])
	msgID, _ := out["sourceMessageId"].(string)
	require.NotEmpty(t, msgID)

	rec = doJSON(t, h, http.MethodGet, "/v1/inbox/"+msgID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var msg struct {
		BodyText string  `json:"body_text"`
		BodyHTML *string `json:"body_html"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&msg))
	require.NotNil(t, msg.BodyHTML)
	assert.NotContains(t, *msg.BodyHTML, "script")
	assert.Contains(t, *msg.BodyHTML, "New time 5pm")
	assert.Contains(t, msg.BodyText, "New time 5pm")
	assert.NotContains(t, msg.BodyText, "<p>")
}

func TestChatPlainAnswer(t *testing.T) {
	provider := &testutil.ScriptedProvider{Responses: []*llm.Response{
		{Content: "You have nothing due this week.", FinishReason: "stop"},
	}}
	h, _ := newTestServer(t, provider)

	rec := doJSON(t, h, http.MethodPost, "/v1/agent/chat", `{"message":"anything due?"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp agent.TurnResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "You have nothing due this week.", resp.Response)
	assert.False(t, resp.RequiresConfirm)
	assert.Empty(t, resp.ConfirmToken)
	assert.Equal(t, 1, provider.CallCount)
}

func TestChatPausesForRiskyCall(t *testing.T) {
	provider := &testutil.ScriptedProvider{}
	h, st := newTestServer(t, provider)

	item, err := st.CreateItem(context.Background(), testutil.TestUserID,
		store.ItemCreate{Type: store.ItemTypeTask, Title: "Old task"}, store.CreatedFromManual)
	require.NoError(t, err)

	args, _ := json.Marshal(map[string]string{"id": item.ID})
	provider.Responses = []*llm.Response{{
		ToolCalls:    []llm.ToolCall{{ID: "call_1", Name: agent.ToolDeleteItem, Arguments: args}},
		FinishReason: "tool_calls",
	}}

	rec := doJSON(t, h, http.MethodPost, "/v1/agent/chat", `{"message":"delete the old task"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp agent.TurnResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.RequiresConfirm)
	assert.NotEmpty(t, resp.ConfirmToken)
	require.NotNil(t, resp.PendingAction)
	assert.Equal(t, agent.ToolDeleteItem, resp.PendingAction.Type)
	assert.Equal(t, agent.RiskHigh, resp.PendingAction.RiskLevel)

	// Nothing executed yet.
	got, err := st.GetItemByID(context.Background(), testutil.TestUserID, item.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

func TestChatResumeWithTokenDeletes(t *testing.T) {
	provider := &testutil.ScriptedProvider{}
	h, st := newTestServer(t, provider)

	item, err := st.CreateItem(context.Background(), testutil.TestUserID,
		store.ItemCreate{Type: store.ItemTypeTask, Title: "Old task"}, store.CreatedFromManual)
	require.NoError(t, err)

	args, _ := json.Marshal(map[string]string{"id": item.ID})
	provider.Responses = []*llm.Response{{
		ToolCalls:    []llm.ToolCall{{ID: "call_1", Name: agent.ToolDeleteItem, Arguments: args}},
		FinishReason: "tool_calls",
	}}

	rec := doJSON(t, h, http.MethodPost, "/v1/agent/chat", `{"message":"delete the old task"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	var paused agent.TurnResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&paused))
	require.NotEmpty(t, paused.ConfirmToken)

	body, _ := json.Marshal(map[string]string{"confirmToken": paused.ConfirmToken})
	rec = doJSON(t, h, http.MethodPost, "/v1/agent/chat", string(body))
	require.Equal(t, http.StatusOK, rec.Code)
	var resumed agent.TurnResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resumed))
	assert.False(t, resumed.RequiresConfirm)

	got, err := st.GetItemByID(context.Background(), testutil.TestUserID, item.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestChatRejectsBadConfirmToken(t *testing.T) {
	h, _ := newTestServer(t, &testutil.MockProvider{})

	rec := doJSON(t, h, http.MethodPost, "/v1/agent/chat", `{"confirmToken":"garbage"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	out := decodeMap(t, rec)
	assert.Equal(t, "invalid_confirm_token", out["error"])
	assert.Equal(t, "Confirm token rejected", out["message"])
}

func TestChatRejectsEmptyTurn(t *testing.T) {
	h, _ := newTestServer(t, &testutil.MockProvider{})

	rec := doJSON(t, h, http.MethodPost, "/v1/agent/chat", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUndoUnknownActionReturns404(t *testing.T) {
	h, _ := newTestServer(t, &testutil.MockProvider{})

	rec := doJSON(t, h, http.MethodPost, "/v1/actions/undo", `{"actionId":"act-missing"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	out := decodeMap(t, rec)
	assert.Equal(t, "not_found", out["error"])
}

func TestUndoRequiresActionID(t *testing.T) {
	h, _ := newTestServer(t, &testutil.MockProvider{})

	rec := doJSON(t, h, http.MethodPost, "/v1/actions/undo", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestItemLifecycleThroughAPI(t *testing.T) {
	h, _ := newTestServer(t, &testutil.MockProvider{})

	rec := doJSON(t, h, http.MethodPost, "/v1/items", `{"title":"Pack swim bag","type":"task"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Item struct {
			ID    string `json:"id"`
			Title string `json:"title"`
		} `json:"item"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))
	require.NotEmpty(t, created.Item.ID)

	rec = doJSON(t, h, http.MethodGet, "/v1/items/"+created.Item.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodPut, "/v1/items/"+created.Item.ID, `{"title":"Pack gym bag"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/v1/items/"+created.Item.ID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/items/"+created.Item.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Update and delete went through the executor, so both are audited.
	rec = doJSON(t, h, http.MethodGet, "/v1/actions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var actions struct {
		Actions []struct {
			ActionType string `json:"action_type"`
		} `json:"actions"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&actions))
	types := make([]string, 0, len(actions.Actions))
	for _, a := range actions.Actions {
		types = append(types, a.ActionType)
	}
	assert.Contains(t, types, agent.ToolUpdateItem)
	assert.Contains(t, types, agent.ToolDeleteItem)
}

func TestItemUpdateRejectsUnknownField(t *testing.T) {
	h, _ := newTestServer(t, &testutil.MockProvider{})

	rec := doJSON(t, h, http.MethodPost, "/v1/items", `{"title":"Field trip form"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created struct {
		Item struct {
			ID string `json:"id"`
		} `json:"item"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&created))

	rec = doJSON(t, h, http.MethodPut, "/v1/items/"+created.Item.ID, `{"color":"blue"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	out := decodeMap(t, rec)
	assert.Equal(t, "invalid_arguments", out["error"])
}

func TestItemCreateRequiresTitle(t *testing.T) {
	h, _ := newTestServer(t, &testutil.MockProvider{})

	rec := doJSON(t, h, http.MethodPost, "/v1/items", `{"type":"task"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestKidsAndActivitiesCRUD(t *testing.T) {
	h, _ := newTestServer(t, &testutil.MockProvider{})

	rec := doJSON(t, h, http.MethodPost, "/v1/kids", `{"name":"Maya","grade":"3rd"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	var kid struct {
		Kid struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"kid"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&kid))
	assert.Equal(t, "Maya", kid.Kid.Name)

	rec = doJSON(t, h, http.MethodGet, "/v1/kids", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeMap(t, rec)
	kids, _ := out["kids"].([]interface{})
	assert.Len(t, kids, 1)

	rec = doJSON(t, h, http.MethodPost, "/v1/activities", `{"name":"Swim Team"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodGet, "/v1/activities", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out = decodeMap(t, rec)
	activities, _ := out["activities"].([]interface{})
	assert.Len(t, activities, 1)
}

func TestSuggestionsApproveRequiresIDs(t *testing.T) {
	h, _ := newTestServer(t, &testutil.MockProvider{})

	rec := doJSON(t, h, http.MethodPost, "/v1/suggestions/approve", `{"suggestionIds":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSecretsEndpoints(t *testing.T) {
	h, _ := newTestServer(t, &testutil.MockProvider{})

	rec := doJSON(t, h, http.MethodPut, "/v1/secrets/openai-key", `{"value":"sk-test-123"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	out := decodeMap(t, rec)
	assert.Equal(t, true, out["success"])

	rec = doJSON(t, h, http.MethodGet, "/v1/secrets", "")
	require.Equal(t, http.StatusOK, rec.Code)
	out = decodeMap(t, rec)
	secrets, _ := out["secrets"].([]interface{})
	assert.Len(t, secrets, 1)

	rec = doJSON(t, h, http.MethodDelete, "/v1/secrets/openai-key", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, h, http.MethodDelete, "/v1/secrets/openai-key", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSecretsSetRequiresValue(t *testing.T) {
	h, _ := newTestServer(t, &testutil.MockProvider{})

	rec := doJSON(t, h, http.MethodPut, "/v1/secrets/openai-key", `{"value":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	h, _ := newTestServer(t, &testutil.MockProvider{})

	req := httptest.NewRequest(http.MethodOptions, "/v1/items", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
