package server

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rs/zerolog/log"

	"github.com/andyfreed/kiddos/internal/agent"
	"github.com/andyfreed/kiddos/internal/requestctx"
	"github.com/andyfreed/kiddos/internal/secrets"
	"github.com/andyfreed/kiddos/internal/store"
)

var (
	htmlPolicy = bluemonday.UGCPolicy()
	textPolicy = bluemonday.StrictPolicy()
)

func userID(r *http.Request) string {
	return requestctx.UserID(r.Context())
}

// writeDomainError maps the error taxonomy to HTTP statuses. All token
// verification failures collapse into one response so the failing check
// is not leaked; only the wrong-user case is distinguishable (403).
func writeDomainError(w http.ResponseWriter, err error) {
	var invalid *agent.InvalidArgumentsError
	switch {
	case errors.As(err, &invalid):
		writeError(w, http.StatusBadRequest, "invalid_arguments", invalid.Error())
	case errors.Is(err, agent.ErrUnsupportedAction):
		writeError(w, http.StatusBadRequest, "unsupported_tool", err.Error())
	case errors.Is(err, agent.ErrTokenWrongUser):
		writeError(w, http.StatusForbidden, "forbidden", "Invalid confirm token user")
	case errors.Is(err, agent.ErrInvalidToken),
		errors.Is(err, agent.ErrInvalidTokenSignature),
		errors.Is(err, agent.ErrTokenExpired):
		writeError(w, http.StatusBadRequest, "invalid_confirm_token", "Confirm token rejected")
	case errors.Is(err, agent.ErrEmptyTurn):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, agent.ErrActionNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, agent.ErrUndoNotSupported):
		writeError(w, http.StatusBadRequest, "undo_not_supported", err.Error())
	case errors.Is(err, agent.ErrMissingBeforeState):
		writeError(w, http.StatusBadRequest, "missing_before_state", err.Error())
	case errors.Is(err, sql.ErrNoRows):
		writeError(w, http.StatusNotFound, "not_found", "not found")
	default:
		log.Error().Err(err).Msg("request_failed")
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid JSON: "+err.Error())
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"version":        s.version,
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
	})
}

// --- chat + undo + actions ---

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req agent.TurnRequest
	if !decodeBody(w, r, &req) {
		return
	}
	resp, err := s.orchestrator.HandleTurn(r.Context(), userID(r), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ActionID string `json:"actionId"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ActionID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "actionId is required")
		return
	}
	result, err := s.undo.Undo(r.Context(), userID(r), req.ActionID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleActionsList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	actions, err := s.store.ListActions(r.Context(), userID(r), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"actions": actions})
}

// --- ingest + inbox + extraction ---

func (s *Server) handleIngestManual(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Subject     string  `json:"subject"`
		Body        string  `json:"body"`
		BodyHTML    *string `json:"bodyHtml"`
		SenderName  *string `json:"senderName"`
		SenderEmail string  `json:"senderEmail"`
		ReceivedAt  *string `json:"receivedAt"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Subject == "" || req.SenderEmail == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "subject and senderEmail are required")
		return
	}
	if req.Body == "" && (req.BodyHTML == nil || *req.BodyHTML == "") {
		writeError(w, http.StatusBadRequest, "invalid_request", "one of body or bodyHtml is required")
		return
	}

	var bodyHTML *string
	bodyText := req.Body
	if req.BodyHTML != nil && *req.BodyHTML != "" {
		sanitized := htmlPolicy.Sanitize(*req.BodyHTML)
		bodyHTML = &sanitized
		if bodyText == "" {
			bodyText = strings.TrimSpace(textPolicy.Sanitize(*req.BodyHTML))
		}
	}

	receivedAt := time.Now().UTC()
	if req.ReceivedAt != nil && *req.ReceivedAt != "" {
		t, err := time.Parse(time.RFC3339, *req.ReceivedAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", "receivedAt must be RFC 3339")
			return
		}
		receivedAt = t.UTC()
	}

	msg, err := s.store.CreateSourceMessage(r.Context(), userID(r), store.SourceMessageCreate{
		Provider:    store.ProviderManual,
		Subject:     req.Subject,
		SenderName:  req.SenderName,
		SenderEmail: req.SenderEmail,
		ReceivedAt:  &receivedAt,
		BodyText:    bodyText,
		BodyHTML:    bodyHTML,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "sourceMessageId": msg.ID})
}

func (s *Server) handleInboxList(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	messages, err := s.store.ListSourceMessages(r.Context(), userID(r), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

func (s *Server) handleInboxGet(w http.ResponseWriter, r *http.Request) {
	msg, err := s.store.GetSourceMessageByID(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if msg == nil {
		writeError(w, http.StatusNotFound, "not_found", "source message not found")
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleRunExtraction(w http.ResponseWriter, r *http.Request) {
	extraction, sugs, err := s.extractor.Run(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"extractionId": extraction.ID,
		"suggestions":  sugs,
	})
}

// --- items ---

func (s *Server) handleItemsList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))
	items, total, err := s.store.ListItems(r.Context(), userID(r), store.ItemFilter{
		Status:     q.Get("status"),
		Type:       q.Get("type"),
		KidID:      q.Get("kidId"),
		ActivityID: q.Get("activityId"),
		Limit:      limit,
		Offset:     offset,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": total})
}

func (s *Server) handleItemCreate(w http.ResponseWriter, r *http.Request) {
	var req store.ItemCreate
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Title == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "title is required")
		return
	}
	if req.Type == "" {
		req.Type = store.ItemTypeTask
	}
	item, err := s.store.CreateItem(r.Context(), userID(r), req, store.CreatedFromManual)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"item": item})
}

func (s *Server) handleItemGet(w http.ResponseWriter, r *http.Request) {
	item, err := s.store.GetItemByID(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if item == nil {
		writeError(w, http.StatusNotFound, "not_found", "item not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"item": item})
}

func (s *Server) handleItemUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := readRaw(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	args, err := withID(body, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	result, err := s.executor.Execute(r.Context(), userID(r), agent.ToolUpdateItem, args, store.ActorUser, "")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleItemDelete(w http.ResponseWriter, r *http.Request) {
	args, err := idArgs(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	result, err := s.executor.Execute(r.Context(), userID(r), agent.ToolDeleteItem, args, store.ActorUser, "")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleItemLinks(w http.ResponseWriter, r *http.Request) {
	links, err := s.store.ListLinksForItem(r.Context(), userID(r), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"links": links})
}

// --- kids ---

func (s *Server) handleKidsList(w http.ResponseWriter, r *http.Request) {
	kids, err := s.store.ListKids(r.Context(), userID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"kids": kids})
}

func (s *Server) handleKidCreate(w http.ResponseWriter, r *http.Request) {
	var req store.KidCreate
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}
	kid, err := s.store.CreateKid(r.Context(), userID(r), req)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"kid": kid})
}

func (s *Server) handleKidUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := readRaw(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	args, err := withID(body, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	result, err := s.executor.Execute(r.Context(), userID(r), agent.ToolUpdateKid, args, store.ActorUser, "")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleKidDelete(w http.ResponseWriter, r *http.Request) {
	args, err := idArgs(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	result, err := s.executor.Execute(r.Context(), userID(r), agent.ToolDeleteKid, args, store.ActorUser, "")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- activities ---

func (s *Server) handleActivitiesList(w http.ResponseWriter, r *http.Request) {
	activities, err := s.store.ListActivities(r.Context(), userID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"activities": activities})
}

func (s *Server) handleActivityCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name  string  `json:"name"`
		Notes *string `json:"notes"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "name is required")
		return
	}
	activity, err := s.store.CreateActivity(r.Context(), userID(r), req.Name, req.Notes)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"activity": activity})
}

func (s *Server) handleActivityUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := readRaw(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	args, err := withID(body, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	result, err := s.executor.Execute(r.Context(), userID(r), agent.ToolUpdateActivity, args, store.ActorUser, "")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleActivityDelete(w http.ResponseWriter, r *http.Request) {
	args, err := idArgs(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	result, err := s.executor.Execute(r.Context(), userID(r), agent.ToolDeleteActivity, args, store.ActorUser, "")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- suggestions ---

func (s *Server) handleSuggestionsList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	state := q.Get("state")
	if state == "" {
		state = store.SuggestionStateNew
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	sugs, err := s.store.ListSuggestions(r.Context(), userID(r), state, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"suggestions": sugs})
}

func (s *Server) handleSuggestionsApprove(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SuggestionIDs []string `json:"suggestionIds"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.SuggestionIDs) == 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "suggestionIds is required")
		return
	}
	args, err := json.Marshal(map[string]any{"suggestionIds": req.SuggestionIDs})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	result, err := s.executor.Execute(r.Context(), userID(r), agent.ToolApproveSuggestions, args, store.ActorUser, "")
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// --- secrets ---

func (s *Server) handleSecretsList(w http.ResponseWriter, r *http.Request) {
	metas, err := s.vault.List(r.Context(), userID(r))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"secrets": metas})
}

func (s *Server) handleSecretSetOpenAIKey(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Value string `json:"value"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Value == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "value is required")
		return
	}
	if err := s.vault.Set(r.Context(), userID(r), secrets.KeyOpenAIAPIKey, []byte(req.Value)); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleSecretDeleteOpenAIKey(w http.ResponseWriter, r *http.Request) {
	if err := s.vault.Delete(r.Context(), userID(r), secrets.KeyOpenAIAPIKey); err != nil {
		if errors.Is(err, secrets.ErrSecretNotFound) {
			writeError(w, http.StatusNotFound, "not_found", err.Error())
			return
		}
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}
