package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/andyfreed/kiddos/internal/llm"
	"github.com/andyfreed/kiddos/internal/store"
)

// ErrEmptyTurn is returned when a turn carries neither a message nor a
// confirmation token.
var ErrEmptyTurn = errors.New("message or confirm token required")

const systemPrompt = `You are Kiddos Assistant.

You can help manage:
- Kids (rename/update/delete)
- Activities (create/update/delete)
- Items (tasks/events/deadlines)
- Relationships between items and kids/activities
- Inbox + extraction + suggestions

Non-negotiable rules:
- ALWAYS use tools for ANY data mutation. Do not just "talk about" making changes.
- If a user asks to change data (rename/update/link/etc.), call the appropriate tool with the intended arguments.
- The server may respond that confirmation is required for risky operations. If confirmation is required, stop and wait.

Safety rules:
- Never delete anything or change date/time fields without confirmation.
- Renaming activities and kids requires confirmation.
- Unlinking relationships requires confirmation.
- For bulk mutations (>5), require confirmation.`

// TurnRequest is one inbound chat turn. Exactly one of Message or
// ConfirmToken drives behavior.
type TurnRequest struct {
	Message      string `json:"message,omitempty"`
	ConfirmToken string `json:"confirmToken,omitempty"`
}

// ToolResult pairs an executed tool with its result.
type ToolResult struct {
	Tool   string `json:"tool"`
	Result any    `json:"result"`
}

// PendingAction describes the risky invocation awaiting confirmation.
type PendingAction struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	RiskLevel   string `json:"riskLevel"`
}

// TurnResponse is the outcome of one chat turn.
type TurnResponse struct {
	Response        string         `json:"response"`
	RequiresConfirm bool           `json:"requiresConfirm"`
	ConfirmToken    string         `json:"confirmToken,omitempty"`
	PendingAction   *PendingAction `json:"pendingAction,omitempty"`
	ToolCalls       []ToolResult   `json:"toolCalls,omitempty"`
}

// Orchestrator drives one chat turn end to end: context snapshot, the
// language-model call, sequential tool execution with risk-gated
// pauses, and the optional summarization round. It holds no state
// between turns; pause/resume state lives entirely in the signed
// confirmation token.
type Orchestrator struct {
	store    *store.Store
	provider llm.Provider
	registry *Registry
	executor *Executor
	codec    *TokenCodec
	model    string
}

// NewOrchestrator wires an orchestrator for the given model.
func NewOrchestrator(st *store.Store, provider llm.Provider, registry *Registry, executor *Executor, codec *TokenCodec, model string) *Orchestrator {
	return &Orchestrator{
		store:    st,
		provider: provider,
		registry: registry,
		executor: executor,
		codec:    codec,
		model:    model,
	}
}

// HandleTurn processes one chat turn for the authenticated user.
func (o *Orchestrator) HandleTurn(ctx context.Context, userID string, req TurnRequest) (*TurnResponse, error) {
	ctx, span := tracer.Start(ctx, "agent.turn")
	defer span.End()

	if req.ConfirmToken != "" {
		span.SetAttributes(attribute.Bool("turn.confirm", true))
		return o.resumeConfirmed(ctx, userID, req.ConfirmToken)
	}
	if req.Message == "" {
		return nil, ErrEmptyTurn
	}
	return o.freshTurn(ctx, userID, req.Message)
}

// resumeConfirmed verifies the token, executes the embedded invocation
// as actor "user" (confirmation is a deliberate user act even though
// the agent proposed it), then walks any queued follow-ups until done
// or another risky step pauses again with a new token.
func (o *Orchestrator) resumeConfirmed(ctx context.Context, userID, token string) (*TurnResponse, error) {
	payload, err := o.codec.Verify(token)
	if err != nil {
		return nil, err
	}
	if payload.UserID != userID {
		return nil, ErrTokenWrongUser
	}
	conversationID := uuid.NewString()

	var results []ToolResult
	first, err := o.executor.Execute(ctx, userID, payload.Action, payload.Args, store.ActorUser, conversationID)
	if err != nil {
		return nil, err
	}
	results = append(results, ToolResult{Tool: payload.Action, Result: first})

	for idx, next := range payload.Remaining {
		if err := o.registry.Validate(next.Name, next.Args); err != nil {
			var invalid *InvalidArgumentsError
			if errors.As(err, &invalid) {
				log.Warn().Str("tool", next.Name).Msg("queued_tool_invalid_arguments")
				results = append(results, ToolResult{Tool: next.Name, Result: map[string]any{"error": invalid.Error()}})
				continue
			}
			return nil, err
		}
		risk := ClassifyRisk(next.Name, next.Args)
		if risk.Risky {
			newToken, err := o.codec.Mint(ConfirmPayload{
				UserID:    userID,
				Action:    next.Name,
				Args:      next.Args,
				Remaining: payload.Remaining[idx+1:],
			})
			if err != nil {
				return nil, err
			}
			return &TurnResponse{
				Response:        fmt.Sprintf("I applied the confirmed change. Next I can do this, but it needs confirmation: %s.", risk.Description),
				RequiresConfirm: true,
				ConfirmToken:    newToken,
				PendingAction:   &PendingAction{Type: next.Name, Description: risk.Description, RiskLevel: risk.Level},
				ToolCalls:       results,
			}, nil
		}
		result, err := o.executor.Execute(ctx, userID, next.Name, next.Args, store.ActorUser, conversationID)
		if err != nil {
			return nil, err
		}
		results = append(results, ToolResult{Tool: next.Name, Result: result})
	}

	return &TurnResponse{
		Response:  "Done. I applied the confirmed change.",
		ToolCalls: results,
	}, nil
}

func (o *Orchestrator) freshTurn(ctx context.Context, userID, message string) (*TurnResponse, error) {
	contextPrompt, err := o.buildContext(ctx, userID)
	if err != nil {
		return nil, err
	}
	conversationID := uuid.NewString()

	resp, err := o.provider.Generate(ctx, &llm.Request{
		Model: o.model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: systemPrompt},
			{Role: llm.RoleSystem, Content: contextPrompt},
			{Role: llm.RoleUser, Content: message},
		},
		Tools:      o.registry.Specs(),
		ToolChoice: llm.ToolChoiceAuto,
	})
	if err != nil {
		return nil, fmt.Errorf("language model call failed: %w", err)
	}

	if len(resp.ToolCalls) == 0 {
		return &TurnResponse{Response: resp.Content}, nil
	}

	// Execute in the order given; later calls may depend on earlier
	// ones' effects (create-then-link).
	var executed []executedCall
	for i, tc := range resp.ToolCalls {
		if err := o.registry.Validate(tc.Name, tc.Arguments); err != nil {
			var invalid *InvalidArgumentsError
			if errors.As(err, &invalid) {
				log.Warn().Str("tool", tc.Name).Msg("model_tool_invalid_arguments")
				executed = append(executed, executedCall{
					id: tc.ID, name: tc.Name,
					result: map[string]any{"error": invalid.Error()},
				})
				continue
			}
			return nil, err
		}
		risk := ClassifyRisk(tc.Name, tc.Arguments)
		if risk.Risky {
			remaining := make([]QueuedCall, 0, len(resp.ToolCalls)-i-1)
			for _, later := range resp.ToolCalls[i+1:] {
				remaining = append(remaining, QueuedCall{Name: later.Name, Args: later.Arguments})
			}
			token, err := o.codec.Mint(ConfirmPayload{
				UserID:    userID,
				Action:    tc.Name,
				Args:      tc.Arguments,
				Remaining: remaining,
			})
			if err != nil {
				return nil, err
			}
			return &TurnResponse{
				Response:        fmt.Sprintf("I can do that, but it needs confirmation: %s.", risk.Description),
				RequiresConfirm: true,
				ConfirmToken:    token,
				PendingAction:   &PendingAction{Type: tc.Name, Description: risk.Description, RiskLevel: risk.Level},
				ToolCalls:       toolResults(executed),
			}, nil
		}
		result, err := o.executor.Execute(ctx, userID, tc.Name, tc.Arguments, store.ActorAI, conversationID)
		if err != nil {
			return nil, err
		}
		executed = append(executed, executedCall{id: tc.ID, name: tc.Name, result: result})
	}

	summary := o.summarize(ctx, message, resp, executed)
	return &TurnResponse{
		Response:  summary,
		ToolCalls: toolResults(executed),
	}, nil
}

type executedCall struct {
	id     string
	name   string
	result any
}

func toolResults(executed []executedCall) []ToolResult {
	results := make([]ToolResult, 0, len(executed))
	for _, e := range executed {
		results = append(results, ToolResult{Tool: e.name, Result: e.result})
	}
	return results
}

// summarize asks the model to turn the tool outputs into a natural
// response. It is best-effort: a failure never rolls back executed
// mutations, the caller just gets a generic completion message.
func (o *Orchestrator) summarize(ctx context.Context, message string, first *llm.Response, executed []executedCall) string {
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: systemPrompt},
		{Role: llm.RoleUser, Content: message},
		{Role: llm.RoleAssistant, Content: first.Content, ToolCalls: first.ToolCalls},
	}
	for _, e := range executed {
		content, err := json.Marshal(e.result)
		if err != nil {
			content = []byte(`{}`)
		}
		messages = append(messages, llm.Message{
			Role:       llm.RoleTool,
			ToolCallID: e.id,
			Content:    string(content),
		})
	}

	resp, err := o.provider.Generate(ctx, &llm.Request{
		Model:      o.model,
		Messages:   messages,
		Tools:      o.registry.Specs(),
		ToolChoice: llm.ToolChoiceNone,
	})
	if err != nil || resp.Content == "" {
		if err != nil {
			log.Warn().Err(err).Msg("summarization_failed")
		}
		return "Done."
	}
	return resp.Content
}

// buildContext assembles the bounded snapshot handed to the model:
// kids, activities, recent items, and pending suggestions.
func (o *Orchestrator) buildContext(ctx context.Context, userID string) (string, error) {
	items, _, err := o.store.ListItems(ctx, userID, store.ItemFilter{Limit: 20})
	if err != nil {
		return "", fmt.Errorf("loading items for context: %w", err)
	}
	sugs, err := o.store.ListSuggestions(ctx, userID, store.SuggestionStateNew, 20)
	if err != nil {
		return "", fmt.Errorf("loading suggestions for context: %w", err)
	}
	kids, err := o.store.ListKids(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("loading kids for context: %w", err)
	}
	activities, err := o.store.ListActivities(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("loading activities for context: %w", err)
	}

	kidRefs := make([]map[string]string, 0, len(kids))
	for _, k := range kids {
		kidRefs = append(kidRefs, map[string]string{"id": k.ID, "name": k.Name})
	}
	activityRefs := make([]map[string]string, 0, len(activities))
	for _, a := range activities {
		activityRefs = append(activityRefs, map[string]string{"id": a.ID, "name": a.Name})
	}

	kidsJSON, _ := json.Marshal(kidRefs)
	activitiesJSON, _ := json.Marshal(activityRefs)
	itemsJSON, _ := json.Marshal(items)
	sugsJSON, _ := json.Marshal(sugs)

	return fmt.Sprintf("Context:\n- Kids: %s\n- Activities: %s\n- Recent items (max 20): %s\n- New suggestions: %s\n",
		kidsJSON, activitiesJSON, itemsJSON, sugsJSON), nil
}
