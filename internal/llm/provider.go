// Package llm abstracts the language-model collaborator behind a small
// Provider interface so the orchestrator and extractor can be tested with
// canned providers and so credentials resolve per request.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// TimeoutLLMCall bounds every outbound model call.
const TimeoutLLMCall = 60 * time.Second

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Tool choice modes.
const (
	ToolChoiceAuto = "auto"
	ToolChoiceNone = "none"
)

// Domain errors for the llm package.
var (
	ErrMissingAPIKey = errors.New("no OpenAI API key configured")
	ErrEmptyResponse = errors.New("model returned no choices")
)

// Provider is the interface all LLM providers must implement.
type Provider interface {
	// Name returns the provider identifier (e.g. "openai").
	Name() string
	// Generate sends a chat request and returns the response, which carries
	// either plain content or an ordered list of requested tool calls.
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// Request represents an LLM chat request.
type Request struct {
	Model       string
	Messages    []Message
	Temperature float64
	MaxTokens   int
	Tools       []Tool
	ToolChoice  string // "auto", "none", or "" (provider default)
}

// Message represents a chat message. Tool-result messages set ToolCallID;
// the assistant message that requested tools carries ToolCalls so it can be
// echoed back on the summarization round.
type Message struct {
	Role       string // "system", "user", "assistant", "tool"
	Content    string
	ToolCallID string
	ToolCalls  []ToolCall
}

// Tool is a function definition exposed to the model.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage // JSON Schema for the arguments object
}

// ToolCall is a request from the model to invoke a tool. Arguments is the
// raw JSON argument object as produced by the model; validation happens in
// the action registry, not here.
type ToolCall struct {
	ID        string
	Name      string
	Arguments json.RawMessage
}

// Response represents an LLM chat response.
type Response struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	InputTokens  int
	OutputTokens int
	Model        string
}
