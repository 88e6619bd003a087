// Package testutil provides shared test helpers and mocks for Kiddos tests.
package testutil

import (
	"context"
	"sync"

	"github.com/andyfreed/kiddos/internal/llm"
)

// MockProvider implements llm.Provider for tests without live API calls.
// When Content is empty, Generate returns "mock response"; otherwise uses
// Content. Set Err to simulate LLM errors.
type MockProvider struct {
	Content string
	Err     error
}

// Name returns the provider identifier (implements llm.Provider).
func (m *MockProvider) Name() string { return "mock" }

// Generate returns a canned response or the configured error.
func (m *MockProvider) Generate(_ context.Context, req *llm.Request) (*llm.Response, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	content := m.Content
	if content == "" {
		content = "mock response"
	}
	return &llm.Response{
		Content:      content,
		FinishReason: "stop",
		InputTokens:  10,
		OutputTokens: 20,
		Model:        req.Model,
	}, nil
}

// ScriptedProvider implements llm.Provider for testing the assistant turn
// loop. It returns a configurable sequence of responses (e.g. tool calls then
// a summarization answer), and tracks call count and received requests for
// assertions. Set ErrOnCall (1-based) and Err to make Generate return an
// error on that call.
type ScriptedProvider struct {
	mu               sync.Mutex
	Responses        []*llm.Response
	CallCount        int
	ReceivedMessages [][]llm.Message
	ErrOnCall        int
	Err              error
}

// Name returns "openai" so provider-specific paths behave as in production.
func (p *ScriptedProvider) Name() string { return "openai" }

// Generate returns the next response in the sequence and records the request.
func (p *ScriptedProvider) Generate(_ context.Context, req *llm.Request) (*llm.Response, error) {
	p.mu.Lock()
	p.CallCount++
	idx := p.CallCount - 1
	msgCopy := make([]llm.Message, len(req.Messages))
	copy(msgCopy, req.Messages)
	p.ReceivedMessages = append(p.ReceivedMessages, msgCopy)
	resps := p.Responses
	callCount := p.CallCount
	errOnCall := p.ErrOnCall
	errReturn := p.Err
	p.mu.Unlock()

	if errOnCall > 0 && callCount == errOnCall && errReturn != nil {
		return nil, errReturn
	}
	if len(resps) == 0 {
		return &llm.Response{
			Content:      "no responses configured",
			FinishReason: "stop",
			Model:        req.Model,
		}, nil
	}
	if idx >= len(resps) {
		idx = len(resps) - 1
	}
	out := resps[idx]
	// Return a copy so tests cannot mutate the stored response.
	r := &llm.Response{
		Content:      out.Content,
		FinishReason: out.FinishReason,
		InputTokens:  out.InputTokens,
		OutputTokens: out.OutputTokens,
		Model:        out.Model,
	}
	if len(out.ToolCalls) > 0 {
		r.ToolCalls = make([]llm.ToolCall, len(out.ToolCalls))
		copy(r.ToolCalls, out.ToolCalls)
	}
	return r, nil
}
