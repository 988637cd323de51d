// Package llm provides the chat providers agents think with.
package llm

import (
	"context"
	"sync"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message represents an LLM message.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// ChatRequest represents a chat request to the LLM.
type ChatRequest struct {
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`

	// Temperature overrides the provider default when set.
	Temperature *float64 `json:"temperature,omitempty"`
}

// ChatResponse represents a chat response from the LLM.
type ChatResponse struct {
	Content      string `json:"content"`
	StopReason   string `json:"stop_reason"`
	InputTokens  int    `json:"input_tokens"`
	OutputTokens int    `json:"output_tokens"`
	Model        string `json:"model"`
}

// Provider is the interface for LLM providers.
type Provider interface {
	// Chat sends a chat request and returns the response.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// Float returns a pointer to v, for ChatRequest.Temperature.
func Float(v float64) *float64 {
	return &v
}

// --- Mock Provider for Testing ---

// MockProvider is a mock LLM provider for testing. It is safe for
// concurrent use.
type MockProvider struct {
	mu           sync.Mutex
	response     string
	stopReason   string
	inputTokens  int
	outputTokens int
	err          error
	requests     []ChatRequest

	// ChatFunc can be overridden for custom behavior
	ChatFunc func(ctx context.Context, req ChatRequest) (*ChatResponse, error)
}

// NewMockProvider creates a new mock provider. Without a configured
// response it echoes the last user message.
func NewMockProvider() *MockProvider {
	return &MockProvider{stopReason: "end_turn"}
}

// SetResponse sets the response content.
func (p *MockProvider) SetResponse(content string) {
	p.mu.Lock()
	p.response = content
	p.mu.Unlock()
}

// SetTokenCounts sets the token counts.
func (p *MockProvider) SetTokenCounts(input, output int) {
	p.mu.Lock()
	p.inputTokens = input
	p.outputTokens = output
	p.mu.Unlock()
}

// SetError sets an error to return.
func (p *MockProvider) SetError(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

// LastRequest returns the last request, or nil.
func (p *MockProvider) LastRequest() *ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.requests) == 0 {
		return nil
	}
	req := p.requests[len(p.requests)-1]
	return &req
}

// CallCount returns the number of Chat calls made.
func (p *MockProvider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

// Chat implements the Provider interface.
func (p *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	p.mu.Lock()
	p.requests = append(p.requests, req)
	fn := p.ChatFunc
	resp := &ChatResponse{
		Content:      p.response,
		StopReason:   p.stopReason,
		InputTokens:  p.inputTokens,
		OutputTokens: p.outputTokens,
		Model:        "mock",
	}
	err := p.err
	p.mu.Unlock()

	if fn != nil {
		return fn(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if resp.Content == "" {
		for i := len(req.Messages) - 1; i >= 0; i-- {
			if req.Messages[i].Role == RoleUser {
				resp.Content = "echo: " + req.Messages[i].Content
				break
			}
		}
	}
	return resp, nil
}
