package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Provider-specific base URLs
const (
	GroqBaseURL       = "https://api.groq.com/openai/v1"
	MistralBaseURL    = "https://api.mistral.ai/v1"
	XAIBaseURL        = "https://api.x.ai/v1"
	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	OllamaLocalURL    = "http://localhost:11434/v1"
	LMStudioLocalURL  = "http://localhost:1234/v1"
)

// OpenAICompatProvider implements the Provider interface for OpenAI-compatible APIs.
// This includes Groq, Mistral, LiteLLM, OpenRouter, local Ollama, LMStudio, etc.
type OpenAICompatProvider struct {
	apiKey       string
	baseURL      string
	model        string
	maxTokens    int
	providerName string
	retry        RetryConfig
	client       *http.Client
}

// OpenAICompatConfig holds configuration for OpenAI-compatible providers.
type OpenAICompatConfig struct {
	APIKey       string
	BaseURL      string
	Model        string
	MaxTokens    int
	ProviderName string // For logging/identification
	Retry        RetryConfig

	// HTTPClient overrides the default client.
	HTTPClient *http.Client
}

// withBaseURL fills BaseURL when the config leaves it empty.
func (c OpenAICompatConfig) withBaseURL(url string) OpenAICompatConfig {
	if c.BaseURL == "" {
		c.BaseURL = url
	}
	return c
}

// NewOpenAICompatProvider creates a new OpenAI-compatible provider.
func NewOpenAICompatProvider(cfg OpenAICompatConfig) (*OpenAICompatProvider, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base_url is required for openai-compatible provider")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required")
	}
	if cfg.MaxTokens == 0 {
		return nil, fmt.Errorf("max_tokens is required")
	}
	if cfg.ProviderName == "" {
		cfg.ProviderName = "openai-compat"
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 2 * time.Minute}
	}

	return &OpenAICompatProvider{
		apiKey:       cfg.APIKey,
		baseURL:      strings.TrimSuffix(cfg.BaseURL, "/"),
		model:        cfg.Model,
		maxTokens:    cfg.MaxTokens,
		providerName: cfg.ProviderName,
		retry:        cfg.Retry,
		client:       client,
	}, nil
}

// OpenAI-compatible request/response types

type oaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaiRequest struct {
	Model       string       `json:"model"`
	Messages    []oaiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens,omitempty"`
	Temperature *float64     `json:"temperature,omitempty"`
}

type oaiResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int        `json:"index"`
		Message      oaiMessage `json:"message"`
		FinishReason string     `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// Chat implements the Provider interface.
func (p *OpenAICompatProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	messages := make([]oaiMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, oaiMessage{Role: m.Role, Content: m.Content})
	}

	maxTokens := p.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}

	oaiReq := oaiRequest{
		Model:       p.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
	}

	resp, err := withRetry(ctx, p.providerName, p.retry, func(ctx context.Context) (*oaiResponse, error) {
		return p.doRequest(ctx, oaiReq)
	})
	if err != nil {
		return nil, err
	}

	result := &ChatResponse{
		Model:        resp.Model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	if len(resp.Choices) > 0 {
		result.Content = resp.Choices[0].Message.Content
		result.StopReason = resp.Choices[0].FinishReason
	}
	return result, nil
}

// doRequest makes the HTTP request.
func (p *OpenAICompatProvider) doRequest(ctx context.Context, req oaiRequest) (*oaiResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		if httpResp.StatusCode == http.StatusTooManyRequests {
			return nil, fmt.Errorf("rate limit exceeded: %s", string(respBody))
		}
		if httpResp.StatusCode == http.StatusPaymentRequired {
			return nil, fmt.Errorf("payment required: %s", string(respBody))
		}
		return nil, fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	var resp oaiResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("API error: %s", resp.Error.Message)
	}
	return &resp, nil
}
