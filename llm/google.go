package llm

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GoogleProvider implements the Provider interface using the official Google Gemini SDK.
type GoogleProvider struct {
	client    *genai.Client
	modelName string
	maxTokens int
	retry     RetryConfig
}

// GoogleConfig holds configuration for the Google provider.
type GoogleConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
	Retry     RetryConfig
}

// NewGoogleProvider creates a new Google Gemini provider using the official SDK.
func NewGoogleProvider(cfg GoogleConfig) (*GoogleProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api_key is required for google")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model is required for google")
	}
	if cfg.MaxTokens == 0 {
		return nil, fmt.Errorf("max_tokens is required for google")
	}

	client, err := genai.NewClient(context.Background(), option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}

	return &GoogleProvider{
		client:    client,
		modelName: cfg.Model,
		maxTokens: cfg.MaxTokens,
		retry:     cfg.Retry,
	}, nil
}

// Close closes the underlying client.
func (p *GoogleProvider) Close() error {
	return p.client.Close()
}

// Chat implements the Provider interface.
func (p *GoogleProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	// Each request gets its own model handle; agents think concurrently
	// with different temperatures and system prompts.
	model := p.client.GenerativeModel(p.modelName)
	maxTokens := p.maxTokens
	if req.MaxTokens > 0 {
		maxTokens = req.MaxTokens
	}
	model.SetMaxOutputTokens(int32(maxTokens))
	if req.Temperature != nil {
		model.SetTemperature(float32(*req.Temperature))
	}

	cs := model.StartChat()
	for _, m := range req.Messages {
		switch m.Role {
		case RoleSystem:
			model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(m.Content)}}
		case RoleUser:
			cs.History = append(cs.History, &genai.Content{Role: "user", Parts: []genai.Part{genai.Text(m.Content)}})
		case RoleAssistant:
			cs.History = append(cs.History, &genai.Content{Role: "model", Parts: []genai.Part{genai.Text(m.Content)}})
		}
	}

	// The trailing user message is sent as the prompt.
	var prompt string
	if n := len(cs.History); n > 0 && cs.History[n-1].Role == "user" {
		last := cs.History[n-1]
		cs.History = cs.History[:n-1]
		if text, ok := last.Parts[0].(genai.Text); ok {
			prompt = string(text)
		}
	}

	resp, err := withRetry(ctx, "google", p.retry, func(ctx context.Context) (*genai.GenerateContentResponse, error) {
		return cs.SendMessage(ctx, genai.Text(prompt))
	})
	if err != nil {
		return nil, err
	}

	result := &ChatResponse{Model: p.modelName}
	if len(resp.Candidates) > 0 {
		candidate := resp.Candidates[0]
		if candidate.FinishReason != 0 {
			result.StopReason = candidate.FinishReason.String()
		}
		if candidate.Content != nil {
			for _, part := range candidate.Content.Parts {
				if text, ok := part.(genai.Text); ok {
					result.Content += string(text)
				}
			}
		}
	}
	if resp.UsageMetadata != nil {
		result.InputTokens = int(resp.UsageMetadata.PromptTokenCount)
		result.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return result, nil
}
