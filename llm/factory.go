package llm

import (
	"fmt"
	"strings"
)

// ProviderConfig describes one named provider.
type ProviderConfig struct {
	// Kind selects the implementation: anthropic, openai, google, groq,
	// mistral, xai, openrouter, ollama, lmstudio or openai-compat.
	// Inferred from Model when empty.
	Kind      string      `json:"kind" mapstructure:"kind" toml:"kind"`
	Model     string      `json:"model" mapstructure:"model" toml:"model"`
	APIKey    string      `json:"-" mapstructure:"api_key" toml:"-"`
	BaseURL   string      `json:"base_url" mapstructure:"base_url" toml:"base_url,omitempty"` // Custom API endpoint
	MaxTokens int         `json:"max_tokens" mapstructure:"max_tokens" toml:"max_tokens"`
	Retry     RetryConfig `json:"retry" mapstructure:"retry" toml:"retry"`

	// RateLimit caps requests per second to this provider. Zero disables.
	RateLimit float64 `json:"rate_limit" mapstructure:"rate_limit" toml:"rate_limit"`
	// Burst is the token bucket size used with RateLimit.
	Burst int `json:"burst" mapstructure:"burst" toml:"burst"`
}

// DefaultMaxTokens bounds a single voice response.
const DefaultMaxTokens = 1024

// ApplyDefaults fills in optional fields.
func (c *ProviderConfig) ApplyDefaults() {
	if c.Kind == "" && c.Model != "" {
		c.Kind = InferProviderFromModel(c.Model)
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = DefaultMaxTokens
	}
	if c.RateLimit > 0 && c.Burst <= 0 {
		c.Burst = 1
	}
}

// RequiresAPIKey reports whether the provider kind is a hosted API.
func (c *ProviderConfig) RequiresAPIKey() bool {
	switch c.Kind {
	case "ollama", "ollama-local", "lmstudio", "openai-compat", "litellm":
		return false
	}
	return true
}

// Validate validates the configuration.
func (c *ProviderConfig) Validate() error {
	if c.Kind == "" {
		return fmt.Errorf("kind is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be positive")
	}
	if c.RequiresAPIKey() && c.APIKey == "" {
		return fmt.Errorf("api key is required for %s", c.Kind)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate_limit must not be negative")
	}
	return nil
}

// NewProvider creates a provider based on the configuration.
// If Kind is empty, it is inferred from the Model name.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	cfg.ApplyDefaults()
	if cfg.Kind == "" {
		return nil, fmt.Errorf("cannot determine provider for model %q; set kind explicitly", cfg.Model)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	compat := OpenAICompatConfig{
		APIKey:       cfg.APIKey,
		BaseURL:      cfg.BaseURL,
		Model:        cfg.Model,
		MaxTokens:    cfg.MaxTokens,
		ProviderName: cfg.Kind,
		Retry:        cfg.Retry,
	}

	switch cfg.Kind {
	case "anthropic":
		return NewAnthropicProvider(AnthropicConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Retry:     cfg.Retry,
		})

	case "openai":
		return NewOpenAIProvider(OpenAIConfig{
			APIKey:    cfg.APIKey,
			BaseURL:   cfg.BaseURL,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Retry:     cfg.Retry,
		})

	case "google":
		return NewGoogleProvider(GoogleConfig{
			APIKey:    cfg.APIKey,
			Model:     cfg.Model,
			MaxTokens: cfg.MaxTokens,
			Retry:     cfg.Retry,
		})

	case "groq":
		return NewOpenAICompatProvider(compat.withBaseURL(GroqBaseURL))
	case "mistral":
		return NewOpenAICompatProvider(compat.withBaseURL(MistralBaseURL))
	case "xai":
		return NewOpenAICompatProvider(compat.withBaseURL(XAIBaseURL))
	case "openrouter":
		return NewOpenAICompatProvider(compat.withBaseURL(OpenRouterBaseURL))
	case "ollama", "ollama-local":
		return NewOpenAICompatProvider(compat.withBaseURL(OllamaLocalURL))
	case "lmstudio":
		return NewOpenAICompatProvider(compat.withBaseURL(LMStudioLocalURL))

	case "openai-compat", "litellm":
		// Generic OpenAI-compatible endpoint
		if cfg.BaseURL == "" {
			return nil, fmt.Errorf("base_url is required for provider %s", cfg.Kind)
		}
		return NewOpenAICompatProvider(compat)

	default:
		return nil, fmt.Errorf("unsupported provider: %s", cfg.Kind)
	}
}

// InferProviderFromModel returns the provider kind based on model name patterns.
func InferProviderFromModel(model string) string {
	model = strings.ToLower(model)

	switch {
	case strings.HasPrefix(model, "claude"):
		return "anthropic"
	case strings.HasPrefix(model, "gpt-"),
		strings.HasPrefix(model, "o1"),
		strings.HasPrefix(model, "o3"),
		strings.HasPrefix(model, "chatgpt"):
		return "openai"
	case strings.HasPrefix(model, "gemini"):
		return "google"
	case strings.HasPrefix(model, "mistral"),
		strings.HasPrefix(model, "mixtral"),
		strings.HasPrefix(model, "codestral"):
		return "mistral"
	case strings.HasPrefix(model, "grok"):
		return "xai"
	}
	return ""
}
