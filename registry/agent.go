package registry

import (
	"math"
	"strings"
	"time"

	"github.com/vinayprograms/callkit/errors"
)

// AgentType is the kind of agent.
type AgentType string

const (
	TypeBase  AgentType = "BaseAgent"
	TypeVoice AgentType = "VoiceAgent"
)

// Valid reports whether t is a known agent type.
func (t AgentType) Valid() bool {
	return t == TypeBase || t == TypeVoice
}

// Voice describes how an agent speaks. Style seeds the system prompt and
// Temperature is passed to the provider.
type Voice struct {
	Style       string  `json:"style"`
	Temperature float64 `json:"temperature"`
}

// Config is an agent's validated configuration.
type Config struct {
	Provider    string `json:"provider"`
	STMCapacity int    `json:"stm_capacity"`
	Voice       Voice  `json:"voice"`
}

// Temperature bounds.
const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
)

// DefaultConfig returns the configuration applied to fields omitted at create.
func DefaultConfig() Config {
	return Config{
		Provider:    "ollama",
		STMCapacity: 10,
		Voice: Voice{
			Style:       "neutral",
			Temperature: 0.7,
		},
	}
}

// Validate checks every field and reports the first violation as an
// UnprocessableConfig error.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Provider) == "" {
		return errors.UnprocessableConfig("provider", "must be a non-empty string")
	}
	if c.STMCapacity < 0 {
		return errors.UnprocessableConfig("stm_capacity", "must be a non-negative integer")
	}
	if strings.TrimSpace(c.Voice.Style) == "" {
		return errors.UnprocessableConfig("voice.style", "must be a non-empty string")
	}
	t := c.Voice.Temperature
	if math.IsNaN(t) || math.IsInf(t, 0) || t < MinTemperature || t > MaxTemperature {
		return errors.UnprocessableConfig("voice.temperature", "must be a number between 0 and 2")
	}
	return nil
}

// Agent is the externally visible state of a registered agent.
type Agent struct {
	ID        string    `json:"id"`
	Type      AgentType `json:"type"`
	Config    Config    `json:"config"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
