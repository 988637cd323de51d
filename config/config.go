// Package config defines callkitd's configuration and loads it from a TOML
// file, CALLKIT_* environment variables and built-in defaults.
package config

import (
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/vinayprograms/callkit/bus"
	"github.com/vinayprograms/callkit/llm"
	"github.com/vinayprograms/callkit/logging"
	"github.com/vinayprograms/callkit/registry"
	"github.com/vinayprograms/callkit/telemetry"
	"github.com/vinayprograms/callkit/think"
	"github.com/vinayprograms/callkit/transport"
)

// Config is the complete server configuration.
type Config struct {
	Server    ServerConfig                  `mapstructure:"server" toml:"server"`
	Events    EventsConfig                  `mapstructure:"events" toml:"events"`
	Agents    AgentsConfig                  `mapstructure:"agents" toml:"agents"`
	Think     think.Config                  `mapstructure:"think" toml:"think"`
	Providers map[string]llm.ProviderConfig `mapstructure:"providers" toml:"providers"`
	Logging   LoggingConfig                 `mapstructure:"logging" toml:"logging"`
	Telemetry telemetry.TracingConfig       `mapstructure:"telemetry" toml:"telemetry"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr              string        `mapstructure:"addr" toml:"addr"`
	CORSOrigins       []string      `mapstructure:"cors_origins" toml:"cors_origins"`
	ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout" toml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout" toml:"shutdown_timeout"`
}

// EventsConfig configures the event bus and its streaming transports.
type EventsConfig struct {
	BufferSize int           `mapstructure:"buffer_size" toml:"buffer_size"`
	Retention  int           `mapstructure:"retention" toml:"retention"`
	Heartbeat  time.Duration `mapstructure:"heartbeat" toml:"heartbeat"`
	Retry      time.Duration `mapstructure:"retry" toml:"retry"`
	PingPeriod time.Duration `mapstructure:"ping_period" toml:"ping_period"`
	NATS       NATSConfig    `mapstructure:"nats" toml:"nats"`
}

// NATSConfig enables the optional NATS relay.
type NATSConfig struct {
	Enabled       bool   `mapstructure:"enabled" toml:"enabled"`
	URL           string `mapstructure:"url" toml:"url"`
	Name          string `mapstructure:"name" toml:"name"`
	Token         string `mapstructure:"token" toml:"-"`
	SubjectPrefix string `mapstructure:"subject_prefix" toml:"subject_prefix"`
}

// AgentsConfig holds the defaults for omitted agent config fields.
type AgentsConfig struct {
	Type         string        `mapstructure:"type" toml:"type"`
	Provider     string        `mapstructure:"provider" toml:"provider"`
	STMCapacity  int           `mapstructure:"stm_capacity" toml:"stm_capacity"`
	Style        string        `mapstructure:"style" toml:"style"`
	Temperature  float64       `mapstructure:"temperature" toml:"temperature"`
	DrainTimeout time.Duration `mapstructure:"drain_timeout" toml:"drain_timeout"`
}

// LoggingConfig selects log level and format.
type LoggingConfig struct {
	Level  string `mapstructure:"level" toml:"level"`
	Format string `mapstructure:"format" toml:"format"`
}

// Default returns the built-in configuration.
func Default() Config {
	agentDefaults := registry.DefaultConfig()
	busDefaults := bus.DefaultConfig()
	sse := transport.DefaultSSEConfig()
	ws := transport.DefaultWebSocketConfig()
	natsDefaults := bus.DefaultNATSConfig()

	return Config{
		Server: ServerConfig{
			Addr:              "127.0.0.1:18080",
			ReadHeaderTimeout: 10 * time.Second,
			ShutdownTimeout:   15 * time.Second,
		},
		Events: EventsConfig{
			BufferSize: busDefaults.BufferSize,
			Retention:  busDefaults.Retention,
			Heartbeat:  sse.HeartbeatInterval,
			Retry:      sse.RetryInterval,
			PingPeriod: ws.PingInterval,
			NATS: NATSConfig{
				URL:           natsDefaults.URL,
				Name:          "callkitd",
				SubjectPrefix: natsDefaults.SubjectPrefix,
			},
		},
		Agents: AgentsConfig{
			Type:         string(registry.TypeBase),
			Provider:     agentDefaults.Provider,
			STMCapacity:  agentDefaults.STMCapacity,
			Style:        agentDefaults.Voice.Style,
			Temperature:  agentDefaults.Voice.Temperature,
			DrainTimeout: 5 * time.Second,
		},
		Think: think.DefaultConfig(),
		Providers: map[string]llm.ProviderConfig{
			"ollama": {
				Kind:      "ollama",
				Model:     "llama3.2",
				BaseURL:   llm.OllamaLocalURL,
				MaxTokens: llm.DefaultMaxTokens,
			},
			"groq": {
				Kind:      "groq",
				Model:     "llama-3.1-8b-instant",
				MaxTokens: llm.DefaultMaxTokens,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: string(logging.FormatConsole),
		},
		Telemetry: telemetry.TracingConfig{
			Protocol: "grpc",
		},
	}
}

// Validate checks ranges across all sections.
func (c *Config) Validate() error {
	if _, _, err := net.SplitHostPort(c.Server.Addr); err != nil {
		return fmt.Errorf("server.addr: %w", err)
	}
	if c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server.shutdown_timeout must be positive")
	}

	if c.Events.BufferSize < 1 {
		return fmt.Errorf("events.buffer_size must be at least 1")
	}
	if c.Events.Retention < 1 {
		return fmt.Errorf("events.retention must be at least 1")
	}
	if c.Events.Heartbeat < 0 || c.Events.Retry < 0 || c.Events.PingPeriod < 0 {
		return fmt.Errorf("events intervals must not be negative")
	}
	if c.Events.NATS.Enabled && c.Events.NATS.URL == "" {
		return fmt.Errorf("events.nats.url is required when the relay is enabled")
	}

	if !registry.AgentType(c.Agents.Type).Valid() {
		return fmt.Errorf("agents.type: unknown agent type %q", c.Agents.Type)
	}
	if err := c.AgentDefaults().Validate(); err != nil {
		return fmt.Errorf("agents: %w", err)
	}

	if err := c.Think.Validate(); err != nil {
		return err
	}

	for _, name := range c.ProviderNames() {
		pc := c.Providers[name]
		pc.ApplyDefaults()
		if pc.Kind == "" {
			return fmt.Errorf("providers.%s: kind is required", name)
		}
		if pc.Model == "" {
			return fmt.Errorf("providers.%s: model is required", name)
		}
		if pc.RateLimit < 0 {
			return fmt.Errorf("providers.%s: rate_limit must not be negative", name)
		}
	}

	switch logging.Format(strings.ToLower(c.Logging.Format)) {
	case logging.FormatConsole, logging.FormatJSON:
	default:
		return fmt.Errorf("logging.format must be console or json")
	}

	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}

// ProviderNames returns configured provider names in sorted order.
func (c *Config) ProviderNames() []string {
	names := make([]string, 0, len(c.Providers))
	for name := range c.Providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AgentDefaults returns the agent config used for omitted create fields.
func (c *Config) AgentDefaults() registry.Config {
	return registry.Config{
		Provider:    c.Agents.Provider,
		STMCapacity: c.Agents.STMCapacity,
		Voice: registry.Voice{
			Style:       c.Agents.Style,
			Temperature: c.Agents.Temperature,
		},
	}
}

// BusConfig returns the event bus settings.
func (c *Config) BusConfig() bus.Config {
	return bus.Config{
		BufferSize: c.Events.BufferSize,
		Retention:  c.Events.Retention,
	}
}

// RelayConfig returns NATS relay settings.
func (c *Config) RelayConfig() bus.NATSConfig {
	nc := bus.DefaultNATSConfig()
	nc.URL = c.Events.NATS.URL
	nc.Name = c.Events.NATS.Name
	nc.Token = c.Events.NATS.Token
	if c.Events.NATS.SubjectPrefix != "" {
		nc.SubjectPrefix = c.Events.NATS.SubjectPrefix
	}
	return nc
}

// SSEConfig returns the event stream settings.
func (c *Config) SSEConfig() transport.SSEConfig {
	return transport.SSEConfig{
		HeartbeatInterval: c.Events.Heartbeat,
		RetryInterval:     c.Events.Retry,
	}
}

// WebSocketConfig returns the event socket settings.
func (c *Config) WebSocketConfig() transport.WebSocketConfig {
	ws := transport.DefaultWebSocketConfig()
	ws.PingInterval = c.Events.PingPeriod
	ws.AllowedOrigins = c.Server.CORSOrigins
	return ws
}

// EncodeTOML renders the effective configuration. API keys and tokens are
// never included.
func (c *Config) EncodeTOML() ([]byte, error) {
	return toml.Marshal(c)
}
