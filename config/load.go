package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	configName = "callkit"
	configType = "toml"
	envPrefix  = "CALLKIT"
)

// Load reads configuration into v. With an explicit path the file must
// exist; otherwise callkit.toml is looked up in the working directory and
// $HOME/.config/callkit, and a missing file leaves the defaults in place.
// CALLKIT_* environment variables override file values, with "_" for
// nesting (CALLKIT_SERVER_ADDR, CALLKIT_THINK_TIMEOUT).
func Load(v *viper.Viper, path string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}

	v.SetConfigType(configType)
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName(configName)
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", "callkit"))
		}
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, Default())

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// setDefaults registers every leaf key so that environment overrides are
// seen by Unmarshal.
func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("server.addr", d.Server.Addr)
	v.SetDefault("server.cors_origins", d.Server.CORSOrigins)
	v.SetDefault("server.read_header_timeout", d.Server.ReadHeaderTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("events.buffer_size", d.Events.BufferSize)
	v.SetDefault("events.retention", d.Events.Retention)
	v.SetDefault("events.heartbeat", d.Events.Heartbeat)
	v.SetDefault("events.retry", d.Events.Retry)
	v.SetDefault("events.ping_period", d.Events.PingPeriod)
	v.SetDefault("events.nats.enabled", d.Events.NATS.Enabled)
	v.SetDefault("events.nats.url", d.Events.NATS.URL)
	v.SetDefault("events.nats.name", d.Events.NATS.Name)
	v.SetDefault("events.nats.token", d.Events.NATS.Token)
	v.SetDefault("events.nats.subject_prefix", d.Events.NATS.SubjectPrefix)

	v.SetDefault("agents.type", d.Agents.Type)
	v.SetDefault("agents.provider", d.Agents.Provider)
	v.SetDefault("agents.stm_capacity", d.Agents.STMCapacity)
	v.SetDefault("agents.style", d.Agents.Style)
	v.SetDefault("agents.temperature", d.Agents.Temperature)
	v.SetDefault("agents.drain_timeout", d.Agents.DrainTimeout)

	v.SetDefault("think.max_concurrent", d.Think.MaxConcurrent)
	v.SetDefault("think.timeout", d.Think.Timeout)
	v.SetDefault("think.max_tokens", d.Think.MaxTokens)

	for name, pc := range d.Providers {
		prefix := "providers." + name + "."
		v.SetDefault(prefix+"kind", pc.Kind)
		v.SetDefault(prefix+"model", pc.Model)
		v.SetDefault(prefix+"base_url", pc.BaseURL)
		v.SetDefault(prefix+"max_tokens", pc.MaxTokens)
	}

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)

	v.SetDefault("telemetry.enabled", d.Telemetry.Enabled)
	v.SetDefault("telemetry.endpoint", d.Telemetry.Endpoint)
	v.SetDefault("telemetry.protocol", d.Telemetry.Protocol)
	v.SetDefault("telemetry.insecure", d.Telemetry.Insecure)
	v.SetDefault("telemetry.debug", d.Telemetry.Debug)
}
