package cmd

import (
	"context"
	"fmt"

	"github.com/vinayprograms/callkit/api"
	"github.com/vinayprograms/callkit/bus"
	"github.com/vinayprograms/callkit/config"
	"github.com/vinayprograms/callkit/credentials"
	"github.com/vinayprograms/callkit/llm"
	"github.com/vinayprograms/callkit/logging"
	"github.com/vinayprograms/callkit/memory"
	"github.com/vinayprograms/callkit/ratelimit"
	"github.com/vinayprograms/callkit/registry"
	"github.com/vinayprograms/callkit/session"
	"github.com/vinayprograms/callkit/telemetry"
	"github.com/vinayprograms/callkit/think"
)

type app struct {
	events     *bus.EventBus
	relay      *bus.NATSRelay // nil unless events.nats.enabled
	transcript *memory.Transcript
	agents     *registry.Registry
	sessions   *session.Registry
	catalog    *llm.Catalog
	limiter    *ratelimit.MemoryLimiter
	tracing    *telemetry.Provider // nil unless telemetry.enabled
	metrics    *telemetry.Metrics
	server     *api.Server
}

func newLogger(cfg *config.Config) *logging.Logger {
	log := logging.New()
	log.SetLevel(logging.ParseLevel(cfg.Logging.Level))
	log.SetFormat(logging.Format(cfg.Logging.Format))
	return log
}

// wireApp builds every component from cfg. Nothing is started.
func wireApp(ctx context.Context, cfg *config.Config, creds *credentials.Credentials, log *logging.Logger) (*app, error) {
	a := &app{}

	if cfg.Telemetry.Enabled {
		tp, err := telemetry.InitProvider(ctx, "callkitd", Version, cfg.Telemetry)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		a.tracing = tp
	}

	a.metrics = telemetry.NewMetrics()
	a.events = bus.New(cfg.BusConfig())
	a.events.SetObserver(a.metrics)

	if cfg.Events.NATS.Enabled {
		relay, err := bus.NewNATSRelay(a.events, cfg.RelayConfig(), log)
		if err != nil {
			a.release()
			return nil, fmt.Errorf("connect nats relay: %w", err)
		}
		a.relay = relay
	}

	transcript, err := memory.NewTranscript()
	if err != nil {
		a.release()
		return nil, fmt.Errorf("open transcript index: %w", err)
	}
	a.transcript = transcript

	a.agents = registry.New(a.events, registry.Options{
		Defaults:    cfg.AgentDefaults(),
		DefaultType: registry.AgentType(cfg.Agents.Type),
		Transcript:  transcript,
		OnDelete: func(id string) {
			a.sessions.UnbindAgent(id)
		},
		Logger: log,
	})
	a.sessions = session.NewRegistry(a.events, a.agents, log)

	a.limiter = ratelimit.NewMemoryLimiter(log)
	a.catalog = buildCatalog(cfg, creds, a.limiter, log)

	scheduler := think.New(cfg.Think, think.Deps{
		Agents:     a.agents,
		Providers:  a.catalog,
		Publisher:  a.events,
		Transcript: transcript,
		Limiter:    a.limiter,
		Metrics:    a.metrics,
		Logger:     log,
	})

	a.metrics.GaugeFunc("calls", "active", "Calls that have not terminated.", func() float64 {
		return float64(a.sessions.ActiveCalls())
	})
	a.metrics.GaugeFunc("agents", "registered", "Agents currently registered.", func() float64 {
		return float64(len(a.agents.List()))
	})

	a.server = api.New(api.Deps{
		Sessions:   a.sessions,
		Agents:     a.agents,
		Thinker:    scheduler,
		Events:     a.events,
		Transcript: transcript,
		Metrics:    a.metrics,
		Logger:     log,
	}, api.Options{
		Version:       Version,
		CORSOrigins:   cfg.Server.CORSOrigins,
		SSE:           cfg.SSEConfig(),
		WebSocket:     cfg.WebSocketConfig(),
		DeleteTimeout: cfg.Agents.DrainTimeout,
	})

	return a, nil
}

// buildCatalog registers every configured provider that can be built.
// A provider that fails is logged and left out; agents naming it fail at
// think time with a provider error.
func buildCatalog(cfg *config.Config, creds *credentials.Credentials, limiter *ratelimit.MemoryLimiter, log *logging.Logger) *llm.Catalog {
	catalog := llm.NewCatalog()
	for _, name := range cfg.ProviderNames() {
		pc := cfg.Providers[name]
		pc.ApplyDefaults()
		if pc.APIKey == "" {
			pc.APIKey = creds.Resolve(name, pc.Kind)
		}
		if err := pc.Validate(); err != nil {
			log.Warn("provider_skipped", map[string]interface{}{
				"provider": name,
				"error":    err.Error(),
			})
			continue
		}

		p, err := llm.NewProvider(pc)
		if err != nil {
			log.Warn("provider_skipped", map[string]interface{}{
				"provider": name,
				"error":    err.Error(),
			})
			continue
		}
		if cfg.Telemetry.Enabled {
			p = llm.WithTracing(p, name)
		}
		if pc.RateLimit > 0 {
			limiter.SetRate(name, pc.RateLimit, pc.Burst)
		}
		catalog.Register(name, p)
		log.Debug("provider_registered", map[string]interface{}{
			"provider": name,
			"kind":     pc.Kind,
			"model":    pc.Model,
		})
	}
	return catalog
}

// release closes whatever wireApp managed to build before failing.
func (a *app) release() {
	if a.relay != nil {
		a.relay.Close()
	}
	if a.events != nil {
		a.events.Close()
	}
	if a.tracing != nil {
		a.tracing.Shutdown(context.Background())
	}
}
