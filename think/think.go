// Package think runs agent think operations: one provider call per input,
// with the exchange committed to the agent's short-term memory.
package think

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/vinayprograms/callkit/bus"
	"github.com/vinayprograms/callkit/errors"
	"github.com/vinayprograms/callkit/llm"
	"github.com/vinayprograms/callkit/logging"
	"github.com/vinayprograms/callkit/memory"
	"github.com/vinayprograms/callkit/ratelimit"
	"github.com/vinayprograms/callkit/registry"
	"github.com/vinayprograms/callkit/telemetry"
)

// Config bounds think execution.
type Config struct {
	// MaxConcurrent caps thinks running at once across all agents.
	MaxConcurrent int64 `mapstructure:"max_concurrent" toml:"max_concurrent"`

	// Timeout bounds a single think including rate limit waits and retries.
	Timeout time.Duration `mapstructure:"timeout" toml:"timeout"`

	// MaxTokens overrides the provider's response cap when positive.
	MaxTokens int `mapstructure:"max_tokens" toml:"max_tokens"`
}

// DefaultConfig returns the default think settings.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent: 16,
		Timeout:       30 * time.Second,
	}
}

// Validate checks the settings.
func (c Config) Validate() error {
	if c.MaxConcurrent < 1 {
		return fmt.Errorf("think.max_concurrent must be at least 1")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("think.timeout must be positive")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("think.max_tokens must not be negative")
	}
	return nil
}

// AgentSource resolves live agent entries.
type AgentSource interface {
	Lookup(id string) (*registry.Entry, error)
}

// ProviderSource resolves provider names from agent configs.
type ProviderSource interface {
	Lookup(name string) (llm.Provider, bool)
}

// Recorder receives think metrics. *telemetry.Metrics implements it.
type Recorder interface {
	ThinkStarted()
	ThinkFinished(provider, outcome string, d time.Duration)
	ThinkRejected(provider, outcome string)
	Tokens(provider string, in, out int)
	RateLimitWait(provider string, d time.Duration)
}

// Deps are the collaborators a Scheduler needs. Agents, Providers and
// Publisher are required.
type Deps struct {
	Agents     AgentSource
	Providers  ProviderSource
	Publisher  bus.Publisher
	Transcript *memory.Transcript    // optional search index
	Limiter    ratelimit.RateLimiter // optional
	Metrics    Recorder              // optional
	Logger     *logging.Logger       // optional
}

// Completed is the payload of a think_completed event.
type Completed struct {
	AgentID  string `json:"agentId"`
	Input    string `json:"input"`
	Response string `json:"response"`
	STMSize  int    `json:"stmSize"`
}

// Result is what a successful think returns.
type Result struct {
	Response string `json:"response"`
	STMSize  int    `json:"stmSize"`
}

// Scheduler dispatches thinks to providers.
type Scheduler struct {
	cfg  Config
	sem  *semaphore.Weighted
	deps Deps
	log  *logging.Logger
}

// New creates a scheduler. cfg fields left zero take defaults.
func New(cfg Config, deps Deps) *Scheduler {
	def := DefaultConfig()
	if cfg.MaxConcurrent < 1 {
		cfg.MaxConcurrent = def.MaxConcurrent
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}

	return &Scheduler{
		cfg:  cfg,
		sem:  semaphore.NewWeighted(cfg.MaxConcurrent),
		deps: deps,
		log:  deps.Logger.WithComponent("think"),
	}
}

// Think sends input to the agent's provider and commits the exchange.
//
// At most one think runs per agent; a second concurrent call fails with
// Busy instead of queueing. On any failure memory is left unchanged and no
// event is published.
func (s *Scheduler) Think(ctx context.Context, agentID, input string) (*Result, error) {
	if strings.TrimSpace(input) == "" {
		return nil, errors.InvalidInput("input is required")
	}

	entry, err := s.deps.Agents.Lookup(agentID)
	if err != nil {
		return nil, err
	}

	release, err := entry.TryAcquire()
	if err != nil {
		if errors.KindOf(err) == errors.KindBusy {
			s.rejected("", "busy")
		}
		return nil, err
	}
	defer release()

	agent, stm, err := entry.Snapshot()
	if err != nil {
		return nil, err
	}

	providerName := agent.Config.Provider
	provider, ok := s.deps.Providers.Lookup(providerName)
	if !ok {
		s.rejected(providerName, "unknown_provider")
		return nil, errors.ProviderError(providerName,
			fmt.Errorf("provider %q is not configured", providerName),
			errors.WithEntityID(agentID))
	}

	ctx, cancel := s.thinkContext(ctx, entry.Context())
	defer cancel()

	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartThinkSpan(ctx, agentID)

	s.log.ThinkStart(agentID, providerName)
	if s.deps.Metrics != nil {
		s.deps.Metrics.ThinkStarted()
	}
	start := time.Now()

	resp, err := s.call(ctx, provider, providerName, agent, stm, input)

	var stmSize int
	if err == nil {
		x := memory.NewExchange(input, resp.Content)
		err = entry.Commit(x, func(n int) {
			stmSize = n
			s.deps.Publisher.Publish(bus.ThinkCompleted, Completed{
				AgentID:  agentID,
				Input:    input,
				Response: resp.Content,
				STMSize:  n,
			})
			if s.deps.Transcript != nil {
				if terr := s.deps.Transcript.Record(agentID, x); terr != nil {
					s.log.Warn("transcript record failed", map[string]interface{}{
						"agent_id": agentID,
						"error":    terr.Error(),
					})
				}
			}
		})
	} else {
		err = s.failure(entry, agentID, providerName, err)
	}

	d := time.Since(start)
	s.log.ThinkComplete(agentID, d, stmSize, err)
	if s.deps.Metrics != nil {
		s.deps.Metrics.ThinkFinished(providerName, outcome(err), d)
	}
	tracer.EndThinkSpan(span, telemetry.ThinkSpanOptions{
		Provider: providerName,
		STMSize:  stmSize,
		Input:    input,
		Response: responseText(resp),
	}, err)

	if err != nil {
		return nil, err
	}
	return &Result{Response: resp.Content, STMSize: stmSize}, nil
}

// call waits for capacity and then invokes the provider.
func (s *Scheduler) call(ctx context.Context, provider llm.Provider, name string, agent registry.Agent, stm []memory.Exchange, input string) (*llm.ChatResponse, error) {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	if s.deps.Limiter != nil {
		waited, err := s.deps.Limiter.Wait(ctx, name)
		if s.deps.Metrics != nil && waited > 0 {
			s.deps.Metrics.RateLimitWait(name, waited)
		}
		if err != nil {
			return nil, err
		}
	}

	resp, err := provider.Chat(ctx, llm.ChatRequest{
		Messages:    BuildMessages(agent.Type, agent.Config.Voice, stm, input),
		MaxTokens:   s.cfg.MaxTokens,
		Temperature: llm.Float(agent.Config.Voice.Temperature),
	})
	if err != nil {
		if s.deps.Limiter != nil && llm.IsRateLimitError(err) {
			s.deps.Limiter.Reduce(name, err.Error())
		}
		return nil, err
	}
	if s.deps.Metrics != nil {
		s.deps.Metrics.Tokens(name, resp.InputTokens, resp.OutputTokens)
	}
	return resp, nil
}

// thinkContext derives the think context from the request. It ends on
// request cancellation, timeout, or deletion of the agent.
func (s *Scheduler) thinkContext(parent, agentCtx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(parent, s.cfg.Timeout)
	stop := context.AfterFunc(agentCtx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// failure maps a think error onto the API taxonomy.
func (s *Scheduler) failure(entry *registry.Entry, agentID, provider string, err error) error {
	if entry.Context().Err() != nil {
		return errors.NotFound("agent "+agentID+" not found", errors.WithEntityID(agentID))
	}
	return errors.ProviderError(provider, err, errors.WithEntityID(agentID))
}

func (s *Scheduler) rejected(provider, why string) {
	if s.deps.Metrics != nil {
		s.deps.Metrics.ThinkRejected(provider, why)
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	switch errors.KindOf(err) {
	case errors.KindNotFound:
		return "deleted"
	case errors.KindProviderError:
		if errors.IsTimeout(err) {
			return "timeout"
		}
		return "provider_error"
	}
	return "error"
}

func responseText(resp *llm.ChatResponse) string {
	if resp == nil {
		return ""
	}
	return resp.Content
}
