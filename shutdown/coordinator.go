package shutdown

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/vinayprograms/callkit/logging"
)

// Phases used by callkitd. Lower phases stop first.
const (
	PhaseHTTP    = 10
	PhaseRelays  = 20
	PhaseBus     = 30
	PhaseStorage = 40
)

var (
	// ErrAlreadyShutdown is returned by a second call to Shutdown.
	ErrAlreadyShutdown = errors.New("shutdown already initiated")

	// ErrTimeout is returned when the context expires before every phase ran.
	ErrTimeout = errors.New("shutdown timeout exceeded")
)

// Func stops one component.
type Func func(ctx context.Context) error

// HandlerResult is the outcome of one stop function.
type HandlerResult struct {
	Name     string
	Phase    int
	Duration time.Duration
	Err      error
}

// Result summarizes a shutdown.
type Result struct {
	TotalDuration time.Duration
	Results       []HandlerResult
	Err           error
}

// FailedHandlers returns the names of stop functions that returned an error.
func (r *Result) FailedHandlers() []string {
	var failed []string
	for _, hr := range r.Results {
		if hr.Err != nil {
			failed = append(failed, hr.Name)
		}
	}
	return failed
}

type registration struct {
	name  string
	phase int
	fn    Func
}

// Coordinator collects stop functions and runs them once.
type Coordinator struct {
	log *logging.Logger

	mu       sync.Mutex
	handlers []registration
	started  bool
	done     chan struct{}
	result   *Result
}

// NewCoordinator creates a coordinator that logs each stop.
func NewCoordinator(log *logging.Logger) *Coordinator {
	if log == nil {
		log = logging.Nop()
	}
	return &Coordinator{
		log:  log.WithComponent("shutdown"),
		done: make(chan struct{}),
	}
}

// Register adds fn under phase. Registrations after Shutdown began are
// ignored.
func (c *Coordinator) Register(name string, phase int, fn Func) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		c.log.Warn("register_after_shutdown", map[string]interface{}{"handler": name})
		return
	}
	c.handlers = append(c.handlers, registration{name: name, phase: phase, fn: fn})
}

// Shutdown runs every phase in order and returns the joined handler errors,
// or ErrTimeout if ctx expired between phases.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAlreadyShutdown
	}
	c.started = true
	handlers := append([]registration(nil), c.handlers...)
	c.mu.Unlock()

	start := time.Now()
	result := &Result{Results: make([]HandlerResult, 0, len(handlers))}

	var errs []error
	for _, group := range groupByPhase(handlers) {
		if ctx.Err() != nil {
			errs = append(errs, ErrTimeout)
			break
		}
		for _, hr := range c.runPhase(ctx, group) {
			result.Results = append(result.Results, hr)
			if hr.Err != nil {
				errs = append(errs, hr.Err)
			}
		}
	}

	result.Err = errors.Join(errs...)
	result.TotalDuration = time.Since(start)

	c.mu.Lock()
	c.result = result
	c.mu.Unlock()
	close(c.done)

	c.log.Info("shutdown_complete", map[string]interface{}{
		"duration_ms": result.TotalDuration.Milliseconds(),
		"failed":      result.FailedHandlers(),
	})
	return result.Err
}

func (c *Coordinator) runPhase(ctx context.Context, group []registration) []HandlerResult {
	results := make([]HandlerResult, len(group))
	var wg sync.WaitGroup
	for i, r := range group {
		wg.Add(1)
		go func(i int, r registration) {
			defer wg.Done()
			t0 := time.Now()
			err := r.fn(ctx)
			results[i] = HandlerResult{Name: r.name, Phase: r.phase, Duration: time.Since(t0), Err: err}

			fields := map[string]interface{}{
				"handler":     r.name,
				"phase":       r.phase,
				"duration_ms": results[i].Duration.Milliseconds(),
			}
			if err != nil {
				fields["error"] = err.Error()
				c.log.Error("stop_failed", fields)
			} else {
				c.log.Debug("stopped", fields)
			}
		}(i, r)
	}
	wg.Wait()
	return results
}

// Done is closed when Shutdown has finished.
func (c *Coordinator) Done() <-chan struct{} {
	return c.done
}

// Result returns the shutdown summary, or nil before Done is closed.
func (c *Coordinator) Result() *Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.result
}

// groupByPhase sorts registrations by phase, keeping registration order
// within a phase, and splits them into consecutive groups.
func groupByPhase(handlers []registration) [][]registration {
	sort.SliceStable(handlers, func(i, j int) bool {
		return handlers[i].phase < handlers[j].phase
	})

	var groups [][]registration
	for i, h := range handlers {
		if i == 0 || h.phase != handlers[i-1].phase {
			groups = append(groups, nil)
		}
		groups[len(groups)-1] = append(groups[len(groups)-1], h)
	}
	return groups
}
