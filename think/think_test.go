package think

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vinayprograms/callkit/bus"
	"github.com/vinayprograms/callkit/errors"
	"github.com/vinayprograms/callkit/llm"
	"github.com/vinayprograms/callkit/memory"
	"github.com/vinayprograms/callkit/ratelimit"
	"github.com/vinayprograms/callkit/registry"
)

type fixture struct {
	bus       *bus.EventBus
	agents    *registry.Registry
	catalog   *llm.Catalog
	mock      *llm.MockProvider
	scheduler *Scheduler
}

func newFixture(t *testing.T, cfg Config, deps Deps) *fixture {
	t.Helper()
	b := bus.New(bus.DefaultConfig())
	t.Cleanup(func() { b.Close() })

	agents := registry.New(b, registry.Options{Transcript: deps.Transcript})
	t.Cleanup(agents.Close)

	mock := llm.NewMockProvider()
	catalog := llm.NewCatalog()
	catalog.Register("mock", mock)

	deps.Agents = agents
	deps.Providers = catalog
	deps.Publisher = b

	return &fixture{
		bus:       b,
		agents:    agents,
		catalog:   catalog,
		mock:      mock,
		scheduler: New(cfg, deps),
	}
}

func (f *fixture) createAgent(t *testing.T, id, body string) {
	t.Helper()
	p, err := registry.ParsePatch([]byte(body))
	if err != nil {
		t.Fatalf("ParsePatch(%s): %v", body, err)
	}
	if _, err := f.agents.Create(id, *p); err != nil {
		t.Fatalf("Create(%s): %v", id, err)
	}
}

func (f *fixture) thinkEvents() []*bus.Event {
	var out []*bus.Event
	for _, ev := range f.bus.Since(0) {
		if ev.Type == bus.ThinkCompleted {
			out = append(out, ev)
		}
	}
	return out
}

// blockingChat makes the mock park until unblock closes or ctx ends.
func blockingChat(started chan<- struct{}, unblock <-chan struct{}) func(context.Context, llm.ChatRequest) (*llm.ChatResponse, error) {
	var once sync.Once
	return func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		once.Do(func() { close(started) })
		select {
		case <-unblock:
			return &llm.ChatResponse{Content: "late"}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// --- Unit Tests ---

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{"defaults", DefaultConfig(), false},
		{"zero concurrency", Config{MaxConcurrent: 0, Timeout: time.Second}, true},
		{"zero timeout", Config{MaxConcurrent: 1}, true},
		{"negative tokens", Config{MaxConcurrent: 1, Timeout: time.Second, MaxTokens: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestBuildMessages(t *testing.T) {
	stm := []memory.Exchange{
		memory.NewExchange("hi", "hello"),
		memory.NewExchange("how are you", "fine"),
	}
	msgs := BuildMessages(registry.TypeVoice, registry.Voice{Style: "cheerful", Temperature: 0.5}, stm, "bye")

	wantRoles := []string{llm.RoleSystem, llm.RoleUser, llm.RoleAssistant, llm.RoleUser, llm.RoleAssistant, llm.RoleUser}
	if len(msgs) != len(wantRoles) {
		t.Fatalf("got %d messages, want %d", len(msgs), len(wantRoles))
	}
	for i, role := range wantRoles {
		if msgs[i].Role != role {
			t.Errorf("msgs[%d].Role = %s, want %s", i, msgs[i].Role, role)
		}
	}
	if !strings.Contains(msgs[0].Content, "cheerful") {
		t.Errorf("system prompt %q does not mention style", msgs[0].Content)
	}
	if msgs[1].Content != "hi" || msgs[4].Content != "fine" || msgs[5].Content != "bye" {
		t.Errorf("unexpected message order: %+v", msgs)
	}
}

func TestSystemPromptDefaultsStyle(t *testing.T) {
	if got := SystemPrompt(registry.TypeBase, registry.Voice{}); !strings.Contains(got, "neutral") {
		t.Errorf("SystemPrompt() = %q", got)
	}
}

func TestSystemPromptByType(t *testing.T) {
	tests := []struct {
		name      string
		agentType registry.AgentType
		wantVoice bool
	}{
		{"voice agent is told it speaks on a call", registry.TypeVoice, true},
		{"base agent answers in text", registry.TypeBase, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SystemPrompt(tt.agentType, registry.Voice{Style: "calm"})
			if strings.Contains(got, "phone call") != tt.wantVoice {
				t.Errorf("SystemPrompt(%s) = %q", tt.agentType, got)
			}
			if !strings.Contains(got, "calm") {
				t.Errorf("SystemPrompt(%s) = %q, want style", tt.agentType, got)
			}
		})
	}
}

func TestThink_Validation(t *testing.T) {
	f := newFixture(t, Config{}, Deps{})
	f.createAgent(t, "a1", `{"provider":"mock"}`)
	f.createAgent(t, "ghost", `{"provider":"nobody"}`)

	tests := []struct {
		name  string
		agent string
		input string
		kind  errors.Kind
	}{
		{"empty input", "a1", "", errors.KindInvalidInput},
		{"blank input", "a1", "   ", errors.KindInvalidInput},
		{"unknown agent", "missing", "hi", errors.KindNotFound},
		{"unknown provider", "ghost", "hi", errors.KindProviderError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.scheduler.Think(context.Background(), tt.agent, tt.input)
			if got := errors.KindOf(err); got != tt.kind {
				t.Errorf("kind = %s, want %s (err %v)", got, tt.kind, err)
			}
		})
	}
	if f.mock.CallCount() != 0 {
		t.Errorf("provider called %d times", f.mock.CallCount())
	}
	if n := len(f.thinkEvents()); n != 0 {
		t.Errorf("published %d think events", n)
	}
}

func TestThink_Success(t *testing.T) {
	f := newFixture(t, Config{MaxTokens: 99}, Deps{})
	f.createAgent(t, "a1", `{"provider":"mock","voice":{"style":"calm","temperature":0.4}}`)
	f.mock.SetResponse("Hello caller.")

	res, err := f.scheduler.Think(context.Background(), "a1", "hello")
	if err != nil {
		t.Fatalf("Think() error = %v", err)
	}
	if res.Response != "Hello caller." || res.STMSize != 1 {
		t.Errorf("result = %+v", res)
	}

	req := f.mock.LastRequest()
	if req.Temperature == nil || *req.Temperature != 0.4 {
		t.Errorf("temperature = %v, want 0.4", req.Temperature)
	}
	if req.MaxTokens != 99 {
		t.Errorf("max tokens = %d, want 99", req.MaxTokens)
	}
	if !strings.Contains(req.Messages[0].Content, "calm") {
		t.Errorf("system prompt = %q", req.Messages[0].Content)
	}

	evs := f.thinkEvents()
	if len(evs) != 1 {
		t.Fatalf("got %d think events, want 1", len(evs))
	}
	payload, ok := evs[0].Payload.(Completed)
	if !ok {
		t.Fatalf("payload type %T", evs[0].Payload)
	}
	want := Completed{AgentID: "a1", Input: "hello", Response: "Hello caller.", STMSize: 1}
	if payload != want {
		t.Errorf("payload = %+v, want %+v", payload, want)
	}
}

func TestThink_STMRetainsLatestFifteen(t *testing.T) {
	f := newFixture(t, Config{}, Deps{})
	f.createAgent(t, "a1", `{"provider":"mock","stm_capacity":15}`)

	for i := 1; i <= 16; i++ {
		res, err := f.scheduler.Think(context.Background(), "a1", fmt.Sprintf("input %d", i))
		if err != nil {
			t.Fatalf("Think(%d) error = %v", i, err)
		}
		wantSize := i
		if wantSize > 15 {
			wantSize = 15
		}
		if res.STMSize != wantSize {
			t.Errorf("think %d: stmSize = %d, want %d", i, res.STMSize, wantSize)
		}
	}

	view, err := f.agents.Memory("a1")
	if err != nil {
		t.Fatalf("Memory() error = %v", err)
	}
	if len(view.Entries) != 15 {
		t.Fatalf("entries = %d, want 15", len(view.Entries))
	}
	if view.Entries[0].Input != "input 2" {
		t.Errorf("oldest entry = %q, want input 2", view.Entries[0].Input)
	}
	if view.Entries[14].Input != "input 16" || view.Entries[14].Output != "echo: input 16" {
		t.Errorf("newest entry = %+v", view.Entries[14])
	}

	// The provider sees remembered exchanges before the new input.
	req := f.mock.LastRequest()
	if got := len(req.Messages); got != 1+2*14+1 {
		t.Errorf("last request carried %d messages", got)
	}
}

func TestThink_ZeroCapacityRetainsNothing(t *testing.T) {
	f := newFixture(t, Config{}, Deps{})
	f.createAgent(t, "a1", `{"provider":"mock","stm_capacity":0}`)

	res, err := f.scheduler.Think(context.Background(), "a1", "hello")
	if err != nil {
		t.Fatalf("Think() error = %v", err)
	}
	if res.STMSize != 0 {
		t.Errorf("stmSize = %d, want 0", res.STMSize)
	}
	if n := len(f.thinkEvents()); n != 1 {
		t.Errorf("think events = %d, want 1", n)
	}
}

func TestThink_ProviderErrorLeavesMemory(t *testing.T) {
	f := newFixture(t, Config{}, Deps{})
	f.createAgent(t, "a1", `{"provider":"mock"}`)
	f.mock.SetError(stderrors.New("API error (status 400): nope"))

	_, err := f.scheduler.Think(context.Background(), "a1", "hello")
	if errors.KindOf(err) != errors.KindProviderError {
		t.Fatalf("kind = %s, want ProviderError", errors.KindOf(err))
	}
	if errors.IsTimeout(err) {
		t.Error("plain provider failure should not be a timeout")
	}

	view, _ := f.agents.Memory("a1")
	if len(view.Entries) != 0 {
		t.Errorf("memory changed: %+v", view.Entries)
	}
	if n := len(f.thinkEvents()); n != 0 {
		t.Errorf("think events = %d, want 0", n)
	}

	// The slot is released after a failure.
	f.mock.SetError(nil)
	if _, err := f.scheduler.Think(context.Background(), "a1", "again"); err != nil {
		t.Errorf("Think() after failure error = %v", err)
	}
}

func TestThink_Timeout(t *testing.T) {
	f := newFixture(t, Config{Timeout: 30 * time.Millisecond}, Deps{})
	f.createAgent(t, "a1", `{"provider":"mock"}`)
	f.mock.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	_, err := f.scheduler.Think(context.Background(), "a1", "hello")
	if errors.KindOf(err) != errors.KindProviderError {
		t.Fatalf("kind = %s, want ProviderError", errors.KindOf(err))
	}
	if !errors.IsTimeout(err) {
		t.Errorf("expected a timeout, got %v", err)
	}
}

func TestThink_Transcript(t *testing.T) {
	tr, err := memory.NewTranscript()
	if err != nil {
		t.Fatalf("NewTranscript() error = %v", err)
	}
	defer tr.Close()

	f := newFixture(t, Config{}, Deps{Transcript: tr})
	f.createAgent(t, "a1", `{"provider":"mock"}`)

	if _, err := f.scheduler.Think(context.Background(), "a1", "what is the weather tomorrow"); err != nil {
		t.Fatalf("Think() error = %v", err)
	}

	hits, err := tr.Search(context.Background(), "a1", "weather", 10)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(hits) != 1 || hits[0].Input != "what is the weather tomorrow" {
		t.Errorf("hits = %+v", hits)
	}
}

func TestThink_RateLimitReducesRate(t *testing.T) {
	limiter := ratelimit.NewMemoryLimiter(nil)
	defer limiter.Close()
	limiter.SetRate("mock", 100, 10)

	f := newFixture(t, Config{}, Deps{Limiter: limiter})
	f.createAgent(t, "a1", `{"provider":"mock"}`)
	f.mock.SetError(stderrors.New("rate limit exceeded"))

	if _, err := f.scheduler.Think(context.Background(), "a1", "hello"); err == nil {
		t.Fatal("expected error")
	}
	if c := limiter.Capacity("mock"); c == nil || c.Reductions != 1 {
		t.Errorf("capacity = %+v, want one reduction", c)
	}
}

// --- Integration Tests ---

func TestThink_ConcurrentOnOneAgentIsBusy(t *testing.T) {
	f := newFixture(t, Config{}, Deps{})
	f.createAgent(t, "a1", `{"provider":"mock"}`)

	started := make(chan struct{})
	unblock := make(chan struct{})
	f.mock.ChatFunc = blockingChat(started, unblock)

	done := make(chan error, 1)
	go func() {
		_, err := f.scheduler.Think(context.Background(), "a1", "first")
		done <- err
	}()
	<-started

	_, err := f.scheduler.Think(context.Background(), "a1", "second")
	if errors.KindOf(err) != errors.KindBusy {
		t.Errorf("kind = %s, want Busy", errors.KindOf(err))
	}

	close(unblock)
	if err := <-done; err != nil {
		t.Fatalf("first Think() error = %v", err)
	}

	view, _ := f.agents.Memory("a1")
	if len(view.Entries) != 1 || view.Entries[0].Input != "first" {
		t.Errorf("memory = %+v", view.Entries)
	}
}

func TestThink_DeleteDuringThink(t *testing.T) {
	f := newFixture(t, Config{}, Deps{})
	f.createAgent(t, "a1", `{"provider":"mock"}`)

	started := make(chan struct{})
	f.mock.ChatFunc = blockingChat(started, make(chan struct{}))

	done := make(chan error, 1)
	go func() {
		_, err := f.scheduler.Think(context.Background(), "a1", "hello")
		done <- err
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := f.agents.Delete(ctx, "a1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}

	err := <-done
	if errors.KindOf(err) != errors.KindNotFound {
		t.Errorf("kind = %s, want NotFound (err %v)", errors.KindOf(err), err)
	}
	if n := len(f.thinkEvents()); n != 0 {
		t.Errorf("think events = %d, want 0", n)
	}
	if _, err := f.scheduler.Think(context.Background(), "a1", "again"); errors.KindOf(err) != errors.KindNotFound {
		t.Errorf("think after delete kind = %s, want NotFound", errors.KindOf(err))
	}
}

func TestThink_DifferentAgentsRunInParallel(t *testing.T) {
	f := newFixture(t, Config{MaxConcurrent: 4}, Deps{})

	var inflight, peak atomic.Int32
	release := make(chan struct{})
	f.mock.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		<-release
		inflight.Add(-1)
		return &llm.ChatResponse{Content: "ok"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		id := fmt.Sprintf("a%d", i)
		f.createAgent(t, id, `{"provider":"mock"}`)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.scheduler.Think(context.Background(), id, "hi"); err != nil {
				t.Errorf("Think(%s) error = %v", id, err)
			}
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for inflight.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	close(release)
	wg.Wait()

	if peak.Load() != 3 {
		t.Errorf("peak concurrency = %d, want 3", peak.Load())
	}
}

func TestThink_SemaphoreBoundsConcurrency(t *testing.T) {
	f := newFixture(t, Config{MaxConcurrent: 1}, Deps{})

	var inflight, peak atomic.Int32
	f.mock.ChatFunc = func(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
		n := inflight.Add(1)
		if n > peak.Load() {
			peak.Store(n)
		}
		time.Sleep(10 * time.Millisecond)
		inflight.Add(-1)
		return &llm.ChatResponse{Content: "ok"}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		id := fmt.Sprintf("b%d", i)
		f.createAgent(t, id, `{"provider":"mock"}`)
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.scheduler.Think(context.Background(), id, "hi")
		}()
	}
	wg.Wait()

	if peak.Load() != 1 {
		t.Errorf("peak concurrency = %d, want 1", peak.Load())
	}
}
