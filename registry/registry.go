package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vinayprograms/callkit/bus"
	"github.com/vinayprograms/callkit/errors"
	"github.com/vinayprograms/callkit/logging"
	"github.com/vinayprograms/callkit/memory"
)

// Options configures a Registry.
type Options struct {
	// Defaults fill config fields omitted at create.
	Defaults Config

	// DefaultType is used when create omits the type.
	DefaultType AgentType

	// Transcript, if set, is cleared for an agent when it is deleted.
	Transcript *memory.Transcript

	// OnDelete, if set, runs after agent_deleted is published so holders of
	// references to the agent can drop them.
	OnDelete func(id string)

	Logger *logging.Logger
}

// Registry owns every agent and its short-term memory.
type Registry struct {
	// mu guards the map only. It is never held while waiting on an entry.
	mu     sync.RWMutex
	agents map[string]*Entry

	pub         bus.Publisher
	defaults    Config
	defaultType AgentType
	transcript  *memory.Transcript
	onDelete    func(id string)
	log         *logging.Logger
}

// New creates an empty registry publishing to pub.
func New(pub bus.Publisher, opts Options) *Registry {
	if opts.Defaults == (Config{}) {
		opts.Defaults = DefaultConfig()
	}
	if !opts.DefaultType.Valid() {
		opts.DefaultType = TypeBase
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	return &Registry{
		agents:      make(map[string]*Entry),
		pub:         pub,
		defaults:    opts.Defaults,
		defaultType: opts.DefaultType,
		transcript:  opts.Transcript,
		onDelete:    opts.OnDelete,
		log:         opts.Logger.WithComponent("registry"),
	}
}

// Defaults returns the create-time defaults.
func (r *Registry) Defaults() Config {
	return r.defaults
}

// Entry is the live record for one agent. Its mutex serializes config
// changes, memory access and commits.
type Entry struct {
	mu      sync.Mutex
	agent   Agent
	stm     *memory.ShortTerm
	deleted bool

	// slot has capacity 1; holding it means a think is in flight.
	slot chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

func newEntry(a Agent) *Entry {
	ctx, cancel := context.WithCancel(context.Background())
	return &Entry{
		agent:  a,
		stm:    memory.NewShortTerm(a.Config.STMCapacity),
		slot:   make(chan struct{}, 1),
		ctx:    ctx,
		cancel: cancel,
	}
}

// ID returns the agent id.
func (e *Entry) ID() string {
	return e.agent.ID
}

// Context is canceled when the agent is deleted.
func (e *Entry) Context() context.Context {
	return e.ctx
}

// TryAcquire claims the think slot without waiting. It fails with Busy if
// a think is in flight and NotFound if the agent has been deleted.
func (e *Entry) TryAcquire() (release func(), err error) {
	e.mu.Lock()
	deleted := e.deleted
	e.mu.Unlock()
	if deleted {
		return nil, notFound(e.agent.ID)
	}

	select {
	case e.slot <- struct{}{}:
	default:
		// Delete also holds the slot once it has drained.
		e.mu.Lock()
		deleted = e.deleted
		e.mu.Unlock()
		if deleted {
			return nil, notFound(e.agent.ID)
		}
		return nil, errors.AgentBusy(e.agent.ID)
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-e.slot })
	}, nil
}

// Snapshot returns a copy of the agent and its memory, oldest first.
func (e *Entry) Snapshot() (Agent, []memory.Exchange, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.deleted {
		return Agent{}, nil, notFound(e.agent.ID)
	}
	return e.agent, e.stm.Items(), nil
}

// Commit appends x to memory and then calls onCommit with the new memory
// size, all under the entry lock. It fails with NotFound once the agent is
// deleted, in which case nothing is stored.
func (e *Entry) Commit(x memory.Exchange, onCommit func(stmSize int)) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.deleted {
		return notFound(e.agent.ID)
	}
	e.stm.Append(x)
	if onCommit != nil {
		onCommit(e.stm.Len())
	}
	return nil
}

func notFound(id string) *errors.Error {
	return errors.NotFound("agent "+id+" not found", errors.WithEntityID(id))
}

// Create registers a new agent. Defaults are merged under the patch and the
// complete config is validated before anything is stored.
func (r *Registry) Create(id string, p Patch) (*Agent, error) {
	if id == "" {
		return nil, errors.InvalidInput("agent id is required")
	}

	typ := r.defaultType
	if p.Type != nil {
		typ = *p.Type
	}
	if !typ.Valid() {
		return nil, errors.UnprocessableConfig("type", "must be one of BaseAgent, VoiceAgent")
	}

	cfg := p.Config.Apply(r.defaults)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	e := newEntry(Agent{
		ID:        id,
		Type:      typ,
		Config:    cfg,
		CreatedAt: now,
		UpdatedAt: now,
	})

	// Hold the entry lock across insert and publish so no update on this
	// agent can be observed before agent_created.
	e.mu.Lock()
	defer e.mu.Unlock()

	r.mu.Lock()
	if _, exists := r.agents[id]; exists {
		r.mu.Unlock()
		e.cancel()
		return nil, errors.Conflict("agent "+id+" already exists", errors.WithEntityID(id))
	}
	r.agents[id] = e
	r.mu.Unlock()

	snapshot := e.agent
	r.pub.Publish(bus.AgentCreated, snapshot)
	r.log.AgentChange("created", id)

	return &snapshot, nil
}

// Lookup returns the live entry for id. Entries being deleted are not found.
func (r *Registry) Lookup(id string) (*Entry, error) {
	r.mu.RLock()
	e, ok := r.agents[id]
	r.mu.RUnlock()

	if !ok {
		return nil, notFound(id)
	}
	e.mu.Lock()
	deleted := e.deleted
	e.mu.Unlock()
	if deleted {
		return nil, notFound(id)
	}
	return e, nil
}

// Exists reports whether an agent with id is registered.
func (r *Registry) Exists(id string) bool {
	_, err := r.Lookup(id)
	return err == nil
}

// Get returns a copy of the agent.
func (r *Registry) Get(id string) (*Agent, error) {
	e, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}
	a, _, err := e.Snapshot()
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// List returns every agent sorted by id.
func (r *Registry) List() []Agent {
	r.mu.RLock()
	entries := make([]*Entry, 0, len(r.agents))
	for _, e := range r.agents {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	agents := make([]Agent, 0, len(entries))
	for _, e := range entries {
		if a, _, err := e.Snapshot(); err == nil {
			agents = append(agents, a)
		}
	}

	sort.Slice(agents, func(i, j int) bool {
		return agents[i].ID < agents[j].ID
	})
	return agents
}

// Update merge-patches the agent's config. The merged candidate is validated
// as a whole; on failure the agent is left untouched. Shrinking
// stm_capacity evicts the oldest memory entries.
func (r *Registry) Update(id string, p Patch) (*Agent, error) {
	e, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.deleted {
		return nil, notFound(id)
	}
	if p.Type != nil && !p.Type.Valid() {
		return nil, errors.UnprocessableConfig("type", "must be one of BaseAgent, VoiceAgent")
	}

	candidate := p.Config.Apply(e.agent.Config)
	if err := candidate.Validate(); err != nil {
		return nil, err
	}

	if p.Type != nil {
		e.agent.Type = *p.Type
	}
	e.agent.Config = candidate
	e.agent.UpdatedAt = time.Now().UTC()
	if evicted := e.stm.Resize(candidate.STMCapacity); len(evicted) > 0 {
		r.log.Debug("stm_evicted", map[string]interface{}{
			"agent_id": id,
			"count":    len(evicted),
		})
	}

	snapshot := e.agent
	r.pub.Publish(bus.AgentUpdated, snapshot)
	r.log.AgentChange("updated", id)

	return &snapshot, nil
}

// Delete removes the agent, cancels any in-flight think and waits, bounded
// by ctx, for it to release the think slot. A think can neither start nor
// commit on the agent afterwards.
func (r *Registry) Delete(ctx context.Context, id string) error {
	e, err := r.Lookup(id)
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.deleted {
		e.mu.Unlock()
		return notFound(id)
	}
	e.deleted = true
	e.mu.Unlock()

	e.cancel()

	// Commits record under e.mu and stop once deleted is set. The id stays
	// mapped until Forget returns, so a re-created agent's entries survive.
	if r.transcript != nil {
		if err := r.transcript.Forget(id); err != nil {
			r.log.Warn("transcript_forget_failed", map[string]interface{}{
				"agent_id": id,
				"error":    err.Error(),
			})
		}
	}

	r.mu.Lock()
	if r.agents[id] == e {
		delete(r.agents, id)
	}
	r.mu.Unlock()

	// The slot is kept for good once taken; the entry is dead.
	select {
	case e.slot <- struct{}{}:
	case <-ctx.Done():
		r.log.Warn("delete_drain_timeout", map[string]interface{}{
			"agent_id": id,
			"error":    ctx.Err().Error(),
		})
	}

	e.mu.Lock()
	snapshot := e.agent
	r.pub.Publish(bus.AgentDeleted, snapshot)
	e.mu.Unlock()

	r.log.AgentChange("deleted", id)
	if r.onDelete != nil {
		r.onDelete(id)
	}
	return nil
}

// MemoryView is an agent's short-term memory at a point in time.
type MemoryView struct {
	AgentID  string            `json:"agentId"`
	Capacity int               `json:"capacity"`
	Entries  []memory.Exchange `json:"entries"`
}

// Memory returns the agent's short-term memory, oldest first.
func (r *Registry) Memory(id string) (*MemoryView, error) {
	e, err := r.Lookup(id)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.deleted {
		return nil, notFound(id)
	}
	return &MemoryView{
		AgentID:  id,
		Capacity: e.stm.Cap(),
		Entries:  e.stm.Items(),
	}, nil
}

// Close cancels every agent context, aborting in-flight thinks.
func (r *Registry) Close() {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, e := range r.agents {
		e.cancel()
	}
}
