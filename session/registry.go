package session

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vinayprograms/callkit/bus"
	"github.com/vinayprograms/callkit/errors"
	"github.com/vinayprograms/callkit/logging"
)

// AgentLookup resolves agent bindings on accounts.
type AgentLookup interface {
	Exists(id string) bool
}

// Registry owns accounts and calls.
type Registry struct {
	// mu guards both maps. It is never held while waiting on an entity lock.
	mu       sync.RWMutex
	accounts map[string]*accountEntry
	calls    map[int64]*callEntry

	lastCallID atomic.Int64
	active     atomic.Int64

	pub    bus.Publisher
	agents AgentLookup
	log    *logging.Logger
}

type accountEntry struct {
	mu      sync.Mutex
	account Account
	active  *callEntry
	deleted bool
}

type callEntry struct {
	mu      sync.Mutex
	call    Call
	account *accountEntry
}

// NewRegistry creates an empty registry. agents may be nil, in which case
// agent bindings are not checked.
func NewRegistry(pub bus.Publisher, agents AgentLookup, log *logging.Logger) *Registry {
	if log == nil {
		log = logging.Nop()
	}
	return &Registry{
		accounts: make(map[string]*accountEntry),
		calls:    make(map[int64]*callEntry),
		pub:      pub,
		agents:   agents,
		log:      log.WithComponent("session"),
	}
}

func accountNotFound(id string) *errors.Error {
	return errors.NotFound("account "+id+" not found", errors.WithEntityID(id))
}

func callNotFound(id int64) *errors.Error {
	return errors.NotFound(fmt.Sprintf("call %d not found", id), errors.WithEntityID(fmt.Sprint(id)))
}

func (r *Registry) checkAgent(agentID string) error {
	if agentID == "" || r.agents == nil {
		return nil
	}
	if !r.agents.Exists(agentID) {
		return errors.NotFound("agent "+agentID+" not found", errors.WithEntityID(agentID))
	}
	return nil
}

// snapshot copies the account. Caller holds a.mu.
func (a *accountEntry) snapshot() Account {
	acct := a.account
	if a.active != nil {
		acct.ActiveCallID = a.active.call.ID
	}
	return acct
}

// CreateAccount registers a new account. The account starts registered.
func (r *Registry) CreateAccount(spec AccountSpec) (*Account, error) {
	spec = spec.Normalize()
	if spec.Domain == "" || spec.Username == "" {
		return nil, errors.InvalidInput("domain and username are required")
	}
	if strings.Contains(spec.Username, "@") {
		return nil, errors.InvalidInput("username must not contain '@'")
	}
	if err := r.checkAgent(spec.AgentID); err != nil {
		return nil, err
	}

	id := AccountID(spec.Username, spec.Domain)
	now := time.Now().UTC()
	a := &accountEntry{
		account: Account{
			ID:           id,
			Domain:       spec.Domain,
			Username:     spec.Username,
			Password:     spec.Password,
			RegistrarURI: spec.RegistrarURI,
			AgentID:      spec.AgentID,
			Status:       StatusRegistered,
			CreatedAt:    now,
			UpdatedAt:    now,
		},
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	r.mu.Lock()
	if _, exists := r.accounts[id]; exists {
		r.mu.Unlock()
		return nil, errors.Conflict("account "+id+" already exists", errors.WithEntityID(id))
	}
	r.accounts[id] = a
	r.mu.Unlock()

	snapshot := a.snapshot()
	r.pub.Publish(bus.AccountCreated, snapshot)
	r.log.AccountChange("created", id)

	return &snapshot, nil
}

func (r *Registry) lookupAccount(id string) (*accountEntry, error) {
	r.mu.RLock()
	a, ok := r.accounts[id]
	r.mu.RUnlock()
	if !ok {
		return nil, accountNotFound(id)
	}
	return a, nil
}

// GetAccount returns a copy of the account.
func (r *Registry) GetAccount(id string) (*Account, error) {
	a, err := r.lookupAccount(id)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.deleted {
		return nil, accountNotFound(id)
	}
	snapshot := a.snapshot()
	return &snapshot, nil
}

// ListAccounts returns every account sorted by id.
func (r *Registry) ListAccounts() []Account {
	r.mu.RLock()
	entries := make([]*accountEntry, 0, len(r.accounts))
	for _, a := range r.accounts {
		entries = append(entries, a)
	}
	r.mu.RUnlock()

	out := make([]Account, 0, len(entries))
	for _, a := range entries {
		a.mu.Lock()
		if !a.deleted {
			out = append(out, a.snapshot())
		}
		a.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// UpdateAccount replaces the mutable fields of an account. The identity
// fields may be repeated in spec but must not change.
func (r *Registry) UpdateAccount(id string, spec AccountSpec) (*Account, error) {
	spec = spec.Normalize()

	a, err := r.lookupAccount(id)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.deleted {
		return nil, accountNotFound(id)
	}
	if spec.Domain != "" && spec.Domain != a.account.Domain {
		return nil, errors.InvalidInput("domain cannot change; it is part of the account id")
	}
	if spec.Username != "" && spec.Username != a.account.Username {
		return nil, errors.InvalidInput("username cannot change; it is part of the account id")
	}
	if err := r.checkAgent(spec.AgentID); err != nil {
		return nil, err
	}

	a.account.Password = spec.Password
	a.account.RegistrarURI = spec.RegistrarURI
	a.account.AgentID = spec.AgentID
	a.account.UpdatedAt = time.Now().UTC()

	snapshot := a.snapshot()
	r.pub.Publish(bus.AccountUpdated, snapshot)
	r.log.AccountChange("updated", id)

	return &snapshot, nil
}

// UnbindAgent clears agentID from every account bound to it and publishes
// account_updated for each. It does nothing while an agent with that id is
// registered. Calls already placed keep the id they were placed with.
func (r *Registry) UnbindAgent(agentID string) int {
	if agentID == "" || (r.agents != nil && r.agents.Exists(agentID)) {
		return 0
	}

	r.mu.RLock()
	entries := make([]*accountEntry, 0, len(r.accounts))
	for _, a := range r.accounts {
		entries = append(entries, a)
	}
	r.mu.RUnlock()

	unbound := 0
	for _, a := range entries {
		a.mu.Lock()
		if !a.deleted && a.account.AgentID == agentID {
			a.account.AgentID = ""
			a.account.UpdatedAt = time.Now().UTC()
			snapshot := a.snapshot()
			r.pub.Publish(bus.AccountUpdated, snapshot)
			r.log.AccountChange("agent_unbound", snapshot.ID)
			unbound++
		}
		a.mu.Unlock()
	}
	return unbound
}

// SetStatus records a registration outcome reported by signaling.
func (r *Registry) SetStatus(id string, status AccountStatus) (*Account, error) {
	if !status.Valid() {
		return nil, errors.InvalidInput(fmt.Sprintf("unknown account status %q", status))
	}

	a, err := r.lookupAccount(id)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.deleted {
		return nil, accountNotFound(id)
	}
	if a.account.Status == status {
		snapshot := a.snapshot()
		return &snapshot, nil
	}

	a.account.Status = status
	a.account.UpdatedAt = time.Now().UTC()

	snapshot := a.snapshot()
	r.pub.Publish(bus.AccountUpdated, snapshot)
	r.log.AccountChange("status_"+string(status), id)

	return &snapshot, nil
}

// DeleteAccount removes an account, terminating its active call first.
func (r *Registry) DeleteAccount(id string) error {
	r.mu.Lock()
	a, ok := r.accounts[id]
	if ok {
		delete(r.accounts, id)
	}
	r.mu.Unlock()

	if !ok {
		return accountNotFound(id)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.deleted = true
	if c := a.active; c != nil {
		c.mu.Lock()
		r.terminate(a, c)
		c.mu.Unlock()
	}

	r.pub.Publish(bus.AccountDeleted, a.snapshot())
	r.log.AccountChange("deleted", id)
	return nil
}

// MakeCall places a call from accountID. It returns as soon as the call is
// recorded as initiated.
func (r *Registry) MakeCall(accountID, destURI string) (*Call, error) {
	destURI = strings.TrimSpace(destURI)
	if destURI == "" {
		return nil, errors.InvalidInput("destUri is required")
	}

	a, err := r.lookupAccount(accountID)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.deleted {
		return nil, accountNotFound(accountID)
	}
	if a.active != nil {
		return nil, errors.Conflict(
			fmt.Sprintf("account %s already has active call %d", accountID, a.active.call.ID),
			errors.WithEntityID(accountID),
		)
	}

	c := &callEntry{
		call: Call{
			ID:        r.lastCallID.Add(1),
			AccountID: accountID,
			DestURI:   destURI,
			AgentID:   a.account.AgentID,
			State:     CallInitiated,
			StartedAt: time.Now().UTC(),
		},
		account: a,
	}

	r.mu.Lock()
	r.calls[c.call.ID] = c
	r.mu.Unlock()

	a.active = c
	r.active.Add(1)

	snapshot := c.call
	r.pub.Publish(bus.CallInitiated, snapshot)
	r.log.CallTransition(snapshot.ID, accountID, "", string(CallInitiated))

	return &snapshot, nil
}

func (r *Registry) lookupCall(id int64) (*callEntry, error) {
	r.mu.RLock()
	c, ok := r.calls[id]
	r.mu.RUnlock()
	if !ok {
		return nil, callNotFound(id)
	}
	return c, nil
}

// lockCall takes the owning account lock, then the call lock.
func lockCall(c *callEntry) func() {
	c.account.mu.Lock()
	c.mu.Lock()
	return func() {
		c.mu.Unlock()
		c.account.mu.Unlock()
	}
}

// Connect marks an initiated call as answered.
func (r *Registry) Connect(id int64) (*Call, error) {
	c, err := r.lookupCall(id)
	if err != nil {
		return nil, err
	}

	unlock := lockCall(c)
	defer unlock()

	if c.call.State != CallInitiated {
		return nil, errors.Conflict(
			fmt.Sprintf("call %d is %s", id, c.call.State),
			errors.WithEntityID(fmt.Sprint(id)),
		)
	}

	c.call.State = CallConnected

	snapshot := c.call
	r.pub.Publish(bus.CallConnected, snapshot)
	r.log.CallTransition(id, snapshot.AccountID, string(CallInitiated), string(CallConnected))

	return &snapshot, nil
}

// Hangup terminates a call. A terminated call cannot be hung up again.
func (r *Registry) Hangup(id int64) (*Call, error) {
	c, err := r.lookupCall(id)
	if err != nil {
		return nil, err
	}

	unlock := lockCall(c)
	defer unlock()

	if c.call.State == CallTerminated {
		return nil, errors.Conflict(
			fmt.Sprintf("call %d already terminated", id),
			errors.WithEntityID(fmt.Sprint(id)),
		)
	}

	r.terminate(c.account, c)
	snapshot := c.call
	return &snapshot, nil
}

// terminate ends a live call. Caller holds a.mu and c.mu.
func (r *Registry) terminate(a *accountEntry, c *callEntry) {
	from := c.call.State
	now := time.Now().UTC()
	c.call.State = CallTerminated
	c.call.EndedAt = &now

	if a.active == c {
		a.active = nil
		r.active.Add(-1)
	}

	r.pub.Publish(bus.CallTerminated, c.call)
	r.log.CallTransition(c.call.ID, c.call.AccountID, string(from), string(CallTerminated))
}

// GetCall returns a copy of the call.
func (r *Registry) GetCall(id int64) (*Call, error) {
	c, err := r.lookupCall(id)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	snapshot := c.call
	return &snapshot, nil
}

// ListCalls returns every call sorted by id.
func (r *Registry) ListCalls() []Call {
	r.mu.RLock()
	entries := make([]*callEntry, 0, len(r.calls))
	for _, c := range r.calls {
		entries = append(entries, c)
	}
	r.mu.RUnlock()

	out := make([]Call, 0, len(entries))
	for _, c := range entries {
		c.mu.Lock()
		out = append(out, c.call)
		c.mu.Unlock()
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ActiveCalls returns the number of calls that have not terminated.
func (r *Registry) ActiveCalls() int {
	return int(r.active.Load())
}
