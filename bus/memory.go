package bus

import (
	"sync"
	"sync/atomic"
	"time"
)

// Observer receives bus statistics. Implementations must be cheap and
// non-blocking; hooks run inside the publish critical section.
type Observer interface {
	EventPublished(eventType EventType)
	EventDropped()
	SubscribersChanged(count int)
}

// EventBus is the in-process event log with live fan-out and replay.
// It is safe for concurrent use.
type EventBus struct {
	config Config

	// mu covers id assignment, the retention ring and the subscriber set.
	// Nothing inside it blocks: delivery is a non-blocking enqueue.
	mu       sync.Mutex
	nextID   uint64
	ring     []*Event
	head     int // index of the oldest retained event once the ring is full
	subs     map[uint64]*memorySub
	subSeq   uint64
	observer Observer

	closed atomic.Bool
}

type memorySub struct {
	id      uint64
	bus     *EventBus
	queue   chan *Event // filled by publishers, bounded
	out     chan *Event // read by the consumer
	backlog []*Event
	done    chan struct{}
	closed  atomic.Bool
	dropped atomic.Uint64
}

// New creates a new event bus.
func New(cfg Config) *EventBus {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultConfig().BufferSize
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultConfig().Retention
	}

	return &EventBus{
		config: cfg,
		ring:   make([]*Event, 0, min(cfg.Retention, 1024)),
		subs:   make(map[uint64]*memorySub),
	}
}

// SetObserver installs a statistics hook. Call before the bus is shared.
func (b *EventBus) SetObserver(o Observer) {
	b.mu.Lock()
	b.observer = o
	b.mu.Unlock()
}

// Publish assigns the next id, retains the event and enqueues it for every
// current subscriber. It never blocks on a subscriber and never fails.
func (b *EventBus) Publish(eventType EventType, payload interface{}) *Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	ev := &Event{
		ID:        b.nextID,
		Type:      eventType,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	b.retain(ev)

	if b.observer != nil {
		b.observer.EventPublished(eventType)
	}

	for _, sub := range b.subs {
		if lost := sub.enqueue(ev); lost > 0 && b.observer != nil {
			for i := 0; i < lost; i++ {
				b.observer.EventDropped()
			}
		}
	}

	return ev
}

// retain appends ev to the ring, overwriting the oldest entry when full.
func (b *EventBus) retain(ev *Event) {
	if len(b.ring) < b.config.Retention {
		b.ring = append(b.ring, ev)
		return
	}
	b.ring[b.head] = ev
	b.head = (b.head + 1) % len(b.ring)
}

// since returns retained events with id > lastID in id order. Caller holds mu.
func (b *EventBus) since(lastID uint64) []*Event {
	n := len(b.ring)
	if n == 0 || lastID >= b.nextID {
		return nil
	}

	oldest := b.ring[b.head].ID
	start := 0
	if lastID >= oldest {
		start = int(lastID - oldest + 1)
	}

	out := make([]*Event, 0, n-start)
	for i := start; i < n; i++ {
		out = append(out, b.ring[(b.head+i)%n])
	}
	return out
}

// Since returns the retained events with id > lastID.
func (b *EventBus) Since(lastID uint64) []*Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.since(lastID)
}

// LastID returns the id of the most recently published event (0 if none).
func (b *EventBus) LastID() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextID
}

// SubscriberCount returns the number of live subscriptions.
func (b *EventBus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Subscribe registers a listener for events published after this call.
func (b *EventBus) Subscribe() (Subscription, error) {
	return b.subscribe(false, 0)
}

// SubscribeFrom registers a listener that first receives every retained event
// with id > lastID and then live events, without gaps or duplicates between
// the two phases.
func (b *EventBus) SubscribeFrom(lastID uint64) (Subscription, error) {
	return b.subscribe(true, lastID)
}

func (b *EventBus) subscribe(replay bool, lastID uint64) (Subscription, error) {
	if b.closed.Load() {
		return nil, ErrClosed
	}

	sub := &memorySub{
		bus:   b,
		queue: make(chan *Event, b.config.BufferSize),
		out:   make(chan *Event),
		done:  make(chan struct{}),
	}

	// Snapshot and registration share one critical section, so the first
	// live event is exactly the one after the last replayed event.
	b.mu.Lock()
	if b.closed.Load() {
		b.mu.Unlock()
		return nil, ErrClosed
	}
	if replay {
		sub.backlog = b.since(lastID)
	}
	b.subSeq++
	sub.id = b.subSeq
	b.subs[sub.id] = sub
	if b.observer != nil {
		b.observer.SubscribersChanged(len(b.subs))
	}
	b.mu.Unlock()

	go sub.run()

	return sub, nil
}

// Close shuts down the bus and ends every subscription.
func (b *EventBus) Close() error {
	if b.closed.Swap(true) {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for id, sub := range b.subs {
		sub.stop()
		delete(b.subs, id)
	}
	if b.observer != nil {
		b.observer.SubscribersChanged(0)
	}

	return nil
}

// enqueue adds ev to the subscriber queue, discarding the oldest queued
// event when full. Returns how many events were lost. Called with bus.mu
// held, so there is a single producer per queue.
func (s *memorySub) enqueue(ev *Event) int {
	select {
	case s.queue <- ev:
		return 0
	default:
	}

	lost := 0
	select {
	case <-s.queue:
		lost++
	default:
	}

	select {
	case s.queue <- ev:
	default:
		lost++
	}

	s.dropped.Add(uint64(lost))
	return lost
}

// run forwards the replay backlog and then live events to the consumer.
func (s *memorySub) run() {
	defer close(s.out)

	for _, ev := range s.backlog {
		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
	s.backlog = nil

	for {
		select {
		case ev := <-s.queue:
			select {
			case s.out <- ev:
			case <-s.done:
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *memorySub) stop() {
	if s.closed.Swap(true) {
		return
	}
	close(s.done)
}

// Events returns the event channel.
func (s *memorySub) Events() <-chan *Event {
	return s.out
}

// Dropped returns how many events this subscriber lost to overflow.
func (s *memorySub) Dropped() uint64 {
	return s.dropped.Load()
}

// Unsubscribe cancels the subscription.
func (s *memorySub) Unsubscribe() error {
	if s.closed.Load() {
		return nil
	}

	b := s.bus
	b.mu.Lock()
	delete(b.subs, s.id)
	if b.observer != nil {
		b.observer.SubscribersChanged(len(b.subs))
	}
	b.mu.Unlock()

	s.stop()
	return nil
}
