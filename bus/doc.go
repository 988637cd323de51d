// Package bus provides the ordered event log that every callkit state change
// is published on.
//
// Events get a gap-free, monotonically increasing id at publish time and are
// fanned out to subscribers through bounded per-subscriber queues. A retention
// ring allows late subscribers to replay everything after a known id.
//
// # Delivery
//
// Publish never blocks on a consumer. Each subscriber owns a bounded queue
// and a goroutine that forwards the queue to its Events channel. When a
// queue is full the oldest queued event is discarded and the subscriber's
// Dropped counter grows, so a slow consumer sees an id gap instead of
// stalling publishers.
//
// # Replay
//
// SubscribeFrom snapshots the retention ring and registers the subscriber
// under the same lock that assigns ids:
//
//	sub, _ := b.SubscribeFrom(lastSeen)
//	defer sub.Unsubscribe()
//	for ev := range sub.Events() {
//	    // ev.ID is lastSeen+1, lastSeen+2, ...
//	}
//
// If lastSeen is older than the oldest retained event, replay starts at the
// oldest retained event.
//
// # Relaying
//
// NATSRelay mirrors live events to "<prefix>.<event type>" subjects.
package bus
