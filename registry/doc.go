// Package registry owns callkit agents: their validated configuration,
// their short-term memory and the think slot that serializes work on them.
//
// # Configuration
//
// Create and update bodies are decoded field by field, so a value of the
// wrong JSON type is reported as an UnprocessableConfig error naming the
// field rather than as a decode failure:
//
//	req, err := registry.ParseCreate(body)
//	agent, err := reg.Create(req.ID, req.Patch)
//
// Updates are merge patches. Top-level fields replace, voice fields merge,
// and the whole merged config is validated before it is applied.
//
// # Locking
//
// The registry map lock is held only for lookup, insert and delete. Each
// Entry has its own mutex covering config, memory and commits, plus a
// one-slot channel claimed for the duration of a think:
//
//	e, _ := reg.Lookup(id)
//	release, err := e.TryAcquire() // Busy if a think is running
//	defer release()
//
// Delete tombstones the entry, cancels Entry.Context and waits for the
// slot, so a think in flight during delete never commits.
package registry
