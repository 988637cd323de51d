// Package transport streams event bus subscriptions to HTTP clients.
//
// Two transports are provided, both fed by a bus.Subscription:
//
//   - ServeSSE writes Server-Sent Events: one "id: N" line and one JSON
//     "data:" line per event, plus ": heartbeat" comments while idle.
//   - ServeWebSocket writes one JSON text frame per event and keeps the
//     connection alive with pings.
//
// Reconnecting SSE clients resume from the Last-Event-ID header (or the
// lastEventId query parameter); see LastEventID.
//
// # Usage
//
//	sub, err := events.SubscribeFrom(lastID)
//	if err != nil {
//	    return err
//	}
//	defer sub.Unsubscribe()
//	err = transport.ServeSSE(w, r, sub, transport.DefaultSSEConfig())
//
// The caller owns the subscription. Both transports return when the client
// goes away, the subscription ends, or a write fails.
package transport
