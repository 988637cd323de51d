package transport

import (
	"fmt"
	"net/http"
	"time"

	"github.com/vinayprograms/callkit/bus"
)

// SSEConfig holds SSE transport configuration.
type SSEConfig struct {
	// HeartbeatInterval sends SSE comments as keepalive (0 = disabled).
	HeartbeatInterval time.Duration `mapstructure:"heartbeat_interval" toml:"heartbeat_interval"`

	// RetryInterval is sent once as the client reconnect hint (0 = omit).
	RetryInterval time.Duration `mapstructure:"retry_interval" toml:"retry_interval"`
}

// DefaultSSEConfig returns configuration with sensible defaults.
func DefaultSSEConfig() SSEConfig {
	return SSEConfig{
		HeartbeatInterval: 15 * time.Second,
		RetryInterval:     2 * time.Second,
	}
}

// ServeSSE streams sub to w until the request ends or the subscription
// closes. Events lost to a slow connection are reported in a ": dropped N"
// comment before the next event.
func ServeSSE(w http.ResponseWriter, r *http.Request, sub bus.Subscription, cfg SSEConfig) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return ErrStreamingUnsupported
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)

	if cfg.RetryInterval > 0 {
		fmt.Fprintf(w, "retry: %d\n\n", cfg.RetryInterval.Milliseconds())
	}
	// Flush headers immediately to establish connection
	flusher.Flush()

	var heartbeat <-chan time.Time
	if cfg.HeartbeatInterval > 0 {
		ticker := time.NewTicker(cfg.HeartbeatInterval)
		defer ticker.Stop()
		heartbeat = ticker.C
	}

	var reported uint64
	for {
		select {
		case <-r.Context().Done():
			return nil

		case <-heartbeat:
			if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
				return err
			}
			flusher.Flush()

		case ev, ok := <-sub.Events():
			if !ok {
				return ErrClosed
			}
			if dropped := sub.Dropped(); dropped > reported {
				fmt.Fprintf(w, ": dropped %d\n\n", dropped-reported)
				reported = dropped
			}
			if err := writeSSEEvent(w, ev); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}

func writeSSEEvent(w http.ResponseWriter, ev *bus.Event) error {
	data, err := MarshalEvent(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "id: %d\ndata: %s\n\n", ev.ID, data)
	return err
}
