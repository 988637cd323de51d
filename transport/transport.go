package transport

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/vinayprograms/callkit/bus"
)

// Common errors.
var (
	// ErrClosed is returned when the subscription ends under the writer.
	ErrClosed = errors.New("transport closed")

	// ErrStreamingUnsupported is returned when the ResponseWriter cannot flush.
	ErrStreamingUnsupported = errors.New("streaming not supported")
)

// MarshalEvent encodes an event as it appears on every transport.
func MarshalEvent(ev *bus.Event) ([]byte, error) {
	return json.Marshal(ev)
}

// LastEventID returns the id a reconnecting client saw last. The
// Last-Event-ID header wins over the lastEventId query parameter. ok is
// false when neither is present; an unparsable value is an error.
func LastEventID(r *http.Request) (id uint64, ok bool, err error) {
	raw := strings.TrimSpace(r.Header.Get("Last-Event-ID"))
	if raw == "" {
		raw = strings.TrimSpace(r.URL.Query().Get("lastEventId"))
	}
	if raw == "" {
		return 0, false, nil
	}
	id, err = strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false, err
	}
	return id, true, nil
}
