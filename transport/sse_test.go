package transport

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/vinayprograms/callkit/bus"
)

// sseServer streams the bus from the client's Last-Event-ID.
func sseServer(t *testing.T, b *bus.EventBus, cfg SSEConfig) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		lastID, ok, err := LastEventID(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var sub bus.Subscription
		if ok {
			sub, err = b.SubscribeFrom(lastID)
		} else {
			sub, err = b.Subscribe()
		}
		if err != nil {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		defer sub.Unsubscribe()
		ServeSSE(w, r, sub, cfg)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type sseFrame struct {
	id      string
	data    string
	comment string
}

// readFrame reads lines up to the next blank line.
func readFrame(t *testing.T, r *bufio.Reader) sseFrame {
	t.Helper()
	var f sseFrame
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		line = strings.TrimRight(line, "\n")
		switch {
		case line == "":
			return f
		case strings.HasPrefix(line, "id: "):
			f.id = strings.TrimPrefix(line, "id: ")
		case strings.HasPrefix(line, "data: "):
			f.data = strings.TrimPrefix(line, "data: ")
		case strings.HasPrefix(line, ":"):
			f.comment = strings.TrimSpace(strings.TrimPrefix(line, ":"))
		}
	}
}

func openStream(t *testing.T, ctx context.Context, url string, header map[string]string) *bufio.Reader {
	t.Helper()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}
	return bufio.NewReader(resp.Body)
}

// --- Unit Tests ---

func TestSSEConfig_Defaults(t *testing.T) {
	cfg := DefaultSSEConfig()
	if cfg.HeartbeatInterval != 15*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 15s", cfg.HeartbeatInterval)
	}
}

func TestLastEventID(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		query   string
		wantID  uint64
		wantOK  bool
		wantErr bool
	}{
		{"none", "", "", 0, false, false},
		{"header", "42", "", 42, true, false},
		{"query", "", "7", 7, true, false},
		{"header wins", "5", "9", 5, true, false},
		{"zero", "0", "", 0, true, false},
		{"garbage", "abc", "", 0, false, true},
		{"negative", "-1", "", 0, false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			url := "/events"
			if tt.query != "" {
				url += "?lastEventId=" + tt.query
			}
			r := httptest.NewRequest(http.MethodGet, url, nil)
			if tt.header != "" {
				r.Header.Set("Last-Event-ID", tt.header)
			}
			id, ok, err := LastEventID(r)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if id != tt.wantID || ok != tt.wantOK {
				t.Errorf("LastEventID() = %d, %v; want %d, %v", id, ok, tt.wantID, tt.wantOK)
			}
		})
	}
}

// --- Integration Tests ---

func TestServeSSE_LiveEvents(t *testing.T) {
	b := bus.New(bus.DefaultConfig())
	defer b.Close()
	srv := sseServer(t, b, SSEConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r := openStream(t, ctx, srv.URL, nil)

	// Wait for the handler to register before publishing.
	deadline := time.Now().Add(2 * time.Second)
	for b.SubscriberCount() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	b.Publish(bus.AccountCreated, map[string]string{"accountId": "alice@example.com"})

	f := readFrame(t, r)
	if f.id != "1" {
		t.Errorf("id = %q, want 1", f.id)
	}
	var ev struct {
		ID      uint64            `json:"id"`
		Type    string            `json:"type"`
		Payload map[string]string `json:"payload"`
	}
	if err := json.Unmarshal([]byte(f.data), &ev); err != nil {
		t.Fatalf("data is not JSON: %v (%q)", err, f.data)
	}
	if ev.ID != 1 || ev.Type != "account_created" || ev.Payload["accountId"] != "alice@example.com" {
		t.Errorf("event = %+v", ev)
	}
}

func TestServeSSE_ReplayFromLastEventID(t *testing.T) {
	b := bus.New(bus.DefaultConfig())
	defer b.Close()
	for i := 0; i < 5; i++ {
		b.Publish(bus.CallInitiated, i)
	}
	srv := sseServer(t, b, SSEConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r := openStream(t, ctx, srv.URL, map[string]string{"Last-Event-ID": "3"})

	for _, want := range []string{"4", "5"} {
		if f := readFrame(t, r); f.id != want {
			t.Errorf("id = %q, want %s", f.id, want)
		}
	}

	b.Publish(bus.CallTerminated, 99)
	if f := readFrame(t, r); f.id != "6" {
		t.Errorf("live id = %q, want 6", f.id)
	}
}

func TestServeSSE_RetryAndHeartbeat(t *testing.T) {
	b := bus.New(bus.DefaultConfig())
	defer b.Close()
	srv := sseServer(t, b, SSEConfig{HeartbeatInterval: 20 * time.Millisecond, RetryInterval: 1500 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r := openStream(t, ctx, srv.URL, nil)

	line, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if line != "retry: 1500\n" {
		t.Errorf("first line = %q", line)
	}
	readFrame(t, r) // blank line after retry

	if f := readFrame(t, r); f.comment != "heartbeat" {
		t.Errorf("frame = %+v, want heartbeat comment", f)
	}
}

func TestServeSSE_EndsWhenBusCloses(t *testing.T) {
	b := bus.New(bus.DefaultConfig())
	sub, err := b.Subscribe()
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	done := make(chan error, 1)
	go func() {
		rec := httptest.NewRecorder()
		done <- ServeSSE(rec, httptest.NewRequest(http.MethodGet, "/events", nil), sub, SSEConfig{})
	}()

	b.Close()
	select {
	case err := <-done:
		if err != ErrClosed {
			t.Errorf("ServeSSE() = %v, want ErrClosed", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ServeSSE did not return after bus close")
	}
}
