package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vinayprograms/callkit/bus"
)

// WebSocketConfig holds WebSocket transport configuration.
type WebSocketConfig struct {
	// WriteTimeout for write operations.
	WriteTimeout time.Duration `mapstructure:"write_timeout" toml:"write_timeout"`

	// PingInterval for keepalive pings (0 = disabled). The peer must answer
	// within two intervals or the connection is dropped.
	PingInterval time.Duration `mapstructure:"ping_interval" toml:"ping_interval"`

	// MaxMessageSize limits incoming message size. Clients only send
	// control frames, so this stays small.
	MaxMessageSize int64 `mapstructure:"max_message_size" toml:"max_message_size"`

	// AllowedOrigins lists origins accepted on upgrade. Empty allows any.
	AllowedOrigins []string `mapstructure:"allowed_origins" toml:"allowed_origins"`
}

// DefaultWebSocketConfig returns configuration with sensible defaults.
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 4096,
	}
}

// NewWebSocketUpgrader creates an upgrader for accepting event stream connections.
func NewWebSocketUpgrader(cfg WebSocketConfig) *websocket.Upgrader {
	allowed := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		allowed[o] = true
	}
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 || allowed["*"] {
				return true
			}
			return allowed[r.Header.Get("Origin")]
		},
	}
}

// ServeWebSocket writes each event from sub as a JSON text frame until ctx
// ends, the peer disconnects, or the subscription closes. It closes conn
// before returning.
func ServeWebSocket(ctx context.Context, conn *websocket.Conn, sub bus.Subscription, cfg WebSocketConfig) error {
	defer conn.Close()

	if cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(cfg.MaxMessageSize)
	}
	if cfg.PingInterval > 0 {
		conn.SetReadDeadline(time.Now().Add(2 * cfg.PingInterval))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(2 * cfg.PingInterval))
		})
	}

	// The reader only services control frames and notices disconnects.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	var ping <-chan time.Time
	if cfg.PingInterval > 0 {
		ticker := time.NewTicker(cfg.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			closeNormal(conn, "server shutting down")
			return nil

		case <-gone:
			return nil

		case <-ping:
			deadline := time.Now().Add(time.Second)
			if cfg.WriteTimeout > 0 {
				deadline = time.Now().Add(cfg.WriteTimeout)
			}
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return err
			}

		case ev, ok := <-sub.Events():
			if !ok {
				closeNormal(conn, "subscription closed")
				return ErrClosed
			}
			data, err := MarshalEvent(ev)
			if err != nil {
				return err
			}
			if cfg.WriteTimeout > 0 {
				conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return err
			}
		}
	}
}

func closeNormal(conn *websocket.Conn, reason string) {
	conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
		time.Now().Add(time.Second),
	)
}
