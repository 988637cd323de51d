package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/vinayprograms/callkit/logging"
)

// NATSRelay republishes bus events to a NATS server so that processes
// outside callkit can follow the event feed.
type NATSRelay struct {
	bus    *EventBus
	conn   *nats.Conn
	config NATSConfig
	log    *logging.Logger
}

// NATSConfig holds NATS connection configuration.
type NATSConfig struct {
	// URL is the NATS server URL (e.g., "nats://localhost:4222").
	URL string

	// Name is the client name for identification.
	Name string

	// Token for token-based auth.
	Token string

	// User and Password for basic auth.
	User     string
	Password string

	// ReconnectWait is the time to wait between reconnection attempts.
	ReconnectWait time.Duration

	// MaxReconnects is the maximum number of reconnection attempts.
	// -1 = unlimited
	MaxReconnects int

	// ConnectTimeout for initial connection.
	ConnectTimeout time.Duration

	// SubjectPrefix is prepended to the event type to form the subject.
	// Default: "callkit.events"
	SubjectPrefix string
}

// DefaultNATSConfig returns configuration with sensible defaults.
func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:            nats.DefaultURL,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1, // Unlimited
		ConnectTimeout: 5 * time.Second,
		SubjectPrefix:  "callkit.events",
	}
}

// NewNATSRelay connects to NATS. The relay does nothing until Run is called.
func NewNATSRelay(b *EventBus, cfg NATSConfig, log *logging.Logger) (*NATSRelay, error) {
	if cfg.URL == "" {
		cfg.URL = nats.DefaultURL
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultNATSConfig().SubjectPrefix
	}
	if log == nil {
		log = logging.Nop()
	}

	conn, err := nats.Connect(cfg.URL, buildNATSOptions(cfg)...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	return &NATSRelay{
		bus:    b,
		conn:   conn,
		config: cfg,
		log:    log.WithComponent("nats_relay"),
	}, nil
}

// buildNATSOptions constructs NATS connection options from config.
func buildNATSOptions(cfg NATSConfig) []nats.Option {
	opts := []nats.Option{
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.Timeout(cfg.ConnectTimeout),
	}

	if cfg.Name != "" {
		opts = append(opts, nats.Name(cfg.Name))
	}

	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	return opts
}

// Subject returns the NATS subject an event type is published on.
func (r *NATSRelay) Subject(eventType EventType) string {
	return subjectFor(r.config.SubjectPrefix, eventType)
}

func subjectFor(prefix string, eventType EventType) string {
	return prefix + "." + string(eventType)
}

// Run forwards live events until ctx is done or the bus closes.
func (r *NATSRelay) Run(ctx context.Context) error {
	sub, err := r.bus.Subscribe()
	if err != nil {
		return err
	}
	defer sub.Unsubscribe()

	r.log.Info("relay_started", map[string]interface{}{
		"url":    r.config.URL,
		"prefix": r.config.SubjectPrefix,
	})

	var reported uint64
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := r.forward(ev); err != nil {
				r.log.Warn("relay_publish_failed", map[string]interface{}{
					"event_id": ev.ID,
					"error":    err.Error(),
				})
			}
			if d := sub.Dropped(); d != reported {
				r.log.SubscriberDropped("nats_relay", d-reported)
				reported = d
			}
		}
	}
}

func (r *NATSRelay) forward(ev *Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %d: %w", ev.ID, err)
	}
	if r.conn.IsClosed() {
		return ErrClosed
	}
	if err := r.conn.Publish(r.Subject(ev.Type), data); err != nil {
		return fmt.Errorf("nats publish: %w", err)
	}
	return nil
}

// Close drains and closes the NATS connection.
func (r *NATSRelay) Close() error {
	if r.conn.IsClosed() {
		return nil
	}
	return r.conn.Drain()
}

// Conn returns the underlying NATS connection for advanced use.
func (r *NATSRelay) Conn() *nats.Conn {
	return r.conn
}
