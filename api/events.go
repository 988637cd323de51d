package api

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/vinayprograms/callkit/bus"
	"github.com/vinayprograms/callkit/errors"
	"github.com/vinayprograms/callkit/transport"
)

// subscribe honors Last-Event-ID or lastEventId for replay.
func (s *Server) subscribe(c *gin.Context) (bus.Subscription, error) {
	lastID, ok, err := transport.LastEventID(c.Request)
	if err != nil {
		return nil, errors.InvalidInput("Last-Event-ID must be a non-negative integer", errors.WithCause(err))
	}
	if ok {
		return s.deps.Events.SubscribeFrom(lastID)
	}
	return s.deps.Events.Subscribe()
}

// streamContext ends with the request or when CloseStreams is called.
func (s *Server) streamContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	stop := context.AfterFunc(s.streams, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (s *Server) streamEvents(c *gin.Context) {
	sub, err := s.subscribe(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	defer sub.Unsubscribe()

	ctx, cancel := s.streamContext(c.Request.Context())
	defer cancel()

	err = transport.ServeSSE(c.Writer, c.Request.WithContext(ctx), sub, s.opts.SSE)
	s.streamEnded("sse", sub, err)
}

func (s *Server) socketEvents(c *gin.Context) {
	sub, err := s.subscribe(c)
	if err != nil {
		s.writeError(c, err)
		return
	}
	defer sub.Unsubscribe()

	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// The upgrader has already written the HTTP error.
		s.log.Debug("websocket_upgrade_failed", map[string]interface{}{"error": err.Error()})
		return
	}

	ctx, cancel := s.streamContext(c.Request.Context())
	defer cancel()

	err = transport.ServeWebSocket(ctx, conn, sub, s.opts.WebSocket)
	s.streamEnded("websocket", sub, err)
}

func (s *Server) streamEnded(kind string, sub bus.Subscription, err error) {
	if dropped := sub.Dropped(); dropped > 0 {
		s.log.SubscriberDropped(kind, dropped)
	}
	if err != nil && err != transport.ErrClosed {
		s.log.Debug("stream_ended", map[string]interface{}{
			"transport": kind,
			"error":     err.Error(),
		})
	}
}
