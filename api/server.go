// Package api serves callkit's HTTP interface with gin.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/vinayprograms/callkit/bus"
	"github.com/vinayprograms/callkit/logging"
	"github.com/vinayprograms/callkit/memory"
	"github.com/vinayprograms/callkit/registry"
	"github.com/vinayprograms/callkit/session"
	"github.com/vinayprograms/callkit/telemetry"
	"github.com/vinayprograms/callkit/think"
	"github.com/vinayprograms/callkit/transport"
)

// Thinker runs a think for an agent.
type Thinker interface {
	Think(ctx context.Context, agentID, input string) (*think.Result, error)
}

// Deps are the components the API serves. Sessions, Agents, Thinker and
// Events are required.
type Deps struct {
	Sessions   *session.Registry
	Agents     *registry.Registry
	Thinker    Thinker
	Events     *bus.EventBus
	Transcript *memory.Transcript // optional; search returns no hits without it
	Metrics    *telemetry.Metrics // optional; /metrics is not routed without it
	Logger     *logging.Logger
}

// Options tune the HTTP layer.
type Options struct {
	Version     string
	CORSOrigins []string
	SSE         transport.SSEConfig
	WebSocket   transport.WebSocketConfig

	// DeleteTimeout bounds how long DELETE /agents/{id} waits for an
	// in-flight think to drain.
	DeleteTimeout time.Duration
}

// Server routes requests to the registries.
type Server struct {
	deps     Deps
	opts     Options
	log      *logging.Logger
	router   *gin.Engine
	upgrader *websocket.Upgrader
	started  time.Time

	// streams is canceled by CloseStreams to end every SSE and WebSocket
	// handler.
	streams     context.Context
	stopStreams context.CancelFunc
}

// New builds the router.
func New(deps Deps, opts Options) *Server {
	if deps.Logger == nil {
		deps.Logger = logging.Nop()
	}
	if opts.DeleteTimeout <= 0 {
		opts.DeleteTimeout = 5 * time.Second
	}

	streams, stop := context.WithCancel(context.Background())
	s := &Server{
		deps:        deps,
		opts:        opts,
		log:         deps.Logger.WithComponent("api"),
		upgrader:    transport.NewWebSocketUpgrader(opts.WebSocket),
		started:     time.Now(),
		streams:     streams,
		stopStreams: stop,
	}

	r := gin.New()
	r.Use(s.recovery())
	r.Use(requestID())
	r.Use(s.requestLogger())
	if deps.Metrics != nil {
		r.Use(requestMetrics(deps.Metrics))
	}
	if mw := corsMiddleware(opts.CORSOrigins); mw != nil {
		r.Use(mw)
	}
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found", "kind": "NotFound"})
	})

	s.router = r
	s.registerRoutes()
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// CloseStreams ends every open event stream. Call it before shutting the
// HTTP server down.
func (s *Server) CloseStreams() {
	s.stopStreams()
}

func (s *Server) registerRoutes() {
	r := s.router

	r.GET("/status", s.status)

	r.POST("/accounts", s.createAccount)
	r.GET("/accounts", s.listAccounts)
	r.GET("/accounts/:accountId", s.getAccount)
	r.PUT("/accounts/:accountId", s.updateAccount)
	r.DELETE("/accounts/:accountId", s.deleteAccount)

	r.POST("/calls/make", s.makeCall)
	r.POST("/calls/hangup", s.hangupCall)
	r.GET("/calls", s.listCalls)
	r.GET("/calls/:callId", s.getCall)
	r.POST("/calls/:callId/connect", s.connectCall)

	r.GET("/events", s.streamEvents)
	r.GET("/events/ws", s.socketEvents)

	r.POST("/agents", s.createAgent)
	r.GET("/agents", s.listAgents)
	r.GET("/agents/:id", s.getAgent)
	r.PATCH("/agents/:id", s.updateAgent)
	r.DELETE("/agents/:id", s.deleteAgent)
	r.POST("/agents/:id/think", s.thinkAgent)
	r.GET("/agents/:id/memory", s.agentMemory)
	r.GET("/agents/:id/memory/search", s.searchMemory)

	if s.deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":      "OK",
		"version":     s.opts.Version,
		"uptime":      time.Since(s.started).Round(time.Second).String(),
		"lastEventId": s.deps.Events.LastID(),
	})
}
