package api

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/vinayprograms/callkit/errors"
	"github.com/vinayprograms/callkit/telemetry"
)

const requestIDHeader = "X-Request-ID"

// recovery turns a panic into a generic 500 and logs the detail.
func (s *Server) recovery() gin.HandlerFunc {
	return gin.CustomRecoveryWithWriter(nil, func(c *gin.Context, recovered any) {
		perr := errors.RecoverPanic(recovered)
		s.log.Error("panic_recovered", map[string]interface{}{
			"path":       c.Request.URL.Path,
			"request_id": c.GetString(requestIDHeader),
			"error":      perr.Error(),
		})
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error": "internal error",
			"kind":  string(errors.KindInternal),
		})
	})
}

// requestID propagates or assigns an X-Request-ID.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDHeader, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}
		s.log.HTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start), c.ClientIP())
	}
}

// requestMetrics labels by route template so ids do not explode cardinality.
func requestMetrics(m *telemetry.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		m.RecordHTTPRequest(c.Request.Method, route, c.Writer.Status(), time.Since(start))
	}
}

// corsMiddleware returns nil when no origins are configured.
func corsMiddleware(origins []string) gin.HandlerFunc {
	if len(origins) == 0 {
		return nil
	}
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Last-Event-ID", requestIDHeader},
		ExposeHeaders: []string{requestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	for _, o := range origins {
		if o == "*" {
			cfg.AllowAllOrigins = true
		}
	}
	if !cfg.AllowAllOrigins {
		cfg.AllowOrigins = origins
	}
	return cors.New(cfg)
}
