package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/vinayprograms/callkit/errors"
)

// statusFor maps an error's kind onto an HTTP status.
func statusFor(err error) int {
	switch errors.KindOf(err) {
	case errors.KindNotFound:
		return http.StatusNotFound
	case errors.KindConflict:
		return http.StatusConflict
	case errors.KindUnprocessableConfig:
		return http.StatusUnprocessableEntity
	case errors.KindBusy:
		return http.StatusTooManyRequests
	case errors.KindProviderError:
		if errors.IsTimeout(err) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	case errors.KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err as {error, kind}. Internal errors are logged and
// replaced with a generic message.
func (s *Server) writeError(c *gin.Context, err error) {
	status := statusFor(err)
	kind := errors.KindOf(err)

	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.log.Error("request_failed", map[string]interface{}{
			"path":       c.Request.URL.Path,
			"request_id": c.GetString(requestIDHeader),
			"error":      msg,
		})
		msg = "internal error"
		kind = errors.KindInternal
	}

	c.AbortWithStatusJSON(status, gin.H{"error": msg, "kind": string(kind)})
}

func invalidBody(err error) error {
	return errors.InvalidInput("request body must be valid JSON", errors.WithCause(err))
}
