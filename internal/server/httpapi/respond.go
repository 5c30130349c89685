package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fateworks/pik/internal/shared"
)

// envelope is the uniform response shape: success carries data, failure a
// human-readable message.
type envelope struct {
	Status  string `json:"status"`
	Data    any    `json:"data,omitempty"`
	Message string `json:"message,omitempty"`
}

func respondOK(c *gin.Context, code int, data any) {
	c.JSON(code, envelope{Status: "ok", Data: data})
}

// respondError maps the sentinel chain to an HTTP status. Unexpected errors
// are logged with full context and surface as a generic internal message.
func (s *Server) respondError(c *gin.Context, err error) {
	var code int
	switch {
	case errors.Is(err, shared.ErrBadRequest):
		code = http.StatusBadRequest
	case errors.Is(err, shared.ErrUnauthorized):
		code = http.StatusUnauthorized
	case errors.Is(err, shared.ErrForbidden):
		code = http.StatusForbidden
	case errors.Is(err, shared.ErrNotFound):
		code = http.StatusNotFound
	case errors.Is(err, shared.ErrConflict):
		code = http.StatusConflict
	case errors.Is(err, shared.ErrTooManyRequests):
		code = http.StatusTooManyRequests
	default:
		s.log.Error(c.Request.Context(), "unhandled error",
			"method", c.Request.Method, "path", c.FullPath(), "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, envelope{
			Status: "error", Message: "Internal server error",
		})
		return
	}
	c.AbortWithStatusJSON(code, envelope{Status: "error", Message: err.Error()})
}
