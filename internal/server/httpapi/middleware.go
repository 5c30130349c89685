package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/fateworks/pik/internal/server/ratelimit"
	"github.com/fateworks/pik/internal/shared"
)

const (
	apiKeyHeader = "X-PIK-API-Key"

	ctxSource = "pik.source"
	ctxRootID = "pik.root_id"
)

// rateLimit applies one policy to a route group, keyed by client IP.
func (s *Server) rateLimit(p ratelimit.Policy) gin.HandlerFunc {
	return func(c *gin.Context) {
		allowed, retryAfter := s.limiter.Allow(p, c.ClientIP())
		if !allowed {
			secs := int(retryAfter.Seconds())
			if secs < 1 {
				secs = 1
			}
			c.Header("Retry-After", strconv.Itoa(secs))
			s.respondError(c, fmt.Errorf("%w: rate limit exceeded", shared.ErrTooManyRequests))
			return
		}
		c.Next()
	}
}

// apiKeyAuth guards the source surface. The resolved source lands in the
// request context; the rejection message never reveals whether the key was
// missing, unknown or suspended.
func (s *Server) apiKeyAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		resolved, err := s.sources.Authenticate(c.Request.Context(), c.GetHeader(apiKeyHeader))
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.Set(ctxSource, resolved)
		c.Next()
	}
}

// sessionAuth guards user-bound routes via the Bearer token.
func (s *Server) sessionAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			s.respondError(c, fmt.Errorf("%w: missing bearer token", shared.ErrUnauthorized))
			return
		}
		rootID, err := s.sessions.Validate(c.Request.Context(), token)
		if err != nil {
			s.respondError(c, err)
			return
		}
		c.Set(ctxRootID, rootID)
		c.Next()
	}
}

// sessionRootID returns the authenticated root id set by sessionAuth.
func sessionRootID(c *gin.Context) string {
	return c.GetString(ctxRootID)
}

// cors allows any origin in development and the configured allow-list in
// production. Empty allow-list in production means same-origin only.
func (s *Server) cors() gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(s.cfg.CORSOrigins))
	for _, o := range s.cfg.CORSOrigins {
		allowed[o] = struct{}{}
	}

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" {
			permit := !s.cfg.IsProduction()
			if _, ok := allowed[origin]; ok {
				permit = true
			}
			if permit {
				c.Header("Access-Control-Allow-Origin", origin)
				c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization, "+apiKeyHeader)
				c.Header("Vary", "Origin")
			}
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
