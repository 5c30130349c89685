package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fateworks/pik/internal/server/ingest"
	"github.com/fateworks/pik/internal/server/sources"
	"github.com/fateworks/pik/internal/shared"
)

func (s *Server) handleIngest(c *gin.Context) {
	resolved, ok := c.MustGet(ctxSource).(*sources.Resolved)
	if !ok {
		s.respondError(c, fmt.Errorf("%w: source missing from context", shared.ErrInternal))
		return
	}

	var req ingest.Request
	if err := c.ShouldBindJSON(&req); err != nil {
		s.respondError(c, fmt.Errorf("%w: invalid request body", shared.ErrBadRequest))
		return
	}

	result, err := s.ingest.Ingest(c.Request.Context(), req, *resolved)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, result)
}
