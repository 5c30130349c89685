package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fateworks/pik/internal/shared"
)

func (s *Server) handleHealth(c *gin.Context) {
	if err := s.mgr.Conn().PingContext(c.Request.Context()); err != nil {
		s.log.Error(c.Request.Context(), "health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, envelope{Status: "error", Message: "database unreachable"})
		return
	}
	respondOK(c, http.StatusOK, gin.H{"healthy": true})
}

func (s *Server) handleGetConfig(c *gin.Context) {
	cfg, err := s.settings.GetAll(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, cfg)
}

func (s *Server) handleUpdateConfig(c *gin.Context) {
	var in struct {
		ConfigKey   string `json:"config_key"`
		ConfigValue string `json:"config_value"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		s.respondError(c, fmt.Errorf("%w: invalid request body", shared.ErrBadRequest))
		return
	}
	if err := s.settings.Update(c.Request.Context(), in.ConfigKey, in.ConfigValue); err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"config_key": in.ConfigKey, "config_value": in.ConfigValue})
}

func (s *Server) handleListSources(c *gin.Context) {
	list, err := s.sources.List(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, list)
}

func (s *Server) handleRegisterSource(c *gin.Context) {
	var in struct {
		SourceID   string `json:"source_id"`
		SourceName string `json:"source_name"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		s.respondError(c, fmt.Errorf("%w: invalid request body", shared.ErrBadRequest))
		return
	}
	reg, err := s.sources.Register(c.Request.Context(), in.SourceID, in.SourceName)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, gin.H{"source": reg.Source, "api_key": reg.APIKey})
}

func (s *Server) handleGetSource(c *gin.Context) {
	source, err := s.sources.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, source)
}

func (s *Server) handleRotateSourceKey(c *gin.Context) {
	reg, err := s.sources.RotateKey(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, gin.H{"source": reg.Source, "api_key": reg.APIKey})
}

func (s *Server) handleSourceStatus(c *gin.Context) {
	var in struct {
		Status string `json:"status"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		s.respondError(c, fmt.Errorf("%w: invalid request body", shared.ErrBadRequest))
		return
	}
	source, err := s.sources.SetStatus(c.Request.Context(), c.Param("id"), in.Status)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, source)
}
