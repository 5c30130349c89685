package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fateworks/pik/internal/server/identity"
	"github.com/fateworks/pik/internal/shared"
)

func (s *Server) handleEnroll(c *gin.Context) {
	var in identity.EnrollInput
	if err := c.ShouldBindJSON(&in); err != nil {
		s.respondError(c, fmt.Errorf("%w: invalid request body", shared.ErrBadRequest))
		return
	}
	out, err := s.identity.Enroll(c.Request.Context(), in)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, out)
}

func (s *Server) handleListUsers(c *gin.Context) {
	list, err := s.identity.List(c.Request.Context())
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, list)
}

func (s *Server) handleUserDetail(c *gin.Context) {
	detail, err := s.identity.Detail(c.Request.Context(), c.Param("root_id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, detail)
}

func (s *Server) handleTimeline(c *gin.Context) {
	rootID := c.Param("root_id")
	if _, err := s.identity.Get(c.Request.Context(), rootID); err != nil {
		s.respondError(c, err)
		return
	}
	timeline, err := s.ledger.Timeline(c.Request.Context(), rootID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, timeline)
}

func (s *Server) handleUpdateProfile(c *gin.Context) {
	rootID := c.Param("root_id")
	if sessionRootID(c) != rootID {
		s.respondError(c, fmt.Errorf("%w: session does not own this identity", shared.ErrForbidden))
		return
	}
	var in identity.ProfileInput
	if err := c.ShouldBindJSON(&in); err != nil {
		s.respondError(c, fmt.Errorf("%w: invalid request body", shared.ErrBadRequest))
		return
	}
	root, err := s.identity.UpdateProfile(c.Request.Context(), rootID, in)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, root)
}

func (s *Server) handleEquipTitle(c *gin.Context) {
	rootID := c.Param("root_id")
	if sessionRootID(c) != rootID {
		s.respondError(c, fmt.Errorf("%w: session does not own this identity", shared.ErrForbidden))
		return
	}
	var in struct {
		TitleID *string `json:"title_id"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		s.respondError(c, fmt.Errorf("%w: invalid request body", shared.ErrBadRequest))
		return
	}
	root, err := s.identity.SetEquippedTitle(c.Request.Context(), rootID, in.TitleID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, root)
}
