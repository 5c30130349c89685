package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fateworks/pik/internal/server/models"
	"github.com/fateworks/pik/internal/server/passkeys"
	"github.com/fateworks/pik/internal/shared"
)

type credentialBody struct {
	Credential   json.RawMessage `json:"credential"`
	FriendlyName string          `json:"friendly_name"`
}

func (s *Server) handleRegisterOptions(c *gin.Context) {
	var in struct {
		HeroName      string  `json:"hero_name"`
		FateAlignment string  `json:"fate_alignment"`
		Origin        *string `json:"origin"`
		SourceID      string  `json:"source_id"`
		EnrolledBy    string  `json:"enrolled_by"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		s.respondError(c, fmt.Errorf("%w: invalid request body", shared.ErrBadRequest))
		return
	}
	creation, err := s.passkeys.BeginRegistration(c.Request.Context(), passkeys.EnrollmentInput{
		HeroName:      in.HeroName,
		FateAlignment: in.FateAlignment,
		Origin:        in.Origin,
		SourceID:      in.SourceID,
		EnrolledBy:    in.EnrolledBy,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, creation)
}

func (s *Server) handleRegisterVerify(c *gin.Context) {
	var in credentialBody
	if err := c.ShouldBindJSON(&in); err != nil || len(in.Credential) == 0 {
		s.respondError(c, fmt.Errorf("%w: invalid request body", shared.ErrBadRequest))
		return
	}
	result, err := s.passkeys.FinishRegistration(c.Request.Context(), in.Credential, in.FriendlyName)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, result)
}

func (s *Server) handleAuthenticateOptions(c *gin.Context) {
	var in struct {
		RootID *string `json:"root_id"`
	}
	// An empty body starts a discoverable ceremony.
	_ = c.ShouldBindJSON(&in)

	assertion, err := s.passkeys.BeginAuthentication(c.Request.Context(), in.RootID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, assertion)
}

func (s *Server) handleAuthenticateVerify(c *gin.Context) {
	var in credentialBody
	if err := c.ShouldBindJSON(&in); err != nil || len(in.Credential) == 0 {
		s.respondError(c, fmt.Errorf("%w: invalid request body", shared.ErrBadRequest))
		return
	}
	result, err := s.passkeys.FinishAuthentication(c.Request.Context(), in.Credential)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, result)
}

func (s *Server) handleListKeys(c *gin.Context) {
	keys, err := s.keys.List(c.Request.Context(), sessionRootID(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, keys)
}

func (s *Server) handleRotateOptions(c *gin.Context) {
	creation, err := s.passkeys.BeginRotation(c.Request.Context(), sessionRootID(c))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, creation)
}

func (s *Server) handleRotateVerify(c *gin.Context) {
	var in credentialBody
	if err := c.ShouldBindJSON(&in); err != nil || len(in.Credential) == 0 {
		s.respondError(c, fmt.Errorf("%w: invalid request body", shared.ErrBadRequest))
		return
	}
	key, err := s.passkeys.FinishRotation(c.Request.Context(), sessionRootID(c), in.Credential, in.FriendlyName)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, key)
}

func (s *Server) handleRevokeKey(c *gin.Context) {
	key, err := s.keys.Revoke(c.Request.Context(), sessionRootID(c), c.Param("key_id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, key)
}

// handleImpersonate mints a session without a ceremony. Demo backdoor; the
// tight rate-limit policy is its only guard.
func (s *Server) handleImpersonate(c *gin.Context) {
	rootID := c.Param("root_id")
	root, err := s.identity.Get(c.Request.Context(), rootID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	if root.Status != models.IdentityStatusActive {
		s.respondError(c, fmt.Errorf("%w: identity is not active", shared.ErrUnauthorized))
		return
	}
	issued, err := s.sessions.Issue(c.Request.Context(), rootID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	s.log.Warn(c.Request.Context(), "impersonation session minted", "root_id", rootID, "client_ip", c.ClientIP())
	respondOK(c, http.StatusOK, gin.H{
		"root_id":            rootID,
		"hero_name":          root.HeroName,
		"session_token":      issued.Token,
		"session_expires_at": issued.ExpiresAt,
	})
}
