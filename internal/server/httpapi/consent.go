package httpapi

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fateworks/pik/internal/server/consent"
	"github.com/fateworks/pik/internal/server/models"
	"github.com/fateworks/pik/internal/shared"
)

func (s *Server) handleGrantLink(c *gin.Context) {
	var in struct {
		SourceID  string `json:"source_id"`
		GrantedBy string `json:"granted_by"`
		Scope     string `json:"scope"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		s.respondError(c, fmt.Errorf("%w: invalid request body", shared.ErrBadRequest))
		return
	}
	link, err := s.consent.Grant(c.Request.Context(), c.Param("root_id"), consent.GrantInput{
		SourceID:  in.SourceID,
		GrantedBy: in.GrantedBy,
		Scope:     in.Scope,
	})
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, link)
}

func (s *Server) handleListLinks(c *gin.Context) {
	rootID := c.Param("root_id")
	if _, err := s.identity.Get(c.Request.Context(), rootID); err != nil {
		s.respondError(c, err)
		return
	}
	links, err := s.consent.List(c.Request.Context(), rootID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, links)
}

func (s *Server) handleRevokeLink(c *gin.Context) {
	var in struct {
		RevokedBy *string `json:"revoked_by"`
	}
	// Body is optional on revoke.
	_ = c.ShouldBindJSON(&in)

	link, err := s.consent.Revoke(c.Request.Context(), c.Param("root_id"), c.Param("link_id"), in.RevokedBy)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, link)
}

func (s *Server) handleListCaches(c *gin.Context) {
	rootID := c.Param("root_id")
	if _, err := s.identity.Get(c.Request.Context(), rootID); err != nil {
		s.respondError(c, err)
		return
	}
	caches, err := s.loot.CachesByRoot(c.Request.Context(), rootID)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, caches)
}

var cacheTypes = map[string]bool{
	models.CacheTypeLevelUp:   true,
	models.CacheTypeBossKill:  true,
	models.CacheTypeMilestone: true,
}

var rarities = map[string]bool{
	models.RarityCommon:    true,
	models.RarityUncommon:  true,
	models.RarityRare:      true,
	models.RarityEpic:      true,
	models.RarityLegendary: true,
}

// handleGrantCache is the operator grant path: rarity may be forced instead
// of rolled.
func (s *Server) handleGrantCache(c *gin.Context) {
	var in struct {
		CacheType string `json:"cache_type"`
		Trigger   string `json:"trigger"`
		Rarity    string `json:"rarity"`
	}
	if err := c.ShouldBindJSON(&in); err != nil {
		s.respondError(c, fmt.Errorf("%w: invalid request body", shared.ErrBadRequest))
		return
	}
	if !cacheTypes[in.CacheType] {
		s.respondError(c, fmt.Errorf("%w: unknown cache_type %q", shared.ErrBadRequest, in.CacheType))
		return
	}
	if in.Rarity != "" && !rarities[in.Rarity] {
		s.respondError(c, fmt.Errorf("%w: unknown rarity %q", shared.ErrBadRequest, in.Rarity))
		return
	}

	root, err := s.identity.Get(c.Request.Context(), c.Param("root_id"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	trigger := in.Trigger
	if trigger == "" {
		trigger = "operator_grant"
	}
	cache, err := s.loot.GrantCache(c.Request.Context(), root.ID, in.CacheType, trigger, root.FateLevel, 0, in.Rarity)
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusCreated, cache)
}

func (s *Server) handleOpenCache(c *gin.Context) {
	result, err := s.loot.Open(c.Request.Context(), c.Param("root_id"), c.Param("cache_id"))
	if err != nil {
		s.respondError(c, err)
		return
	}
	respondOK(c, http.StatusOK, result)
}
