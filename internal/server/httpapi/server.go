// Package httpapi exposes the kernel over HTTP: the JSON endpoints, the SSE
// stream, and the middleware chain (rate limiting, API-key and session
// guards, CORS).
package httpapi

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/fateworks/pik/internal/logging"
	"github.com/fateworks/pik/internal/server/config"
	"github.com/fateworks/pik/internal/server/consent"
	"github.com/fateworks/pik/internal/server/eventbus"
	"github.com/fateworks/pik/internal/server/identity"
	"github.com/fateworks/pik/internal/server/ingest"
	"github.com/fateworks/pik/internal/server/ledger"
	"github.com/fateworks/pik/internal/server/loot"
	"github.com/fateworks/pik/internal/server/passkeys"
	"github.com/fateworks/pik/internal/server/ratelimit"
	"github.com/fateworks/pik/internal/server/repositories/repomanager"
	"github.com/fateworks/pik/internal/server/sessions"
	"github.com/fateworks/pik/internal/server/settings"
	"github.com/fateworks/pik/internal/server/sources"
)

// Deps bundles the collaborators the HTTP surface dispatches into.
type Deps struct {
	Config   *config.Config
	Log      logging.Logger
	Limiter  *ratelimit.Limiter
	Bus      *eventbus.Bus
	Manager  repomanager.Manager
	Identity *identity.Service
	Consent  *consent.Service
	Ingest   *ingest.Service
	Sources  *sources.Service
	Sessions *sessions.Service
	Settings *settings.Service
	Ledger   *ledger.Service
	Passkeys *passkeys.Engine
	Keys     *passkeys.KeyManager
	Loot     *loot.Engine
}

// Server is the HTTP front of the kernel.
type Server struct {
	cfg      *config.Config
	log      logging.Logger
	limiter  *ratelimit.Limiter
	bus      *eventbus.Bus
	mgr      repomanager.Manager
	identity *identity.Service
	consent  *consent.Service
	ingest   *ingest.Service
	sources  *sources.Service
	sessions *sessions.Service
	settings *settings.Service
	ledger   *ledger.Service
	passkeys *passkeys.Engine
	keys     *passkeys.KeyManager
	loot     *loot.Engine
	engine   *gin.Engine

	// heartbeat is the SSE keep-alive interval, shortened in tests.
	heartbeat time.Duration
}

func NewServer(d Deps) *Server {
	if d.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:      d.Config,
		log:      d.Log.With("module", "http"),
		limiter:  d.Limiter,
		bus:      d.Bus,
		mgr:      d.Manager,
		identity: d.Identity,
		consent:  d.Consent,
		ingest:   d.Ingest,
		sources:  d.Sources,
		sessions: d.Sessions,
		settings: d.Settings,
		ledger:   d.Ledger,
		passkeys: d.Passkeys,
		keys:     d.Keys,
		loot:     d.Loot,

		heartbeat: heartbeatInterval,
	}
	s.engine = gin.New()
	s.engine.Use(gin.Recovery(), s.cors())
	s.routes()
	return s
}

// Handler returns the root handler for an http.Server.
func (s *Server) Handler() *gin.Engine {
	return s.engine
}

func (s *Server) routes() {
	api := s.engine.Group("/api")
	api.GET("/health", s.handleHealth)

	std := api.Group("", s.rateLimit(ratelimit.PolicyDefault))
	{
		std.POST("/users/enroll", s.handleEnroll)
		std.GET("/users", s.handleListUsers)
		std.GET("/users/:root_id", s.handleUserDetail)
		std.GET("/users/:root_id/timeline", s.handleTimeline)
		std.PUT("/users/:root_id/profile", s.sessionAuth(), s.handleUpdateProfile)
		std.PUT("/users/:root_id/equipped-title", s.sessionAuth(), s.handleEquipTitle)

		std.POST("/users/:root_id/links", s.handleGrantLink)
		std.GET("/users/:root_id/links", s.handleListLinks)
		std.DELETE("/users/:root_id/links/:link_id", s.handleRevokeLink)

		std.GET("/users/:root_id/caches", s.handleListCaches)
		std.POST("/users/:root_id/caches", s.handleGrantCache)
		std.POST("/users/:root_id/caches/:cache_id/open", s.handleOpenCache)

		std.GET("/config", s.handleGetConfig)
		std.POST("/config", s.handleUpdateConfig)

		std.GET("/sources", s.handleListSources)
		std.POST("/sources", s.handleRegisterSource)
		std.GET("/sources/:id", s.handleGetSource)
		std.POST("/sources/:id/rotate-key", s.handleRotateSourceKey)
		std.POST("/sources/:id/status", s.handleSourceStatus)

		std.GET("/events/stream", s.handleEventStream)
	}

	ing := api.Group("", s.rateLimit(ratelimit.PolicyIngest), s.apiKeyAuth())
	{
		ing.POST("/ingest", s.handleIngest)
	}

	auth := api.Group("/auth", s.rateLimit(ratelimit.PolicyAuth))
	{
		auth.POST("/register/options", s.handleRegisterOptions)
		auth.POST("/register/verify", s.handleRegisterVerify)
		auth.POST("/authenticate/options", s.handleAuthenticateOptions)
		auth.POST("/authenticate/verify", s.handleAuthenticateVerify)

		auth.GET("/keys", s.sessionAuth(), s.handleListKeys)
		auth.POST("/keys/rotate", s.sessionAuth(), s.handleRotateOptions)
		auth.POST("/keys/rotate/verify", s.sessionAuth(), s.handleRotateVerify)
		auth.POST("/keys/:key_id/revoke", s.sessionAuth(), s.handleRevokeKey)
	}

	demo := api.Group("/auth", s.rateLimit(ratelimit.PolicyDemo))
	{
		demo.POST("/impersonate/:root_id", s.handleImpersonate)
	}
}
