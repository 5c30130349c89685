// Package server initializes and runs the identity kernel: it wires the
// repository manager, the feature engines and the HTTP surface, starts the
// reaper, and handles graceful shutdown.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fateworks/pik/internal/logging"
	"github.com/fateworks/pik/internal/server/config"
	"github.com/fateworks/pik/internal/server/consent"
	"github.com/fateworks/pik/internal/server/eventbus"
	"github.com/fateworks/pik/internal/server/httpapi"
	"github.com/fateworks/pik/internal/server/identity"
	"github.com/fateworks/pik/internal/server/ingest"
	"github.com/fateworks/pik/internal/server/ledger"
	"github.com/fateworks/pik/internal/server/loot"
	"github.com/fateworks/pik/internal/server/passkeys"
	"github.com/fateworks/pik/internal/server/ratelimit"
	"github.com/fateworks/pik/internal/server/reaper"
	"github.com/fateworks/pik/internal/server/repositories/repomanager"
	"github.com/fateworks/pik/internal/server/sessions"
	"github.com/fateworks/pik/internal/server/settings"
	"github.com/fateworks/pik/internal/server/sources"
)

const shutdownGrace = 10 * time.Second

type App struct {
	config *config.Config
	logger logging.Logger
	mgr    repomanager.Manager
	server *httpapi.Server
	reaper *reaper.Reaper
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	mgr, err := repomanager.NewPostgresRepositoryManager(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	bus := eventbus.New()
	ledgerService := ledger.NewService(mgr, bus, logger)
	settingsService := settings.NewService(mgr)
	sessionsService := sessions.NewService(mgr, settingsService, cfg.SessionHashKey)
	sourcesService := sources.NewService(mgr, logger)
	consentService := consent.NewService(mgr, ledgerService, settingsService, logger)
	identityService := identity.NewService(mgr, ledgerService, settingsService, logger)
	lootEngine := loot.NewEngine(mgr, ledgerService, logger)
	ingestService := ingest.NewService(mgr, consentService, ledgerService, settingsService, lootEngine, logger)

	passkeyEngine, err := passkeys.NewEngine(cfg, mgr, ledgerService, sessionsService, logger)
	if err != nil {
		return nil, err
	}
	keyManager := passkeys.NewKeyManager(mgr, ledgerService, logger)

	httpServer := httpapi.NewServer(httpapi.Deps{
		Config:   cfg,
		Log:      logger,
		Limiter:  ratelimit.New(),
		Bus:      bus,
		Manager:  mgr,
		Identity: identityService,
		Consent:  consentService,
		Ingest:   ingestService,
		Sources:  sourcesService,
		Sessions: sessionsService,
		Settings: settingsService,
		Ledger:   ledgerService,
		Passkeys: passkeyEngine,
		Keys:     keyManager,
		Loot:     lootEngine,
	})

	return &App{
		config: cfg,
		logger: logger,
		mgr:    mgr,
		server: httpServer,
		reaper: reaper.New(mgr, logger),
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "starting identity kernel", "addr", app.config.Addr, "env", app.config.Env)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.reaper.Run(ctx)
	}()

	httpServer := &http.Server{
		Addr:    app.config.Addr,
		Handler: app.server.Handler(),
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error(ctx, "http server error", "error", err)
			cancelFunc()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		app.logger.Error(shutdownCtx, "shutdown error", "error", err)
	}

	wg.Wait()

	if err := app.mgr.Close(); err != nil {
		app.logger.Error(context.Background(), "db close error", "error", err)
	}
	app.logger.Info(context.Background(), "identity kernel stopped")
}
