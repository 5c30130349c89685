package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fateworks/pik/internal/hvconnector"
	"github.com/fateworks/pik/internal/logging"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultPollInterval() time.Duration {
	if v := os.Getenv("POLL_INTERVAL"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 10 * time.Second
}

func main() {
	cfg := hvconnector.Config{
		HVAPIURL:     envOr("HV_API_URL", "http://localhost:8000"),
		PIKAPIURL:    envOr("PIK_API_URL", "http://localhost:8080"),
		PIKAPIKey:    os.Getenv("PIK_API_KEY"),
		PollInterval: defaultPollInterval(),
	}

	var (
		once   bool
		dbPath string
	)

	cmd := &cobra.Command{
		Use:   "hv-connector",
		Short: "Forward completed Heroes' Veritas sessions to the identity kernel",
		Long: `Polls the Heroes' Veritas API for completed sessions and translates
them into progression ingest events, one per player. Forwarded session ids
are tracked in a local SQLite database so a restart never double-credits.

Configuration via environment: HV_API_URL, PIK_API_URL, PIK_API_KEY,
POLL_INTERVAL (seconds).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if cfg.PIKAPIKey == "" && !cfg.DryRun {
				return fmt.Errorf("PIK_API_KEY is required (or use --dry-run)")
			}

			store, err := hvconnector.OpenSentStore(dbPath)
			if err != nil {
				return err
			}
			defer store.Close()

			logger := logging.NewSlogLogger(slog.New(slog.NewJSONHandler(os.Stdout, nil)))
			connector := hvconnector.New(cfg, store, logger)

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if once || cfg.DryRun {
				return connector.PollOnce(ctx)
			}
			if err := connector.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&once, "once", false, "single poll pass then exit")
	cmd.Flags().BoolVar(&cfg.DryRun, "dry-run", false, "log what would be sent without posting")
	cmd.Flags().StringVar(&dbPath, "db", "hv_connector_sent.db", "path to the SQLite sent-session database")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
