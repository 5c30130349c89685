// Package reaper runs the periodic cleanup of expired WebAuthn challenges
// and session tokens.
package reaper

import (
	"context"
	"time"

	"github.com/fateworks/pik/internal/logging"
	"github.com/fateworks/pik/internal/server/repositories/repomanager"
)

const defaultInterval = 15 * time.Minute

// Reaper deletes expired rows on a fixed schedule. Failures are non-fatal;
// the next tick retries.
type Reaper struct {
	mgr      repomanager.Manager
	log      logging.Logger
	interval time.Duration
}

func New(mgr repomanager.Manager, log logging.Logger) *Reaper {
	return &Reaper{mgr: mgr, log: log.With("module", "reaper"), interval: defaultInterval}
}

// Run sweeps once immediately, then on every tick until the context ends.
func (r *Reaper) Run(ctx context.Context) {
	r.Sweep(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep deletes challenges and session tokens whose expiry has passed.
func (r *Reaper) Sweep(ctx context.Context) {
	now := time.Now().UTC()
	repos := r.mgr.Repos()

	challenges, err := repos.AuthKeys.DeleteExpiredChallenges(ctx, now)
	if err != nil {
		r.log.Error(ctx, "challenge sweep failed", "error", err)
	}

	tokens, err := repos.Sessions.DeleteExpired(ctx, now)
	if err != nil {
		r.log.Error(ctx, "session token sweep failed", "error", err)
	}

	if challenges > 0 || tokens > 0 {
		r.log.Info(ctx, "reaper sweep complete", "challenges", challenges, "tokens", tokens)
	}
}
