// Package settings exposes the operator-tunable configuration stored in
// app_config. Values are stringly-typed at rest and parsed on read, so a
// change takes effect on the next read without a restart.
package settings

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/fateworks/pik/internal/server/repositories/repomanager"
	"github.com/fateworks/pik/internal/shared"
)

// Tunable config keys. The seed migration inserts each with its default;
// writes to any other key are rejected.
const (
	KeyXPPerSessionNormal  = "xp_per_session_normal"
	KeyXPPerSessionHard    = "xp_per_session_hard"
	KeyXPNodeCompletion    = "xp_node_completion"
	KeyXPBossTierPct       = "xp_boss_tier_pct"
	KeyEventXPMultiplier   = "event_xp_multiplier"
	KeyXPBaseThreshold     = "xp_base_threshold"
	KeyXPLevelMultiplier   = "xp_level_multiplier"
	KeySessionTokenTTLSecs = "session_token_ttl_secs"
	KeyDefaultLinkScope    = "default_link_scope"
)

var knownKeys = map[string]struct{}{
	KeyXPPerSessionNormal:  {},
	KeyXPPerSessionHard:    {},
	KeyXPNodeCompletion:    {},
	KeyXPBossTierPct:       {},
	KeyEventXPMultiplier:   {},
	KeyXPBaseThreshold:     {},
	KeyXPLevelMultiplier:   {},
	KeySessionTokenTTLSecs: {},
	KeyDefaultLinkScope:    {},
}

// Service reads and updates tunables. Reads always hit the store, so
// concurrent updates become visible immediately.
type Service struct {
	mgr repomanager.Manager
}

func NewService(mgr repomanager.Manager) *Service {
	return &Service{mgr: mgr}
}

// GetAll returns every tunable, with values that parse as finite numbers
// returned numeric and everything else as a string.
func (s *Service) GetAll(ctx context.Context) (map[string]any, error) {
	raw, err := s.mgr.Repos().Settings.GetAll(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(raw))
	for k, v := range raw {
		if f, err := strconv.ParseFloat(v, 64); err == nil && !math.IsInf(f, 0) && !math.IsNaN(f) {
			out[k] = f
		} else {
			out[k] = v
		}
	}
	return out, nil
}

// Update sets a known key. Unknown keys fail as a bad request.
func (s *Service) Update(ctx context.Context, key, value string) error {
	if _, ok := knownKeys[key]; !ok {
		return fmt.Errorf("%w: unknown config key %q", shared.ErrBadRequest, key)
	}
	return s.mgr.Repos().Settings.Update(ctx, key, value)
}

// Float reads one key as a float64.
func (s *Service) Float(ctx context.Context, key string) (float64, error) {
	v, err := s.mgr.Repos().Settings.Get(ctx, key)
	if err != nil {
		return 0, err
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("config key %q is not numeric: %w", key, err)
	}
	return f, nil
}

// Int reads one key as an int, accepting values stored in float form.
func (s *Service) Int(ctx context.Context, key string) (int, error) {
	f, err := s.Float(ctx, key)
	if err != nil {
		return 0, err
	}
	return int(f), nil
}

// String reads one key verbatim.
func (s *Service) String(ctx context.Context, key string) (string, error) {
	return s.mgr.Repos().Settings.Get(ctx, key)
}
