// Package ingest is the consent-gated write path for sources: event-type
// dispatch, the XP formulas and level cascade, and the title/cache
// side-grants that follow a session.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/fateworks/pik/internal/logging"
	"github.com/fateworks/pik/internal/server/consent"
	"github.com/fateworks/pik/internal/server/ledger"
	"github.com/fateworks/pik/internal/server/loot"
	"github.com/fateworks/pik/internal/server/models"
	"github.com/fateworks/pik/internal/server/repositories/repomanager"
	"github.com/fateworks/pik/internal/server/settings"
	"github.com/fateworks/pik/internal/server/sources"
	"github.com/fateworks/pik/internal/shared"
)

// Supported ingest event types.
const (
	TypeSessionCompleted = "progression.session_completed"
	TypeXPGranted        = "progression.xp_granted"
	TypeNodeCompleted    = "progression.node_completed"
	TypeTitleGranted     = "progression.title_granted"
	TypeFateMarker       = "progression.fate_marker"
)

// Boss title tiers, highest first. The first threshold at or below the
// session's boss_damage_pct wins.
var bossTitleTiers = []struct {
	Threshold float64
	TitleID   string
}{
	{100, "title_boss_legend"},
	{75, "title_boss_breaker"},
	{50, "title_boss_slayer"},
}

// Request is the source-submitted ingest envelope. Payload stays verbatim
// on the ledger row; its shape depends on EventType.
type Request struct {
	RootID    string          `json:"root_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
}

// Result is the ingest response.
type Result struct {
	EventID        string         `json:"event_id"`
	EventType      string         `json:"event_type"`
	ChangesApplied map[string]any `json:"changes_applied"`
}

// tuning is one request's snapshot of the progression config.
type tuning struct {
	sessionNormal float64
	sessionHard   float64
	nodeXP        float64
	bossTierPct   float64
	eventMult     float64
	baseThreshold float64
	levelMult     float64
}

// Service is the ingest engine.
type Service struct {
	mgr     repomanager.Manager
	consent *consent.Service
	ledger  *ledger.Service
	st      *settings.Service
	loot    *loot.Engine
	log     logging.Logger
}

func NewService(mgr repomanager.Manager, cs *consent.Service, ls *ledger.Service, st *settings.Service, le *loot.Engine, log logging.Logger) *Service {
	return &Service{mgr: mgr, consent: cs, ledger: ls, st: st, loot: le, log: log.With("module", "ingest")}
}

// Ingest is the single entry point for source mutations: resolve the root,
// check consent, dispatch on event type. The top-level ledger row commits
// with the state mutation; title and cache side-grants run afterwards,
// best-effort.
func (s *Service) Ingest(ctx context.Context, req Request, source sources.Resolved) (*Result, error) {
	if req.RootID == "" || req.EventType == "" {
		return nil, fmt.Errorf("%w: root_id and event_type are required", shared.ErrBadRequest)
	}

	root, err := s.mgr.Repos().Identities.Get(ctx, req.RootID)
	if err != nil {
		return nil, err
	}
	if root.Status != models.IdentityStatusActive {
		return nil, fmt.Errorf("%w: identity is not active", shared.ErrForbidden)
	}

	grant, err := s.consent.ValidateActiveLink(ctx, req.RootID, source.ID)
	if err != nil {
		return nil, err
	}
	if grant == nil {
		return nil, fmt.Errorf("%w: no active consent link", shared.ErrForbidden)
	}

	switch req.EventType {
	case TypeSessionCompleted:
		return s.ingestSession(ctx, req, source)
	case TypeXPGranted:
		return s.ingestXPGrant(ctx, req, source)
	case TypeNodeCompleted:
		return s.ingestNode(ctx, req, source)
	case TypeTitleGranted:
		return s.ingestTitle(ctx, req, source)
	case TypeFateMarker:
		return s.ingestMarker(ctx, req, source)
	default:
		return nil, fmt.Errorf("%w: unknown event type %q", shared.ErrBadRequest, req.EventType)
	}
}

func (s *Service) loadTuning(ctx context.Context) (tuning, error) {
	var t tuning
	reads := []struct {
		key string
		dst *float64
	}{
		{settings.KeyXPPerSessionNormal, &t.sessionNormal},
		{settings.KeyXPPerSessionHard, &t.sessionHard},
		{settings.KeyXPNodeCompletion, &t.nodeXP},
		{settings.KeyXPBossTierPct, &t.bossTierPct},
		{settings.KeyEventXPMultiplier, &t.eventMult},
		{settings.KeyXPBaseThreshold, &t.baseThreshold},
		{settings.KeyXPLevelMultiplier, &t.levelMult},
	}
	for _, r := range reads {
		v, err := s.st.Float(ctx, r.key)
		if err != nil {
			return t, err
		}
		*r.dst = v
	}
	return t, nil
}

type sessionPayload struct {
	Difficulty     string   `json:"difficulty"`
	NodesCompleted *float64 `json:"nodes_completed"`
	BossDamagePct  *float64 `json:"boss_damage_pct"`
}

func (s *Service) ingestSession(ctx context.Context, req Request, source sources.Resolved) (*Result, error) {
	var p sessionPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: malformed payload", shared.ErrBadRequest)
	}
	if p.Difficulty != "normal" && p.Difficulty != "hard" {
		return nil, fmt.Errorf("%w: difficulty must be normal or hard", shared.ErrBadRequest)
	}
	if p.NodesCompleted == nil || *p.NodesCompleted < 0 {
		return nil, fmt.Errorf("%w: nodes_completed must be a non-negative number", shared.ErrBadRequest)
	}
	if p.BossDamagePct == nil || *p.BossDamagePct < 0 || *p.BossDamagePct > 100 {
		return nil, fmt.Errorf("%w: boss_damage_pct must be within [0,100]", shared.ErrBadRequest)
	}

	t, err := s.loadTuning(ctx)
	if err != nil {
		return nil, err
	}

	sessionXP := t.sessionNormal
	if p.Difficulty == "hard" {
		sessionXP = t.sessionHard
	}
	bossBonus := math.Floor(*p.BossDamagePct / 100 * t.bossTierPct * sessionXP)
	nodeXP := math.Floor(*p.NodesCompleted * t.nodeXP)
	totalXP := int64(math.Floor((sessionXP + bossBonus + nodeXP) * t.eventMult))

	changes := map[string]any{
		"session_xp":    int64(sessionXP),
		"boss_bonus_xp": int64(bossBonus),
		"node_xp":       int64(nodeXP),
		"total_xp":      totalXP,
	}

	result, cascade, err := s.applyXP(ctx, req, source, t, totalXP, changes)
	if err != nil {
		return nil, err
	}

	// Side-grants run outside the committed transaction; a failure here is
	// logged and does not undo the session credit.
	var grantedTitles []string
	for _, titleID := range cascade.TitlesDue {
		if s.grantTitleBestEffort(ctx, req.RootID, titleID, source) {
			grantedTitles = append(grantedTitles, titleID)
		}
	}
	for _, tier := range bossTitleTiers {
		if *p.BossDamagePct >= tier.Threshold {
			if s.grantTitleBestEffort(ctx, req.RootID, tier.TitleID, source) {
				grantedTitles = append(grantedTitles, tier.TitleID)
			}
			break
		}
	}

	var grantedCaches []string
	if cascade.LeveledUp {
		trigger := fmt.Sprintf("level_up:%d", cascade.Level)
		if cache, err := s.loot.GrantCache(ctx, req.RootID, models.CacheTypeLevelUp, trigger, cascade.Level, *p.BossDamagePct, ""); err != nil {
			s.log.Error(ctx, "level-up cache grant failed", "root_id", req.RootID, "error", err)
		} else {
			grantedCaches = append(grantedCaches, cache.ID)
		}
	}
	if *p.BossDamagePct >= 50 {
		trigger := fmt.Sprintf("boss_kill:%.0f", *p.BossDamagePct)
		if cache, err := s.loot.GrantCache(ctx, req.RootID, models.CacheTypeBossKill, trigger, cascade.Level, *p.BossDamagePct, ""); err != nil {
			s.log.Error(ctx, "boss cache grant failed", "root_id", req.RootID, "error", err)
		} else {
			grantedCaches = append(grantedCaches, cache.ID)
		}
	}

	if len(grantedTitles) > 0 {
		result.ChangesApplied["titles_granted"] = grantedTitles
	}
	if len(grantedCaches) > 0 {
		result.ChangesApplied["caches_granted"] = grantedCaches
	}
	return result, nil
}

type xpPayload struct {
	XP *float64 `json:"xp"`
}

func (s *Service) ingestXPGrant(ctx context.Context, req Request, source sources.Resolved) (*Result, error) {
	var p xpPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: malformed payload", shared.ErrBadRequest)
	}
	if p.XP == nil || *p.XP < 0 {
		return nil, fmt.Errorf("%w: xp must be a non-negative number", shared.ErrBadRequest)
	}

	t, err := s.loadTuning(ctx)
	if err != nil {
		return nil, err
	}

	totalXP := int64(math.Floor(*p.XP * t.eventMult))
	changes := map[string]any{"total_xp": totalXP}

	result, cascade, err := s.applyXP(ctx, req, source, t, totalXP, changes)
	if err != nil {
		return nil, err
	}
	s.sideGrantLevelRewards(ctx, req.RootID, cascade, source, result)
	return result, nil
}

type nodePayload struct {
	NodeID string `json:"node_id"`
}

func (s *Service) ingestNode(ctx context.Context, req Request, source sources.Resolved) (*Result, error) {
	var p nodePayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: malformed payload", shared.ErrBadRequest)
	}
	if p.NodeID == "" {
		return nil, fmt.Errorf("%w: node_id is required", shared.ErrBadRequest)
	}

	t, err := s.loadTuning(ctx)
	if err != nil {
		return nil, err
	}

	totalXP := int64(math.Floor(t.nodeXP * t.eventMult))
	changes := map[string]any{"node_id": p.NodeID, "total_xp": totalXP}

	result, cascade, err := s.applyXP(ctx, req, source, t, totalXP, changes)
	if err != nil {
		return nil, err
	}
	s.sideGrantLevelRewards(ctx, req.RootID, cascade, source, result)
	return result, nil
}

type titlePayload struct {
	TitleID string `json:"title_id"`
}

func (s *Service) ingestTitle(ctx context.Context, req Request, source sources.Resolved) (*Result, error) {
	var p titlePayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: malformed payload", shared.ErrBadRequest)
	}
	if p.TitleID == "" {
		return nil, fmt.Errorf("%w: title_id is required", shared.ErrBadRequest)
	}
	if _, err := s.mgr.Repos().Titles.GetTitle(ctx, p.TitleID); err != nil {
		return nil, err
	}

	var event *models.IdentityEvent
	alreadyHeld := false

	err := s.mgr.WithTx(ctx, func(ctx context.Context, r repomanager.Repos) error {
		alreadyHeld = false
		err := r.Titles.InsertUserTitle(ctx, &models.UserTitle{
			RootID:    req.RootID,
			TitleID:   p.TitleID,
			GrantedAt: time.Now().UTC(),
		})
		if errors.Is(err, shared.ErrConflict) {
			alreadyHeld = true
		} else if err != nil {
			return err
		}

		event = ledger.NewEvent(req.RootID, models.EventTitleGranted, &source.ID, req.Payload, map[string]any{
			"title_id":     p.TitleID,
			"already_held": alreadyHeld,
		})
		return r.Ledger.Append(ctx, event)
	})
	if err != nil {
		return nil, err
	}

	s.ledger.Publish(event)
	return &Result{
		EventID:        event.ID,
		EventType:      req.EventType,
		ChangesApplied: map[string]any{"title_id": p.TitleID, "already_held": alreadyHeld},
	}, nil
}

type markerPayload struct {
	Marker string `json:"marker"`
}

func (s *Service) ingestMarker(ctx context.Context, req Request, source sources.Resolved) (*Result, error) {
	var p markerPayload
	if err := json.Unmarshal(req.Payload, &p); err != nil {
		return nil, fmt.Errorf("%w: malformed payload", shared.ErrBadRequest)
	}
	if p.Marker == "" {
		return nil, fmt.Errorf("%w: marker is required", shared.ErrBadRequest)
	}

	var event *models.IdentityEvent

	err := s.mgr.WithTx(ctx, func(ctx context.Context, r repomanager.Repos) error {
		err := r.Titles.InsertMarker(ctx, &models.FateMarker{
			ID:        uuid.NewString(),
			RootID:    req.RootID,
			SourceID:  &source.ID,
			Marker:    p.Marker,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		event = ledger.NewEvent(req.RootID, models.EventFateMarker, &source.ID, req.Payload, map[string]any{
			"marker": p.Marker,
		})
		return r.Ledger.Append(ctx, event)
	})
	if err != nil {
		return nil, err
	}

	s.ledger.Publish(event)
	return &Result{
		EventID:        event.ID,
		EventType:      req.EventType,
		ChangesApplied: map[string]any{"marker": p.Marker},
	}, nil
}

// applyXP credits totalXP under a row lock, walks the level cascade and
// appends the top-level ledger row in the same transaction.
func (s *Service) applyXP(ctx context.Context, req Request, source sources.Resolved, t tuning, totalXP int64, changes map[string]any) (*Result, CascadeResult, error) {
	var cascade CascadeResult
	var event *models.IdentityEvent

	err := s.mgr.WithTx(ctx, func(ctx context.Context, r repomanager.Repos) error {
		root, err := r.Identities.GetForUpdate(ctx, req.RootID)
		if err != nil {
			return err
		}

		cascade = Cascade(t.baseThreshold, t.levelMult, root.FateXP, root.FateLevel, totalXP)
		if err := r.Identities.UpdateProgress(ctx, req.RootID, cascade.XP, cascade.Level); err != nil {
			return err
		}

		if cascade.LeveledUp {
			changes["level_up"] = map[string]any{"from": cascade.FromLevel, "to": cascade.Level}
		}

		event = ledger.NewEvent(req.RootID, req.EventType, &source.ID, req.Payload, changes)
		return r.Ledger.Append(ctx, event)
	})
	if err != nil {
		return nil, CascadeResult{}, err
	}

	s.ledger.Publish(event)
	return &Result{EventID: event.ID, EventType: req.EventType, ChangesApplied: changes}, cascade, nil
}

// sideGrantLevelRewards applies the post-commit rewards of a cascade: level
// titles and a level-up cache.
func (s *Service) sideGrantLevelRewards(ctx context.Context, rootID string, cascade CascadeResult, source sources.Resolved, result *Result) {
	var grantedTitles []string
	for _, titleID := range cascade.TitlesDue {
		if s.grantTitleBestEffort(ctx, rootID, titleID, source) {
			grantedTitles = append(grantedTitles, titleID)
		}
	}
	if cascade.LeveledUp {
		trigger := fmt.Sprintf("level_up:%d", cascade.Level)
		if cache, err := s.loot.GrantCache(ctx, rootID, models.CacheTypeLevelUp, trigger, cascade.Level, 0, ""); err != nil {
			s.log.Error(ctx, "level-up cache grant failed", "root_id", rootID, "error", err)
		} else {
			result.ChangesApplied["caches_granted"] = []string{cache.ID}
		}
	}
	if len(grantedTitles) > 0 {
		result.ChangesApplied["titles_granted"] = grantedTitles
	}
}

// grantTitleBestEffort inserts (root, title) with its ledger row in one
// small transaction, treating the unique-constraint collision as "already
// held". Reports whether a new grant happened; failures are logged only.
func (s *Service) grantTitleBestEffort(ctx context.Context, rootID, titleID string, source sources.Resolved) bool {
	var event *models.IdentityEvent

	err := s.mgr.WithTx(ctx, func(ctx context.Context, r repomanager.Repos) error {
		err := r.Titles.InsertUserTitle(ctx, &models.UserTitle{
			RootID:    rootID,
			TitleID:   titleID,
			GrantedAt: time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		event = ledger.NewEvent(rootID, models.EventTitleGranted, &source.ID, nil, map[string]any{
			"title_id":     titleID,
			"already_held": false,
		})
		return r.Ledger.Append(ctx, event)
	})
	if err != nil {
		if !errors.Is(err, shared.ErrConflict) {
			s.log.Error(ctx, "title side-grant failed", "root_id", rootID, "title_id", titleID, "error", err)
		}
		return false
	}

	s.ledger.Publish(event)
	return true
}
