// Package loot implements the reward subsystem: rarity rolls on cache
// grants and the weighted draw plus reward application when a cache is
// opened.
package loot

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/fateworks/pik/internal/logging"
	"github.com/fateworks/pik/internal/server/ledger"
	"github.com/fateworks/pik/internal/server/models"
	"github.com/fateworks/pik/internal/server/repositories/repomanager"
	"github.com/fateworks/pik/internal/shared"
)

// titleFallbackXP is credited when an opened cache rolls a title the player
// already holds.
const titleFallbackXP = 100

// OpenResult describes the reward applied when a cache was opened.
type OpenResult struct {
	Cache       *models.FateCache `json:"cache"`
	Reward      models.LootEntry  `json:"reward"`
	XPGained    int64             `json:"xp_gained,omitempty"`
	AlreadyHeld bool              `json:"already_held,omitempty"`
}

// Engine rolls rarities, grants sealed caches and opens them.
type Engine struct {
	mgr    repomanager.Manager
	ledger *ledger.Service
	log    logging.Logger
}

func NewEngine(mgr repomanager.Manager, ls *ledger.Service, log logging.Logger) *Engine {
	return &Engine{mgr: mgr, ledger: ls, log: log.With("module", "loot")}
}

// rollRarity maps player level, trigger tier and a uniform roll in [0,100)
// to a rarity. First matching row wins, top down.
func rollRarity(level int, cacheType string, bossPct float64, r float64) string {
	switch {
	case level >= 10 && cacheType == models.CacheTypeBossKill && bossPct >= 100 && r < 5:
		return models.RarityLegendary
	case level >= 7 && bossPct >= 75 && r < 12:
		return models.RarityEpic
	case level >= 4 && r < 20:
		return models.RarityRare
	case level >= 2 && r < 45:
		return models.RarityUncommon
	default:
		return models.RarityCommon
	}
}

// pickWeighted selects the entry whose cumulative weight range contains r,
// with r drawn from [0, totalWeight).
func pickWeighted(entries []models.LootEntry, r int64) models.LootEntry {
	var running int64
	for _, e := range entries {
		running += int64(e.Weight)
		if r < running {
			return e
		}
	}
	return entries[len(entries)-1]
}

func totalWeight(entries []models.LootEntry) int64 {
	var w int64
	for _, e := range entries {
		w += int64(e.Weight)
	}
	return w
}

// GrantCache creates a sealed cache for the root. forcedRarity overrides
// the roll for operator and demo grants; pass "" to roll normally.
func (e *Engine) GrantCache(ctx context.Context, rootID, cacheType, trigger string, level int, bossPct float64, forcedRarity string) (*models.FateCache, error) {
	rarity := forcedRarity
	if rarity == "" {
		rarity = rollRarity(level, cacheType, bossPct, rand.Float64()*100)
	}

	cache := &models.FateCache{
		ID:        uuid.NewString(),
		RootID:    rootID,
		CacheType: cacheType,
		Rarity:    rarity,
		Status:    models.CacheStatusSealed,
		Trigger:   trigger,
		CreatedAt: time.Now().UTC(),
	}
	event := ledger.NewEvent(rootID, models.EventCacheGranted, nil, map[string]any{
		"cache_id":   cache.ID,
		"cache_type": cacheType,
		"rarity":     rarity,
		"trigger":    trigger,
	}, nil)

	err := e.mgr.WithTx(ctx, func(ctx context.Context, r repomanager.Repos) error {
		if err := r.Loot.CreateCache(ctx, cache); err != nil {
			return err
		}
		return r.Ledger.Append(ctx, event)
	})
	if err != nil {
		return nil, err
	}

	e.ledger.Publish(event)
	return cache, nil
}

// CachesByRoot lists a root's caches.
func (e *Engine) CachesByRoot(ctx context.Context, rootID string) ([]models.FateCache, error) {
	return e.mgr.Repos().Loot.CachesByRoot(ctx, rootID)
}

// Open transitions a sealed cache to opened, draws a reward from the
// eligible pool and applies it. XP boosts credit fate_xp without running
// the level cascade; a title already held falls back to a flat XP credit.
func (e *Engine) Open(ctx context.Context, rootID, cacheID string) (*OpenResult, error) {
	result := &OpenResult{}
	var event *models.IdentityEvent

	err := e.mgr.WithTx(ctx, func(ctx context.Context, r repomanager.Repos) error {
		cache, err := r.Loot.GetCache(ctx, cacheID)
		if err != nil {
			return err
		}
		if cache.RootID != rootID {
			return fmt.Errorf("%w: cache does not belong to this identity", shared.ErrNotFound)
		}
		if cache.Status != models.CacheStatusSealed {
			return fmt.Errorf("%w: cache is already opened", shared.ErrConflict)
		}

		root, err := r.Identities.GetForUpdate(ctx, rootID)
		if err != nil {
			return err
		}

		pool, err := r.Loot.PoolEntries(ctx, cache.CacheType, root.FateLevel)
		if err != nil {
			return err
		}
		if len(pool) == 0 {
			return fmt.Errorf("%w: empty loot pool for cache type %q", shared.ErrInternal, cache.CacheType)
		}

		reward := pickWeighted(pool, rand.Int63n(totalWeight(pool)))
		result.Reward = reward

		now := time.Now().UTC()
		changes := map[string]any{
			"reward_type":  reward.RewardType,
			"reward_value": reward.RewardValue,
			"reward_name":  reward.Name,
		}

		switch reward.RewardType {
		case models.RewardTypeXPBoost:
			boost, err := strconv.ParseInt(reward.RewardValue, 10, 64)
			if err != nil {
				return fmt.Errorf("%w: malformed xp_boost value %q", shared.ErrInternal, reward.RewardValue)
			}
			if err := r.Identities.UpdateProgress(ctx, rootID, root.FateXP+boost, root.FateLevel); err != nil {
				return err
			}
			result.XPGained = boost
			changes["xp_gained"] = boost

		case models.RewardTypeTitle:
			err := r.Titles.InsertUserTitle(ctx, &models.UserTitle{
				RootID:    rootID,
				TitleID:   reward.RewardValue,
				GrantedAt: now,
			})
			switch {
			case errors.Is(err, shared.ErrConflict):
				if err := r.Identities.UpdateProgress(ctx, rootID, root.FateXP+titleFallbackXP, root.FateLevel); err != nil {
					return err
				}
				result.AlreadyHeld = true
				result.XPGained = titleFallbackXP
				changes["already_held"] = true
				changes["xp_gained"] = int64(titleFallbackXP)
			case err != nil:
				return err
			}

		case models.RewardTypeMarker:
			err := r.Titles.InsertMarker(ctx, &models.FateMarker{
				ID:        uuid.NewString(),
				RootID:    rootID,
				Marker:    reward.RewardValue,
				CreatedAt: now,
			})
			if err != nil {
				return err
			}

		case models.RewardTypeGear:
			if _, err := r.Loot.GetGear(ctx, reward.RewardValue); err != nil {
				return err
			}
			err := r.Loot.AddInventory(ctx, &models.InventoryItem{
				ID:            uuid.NewString(),
				RootID:        rootID,
				GearID:        reward.RewardValue,
				SourceCacheID: &cache.ID,
				AcquiredAt:    now,
			})
			if err != nil {
				return err
			}

		default:
			return fmt.Errorf("%w: unknown reward type %q", shared.ErrInternal, reward.RewardType)
		}

		if err := r.Loot.OpenCache(ctx, cacheID, reward, now); err != nil {
			return err
		}
		cache.Status = models.CacheStatusOpened
		cache.RewardType = &reward.RewardType
		cache.RewardValue = &reward.RewardValue
		cache.RewardName = &reward.Name
		cache.OpenedAt = &now
		result.Cache = cache

		event = ledger.NewEvent(rootID, models.EventCacheOpened, nil, map[string]any{
			"cache_id":   cacheID,
			"cache_type": cache.CacheType,
			"rarity":     cache.Rarity,
		}, changes)
		return r.Ledger.Append(ctx, event)
	})
	if err != nil {
		return nil, err
	}

	e.ledger.Publish(event)
	e.log.Info(ctx, "cache opened", "root_id", rootID, "cache_id", cacheID, "reward_type", result.Reward.RewardType)
	return result, nil
}
