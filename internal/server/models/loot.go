package models

import (
	"encoding/json"
	"time"
)

const (
	CacheStatusSealed = "sealed"
	CacheStatusOpened = "opened"
)

const (
	CacheTypeLevelUp   = "level_up"
	CacheTypeBossKill  = "boss_kill"
	CacheTypeMilestone = "milestone"
)

const (
	RarityCommon    = "common"
	RarityUncommon  = "uncommon"
	RarityRare      = "rare"
	RarityEpic      = "epic"
	RarityLegendary = "legendary"
)

const (
	RewardTypeXPBoost = "xp_boost"
	RewardTypeTitle   = "title"
	RewardTypeMarker  = "marker"
	RewardTypeGear    = "gear"
)

// Equipment slots. At most one equipped inventory row per (root, slot).
var GearSlots = []string{"weapon", "helm", "chest", "arms", "legs", "rune"}

// FateCache is a sealed reward container granted on ingest milestones.
// It transitions sealed → opened exactly once.
type FateCache struct {
	ID          string     `json:"cache_id"`
	RootID      string     `json:"root_id"`
	CacheType   string     `json:"cache_type"`
	Rarity      string     `json:"rarity"`
	Status      string     `json:"status"`
	Trigger     string     `json:"trigger"`
	RewardType  *string    `json:"reward_type,omitempty"`
	RewardValue *string    `json:"reward_value,omitempty"`
	RewardName  *string    `json:"reward_name,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	OpenedAt    *time.Time `json:"opened_at,omitempty"`
}

// LootEntry is one weighted row of the reward pool. RewardValue is
// interpreted per RewardType (xp amount, title id, marker text, gear id).
type LootEntry struct {
	ID          string `json:"id"`
	CacheType   string `json:"cache_type"`
	RewardType  string `json:"reward_type"`
	RewardValue string `json:"reward_value"`
	Name        string `json:"name"`
	Weight      int    `json:"weight"`
	Rarity      string `json:"rarity"`
	MinLevel    int    `json:"min_level"`
}

// GearItem is a catalog entry with an opaque modifier bag.
type GearItem struct {
	ID        string          `json:"gear_id"`
	Name      string          `json:"name"`
	Slot      string          `json:"slot"`
	Rarity    string          `json:"rarity"`
	Modifiers json.RawMessage `json:"modifiers,omitempty"`
}

// InventoryItem is a soulbound gear row bound to a root.
type InventoryItem struct {
	ID            string    `json:"id"`
	RootID        string    `json:"root_id"`
	GearID        string    `json:"gear_id"`
	SourceCacheID *string   `json:"source_cache_id,omitempty"`
	AcquiredAt    time.Time `json:"acquired_at"`
}

// Equipment maps a slot to the equipped inventory row for a root.
type Equipment struct {
	RootID      string    `json:"root_id"`
	Slot        string    `json:"slot"`
	InventoryID string    `json:"inventory_id"`
	EquippedAt  time.Time `json:"equipped_at"`
}
