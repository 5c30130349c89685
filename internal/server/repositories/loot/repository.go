// Package loot declares the repository contract for fate caches, the
// weighted loot table, and the gear catalog/inventory/equipment tables.
package loot

import (
	"context"
	"time"

	"github.com/fateworks/pik/internal/server/models"
)

// Repository defines persistence for the reward subsystem.
type Repository interface {
	// CreateCache inserts a sealed cache.
	CreateCache(ctx context.Context, cache *models.FateCache) error

	// GetCache returns a cache by id, or shared.ErrNotFound.
	GetCache(ctx context.Context, id string) (*models.FateCache, error)

	// CachesByRoot returns a root's caches, newest first.
	CachesByRoot(ctx context.Context, rootID string) ([]models.FateCache, error)

	// OpenCache transitions a sealed cache to opened with its reward fields.
	// Reports shared.ErrConflict when the cache is not sealed.
	OpenCache(ctx context.Context, id string, reward models.LootEntry, openedAt time.Time) error

	// PoolEntries returns the loot-table entries eligible for a cache type
	// at the given player level.
	PoolEntries(ctx context.Context, cacheType string, level int) ([]models.LootEntry, error)

	// GetGear returns a gear catalog item, or shared.ErrNotFound.
	GetGear(ctx context.Context, id string) (*models.GearItem, error)

	// AddInventory inserts a soulbound inventory row.
	AddInventory(ctx context.Context, item *models.InventoryItem) error

	// InventoryByRoot returns a root's inventory, newest first.
	InventoryByRoot(ctx context.Context, rootID string) ([]models.InventoryItem, error)

	// Equip upserts the equipped inventory row for a (root, slot).
	Equip(ctx context.Context, eq *models.Equipment) error

	// EquipmentByRoot returns the equipped rows for a root.
	EquipmentByRoot(ctx context.Context, rootID string) ([]models.Equipment, error)
}
