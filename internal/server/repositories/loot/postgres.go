package loot

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fateworks/pik/internal/dbx"
	"github.com/fateworks/pik/internal/server/models"
	"github.com/fateworks/pik/internal/shared"
)

// PostgresRepository implements Repository over dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const cacheColumns = `id, root_id, cache_type, rarity, status, trigger_reason, reward_type, reward_value, reward_name, created_at, opened_at`

func (r *PostgresRepository) CreateCache(ctx context.Context, cache *models.FateCache) error {
	query := `
		INSERT INTO fate_caches (id, root_id, cache_type, rarity, status, trigger_reason, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	if _, err := r.db.ExecContext(ctx, query, cache.ID, cache.RootID, cache.CacheType,
		cache.Rarity, cache.Status, cache.Trigger, cache.CreatedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetCache(ctx context.Context, id string) (*models.FateCache, error) {
	query := `SELECT ` + cacheColumns + ` FROM fate_caches WHERE id = $1`
	c := &models.FateCache{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&c.ID, &c.RootID, &c.CacheType,
		&c.Rarity, &c.Status, &c.Trigger, &c.RewardType, &c.RewardValue, &c.RewardName,
		&c.CreatedAt, &c.OpenedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) CachesByRoot(ctx context.Context, rootID string) ([]models.FateCache, error) {
	query := `SELECT ` + cacheColumns + ` FROM fate_caches WHERE root_id = $1 ORDER BY created_at DESC`
	rows, err := r.db.QueryContext(ctx, query, rootID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.FateCache
	for rows.Next() {
		var c models.FateCache
		if err := rows.Scan(&c.ID, &c.RootID, &c.CacheType, &c.Rarity, &c.Status,
			&c.Trigger, &c.RewardType, &c.RewardValue, &c.RewardName, &c.CreatedAt,
			&c.OpenedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) OpenCache(ctx context.Context, id string, reward models.LootEntry, openedAt time.Time) error {
	// The status guard makes sealed → opened a one-way, one-time transition.
	query := `
		UPDATE fate_caches
		SET status = 'opened', reward_type = $2, reward_value = $3, reward_name = $4, opened_at = $5
		WHERE id = $1 AND status = 'sealed'
	`
	res, err := r.db.ExecContext(ctx, query, id, reward.RewardType, reward.RewardValue,
		reward.Name, openedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return shared.ErrConflict
	}
	return nil
}

func (r *PostgresRepository) PoolEntries(ctx context.Context, cacheType string, level int) ([]models.LootEntry, error) {
	query := `
		SELECT id, cache_type, reward_type, reward_value, name, weight, rarity, min_level
		FROM loot_table
		WHERE cache_type = $1 AND min_level <= $2
		ORDER BY id
	`
	rows, err := r.db.QueryContext(ctx, query, cacheType, level)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.LootEntry
	for rows.Next() {
		var e models.LootEntry
		if err := rows.Scan(&e.ID, &e.CacheType, &e.RewardType, &e.RewardValue,
			&e.Name, &e.Weight, &e.Rarity, &e.MinLevel); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) GetGear(ctx context.Context, id string) (*models.GearItem, error) {
	query := `SELECT id, name, slot, rarity, modifiers FROM gear_items WHERE id = $1`
	g := &models.GearItem{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(&g.ID, &g.Name, &g.Slot, &g.Rarity, &g.Modifiers)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, shared.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return g, nil
}

func (r *PostgresRepository) AddInventory(ctx context.Context, item *models.InventoryItem) error {
	query := `
		INSERT INTO player_inventory (id, root_id, gear_id, source_cache_id, acquired_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.db.ExecContext(ctx, query, item.ID, item.RootID, item.GearID,
		item.SourceCacheID, item.AcquiredAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) InventoryByRoot(ctx context.Context, rootID string) ([]models.InventoryItem, error) {
	query := `
		SELECT id, root_id, gear_id, source_cache_id, acquired_at
		FROM player_inventory
		WHERE root_id = $1
		ORDER BY acquired_at DESC
	`
	rows, err := r.db.QueryContext(ctx, query, rootID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.InventoryItem
	for rows.Next() {
		var it models.InventoryItem
		if err := rows.Scan(&it.ID, &it.RootID, &it.GearID, &it.SourceCacheID, &it.AcquiredAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, it)
	}
	return out, rows.Err()
}

func (r *PostgresRepository) Equip(ctx context.Context, eq *models.Equipment) error {
	query := `
		INSERT INTO player_equipment (root_id, slot, inventory_id, equipped_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (root_id, slot) DO UPDATE SET inventory_id = $3, equipped_at = $4
	`
	if _, err := r.db.ExecContext(ctx, query, eq.RootID, eq.Slot, eq.InventoryID, eq.EquippedAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) EquipmentByRoot(ctx context.Context, rootID string) ([]models.Equipment, error) {
	query := `
		SELECT root_id, slot, inventory_id, equipped_at
		FROM player_equipment
		WHERE root_id = $1
		ORDER BY slot
	`
	rows, err := r.db.QueryContext(ctx, query, rootID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var out []models.Equipment
	for rows.Next() {
		var e models.Equipment
		if err := rows.Scan(&e.RootID, &e.Slot, &e.InventoryID, &e.EquippedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
