package loot

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fateworks/pik/internal/logging"
	"github.com/fateworks/pik/internal/server/eventbus"
	"github.com/fateworks/pik/internal/server/ledger"
	"github.com/fateworks/pik/internal/server/models"
	"github.com/fateworks/pik/internal/server/repositories/repomanager"
)

func newMockedEngine(t *testing.T) (*Engine, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mgr := repomanager.NewPostgresRepositoryManagerFromDB(db)
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	return NewEngine(mgr, ledger.NewService(mgr, eventbus.New(), log), log), mock
}

// Rolling a held title must not poison the open transaction: the duplicate
// insert affects zero rows, then the fallback XP credit, the cache
// transition and the ledger append all run on the same transaction.
func TestOpenHeldTitleFallbackCommitsTx(t *testing.T) {
	engine, mock := newMockedEngine(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery(`(?s)^SELECT\s+id,\s*root_id,\s*cache_type,.*FROM\s+fate_caches\s+WHERE\s+id\s*=\s*\$1\s*$`).
		WithArgs("cache-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "root_id", "cache_type", "rarity", "status",
			"trigger_reason", "reward_type", "reward_value", "reward_name", "created_at", "opened_at"}).
			AddRow("cache-1", "root-1", models.CacheTypeLevelUp, models.RarityRare,
				models.CacheStatusSealed, "level_up:3", nil, nil, nil, now, nil))
	mock.ExpectQuery(`(?s)^SELECT\s+id,\s*hero_name,.*FROM\s+root_identities\s+WHERE\s+id\s*=\s*\$1\s+FOR\s+UPDATE\s*$`).
		WithArgs("root-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "hero_name", "fate_alignment", "origin",
			"fate_xp", "fate_level", "status", "enrolled_by", "enrolled_at", "equipped_title_id"}).
			AddRow("root-1", "Kaelen", "ember", nil, int64(600), 3,
				models.IdentityStatusActive, "operator", now, nil))
	mock.ExpectQuery(`(?s)^SELECT\s+id,\s*cache_type,\s*reward_type,.*FROM\s+loot_table\s+WHERE\s+cache_type\s*=\s*\$1\s+AND\s+min_level\s*<=\s*\$2\s+ORDER\s+BY\s+id\s*$`).
		WithArgs(models.CacheTypeLevelUp, 3).
		WillReturnRows(sqlmock.NewRows([]string{"id", "cache_type", "reward_type", "reward_value",
			"name", "weight", "rarity", "min_level"}).
			AddRow("lt-1", models.CacheTypeLevelUp, models.RewardTypeTitle, "title_fate_awakened",
				"Fate: Awakened", 10, models.RarityCommon, 1))

	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+user_titles\s*\(root_id,\s*title_id,\s*granted_at\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3\)\s*ON\s+CONFLICT\s*\(root_id,\s*title_id\)\s*DO\s+NOTHING\s*$`).
		WithArgs("root-1", "title_fate_awakened", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`(?s)^UPDATE\s+root_identities\s+SET\s+fate_xp\s*=\s*\$2,\s*fate_level\s*=\s*\$3\s+WHERE\s+id\s*=\s*\$1\s*$`).
		WithArgs("root-1", int64(700), 3).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)^UPDATE\s+fate_caches\s+SET\s+status\s*=\s*'opened',.*WHERE\s+id\s*=\s*\$1\s+AND\s+status\s*=\s*'sealed'\s*$`).
		WithArgs("cache-1", models.RewardTypeTitle, "title_fate_awakened", "Fate: Awakened", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+identity_events\s*\(.*\)\s*VALUES\s*\(.*\)\s*$`).
		WithArgs(sqlmock.AnyArg(), "root-1", models.EventCacheOpened, nil,
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := engine.Open(context.Background(), "root-1", "cache-1")
	require.NoError(t, err)

	assert.True(t, result.AlreadyHeld)
	assert.Equal(t, int64(titleFallbackXP), result.XPGained)
	assert.Equal(t, models.CacheStatusOpened, result.Cache.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}
