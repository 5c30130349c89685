package ingest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fateworks/pik/internal/logging"
	"github.com/fateworks/pik/internal/server/consent"
	"github.com/fateworks/pik/internal/server/eventbus"
	"github.com/fateworks/pik/internal/server/ledger"
	"github.com/fateworks/pik/internal/server/loot"
	"github.com/fateworks/pik/internal/server/models"
	"github.com/fateworks/pik/internal/server/repositories/repomanager"
	"github.com/fateworks/pik/internal/server/settings"
)

// newMockedService wires the full ingest stack over a sqlmock handle so the
// transaction statement order can be asserted exactly.
func newMockedService(t *testing.T) (*Service, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	mgr := repomanager.NewPostgresRepositoryManagerFromDB(db)
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ls := ledger.NewService(mgr, eventbus.New(), log)
	st := settings.NewService(mgr)
	cs := consent.NewService(mgr, ls, st, log)
	le := loot.NewEngine(mgr, ls, log)
	return NewService(mgr, cs, ls, st, le, log), mock
}

// A title grant for an already-held title must stay on the happy path of
// its transaction: the duplicate is absorbed by DO NOTHING, the ledger row
// is still appended and the transaction commits.
func TestIngestTitleGrantedHeldTitleCommitsTx(t *testing.T) {
	svc, mock := newMockedService(t)
	now := time.Now().UTC()

	mock.ExpectQuery(`(?s)^SELECT\s+id,\s*hero_name,.*FROM\s+root_identities\s+WHERE\s+id\s*=\s*\$1\s*$`).
		WithArgs("root-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "hero_name", "fate_alignment", "origin",
			"fate_xp", "fate_level", "status", "enrolled_by", "enrolled_at", "equipped_title_id"}).
			AddRow("root-1", "Kaelen", "ember", nil, int64(295), 2,
				models.IdentityStatusActive, "operator", now, nil))

	mock.ExpectQuery(`(?s)^SELECT\s+id,\s*root_id,.*FROM\s+source_links\s+WHERE\s+root_id\s*=\s*\$1\s+AND\s+source_id\s*=\s*\$2\s+AND\s+status\s*=\s*'active'\s*$`).
		WithArgs("root-1", "hv-main").
		WillReturnRows(sqlmock.NewRows([]string{"id", "root_id", "source_id", "scope", "status",
			"granted_by", "granted_at", "revoked_at", "revoked_by"}).
			AddRow("link-1", "root-1", "hv-main", "progression:write", models.LinkStatusActive,
				"root-1", now, nil, nil))

	mock.ExpectQuery(`(?s)^SELECT\s+id,\s*name,\s*description\s+FROM\s+titles\s+WHERE\s+id\s*=\s*\$1\s*$`).
		WithArgs("title_fate_awakened").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "description"}).
			AddRow("title_fate_awakened", "Fate: Awakened", ""))

	mock.ExpectBegin()
	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+user_titles\s*\(root_id,\s*title_id,\s*granted_at\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3\)\s*ON\s+CONFLICT\s*\(root_id,\s*title_id\)\s*DO\s+NOTHING\s*$`).
		WithArgs("root-1", "title_fate_awakened", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(`(?s)^INSERT\s+INTO\s+identity_events\s*\(id,\s*root_id,\s*event_type,\s*source_id,\s*payload,\s*changes_applied,\s*created_at\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5,\s*\$6,\s*\$7\)\s*$`).
		WithArgs(sqlmock.AnyArg(), "root-1", models.EventTitleGranted, "hv-main",
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := svc.Ingest(context.Background(), Request{
		RootID:    "root-1",
		EventType: TypeTitleGranted,
		Payload:   json.RawMessage(`{"title_id":"title_fate_awakened"}`),
	}, testSource)
	require.NoError(t, err)

	assert.Equal(t, true, result.ChangesApplied["already_held"])
	assert.Equal(t, "title_fate_awakened", result.ChangesApplied["title_id"])
	require.NoError(t, mock.ExpectationsWereMet())
}
