package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/fateworks/pik/internal/server/models"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

const appendQuery = `(?s)^INSERT\s+INTO\s+identity_events\s*\(id,\s*root_id,\s*event_type,\s*source_id,\s*payload,\s*changes_applied,\s*created_at\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5,\s*\$6,\s*\$7\)\s*$`

func TestAppend_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	createdAt := time.Now().UTC()
	sourceID := "hv-main"
	mock.ExpectExec(appendQuery).
		WithArgs("ev-1", "root-1", "progression.fate_marker", &sourceID,
			[]byte(`{"marker":"first_flame"}`), []byte(`{}`), createdAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Append(context.Background(), &models.IdentityEvent{
		ID: "ev-1", RootID: "root-1", EventType: "progression.fate_marker",
		SourceID: &sourceID, Payload: json.RawMessage(`{"marker":"first_flame"}`),
		ChangesApplied: json.RawMessage(`{}`), CreatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("Append error: %v", err)
	}
}

func TestAppend_EmptyJSONBecomesNull(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	createdAt := time.Now().UTC()
	mock.ExpectExec(appendQuery).
		WithArgs("ev-1", "root-1", models.EventIdentityEnrolled, nil, nil, nil, createdAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Append(context.Background(), &models.IdentityEvent{
		ID: "ev-1", RootID: "root-1", EventType: models.EventIdentityEnrolled,
		CreatedAt: createdAt,
	})
	if err != nil {
		t.Fatalf("Append error: %v", err)
	}
}

func TestAppend_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	mock.ExpectExec(appendQuery).WillReturnError(errors.New("db down"))

	err := repo.Append(context.Background(), &models.IdentityEvent{ID: "ev-1", RootID: "root-1"})
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestTimeline_JoinsSourceNames(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+e\.id,.*FROM\s+identity_events\s+e\s+LEFT\s+JOIN\s+sources\s+s\s+ON\s+s\.id\s*=\s*e\.source_id\s+WHERE\s+e\.root_id\s*=\s*\$1\s+ORDER\s+BY\s+e\.created_at\s+DESC,\s*e\.id\s+DESC\s*$`

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "root_id", "event_type", "source_id",
		"payload", "changes_applied", "created_at", "name"}).
		AddRow("ev-2", "root-1", "progression.xp_grant", "hv-main",
			[]byte(`{"amount":100}`), []byte(`{"total_xp":100}`), now, "Heroes' Veritas").
		AddRow("ev-1", "root-1", models.EventIdentityEnrolled, nil, nil, nil, now.Add(-time.Hour), nil)
	mock.ExpectQuery(q).
		WithArgs("root-1").
		WillReturnRows(rows)

	out, err := repo.Timeline(context.Background(), "root-1")
	if err != nil {
		t.Fatalf("Timeline error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("unexpected timeline length: %d", len(out))
	}
	if out[0].SourceName == nil || *out[0].SourceName != "Heroes' Veritas" {
		t.Fatalf("expected joined source name, got %+v", out[0])
	}
	if out[1].SourceID != nil || out[1].SourceName != nil {
		t.Fatalf("kernel event should carry no source, got %+v", out[1])
	}
}

func TestCountByType(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+count\(\*\)\s+FROM\s+identity_events\s+WHERE\s+root_id\s*=\s*\$1\s+AND\s+event_type\s*=\s*\$2\s*$`

	mock.ExpectQuery(q).
		WithArgs("root-1", "session_completed").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(4)))

	n, err := repo.CountByType(context.Background(), "root-1", "session_completed")
	if err != nil {
		t.Fatalf("CountByType error: %v", err)
	}
	if n != 4 {
		t.Fatalf("unexpected count: %d", n)
	}
}

func TestCountsByType(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+event_type,\s*count\(\*\)\s+FROM\s+identity_events\s+GROUP\s+BY\s+event_type\s*$`

	rows := sqlmock.NewRows([]string{"event_type", "count"}).
		AddRow(models.EventIdentityEnrolled, int64(3)).
		AddRow("session_completed", int64(12))
	mock.ExpectQuery(q).WillReturnRows(rows)

	out, err := repo.CountsByType(context.Background())
	if err != nil {
		t.Fatalf("CountsByType error: %v", err)
	}
	if out[models.EventIdentityEnrolled] != 3 || out["session_completed"] != 12 {
		t.Fatalf("unexpected counts: %v", out)
	}
}
