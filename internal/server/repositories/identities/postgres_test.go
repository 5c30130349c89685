package identities

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/fateworks/pik/internal/server/models"
	"github.com/fateworks/pik/internal/shared"
)

func newRepoWithMock(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return NewPostgresRepository(db), mock, db
}

func identityRow(ident *models.RootIdentity) *sqlmock.Rows {
	var origin, equipped any
	if ident.Origin != nil {
		origin = *ident.Origin
	}
	if ident.EquippedTitleID != nil {
		equipped = *ident.EquippedTitleID
	}
	return sqlmock.NewRows([]string{"id", "hero_name", "fate_alignment", "origin", "fate_xp",
		"fate_level", "status", "enrolled_by", "enrolled_at", "equipped_title_id"}).
		AddRow(ident.ID, ident.HeroName, ident.FateAlignment, origin, ident.FateXP,
			ident.FateLevel, ident.Status, ident.EnrolledBy, ident.EnrolledAt, equipped)
}

func TestGet_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+id,\s*hero_name,\s*fate_alignment,.*FROM\s+root_identities\s+WHERE\s+id\s*=\s*\$1\s*$`

	mock.ExpectQuery(q).
		WithArgs("root-1").
		WillReturnRows(identityRow(&models.RootIdentity{
			ID: "root-1", HeroName: "Kaelen", FateAlignment: "ember",
			FateXP: 295, FateLevel: 2, Status: models.IdentityStatusActive,
			EnrolledBy: "operator", EnrolledAt: time.Now().UTC(),
		}))

	got, err := repo.Get(context.Background(), "root-1")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.ID != "root-1" || got.HeroName != "Kaelen" || got.FateXP != 295 || got.FateLevel != 2 {
		t.Fatalf("unexpected identity: %+v", got)
	}
}

func TestGet_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+id,\s*hero_name,\s*fate_alignment,.*FROM\s+root_identities\s+WHERE\s+id\s*=\s*\$1\s*$`

	mock.ExpectQuery(q).
		WithArgs("ghost").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "ghost")
	if !errors.Is(err, shared.ErrNotFound) {
		t.Fatalf("want shared.ErrNotFound, got %v", err)
	}
}

func TestGet_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+id,\s*hero_name,\s*fate_alignment,.*FROM\s+root_identities\s+WHERE\s+id\s*=\s*\$1\s*$`

	mock.ExpectQuery(q).
		WithArgs("root-1").
		WillReturnError(errors.New("db down"))

	_, err := repo.Get(context.Background(), "root-1")
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestGetForUpdate_LocksRow(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+id,\s*hero_name,.*FROM\s+root_identities\s+WHERE\s+id\s*=\s*\$1\s+FOR\s+UPDATE\s*$`

	mock.ExpectQuery(q).
		WithArgs("root-1").
		WillReturnRows(identityRow(&models.RootIdentity{
			ID: "root-1", HeroName: "Kaelen", FateLevel: 1,
			Status: models.IdentityStatusActive, EnrolledAt: time.Now().UTC(),
		}))

	got, err := repo.GetForUpdate(context.Background(), "root-1")
	if err != nil {
		t.Fatalf("GetForUpdate error: %v", err)
	}
	if got.ID != "root-1" {
		t.Fatalf("unexpected identity: %+v", got)
	}
}

func TestCreate_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^INSERT\s+INTO\s+root_identities\s*\(id,\s*hero_name,\s*fate_alignment,\s*origin,\s*fate_xp,\s*fate_level,\s*status,\s*enrolled_by,\s*enrolled_at\)\s*VALUES\s*\(\$1,\s*\$2,\s*\$3,\s*\$4,\s*\$5,\s*\$6,\s*\$7,\s*\$8,\s*\$9\)\s*$`

	origin := "the northern wastes"
	enrolledAt := time.Now().UTC()
	mock.ExpectExec(q).
		WithArgs("root-1", "Kaelen", "ember", &origin, int64(0), 1,
			models.IdentityStatusActive, "operator", enrolledAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Create(context.Background(), &models.RootIdentity{
		ID: "root-1", HeroName: "Kaelen", FateAlignment: "ember", Origin: &origin,
		FateXP: 0, FateLevel: 1, Status: models.IdentityStatusActive,
		EnrolledBy: "operator", EnrolledAt: enrolledAt,
	})
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}
}

func TestCreate_DBError(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^INSERT\s+INTO\s+root_identities\s*\(.*\)\s*VALUES\s*\(.*\)\s*$`

	mock.ExpectExec(q).WillReturnError(errors.New("db down"))

	err := repo.Create(context.Background(), &models.RootIdentity{ID: "root-1"})
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestList_IncludesActiveSourceCounts(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+id,\s*hero_name,.*active_sources.*FROM\s+root_identities\s+ORDER\s+BY\s+enrolled_at\s+DESC\s*$`

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "hero_name", "fate_alignment", "origin", "fate_xp",
		"fate_level", "status", "enrolled_by", "enrolled_at", "equipped_title_id", "active_sources"}).
		AddRow("root-2", "Mira", "tide", nil, int64(0), 1, models.IdentityStatusActive, "operator", now, nil, 0).
		AddRow("root-1", "Kaelen", "ember", nil, int64(295), 2, models.IdentityStatusActive, "operator", now.Add(-time.Hour), nil, 2)
	mock.ExpectQuery(q).WillReturnRows(rows)

	out, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("unexpected list length: %d", len(out))
	}
	if out[0].ID != "root-2" || out[0].ActiveSources != 0 {
		t.Fatalf("unexpected first summary: %+v", out[0])
	}
	if out[1].ID != "root-1" || out[1].ActiveSources != 2 {
		t.Fatalf("unexpected second summary: %+v", out[1])
	}
}

func TestUpdateProgress_Success(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+root_identities\s+SET\s+fate_xp\s*=\s*\$2,\s*fate_level\s*=\s*\$3\s+WHERE\s+id\s*=\s*\$1\s*$`

	mock.ExpectExec(q).
		WithArgs("root-1", int64(295), 2).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := repo.UpdateProgress(context.Background(), "root-1", 295, 2); err != nil {
		t.Fatalf("UpdateProgress error: %v", err)
	}
}

func TestUpdateProgress_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+root_identities\s+SET\s+fate_xp\s*=\s*\$2,\s*fate_level\s*=\s*\$3\s+WHERE\s+id\s*=\s*\$1\s*$`

	mock.ExpectExec(q).
		WithArgs("ghost", int64(100), 1).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateProgress(context.Background(), "ghost", 100, 1)
	if !errors.Is(err, shared.ErrNotFound) {
		t.Fatalf("want shared.ErrNotFound, got %v", err)
	}
}

func TestSetEquippedTitle_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^UPDATE\s+root_identities\s+SET\s+equipped_title_id\s*=\s*\$2\s+WHERE\s+id\s*=\s*\$1\s*$`

	title := "title_fate_awakened"
	mock.ExpectExec(q).
		WithArgs("ghost", &title).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.SetEquippedTitle(context.Background(), "ghost", &title)
	if !errors.Is(err, shared.ErrNotFound) {
		t.Fatalf("want shared.ErrNotFound, got %v", err)
	}
}

func TestPrimaryPersona_Found(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+id,\s*root_id,\s*display_name,\s*is_primary,\s*created_at\s+FROM\s+personas\s+WHERE\s+root_id\s*=\s*\$1\s+AND\s+is_primary\s+LIMIT\s+1\s*$`

	rows := sqlmock.NewRows([]string{"id", "root_id", "display_name", "is_primary", "created_at"}).
		AddRow("p-1", "root-1", "Kaelen", true, time.Now().UTC())
	mock.ExpectQuery(q).
		WithArgs("root-1").
		WillReturnRows(rows)

	got, err := repo.PrimaryPersona(context.Background(), "root-1")
	if err != nil {
		t.Fatalf("PrimaryPersona error: %v", err)
	}
	if got.DisplayName != "Kaelen" || !got.IsPrimary {
		t.Fatalf("unexpected persona: %+v", got)
	}
}

func TestPrimaryPersona_NotFound(t *testing.T) {
	repo, mock, db := newRepoWithMock(t)
	defer db.Close()

	q := `(?s)^SELECT\s+id,\s*root_id,\s*display_name,\s*is_primary,\s*created_at\s+FROM\s+personas\s+WHERE\s+root_id\s*=\s*\$1\s+AND\s+is_primary\s+LIMIT\s+1\s*$`

	mock.ExpectQuery(q).
		WithArgs("root-1").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.PrimaryPersona(context.Background(), "root-1")
	if !errors.Is(err, shared.ErrNotFound) {
		t.Fatalf("want shared.ErrNotFound, got %v", err)
	}
}
