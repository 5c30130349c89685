package repomanager

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/fateworks/pik/internal/dbx"
	"github.com/fateworks/pik/internal/server/migrations"
	"github.com/fateworks/pik/internal/server/repositories/authkeys"
	"github.com/fateworks/pik/internal/server/repositories/identities"
	"github.com/fateworks/pik/internal/server/repositories/ledger"
	"github.com/fateworks/pik/internal/server/repositories/loot"
	"github.com/fateworks/pik/internal/server/repositories/sessions"
	"github.com/fateworks/pik/internal/server/repositories/settings"
	"github.com/fateworks/pik/internal/server/repositories/sources"
	"github.com/fateworks/pik/internal/server/repositories/titles"
)

// PostgresRepositoryManager implements Manager over a pgx stdlib pool.
type PostgresRepositoryManager struct {
	db *sql.DB
}

// NewPostgresRepositoryManager opens the pool, verifies connectivity and
// applies pending migrations.
func NewPostgresRepositoryManager(ctx context.Context, dsn string) (*PostgresRepositoryManager, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("db ping error: %w", err)
	}

	m := &PostgresRepositoryManager{db: db}
	if err := m.RunMigrations(ctx); err != nil {
		return nil, fmt.Errorf("migration error: %w", err)
	}
	return m, nil
}

// NewPostgresRepositoryManagerFromDB wraps an existing handle without
// running migrations. Used by tests.
func NewPostgresRepositoryManagerFromDB(db *sql.DB) *PostgresRepositoryManager {
	return &PostgresRepositoryManager{db: db}
}

func bindRepos(db dbx.DBTX) Repos {
	return Repos{
		Identities: identities.NewPostgresRepository(db),
		AuthKeys:   authkeys.NewPostgresRepository(db),
		Sessions:   sessions.NewPostgresRepository(db),
		Sources:    sources.NewPostgresRepository(db),
		Ledger:     ledger.NewPostgresRepository(db),
		Titles:     titles.NewPostgresRepository(db),
		Loot:       loot.NewPostgresRepository(db),
		Settings:   settings.NewPostgresRepository(db),
	}
}

func (m *PostgresRepositoryManager) Repos() Repos {
	return bindRepos(m.db)
}

func (m *PostgresRepositoryManager) WithTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error {
	return dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		return fn(ctx, bindRepos(tx))
	})
}

func (m *PostgresRepositoryManager) Conn() *sql.DB {
	return m.db
}

func (m *PostgresRepositoryManager) RunMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, m.db, "."); err != nil {
		return err
	}
	return nil
}

func (m *PostgresRepositoryManager) Close() error {
	return m.db.Close()
}
