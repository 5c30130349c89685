// Package repomanager wires the database connection to the per-aggregate
// repositories and exposes the transactional unit-of-work used by the
// feature engines.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/fateworks/pik/internal/server/repositories/authkeys"
	"github.com/fateworks/pik/internal/server/repositories/identities"
	"github.com/fateworks/pik/internal/server/repositories/ledger"
	"github.com/fateworks/pik/internal/server/repositories/loot"
	"github.com/fateworks/pik/internal/server/repositories/sessions"
	"github.com/fateworks/pik/internal/server/repositories/settings"
	"github.com/fateworks/pik/internal/server/repositories/sources"
	"github.com/fateworks/pik/internal/server/repositories/titles"
)

// Repos bundles every repository bound to one database handle, either the
// pooled connection or a single transaction.
type Repos struct {
	Identities identities.Repository
	AuthKeys   authkeys.Repository
	Sessions   sessions.Repository
	Sources    sources.Repository
	Ledger     ledger.Repository
	Titles     titles.Repository
	Loot       loot.Repository
	Settings   settings.Repository
}

// Manager provides access to db-bound repositories and the transactional
// unit-of-work. Operations touching two or more tables, and every ledger
// append paired with a state mutation, run inside WithTx.
type Manager interface {
	// Repos returns repositories bound to the pooled connection.
	Repos() Repos

	// WithTx runs fn with repositories bound to a single transaction,
	// committing on success and rolling back on error or panic.
	WithTx(ctx context.Context, fn func(ctx context.Context, r Repos) error) error

	// Conn exposes the raw handle for health checks.
	Conn() *sql.DB

	// RunMigrations applies the embedded goose migrations.
	RunMigrations(ctx context.Context) error

	// Close releases the connection pool.
	Close() error
}
