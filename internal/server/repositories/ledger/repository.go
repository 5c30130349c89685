// Package ledger declares the repository contract for the append-only
// identity_events table. Rows are never updated or deleted by business
// logic; only Append writes here.
package ledger

import (
	"context"

	"github.com/fateworks/pik/internal/server/models"
)

// Repository defines operations on the event ledger. Ordering within a
// single root is (created_at, id): wall-clock monotonic with lexicographic
// event-id tie-break.
type Repository interface {
	// Append inserts one event row. Callers own the surrounding transaction.
	Append(ctx context.Context, event *models.IdentityEvent) error

	// Timeline returns all events for a root, newest first, joined with the
	// emitting source's display name.
	Timeline(ctx context.Context, rootID string) ([]models.TimelineEntry, error)

	// Recent returns the latest n events for a root, newest first.
	Recent(ctx context.Context, rootID string, n int) ([]models.IdentityEvent, error)

	// CountByType counts a root's events of one type.
	CountByType(ctx context.Context, rootID, eventType string) (int64, error)

	// TotalCount counts all ledger rows.
	TotalCount(ctx context.Context) (int64, error)

	// CountsByType returns ledger row counts grouped by event type.
	CountsByType(ctx context.Context) (map[string]int64, error)
}
