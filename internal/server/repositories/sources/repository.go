// Package sources declares the repository contract for upstream sources
// and the consent links that gate their writes.
package sources

import (
	"context"
	"time"

	"github.com/fateworks/pik/internal/server/models"
)

// Repository defines persistence for sources and source_links.
type Repository interface {
	// Create inserts a new source; a duplicate id returns shared.ErrConflict.
	Create(ctx context.Context, source *models.Source) error

	// Get returns a source by id, or shared.ErrNotFound.
	Get(ctx context.Context, id string) (*models.Source, error)

	// List returns all sources, newest first.
	List(ctx context.Context) ([]models.Source, error)

	// UpdateKeyHash atomically swaps the API-key hash.
	UpdateKeyHash(ctx context.Context, id, keyHash string) error

	// UpdateStatus transitions the source status.
	UpdateStatus(ctx context.Context, id, status string) error

	// FindActiveByKeyHash resolves an active source by its API-key hash, or
	// shared.ErrNotFound. Suspended and deactivated sources never match.
	FindActiveByKeyHash(ctx context.Context, keyHash string) (*models.Source, error)

	// CreateLink inserts a consent link.
	CreateLink(ctx context.Context, link *models.SourceLink) error

	// GetLink returns a link by id, or shared.ErrNotFound.
	GetLink(ctx context.Context, id string) (*models.SourceLink, error)

	// ListLinksByRoot returns all links for a root, newest grant first.
	ListLinksByRoot(ctx context.Context, rootID string) ([]models.SourceLink, error)

	// ActiveLink returns the active link for (root, source), or shared.ErrNotFound.
	ActiveLink(ctx context.Context, rootID, sourceID string) (*models.SourceLink, error)

	// RevokeLink transitions an active link to revoked. Reports
	// shared.ErrNotFound when the link is absent or already revoked.
	RevokeLink(ctx context.Context, id string, revokedAt time.Time, revokedBy *string) error
}
