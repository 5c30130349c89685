// Package titles declares the repository contract for the title catalog,
// per-user title grants, and fate markers.
package titles

import (
	"context"

	"github.com/fateworks/pik/internal/server/models"
)

// Repository defines persistence for titles, user_titles and fate_markers.
type Repository interface {
	// GetTitle returns a catalog title by id, or shared.ErrNotFound.
	GetTitle(ctx context.Context, id string) (*models.Title, error)

	// HeldTitles returns the titles held by a root with grant times,
	// newest grant first.
	HeldTitles(ctx context.Context, rootID string) ([]models.HeldTitle, error)

	// InsertUserTitle assigns a title to a root. A duplicate (root, title)
	// pair returns shared.ErrConflict without aborting the surrounding
	// transaction; callers treat it as "already held" and may keep writing.
	InsertUserTitle(ctx context.Context, ut *models.UserTitle) error

	// HasTitle reports whether the root holds the title.
	HasTitle(ctx context.Context, rootID, titleID string) (bool, error)

	// InsertMarker stores a fate marker. Markers are not deduplicated.
	InsertMarker(ctx context.Context, marker *models.FateMarker) error

	// MarkersByRoot returns a root's markers, newest first.
	MarkersByRoot(ctx context.Context, rootID string) ([]models.FateMarker, error)
}
