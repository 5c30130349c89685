// Package identities declares the repository contract for root identities
// and their personas.
package identities

import (
	"context"

	"github.com/fateworks/pik/internal/server/models"
)

// Repository defines persistence operations for RootIdentity rows.
// Identities are never deleted; lifecycle changes are status transitions.
type Repository interface {
	// Create inserts a new root identity.
	Create(ctx context.Context, identity *models.RootIdentity) error

	// Get returns the identity by id, or shared.ErrNotFound.
	Get(ctx context.Context, id string) (*models.RootIdentity, error)

	// GetForUpdate is Get with a row lock, for use inside a transaction that
	// will apply an XP cascade.
	GetForUpdate(ctx context.Context, id string) (*models.RootIdentity, error)

	// List returns all identities with their active consent-link counts,
	// newest enrollment first.
	List(ctx context.Context) ([]models.IdentitySummary, error)

	// UpdateProgress persists new fate_xp / fate_level values.
	UpdateProgress(ctx context.Context, id string, xp int64, level int) error

	// UpdateProfile persists hero_name, fate_alignment and origin.
	UpdateProfile(ctx context.Context, identity *models.RootIdentity) error

	// SetEquippedTitle sets or clears the equipped title reference.
	SetEquippedTitle(ctx context.Context, id string, titleID *string) error

	// CreatePersona inserts a persona bound to a root.
	CreatePersona(ctx context.Context, persona *models.Persona) error

	// PrimaryPersona returns the primary persona for a root, or shared.ErrNotFound.
	PrimaryPersona(ctx context.Context, rootID string) (*models.Persona, error)
}
