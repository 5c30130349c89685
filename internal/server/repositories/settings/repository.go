// Package settings declares the repository contract for the stringly-typed
// app_config table. Keys are pre-seeded by migrations; writes to unknown
// keys are rejected at the service layer.
package settings

import "context"

// Repository defines persistence for app_config rows.
type Repository interface {
	// GetAll returns every (key, value) pair.
	GetAll(ctx context.Context) (map[string]string, error)

	// Get returns the raw string value for a key, or shared.ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Update sets the value of an existing key. Reports shared.ErrNotFound
	// for keys that were never seeded.
	Update(ctx context.Context, key, value string) error
}
