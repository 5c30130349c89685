// Package sessions declares the repository contract for opaque session
// tokens, which are stored hash-at-rest only.
package sessions

import (
	"context"
	"time"

	"github.com/fateworks/pik/internal/server/models"
)

// Repository defines persistence for session_tokens.
type Repository interface {
	// Create stores a new session token row.
	Create(ctx context.Context, token *models.SessionToken) error

	// FindByHash returns the row matching a token hash, or shared.ErrNotFound.
	FindByHash(ctx context.Context, tokenHash string) (*models.SessionToken, error)

	// DeleteExpired removes tokens whose expiry precedes now, returning the
	// number deleted.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
