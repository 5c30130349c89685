// Package authkeys declares the repository contract for WebAuthn
// credentials and their one-shot ceremony challenges.
package authkeys

import (
	"context"
	"time"

	"github.com/fateworks/pik/internal/server/models"
)

// Repository defines persistence for auth_keys and webauthn_challenges.
type Repository interface {
	// CreateKey inserts a new credential. A duplicate credential_id returns
	// shared.ErrConflict.
	CreateKey(ctx context.Context, key *models.AuthKey) error

	// GetKey returns a key by id, or shared.ErrNotFound.
	GetKey(ctx context.Context, id string) (*models.AuthKey, error)

	// GetKeyByCredentialID returns a key by its credential id, or shared.ErrNotFound.
	GetKeyByCredentialID(ctx context.Context, credentialID string) (*models.AuthKey, error)

	// ListByRoot returns all keys for a root, newest first.
	ListByRoot(ctx context.Context, rootID string) ([]models.AuthKey, error)

	// ActiveByRoot returns the active keys for a root, newest first.
	ActiveByRoot(ctx context.Context, rootID string) ([]models.AuthKey, error)

	// CountActive counts the root's active keys.
	CountActive(ctx context.Context, rootID string) (int, error)

	// UpdateCounter stores the post-assertion signature counter and
	// last-used timestamp.
	UpdateCounter(ctx context.Context, id string, signCount int64, usedAt time.Time) error

	// RevokeKey transitions a key to revoked with the given timestamp.
	RevokeKey(ctx context.Context, id string, revokedAt time.Time) error

	// CreateChallenge persists a ceremony challenge.
	CreateChallenge(ctx context.Context, ch *models.WebAuthnChallenge) error

	// GetChallenge looks a challenge up by its nonce string, or shared.ErrNotFound.
	GetChallenge(ctx context.Context, challenge string) (*models.WebAuthnChallenge, error)

	// DeleteChallenge consumes a challenge. Reports shared.ErrNotFound when
	// the row was already consumed by a concurrent attempt.
	DeleteChallenge(ctx context.Context, id string) error

	// DeleteExpiredChallenges removes challenges whose expiry precedes now,
	// returning the number deleted.
	DeleteExpiredChallenges(ctx context.Context, now time.Time) (int64, error)
}
