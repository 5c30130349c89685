// Package sessions mints and validates the opaque Bearer tokens that
// authenticate users. Only a keyed hash is stored; tokens are
// non-renewable; a new session requires re-authenticating.
package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fateworks/pik/internal/server/models"
	"github.com/fateworks/pik/internal/server/repositories/repomanager"
	"github.com/fateworks/pik/internal/server/settings"
	"github.com/fateworks/pik/internal/shared"
)

const defaultTTL = time.Hour

// Issued carries the one-time plaintext token.
type Issued struct {
	Token     string
	ExpiresAt time.Time
}

// Service implements the session issuer.
type Service struct {
	mgr      repomanager.Manager
	settings *settings.Service
	hashKey  []byte
}

func NewService(mgr repomanager.Manager, st *settings.Service, hashKey string) *Service {
	return &Service{mgr: mgr, settings: st, hashKey: []byte(hashKey)}
}

func (s *Service) ttl(ctx context.Context) time.Duration {
	secs, err := s.settings.Int(ctx, settings.KeySessionTokenTTLSecs)
	if err != nil || secs <= 0 {
		return defaultTTL
	}
	return time.Duration(secs) * time.Second
}

// Issue mints a fresh token for the root: 32 random bytes as lowercase
// hex, persisted as an HMAC-SHA256 hash with the configured TTL.
func (s *Service) Issue(ctx context.Context, rootID string) (*Issued, error) {
	token, err := shared.MakeRandHexString(32)
	if err != nil {
		return nil, fmt.Errorf("token generation error: %w", err)
	}

	expiresAt := time.Now().UTC().Add(s.ttl(ctx))
	row := &models.SessionToken{
		ID:        uuid.NewString(),
		TokenHash: shared.HashHMACHex(s.hashKey, token),
		RootID:    rootID,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.mgr.Repos().Sessions.Create(ctx, row); err != nil {
		return nil, err
	}
	return &Issued{Token: token, ExpiresAt: expiresAt}, nil
}

// IssueTx is Issue bound to the caller's transaction, for flows that mint
// a session atomically with other writes.
func (s *Service) IssueTx(ctx context.Context, r repomanager.Repos, rootID string) (*Issued, error) {
	token, err := shared.MakeRandHexString(32)
	if err != nil {
		return nil, fmt.Errorf("token generation error: %w", err)
	}

	expiresAt := time.Now().UTC().Add(s.ttl(ctx))
	row := &models.SessionToken{
		ID:        uuid.NewString(),
		TokenHash: shared.HashHMACHex(s.hashKey, token),
		RootID:    rootID,
		ExpiresAt: expiresAt,
		CreatedAt: time.Now().UTC(),
	}
	if err := r.Sessions.Create(ctx, row); err != nil {
		return nil, err
	}
	return &Issued{Token: token, ExpiresAt: expiresAt}, nil
}

// Validate resolves a presented token to its root id. Absent or expired
// tokens fail as unauthorized.
func (s *Service) Validate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("%w: missing session token", shared.ErrUnauthorized)
	}
	row, err := s.mgr.Repos().Sessions.FindByHash(ctx, shared.HashHMACHex(s.hashKey, token))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return "", fmt.Errorf("%w: invalid session token", shared.ErrUnauthorized)
		}
		return "", err
	}
	if time.Now().UTC().After(row.ExpiresAt) {
		return "", fmt.Errorf("%w: session expired", shared.ErrUnauthorized)
	}
	return row.RootID, nil
}
