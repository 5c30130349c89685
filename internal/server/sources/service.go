// Package sources implements the source registry: registration, API-key
// issuance and rotation, status transitions, and the API-key guard used by
// the ingest surface.
package sources

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/fateworks/pik/internal/logging"
	"github.com/fateworks/pik/internal/server/models"
	"github.com/fateworks/pik/internal/server/repositories/repomanager"
	"github.com/fateworks/pik/internal/shared"
)

// API keys are "pik_" followed by 48 lowercase hex chars (24 random bytes).
const apiKeyPrefix = "pik_"

var sourceIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{2,48}[a-z0-9]$`)

var validStatuses = map[string]struct{}{
	models.SourceStatusActive:      {},
	models.SourceStatusSuspended:   {},
	models.SourceStatusDeactivated: {},
}

// Registered is the one-time registration result carrying the plaintext
// key. The plaintext is never persisted.
type Registered struct {
	Source models.Source
	APIKey string
}

// Resolved identifies an authenticated source attached to a request.
type Resolved struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Service implements the registry over the repository manager.
type Service struct {
	mgr repomanager.Manager
	log logging.Logger
}

func NewService(mgr repomanager.Manager, log logging.Logger) *Service {
	return &Service{mgr: mgr, log: log.With("module", "sources")}
}

func generateAPIKey() (plaintext, hash string, err error) {
	random, err := shared.MakeRandHexString(24)
	if err != nil {
		return "", "", err
	}
	plaintext = apiKeyPrefix + random
	return plaintext, shared.HashSHA256Hex(plaintext), nil
}

// Register validates the caller-chosen id, issues the source's API key and
// persists only its hash. The plaintext is returned exactly once.
func (s *Service) Register(ctx context.Context, id, name string) (*Registered, error) {
	if !sourceIDPattern.MatchString(id) {
		return nil, fmt.Errorf("%w: invalid source id", shared.ErrBadRequest)
	}
	if name == "" {
		return nil, fmt.Errorf("%w: source_name is required", shared.ErrBadRequest)
	}

	plaintext, hash, err := generateAPIKey()
	if err != nil {
		return nil, err
	}

	source := &models.Source{
		ID:         id,
		Name:       name,
		Status:     models.SourceStatusActive,
		APIKeyHash: hash,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.mgr.Repos().Sources.Create(ctx, source); err != nil {
		return nil, err
	}

	s.log.Info(ctx, "source registered", "source_id", id)
	return &Registered{Source: *source, APIKey: plaintext}, nil
}

// RotateKey replaces the API-key hash atomically; the previous key stops
// authenticating on the next request.
func (s *Service) RotateKey(ctx context.Context, id string) (*Registered, error) {
	source, err := s.mgr.Repos().Sources.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	plaintext, hash, err := generateAPIKey()
	if err != nil {
		return nil, err
	}
	if err := s.mgr.Repos().Sources.UpdateKeyHash(ctx, id, hash); err != nil {
		return nil, err
	}

	source.APIKeyHash = hash
	s.log.Info(ctx, "source API key rotated", "source_id", id)
	return &Registered{Source: *source, APIKey: plaintext}, nil
}

// SetStatus transitions a source among active/suspended/deactivated.
func (s *Service) SetStatus(ctx context.Context, id, status string) (*models.Source, error) {
	if _, ok := validStatuses[status]; !ok {
		return nil, fmt.Errorf("%w: invalid source status %q", shared.ErrBadRequest, status)
	}
	if err := s.mgr.Repos().Sources.UpdateStatus(ctx, id, status); err != nil {
		return nil, err
	}
	return s.mgr.Repos().Sources.Get(ctx, id)
}

// Get returns one source.
func (s *Service) Get(ctx context.Context, id string) (*models.Source, error) {
	return s.mgr.Repos().Sources.Get(ctx, id)
}

// List returns all sources.
func (s *Service) List(ctx context.Context) ([]models.Source, error) {
	return s.mgr.Repos().Sources.List(ctx)
}

// Authenticate resolves a presented plaintext key to an active source.
// The error is the same opaque forbidden regardless of whether the key is
// missing, unknown, or belongs to a suspended source.
func (s *Service) Authenticate(ctx context.Context, presented string) (*Resolved, error) {
	if presented == "" {
		return nil, fmt.Errorf("%w: invalid API key", shared.ErrForbidden)
	}
	source, err := s.mgr.Repos().Sources.FindActiveByKeyHash(ctx, shared.HashSHA256Hex(presented))
	if err != nil {
		return nil, fmt.Errorf("%w: invalid API key", shared.ErrForbidden)
	}
	return &Resolved{ID: source.ID, Name: source.Name}, nil
}
