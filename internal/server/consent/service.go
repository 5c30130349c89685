// Package consent manages the per-(user, source) permission links. Every
// source mutation is gated on an active link; revocation blocks future
// ingest while past progression is preserved.
package consent

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fateworks/pik/internal/logging"
	"github.com/fateworks/pik/internal/server/ledger"
	"github.com/fateworks/pik/internal/server/models"
	"github.com/fateworks/pik/internal/server/repositories/repomanager"
	"github.com/fateworks/pik/internal/server/settings"
	"github.com/fateworks/pik/internal/shared"
)

// GrantInput names the parameters of a link grant.
type GrantInput struct {
	SourceID  string
	GrantedBy string
	Scope     string
}

// ActiveGrant is the probe result handed to the ingest engine.
type ActiveGrant struct {
	LinkID string
	Scope  string
}

// Service implements consent link lifecycle and the active-link probe.
type Service struct {
	mgr    repomanager.Manager
	ledger *ledger.Service
	st     *settings.Service
	log    logging.Logger
}

func NewService(mgr repomanager.Manager, ls *ledger.Service, st *settings.Service, log logging.Logger) *Service {
	return &Service{mgr: mgr, ledger: ls, st: st, log: log.With("module", "consent")}
}

// Grant creates an active link for (root, source), rejecting duplicates
// with a conflict. The link row and its ledger event commit atomically.
func (s *Service) Grant(ctx context.Context, rootID string, in GrantInput) (*models.SourceLink, error) {
	if in.SourceID == "" || in.GrantedBy == "" {
		return nil, fmt.Errorf("%w: source_id and granted_by are required", shared.ErrBadRequest)
	}

	scope := in.Scope
	if scope == "" {
		var err error
		if scope, err = s.st.String(ctx, settings.KeyDefaultLinkScope); err != nil {
			return nil, err
		}
	}

	var link *models.SourceLink
	var event *models.IdentityEvent

	err := s.mgr.WithTx(ctx, func(ctx context.Context, r repomanager.Repos) error {
		root, err := r.Identities.Get(ctx, rootID)
		if err != nil {
			return err
		}
		if root.Status != models.IdentityStatusActive {
			return fmt.Errorf("%w: identity is not active", shared.ErrBadRequest)
		}

		source, err := r.Sources.Get(ctx, in.SourceID)
		if err != nil {
			return err
		}
		if source.Status != models.SourceStatusActive {
			return fmt.Errorf("%w: source is not active", shared.ErrBadRequest)
		}

		if _, err := r.Sources.ActiveLink(ctx, rootID, in.SourceID); err == nil {
			return fmt.Errorf("%w: an active link already exists for this source", shared.ErrConflict)
		} else if !errors.Is(err, shared.ErrNotFound) {
			return err
		}

		link = &models.SourceLink{
			ID:        uuid.NewString(),
			RootID:    rootID,
			SourceID:  in.SourceID,
			Scope:     scope,
			Status:    models.LinkStatusActive,
			GrantedBy: in.GrantedBy,
			GrantedAt: time.Now().UTC(),
		}
		if err := r.Sources.CreateLink(ctx, link); err != nil {
			return err
		}

		event = ledger.NewEvent(rootID, models.EventLinkGranted, &in.SourceID, map[string]any{
			"link_id":    link.ID,
			"source_id":  in.SourceID,
			"scope":      scope,
			"granted_by": in.GrantedBy,
		}, nil)
		return r.Ledger.Append(ctx, event)
	})
	if err != nil {
		return nil, err
	}

	s.ledger.Publish(event)
	return link, nil
}

// Revoke transitions an active link to revoked and appends the matching
// ledger event in the same transaction.
func (s *Service) Revoke(ctx context.Context, rootID, linkID string, revokedBy *string) (*models.SourceLink, error) {
	var link *models.SourceLink
	var event *models.IdentityEvent

	err := s.mgr.WithTx(ctx, func(ctx context.Context, r repomanager.Repos) error {
		var err error
		link, err = r.Sources.GetLink(ctx, linkID)
		if err != nil {
			return err
		}
		if link.RootID != rootID {
			return fmt.Errorf("%w: link does not belong to this identity", shared.ErrNotFound)
		}
		if link.Status != models.LinkStatusActive {
			return fmt.Errorf("%w: link is already revoked", shared.ErrConflict)
		}

		now := time.Now().UTC()
		if err := r.Sources.RevokeLink(ctx, linkID, now, revokedBy); err != nil {
			return err
		}
		link.Status = models.LinkStatusRevoked
		link.RevokedAt = &now
		link.RevokedBy = revokedBy

		event = ledger.NewEvent(rootID, models.EventLinkRevoked, &link.SourceID, map[string]any{
			"link_id":   linkID,
			"source_id": link.SourceID,
		}, nil)
		return r.Ledger.Append(ctx, event)
	})
	if err != nil {
		return nil, err
	}

	s.ledger.Publish(event)
	return link, nil
}

// List returns all links for a root.
func (s *Service) List(ctx context.Context, rootID string) ([]models.SourceLink, error) {
	return s.mgr.Repos().Sources.ListLinksByRoot(ctx, rootID)
}

// ValidateActiveLink reports the active link for (root, source), or nil
// when consent is absent.
func (s *Service) ValidateActiveLink(ctx context.Context, rootID, sourceID string) (*ActiveGrant, error) {
	link, err := s.mgr.Repos().Sources.ActiveLink(ctx, rootID, sourceID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &ActiveGrant{LinkID: link.ID, Scope: link.Scope}, nil
}
