// Package identity implements the root-identity surface: operator
// enrollment, listing, the nested detail projection, profile updates and
// title equipping.
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fateworks/pik/internal/logging"
	"github.com/fateworks/pik/internal/server/ingest"
	"github.com/fateworks/pik/internal/server/ledger"
	"github.com/fateworks/pik/internal/server/models"
	"github.com/fateworks/pik/internal/server/repositories/repomanager"
	"github.com/fateworks/pik/internal/server/settings"
	"github.com/fateworks/pik/internal/shared"
)

const recentEventCount = 20

// EnrollInput carries the operator-enrollment fields. SourceID, when set,
// grants a consent link in the same transaction.
type EnrollInput struct {
	HeroName      string  `json:"hero_name"`
	FateAlignment string  `json:"fate_alignment"`
	Origin        *string `json:"origin"`
	EnrolledBy    string  `json:"enrolled_by"`
	SourceID      string  `json:"source_id"`
}

// Enrolled is the operator-enrollment result.
type Enrolled struct {
	RootID        string    `json:"root_id"`
	PersonaID     string    `json:"persona_id"`
	HeroName      string    `json:"hero_name"`
	FateAlignment string    `json:"fate_alignment"`
	LinkID        *string   `json:"link_id,omitempty"`
	EnrolledAt    time.Time `json:"enrolled_at"`
}

// ProfileInput is the partial profile update; nil fields stay untouched.
type ProfileInput struct {
	HeroName      *string `json:"hero_name"`
	FateAlignment *string `json:"fate_alignment"`
	Origin        *string `json:"origin"`
}

// Progression is the computed progression block of the detail view.
type Progression struct {
	FateXP           int64               `json:"fate_xp"`
	FateLevel        int                 `json:"fate_level"`
	XPInCurrentLevel int64               `json:"xp_in_current_level"`
	XPNeededForNext  int64               `json:"xp_needed_for_next"`
	TotalSessions    int64               `json:"total_sessions"`
	Titles           []string            `json:"titles"`
	TitlesDetail     []models.HeldTitle  `json:"titles_detail"`
	FateMarkers      []models.FateMarker `json:"fate_markers"`
}

// Detail is the nested per-user projection.
type Detail struct {
	Identity     *models.RootIdentity   `json:"identity"`
	Persona      *models.Persona        `json:"persona,omitempty"`
	Progression  Progression            `json:"progression"`
	SourceLinks  []models.SourceLink    `json:"source_links"`
	RecentEvents []models.IdentityEvent `json:"recent_events"`
	FateCaches   []models.FateCache     `json:"fate_caches"`
}

// Service implements identity reads and the non-ceremony mutations.
type Service struct {
	mgr    repomanager.Manager
	ledger *ledger.Service
	st     *settings.Service
	log    logging.Logger
}

func NewService(mgr repomanager.Manager, ls *ledger.Service, st *settings.Service, log logging.Logger) *Service {
	return &Service{mgr: mgr, ledger: ls, st: st, log: log.With("module", "identity")}
}

// Enroll creates an identity without a passkey ceremony, for operator and
// demo flows. Root, primary persona, optional consent link and the ledger
// rows commit atomically.
func (s *Service) Enroll(ctx context.Context, in EnrollInput) (*Enrolled, error) {
	if in.HeroName == "" || in.FateAlignment == "" || in.EnrolledBy == "" {
		return nil, fmt.Errorf("%w: hero_name, fate_alignment and enrolled_by are required", shared.ErrBadRequest)
	}

	now := time.Now().UTC()
	out := &Enrolled{
		RootID:        uuid.NewString(),
		PersonaID:     uuid.NewString(),
		HeroName:      in.HeroName,
		FateAlignment: in.FateAlignment,
		EnrolledAt:    now,
	}
	var events []*models.IdentityEvent

	err := s.mgr.WithTx(ctx, func(ctx context.Context, r repomanager.Repos) error {
		events = events[:0]

		root := &models.RootIdentity{
			ID:            out.RootID,
			HeroName:      in.HeroName,
			FateAlignment: in.FateAlignment,
			Origin:        in.Origin,
			FateXP:        0,
			FateLevel:     1,
			Status:        models.IdentityStatusActive,
			EnrolledBy:    in.EnrolledBy,
			EnrolledAt:    now,
		}
		if err := r.Identities.Create(ctx, root); err != nil {
			return err
		}

		persona := &models.Persona{
			ID:          out.PersonaID,
			RootID:      out.RootID,
			DisplayName: in.HeroName,
			IsPrimary:   true,
			CreatedAt:   now,
		}
		if err := r.Identities.CreatePersona(ctx, persona); err != nil {
			return err
		}

		events = append(events, ledger.NewEvent(out.RootID, models.EventIdentityEnrolled, nil, map[string]any{
			"hero_name":      in.HeroName,
			"fate_alignment": in.FateAlignment,
			"enrolled_by":    in.EnrolledBy,
		}, nil))

		if in.SourceID != "" {
			source, err := r.Sources.Get(ctx, in.SourceID)
			if err != nil {
				return err
			}
			if source.Status != models.SourceStatusActive {
				return fmt.Errorf("%w: source is not active", shared.ErrBadRequest)
			}
			scope, err := s.st.String(ctx, settings.KeyDefaultLinkScope)
			if err != nil {
				return err
			}
			link := &models.SourceLink{
				ID:        uuid.NewString(),
				RootID:    out.RootID,
				SourceID:  in.SourceID,
				Scope:     scope,
				Status:    models.LinkStatusActive,
				GrantedBy: in.EnrolledBy,
				GrantedAt: now,
			}
			if err := r.Sources.CreateLink(ctx, link); err != nil {
				return err
			}
			out.LinkID = &link.ID
			events = append(events, ledger.NewEvent(out.RootID, models.EventLinkGranted, &in.SourceID, map[string]any{
				"link_id":    link.ID,
				"source_id":  in.SourceID,
				"scope":      scope,
				"granted_by": in.EnrolledBy,
			}, nil))
		}

		for _, ev := range events {
			if err := r.Ledger.Append(ctx, ev); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, ev := range events {
		s.ledger.Publish(ev)
	}
	s.log.Info(ctx, "identity enrolled by operator", "root_id", out.RootID, "enrolled_by", in.EnrolledBy)
	return out, nil
}

// Get returns one identity.
func (s *Service) Get(ctx context.Context, rootID string) (*models.RootIdentity, error) {
	return s.mgr.Repos().Identities.Get(ctx, rootID)
}

// List returns all identities with their active consent-link counts.
func (s *Service) List(ctx context.Context) ([]models.IdentitySummary, error) {
	return s.mgr.Repos().Identities.List(ctx)
}

// Detail assembles the nested per-user projection: identity, primary
// persona, computed progression, links, recent events and caches.
func (s *Service) Detail(ctx context.Context, rootID string) (*Detail, error) {
	r := s.mgr.Repos()

	root, err := r.Identities.Get(ctx, rootID)
	if err != nil {
		return nil, err
	}

	persona, err := r.Identities.PrimaryPersona(ctx, rootID)
	if err != nil && !errors.Is(err, shared.ErrNotFound) {
		return nil, err
	}

	held, err := r.Titles.HeldTitles(ctx, rootID)
	if err != nil {
		return nil, err
	}
	titleIDs := make([]string, 0, len(held))
	for _, h := range held {
		titleIDs = append(titleIDs, h.ID)
	}

	markers, err := r.Titles.MarkersByRoot(ctx, rootID)
	if err != nil {
		return nil, err
	}

	sessionCount, err := r.Ledger.CountByType(ctx, rootID, "progression.session_completed")
	if err != nil {
		return nil, err
	}

	links, err := r.Sources.ListLinksByRoot(ctx, rootID)
	if err != nil {
		return nil, err
	}

	recent, err := r.Ledger.Recent(ctx, rootID, recentEventCount)
	if err != nil {
		return nil, err
	}

	caches, err := r.Loot.CachesByRoot(ctx, rootID)
	if err != nil {
		return nil, err
	}

	base, err := s.st.Float(ctx, settings.KeyXPBaseThreshold)
	if err != nil {
		return nil, err
	}
	mult, err := s.st.Float(ctx, settings.KeyXPLevelMultiplier)
	if err != nil {
		return nil, err
	}

	prog := Progression{
		FateXP:        root.FateXP,
		FateLevel:     root.FateLevel,
		TotalSessions: sessionCount,
		Titles:        titleIDs,
		TitlesDetail:  held,
		FateMarkers:   markers,
	}
	prog.XPInCurrentLevel = root.FateXP
	if root.FateLevel > 1 {
		prog.XPInCurrentLevel = root.FateXP - ingest.Threshold(base, mult, root.FateLevel-1)
	}
	if prog.XPInCurrentLevel < 0 {
		prog.XPInCurrentLevel = 0
	}
	if needed := ingest.Threshold(base, mult, root.FateLevel) - root.FateXP; needed > 0 {
		prog.XPNeededForNext = needed
	}

	return &Detail{
		Identity:     root,
		Persona:      persona,
		Progression:  prog,
		SourceLinks:  links,
		RecentEvents: recent,
		FateCaches:   caches,
	}, nil
}

// UpdateProfile applies a partial profile change for the session-bound user
// and records it on the ledger.
func (s *Service) UpdateProfile(ctx context.Context, rootID string, in ProfileInput) (*models.RootIdentity, error) {
	if in.HeroName == nil && in.FateAlignment == nil && in.Origin == nil {
		return nil, fmt.Errorf("%w: nothing to update", shared.ErrBadRequest)
	}
	if in.HeroName != nil && *in.HeroName == "" {
		return nil, fmt.Errorf("%w: hero_name must not be empty", shared.ErrBadRequest)
	}
	if in.FateAlignment != nil && *in.FateAlignment == "" {
		return nil, fmt.Errorf("%w: fate_alignment must not be empty", shared.ErrBadRequest)
	}

	var root *models.RootIdentity
	var event *models.IdentityEvent

	err := s.mgr.WithTx(ctx, func(ctx context.Context, r repomanager.Repos) error {
		var err error
		root, err = r.Identities.Get(ctx, rootID)
		if err != nil {
			return err
		}

		changes := map[string]any{}
		if in.HeroName != nil && *in.HeroName != root.HeroName {
			changes["hero_name"] = map[string]any{"from": root.HeroName, "to": *in.HeroName}
			root.HeroName = *in.HeroName
		}
		if in.FateAlignment != nil && *in.FateAlignment != root.FateAlignment {
			changes["fate_alignment"] = map[string]any{"from": root.FateAlignment, "to": *in.FateAlignment}
			root.FateAlignment = *in.FateAlignment
		}
		if in.Origin != nil {
			changes["origin"] = map[string]any{"from": root.Origin, "to": *in.Origin}
			root.Origin = in.Origin
		}
		if len(changes) == 0 {
			return nil
		}

		if err := r.Identities.UpdateProfile(ctx, root); err != nil {
			return err
		}
		event = ledger.NewEvent(rootID, models.EventIdentityProfileUpdated, nil, nil, changes)
		return r.Ledger.Append(ctx, event)
	})
	if err != nil {
		return nil, err
	}

	if event != nil {
		s.ledger.Publish(event)
	}
	return root, nil
}

// SetEquippedTitle equips a held title, or clears the equipped title when
// titleID is nil.
func (s *Service) SetEquippedTitle(ctx context.Context, rootID string, titleID *string) (*models.RootIdentity, error) {
	r := s.mgr.Repos()

	root, err := r.Identities.Get(ctx, rootID)
	if err != nil {
		return nil, err
	}

	if titleID != nil {
		if _, err := r.Titles.GetTitle(ctx, *titleID); err != nil {
			return nil, err
		}
		held, err := r.Titles.HasTitle(ctx, rootID, *titleID)
		if err != nil {
			return nil, err
		}
		if !held {
			return nil, fmt.Errorf("%w: title is not held", shared.ErrBadRequest)
		}
	}

	if err := r.Identities.SetEquippedTitle(ctx, rootID, titleID); err != nil {
		return nil, err
	}
	root.EquippedTitleID = titleID
	return root, nil
}
