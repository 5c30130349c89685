// Package ledger owns the append-only event history: constructing rows,
// reading timelines and counts, and publishing post-commit projections on
// the event bus.
package ledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/fateworks/pik/internal/logging"
	"github.com/fateworks/pik/internal/server/eventbus"
	"github.com/fateworks/pik/internal/server/models"
	"github.com/fateworks/pik/internal/server/repositories/repomanager"
)

// Service provides ledger reads over the pooled connection and the
// post-commit publish step. Appends themselves go through the caller's
// transaction-bound repository (see NewEvent).
type Service struct {
	mgr repomanager.Manager
	bus *eventbus.Bus
	log logging.Logger
}

func NewService(mgr repomanager.Manager, bus *eventbus.Bus, log logging.Logger) *Service {
	return &Service{mgr: mgr, bus: bus, log: log.With("module", "ledger")}
}

// NewEvent builds a ledger row ready for appending. Payload and changes are
// marshaled here so every caller stores the same shape; a nil value leaves
// the column NULL.
func NewEvent(rootID, eventType string, sourceID *string, payload, changes any) *models.IdentityEvent {
	ev := &models.IdentityEvent{
		ID:        uuid.NewString(),
		RootID:    rootID,
		EventType: eventType,
		SourceID:  sourceID,
		CreatedAt: time.Now().UTC(),
	}
	if payload != nil {
		ev.Payload, _ = json.Marshal(payload)
	}
	if changes != nil {
		ev.ChangesApplied, _ = json.Marshal(changes)
	}
	return ev
}

// Publish emits the post-commit projection of an appended row. Callers
// invoke it only after the owning transaction has committed, so observers
// never see writes that roll back.
func (s *Service) Publish(ev *models.IdentityEvent) {
	s.bus.Publish(eventbus.Event{
		EventID:        ev.ID,
		RootID:         ev.RootID,
		EventType:      ev.EventType,
		SourceID:       ev.SourceID,
		Payload:        ev.Payload,
		ChangesApplied: ev.ChangesApplied,
		CreatedAt:      ev.CreatedAt,
	})
}

// Timeline returns a root's full history, newest first.
func (s *Service) Timeline(ctx context.Context, rootID string) ([]models.TimelineEntry, error) {
	return s.mgr.Repos().Ledger.Timeline(ctx, rootID)
}

// Recent returns the latest n events for a root.
func (s *Service) Recent(ctx context.Context, rootID string, n int) ([]models.IdentityEvent, error) {
	return s.mgr.Repos().Ledger.Recent(ctx, rootID, n)
}

// CountByType counts a root's events of one type.
func (s *Service) CountByType(ctx context.Context, rootID, eventType string) (int64, error) {
	return s.mgr.Repos().Ledger.CountByType(ctx, rootID, eventType)
}

// TotalCount counts all ledger rows.
func (s *Service) TotalCount(ctx context.Context) (int64, error) {
	return s.mgr.Repos().Ledger.TotalCount(ctx)
}

// CountsByType returns ledger row counts grouped by event type.
func (s *Service) CountsByType(ctx context.Context) (map[string]int64, error) {
	return s.mgr.Repos().Ledger.CountsByType(ctx)
}
