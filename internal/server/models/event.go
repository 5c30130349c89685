package models

import (
	"encoding/json"
	"time"
)

// Ledger event types appended by the kernel itself. Ingest event types
// arrive from sources as dotted strings and are dispatched by the engine.
const (
	EventIdentityEnrolled       = "identity.enrolled"
	EventIdentityAuthenticated  = "identity.authenticated"
	EventIdentityProfileUpdated = "identity.profile_updated"
	EventKeyRegistered          = "key.registered"
	EventKeyRevoked             = "key.revoked"
	EventLinkGranted            = "source.link_granted"
	EventLinkRevoked            = "source.link_revoked"
	EventTitleGranted           = "progression.title_granted"
	EventFateMarker             = "progression.fate_marker"
	EventCacheGranted           = "loot.cache_granted"
	EventCacheOpened            = "loot.cache_opened"
)

// IdentityEvent is one append-only ledger row. Payload and ChangesApplied
// are opaque JSON, kept verbatim for historical fidelity. Rows are never
// updated or deleted by business logic.
type IdentityEvent struct {
	ID             string          `json:"event_id"`
	RootID         string          `json:"root_id"`
	EventType      string          `json:"event_type"`
	SourceID       *string         `json:"source_id,omitempty"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	ChangesApplied json.RawMessage `json:"changes_applied,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

// TimelineEntry is an event joined with the emitting source's display name.
type TimelineEntry struct {
	IdentityEvent
	SourceName *string `json:"source_name,omitempty"`
}
