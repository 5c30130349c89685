// Package models defines the persistent entities of the identity kernel.
package models

import "time"

// Root identity lifecycle states. Identities are never deleted from disk,
// only status-transitioned.
const (
	IdentityStatusActive    = "active"
	IdentityStatusSuspended = "suspended"
	IdentityStatusDeleted   = "deleted"
)

// RootIdentity is the canonical user record. All progression flows through
// the ledger; fate_xp never decreases during normal operation.
type RootIdentity struct {
	ID              string    `json:"root_id"`
	HeroName        string    `json:"hero_name"`
	FateAlignment   string    `json:"fate_alignment"`
	Origin          *string   `json:"origin,omitempty"`
	FateXP          int64     `json:"fate_xp"`
	FateLevel       int       `json:"fate_level"`
	Status          string    `json:"status"`
	EnrolledBy      string    `json:"enrolled_by"`
	EnrolledAt      time.Time `json:"enrolled_at"`
	EquippedTitleID *string   `json:"equipped_title_id,omitempty"`
}

// Persona is a display-layer alias bound to a RootIdentity. One primary
// persona is created at enrollment.
type Persona struct {
	ID          string    `json:"persona_id"`
	RootID      string    `json:"root_id"`
	DisplayName string    `json:"display_name"`
	IsPrimary   bool      `json:"is_primary"`
	CreatedAt   time.Time `json:"created_at"`
}

// IdentitySummary is the list projection: identity plus its count of
// active consent links.
type IdentitySummary struct {
	RootIdentity
	ActiveSources int `json:"active_sources"`
}
