package models

import "time"

const (
	SourceStatusActive      = "active"
	SourceStatusSuspended   = "suspended"
	SourceStatusDeactivated = "deactivated"
)

const (
	LinkStatusActive  = "active"
	LinkStatusRevoked = "revoked"
)

// Source is an upstream system authorized to emit events, identified by a
// single API key of which only the SHA-256 hash is persisted. Rotation
// replaces the hash atomically.
type Source struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Status     string    `json:"status"`
	APIKeyHash string    `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
}

// SourceLink is the consent receipt granting a Source permission to mutate
// one RootIdentity. At most one active link exists per (root, source) pair.
type SourceLink struct {
	ID        string     `json:"link_id"`
	RootID    string     `json:"root_id"`
	SourceID  string     `json:"source_id"`
	Scope     string     `json:"scope"`
	Status    string     `json:"status"`
	GrantedBy string     `json:"granted_by"`
	GrantedAt time.Time  `json:"granted_at"`
	RevokedAt *time.Time `json:"revoked_at,omitempty"`
	RevokedBy *string    `json:"revoked_by,omitempty"`
}
