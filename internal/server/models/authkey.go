package models

import "time"

const (
	AuthKeyStatusActive  = "active"
	AuthKeyStatusRevoked = "revoked"
)

// Challenge ceremony types.
const (
	ChallengeTypeRegistration   = "registration"
	ChallengeTypeAuthentication = "authentication"
)

// AuthKey is a stored WebAuthn public credential. CredentialID is the
// base64url-encoded raw credential id and is unique globally. SignCount is
// widened to int64; a non-increasing counter on assertion is treated as a
// cloning signal.
type AuthKey struct {
	ID           string     `json:"key_id"`
	RootID       string     `json:"root_id"`
	CredentialID string     `json:"credential_id"`
	PublicKey    []byte     `json:"-"`
	SignCount    int64      `json:"-"`
	DeviceType   string     `json:"device_type"`
	BackedUp     bool       `json:"backed_up"`
	Transports   []string   `json:"transports"`
	FriendlyName string     `json:"friendly_name"`
	Status       string     `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
}

// WebAuthnChallenge is a short-lived one-shot nonce binding the two phases
// of a ceremony. A record is consumed by at most one phase-2 attempt.
type WebAuthnChallenge struct {
	ID        string
	Challenge string
	Type      string
	RootID    *string
	Metadata  []byte
	ExpiresAt time.Time
	CreatedAt time.Time
}

// SessionToken is an opaque Bearer credential. Only the keyed hash is
// stored; the plaintext is returned once at issue time.
type SessionToken struct {
	ID        string
	TokenHash string
	RootID    string
	ExpiresAt time.Time
	CreatedAt time.Time
}
