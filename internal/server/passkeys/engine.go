// Package passkeys implements the WebAuthn ceremonies: identity enrollment
// and key rotation via registration, sign-in via assertion, and credential
// lifecycle management. The verifier library handles the cryptography; this
// package owns challenge lifetime, credential storage, counter discipline,
// and the ledger/transaction choreography around both.
package passkeys

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/fateworks/pik/internal/logging"
	"github.com/fateworks/pik/internal/server/config"
	"github.com/fateworks/pik/internal/server/ledger"
	"github.com/fateworks/pik/internal/server/models"
	"github.com/fateworks/pik/internal/server/repositories/repomanager"
	"github.com/fateworks/pik/internal/server/sessions"
	"github.com/fateworks/pik/internal/shared"
)

const challengeTTL = 5 * time.Minute

// EnrollmentInput carries the first-time registration fields. SourceID, when
// set, asks for a consent link to be granted in the same transaction.
type EnrollmentInput struct {
	HeroName      string
	FateAlignment string
	Origin        *string
	SourceID      string
	EnrolledBy    string
}

// RegistrationResult is the outcome of a verified first-time registration.
type RegistrationResult struct {
	RootID           string     `json:"root_id"`
	KeyID            string     `json:"key_id"`
	HeroName         string     `json:"hero_name"`
	SessionToken     string     `json:"session_token"`
	SessionExpiresAt time.Time  `json:"session_expires_at"`
	LinkID           *string    `json:"link_id,omitempty"`
}

// AuthResult is the outcome of a verified assertion.
type AuthResult struct {
	RootID           string    `json:"root_id"`
	HeroName         string    `json:"hero_name"`
	SessionToken     string    `json:"session_token"`
	SessionExpiresAt time.Time `json:"session_expires_at"`
}

// challengeMetadata is the blob persisted alongside a registration
// challenge. First-time enrollment stashes the prospective root id and
// profile fields here; rotation marks itself with Purpose.
type challengeMetadata struct {
	Purpose       string  `json:"purpose,omitempty"`
	RootID        string  `json:"root_id,omitempty"`
	HeroName      string  `json:"hero_name,omitempty"`
	FateAlignment string  `json:"fate_alignment,omitempty"`
	Origin        *string `json:"origin,omitempty"`
	SourceID      string  `json:"source_id,omitempty"`
	EnrolledBy    string  `json:"enrolled_by,omitempty"`
}

const purposeRotation = "rotation"

// Engine runs the two-phase WebAuthn ceremonies.
type Engine struct {
	mgr      repomanager.Manager
	wa       *webauthn.WebAuthn
	ledger   *ledger.Service
	sessions *sessions.Service
	log      logging.Logger
}

func NewEngine(cfg *config.Config, mgr repomanager.Manager, ls *ledger.Service, ss *sessions.Service, log logging.Logger) (*Engine, error) {
	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: cfg.RPName,
		RPID:          cfg.RPID,
		RPOrigins:     []string{cfg.RPOrigin},
	})
	if err != nil {
		return nil, fmt.Errorf("webauthn config error: %w", err)
	}
	return &Engine{mgr: mgr, wa: wa, ledger: ls, sessions: ss, log: log.With("module", "passkeys")}, nil
}

func registrationOptions() []webauthn.RegistrationOption {
	return []webauthn.RegistrationOption{
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementPreferred,
			UserVerification: protocol.VerificationPreferred,
		}),
		webauthn.WithConveyancePreference(protocol.PreferNoAttestation),
	}
}

// BeginRegistration starts a first-time enrollment ceremony. The prospective
// root id and the profile fields travel in the challenge metadata; nothing
// is written to the identity tables until the attestation verifies.
func (e *Engine) BeginRegistration(ctx context.Context, in EnrollmentInput) (*protocol.CredentialCreation, error) {
	if in.HeroName == "" || in.FateAlignment == "" {
		return nil, fmt.Errorf("%w: hero_name and fate_alignment are required", shared.ErrBadRequest)
	}

	rootID := uuid.NewString()
	user := &ceremonyUser{id: rootID, name: in.HeroName}

	creation, session, err := e.wa.BeginRegistration(user, registrationOptions()...)
	if err != nil {
		return nil, fmt.Errorf("begin registration error: %w", err)
	}

	meta, err := json.Marshal(challengeMetadata{
		RootID:        rootID,
		HeroName:      in.HeroName,
		FateAlignment: in.FateAlignment,
		Origin:        in.Origin,
		SourceID:      in.SourceID,
		EnrolledBy:    in.EnrolledBy,
	})
	if err != nil {
		return nil, err
	}

	if err := e.storeChallenge(ctx, session.Challenge, models.ChallengeTypeRegistration, nil, meta); err != nil {
		return nil, err
	}
	return creation, nil
}

// FinishRegistration verifies a first-time attestation and materializes the
// identity: root row, primary persona, auth key, optional consent link and
// the ledger events, all in one transaction, then a fresh session token.
func (e *Engine) FinishRegistration(ctx context.Context, credentialJSON []byte, friendlyName string) (*RegistrationResult, error) {
	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(credentialJSON))
	if err != nil {
		return nil, fmt.Errorf("%w: malformed attestation response", shared.ErrBadRequest)
	}

	ch, err := e.consumeChallenge(ctx, parsed.Response.CollectedClientData.Challenge, models.ChallengeTypeRegistration)
	if err != nil {
		return nil, err
	}

	var meta challengeMetadata
	if len(ch.Metadata) > 0 {
		if err := json.Unmarshal(ch.Metadata, &meta); err != nil {
			return nil, fmt.Errorf("%w: unreadable challenge metadata", shared.ErrBadRequest)
		}
	}
	if meta.Purpose == purposeRotation || meta.RootID == "" {
		return nil, fmt.Errorf("%w: challenge does not belong to an enrollment ceremony", shared.ErrBadRequest)
	}

	user := &ceremonyUser{id: meta.RootID, name: meta.HeroName}
	session := webauthn.SessionData{Challenge: ch.Challenge, UserID: []byte(meta.RootID)}

	cred, err := e.wa.CreateCredential(user, session, parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: attestation verification failed", shared.ErrBadRequest)
	}

	now := time.Now().UTC()
	enrolledBy := meta.EnrolledBy
	if enrolledBy == "" {
		enrolledBy = "self"
	}

	key := newAuthKey(meta.RootID, cred, friendlyName, now)

	result := &RegistrationResult{RootID: meta.RootID, KeyID: key.ID, HeroName: meta.HeroName}
	var events []*models.IdentityEvent

	err = e.mgr.WithTx(ctx, func(ctx context.Context, r repomanager.Repos) error {
		events = events[:0]

		root := &models.RootIdentity{
			ID:            meta.RootID,
			HeroName:      meta.HeroName,
			FateAlignment: meta.FateAlignment,
			Origin:        meta.Origin,
			FateXP:        0,
			FateLevel:     1,
			Status:        models.IdentityStatusActive,
			EnrolledBy:    enrolledBy,
			EnrolledAt:    now,
		}
		if err := r.Identities.Create(ctx, root); err != nil {
			return err
		}

		persona := &models.Persona{
			ID:          uuid.NewString(),
			RootID:      meta.RootID,
			DisplayName: meta.HeroName,
			IsPrimary:   true,
			CreatedAt:   now,
		}
		if err := r.Identities.CreatePersona(ctx, persona); err != nil {
			return err
		}

		if err := r.AuthKeys.CreateKey(ctx, key); err != nil {
			return err
		}

		events = append(events,
			ledger.NewEvent(meta.RootID, models.EventIdentityEnrolled, nil, map[string]any{
				"hero_name":      meta.HeroName,
				"fate_alignment": meta.FateAlignment,
				"enrolled_by":    enrolledBy,
			}, nil),
			ledger.NewEvent(meta.RootID, models.EventKeyRegistered, nil, map[string]any{
				"key_id":        key.ID,
				"credential_id": key.CredentialID,
				"device_type":   key.DeviceType,
				"friendly_name": key.FriendlyName,
			}, nil),
		)

		if meta.SourceID != "" {
			source, err := r.Sources.Get(ctx, meta.SourceID)
			switch {
			case err == nil && source.Status == models.SourceStatusActive:
				link := &models.SourceLink{
					ID:        uuid.NewString(),
					RootID:    meta.RootID,
					SourceID:  meta.SourceID,
					Scope:     "progression:write",
					Status:    models.LinkStatusActive,
					GrantedBy: enrolledBy,
					GrantedAt: now,
				}
				if err := r.Sources.CreateLink(ctx, link); err != nil {
					return err
				}
				result.LinkID = &link.ID
				events = append(events, ledger.NewEvent(meta.RootID, models.EventLinkGranted, &meta.SourceID, map[string]any{
					"link_id":    link.ID,
					"source_id":  meta.SourceID,
					"scope":      link.Scope,
					"granted_by": enrolledBy,
				}, nil))
			case err == nil || errors.Is(err, shared.ErrNotFound):
				e.log.Warn(ctx, "enrollment source unavailable, skipping link", "source_id", meta.SourceID)
			default:
				return err
			}
		}

		for _, ev := range events {
			if err := r.Ledger.Append(ctx, ev); err != nil {
				return err
			}
		}

		issued, err := e.sessions.IssueTx(ctx, r, meta.RootID)
		if err != nil {
			return err
		}
		result.SessionToken = issued.Token
		result.SessionExpiresAt = issued.ExpiresAt
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, ev := range events {
		e.ledger.Publish(ev)
	}
	e.log.Info(ctx, "identity enrolled", "root_id", meta.RootID, "key_id", key.ID)
	return result, nil
}

// BeginRotation starts a registration ceremony that attaches an additional
// key to an existing identity, excluding the credentials it already holds.
func (e *Engine) BeginRotation(ctx context.Context, rootID string) (*protocol.CredentialCreation, error) {
	root, err := e.mgr.Repos().Identities.Get(ctx, rootID)
	if err != nil {
		return nil, err
	}
	if root.Status != models.IdentityStatusActive {
		return nil, fmt.Errorf("%w: identity is not active", shared.ErrUnauthorized)
	}

	keys, err := e.mgr.Repos().AuthKeys.ActiveByRoot(ctx, rootID)
	if err != nil {
		return nil, err
	}

	user := &ceremonyUser{id: rootID, name: root.HeroName, credentials: credentialsForKeys(keys)}
	opts := append(registrationOptions(), webauthn.WithExclusions(exclusionsForKeys(keys)))

	creation, session, err := e.wa.BeginRegistration(user, opts...)
	if err != nil {
		return nil, fmt.Errorf("begin rotation error: %w", err)
	}

	meta, err := json.Marshal(challengeMetadata{Purpose: purposeRotation})
	if err != nil {
		return nil, err
	}
	if err := e.storeChallenge(ctx, session.Challenge, models.ChallengeTypeRegistration, &rootID, meta); err != nil {
		return nil, err
	}
	return creation, nil
}

// FinishRotation verifies a rotation attestation for the authenticated root
// and attaches the new key without disturbing the existing ones.
func (e *Engine) FinishRotation(ctx context.Context, rootID string, credentialJSON []byte, friendlyName string) (*models.AuthKey, error) {
	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(credentialJSON))
	if err != nil {
		return nil, fmt.Errorf("%w: malformed attestation response", shared.ErrBadRequest)
	}

	ch, err := e.consumeChallenge(ctx, parsed.Response.CollectedClientData.Challenge, models.ChallengeTypeRegistration)
	if err != nil {
		return nil, err
	}

	var meta challengeMetadata
	if len(ch.Metadata) > 0 {
		if err := json.Unmarshal(ch.Metadata, &meta); err != nil {
			return nil, fmt.Errorf("%w: unreadable challenge metadata", shared.ErrBadRequest)
		}
	}
	if meta.Purpose != purposeRotation || ch.RootID == nil || *ch.RootID != rootID {
		return nil, fmt.Errorf("%w: challenge does not belong to this rotation", shared.ErrBadRequest)
	}

	root, err := e.mgr.Repos().Identities.Get(ctx, rootID)
	if err != nil {
		return nil, err
	}
	if root.Status != models.IdentityStatusActive {
		return nil, fmt.Errorf("%w: identity is not active", shared.ErrUnauthorized)
	}

	user := &ceremonyUser{id: rootID, name: root.HeroName}
	session := webauthn.SessionData{Challenge: ch.Challenge, UserID: []byte(rootID)}

	cred, err := e.wa.CreateCredential(user, session, parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: attestation verification failed", shared.ErrBadRequest)
	}

	now := time.Now().UTC()
	key := newAuthKey(rootID, cred, friendlyName, now)
	event := ledger.NewEvent(rootID, models.EventKeyRegistered, nil, map[string]any{
		"key_id":        key.ID,
		"credential_id": key.CredentialID,
		"device_type":   key.DeviceType,
		"friendly_name": key.FriendlyName,
	}, nil)

	err = e.mgr.WithTx(ctx, func(ctx context.Context, r repomanager.Repos) error {
		if err := r.AuthKeys.CreateKey(ctx, key); err != nil {
			return err
		}
		return r.Ledger.Append(ctx, event)
	})
	if err != nil {
		return nil, err
	}

	e.ledger.Publish(event)
	e.log.Info(ctx, "auth key added", "root_id", rootID, "key_id", key.ID)
	return key, nil
}

// BeginAuthentication starts an assertion ceremony. With a root id the
// allow-list is scoped to that identity's active keys; without one the
// ceremony is discoverable and the credential picks the identity.
func (e *Engine) BeginAuthentication(ctx context.Context, rootID *string) (*protocol.CredentialAssertion, error) {
	var (
		assertion *protocol.CredentialAssertion
		session   *webauthn.SessionData
		err       error
	)

	if rootID != nil {
		root, err := e.mgr.Repos().Identities.Get(ctx, *rootID)
		if err != nil {
			return nil, err
		}
		if root.Status != models.IdentityStatusActive {
			return nil, fmt.Errorf("%w: identity is not active", shared.ErrUnauthorized)
		}
		keys, err := e.mgr.Repos().AuthKeys.ActiveByRoot(ctx, *rootID)
		if err != nil {
			return nil, err
		}
		if len(keys) == 0 {
			return nil, fmt.Errorf("%w: no active keys", shared.ErrUnauthorized)
		}
		user := &ceremonyUser{id: *rootID, name: root.HeroName, credentials: credentialsForKeys(keys)}
		assertion, session, err = e.wa.BeginLogin(user)
		if err != nil {
			return nil, fmt.Errorf("begin authentication error: %w", err)
		}
	} else {
		assertion, session, err = e.wa.BeginDiscoverableLogin()
		if err != nil {
			return nil, fmt.Errorf("begin authentication error: %w", err)
		}
	}

	if err := e.storeChallenge(ctx, session.Challenge, models.ChallengeTypeAuthentication, rootID, nil); err != nil {
		return nil, err
	}
	return assertion, nil
}

// FinishAuthentication verifies an assertion, enforces the monotonic counter
// rule, records the sign-in on the ledger and mints a session token.
func (e *Engine) FinishAuthentication(ctx context.Context, credentialJSON []byte) (*AuthResult, error) {
	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(credentialJSON))
	if err != nil {
		return nil, fmt.Errorf("%w: malformed assertion response", shared.ErrBadRequest)
	}

	key, err := e.mgr.Repos().AuthKeys.GetKeyByCredentialID(ctx, parsed.ID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown credential", shared.ErrUnauthorized)
		}
		return nil, err
	}
	if key.Status != models.AuthKeyStatusActive {
		return nil, fmt.Errorf("%w: credential is revoked", shared.ErrUnauthorized)
	}

	root, err := e.mgr.Repos().Identities.Get(ctx, key.RootID)
	if err != nil {
		return nil, err
	}
	if root.Status != models.IdentityStatusActive {
		return nil, fmt.Errorf("%w: identity is not active", shared.ErrUnauthorized)
	}

	ch, err := e.consumeChallenge(ctx, parsed.Response.CollectedClientData.Challenge, models.ChallengeTypeAuthentication)
	if err != nil {
		return nil, err
	}
	if ch.RootID != nil && *ch.RootID != key.RootID {
		return nil, fmt.Errorf("%w: challenge belongs to a different identity", shared.ErrBadRequest)
	}

	keys, err := e.mgr.Repos().AuthKeys.ActiveByRoot(ctx, key.RootID)
	if err != nil {
		return nil, err
	}
	user := &ceremonyUser{id: key.RootID, name: root.HeroName, credentials: credentialsForKeys(keys)}
	session := webauthn.SessionData{
		Challenge:        ch.Challenge,
		UserID:           []byte(key.RootID),
		UserVerification: protocol.VerificationPreferred,
	}

	cred, err := e.wa.ValidateLogin(user, session, parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: assertion verification failed", shared.ErrUnauthorized)
	}

	newCount := int64(cred.Authenticator.SignCount)
	if cred.Authenticator.CloneWarning || (key.SignCount > 0 && newCount <= key.SignCount) {
		e.log.Warn(ctx, "signature counter regression, possible cloned credential",
			"root_id", key.RootID, "key_id", key.ID, "stored", key.SignCount, "asserted", newCount)
		return nil, fmt.Errorf("%w: signature counter regression", shared.ErrUnauthorized)
	}

	now := time.Now().UTC()
	event := ledger.NewEvent(key.RootID, models.EventIdentityAuthenticated, nil, map[string]any{
		"key_id":        key.ID,
		"credential_id": key.CredentialID,
	}, nil)

	result := &AuthResult{RootID: key.RootID, HeroName: root.HeroName}

	err = e.mgr.WithTx(ctx, func(ctx context.Context, r repomanager.Repos) error {
		if err := r.AuthKeys.UpdateCounter(ctx, key.ID, newCount, now); err != nil {
			return err
		}
		if err := r.Ledger.Append(ctx, event); err != nil {
			return err
		}
		issued, err := e.sessions.IssueTx(ctx, r, key.RootID)
		if err != nil {
			return err
		}
		result.SessionToken = issued.Token
		result.SessionExpiresAt = issued.ExpiresAt
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.ledger.Publish(event)
	return result, nil
}

func (e *Engine) storeChallenge(ctx context.Context, challenge, ceremonyType string, rootID *string, metadata []byte) error {
	now := time.Now().UTC()
	return e.mgr.Repos().AuthKeys.CreateChallenge(ctx, &models.WebAuthnChallenge{
		ID:        uuid.NewString(),
		Challenge: challenge,
		Type:      ceremonyType,
		RootID:    rootID,
		Metadata:  metadata,
		ExpiresAt: now.Add(challengeTTL),
		CreatedAt: now,
	})
}

// consumeChallenge resolves and deletes a challenge outside the main
// transaction: a consumed challenge stays consumed even when the write that
// follows rolls back.
func (e *Engine) consumeChallenge(ctx context.Context, challenge, wantType string) (*models.WebAuthnChallenge, error) {
	ch, err := e.mgr.Repos().AuthKeys.GetChallenge(ctx, challenge)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown or already-used challenge", shared.ErrBadRequest)
		}
		return nil, err
	}
	if ch.Type != wantType {
		return nil, fmt.Errorf("%w: challenge type mismatch", shared.ErrBadRequest)
	}
	if time.Now().UTC().After(ch.ExpiresAt) {
		return nil, fmt.Errorf("%w: challenge expired", shared.ErrBadRequest)
	}
	if err := e.mgr.Repos().AuthKeys.DeleteChallenge(ctx, ch.ID); err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown or already-used challenge", shared.ErrBadRequest)
		}
		return nil, err
	}
	return ch, nil
}

// newAuthKey maps a verified credential into its stored form.
func newAuthKey(rootID string, cred *webauthn.Credential, friendlyName string, now time.Time) *models.AuthKey {
	deviceType := string(cred.Authenticator.Attachment)
	if deviceType == "" {
		deviceType = "unknown"
	}
	if friendlyName == "" {
		friendlyName = "Passkey"
	}
	transports := make([]string, 0, len(cred.Transport))
	for _, t := range cred.Transport {
		transports = append(transports, string(t))
	}
	return &models.AuthKey{
		ID:           uuid.NewString(),
		RootID:       rootID,
		CredentialID: base64.RawURLEncoding.EncodeToString(cred.ID),
		PublicKey:    cred.PublicKey,
		SignCount:    int64(cred.Authenticator.SignCount),
		DeviceType:   deviceType,
		BackedUp:     cred.Flags.BackupState,
		Transports:   transports,
		FriendlyName: friendlyName,
		Status:       models.AuthKeyStatusActive,
		CreatedAt:    now,
	}
}
