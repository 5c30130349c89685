package passkeys

import (
	"encoding/base64"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/fateworks/pik/internal/server/models"
)

// ceremonyUser adapts a root identity to the verifier's user contract. The
// WebAuthn user handle is the root id bytes, so discoverable assertions
// resolve back to the same identity.
type ceremonyUser struct {
	id          string
	name        string
	credentials []webauthn.Credential
}

func (u *ceremonyUser) WebAuthnID() []byte                         { return []byte(u.id) }
func (u *ceremonyUser) WebAuthnName() string                       { return u.name }
func (u *ceremonyUser) WebAuthnDisplayName() string                { return u.name }
func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }

// credentialFromKey rebuilds the verifier-side credential from a stored key.
func credentialFromKey(k models.AuthKey) (webauthn.Credential, error) {
	rawID, err := base64.RawURLEncoding.DecodeString(k.CredentialID)
	if err != nil {
		return webauthn.Credential{}, fmt.Errorf("malformed credential id %q: %w", k.ID, err)
	}

	transports := make([]protocol.AuthenticatorTransport, 0, len(k.Transports))
	for _, t := range k.Transports {
		transports = append(transports, protocol.AuthenticatorTransport(t))
	}

	return webauthn.Credential{
		ID:        rawID,
		PublicKey: k.PublicKey,
		Transport: transports,
		Flags: webauthn.CredentialFlags{
			BackupEligible: k.BackedUp,
			BackupState:    k.BackedUp,
		},
		Authenticator: webauthn.Authenticator{
			SignCount: uint32(k.SignCount),
		},
	}, nil
}

// credentialsForKeys converts a set of stored keys, skipping rows whose
// credential id fails to decode.
func credentialsForKeys(keys []models.AuthKey) []webauthn.Credential {
	out := make([]webauthn.Credential, 0, len(keys))
	for _, k := range keys {
		cred, err := credentialFromKey(k)
		if err != nil {
			continue
		}
		out = append(out, cred)
	}
	return out
}

// exclusionsForKeys builds the excludeCredentials descriptors for rotation.
func exclusionsForKeys(keys []models.AuthKey) []protocol.CredentialDescriptor {
	out := make([]protocol.CredentialDescriptor, 0, len(keys))
	for _, k := range keys {
		rawID, err := base64.RawURLEncoding.DecodeString(k.CredentialID)
		if err != nil {
			continue
		}
		out = append(out, protocol.CredentialDescriptor{
			Type:         protocol.PublicKeyCredentialType,
			CredentialID: rawID,
		})
	}
	return out
}
