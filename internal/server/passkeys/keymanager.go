package passkeys

import (
	"context"
	"fmt"
	"time"

	"github.com/fateworks/pik/internal/logging"
	"github.com/fateworks/pik/internal/server/ledger"
	"github.com/fateworks/pik/internal/server/models"
	"github.com/fateworks/pik/internal/server/repositories/repomanager"
	"github.com/fateworks/pik/internal/shared"
)

// KeyManager handles credential lifecycle outside the ceremonies: listing a
// root's keys and revoking one. Rotation itself is a registration ceremony
// and lives on the Engine.
type KeyManager struct {
	mgr    repomanager.Manager
	ledger *ledger.Service
	log    logging.Logger
}

func NewKeyManager(mgr repomanager.Manager, ls *ledger.Service, log logging.Logger) *KeyManager {
	return &KeyManager{mgr: mgr, ledger: ls, log: log.With("module", "keymanager")}
}

// List returns all of the root's keys, newest first, revoked included.
func (m *KeyManager) List(ctx context.Context, rootID string) ([]models.AuthKey, error) {
	return m.mgr.Repos().AuthKeys.ListByRoot(ctx, rootID)
}

// Revoke marks one key revoked. An active identity must keep at least one
// active key, so revoking the last one fails with a conflict.
func (m *KeyManager) Revoke(ctx context.Context, rootID, keyID string) (*models.AuthKey, error) {
	var key *models.AuthKey
	var event *models.IdentityEvent

	err := m.mgr.WithTx(ctx, func(ctx context.Context, r repomanager.Repos) error {
		var err error
		key, err = r.AuthKeys.GetKey(ctx, keyID)
		if err != nil {
			return err
		}
		if key.RootID != rootID {
			return fmt.Errorf("%w: key does not belong to this identity", shared.ErrNotFound)
		}
		if key.Status != models.AuthKeyStatusActive {
			return fmt.Errorf("%w: key is already revoked", shared.ErrConflict)
		}

		active, err := r.AuthKeys.CountActive(ctx, rootID)
		if err != nil {
			return err
		}
		if active <= 1 {
			return fmt.Errorf("%w: cannot revoke the last active key", shared.ErrConflict)
		}

		now := time.Now().UTC()
		if err := r.AuthKeys.RevokeKey(ctx, keyID, now); err != nil {
			return err
		}
		key.Status = models.AuthKeyStatusRevoked
		key.RevokedAt = &now

		event = ledger.NewEvent(rootID, models.EventKeyRevoked, nil, map[string]any{
			"key_id":        keyID,
			"credential_id": key.CredentialID,
		}, nil)
		return r.Ledger.Append(ctx, event)
	})
	if err != nil {
		return nil, err
	}

	m.ledger.Publish(event)
	m.log.Info(ctx, "auth key revoked", "root_id", rootID, "key_id", keyID)
	return key, nil
}
