package passkeys

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fateworks/pik/internal/logging"
	"github.com/fateworks/pik/internal/server/eventbus"
	"github.com/fateworks/pik/internal/server/ledger"
	"github.com/fateworks/pik/internal/server/models"
	"github.com/fateworks/pik/internal/server/repositories/repotest"
	"github.com/fateworks/pik/internal/shared"
)

func newTestKeyManager(t *testing.T) (*KeyManager, *repotest.Manager) {
	t.Helper()
	mgr := repotest.NewManager()
	log := logging.NewSlogLogger(slog.New(slog.NewTextHandler(io.Discard, nil)))
	ls := ledger.NewService(mgr, eventbus.New(), log)
	return NewKeyManager(mgr, ls, log), mgr
}

func seedKey(mgr *repotest.Manager, id, rootID, status string) {
	mgr.SeedKey(&models.AuthKey{
		ID:           id,
		RootID:       rootID,
		CredentialID: "cred-" + id,
		Status:       status,
		CreatedAt:    time.Now().UTC(),
	})
}

func TestRevokeWithSpareKey(t *testing.T) {
	km, mgr := newTestKeyManager(t)
	seedKey(mgr, "key-1", "root-1", models.AuthKeyStatusActive)
	seedKey(mgr, "key-2", "root-1", models.AuthKeyStatusActive)

	key, err := km.Revoke(context.Background(), "root-1", "key-1")
	require.NoError(t, err)

	assert.Equal(t, models.AuthKeyStatusRevoked, key.Status)
	assert.NotNil(t, key.RevokedAt)

	events := mgr.EventsOfType(models.EventKeyRevoked)
	require.Len(t, events, 1)
	assert.Equal(t, "root-1", events[0].RootID)
}

func TestRevokeLastKeyRefused(t *testing.T) {
	km, mgr := newTestKeyManager(t)
	seedKey(mgr, "key-1", "root-1", models.AuthKeyStatusActive)

	_, err := km.Revoke(context.Background(), "root-1", "key-1")
	assert.ErrorIs(t, err, shared.ErrConflict)

	// The key is untouched.
	key, err := mgr.Repos().AuthKeys.GetKey(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, models.AuthKeyStatusActive, key.Status)
}

func TestRevokeLastKeyRefusedWithRevokedSiblings(t *testing.T) {
	km, mgr := newTestKeyManager(t)
	seedKey(mgr, "key-1", "root-1", models.AuthKeyStatusActive)
	seedKey(mgr, "key-2", "root-1", models.AuthKeyStatusRevoked)

	// Revoked keys do not count toward the minimum.
	_, err := km.Revoke(context.Background(), "root-1", "key-1")
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestRevokeForeignKey(t *testing.T) {
	km, mgr := newTestKeyManager(t)
	seedKey(mgr, "key-1", "root-other", models.AuthKeyStatusActive)

	_, err := km.Revoke(context.Background(), "root-1", "key-1")
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRevokeAlreadyRevoked(t *testing.T) {
	km, mgr := newTestKeyManager(t)
	seedKey(mgr, "key-1", "root-1", models.AuthKeyStatusRevoked)
	seedKey(mgr, "key-2", "root-1", models.AuthKeyStatusActive)

	_, err := km.Revoke(context.Background(), "root-1", "key-1")
	assert.ErrorIs(t, err, shared.ErrConflict)
}

func TestListIncludesRevoked(t *testing.T) {
	km, mgr := newTestKeyManager(t)
	seedKey(mgr, "key-1", "root-1", models.AuthKeyStatusActive)
	seedKey(mgr, "key-2", "root-1", models.AuthKeyStatusRevoked)
	seedKey(mgr, "key-3", "root-other", models.AuthKeyStatusActive)

	keys, err := km.List(context.Background(), "root-1")
	require.NoError(t, err)
	assert.Len(t, keys, 2)
}
