package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fateworks/pik/internal/server/repositories/repotest"
	"github.com/fateworks/pik/internal/server/settings"
	"github.com/fateworks/pik/internal/shared"
)

func newTestService(t *testing.T) (*Service, *repotest.Manager) {
	t.Helper()
	mgr := repotest.NewManager()
	return NewService(mgr, settings.NewService(mgr), "test-hash-key"), mgr
}

func TestIssueAndValidate(t *testing.T) {
	svc, mgr := newTestService(t)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, "root-1")
	require.NoError(t, err)
	assert.Len(t, issued.Token, 64)
	assert.WithinDuration(t, time.Now().UTC().Add(time.Hour), issued.ExpiresAt, 5*time.Second)

	rootID, err := svc.Validate(ctx, issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "root-1", rootID)

	// Only the hash is at rest.
	rows := mgr.Sessions()
	require.Len(t, rows, 1)
	assert.NotEqual(t, issued.Token, rows[0].TokenHash)
}

func TestValidateRejectsGarbage(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Validate(ctx, "")
	assert.ErrorIs(t, err, shared.ErrUnauthorized)

	_, err = svc.Validate(ctx, "not-a-token")
	assert.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestValidateRejectsExpired(t *testing.T) {
	svc, mgr := newTestService(t)
	ctx := context.Background()

	issued, err := svc.Issue(ctx, "root-1")
	require.NoError(t, err)

	for _, row := range mgr.Sessions() {
		expired := *row
		expired.ExpiresAt = time.Now().UTC().Add(-time.Minute)
		mgr.SeedSession(&expired)
	}

	_, err = svc.Validate(ctx, issued.Token)
	assert.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestTTLFollowsConfig(t *testing.T) {
	svc, mgr := newTestService(t)
	mgr.SetConfig(settings.KeySessionTokenTTLSecs, "7200")

	issued, err := svc.Issue(context.Background(), "root-1")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC().Add(2*time.Hour), issued.ExpiresAt, 5*time.Second)
}

func TestDifferentKeysDifferentHashes(t *testing.T) {
	mgr := repotest.NewManager()
	st := settings.NewService(mgr)
	a := NewService(mgr, st, "key-a")
	b := NewService(mgr, st, "key-b")

	issued, err := a.Issue(context.Background(), "root-1")
	require.NoError(t, err)

	// A service with a different hash key cannot resolve the token.
	_, err = b.Validate(context.Background(), issued.Token)
	assert.ErrorIs(t, err, shared.ErrUnauthorized)
}
