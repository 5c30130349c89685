package settings

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fateworks/pik/internal/server/repositories/repotest"
	"github.com/fateworks/pik/internal/shared"
)

func TestGetAllParsesNumbers(t *testing.T) {
	svc := NewService(repotest.NewManager())

	all, err := svc.GetAll(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 100.0, all[KeyXPPerSessionNormal])
	assert.Equal(t, 1.5, all[KeyXPLevelMultiplier])
	assert.Equal(t, "progression:write", all[KeyDefaultLinkScope])
}

func TestUpdateKnownKey(t *testing.T) {
	svc := NewService(repotest.NewManager())
	ctx := context.Background()

	require.NoError(t, svc.Update(ctx, KeyEventXPMultiplier, "2.0"))

	v, err := svc.Float(ctx, KeyEventXPMultiplier)
	require.NoError(t, err)
	assert.Equal(t, 2.0, v)
}

func TestUpdateUnknownKeyRejected(t *testing.T) {
	svc := NewService(repotest.NewManager())

	err := svc.Update(context.Background(), "xp_cheat_mode", "on")
	assert.ErrorIs(t, err, shared.ErrBadRequest)
}

func TestTypedReads(t *testing.T) {
	svc := NewService(repotest.NewManager())
	ctx := context.Background()

	secs, err := svc.Int(ctx, KeySessionTokenTTLSecs)
	require.NoError(t, err)
	assert.Equal(t, 3600, secs)

	scope, err := svc.String(ctx, KeyDefaultLinkScope)
	require.NoError(t, err)
	assert.Equal(t, "progression:write", scope)

	_, err = svc.Float(ctx, KeyDefaultLinkScope)
	assert.Error(t, err)
}
