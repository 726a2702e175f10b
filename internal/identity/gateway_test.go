package identity

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rollcall/internal/docstore"
	"rollcall/internal/errs"
	"rollcall/internal/model"
)

func newTestGateway(t *testing.T) (*TokenGateway, docstore.Collection[model.User]) {
	t.Helper()
	docs := docstore.New(docstore.NewMemBackend())
	users := docstore.NewCollection[model.User](docs, model.CollUsers)
	gw := NewTokenGateway(
		"test-signing-key", "rollcall-test",
		15*time.Minute, 24*time.Hour, 10*time.Minute,
		users, NewMemRevocations(), zerolog.Nop(),
	)
	return gw, users
}

func TestLoginCreatesUserOnFirstSight(t *testing.T) {
	gw, users := newTestGateway(t)
	ctx := context.Background()

	id, pair, err := gw.Login(ctx, "dana@example.com", "Dana Oh", "teacher")
	require.NoError(t, err)
	assert.NotEmpty(t, id.Key)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	n, err := users.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	// A second login for the same email reuses the stable key.
	again, _, err := gw.Login(ctx, "dana@example.com", "", "")
	require.NoError(t, err)
	assert.Equal(t, id.Key, again.Key)
	n, err = users.Count(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestLoginRequiresEmail(t *testing.T) {
	gw, _ := newTestGateway(t)
	_, _, err := gw.Login(context.Background(), "", "Dana Oh", "teacher")
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))
}

func TestResolveRoundTrip(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()

	id, pair, err := gw.Login(ctx, "dana@example.com", "Dana Oh", "teacher")
	require.NoError(t, err)

	resolved, err := gw.Resolve(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, id, resolved)
}

func TestResolveRejectsForgedToken(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()

	forged, err := sign(Identity{Key: "U1"}, "rollcall-test", "wrong-key", time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = gw.Resolve(ctx, forged)
	assert.Error(t, err)

	wrongIssuer, err := sign(Identity{Key: "U1"}, "someone-else", "test-signing-key", time.Now().Add(time.Hour))
	require.NoError(t, err)
	_, err = gw.Resolve(ctx, wrongIssuer)
	assert.Error(t, err)
}

func TestSignOutRevokesToken(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()

	_, pair, err := gw.Login(ctx, "dana@example.com", "Dana Oh", "teacher")
	require.NoError(t, err)
	require.NoError(t, gw.SignOut(ctx, pair.AccessToken))

	_, err = gw.Resolve(ctx, pair.AccessToken)
	require.Error(t, err)
	assert.True(t, errs.IsValidation(err))

	// The refresh token carries its own ID and stays live.
	_, err = gw.Resolve(ctx, pair.RefreshToken)
	assert.NoError(t, err)
}

func TestSignOutToleratesGarbage(t *testing.T) {
	gw, _ := newTestGateway(t)
	assert.NoError(t, gw.SignOut(context.Background(), "not-a-token"))
}

func TestCurrentIdentityFromContext(t *testing.T) {
	gw, _ := newTestGateway(t)

	id, err := gw.CurrentIdentity(context.Background())
	require.NoError(t, err)
	assert.Nil(t, id, "bare context means signed out")

	ctx := WithIdentity(context.Background(), Identity{Key: "U1", Role: "teacher"})
	id, err = gw.CurrentIdentity(ctx)
	require.NoError(t, err)
	require.NotNil(t, id)
	assert.Equal(t, "U1", id.Key)
}

func TestResetCredential(t *testing.T) {
	gw, _ := newTestGateway(t)
	ctx := context.Background()

	_, _, err := gw.Login(ctx, "dana@example.com", "Dana Oh", "teacher")
	require.NoError(t, err)

	assert.NoError(t, gw.ResetCredential(ctx, "dana@example.com"))
	assert.ErrorIs(t, gw.ResetCredential(ctx, "ghost@example.com"), errs.ErrNotFound)
}

func TestMemRevocations(t *testing.T) {
	ctx := context.Background()
	list := NewMemRevocations()

	revoked, err := list.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, list.Revoke(ctx, "jti-1", time.Now().Add(time.Hour)))
	revoked, err = list.IsRevoked(ctx, "jti-1")
	require.NoError(t, err)
	assert.True(t, revoked)

	// Entries past their expiry no longer count as revoked.
	require.NoError(t, list.Revoke(ctx, "jti-2", time.Now().Add(-time.Minute)))
	revoked, err = list.IsRevoked(ctx, "jti-2")
	require.NoError(t, err)
	assert.False(t, revoked)
}
