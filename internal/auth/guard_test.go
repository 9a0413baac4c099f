package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillpress/apiserver/internal/auth"
	"github.com/quillpress/apiserver/types"
)

func loginToken(t *testing.T, f *fixture, email string) string {
	t.Helper()
	token, err := f.authn.Login(context.Background(), email, "secret1", fixedNow)
	require.NoError(t, err)
	return token.Value
}

func TestGuardAuthorize(t *testing.T) {
	f := newFixture(t)
	id := f.register(t, "a@x.com", "secret1")
	token := loginToken(t, f, "a@x.com")
	guard := auth.NewGuard(f.codec, f.store, zerolog.Nop())

	principal, err := guard.Authorize(context.Background(), token, fixedNow.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, id, principal.AccountID)
	assert.Equal(t, "a@x.com", principal.Email)
	assert.Equal(t, "A B", principal.Name)
	assert.True(t, principal.HasRole("user"))
	assert.False(t, principal.HasRole(auth.AdminRole))
	assert.True(t, principal.Active())
	assert.True(t, fixedNow.Truncate(time.Second).Equal(principal.IssuedAt))
}

func TestGuardRejectsBadTokens(t *testing.T) {
	f := newFixture(t)
	f.register(t, "a@x.com", "secret1")
	token := loginToken(t, f, "a@x.com")
	guard := auth.NewGuard(f.codec, f.store, zerolog.Nop())

	foreign, err := newCodec(t, otherSecret).Issue("a@x.com", nil, []string{auth.DefaultRole}, fixedNow, time.Hour)
	require.NoError(t, err)
	ghost, err := f.codec.Issue("ghost@x.com", nil, []string{auth.DefaultRole}, fixedNow, time.Hour)
	require.NoError(t, err)

	cases := []struct {
		name  string
		token string
		now   time.Time
	}{
		{name: "no token", token: "", now: fixedNow},
		{name: "blank token", token: "   ", now: fixedNow},
		{name: "garbage", token: "not-a-token", now: fixedNow},
		{name: "other secret", token: foreign, now: fixedNow},
		{name: "expired", token: token, now: fixedNow.Add(3 * time.Hour)},
		{name: "unknown subject", token: ghost, now: fixedNow},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := guard.Authorize(context.Background(), tc.token, tc.now)
			assert.ErrorIs(t, err, auth.ErrUnauthenticated)
		})
	}
}

func TestGuardRechecksAccountState(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.register(t, "a@x.com", "secret1")
	token := loginToken(t, f, "a@x.com")
	guard := auth.NewGuard(f.codec, f.store, zerolog.Nop())

	require.NoError(t, f.store.SetStatus(ctx, id, false, false))
	_, err := guard.Authorize(ctx, token, fixedNow)
	assert.ErrorIs(t, err, auth.ErrForbidden)

	require.NoError(t, f.store.SetStatus(ctx, id, true, true))
	_, err = guard.Authorize(ctx, token, fixedNow)
	assert.ErrorIs(t, err, auth.ErrForbidden)

	require.NoError(t, f.store.SetStatus(ctx, id, true, false))
	_, err = guard.Authorize(ctx, token, fixedNow)
	assert.NoError(t, err)
}

func TestGuardSeesRoleChanges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.register(t, "a@x.com", "secret1")
	token := loginToken(t, f, "a@x.com")
	guard := auth.NewGuard(f.codec, f.store, zerolog.Nop())

	principal, err := guard.Authorize(ctx, token, fixedNow)
	require.NoError(t, err)
	assert.ErrorIs(t, guard.Require(principal, auth.AdminRole), auth.ErrForbidden)

	require.NoError(t, f.store.GrantRole(id, auth.AdminRole))
	principal, err = guard.Authorize(ctx, token, fixedNow)
	require.NoError(t, err)
	assert.NoError(t, guard.Require(principal, auth.AdminRole))
	assert.Equal(t, []string{auth.AdminRole, auth.DefaultRole}, principal.Roles)
}

func TestGuardStoreFailure(t *testing.T) {
	f := newFixture(t)
	f.register(t, "a@x.com", "secret1")
	token := loginToken(t, f, "a@x.com")
	guard := auth.NewGuard(f.codec, f.store, zerolog.Nop())

	f.store.Err = errors.New("connection refused")
	_, err := guard.Authorize(context.Background(), token, fixedNow)
	require.Error(t, err)
	assert.NotErrorIs(t, err, auth.ErrUnauthenticated)
	assert.NotErrorIs(t, err, auth.ErrForbidden)
}

func TestGuardWithoutRecheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	id := f.register(t, "a@x.com", "secret1")
	token := loginToken(t, f, "a@x.com")
	guard := auth.NewGuard(f.codec, nil, zerolog.Nop())

	require.NoError(t, f.store.SetStatus(ctx, id, false, false))

	principal, err := guard.Authorize(ctx, token, fixedNow)
	require.NoError(t, err)
	assert.Equal(t, id, principal.AccountID)
	assert.Equal(t, "a@x.com", principal.Email)
	assert.Equal(t, "A B", principal.Name)
	assert.Equal(t, []string{auth.DefaultRole}, principal.Roles)
	assert.True(t, principal.Active())

	_, err = guard.Authorize(ctx, token, fixedNow.Add(3*time.Hour))
	assert.ErrorIs(t, err, auth.ErrUnauthenticated)
}

func TestGuardRequire(t *testing.T) {
	guard := auth.NewGuard(newCodec(t, testSecret), nil, zerolog.Nop())

	user := auth.Principal{Email: "a@x.com", Roles: []string{"USER"}, Enabled: true}
	admin := auth.Principal{Email: "b@x.com", Roles: []string{"ADMIN", "USER"}, Enabled: true}
	locked := auth.Principal{Email: "c@x.com", Roles: []string{"ADMIN"}, Enabled: true, Locked: true}

	assert.NoError(t, guard.Require(user))
	assert.NoError(t, guard.Require(user, "user"))
	assert.NoError(t, guard.Require(user, "ADMIN", "USER"))
	assert.ErrorIs(t, guard.Require(user, "ADMIN"), auth.ErrForbidden)
	assert.NoError(t, guard.Require(admin, "ADMIN"))
	assert.ErrorIs(t, guard.Require(locked), auth.ErrForbidden)
	assert.ErrorIs(t, guard.Require(locked, "ADMIN"), auth.ErrForbidden)
	assert.ErrorIs(t, guard.Require(auth.Principal{}), auth.ErrForbidden)
}

func TestToPrincipal(t *testing.T) {
	account := types.Account{
		ID:        7,
		Email:     "a@x.com",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Roles:     []types.Role{{ID: 1, Name: "USER"}, {ID: 2, Name: "ADMIN"}, {ID: 1, Name: "USER"}},
		Enabled:   true,
	}

	principal := auth.ToPrincipal(account)
	assert.Equal(t, 7, principal.AccountID)
	assert.Equal(t, "a@x.com", principal.Email)
	assert.Equal(t, "Ada Lovelace", principal.Name)
	assert.Equal(t, []string{"ADMIN", "USER"}, principal.Roles)
	assert.True(t, principal.Active())

	account.AccountLocked = true
	assert.False(t, auth.ToPrincipal(account).Active())
}
