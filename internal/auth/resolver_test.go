package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/centralreports/reportd/internal/auth"
	"github.com/centralreports/reportd/internal/domain"
)

func TestSignIn_ValidCredentials_ReturnsIdentityAndToken(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser(t, "u1", "admin@unit-a.org", "correct-horse", &domain.Account{Role: domain.RoleUnitAdmin, UnitID: "A"})

	res, err := svc.SignIn(context.Background(), " Admin@Unit-A.org ", "correct-horse")
	require.NoError(t, err)

	assert.True(t, res.Refreshed())
	unit, ok := res.Identity.AssignedUnit()
	assert.True(t, ok)
	assert.Equal(t, "A", unit)
	assert.Len(t, store.sessions, 1)
}

func TestSignIn_WrongPassword_InvalidCredentials(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser(t, "u1", "a@b.org", "correct-horse", &domain.Account{Role: domain.RolePublic})

	_, err := svc.SignIn(context.Background(), "a@b.org", "battery-staple")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
	assert.Empty(t, store.sessions)
}

func TestSignIn_UnknownEmail_InvalidCredentials(t *testing.T) {
	svc, _, _ := newTestService(t)

	_, err := svc.SignIn(context.Background(), "nobody@b.org", "whatever-pass")
	assert.ErrorIs(t, err, domain.ErrInvalidCredentials)
}

func TestSignIn_NoProfile_ProfileNotFound(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser(t, "u1", "a@b.org", "correct-horse", nil)

	_, err := svc.SignIn(context.Background(), "a@b.org", "correct-horse")
	assert.ErrorIs(t, err, domain.ErrProfileNotFound)
	assert.Empty(t, store.sessions)
}

func TestSignIn_StoreDown_Upstream(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.fail(errDatabaseDown)

	_, err := svc.SignIn(context.Background(), "a@b.org", "correct-horse")
	require.Error(t, err)
	assert.True(t, domain.IsUpstream(err))
	assert.Contains(t, err.Error(), "connection refused")
}

func TestResolve_EmptyToken_Anonymous(t *testing.T) {
	svc, _, _ := newTestService(t)

	res, err := svc.Resolve(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, res.Identity.IsAuthenticated())
	assert.False(t, res.Refreshed())
}

func TestResolve_GarbageToken_Anonymous(t *testing.T) {
	svc, _, _ := newTestService(t)

	res, err := svc.Resolve(context.Background(), "not.a.jwt")
	require.NoError(t, err)
	assert.False(t, res.Identity.IsAuthenticated())
}

func TestResolve_ValidSession_ReturnsIdentity(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser(t, "s1", "root@hq.org", "correct-horse", &domain.Account{Role: domain.RoleSuperAdmin})
	login, err := svc.SignIn(context.Background(), "root@hq.org", "correct-horse")
	require.NoError(t, err)

	res, err := svc.Resolve(context.Background(), login.Token)
	require.NoError(t, err)
	assert.True(t, res.Identity.IsSuperAdmin())
	assert.Equal(t, "s1", res.Identity.UserID())
	assert.False(t, res.Refreshed(), "fresh session needs no refresh")
}

func TestResolve_ProfileDeleted_ProfileNotFound(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser(t, "u1", "a@b.org", "correct-horse", &domain.Account{Role: domain.RoleUnitAdmin, UnitID: "A"})
	login, err := svc.SignIn(context.Background(), "a@b.org", "correct-horse")
	require.NoError(t, err)

	store.deleteAccount("u1")

	res, err := svc.Resolve(context.Background(), login.Token)
	assert.ErrorIs(t, err, domain.ErrProfileNotFound)
	assert.False(t, res.Identity.IsAuthenticated())
}

func TestResolve_RevokedSession_Anonymous(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser(t, "u1", "a@b.org", "correct-horse", &domain.Account{Role: domain.RolePublic})
	login, err := svc.SignIn(context.Background(), "a@b.org", "correct-horse")
	require.NoError(t, err)

	require.NoError(t, svc.SignOut(context.Background(), login.Token))

	res, err := svc.Resolve(context.Background(), login.Token)
	require.NoError(t, err)
	assert.False(t, res.Identity.IsAuthenticated())
}

func TestResolve_ExpiredSession_Anonymous(t *testing.T) {
	svc, store, clk := newTestService(t)
	store.addUser(t, "u1", "a@b.org", "correct-horse", &domain.Account{Role: domain.RolePublic})
	login, err := svc.SignIn(context.Background(), "a@b.org", "correct-horse")
	require.NoError(t, err)

	clk.Advance(25 * time.Hour)

	res, err := svc.Resolve(context.Background(), login.Token)
	require.NoError(t, err)
	assert.False(t, res.Identity.IsAuthenticated())
}

func TestResolve_NearExpiry_RefreshesToken(t *testing.T) {
	svc, store, clk := newTestService(t)
	store.addUser(t, "u1", "a@b.org", "correct-horse", &domain.Account{Role: domain.RoleUnitAdmin, UnitID: "A"})
	login, err := svc.SignIn(context.Background(), "a@b.org", "correct-horse")
	require.NoError(t, err)

	clk.Advance(23*time.Hour + 30*time.Minute)

	res, err := svc.Resolve(context.Background(), login.Token)
	require.NoError(t, err)
	require.True(t, res.Refreshed())
	assert.Equal(t, 1, store.extended)
	assert.Equal(t, clk.Now().Add(24*time.Hour), res.ExpiresAt)

	// The refreshed token keeps working after the original would have expired.
	clk.Advance(2 * time.Hour)
	again, err := svc.Resolve(context.Background(), res.Token)
	require.NoError(t, err)
	assert.True(t, again.Identity.IsUnitAdmin())
}

func TestResolve_StoreDown_Upstream(t *testing.T) {
	svc, store, _ := newTestService(t)
	store.addUser(t, "u1", "a@b.org", "correct-horse", &domain.Account{Role: domain.RolePublic})
	login, err := svc.SignIn(context.Background(), "a@b.org", "correct-horse")
	require.NoError(t, err)

	store.fail(errDatabaseDown)

	_, err = svc.Resolve(context.Background(), login.Token)
	require.Error(t, err)
	assert.True(t, domain.IsUpstream(err))
}

func TestSignOut_InvalidToken_NoError(t *testing.T) {
	svc, _, _ := newTestService(t)
	assert.NoError(t, svc.SignOut(context.Background(), "garbage"))
}

func TestTokens_RejectsShortSecret(t *testing.T) {
	_, err := auth.NewTokens([]byte("short"))
	assert.Error(t, err)
}

func TestTokens_RejectsForeignSignature(t *testing.T) {
	mine, err := auth.NewTokens(testSecret)
	require.NoError(t, err)
	theirs, err := auth.NewTokens([]byte("ffffffffffffffffffffffffffffffff"))
	require.NoError(t, err)

	token, err := theirs.Issue("u1", "s1", time.Now().Add(time.Hour))
	require.NoError(t, err)

	_, err = mine.Parse(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestPassword_HashAndVerify(t *testing.T) {
	hash, err := auth.HashPassword("correct-horse")
	require.NoError(t, err)

	ok, err := auth.VerifyPassword(hash, "correct-horse")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = auth.VerifyPassword(hash, "wrong-horse")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = auth.HashPassword("short")
	assert.Error(t, err)
}
