package identity_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/parking-engine/identity"
	"github.com/warp/parking-engine/parking"
	"github.com/warp/parking-engine/parking/store"
	"golang.org/x/crypto/bcrypt"
)

func newTestService(t *testing.T, now *time.Time) *identity.Service {
	t.Helper()
	return identity.NewService(store.NewTxMemory(), "test-secret", time.Hour,
		identity.WithBcryptCost(bcrypt.MinCost),
		identity.WithClock(func() time.Time { return *now }),
	)
}

func TestRegisterAndLogin(t *testing.T) {
	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	svc := newTestService(t, &now)
	ctx := context.Background()

	u, err := svc.Register(ctx, identity.RegisterInput{Email: " Driver@Example.com ", Password: "secret"})
	require.NoError(t, err)
	assert.Equal(t, "driver@example.com", u.Email)
	assert.Equal(t, "driver", u.Name, "name defaults to the email local part")
	assert.False(t, u.IsAdmin)
	assert.NotEqual(t, "secret", u.PasswordHash)

	session, err := svc.Login(ctx, "DRIVER@example.com", "secret")
	require.NoError(t, err)
	assert.Equal(t, now.Add(time.Hour), session.ExpiresAt)

	actor, err := svc.Authenticate(session.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, actor.UserID)
	assert.False(t, actor.IsAdmin)
}

func TestRegister_Validation(t *testing.T) {
	now := time.Now()
	svc := newTestService(t, &now)
	ctx := context.Background()

	_, err := svc.Register(ctx, identity.RegisterInput{Email: "", Password: "x"})
	assert.ErrorIs(t, err, parking.ErrValidation)

	_, err = svc.Register(ctx, identity.RegisterInput{Email: "a@b.c", Password: ""})
	assert.ErrorIs(t, err, parking.ErrValidation)

	_, err = svc.Register(ctx, identity.RegisterInput{Email: "not-an-email", Password: "x"})
	assert.ErrorIs(t, err, parking.ErrValidation)
}

func TestRegister_DuplicateEmail(t *testing.T) {
	now := time.Now()
	svc := newTestService(t, &now)
	ctx := context.Background()

	_, err := svc.Register(ctx, identity.RegisterInput{Email: "a@b.c", Password: "x"})
	require.NoError(t, err)

	_, err = svc.Register(ctx, identity.RegisterInput{Email: "A@B.C", Password: "y"})
	assert.ErrorIs(t, err, parking.ErrDuplicateEmail)
}

func TestLogin_WrongPasswordOrUnknownEmail(t *testing.T) {
	now := time.Now()
	svc := newTestService(t, &now)
	ctx := context.Background()
	_, err := svc.Register(ctx, identity.RegisterInput{Email: "a@b.c", Password: "right"})
	require.NoError(t, err)

	_, err = svc.Login(ctx, "a@b.c", "wrong")
	assert.ErrorIs(t, err, parking.ErrInvalidCredentials)

	_, err = svc.Login(ctx, "nobody@b.c", "right")
	assert.ErrorIs(t, err, parking.ErrInvalidCredentials)
}

func TestEnsureAdmin_Idempotent(t *testing.T) {
	now := time.Now()
	svc := newTestService(t, &now)
	ctx := context.Background()

	first, err := svc.EnsureAdmin(ctx, "admin@email.com", "admin")
	require.NoError(t, err)
	assert.True(t, first.IsAdmin)

	second, err := svc.EnsureAdmin(ctx, "admin@email.com", "other")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	session, err := svc.Login(ctx, "admin@email.com", "admin")
	require.NoError(t, err)
	actor, err := svc.Authenticate(session.Token)
	require.NoError(t, err)
	assert.True(t, actor.IsAdmin)
}

func TestAuthenticate_Rejects(t *testing.T) {
	// GIVEN: A token issued now with a 1h TTL
	// WHEN: It is expired, forged or garbage
	// THEN: Authenticate returns ErrTokenInvalid

	now := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	svc := newTestService(t, &now)
	u := &parking.User{ID: "u1"}
	token, _, err := svc.IssueToken(u)
	require.NoError(t, err)

	_, err = svc.Authenticate("garbage")
	assert.ErrorIs(t, err, identity.ErrTokenInvalid)

	other := identity.NewService(store.NewTxMemory(), "other-secret", time.Hour,
		identity.WithClock(func() time.Time { return now }))
	_, err = other.Authenticate(token)
	assert.ErrorIs(t, err, identity.ErrTokenInvalid, "wrong secret")

	now = now.Add(2 * time.Hour)
	_, err = svc.Authenticate(token)
	assert.ErrorIs(t, err, identity.ErrTokenInvalid, "expired")
}
