package auth_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-kas/auth"
)

func TestLogin(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	provider := new(MockIdentityProvider)
	authenticator := auth.NewAuthenticator(provider, nil, newTestConfig()).WithClock(clock.Now)

	user := testUser(auth.RoleUser)

	t.Run("standard ttl", func(t *testing.T) {
		provider.On("VerifyIdentity", ctx, "siswa1", "password123").Return(user, nil).Once()

		result, err := authenticator.Login(ctx, "siswa1", "password123", false)
		require.NoError(t, err)
		assert.NotEmpty(t, result.Token)
		assert.Equal(t, user, result.User)
		assert.Equal(t, 72*time.Hour, result.TTL(clock.Now()))
		assert.Empty(t, result.SessionID)
	})

	t.Run("remember me ttl", func(t *testing.T) {
		provider.On("VerifyIdentity", ctx, "siswa1", "password123").Return(user, nil).Once()

		result, err := authenticator.Login(ctx, "siswa1", "password123", true)
		require.NoError(t, err)
		assert.Equal(t, 30*24*time.Hour, result.TTL(clock.Now()))
	})

	t.Run("invalid credentials", func(t *testing.T) {
		provider.On("VerifyIdentity", ctx, "siswa1", "nope").Return(nil, auth.ErrInvalidCredentials).Once()

		result, err := authenticator.Login(ctx, "siswa1", "nope", false)
		assert.Nil(t, result)
		assert.ErrorIs(t, err, auth.ErrInvalidCredentials)
	})

	provider.AssertExpectations(t)
}

func TestAdminLogin(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	provider := new(MockIdentityProvider)

	var events []auth.ActivityEvent
	authenticator := auth.NewAuthenticator(provider, nil, newTestConfig()).
		WithClock(clock.Now).
		WithActivitySink(auth.ActivitySinkFunc(func(_ context.Context, e auth.ActivityEvent) error {
			events = append(events, e)
			return nil
		}))

	adminUser := testUser(auth.RoleAdmin)
	studentUser := testUser(auth.RoleUser)

	provider.On("VerifyIdentity", ctx, "admin", "secret").Return(adminUser, nil).Once()
	provider.On("VerifyIdentity", ctx, "siswa1", "password123").Return(studentUser, nil).Once()
	provider.On("VerifyIdentity", ctx, "siswa1", "wrong").Return(nil, auth.ErrInvalidCredentials).Once()

	result, err := authenticator.AdminLogin(ctx, "admin", "secret")
	require.NoError(t, err)
	assert.Equal(t, 24*time.Hour, result.TTL(clock.Now()))

	_, err = authenticator.AdminLogin(ctx, "siswa1", "password123")
	assert.ErrorIs(t, err, auth.ErrNotAdmin)

	// the password is checked before the role
	_, err = authenticator.AdminLogin(ctx, "siswa1", "wrong")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	require.Len(t, events, 3)
	assert.Equal(t, auth.ActivityEventLoginSuccess, events[0].EventType)
	assert.Equal(t, auth.ActivityEventLoginFailure, events[1].EventType)
	assert.Equal(t, clock.Now(), events[0].OccurredAt)

	provider.AssertExpectations(t)
}

func TestClockDrivesTokenExpiry(t *testing.T) {
	ctx := context.Background()
	clock := newClock()
	provider := new(MockIdentityProvider)
	authenticator := auth.NewAuthenticator(provider, nil, newTestConfig()).WithClock(clock.Now)

	user := testUser(auth.RoleUser)
	provider.On("VerifyIdentity", ctx, "siswa1", "password123").Return(user, nil).Once()

	result, err := authenticator.Login(ctx, "siswa1", "password123", true)
	require.NoError(t, err)

	claims, err := auth.DecodeUnverified(result.Token)
	require.NoError(t, err)
	assert.True(t, claims.IssuedAt().Equal(clock.Now()))
	assert.True(t, claims.Expires().Equal(result.ExpiresAt))
	assert.Equal(t, 720*time.Hour, claims.Expires().Sub(clock.Now()))

	// validation runs against the same clock
	_, err = authenticator.Validator().Validate(result.Token)
	assert.NoError(t, err)

	clock.Advance(721 * time.Hour)
	_, err = authenticator.Validator().Validate(result.Token)
	assert.ErrorIs(t, err, auth.ErrTokenExpired)
}

func TestPrincipalReadsFreshRole(t *testing.T) {
	ctx := context.Background()
	provider := new(MockIdentityProvider)
	authenticator := auth.NewAuthenticator(provider, nil, newTestConfig())

	user := testUser(auth.RoleAdmin)
	token, _, err := authenticator.TokenService().Issue(user.Identity(), time.Hour, "")
	require.NoError(t, err)

	demoted := *user
	demoted.Role = auth.RoleUser
	provider.On("FindIdentityByIdentifier", mock.Anything, user.ID.String()).Return(&demoted, nil).Once()

	session, err := authenticator.SessionFromToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", session.GetRole())

	assert.Equal(t, user.ID.String(), session.GetUserID())

	principal, err := authenticator.Principal(ctx, session.GetUserID(), session.GetSessionID())
	require.NoError(t, err)
	assert.Equal(t, auth.RoleUser, principal.Role)

	provider.On("FindIdentityByIdentifier", mock.Anything, "gone").Return(nil, auth.ErrIdentityNotFound).Once()
	_, err = authenticator.Principal(ctx, "gone", "")
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)

	provider.On("FindIdentityByIdentifier", mock.Anything, "broken").Return(nil, errors.New("db down")).Once()
	_, err = authenticator.Principal(ctx, "broken", "")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, auth.ErrNotAuthenticated)
}

func TestLoginWithSessionRegistry(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := auth.NewRepositoryManager(db)
	provision(t, repo, student("siswa1", "12345"))

	authenticator := auth.NewAuthenticator(auth.NewUserProvider(repo.Users()), repo.Sessions(), newTestConfig())

	result, err := authenticator.Login(ctx, "siswa1", "password123", false)
	require.NoError(t, err)
	require.NotEmpty(t, result.SessionID)

	claims, err := authenticator.Validator().Validate(result.Token)
	require.NoError(t, err)
	assert.Equal(t, result.SessionID, claims.SessionID())

	principal, err := authenticator.ResolvePrincipal(ctx, claims)
	require.NoError(t, err)
	assert.Equal(t, "siswa1", principal.Username)

	require.NoError(t, authenticator.Logout(ctx, result.SessionID))

	_, err = authenticator.ResolvePrincipal(ctx, claims)
	assert.ErrorIs(t, err, auth.ErrNotAuthenticated)

	// unknown and malformed ids are not errors
	assert.NoError(t, authenticator.Logout(ctx, uuid.NewString()))
	assert.NoError(t, authenticator.Logout(ctx, "not-a-uuid"))
	assert.NoError(t, authenticator.Logout(ctx, ""))
}

func TestLoginUnknownAndWrongPasswordLookAlike(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()

	ctx := context.Background()
	repo := auth.NewRepositoryManager(db)
	provision(t, repo, student("siswa1", "12345"))

	authenticator := auth.NewAuthenticator(auth.NewUserProvider(repo.Users()), repo.Sessions(), newTestConfig())

	_, errUnknown := authenticator.Login(ctx, "nobody", "password123", false)
	_, errWrong := authenticator.Login(ctx, "siswa1", "password124", false)

	assert.ErrorIs(t, errUnknown, auth.ErrInvalidCredentials)
	assert.ErrorIs(t, errWrong, auth.ErrInvalidCredentials)
	assert.Equal(t, errUnknown.Error(), errWrong.Error())
}
