package auth_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-kas/auth"
	"github.com/goliatone/go-kas/persistence"
)

const testSigningKey = "test-signing-key-0123456789abcdef"

type testConfig struct {
	signingKey        string
	keyID             string
	verificationKeys  map[string]string
	allowRegistration bool
}

func newTestConfig() *testConfig {
	return &testConfig{signingKey: testSigningKey}
}

func (c *testConfig) GetSigningKey() string                  { return c.signingKey }
func (c *testConfig) GetSigningMethod() string               { return "HS256" }
func (c *testConfig) GetSigningKeyID() string                { return c.keyID }
func (c *testConfig) GetVerificationKeys() map[string]string { return c.verificationKeys }
func (c *testConfig) GetContextKey() string                  { return "claims" }
func (c *testConfig) GetTokenCookieName() string             { return "auth_token" }
func (c *testConfig) GetSessionCookieName() string           { return "session_id" }
func (c *testConfig) GetCookieHashKey() string               { return "cookie-hash-key-0123456789abcdef" }
func (c *testConfig) GetCookieSecure() bool                  { return false }
func (c *testConfig) GetTokenExpiration() int                { return 0 }
func (c *testConfig) GetExtendedTokenDuration() int          { return 0 }
func (c *testConfig) GetAdminTokenExpiration() int           { return 0 }
func (c *testConfig) GetTokenLookup() string                 { return "header:Authorization,cookie:auth_token" }
func (c *testConfig) GetAuthScheme() string                  { return "Bearer" }
func (c *testConfig) GetIssuer() string                      { return "kas-test" }
func (c *testConfig) GetAudience() []string                  { return []string{"kas:test"} }
func (c *testConfig) GetAllowRegistration() bool             { return c.allowRegistration }

var _ auth.Config = (*testConfig)(nil)

// MockIdentityProvider is a mock implementation of IdentityProvider
type MockIdentityProvider struct {
	mock.Mock
}

func (m *MockIdentityProvider) VerifyIdentity(ctx context.Context, username, password string) (*auth.User, error) {
	args := m.Called(ctx, username, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.User), args.Error(1)
}

func (m *MockIdentityProvider) FindIdentityByIdentifier(ctx context.Context, identifier string) (*auth.User, error) {
	args := m.Called(ctx, identifier)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.User), args.Error(1)
}

type fixedClock struct {
	t time.Time
}

func (c *fixedClock) Now() time.Time { return c.t }

func (c *fixedClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *fixedClock {
	return &fixedClock{t: time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC)}
}

func setupTestDB(t *testing.T) (*bun.DB, func()) {
	t.Helper()

	db, err := persistence.Open(persistence.DriverSQLite, ":memory:", persistence.Options{})
	require.NoError(t, err)

	_, err = persistence.Migrate(context.Background(), db)
	require.NoError(t, err)

	return db, func() {
		db.Close()
	}
}

func provision(t *testing.T, repo auth.RepositoryManager, msg auth.ProvisionUserMessage) *auth.User {
	t.Helper()
	user, err := auth.NewProvisionUserHandler(repo).Execute(context.Background(), msg)
	require.NoError(t, err)
	return user
}

func student(username, nis string) auth.ProvisionUserMessage {
	return auth.ProvisionUserMessage{
		Username: username,
		Password: "password123",
		FullName: "Siswa " + username,
		Role:     auth.RoleUser,
		Kelas:    "XII IPA 1",
		NIS:      nis,
	}
}

func admin(username string) auth.ProvisionUserMessage {
	return auth.ProvisionUserMessage{
		Username: username,
		Password: "admin12345",
		FullName: "Admin " + username,
		Role:     auth.RoleAdmin,
	}
}
