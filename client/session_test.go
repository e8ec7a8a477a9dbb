package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-kas/auth"
	"github.com/goliatone/go-kas/client"
)

type MockAPI struct {
	mock.Mock
}

func (m *MockAPI) Login(ctx context.Context, username, password string, rememberMe bool) (*client.LoginResponse, error) {
	args := m.Called(ctx, username, password, rememberMe)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*client.LoginResponse), args.Error(1)
}

func (m *MockAPI) AdminLogin(ctx context.Context, username, password string) (*client.LoginResponse, error) {
	args := m.Called(ctx, username, password)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*client.LoginResponse), args.Error(1)
}

func (m *MockAPI) Me(ctx context.Context) (*auth.UserResponse, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*auth.UserResponse), args.Error(1)
}

func (m *MockAPI) Logout(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func student() auth.UserResponse {
	return auth.UserResponse{ID: "u-1", Username: "siswa1", Role: string(auth.RoleUser)}
}

func adminUser() auth.UserResponse {
	return auth.UserResponse{ID: "a-1", Username: "admin", Role: string(auth.RoleAdmin)}
}

func TestAuthContextRefresh(t *testing.T) {
	ctx := context.Background()

	t.Run("no token is anonymous without a call", func(t *testing.T) {
		api := &MockAPI{}
		ac := client.NewAuthContext(api, client.NewMultiStore(client.NewMemoryBackend()))

		assert.Equal(t, client.StateUnknown, ac.Snapshot().State)
		snap := ac.Refresh(ctx)
		assert.Equal(t, client.StateAnonymous, snap.State)
		api.AssertNotCalled(t, "Me", mock.Anything)
	})

	t.Run("valid token authenticates", func(t *testing.T) {
		api := &MockAPI{}
		u := student()
		api.On("Me", mock.Anything).Return(&u, nil)

		store := client.NewMultiStore(client.NewMemoryBackend())
		store.Store("tkn")

		var states []client.AuthState
		ac := client.NewAuthContext(api, store)
		ac.Subscribe(func(s client.Snapshot) { states = append(states, s.State) })

		snap := ac.Refresh(ctx)
		assert.True(t, snap.IsAuthenticated())
		assert.False(t, snap.IsAdmin())
		assert.Equal(t, "u-1", snap.Principal.ID)
		assert.Equal(t, []client.AuthState{client.StateLoading, client.StateAuthenticated}, states)
	})

	t.Run("rejected token is cleared", func(t *testing.T) {
		api := &MockAPI{}
		api.On("Me", mock.Anything).Return(nil, goerrors.New("Not authenticated", goerrors.CategoryAuth))

		store := client.NewMultiStore(client.NewMemoryBackend())
		store.Store("expired")

		snap := client.NewAuthContext(api, store).Refresh(ctx)
		assert.Equal(t, client.StateAnonymous, snap.State)
		assert.Empty(t, store.Retrieve())
	})

	t.Run("network failure keeps the token", func(t *testing.T) {
		api := &MockAPI{}
		api.On("Me", mock.Anything).Return(nil, errors.New("connection refused"))

		store := client.NewMultiStore(client.NewMemoryBackend())
		store.Store("tkn")

		snap := client.NewAuthContext(api, store).Refresh(ctx)
		assert.Equal(t, client.StateAnonymous, snap.State)
		assert.Equal(t, "tkn", store.Retrieve())
	})

	t.Run("hung call leaves loading after the timeout", func(t *testing.T) {
		api := &MockAPI{}
		release := make(chan time.Time)
		defer close(release)
		u := student()
		api.On("Me", mock.Anything).WaitUntil(release).Return(&u, nil)

		store := client.NewMultiStore(client.NewMemoryBackend())
		store.Store("tkn")

		ac := client.NewAuthContext(api, store, client.WithLoadingTimeout(50*time.Millisecond))

		start := time.Now()
		snap := ac.Refresh(ctx)
		assert.Equal(t, client.StateAnonymous, snap.State)
		assert.Less(t, time.Since(start), 2*time.Second)
	})
}

func TestAuthContextLogin(t *testing.T) {
	ctx := context.Background()

	t.Run("student surface", func(t *testing.T) {
		api := &MockAPI{}
		api.On("Login", mock.Anything, "siswa1", "password123", true).
			Return(&client.LoginResponse{Token: "tkn", User: student()}, nil)

		store := client.NewMultiStore(client.NewMemoryBackend())
		ac := client.NewAuthContext(api, store)

		user, err := ac.Login(ctx, "siswa1", "password123", true, client.SurfaceStudent)
		require.NoError(t, err)
		assert.Equal(t, "u-1", user.ID)
		assert.Equal(t, "tkn", store.Retrieve())
		assert.True(t, ac.Snapshot().IsAuthenticated())
	})

	t.Run("admin credential on the student surface is refused", func(t *testing.T) {
		api := &MockAPI{}
		api.On("Login", mock.Anything, "admin", "admin12345", false).
			Return(&client.LoginResponse{Token: "tkn", User: adminUser()}, nil)

		store := client.NewMultiStore(client.NewMemoryBackend())
		ac := client.NewAuthContext(api, store)

		_, err := ac.Login(ctx, "admin", "admin12345", false, client.SurfaceStudent)
		assert.ErrorIs(t, err, client.ErrWrongSurface)
		assert.Empty(t, store.Retrieve())
		assert.Equal(t, client.StateUnknown, ac.Snapshot().State)
	})

	t.Run("admin surface", func(t *testing.T) {
		api := &MockAPI{}
		api.On("AdminLogin", mock.Anything, "admin", "admin12345").
			Return(&client.LoginResponse{Token: "adm", User: adminUser()}, nil)

		store := client.NewMultiStore(client.NewMemoryBackend())
		ac := client.NewAuthContext(api, store)

		_, err := ac.Login(ctx, "admin", "admin12345", false, client.SurfaceAdmin)
		require.NoError(t, err)
		assert.True(t, ac.Snapshot().IsAdmin())
		assert.Equal(t, "adm", store.Retrieve())
	})

	t.Run("server failure stores nothing", func(t *testing.T) {
		api := &MockAPI{}
		api.On("Login", mock.Anything, "siswa1", "wrong", false).
			Return(nil, goerrors.New("Invalid username or password", goerrors.CategoryAuth))

		store := client.NewMultiStore(client.NewMemoryBackend())
		_, err := client.NewAuthContext(api, store).Login(ctx, "siswa1", "wrong", false, client.SurfaceStudent)
		assert.True(t, goerrors.IsAuth(err))
		assert.Empty(t, store.Retrieve())
	})
}

func TestAuthContextRefusedLoginLeavesNoToken(t *testing.T) {
	ctx := context.Background()
	leaked := signedToken(t, "admin", auth.RoleAdmin, 24*time.Hour)

	srv := newAPIServer(t, map[string]http.HandlerFunc{
		"/api/auth/login": func(w http.ResponseWriter, r *http.Request) {
			http.SetCookie(w, &http.Cookie{Name: client.TokenKey, Value: leaked, Path: "/", MaxAge: 86400})
			writeJSON(w, http.StatusOK, map[string]any{
				"success": true,
				"token":   leaked,
				"user":    adminUser(),
			})
		},
	})
	base, err := url.Parse(srv.URL)
	require.NoError(t, err)

	t.Run("transport sharing the store jar", func(t *testing.T) {
		jar, err := cookiejar.New(nil)
		require.NoError(t, err)
		store := client.NewMultiStore(
			client.NewFileBackend(filepath.Join(t.TempDir(), client.TokenKey)),
			client.NewMemoryBackend(),
			client.NewCookieBackend(jar, base),
		)
		api, err := client.NewClient(srv.URL,
			client.WithHTTPClient(&http.Client{Jar: jar}),
			client.WithTokenStore(store),
		)
		require.NoError(t, err)

		ac := client.NewAuthContext(api, store)
		_, err = ac.Login(ctx, "admin", "admin12345", false, client.SurfaceStudent)
		assert.ErrorIs(t, err, client.ErrWrongSurface)
		assert.Empty(t, store.Retrieve())
		assert.False(t, ac.Snapshot().IsAuthenticated())
	})

	t.Run("default token store", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), client.TokenKey)
		store, err := client.NewTokenStore(base, path)
		require.NoError(t, err)
		api, err := client.NewClient(srv.URL, client.WithTokenStore(store))
		require.NoError(t, err)

		ac := client.NewAuthContext(api, store)
		_, err = ac.Login(ctx, "admin", "admin12345", false, client.SurfaceStudent)
		assert.ErrorIs(t, err, client.ErrWrongSurface)
		assert.Empty(t, store.Retrieve())

		// a later process sees nobody signed in
		again, err := client.NewTokenStore(base, path)
		require.NoError(t, err)
		assert.Empty(t, again.Retrieve())
	})

	t.Run("an existing session survives the refusal", func(t *testing.T) {
		store := client.NewMultiStore(client.NewMemoryBackend())
		store.Store("previous")
		api, err := client.NewClient(srv.URL, client.WithTokenStore(store))
		require.NoError(t, err)

		_, err = client.NewAuthContext(api, store).Login(ctx, "admin", "admin12345", false, client.SurfaceStudent)
		assert.ErrorIs(t, err, client.ErrWrongSurface)
		assert.Equal(t, "previous", store.Retrieve())
	})
}

func TestAuthContextLoadingHint(t *testing.T) {
	ctx := context.Background()

	// the stored token claims admin, the server says otherwise
	api := &MockAPI{}
	u := student()
	api.On("Me", mock.Anything).Return(&u, nil)

	store := client.NewMultiStore(client.NewMemoryBackend())
	store.Store(signedToken(t, "siswa1", auth.RoleAdmin, time.Hour))

	var snaps []client.Snapshot
	ac := client.NewAuthContext(api, store)
	ac.Subscribe(func(s client.Snapshot) { snaps = append(snaps, s) })

	final := ac.Refresh(ctx)
	require.Len(t, snaps, 2)

	loading := snaps[0]
	assert.Equal(t, client.StateLoading, loading.State)
	require.NotNil(t, loading.Hint)
	assert.Equal(t, "siswa1", loading.Hint.Username)
	assert.Equal(t, string(auth.RoleAdmin), loading.Hint.Role)
	assert.False(t, loading.IsAuthenticated())
	assert.False(t, loading.IsAdmin())

	assert.True(t, final.IsAuthenticated())
	assert.False(t, final.IsAdmin())
	assert.Nil(t, final.Hint)

	t.Run("malformed token gives no hint", func(t *testing.T) {
		api := &MockAPI{}
		api.On("Me", mock.Anything).Return(nil, goerrors.New("Not authenticated", goerrors.CategoryAuth))

		store := client.NewMultiStore(client.NewMemoryBackend())
		store.Store("not-a-jwt")

		var hints []*client.TokenHint
		ac := client.NewAuthContext(api, store)
		ac.Subscribe(func(s client.Snapshot) { hints = append(hints, s.Hint) })
		ac.Refresh(ctx)

		require.NotEmpty(t, hints)
		assert.Nil(t, hints[0])
	})
}

func TestAuthContextSignOut(t *testing.T) {
	api := &MockAPI{}
	api.On("Logout", mock.Anything).Return(errors.New("offline"))

	durable := client.NewMemoryBackend()
	session := client.NewMemoryBackend()
	store := client.NewMultiStore(durable, session)
	store.Store("tkn")

	var navigated string
	ac := client.NewAuthContext(api, store, client.WithNavigator(client.NavigatorFunc(func(p string) {
		navigated = p
	})))

	ac.SignOut(context.Background())

	assert.Equal(t, client.LoginPath, navigated)
	assert.Equal(t, client.StateAnonymous, ac.Snapshot().State)
	for _, b := range []*client.MemoryBackend{durable, session} {
		got, _ := b.Get()
		assert.Empty(t, got)
	}
	api.AssertExpectations(t)
}
