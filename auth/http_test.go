package auth_test

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-kas/auth"
)

type testServer struct {
	app    *fiber.App
	repo   auth.RepositoryManager
	auther *auth.Auther
	cfg    *testConfig
}

func newTestServer(t *testing.T, cfg *testConfig) (*testServer, func()) {
	t.Helper()

	db, cleanup := setupTestDB(t)
	repo := auth.NewRepositoryManager(db)

	auther := auth.NewAuthenticator(auth.NewUserProvider(repo.Users()), repo.Sessions(), cfg)
	httpAuth, err := auth.NewHTTPAuthenticator(auther, cfg)
	require.NoError(t, err)

	app := fiber.New(fiber.Config{ErrorHandler: httpAuth.Responder().Handler})
	auth.RegisterAuthRoutes(app,
		auth.WithControllerRepository(repo),
		auth.WithControllerAuthenticator(httpAuth),
		auth.WithRegistration(cfg.GetAllowRegistration()),
	)

	return &testServer{app: app, repo: repo, auther: auther, cfg: cfg}, cleanup
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.app.Test(req, -1)
	require.NoError(t, err)

	out := map[string]any{}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out), string(raw))
	}
	return resp, out
}

func (s *testServer) login(t *testing.T, path, username, password string) string {
	t.Helper()
	resp, body := s.do(t, http.MethodPost, path, "", map[string]any{
		"username": username,
		"password": password,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	return body["token"].(string)
}

func cookieByName(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestHTTP_ProvisionedStudentScenario(t *testing.T) {
	srv, cleanup := newTestServer(t, newTestConfig())
	defer cleanup()

	provision(t, srv.repo, admin("admin"))
	adminToken := srv.login(t, "/api/auth/admin-login", "admin", "admin12345")

	resp, body := srv.do(t, http.MethodPost, "/api/admin/users", adminToken, map[string]any{
		"username": "siswa1",
		"password": "password123",
		"fullName": "Siswa Satu",
		"role":     "user",
		"kelas":    "XII IPA 1",
		"nis":      "12345",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, body)
	created := body["user"].(map[string]any)

	t.Run("login returns user and token", func(t *testing.T) {
		resp, body := srv.do(t, http.MethodPost, "/api/auth/login", "", map[string]any{
			"username": "siswa1",
			"password": "password123",
		})
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, true, body["success"])

		user := body["user"].(map[string]any)
		assert.Equal(t, created["id"], user["id"])
		assert.Equal(t, "user", user["role"])
		assert.Equal(t, "XII IPA 1", user["kelas"])
		assert.Equal(t, "12345", user["nis"])
		assert.Equal(t, "Siswa Satu", user["full_name"])

		cookie := cookieByName(resp, "auth_token")
		require.NotNil(t, cookie)
		assert.Equal(t, body["token"], cookie.Value)
		assert.False(t, cookie.HttpOnly)
		assert.InDelta(t, (72 * time.Hour).Seconds(), float64(cookie.MaxAge), 5)

		session := cookieByName(resp, "session_id")
		require.NotNil(t, session)
		assert.True(t, session.HttpOnly)
	})

	t.Run("me returns the same principal", func(t *testing.T) {
		token := srv.login(t, "/api/auth/login", "siswa1", "password123")

		resp, body := srv.do(t, http.MethodGet, "/api/auth/me", token, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Cache-Control"), "no-store")
		assert.Equal(t, "no-cache", resp.Header.Get("Pragma"))
		assert.Equal(t, "0", resp.Header.Get("Expires"))

		user := body["user"].(map[string]any)
		assert.Equal(t, created["id"], user["id"])
		assert.Equal(t, "user", user["role"])
	})

	t.Run("student cannot use admin surface", func(t *testing.T) {
		resp, body := srv.do(t, http.MethodPost, "/api/auth/admin-login", "", map[string]any{
			"username": "siswa1",
			"password": "password123",
		})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Equal(t, "Unauthorized: Not an admin user", body["message"])

		token := srv.login(t, "/api/auth/login", "siswa1", "password123")
		resp, _ = srv.do(t, http.MethodGet, "/api/admin/users", token, nil)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("wrong password", func(t *testing.T) {
		resp, body := srv.do(t, http.MethodPost, "/api/auth/login", "", map[string]any{
			"username": "siswa1",
			"password": "password124",
		})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "Invalid username or password", body["message"])
		assert.Equal(t, false, body["success"])
	})

	t.Run("missing fields", func(t *testing.T) {
		resp, body := srv.do(t, http.MethodPost, "/api/auth/login", "", map[string]any{
			"username": "siswa1",
		})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, body["errors"], "password")
	})

	t.Run("duplicate provisioning conflicts", func(t *testing.T) {
		resp, body := srv.do(t, http.MethodPost, "/api/admin/users", adminToken, map[string]any{
			"username": "siswa1",
			"password": "password123",
			"fullName": "Another",
			"kelas":    "X",
			"nis":      "55555",
		})
		assert.Equal(t, http.StatusConflict, resp.StatusCode)
		assert.Equal(t, "Username already exists", body["message"])
	})

	t.Run("list users", func(t *testing.T) {
		resp, body := srv.do(t, http.MethodGet, "/api/admin/users?role=user", adminToken, nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, body["users"], 1)
	})
}

func TestHTTP_TokenFailures(t *testing.T) {
	srv, cleanup := newTestServer(t, newTestConfig())
	defer cleanup()

	user := provision(t, srv.repo, student("siswa1", "12345"))

	expired := auth.NewTokenService([]byte(testSigningKey), "kas-test", []string{"kas:test"}, nil,
		auth.WithTokenClock(func() time.Time { return time.Now().Add(-4 * 24 * time.Hour) }),
	)
	expiredToken, _, err := expired.Issue(user.Identity(), 72*time.Hour, "")
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"no token", ""},
		{"expired token", expiredToken},
		{"garbage token", "abc.def.ghi"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := srv.do(t, http.MethodGet, "/api/auth/me", tt.token, nil)
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			assert.Equal(t, "Not authenticated", body["message"])

			resp, _ = srv.do(t, http.MethodPut, "/api/auth/username", tt.token, map[string]any{"username": "x"})
			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		})
	}
}

func TestHTTP_LogoutRevokesSession(t *testing.T) {
	srv, cleanup := newTestServer(t, newTestConfig())
	defer cleanup()

	provision(t, srv.repo, student("siswa1", "12345"))
	token := srv.login(t, "/api/auth/login", "siswa1", "password123")

	resp, _ := srv.do(t, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body := srv.do(t, http.MethodPost, "/api/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	cleared := cookieByName(resp, "auth_token")
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)

	resp, _ = srv.do(t, http.MethodGet, "/api/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// logging out twice is harmless
	resp, _ = srv.do(t, http.MethodPost, "/api/auth/logout", token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestHTTP_Registration(t *testing.T) {
	payload := map[string]any{
		"username":        "siswa5",
		"password":        "password123",
		"confirmPassword": "password123",
		"fullName":        "Siswa Lima",
		"kelas":           "X IPS 2",
		"nis":             "55555",
	}

	t.Run("disabled", func(t *testing.T) {
		srv, cleanup := newTestServer(t, newTestConfig())
		defer cleanup()

		resp, body := srv.do(t, http.MethodPost, "/api/auth/register", "", payload)
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Equal(t, "Registration is disabled", body["message"])
	})

	t.Run("enabled", func(t *testing.T) {
		cfg := newTestConfig()
		cfg.allowRegistration = true
		srv, cleanup := newTestServer(t, cfg)
		defer cleanup()

		resp, body := srv.do(t, http.MethodPost, "/api/auth/register", "", payload)
		require.Equal(t, http.StatusCreated, resp.StatusCode, body)
		assert.Equal(t, "user", body["user"].(map[string]any)["role"])

		srv.login(t, "/api/auth/login", "siswa5", "password123")
	})
}

func TestHTTP_ChangeCredentials(t *testing.T) {
	srv, cleanup := newTestServer(t, newTestConfig())
	defer cleanup()

	provision(t, srv.repo, student("siswa1", "12345"))
	token := srv.login(t, "/api/auth/login", "siswa1", "password123")

	resp, body := srv.do(t, http.MethodPut, "/api/auth/password", token, map[string]any{
		"currentPassword": "password123",
		"newPassword":     "newpassword",
		"confirmPassword": "newpassword",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	resp, body = srv.do(t, http.MethodPut, "/api/auth/username", token, map[string]any{
		"username": "budi",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, body)

	srv.login(t, "/api/auth/login", "budi", "newpassword")

	// the token still resolves, the principal is read by id
	resp, body = srv.do(t, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "budi", body["user"].(map[string]any)["username"])
}
