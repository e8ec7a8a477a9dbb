package client_test

import (
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-kas/auth"
)

// signedToken returns a token shaped like the server's, the signature is
// irrelevant to the client.
func signedToken(t *testing.T, username string, role auth.UserRole, ttl time.Duration) string {
	t.Helper()
	now := time.Now()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &auth.JWTClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "u-" + username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UID:      "u-" + username,
		UserName: username,
		UserRole: string(role),
	}).SignedString([]byte("client-test-key"))
	require.NoError(t, err)
	return token
}

// recordingJar keeps the last cookies set per name
type recordingJar struct {
	mu      sync.Mutex
	cookies map[string]*http.Cookie
}

func newRecordingJar() *recordingJar {
	return &recordingJar{cookies: map[string]*http.Cookie{}}
}

func (j *recordingJar) SetCookies(_ *url.URL, cookies []*http.Cookie) {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, c := range cookies {
		j.cookies[c.Name] = c
	}
}

func (j *recordingJar) Cookies(_ *url.URL) []*http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []*http.Cookie
	for _, c := range j.cookies {
		if c.MaxAge >= 0 {
			out = append(out, c)
		}
	}
	return out
}

func (j *recordingJar) last(name string) *http.Cookie {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.cookies[name]
}
