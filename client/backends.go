package client

import (
	"errors"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-kas/auth"
)

// MemoryBackend lives as long as the process, the session scoped replica
type MemoryBackend struct {
	mu    sync.RWMutex
	token string
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) Get() (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token, nil
}

func (m *MemoryBackend) Set(token string) error {
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
	return nil
}

func (m *MemoryBackend) Delete() error {
	return m.Set("")
}

// FileBackend is the durable replica, a single file readable only by the
// current user.
type FileBackend struct {
	Path string
}

// DefaultTokenPath is ~/.config/kas/auth_token or the platform equivalent
func DefaultTokenPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "kas", TokenKey), nil
}

func NewFileBackend(path string) *FileBackend {
	return &FileBackend{Path: path}
}

func (f *FileBackend) Name() string { return "file" }

func (f *FileBackend) Get() (string, error) {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(string(raw)), nil
}

func (f *FileBackend) Set(token string) error {
	if err := os.MkdirAll(filepath.Dir(f.Path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(f.Path, []byte(token), 0o600)
}

func (f *FileBackend) Delete() error {
	if err := os.Remove(f.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// CookieBackend keeps the token as the auth_token cookie of the API base
// URL, the same cookie the server sets on login. The cookie lives until
// the token expires, MaxAge is used when the expiry cannot be read.
type CookieBackend struct {
	Jar    http.CookieJar
	URL    *url.URL
	MaxAge time.Duration
}

func NewCookieBackend(jar http.CookieJar, base *url.URL) *CookieBackend {
	return &CookieBackend{Jar: jar, URL: base, MaxAge: 72 * time.Hour}
}

func (c *CookieBackend) Name() string { return "cookie" }

func (c *CookieBackend) Get() (string, error) {
	if c.Jar == nil || c.URL == nil {
		return "", errors.New("cookie jar not configured")
	}
	for _, ck := range c.Jar.Cookies(c.URL) {
		if ck.Name == TokenKey {
			return ck.Value, nil
		}
	}
	return "", nil
}

func (c *CookieBackend) Set(token string) error {
	maxAge := c.MaxAge
	if claims, err := auth.DecodeUnverified(token); err == nil {
		if exp := claims.Expires(); !exp.IsZero() {
			maxAge = time.Until(exp)
		}
	}
	if maxAge <= 0 {
		return c.Delete()
	}
	return c.write(token, int(maxAge.Seconds()))
}

func (c *CookieBackend) Delete() error {
	return c.write("", -1)
}

func (c *CookieBackend) write(value string, maxAge int) error {
	if c.Jar == nil || c.URL == nil {
		return errors.New("cookie jar not configured")
	}
	if maxAge == 0 {
		maxAge = 1
	}
	c.Jar.SetCookies(c.URL, []*http.Cookie{{
		Name:     TokenKey,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		SameSite: http.SameSiteLaxMode,
	}})
	return nil
}
