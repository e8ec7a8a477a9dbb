package client

import (
	"net/http/cookiejar"
	"net/url"

	"github.com/goliatone/go-kas/auth"
)

// TokenKey is the logical name every backend stores the token under
const TokenKey = "auth_token"

// TokenStore keeps the bearer token between runs. None of its methods
// report errors, an empty Retrieve means nobody is signed in.
type TokenStore interface {
	Store(token string)
	Retrieve() string
	Clear()
	// Discard removes token from every backend holding it, other tokens
	// are left alone.
	Discard(token string)
}

// Backend is a single place a token can live
type Backend interface {
	Name() string
	Get() (string, error)
	Set(token string) error
	Delete() error
}

// MultiStore replicates the token across backends ordered by priority,
// durable storage first.
type MultiStore struct {
	backends []Backend
	logger   auth.Logger
}

var _ TokenStore = (*MultiStore)(nil)

func NewMultiStore(backends ...Backend) *MultiStore {
	s := &MultiStore{logger: auth.DefaultLogger()}
	for _, b := range backends {
		if b != nil {
			s.backends = append(s.backends, b)
		}
	}
	return s
}

// NewTokenStore is the store kasctl uses: the token file, then the
// process memory, then a cookie jar owned by the store. The jar must not
// be the one of the HTTP transport, or a response could plant a token
// the caller never accepted.
func NewTokenStore(base *url.URL, tokenFile string) (*MultiStore, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return NewMultiStore(
		NewFileBackend(tokenFile),
		NewMemoryBackend(),
		NewCookieBackend(jar, base),
	), nil
}

func (s *MultiStore) WithLogger(logger auth.Logger) *MultiStore {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// Backends returns the backends in priority order
func (s *MultiStore) Backends() []Backend {
	return append([]Backend(nil), s.backends...)
}

func (s *MultiStore) Store(token string) {
	if token == "" {
		return
	}
	for _, b := range s.backends {
		if err := b.Set(token); err != nil {
			s.logger.Warn("failed to store token in %s: %v", b.Name(), err)
		}
	}
}

// Retrieve returns the first token found. Backends ahead of the one that
// had it are written again so the replicas heal.
func (s *MultiStore) Retrieve() string {
	for i, b := range s.backends {
		token, err := b.Get()
		if err != nil {
			s.logger.Warn("failed to read token from %s: %v", b.Name(), err)
			continue
		}
		if token == "" {
			continue
		}

		for _, higher := range s.backends[:i] {
			if err := higher.Set(token); err != nil {
				s.logger.Warn("failed to backfill token in %s: %v", higher.Name(), err)
			}
		}
		return token
	}
	return ""
}

func (s *MultiStore) Clear() {
	for _, b := range s.backends {
		if err := b.Delete(); err != nil {
			s.logger.Warn("failed to clear token from %s: %v", b.Name(), err)
		}
	}
}

func (s *MultiStore) Discard(token string) {
	if token == "" {
		return
	}
	for _, b := range s.backends {
		held, err := b.Get()
		if err != nil || held != token {
			continue
		}
		if err := b.Delete(); err != nil {
			s.logger.Warn("failed to discard token from %s: %v", b.Name(), err)
		}
	}
}
