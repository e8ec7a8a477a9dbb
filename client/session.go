package client

import (
	"context"
	"sync"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-kas/auth"
)

// AuthState is where the auth context is in its lifecycle
type AuthState string

const (
	StateUnknown       AuthState = "unknown"
	StateLoading       AuthState = "loading"
	StateAuthenticated AuthState = "authenticated"
	StateAnonymous     AuthState = "anonymous"
)

// Surface is the login form a credential was submitted through
type Surface string

const (
	SurfaceStudent Surface = "student"
	SurfaceAdmin   Surface = "admin"
)

// LoginPath is where SignOut sends the user
const LoginPath = "/login"

// DefaultLoadingTimeout bounds how long a refresh may stay in Loading
const DefaultLoadingTimeout = 5 * time.Second

// ErrWrongSurface is returned when the principal does not belong to the
// login surface that was used.
var ErrWrongSurface = goerrors.New("Unauthorized: wrong login surface", goerrors.CategoryAuthz).
	WithTextCode("WRONG_SURFACE")

// Snapshot is the state delivered to subscribers. Hint is read from the
// stored token without verifying it and is only set while loading, it
// may be shown to the user but never grants anything.
type Snapshot struct {
	State     AuthState
	Principal *auth.UserResponse
	Hint      *TokenHint
}

// TokenHint is what an unverified token claims about its holder
type TokenHint struct {
	Username  string
	Role      string
	ExpiresAt time.Time
}

func hintFromToken(token string) *TokenHint {
	claims, err := auth.DecodeUnverified(token)
	if err != nil {
		return nil
	}
	return &TokenHint{
		Username:  claims.Username(),
		Role:      claims.Role(),
		ExpiresAt: claims.Expires(),
	}
}

func (s Snapshot) IsAuthenticated() bool {
	return s.State == StateAuthenticated && s.Principal != nil
}

func (s Snapshot) IsAdmin() bool {
	return s.IsAuthenticated() && s.Principal.Role == string(auth.RoleAdmin)
}

// Navigator moves the user to another screen
type Navigator interface {
	Navigate(path string)
}

type NavigatorFunc func(path string)

func (f NavigatorFunc) Navigate(path string) { f(path) }

// API is the subset of the server API the auth context talks to
type API interface {
	Login(ctx context.Context, username, password string, rememberMe bool) (*LoginResponse, error)
	AdminLogin(ctx context.Context, username, password string) (*LoginResponse, error)
	Me(ctx context.Context) (*auth.UserResponse, error)
	Logout(ctx context.Context) error
}

var _ API = (*Client)(nil)

// AuthContext tracks who is signed in on this client
type AuthContext struct {
	mu          sync.Mutex
	snapshot    Snapshot
	api         API
	tokens      TokenStore
	navigator   Navigator
	timeout     time.Duration
	logger      auth.Logger
	subscribers []func(Snapshot)
}

type AuthContextOption func(*AuthContext)

func WithLoadingTimeout(d time.Duration) AuthContextOption {
	return func(a *AuthContext) {
		if d > 0 {
			a.timeout = d
		}
	}
}

func WithNavigator(n Navigator) AuthContextOption {
	return func(a *AuthContext) {
		if n != nil {
			a.navigator = n
		}
	}
}

func WithAuthLogger(logger auth.Logger) AuthContextOption {
	return func(a *AuthContext) {
		if logger != nil {
			a.logger = logger
		}
	}
}

func NewAuthContext(api API, tokens TokenStore, opts ...AuthContextOption) *AuthContext {
	a := &AuthContext{
		snapshot:  Snapshot{State: StateUnknown},
		api:       api,
		tokens:    tokens,
		navigator: NavigatorFunc(func(string) {}),
		timeout:   DefaultLoadingTimeout,
		logger:    auth.DefaultLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	return a
}

// Subscribe registers fn for state changes and returns a function that
// removes it.
func (a *AuthContext) Subscribe(fn func(Snapshot)) func() {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.subscribers = append(a.subscribers, fn)
	idx := len(a.subscribers) - 1
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if idx < len(a.subscribers) {
			a.subscribers[idx] = nil
		}
	}
}

func (a *AuthContext) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshot
}

func (a *AuthContext) set(s Snapshot) {
	a.mu.Lock()
	a.snapshot = s
	subs := append(([]func(Snapshot))(nil), a.subscribers...)
	a.mu.Unlock()

	for _, fn := range subs {
		if fn != nil {
			fn(s)
		}
	}
}

// Refresh asks the server who the stored token belongs to. Loading never
// outlives the configured timeout.
func (a *AuthContext) Refresh(ctx context.Context) Snapshot {
	token := a.tokens.Retrieve()
	if token == "" {
		a.set(Snapshot{State: StateAnonymous})
		return a.Snapshot()
	}

	a.set(Snapshot{State: StateLoading, Hint: hintFromToken(token)})

	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	type result struct {
		user *auth.UserResponse
		err  error
	}
	done := make(chan result, 1)
	go func() {
		user, err := a.api.Me(ctx)
		done <- result{user, err}
	}()

	select {
	case r := <-done:
		switch {
		case r.err == nil && r.user != nil:
			a.set(Snapshot{State: StateAuthenticated, Principal: r.user})
		case goerrors.IsAuth(r.err):
			a.logger.Info("stored token rejected, clearing it")
			a.tokens.Clear()
			a.set(Snapshot{State: StateAnonymous})
		default:
			a.logger.Warn("failed to refresh principal: %v", r.err)
			a.set(Snapshot{State: StateAnonymous})
		}
	case <-ctx.Done():
		a.logger.Warn("principal refresh timed out after %s", a.timeout)
		a.set(Snapshot{State: StateAnonymous})
	}

	return a.Snapshot()
}

// Login authenticates through the given surface. A principal whose role
// does not match the surface is refused, and a refused token that
// reached the store anyway is removed.
func (a *AuthContext) Login(ctx context.Context, username, password string, rememberMe bool, surface Surface) (*auth.UserResponse, error) {
	var (
		res *LoginResponse
		err error
	)
	if surface == SurfaceAdmin {
		res, err = a.api.AdminLogin(ctx, username, password)
	} else {
		res, err = a.api.Login(ctx, username, password, rememberMe)
	}
	if err != nil {
		return nil, err
	}

	isAdmin := res.User.Role == string(auth.RoleAdmin)
	if isAdmin != (surface == SurfaceAdmin) || res.Token == "" {
		a.logger.Warn("login for %s refused on the %s surface", username, surface)
		a.tokens.Discard(res.Token)
		return nil, ErrWrongSurface
	}

	a.tokens.Store(res.Token)
	user := res.User
	a.set(Snapshot{State: StateAuthenticated, Principal: &user})
	return &user, nil
}

// SignOut clears every replica of the token even when the server call
// fails, then navigates to the login screen.
func (a *AuthContext) SignOut(ctx context.Context) {
	if err := a.api.Logout(ctx); err != nil {
		a.logger.Warn("logout request failed: %v", err)
	}
	a.tokens.Clear()
	a.set(Snapshot{State: StateAnonymous})
	a.navigator.Navigate(LoginPath)
}
