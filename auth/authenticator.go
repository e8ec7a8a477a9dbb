package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

const (
	// DefaultTokenExpiration standard login, hours
	DefaultTokenExpiration = 3 * 24
	// DefaultExtendedTokenDuration standard login with remember me, hours
	DefaultExtendedTokenDuration = 30 * 24
	// DefaultAdminTokenExpiration admin login, hours
	DefaultAdminTokenExpiration = 24
)

// LoginResult is returned by a successful login
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
	SessionID string
	User      *User
}

// TTL returns the remaining token lifetime at t
func (r *LoginResult) TTL(t time.Time) time.Duration {
	if r == nil {
		return 0
	}
	return r.ExpiresAt.Sub(t)
}

type Auther struct {
	provider     IdentityProvider
	sessions     Sessions
	tokenService TokenService
	logger       Logger
	activitySink ActivitySink
	now          func() time.Time

	tokenTTL    time.Duration
	extendedTTL time.Duration
	adminTTL    time.Duration
}

var _ Authenticator = (*Auther)(nil)

// NewAuthenticator returns a new Authenticator
func NewAuthenticator(provider IdentityProvider, sessions Sessions, opts Config) *Auther {
	tokenService := NewTokenService(
		[]byte(opts.GetSigningKey()),
		opts.GetIssuer(),
		opts.GetAudience(),
		defLogger{},
		WithVerificationKeys(opts.GetSigningKeyID(), opts.GetVerificationKeys()),
	)

	return &Auther{
		provider:     provider,
		sessions:     sessions,
		tokenService: tokenService,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
		now:          time.Now,
		tokenTTL:     hoursOr(opts.GetTokenExpiration(), DefaultTokenExpiration),
		extendedTTL:  hoursOr(opts.GetExtendedTokenDuration(), DefaultExtendedTokenDuration),
		adminTTL:     hoursOr(opts.GetAdminTokenExpiration(), DefaultAdminTokenExpiration),
	}
}

func hoursOr(h, def int) time.Duration {
	if h <= 0 {
		h = def
	}
	return time.Duration(h) * time.Hour
}

func (s *Auther) WithLogger(logger Logger) *Auther {
	if logger == nil {
		return s
	}
	s.logger = logger
	if ts, ok := s.tokenService.(*TokenServiceImpl); ok {
		ts.logger = logger
	}
	return s
}

// WithActivitySink configures an ActivitySink for emitting auth events.
func (s *Auther) WithActivitySink(sink ActivitySink) *Auther {
	s.activitySink = NormalizeActivitySink(sink)
	return s
}

// WithClock injects a custom clock (useful for tests). Token issue and
// expiry checks share it with session expiry.
func (s *Auther) WithClock(clock func() time.Time) *Auther {
	if clock == nil {
		return s
	}
	s.now = clock
	if ts, ok := s.tokenService.(*TokenServiceImpl); ok {
		ts.now = clock
	}
	return s
}

// TokenService returns the TokenService instance used by this Authenticator
func (s *Auther) TokenService() TokenService {
	return s.tokenService
}

// Validator returns the validator used for incoming tokens
func (s *Auther) Validator() TokenValidator {
	return s.tokenService
}

// Login authenticates a student or admin through the standard surface.
// A session registry row is opened so the login can be revoked.
func (s *Auther) Login(ctx context.Context, username, password string, rememberMe bool) (*LoginResult, error) {
	user, err := s.provider.VerifyIdentity(ctx, username, password)
	if err != nil {
		s.logger.Error("Login verify identity error", "error", err)
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, ActorRef{Type: "unknown"}, "", map[string]any{
			"username": username,
			"error":    err.Error(),
		})
		return nil, err
	}

	ttl := s.tokenTTL
	if rememberMe {
		ttl = s.extendedTTL
	}
	expiresAt := s.now().Add(ttl)

	var sessionID string
	if s.sessions != nil {
		session, err := s.sessions.Open(ctx, user.ID, expiresAt)
		if err != nil {
			s.logger.Error("Login failed to open session", "error", err)
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to create session")
		}
		sessionID = session.ID.String()
	}

	return s.issue(ctx, user, ttl, sessionID, "standard")
}

// AdminLogin authenticates through the admin surface, the role is
// checked after the password.
func (s *Auther) AdminLogin(ctx context.Context, username, password string) (*LoginResult, error) {
	user, err := s.provider.VerifyIdentity(ctx, username, password)
	if err != nil {
		s.logger.Error("AdminLogin verify identity error", "error", err)
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, ActorRef{Type: "unknown"}, "", map[string]any{
			"username": username,
			"surface":  "admin",
			"error":    err.Error(),
		})
		return nil, err
	}

	if !user.IsAdmin() {
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, ActorFromUser(user), user.ID.String(), map[string]any{
			"username": username,
			"surface":  "admin",
			"error":    ErrNotAdmin.Message,
		})
		return nil, ErrNotAdmin
	}

	return s.issue(ctx, user, s.adminTTL, "", "admin")
}

func (s *Auther) issue(ctx context.Context, user *User, ttl time.Duration, sessionID, surface string) (*LoginResult, error) {
	token, expiresAt, err := s.tokenService.Issue(user.Identity(), ttl, sessionID)
	if err != nil {
		s.emitAuthEvent(ctx, ActivityEventLoginFailure, ActorFromUser(user), user.ID.String(), map[string]any{
			"surface": surface,
			"error":   err.Error(),
		})
		return nil, err
	}

	s.emitAuthEvent(ctx, ActivityEventLoginSuccess, ActorFromUser(user), user.ID.String(), map[string]any{
		"surface":    surface,
		"session_id": sessionID,
	})

	return &LoginResult{
		Token:     token,
		ExpiresAt: expiresAt,
		SessionID: sessionID,
		User:      user,
	}, nil
}

// Logout revokes the session registry row, an unknown or empty id is
// not an error.
func (s *Auther) Logout(ctx context.Context, sessionID string) error {
	if sessionID == "" || s.sessions == nil {
		return nil
	}

	id, err := uuid.Parse(sessionID)
	if err != nil {
		s.logger.Debug("Logout ignoring malformed session id", "session_id", sessionID)
		return nil
	}

	removed, err := s.sessions.Revoke(ctx, id)
	if err != nil {
		return errors.Wrap(err, errors.CategoryInternal, "failed to delete session")
	}

	if removed {
		s.emitAuthEvent(ctx, ActivityEventLogout, ActorRef{Type: "user"}, "", map[string]any{
			"session_id": sessionID,
		})
	}

	return nil
}

// SessionFromToken validates raw and returns its session view
func (s *Auther) SessionFromToken(raw string) (Session, error) {
	claims, err := s.Validator().Validate(raw)
	if err != nil {
		s.logger.Debug("SessionFromToken validation failed", "error", err)
		return nil, err
	}

	session, err := sessionFromAuthClaims(claims)
	if err != nil {
		s.logger.Error("SessionFromToken failed to create session from claims", "error", err)
		return nil, err
	}

	return session, nil
}

// ResolvePrincipal loads the current principal for validated claims
func (s *Auther) ResolvePrincipal(ctx context.Context, claims AuthClaims) (*User, error) {
	if claims == nil {
		return nil, ErrNotAuthenticated
	}
	return s.Principal(ctx, claims.UserID(), claims.SessionID())
}

// Principal loads the user behind a token. Tokens bound to a session
// registry row stop working once the row is revoked or expired.
func (s *Auther) Principal(ctx context.Context, userID, sessionID string) (*User, error) {
	if sessionID != "" && s.sessions != nil {
		id, err := uuid.Parse(sessionID)
		if err != nil {
			return nil, ErrNotAuthenticated
		}
		if _, err := s.sessions.Active(ctx, id, s.now()); err != nil {
			if repository.IsRecordNotFound(err) || errors.IsNotFound(err) {
				return nil, ErrNotAuthenticated
			}
			s.logger.Error("Principal session lookup failed", "error", err)
			return nil, errors.Wrap(err, errors.CategoryInternal, "failed to load session")
		}
	}

	user, err := s.provider.FindIdentityByIdentifier(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrIdentityNotFound) {
			return nil, ErrNotAuthenticated
		}
		s.logger.Error("Principal lookup failed", "error", err)
		return nil, err
	}

	return user, nil
}

func (s *Auther) emitAuthEvent(ctx context.Context, eventType ActivityEventType, actor ActorRef, userID string, metadata map[string]any) {
	RecordActivity(ctx, s.activitySink, s.logger, s.now, ActivityEvent{
		EventType: eventType,
		Actor:     actor,
		UserID:    userID,
		Metadata:  metadata,
	})
}
