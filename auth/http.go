package auth

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-kas/middleware/jwtware"
	"github.com/gorilla/securecookie"
)

// PrincipalResolver loads the principal behind validated claims
type PrincipalResolver interface {
	ResolvePrincipal(ctx context.Context, claims AuthClaims) (*User, error)
}

// RouteAuthenticator binds the Authenticator to fiber requests: it sets
// and clears the token and session cookies and builds the bearer guard.
type RouteAuthenticator struct {
	auth      Authenticator
	resolver  PrincipalResolver
	validator TokenValidator
	cfg       Config
	cookies   *securecookie.SecureCookie
	responder *ErrorResponder
	now       func() time.Time
	Logger    Logger
}

func NewHTTPAuthenticator(auther *Auther, cfg Config) (*RouteAuthenticator, error) {
	hashKey := []byte(cfg.GetCookieHashKey())
	if len(hashKey) == 0 {
		hashKey = []byte(cfg.GetSigningKey())
	}
	if len(hashKey) == 0 {
		return nil, goerrors.New("cookie hash key is required", goerrors.CategoryValidation)
	}

	a := &RouteAuthenticator{
		auth:      auther,
		resolver:  auther,
		validator: auther.Validator(),
		cfg:       cfg,
		cookies:   securecookie.New(hashKey, nil),
		responder: NewErrorResponder(defLogger{}),
		now:       time.Now,
		Logger:    defLogger{},
	}

	return a, nil
}

func (a *RouteAuthenticator) WithLogger(logger Logger) *RouteAuthenticator {
	if logger != nil {
		a.Logger = logger
		a.responder.Logger = logger
	}
	return a
}

// WithClock injects a custom clock (useful for tests)
func (a *RouteAuthenticator) WithClock(clock func() time.Time) *RouteAuthenticator {
	if clock != nil {
		a.now = clock
	}
	return a
}

// Responder returns the error responder shared by the controllers
func (a *RouteAuthenticator) Responder() *ErrorResponder {
	return a.responder
}

// ProtectedRoute returns the bearer guard, an empty role admits any
// authenticated principal.
func (a *RouteAuthenticator) ProtectedRoute(requiredRole UserRole) fiber.Handler {
	return jwtware.New(jwtware.Config{
		ErrorHandler: a.guardErrorHandler,
		TokenValidator: jwtware.TokenValidatorFunc(func(raw string) (jwtware.AuthClaims, error) {
			claims, err := a.validator.Validate(raw)
			if err != nil {
				return nil, err
			}
			return claims, nil
		}),
		PrincipalResolver: func(ctx context.Context, claims jwtware.AuthClaims) (jwtware.Principal, error) {
			ac, ok := claims.(AuthClaims)
			if !ok {
				return nil, ErrUnableToDecodeSession
			}
			user, err := a.resolver.ResolvePrincipal(ctx, ac)
			if err != nil {
				return nil, err
			}
			return user, nil
		},
		ContextKey:   a.cfg.GetContextKey(),
		PrincipalKey: LocalsPrincipalKey,
		TokenLookup:  a.cfg.GetTokenLookup(),
		AuthScheme:   a.cfg.GetAuthScheme(),
		RequiredRole: string(requiredRole),
		ContextEnricher: func(ctx context.Context, claims jwtware.AuthClaims, principal jwtware.Principal) context.Context {
			if ac, ok := claims.(AuthClaims); ok {
				ctx = WithClaimsContext(ctx, ac)
			}
			if user, ok := principal.(*User); ok {
				ctx = WithContext(ctx, user)
			}
			return ctx
		},
	})
}

func (a *RouteAuthenticator) guardErrorHandler(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, jwtware.ErrForbidden):
		return a.responder.Respond(c, ErrUnauthorized)
	case IsCategory(err, goerrors.CategoryInternal):
		return a.responder.Respond(c, err)
	default:
		a.Logger.Debug("Guard rejected request", "error", err, "path", c.OriginalURL())
		return a.responder.Respond(c, ErrNotAuthenticated)
	}
}

// Login authenticates the standard surface and sets the cookies
func (a *RouteAuthenticator) Login(c *fiber.Ctx, payload LoginPayload) (*LoginResult, error) {
	result, err := a.auth.Login(c.UserContext(), payload.GetUsername(), payload.GetPassword(), payload.GetRememberMe())
	if err != nil {
		return nil, err
	}

	a.setCookies(c, result)
	return result, nil
}

// AdminLogin authenticates the admin surface and sets the token cookie
func (a *RouteAuthenticator) AdminLogin(c *fiber.Ctx, payload LoginPayload) (*LoginResult, error) {
	result, err := a.auth.AdminLogin(c.UserContext(), payload.GetUsername(), payload.GetPassword())
	if err != nil {
		return nil, err
	}

	a.setCookies(c, result)
	return result, nil
}

// Logout revokes the session named by the token, falling back to the
// signed session cookie, and clears both cookies.
func (a *RouteAuthenticator) Logout(c *fiber.Ctx) error {
	sessionID := a.sessionIDFromRequest(c)

	a.cookieDel(c, a.cfg.GetTokenCookieName())
	a.cookieDel(c, a.cfg.GetSessionCookieName())

	return a.auth.Logout(c.UserContext(), sessionID)
}

func (a *RouteAuthenticator) sessionIDFromRequest(c *fiber.Ctx) string {
	if claims, ok := CurrentClaims(c); ok && claims.SessionID() != "" {
		return claims.SessionID()
	}

	raw := extractToken(c, a.cfg)
	if raw != "" {
		if session, err := a.auth.SessionFromToken(raw); err == nil && session.GetSessionID() != "" {
			return session.GetSessionID()
		}
	}

	if encoded := c.Cookies(a.cfg.GetSessionCookieName()); encoded != "" {
		var sessionID string
		if err := a.cookies.Decode(a.cfg.GetSessionCookieName(), encoded, &sessionID); err == nil {
			return sessionID
		}
		a.Logger.Debug("Logout ignoring tampered session cookie")
	}

	return ""
}

func extractToken(c *fiber.Ctx, cfg Config) string {
	raw, _ := jwtware.ExtractRawToken(c, jwtware.GetExtractors(cfg.GetTokenLookup(), cfg.GetAuthScheme()))
	return raw
}

func (a *RouteAuthenticator) setCookies(c *fiber.Ctx, result *LoginResult) {
	expires := result.ExpiresAt

	// readable by client scripts, the browser token store mirrors it
	c.Cookie(&fiber.Cookie{
		Name:     a.cfg.GetTokenCookieName(),
		Value:    result.Token,
		Path:     "/",
		Expires:  expires,
		MaxAge:   int(result.TTL(a.now()).Seconds()),
		HTTPOnly: false,
		Secure:   a.cfg.GetCookieSecure(),
		SameSite: fiber.CookieSameSiteLaxMode,
	})

	if result.SessionID == "" {
		return
	}

	encoded, err := a.cookies.Encode(a.cfg.GetSessionCookieName(), result.SessionID)
	if err != nil {
		a.Logger.Error("Failed to encode session cookie", "error", err)
		return
	}

	c.Cookie(&fiber.Cookie{
		Name:     a.cfg.GetSessionCookieName(),
		Value:    encoded,
		Path:     "/",
		Expires:  expires,
		HTTPOnly: true,
		Secure:   a.cfg.GetCookieSecure(),
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (a *RouteAuthenticator) cookieDel(c *fiber.Ctx, name string) {
	c.Cookie(&fiber.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  a.now().Add(-time.Hour * (24 * 365)),
		MaxAge:   -1,
		Secure:   a.cfg.GetCookieSecure(),
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}
