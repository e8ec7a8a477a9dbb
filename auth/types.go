package auth

import (
	"context"
	"fmt"
	"os"
	"strings"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Session holds attributes that are part of an auth session
type Session interface {
	GetUserID() string
	GetRole() string
	GetSessionID() string
}

// Authenticator holds methods to deal with authentication
type Authenticator interface {
	Login(ctx context.Context, username, password string, rememberMe bool) (*LoginResult, error)
	AdminLogin(ctx context.Context, username, password string) (*LoginResult, error)
	Logout(ctx context.Context, sessionID string) error
	SessionFromToken(token string) (Session, error)
}

// LoginPayload is what the HTTP layer hands to the authenticator
type LoginPayload interface {
	GetUsername() string
	GetPassword() string
	GetRememberMe() bool
}

// Identity holds the attributes of an identity
type Identity interface {
	ID() string
	Username() string
	FullName() string
	Role() string
}

// Config holds auth options
type Config interface {
	GetSigningKey() string
	GetSigningMethod() string
	GetSigningKeyID() string
	GetVerificationKeys() map[string]string
	GetContextKey() string
	GetTokenCookieName() string
	GetSessionCookieName() string
	GetCookieHashKey() string
	GetCookieSecure() bool
	GetTokenExpiration() int
	GetExtendedTokenDuration() int
	GetAdminTokenExpiration() int
	GetTokenLookup() string
	GetAuthScheme() string
	GetIssuer() string
	GetAudience() []string
	GetAllowRegistration() bool
}

// IdentityProvider ensure we have a store to retrieve auth identity
type IdentityProvider interface {
	VerifyIdentity(ctx context.Context, username, password string) (*User, error)
	FindIdentityByIdentifier(ctx context.Context, identifier string) (*User, error)
}

// PasswordAuthenticator authenticates passwords
type PasswordAuthenticator interface {
	HashPassword(password string) (string, error)
	ComparePasswordAndHash(password, hash string) error
}

type defLogger struct{}

func (d defLogger) Error(format string, args ...any) {
	fmt.Fprint(os.Stdout, formatLogLine("ERR", format, args...))
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Fprint(os.Stdout, formatLogLine("WRN", format, args...))
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Fprint(os.Stdout, formatLogLine("INF", format, args...))
}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Fprint(os.Stdout, formatLogLine("DBG", format, args...))
}

// formatLogLine accepts both printf calls and message plus key/value
// pairs, the latter being how this package logs.
func formatLogLine(level, format string, args ...any) string {
	var b strings.Builder
	b.WriteString("[" + level + "] KAS ")
	if strings.Contains(format, "%") {
		b.WriteString(fmt.Sprintf(format, args...))
	} else {
		b.WriteString(format)
		for i := 0; i < len(args); i += 2 {
			if i+1 == len(args) {
				fmt.Fprintf(&b, " !BADKEY=%v", args[i])
				break
			}
			fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
		}
	}
	return newline(b.String())
}

// DefaultLogger returns the logger used when none is configured
func DefaultLogger() Logger {
	return defLogger{}
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
