package auth

import (
	"context"

	"github.com/gofiber/fiber/v2"
)

var userCtxKey = &contextKey{"user"}
var claimsCtxKey = &contextKey{"claims"}

type contextKey struct {
	name string
}

// LocalsPrincipalKey is where the guard stores the fresh principal
const LocalsPrincipalKey = "principal"

// WithContext sets the User in the given context
func WithContext(r context.Context, user *User) context.Context {
	return context.WithValue(r, userCtxKey, user)
}

// FromContext finds the user from the context.
func FromContext(ctx context.Context) (*User, bool) {
	raw, ok := ctx.Value(userCtxKey).(*User)
	return raw, ok && raw != nil
}

// WithClaimsContext sets the AuthClaims in the given context
func WithClaimsContext(r context.Context, claims AuthClaims) context.Context {
	return context.WithValue(r, claimsCtxKey, claims)
}

// GetClaims extracts the AuthClaims from the standard context
func GetClaims(ctx context.Context) (AuthClaims, bool) {
	raw, ok := ctx.Value(claimsCtxKey).(AuthClaims)
	return raw, ok
}

// CurrentUser returns the principal resolved by the bearer guard
func CurrentUser(c *fiber.Ctx) (*User, bool) {
	if user, ok := FromContext(c.UserContext()); ok {
		return user, true
	}
	user, ok := c.Locals(LocalsPrincipalKey).(*User)
	return user, ok && user != nil
}

// CurrentClaims returns the validated claims of the request
func CurrentClaims(c *fiber.Ctx) (AuthClaims, bool) {
	return GetClaims(c.UserContext())
}
