package jwtware

import (
	"github.com/golang-jwt/jwt/v5"
)

// MapClaims exposes jwt.MapClaims through AuthClaims, it is what the
// guard produces when no TokenValidator is configured.
type MapClaims jwt.MapClaims

var _ AuthClaims = MapClaims{}

func (m MapClaims) str(key string) string {
	v, _ := m[key].(string)
	return v
}

func (m MapClaims) Subject() string {
	return m.str("sub")
}

func (m MapClaims) UserID() string {
	if id := m.str("id"); id != "" {
		return id
	}
	return m.Subject()
}

func (m MapClaims) Role() string {
	return m.str("role")
}

func (m MapClaims) SessionID() string {
	return m.str("sessionId")
}

func (m MapClaims) HasRole(role string) bool {
	return m.Role() == role
}

func keyFuncValidator(kf jwt.Keyfunc) TokenValidator {
	return TokenValidatorFunc(func(tokenString string) (AuthClaims, error) {
		claims := jwt.MapClaims{}
		if _, err := jwt.ParseWithClaims(tokenString, claims, kf); err != nil {
			return nil, err
		}
		return MapClaims(claims), nil
	})
}
