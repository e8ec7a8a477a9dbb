package auth

import (
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the principal model, admins and students share the table
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	Username      string     `bun:"username,notnull,unique" json:"username"`
	PasswordHash  string     `bun:"password_hash,notnull" json:"-"`
	FullName      string     `bun:"full_name,notnull" json:"full_name"`
	Role          UserRole   `bun:"role,notnull" json:"role"`
	Kelas         *string    `bun:"kelas" json:"kelas"`
	NIS           *string    `bun:"nis,unique" json:"nis"`
	CreatedAt     *time.Time `bun:"created_at,nullzero" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}

// Validate checks the role dependent profile fields. Students carry a
// class and a student id number, admins carry neither.
func (u *User) Validate() error {
	return validation.ValidateStruct(u,
		validation.Field(&u.Username, validation.Required, validation.Length(3, 50)),
		validation.Field(&u.FullName, validation.Required, validation.Length(1, 200)),
		validation.Field(&u.Role, validation.Required, validation.In(RoleAdmin, RoleUser)),
		validation.Field(&u.Kelas, validation.By(studentField(u.Role))),
		validation.Field(&u.NIS, validation.By(studentField(u.Role))),
	)
}

func studentField(role UserRole) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(*string)
		present := s != nil && strings.TrimSpace(*s) != ""
		switch {
		case role == RoleUser && !present:
			return errors.New("is required for students")
		case role == RoleAdmin && s != nil:
			return errors.New("must be empty for admins")
		}
		return nil
	}
}

// IsAdmin reports whether the user holds the admin role
func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// GetRole returns the stored role
func (u *User) GetRole() string {
	if u == nil {
		return ""
	}
	return string(u.Role)
}

// KelasValue returns the class label or an empty string
func (u *User) KelasValue() string {
	if u == nil || u.Kelas == nil {
		return ""
	}
	return *u.Kelas
}

// NISValue returns the student id number or an empty string
func (u *User) NISValue() string {
	if u == nil || u.NIS == nil {
		return ""
	}
	return *u.NIS
}

// Identity exposes the user through the Identity interface
func (u *User) Identity() Identity {
	return userIdentity{user: u}
}

// SessionRecord is a server side record correlated with a token through
// the sid claim, it exists so a remembered login can be revoked.
type SessionRecord struct {
	bun.BaseModel `bun:"table:sessions,alias:ses"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	CreatedAt     *time.Time `bun:"created_at,nullzero" json:"created_at,omitempty"`
}

// Expired reports whether the session is past its expiration at t
func (s *SessionRecord) Expired(t time.Time) bool {
	return s == nil || !t.Before(s.ExpiresAt)
}

// StringPtr returns nil for empty strings
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
