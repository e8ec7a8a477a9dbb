package auth

import (
	"context"
	"errors"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ErrCurrentPasswordMismatch the current password did not verify
var ErrCurrentPasswordMismatch = goerrors.New("Current password is incorrect", goerrors.CategoryBadInput).
	WithCode(goerrors.CodeBadRequest).
	WithTextCode(TextCodeInvalidCredentials)

// ChangeUsernameMessage renames the caller's account
type ChangeUsernameMessage struct {
	UserID   uuid.UUID `json:"-"`
	Username string    `json:"username"`
}

func (e ChangeUsernameMessage) Type() string { return "user.username.change" }

func (e ChangeUsernameMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Username, validation.Required, validation.Length(3, 50)),
	)
}

type ChangeUsernameHandler struct {
	repo         RepositoryManager
	logger       Logger
	activitySink ActivitySink
}

func NewChangeUsernameHandler(repo RepositoryManager) *ChangeUsernameHandler {
	return &ChangeUsernameHandler{
		repo:         repo,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
	}
}

func (h *ChangeUsernameHandler) WithLogger(logger Logger) *ChangeUsernameHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *ChangeUsernameHandler) WithActivitySink(sink ActivitySink) *ChangeUsernameHandler {
	h.activitySink = NormalizeActivitySink(sink)
	return h
}

func (h *ChangeUsernameHandler) Execute(ctx context.Context, event ChangeUsernameMessage) (*User, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during username change")
	default:
	}

	if err := event.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	var (
		updated  *User
		previous string
	)
	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := h.repo.Users().GetByIdentifierTx(ctx, tx, event.UserID.String())
		if err != nil {
			return err
		}
		previous = current.Username

		updated, err = h.repo.Users().UpdateUsernameTx(ctx, tx, event.UserID, event.Username)
		return err
	})
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrIdentityNotFound
		}
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update username")
	}

	RecordActivity(ctx, h.activitySink, h.logger, nil, ActivityEvent{
		EventType: ActivityEventUsernameChanged,
		Actor:     ActorFromUser(updated),
		UserID:    updated.ID.String(),
		Metadata: map[string]any{
			"from": previous,
			"to":   updated.Username,
		},
	})

	return updated, nil
}

// ChangePasswordMessage replaces the caller's password after checking
// the current one.
type ChangePasswordMessage struct {
	UserID          uuid.UUID `json:"-"`
	CurrentPassword string    `json:"currentPassword"`
	NewPassword     string    `json:"newPassword"`
	ConfirmPassword string    `json:"confirmPassword"`
}

func (e ChangePasswordMessage) Type() string { return "user.password.change" }

func (e ChangePasswordMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.CurrentPassword, validation.Required),
		validation.Field(&e.NewPassword, validation.Required, validation.Length(6, 100)),
		validation.Field(&e.ConfirmPassword, validation.Required, validation.By(func(value interface{}) error {
			if value.(string) != e.NewPassword {
				return errors.New("does not match the new password")
			}
			return nil
		})),
	)
}

type ChangePasswordHandler struct {
	repo         RepositoryManager
	logger       Logger
	activitySink ActivitySink
}

func NewChangePasswordHandler(repo RepositoryManager) *ChangePasswordHandler {
	return &ChangePasswordHandler{
		repo:         repo,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
	}
}

func (h *ChangePasswordHandler) WithLogger(logger Logger) *ChangePasswordHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *ChangePasswordHandler) WithActivitySink(sink ActivitySink) *ChangePasswordHandler {
	h.activitySink = NormalizeActivitySink(sink)
	return h
}

func (h *ChangePasswordHandler) Execute(ctx context.Context, event ChangePasswordMessage) error {
	select {
	case <-ctx.Done():
		return goerrors.Wrap(ctx.Err(), goerrors.CategoryOperation, "context cancelled during password change")
	default:
	}

	if err := event.Validate(); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	hash, err := HashPassword(event.NewPassword)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid password provided")
	}

	var user *User
	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		current, err := h.repo.Users().GetByIdentifierTx(ctx, tx, event.UserID.String())
		if err != nil {
			return err
		}
		user = current

		if !VerifyPassword(event.CurrentPassword, user.PasswordHash, h.logger) {
			return ErrCurrentPasswordMismatch
		}

		return h.repo.Users().UpdatePasswordHashTx(ctx, tx, event.UserID, hash)
	})
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return ErrIdentityNotFound
		}
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return richErr
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update password")
	}

	RecordActivity(ctx, h.activitySink, h.logger, nil, ActivityEvent{
		EventType: ActivityEventPasswordChanged,
		Actor:     ActorFromUser(user),
		UserID:    user.ID.String(),
	})

	return nil
}
