package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/uptrace/bun"
)

// ProvisionUserMessage creates a student or an admin account
type ProvisionUserMessage struct {
	Actor    ActorRef `json:"-"`
	Username string   `json:"username"`
	Password string   `json:"password"`
	FullName string   `json:"fullName"`
	Role     UserRole `json:"role"`
	Kelas    string   `json:"kelas"`
	NIS      string   `json:"nis"`
	// UseHashid derives the id from the username, seed accounts keep
	// the same id across environments.
	UseHashid bool `json:"-"`
}

func (e ProvisionUserMessage) Type() string { return "user.provision" }

// Validate checks required fields, kelas and nis are required for students
func (e ProvisionUserMessage) Validate() error {
	role := e.Role
	if role == "" {
		role = RoleUser
	}
	return validation.ValidateStruct(&e,
		validation.Field(&e.Username, validation.Required, validation.Length(3, 50)),
		validation.Field(&e.Password, validation.Required, validation.Length(6, 100)),
		validation.Field(&e.FullName, validation.Required, validation.Length(1, 200)),
		validation.Field(&e.Role, validation.In(RoleAdmin, RoleUser)),
		validation.Field(&e.Kelas, validation.By(requiredForStudent(role))),
		validation.Field(&e.NIS, validation.By(requiredForStudent(role))),
	)
}

func requiredForStudent(role UserRole) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if role == RoleUser && strings.TrimSpace(s) == "" {
			return errors.New("is required for students")
		}
		return nil
	}
}

type ProvisionUserHandler struct {
	repo         RepositoryManager
	logger       Logger
	activitySink ActivitySink
}

func NewProvisionUserHandler(repo RepositoryManager) *ProvisionUserHandler {
	return &ProvisionUserHandler{
		repo:         repo,
		logger:       defLogger{},
		activitySink: noopActivitySink{},
	}
}

func (h *ProvisionUserHandler) WithLogger(logger Logger) *ProvisionUserHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *ProvisionUserHandler) WithActivitySink(sink ActivitySink) *ProvisionUserHandler {
	h.activitySink = NormalizeActivitySink(sink)
	return h
}

// Execute creates the account and returns it
func (h *ProvisionUserHandler) Execute(ctx context.Context, event ProvisionUserMessage) (*User, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user provisioning",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ProvisionUserHandler) execute(ctx context.Context, event ProvisionUserMessage) (*User, error) {
	if err := event.Validate(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	user := &User{
		Username: strings.TrimSpace(event.Username),
		FullName: strings.TrimSpace(event.FullName),
		Role:     event.Role,
	}
	if user.Role == "" {
		user.Role = RoleUser
	}
	if user.Role == RoleUser {
		user.Kelas = StringPtr(strings.TrimSpace(event.Kelas))
		user.NIS = StringPtr(strings.TrimSpace(event.NIS))
	}

	if event.UseHashid {
		if id, err := hashid.NewUUID(user.Username); err == nil {
			user.ID = id
		}
	}

	if err := user.Validate(); err != nil {
		return nil, err
	}

	hash, err := HashPassword(event.Password)
	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, goerrors.Wrap(richErr, goerrors.CategoryValidation, "invalid password provided")
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
	}
	user.PasswordHash = hash

	err = h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := h.repo.Users().GetByUsernameTx(ctx, tx, user.Username); err == nil {
			return ErrUsernameTaken
		} else if !repository.IsRecordNotFound(err) {
			return err
		}

		if user.NIS != nil {
			if _, err := h.repo.Users().GetByNISTx(ctx, tx, *user.NIS); err == nil {
				return ErrNISTaken
			} else if !repository.IsRecordNotFound(err) {
				return err
			}
		}

		_, err := h.repo.Users().RegisterTx(ctx, tx, user)
		return err
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}

		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "user provisioning transaction failed")
	}

	RecordActivity(ctx, h.activitySink, h.logger, nil, ActivityEvent{
		EventType: ActivityEventUserProvisioned,
		Actor:     event.Actor,
		UserID:    user.ID.String(),
		Metadata: map[string]any{
			"username": user.Username,
			"role":     string(user.Role),
		},
	})

	return user, nil
}
