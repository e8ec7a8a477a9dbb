package auth

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Users interface {
	repository.Repository[*User]

	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByUsernameTx(ctx context.Context, tx bun.IDB, username string) (*User, error)
	GetByNIS(ctx context.Context, nis string) (*User, error)
	GetByNISTx(ctx context.Context, tx bun.IDB, nis string) (*User, error)

	Register(ctx context.Context, user *User) (*User, error)
	RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error)

	UpdateUsername(ctx context.Context, id uuid.UUID, username string) (*User, error)
	UpdateUsernameTx(ctx context.Context, tx bun.IDB, id uuid.UUID, username string) (*User, error)
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, passwordHash string) error
	UpdatePasswordHashTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error

	ListByRole(ctx context.Context, role UserRole) ([]*User, error)
	ListByRoleTx(ctx context.Context, tx bun.IDB, role UserRole) ([]*User, error)
}

type users struct {
	repository.Repository[*User]
	db  *bun.DB
	now func() time.Time
}

var (
	_ Users                        = (*users)(nil)
	_ repository.Repository[*User] = (*users)(nil)
)

type UsersOption func(*users)

// WithUsersClock injects a custom clock (useful for tests)
func WithUsersClock(clock func() time.Time) UsersOption {
	return func(u *users) {
		if clock != nil {
			u.now = clock
		}
	}
}

func NewUsersRepository(db *bun.DB, opts ...UsersOption) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "username"
		},
	})

	repoUsers := &users{
		Repository: repo,
		db:         db,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repoUsers)
		}
	}

	return repoUsers
}

func (a *users) Register(ctx context.Context, user *User) (*User, error) {
	return a.RegisterTx(ctx, a.db, user)
}

func (a *users) RegisterTx(ctx context.Context, tx bun.IDB, user *User) (*User, error) {
	a.prepareUserDefaults(user)

	if _, err := tx.NewInsert().Model(user).Exec(ctx); err != nil {
		return nil, mapUserConstraintError(err)
	}

	return user, nil
}

func (a *users) GetByIdentifier(ctx context.Context, identifier string, criteria ...repository.SelectCriteria) (*User, error) {
	return a.GetByIdentifierTx(ctx, a.db, identifier, criteria...)
}

// GetByIdentifierTx resolves a uuid against the id column and
// anything else against the username column.
func (a *users) GetByIdentifierTx(ctx context.Context, tx bun.IDB, identifier string, criteria ...repository.SelectCriteria) (*User, error) {
	trimmed := strings.TrimSpace(identifier)
	if trimmed == "" {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"identifier": identifier,
			})
	}

	column := "username"
	if isUUID(trimmed) {
		column = "id"
	}

	return a.findOne(ctx, tx, column, trimmed, criteria...)
}

func (a *users) GetByUsername(ctx context.Context, username string) (*User, error) {
	return a.GetByUsernameTx(ctx, a.db, username)
}

func (a *users) GetByUsernameTx(ctx context.Context, tx bun.IDB, username string) (*User, error) {
	return a.findOne(ctx, tx, "username", strings.TrimSpace(username))
}

func (a *users) GetByNIS(ctx context.Context, nis string) (*User, error) {
	return a.GetByNISTx(ctx, a.db, nis)
}

func (a *users) GetByNISTx(ctx context.Context, tx bun.IDB, nis string) (*User, error) {
	return a.findOne(ctx, tx, "nis", strings.TrimSpace(nis))
}

func (a *users) findOne(ctx context.Context, tx bun.IDB, column, value string, criteria ...repository.SelectCriteria) (*User, error) {
	record := &User{}
	q := tx.NewSelect().Model(record)

	for _, c := range criteria {
		q.Apply(c)
	}

	err := q.
		Where("?TableAlias.? = ?", bun.Ident(column), value).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					column: value,
				})
		}
		return nil, err
	}

	return record, nil
}

func (a *users) UpdateUsername(ctx context.Context, id uuid.UUID, username string) (*User, error) {
	return a.UpdateUsernameTx(ctx, a.db, id, username)
}

func (a *users) UpdateUsernameTx(ctx context.Context, tx bun.IDB, id uuid.UUID, username string) (*User, error) {
	username = strings.TrimSpace(username)

	existing, err := a.GetByUsernameTx(ctx, tx, username)
	switch {
	case err == nil && existing.ID != id:
		return nil, ErrUsernameTaken
	case err != nil && !repository.IsRecordNotFound(err):
		return nil, err
	}

	res, err := tx.NewUpdate().
		Table("users").
		Set("username = ?", username).
		Set("updated_at = ?", a.now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return nil, mapUserConstraintError(err)
	}

	if err := expectRows(res, id); err != nil {
		return nil, err
	}

	return a.findOne(ctx, tx, "id", id.String())
}

func (a *users) UpdatePasswordHash(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return a.UpdatePasswordHashTx(ctx, a.db, id, passwordHash)
}

func (a *users) UpdatePasswordHashTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	res, err := tx.NewUpdate().
		Table("users").
		Set("password_hash = ?", passwordHash).
		Set("updated_at = ?", a.now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}

	return expectRows(res, id)
}

func (a *users) ListByRole(ctx context.Context, role UserRole) ([]*User, error) {
	return a.ListByRoleTx(ctx, a.db, role)
}

// ListByRoleTx lists users newest first, an empty role lists everyone
func (a *users) ListByRoleTx(ctx context.Context, tx bun.IDB, role UserRole) ([]*User, error) {
	records := []*User{}
	q := tx.NewSelect().Model(&records)
	if role != "" {
		q = q.Where("?TableAlias.role = ?", role)
	}

	if err := q.Order("usr.created_at DESC").Scan(ctx); err != nil {
		return nil, err
	}

	return records, nil
}

func (a *users) prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	if record.Role == "" {
		record.Role = RoleUser
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}

	now := a.now()
	if record.CreatedAt == nil {
		record.CreatedAt = &now
	}
	record.UpdatedAt = &now
}

func expectRows(res interface{ RowsAffected() (int64, error) }, id uuid.UUID) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}
	return nil
}

// mapUserConstraintError turns unique violations on username and nis
// into conflict errors, sqlite and postgres word them differently.
func mapUserConstraintError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	if !strings.Contains(msg, "unique") && !strings.Contains(msg, "duplicate") {
		return err
	}
	switch {
	case strings.Contains(msg, "nis"):
		return ErrNISTaken
	case strings.Contains(msg, "username"):
		return ErrUsernameTaken
	}
	return err
}

func isUUID(identifier string) bool {
	_, err := uuid.Parse(identifier)
	return err == nil
}
