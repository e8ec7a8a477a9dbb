package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Sessions is the session registry
type Sessions interface {
	repository.Repository[*SessionRecord]

	Open(ctx context.Context, userID uuid.UUID, expiresAt time.Time) (*SessionRecord, error)
	OpenTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, expiresAt time.Time) (*SessionRecord, error)
	Active(ctx context.Context, id uuid.UUID, at time.Time) (*SessionRecord, error)
	Revoke(ctx context.Context, id uuid.UUID) (bool, error)
	RevokeTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (bool, error)
	PurgeExpired(ctx context.Context, at time.Time) (int64, error)
}

type sessions struct {
	repository.Repository[*SessionRecord]
	db *bun.DB
}

var _ Sessions = (*sessions)(nil)

func NewSessionsRepository(db *bun.DB) Sessions {
	repo := repository.NewRepository[*SessionRecord](db, repository.ModelHandlers[*SessionRecord]{
		NewRecord: func() *SessionRecord { return &SessionRecord{} },
		GetID: func(s *SessionRecord) uuid.UUID {
			if s == nil {
				return uuid.Nil
			}
			return s.ID
		},
		SetID: func(s *SessionRecord, id uuid.UUID) {
			if s != nil {
				s.ID = id
			}
		},
		GetIdentifier: func() string {
			return "id"
		},
	})

	return &sessions{
		Repository: repo,
		db:         db,
	}
}

func (s *sessions) Open(ctx context.Context, userID uuid.UUID, expiresAt time.Time) (*SessionRecord, error) {
	return s.OpenTx(ctx, s.db, userID, expiresAt)
}

func (s *sessions) OpenTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, expiresAt time.Time) (*SessionRecord, error) {
	now := time.Now().UTC()
	record := &SessionRecord{
		ID:        uuid.New(),
		UserID:    userID,
		ExpiresAt: expiresAt.UTC(),
		CreatedAt: &now,
	}

	if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
		return nil, err
	}

	return record, nil
}

// Active returns the session when it exists and has not expired at t
func (s *sessions) Active(ctx context.Context, id uuid.UUID, at time.Time) (*SessionRecord, error) {
	record := &SessionRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"session_id": id.String()})
		}
		return nil, err
	}

	if record.Expired(at) {
		return nil, repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"session_id": id.String(),
				"expired":    true,
			})
	}

	return record, nil
}

func (s *sessions) Revoke(ctx context.Context, id uuid.UUID) (bool, error) {
	return s.RevokeTx(ctx, s.db, id)
}

// RevokeTx deletes the session row, reporting whether one existed
func (s *sessions) RevokeTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (bool, error) {
	res, err := tx.NewDelete().
		Model((*SessionRecord)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *sessions) PurgeExpired(ctx context.Context, at time.Time) (int64, error) {
	res, err := s.db.NewDelete().
		Model((*SessionRecord)(nil)).
		Where("expires_at <= ?", at.UTC()).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
