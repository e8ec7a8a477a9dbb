package ledger

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TransactionFilter narrows admin listings, zero values match everything
type TransactionFilter struct {
	UserID uuid.UUID
	Status TransactionStatus
	Type   TransactionType
}

// Transactions is the transaction store
type Transactions interface {
	repository.Repository[*Transaction]

	Submit(ctx context.Context, record *Transaction) (*Transaction, error)
	SubmitTx(ctx context.Context, tx bun.IDB, record *Transaction) (*Transaction, error)
	FindTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Transaction, error)
	ListFiltered(ctx context.Context, filter TransactionFilter) ([]*Transaction, error)
	ListFilteredTx(ctx context.Context, tx bun.IDB, filter TransactionFilter) ([]*Transaction, error)
	// ResolveTx moves a pending row to target, it reports false when the
	// row was no longer pending.
	ResolveTx(ctx context.Context, tx bun.IDB, id uuid.UUID, target TransactionStatus, actor uuid.UUID, at time.Time) (bool, error)
	SumApproved(ctx context.Context, kind TransactionType) (int64, error)
}

type transactions struct {
	repository.Repository[*Transaction]
	db  *bun.DB
	now func() time.Time
}

var _ Transactions = (*transactions)(nil)

func NewTransactionsRepository(db *bun.DB) Transactions {
	repo := repository.NewRepository[*Transaction](db, repository.ModelHandlers[*Transaction]{
		NewRecord: func() *Transaction { return &Transaction{} },
		GetID: func(t *Transaction) uuid.UUID {
			if t == nil {
				return uuid.Nil
			}
			return t.ID
		},
		SetID: func(t *Transaction, id uuid.UUID) {
			if t != nil {
				t.ID = id
			}
		},
		GetIdentifier: func() string {
			return "id"
		},
	})

	return &transactions{
		Repository: repo,
		db:         db,
		now:        time.Now,
	}
}

func (r *transactions) Submit(ctx context.Context, record *Transaction) (*Transaction, error) {
	return r.SubmitTx(ctx, r.db, record)
}

func (r *transactions) SubmitTx(ctx context.Context, tx bun.IDB, record *Transaction) (*Transaction, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Status == "" {
		record.Status = StatusPending
	}
	if record.CreatedAt == nil {
		record.CreatedAt = timePtr(r.now().UTC())
	}
	return r.Repository.CreateTx(ctx, tx, record)
}

func (r *transactions) FindTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*Transaction, error) {
	record := &Transaction{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"id": id.String(),
				})
		}
		return nil, err
	}
	return record, nil
}

func (r *transactions) ListFiltered(ctx context.Context, filter TransactionFilter) ([]*Transaction, error) {
	return r.ListFilteredTx(ctx, r.db, filter)
}

// ListFilteredTx lists newest first with the owner joined in
func (r *transactions) ListFilteredTx(ctx context.Context, tx bun.IDB, filter TransactionFilter) ([]*Transaction, error) {
	records := []*Transaction{}
	q := tx.NewSelect().
		Model(&records).
		Relation("User")

	if filter.UserID != uuid.Nil {
		q = q.Where("?TableAlias.user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		q = q.Where("?TableAlias.status = ?", filter.Status)
	}
	if filter.Type != "" {
		q = q.Where("?TableAlias.type = ?", filter.Type)
	}

	if err := q.Order("trx.created_at DESC").Scan(ctx); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *transactions) ResolveTx(ctx context.Context, tx bun.IDB, id uuid.UUID, target TransactionStatus, actor uuid.UUID, at time.Time) (bool, error) {
	q := tx.NewUpdate().
		Table("transactions").
		Set("status = ?", target)

	switch target {
	case StatusApproved:
		q = q.Set("approved_by = ?", uuidPtr(actor)).Set("approved_at = ?", at)
	case StatusRejected:
		q = q.Set("rejected_by = ?", uuidPtr(actor)).Set("rejected_at = ?", at)
	}

	res, err := q.
		Where("id = ?", id).
		Where("status = ?", StatusPending).
		Exec(ctx)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (r *transactions) SumApproved(ctx context.Context, kind TransactionType) (int64, error) {
	var total int64
	err := r.db.NewSelect().
		Model((*Transaction)(nil)).
		ColumnExpr("COALESCE(SUM(?TableAlias.amount), 0)").
		Where("?TableAlias.type = ?", kind).
		Where("?TableAlias.status = ?", StatusApproved).
		Scan(ctx, &total)
	return total, err
}
