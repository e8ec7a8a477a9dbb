package ledger

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Expenses is the expense store
type Expenses interface {
	repository.Repository[*Expense]

	Record(ctx context.Context, record *Expense) (*Expense, error)
	ListRecent(ctx context.Context) ([]*Expense, error)
	Sum(ctx context.Context) (int64, error)
}

type expenses struct {
	repository.Repository[*Expense]
	db  *bun.DB
	now func() time.Time
}

var _ Expenses = (*expenses)(nil)

func NewExpensesRepository(db *bun.DB) Expenses {
	repo := repository.NewRepository[*Expense](db, repository.ModelHandlers[*Expense]{
		NewRecord: func() *Expense { return &Expense{} },
		GetID: func(e *Expense) uuid.UUID {
			if e == nil {
				return uuid.Nil
			}
			return e.ID
		},
		SetID: func(e *Expense, id uuid.UUID) {
			if e != nil {
				e.ID = id
			}
		},
		GetIdentifier: func() string {
			return "id"
		},
	})

	return &expenses{
		Repository: repo,
		db:         db,
		now:        time.Now,
	}
}

func (r *expenses) Record(ctx context.Context, record *Expense) (*Expense, error) {
	now := r.now().UTC()
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if record.Category == "" {
		record.Category = DefaultExpenseCategory
	}
	if record.Date.IsZero() {
		record.Date = now
	}
	if record.CreatedAt == nil {
		record.CreatedAt = &now
	}

	if _, err := r.db.NewInsert().Model(record).Exec(ctx); err != nil {
		return nil, err
	}
	return record, nil
}

func (r *expenses) ListRecent(ctx context.Context) ([]*Expense, error) {
	records := []*Expense{}
	if err := r.db.NewSelect().Model(&records).Order("exp.created_at DESC").Scan(ctx); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *expenses) Sum(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.NewSelect().
		Model((*Expense)(nil)).
		ColumnExpr("COALESCE(SUM(?TableAlias.amount), 0)").
		Scan(ctx, &total)
	return total, err
}
