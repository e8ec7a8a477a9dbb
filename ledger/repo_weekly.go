package ledger

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// WeeklyPaymentFilter narrows listings, zero values match everything
type WeeklyPaymentFilter struct {
	StudentID uuid.UUID
	Year      int
	Month     int
	Status    PaymentStatus
}

// WeeklyPayments is the weekly dues store
type WeeklyPayments interface {
	repository.Repository[*WeeklyPayment]

	// InsertMissingTx inserts the rows that do not exist yet and returns
	// how many were written.
	InsertMissingTx(ctx context.Context, tx bun.IDB, records []*WeeklyPayment) (int, error)
	OldestUnpaidTx(ctx context.Context, tx bun.IDB, studentID uuid.UUID, limit int) ([]*WeeklyPayment, error)
	MarkPaidTx(ctx context.Context, tx bun.IDB, ids []uuid.UUID, at time.Time) (int64, error)
	CountUnpaidDue(ctx context.Context, studentID uuid.UUID, at time.Time) (int, error)
	ListFiltered(ctx context.Context, filter WeeklyPaymentFilter) ([]*WeeklyPayment, error)
}

type weeklyPayments struct {
	repository.Repository[*WeeklyPayment]
	db *bun.DB
}

var _ WeeklyPayments = (*weeklyPayments)(nil)

func NewWeeklyPaymentsRepository(db *bun.DB) WeeklyPayments {
	repo := repository.NewRepository[*WeeklyPayment](db, repository.ModelHandlers[*WeeklyPayment]{
		NewRecord: func() *WeeklyPayment { return &WeeklyPayment{} },
		GetID: func(w *WeeklyPayment) uuid.UUID {
			if w == nil {
				return uuid.Nil
			}
			return w.ID
		},
		SetID: func(w *WeeklyPayment, id uuid.UUID) {
			if w != nil {
				w.ID = id
			}
		},
		GetIdentifier: func() string {
			return "id"
		},
	})

	return &weeklyPayments{
		Repository: repo,
		db:         db,
	}
}

func (r *weeklyPayments) InsertMissingTx(ctx context.Context, tx bun.IDB, records []*WeeklyPayment) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}

	res, err := tx.NewInsert().
		Model(&records).
		On("CONFLICT (student_id, year, month, week_number) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return 0, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// OldestUnpaidTx returns unpaid rows in calendar order, limit <= 0 means all
func (r *weeklyPayments) OldestUnpaidTx(ctx context.Context, tx bun.IDB, studentID uuid.UUID, limit int) ([]*WeeklyPayment, error) {
	records := []*WeeklyPayment{}
	q := tx.NewSelect().
		Model(&records).
		Where("?TableAlias.student_id = ?", studentID).
		Where("?TableAlias.status = ?", PaymentUnpaid).
		OrderExpr("wp.year ASC, wp.month ASC, wp.week_number ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return records, nil
}

func (r *weeklyPayments) MarkPaidTx(ctx context.Context, tx bun.IDB, ids []uuid.UUID, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	res, err := tx.NewUpdate().
		Table("weekly_payments").
		Set("status = ?", PaymentPaid).
		Set("paid_at = ?", at).
		Where("id IN (?)", bun.In(ids)).
		Where("status = ?", PaymentUnpaid).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *weeklyPayments) CountUnpaidDue(ctx context.Context, studentID uuid.UUID, at time.Time) (int, error) {
	return r.db.NewSelect().
		Model((*WeeklyPayment)(nil)).
		Where("?TableAlias.student_id = ?", studentID).
		Where("?TableAlias.status = ?", PaymentUnpaid).
		Where("?TableAlias.start_date <= ?", at).
		Count(ctx)
}

// ListFiltered orders newest month first, weeks ascending within a month
func (r *weeklyPayments) ListFiltered(ctx context.Context, filter WeeklyPaymentFilter) ([]*WeeklyPayment, error) {
	records := []*WeeklyPayment{}
	q := r.db.NewSelect().
		Model(&records).
		Relation("Student")

	if filter.StudentID != uuid.Nil {
		q = q.Where("?TableAlias.student_id = ?", filter.StudentID)
	}
	if filter.Year != 0 {
		q = q.Where("?TableAlias.year = ?", filter.Year)
	}
	if filter.Month != 0 {
		q = q.Where("?TableAlias.month = ?", filter.Month)
	}
	if filter.Status != "" {
		q = q.Where("?TableAlias.status = ?", filter.Status)
	}

	err := q.
		OrderExpr("wp.year DESC, wp.month DESC, wp.week_number ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return records, nil
}
