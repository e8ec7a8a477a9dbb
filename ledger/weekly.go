package ledger

import (
	"context"
	"fmt"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-kas/auth"
)

// WeeklyUnit is the weekly dues amount, payments are multiples of it
const WeeklyUnit int64 = 5000

// Week is a calendar week inside a month, the last one absorbs days 29 to
// the end of the month.
type Week struct {
	Number int
	Start  time.Time
	End    time.Time
}

// WeeksOfMonth splits a month into days 1-7, 8-14, 15-21, 22-28 and 29-end
func WeeksOfMonth(year int, month time.Month) []Week {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()

	weeks := make([]Week, 0, 5)
	for n, day := 1, 1; day <= last; n, day = n+1, day+7 {
		end := day + 6
		if end > last || n == 5 {
			end = last
		}
		weeks = append(weeks, Week{
			Number: n,
			Start:  time.Date(year, month, day, 0, 0, 0, 0, time.UTC),
			End:    time.Date(year, month, end, 0, 0, 0, 0, time.UTC),
		})
	}
	return weeks
}

// PaymentResult reports what a tendered amount paid for. Remainder is the
// part of the amount that did not cover a whole unpaid week, it is not
// stored anywhere.
type PaymentResult struct {
	StudentID     uuid.UUID    `json:"studentId"`
	WeeksPaid     int          `json:"weeksPaid"`
	AmountApplied int64        `json:"amountApplied"`
	Remainder     int64        `json:"remainder"`
	Transaction   *Transaction `json:"transaction,omitempty"`
}

// WeeklyLedger tracks the weekly dues of every student
type WeeklyLedger interface {
	GenerateEntries(ctx context.Context, year, month int) (int, error)
	ComputeUnpaidAmount(ctx context.Context, studentID uuid.UUID) (int64, error)
	ProcessPayment(ctx context.Context, actor auth.ActorRef, studentID uuid.UUID, amount int64) (*PaymentResult, error)
	List(ctx context.Context, filter WeeklyPaymentFilter) ([]*WeeklyPayment, error)
}

// WeeklyLedgerOption customizes the ledger
type WeeklyLedgerOption func(*weeklyLedger)

func WithWeeklyClock(clock func() time.Time) WeeklyLedgerOption {
	return func(l *weeklyLedger) {
		if clock != nil {
			l.now = clock
		}
	}
}

func WithWeeklyLogger(logger auth.Logger) WeeklyLedgerOption {
	return func(l *weeklyLedger) {
		if logger != nil {
			l.logger = logger
		}
	}
}

func WithWeeklyActivitySink(sink auth.ActivitySink) WeeklyLedgerOption {
	return func(l *weeklyLedger) {
		l.activitySink = auth.NormalizeActivitySink(sink)
	}
}

func NewWeeklyLedger(repo RepositoryManager, opts ...WeeklyLedgerOption) WeeklyLedger {
	l := &weeklyLedger{
		repo:         repo,
		now:          time.Now,
		logger:       auth.DefaultLogger(),
		activitySink: auth.NormalizeActivitySink(nil),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(l)
		}
	}
	return l
}

type weeklyLedger struct {
	repo         RepositoryManager
	now          func() time.Time
	logger       auth.Logger
	activitySink auth.ActivitySink
}

// GenerateEntries creates the missing entries of every student for the
// given month and returns how many were created.
func (l *weeklyLedger) GenerateEntries(ctx context.Context, year, month int) (int, error) {
	if year < 2000 || year > 2100 || month < 1 || month > 12 {
		return 0, ErrInvalidPeriod
	}

	weeks := WeeksOfMonth(year, time.Month(month))
	created := l.now().UTC()

	var inserted int
	err := l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		students, err := l.repo.Users().ListByRoleTx(ctx, tx, auth.RoleUser)
		if err != nil {
			return err
		}

		records := make([]*WeeklyPayment, 0, len(students)*len(weeks))
		for _, s := range students {
			for _, w := range weeks {
				records = append(records, &WeeklyPayment{
					ID:         uuid.New(),
					StudentID:  s.ID,
					Year:       year,
					Month:      month,
					WeekNumber: w.Number,
					Amount:     WeeklyUnit,
					Status:     PaymentUnpaid,
					StartDate:  w.Start,
					EndDate:    w.End,
					CreatedAt:  &created,
				})
			}
		}

		inserted, err = l.repo.WeeklyPayments().InsertMissingTx(ctx, tx, records)
		return err
	})
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to generate weekly payments")
	}

	l.logger.Info("generated %d weekly payment entries for %d/%d", inserted, month, year)
	return inserted, nil
}

// ComputeUnpaidAmount sums the unpaid weeks that already started
func (l *weeklyLedger) ComputeUnpaidAmount(ctx context.Context, studentID uuid.UUID) (int64, error) {
	n, err := l.repo.WeeklyPayments().CountUnpaidDue(ctx, studentID, l.now().UTC())
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to compute unpaid amount")
	}
	return int64(n) * WeeklyUnit, nil
}

// ProcessPayment marks the oldest unpaid weeks as paid, one per unit of
// the amount. When at least one week was paid an approved income
// transaction for the paid weeks is written in the same transaction.
func (l *weeklyLedger) ProcessPayment(ctx context.Context, actor auth.ActorRef, studentID uuid.UUID, amount int64) (*PaymentResult, error) {
	if amount <= 0 || amount%WeeklyUnit != 0 {
		return nil, ErrInvalidAmount
	}

	at := l.now().UTC()
	result := &PaymentResult{StudentID: studentID}

	err := l.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		student, err := l.repo.Users().GetByIdentifierTx(ctx, tx, studentID.String())
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return ErrStudentNotFound
			}
			return err
		}
		if student.Role != auth.RoleUser {
			return ErrStudentNotFound
		}

		weeks, err := l.repo.WeeklyPayments().OldestUnpaidTx(ctx, tx, studentID, int(amount/WeeklyUnit))
		if err != nil {
			return err
		}

		ids := make([]uuid.UUID, 0, len(weeks))
		for _, w := range weeks {
			ids = append(ids, w.ID)
		}

		paid, err := l.repo.WeeklyPayments().MarkPaidTx(ctx, tx, ids, at)
		if err != nil {
			return err
		}

		result.WeeksPaid = int(paid)
		result.AmountApplied = paid * WeeklyUnit
		result.Remainder = amount - result.AmountApplied

		if paid == 0 {
			return nil
		}

		record := &Transaction{
			UserID:      studentID,
			Amount:      result.AmountApplied,
			Description: fmt.Sprintf("Pembayaran kas mingguan untuk %d minggu", paid),
			Type:        TypeIncome,
			Status:      StatusApproved,
			CreatedAt:   &at,
			ApprovedAt:  &at,
		}
		if actor.Type == string(auth.RoleAdmin) {
			if id, err := uuid.Parse(actor.ID); err == nil {
				record.ApprovedBy = &id
			}
		}

		result.Transaction, err = l.repo.Transactions().SubmitTx(ctx, tx, record)
		return err
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to process payment")
	}

	if result.WeeksPaid > 0 {
		auth.RecordActivity(ctx, l.activitySink, l.logger, l.now, auth.ActivityEvent{
			EventType: auth.ActivityEventWeeklyPaymentRecorded,
			Actor:     actor,
			UserID:    studentID.String(),
			ObjectID:  result.Transaction.ID.String(),
			Metadata: map[string]any{
				"weeks_paid": result.WeeksPaid,
				"amount":     amount,
				"remainder":  result.Remainder,
			},
		})
	}

	return result, nil
}

func (l *weeklyLedger) List(ctx context.Context, filter WeeklyPaymentFilter) ([]*WeeklyPayment, error) {
	records, err := l.repo.WeeklyPayments().ListFiltered(ctx, filter)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to fetch weekly payments")
	}
	return records, nil
}
