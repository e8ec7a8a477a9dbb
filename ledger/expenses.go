package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/goliatone/go-kas/auth"
)

const (
	SourceExpenses     = "expenses"
	SourceTransactions = "transactions"
)

// ExpenseMessage records money spent from the fund
type ExpenseMessage struct {
	Actor       auth.ActorRef `json:"-"`
	Amount      int64         `json:"amount"`
	Description string        `json:"description"`
	Category    string        `json:"category"`
	Date        *time.Time    `json:"date"`
}

func (e ExpenseMessage) Type() string { return "expense.record" }

func (e ExpenseMessage) Validate() error {
	return validation.ValidateStruct(&e,
		validation.Field(&e.Amount, validation.Required, validation.Min(int64(1))),
		validation.Field(&e.Description, validation.Required, validation.By(notBlank)),
		validation.Field(&e.Category, validation.Length(0, 50)),
	)
}

// ExpenseRecord is an expense regardless of the table it was stored in
type ExpenseRecord struct {
	ID          uuid.UUID  `json:"id"`
	Amount      int64      `json:"amount"`
	Description string     `json:"description"`
	Category    string     `json:"category"`
	Date        time.Time  `json:"date"`
	CreatedBy   *uuid.UUID `json:"created_by"`
	Source      string     `json:"source"`
}

// ExpenseBook stores expenses in the expenses table and falls back to
// approved expense transactions when that table is not available.
type ExpenseBook struct {
	repo   RepositoryManager
	logger auth.Logger
	now    func() time.Time
}

func NewExpenseBook(repo RepositoryManager) *ExpenseBook {
	return &ExpenseBook{
		repo:   repo,
		logger: auth.DefaultLogger(),
		now:    time.Now,
	}
}

func (b *ExpenseBook) WithLogger(logger auth.Logger) *ExpenseBook {
	if logger != nil {
		b.logger = logger
	}
	return b
}

func (b *ExpenseBook) WithClock(clock func() time.Time) *ExpenseBook {
	if clock != nil {
		b.now = clock
	}
	return b
}

func (b *ExpenseBook) Record(ctx context.Context, msg ExpenseMessage) (*ExpenseRecord, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	actorID, _ := uuid.Parse(msg.Actor.ID)
	at := b.now().UTC()
	date := at
	if msg.Date != nil && !msg.Date.IsZero() {
		date = msg.Date.UTC()
	}

	expense, err := b.repo.Expenses().Record(ctx, &Expense{
		Amount:      msg.Amount,
		Description: strings.TrimSpace(msg.Description),
		Category:    strings.TrimSpace(msg.Category),
		Date:        date,
		CreatedBy:   uuidPtr(actorID),
		CreatedAt:   &at,
	})
	if err == nil {
		return expenseRecord(expense), nil
	}

	if !IsMissingTable(err) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "Failed to add expense")
	}

	b.logger.Warn("expenses table unavailable, recording as transaction: %v", err)

	trx, err := b.repo.Transactions().Submit(ctx, &Transaction{
		UserID:      actorID,
		Amount:      msg.Amount,
		Description: strings.TrimSpace(msg.Description),
		Type:        TypeExpense,
		Status:      StatusApproved,
		CreatedAt:   &date,
		ApprovedBy:  uuidPtr(actorID),
		ApprovedAt:  &at,
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "Failed to add expense")
	}

	return transactionExpense(trx), nil
}

// List returns expenses newest first
func (b *ExpenseBook) List(ctx context.Context) ([]*ExpenseRecord, error) {
	expenses, err := b.repo.Expenses().ListRecent(ctx)
	if err == nil {
		out := make([]*ExpenseRecord, 0, len(expenses))
		for _, e := range expenses {
			out = append(out, expenseRecord(e))
		}
		return out, nil
	}

	if !IsMissingTable(err) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "Failed to get expenses")
	}

	b.logger.Warn("expenses table unavailable, listing expense transactions: %v", err)

	trxs, err := b.repo.Transactions().ListFiltered(ctx, TransactionFilter{
		Type:   TypeExpense,
		Status: StatusApproved,
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "Failed to get expenses")
	}

	out := make([]*ExpenseRecord, 0, len(trxs))
	for _, t := range trxs {
		out = append(out, transactionExpense(t))
	}
	return out, nil
}

// Total sums the expenses table, a missing table counts as zero
func (b *ExpenseBook) Total(ctx context.Context) (int64, error) {
	total, err := b.repo.Expenses().Sum(ctx)
	if err != nil {
		if IsMissingTable(err) {
			return 0, nil
		}
		return 0, err
	}
	return total, nil
}

// IsMissingTable reports whether err comes from querying a table that
// does not exist.
func IsMissingTable(err error) bool {
	if err == nil {
		return false
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01"
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "no such table") ||
		(strings.Contains(msg, "relation") && strings.Contains(msg, "does not exist"))
}

func expenseRecord(e *Expense) *ExpenseRecord {
	return &ExpenseRecord{
		ID:          e.ID,
		Amount:      e.Amount,
		Description: e.Description,
		Category:    e.Category,
		Date:        e.Date,
		CreatedBy:   e.CreatedBy,
		Source:      SourceExpenses,
	}
}

func transactionExpense(t *Transaction) *ExpenseRecord {
	rec := &ExpenseRecord{
		ID:          t.ID,
		Amount:      t.Amount,
		Description: t.Description,
		Category:    DefaultExpenseCategory,
		CreatedBy:   t.ApprovedBy,
		Source:      SourceTransactions,
	}
	if t.CreatedAt != nil {
		rec.Date = *t.CreatedAt
	}
	return rec
}

func notBlank(value interface{}) error {
	s, _ := value.(string)
	if strings.TrimSpace(s) == "" {
		return errors.New("cannot be blank")
	}
	return nil
}
