package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-kas/auth"
	"github.com/goliatone/go-kas/ledger"
)

func TestExpenseBook(t *testing.T) {
	f, cleanup := setupFixture(t)
	defer cleanup()

	ctx := context.Background()
	admin := f.admin(t, "admin")
	book := ledger.NewExpenseBook(f.ledger).WithClock(f.clock)

	date := time.Date(2025, time.February, 14, 0, 0, 0, 0, time.UTC)
	first, err := book.Record(ctx, ledger.ExpenseMessage{
		Actor:       auth.ActorFromUser(admin),
		Amount:      25000,
		Description: "  Spidol dan penghapus ",
		Category:    "alat tulis",
		Date:        &date,
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.SourceExpenses, first.Source)
	assert.Equal(t, "Spidol dan penghapus", first.Description)
	assert.True(t, date.Equal(first.Date))
	require.NotNil(t, first.CreatedBy)
	assert.Equal(t, admin.ID, *first.CreatedBy)

	second, err := book.Record(ctx, ledger.ExpenseMessage{
		Actor:       auth.ActorFromUser(admin),
		Amount:      10000,
		Description: "Fotokopi",
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.DefaultExpenseCategory, second.Category)
	assert.True(t, f.now.Equal(second.Date))

	list, err := book.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)

	total, err := book.Total(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(35000), total)

	t.Run("validation", func(t *testing.T) {
		tests := []struct {
			name  string
			msg   ledger.ExpenseMessage
			field string
		}{
			{"blank description", ledger.ExpenseMessage{Amount: 1000, Description: "   "}, "description"},
			{"missing amount", ledger.ExpenseMessage{Description: "Sapu"}, "amount"},
			{"negative amount", ledger.ExpenseMessage{Amount: -1, Description: "Sapu"}, "amount"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := book.Record(ctx, tt.msg)
				var verrs validation.Errors
				require.True(t, errors.As(err, &verrs), "got %v", err)
				assert.Contains(t, verrs, tt.field)
			})
		}
	})
}

func TestExpenseBookFallsBackToTransactions(t *testing.T) {
	f, cleanup := setupFixture(t)
	defer cleanup()

	ctx := context.Background()
	admin := f.admin(t, "admin")
	book := ledger.NewExpenseBook(f.ledger).WithClock(f.clock)

	_, err := f.db.ExecContext(ctx, "DROP TABLE expenses")
	require.NoError(t, err)

	record, err := book.Record(ctx, ledger.ExpenseMessage{
		Actor:       auth.ActorFromUser(admin),
		Amount:      12000,
		Description: "Galon",
	})
	require.NoError(t, err)
	assert.Equal(t, ledger.SourceTransactions, record.Source)
	assert.Equal(t, ledger.DefaultExpenseCategory, record.Category)

	trx, err := f.ledger.Transactions().FindTx(ctx, f.db, record.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.TypeExpense, trx.Type)
	assert.Equal(t, ledger.StatusApproved, trx.Status)
	require.NotNil(t, trx.ApprovedBy)
	assert.Equal(t, admin.ID, *trx.ApprovedBy)

	list, err := book.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, record.ID, list[0].ID)

	total, err := book.Total(ctx)
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestIsMissingTable(t *testing.T) {
	assert.False(t, ledger.IsMissingTable(nil))
	assert.True(t, ledger.IsMissingTable(errors.New("SQL logic error: no such table: expenses (1)")))
	assert.True(t, ledger.IsMissingTable(errors.New(`relation "expenses" does not exist`)))
	assert.True(t, ledger.IsMissingTable(&pq.Error{Code: "42P01"}))
	assert.False(t, ledger.IsMissingTable(&pq.Error{Code: "23505"}))
	assert.False(t, ledger.IsMissingTable(errors.New("connection refused")))
}
