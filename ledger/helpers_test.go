package ledger_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-kas/auth"
	"github.com/goliatone/go-kas/ledger"
	"github.com/goliatone/go-kas/persistence"
)

type fixture struct {
	db     *bun.DB
	auth   auth.RepositoryManager
	ledger ledger.RepositoryManager
	now    time.Time
}

func (f *fixture) clock() time.Time { return f.now }

func setupFixture(t *testing.T) (*fixture, func()) {
	t.Helper()

	db, err := persistence.Open(persistence.DriverSQLite, ":memory:", persistence.Options{})
	require.NoError(t, err)

	_, err = persistence.Migrate(context.Background(), db)
	require.NoError(t, err)

	authRepo := auth.NewRepositoryManager(db)
	return &fixture{
			db:     db,
			auth:   authRepo,
			ledger: ledger.NewRepositoryManager(db, authRepo.Users()),
			now:    time.Date(2025, time.March, 10, 8, 0, 0, 0, time.UTC),
		}, func() {
			db.Close()
		}
}

func (f *fixture) student(t *testing.T, username, nis string) *auth.User {
	t.Helper()
	user, err := auth.NewProvisionUserHandler(f.auth).Execute(context.Background(), auth.ProvisionUserMessage{
		Username: username,
		Password: "password123",
		FullName: "Siswa " + username,
		Role:     auth.RoleUser,
		Kelas:    "XII IPA 1",
		NIS:      nis,
	})
	require.NoError(t, err)
	return user
}

func (f *fixture) admin(t *testing.T, username string) *auth.User {
	t.Helper()
	user, err := auth.NewProvisionUserHandler(f.auth).Execute(context.Background(), auth.ProvisionUserMessage{
		Username: username,
		Password: "admin12345",
		FullName: "Admin " + username,
		Role:     auth.RoleAdmin,
	})
	require.NoError(t, err)
	return user
}

func (f *fixture) transaction(t *testing.T, owner uuid.UUID, amount int64, kind ledger.TransactionType, status ledger.TransactionStatus, at time.Time) *ledger.Transaction {
	t.Helper()
	record, err := f.ledger.Transactions().Submit(context.Background(), &ledger.Transaction{
		UserID:      owner,
		Amount:      amount,
		Description: "kas",
		Type:        kind,
		Status:      status,
		CreatedAt:   &at,
	})
	require.NoError(t, err)
	return record
}

func (f *fixture) week(t *testing.T, student uuid.UUID, year, month, number int, status ledger.PaymentStatus) *ledger.WeeklyPayment {
	t.Helper()

	weeks := ledger.WeeksOfMonth(year, time.Month(month))
	w := weeks[number-1]
	record := &ledger.WeeklyPayment{
		ID:         uuid.New(),
		StudentID:  student,
		Year:       year,
		Month:      month,
		WeekNumber: number,
		Amount:     ledger.WeeklyUnit,
		Status:     status,
		StartDate:  w.Start,
		EndDate:    w.End,
	}

	n, err := f.ledger.WeeklyPayments().InsertMissingTx(context.Background(), f.db, []*ledger.WeeklyPayment{record})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	return record
}

func (f *fixture) status(t *testing.T, id uuid.UUID) ledger.TransactionStatus {
	t.Helper()
	record, err := f.ledger.Transactions().FindTx(context.Background(), f.db, id)
	require.NoError(t, err)
	return record.Status
}
