package ledger

import (
	"context"
	"database/sql"
	"errors"
	"log"

	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-kas/auth"
)

// RepositoryManager exposes the ledger repositories, users are shared
// with the auth package.
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	DB() *bun.DB
	Users() auth.Users
	Transactions() Transactions
	WeeklyPayments() WeeklyPayments
	Expenses() Expenses
}

type mngr struct {
	db             *bun.DB
	users          auth.Users
	transactions   Transactions
	weeklyPayments WeeklyPayments
	expenses       Expenses
}

func NewRepositoryManager(db *bun.DB, users auth.Users) RepositoryManager {
	if users == nil {
		users = auth.NewUsersRepository(db)
	}
	return &mngr{
		db:             db,
		users:          users,
		transactions:   NewTransactionsRepository(db),
		weeklyPayments: NewWeeklyPaymentsRepository(db),
		expenses:       NewExpensesRepository(db),
	}
}

func (m mngr) Validate() error {
	if m.users == nil {
		return errors.New("repository users should be initialized")
	}
	if m.transactions == nil {
		return errors.New("repository transactions should be initialized")
	}
	if m.weeklyPayments == nil {
		return errors.New("repository weekly payments should be initialized")
	}
	if m.expenses == nil {
		return errors.New("repository expenses should be initialized")
	}
	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) DB() *bun.DB {
	return m.db
}

func (m mngr) Users() auth.Users {
	return m.users
}

func (m mngr) Transactions() Transactions {
	return m.transactions
}

func (m mngr) WeeklyPayments() WeeklyPayments {
	return m.weeklyPayments
}

func (m mngr) Expenses() Expenses {
	return m.expenses
}
