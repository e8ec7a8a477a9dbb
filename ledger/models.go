package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-kas/auth"
)

// TransactionType is either money coming into or leaving the class fund
type TransactionType string

const (
	TypeIncome  TransactionType = "income"
	TypeExpense TransactionType = "expense"
)

// TransactionStatus is the approval state of a transaction
type TransactionStatus string

const (
	StatusPending  TransactionStatus = "pending"
	StatusApproved TransactionStatus = "approved"
	StatusRejected TransactionStatus = "rejected"
)

// IsTerminal reports whether no further transition is allowed
func (s TransactionStatus) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

// PaymentStatus is the state of a weekly dues entry
type PaymentStatus string

const (
	PaymentUnpaid PaymentStatus = "unpaid"
	PaymentPaid   PaymentStatus = "paid"
)

// Transaction is a single income or expense request
type Transaction struct {
	bun.BaseModel `bun:"table:transactions,alias:trx"`
	ID            uuid.UUID         `bun:"id,pk,type:uuid" json:"id"`
	UserID        uuid.UUID         `bun:"user_id,notnull,type:uuid" json:"user_id"`
	Amount        int64             `bun:"amount,notnull" json:"amount"`
	Description   string            `bun:"description,notnull" json:"description"`
	Type          TransactionType   `bun:"type,notnull" json:"type"`
	Status        TransactionStatus `bun:"status,notnull" json:"status"`
	CreatedAt     *time.Time        `bun:"created_at,nullzero" json:"created_at,omitempty"`
	ApprovedBy    *uuid.UUID        `bun:"approved_by,type:uuid" json:"approved_by"`
	ApprovedAt    *time.Time        `bun:"approved_at,nullzero" json:"approved_at"`
	RejectedBy    *uuid.UUID        `bun:"rejected_by,type:uuid" json:"rejected_by"`
	RejectedAt    *time.Time        `bun:"rejected_at,nullzero" json:"rejected_at"`

	User *auth.User `bun:"rel:belongs-to,join:user_id=id" json:"user,omitempty"`
}

// WeeklyPayment is the dues entry of one student for one calendar week
type WeeklyPayment struct {
	bun.BaseModel `bun:"table:weekly_payments,alias:wp"`
	ID            uuid.UUID     `bun:"id,pk,type:uuid" json:"id"`
	StudentID     uuid.UUID     `bun:"student_id,notnull,type:uuid" json:"student_id"`
	Year          int           `bun:"year,notnull" json:"year"`
	Month         int           `bun:"month,notnull" json:"month"`
	WeekNumber    int           `bun:"week_number,notnull" json:"week_number"`
	Amount        int64         `bun:"amount,notnull" json:"amount"`
	Status        PaymentStatus `bun:"status,notnull" json:"status"`
	StartDate     time.Time     `bun:"start_date,notnull" json:"start_date"`
	EndDate       time.Time     `bun:"end_date,notnull" json:"end_date"`
	PaidAt        *time.Time    `bun:"paid_at,nullzero" json:"paid_at"`
	CreatedAt     *time.Time    `bun:"created_at,nullzero" json:"created_at,omitempty"`

	Student *auth.User `bun:"rel:belongs-to,join:student_id=id" json:"student,omitempty"`
}

// Expense is a spending entry recorded by an admin
type Expense struct {
	bun.BaseModel `bun:"table:expenses,alias:exp"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	Amount        int64      `bun:"amount,notnull" json:"amount"`
	Description   string     `bun:"description,notnull" json:"description"`
	Category      string     `bun:"category,notnull" json:"category"`
	Date          time.Time  `bun:"date,notnull" json:"date"`
	CreatedBy     *uuid.UUID `bun:"created_by,type:uuid" json:"created_by"`
	CreatedAt     *time.Time `bun:"created_at,nullzero" json:"created_at,omitempty"`
}

// DefaultExpenseCategory is used when none is given
const DefaultExpenseCategory = "umum"

func uuidPtr(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}

func timePtr(t time.Time) *time.Time {
	return &t
}
