package ledger

import (
	"context"
	"sort"
	"time"

	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-kas/auth"
)

// Summary is the fund position, only approved transactions count
type Summary struct {
	TotalKas     int64 `json:"totalKas"`
	TotalExpense int64 `json:"totalExpense"`
	Balance      int64 `json:"balance"`
}

// MonthlyStat is the approved income and expense of one month
type MonthlyStat struct {
	Year    int    `json:"year"`
	Month   int    `json:"month"`
	Label   string `json:"month_label"`
	Income  int64  `json:"income"`
	Expense int64  `json:"expense"`
}

// Statistics backs the statistics page. UnpaidAmount is only set for
// students.
type Statistics struct {
	TotalIncome  int64         `json:"totalIncome"`
	TotalExpense int64         `json:"totalExpense"`
	Balance      int64         `json:"balance"`
	Monthly      []MonthlyStat `json:"monthly"`
	UnpaidAmount *int64        `json:"unpaidAmount"`
}

type Reporter struct {
	repo     RepositoryManager
	expenses *ExpenseBook
	weekly   WeeklyLedger
}

func NewReporter(repo RepositoryManager, expenses *ExpenseBook, weekly WeeklyLedger) *Reporter {
	if expenses == nil {
		expenses = NewExpenseBook(repo)
	}
	if weekly == nil {
		weekly = NewWeeklyLedger(repo)
	}
	return &Reporter{
		repo:     repo,
		expenses: expenses,
		weekly:   weekly,
	}
}

// Summary adds the expenses table, when present, to approved expense
// transactions.
func (r *Reporter) Summary(ctx context.Context) (*Summary, error) {
	income, err := r.repo.Transactions().SumApproved(ctx, TypeIncome)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "Failed to fetch income data")
	}

	spent, err := r.repo.Transactions().SumApproved(ctx, TypeExpense)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "Failed to fetch expense transactions")
	}

	recorded, err := r.expenses.Total(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "Failed to fetch expenses")
	}

	total := spent + recorded
	return &Summary{
		TotalKas:     income,
		TotalExpense: total,
		Balance:      income - total,
	}, nil
}

func (r *Reporter) Balance(ctx context.Context) (int64, error) {
	s, err := r.Summary(ctx)
	if err != nil {
		return 0, err
	}
	return s.Balance, nil
}

// Statistics reports totals and a per month breakdown, newest month first
func (r *Reporter) Statistics(ctx context.Context, principal *auth.User) (*Statistics, error) {
	summary, err := r.Summary(ctx)
	if err != nil {
		return nil, err
	}

	approved, err := r.repo.Transactions().ListFiltered(ctx, TransactionFilter{Status: StatusApproved})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "Failed to fetch monthly statistics")
	}

	months := map[[2]int]*MonthlyStat{}
	bucket := func(t time.Time) *MonthlyStat {
		t = t.UTC()
		key := [2]int{t.Year(), int(t.Month())}
		if m, ok := months[key]; ok {
			return m
		}
		m := &MonthlyStat{Year: key[0], Month: key[1], Label: t.Format("January 2006")}
		months[key] = m
		return m
	}

	for _, t := range approved {
		if t.CreatedAt == nil {
			continue
		}
		switch t.Type {
		case TypeIncome:
			bucket(*t.CreatedAt).Income += t.Amount
		case TypeExpense:
			bucket(*t.CreatedAt).Expense += t.Amount
		}
	}

	if recorded, err := r.repo.Expenses().ListRecent(ctx); err == nil {
		for _, e := range recorded {
			bucket(e.Date).Expense += e.Amount
		}
	} else if !IsMissingTable(err) {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "Failed to fetch monthly statistics")
	}

	monthly := make([]MonthlyStat, 0, len(months))
	for _, m := range months {
		monthly = append(monthly, *m)
	}
	sort.Slice(monthly, func(i, j int) bool {
		if monthly[i].Year != monthly[j].Year {
			return monthly[i].Year > monthly[j].Year
		}
		return monthly[i].Month > monthly[j].Month
	})

	stats := &Statistics{
		TotalIncome:  summary.TotalKas,
		TotalExpense: summary.TotalExpense,
		Balance:      summary.Balance,
		Monthly:      monthly,
	}

	if principal != nil && principal.Role == auth.RoleUser {
		unpaid, err := r.weekly.ComputeUnpaidAmount(ctx, principal.ID)
		if err != nil {
			return nil, err
		}
		stats.UnpaidAmount = &unpaid
	}

	return stats, nil
}
