package ledger

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"

	"github.com/goliatone/go-kas/auth"
)

// RegisterLedgerRoutes mounts the transaction, weekly payment, expense and
// reporting endpoints.
func RegisterLedgerRoutes(app fiber.Router, opts ...LedgerControllerOption) *LedgerController {
	controller := NewLedgerController(opts...)
	authed := controller.Auther.ProtectedRoute("")
	admin := controller.Auther.ProtectedRoute(auth.RoleAdmin)

	app.Post(controller.Routes.Transactions, authed, controller.TransactionSubmit)
	app.Get(controller.Routes.Transactions, authed, controller.TransactionHistory)

	app.Get(controller.Routes.AdminTransactions, admin, controller.AdminTransactionList)
	app.Post(controller.Routes.AdminTransactions, admin, controller.AdminTransactionCreate)
	app.Post(controller.Routes.Approve, admin, controller.TransactionApprove)
	app.Post(controller.Routes.Reject, admin, controller.TransactionReject)

	app.Get(controller.Routes.WeeklyPayments, authed, controller.WeeklyPaymentList)
	app.Post(controller.Routes.WeeklyProcess, authed, controller.WeeklyPaymentProcess)
	app.Post(controller.Routes.WeeklyGenerate, admin, controller.WeeklyPaymentGenerate)
	app.Get(controller.Routes.CronGenerate, controller.CronGenerate)

	app.Get(controller.Routes.Expenses, admin, controller.ExpenseList)
	app.Post(controller.Routes.Expenses, admin, controller.ExpenseCreate)

	app.Get(controller.Routes.Summary, admin, controller.SummaryGet)
	app.Get(controller.Routes.Statistics, authed, controller.StatisticsGet)
	app.Get(controller.Routes.Balance, authed, controller.BalanceGet)

	return controller
}

type LedgerControllerRoutes struct {
	Transactions      string
	AdminTransactions string
	Approve           string
	Reject            string
	WeeklyPayments    string
	WeeklyProcess     string
	WeeklyGenerate    string
	CronGenerate      string
	Expenses          string
	Summary           string
	Statistics        string
	Balance           string
}

type LedgerController struct {
	Debug        bool
	CronSecret   string
	Logger       auth.Logger
	Repo         RepositoryManager
	Sessions     auth.Sessions
	Routes       *LedgerControllerRoutes
	Auther       *auth.RouteAuthenticator
	ActivitySink auth.ActivitySink
	Approvals    ApprovalStateMachine
	Weekly       WeeklyLedger
	Expenses     *ExpenseBook
	Reporter     *Reporter
	ErrorHandler func(*fiber.Ctx, error) error
	now          func() time.Time
}

type LedgerControllerOption func(*LedgerController) *LedgerController

func WithLedgerLogger(logger auth.Logger) LedgerControllerOption {
	return func(lc *LedgerController) *LedgerController {
		if logger != nil {
			lc.Logger = logger
		}
		return lc
	}
}

func WithLedgerRepository(repo RepositoryManager) LedgerControllerOption {
	return func(lc *LedgerController) *LedgerController {
		lc.Repo = repo
		return lc
	}
}

func WithLedgerAuthenticator(auther *auth.RouteAuthenticator) LedgerControllerOption {
	return func(lc *LedgerController) *LedgerController {
		lc.Auther = auther
		return lc
	}
}

func WithLedgerActivitySink(sink auth.ActivitySink) LedgerControllerOption {
	return func(lc *LedgerController) *LedgerController {
		lc.ActivitySink = auth.NormalizeActivitySink(sink)
		return lc
	}
}

// WithLedgerSessions lets the cron endpoint purge expired sessions
func WithLedgerSessions(sessions auth.Sessions) LedgerControllerOption {
	return func(lc *LedgerController) *LedgerController {
		lc.Sessions = sessions
		return lc
	}
}

// WithCronSecret sets the shared secret of the cron endpoint, an empty
// secret disables it.
func WithCronSecret(secret string) LedgerControllerOption {
	return func(lc *LedgerController) *LedgerController {
		lc.CronSecret = secret
		return lc
	}
}

func WithLedgerClock(clock func() time.Time) LedgerControllerOption {
	return func(lc *LedgerController) *LedgerController {
		if clock != nil {
			lc.now = clock
		}
		return lc
	}
}

func WithLedgerDebug(debug bool) LedgerControllerOption {
	return func(lc *LedgerController) *LedgerController {
		lc.Debug = debug
		return lc
	}
}

func NewLedgerController(opts ...LedgerControllerOption) *LedgerController {
	c := &LedgerController{
		Logger:       auth.DefaultLogger(),
		ActivitySink: auth.NormalizeActivitySink(nil),
		now:          time.Now,
		Routes: &LedgerControllerRoutes{
			Transactions:      "/api/transactions",
			AdminTransactions: "/api/admin/transactions",
			Approve:           "/api/admin/transactions/:id/approve",
			Reject:            "/api/admin/transactions/:id/reject",
			WeeklyPayments:    "/api/weekly-payments",
			WeeklyProcess:     "/api/weekly-payments/process",
			WeeklyGenerate:    "/api/weekly-payments/generate",
			CronGenerate:      "/api/cron/generate-weekly-payments",
			Expenses:          "/api/admin/expenses",
			Summary:           "/api/admin/summary",
			Statistics:        "/api/statistics",
			Balance:           "/api/balance",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Repo == nil {
		panic("Missing RepositoryManager in ledger controller...")
	}

	if c.Auther == nil {
		panic("Missing RouteAuthenticator in ledger controller...")
	}

	if c.ErrorHandler == nil {
		c.ErrorHandler = c.Auther.Responder().Respond
	}

	c.Approvals = NewApprovalStateMachine(c.Repo,
		WithApprovalClock(c.now),
		WithApprovalLogger(c.Logger),
		WithApprovalActivitySink(c.ActivitySink),
	)
	c.Weekly = NewWeeklyLedger(c.Repo,
		WithWeeklyClock(c.now),
		WithWeeklyLogger(c.Logger),
		WithWeeklyActivitySink(c.ActivitySink),
	)
	c.Expenses = NewExpenseBook(c.Repo).WithLogger(c.Logger).WithClock(c.now)
	c.Reporter = NewReporter(c.Repo, c.Expenses, c.Weekly)

	return c
}

// TransactionSubmitPayload is a student request to record money
type TransactionSubmitPayload struct {
	Amount      int64           `json:"amount"`
	Description string          `json:"description"`
	Type        TransactionType `json:"type"`
}

func (p TransactionSubmitPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Amount, validation.Required, validation.Min(int64(1))),
		validation.Field(&p.Description, validation.Required, validation.By(notBlank)),
		validation.Field(&p.Type, validation.Required, validation.In(TypeIncome, TypeExpense)),
	)
}

// AdminTransactionPayload lets an admin record a transaction for any user
type AdminTransactionPayload struct {
	UserID      string            `json:"userId"`
	Amount      int64             `json:"amount"`
	Description string            `json:"description"`
	Type        TransactionType   `json:"type"`
	Status      TransactionStatus `json:"status"`
}

func (p AdminTransactionPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.UserID, validation.Required, is.UUID),
		validation.Field(&p.Amount, validation.Required, validation.Min(int64(1))),
		validation.Field(&p.Description, validation.Required, validation.By(notBlank)),
		validation.Field(&p.Type, validation.Required, validation.In(TypeIncome, TypeExpense)),
		validation.Field(&p.Status, validation.Required, validation.In(StatusPending, StatusApproved, StatusRejected)),
	)
}

// ProcessPaymentPayload tenders an amount against unpaid weeks
type ProcessPaymentPayload struct {
	StudentID string `json:"studentId"`
	Amount    int64  `json:"amount"`
}

func (p ProcessPaymentPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.StudentID, is.UUID),
		validation.Field(&p.Amount, validation.Required),
	)
}

// GeneratePayload selects the month to generate entries for
type GeneratePayload struct {
	Year  int `json:"year"`
	Month int `json:"month"`
}

func (p GeneratePayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Year, validation.Required, validation.Min(2000), validation.Max(2100)),
		validation.Field(&p.Month, validation.Required, validation.Min(1), validation.Max(12)),
	)
}

func (a *LedgerController) principal(ctx *fiber.Ctx) (*auth.User, error) {
	user, ok := auth.CurrentUser(ctx)
	if !ok {
		return nil, auth.ErrNotAuthenticated
	}
	return user, nil
}

func (a *LedgerController) debugPayload(label string, payload any) {
	if a.Debug {
		a.Logger.Debug("%s: %s", label, print.MaybePrettyJSON(payload))
	}
}

func (a *LedgerController) TransactionSubmit(ctx *fiber.Ctx) error {
	user, err := a.principal(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	payload := TransactionSubmitPayload{}
	if err := ctx.BodyParser(&payload); err != nil {
		return a.ErrorHandler(ctx, auth.ErrUnableToParseData)
	}
	a.debugPayload("transaction payload", payload)

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	record, err := a.Repo.Transactions().Submit(ctx.UserContext(), &Transaction{
		UserID:      user.ID,
		Amount:      payload.Amount,
		Description: strings.TrimSpace(payload.Description),
		Type:        payload.Type,
		Status:      StatusPending,
	})
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":     true,
		"message":     "Transaction submitted successfully",
		"transaction": record,
	})
}

// TransactionHistory lists the transactions of the principal
func (a *LedgerController) TransactionHistory(ctx *fiber.Ctx) error {
	user, err := a.principal(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	records, err := a.Repo.Transactions().ListFiltered(ctx.UserContext(), TransactionFilter{UserID: user.ID})
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(fiber.Map{
		"success":      true,
		"transactions": records,
	})
}

func (a *LedgerController) AdminTransactionList(ctx *fiber.Ctx) error {
	filter := TransactionFilter{}
	if raw := ctx.Query("status"); raw != "" && raw != "all" {
		status := TransactionStatus(raw)
		if err := validation.Validate(status, validation.In(StatusPending, StatusApproved, StatusRejected)); err != nil {
			return a.ErrorHandler(ctx, validation.Errors{"status": err})
		}
		filter.Status = status
	}

	records, err := a.Repo.Transactions().ListFiltered(ctx.UserContext(), filter)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(fiber.Map{
		"success":      true,
		"transactions": records,
	})
}

// AdminTransactionCreate records a transaction, a non pending status is
// attributed to the calling admin.
func (a *LedgerController) AdminTransactionCreate(ctx *fiber.Ctx) error {
	admin, err := a.principal(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	payload := AdminTransactionPayload{}
	if err := ctx.BodyParser(&payload); err != nil {
		return a.ErrorHandler(ctx, auth.ErrUnableToParseData)
	}
	a.debugPayload("admin transaction payload", payload)

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	owner, err := a.Repo.Users().GetByID(ctx.UserContext(), payload.UserID)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return a.ErrorHandler(ctx, ErrUserNotFound)
		}
		return a.ErrorHandler(ctx, err)
	}

	at := a.now().UTC()
	record := &Transaction{
		UserID:      owner.ID,
		Amount:      payload.Amount,
		Description: strings.TrimSpace(payload.Description),
		Type:        payload.Type,
		Status:      payload.Status,
	}
	switch payload.Status {
	case StatusApproved:
		record.ApprovedBy = &admin.ID
		record.ApprovedAt = &at
	case StatusRejected:
		record.RejectedBy = &admin.ID
		record.RejectedAt = &at
	}

	record, err = a.Repo.Transactions().Submit(ctx.UserContext(), record)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":     true,
		"message":     "Transaksi berhasil ditambahkan",
		"transaction": record,
	})
}

func (a *LedgerController) TransactionApprove(ctx *fiber.Ctx) error {
	return a.resolve(ctx, StatusApproved)
}

func (a *LedgerController) TransactionReject(ctx *fiber.Ctx) error {
	return a.resolve(ctx, StatusRejected)
}

func (a *LedgerController) resolve(ctx *fiber.Ctx, target TransactionStatus) error {
	admin, err := a.principal(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	id, err := uuid.Parse(ctx.Params("id"))
	if err != nil {
		return a.ErrorHandler(ctx, ErrTransactionNotFound)
	}

	record, err := a.Approvals.Transition(ctx.UserContext(), auth.ActorFromUser(admin), id, target)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(fiber.Map{
		"success":     true,
		"message":     fmt.Sprintf("Transaction %s successfully", target),
		"transaction": record,
	})
}

// studentScope resolves which student a request may act on. Students
// are limited to themselves, admins must name a student when required.
func (a *LedgerController) studentScope(user *auth.User, raw string, required bool) (uuid.UUID, error) {
	if raw == "" {
		if user.IsAdmin() {
			if required {
				return uuid.Nil, validation.Errors{"studentId": errors.New("cannot be blank")}
			}
			return uuid.Nil, nil
		}
		return user.ID, nil
	}

	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, validation.Errors{"studentId": errors.New("must be a valid UUID")}
	}

	if !user.IsAdmin() && id != user.ID {
		return uuid.Nil, ErrForeignStudent
	}
	return id, nil
}

func (a *LedgerController) WeeklyPaymentList(ctx *fiber.Ctx) error {
	user, err := a.principal(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	studentID, err := a.studentScope(user, ctx.Query("studentId"), false)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	filter := WeeklyPaymentFilter{
		StudentID: studentID,
		Year:      ctx.QueryInt("year"),
		Month:     ctx.QueryInt("month"),
	}
	if raw := ctx.Query("status"); raw != "" && raw != "all" {
		status := PaymentStatus(raw)
		if err := validation.Validate(status, validation.In(PaymentPaid, PaymentUnpaid)); err != nil {
			return a.ErrorHandler(ctx, validation.Errors{"status": err})
		}
		filter.Status = status
	}

	payments, err := a.Weekly.List(ctx.UserContext(), filter)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	var unpaid *int64
	if studentID != uuid.Nil {
		amount, err := a.Weekly.ComputeUnpaidAmount(ctx.UserContext(), studentID)
		if err != nil {
			return a.ErrorHandler(ctx, err)
		}
		unpaid = &amount
	}

	return ctx.JSON(fiber.Map{
		"success":      true,
		"payments":     payments,
		"unpaidAmount": unpaid,
	})
}

func (a *LedgerController) WeeklyPaymentProcess(ctx *fiber.Ctx) error {
	user, err := a.principal(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	payload := ProcessPaymentPayload{}
	if err := ctx.BodyParser(&payload); err != nil {
		return a.ErrorHandler(ctx, auth.ErrUnableToParseData)
	}
	a.debugPayload("process payment payload", payload)

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	studentID, err := a.studentScope(user, payload.StudentID, true)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	result, err := a.Weekly.ProcessPayment(ctx.UserContext(), auth.ActorFromUser(user), studentID, payload.Amount)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(fiber.Map{
		"success":       true,
		"message":       fmt.Sprintf("Successfully paid for %d weeks", result.WeeksPaid),
		"studentId":     result.StudentID,
		"weeksPaid":     result.WeeksPaid,
		"amountApplied": result.AmountApplied,
		"remainder":     result.Remainder,
		"transaction":   result.Transaction,
	})
}

func (a *LedgerController) WeeklyPaymentGenerate(ctx *fiber.Ctx) error {
	payload := GeneratePayload{}
	if err := ctx.BodyParser(&payload); err != nil {
		return a.ErrorHandler(ctx, auth.ErrUnableToParseData)
	}

	if err := payload.Validate(); err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return a.generate(ctx, payload.Year, payload.Month)
}

// CronGenerate generates the current month and purges expired sessions,
// it authenticates with the shared cron secret instead of a token.
func (a *LedgerController) CronGenerate(ctx *fiber.Ctx) error {
	if !a.cronAuthorized(ctx.Get(fiber.HeaderAuthorization)) {
		return a.ErrorHandler(ctx, ErrCronUnauthorized)
	}

	if a.Sessions != nil {
		purged, err := a.Sessions.PurgeExpired(ctx.UserContext(), a.now().UTC())
		if err != nil {
			a.Logger.Warn("failed to purge expired sessions: %v", err)
		} else if purged > 0 {
			a.Logger.Info("purged %d expired sessions", purged)
		}
	}

	now := a.now().UTC()
	return a.generate(ctx, now.Year(), int(now.Month()))
}

func (a *LedgerController) cronAuthorized(header string) bool {
	if a.CronSecret == "" {
		return false
	}
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(token)), []byte(a.CronSecret)) == 1
}

func (a *LedgerController) generate(ctx *fiber.Ctx, year, month int) error {
	n, err := a.Weekly.GenerateEntries(ctx.UserContext(), year, month)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(fiber.Map{
		"success":          true,
		"message":          fmt.Sprintf("Generated %d weekly payment entries for %d/%d", n, month, year),
		"entriesGenerated": n,
	})
}

func (a *LedgerController) ExpenseList(ctx *fiber.Ctx) error {
	records, err := a.Expenses.List(ctx.UserContext())
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(fiber.Map{
		"success":  true,
		"expenses": records,
	})
}

func (a *LedgerController) ExpenseCreate(ctx *fiber.Ctx) error {
	admin, err := a.principal(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	msg := ExpenseMessage{}
	if err := ctx.BodyParser(&msg); err != nil {
		return a.ErrorHandler(ctx, auth.ErrUnableToParseData)
	}
	msg.Actor = auth.ActorFromUser(admin)
	a.debugPayload("expense payload", msg)

	record, err := a.Expenses.Record(ctx.UserContext(), msg)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	message := "Expense added successfully"
	if record.Source == SourceTransactions {
		message = "Expense added successfully as transaction"
	}

	return ctx.JSON(fiber.Map{
		"success": true,
		"message": message,
		"expense": record,
	})
}

func (a *LedgerController) SummaryGet(ctx *fiber.Ctx) error {
	summary, err := a.Reporter.Summary(ctx.UserContext())
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(fiber.Map{
		"success":      true,
		"totalKas":     summary.TotalKas,
		"totalExpense": summary.TotalExpense,
		"balance":      summary.Balance,
	})
}

func (a *LedgerController) StatisticsGet(ctx *fiber.Ctx) error {
	user, err := a.principal(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	stats, err := a.Reporter.Statistics(ctx.UserContext(), user)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(fiber.Map{
		"success":    true,
		"statistics": stats,
	})
}

func (a *LedgerController) BalanceGet(ctx *fiber.Ctx) error {
	balance, err := a.Reporter.Balance(ctx.UserContext())
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	return ctx.JSON(fiber.Map{
		"success": true,
		"balance": balance,
	})
}
