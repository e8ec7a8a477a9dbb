package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/spf13/pflag"

	"github.com/goliatone/go-kas/auth"
	"github.com/goliatone/go-kas/client"
	"github.com/goliatone/go-kas/ledger"
)

type command struct {
	usage string
	run   func(ctx context.Context, cli *CLI, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"login":       {"login <username> <password> [--remember]", runLogin(client.SurfaceStudent)},
		"admin-login": {"admin-login <username> <password>", runLogin(client.SurfaceAdmin)},
		"me":          {"me", runMe},
		"logout":      {"logout", runLogout},
		"submit":      {"submit <income|expense> <amount> <description...>", runSubmit},
		"history":     {"history", runHistory},
		"pending":     {"pending [--status pending|approved|rejected]", runPending},
		"approve":     {"approve <transaction-id>", runResolve(true)},
		"reject":      {"reject <transaction-id>", runResolve(false)},
		"weekly":      {"weekly [--student id] [--year y] [--month m]", runWeekly},
		"pay":         {"pay <amount> [--student id]", runPay},
		"generate":    {"generate <year> <month>", runGenerate},
		"summary":     {"summary", runSummary},
		"stats":       {"stats", runStats},
	}
}

// CLI bundles the API client and the token session of one invocation
type CLI struct {
	API     *client.Client
	Session *client.AuthContext
	Out     *os.File
}

func main() {
	global := pflag.NewFlagSet("kasctl", pflag.ContinueOnError)
	global.SetInterspersed(false)
	server := global.String("server", envOr("KAS_SERVER", "http://localhost:8572"), "kas server base url")
	tokenFile := global.String("token-file", "", "token file, defaults to the user config dir")
	timeout := global.Duration("timeout", 30*time.Second, "request timeout")
	verbose := global.BoolP("verbose", "v", false, "log client warnings")
	global.Usage = usage(global)

	if err := global.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}
	if global.NArg() == 0 {
		global.Usage()
		os.Exit(2)
	}

	name := global.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n", name)
		global.Usage()
		os.Exit(2)
	}

	level := slog.LevelError
	if *verbose {
		level = slog.LevelDebug
	}
	logger := auth.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cli, err := newCLI(*server, *tokenFile, *timeout, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := cmd.run(ctx, cli, global.Args()[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", describe(err))
		os.Exit(1)
	}
}

func newCLI(server, tokenFile string, timeout time.Duration, logger auth.Logger) (*CLI, error) {
	if tokenFile == "" {
		path, err := client.DefaultTokenPath()
		if err != nil {
			return nil, err
		}
		tokenFile = path
	}

	base, err := url.Parse(strings.TrimRight(server, "/"))
	if err != nil {
		return nil, err
	}
	store, err := client.NewTokenStore(base, tokenFile)
	if err != nil {
		return nil, err
	}
	store.WithLogger(logger)

	api, err := client.NewClient(server,
		client.WithHTTPClient(&http.Client{Timeout: timeout}),
		client.WithTokenStore(store),
		client.WithClientLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	session := client.NewAuthContext(api, store,
		client.WithAuthLogger(logger),
		client.WithNavigator(client.NavigatorFunc(func(path string) {
			fmt.Fprintf(os.Stderr, "signed out, sign in again with `kasctl login` (%s)\n", path)
		})),
	)

	return &CLI{API: api, Session: session, Out: os.Stdout}, nil
}

// requireSession restores the stored token and fails when it is no
// longer accepted.
func (c *CLI) requireSession(ctx context.Context) (*auth.UserResponse, error) {
	snap := c.Session.Refresh(ctx)
	if !snap.IsAuthenticated() {
		return nil, goerrors.New("not signed in", goerrors.CategoryAuth).
			WithTextCode("UNAUTHORIZED")
	}
	return snap.Principal, nil
}

func (c *CLI) print(v any) error {
	_, err := fmt.Fprintln(c.Out, print.MaybePrettyJSON(v))
	return err
}

func runLogin(surface client.Surface) func(context.Context, *CLI, []string) error {
	return func(ctx context.Context, cli *CLI, args []string) error {
		fs := pflag.NewFlagSet("login", pflag.ContinueOnError)
		remember := fs.Bool("remember", false, "request an extended token")
		if err := fs.Parse(args); err != nil {
			return err
		}
		if fs.NArg() != 2 {
			return errUsage("login")
		}

		user, err := cli.Session.Login(ctx, fs.Arg(0), fs.Arg(1), *remember, surface)
		if err != nil {
			return err
		}
		fmt.Fprintf(cli.Out, "signed in as %s (%s)\n", user.FullName, user.Role)
		return nil
	}
}

func runMe(ctx context.Context, cli *CLI, _ []string) error {
	user, err := cli.requireSession(ctx)
	if err != nil {
		return err
	}
	return cli.print(user)
}

func runLogout(ctx context.Context, cli *CLI, _ []string) error {
	cli.Session.SignOut(ctx)
	return nil
}

func runSubmit(ctx context.Context, cli *CLI, args []string) error {
	if len(args) < 3 {
		return errUsage("submit")
	}
	amount, err := parseAmount(args[1])
	if err != nil {
		return err
	}
	if _, err := cli.requireSession(ctx); err != nil {
		return err
	}

	trx, err := cli.API.SubmitTransaction(ctx, ledger.TransactionSubmitPayload{
		Type:        ledger.TransactionType(args[0]),
		Amount:      amount,
		Description: strings.Join(args[2:], " "),
	})
	if err != nil {
		return err
	}
	return cli.print(trx)
}

func runHistory(ctx context.Context, cli *CLI, _ []string) error {
	if _, err := cli.requireSession(ctx); err != nil {
		return err
	}
	records, err := cli.API.TransactionHistory(ctx)
	if err != nil {
		return err
	}
	return cli.print(records)
}

func runPending(ctx context.Context, cli *CLI, args []string) error {
	fs := pflag.NewFlagSet("pending", pflag.ContinueOnError)
	status := fs.String("status", string(ledger.StatusPending), "filter by status, empty lists all")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := cli.requireSession(ctx); err != nil {
		return err
	}
	records, err := cli.API.AdminTransactions(ctx, ledger.TransactionStatus(*status))
	if err != nil {
		return err
	}
	return cli.print(records)
}

func runResolve(approve bool) func(context.Context, *CLI, []string) error {
	return func(ctx context.Context, cli *CLI, args []string) error {
		if len(args) != 1 {
			if approve {
				return errUsage("approve")
			}
			return errUsage("reject")
		}
		if _, err := cli.requireSession(ctx); err != nil {
			return err
		}

		resolve := cli.API.Reject
		if approve {
			resolve = cli.API.Approve
		}
		trx, err := resolve(ctx, args[0])
		if err != nil {
			return err
		}
		return cli.print(trx)
	}
}

func runWeekly(ctx context.Context, cli *CLI, args []string) error {
	now := time.Now()
	fs := pflag.NewFlagSet("weekly", pflag.ContinueOnError)
	student := fs.String("student", "", "student id, admins only")
	year := fs.Int("year", now.Year(), "year")
	month := fs.Int("month", int(now.Month()), "month")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if _, err := cli.requireSession(ctx); err != nil {
		return err
	}

	out, err := cli.API.WeeklyPayments(ctx, *student, *year, *month)
	if err != nil {
		return err
	}
	return cli.print(out)
}

func runPay(ctx context.Context, cli *CLI, args []string) error {
	fs := pflag.NewFlagSet("pay", pflag.ContinueOnError)
	student := fs.String("student", "", "student id, required for admins")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errUsage("pay")
	}
	amount, err := parseAmount(fs.Arg(0))
	if err != nil {
		return err
	}

	user, err := cli.requireSession(ctx)
	if err != nil {
		return err
	}
	studentID := *student
	if studentID == "" && user.Role != string(auth.RoleAdmin) {
		studentID = user.ID
	}

	res, err := cli.API.ProcessPayment(ctx, studentID, amount)
	if err != nil {
		return err
	}
	return cli.print(res)
}

func runGenerate(ctx context.Context, cli *CLI, args []string) error {
	if len(args) != 2 {
		return errUsage("generate")
	}
	var year, month int
	if _, err := fmt.Sscanf(args[0]+" "+args[1], "%d %d", &year, &month); err != nil {
		return errUsage("generate")
	}
	if _, err := cli.requireSession(ctx); err != nil {
		return err
	}

	created, err := cli.API.GenerateWeekly(ctx, year, month)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.Out, "%d weekly entries created for %02d/%d\n", created, month, year)
	return nil
}

func runSummary(ctx context.Context, cli *CLI, _ []string) error {
	if _, err := cli.requireSession(ctx); err != nil {
		return err
	}
	summary, err := cli.API.Summary(ctx)
	if err != nil {
		return err
	}
	return cli.print(summary)
}

func runStats(ctx context.Context, cli *CLI, _ []string) error {
	if _, err := cli.requireSession(ctx); err != nil {
		return err
	}
	stats, err := cli.API.Statistics(ctx)
	if err != nil {
		return err
	}
	return cli.print(stats)
}

func parseAmount(raw string) (int64, error) {
	var amount int64
	if _, err := fmt.Sscanf(strings.ReplaceAll(raw, ".", ""), "%d", &amount); err != nil || amount <= 0 {
		return 0, goerrors.New(fmt.Sprintf("invalid amount %q", raw), goerrors.CategoryBadInput)
	}
	return amount, nil
}

func errUsage(name string) error {
	return goerrors.New("usage: kasctl "+commands[name].usage, goerrors.CategoryBadInput)
}

// describe renders validation details next to the server message
func describe(err error) string {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) || len(richErr.ValidationErrors) == 0 {
		return err.Error()
	}
	parts := make([]string, 0, len(richErr.ValidationErrors))
	for _, fe := range richErr.ValidationErrors {
		parts = append(parts, fe.Field+": "+fe.Message)
	}
	sort.Strings(parts)
	return richErr.Message + " (" + strings.Join(parts, ", ") + ")"
}

func usage(fs *pflag.FlagSet) func() {
	return func() {
		fmt.Fprintln(os.Stderr, "usage: kasctl [flags] <command> [args]")
		fmt.Fprintln(os.Stderr, "\ncommands:")
		names := make([]string, 0, len(commands))
		for name := range commands {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(os.Stderr, "  %s\n", commands[name].usage)
		}
		fmt.Fprintln(os.Stderr, "\nflags:")
		fs.PrintDefaults()
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
