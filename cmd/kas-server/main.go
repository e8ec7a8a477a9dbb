package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlog "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/goliatone/go-print"
	"github.com/spf13/pflag"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-kas/activitymap"
	"github.com/goliatone/go-kas/auth"
	"github.com/goliatone/go-kas/config"
	"github.com/goliatone/go-kas/ledger"
	"github.com/goliatone/go-kas/persistence"
)

type App struct {
	config   *config.Config
	bunDB    *bun.DB
	repo     auth.RepositoryManager
	ledger   ledger.RepositoryManager
	auth     *auth.Auther
	auther   *auth.RouteAuthenticator
	srv      *fiber.App
	activity auth.ActivitySink
	logger   *slog.Logger
}

func (a *App) Config() *config.Config {
	return a.config
}

func (a *App) GetLogger(name string) auth.Logger {
	return auth.NewSlogLogger(a.logger.With("logger", name))
}

func (a *App) SetDB(db *bun.DB) {
	a.bunDB = db
}

func (a *App) SetRepository(repo auth.RepositoryManager) {
	a.repo = repo
}

func (a *App) SetHTTPServer(srv *fiber.App) {
	a.srv = srv
}

func (a *App) SetAuthenticator(auther *auth.Auther) {
	a.auth = auther
}

func (a *App) SetHTTPAuth(auther *auth.RouteAuthenticator) {
	a.auther = auther
}

func main() {
	flags := pflag.NewFlagSet("kas-server", pflag.ExitOnError)
	configFile := flags.StringP("config", "c", "", "configuration file (.yaml, .json or .jsonc)")
	envFiles := flags.StringSlice("env-file", []string{".env"}, "dotenv files, missing files are ignored")
	addr := flags.String("addr", "", "listen address, overrides the configuration")
	auditLog := flags.String("audit-log", "", "append activity records as JSON lines to this file")
	printConfig := flags.Bool("print-config", false, "print the resolved configuration and exit")
	flags.Parse(os.Args[1:])

	cfg, err := config.Load(*configFile, *envFiles...)
	if err != nil {
		fmt.Fprintln(os.Stderr, "configuration error:", err)
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	if *printConfig {
		redacted := *cfg
		redacted.Auth.SigningKey = "********"
		redacted.Auth.CookieHashKey = ""
		redacted.Seed.AdminPassword = ""
		redacted.Cron.Secret = ""
		fmt.Println(print.MaybeHighlightJSON(redacted))
		return
	}

	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}

	app := &App{
		config: cfg,
		logger: slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})),
	}

	ctx := context.Background()

	if err := WithActivity(app, *auditLog); err != nil {
		app.logger.Error("activity sink", "error", err)
		os.Exit(1)
	}

	if err := WithPersistence(ctx, app); err != nil {
		app.logger.Error("persistence", "error", err)
		os.Exit(1)
	}
	defer app.bunDB.Close()

	if err := WithHTTPAuth(ctx, app); err != nil {
		app.logger.Error("authentication", "error", err)
		os.Exit(1)
	}

	if err := WithHTTPServer(ctx, app); err != nil {
		app.logger.Error("http server", "error", err)
		os.Exit(1)
	}

	go func() {
		if err := app.srv.Listen(cfg.Server.Addr); err != nil {
			app.logger.Error("server stopped", "error", err)
		}
	}()

	WaitExitSignal()

	if err := app.srv.ShutdownWithTimeout(10 * time.Second); err != nil {
		app.logger.Error("shutdown", "error", err)
	}
}

// WithActivity logs activity events and, when path is set, appends them
// to an audit file.
func WithActivity(app *App, path string) error {
	sink := auth.LoggerActivitySink(app.GetLogger("activity"))
	if path == "" {
		app.activity = sink
		return nil
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	app.activity = activitymap.Tee(sink, activitymap.JSONSink(f))
	return nil
}

func WithPersistence(ctx context.Context, app *App) error {
	cfg := app.Config()

	db, err := persistence.Open(cfg.Database.Driver, cfg.Database.DSN, cfg.PersistenceOptions())
	if err != nil {
		return err
	}

	if cfg.Database.Migrate {
		group, err := persistence.Migrate(ctx, db)
		if err != nil {
			db.Close()
			return err
		}
		if group != nil && !group.IsZero() {
			app.logger.Info("migrated", "group", group.String())
		}
	}

	app.SetDB(db)

	repo := auth.NewRepositoryManager(db)
	if err := repo.Validate(); err != nil {
		return err
	}
	app.SetRepository(repo)
	app.ledger = ledger.NewRepositoryManager(db, repo.Users())

	return seedAdmin(ctx, app)
}

// seedAdmin creates the configured admin account on first start
func seedAdmin(ctx context.Context, app *App) error {
	seed := app.Config().Seed
	if seed.AdminUsername == "" {
		return nil
	}

	_, err := auth.NewProvisionUserHandler(app.repo).
		WithLogger(app.GetLogger("seed")).
		WithActivitySink(app.activity).
		Execute(ctx, auth.ProvisionUserMessage{
			Actor:     auth.ActorRef{ID: "system", Type: "system"},
			Username:  seed.AdminUsername,
			Password:  seed.AdminPassword,
			FullName:  seed.AdminFullName,
			Role:      auth.RoleAdmin,
			UseHashid: true,
		})
	if errors.Is(err, auth.ErrUsernameTaken) {
		return nil
	}
	if err != nil {
		return err
	}
	app.logger.Info("admin account created", "username", seed.AdminUsername)
	return nil
}

func WithHTTPAuth(_ context.Context, app *App) error {
	cfg := app.Config()

	provider := auth.NewUserProvider(app.repo.Users()).
		WithLogger(app.GetLogger("auth:prv"))

	authenticator := auth.NewAuthenticator(provider, app.repo.Sessions(), cfg).
		WithLogger(app.GetLogger("auth:authz")).
		WithActivitySink(app.activity)
	app.SetAuthenticator(authenticator)

	httpAuth, err := auth.NewHTTPAuthenticator(authenticator, cfg)
	if err != nil {
		return err
	}
	app.SetHTTPAuth(httpAuth.WithLogger(app.GetLogger("auth:http")))
	return nil
}

func WithHTTPServer(_ context.Context, app *App) error {
	cfg := app.Config()

	srv := fiber.New(fiber.Config{
		AppName:               "kas",
		UnescapePath:          true,
		DisableStartupMessage: !cfg.IsDevelopment(),
		ErrorHandler:          app.auther.Responder().Handler,
	})

	srv.Use(recover.New())
	srv.Use(fiberlog.New(fiberlog.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	origins := "*"
	if len(cfg.Server.CORSOrigins) > 0 {
		origins = strings.Join(cfg.Server.CORSOrigins, ",")
	}
	srv.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization",
		AllowCredentials: origins != "*",
	}))

	srv.Get("/healthz", func(c *fiber.Ctx) error {
		if err := app.bunDB.PingContext(c.UserContext()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "unavailable"})
		}
		return c.JSON(fiber.Map{"status": "ok"})
	})

	auth.RegisterAuthRoutes(srv,
		auth.WithControllerRepository(app.repo),
		auth.WithControllerAuthenticator(app.auther),
		auth.WithControllerLogger(app.GetLogger("auth:ctrl")),
		auth.WithControllerActivitySink(app.activity),
		auth.WithRegistration(cfg.GetAllowRegistration()),
		auth.WithControllerDebug(cfg.Debug),
	)

	ledger.RegisterLedgerRoutes(srv,
		ledger.WithLedgerRepository(app.ledger),
		ledger.WithLedgerAuthenticator(app.auther),
		ledger.WithLedgerSessions(app.repo.Sessions()),
		ledger.WithLedgerLogger(app.GetLogger("ledger")),
		ledger.WithLedgerActivitySink(app.activity),
		ledger.WithCronSecret(cfg.GetCronSecret()),
		ledger.WithLedgerDebug(cfg.Debug),
	)

	app.SetHTTPServer(srv)
	return nil
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	return <-ch
}
