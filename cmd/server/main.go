package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/diewo77/go-esign/auth"
	"github.com/diewo77/go-esign/internal/config"
	"github.com/diewo77/go-esign/internal/db"
	"github.com/diewo77/go-esign/internal/logger"
	"github.com/diewo77/go-esign/internal/policy"
	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var migrationsFlag = &cli.StringFlag{
	Name:  "migrations-dir",
	Value: db.DefaultMigrationsDir,
	Usage: "directory of SQL migrations applied on PostgreSQL",
}

func main() {
	// Load environment variables from .env file
	_ = godotenv.Load()

	app := &cli.App{
		Name:  "esign",
		Usage: "Insurance e-signature workflow server",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API and the expiration scheduler",
				Flags:  []cli.Flag{migrationsFlag},
				Action: serve,
			},
			{
				Name:   "migrate",
				Usage:  "apply database migrations and exit",
				Flags:  []cli.Flag{migrationsFlag},
				Action: migrate,
			},
			{
				Name:   "sweep",
				Usage:  "expire overdue signers and requests once",
				Action: sweep,
			},
			{
				Name:      "remind",
				Usage:     "send reminders to the eligible signers of a request",
				ArgsUsage: "<request-id>",
				Action:    remind,
			},
			{
				Name:      "session",
				Usage:     "print a sender session cookie value",
				ArgsUsage: "<sender-id>",
				Flags: []cli.Flag{
					&cli.DurationFlag{Name: "ttl", Value: auth.SessionTTL, Usage: "session lifetime"},
				},
				Action: session,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// env is what every command needs.
type env struct {
	cfg    *config.Config
	log    *zap.Logger
	db     *gorm.DB
	router *policy.RouterConfig
}

func setup(ctx context.Context) (*env, error) {
	cfg := config.Load()
	logg, err := logger.New(cfg.App.Environment, cfg.App.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	conn, err := db.Open(ctx, cfg.Database, logg)
	if err != nil {
		logg.Error("failed to connect to database", zap.Error(err))
		return nil, err
	}
	return &env{
		cfg:    cfg,
		log:    logg,
		db:     conn,
		router: policy.NewRouterConfig(conn, cfg.Signing, logg, nil),
	}, nil
}

func (e *env) close() {
	if sqlDB, err := e.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = e.log.Sync()
}

// runMigrations applies SQL migrations on PostgreSQL and AutoMigrate elsewhere.
func (e *env) runMigrations(dir string) error {
	if e.db.Dialector.Name() == "postgres" {
		if err := db.RunSQLMigrations(e.cfg.Database.URL(), dir); err != nil {
			return err
		}
		return db.CheckSchema(e.db)
	}
	return db.AutoMigrate(e.db)
}

func migrate(cCtx *cli.Context) error {
	e, err := setup(cCtx.Context)
	if err != nil {
		return err
	}
	defer e.close()
	if err := e.runMigrations(cCtx.String("migrations-dir")); err != nil {
		e.log.Error("migration failed", zap.Error(err))
		return err
	}
	e.log.Info("migrations completed")
	return nil
}

func sweep(cCtx *cli.Context) error {
	e, err := setup(cCtx.Context)
	if err != nil {
		return err
	}
	defer e.close()
	n, err := e.router.Sweeper.SweepExpired(cCtx.Context)
	if err != nil {
		return err
	}
	fmt.Fprintf(cCtx.App.Writer, "expired %d records\n", n)
	return nil
}

func remind(cCtx *cli.Context) error {
	requestID := cCtx.Args().First()
	if requestID == "" {
		return cli.Exit("request id required", 2)
	}
	e, err := setup(cCtx.Context)
	if err != nil {
		return err
	}
	defer e.close()
	report, err := e.router.Orchestrator.SendReminders(cCtx.Context, requestID)
	if err != nil {
		return err
	}
	fmt.Fprintf(cCtx.App.Writer, "reminded %d signers, %d failed\n", len(report.Reminded), len(report.Failed))
	for _, f := range report.Failed {
		fmt.Fprintf(cCtx.App.Writer, "  %s: %s\n", f.SignerID, f.Error)
	}
	return nil
}

func session(cCtx *cli.Context) error {
	senderID := cCtx.Args().First()
	if senderID == "" {
		return cli.Exit("sender id required", 2)
	}
	fmt.Fprintln(cCtx.App.Writer, auth.SessionValue(senderID, time.Now().Add(cCtx.Duration("ttl"))))
	return nil
}

func serve(cCtx *cli.Context) error {
	ctx, stop := signal.NotifyContext(cCtx.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	e, err := setup(ctx)
	if err != nil {
		return err
	}
	defer e.close()

	// Run migrations on startup if enabled
	if e.cfg.App.Migrations {
		if err := e.runMigrations(cCtx.String("migrations-dir")); err != nil {
			e.log.Error("migration failed", zap.Error(err))
			return err
		}
		e.log.Info("migrations completed")
	}

	// Restrict sender sessions to the configured senders
	if senders := e.cfg.Signing.Senders; len(senders) > 0 {
		allowed := make(map[string]bool, len(senders))
		for _, s := range senders {
			allowed[s] = true
		}
		auth.SetSenderVerifier(func(_ context.Context, id string) bool { return allowed[id] })
	}

	go e.router.Scheduler.Run(ctx)

	// Create server with config timeouts
	srv := &http.Server{
		Addr:         ":" + e.cfg.Server.Port,
		Handler:      NewApp(e.router, e.log),
		ReadTimeout:  time.Duration(e.cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(e.cfg.Server.WriteTimeout) * time.Second,
		IdleTimeout:  time.Duration(e.cfg.Server.IdleTimeout) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		e.log.Info("server starting", zap.String("port", e.cfg.Server.Port), zap.Bool("dev", e.cfg.App.Dev))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			e.log.Error("server error", zap.Error(err))
			return err
		}
	case <-ctx.Done():
		e.log.Info("shutdown signal received")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		e.log.Error("error during shutdown", zap.Error(err))
		return err
	}
	e.log.Info("server stopped gracefully")
	return nil
}
