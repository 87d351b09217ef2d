package policy

import (
	"github.com/diewo77/go-esign/internal/config"
	"github.com/diewo77/go-esign/internal/handlers"
	"github.com/diewo77/go-esign/internal/notify"
	"github.com/diewo77/go-esign/internal/services"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RouterConfig holds the configured services and handlers of the application.
type RouterConfig struct {
	// Handlers
	DocumentHandler    *handlers.DocumentHandler
	RequestHandler     *handlers.RequestHandler
	SigningHandler     *handlers.SigningHandler
	MaintenanceHandler *handlers.MaintenanceHandler

	// Operators are the sender IDs allowed to run maintenance.
	Operators []string

	// Services
	Documents    *services.DocumentService
	Orchestrator *services.Orchestrator
	Sweeper      *services.Sweeper
	Scheduler    *services.Scheduler
}

// Settings maps the signing configuration onto the workflow settings.
func Settings(cfg config.SigningConfig) services.Settings {
	return services.Settings{
		TokenTTL:         cfg.TokenTTL,
		ReminderInterval: cfg.ReminderInterval,
		PublicBaseURL:    cfg.PublicBaseURL,
		Clock:            services.SystemClock,
	}
}

// NewRouterConfig wires services and handlers. A nil notifier logs
// notifications instead of delivering them.
//
// Example usage in main.go:
//
//	cfg := policy.NewRouterConfig(db, appCfg.Signing, logger, nil)
//	mux.Handle("POST /api/requests", auth.RequireSender(http.HandlerFunc(cfg.RequestHandler.Create)))
//	go cfg.Scheduler.Run(ctx)
func NewRouterConfig(db *gorm.DB, cfg config.SigningConfig, log *zap.Logger, notifier notify.Notifier) *RouterConfig {
	if notifier == nil {
		notifier = notify.NewLogNotifier(log)
	}
	settings := Settings(cfg)

	tokens := services.NewTokenManager(db, cfg.TokenSecret, settings.Clock)
	documents := services.NewDocumentService(db, log)
	orchestrator := services.NewOrchestrator(db, tokens, notifier, log, settings)
	sweeper := services.NewSweeper(db, tokens, log, settings)
	scheduler := services.NewScheduler(sweeper, cfg.SweepInterval, log)

	return &RouterConfig{
		DocumentHandler:    handlers.NewDocumentHandler(documents, log),
		RequestHandler:     handlers.NewRequestHandler(orchestrator, log),
		SigningHandler:     handlers.NewSigningHandler(orchestrator, log),
		MaintenanceHandler: handlers.NewMaintenanceHandler(sweeper, db, log),
		Operators:          cfg.Operators,
		Documents:          documents,
		Orchestrator:       orchestrator,
		Sweeper:            sweeper,
		Scheduler:          scheduler,
	}
}
