package main

import (
	"net/http"
	"time"

	"github.com/diewo77/go-esign/auth"
	"github.com/diewo77/go-esign/httpx"
	"github.com/diewo77/go-esign/internal/policy"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// App is the main application handler that sets up all routes.
type App struct {
	mux       *http.ServeMux
	routerCfg *policy.RouterConfig
	log       *zap.Logger
	handler   http.Handler
	operators map[string]bool
}

// NewApp creates a new application with all routes configured.
func NewApp(routerCfg *policy.RouterConfig, log *zap.Logger) *App {
	app := &App{
		mux:       http.NewServeMux(),
		routerCfg: routerCfg,
		log:       log,
		operators: make(map[string]bool, len(routerCfg.Operators)),
	}
	for _, id := range routerCfg.Operators {
		app.operators[id] = true
	}
	app.setupRoutes()
	app.handler = middleware.RequestID(
		middleware.RealIP(
			app.withLogging(
				middleware.Recoverer(
					auth.Middleware(app.mux)))))
	return app
}

// ServeHTTP implements http.Handler.
func (a *App) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.handler.ServeHTTP(w, r)
}

// setupRoutes configures all application routes.
func (a *App) setupRoutes() {
	// ─────────────────────────────────────────────────────────────────────────
	// Public routes
	// ─────────────────────────────────────────────────────────────────────────
	mh := a.routerCfg.MaintenanceHandler
	a.mux.HandleFunc("GET /healthz", mh.Health)

	// Signer routes: the token is the credential.
	sh := a.routerCfg.SigningHandler
	a.mux.HandleFunc("GET /sign/{token}", sh.Open)
	a.mux.HandleFunc("POST /sign/{token}", sh.Submit)

	// ─────────────────────────────────────────────────────────────────────────
	// Sender routes (require a session)
	// ─────────────────────────────────────────────────────────────────────────
	dh := a.routerCfg.DocumentHandler
	a.mux.Handle("POST /api/documents", a.requireSender(dh.Create))
	a.mux.Handle("GET /api/documents/{id}", a.requireSender(dh.Get))
	a.mux.Handle("PUT /api/documents/{id}/pages", a.requireSender(dh.SetPages))
	a.mux.Handle("POST /api/documents/{id}/fields", a.requireSender(dh.PlaceField))
	a.mux.Handle("PATCH /api/documents/{id}/fields/{fieldID}", a.requireSender(dh.UpdateField))
	a.mux.Handle("DELETE /api/documents/{id}/fields/{fieldID}", a.requireSender(dh.DeleteField))
	a.mux.Handle("POST /api/documents/{id}/clone", a.requireSender(dh.Clone))

	rh := a.routerCfg.RequestHandler
	a.mux.Handle("POST /api/requests", a.requireSender(rh.Create))
	a.mux.Handle("GET /api/requests/{id}", a.requireSender(rh.Get))
	a.mux.Handle("POST /api/requests/{id}/send", a.requireSender(rh.Send))
	a.mux.Handle("GET /api/requests/{id}/reminders", a.requireSender(rh.EligibleReminders))
	a.mux.Handle("POST /api/requests/{id}/reminders", a.requireSender(rh.Remind))
	a.mux.Handle("GET /api/requests/{id}/events", a.requireSender(rh.Events))

	// The sweep touches every sender's requests.
	a.mux.Handle("POST /api/maintenance/sweep", a.requireOperator(mh.Sweep))
}

// ─────────────────────────────────────────────────────────────────────────────
// Middleware
// ─────────────────────────────────────────────────────────────────────────────

// requireSender wraps a handler to require a sender session.
func (a *App) requireSender(h http.HandlerFunc) http.Handler {
	return auth.RequireSender(h)
}

// requireOperator wraps a handler to require a sender listed in OPERATORS.
func (a *App) requireOperator(h http.HandlerFunc) http.Handler {
	return auth.RequireSender(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := auth.SenderIDFromContext(r.Context())
		if !a.operators[id] {
			httpx.JSONError(w, http.StatusForbidden, "forbidden", nil)
			return
		}
		h(w, r)
	}))
}

// withLogging writes one access log line per request.
func (a *App) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		a.log.Info("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", redactToken(r.URL.Path)),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

// redactToken keeps signing tokens out of the access log.
func redactToken(path string) string {
	const prefix = "/sign/"
	if len(path) > len(prefix) && path[:len(prefix)] == prefix {
		return prefix + "***"
	}
	return path
}
