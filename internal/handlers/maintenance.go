package handlers

import (
	"net/http"

	"github.com/diewo77/go-esign/httpx"
	"github.com/diewo77/go-esign/internal/services"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type MaintenanceHandler struct {
	sweeper *services.Sweeper
	db      *gorm.DB
	log     *zap.Logger
}

func NewMaintenanceHandler(sweeper *services.Sweeper, db *gorm.DB, log *zap.Logger) *MaintenanceHandler {
	return &MaintenanceHandler{sweeper: sweeper, db: db, log: log}
}

// Sweep runs one expiration sweep on demand.
func (h *MaintenanceHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	n, err := h.sweeper.SweepExpired(r.Context())
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]int{"expired": n})
}

func (h *MaintenanceHandler) Health(w http.ResponseWriter, r *http.Request) {
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(r.Context())
	}
	if err != nil {
		h.log.Warn("health check failed", zap.Error(err))
		httpx.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
