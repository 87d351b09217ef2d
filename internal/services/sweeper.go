package services

import (
	"context"
	"fmt"
	"time"

	"github.com/diewo77/go-esign/internal/models"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Sweeper expires signers and requests whose deadline has passed.
type Sweeper struct {
	db       *gorm.DB
	tokens   *TokenManager
	log      *zap.Logger
	settings Settings
}

func NewSweeper(db *gorm.DB, tokens *TokenManager, log *zap.Logger, settings Settings) *Sweeper {
	return &Sweeper{
		db:       db,
		tokens:   tokens,
		log:      log.With(zap.String("service", "sweeper")),
		settings: settings,
	}
}

// SweepExpired expires every open signer and active request past its
// deadline and returns how many records changed. Each request is handled in
// its own transaction; a failing one is logged and skipped. The returned
// error is set only when the candidates could not be listed.
func (s *Sweeper) SweepExpired(ctx context.Context) (int, error) {
	now := s.settings.now()
	db := s.db.WithContext(ctx)

	var fromSigners []string
	if err := db.Model(&models.Signer{}).
		Where("status IN ? AND expires_at IS NOT NULL AND expires_at < ?", models.OpenSignerStatuses, now).
		Distinct().Pluck("signature_request_id", &fromSigners).Error; err != nil {
		return 0, fmt.Errorf("list expired signers: %w", err)
	}
	var fromRequests []string
	if err := db.Model(&models.SignatureRequest{}).
		Where("status IN ? AND expires_at IS NOT NULL AND expires_at < ?", models.ActiveRequestStatuses, now).
		Pluck("id", &fromRequests).Error; err != nil {
		return 0, fmt.Errorf("list expired requests: %w", err)
	}

	seen := map[string]bool{}
	total := 0
	for _, id := range append(fromSigners, fromRequests...) {
		if seen[id] {
			continue
		}
		seen[id] = true
		if ctx.Err() != nil {
			break
		}
		n, err := s.sweepRequest(ctx, id, now)
		if err != nil {
			s.log.Error("sweep failed for request", zap.String("request_id", id), zap.Error(err))
			continue
		}
		total += n
	}
	if total > 0 {
		s.log.Info("sweep expired records", zap.Int("count", total))
	}
	return total, nil
}

// sweepRequest re-checks one request under its lock. Signers are expired on
// the same deadline predicate the signing path uses, so a signature accepted
// before the lock was taken is never expired afterwards.
func (s *Sweeper) sweepRequest(ctx context.Context, requestID string, now time.Time) (int, error) {
	count := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		count = 0
		req, err := lockRequest(tx, requestID)
		if err != nil {
			return err
		}
		var signers []models.Signer
		if err := tx.Where("signature_request_id = ? AND status IN ?", req.ID, models.OpenSignerStatuses).
			Order("created_at ASC, id ASC").Find(&signers).Error; err != nil {
			return err
		}

		requestPast := req.IsExpiredAt(now)
		anySignerPast := false
		for i := range signers {
			if signers[i].IsExpiredAt(now) {
				anySignerPast = true
				break
			}
		}
		// A request whose signer can no longer sign can no longer complete.
		expireRequest := req.Status.IsActive() && (requestPast || anySignerPast)

		for i := range signers {
			sg := &signers[i]
			if !sg.IsExpiredAt(now) && !expireRequest {
				continue
			}
			if sg.Status == models.SignerStatusPending && req.IsDraft() {
				continue
			}
			n, err := s.expireSigner(tx, req.ID, sg, now)
			if err != nil {
				return err
			}
			count += n
		}

		if expireRequest {
			result := tx.Model(&models.SignatureRequest{}).
				Where("id = ? AND status IN ?", req.ID, models.ActiveRequestStatuses).
				Update("status", models.RequestStatusExpired)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 1 {
				req.Status = models.RequestStatusExpired
				count++
				if err := appendEvent(tx, req.ID, nil, models.EventExpired, now, nil); err != nil {
					return err
				}
			}
		}
		if count > 0 {
			return refreshProjection(tx, req)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Sweeper) expireSigner(tx *gorm.DB, requestID string, sg *models.Signer, now time.Time) (int, error) {
	result := tx.Model(&models.Signer{}).
		Where("id = ? AND status IN ?", sg.ID, models.OpenSignerStatuses).
		Update("status", models.SignerStatusExpired)
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected == 0 {
		return 0, nil
	}
	if err := s.tokens.invalidateTx(tx, sg.ID); err != nil {
		return 0, err
	}
	meta := map[string]any{"previous_status": string(sg.Status)}
	if err := appendEvent(tx, requestID, ptr(sg.ID), models.EventExpired, now, meta); err != nil {
		return 0, err
	}
	return 1, nil
}

// Scheduler runs the sweep on a fixed interval.
type Scheduler struct {
	sweeper  *Sweeper
	interval time.Duration
	log      *zap.Logger

	running atomic.Bool
	runs    atomic.Int64
	expired atomic.Int64
}

func NewScheduler(sweeper *Sweeper, interval time.Duration, log *zap.Logger) *Scheduler {
	return &Scheduler{sweeper: sweeper, interval: interval, log: log.With(zap.String("component", "sweep_scheduler"))}
}

// Runs returns how many sweeps have completed.
func (s *Scheduler) Runs() int64 { return s.runs.Load() }

// Expired returns the total records expired by this scheduler.
func (s *Scheduler) Expired() int64 { return s.expired.Load() }

// Tick runs one sweep unless another is still in progress.
func (s *Scheduler) Tick(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		s.log.Debug("previous sweep still running, skipping")
		return false
	}
	defer s.running.Store(false)
	n, err := s.sweeper.SweepExpired(ctx)
	if err != nil {
		s.log.Error("sweep failed", zap.Error(err))
		return false
	}
	s.runs.Inc()
	s.expired.Add(int64(n))
	return true
}

// Run sweeps every interval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	if s.interval <= 0 {
		s.log.Info("sweep scheduler disabled")
		return
	}
	s.log.Info("sweep scheduler started", zap.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.Tick(ctx)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("sweep scheduler stopped", zap.Int64("runs", s.Runs()))
			return
		case <-ticker.C:
			go s.Tick(ctx)
		}
	}
}
