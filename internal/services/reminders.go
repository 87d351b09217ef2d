package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/diewo77/go-esign/internal/models"
	"github.com/diewo77/go-esign/internal/notify"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// IsReminderEligible reports whether signer may be reminded at now. The
// interval is the same for every open status.
func IsReminderEligible(signer *models.Signer, now time.Time, interval time.Duration) bool {
	if !signer.Status.IsOpen() {
		return false
	}
	if signer.RemindedAt == nil {
		return true
	}
	return now.Sub(*signer.RemindedAt) >= interval
}

// RemindEligibleSigners returns the signers of an active request that may be
// reminded now. Dispatch is up to the caller.
func (o *Orchestrator) RemindEligibleSigners(ctx context.Context, requestID string) ([]models.Signer, error) {
	db := o.db.WithContext(ctx)
	var req models.SignatureRequest
	if err := db.First(&req, "id = ?", requestID).Error; err != nil {
		return nil, notFound(err)
	}
	now := o.settings.now()
	if !req.Status.IsActive() || req.IsExpiredAt(now) {
		return nil, nil
	}
	var signers []models.Signer
	if err := db.Where("signature_request_id = ? AND status IN ?", requestID, models.OpenSignerStatuses).
		Order("created_at ASC, id ASC").Find(&signers).Error; err != nil {
		return nil, err
	}
	eligible := signers[:0]
	for i := range signers {
		s := &signers[i]
		if s.IsExpiredAt(now) {
			continue
		}
		if IsReminderEligible(s, now, o.settings.ReminderInterval) {
			eligible = append(eligible, *s)
		}
	}
	return eligible, nil
}

// ReminderFailure records why one signer was not reminded.
type ReminderFailure struct {
	SignerID string `json:"signer_id"`
	Error    string `json:"error"`
}

// ReminderReport is the outcome of a bulk reminder.
type ReminderReport struct {
	Reminded []string          `json:"reminded"`
	Failed   []ReminderFailure `json:"failed,omitempty"`
}

var errNotDelivered = errors.New("no channel accepted the reminder")

// SendReminders reminds every eligible signer of the request. Each signer is
// handled on its own: a fresh link is issued and sent on the request's
// channels, then remindedAt is stamped with a reminded event. A failure for
// one signer is reported and the others continue.
func (o *Orchestrator) SendReminders(ctx context.Context, requestID string) (*ReminderReport, error) {
	eligible, err := o.RemindEligibleSigners(ctx, requestID)
	if err != nil {
		return nil, err
	}
	report := &ReminderReport{Reminded: []string{}}
	if len(eligible) == 0 {
		return report, nil
	}
	var req models.SignatureRequest
	if err := o.db.WithContext(ctx).First(&req, "id = ?", requestID).Error; err != nil {
		return nil, notFound(err)
	}
	var channels []string
	if len(req.Channels) > 0 {
		if err := json.Unmarshal(req.Channels, &channels); err != nil {
			o.log.Warn("unreadable channel list", zap.String("request_id", req.ID), zap.Error(err))
		}
	}
	for i := range eligible {
		s := &eligible[i]
		if err := o.remindOne(ctx, &req, s, channels); err != nil {
			o.log.Warn("reminder failed",
				zap.String("request_id", req.ID),
				zap.String("signer_id", s.ID),
				zap.Error(err),
			)
			report.Failed = append(report.Failed, ReminderFailure{SignerID: s.ID, Error: err.Error()})
			continue
		}
		report.Reminded = append(report.Reminded, s.ID)
	}
	o.log.Info("reminders processed",
		zap.String("request_id", req.ID),
		zap.Int("reminded", len(report.Reminded)),
		zap.Int("failed", len(report.Failed)),
	)
	return report, nil
}

func (o *Orchestrator) remindOne(ctx context.Context, req *models.SignatureRequest, s *models.Signer, channels []string) error {
	token, err := o.tokens.Issue(ctx, s.ID, o.settings.TokenTTL)
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	link := notify.SigningLink(o.settings.PublicBaseURL, token)
	delivered := 0
	var lastErr error
	for _, ch := range channels {
		if o.notifier == nil {
			break
		}
		err := o.notifier.Notify(ctx, notify.Message{
			Kind:         notify.KindReminder,
			Channel:      ch,
			RequestID:    req.ID,
			RequestTitle: req.Title,
			SignerID:     s.ID,
			Recipient:    s.Name,
			Email:        s.Email,
			Phone:        s.Phone,
			Link:         link,
		})
		if err != nil {
			lastErr = err
			continue
		}
		delivered++
	}
	if delivered == 0 {
		if rerr := o.tokens.revoke(ctx, token); rerr != nil {
			o.log.Warn("revoke undelivered token", zap.String("signer_id", s.ID), zap.Error(rerr))
		}
		if lastErr != nil {
			return fmt.Errorf("%w: %v", errNotDelivered, lastErr)
		}
		return errNotDelivered
	}
	return o.markReminded(ctx, req.ID, s.ID)
}

// markReminded stamps remindedAt if the signer is still eligible. The check
// is repeated under the request lock so concurrent reminders write one event.
func (o *Orchestrator) markReminded(ctx context.Context, requestID, signerID string) error {
	now := o.settings.now()
	return o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if _, err := lockRequest(tx, requestID); err != nil {
			return err
		}
		var signer models.Signer
		if err := tx.First(&signer, "id = ?", signerID).Error; err != nil {
			return notFound(err)
		}
		if !IsReminderEligible(&signer, now, o.settings.ReminderInterval) {
			return nil
		}
		if err := tx.Model(&signer).Update("reminded_at", now).Error; err != nil {
			return err
		}
		return appendEvent(tx, requestID, ptr(signerID), models.EventReminded, now, nil)
	})
}
