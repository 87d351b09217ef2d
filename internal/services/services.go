// Package services implements the signature workflow: document authoring,
// access tokens, the request state machine, reminders and expiration.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/diewo77/go-esign/internal/models"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Clock returns the current time.
type Clock func() time.Time

// SystemClock is the wall clock in UTC.
func SystemClock() time.Time { return time.Now().UTC() }

// Settings are the workflow parameters shared by the services.
type Settings struct {
	TokenTTL         time.Duration
	ReminderInterval time.Duration
	PublicBaseURL    string
	Clock            Clock
}

func (s Settings) now() time.Time {
	if s.Clock == nil {
		return SystemClock()
	}
	return s.Clock().UTC()
}

// forUpdate adds a row lock on PostgreSQL. SQLite transactions are opened
// IMMEDIATE and already hold the database write lock.
func forUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// lockRequest loads a request and locks its row for the rest of tx. Every
// transition of the request or its signers goes through this lock, so the
// sweep, signing and completion never interleave on one request.
func lockRequest(tx *gorm.DB, id string) (*models.SignatureRequest, error) {
	var req models.SignatureRequest
	if err := forUpdate(tx).First(&req, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &req, nil
}

func toJSON(v map[string]any) datatypes.JSON {
	if len(v) == 0 {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// appendEvent writes one audit entry inside tx.
func appendEvent(tx *gorm.DB, requestID string, signerID *string, typ models.EventType, at time.Time, meta map[string]any) error {
	ev := models.DocumentEvent{
		SignatureRequestID: requestID,
		SignerID:           signerID,
		EventType:          typ,
		Timestamp:          at,
		Metadata:           toJSON(meta),
	}
	return tx.Create(&ev).Error
}

// refreshProjection rewrites the document status columns from the request
// and its signers. It must run in the transaction that changed them.
func refreshProjection(tx *gorm.DB, req *models.SignatureRequest) error {
	var total, signed int64
	if err := tx.Model(&models.Signer{}).Where("signature_request_id = ?", req.ID).Count(&total).Error; err != nil {
		return err
	}
	if err := tx.Model(&models.Signer{}).
		Where("signature_request_id = ? AND status = ?", req.ID, models.SignerStatusSigned).
		Count(&signed).Error; err != nil {
		return err
	}
	status := models.DeriveDocumentStatus(req.Status, int(total), int(signed))
	return tx.Model(&models.Document{}).
		Where("id = ? AND current_request_id = ?", req.DocumentID, req.ID).
		Updates(map[string]any{
			"status":            status,
			"total_signers":     total,
			"completed_signers": signed,
		}).Error
}

// ListEvents returns a request's audit trail in append order.
func ListEvents(ctx context.Context, db *gorm.DB, requestID string) ([]models.DocumentEvent, error) {
	var events []models.DocumentEvent
	err := db.WithContext(ctx).
		Where("signature_request_id = ?", requestID).
		Order("id ASC").
		Find(&events).Error
	return events, err
}

func ptr[T any](v T) *T { return &v }
