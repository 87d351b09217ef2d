package models

import (
	"time"

	"gorm.io/datatypes"
)

// RequestStatus is the lifecycle state of a signature request.
type RequestStatus string

const (
	RequestStatusDraft      RequestStatus = "draft"
	RequestStatusSent       RequestStatus = "sent"
	RequestStatusInProgress RequestStatus = "in_progress"
	RequestStatusCompleted  RequestStatus = "completed"
	RequestStatusExpired    RequestStatus = "expired"
)

// IsTerminal returns true for completed and expired.
func (s RequestStatus) IsTerminal() bool {
	return s == RequestStatusCompleted || s == RequestStatusExpired
}

// IsActive returns true while signers can still act on the request.
func (s RequestStatus) IsActive() bool {
	return s == RequestStatusSent || s == RequestStatusInProgress
}

// ActiveRequestStatuses are the statuses guarded by conditional updates
// when a request completes or expires.
var ActiveRequestStatuses = []RequestStatus{RequestStatusSent, RequestStatusInProgress}

// SignatureRequest routes a document to its signers.
type SignatureRequest struct {
	Base

	DocumentID string        `gorm:"type:varchar(36);index;not null" json:"document_id"`
	Title      string        `gorm:"size:255;not null" json:"title"`
	Message    string        `gorm:"type:text" json:"message,omitempty"`
	Status     RequestStatus `gorm:"size:20;not null;default:'draft';index" json:"status"`
	CreatedBy  string        `gorm:"size:255;not null" json:"created_by"`

	ExpiresAt   *time.Time `gorm:"index" json:"expires_at,omitempty"`
	SentAt      *time.Time `json:"sent_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Channels is the opaque dispatch channel list given at send time.
	Channels datatypes.JSON `json:"channels,omitempty"`

	Signers []Signer `gorm:"foreignKey:SignatureRequestID" json:"signers,omitempty"`
}

// IsDraft returns true if the request has not been dispatched.
func (r *SignatureRequest) IsDraft() bool {
	return r.Status == RequestStatusDraft
}

// IsExpiredAt reports whether the request deadline has passed at now.
func (r *SignatureRequest) IsExpiredAt(now time.Time) bool {
	return IsPast(r.ExpiresAt, now)
}
