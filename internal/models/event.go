package models

import (
	"errors"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// EventType names an audit entry.
type EventType string

const (
	EventCreated   EventType = "created"
	EventSent      EventType = "sent"
	EventOpened    EventType = "opened"
	EventReminded  EventType = "reminded"
	EventSigned    EventType = "signed"
	EventCompleted EventType = "completed"
	EventExpired   EventType = "expired"
)

// ErrEventImmutable is returned when an audit entry is updated or deleted.
var ErrEventImmutable = errors.New("document_event_immutable")

// DocumentEvent is an append-only audit entry. The auto-increment id gives
// the append order for events sharing a timestamp.
type DocumentEvent struct {
	ID                 uint           `gorm:"primaryKey" json:"id"`
	SignatureRequestID string         `gorm:"type:varchar(36);index;not null" json:"signature_request_id"`
	SignerID           *string        `gorm:"type:varchar(36);index" json:"signer_id,omitempty"`
	EventType          EventType      `gorm:"size:20;not null;index" json:"event_type"`
	Timestamp          time.Time      `gorm:"not null" json:"timestamp"`
	Metadata           datatypes.JSON `json:"metadata,omitempty"`
}

func (e *DocumentEvent) BeforeUpdate(tx *gorm.DB) error { return ErrEventImmutable }

func (e *DocumentEvent) BeforeDelete(tx *gorm.DB) error { return ErrEventImmutable }
