// Package models holds the persisted records of the signing workflow.
package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Base is embedded by every record addressed by an opaque string id.
type Base struct {
	ID        string    `gorm:"type:varchar(36);primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns a random UUID when the caller did not set one.
func (b *Base) BeforeCreate(tx *gorm.DB) error {
	if b.ID == "" {
		b.ID = uuid.NewString()
	}
	return nil
}

// All lists the models migrated by AutoMigrate, parents first.
func All() []any {
	return []any{
		&Document{},
		&SignatureField{},
		&SignatureRequest{},
		&Signer{},
		&AccessToken{},
		&DocumentEvent{},
	}
}

// IsPast reports whether a deadline exists and now is strictly after it.
// Both the signing path and the expiration sweep decide validity with it, so
// at exactly the deadline the record is still valid.
func IsPast(deadline *time.Time, now time.Time) bool {
	return deadline != nil && now.After(*deadline)
}
