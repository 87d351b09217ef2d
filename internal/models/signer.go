package models

import (
	"time"

	"gorm.io/datatypes"
)

// SignerStatus is the lifecycle state of one party on a request.
type SignerStatus string

const (
	SignerStatusPending SignerStatus = "pending"
	SignerStatusSent    SignerStatus = "sent"
	SignerStatusOpened  SignerStatus = "opened"
	SignerStatusSigned  SignerStatus = "signed"
	SignerStatusExpired SignerStatus = "expired"
)

// OpenSignerStatuses are the statuses of signers that have not finished.
var OpenSignerStatuses = []SignerStatus{SignerStatusPending, SignerStatusSent, SignerStatusOpened}

// IsTerminal returns true for signed and expired.
func (s SignerStatus) IsTerminal() bool {
	return s == SignerStatusSigned || s == SignerStatusExpired
}

// IsOpen returns true for pending, sent and opened.
func (s SignerStatus) IsOpen() bool {
	return s == SignerStatusPending || s == SignerStatusSent || s == SignerStatusOpened
}

// SignerRole describes why a party takes part in the request.
type SignerRole string

const (
	SignerRoleSigner         SignerRole = "signer"
	SignerRoleBeneficiary    SignerRole = "beneficiary"
	SignerRoleWitness        SignerRole = "witness"
	SignerRoleRepresentative SignerRole = "representative"
)

// SignerRoles lists every accepted role.
var SignerRoles = []SignerRole{SignerRoleSigner, SignerRoleBeneficiary, SignerRoleWitness, SignerRoleRepresentative}

// Valid reports whether r is a known role.
func (r SignerRole) Valid() bool {
	for _, sr := range SignerRoles {
		if r == sr {
			return true
		}
	}
	return false
}

// Signer is one party required to act on a request. Signers authenticate
// with access tokens; only token digests are persisted (see AccessToken).
type Signer struct {
	Base

	SignatureRequestID string       `gorm:"type:varchar(36);index;not null" json:"signature_request_id"`
	Name               string       `gorm:"size:255;not null" json:"name"`
	Email              string       `gorm:"size:255;not null" json:"email"`
	Phone              string       `gorm:"size:50" json:"phone,omitempty"`
	Role               SignerRole   `gorm:"size:20;not null" json:"role"`
	Status             SignerStatus `gorm:"size:20;not null;default:'pending';index" json:"status"`

	ExpiresAt  *time.Time `gorm:"index" json:"expires_at,omitempty"`
	OpenedAt   *time.Time `json:"opened_at,omitempty"`
	RemindedAt *time.Time `json:"reminded_at,omitempty"`
	SignedAt   *time.Time `json:"signed_at,omitempty"`

	SignatureData *string `gorm:"type:text" json:"signature_data,omitempty"`
	// Metadata holds client identification captured while signing.
	Metadata datatypes.JSON `json:"metadata,omitempty"`
}

// IsSigned returns true once the signer has submitted.
func (s *Signer) IsSigned() bool {
	return s.Status == SignerStatusSigned
}

// IsExpiredAt reports whether the signer deadline has passed at now.
func (s *Signer) IsExpiredAt(now time.Time) bool {
	return IsPast(s.ExpiresAt, now)
}

// CanSign reports whether a submission at now may be accepted.
func (s *Signer) CanSign(now time.Time) bool {
	return (s.Status == SignerStatusSent || s.Status == SignerStatusOpened) && !s.IsExpiredAt(now)
}

// AccessToken records one issued signer credential. The raw token is handed
// out once; only its keyed digest is kept. Rows are never deleted so a digest
// can never be issued twice.
type AccessToken struct {
	ID            uint       `gorm:"primaryKey" json:"id"`
	CreatedAt     time.Time  `json:"created_at"`
	SignerID      string     `gorm:"type:varchar(36);index;not null" json:"signer_id"`
	Digest        string     `gorm:"size:64;uniqueIndex;not null" json:"-"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	InvalidatedAt *time.Time `json:"invalidated_at,omitempty"`
}

// Usable reports whether the token may still authenticate at now.
func (t *AccessToken) Usable(now time.Time) bool {
	return t.InvalidatedAt == nil && !IsPast(t.ExpiresAt, now)
}
