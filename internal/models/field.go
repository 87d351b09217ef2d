package models

import "time"

// FieldType selects how a field is rendered and validated at signing time.
type FieldType string

const (
	FieldTypeSignature FieldType = "signature"
	FieldTypeInitials  FieldType = "initials"
	FieldTypeDate      FieldType = "date"
	FieldTypeText      FieldType = "text"
	FieldTypeCheckbox  FieldType = "checkbox"
)

// FieldTypes lists every supported field type.
var FieldTypes = []FieldType{FieldTypeSignature, FieldTypeInitials, FieldTypeDate, FieldTypeText, FieldTypeCheckbox}

// Valid reports whether t is a known field type.
func (t FieldType) Valid() bool {
	for _, ft := range FieldTypes {
		if t == ft {
			return true
		}
	}
	return false
}

// CapturesSignature reports whether the field holds a drawn or typed mark.
func (t FieldType) CapturesSignature() bool {
	return t == FieldTypeSignature || t == FieldTypeInitials
}

// SignatureField is a placeholder on one page of a document. Geometry is
// stored in page-reference units, independent of the zoom it was drawn at.
type SignatureField struct {
	Base

	DocumentID string    `gorm:"type:varchar(36);index;not null" json:"document_id"`
	PageNumber int       `gorm:"not null" json:"page_number"`
	FieldType  FieldType `gorm:"size:20;not null" json:"field_type"`

	X      float64 `gorm:"not null" json:"x"`
	Y      float64 `gorm:"not null" json:"y"`
	Width  float64 `gorm:"not null" json:"width"`
	Height float64 `gorm:"not null" json:"height"`

	IsRequired      bool       `gorm:"not null" json:"is_required"`
	PlaceholderText string     `gorm:"size:255" json:"placeholder_text,omitempty"`
	Value           *string    `gorm:"type:text" json:"value,omitempty"`
	FilledAt        *time.Time `json:"filled_at,omitempty"`

	AssignedSignerID *string `gorm:"type:varchar(36);index" json:"assigned_signer_id,omitempty"`
}

// IsFilled reports whether a value has been written.
func (f *SignatureField) IsFilled() bool {
	return f.Value != nil
}

// AssignedTo reports whether the field belongs to the given signer.
func (f *SignatureField) AssignedTo(signerID string) bool {
	return f.AssignedSignerID != nil && *f.AssignedSignerID == signerID
}
