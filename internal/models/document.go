package models

// DocumentStatus is the projection of a document's current request.
type DocumentStatus string

const (
	DocumentStatusDraft            DocumentStatus = "draft"
	DocumentStatusPendingSignature DocumentStatus = "pending_signature"
	DocumentStatusInProgress       DocumentStatus = "in_progress"
	DocumentStatusCompleted        DocumentStatus = "completed"
	DocumentStatusExpired          DocumentStatus = "expired"
)

// Document is a renderable target with a fixed number of pages.
// Templates are documents with IsTemplate set; they are cloned, never sent.
type Document struct {
	Base

	Title      string  `gorm:"size:255;not null" json:"title"`
	PageCount  int     `gorm:"not null" json:"page_count"`
	IsTemplate bool    `gorm:"not null;default:false" json:"is_template"`
	TemplateID *string `gorm:"type:varchar(36);index" json:"template_id,omitempty"`
	CreatedBy  string  `gorm:"size:255" json:"created_by,omitempty"`

	// Projection columns, rewritten only alongside the signer or request
	// write that changes them.
	Status           DocumentStatus `gorm:"size:30;not null;default:'draft'" json:"status"`
	TotalSigners     int            `gorm:"not null;default:0" json:"total_signers"`
	CompletedSigners int            `gorm:"not null;default:0" json:"completed_signers"`
	CurrentRequestID *string        `gorm:"type:varchar(36);index" json:"current_request_id,omitempty"`

	Fields []SignatureField `gorm:"foreignKey:DocumentID" json:"fields,omitempty"`
}

// FieldsOnPage returns the fields placed on the given page.
func (d *Document) FieldsOnPage(page int) []SignatureField {
	var out []SignatureField
	for _, f := range d.Fields {
		if f.PageNumber == page {
			out = append(out, f)
		}
	}
	return out
}

// MaxFieldPage returns the highest page number carrying a field, or 0.
func (d *Document) MaxFieldPage() int {
	maxPage := 0
	for _, f := range d.Fields {
		if f.PageNumber > maxPage {
			maxPage = f.PageNumber
		}
	}
	return maxPage
}

// DeriveDocumentStatus computes a document's status from its request status
// and signer counts. An empty or draft status means the document was never sent.
func DeriveDocumentStatus(req RequestStatus, total, signed int) DocumentStatus {
	switch req {
	case RequestStatusCompleted:
		return DocumentStatusCompleted
	case RequestStatusExpired:
		return DocumentStatusExpired
	case RequestStatusSent, RequestStatusInProgress:
		if signed == 0 {
			return DocumentStatusPendingSignature
		}
		if signed < total {
			return DocumentStatusInProgress
		}
		// All signed but the completion transition has not landed yet.
		return DocumentStatusInProgress
	default:
		return DocumentStatusDraft
	}
}
