package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/diewo77/go-esign/internal/geometry"
	"github.com/diewo77/go-esign/internal/models"
	"github.com/diewo77/go-esign/validation"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DocumentService owns documents, templates and field authoring. Every
// geometry change goes through the geometry package so stored coordinates
// stay in page-reference units.
type DocumentService struct {
	db  *gorm.DB
	log *zap.Logger
}

func NewDocumentService(db *gorm.DB, log *zap.Logger) *DocumentService {
	return &DocumentService{db: db, log: log.With(zap.String("service", "documents"))}
}

// CreateDocumentInput describes a new document or template.
type CreateDocumentInput struct {
	Title      string
	PageCount  int
	IsTemplate bool
	CreatedBy  string
}

func validateDocument(title string, pageCount int) error {
	v := validation.Violations{}
	validation.Required("title", title, v)
	validation.PositiveInt("page_count", pageCount, v)
	if !v.Empty() {
		return fmt.Errorf("%w: %s", ErrInvalidDocument, formatViolations(v))
	}
	return nil
}

// Create stores an empty document.
func (s *DocumentService) Create(ctx context.Context, in CreateDocumentInput) (*models.Document, error) {
	if err := validateDocument(in.Title, in.PageCount); err != nil {
		return nil, err
	}
	doc := models.Document{
		Title:      strings.TrimSpace(in.Title),
		PageCount:  in.PageCount,
		IsTemplate: in.IsTemplate,
		CreatedBy:  in.CreatedBy,
		Status:     models.DocumentStatusDraft,
	}
	if err := s.db.WithContext(ctx).Create(&doc).Error; err != nil {
		return nil, err
	}
	s.log.Info("document created", zap.String("document_id", doc.ID), zap.Bool("template", doc.IsTemplate))
	return &doc, nil
}

func loadDocument(tx *gorm.DB, id string) (*models.Document, error) {
	var doc models.Document
	err := tx.Preload("Fields", func(db *gorm.DB) *gorm.DB {
		return db.Order("page_number ASC, created_at ASC, id ASC")
	}).First(&doc, "id = ?", id).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &doc, nil
}

// Get returns a document with its fields ordered by page.
func (s *DocumentService) Get(ctx context.Context, id string) (*models.Document, error) {
	return loadDocument(s.db.WithContext(ctx), id)
}

// editable loads the document for authoring inside tx. Authoring stops once
// the current request has been sent. The current request stays locked until
// tx ends so a concurrent send sees the edit.
func editable(tx *gorm.DB, id string) (*models.Document, *models.SignatureRequest, error) {
	var doc models.Document
	if err := forUpdate(tx).First(&doc, "id = ?", id).Error; err != nil {
		return nil, nil, notFound(err)
	}
	if doc.CurrentRequestID == nil {
		return &doc, nil, nil
	}
	req, err := lockRequest(tx, *doc.CurrentRequestID)
	if err != nil {
		return nil, nil, err
	}
	if req.Status.IsActive() || req.Status == models.RequestStatusCompleted {
		return nil, nil, fmt.Errorf("%w: request is %s", ErrDocumentLocked, req.Status)
	}
	return &doc, req, nil
}

func countFields(tx *gorm.DB, docID string) (int64, error) {
	var n int64
	err := tx.Model(&models.SignatureField{}).Where("document_id = ?", docID).Count(&n).Error
	return n, err
}

func loadField(tx *gorm.DB, docID, fieldID string) (*models.SignatureField, error) {
	var f models.SignatureField
	if err := tx.First(&f, "id = ? AND document_id = ?", fieldID, docID).Error; err != nil {
		return nil, notFound(err)
	}
	if f.IsFilled() {
		return nil, ErrFieldLocked
	}
	return &f, nil
}

// SetPageCount changes the page count, refusing to orphan a field.
func (s *DocumentService) SetPageCount(ctx context.Context, id string, pageCount int) error {
	if pageCount < 1 {
		return fmt.Errorf("%w: page count %d", ErrInvalidPage, pageCount)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, _, err := editable(tx, id)
		if err != nil {
			return err
		}
		var maxPage int
		if err := tx.Model(&models.SignatureField{}).
			Where("document_id = ?", id).
			Select("COALESCE(MAX(page_number), 0)").
			Scan(&maxPage).Error; err != nil {
			return err
		}
		if maxPage > pageCount {
			return fmt.Errorf("%w: a field sits on page %d", ErrInvalidPage, maxPage)
		}
		return tx.Model(doc).Update("page_count", pageCount).Error
	})
}

// PlaceFieldInput is a placement gesture captured by the editor.
type PlaceFieldInput struct {
	PageNumber       int
	PointerX         float64
	PointerY         float64
	Zoom             float64
	FieldType        models.FieldType
	IsRequired       *bool
	PlaceholderText  *string
	AssignedSignerID *string
}

// PlaceField converts the gesture and stores the new field.
func (s *DocumentService) PlaceField(ctx context.Context, docID string, in PlaceFieldInput) (*models.SignatureField, error) {
	var out models.SignatureField
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, _, err := editable(tx, docID)
		if err != nil {
			return err
		}
		f, err := geometry.PlaceField(doc.PageCount, in.PageNumber, in.PointerX, in.PointerY, in.Zoom, in.FieldType)
		if err != nil {
			return err
		}
		f.DocumentID = doc.ID
		if in.IsRequired != nil {
			f.IsRequired = *in.IsRequired
		}
		if in.PlaceholderText != nil {
			f.PlaceholderText = *in.PlaceholderText
		}
		if in.AssignedSignerID != nil {
			if err := checkAssignee(tx, doc, *in.AssignedSignerID); err != nil {
				return err
			}
			f.AssignedSignerID = in.AssignedSignerID
		}
		if err := tx.Create(&f).Error; err != nil {
			return err
		}
		out = f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// checkAssignee requires the signer to belong to the document's current request.
func checkAssignee(tx *gorm.DB, doc *models.Document, signerID string) error {
	if doc.CurrentRequestID == nil {
		return fmt.Errorf("%w: document has no request to assign signers from", ErrInvalidSigner)
	}
	var n int64
	if err := tx.Model(&models.Signer{}).
		Where("id = ? AND signature_request_id = ?", signerID, *doc.CurrentRequestID).
		Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: signer %s is not on the current request", ErrInvalidSigner, signerID)
	}
	return nil
}

func (s *DocumentService) updateField(ctx context.Context, docID, fieldID string, apply func(tx *gorm.DB, doc *models.Document, f *models.SignatureField) error) (*models.SignatureField, error) {
	var out models.SignatureField
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, _, err := editable(tx, docID)
		if err != nil {
			return err
		}
		f, err := loadField(tx, docID, fieldID)
		if err != nil {
			return err
		}
		if err := apply(tx, doc, f); err != nil {
			return err
		}
		if err := tx.Save(f).Error; err != nil {
			return err
		}
		out = *f
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// MoveField puts the field's corner under the pointer. The page never changes.
func (s *DocumentService) MoveField(ctx context.Context, docID, fieldID string, pointerX, pointerY, zoom float64) (*models.SignatureField, error) {
	return s.updateField(ctx, docID, fieldID, func(_ *gorm.DB, _ *models.Document, f *models.SignatureField) error {
		return geometry.MoveField(f, pointerX, pointerY, zoom)
	})
}

// ResizeField applies an on-screen size.
func (s *DocumentService) ResizeField(ctx context.Context, docID, fieldID string, width, height, zoom float64) (*models.SignatureField, error) {
	return s.updateField(ctx, docID, fieldID, func(_ *gorm.DB, _ *models.Document, f *models.SignatureField) error {
		return geometry.ResizeField(f, width, height, zoom)
	})
}

// FieldProperties are the non-geometric field attributes; nil leaves a value unchanged.
type FieldProperties struct {
	IsRequired       *bool
	PlaceholderText  *string
	AssignedSignerID *string
}

// UpdateFieldProperties changes required flag, placeholder or assignee.
// An empty AssignedSignerID clears the assignment.
func (s *DocumentService) UpdateFieldProperties(ctx context.Context, docID, fieldID string, p FieldProperties) (*models.SignatureField, error) {
	return s.updateField(ctx, docID, fieldID, func(tx *gorm.DB, doc *models.Document, f *models.SignatureField) error {
		if p.IsRequired != nil {
			f.IsRequired = *p.IsRequired
		}
		if p.PlaceholderText != nil {
			f.PlaceholderText = *p.PlaceholderText
		}
		if p.AssignedSignerID != nil {
			if *p.AssignedSignerID == "" {
				f.AssignedSignerID = nil
				return nil
			}
			if err := checkAssignee(tx, doc, *p.AssignedSignerID); err != nil {
				return err
			}
			f.AssignedSignerID = ptr(*p.AssignedSignerID)
		}
		return nil
	})
}

// DeleteField removes an unfilled field. A document with a draft request
// keeps at least one field.
func (s *DocumentService) DeleteField(ctx context.Context, docID, fieldID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, req, err := editable(tx, docID)
		if err != nil {
			return err
		}
		f, err := loadField(tx, docID, fieldID)
		if err != nil {
			return err
		}
		if req != nil && req.IsDraft() {
			n, err := countFields(tx, docID)
			if err != nil {
				return err
			}
			if n <= 1 {
				return fmt.Errorf("%w: request %s needs the last field", ErrNoFieldsDefined, req.ID)
			}
		}
		return tx.Delete(f).Error
	})
}

// CloneTemplate creates a sendable document from a template, copying its
// pages and field layout without assignments or values.
func (s *DocumentService) CloneTemplate(ctx context.Context, templateID, title, createdBy string) (*models.Document, error) {
	var out *models.Document
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		tpl, err := loadDocument(tx, templateID)
		if err != nil {
			return err
		}
		if !tpl.IsTemplate {
			return fmt.Errorf("%w: %s is not a template", ErrInvalidDocument, templateID)
		}
		if strings.TrimSpace(title) == "" {
			title = tpl.Title
		}
		doc := models.Document{
			Title:      strings.TrimSpace(title),
			PageCount:  tpl.PageCount,
			TemplateID: ptr(tpl.ID),
			CreatedBy:  createdBy,
			Status:     models.DocumentStatusDraft,
		}
		if err := tx.Create(&doc).Error; err != nil {
			return err
		}
		if err := copyLayout(tx, tpl.Fields, &doc); err != nil {
			return err
		}
		out = &doc
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.Info("template cloned", zap.String("template_id", templateID), zap.String("document_id", out.ID))
	return out, nil
}

// copyLayout places a blank copy of fields on dst: same geometry and flags,
// no assignee and no value.
func copyLayout(tx *gorm.DB, fields []models.SignatureField, dst *models.Document) error {
	for _, f := range fields {
		clone := models.SignatureField{
			DocumentID:      dst.ID,
			PageNumber:      f.PageNumber,
			FieldType:       f.FieldType,
			X:               f.X,
			Y:               f.Y,
			Width:           f.Width,
			Height:          f.Height,
			IsRequired:      f.IsRequired,
			PlaceholderText: f.PlaceholderText,
		}
		if err := tx.Create(&clone).Error; err != nil {
			return err
		}
		dst.Fields = append(dst.Fields, clone)
	}
	return nil
}
