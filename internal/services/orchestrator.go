package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/diewo77/go-esign/internal/geometry"
	"github.com/diewo77/go-esign/internal/models"
	"github.com/diewo77/go-esign/internal/notify"
	"github.com/diewo77/go-esign/validation"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Orchestrator runs the signature request state machine.
type Orchestrator struct {
	db       *gorm.DB
	tokens   *TokenManager
	notifier notify.Notifier
	log      *zap.Logger
	settings Settings
}

func NewOrchestrator(db *gorm.DB, tokens *TokenManager, notifier notify.Notifier, log *zap.Logger, settings Settings) *Orchestrator {
	return &Orchestrator{
		db:       db,
		tokens:   tokens,
		notifier: notifier,
		log:      log.With(zap.String("service", "orchestrator")),
		settings: settings,
	}
}

// DocumentInput either names an existing document by ID or describes a new one.
type DocumentInput struct {
	ID        string
	Title     string
	PageCount int
}

// SignerInput describes one party. ExpiresAt overrides the request deadline.
type SignerInput struct {
	Name      string
	Email     string
	Phone     string
	Role      models.SignerRole
	ExpiresAt *time.Time
}

// FieldInput is a field in page-reference units. SignerIndex points into the
// request's signer list; a zero Width or Height takes the type default.
type FieldInput struct {
	PageNumber      int
	FieldType       models.FieldType
	X               float64
	Y               float64
	Width           float64
	Height          float64
	IsRequired      bool
	PlaceholderText string
	SignerIndex     *int
}

// CreateRequestInput is everything committed by CreateRequest.
type CreateRequestInput struct {
	Document  DocumentInput
	Title     string
	Message   string
	ExpiresAt *time.Time
	CreatedBy string
	Signers   []SignerInput
	Fields    []FieldInput
}

func (o *Orchestrator) validateCreate(in *CreateRequestInput, now time.Time) error {
	v := validation.Violations{}
	validation.Required("title", in.Title, v)
	validation.Required("created_by", in.CreatedBy, v)
	if in.ExpiresAt != nil && !in.ExpiresAt.After(now) {
		v.Add("expires_at", "must_be_in_future")
	}
	if in.Document.ID == "" {
		validation.PositiveInt("document.page_count", in.Document.PageCount, v)
	}
	if !v.Empty() {
		return fmt.Errorf("%w: %s", ErrInvalidRequest, formatViolations(v))
	}

	if len(in.Signers) == 0 {
		return &SignerError{Index: -1, Violations: validation.Violations{"signers": "required"}}
	}
	seen := map[string]int{}
	for i := range in.Signers {
		s := &in.Signers[i]
		s.Name = strings.TrimSpace(s.Name)
		s.Email = strings.ToLower(strings.TrimSpace(s.Email))
		if s.Role == "" {
			s.Role = models.SignerRoleSigner
		}
		sv := validation.Violations{}
		validation.Required("name", s.Name, sv)
		validation.Email("email", s.Email, sv)
		validation.OneOf("role", string(s.Role), choices(models.SignerRoles), sv)
		if s.ExpiresAt != nil && !s.ExpiresAt.After(now) {
			sv.Add("expires_at", "must_be_in_future")
		}
		if j, dup := seen[s.Email]; dup && s.Email != "" {
			sv.Add("email", fmt.Sprintf("duplicate_of_signer_%d", j))
		}
		seen[s.Email] = i
		if !sv.Empty() {
			return &SignerError{Index: i, Violations: sv}
		}
	}

	fieldTypes := choices(models.FieldTypes)
	for i, f := range in.Fields {
		key := fmt.Sprintf("fields[%d]", i)
		if f.PageNumber < 1 {
			return fmt.Errorf("%w: %s page %d", ErrInvalidPage, key, f.PageNumber)
		}
		validation.OneOf(key+".field_type", string(f.FieldType), fieldTypes, v)
		validation.NonNegativeFloat(key+".x", f.X, v)
		validation.NonNegativeFloat(key+".y", f.Y, v)
		validation.NonNegativeFloat(key+".width", f.Width, v)
		validation.NonNegativeFloat(key+".height", f.Height, v)
		if f.SignerIndex != nil {
			validation.RangeInt(key+".signer_index", *f.SignerIndex, 0, len(in.Signers)-1, v)
		}
	}
	if !v.Empty() {
		return fmt.Errorf("%w: %s", ErrInvalidField, formatViolations(v))
	}
	return nil
}

func choices[T ~string](values []T) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

// CreateRequest commits the request, its signers and fields as one unit.
// Nothing is visible to readers unless every record was written.
func (o *Orchestrator) CreateRequest(ctx context.Context, in CreateRequestInput) (*models.SignatureRequest, error) {
	now := o.settings.now()
	if err := o.validateCreate(&in, now); err != nil {
		return nil, err
	}
	var req models.SignatureRequest
	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		doc, err := o.prepareDocument(tx, in.Document, in.Title, in.CreatedBy)
		if err != nil {
			return err
		}
		for i, f := range in.Fields {
			if err := geometry.CheckPage(f.PageNumber, doc.PageCount); err != nil {
				return fmt.Errorf("fields[%d]: %w", i, err)
			}
		}
		var existing int64
		if err := tx.Model(&models.SignatureField{}).Where("document_id = ?", doc.ID).Count(&existing).Error; err != nil {
			return err
		}
		if existing == 0 && len(in.Fields) == 0 {
			return ErrNoFieldsDefined
		}

		req = models.SignatureRequest{
			DocumentID: doc.ID,
			Title:      strings.TrimSpace(in.Title),
			Message:    in.Message,
			Status:     models.RequestStatusDraft,
			CreatedBy:  in.CreatedBy,
			ExpiresAt:  utcPtr(in.ExpiresAt),
		}
		if err := tx.Create(&req).Error; err != nil {
			return err
		}

		signers := make([]models.Signer, len(in.Signers))
		for i, s := range in.Signers {
			expires := req.ExpiresAt
			if s.ExpiresAt != nil {
				expires = utcPtr(s.ExpiresAt)
			}
			signers[i] = models.Signer{
				SignatureRequestID: req.ID,
				Name:               s.Name,
				Email:              s.Email,
				Phone:              strings.TrimSpace(s.Phone),
				Role:               s.Role,
				Status:             models.SignerStatusPending,
				ExpiresAt:          expires,
			}
		}
		if err := tx.Create(&signers).Error; err != nil {
			return err
		}
		req.Signers = signers

		for _, f := range in.Fields {
			field := models.SignatureField{
				DocumentID:      doc.ID,
				PageNumber:      f.PageNumber,
				FieldType:       f.FieldType,
				X:               f.X,
				Y:               f.Y,
				Width:           f.Width,
				Height:          f.Height,
				IsRequired:      f.IsRequired,
				PlaceholderText: f.PlaceholderText,
			}
			size := geometry.DefaultSize(f.FieldType)
			if field.Width == 0 {
				field.Width = size.Width
			}
			if field.Height == 0 {
				field.Height = size.Height
			}
			if f.SignerIndex != nil {
				field.AssignedSignerID = ptr(signers[*f.SignerIndex].ID)
			}
			if err := tx.Create(&field).Error; err != nil {
				return err
			}
		}
		// With a single signer, every unfilled unassigned field is theirs.
		if len(signers) == 1 {
			if err := tx.Model(&models.SignatureField{}).
				Where("document_id = ? AND assigned_signer_id IS NULL AND value IS NULL", doc.ID).
				Update("assigned_signer_id", signers[0].ID).Error; err != nil {
				return err
			}
		}

		if err := tx.Model(doc).Updates(map[string]any{
			"current_request_id": req.ID,
			"status":             models.DocumentStatusDraft,
			"total_signers":      len(signers),
			"completed_signers":  0,
		}).Error; err != nil {
			return err
		}
		return appendEvent(tx, req.ID, nil, models.EventCreated, now, map[string]any{
			"created_by": in.CreatedBy,
			"signers":    len(signers),
		})
	})
	if err != nil {
		return nil, err
	}
	o.log.Info("signature request created",
		zap.String("request_id", req.ID),
		zap.String("document_id", req.DocumentID),
		zap.Int("signers", len(req.Signers)),
	)
	return &req, nil
}

// prepareDocument loads and checks an existing document or creates a new one.
// A document whose request expired keeps that request's fields, signers and
// values; the new request gets a fresh copy of its blank layout instead.
func (o *Orchestrator) prepareDocument(tx *gorm.DB, in DocumentInput, title, createdBy string) (*models.Document, error) {
	if in.ID == "" {
		docTitle := in.Title
		if strings.TrimSpace(docTitle) == "" {
			docTitle = title
		}
		doc := models.Document{
			Title:     strings.TrimSpace(docTitle),
			PageCount: in.PageCount,
			CreatedBy: createdBy,
			Status:    models.DocumentStatusDraft,
		}
		if err := tx.Create(&doc).Error; err != nil {
			return nil, err
		}
		return &doc, nil
	}
	var doc models.Document
	if err := forUpdate(tx).First(&doc, "id = ?", in.ID).Error; err != nil {
		return nil, notFound(err)
	}
	if doc.IsTemplate {
		return nil, fmt.Errorf("%w: templates must be cloned before sending", ErrInvalidDocument)
	}
	if doc.CurrentRequestID != nil {
		var current models.SignatureRequest
		if err := tx.Select("id", "status").First(&current, "id = ?", *doc.CurrentRequestID).Error; err != nil {
			return nil, notFound(err)
		}
		if current.Status != models.RequestStatusExpired {
			return nil, fmt.Errorf("%w: request %s is %s", ErrDocumentBusy, current.ID, current.Status)
		}
		return o.supersede(tx, &doc, current.ID, createdBy)
	}
	return &doc, nil
}

func (o *Orchestrator) supersede(tx *gorm.DB, old *models.Document, expiredRequestID, createdBy string) (*models.Document, error) {
	var fields []models.SignatureField
	if err := tx.Where("document_id = ?", old.ID).
		Order("page_number ASC, created_at ASC, id ASC").Find(&fields).Error; err != nil {
		return nil, err
	}
	doc := models.Document{
		Title:      old.Title,
		PageCount:  old.PageCount,
		TemplateID: old.TemplateID,
		CreatedBy:  createdBy,
		Status:     models.DocumentStatusDraft,
	}
	if err := tx.Create(&doc).Error; err != nil {
		return nil, err
	}
	if err := copyLayout(tx, fields, &doc); err != nil {
		return nil, err
	}
	o.log.Info("expired document copied for a new request",
		zap.String("document_id", old.ID),
		zap.String("expired_request_id", expiredRequestID),
		zap.String("new_document_id", doc.ID),
	)
	return &doc, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	return ptr(t.UTC())
}

// Invitation is a signer's fresh link, handed to dispatch once.
type Invitation struct {
	Signer models.Signer
	Token  string
	Link   string
}

func cleanChannels(channels []string) []string {
	var out []string
	seen := map[string]bool{}
	for _, c := range channels {
		c = strings.TrimSpace(c)
		if c == "" || seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

// SendRequest dispatches a draft request: one token per signer, every signer
// pending→sent, one sent event. Sending a request that already left draft is
// a no-op returning no invitations.
func (o *Orchestrator) SendRequest(ctx context.Context, requestID string, channels []string) ([]Invitation, error) {
	channels = cleanChannels(channels)
	if len(channels) == 0 {
		return nil, ErrNoChannels
	}
	now := o.settings.now()
	var invitations []Invitation
	var req *models.SignatureRequest
	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		req, err = lockRequest(tx, requestID)
		if err != nil {
			return err
		}
		if !req.IsDraft() {
			return nil
		}
		if req.IsExpiredAt(now) {
			return fmt.Errorf("%w: request deadline %s", ErrDeadlinePassed, req.ExpiresAt.Format(time.RFC3339))
		}
		fields, err := countFields(tx, req.DocumentID)
		if err != nil {
			return err
		}
		if fields == 0 {
			return fmt.Errorf("%w: document %s", ErrNoFieldsDefined, req.DocumentID)
		}
		var signers []models.Signer
		if err := tx.Where("signature_request_id = ?", req.ID).Order("created_at ASC, id ASC").Find(&signers).Error; err != nil {
			return err
		}
		for i := range signers {
			s := &signers[i]
			if s.Status != models.SignerStatusPending {
				continue
			}
			if s.IsExpiredAt(now) {
				return fmt.Errorf("%w: signer %s deadline passed", ErrDeadlinePassed, s.ID)
			}
			token, err := o.tokens.issueTx(tx, s, o.settings.TokenTTL)
			if err != nil {
				return err
			}
			if err := tx.Model(s).Where("status = ?", models.SignerStatusPending).
				Update("status", models.SignerStatusSent).Error; err != nil {
				return err
			}
			s.Status = models.SignerStatusSent
			invitations = append(invitations, Invitation{
				Signer: *s,
				Token:  token,
				Link:   notify.SigningLink(o.settings.PublicBaseURL, token),
			})
		}
		raw, _ := json.Marshal(channels)
		req.Status = models.RequestStatusSent
		req.SentAt = ptr(now)
		req.Channels = datatypes.JSON(raw)
		if err := tx.Model(req).Updates(map[string]any{
			"status":   req.Status,
			"sent_at":  now,
			"channels": req.Channels,
		}).Error; err != nil {
			return err
		}
		if err := refreshProjection(tx, req); err != nil {
			return err
		}
		return appendEvent(tx, req.ID, nil, models.EventSent, now, map[string]any{
			"channels": channels,
			"signers":  len(invitations),
		})
	})
	if err != nil {
		return nil, err
	}
	if invitations == nil {
		o.log.Info("send ignored, request not in draft", zap.String("request_id", requestID), zap.String("status", string(req.Status)))
		return nil, nil
	}
	o.dispatch(ctx, req, notify.KindInvitation, invitations, channels)
	o.log.Info("signature request sent", zap.String("request_id", req.ID), zap.Strings("channels", channels))
	return invitations, nil
}

// dispatch notifies every invitation on every channel. Failures are logged;
// the signer keeps a valid link and can be reminded later.
func (o *Orchestrator) dispatch(ctx context.Context, req *models.SignatureRequest, kind notify.Kind, invitations []Invitation, channels []string) {
	if o.notifier == nil {
		return
	}
	for _, inv := range invitations {
		for _, ch := range channels {
			err := o.notifier.Notify(ctx, notify.Message{
				Kind:         kind,
				Channel:      ch,
				RequestID:    req.ID,
				RequestTitle: req.Title,
				SignerID:     inv.Signer.ID,
				Recipient:    inv.Signer.Name,
				Email:        inv.Signer.Email,
				Phone:        inv.Signer.Phone,
				Link:         inv.Link,
			})
			if err != nil {
				o.log.Warn("notification failed",
					zap.String("request_id", req.ID),
					zap.String("signer_id", inv.Signer.ID),
					zap.String("channel", ch),
					zap.Error(err),
				)
			}
		}
	}
}

// ResolveSigner maps a token to its signer without changing anything.
func (o *Orchestrator) ResolveSigner(ctx context.Context, token string) (*Resolution, error) {
	return o.tokens.Resolve(ctx, token)
}

// ClientInfo identifies the device a signer acts from.
type ClientInfo struct {
	IP        string
	UserAgent string
}

func (c ClientInfo) meta() map[string]any {
	m := map[string]any{}
	if c.IP != "" {
		m["ip"] = c.IP
	}
	if c.UserAgent != "" {
		m["user_agent"] = c.UserAgent
	}
	return m
}

// OpenSigner resolves the token and records the first open: signer
// sent→opened with one opened event, request sent→in_progress. Opening again
// changes nothing.
func (o *Orchestrator) OpenSigner(ctx context.Context, token string, client ClientInfo) (*Resolution, error) {
	res, err := o.tokens.Resolve(ctx, token)
	if err != nil || res.AlreadySigned {
		return res, err
	}
	now := o.settings.now()
	var signer models.Signer
	err = o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		req, err := lockRequest(tx, res.Signer.SignatureRequestID)
		if err != nil {
			return err
		}
		if err := tx.First(&signer, "id = ?", res.Signer.ID).Error; err != nil {
			return notFound(err)
		}
		if signer.IsSigned() {
			return nil
		}
		if signer.Status == models.SignerStatusExpired || signer.IsExpiredAt(now) ||
			req.Status == models.RequestStatusExpired || req.IsExpiredAt(now) {
			return ErrTokenExpired
		}
		return o.openTx(tx, req, &signer, now, client.meta())
	})
	if err != nil {
		return nil, err
	}
	return &Resolution{Signer: signer, AlreadySigned: signer.IsSigned()}, nil
}

// openTx moves a sent signer to opened with one opened event, and the
// request to in_progress. Any other signer status is left alone.
func (o *Orchestrator) openTx(tx *gorm.DB, req *models.SignatureRequest, signer *models.Signer, now time.Time, meta map[string]any) error {
	if signer.Status != models.SignerStatusSent {
		return nil
	}
	result := tx.Model(&models.Signer{}).
		Where("id = ? AND status = ?", signer.ID, models.SignerStatusSent).
		Updates(map[string]any{"status": models.SignerStatusOpened, "opened_at": now})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return nil
	}
	signer.Status = models.SignerStatusOpened
	signer.OpenedAt = ptr(now)
	if err := appendEvent(tx, req.ID, ptr(signer.ID), models.EventOpened, now, meta); err != nil {
		return err
	}
	return o.markInProgress(tx, req)
}

// markInProgress moves a sent request to in_progress.
func (o *Orchestrator) markInProgress(tx *gorm.DB, req *models.SignatureRequest) error {
	result := tx.Model(&models.SignatureRequest{}).
		Where("id = ? AND status = ?", req.ID, models.RequestStatusSent).
		Update("status", models.RequestStatusInProgress)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 1 {
		req.Status = models.RequestStatusInProgress
	}
	return nil
}

// SubmitResult reports the outcome of a successful submission.
type SubmitResult struct {
	Signer           models.Signer
	RequestCompleted bool
}

// SubmitSignature validates and records a signer's field values and
// signature payload, then runs the completion check in the same
// transaction, after the signer's own write.
func (o *Orchestrator) SubmitSignature(ctx context.Context, signerID string, values map[string]string, signatureData string, client ClientInfo) (*SubmitResult, error) {
	now := o.settings.now()
	var out SubmitResult
	var req *models.SignatureRequest
	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var probe models.Signer
		if err := tx.Select("id", "signature_request_id").First(&probe, "id = ?", signerID).Error; err != nil {
			return notFound(err)
		}
		var err error
		req, err = lockRequest(tx, probe.SignatureRequestID)
		if err != nil {
			return err
		}
		var signer models.Signer
		if err := tx.First(&signer, "id = ?", signerID).Error; err != nil {
			return notFound(err)
		}
		switch {
		case signer.IsSigned():
			return ErrAlreadySigned
		case signer.Status == models.SignerStatusExpired, signer.IsExpiredAt(now),
			req.Status == models.RequestStatusExpired, req.IsExpiredAt(now):
			return ErrTokenExpired
		case !signer.CanSign(now) || !req.Status.IsActive():
			return fmt.Errorf("%w: signer is %s, request is %s", ErrNotSent, signer.Status, req.Status)
		}

		var fields []models.SignatureField
		if err := tx.Where("document_id = ?", req.DocumentID).Order("page_number ASC, id ASC").Find(&fields).Error; err != nil {
			return err
		}
		fills, err := collectFills(fields, signer.ID, values, signatureData)
		if err != nil {
			return err
		}
		for id, value := range fills {
			result := tx.Model(&models.SignatureField{}).
				Where("id = ? AND value IS NULL", id).
				Updates(map[string]any{"value": value, "filled_at": now})
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				return fmt.Errorf("%w: %s", ErrFieldLocked, id)
			}
		}

		// A signer who submits without opening the link first opens it here.
		openMeta := client.meta()
		openMeta["on_submit"] = true
		if err := o.openTx(tx, req, &signer, now, openMeta); err != nil {
			return err
		}

		meta := client.meta()
		meta["signed_at"] = now.Format(time.RFC3339Nano)
		updates := map[string]any{
			"status":    models.SignerStatusSigned,
			"signed_at": now,
			"metadata":  toJSON(meta),
		}
		if signatureData != "" {
			updates["signature_data"] = signatureData
		}
		result := tx.Model(&models.Signer{}).
			Where("id = ? AND status = ?", signer.ID, models.SignerStatusOpened).
			Updates(updates)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return ErrAlreadySigned
		}
		if err := appendEvent(tx, req.ID, ptr(signer.ID), models.EventSigned, now, client.meta()); err != nil {
			return err
		}
		if err := o.markInProgress(tx, req); err != nil {
			return err
		}
		completed, err := o.completeIfAllSigned(tx, req, now)
		if err != nil {
			return err
		}
		if err := refreshProjection(tx, req); err != nil {
			return err
		}
		if err := tx.First(&out.Signer, "id = ?", signer.ID).Error; err != nil {
			return err
		}
		out.RequestCompleted = completed
		return nil
	})
	if err != nil {
		return nil, err
	}
	o.log.Info("signature submitted",
		zap.String("request_id", req.ID),
		zap.String("signer_id", signerID),
		zap.Bool("request_completed", out.RequestCompleted),
	)
	if out.RequestCompleted {
		o.notifyCompleted(ctx, req)
	}
	return &out, nil
}

// completeIfAllSigned flips the request to completed when no signer is left
// unsigned. The update is guarded by the current status, so of two racing
// completions only one changes a row and writes the completed event.
func (o *Orchestrator) completeIfAllSigned(tx *gorm.DB, req *models.SignatureRequest, now time.Time) (bool, error) {
	var remaining int64
	if err := tx.Model(&models.Signer{}).
		Where("signature_request_id = ? AND status <> ?", req.ID, models.SignerStatusSigned).
		Count(&remaining).Error; err != nil {
		return false, err
	}
	if remaining > 0 {
		return false, nil
	}
	result := tx.Model(&models.SignatureRequest{}).
		Where("id = ? AND status IN ?", req.ID, models.ActiveRequestStatuses).
		Updates(map[string]any{"status": models.RequestStatusCompleted, "completed_at": now})
	if result.Error != nil {
		return false, result.Error
	}
	if result.RowsAffected == 0 {
		return false, nil
	}
	req.Status = models.RequestStatusCompleted
	req.CompletedAt = ptr(now)
	if err := appendEvent(tx, req.ID, nil, models.EventCompleted, now, nil); err != nil {
		return false, err
	}
	return true, nil
}

func (o *Orchestrator) notifyCompleted(ctx context.Context, req *models.SignatureRequest) {
	if o.notifier == nil {
		return
	}
	err := o.notifier.Notify(ctx, notify.Message{
		Kind:         notify.KindCompleted,
		RequestID:    req.ID,
		RequestTitle: req.Title,
		Recipient:    req.CreatedBy,
	})
	if err != nil {
		o.log.Warn("completion notification failed", zap.String("request_id", req.ID), zap.Error(err))
	}
}

// collectFills decides which field values a signer's submission writes.
// Fields assigned to the signer are validated by type and required flag;
// unassigned fields may be filled by any signer once.
func collectFills(fields []models.SignatureField, signerID string, values map[string]string, signatureData string) (map[string]string, error) {
	byID := make(map[string]*models.SignatureField, len(fields))
	for i := range fields {
		byID[fields[i].ID] = &fields[i]
	}
	v := validation.Violations{}
	for id := range values {
		f, ok := byID[id]
		switch {
		case !ok:
			v.Add(id, "unknown_field")
		case f.AssignedSignerID != nil && !f.AssignedTo(signerID):
			v.Add(id, "not_assigned_to_signer")
		case f.AssignedSignerID == nil && f.IsFilled():
			v.Add(id, "already_filled")
		}
	}

	fills := map[string]string{}
	var missing []string
	for i := range fields {
		f := &fields[i]
		mine := f.AssignedTo(signerID)
		if !mine && f.AssignedSignerID != nil {
			continue
		}
		value, given := values[f.ID]
		value = strings.TrimSpace(value)
		if value == "" && mine && f.FieldType.CapturesSignature() {
			value = strings.TrimSpace(signatureData)
		}
		if value == "" {
			if mine && f.IsRequired {
				missing = append(missing, f.ID)
			}
			continue
		}
		if !mine && (!given || f.IsFilled()) {
			continue
		}
		switch f.FieldType {
		case models.FieldTypeDate:
			validation.ISODate(f.ID, value, v)
		case models.FieldTypeCheckbox:
			validation.Bool(f.ID, value, v)
		}
		fills[f.ID] = value
	}
	if len(missing) > 0 {
		return nil, &MissingFieldsError{FieldIDs: missing}
	}
	if !v.Empty() {
		return nil, &FieldValueError{Violations: v}
	}
	return fills, nil
}

// RequestDetails is the read model of a request.
type RequestDetails struct {
	Request  models.SignatureRequest `json:"request"`
	Document models.Document         `json:"document"`
	Signers  []models.Signer         `json:"signers"`
	Fields   []models.SignatureField `json:"fields"`
}

// GetRequestWithDetails loads a request with its document, signers and fields.
func (o *Orchestrator) GetRequestWithDetails(ctx context.Context, requestID string) (*RequestDetails, error) {
	db := o.db.WithContext(ctx)
	var d RequestDetails
	if err := db.First(&d.Request, "id = ?", requestID).Error; err != nil {
		return nil, notFound(err)
	}
	if err := db.Where("signature_request_id = ?", requestID).Order("created_at ASC, id ASC").Find(&d.Signers).Error; err != nil {
		return nil, err
	}
	doc, err := loadDocument(db, d.Request.DocumentID)
	if err != nil {
		return nil, err
	}
	d.Fields = doc.Fields
	doc.Fields = nil
	d.Document = *doc
	return &d, nil
}

// DocumentOwner returns who created the document.
func (o *Orchestrator) DocumentOwner(ctx context.Context, documentID string) (string, error) {
	var doc models.Document
	if err := o.db.WithContext(ctx).Select("id", "created_by").First(&doc, "id = ?", documentID).Error; err != nil {
		return "", notFound(err)
	}
	return doc.CreatedBy, nil
}

// ListEvents returns the request's audit trail in append order.
func (o *Orchestrator) ListEvents(ctx context.Context, requestID string) ([]models.DocumentEvent, error) {
	var n int64
	if err := o.db.WithContext(ctx).Model(&models.SignatureRequest{}).Where("id = ?", requestID).Count(&n).Error; err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, ErrNotFound
	}
	return ListEvents(ctx, o.db, requestID)
}

