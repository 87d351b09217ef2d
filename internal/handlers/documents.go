package handlers

import (
	"net/http"

	"github.com/diewo77/go-esign/httpx"
	"github.com/diewo77/go-esign/internal/models"
	"github.com/diewo77/go-esign/internal/services"
	"go.uber.org/zap"
)

type DocumentHandler struct {
	docs *services.DocumentService
	log  *zap.Logger
}

func NewDocumentHandler(docs *services.DocumentService, log *zap.Logger) *DocumentHandler {
	return &DocumentHandler{docs: docs, log: log}
}

type createDocumentBody struct {
	Title      string `json:"title"`
	PageCount  int    `json:"page_count"`
	IsTemplate bool   `json:"is_template"`
}

func (h *DocumentHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body createDocumentBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		writeError(w, h.log, err)
		return
	}
	doc, err := h.docs.Create(r.Context(), services.CreateDocumentInput{
		Title:      body.Title,
		PageCount:  body.PageCount,
		IsTemplate: body.IsTemplate,
		CreatedBy:  sender(r),
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

// owned loads the document and hides documents of other senders.
func (h *DocumentHandler) owned(w http.ResponseWriter, r *http.Request) (*models.Document, bool) {
	doc, err := h.docs.Get(r.Context(), r.PathValue("id"))
	if err == nil && doc.CreatedBy != sender(r) {
		err = services.ErrNotFound
	}
	if err != nil {
		writeError(w, h.log, err)
		return nil, false
	}
	return doc, true
}

func (h *DocumentHandler) Get(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.owned(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *DocumentHandler) SetPages(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.owned(w, r)
	if !ok {
		return
	}
	var body struct {
		PageCount int `json:"page_count"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		writeError(w, h.log, err)
		return
	}
	if err := h.docs.SetPageCount(r.Context(), doc.ID, body.PageCount); err != nil {
		writeError(w, h.log, err)
		return
	}
	doc, err := h.docs.Get(r.Context(), doc.ID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

type placeFieldBody struct {
	PageNumber       int              `json:"page_number"`
	PointerX         float64          `json:"pointer_x"`
	PointerY         float64          `json:"pointer_y"`
	Zoom             float64          `json:"zoom"`
	FieldType        models.FieldType `json:"field_type"`
	IsRequired       *bool            `json:"is_required"`
	PlaceholderText  *string          `json:"placeholder_text"`
	AssignedSignerID *string          `json:"assigned_signer_id"`
}

func (h *DocumentHandler) PlaceField(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.owned(w, r)
	if !ok {
		return
	}
	var body placeFieldBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		writeError(w, h.log, err)
		return
	}
	if body.Zoom == 0 {
		body.Zoom = 1
	}
	f, err := h.docs.PlaceField(r.Context(), doc.ID, services.PlaceFieldInput{
		PageNumber:       body.PageNumber,
		PointerX:         body.PointerX,
		PointerY:         body.PointerY,
		Zoom:             body.Zoom,
		FieldType:        body.FieldType,
		IsRequired:       body.IsRequired,
		PlaceholderText:  body.PlaceholderText,
		AssignedSignerID: body.AssignedSignerID,
	})
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, f)
}

type pointerBody struct {
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	Zoom float64 `json:"zoom"`
}

// updateFieldBody carries one gesture or a property change. Move and resize
// are in screen units at the given zoom.
type updateFieldBody struct {
	Move             *pointerBody `json:"move"`
	Resize           *pointerBody `json:"resize"`
	IsRequired       *bool        `json:"is_required"`
	PlaceholderText  *string      `json:"placeholder_text"`
	AssignedSignerID *string      `json:"assigned_signer_id"`
}

func zoomOr1(z float64) float64 {
	if z == 0 {
		return 1
	}
	return z
}

func (h *DocumentHandler) UpdateField(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.owned(w, r)
	if !ok {
		return
	}
	var body updateFieldBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		writeError(w, h.log, err)
		return
	}
	ctx, fieldID := r.Context(), r.PathValue("fieldID")
	var f *models.SignatureField
	var err error
	if body.Move != nil {
		if f, err = h.docs.MoveField(ctx, doc.ID, fieldID, body.Move.X, body.Move.Y, zoomOr1(body.Move.Zoom)); err != nil {
			writeError(w, h.log, err)
			return
		}
	}
	if body.Resize != nil {
		if f, err = h.docs.ResizeField(ctx, doc.ID, fieldID, body.Resize.X, body.Resize.Y, zoomOr1(body.Resize.Zoom)); err != nil {
			writeError(w, h.log, err)
			return
		}
	}
	if body.IsRequired != nil || body.PlaceholderText != nil || body.AssignedSignerID != nil {
		f, err = h.docs.UpdateFieldProperties(ctx, doc.ID, fieldID, services.FieldProperties{
			IsRequired:       body.IsRequired,
			PlaceholderText:  body.PlaceholderText,
			AssignedSignerID: body.AssignedSignerID,
		})
		if err != nil {
			writeError(w, h.log, err)
			return
		}
	}
	if f == nil {
		httpx.JSONError(w, http.StatusBadRequest, "nothing_to_update", nil)
		return
	}
	httpx.JSON(w, http.StatusOK, f)
}

func (h *DocumentHandler) DeleteField(w http.ResponseWriter, r *http.Request) {
	doc, ok := h.owned(w, r)
	if !ok {
		return
	}
	if err := h.docs.DeleteField(r.Context(), doc.ID, r.PathValue("fieldID")); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *DocumentHandler) Clone(w http.ResponseWriter, r *http.Request) {
	tpl, ok := h.owned(w, r)
	if !ok {
		return
	}
	var body struct {
		Title string `json:"title"`
	}
	if r.ContentLength != 0 {
		if err := httpx.DecodeJSON(r, &body); err != nil {
			writeError(w, h.log, err)
			return
		}
	}
	doc, err := h.docs.CloneTemplate(r.Context(), tpl.ID, body.Title, sender(r))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}
