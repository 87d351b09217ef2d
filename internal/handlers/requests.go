package handlers

import (
	"net/http"
	"time"

	"github.com/diewo77/go-esign/httpx"
	"github.com/diewo77/go-esign/internal/models"
	"github.com/diewo77/go-esign/internal/services"
	"go.uber.org/zap"
)

type RequestHandler struct {
	orch *services.Orchestrator
	log  *zap.Logger
}

func NewRequestHandler(orch *services.Orchestrator, log *zap.Logger) *RequestHandler {
	return &RequestHandler{orch: orch, log: log}
}

type signerBody struct {
	Name      string            `json:"name"`
	Email     string            `json:"email"`
	Phone     string            `json:"phone"`
	Role      models.SignerRole `json:"role"`
	ExpiresAt *time.Time        `json:"expires_at"`
}

type fieldBody struct {
	PageNumber      int              `json:"page_number"`
	FieldType       models.FieldType `json:"field_type"`
	X               float64          `json:"x"`
	Y               float64          `json:"y"`
	Width           float64          `json:"width"`
	Height          float64          `json:"height"`
	IsRequired      bool             `json:"is_required"`
	PlaceholderText string           `json:"placeholder_text"`
	SignerIndex     *int             `json:"signer_index"`
}

type createRequestBody struct {
	DocumentID string `json:"document_id"`
	Document   *struct {
		Title     string `json:"title"`
		PageCount int    `json:"page_count"`
	} `json:"document"`
	Title     string       `json:"title"`
	Message   string       `json:"message"`
	ExpiresAt *time.Time   `json:"expires_at"`
	Signers   []signerBody `json:"signers"`
	Fields    []fieldBody  `json:"fields"`
}

func (b createRequestBody) input(createdBy string) services.CreateRequestInput {
	in := services.CreateRequestInput{
		Document:  services.DocumentInput{ID: b.DocumentID},
		Title:     b.Title,
		Message:   b.Message,
		ExpiresAt: b.ExpiresAt,
		CreatedBy: createdBy,
	}
	if b.Document != nil {
		in.Document.Title = b.Document.Title
		in.Document.PageCount = b.Document.PageCount
	}
	for _, s := range b.Signers {
		in.Signers = append(in.Signers, services.SignerInput(s))
	}
	for _, f := range b.Fields {
		in.Fields = append(in.Fields, services.FieldInput(f))
	}
	return in
}

func (h *RequestHandler) Create(w http.ResponseWriter, r *http.Request) {
	var body createRequestBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		writeError(w, h.log, err)
		return
	}
	if body.DocumentID != "" && !h.ownedDocument(w, r, body.DocumentID) {
		return
	}
	req, err := h.orch.CreateRequest(r.Context(), body.input(sender(r)))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, req)
}

// ownedDocument refuses requests over documents of other senders.
func (h *RequestHandler) ownedDocument(w http.ResponseWriter, r *http.Request, documentID string) bool {
	createdBy, err := h.orch.DocumentOwner(r.Context(), documentID)
	if err == nil && createdBy != sender(r) {
		err = services.ErrNotFound
	}
	if err != nil {
		writeError(w, h.log, err)
		return false
	}
	return true
}

// owned loads the request details and hides requests of other senders.
func (h *RequestHandler) owned(w http.ResponseWriter, r *http.Request) (*services.RequestDetails, bool) {
	details, err := h.orch.GetRequestWithDetails(r.Context(), r.PathValue("id"))
	if err == nil && details.Request.CreatedBy != sender(r) {
		err = services.ErrNotFound
	}
	if err != nil {
		writeError(w, h.log, err)
		return nil, false
	}
	return details, true
}

func (h *RequestHandler) Get(w http.ResponseWriter, r *http.Request) {
	details, ok := h.owned(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, details)
}

type invitationView struct {
	SignerID string `json:"signer_id"`
	Email    string `json:"email"`
	Link     string `json:"link"`
}

func (h *RequestHandler) Send(w http.ResponseWriter, r *http.Request) {
	details, ok := h.owned(w, r)
	if !ok {
		return
	}
	var body struct {
		Channels []string `json:"channels"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		writeError(w, h.log, err)
		return
	}
	invs, err := h.orch.SendRequest(r.Context(), details.Request.ID, body.Channels)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	out := make([]invitationView, 0, len(invs))
	for _, inv := range invs {
		out = append(out, invitationView{SignerID: inv.Signer.ID, Email: inv.Signer.Email, Link: inv.Link})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"sent": len(out) > 0, "invitations": out})
}

func (h *RequestHandler) EligibleReminders(w http.ResponseWriter, r *http.Request) {
	details, ok := h.owned(w, r)
	if !ok {
		return
	}
	signers, err := h.orch.RemindEligibleSigners(r.Context(), details.Request.ID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if signers == nil {
		signers = []models.Signer{}
	}
	httpx.JSON(w, http.StatusOK, signers)
}

func (h *RequestHandler) Remind(w http.ResponseWriter, r *http.Request) {
	details, ok := h.owned(w, r)
	if !ok {
		return
	}
	report, err := h.orch.SendReminders(r.Context(), details.Request.ID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}

func (h *RequestHandler) Events(w http.ResponseWriter, r *http.Request) {
	details, ok := h.owned(w, r)
	if !ok {
		return
	}
	events, err := h.orch.ListEvents(r.Context(), details.Request.ID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, events)
}
