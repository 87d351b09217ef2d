package handlers

import (
	"net/http"
	"time"

	"github.com/diewo77/go-esign/httpx"
	"github.com/diewo77/go-esign/internal/models"
	"github.com/diewo77/go-esign/internal/services"
	"go.uber.org/zap"
)

// SigningHandler serves signers. The token in the path is their only credential.
type SigningHandler struct {
	orch *services.Orchestrator
	log  *zap.Logger
}

func NewSigningHandler(orch *services.Orchestrator, log *zap.Logger) *SigningHandler {
	return &SigningHandler{orch: orch, log: log}
}

type signerView struct {
	ID       string              `json:"id"`
	Name     string              `json:"name"`
	Email    string              `json:"email"`
	Role     models.SignerRole   `json:"role"`
	Status   models.SignerStatus `json:"status"`
	SignedAt *time.Time          `json:"signed_at,omitempty"`
}

type signingView struct {
	Signer        signerView              `json:"signer"`
	AlreadySigned bool                    `json:"already_signed"`
	RequestTitle  string                  `json:"request_title"`
	Message       string                  `json:"message,omitempty"`
	ExpiresAt     *time.Time              `json:"expires_at,omitempty"`
	DocumentTitle string                  `json:"document_title"`
	PageCount     int                     `json:"page_count"`
	Fields        []models.SignatureField `json:"fields"`
}

// Open records the first visit and returns what the signer has to fill.
func (h *SigningHandler) Open(w http.ResponseWriter, r *http.Request) {
	res, err := h.orch.OpenSigner(r.Context(), r.PathValue("token"), clientInfo(r))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	details, err := h.orch.GetRequestWithDetails(r.Context(), res.Signer.SignatureRequestID)
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	view := signingView{
		Signer: signerView{
			ID:       res.Signer.ID,
			Name:     res.Signer.Name,
			Email:    res.Signer.Email,
			Role:     res.Signer.Role,
			Status:   res.Signer.Status,
			SignedAt: res.Signer.SignedAt,
		},
		AlreadySigned: res.AlreadySigned,
		RequestTitle:  details.Request.Title,
		Message:       details.Request.Message,
		ExpiresAt:     res.Signer.ExpiresAt,
		DocumentTitle: details.Document.Title,
		PageCount:     details.Document.PageCount,
		Fields:        []models.SignatureField{},
	}
	for _, f := range details.Fields {
		if f.AssignedSignerID == nil || f.AssignedTo(res.Signer.ID) {
			view.Fields = append(view.Fields, f)
		}
	}
	httpx.JSON(w, http.StatusOK, view)
}

type submitBody struct {
	Values        map[string]string `json:"values"`
	SignatureData string            `json:"signature_data"`
}

// Submit records the signer's values and signature.
func (h *SigningHandler) Submit(w http.ResponseWriter, r *http.Request) {
	res, err := h.orch.ResolveSigner(r.Context(), r.PathValue("token"))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	if res.AlreadySigned {
		writeError(w, h.log, services.ErrAlreadySigned)
		return
	}
	var body submitBody
	if err := httpx.DecodeJSON(r, &body); err != nil {
		writeError(w, h.log, err)
		return
	}
	out, err := h.orch.SubmitSignature(r.Context(), res.Signer.ID, body.Values, body.SignatureData, clientInfo(r))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"status":            out.Signer.Status,
		"signed_at":         out.Signer.SignedAt,
		"request_completed": out.RequestCompleted,
	})
}
