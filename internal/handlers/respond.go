// Package handlers exposes the signature workflow as a JSON API.
package handlers

import (
	"errors"
	"net"
	"net/http"

	"github.com/diewo77/go-esign/auth"
	"github.com/diewo77/go-esign/httpx"
	"github.com/diewo77/go-esign/internal/services"
	"go.uber.org/zap"
)

// writeError maps a service error to its HTTP status. Security errors keep
// distinct codes so clients can tell an invalid link from a completed one.
func writeError(w http.ResponseWriter, log *zap.Logger, err error) {
	if errors.Is(err, httpx.ErrInvalidBody) {
		httpx.JSONError(w, http.StatusBadRequest, "invalid_body", err.Error())
		return
	}

	var signerErr *services.SignerError
	var missing *services.MissingFieldsError
	var values *services.FieldValueError
	switch {
	case errors.As(err, &signerErr):
		httpx.JSONError(w, http.StatusUnprocessableEntity, services.ErrInvalidSigner.Error(), map[string]any{
			"signer_index": signerErr.Index,
			"violations":   signerErr.Violations,
		})
		return
	case errors.As(err, &missing):
		httpx.JSONError(w, http.StatusUnprocessableEntity, services.ErrMissingRequiredField.Error(), map[string]any{
			"field_ids": missing.FieldIDs,
		})
		return
	case errors.As(err, &values):
		httpx.JSONError(w, http.StatusUnprocessableEntity, services.ErrInvalidFieldValue.Error(), map[string]any{
			"violations": values.Violations,
		})
		return
	}

	switch services.KindOf(err) {
	case services.KindValidation:
		httpx.JSONError(w, http.StatusUnprocessableEntity, rootCode(err), err.Error())
	case services.KindSecurity:
		switch {
		case errors.Is(err, services.ErrTokenExpired):
			httpx.JSONError(w, http.StatusGone, services.ErrTokenExpired.Error(), nil)
		case errors.Is(err, services.ErrAlreadySigned):
			httpx.JSONError(w, http.StatusConflict, services.ErrAlreadySigned.Error(), nil)
		default:
			httpx.JSONError(w, http.StatusNotFound, services.ErrTokenNotFound.Error(), nil)
		}
	case services.KindNotFound:
		httpx.JSONError(w, http.StatusNotFound, services.ErrNotFound.Error(), nil)
	case services.KindConflict:
		httpx.JSONError(w, http.StatusConflict, rootCode(err), err.Error())
	default:
		log.Error("request failed", zap.Error(err))
		httpx.JSONError(w, http.StatusInternalServerError, "internal_error", nil)
	}
}

// rootCode returns the innermost sentinel of a wrapped error.
func rootCode(err error) string {
	for {
		next := errors.Unwrap(err)
		if next == nil {
			return err.Error()
		}
		err = next
	}
}

func sender(r *http.Request) string {
	id, _ := auth.SenderIDFromContext(r.Context())
	return id
}

func clientInfo(r *http.Request) services.ClientInfo {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(ip); err == nil {
		ip = host
	}
	return services.ClientInfo{IP: ip, UserAgent: r.UserAgent()}
}
