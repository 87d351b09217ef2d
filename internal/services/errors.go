package services

import (
	"errors"
	"fmt"
	"strings"

	"github.com/diewo77/go-esign/internal/geometry"
	"github.com/diewo77/go-esign/validation"
)

// Validation errors.
var (
	ErrInvalidPage          = geometry.ErrInvalidPage
	ErrInvalidSigner        = errors.New("invalid_signer")
	ErrInvalidRequest       = errors.New("invalid_request")
	ErrInvalidDocument      = errors.New("invalid_document")
	ErrInvalidField         = errors.New("invalid_field")
	ErrNoFieldsDefined      = errors.New("no_fields_defined")
	ErrMissingRequiredField = errors.New("missing_required_field")
	ErrInvalidFieldValue    = errors.New("invalid_field_value")
	ErrNoChannels           = errors.New("no_channels")
	ErrDeadlinePassed       = errors.New("deadline_passed")
)

// Security errors.
var (
	ErrTokenNotFound = errors.New("token_not_found")
	ErrTokenExpired  = errors.New("token_expired")
	ErrAlreadySigned = errors.New("already_signed")
)

// State errors.
var (
	ErrNotFound       = errors.New("not_found")
	ErrNotSent        = errors.New("request_not_sent")
	ErrDocumentBusy   = errors.New("document_has_active_request")
	ErrDocumentLocked = errors.New("document_locked")
	ErrFieldLocked    = errors.New("field_already_filled")
)

// SignerError reports which signer of a create-request call is invalid.
type SignerError struct {
	Index      int
	Violations validation.Violations
}

func (e *SignerError) Error() string {
	return fmt.Sprintf("invalid_signer: signer %d: %s", e.Index, formatViolations(e.Violations))
}

func (e *SignerError) Is(target error) bool { return target == ErrInvalidSigner }

// MissingFieldsError lists the required fields left empty by a submission.
type MissingFieldsError struct {
	FieldIDs []string
}

func (e *MissingFieldsError) Error() string {
	return "missing_required_field: " + strings.Join(e.FieldIDs, ", ")
}

func (e *MissingFieldsError) Is(target error) bool { return target == ErrMissingRequiredField }

// FieldValueError reports submitted values that do not fit their field.
type FieldValueError struct {
	Violations validation.Violations
}

func (e *FieldValueError) Error() string {
	return "invalid_field_value: " + formatViolations(e.Violations)
}

func (e *FieldValueError) Is(target error) bool { return target == ErrInvalidFieldValue }

func formatViolations(v validation.Violations) string {
	parts := make([]string, 0, len(v))
	for _, k := range v.Fields() {
		parts = append(parts, k+"="+v[k])
	}
	return strings.Join(parts, ", ")
}

// Kind groups errors by how a caller should react.
type Kind string

const (
	KindValidation Kind = "validation"
	KindSecurity   Kind = "security"
	KindConflict   Kind = "conflict"
	KindNotFound   Kind = "not_found"
	KindInternal   Kind = "internal"
)

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrTokenNotFound), errors.Is(err, ErrTokenExpired), errors.Is(err, ErrAlreadySigned):
		return KindSecurity
	case errors.Is(err, ErrNotSent), errors.Is(err, ErrDocumentBusy), errors.Is(err, ErrDocumentLocked),
		errors.Is(err, ErrFieldLocked):
		return KindConflict
	case errors.Is(err, ErrInvalidPage), errors.Is(err, ErrInvalidSigner), errors.Is(err, ErrInvalidRequest),
		errors.Is(err, ErrInvalidDocument), errors.Is(err, ErrInvalidField), errors.Is(err, ErrNoFieldsDefined),
		errors.Is(err, ErrMissingRequiredField), errors.Is(err, ErrInvalidFieldValue), errors.Is(err, ErrNoChannels),
		errors.Is(err, ErrDeadlinePassed),
		errors.Is(err, geometry.ErrInvalidZoom), errors.Is(err, geometry.ErrInvalidCoordinate),
		errors.Is(err, geometry.ErrUnknownFieldType):
		return KindValidation
	default:
		return KindInternal
	}
}
