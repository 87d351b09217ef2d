// Package geometry converts pointer gestures captured at an arbitrary
// on-screen zoom into page-reference field coordinates.
package geometry

import (
	"errors"
	"fmt"
	"math"

	"github.com/diewo77/go-esign/internal/models"
)

var (
	ErrInvalidPage       = errors.New("invalid_page")
	ErrInvalidZoom       = errors.New("invalid_zoom")
	ErrInvalidCoordinate = errors.New("invalid_coordinate")
	ErrUnknownFieldType  = errors.New("unknown_field_type")
	ErrWrongPage         = errors.New("field_not_on_current_page")
	ErrNoDrag            = errors.New("no_drag_in_progress")
)

// Size is a width and height in page-reference units.
type Size struct {
	Width  float64
	Height float64
}

var defaultSizes = map[models.FieldType]Size{
	models.FieldTypeSignature: {200, 60},
	models.FieldTypeInitials:  {80, 40},
	models.FieldTypeDate:      {120, 30},
	models.FieldTypeText:      {200, 80},
	models.FieldTypeCheckbox:  {24, 24},
}

var minSizes = map[models.FieldType]Size{
	models.FieldTypeSignature: {60, 20},
	models.FieldTypeInitials:  {30, 20},
	models.FieldTypeDate:      {60, 16},
	models.FieldTypeText:      {40, 16},
	models.FieldTypeCheckbox:  {12, 12},
}

var placeholders = map[models.FieldType]string{
	models.FieldTypeSignature: "Signature",
	models.FieldTypeInitials:  "Initials",
	models.FieldTypeDate:      "Date",
	models.FieldTypeText:      "Text",
	models.FieldTypeCheckbox:  "",
}

// DefaultSize returns the size a freshly placed field gets.
func DefaultSize(t models.FieldType) Size { return defaultSizes[t] }

// MinSize returns the smallest size a resize may produce.
func MinSize(t models.FieldType) Size { return minSizes[t] }

// CheckPage fails with ErrInvalidPage unless 1 <= page <= pageCount.
func CheckPage(page, pageCount int) error {
	if page < 1 || page > pageCount {
		return fmt.Errorf("%w: page %d not in [1, %d]", ErrInvalidPage, page, pageCount)
	}
	return nil
}

func checkZoom(zoom float64) error {
	if zoom <= 0 || math.IsNaN(zoom) || math.IsInf(zoom, 0) {
		return fmt.Errorf("%w: %v", ErrInvalidZoom, zoom)
	}
	return nil
}

// toPage maps a screen-space value to page-reference space.
func toPage(v, zoom float64) (float64, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, ErrInvalidCoordinate
	}
	return v / zoom, nil
}

func clamp(v float64) float64 { return math.Max(0, v) }

// PlaceField builds an unsaved field whose top-left corner sits under the
// pointer. The field gets its type's default size and is required.
func PlaceField(pageCount, pageNumber int, pointerX, pointerY, zoom float64, fieldType models.FieldType) (models.SignatureField, error) {
	if err := CheckPage(pageNumber, pageCount); err != nil {
		return models.SignatureField{}, err
	}
	if !fieldType.Valid() {
		return models.SignatureField{}, fmt.Errorf("%w: %q", ErrUnknownFieldType, fieldType)
	}
	if err := checkZoom(zoom); err != nil {
		return models.SignatureField{}, err
	}
	x, err := toPage(pointerX, zoom)
	if err != nil {
		return models.SignatureField{}, err
	}
	y, err := toPage(pointerY, zoom)
	if err != nil {
		return models.SignatureField{}, err
	}
	size := DefaultSize(fieldType)
	return models.SignatureField{
		PageNumber:      pageNumber,
		FieldType:       fieldType,
		X:               clamp(x),
		Y:               clamp(y),
		Width:           size.Width,
		Height:          size.Height,
		IsRequired:      true,
		PlaceholderText: placeholders[fieldType],
	}, nil
}

// MoveField puts the field's top-left corner under the pointer. The page
// number never changes.
func MoveField(f *models.SignatureField, pointerX, pointerY, zoom float64) error {
	if err := checkZoom(zoom); err != nil {
		return err
	}
	x, err := toPage(pointerX, zoom)
	if err != nil {
		return err
	}
	y, err := toPage(pointerY, zoom)
	if err != nil {
		return err
	}
	f.X, f.Y = clamp(x), clamp(y)
	return nil
}

// ResizeField sets the field size from an on-screen width and height,
// never going below the type's minimum.
func ResizeField(f *models.SignatureField, width, height, zoom float64) error {
	if err := checkZoom(zoom); err != nil {
		return err
	}
	w, err := toPage(width, zoom)
	if err != nil {
		return err
	}
	h, err := toPage(height, zoom)
	if err != nil {
		return err
	}
	minSize := MinSize(f.FieldType)
	f.Width = math.Max(minSize.Width, w)
	f.Height = math.Max(minSize.Height, h)
	return nil
}

// Contains reports whether the page-space point lies inside the field.
func Contains(f models.SignatureField, x, y float64) bool {
	return x >= f.X && x <= f.X+f.Width && y >= f.Y && y <= f.Y+f.Height
}
