package geometry

import (
	"fmt"

	"github.com/diewo77/go-esign/internal/models"
)

// Point is a position in page-reference units.
type Point struct {
	X float64
	Y float64
}

// Session is the interactive state of one field editor: the displayed page,
// the zoom, the selected field and an in-flight drag. It is owned by a single
// editor and is not safe for concurrent use.
type Session struct {
	PageCount   int
	CurrentPage int
	Zoom        float64

	// Selected is the index of the selected field in the slice last passed
	// to BeginDrag, or -1.
	Selected   int
	DragOffset Point
	dragging   bool
}

// NewSession opens an editor on page 1 at zoom 1.
func NewSession(pageCount int) (*Session, error) {
	if pageCount < 1 {
		return nil, fmt.Errorf("%w: document has %d pages", ErrInvalidPage, pageCount)
	}
	return &Session{PageCount: pageCount, CurrentPage: 1, Zoom: 1, Selected: -1}, nil
}

// GoToPage changes the displayed page and cancels any drag.
func (s *Session) GoToPage(page int) error {
	if err := CheckPage(page, s.PageCount); err != nil {
		return err
	}
	s.CurrentPage = page
	s.EndDrag()
	s.Selected = -1
	return nil
}

// SetZoom changes the zoom. The drag offset is kept in page space, so a
// gesture that spans a zoom change stays anchored to the same field point.
func (s *Session) SetZoom(zoom float64) error {
	if err := checkZoom(zoom); err != nil {
		return err
	}
	s.Zoom = zoom
	return nil
}

func (s *Session) pagePoint(px, py float64) (Point, error) {
	x, err := toPage(px, s.Zoom)
	if err != nil {
		return Point{}, err
	}
	y, err := toPage(py, s.Zoom)
	if err != nil {
		return Point{}, err
	}
	return Point{x, y}, nil
}

// Place creates an unsaved field on the current page under the pointer.
func (s *Session) Place(fieldType models.FieldType, px, py float64) (models.SignatureField, error) {
	return PlaceField(s.PageCount, s.CurrentPage, px, py, s.Zoom, fieldType)
}

// HitTest returns the index of the topmost current-page field under the
// pointer. Later fields are drawn above earlier ones.
func (s *Session) HitTest(fields []models.SignatureField, px, py float64) (int, bool) {
	p, err := s.pagePoint(px, py)
	if err != nil {
		return -1, false
	}
	for i := len(fields) - 1; i >= 0; i-- {
		if fields[i].PageNumber != s.CurrentPage {
			continue
		}
		if Contains(fields[i], p.X, p.Y) {
			return i, true
		}
	}
	return -1, false
}

// BeginDrag selects the field under the pointer and remembers where inside
// it the gesture started.
func (s *Session) BeginDrag(fields []models.SignatureField, px, py float64) (int, bool) {
	i, ok := s.HitTest(fields, px, py)
	if !ok {
		s.Selected = -1
		s.EndDrag()
		return -1, false
	}
	p, _ := s.pagePoint(px, py)
	s.Selected = i
	s.DragOffset = Point{p.X - fields[i].X, p.Y - fields[i].Y}
	s.dragging = true
	return i, true
}

// Dragging reports whether a drag gesture is in flight.
func (s *Session) Dragging() bool { return s.dragging }

// DragTo moves the field so the grabbed point follows the pointer.
func (s *Session) DragTo(f *models.SignatureField, px, py float64) error {
	if !s.dragging {
		return ErrNoDrag
	}
	if f.PageNumber != s.CurrentPage {
		return fmt.Errorf("%w: field on page %d, showing page %d", ErrWrongPage, f.PageNumber, s.CurrentPage)
	}
	p, err := s.pagePoint(px, py)
	if err != nil {
		return err
	}
	f.X = clamp(p.X - s.DragOffset.X)
	f.Y = clamp(p.Y - s.DragOffset.Y)
	return nil
}

// EndDrag finishes the gesture; the selection is kept.
func (s *Session) EndDrag() {
	s.dragging = false
	s.DragOffset = Point{}
}

// Resize applies an on-screen size to a field on the current page.
func (s *Session) Resize(f *models.SignatureField, width, height float64) error {
	if f.PageNumber != s.CurrentPage {
		return fmt.Errorf("%w: field on page %d, showing page %d", ErrWrongPage, f.PageNumber, s.CurrentPage)
	}
	return ResizeField(f, width, height, s.Zoom)
}
