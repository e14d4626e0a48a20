package render

import (
	"math"
	"strconv"
	"strings"

	"github.com/nikhilbhutani/esignature/internal/apperr"
)

// Rect is a signature box in PDF user space, origin at the bottom-left of
// the page.
type Rect struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	W float64 `json:"width"`
	H float64 `json:"height"`
}

// DefaultRect is used field by field for missing or unusable values.
var DefaultRect = Rect{X: 0, Y: 0, W: 150, H: 50}

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type Dim struct {
	W float64 `json:"width"`
	H float64 `json:"height"`
}

func parseNum(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

// ParseRect reads form values. Each field falls back to DefaultRect when it
// is empty, not a number, or, for width and height, not positive.
func ParseRect(x, y, w, h string) Rect {
	var ptr [4]*float64
	for i, s := range []string{x, y, w, h} {
		if v, ok := parseNum(s); ok {
			ptr[i] = &v
		}
	}
	return RectFrom(ptr[0], ptr[1], ptr[2], ptr[3])
}

// RectFrom applies the same defaults to optional numeric values.
func RectFrom(x, y, w, h *float64) Rect {
	r := DefaultRect
	if x != nil && finite(*x) && *x >= 0 {
		r.X = *x
	}
	if y != nil && finite(*y) && *y >= 0 {
		r.Y = *y
	}
	if w != nil && finite(*w) && *w > 0 {
		r.W = *w
	}
	if h != nil && finite(*h) && *h > 0 {
		r.H = *h
	}
	return r
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// ParsePage reads a 1-indexed page number. Empty means page 1.
func ParsePage(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 1, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, apperr.Validationf("page must be an integer, got %q", s)
	}
	return n, nil
}

// PlaceQR returns the lower-left corner of a qr sized square next to r.
// The code sits gap points right of the box, or left of it when the right
// side would cross the page margin. Vertically it is centred on the box and
// kept inside the top and bottom margins.
func PlaceQR(page Dim, r Rect, qr, gap, margin float64) Point {
	x := r.X + r.W + gap
	if x+qr > page.W-margin {
		x = r.X - gap - qr
	}
	if x < margin {
		x = margin
	}

	y := r.Y + r.H/2 - qr/2
	top := page.H - margin - qr
	if y > top {
		y = top
	}
	if y < margin {
		y = margin
	}
	return Point{X: x, Y: y}
}
