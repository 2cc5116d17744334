package evidence

import (
	"math"
	"strings"
)

// RefTagPrefix is the fixed prefix shared by every reference tag an answer
// can cite inline, e.g. "ref-3".
const RefTagPrefix = "ref-"

// Source records how the snippet behind a reference was extracted.
type Source string

const (
	SourceNative Source = "native"
	SourceOCR    Source = "ocr"
)

// BoundingBox locates a region on a page in 72-units-per-inch page space,
// origin top-left, independent of the current zoom.
type BoundingBox struct {
	Page int     `json:"page"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	W    float64 `json:"w"`
	H    float64 `json:"h"`
}

// Renderable reports whether the box can produce a visible rectangle.
// Boxes with non-positive or non-finite dimensions are dropped, never drawn.
func (b BoundingBox) Renderable() bool {
	for _, v := range []float64{b.X, b.Y, b.W, b.H} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return b.W > 0 && b.H > 0
}

// Reference points at the source location supporting part of an answer.
// References are created by the answer service and owned by the current
// answer turn; the viewer only borrows them for rendering.
type Reference struct {
	ID      string      `json:"id"`
	RefID   string      `json:"refId"`
	Content string      `json:"content"`
	Page    int         `json:"page"`
	BBox    BoundingBox `json:"bbox"`
	Source  Source      `json:"source"`
}

// TagNumber returns the numeric suffix of the reference tag ("ref-3" -> "3").
// Returns the full id when the prefix is absent.
func (r Reference) TagNumber() string {
	return strings.TrimPrefix(r.RefID, RefTagPrefix)
}

// ByPage groups references by their resolved page number.
func ByPage(refs []Reference) map[int][]Reference {
	grouped := make(map[int][]Reference, len(refs))
	for _, ref := range refs {
		grouped[ref.Page] = append(grouped[ref.Page], ref)
	}
	return grouped
}
