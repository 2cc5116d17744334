// Package highlight projects evidence references into screen space and
// tracks genuine changes to a document's highlight set.
package highlight

import (
	"math"

	"github.com/calebh/docscope/internal/evidence"
)

// Badge height in pixel space, used only to keep the label inside the
// page's vertical bounds.
const badgeHeightPx = 14.0

// Rect is a screen-space rectangle in the page's pixel space.
type Rect struct {
	X, Y, W, H float64
}

// Box is one accepted highlight: its clamped rectangle plus the badge
// labeling which reference it belongs to.
type Box struct {
	Ref    evidence.Reference
	Rect   Rect
	Badge  string
	BadgeY float64
}

// Project computes screen-space rectangles for a page's references at the
// given pixel size and scale. Invalid or out-of-bounds boxes are dropped.
// Pure: identical inputs always yield the identical box set.
func Project(refs []evidence.Reference, pageWidthPx, pageHeightPx, scale float64) []Box {
	if pageWidthPx <= 0 || pageHeightPx <= 0 || scale <= 0 {
		return nil
	}
	boxes := make([]Box, 0, len(refs))
	for _, ref := range refs {
		if !ref.BBox.Renderable() {
			continue
		}
		rect := Rect{
			X: ref.BBox.X * scale,
			Y: ref.BBox.Y * scale,
			W: ref.BBox.W * scale,
			H: ref.BBox.H * scale,
		}
		if rect.X < 0 || rect.Y < 0 || rect.X >= pageWidthPx || rect.Y >= pageHeightPx {
			continue
		}
		// Never overflow the page canvas.
		rect.W = math.Min(rect.W, pageWidthPx-rect.X)
		rect.H = math.Min(rect.H, pageHeightPx-rect.Y)
		if rect.W <= 0 || rect.H <= 0 {
			continue
		}
		boxes = append(boxes, Box{
			Ref:    ref,
			Rect:   rect,
			Badge:  ref.TagNumber(),
			BadgeY: clamp(rect.Y, 0, pageHeightPx-badgeHeightPx),
		})
	}
	return boxes
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
