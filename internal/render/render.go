// Package render turns decoded page handles into oversampled text-cell
// surfaces. Rendering is asynchronous in the caller; cancellation is
// modeled with a per-page generation counter: a render attempt captures
// the generation it was started under and its result is committed only if
// that generation is still current.
package render

import (
	"math"
	"strings"
	"sync"

	"github.com/calebh/docscope/internal/doc"
)

// MinOversample is the floor for the raster sampling factor so zoomed
// pages stay legible.
const MinOversample = 2

// Base cell size in page points at the minimum oversample factor. Higher
// factors subdivide the cell.
const (
	baseCellWidthPt  = 14.4
	baseCellHeightPt = 24.0
)

// Surface is one rendered page: a measured pixel size in the current
// scale's pixel space (1pt == 1px at scale 1.0) plus the positioned text
// layer.
type Surface struct {
	Page        int
	WidthPx     int
	HeightPx    int
	Scale       float64
	Rows        []string
	Placeholder bool
}

// Placeholder builds an empty stand-in surface for a page that failed to
// decode or paint. The rest of the viewport is unaffected.
func Placeholder(page int, widthPt, heightPt, scale float64) *Surface {
	w, h := measure(widthPt, heightPt, scale)
	return &Surface{Page: page, WidthPx: w, HeightPx: h, Scale: scale, Placeholder: true}
}

// Renderer tracks render generations per page slot and rasterizes handles.
type Renderer struct {
	mu         sync.Mutex
	gens       map[int]uint64
	oversample int
}

func New(oversample int) *Renderer {
	if oversample < MinOversample {
		oversample = MinOversample
	}
	return &Renderer{gens: make(map[int]uint64), oversample: oversample}
}

// Begin marks the start of a new render attempt for a page and returns its
// generation. Any earlier in-flight attempt for the same page is thereby
// superseded: its Commit check will fail.
func (r *Renderer) Begin(page int) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gens[page]++
	return r.gens[page]
}

// Committable reports whether a render started at gen may still commit
// its pixels for the page.
func (r *Renderer) Committable(page int, gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gens[page] == gen
}

// InvalidateAll supersedes every outstanding render attempt. Used when the
// document changes or the viewport unmounts so no stale paint lands.
func (r *Renderer) InvalidateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for page := range r.gens {
		r.gens[page]++
	}
}

// CellSize reports the pixel-space extent covered by one raster cell.
// Higher oversample factors subdivide the base cell.
func (r *Renderer) CellSize() (w, h float64) {
	w = baseCellWidthPt * float64(MinOversample) / float64(r.oversample)
	h = baseCellHeightPt * float64(MinOversample) / float64(r.oversample)
	return w, h
}

// Render rasterizes a page handle at the given scale. It is pure with
// respect to the renderer's generation state; the caller decides whether
// the result may commit.
func (r *Renderer) Render(h *doc.PageHandle, scale float64) *Surface {
	widthPx, heightPx := measure(h.Width, h.Height, scale)

	cellW, cellH := r.CellSize()
	cols := int(math.Ceil(float64(widthPx) / cellW))
	rows := int(math.Ceil(float64(heightPx) / cellH))
	if cols < 1 {
		cols = 1
	}
	if rows < 1 {
		rows = 1
	}

	grid := make([][]rune, rows)
	for i := range grid {
		row := make([]rune, cols)
		for j := range row {
			row[j] = ' '
		}
		grid[i] = row
	}

	for _, run := range h.Runs {
		row := int(run.Y * scale / cellH)
		col := int(run.X * scale / cellW)
		if row < 0 || row >= rows {
			continue
		}
		for _, ch := range run.S {
			if col < 0 {
				col++
				continue
			}
			if col >= cols {
				break
			}
			grid[row][col] = ch
			col++
		}
	}

	lines := make([]string, rows)
	for i, row := range grid {
		lines[i] = strings.TrimRight(string(row), " ")
	}
	return &Surface{
		Page:     h.Number,
		WidthPx:  widthPx,
		HeightPx: heightPx,
		Scale:    scale,
		Rows:     lines,
	}
}

func measure(widthPt, heightPt, scale float64) (int, int) {
	return int(math.Round(widthPt * scale)), int(math.Round(heightPt * scale))
}
