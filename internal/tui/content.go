package tui

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/calebh/docscope/internal/highlight"
	"github.com/calebh/docscope/internal/render"
)

// rebuildContent lays all pages out as one vertical strip and refreshes
// the viewport. Pages outside the render window show an estimated-height
// placeholder so scroll offsets stay stable while surfaces stream in.
func (m *Model) rebuildContent() {
	if m.source == nil {
		return
	}
	_, cellH := m.renderer.CellSize()
	numPages := m.source.NumPages()
	m.pageOffsets = make([]int, numPages)

	var lines []string
	for page := 1; page <= numPages; page++ {
		lines = append(lines, pageSeparator(page, m.contentWidth()))
		m.pageOffsets[page-1] = len(lines)
		surface := m.surfaces[page]
		if surface != nil && !surface.Placeholder && surface.Scale == m.scale {
			lines = append(lines, m.overlaySurface(surface)...)
			continue
		}
		rows := m.estimatedRows(page, cellH)
		lines = append(lines, placeholderLines(page, rows)...)
	}

	m.contentLines = len(lines)
	m.viewport.SetContent(strings.Join(lines, "\n"))
	m.contentDirty = false
}

func (m *Model) estimatedRows(page int, cellH float64) int {
	heightPt := m.pageHeightsPt[page]
	if heightPt <= 0 {
		heightPt = defaultPageHeightPt
	}
	rows := int(math.Ceil(heightPt * m.scale / cellH))
	if rows < 1 {
		rows = 1
	}
	return rows
}

func pageSeparator(page int, width int) string {
	label := fmt.Sprintf(" page %d ", page)
	fill := width - len(label) - 2
	if fill < 0 {
		fill = 0
	}
	return separatorStyle.Render("──" + label + strings.Repeat("─", fill))
}

func placeholderLines(page, rows int) []string {
	lines := make([]string, rows)
	label := placeholderStyle.Render(fmt.Sprintf("· page %d ·", page))
	lines[rows/2] = label
	return lines
}

type span struct{ start, end int }

// overlaySurface paints the page's accepted highlight boxes and badges
// over the rendered rows.
func (m *Model) overlaySurface(surface *render.Surface) []string {
	boxes := m.boxesForPage(surface)
	if len(boxes) == 0 {
		return surface.Rows
	}
	cellW, cellH := m.renderer.CellSize()

	maxCols := 0
	for _, row := range surface.Rows {
		if n := len([]rune(row)); n > maxCols {
			maxCols = n
		}
	}
	grid := make([][]rune, len(surface.Rows))
	for i, row := range surface.Rows {
		r := []rune(row)
		for len(r) < maxCols {
			r = append(r, ' ')
		}
		grid[i] = r
	}

	marks := make(map[int][]span)
	badges := make(map[int][]span)
	for _, box := range boxes {
		startRow := int(box.Rect.Y / cellH)
		endRow := int((box.Rect.Y + box.Rect.H) / cellH)
		startCol := int(box.Rect.X / cellW)
		endCol := int(math.Ceil((box.Rect.X + box.Rect.W) / cellW))
		for row := startRow; row <= endRow && row < len(grid); row++ {
			if row < 0 {
				continue
			}
			marks[row] = append(marks[row], clampSpan(span{startCol, endCol}, maxCols))
		}

		badge := "[" + box.Badge + "]"
		badgeRow := int(box.BadgeY / cellH)
		if badgeRow < 0 {
			badgeRow = 0
		}
		if badgeRow >= len(grid) {
			badgeRow = len(grid) - 1
		}
		badgeCol := endCol + 1
		if badgeCol+len(badge) > maxCols {
			badgeCol = maxCols - len(badge)
		}
		if badgeCol < 0 {
			badgeCol = 0
		}
		for i, ch := range badge {
			grid[badgeRow][badgeCol+i] = ch
		}
		badges[badgeRow] = append(badges[badgeRow], span{badgeCol, badgeCol + len(badge)})
	}

	out := make([]string, len(grid))
	for i, row := range grid {
		out[i] = styleRow(row, mergeSpans(marks[i]), badges[i])
	}
	return out
}

func (m *Model) boxesForPage(surface *render.Surface) []highlight.Box {
	refs := m.refsByPage[surface.Page]
	if len(refs) == 0 {
		return nil
	}
	return highlight.Project(refs, float64(surface.WidthPx), float64(surface.HeightPx), m.scale)
}

func clampSpan(s span, max int) span {
	if s.start < 0 {
		s.start = 0
	}
	if s.end > max {
		s.end = max
	}
	return s
}

func mergeSpans(spans []span) []span {
	if len(spans) < 2 {
		return spans
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	merged := spans[:1]
	for _, s := range spans[1:] {
		last := &merged[len(merged)-1]
		if s.start <= last.end {
			if s.end > last.end {
				last.end = s.end
			}
			continue
		}
		merged = append(merged, s)
	}
	return merged
}

// styleRow renders one row with highlight and badge styling applied over
// the given column spans. Badge spans win over highlight spans.
func styleRow(row []rune, marks, badges []span) string {
	if len(marks) == 0 && len(badges) == 0 {
		return strings.TrimRight(string(row), " ")
	}
	var b strings.Builder
	pos := 0
	flush := func(until int, style func(...string) string) {
		if until > len(row) {
			until = len(row)
		}
		if until <= pos {
			return
		}
		seg := string(row[pos:until])
		if style != nil {
			seg = style(seg)
		}
		b.WriteString(seg)
		pos = until
	}

	boundaries := make([]struct {
		s     span
		badge bool
	}, 0, len(marks)+len(badges))
	for _, s := range marks {
		boundaries = append(boundaries, struct {
			s     span
			badge bool
		}{s, false})
	}
	for _, s := range badges {
		boundaries = append(boundaries, struct {
			s     span
			badge bool
		}{s, true})
	}
	sort.Slice(boundaries, func(i, j int) bool { return boundaries[i].s.start < boundaries[j].s.start })

	for _, region := range boundaries {
		if region.s.start > pos {
			flush(region.s.start, nil)
		}
		style := highlightStyle.Render
		if region.badge {
			style = badgeStyle.Render
		}
		flush(region.s.end, style)
	}
	flush(len(row), nil)
	return b.String()
}

// pageAtOffset maps a viewport line offset back to the page occupying it.
func (m *Model) pageAtOffset(y int) int {
	page := 1
	for p, offset := range m.pageOffsets {
		if offset > y {
			break
		}
		page = p + 1
	}
	return page
}

// rowForPoint converts a pixel-space y on a page into an absolute content
// line.
func (m *Model) rowForPoint(page int, yPx float64) int {
	if page < 1 || page > len(m.pageOffsets) {
		return 0
	}
	_, cellH := m.renderer.CellSize()
	return m.pageOffsets[page-1] + int(yPx/cellH)
}
