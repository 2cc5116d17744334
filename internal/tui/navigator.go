package tui

import (
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/calebh/docscope/internal/evidence"
)

// scrollToEvidence centers a reference's bounding box in the viewport.
// The target page may not be mounted yet (virtualization), so the attempt
// retries on a short backoff until the surface lands or the budget runs
// out. Smooth scrolling has no cell-raster equivalent; the flag is kept
// for call-site symmetry with zoom re-centering, which must jump.
func (m *Model) scrollToEvidence(ref evidence.Reference, smooth bool) tea.Cmd {
	return m.scrollAttempt(ref.Page, ref.BBox, 0, smooth)
}

func (m *Model) scrollAttempt(page int, box evidence.BoundingBox, attempt int, smooth bool) tea.Cmd {
	if m.source == nil || page < 1 || page > m.source.NumPages() {
		return nil
	}

	surface := m.surfaces[page]
	mounted := surface != nil && !surface.Placeholder && surface.Scale == m.scale
	if !mounted {
		if attempt >= scrollMaxAttempts {
			// Degraded but safe: the evidence stays in the model, the
			// viewport just does not auto-center.
			m.log.Debug("scroll target never mounted", zap.Int("page", page), zap.Int("attempts", attempt))
			return nil
		}
		// Coarse jump near the page so the render window picks it up.
		m.currentPage = page
		if page-1 < len(m.pageOffsets) {
			m.viewport.SetYOffset(m.pageOffsets[page-1])
		}
		cmds := m.renderWindow()
		cmds = append(cmds, scrollRetryCmd(m.session, page, attempt+1, box, smooth))
		return tea.Batch(cmds...)
	}

	centerPx := (box.Y + box.H/2) * m.scale
	line := m.rowForPoint(page, centerPx)
	target := line - m.viewport.Height/2
	if target < 0 {
		target = 0
	}
	m.viewport.SetYOffset(target)
	m.currentPage = page
	return nil
}
