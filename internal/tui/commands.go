package tui

import (
	"context"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/calebh/docscope/internal/answer"
	"github.com/calebh/docscope/internal/doc"
	"github.com/calebh/docscope/internal/evidence"
	"github.com/calebh/docscope/internal/render"
)

// pageSource is the slice of doc.Source the viewport needs. Kept narrow so
// tests can substitute decoded fixtures.
type pageSource interface {
	ID() string
	NumPages() int
	Page(n int) (*doc.PageHandle, error)
	Close()
}

// opener resolves a document target (path or URL) to a page source.
type opener func(ctx context.Context, target string) (pageSource, error)

// asker opens one answer stream.
type asker interface {
	Ask(ctx context.Context, documentID, question string, history []answer.HistoryEntry) (<-chan answer.Event, error)
}

// defaultOpener loads from a local path, or over HTTP when the target
// looks like a URL.
func defaultOpener(log *zap.Logger, cacheDir string) opener {
	return func(ctx context.Context, target string) (pageSource, error) {
		if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
			return doc.OpenURL(ctx, target, cacheDir, log)
		}
		return doc.Open(target, log)
	}
}

func loadDocumentCmd(session int, open opener, target string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		source, err := open(ctx, target)
		return documentLoadedMsg{session: session, source: source, err: err}
	}
}

// renderPageCmd rasterizes one page at the captured scale. The generation
// was taken at schedule time; Update refuses the result if a newer attempt
// superseded it. Decode failures degrade to a placeholder surface.
func renderPageCmd(session int, source pageSource, renderer *render.Renderer, page int, gen uint64, scale float64, log *zap.Logger) tea.Cmd {
	return func() tea.Msg {
		handle, err := source.Page(page)
		if err != nil {
			log.Warn("page decode failed", zap.Int("page", page), zap.Error(err))
			surface := render.Placeholder(page, defaultPageWidthPt, defaultPageHeightPt, scale)
			return pageRenderedMsg{session: session, page: page, gen: gen, surface: surface}
		}
		surface := renderer.Render(handle, scale)
		return pageRenderedMsg{session: session, page: page, gen: gen, surface: surface}
	}
}

// openStreamCmd opens one answer stream under ctx. Cancelling ctx closes
// the underlying event source, which ends the read loop.
func openStreamCmd(ctx context.Context, session int, ask asker, documentID, question string, history []answer.HistoryEntry) tea.Cmd {
	return func() tea.Msg {
		events, err := ask.Ask(ctx, documentID, question, history)
		return streamStartedMsg{session: session, events: events, err: err}
	}
}

// waitForEventCmd delivers the next stream event and is re-armed by Update
// after each delivery, keeping arrival order intact.
func waitForEventCmd(session int, events <-chan answer.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		return streamEventMsg{session: session, ev: ev, ok: ok}
	}
}

func scrollRetryCmd(session, page, attempt int, box evidence.BoundingBox, smooth bool) tea.Cmd {
	return tea.Tick(80*time.Millisecond, func(time.Time) tea.Msg {
		return scrollAttemptMsg{session: session, page: page, attempt: attempt, box: box, smooth: smooth}
	})
}

func closeSourceCmd(source pageSource) tea.Cmd {
	return func() tea.Msg {
		source.Close()
		return nil
	}
}
