package tui

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calebh/docscope/internal/answer"
	"github.com/calebh/docscope/internal/doc"
	"github.com/calebh/docscope/internal/evidence"
	"github.com/calebh/docscope/internal/render"
)

func newTestSource(t *testing.T, id string, pages int, decodes *int) *doc.Source {
	t.Helper()
	src, err := doc.NewSourceFunc(id, pages, func(n int) (*doc.PageHandle, error) {
		if decodes != nil {
			*decodes++
		}
		return &doc.PageHandle{
			Number: n,
			Width:  612,
			Height: 792,
			Runs:   []doc.TextRun{{S: "lorem ipsum", X: 72, Y: 100, Size: 12}},
		}, nil
	}, nil)
	require.NoError(t, err)
	return src
}

func loadedModel(t *testing.T, pages int, decodes *int) *Model {
	t.Helper()
	m := New(Config{Target: "fixture.pdf", Oversample: 2})
	src := newTestSource(t, "doc-test", pages, decodes)
	m.open = func(ctx context.Context, target string) (pageSource, error) { return src, nil }
	m.width, m.height = 140, 40
	m.viewport.Width = m.contentWidth()
	m.viewport.Height = m.contentHeight()
	drain(t, m, loadDocumentCmd(m.session, m.open, "fixture.pdf"))
	require.Equal(t, stageDisplay, m.stage)
	return m
}

// drain runs commands to completion, feeding their messages back through
// Update the way the runtime would. Spinner ticks are dropped so the loop
// terminates.
func drain(t *testing.T, m *Model, cmd tea.Cmd) {
	t.Helper()
	if cmd == nil {
		return
	}
	msg := cmd()
	if msg == nil {
		return
	}
	if batch, ok := msg.(tea.BatchMsg); ok {
		for _, c := range batch {
			drain(t, m, c)
		}
		return
	}
	if _, ok := msg.(spinner.TickMsg); ok {
		return
	}
	_, next := m.Update(msg)
	drain(t, m, next)
}

func key(s string) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func wireRefOn(id string, page int) answer.WireReference {
	return answer.WireReference{
		RefID:   id,
		ChunkID: id + "-chunk",
		Page:    page,
		BBox:    &answer.WireBoundingBox{Page: page, X: 50, Y: 300, W: 200, H: 40},
	}
}

// streamAnswer drives one full question/answer exchange through the
// update loop.
func streamAnswer(t *testing.T, m *Model, question string, evs []answer.Event) {
	t.Helper()
	events := make(chan answer.Event, len(evs))
	for _, ev := range evs {
		events <- ev
	}
	close(events)
	m.sync.Begin(question)
	m.streaming = true
	_, cmd := m.Update(streamStartedMsg{session: m.session, events: events})
	drain(t, m, cmd)
}

func TestLoadRendersInitialWindow(t *testing.T) {
	decodes := 0
	m := loadedModel(t, 10, &decodes)
	// Pages 1..3 fall inside the window around page 1.
	assert.Equal(t, 3, decodes)
	assert.Equal(t, 1, m.currentPage)
	assert.NotNil(t, m.surfaces[1])
	assert.Nil(t, m.surfaces[7])
}

func TestZoomCycleUsesCachedHandles(t *testing.T) {
	decodes := 0
	m := loadedModel(t, 3, &decodes)
	require.Equal(t, 3, decodes)

	_, cmd := m.Update(key("+"))
	drain(t, m, cmd)
	assert.InDelta(t, 1.25, m.scale, 1e-9)

	_, cmd = m.Update(key("0"))
	drain(t, m, cmd)
	assert.Equal(t, 1.0, m.scale)

	assert.Equal(t, 3, decodes, "zoom must hit the page cache, not re-decode")
	for page := 1; page <= 3; page++ {
		require.NotNil(t, m.surfaces[page])
		assert.Equal(t, 1.0, m.surfaces[page].Scale)
	}
}

func TestZoomClampsToBounds(t *testing.T) {
	m := loadedModel(t, 2, nil)
	for i := 0; i < 10; i++ {
		drain(t, m, m.setScale(m.scale*zoomStep))
	}
	assert.Equal(t, maxScale, m.scale)
	for i := 0; i < 20; i++ {
		drain(t, m, m.setScale(m.scale/zoomStep))
	}
	assert.Equal(t, minScale, m.scale)
}

func TestSupersededRenderDoesNotCommit(t *testing.T) {
	m := loadedModel(t, 5, nil)
	gen1 := m.renderer.Begin(4)
	gen2 := m.renderer.Begin(4)

	stale := render.Placeholder(4, 612, 792, 2.0)
	m.Update(pageRenderedMsg{session: m.session, page: 4, gen: gen1, surface: stale})
	assert.NotSame(t, stale, m.surfaces[4])

	fresh := render.Placeholder(4, 612, 792, 1.0)
	m.Update(pageRenderedMsg{session: m.session, page: 4, gen: gen2, surface: fresh})
	assert.Same(t, fresh, m.surfaces[4])
}

func TestNewEvidenceAutoSwitchesGridToContinuous(t *testing.T) {
	m := loadedModel(t, 6, nil)
	_, _ = m.Update(key("g"))
	require.Equal(t, viewModeGrid, m.mode)

	streamAnswer(t, m, "where is the clause?", []answer.Event{
		{Type: answer.EventReferences, Refs: []answer.WireReference{wireRefOn("ref-1", 5), wireRefOn("ref-2", 6)}},
		{Type: answer.EventContent, Text: "See [ref-1].", ActiveRefs: []string{"ref-1"}},
		{Type: answer.EventDone, FinalRefs: []string{"ref-1"}},
	})

	assert.Equal(t, viewModeContinuous, m.mode)
	assert.Equal(t, 5, m.currentPage, "viewport centers the first reference's page")
	assert.False(t, m.streaming)
	assert.Greater(t, m.viewport.YOffset, 0)
}

func TestSameEvidenceRedeliveryKeepsGrid(t *testing.T) {
	m := loadedModel(t, 6, nil)
	deliver := func(question string) {
		streamAnswer(t, m, question, []answer.Event{
			{Type: answer.EventReferences, Refs: []answer.WireReference{wireRefOn("ref-1", 5)}},
			{Type: answer.EventContent, Text: "See [ref-1].", ActiveRefs: []string{"ref-1"}},
			{Type: answer.EventDone},
		})
	}
	deliver("first")
	require.Equal(t, viewModeContinuous, m.mode)

	_, _ = m.Update(key("g"))
	_, _ = m.Update(key("p"))
	deliver("second")
	assert.Equal(t, viewModeGrid, m.mode, "redelivered evidence must not yank the user out of grid")
}

func TestChangedEvidenceOverridesPin(t *testing.T) {
	m := loadedModel(t, 6, nil)
	streamAnswer(t, m, "first", []answer.Event{
		{Type: answer.EventReferences, Refs: []answer.WireReference{wireRefOn("ref-1", 5)}},
		{Type: answer.EventContent, Text: "See [ref-1].", ActiveRefs: []string{"ref-1"}},
		{Type: answer.EventDone},
	})
	_, _ = m.Update(key("g"))
	_, _ = m.Update(key("p"))

	streamAnswer(t, m, "second", []answer.Event{
		{Type: answer.EventReferences, Refs: []answer.WireReference{wireRefOn("ref-1", 2)}},
		{Type: answer.EventContent, Text: "Now [ref-1].", ActiveRefs: []string{"ref-1"}},
		{Type: answer.EventDone},
	})
	assert.Equal(t, viewModeContinuous, m.mode, "a genuine revision clears the pin")
	assert.Equal(t, 2, m.currentPage)
}

func TestDocumentSwitchCancelsOldRenders(t *testing.T) {
	m := loadedModel(t, 5, nil)
	oldSrc := m.source
	oldSession := m.session
	gen := m.renderer.Begin(4)
	stale := render.Placeholder(4, 612, 792, 1.0)

	next := newTestSource(t, "doc-next", 2, nil)
	m.open = func(ctx context.Context, target string) (pageSource, error) { return next, nil }
	drain(t, m, m.openDocument("next.pdf"))
	require.Equal(t, stageDisplay, m.stage)
	assert.Equal(t, "doc-next", m.source.ID())

	// A paint from the old document arriving late must not land.
	m.Update(pageRenderedMsg{session: oldSession, page: 4, gen: gen, surface: stale})
	assert.NotSame(t, stale, m.surfaces[4])

	// The old page cache is fully released.
	_, err := oldSrc.Page(1)
	assert.ErrorIs(t, err, doc.ErrClosed)
}

func TestGridSelectionRespectsRecognitionStatus(t *testing.T) {
	m := loadedModel(t, 4, nil)
	_, _ = m.Update(key("g"))
	m.Update(PageStatusMsg{Page: 1, Status: StatusRecognized})
	m.Update(PageStatusMsg{Page: 3, Status: StatusProcessing})

	_, _ = m.Update(key(" "))
	assert.False(t, m.selection[1], "recognized pages are not selectable")

	_, _ = m.Update(key("l"))
	require.Equal(t, 2, m.gridCursor)
	_, _ = m.Update(key(" "))
	assert.True(t, m.selection[2])
	_, _ = m.Update(key(" "))
	assert.False(t, m.selection[2], "second toggle deselects")

	m.gridCursor = 3
	_, _ = m.Update(key(" "))
	assert.False(t, m.selection[3], "processing pages are not selectable")
}

func TestInlineTagJumpAndNotFound(t *testing.T) {
	m := loadedModel(t, 6, nil)
	streamAnswer(t, m, "q", []answer.Event{
		{Type: answer.EventReferences, Refs: []answer.WireReference{wireRefOn("ref-1", 4)}},
		{Type: answer.EventContent, Text: "See [ref-1].", ActiveRefs: []string{"ref-1"}},
		{Type: answer.EventDone},
	})

	m.currentPage = 1
	m.viewport.SetYOffset(0)
	_, cmd := m.Update(key("1"))
	drain(t, m, cmd)
	assert.Equal(t, 4, m.currentPage)

	_, _ = m.Update(key("9"))
	assert.Equal(t, "Reference not found.", m.errorMessage)
}

func TestScrollGivesUpSilentlyWhenPageNeverMounts(t *testing.T) {
	m := New(Config{Target: "fixture.pdf", Oversample: 2})
	src, err := doc.NewSourceFunc("doc-broken", 3, func(n int) (*doc.PageHandle, error) {
		if n == 3 {
			return nil, errors.New("content stream corrupt")
		}
		return &doc.PageHandle{Number: n, Width: 612, Height: 792}, nil
	}, nil)
	require.NoError(t, err)
	m.open = func(ctx context.Context, target string) (pageSource, error) { return src, nil }
	m.width, m.height = 140, 40
	drain(t, m, loadDocumentCmd(m.session, m.open, "fixture.pdf"))

	box := evidence.BoundingBox{Page: 3, X: 10, Y: 20, W: 100, H: 30}
	drain(t, m, m.scrollAttempt(3, box, 0, true))

	// Degraded but safe: no crash, no user-visible error.
	assert.Empty(t, m.errorMessage)
	require.NotNil(t, m.surfaces[3])
	assert.True(t, m.surfaces[3].Placeholder)
}

func TestDocumentSwitchCancelsAnswerStream(t *testing.T) {
	m := loadedModel(t, 3, nil)

	// The server emits one delta, then holds the connection open so the
	// client's read goroutine is parked mid-stream.
	release := make(chan struct{})
	defer close(release)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, `{"type":"content","text":"partial","active_refs":[]}`)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	m.ask = answer.NewClient(server.URL, server.Client(), nil)

	batch, ok := m.submitQuestion("what does section 2 say?")().(tea.BatchMsg)
	require.True(t, ok)
	for _, c := range batch {
		msg := c()
		if _, skip := msg.(spinner.TickMsg); skip {
			continue
		}
		started, ok := msg.(streamStartedMsg)
		require.True(t, ok)
		require.NoError(t, started.err)
		_, next := m.Update(started)
		// Deliver the first delta so the stream is established and live.
		_, _ = m.Update(next().(streamEventMsg))
	}
	require.True(t, m.streaming)
	events := m.events
	require.NotNil(t, events)

	next := newTestSource(t, "doc-next", 2, nil)
	m.open = func(ctx context.Context, target string) (pageSource, error) { return next, nil }
	drain(t, m, m.openDocument("next.pdf"))
	require.Equal(t, "doc-next", m.source.ID())

	// Switching documents cancels the stream context, which closes the
	// connection and lets the read goroutine exit instead of blocking on a
	// channel nobody reads anymore.
	select {
	case _, open := <-events:
		assert.False(t, open, "event channel must close after the switch")
	case <-time.After(5 * time.Second):
		t.Fatal("read goroutine still parked after document switch")
	}
}

func TestZoomRecentersEvidenceOnCurrentPage(t *testing.T) {
	m := loadedModel(t, 6, nil)
	streamAnswer(t, m, "q", []answer.Event{
		{Type: answer.EventReferences, Refs: []answer.WireReference{wireRefOn("ref-1", 4)}},
		{Type: answer.EventContent, Text: "See [ref-1].", ActiveRefs: []string{"ref-1"}},
		{Type: answer.EventDone},
	})
	require.Equal(t, 4, m.currentPage)

	_, cmd := m.Update(key("+"))
	drain(t, m, cmd)
	require.InDelta(t, 1.25, m.scale, 1e-9)

	// The highlighted box stays centered at the new scale.
	box := m.refsByPage[4][0].BBox
	line := m.rowForPoint(4, (box.Y+box.H/2)*m.scale)
	want := line - m.viewport.Height/2
	if want < 0 {
		want = 0
	}
	assert.Equal(t, 4, m.currentPage)
	assert.Equal(t, want, m.viewport.YOffset)
}

func TestZoomWithoutEvidenceKeepsOrigin(t *testing.T) {
	m := loadedModel(t, 3, nil)
	require.Empty(t, m.refsByPage)

	_, cmd := m.Update(key("+"))
	drain(t, m, cmd)
	assert.Equal(t, 0, m.viewport.YOffset)
	assert.Equal(t, 1, m.currentPage)
}

func TestStreamTransportFailureTerminatesTurn(t *testing.T) {
	m := loadedModel(t, 2, nil)
	m.sync.Begin("q")
	m.streaming = true
	_, cmd := m.Update(streamStartedMsg{session: m.session, err: errors.New("connection refused")})
	drain(t, m, cmd)

	assert.False(t, m.streaming)
	turns := m.sync.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, "connection refused", turns[1].Err)
}
