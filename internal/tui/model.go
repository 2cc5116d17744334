package tui

import (
	"context"
	"fmt"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/glamour"
	"go.uber.org/zap"

	"github.com/calebh/docscope/internal/answer"
	"github.com/calebh/docscope/internal/evidence"
	"github.com/calebh/docscope/internal/highlight"
	"github.com/calebh/docscope/internal/render"
)

// Config wires runtime options into the TUI program.
type Config struct {
	Target     string // document path or URL
	Client     *answer.Client
	CacheDir   string // document fetch cache, empty for the default
	Oversample int
	Log        *zap.Logger
}

type inputPurpose int

const (
	inputQuestion inputPurpose = iota
	inputOpen
)

// Model is the document viewport controller: it owns view mode, scale,
// current-page tracking and the virtualized page window, and folds stream
// events into the answer pane. Single writer: all state changes happen in
// Update.
type Model struct {
	log *zap.Logger

	stage stage
	mode  viewMode

	width  int
	height int

	target string
	open   opener
	ask    asker

	// session identifies the current document; results stamped with an
	// older session are dropped.
	session int
	source  pageSource

	renderer *render.Renderer
	tracker  *highlight.Tracker
	sync     *answer.Synchronizer

	scale         float64
	currentPage   int
	surfaces      map[int]*render.Surface
	pageHeightsPt map[int]float64
	pageOffsets   []int
	contentLines  int
	contentDirty  bool

	activeRefs []evidence.Reference
	refsByPage map[int][]evidence.Reference

	gridCursor int
	selection  map[int]bool
	status     map[int]PageStatus

	events       <-chan answer.Event
	streaming    bool
	streamCancel context.CancelFunc

	viewport  viewport.Model
	question  textinput.Model
	spinner   spinner.Model
	inputOpen bool
	inputFor  inputPurpose
	markdown  *glamour.TermRenderer
	mdCache   map[string]string

	infoMessage  string
	errorMessage string
}

// New returns a model ready to be mounted into a Program.
func New(cfg Config) *Model {
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}

	question := textinput.New()
	question.Placeholder = "Ask about the open document…"
	question.CharLimit = 300
	question.Width = 60

	spin := spinner.New()
	spin.Spinner = spinner.Dot

	vp := viewport.New(80, 24)
	vp.MouseWheelEnabled = true

	markdown, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(answerPaneWidth-4),
	)
	if err != nil {
		log.Warn("markdown renderer unavailable, falling back to plain", zap.Error(err))
	}

	return &Model{
		log:           log,
		stage:         stageLoading,
		mode:          viewModeContinuous,
		target:        cfg.Target,
		open:          defaultOpener(log, cfg.CacheDir),
		ask:           cfg.Client,
		renderer:      render.New(cfg.Oversample),
		tracker:       highlight.NewTracker(),
		scale:         1.0,
		currentPage:   1,
		surfaces:      make(map[int]*render.Surface),
		pageHeightsPt: make(map[int]float64),
		refsByPage:    make(map[int][]evidence.Reference),
		gridCursor:    1,
		selection:     make(map[int]bool),
		status:        make(map[int]PageStatus),
		viewport:      vp,
		question:      question,
		spinner:       spin,
		markdown:      markdown,
		mdCache:       make(map[string]string),
	}
}

func (m *Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		loadDocumentCmd(m.session, m.open, m.target),
	)
}

func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.viewport.Width = m.contentWidth()
		m.viewport.Height = m.contentHeight()
		m.contentDirty = true

	case spinner.TickMsg:
		if m.stage == stageLoading || m.streaming {
			var cmd tea.Cmd
			m.spinner, cmd = m.spinner.Update(msg)
			return m, cmd
		}
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)

	case documentLoadedMsg:
		return m.handleDocumentLoaded(msg)

	case pageRenderedMsg:
		return m.handlePageRendered(msg)

	case streamStartedMsg:
		return m.handleStreamStarted(msg)

	case streamEventMsg:
		return m.handleStreamEvent(msg)

	case scrollAttemptMsg:
		if msg.session != m.session {
			return m, nil
		}
		cmd := m.scrollAttempt(msg.page, msg.box, msg.attempt, msg.smooth)
		return m, cmd

	case PageStatusMsg:
		if msg.Page >= 1 {
			m.status[msg.Page] = msg.Status
		}
		return m, nil
	}

	if m.contentDirty {
		m.rebuildContent()
	}
	return m, nil
}

func (m *Model) handleDocumentLoaded(msg documentLoadedMsg) (tea.Model, tea.Cmd) {
	if msg.session != m.session {
		// A newer document superseded this load; release it immediately.
		if msg.source != nil {
			return m, closeSourceCmd(msg.source)
		}
		return m, nil
	}
	if msg.err != nil {
		m.stage = stageError
		m.errorMessage = msg.err.Error()
		m.log.Error("document load failed", zap.Error(msg.err))
		return m, nil
	}
	m.source = msg.source
	m.sync = answer.NewSynchronizer(msg.source.ID(), m.log)
	m.stage = stageDisplay
	m.currentPage = 1
	m.gridCursor = 1
	m.infoMessage = fmt.Sprintf("%d pages. Press a to ask, g for grid.", msg.source.NumPages())
	cmds := m.renderWindow()
	m.rebuildContent()
	return m, tea.Batch(cmds...)
}

func (m *Model) handlePageRendered(msg pageRenderedMsg) (tea.Model, tea.Cmd) {
	if msg.session != m.session || m.source == nil {
		return m, nil
	}
	if !m.renderer.Committable(msg.page, msg.gen) {
		// Superseded by a newer attempt for the same page slot.
		return m, nil
	}
	m.surfaces[msg.page] = msg.surface
	if msg.surface.Scale > 0 {
		m.pageHeightsPt[msg.page] = float64(msg.surface.HeightPx) / msg.surface.Scale
	}
	offset := m.viewport.YOffset
	m.rebuildContent()
	m.viewport.SetYOffset(offset)
	return m, nil
}

func (m *Model) handleStreamStarted(msg streamStartedMsg) (tea.Model, tea.Cmd) {
	if msg.session != m.session || m.sync == nil {
		return m, nil
	}
	if msg.err != nil {
		m.sync.Apply(answer.Event{Type: answer.EventError, Message: msg.err.Error()})
		m.streaming = false
		m.cancelStream()
		m.log.Warn("answer stream failed to open", zap.Error(msg.err))
		return m, nil
	}
	m.events = msg.events
	return m, waitForEventCmd(m.session, msg.events)
}

func (m *Model) handleStreamEvent(msg streamEventMsg) (tea.Model, tea.Cmd) {
	if msg.session != m.session || m.sync == nil {
		return m, nil
	}
	if !msg.ok {
		// Channel closed without a terminal event: client-side cancel.
		m.streaming = false
		m.events = nil
		m.cancelStream()
		return m, nil
	}

	refs, pushed := m.sync.Apply(msg.ev)

	var cmds []tea.Cmd
	if pushed {
		if cmd := m.applyHighlights(refs); cmd != nil {
			cmds = append(cmds, cmd)
		}
	}
	if msg.ev.Terminal() {
		m.streaming = false
		m.events = nil
		m.cancelStream()
	} else {
		cmds = append(cmds, waitForEventCmd(m.session, m.events))
	}
	if m.contentDirty {
		m.rebuildContent()
	}
	return m, tea.Batch(cmds...)
}

// applyHighlights installs a new active highlight set and decides whether
// grid mode yields to it.
func (m *Model) applyHighlights(refs []evidence.Reference) tea.Cmd {
	m.activeRefs = refs
	m.refsByPage = evidence.ByPage(refs)
	m.contentDirty = true

	rev := m.tracker.Update(m.source.ID(), refs)
	if m.mode == viewModeGrid {
		if !rev.Changed || m.tracker.Pinned(m.source.ID()) {
			// Same evidence reasserted, or the user pinned this revision:
			// do not yank them out of grid mode.
			return nil
		}
		m.mode = viewModeContinuous
	}
	if len(refs) == 0 {
		return nil
	}
	return m.scrollToEvidence(refs[0], true)
}

func (m *Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.inputOpen {
		return m.handleInputKey(msg)
	}

	switch msg.String() {
	case "ctrl+c", "q":
		m.cancelStream()
		return m, tea.Quit

	case "a", "/":
		if m.stage != stageDisplay {
			return m, nil
		}
		m.inputOpen = true
		m.inputFor = inputQuestion
		m.question.Placeholder = "Ask about the open document…"
		m.question.Focus()
		return m, textinput.Blink

	case "o":
		m.inputOpen = true
		m.inputFor = inputOpen
		m.question.Placeholder = "Path or URL of a document…"
		m.question.Focus()
		return m, textinput.Blink

	case "g":
		if m.stage != stageDisplay {
			return m, nil
		}
		if m.mode == viewModeGrid {
			m.mode = viewModeContinuous
			m.contentDirty = true
			m.rebuildContent()
		} else {
			m.mode = viewModeGrid
			m.gridCursor = m.currentPage
		}
		return m, nil

	case "+", "=":
		return m, m.setScale(m.scale * zoomStep)
	case "-":
		return m, m.setScale(m.scale / zoomStep)
	case "0":
		return m, m.setScale(1.0)
	}

	if m.stage != stageDisplay {
		return m, nil
	}
	if m.mode == viewModeGrid {
		return m.handleGridKey(msg)
	}
	return m.handleContinuousKey(msg)
}

func (m *Model) handleInputKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.Type {
	case tea.KeyEsc:
		m.inputOpen = false
		m.question.SetValue("")
		m.question.Blur()
		return m, nil
	case tea.KeyEnter:
		value := m.question.Value()
		m.inputOpen = false
		m.question.SetValue("")
		m.question.Blur()
		if value == "" {
			return m, nil
		}
		if m.inputFor == inputOpen {
			return m, m.openDocument(value)
		}
		return m, m.submitQuestion(value)
	case tea.KeyCtrlC:
		m.cancelStream()
		return m, tea.Quit
	}
	var cmd tea.Cmd
	m.question, cmd = m.question.Update(msg)
	return m, cmd
}

func (m *Model) handleContinuousKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "]":
		return m, m.gotoPage(m.currentPage + 1)
	case "[":
		return m, m.gotoPage(m.currentPage - 1)
	case "1", "2", "3", "4", "5", "6", "7", "8", "9":
		return m, m.jumpToReference(msg.String())
	}

	var cmd tea.Cmd
	m.viewport, cmd = m.viewport.Update(msg)
	m.currentPage = m.pageAtOffset(m.viewport.YOffset)
	cmds := m.renderWindow()
	cmds = append(cmds, cmd)
	return m, tea.Batch(cmds...)
}

func (m *Model) handleGridKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	numPages := m.source.NumPages()
	cols := m.gridColumns()
	switch msg.String() {
	case "left", "h":
		m.moveGridCursor(-1, numPages)
	case "right", "l":
		m.moveGridCursor(1, numPages)
	case "up", "k":
		m.moveGridCursor(-cols, numPages)
	case "down", "j":
		m.moveGridCursor(cols, numPages)
	case " ":
		m.toggleSelection(m.gridCursor)
	case "p":
		m.tracker.PinGrid(m.source.ID())
		m.infoMessage = "Pinned to grid for this evidence set."
	case "enter":
		m.mode = viewModeContinuous
		m.contentDirty = true
		m.rebuildContent()
		return m, m.gotoPage(m.gridCursor)
	}
	return m, nil
}

func (m *Model) moveGridCursor(delta, numPages int) {
	next := m.gridCursor + delta
	if next < 1 || next > numPages {
		return
	}
	m.gridCursor = next
}

// toggleSelection flips a page's membership in the recognition selection.
// Pages already recognized or being processed are not selectable.
func (m *Model) toggleSelection(page int) {
	switch m.status[page] {
	case StatusRecognized, StatusProcessing:
		m.infoMessage = fmt.Sprintf("Page %d is already %s.", page, m.status[page])
		return
	}
	m.selection[page] = !m.selection[page]
	if !m.selection[page] {
		delete(m.selection, page)
	}
}

// setScale clamps and applies a zoom change, re-rendering every page in
// the window at the new scale. If the current page shows evidence, the
// navigator re-centers it after the rescale, without animation.
func (m *Model) setScale(scale float64) tea.Cmd {
	if scale < minScale {
		scale = minScale
	}
	if scale > maxScale {
		scale = maxScale
	}
	if scale == m.scale || m.source == nil {
		return nil
	}
	m.scale = scale
	m.surfaces = make(map[int]*render.Surface)
	m.contentDirty = true

	cmds := m.renderWindow()
	m.rebuildContent()
	if refs := m.refsByPage[m.currentPage]; len(refs) > 0 {
		cmds = append(cmds, m.scrollToEvidence(refs[0], false))
	}
	return tea.Batch(cmds...)
}

// renderWindow schedules renders for the pages around the current one and
// evicts surfaces that scrolled out of the window.
func (m *Model) renderWindow() []tea.Cmd {
	if m.source == nil {
		return nil
	}
	numPages := m.source.NumPages()
	lo := m.currentPage - windowRadius
	hi := m.currentPage + windowRadius
	if lo < 1 {
		lo = 1
	}
	if hi > numPages {
		hi = numPages
	}

	for page := range m.surfaces {
		if page < lo || page > hi {
			delete(m.surfaces, page)
		}
	}

	var cmds []tea.Cmd
	for page := lo; page <= hi; page++ {
		surface := m.surfaces[page]
		if surface != nil && surface.Scale == m.scale && !surface.Placeholder {
			continue
		}
		gen := m.renderer.Begin(page)
		cmds = append(cmds, renderPageCmd(m.session, m.source, m.renderer, page, gen, m.scale, m.log))
	}
	return cmds
}

func (m *Model) gotoPage(page int) tea.Cmd {
	if m.source == nil || page < 1 || page > m.source.NumPages() {
		return nil
	}
	m.currentPage = page
	if page-1 < len(m.pageOffsets) {
		m.viewport.SetYOffset(m.pageOffsets[page-1])
	}
	return tea.Batch(m.renderWindow()...)
}

// openDocument tears the current session down and starts loading another
// document. Every in-flight render and scroll retry is superseded by the
// session bump; the old page cache is released off the update loop.
func (m *Model) openDocument(target string) tea.Cmd {
	m.session++
	m.renderer.InvalidateAll()
	m.cancelStream()
	old := m.source
	m.source = nil
	m.sync = nil
	m.events = nil
	m.streaming = false
	m.surfaces = make(map[int]*render.Surface)
	m.pageHeightsPt = make(map[int]float64)
	m.activeRefs = nil
	m.refsByPage = make(map[int][]evidence.Reference)
	m.selection = make(map[int]bool)
	m.status = make(map[int]PageStatus)
	m.mdCache = make(map[string]string)
	m.mode = viewModeContinuous
	m.stage = stageLoading
	m.target = target
	m.viewport.SetYOffset(0)

	cmds := []tea.Cmd{
		m.spinner.Tick,
		loadDocumentCmd(m.session, m.open, target),
	}
	if old != nil {
		cmds = append(cmds, closeSourceCmd(old))
	}
	return tea.Batch(cmds...)
}

func (m *Model) submitQuestion(question string) tea.Cmd {
	if m.sync == nil || m.ask == nil {
		return nil
	}
	if m.streaming {
		m.infoMessage = "An answer is already streaming."
		return nil
	}
	history := m.sync.History()
	m.sync.Begin(question)
	m.streaming = true
	m.errorMessage = ""

	ctx, cancel := context.WithCancel(context.Background())
	m.streamCancel = cancel
	return tea.Batch(
		m.spinner.Tick,
		openStreamCmd(ctx, m.session, m.ask, m.source.ID(), question, history),
	)
}

// cancelStream closes the underlying event source of the active answer
// stream, if any. Server-side generation is not cancelled.
func (m *Model) cancelStream() {
	if m.streamCancel != nil {
		m.streamCancel()
		m.streamCancel = nil
	}
}

// jumpToReference resolves an inline tag by its number and centers its
// evidence. Unresolved tags are inert apart from a status message.
func (m *Model) jumpToReference(number string) tea.Cmd {
	if m.sync == nil {
		return nil
	}
	ref, ok := m.sync.ResolveTag(evidence.RefTagPrefix + number)
	if !ok {
		m.errorMessage = "Reference not found."
		return nil
	}
	if m.mode == viewModeGrid {
		m.mode = viewModeContinuous
		m.contentDirty = true
		m.rebuildContent()
	}
	return m.scrollToEvidence(ref, true)
}

func (m *Model) contentWidth() int {
	w := m.width - answerPaneWidth - 3
	if w < minViewportWidth {
		w = minViewportWidth
	}
	return w
}

func (m *Model) contentHeight() int {
	h := m.height - 3
	if h < 5 {
		h = 5
	}
	return h
}

func (m *Model) gridColumns() int {
	cols := m.contentWidth() / 12
	if cols < 1 {
		cols = 1
	}
	return cols
}
