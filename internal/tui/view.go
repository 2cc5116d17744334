package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/wordwrap"

	"github.com/calebh/docscope/internal/answer"
	"github.com/calebh/docscope/internal/reftag"
)

var (
	separatorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	placeholderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("240")).Italic(true)
	highlightStyle   = lipgloss.NewStyle().Background(lipgloss.Color("178")).Foreground(lipgloss.Color("16"))
	badgeStyle       = lipgloss.NewStyle().Background(lipgloss.Color("33")).Foreground(lipgloss.Color("231")).Bold(true)
	statusBarStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	errorStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	infoStyle        = lipgloss.NewStyle().Foreground(lipgloss.Color("114"))
	promptStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	activeTagStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("178")).Bold(true)
	inertTagStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	thinkingStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Italic(true)
	paneStyle        = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("238")).Padding(0, 1)
	gridCursorStyle  = lipgloss.NewStyle().Reverse(true)
	gridSelectStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("114")).Bold(true)
)

func (m *Model) View() string {
	switch m.stage {
	case stageLoading:
		return fmt.Sprintf("\n  %s Loading %s…\n", m.spinner.View(), m.target)
	case stageError:
		return "\n" + errorStyle.Render("  Could not open the document.") + "\n\n  " +
			wordwrap.String(m.errorMessage, m.width-4) + "\n\n  Press o to open another document, q to quit.\n"
	}

	var document string
	if m.mode == viewModeGrid {
		document = m.gridView()
	} else {
		document = m.viewport.View()
	}
	left := paneStyle.Width(m.contentWidth()).Height(m.contentHeight()).Render(document)
	right := paneStyle.Width(answerPaneWidth - 2).Height(m.contentHeight()).Render(m.answerPaneView())

	body := lipgloss.JoinHorizontal(lipgloss.Top, left, right)

	var footer string
	if m.inputOpen {
		footer = promptStyle.Render("❯ ") + m.question.View()
	} else {
		footer = m.statusBar()
	}
	return body + "\n" + footer
}

func (m *Model) statusBar() string {
	numPages := 0
	if m.source != nil {
		numPages = m.source.NumPages()
	}
	mode := "continuous"
	if m.mode == viewModeGrid {
		mode = "grid"
	}
	left := fmt.Sprintf(" page %d/%d · %d%% · %s", m.currentPage, numPages, int(m.scale*100+0.5), mode)
	if m.streaming {
		left += " · " + m.spinner.View() + "streaming"
	}
	bar := statusBarStyle.Render(left)
	switch {
	case m.errorMessage != "":
		bar += "  " + errorStyle.Render(m.errorMessage)
	case m.infoMessage != "":
		bar += "  " + infoStyle.Render(m.infoMessage)
	}
	return bar
}

// gridView lays page thumbnails out as fixed-width cells with the
// selection mark and the recognition status glyph.
func (m *Model) gridView() string {
	numPages := m.source.NumPages()
	cols := m.gridColumns()

	var rows []string
	var row []string
	for page := 1; page <= numPages; page++ {
		cell := fmt.Sprintf(" %3d %s%s ", page, m.selectionMark(page), statusGlyph(m.status[page]))
		switch {
		case page == m.gridCursor:
			cell = gridCursorStyle.Render(cell)
		case m.selection[page]:
			cell = gridSelectStyle.Render(cell)
		}
		row = append(row, cell)
		if len(row) == cols {
			rows = append(rows, strings.Join(row, " "))
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, strings.Join(row, " "))
	}
	help := placeholderStyle.Render("space select · p pin · enter open · g back")
	return strings.Join(rows, "\n\n") + "\n\n" + help
}

func (m *Model) selectionMark(page int) string {
	if m.selection[page] {
		return "●"
	}
	return "○"
}

func statusGlyph(status PageStatus) string {
	switch status {
	case StatusProcessing:
		return "◌"
	case StatusRecognized:
		return "✓"
	case StatusFailed:
		return "✗"
	default:
		return "·"
	}
}

// answerPaneView renders the transcript: streamed turns in plain
// incremental form, completed turns with full markdown formatting.
func (m *Model) answerPaneView() string {
	width := answerPaneWidth - 4
	if m.sync == nil {
		return placeholderStyle.Render("Ask a question with a.")
	}

	activated := make(map[string]bool)
	for _, ref := range m.sync.ActiveReferences() {
		activated[ref.RefID] = true
	}

	var sections []string
	for _, turn := range m.sync.Turns() {
		switch turn.Role {
		case answer.RoleUser:
			sections = append(sections, promptStyle.Render("❯ ")+wordwrap.String(turn.Content, width-2))
		case answer.RoleAssistant:
			switch {
			case turn.Err != "":
				sections = append(sections, errorStyle.Render(wordwrap.String(turn.Content, width)))
			case turn.Streaming:
				sections = append(sections, m.plainAnswer(turn.Content, activated, width))
			case turn.Content != "":
				sections = append(sections, m.formattedAnswer(turn, width))
			}
		}
	}
	if thinking := m.sync.Thinking(); thinking != "" {
		sections = append(sections, thinkingStyle.Render(m.spinner.View()+" "+thinking))
	}
	if len(sections) == 0 {
		return placeholderStyle.Render("Ask a question with a.")
	}
	return strings.Join(sections, "\n\n")
}

// plainAnswer is the incremental mode used while streaming: one tokenizer
// pass, tags styled by activation state.
func (m *Model) plainAnswer(text string, activated map[string]bool, width int) string {
	var b strings.Builder
	for _, seg := range reftag.Split(text) {
		if seg.Kind == reftag.Plain {
			b.WriteString(seg.Text)
			continue
		}
		if activated[seg.RefID] {
			b.WriteString(activeTagStyle.Render(seg.Text))
		} else {
			b.WriteString(inertTagStyle.Render(seg.Text))
		}
	}
	return wordwrap.String(b.String(), width)
}

// formattedAnswer renders a completed turn with markdown, caching per turn
// since content is immutable after done.
func (m *Model) formattedAnswer(turn answer.Turn, width int) string {
	if cached, ok := m.mdCache[turn.ID]; ok {
		return cached
	}
	out := m.plainAnswer(turn.Content, allTags(turn.Content), width)
	if m.markdown != nil {
		if rendered, err := m.markdown.Render(turn.Content); err == nil {
			out = strings.TrimRight(rendered, "\n")
		}
	}
	m.mdCache[turn.ID] = out
	return out
}

func allTags(text string) map[string]bool {
	tags := make(map[string]bool)
	for _, tag := range reftag.Tags(text) {
		tags[tag] = true
	}
	return tags
}
