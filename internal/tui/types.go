package tui

import (
	"github.com/calebh/docscope/internal/answer"
	"github.com/calebh/docscope/internal/evidence"
	"github.com/calebh/docscope/internal/render"
)

type stage int

const (
	stageLoading stage = iota
	stageDisplay
	stageError
)

type viewMode int

const (
	viewModeContinuous viewMode = iota
	viewModeGrid
)

// PageStatus is the per-page state reported by the external recognition
// subsystem. Grid mode consumes it read-only.
type PageStatus string

const (
	StatusUnrecognized PageStatus = "unrecognized"
	StatusProcessing   PageStatus = "processing"
	StatusRecognized   PageStatus = "recognized"
	StatusFailed       PageStatus = "failed"
)

// Letter-size estimate used for pages whose measured size is not known
// yet (not mounted, or decode failed).
const (
	defaultPageWidthPt  = 612.0
	defaultPageHeightPt = 792.0
)

const (
	minScale = 0.5
	maxScale = 3.0
	zoomStep = 1.25

	// Pages rendered around the current one; everything else shows a
	// placeholder until scrolled near.
	windowRadius = 2

	minViewportWidth = 40
	answerPaneWidth  = 46
)

// Scroll-to-evidence retry budget. A page that has not mounted after the
// budget is exhausted is silently left where it is.
const (
	scrollMaxAttempts = 10
)

type documentLoadedMsg struct {
	session int
	source  pageSource
	err     error
}

type pageRenderedMsg struct {
	session int
	page    int
	gen     uint64
	surface *render.Surface
}

type streamStartedMsg struct {
	session int
	events  <-chan answer.Event
	err     error
}

type streamEventMsg struct {
	session int
	ev      answer.Event
	ok      bool
}

type scrollAttemptMsg struct {
	session int
	page    int
	attempt int
	box     evidence.BoundingBox
	smooth  bool
}

// PageStatusMsg feeds one page's recognition status into the program.
// External: the recognition subsystem publishes these via Program.Send.
type PageStatusMsg struct {
	Page   int
	Status PageStatus
}
