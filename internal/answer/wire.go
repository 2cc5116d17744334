package answer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/calebh/docscope/internal/evidence"
)

// EventType discriminates the streamed answer protocol's tagged union.
type EventType string

const (
	EventThinking   EventType = "thinking"
	EventReferences EventType = "references"
	EventContent    EventType = "content"
	EventDone       EventType = "done"
	EventError      EventType = "error"
)

// Event is one decoded line of the answer stream.
type Event struct {
	Type       EventType       `json:"type"`
	Content    string          `json:"content,omitempty"`
	Refs       []WireReference `json:"refs,omitempty"`
	Text       string          `json:"text,omitempty"`
	ActiveRefs []string        `json:"active_refs,omitempty"`
	FinalRefs  []string        `json:"final_refs,omitempty"`
	Message    string          `json:"message,omitempty"`
}

// Terminal reports whether the event ends the turn.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// WireBoundingBox mirrors the service's bbox shape.
type WireBoundingBox struct {
	Page int     `json:"page"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`
	W    float64 `json:"w"`
	H    float64 `json:"h"`
}

// WireReference mirrors the evidence shape emitted by the answer service.
type WireReference struct {
	RefID   string           `json:"ref_id"`
	ChunkID string           `json:"chunk_id"`
	Page    int              `json:"page"`
	BBox    *WireBoundingBox `json:"bbox"`
	Content string           `json:"content"`
	Source  string           `json:"source_type"`
}

// Default box synthesized for references delivered without geometry: a
// text-line-sized region at the page's top-left.
var defaultWireBox = WireBoundingBox{X: 0, Y: 0, W: 100, H: 20}

// Resolve maps a wire reference to the canonical form, applying the
// tolerant fallbacks: a missing page falls back to bbox.page then 1, and
// a missing bbox synthesizes a default region at the resolved page.
func (w WireReference) Resolve() evidence.Reference {
	page := w.Page
	if page <= 0 && w.BBox != nil {
		page = w.BBox.Page
	}
	if page <= 0 {
		page = 1
	}
	box := defaultWireBox
	if w.BBox != nil {
		box = *w.BBox
	}
	source := evidence.Source(w.Source)
	if source != evidence.SourceOCR {
		source = evidence.SourceNative
	}
	return evidence.Reference{
		ID:      w.ChunkID,
		RefID:   w.RefID,
		Content: w.Content,
		Page:    page,
		BBox: evidence.BoundingBox{
			Page: page,
			X:    box.X,
			Y:    box.Y,
			W:    box.W,
			H:    box.H,
		},
		Source: source,
	}
}

// ResolveAll maps a references payload wholesale.
func ResolveAll(refs []WireReference) []evidence.Reference {
	out := make([]evidence.Reference, 0, len(refs))
	for _, ref := range refs {
		out = append(out, ref.Resolve())
	}
	return out
}

var errBlankLine = errors.New("blank line")

var dataPrefix = []byte("data:")

// ParseLine decodes one stream line. Lines arrive either as bare JSON or
// SSE-style "data: {json}". Blank lines separate SSE messages and are not
// an error worth reporting; callers skip them via errBlankLine.
func ParseLine(line []byte) (Event, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return Event{}, errBlankLine
	}
	if bytes.HasPrefix(line, dataPrefix) {
		line = bytes.TrimSpace(line[len(dataPrefix):])
	}
	var ev Event
	if err := json.Unmarshal(line, &ev); err != nil {
		return Event{}, fmt.Errorf("undecodable stream line: %w", err)
	}
	switch ev.Type {
	case EventThinking, EventReferences, EventContent, EventDone, EventError:
		return ev, nil
	default:
		return Event{}, fmt.Errorf("unknown stream event type %q", ev.Type)
	}
}
