package answer

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/calebh/docscope/internal/evidence"
)

// State tracks one question's lifecycle:
// idle -> awaiting references -> streaming -> done | error.
type State int

const (
	StateIdle State = iota
	StateAwaitingReferences
	StateStreaming
	StateDone
	StateError
)

// Role labels transcript turns.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one transcript entry. Assistant turns carry the full candidate
// reference set delivered by the service, not just the activated subset.
type Turn struct {
	ID         string
	Role       Role
	Content    string
	Err        string
	Streaming  bool
	AskedAt    time.Time
	Candidates []evidence.Reference
}

// Synchronizer consumes the event stream for one question at a time,
// accumulates the answer text, and maintains the evolving set of active
// references. It is single-writer: the owning update loop feeds it events
// in arrival order.
type Synchronizer struct {
	documentID string
	state      State
	turns      []Turn
	active     map[string]struct{}
	thinking   string
	log        *zap.Logger
}

func NewSynchronizer(documentID string, log *zap.Logger) *Synchronizer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Synchronizer{
		documentID: documentID,
		active:     make(map[string]struct{}),
		log:        log,
	}
}

func (s *Synchronizer) DocumentID() string { return s.documentID }
func (s *Synchronizer) State() State       { return s.state }
func (s *Synchronizer) Thinking() string   { return s.thinking }
func (s *Synchronizer) Turns() []Turn      { return s.turns }

// Begin records the question and a placeholder assistant turn, resets the
// per-turn active set, and returns the assistant turn id.
func (s *Synchronizer) Begin(question string) string {
	now := time.Now()
	s.turns = append(s.turns, Turn{
		ID:      uuid.NewString(),
		Role:    RoleUser,
		Content: question,
		AskedAt: now,
	})
	assistant := Turn{
		ID:        uuid.NewString(),
		Role:      RoleAssistant,
		Streaming: true,
		AskedAt:   now,
	}
	s.turns = append(s.turns, assistant)
	s.active = make(map[string]struct{})
	s.thinking = ""
	s.state = StateAwaitingReferences
	return assistant.ID
}

// Apply folds one stream event into the transcript. When the event grows
// the active reference set it returns the references to highlight and
// pushed=true; the caller forwards them to the viewport.
func (s *Synchronizer) Apply(ev Event) (refs []evidence.Reference, pushed bool) {
	turn := s.currentTurn()
	if turn == nil {
		s.log.Warn("stream event with no turn in flight", zap.String("type", string(ev.Type)))
		return nil, false
	}

	switch ev.Type {
	case EventThinking:
		s.thinking = ev.Content
		return nil, false

	case EventReferences:
		// Candidates only; nothing is highlighted until the answer cites them.
		turn.Candidates = ResolveAll(ev.Refs)
		return nil, false

	case EventContent:
		s.state = StateStreaming
		s.thinking = ""
		turn.Content += ev.Text
		if s.activate(ev.ActiveRefs) {
			return s.activeReferences(turn), true
		}
		return nil, false

	case EventDone:
		turn.Streaming = false
		s.thinking = ""
		s.state = StateDone
		if s.activate(ev.FinalRefs) {
			return s.activeReferences(turn), true
		}
		return nil, false

	case EventError:
		turn.Streaming = false
		turn.Err = ev.Message
		turn.Content = ev.Message
		s.thinking = ""
		s.state = StateError
		return nil, false
	}
	return nil, false
}

// activate unions tags into the turn's active set; the set never shrinks
// within one answer. Reports whether anything new was added.
func (s *Synchronizer) activate(tags []string) bool {
	grew := false
	for _, tag := range tags {
		if tag == "" {
			continue
		}
		if _, ok := s.active[tag]; !ok {
			s.active[tag] = struct{}{}
			grew = true
		}
	}
	return grew
}

// ActiveReferences returns the in-flight turn's candidates filtered down
// to the tags the answer has cited so far, in candidate order.
func (s *Synchronizer) ActiveReferences() []evidence.Reference {
	turn := s.currentTurn()
	if turn == nil {
		return nil
	}
	return s.activeReferences(turn)
}

func (s *Synchronizer) activeReferences(turn *Turn) []evidence.Reference {
	out := make([]evidence.Reference, 0, len(turn.Candidates))
	for _, ref := range turn.Candidates {
		if _, ok := s.active[ref.RefID]; ok {
			out = append(out, ref)
		}
	}
	return out
}

// ResolveTag finds the reference a rendered inline tag points at.
func (s *Synchronizer) ResolveTag(tag string) (evidence.Reference, bool) {
	for i := len(s.turns) - 1; i >= 0; i-- {
		for _, ref := range s.turns[i].Candidates {
			if ref.RefID == tag {
				return ref, true
			}
		}
	}
	return evidence.Reference{}, false
}

// History flattens completed exchanges for the next question's request.
func (s *Synchronizer) History() []HistoryEntry {
	out := make([]HistoryEntry, 0, len(s.turns))
	for _, turn := range s.turns {
		if turn.Streaming || turn.Err != "" || turn.Content == "" {
			continue
		}
		out = append(out, HistoryEntry{Role: string(turn.Role), Content: turn.Content})
	}
	return out
}

// currentTurn is the most recent assistant turn, nil before the first
// question.
func (s *Synchronizer) currentTurn() *Turn {
	for i := len(s.turns) - 1; i >= 0; i-- {
		if s.turns[i].Role == RoleAssistant {
			return &s.turns[i]
		}
	}
	return nil
}
