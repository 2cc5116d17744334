package answer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func wireRef(id string, page int) WireReference {
	return WireReference{
		RefID:   id,
		ChunkID: id + "-chunk",
		Page:    page,
		BBox:    &WireBoundingBox{Page: page, X: 10, Y: 20, W: 100, H: 30},
	}
}

func startedTurn(t *testing.T) *Synchronizer {
	t.Helper()
	s := NewSynchronizer("doc-1", zap.NewNop())
	s.Begin("what does clause 4 say?")
	refs, pushed := s.Apply(Event{
		Type: EventReferences,
		Refs: []WireReference{wireRef("ref-1", 2), wireRef("ref-2", 5), wireRef("ref-3", 5)},
	})
	require.False(t, pushed, "references alone must not highlight")
	require.Nil(t, refs)
	return s
}

func TestBeginAppendsUserAndPlaceholderTurns(t *testing.T) {
	t.Parallel()
	s := NewSynchronizer("doc-1", zap.NewNop())
	s.Begin("question?")

	turns := s.Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, RoleUser, turns[0].Role)
	assert.Equal(t, "question?", turns[0].Content)
	assert.Equal(t, RoleAssistant, turns[1].Role)
	assert.True(t, turns[1].Streaming)
	assert.Empty(t, turns[1].Content)
	assert.Equal(t, StateAwaitingReferences, s.State())
}

func TestActiveSetGrowsMonotonically(t *testing.T) {
	t.Parallel()
	s := startedTurn(t)

	refs, pushed := s.Apply(Event{Type: EventContent, Text: "See [ref-1]. ", ActiveRefs: []string{"ref-1"}})
	require.True(t, pushed)
	require.Len(t, refs, 1)
	assert.Equal(t, "ref-1", refs[0].RefID)
	assert.Equal(t, StateStreaming, s.State())

	// Second delta activates ref-2; the set keeps ref-1.
	refs, pushed = s.Apply(Event{Type: EventContent, Text: "And [ref-2].", ActiveRefs: []string{"ref-2"}})
	require.True(t, pushed)
	require.Len(t, refs, 2)
	assert.Equal(t, "ref-1", refs[0].RefID)
	assert.Equal(t, "ref-2", refs[1].RefID)
}

func TestRepeatedActivationDoesNotPush(t *testing.T) {
	t.Parallel()
	s := startedTurn(t)
	_, pushed := s.Apply(Event{Type: EventContent, Text: "x", ActiveRefs: []string{"ref-1"}})
	require.True(t, pushed)

	_, pushed = s.Apply(Event{Type: EventContent, Text: "y", ActiveRefs: []string{"ref-1"}})
	assert.False(t, pushed, "re-activating the same tag is not a new highlight set")
}

func TestContentAccumulatesInOrder(t *testing.T) {
	t.Parallel()
	s := startedTurn(t)
	s.Apply(Event{Type: EventContent, Text: "Because "})
	s.Apply(Event{Type: EventContent, Text: "of clause 4."})

	turns := s.Turns()
	assert.Equal(t, "Because of clause 4.", turns[1].Content)
}

func TestDoneFreezesTurnAndKeepsFullCandidateSet(t *testing.T) {
	t.Parallel()
	s := startedTurn(t)
	s.Apply(Event{Type: EventContent, Text: "cited [ref-1]", ActiveRefs: []string{"ref-1"}})
	_, pushed := s.Apply(Event{Type: EventDone, FinalRefs: []string{"ref-1"}})

	assert.False(t, pushed)
	assert.Equal(t, StateDone, s.State())
	turns := s.Turns()
	assert.False(t, turns[1].Streaming)
	// The stored reference list is the full candidate set, not the
	// activated subset.
	assert.Len(t, turns[1].Candidates, 3)
	assert.Len(t, s.ActiveReferences(), 1)
}

func TestDoneFinalRefsCanStillGrowActiveSet(t *testing.T) {
	t.Parallel()
	s := startedTurn(t)
	s.Apply(Event{Type: EventContent, Text: "…", ActiveRefs: []string{"ref-1"}})

	refs, pushed := s.Apply(Event{Type: EventDone, FinalRefs: []string{"ref-1", "ref-3"}})
	require.True(t, pushed)
	assert.Len(t, refs, 2)
}

func TestErrorReplacesContentAndTerminates(t *testing.T) {
	t.Parallel()
	s := startedTurn(t)
	s.Apply(Event{Type: EventContent, Text: "partial answer"})
	s.Apply(Event{Type: EventError, Message: "upstream timeout"})

	turns := s.Turns()
	assert.Equal(t, "upstream timeout", turns[1].Content)
	assert.Equal(t, "upstream timeout", turns[1].Err)
	assert.False(t, turns[1].Streaming)
	assert.Equal(t, StateError, s.State())
}

func TestThinkingIsTransient(t *testing.T) {
	t.Parallel()
	s := startedTurn(t)
	s.Apply(Event{Type: EventThinking, Content: "retrieving 10 chunks"})
	assert.Equal(t, "retrieving 10 chunks", s.Thinking())

	s.Apply(Event{Type: EventContent, Text: "answer"})
	assert.Empty(t, s.Thinking())
	assert.NotContains(t, s.Turns()[1].Content, "retrieving")
}

func TestNewQuestionResetsActiveSet(t *testing.T) {
	t.Parallel()
	s := startedTurn(t)
	s.Apply(Event{Type: EventContent, Text: "x", ActiveRefs: []string{"ref-1", "ref-2"}})
	s.Apply(Event{Type: EventDone})

	s.Begin("second question")
	_, pushed := s.Apply(Event{Type: EventReferences, Refs: []WireReference{wireRef("ref-1", 2)}})
	require.False(t, pushed)
	assert.Empty(t, s.ActiveReferences(), "active set is per answer, not carried over")
}

func TestHistorySkipsFailedAndStreamingTurns(t *testing.T) {
	t.Parallel()
	s := NewSynchronizer("doc-1", zap.NewNop())
	s.Begin("q1")
	s.Apply(Event{Type: EventContent, Text: "a1"})
	s.Apply(Event{Type: EventDone})

	s.Begin("q2")
	s.Apply(Event{Type: EventError, Message: "boom"})

	s.Begin("q3")

	history := s.History()
	require.Len(t, history, 4) // q1, a1, q2, q3
	assert.Equal(t, "q1", history[0].Content)
	assert.Equal(t, "a1", history[1].Content)
	assert.Equal(t, "q2", history[2].Content)
	assert.Equal(t, "q3", history[3].Content)
}

func TestResolveTagFindsCandidate(t *testing.T) {
	t.Parallel()
	s := startedTurn(t)
	ref, ok := s.ResolveTag("ref-2")
	require.True(t, ok)
	assert.Equal(t, 5, ref.Page)

	_, ok = s.ResolveTag("ref-99")
	assert.False(t, ok)
}
