package highlight

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/calebh/docscope/internal/evidence"
)

// Revision reports the outcome of submitting a highlight set for a
// document.
type Revision struct {
	Changed  bool
	Revision int
}

// Tracker distinguishes genuinely new evidence from the same evidence
// reasserted (a re-render, a re-streamed answer). State is kept per
// document id and survives across question turns, so grid-mode auto-switch
// decisions can compare against earlier answers.
type Tracker struct {
	mu   sync.Mutex
	docs map[string]*docRevision
}

type docRevision struct {
	revision  int
	signature string
	pinned    bool
}

func NewTracker() *Tracker {
	return &Tracker{docs: make(map[string]*docRevision)}
}

// Update computes the signature of the highlight set and reports whether
// it differs from the document's previous set. A genuine change bumps the
// revision and clears any manual grid pin so the new evidence is eligible
// to force continuous mode again.
func (t *Tracker) Update(documentID string, refs []evidence.Reference) Revision {
	sig := signature(refs)

	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.docs[documentID]
	if !ok {
		entry = &docRevision{revision: 1, signature: sig}
		t.docs[documentID] = entry
		return Revision{Changed: true, Revision: 1}
	}
	if entry.signature == sig {
		return Revision{Changed: false, Revision: entry.revision}
	}
	entry.signature = sig
	entry.revision++
	entry.pinned = false
	return Revision{Changed: true, Revision: entry.revision}
}

// PinGrid records that the user deliberately stays in grid mode for the
// document's current revision.
func (t *Tracker) PinGrid(documentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if entry, ok := t.docs[documentID]; ok {
		entry.pinned = true
		return
	}
	t.docs[documentID] = &docRevision{pinned: true}
}

// Pinned reports whether the document's current revision is pinned to
// grid mode.
func (t *Tracker) Pinned(documentID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.docs[documentID]
	return ok && entry.pinned
}

// Forget drops all state for a document, e.g. when it is deleted upstream.
func (t *Tracker) Forget(documentID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.docs, documentID)
}

// signature hashes the ordered (refId, page, bbox) tuples of the set.
func signature(refs []evidence.Reference) string {
	var b strings.Builder
	for _, ref := range refs {
		fmt.Fprintf(&b, "%s|%d|%.4f|%.4f|%.4f|%.4f;",
			ref.RefID, ref.Page, ref.BBox.X, ref.BBox.Y, ref.BBox.W, ref.BBox.H)
	}
	sum := sha1.Sum([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}
