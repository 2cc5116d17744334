// Package reftag tokenizes answer text into plain runs and inline
// reference tags in a single pass. Both the incremental plain renderer
// and the formatted renderer consume the same token stream, so there is
// exactly one tag-matching pattern in the program.
package reftag

import "regexp"

var tagPattern = regexp.MustCompile(`\[(ref-\d+)\]`)

// Kind discriminates token types.
type Kind int

const (
	Plain Kind = iota
	Tag
)

// Segment is one token of answer text. For Tag segments, RefID carries
// the tag ("ref-3") and Text the original bracketed form ("[ref-3]").
type Segment struct {
	Kind  Kind
	Text  string
	RefID string
}

// Split tokenizes text. Plain segments are never empty; adjacent tags
// produce consecutive Tag segments.
func Split(text string) []Segment {
	if text == "" {
		return nil
	}
	matches := tagPattern.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return []Segment{{Kind: Plain, Text: text}}
	}
	segments := make([]Segment, 0, 2*len(matches)+1)
	pos := 0
	for _, m := range matches {
		if m[0] > pos {
			segments = append(segments, Segment{Kind: Plain, Text: text[pos:m[0]]})
		}
		segments = append(segments, Segment{
			Kind:  Tag,
			Text:  text[m[0]:m[1]],
			RefID: text[m[2]:m[3]],
		})
		pos = m[1]
	}
	if pos < len(text) {
		segments = append(segments, Segment{Kind: Plain, Text: text[pos:]})
	}
	return segments
}

// Tags returns the distinct tag ids referenced by text, in first-seen
// order.
func Tags(text string) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, seg := range Split(text) {
		if seg.Kind != Tag {
			continue
		}
		if _, ok := seen[seg.RefID]; ok {
			continue
		}
		seen[seg.RefID] = struct{}{}
		out = append(out, seg.RefID)
	}
	return out
}
