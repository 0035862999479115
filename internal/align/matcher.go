// Package align implements the forward matcher that locates the reader's
// position in the reference passage from the most recently spoken words.
//
// Matching is strictly forward-only:
//
//  1. Only the last word of the search window is used as the anchor. Earlier
//     words are accepted as context but never required to match.
//  2. Anchors shorter than the minimum length (default 3 characters) are
//     ignored.
//  3. The normalized passage is scanned left to right from the search origin
//     and the first occurrence that starts strictly after the origin and sits
//     on word boundaries on both sides wins. Its end offset is the new cursor.
//
// Because the scan never looks at offsets before the origin, the matcher
// itself guarantees that the cursor cannot move backwards. A repeated word
// later in the passage matches its next occurrence; this is a known heuristic
// limitation of last-word anchoring.
package align

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/MrWong99/flowspeak/internal/textindex"
)

const (
	defaultMinAnchorLen = 3
	defaultLookahead    = 8
)

// WordScorer decides whether a spoken word sounds like a passage word. It is
// satisfied by [phonetic.Matcher].
//
// [phonetic.Matcher]: github.com/MrWong99/flowspeak/internal/transcript/phonetic
type WordScorer interface {
	Similar(spoken, reference string) (score float64, ok bool)
}

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithMinAnchorLen sets the minimum anchor length in characters. Values below
// 1 are ignored. Default: 3.
func WithMinAnchorLen(n int) Option {
	return func(m *Matcher) {
		if n > 0 {
			m.minAnchorLen = n
		}
	}
}

// WithPhoneticFallback enables a secondary pass that runs when the exact scan
// finds nothing: the next lookahead words after the origin are compared to the
// anchor with scorer and the first similar word is accepted. A nil scorer
// disables the fallback.
func WithPhoneticFallback(scorer WordScorer, lookahead int) Option {
	return func(m *Matcher) {
		m.scorer = scorer
		if lookahead > 0 {
			m.lookahead = lookahead
		} else {
			m.lookahead = defaultLookahead
		}
	}
}

// Matcher finds the next cursor position in an indexed passage. It holds no
// mutable state and is safe for concurrent use.
type Matcher struct {
	index        *textindex.Index
	minAnchorLen int
	scorer       WordScorer
	lookahead    int
}

// New returns a [Matcher] over index.
func New(index *textindex.Index, opts ...Option) *Matcher {
	m := &Matcher{
		index:        index,
		minAnchorLen: defaultMinAnchorLen,
		lookahead:    defaultLookahead,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Index returns the passage index the matcher searches.
func (m *Matcher) Index() *textindex.Index { return m.index }

// Match returns the end offset of the first boundary-aligned occurrence of
// the last word in searchWords that starts strictly after fromOffset. The
// words are expected to be normalized (see transcript.Normalize). It returns
// false when the window is empty, the anchor is too short, or no occurrence
// exists ahead of fromOffset.
func (m *Matcher) Match(searchWords []string, fromOffset int) (int, bool) {
	if len(searchWords) == 0 {
		return 0, false
	}
	anchor := searchWords[len(searchWords)-1]
	if utf8.RuneCountInString(anchor) < m.minAnchorLen {
		return 0, false
	}
	if fromOffset < 0 {
		fromOffset = 0
	}

	if end, ok := m.scanExact(anchor, fromOffset); ok {
		return end, true
	}
	if m.scorer != nil {
		return m.scanSimilar(anchor, fromOffset)
	}
	return 0, false
}

// scanExact walks every occurrence of anchor at or after from.
func (m *Matcher) scanExact(anchor string, from int) (int, bool) {
	text := m.index.Normalized()
	pos := from
	for pos <= len(text) {
		i := strings.Index(text[pos:], anchor)
		if i < 0 {
			return 0, false
		}
		start := pos + i
		end := start + len(anchor)
		if start > from && isBoundary(text, start, end) {
			return end, true
		}
		pos = start + len(anchor)
	}
	return 0, false
}

// scanSimilar compares the anchor to the alphanumeric core of the words that
// follow from, stopping after the configured lookahead.
func (m *Matcher) scanSimilar(anchor string, from int) (int, bool) {
	core, _, _ := wordCore(anchor, 0, len(anchor))
	if utf8.RuneCountInString(core) < m.minAnchorLen {
		return 0, false
	}

	text := m.index.Normalized()
	words := m.index.Words()
	seen := 0
	for i := m.index.WordAt(from); i < len(words) && seen < m.lookahead; i++ {
		w := words[i]
		ref, start, end := wordCore(text, w.Start, w.End)
		if start <= from || ref == "" {
			continue
		}
		seen++
		if _, ok := m.scorer.Similar(core, ref); ok {
			return end, true
		}
	}
	return 0, false
}

// isBoundary reports whether text[start:end] is not embedded in a longer
// alphanumeric run.
func isBoundary(text string, start, end int) bool {
	if start > 0 {
		r, _ := utf8.DecodeLastRuneInString(text[:start])
		if isWordRune(r) {
			return false
		}
	}
	if end < len(text) {
		r, _ := utf8.DecodeRuneInString(text[end:])
		if isWordRune(r) {
			return false
		}
	}
	return true
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// wordCore trims leading and trailing non-alphanumeric runes from
// s[start:end] and returns the core with its offsets.
func wordCore(s string, start, end int) (string, int, int) {
	for start < end {
		r, size := utf8.DecodeRuneInString(s[start:end])
		if isWordRune(r) {
			break
		}
		start += size
	}
	for end > start {
		r, size := utf8.DecodeLastRuneInString(s[start:end])
		if isWordRune(r) {
			break
		}
		end -= size
	}
	return s[start:end], start, end
}
