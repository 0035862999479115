// Package textindex precomputes the searchable form of a reference passage.
//
// An [Index] is built once per passage and is immutable afterwards. It holds a
// case-folded copy of the text whose byte offsets are identical to the
// original, plus the ordered list of whitespace-separated words with their
// offsets. All lookups are read-only and safe for concurrent use.
package textindex

import (
	"errors"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrEmptyText is returned by [Build] when the passage contains no words.
var ErrEmptyText = errors.New("textindex: reference text is empty")

// Word is a single whitespace-delimited token of the reference text.
type Word struct {
	// Text is the case-folded token, punctuation included.
	Text string

	// Start is the byte offset of the first character of the token.
	Start int

	// End is the byte offset just past the last character of the token.
	End int
}

// Index is the immutable searchable form of a reference passage.
type Index struct {
	text       string
	normalized string
	words      []Word
}

// Build indexes text. It returns [ErrEmptyText] when text is empty or
// contains only whitespace.
func Build(text string) (*Index, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	normalized := FoldCase(text)
	return &Index{
		text:       text,
		normalized: normalized,
		words:      splitWords(normalized),
	}, nil
}

// Text returns the original passage.
func (x *Index) Text() string { return x.text }

// Normalized returns the case-folded passage. Offsets into it are valid
// offsets into [Index.Text] and vice versa.
func (x *Index) Normalized() string { return x.normalized }

// Len returns the length of the passage in bytes.
func (x *Index) Len() int { return len(x.text) }

// Words returns the ordered word list. The returned slice must not be
// modified.
func (x *Index) Words() []Word { return x.words }

// WordAt returns the index of the first word that ends after offset, i.e. the
// word containing offset or, when offset falls on whitespace, the word that
// follows it. It returns len(Words()) when no such word exists.
func (x *Index) WordAt(offset int) int {
	return sort.Search(len(x.words), func(i int) bool {
		return x.words[i].End > offset
	})
}

// NextRuneBoundary returns the offset of the character following offset,
// clamped to [Index.Len]. Offsets inside a multi-byte rune advance to the end
// of that rune.
func (x *Index) NextRuneBoundary(offset int) int {
	if offset < 0 {
		return 0
	}
	if offset >= len(x.text) {
		return len(x.text)
	}
	_, size := utf8.DecodeRuneInString(x.text[offset:])
	next := offset + size
	for next < len(x.text) && !utf8.RuneStart(x.text[next]) {
		next++
	}
	return next
}

// Vocabulary returns the distinct words of the passage in order of first
// appearance, stripped of leading and trailing punctuation. Words shorter
// than minLen runes are omitted; at most limit words are returned when limit
// is positive.
func (x *Index) Vocabulary(minLen, limit int) []string {
	seen := make(map[string]struct{}, len(x.words))
	var out []string
	for _, w := range x.words {
		core := strings.TrimFunc(w.Text, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if core == "" || utf8.RuneCountInString(core) < minLen {
			continue
		}
		if _, ok := seen[core]; ok {
			continue
		}
		seen[core] = struct{}{}
		out = append(out, core)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// FoldCase lower-cases s rune by rune. Runes whose lower-case form has a
// different UTF-8 width are left unchanged so that byte offsets are shared
// with the original string. Spoken words must be folded the same way to be
// comparable with [Index.Normalized].
func FoldCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		lr := unicode.ToLower(r)
		if utf8.RuneLen(lr) != utf8.RuneLen(r) {
			lr = r
		}
		b.WriteRune(lr)
	}
	return b.String()
}

func splitWords(s string) []Word {
	var words []Word
	start := -1
	for i, r := range s {
		if unicode.IsSpace(r) {
			if start >= 0 {
				words = append(words, Word{Text: s[start:i], Start: start, End: i})
				start = -1
			}
			continue
		}
		if start < 0 {
			start = i
		}
	}
	if start >= 0 {
		words = append(words, Word{Text: s[start:], Start: start, End: len(s)})
	}
	return words
}
