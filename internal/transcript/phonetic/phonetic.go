// Package phonetic scores how alike a spoken word sounds to a word of the
// reference passage, using Double Metaphone encoding combined with
// Jaro-Winkler string similarity.
//
// The comparison proceeds in two stages:
//
//  1. Phonetic filtering: Double Metaphone codes are computed for both words.
//     If any primary or secondary code is shared, the pair is a phonetic
//     candidate and is accepted when its Jaro-Winkler score reaches the
//     phonetic threshold (default 0.80).
//
//  2. Fuzzy fallback: pairs without a shared code are accepted only when
//     their Jaro-Winkler score reaches the stricter fuzzy threshold
//     (default 0.92).
//
// Recognizers frequently emit plausible misspellings for words they are
// unsure of ("elefants" for "elephants"); this lets the forward matcher treat
// such tokens as the same anchor.
package phonetic

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.80
	defaultFuzzyThreshold    = 0.92
)

// Option is a functional option for configuring a [Matcher].
type Option func(*Matcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score for pairs that
// share a Double Metaphone code. Default: 0.80.
func WithPhoneticThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score for pairs that do
// not share a phonetic code. Default: 0.92.
func WithFuzzyThreshold(threshold float64) Option {
	return func(m *Matcher) {
		m.fuzzyThreshold = threshold
	}
}

// Matcher compares single words. It is read-only after construction and safe
// for concurrent use.
type Matcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// New returns a [Matcher] configured with the supplied options.
func New(opts ...Option) *Matcher {
	m := &Matcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Similar reports whether spoken sounds like reference. Both words are
// compared case-insensitively. The returned score is the Jaro-Winkler
// similarity in [0, 1]; it is 0 when either word is empty.
func (m *Matcher) Similar(spoken, reference string) (score float64, ok bool) {
	a := strings.ToLower(strings.TrimSpace(spoken))
	b := strings.ToLower(strings.TrimSpace(reference))
	if a == "" || b == "" {
		return 0, false
	}
	if a == b {
		return 1, true
	}

	score = matchr.JaroWinkler(a, b, false)
	if codesOverlap(codes(a), codes(b)) {
		return score, score >= m.phoneticThreshold
	}
	return score, score >= m.fuzzyThreshold
}

// codes returns the non-empty Double Metaphone codes for word.
func codes(word string) []string {
	p, s := matchr.DoubleMetaphone(word)
	out := make([]string, 0, 2)
	if p != "" {
		out = append(out, p)
	}
	if s != "" && s != p {
		out = append(out, s)
	}
	return out
}

func codesOverlap(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}
