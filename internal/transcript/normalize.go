// Package transcript turns raw recognizer output into comparable tokens and
// accumulates the confirmed transcript of a recording session.
//
// Recognizer output is noisy by nature, so nothing in this package returns an
// error: empty or whitespace-only fragments simply normalize to no tokens.
package transcript

import (
	"strings"
	"unicode"

	"github.com/MrWong99/flowspeak/internal/textindex"
)

// Normalize trims, lower-cases and whitespace-splits a raw fragment.
// Case folding is the one applied to reference passages by
// [textindex.FoldCase]. It returns nil when the fragment contains no words.
func Normalize(raw string) []string {
	tokens := strings.Fields(textindex.FoldCase(raw))
	if len(tokens) == 0 {
		return nil
	}
	return tokens
}

// StripPunctuation trims leading and trailing runes that are neither letters
// nor digits from every token and drops tokens left empty. Inner punctuation
// such as the apostrophe in "didn't" is kept. The result never aliases
// tokens.
func StripPunctuation(tokens []string) []string {
	var out []string
	for _, tok := range tokens {
		tok = strings.TrimFunc(tok, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// LastWords returns the trailing window of at most n tokens. The result
// aliases tokens.
func LastWords(tokens []string, n int) []string {
	if n <= 0 || len(tokens) == 0 {
		return nil
	}
	if len(tokens) <= n {
		return tokens
	}
	return tokens[len(tokens)-n:]
}
