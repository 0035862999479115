// Package stutter defines the word-suggestion collaborator that helps a
// reader who is stuck on the next word.
//
// Given the transcript confirmed so far, a [Suggester] proposes likely next
// words and, for each of them, likely words that follow. Suggestions are
// advisory only: they are shown to the reader and never move the read
// cursor.
//
// [Client] talks to a fill-mask HTTP service; the llmsuggest subpackage asks
// an OpenAI-compatible chat model for the same data. The two are typically
// combined behind a circuit-breaking fallback (see the resilience package).
package stutter

import (
	"context"
	"errors"
	"strings"
	"unicode"
)

// ErrEmptyTranscript is returned when there is no text to complete.
var ErrEmptyTranscript = errors.New("stutter: transcript is empty")

// DefaultMaxWords caps the number of next-word suggestions and follow-ons per
// suggestion.
const DefaultMaxWords = 5

// Suggestions are the candidate continuations of a transcript.
type Suggestions struct {
	// Words are the most likely next words, best first.
	Words []string `json:"words"`

	// FollowOns maps each entry of Words to the words most likely to follow it.
	FollowOns map[string][]string `json:"follow_ons,omitempty"`
}

// Empty reports whether s carries no suggestions.
func (s *Suggestions) Empty() bool {
	return s == nil || len(s.Words) == 0
}

// Suggester proposes next words for a transcript.
//
// Implementations must be safe for concurrent use.
type Suggester interface {
	// Suggest returns continuations for transcript. It returns
	// [ErrEmptyTranscript] when transcript has no words.
	Suggest(ctx context.Context, transcript string) (*Suggestions, error)
}

// Clean normalises raw backend output. Words are trimmed and entries that
// are not purely alphabetic are dropped, as are duplicates. At most limit
// words are kept per list. Follow-ons whose key did not survive are dropped.
func Clean(raw Suggestions, limit int) *Suggestions {
	if limit <= 0 {
		limit = DefaultMaxWords
	}
	out := &Suggestions{Words: cleanWords(raw.Words, limit)}
	for _, w := range out.Words {
		next := cleanWords(raw.FollowOns[w], limit)
		if len(next) == 0 {
			continue
		}
		if out.FollowOns == nil {
			out.FollowOns = make(map[string][]string, len(out.Words))
		}
		out.FollowOns[w] = next
	}
	return out
}

func cleanWords(words []string, limit int) []string {
	var out []string
	seen := make(map[string]struct{}, len(words))
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" || !isAlpha(w) {
			continue
		}
		if _, ok := seen[w]; ok {
			continue
		}
		seen[w] = struct{}{}
		out = append(out, w)
		if len(out) == limit {
			break
		}
	}
	return out
}

func isAlpha(s string) bool {
	for _, r := range s {
		if !unicode.IsLetter(r) {
			return false
		}
	}
	return true
}
