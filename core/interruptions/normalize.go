package interruptions

import (
	"strings"
	"unicode"
)

// DefaultAllowList holds phrases that always count as an interruption, even
// when they look like echo of the avatar's own speech.
var DefaultAllowList = []string{
	"stop",
	"wait",
	"no",
	"hold on",
	"hang on",
	"pause",
	"enough",
	"excuse me",
}

// Normalize lowercases text, strips punctuation and collapses whitespace.
func Normalize(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	space := false
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
		case unicode.IsSpace(r):
			space = true
		case r == '\'' || r == '’':
			// contractions stay one word: "don't" -> "dont"
		default:
			space = true
		}
	}
	return b.String()
}

// containsPhrase reports whether phrase occurs in text on word boundaries.
// Both arguments must already be normalized.
func containsPhrase(text, phrase string) bool {
	if phrase == "" {
		return false
	}

	padded := " " + text + " "
	return strings.Contains(padded, " "+phrase+" ")
}

func normalizeAll(phrases []string) []string {
	normalized := make([]string, 0, len(phrases))
	for _, phrase := range phrases {
		if n := Normalize(phrase); n != "" {
			normalized = append(normalized, n)
		}
	}
	return normalized
}
