// Package ai turns @ai-tagged chat messages into structured assistant replies.
package ai

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Trigger is the literal marker that addresses the assistant. Matching is
// case-sensitive and may occur anywhere in a message.
const Trigger = "@ai"

// HasTrigger reports whether message addresses the assistant.
func HasTrigger(message string) bool {
	return strings.Contains(message, Trigger)
}

// DerivePrompt removes every trigger occurrence and trims surrounding
// whitespace. Where a removed marker sat between two whitespace runs only the
// left run is kept, so "a @ai b" becomes "a b" while the rest of the text,
// including newlines, is left alone.
func DerivePrompt(message string) string {
	parts := strings.Split(message, Trigger)

	var b strings.Builder
	b.Grow(len(message))
	for i, part := range parts {
		if i > 0 && endsWithSpace(b.String()) {
			part = strings.TrimLeftFunc(part, unicode.IsSpace)
		}
		b.WriteString(part)
	}
	return strings.TrimSpace(b.String())
}

func endsWithSpace(s string) bool {
	r, size := utf8.DecodeLastRuneInString(s)
	return size > 0 && unicode.IsSpace(r)
}
