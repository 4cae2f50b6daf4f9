// Package chunk splits long answers into fragments that fit a chat
// platform's message size limit.
package chunk

import (
	"unicode"

	"nitrobot/internal/domain"
)

// DefaultMaxLength is Discord's message limit.
const DefaultMaxLength = 2000

// Split breaks text into fragments of at most maxLength runes, preferring
// to cut at a newline, then at a space, and only then mid-word. The
// character at a newline or space cut is dropped, and so is leading
// whitespace of the remainder. Non-empty input always yields at least one
// fragment and no fragment is empty.
func Split(text string, maxLength int) []domain.Fragment {
	if maxLength <= 0 {
		maxLength = DefaultMaxLength
	}
	if text == "" {
		return nil
	}

	remaining := []rune(text)
	if len(remaining) <= maxLength {
		return []domain.Fragment{{Index: 0, Text: text}}
	}

	var out []domain.Fragment
	for len(remaining) > 0 {
		if len(remaining) <= maxLength {
			out = append(out, domain.Fragment{Index: len(out), Text: string(remaining)})
			break
		}

		cut := splitPoint(remaining, maxLength)
		out = append(out, domain.Fragment{Index: len(out), Text: string(remaining[:cut])})
		remaining = trimLeftSpace(remaining[cut:])
	}
	return out
}

// splitPoint picks where to cut text (longer than maxLength). A newline or
// space is only acceptable at or after the window midpoint.
func splitPoint(text []rune, maxLength int) int {
	idx := lastIndexAtOrBefore(text, '\n', maxLength)
	if idx == -1 || idx*2 < maxLength {
		idx = lastIndexAtOrBefore(text, ' ', maxLength)
	}
	if idx == -1 || idx*2 < maxLength {
		idx = maxLength
	}
	return idx
}

// lastIndexAtOrBefore returns the last index <= pos holding r, or -1.
func lastIndexAtOrBefore(text []rune, r rune, pos int) int {
	if pos >= len(text) {
		pos = len(text) - 1
	}
	for i := pos; i >= 0; i-- {
		if text[i] == r {
			return i
		}
	}
	return -1
}

func trimLeftSpace(text []rune) []rune {
	for len(text) > 0 && unicode.IsSpace(text[0]) {
		text = text[1:]
	}
	return text
}

// Strings returns the fragment texts in order.
func Strings(fragments []domain.Fragment) []string {
	out := make([]string, len(fragments))
	for i, f := range fragments {
		out[i] = f.Text
	}
	return out
}

// Truncate shortens s to at most n runes, ending in "..." when cut.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}
