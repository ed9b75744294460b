package catalog

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// ContainsLone reports whether token occurs in text without touching a letter or digit
// on either side. Matching is case-insensitive.
func ContainsLone(text, token string) bool {
	return CountLone(text, token) > 0
}

// CountLone counts non-overlapping lone occurrences of token in text.
func CountLone(text, token string) int {
	if token == "" || text == "" {
		return 0
	}
	text = strings.ToLower(text)
	token = strings.ToLower(token)
	count := 0
	for offset := 0; offset < len(text); {
		idx := strings.Index(text[offset:], token)
		if idx < 0 {
			break
		}
		start := offset + idx
		end := start + len(token)
		if loneAt(text, start, end) {
			count++
			offset = end
			continue
		}
		offset = start + 1
	}
	return count
}

func loneAt(text string, start, end int) bool {
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
