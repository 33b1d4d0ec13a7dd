package compliance

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// containsTag reports whether text carries tag as a whole token: the tag
// must not be followed by another digit, so "#оу2" does not match "#оу21".
func containsTag(text, tag string) bool {
	if tag == "" {
		return false
	}
	for from := 0; from < len(text); {
		i := strings.Index(text[from:], tag)
		if i < 0 {
			return false
		}
		end := from + i + len(tag)
		r, _ := utf8.DecodeRuneInString(text[end:])
		if end == len(text) || !unicode.IsDigit(r) {
			return true
		}
		from = from + i + 1
	}
	return false
}
