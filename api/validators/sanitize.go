package validators

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SanitizeString collapses runs of whitespace, drops control characters and
// caps the result at maxRunes runes. It is for free-text notes and names that
// end up in the ledger or operator views.
func SanitizeString(input string, maxRunes int) string {
	var b strings.Builder
	b.Grow(len(input))
	pendingSpace := false
	for _, r := range input {
		switch {
		case r == utf8.RuneError:
			continue
		case unicode.IsSpace(r):
			pendingSpace = b.Len() > 0
			continue
		case unicode.IsControl(r):
			continue
		}
		if pendingSpace {
			b.WriteByte(' ')
			pendingSpace = false
		}
		b.WriteRune(r)
	}
	out := b.String()
	if maxRunes > 0 && utf8.RuneCountInString(out) > maxRunes {
		out = strings.TrimRight(string([]rune(out)[:maxRunes]), " ")
	}
	return out
}
