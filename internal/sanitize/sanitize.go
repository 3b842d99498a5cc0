// Package sanitize turns arbitrary channel names and stream titles into safe
// path components.
package sanitize

import "strings"

// Sanitize keeps letters, digits, Hangul syllables and jamo, spaces,
// underscores and hyphens; every other rune is dropped. The result is
// trimmed of surrounding whitespace. An empty result becomes "unknown".
//
// Ranges are named explicitly (not via unicode.IsLetter or a locale class):
// locale-dependent character classes would behave differently across hosts
// running the same binary.
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '_', r == '-':
			b.WriteRune(r)
		case r >= 0xAC00 && r <= 0xD7A3: // Hangul syllables
			b.WriteRune(r)
		case r >= 0x1100 && r <= 0x11FF: // Hangul Jamo
			b.WriteRune(r)
		case r >= 0x3130 && r <= 0x318F: // Hangul Compatibility Jamo
			b.WriteRune(r)
		}
	}

	out := strings.TrimSpace(b.String())
	if out == "" {
		return "unknown"
	}
	return out
}
