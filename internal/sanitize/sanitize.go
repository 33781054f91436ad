// Package sanitize cleans free text supplied by MCP clients (run labels)
// before it is stored and echoed back in listings.
package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxLabelLength is the maximum allowed length for a run label in bytes.
const MaxLabelLength = 120

var (
	// reXMLTag matches XML/HTML tags including those with attributes and self-closing tags.
	// It also matches XML processing instructions like <?xml ...?>.
	reXMLTag = regexp.MustCompile(`<[/?!]?[a-zA-Z][a-zA-Z0-9]*(?:\s+[^>]*)?/?>|<\?[^?]*\?>`)

	// reWhitespace matches runs of whitespace, including newlines.
	reWhitespace = regexp.MustCompile(`\s+`)

	// reBackticks matches code fence markers.
	reBackticks = regexp.MustCompile("`{2,}")
)

// SanitizeLabel reduces a run label to a single line of plain text:
//  1. Strip null bytes and control characters
//  2. Strip XML/HTML tags
//  3. Collapse backtick runs and whitespace runs
//  4. Truncate to MaxLabelLength on a rune boundary
func SanitizeLabel(input string) string {
	if input == "" {
		return ""
	}

	s := stripControlChars(input)
	s = reXMLTag.ReplaceAllString(s, "")
	s = reBackticks.ReplaceAllString(s, "`")
	s = strings.TrimSpace(reWhitespace.ReplaceAllString(s, " "))

	if len(s) > MaxLabelLength {
		cut := MaxLabelLength
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}

// stripControlChars removes ASCII control characters (0x00-0x1F, 0x7F) and
// invalid UTF-8. Tabs and newlines become spaces.
func stripControlChars(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\t' || r == '\r':
			b.WriteByte(' ')
		case r < 0x20 || r == 0x7f || r == utf8.RuneError:
			continue
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
