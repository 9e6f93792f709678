package room

import (
	"html"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
)

const (
	maxUsernameLen = 150
	maxMessageLen  = 10000
)

// Chat text is plain text on every client, so all markup is stripped.
var textPolicy = bluemonday.StrictPolicy()

// stripControl removes control characters except tab and newline and
// limits s to maxLen runes.
func stripControl(s string, maxLen int) string {
	var b strings.Builder
	b.Grow(len(s))
	n := 0
	for _, r := range s {
		if unicode.IsControl(r) && r != '\t' && r != '\n' {
			continue
		}
		if r == unicode.ReplacementChar {
			continue
		}
		if n >= maxLen {
			break
		}
		b.WriteRune(r)
		n++
	}
	return b.String()
}

func stripMarkup(s string) string {
	return html.UnescapeString(textPolicy.Sanitize(html.UnescapeString(s)))
}

// SanitizeMessage returns the plain-text form of a chat message, or "" if
// nothing printable is left.
func SanitizeMessage(s string) string {
	return strings.TrimSpace(stripMarkup(stripControl(s, maxMessageLen)))
}

// SanitizeUsername returns the plain-text form of a username.
func SanitizeUsername(s string) string {
	return strings.TrimSpace(stripMarkup(stripControl(s, maxUsernameLen)))
}
