package textutil

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
)

var strictPolicy = bluemonday.StrictPolicy()

// Sanitize strips markup from operator-entered text and trims surrounding whitespace. The result
// is plain text: entities the policy escapes are decoded again, and decoded text is stripped until
// no markup remains.
func Sanitize(value string) string {
	text := value
	for range maxSanitizePasses {
		next := html.UnescapeString(strictPolicy.Sanitize(text))
		if next == text {
			break
		}
		text = next
	}
	return strings.TrimSpace(text)
}

const maxSanitizePasses = 4

// SanitizePtr sanitises an optional value, returning nil when nothing remains.
func SanitizePtr(value *string) *string {
	if value == nil {
		return nil
	}
	cleaned := Sanitize(*value)
	if cleaned == "" {
		return nil
	}
	return &cleaned
}

// FoldKey normalises a lookup key (city, emirate, vehicle code) so that lookups are
// insensitive to case and surrounding whitespace.
func FoldKey(value string) string {
	fields := strings.Fields(value)
	return cases.Fold().String(strings.Join(fields, " "))
}
