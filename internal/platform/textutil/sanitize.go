package textutil

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

var strictPolicy = bluemonday.StrictPolicy()

// PlainText strips all markup from free text supplied by clients and trims it.
// Entities produced by the sanitizer are decoded again so the stored value is plain text.
func PlainText(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	cleaned := html.UnescapeString(strictPolicy.Sanitize(value))
	return strings.TrimSpace(cleaned)
}

// Truncate shortens value to at most limit runes.
func Truncate(value string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(value) <= limit {
		return value
	}
	runes := []rune(value)
	return string(runes[:limit])
}
