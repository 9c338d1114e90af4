package textutil

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

var plainTextPolicy = bluemonday.StrictPolicy()

// SanitizeFreeText strips any markup from user-supplied free text such as
// negotiation notes or cancellation reasons and collapses surrounding
// whitespace. Strings longer than maxLen runes are truncated.
func SanitizeFreeText(value string, maxLen int) string {
	cleaned := strings.TrimSpace(plainTextPolicy.Sanitize(value))
	if maxLen <= 0 {
		return cleaned
	}
	runes := []rune(cleaned)
	if len(runes) <= maxLen {
		return cleaned
	}
	return strings.TrimSpace(string(runes[:maxLen]))
}
