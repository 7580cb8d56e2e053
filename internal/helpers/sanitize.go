package helpers

import (
	"html"
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicyOnce sync.Once
	strictPolicy     *bluemonday.Policy
)

// StrictHTMLPolicy returns a singleton bluemonday policy that strips every HTML
// element and attribute.
func StrictHTMLPolicy() *bluemonday.Policy {
	strictPolicyOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// SanitizeHTMLStrict removes every HTML tag from s while stripping leading and
// trailing whitespace.
func SanitizeHTMLStrict(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	return strings.TrimSpace(StrictHTMLPolicy().Sanitize(s))
}

// PromptText turns provider supplied text (search snippets, fetched pages) into
// plain text safe to embed in a prompt: tags are stripped, entities decoded,
// whitespace collapsed and the result truncated to maxChars runes when > 0.
func PromptText(s string, maxChars int) string {
	s = html.UnescapeString(SanitizeHTMLStrict(s))
	s = strings.Join(strings.Fields(s), " ")
	return Truncate(s, maxChars)
}

// Truncate cuts s to at most maxChars runes. maxChars <= 0 disables it.
func Truncate(s string, maxChars int) string {
	if maxChars <= 0 {
		return s
	}
	n := 0
	for i := range s {
		if n == maxChars {
			return s[:i]
		}
		n++
	}
	return s
}
