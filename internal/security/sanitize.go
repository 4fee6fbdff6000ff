// Package security holds input hygiene helpers shared by the services.
package security

import (
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictOnce   sync.Once
	strictPolicy *bluemonday.Policy
)

func policy() *bluemonday.Policy {
	strictOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// SanitizeText strips markup from free text and HTML-escapes what remains.
func SanitizeText(s string) string {
	return strings.TrimSpace(policy().Sanitize(s))
}

// TruncateRunes cuts s to at most n runes.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// SafeRedirect reports whether path is a same-origin absolute path. Protocol-relative paths ("//host")
// and anything not starting with "/" are rejected.
func SafeRedirect(path string) bool {
	if path == "" {
		return false
	}
	if strings.ContainsAny(path, "\\\r\n") {
		return false
	}
	return strings.HasPrefix(path, "/") && !strings.HasPrefix(path, "//")
}
