// Package urls validates and normalizes the media URLs clients submit.
package urls

import (
	"net/url"
	"strings"
)

// IsURLValid reports whether raw is an absolute http or https URL with a host.
func IsURLValid(raw string) bool {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return false
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return true
	default:
		return false
	}
}

// Normalize trims spaces, lowercases the scheme and host and drops the fragment.
// Unparsable input is returned trimmed.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)

	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	return u.String()
}
