package utils

import (
	"net/url"
	"strings"
)

// IsValidURL reports whether s is an absolute http(s) URL with a host.
func IsValidURL(s string) bool {
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// JoinURL appends path segments to a base URL, keeping exactly one slash between parts.
func JoinURL(base string, parts ...string) string {
	out := strings.TrimRight(base, "/")
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		out += "/" + p
	}
	return out
}
