package crawler

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Extensions that never hold a listing page. Sitemaps (.xml) are followed.
var nonWebpageExtensions = map[string]struct{}{
	".jpg": {}, ".jpeg": {}, ".png": {}, ".gif": {}, ".webp": {}, ".svg": {}, ".ico": {}, ".bmp": {},
	".pdf": {}, ".doc": {}, ".docx": {}, ".xls": {}, ".xlsx": {}, ".zip": {}, ".gz": {},
	".css": {}, ".js": {}, ".json": {}, ".txt": {}, ".csv": {},
	".mp3": {}, ".mp4": {}, ".mov": {}, ".avi": {}, ".webm": {}, ".woff": {}, ".woff2": {}, ".ttf": {},
}

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports, and sorts query parameters.
// It also removes fragments.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}

	return u.String(), nil
}

// resolveLink turns an href into an absolute normalized URL relative to base.
func resolveLink(base *url.URL, href string) (string, bool) {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return "", false
	}
	lower := strings.ToLower(href)
	for _, scheme := range []string{"javascript:", "mailto:", "tel:", "sms:", "data:"} {
		if strings.HasPrefix(lower, scheme) {
			return "", false
		}
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", false
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	normalized, err := NormalizeURL(abs.String())
	if err != nil {
		return "", false
	}
	return normalized, true
}

// rootOf returns scheme://host of u.
func rootOf(u *url.URL) string {
	return u.Scheme + "://" + u.Host
}

func hasNonWebpageExtension(u *url.URL) bool {
	_, bad := nonWebpageExtensions[strings.ToLower(path.Ext(u.Path))]
	return bad
}

// embedsURL reports a link that carries another absolute URL in its path or query,
// typically a share or redirect endpoint.
func embedsURL(u *url.URL) bool {
	rest := strings.ToLower(u.EscapedPath() + "?" + u.RawQuery)
	for _, marker := range []string{"http://", "https://", "http%3a", "https%3a", "www."} {
		if strings.Contains(rest, marker) {
			return true
		}
	}
	return false
}
