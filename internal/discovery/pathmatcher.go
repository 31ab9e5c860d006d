package discovery

import (
	"net/url"
	"path"
	"strings"
)

// defaultExcludePatterns drop URLs that never carry company data.
var defaultExcludePatterns = []string{
	"/wp-admin/*",
	"/wp-login.php",
	"/cdn-cgi/*",
	"/cart/*",
	"/checkout/*",
	"/login",
	"/account/*",
	"/tag/*",
	"/author/*",
	"*.pdf",
	"*.jpg",
	"*.jpeg",
	"*.png",
	"*.gif",
	"*.svg",
	"*.zip",
	"*.xml",
}

// PathMatcher filters URLs on glob-style path patterns. "/blog/*" matches
// every path below /blog; "*.pdf" matches the extension at any depth.
type PathMatcher struct {
	patterns []string
}

// NewPathMatcher creates a PathMatcher from glob patterns. Falls back to the
// default patterns if none are provided.
func NewPathMatcher(patterns []string) *PathMatcher {
	if len(patterns) == 0 {
		patterns = defaultExcludePatterns
	}
	lower := make([]string, len(patterns))
	for i, p := range patterns {
		lower[i] = strings.ToLower(p)
	}
	return &PathMatcher{patterns: lower}
}

// Patterns returns the configured patterns.
func (m *PathMatcher) Patterns() []string {
	return m.patterns
}

// IsExcluded reports whether rawURL matches any pattern. Unparseable URLs
// are excluded.
func (m *PathMatcher) IsExcluded(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil {
		return true
	}
	p := strings.ToLower(u.Path)
	for _, pattern := range m.patterns {
		if matchSegmented(pattern, p) {
			return true
		}
	}
	return false
}

func matchSegmented(pattern, urlPath string) bool {
	if ext, ok := strings.CutPrefix(pattern, "*."); ok {
		return strings.HasSuffix(urlPath, "."+ext)
	}
	if ok, _ := path.Match(pattern, urlPath); ok {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "/*"); ok {
		return urlPath == prefix || strings.HasPrefix(urlPath, prefix+"/")
	}
	return false
}
