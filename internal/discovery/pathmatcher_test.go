package discovery

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPathMatcher_IsExcluded(t *testing.T) {
	t.Parallel()
	m := NewPathMatcher([]string{"/blog/*", "/*.pdf", "*.zip", "/careers/*"})

	tests := []struct {
		name     string
		url      string
		excluded bool
	}{
		{"blog post", "https://acme.com/blog/post1", true},
		{"blog root", "https://acme.com/blog", true},
		{"blog deep path", "https://acme.com/blog/2024/01/post", true},
		{"careers job", "https://acme.com/careers/job1", true},
		{"root pdf", "https://acme.com/report.pdf", true},
		{"nested pdf", "https://acme.com/docs/report.pdf", false},
		{"nested zip", "https://acme.com/files/2024/archive.zip", true},
		{"about page", "https://acme.com/about", false},
		{"homepage", "https://acme.com/", false},
		{"invalid", "://invalid", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.excluded, m.IsExcluded(tt.url))
		})
	}
}

func TestPathMatcher_DefaultPatterns(t *testing.T) {
	m := NewPathMatcher(nil)

	assert.True(t, m.IsExcluded("https://acme.com/wp-admin/options.php"))
	assert.True(t, m.IsExcluded("https://acme.com/cdn-cgi/l/email-protection"))
	assert.True(t, m.IsExcluded("https://acme.com/assets/logo.PNG"))
	assert.True(t, m.IsExcluded("https://acme.com/sitemap.xml"))
	assert.False(t, m.IsExcluded("https://acme.com/about"))
	assert.False(t, m.IsExcluded("https://acme.com/blog/launch"))
}

func TestPathMatcher_CaseInsensitive(t *testing.T) {
	m := NewPathMatcher([]string{"/Blog/*"})

	assert.True(t, m.IsExcluded("https://acme.com/blog/post"))
	assert.True(t, m.IsExcluded("https://acme.com/BLOG/POST"))
	assert.Equal(t, []string{"/blog/*"}, m.Patterns())
}
