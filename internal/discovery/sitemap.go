package discovery

import (
	"context"
	"encoding/xml"
	"net/url"
	"strings"

	"github.com/temoto/robotstxt"
	"go.uber.org/zap"

	"github.com/sells-group/research-pipeline/internal/fetcher"
)

// maxSitemaps bounds how many sitemap documents one run reads, nested
// indexes included.
const maxSitemaps = 10

// sitemapDoc covers both <urlset> and <sitemapindex> documents.
type sitemapDoc struct {
	URLs     []sitemapLoc `xml:"url"`
	Sitemaps []sitemapLoc `xml:"sitemap"`
}

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

// parseSitemap returns the page locations and child sitemap locations in
// body. Malformed documents yield nothing.
func parseSitemap(body []byte) (pages, children []string) {
	var doc sitemapDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, nil
	}
	for _, u := range doc.URLs {
		if loc := strings.TrimSpace(u.Loc); loc != "" {
			pages = append(pages, loc)
		}
	}
	for _, s := range doc.Sitemaps {
		if loc := strings.TrimSpace(s.Loc); loc != "" {
			children = append(children, loc)
		}
	}
	return pages, children
}

// sitemapURLs reads /sitemap.xml plus any sitemaps robots.txt declares and
// follows sitemap indexes breadth first. Only same-site pages are returned.
func (d *Discoverer) sitemapURLs(ctx context.Context, base *url.URL, robots *robotstxt.RobotsData) ([]string, error) {
	var queue []string
	if robots != nil {
		queue = append(queue, robots.Sitemaps...)
	}
	queue = append(queue, resolve(base, "/sitemap.xml"))

	seen := make(map[string]bool)
	var out []string
	for fetched := 0; len(queue) > 0 && fetched < maxSitemaps; {
		loc := queue[0]
		queue = queue[1:]
		if seen[loc] || strings.HasSuffix(strings.ToLower(loc), ".gz") {
			continue
		}
		seen[loc] = true
		fetched++

		resp, err := d.fetch.Fetch(ctx, loc, fetcher.WithAccept("application/xml,text/xml;q=0.9,*/*;q=0.5"))
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			zap.L().Debug("discovery: sitemap unavailable", zap.String("url", loc), zap.Error(err))
			continue
		}
		pages, children := parseSitemap(resp.Body)
		queue = append(queue, children...)
		for _, p := range pages {
			u, err := url.Parse(p)
			if err != nil || !sameSite(u.Hostname(), base.Hostname()) {
				continue
			}
			out = append(out, p)
			if len(out) >= d.cfg.MaxCandidates {
				return out, nil
			}
		}
	}
	return out, nil
}
