package discovery

import (
	"bytes"
	"context"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
)

// commonPaths are pages most company sites have even when nothing links to
// them from the homepage.
var commonPaths = []string{
	"/about", "/about-us", "/company", "/team", "/leadership", "/our-team",
	"/contact", "/contact-us", "/services", "/products", "/solutions",
	"/pricing", "/careers", "/locations", "/customers", "/partners",
}

// blogPaths are the usual roots of news and article listings.
var blogPaths = []string{"/blog", "/news", "/press", "/insights", "/articles", "/resources"}

const maxPostsPerIndex = 10

func patternURLs(base *url.URL) []string {
	out := make([]string, 0, len(commonPaths))
	for _, p := range commonPaths {
		out = append(out, resolve(base, p))
	}
	return out
}

// blogURLs returns each blog index that answers with HTML plus the most
// recent posts it links to below its own path.
func (d *Discoverer) blogURLs(ctx context.Context, base *url.URL) ([]string, error) {
	var out []string
	for _, p := range blogPaths {
		index := resolve(base, p)
		resp, err := d.fetch.Fetch(ctx, index)
		if err != nil {
			if ctx.Err() != nil {
				return out, ctx.Err()
			}
			continue
		}
		if !resp.IsHTML() {
			continue
		}
		out = append(out, index)

		doc, err := goquery.NewDocumentFromReader(bytes.NewReader(resp.Body))
		if err != nil {
			zap.L().Debug("discovery: parse blog index", zap.String("url", index), zap.Error(err))
			continue
		}
		pageURL, err := url.Parse(resp.URL)
		if err != nil {
			pageURL, _ = url.Parse(index)
		}
		posts := 0
		doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
			href, _ := s.Attr("href")
			ref, err := url.Parse(strings.TrimSpace(href))
			if err != nil {
				return true
			}
			abs := pageURL.ResolveReference(ref)
			if !sameSite(abs.Hostname(), base.Hostname()) || !strings.HasPrefix(strings.ToLower(abs.Path), p+"/") {
				return true
			}
			abs.Fragment = ""
			out = append(out, abs.String())
			posts++
			return posts < maxPostsPerIndex
		})
	}
	return out, nil
}
