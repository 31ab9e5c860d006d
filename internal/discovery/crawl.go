package discovery

import (
	"context"
	"net/url"
	"sync"

	"github.com/gocolly/colly"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// crawl follows same-site links from the homepage up to CrawlDepth and
// returns the links it collected, at most CrawlPages.
func (d *Discoverer) crawl(ctx context.Context, base *url.URL, allowed func(string) bool) ([]string, error) {
	c := colly.NewCollector(
		colly.UserAgent(d.cfg.UserAgent),
		colly.MaxDepth(d.cfg.CrawlDepth),
		colly.Async(true),
	)
	// robots.txt is applied through allowed.
	c.IgnoreRobotsTxt = true
	c.SetRequestTimeout(d.cfg.Timeout)
	if d.transport != nil {
		c.WithTransport(d.transport)
	}
	if err := c.Limit(&colly.LimitRule{DomainGlob: "*", Parallelism: 4}); err != nil {
		return nil, eris.Wrap(err, "homepage crawl: limit rule")
	}

	var (
		mu       sync.Mutex
		found    []string
		seen     = make(map[string]bool)
		firstErr error
	)

	c.OnRequest(func(r *colly.Request) {
		if ctx.Err() != nil {
			r.Abort()
		}
	})
	c.OnHTML("a[href]", func(e *colly.HTMLElement) {
		link := stripFragment(e.Request.AbsoluteURL(e.Attr("href")))
		if link == "" || !allowed(link) {
			return
		}
		mu.Lock()
		if seen[link] || len(found) >= d.cfg.CrawlPages {
			mu.Unlock()
			return
		}
		seen[link] = true
		found = append(found, link)
		mu.Unlock()
		// Already-visited and too-deep errors are expected here.
		_ = e.Request.Visit(link)
	})
	c.OnError(func(r *colly.Response, err error) {
		zap.L().Debug("discovery: crawl request failed",
			zap.String("url", r.Request.URL.String()),
			zap.Int("status", r.StatusCode),
			zap.Error(err),
		)
		mu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		mu.Unlock()
	})

	if err := c.Visit(base.String()); err != nil {
		return nil, eris.Wrapf(err, "homepage crawl: visit %s", base)
	}
	c.Wait()

	if err := ctx.Err(); err != nil {
		return found, err
	}
	if len(found) == 0 && firstErr != nil {
		return nil, eris.Wrap(firstErr, "homepage crawl")
	}
	return found, nil
}
