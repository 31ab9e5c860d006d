// Package discovery finds the pages of a company site worth scraping. It
// runs five stages (sitemap, homepage crawl, common path patterns, blog
// indexes, validation) and reports each as a progress phase.
package discovery

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/research-pipeline/internal/aggregate"
	"github.com/sells-group/research-pipeline/internal/fetcher"
	"github.com/sells-group/research-pipeline/internal/model"
	"github.com/sells-group/research-pipeline/internal/progress"
)

// robotsAgent is the product token matched against robots.txt groups.
const robotsAgent = "ResearchBot"

// Config tunes a Discoverer.
type Config struct {
	MaxURLs       int           // validated URLs kept, default 100
	MaxCandidates int           // candidates validated, default 200
	CrawlDepth    int           // homepage crawl depth, default 2
	CrawlPages    int           // links collected by the crawl, default 30
	Concurrency   int           // validation workers, default 8
	Timeout       time.Duration // crawl request timeout, default 15s
	UserAgent     string
	Exclude       []string
}

func (c Config) withDefaults() Config {
	if c.MaxURLs <= 0 {
		c.MaxURLs = 100
	}
	if c.MaxCandidates <= 0 {
		c.MaxCandidates = 200
	}
	if c.CrawlDepth <= 0 {
		c.CrawlDepth = 2
	}
	if c.CrawlPages <= 0 {
		c.CrawlPages = 30
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.Timeout <= 0 {
		c.Timeout = 15 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = fetcher.DefaultUserAgent
	}
	return c
}

// Result is the outcome of one discovery run.
type Result struct {
	URLs       []string       `json:"urls"`
	Sources    map[string]int `json:"sources"`
	Candidates int            `json:"candidates"`
	Rejected   int            `json:"rejected"`
	Robots     bool           `json:"robots"`
	DurationMs int64          `json:"durationMs"`
}

// Discoverer runs discovery for a domain.
type Discoverer struct {
	fetch     fetcher.Fetcher
	events    progress.Publisher
	matcher   *PathMatcher
	cfg       Config
	transport http.RoundTripper
}

// Option configures a Discoverer.
type Option func(*Discoverer)

// WithTransport sets the round tripper used by the homepage crawl.
func WithTransport(rt http.RoundTripper) Option {
	return func(d *Discoverer) {
		d.transport = rt
	}
}

// New returns a Discoverer. events may be nil.
func New(f fetcher.Fetcher, events progress.Publisher, cfg Config, opts ...Option) *Discoverer {
	cfg = cfg.withDefaults()
	d := &Discoverer{
		fetch:   f,
		events:  events,
		matcher: NewPathMatcher(cfg.Exclude),
		cfg:     cfg,
	}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Discover runs every stage for domain. A failing stage is reported on the
// stream and the run continues with the candidates it has; only
// cancellation and an invalid domain are returned as errors.
func (d *Discoverer) Discover(ctx context.Context, sessionID, domain string) (*Result, error) {
	base, err := siteRoot(domain)
	if err != nil {
		return nil, model.NewError(model.ErrValidation, sessionID, err).WithPhase(model.PhaseDiscovery)
	}

	start := time.Now()
	log := zap.L().With(zap.String("session_id", sessionID), zap.String("domain", base.Host))

	robots := d.loadRobots(ctx, base)
	var group *robotstxt.Group
	if robots != nil {
		group = robots.FindGroup(robotsAgent)
	}
	c := &candidates{
		base:    base,
		matcher: d.matcher,
		group:   group,
		limit:   d.cfg.MaxCandidates,
		seen:    make(map[string]bool),
		sources: make(map[string]int),
	}
	c.add("root", base.String())

	stages := []struct {
		phase string
		run   func(ctx context.Context) ([]string, error)
	}{
		{progress.PhaseSitemapDiscovery, func(ctx context.Context) ([]string, error) { return d.sitemapURLs(ctx, base, robots) }},
		{progress.PhaseHomepageCrawl, func(ctx context.Context) ([]string, error) { return d.crawl(ctx, base, c.allowed) }},
		{progress.PhasePatternDiscovery, func(context.Context) ([]string, error) { return patternURLs(base), nil }},
		{progress.PhaseBlogDiscovery, func(ctx context.Context) ([]string, error) { return d.blogURLs(ctx, base) }},
	}
	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "discovery: cancelled")
		}
		urls := d.stage(ctx, sessionID, s.phase, s.run)
		n := 0
		for _, u := range urls {
			if c.add(s.phase, u) {
				n++
			}
		}
		log.Debug("discovery: stage done", zap.String("stage", s.phase), zap.Int("found", len(urls)), zap.Int("new", n))
	}
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "discovery: cancelled")
	}

	progress.Publish(d.events, sessionID, progress.PhaseStarted(progress.PhaseValidation, ""))
	valid := d.validate(ctx, sessionID, c.urls)
	if err := ctx.Err(); err != nil {
		progress.Publish(d.events, sessionID, progress.PhaseFailed(progress.PhaseValidation, err))
		return nil, eris.Wrap(err, "discovery: cancelled")
	}
	progress.Publish(d.events, sessionID, progress.PhaseCompleted(progress.PhaseValidation, false, map[string]any{
		"valid":    len(valid),
		"rejected": len(c.urls) - len(valid),
	}))

	res := &Result{
		URLs:       valid,
		Sources:    c.sources,
		Candidates: len(c.urls),
		Rejected:   len(c.urls) - len(valid),
		Robots:     robots != nil,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if len(res.URLs) > d.cfg.MaxURLs {
		res.URLs = res.URLs[:d.cfg.MaxURLs]
	}

	log.Info("discovery: complete",
		zap.Int("urls", len(res.URLs)),
		zap.Int("candidates", res.Candidates),
		zap.Int("rejected", res.Rejected),
		zap.Int64("duration_ms", res.DurationMs),
	)
	progress.Publish(d.events, sessionID, progress.DiscoveryCompleted(false, map[string]any{
		"urls":       len(res.URLs),
		"candidates": res.Candidates,
		"sources":    res.Sources,
	}))
	return res, nil
}

func (d *Discoverer) stage(ctx context.Context, sessionID, phase string, run func(context.Context) ([]string, error)) []string {
	progress.Publish(d.events, sessionID, progress.PhaseStarted(phase, ""))
	start := time.Now()
	urls, err := run(ctx)
	if err != nil {
		zap.L().Warn("discovery: stage failed",
			zap.String("session_id", sessionID),
			zap.String("stage", phase),
			zap.Error(err),
		)
		progress.Publish(d.events, sessionID, progress.PhaseFailed(phase, err))
		return urls
	}
	progress.Publish(d.events, sessionID, progress.PhaseCompleted(phase, false, map[string]any{
		"found":       len(urls),
		"duration_ms": time.Since(start).Milliseconds(),
	}))
	return urls
}

// validate fetches each candidate and keeps the ones that answer with HTML,
// preserving candidate order.
func (d *Discoverer) validate(ctx context.Context, sessionID string, urls []string) []string {
	ok := make([]bool, len(urls))
	var done atomic.Int32

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for i, u := range urls {
		g.Go(func() error {
			if gctx.Err() != nil {
				return nil
			}
			resp, err := d.fetch.Fetch(gctx, u)
			ok[i] = err == nil && resp.IsHTML()
			if err != nil {
				zap.L().Debug("discovery: candidate rejected", zap.String("url", u), zap.Error(err))
			}
			n := done.Add(1)
			progress.Publish(d.events, sessionID, progress.Progressed(progress.PhaseValidation, int(n), len(urls), u))
			return nil
		})
	}
	_ = g.Wait()

	out := make([]string, 0, len(urls))
	for i, u := range urls {
		if ok[i] {
			out = append(out, u)
		}
	}
	return out
}

// loadRobots returns nil when the site has no usable robots.txt, which
// allows everything.
func (d *Discoverer) loadRobots(ctx context.Context, base *url.URL) *robotstxt.RobotsData {
	resp, err := d.fetch.Fetch(ctx, resolve(base, "/robots.txt"), fetcher.WithAccept("text/plain"))
	if err != nil {
		zap.L().Debug("discovery: robots.txt unavailable", zap.String("host", base.Host), zap.Error(err))
		return nil
	}
	data, err := robotstxt.FromStatusAndBytes(resp.StatusCode, resp.Body)
	if err != nil {
		return nil
	}
	return data
}

// candidates is the ordered, deduplicated candidate set.
type candidates struct {
	base    *url.URL
	matcher *PathMatcher
	group   *robotstxt.Group
	limit   int
	seen    map[string]bool
	urls    []string
	sources map[string]int
}

func (c *candidates) allowed(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || !sameSite(u.Hostname(), c.base.Hostname()) {
		return false
	}
	if c.matcher.IsExcluded(raw) {
		return false
	}
	return c.group == nil || c.group.Test(u.EscapedPath())
}

func (c *candidates) add(source, raw string) bool {
	if len(c.urls) >= c.limit || !c.allowed(raw) {
		return false
	}
	key, err := aggregate.CanonicalURL(raw)
	if err != nil || c.seen[key] {
		return false
	}
	c.seen[key] = true
	c.urls = append(c.urls, stripFragment(raw))
	c.sources[source]++
	return true
}

// siteRoot turns a bare domain or URL into the site's root URL.
func siteRoot(domain string) (*url.URL, error) {
	domain = strings.TrimSpace(domain)
	if domain == "" {
		return nil, eris.New("discovery: domain is required")
	}
	if !strings.Contains(domain, "://") {
		domain = "https://" + domain
	}
	u, err := url.Parse(domain)
	if err != nil {
		return nil, eris.Wrapf(err, "discovery: parse %q", domain)
	}
	if u.Hostname() == "" {
		return nil, eris.Errorf("discovery: no host in %q", domain)
	}
	return &url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/"}, nil
}

func resolve(base *url.URL, ref string) string {
	r, err := url.Parse(ref)
	if err != nil {
		return ""
	}
	return base.ResolveReference(r).String()
}

func stripFragment(raw string) string {
	if i := strings.IndexByte(raw, '#'); i >= 0 {
		return raw[:i]
	}
	return raw
}

// sameSite compares hosts ignoring a leading www.
func sameSite(host, site string) bool {
	h := strings.TrimPrefix(strings.ToLower(host), "www.")
	s := strings.TrimPrefix(strings.ToLower(site), "www.")
	return h != "" && h == s
}
