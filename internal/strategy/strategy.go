// Package strategy holds the pluggable extraction strategies a scraper run
// can use. Every strategy exposes the same capability set: a name, a
// confidence score for a URL, and an execute step that returns the pages it
// extracted.
package strategy

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/sells-group/research-pipeline/internal/model"
)

// Strategy extracts page records from one URL.
type Strategy interface {
	// Name is the scraper id the strategy registers under.
	Name() string
	// Detect returns a confidence in [0, 1] that the strategy suits rawURL.
	Detect(rawURL string) float64
	// Execute fetches and extracts req.URL. Errors are returned as-is so the
	// caller's retry policy can classify them.
	Execute(ctx context.Context, req Request) (*model.ScrapingResult, error)
}

// Request is one strategy invocation.
type Request struct {
	SessionID string
	URL       string
	Options   map[string]any
}

// BlockedError reports that a site answered with an anti-bot page. It is
// never retried by the same strategy.
type BlockedError struct {
	URL  string
	Type BlockType
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("blocked (%s) at %s", e.Type, e.URL)
}

// singlePage wraps one extracted page in a successful result.
func singlePage(name string, req Request, page model.PageRecord, started time.Time) *model.ScrapingResult {
	return &model.ScrapingResult{
		ScraperID: name,
		SessionID: req.SessionID,
		Pages:     []model.PageRecord{page},
		Metrics: model.ScrapeMetrics{
			PageCount:  1,
			DataPoints: page.Extracted.Count(),
			DurationMs: time.Since(started).Milliseconds(),
		},
		Success: true,
	}
}

// clip cuts s to at most n bytes without splitting a rune.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
