package strategy

import (
	"context"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/research-pipeline/internal/fetcher"
	"github.com/sells-group/research-pipeline/internal/model"
)

// maxContentChars caps the main-content text kept on a page record.
const maxContentChars = 8000

// Static fetches server-rendered HTML and extracts it without running
// JavaScript. It is the default strategy for ordinary web pages.
type Static struct {
	fetch fetcher.Fetcher
}

// NewStatic returns the static strategy.
func NewStatic(f fetcher.Fetcher) *Static {
	return &Static{fetch: f}
}

func (s *Static) Name() string { return "static" }

func (s *Static) Detect(rawURL string) float64 {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return 0
	}
	return 0.6
}

func (s *Static) Execute(ctx context.Context, req Request) (*model.ScrapingResult, error) {
	start := time.Now()
	resp, err := s.fetch.Fetch(ctx, req.URL)
	if err != nil {
		// Challenge pages arrive as 403/503; their headers still identify them.
		if blocked, bt := DetectBlock(resp); blocked {
			return nil, &BlockedError{URL: req.URL, Type: bt}
		}
		return nil, eris.Wrap(err, "static: fetch")
	}
	if blocked, bt := DetectBlock(resp); blocked {
		return nil, &BlockedError{URL: req.URL, Type: bt}
	}
	if !resp.IsHTML() {
		return nil, eris.Errorf("static: %s is not html (%s)", req.URL, resp.ContentType)
	}

	page, err := Extract(resp.URL, resp.Body, resp.Header)
	if err != nil {
		return nil, err
	}
	page.URL = req.URL
	page.StatusCode = resp.StatusCode
	page.FetchedAt = time.Now().UTC()
	addReadable(&page, resp.URL, resp.Body)

	zap.L().Debug("static: extracted page",
		zap.String("session_id", req.SessionID),
		zap.String("url", req.URL),
		zap.Int("data_points", page.Extracted.Count()),
		zap.Int("technologies", len(page.Technologies)),
	)
	return singlePage(s.Name(), req, page, start), nil
}

// addReadable stores the readability main content and excerpt on page.
// Pages readability cannot parse keep their other fields.
func addReadable(page *model.PageRecord, pageURL string, body []byte) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return
	}
	article, err := readability.FromReader(strings.NewReader(string(body)), parsed)
	if err != nil {
		zap.L().Debug("static: readability failed", zap.String("url", pageURL), zap.Error(err))
		return
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(article.Content))
	if err != nil {
		return
	}
	text := strings.Join(strings.Fields(doc.Text()), " ")
	text = clip(text, maxContentChars)
	if text != "" {
		page.Fields["content"] = text
	}
	if article.Excerpt != "" {
		page.Fields["excerpt"] = article.Excerpt
	}
	if page.Title == "" {
		page.Title = article.Title
	}
}
