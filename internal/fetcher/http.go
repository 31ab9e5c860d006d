package fetcher

import (
	"context"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/net/html/charset"

	"github.com/sells-group/research-pipeline/internal/resilience"
)

// DefaultUserAgent identifies the crawler to the sites it visits.
const DefaultUserAgent = "Mozilla/5.0 (compatible; ResearchBot/1.0)"

// HTTPOptions configures the HTTP fetcher.
type HTTPOptions struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
	Limiters     *HostLimiters
}

// HTTPFetcher implements Fetcher using net/http with per-host rate limiting.
type HTTPFetcher struct {
	client   *http.Client
	opts     HTTPOptions
	limiters *HostLimiters
}

var _ Fetcher = (*HTTPFetcher)(nil)

// NewHTTPFetcher creates a new HTTPFetcher with the given options.
func NewHTTPFetcher(opts HTTPOptions) *HTTPFetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = DefaultUserAgent
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 2 << 20
	}
	limiters := opts.Limiters
	if limiters == nil {
		limiters = NewHostLimiters(0, 0, DefaultHostOverrides())
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: 10,
		MaxConnsPerHost:     20,
		IdleConnTimeout:     90 * time.Second,
	}
	return &HTTPFetcher{
		client: &http.Client{
			Timeout:   opts.Timeout,
			Transport: transport,
		},
		opts:     opts,
		limiters: limiters,
	}
}

// Limiters returns the per-host limiter registry.
func (f *HTTPFetcher) Limiters() *HostLimiters {
	return f.limiters
}

// Fetch waits on the host limiter, performs one GET and decodes the body to
// UTF-8. Transport failures are marked transient; non-2xx statuses return a
// *resilience.StatusError alongside the partial response.
func (f *HTTPFetcher) Fetch(ctx context.Context, rawURL string, opts ...RequestOption) (*Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, eris.Wrap(err, "create request")
	}
	req.Header.Set("User-Agent", f.opts.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/json;q=0.9,*/*;q=0.8")
	for _, o := range opts {
		o(req)
	}

	limiter := f.limiters.For(rawURL)
	if err := limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "rate limiter wait")
	}

	start := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrapf(ctx.Err(), "fetch %s", rawURL)
		}
		return nil, eris.Wrapf(resilience.Transient(err), "fetch %s", rawURL)
	}
	defer resp.Body.Close() //nolint:errcheck

	out := &Response{
		URL:         resp.Request.URL.String(),
		StatusCode:  resp.StatusCode,
		Header:      resp.Header,
		ContentType: resp.Header.Get("Content-Type"),
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		limiter.OnRateLimit()
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		out.Elapsed = time.Since(start)
		zap.L().Debug("fetch: non-success status",
			zap.String("url", rawURL),
			zap.Int("status", resp.StatusCode),
		)
		return out, resilience.NewStatusError(rawURL, resp.StatusCode)
	}
	limiter.OnSuccess()

	body, err := readBody(resp.Body, out.ContentType, f.opts.MaxBodyBytes)
	if err != nil {
		return nil, eris.Wrapf(resilience.Transient(err), "read body %s", rawURL)
	}
	out.Body = body
	out.Elapsed = time.Since(start)
	return out, nil
}

// readBody reads at most limit bytes, transcoding text content to UTF-8.
func readBody(r io.Reader, contentType string, limit int64) ([]byte, error) {
	r = io.LimitReader(r, limit)
	if isText(contentType) {
		decoded, err := charset.NewReader(r, contentType)
		if err == nil {
			r = decoded
		}
	}
	return io.ReadAll(r)
}

func isText(contentType string) bool {
	if contentType == "" {
		return true
	}
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mt, "text/") || strings.HasSuffix(mt, "+xml") || mt == "application/xhtml+xml"
}

// IsHTML reports whether the response looks like an HTML document.
func (r *Response) IsHTML() bool {
	mt, _, _ := mime.ParseMediaType(r.ContentType)
	if mt == "text/html" || mt == "application/xhtml+xml" {
		return true
	}
	if mt != "" {
		return false
	}
	head := strings.ToLower(string(r.Body[:min(len(r.Body), 512)]))
	return strings.Contains(head, "<html") || strings.Contains(head, "<!doctype html")
}

// IsJSON reports whether the response carries a JSON content type.
func (r *Response) IsJSON() bool {
	mt, _, _ := mime.ParseMediaType(r.ContentType)
	return mt == "application/json" || strings.HasSuffix(mt, "+json")
}
