// Package fetcher downloads pages for the scrape strategies and enrichment
// sources. It makes a single attempt per call, waits on a per-host adaptive
// rate limiter first, and reports non-success statuses as
// *resilience.StatusError so the caller's retry policy decides what to do.
package fetcher

import (
	"context"
	"net/http"
	"time"
)

// Fetcher defines the interface for downloading remote documents.
type Fetcher interface {
	// Fetch performs a GET and returns the decoded response.
	Fetch(ctx context.Context, url string, opts ...RequestOption) (*Response, error)
}

// Response is a fetched document. Body is UTF-8 for text content types.
type Response struct {
	URL         string // final URL after redirects
	StatusCode  int
	Header      http.Header
	ContentType string
	Body        []byte
	Elapsed     time.Duration
}

// RequestOption adjusts one request.
type RequestOption func(*http.Request)

// WithHeader sets a request header.
func WithHeader(key, value string) RequestOption {
	return func(r *http.Request) {
		r.Header.Set(key, value)
	}
}

// WithAccept sets the Accept header.
func WithAccept(value string) RequestOption {
	return WithHeader("Accept", value)
}
