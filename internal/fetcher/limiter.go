package fetcher

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// AdaptiveLimiter wraps a rate.Limiter with adaptive rate adjustment.
// On success it increases the rate by 20% (up to 2x initial).
// On 429 it halves the rate (down to initial/4 minimum).
type AdaptiveLimiter struct {
	mu          sync.Mutex
	limiter     *rate.Limiter
	initialRate rate.Limit
	maxRate     rate.Limit
	minRate     rate.Limit
	currentRate rate.Limit
}

// NewAdaptiveLimiter creates an adaptive rate limiter that auto-tunes.
func NewAdaptiveLimiter(initialRate rate.Limit, burst int) *AdaptiveLimiter {
	return &AdaptiveLimiter{
		limiter:     rate.NewLimiter(initialRate, burst),
		initialRate: initialRate,
		maxRate:     initialRate * 2,
		minRate:     initialRate / 4,
		currentRate: initialRate,
	}
}

// Wait blocks until the limiter allows an event.
func (a *AdaptiveLimiter) Wait(ctx context.Context) error {
	return a.limiter.Wait(ctx)
}

// OnSuccess increases the rate by 20%, up to 2x initial.
func (a *AdaptiveLimiter) OnSuccess() {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 1.2
	if newRate > a.maxRate {
		newRate = a.maxRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
}

// OnRateLimit halves the rate on 429 responses.
func (a *AdaptiveLimiter) OnRateLimit() {
	a.mu.Lock()
	defer a.mu.Unlock()
	newRate := a.currentRate * 0.5
	if newRate < a.minRate {
		newRate = a.minRate
	}
	a.currentRate = newRate
	a.limiter.SetLimit(newRate)
	zap.L().Warn("adaptive rate limit: reducing rate after 429",
		zap.Float64("new_rate", float64(newRate)),
	)
}

// Limit returns the current rate limit.
func (a *AdaptiveLimiter) Limit() rate.Limit {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.currentRate
}

// HostLimiters hands out one AdaptiveLimiter per host, creating them lazily
// at the default rate. Hosts with a configured override start at that rate.
type HostLimiters struct {
	mu        sync.Mutex
	limiters  map[string]*AdaptiveLimiter
	overrides map[string]rate.Limit
	rate      rate.Limit
	burst     int
}

// NewHostLimiters returns a registry whose unknown hosts get perHost requests
// per second with the given burst.
func NewHostLimiters(perHost rate.Limit, burst int, overrides map[string]rate.Limit) *HostLimiters {
	if perHost <= 0 {
		perHost = 2
	}
	if burst <= 0 {
		burst = 1
	}
	o := make(map[string]rate.Limit, len(overrides))
	for k, v := range overrides {
		o[strings.ToLower(k)] = v
	}
	return &HostLimiters{
		limiters:  make(map[string]*AdaptiveLimiter),
		overrides: o,
		rate:      perHost,
		burst:     burst,
	}
}

// DefaultHostOverrides returns the rates for upstream APIs with published
// limits.
func DefaultHostOverrides() map[string]rate.Limit {
	return map[string]rate.Limit{
		"www.sec.gov":  10,
		"data.sec.gov": 10,
		"efts.sec.gov": 10,
	}
}

// For returns the limiter for the host of rawURL. Unparseable URLs share the
// limiter keyed by the empty host.
func (h *HostLimiters) For(rawURL string) *AdaptiveLimiter {
	return h.ForHost(hostOf(rawURL))
}

// ForHost returns the limiter for host.
func (h *HostLimiters) ForHost(host string) *AdaptiveLimiter {
	host = strings.ToLower(host)
	h.mu.Lock()
	defer h.mu.Unlock()
	if l, ok := h.limiters[host]; ok {
		return l
	}
	r := h.rate
	if o, ok := h.overrides[host]; ok {
		r = o
	}
	l := NewAdaptiveLimiter(r, h.burst)
	h.limiters[host] = l
	return l
}

// Wait blocks on the limiter for rawURL's host.
func (h *HostLimiters) Wait(ctx context.Context, rawURL string) error {
	return h.For(rawURL).Wait(ctx)
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
