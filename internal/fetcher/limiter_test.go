package fetcher

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/time/rate"
)

// --- AdaptiveLimiter Tests ---

func TestAdaptiveLimiter_OnSuccess_IncreasesRate(t *testing.T) {
	lim := NewAdaptiveLimiter(10, 10) // 10 req/s initial

	lim.OnSuccess()
	assert.InDelta(t, 12.0, float64(lim.Limit()), 0.1) // 10 * 1.2 = 12

	lim.OnSuccess()
	assert.InDelta(t, 14.4, float64(lim.Limit()), 0.1) // 12 * 1.2 = 14.4
}

func TestAdaptiveLimiter_OnRateLimit_DecreasesRate(t *testing.T) {
	lim := NewAdaptiveLimiter(10, 10) // 10 req/s initial

	lim.OnRateLimit()
	assert.InDelta(t, 5.0, float64(lim.Limit()), 0.1) // 10 * 0.5 = 5

	lim.OnRateLimit()
	assert.InDelta(t, 2.5, float64(lim.Limit()), 0.1) // 5 * 0.5 = 2.5
}

func TestAdaptiveLimiter_OnSuccess_CapsAt2x(t *testing.T) {
	lim := NewAdaptiveLimiter(10, 10) // max = 20

	// Call OnSuccess many times to exceed 2x
	for range 20 {
		lim.OnSuccess()
	}

	// Should be capped at 2x initial = 20
	assert.InDelta(t, 20.0, float64(lim.Limit()), 0.1)
}

func TestAdaptiveLimiter_OnRateLimit_FloorAtQuarter(t *testing.T) {
	lim := NewAdaptiveLimiter(10, 10) // min = 2.5

	// Call OnRateLimit many times
	for range 10 {
		lim.OnRateLimit()
	}

	// Should be floored at initial/4 = 2.5
	assert.InDelta(t, 2.5, float64(lim.Limit()), 0.1)
}

func TestAdaptiveLimiter_Wait(t *testing.T) {
	lim := NewAdaptiveLimiter(1000, 10) // Very high rate for quick test
	err := lim.Wait(context.Background())
	assert.NoError(t, err)
}

func TestAdaptiveLimiter_Wait_ContextCancelled(t *testing.T) {
	lim := NewAdaptiveLimiter(0.001, 0) // Very low rate, 0 burst
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := lim.Wait(ctx)
	assert.Error(t, err)
}

// --- HostLimiters Tests ---

func TestHostLimiters_SameHostSameLimiter(t *testing.T) {
	h := NewHostLimiters(5, 1, nil)
	a := h.For("https://acme.com/about")
	b := h.For("https://ACME.com/contact")
	assert.Same(t, a, b)
	assert.NotSame(t, a, h.For("https://other.com/"))
}

func TestHostLimiters_Overrides(t *testing.T) {
	h := NewHostLimiters(2, 1, DefaultHostOverrides())
	assert.InDelta(t, 10.0, float64(h.For("https://data.sec.gov/submissions/x.json").Limit()), 0.001)
	assert.InDelta(t, 2.0, float64(h.For("https://acme.com").Limit()), 0.001)
}

func TestHostLimiters_Defaults(t *testing.T) {
	h := NewHostLimiters(0, 0, nil)
	assert.Equal(t, rate.Limit(2), h.rate)
	assert.Equal(t, 1, h.burst)
}

func TestHostLimiters_InvalidURLSharesEmptyHost(t *testing.T) {
	h := NewHostLimiters(5, 1, nil)
	assert.Same(t, h.ForHost(""), h.For("://bad"))
}

func TestHostLimiters_ConcurrentFor(t *testing.T) {
	h := NewHostLimiters(5, 1, nil)
	var wg sync.WaitGroup
	got := make([]*AdaptiveLimiter, 32)
	for i := range got {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			got[i] = h.For("https://acme.com")
		}(i)
	}
	wg.Wait()
	for _, l := range got {
		assert.Same(t, got[0], l)
	}
}

func TestHostLimiters_Wait(t *testing.T) {
	h := NewHostLimiters(1000, 10, nil)
	assert.NoError(t, h.Wait(context.Background(), "https://acme.com"))
}
