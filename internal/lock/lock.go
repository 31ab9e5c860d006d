// Package lock grants per (session, scraper) execution locks with a TTL.
// At most one live lock exists per key; an expired lock counts as released.
package lock

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/sells-group/research-pipeline/internal/model"
)

// DefaultTTL is comfortably longer than the longest expected scrape pass.
const DefaultTTL = 30 * time.Minute

// Manager acquires and releases execution locks.
type Manager interface {
	// Acquire returns a new lock, or nil with no error when a live lock
	// already exists for (sessionID, scraperID).
	Acquire(ctx context.Context, sessionID, scraperID string, urls []string) (*model.ExecutionLock, error)
	// Release removes the lock. It reports whether a live lock was removed
	// and is safe to call more than once.
	Release(ctx context.Context, lockID string) (bool, error)
	// ReleaseSession removes every lock held for sessionID.
	ReleaseSession(ctx context.Context, sessionID string) (int, error)
	// Sweep deletes expired locks and returns how many were reclaimed.
	Sweep(ctx context.Context) (int, error)
}

// Options tune a Manager.
type Options struct {
	TTL     time.Duration
	NowFunc func() time.Time
}

func (o Options) withDefaults() Options {
	if o.TTL <= 0 {
		o.TTL = DefaultTTL
	}
	if o.NowFunc == nil {
		o.NowFunc = func() time.Time { return time.Now().UTC() }
	}
	return o
}

func newLock(sessionID, scraperID string, urls []string, now time.Time, ttl time.Duration) *model.ExecutionLock {
	return &model.ExecutionLock{
		ID:         uuid.New().String(),
		SessionID:  sessionID,
		ScraperID:  scraperID,
		TargetURLs: append([]string{}, urls...),
		AcquiredAt: now,
		ExpiresAt:  now.Add(ttl),
	}
}

func validateKey(sessionID, scraperID string) error {
	if sessionID == "" || scraperID == "" {
		return model.Validationf("lock requires session and scraper ids")
	}
	return nil
}

// Janitor sweeps expired locks every interval until ctx is done.
func Janitor(ctx context.Context, m Manager, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := m.Sweep(ctx)
			if err != nil {
				zap.L().Warn("lock: sweep failed", zap.Error(err))
				continue
			}
			if n > 0 {
				zap.L().Debug("lock: swept expired locks", zap.Int("count", n))
			}
		}
	}
}
