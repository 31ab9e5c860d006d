// Package executor runs one scraper over a session's URLs under an execution
// lock and folds the pages into the session's merged dataset.
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/research-pipeline/internal/aggregate"
	"github.com/sells-group/research-pipeline/internal/fetcher"
	"github.com/sells-group/research-pipeline/internal/lock"
	"github.com/sells-group/research-pipeline/internal/model"
	"github.com/sells-group/research-pipeline/internal/progress"
	"github.com/sells-group/research-pipeline/internal/resilience"
	"github.com/sells-group/research-pipeline/internal/store"
	"github.com/sells-group/research-pipeline/internal/strategy"
)

// releaseTimeout bounds the deferred lock release, which runs even when the
// request context is already cancelled.
const releaseTimeout = 10 * time.Second

// Config tunes an Executor.
type Config struct {
	Retry            resilience.RetryConfig
	ConflictAttempts int
	// MaxURLs caps URLs per run when the session sets no MaxPages. Zero
	// means no cap.
	MaxURLs int
}

// Request is one scraper run.
type Request struct {
	SessionID string
	ScraperID string
	// URLs defaults to the session's discovered URLs, then to its domain.
	URLs []string
	// PhaseTag labels the pages in the merged dataset. Defaults to the
	// scraping phase.
	PhaseTag string
	Options  map[string]any
}

// NewData summarizes what one run added.
type NewData struct {
	Pages      int           `json:"pages"`
	DataPoints int           `json:"dataPoints"`
	Duration   time.Duration `json:"duration"`
}

// ExecutionResult is the outcome of Execute. Success is false only when no
// page was fetched.
type ExecutionResult struct {
	Success   bool                   `json:"success"`
	SessionID string                 `json:"sessionId"`
	ScraperID string                 `json:"scraperId"`
	NewData   NewData                `json:"newData"`
	Errors    []model.ItemError      `json:"errors,omitempty"`
	Session   *model.ResearchSession `json:"-"`
}

// Executor runs scrapers. It holds no per-run state and is safe for
// concurrent use.
type Executor struct {
	store    store.Store
	locks    lock.Manager
	registry *strategy.Registry
	limiters *fetcher.HostLimiters
	events   progress.Publisher
	cfg      Config
}

// New returns an Executor. events and limiters may be nil.
func New(s store.Store, locks lock.Manager, registry *strategy.Registry, limiters *fetcher.HostLimiters, events progress.Publisher, cfg Config) *Executor {
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
	}
	if cfg.ConflictAttempts <= 0 {
		cfg.ConflictAttempts = store.DefaultConflictAttempts
	}
	if limiters == nil {
		limiters = fetcher.NewHostLimiters(0, 0, fetcher.DefaultHostOverrides())
	}
	return &Executor{
		store:    s,
		locks:    locks,
		registry: registry,
		limiters: limiters,
		events:   events,
		cfg:      cfg,
	}
}

// Execute runs req.ScraperID over the request URLs. A run that cannot take
// the lock fails with ErrConcurrentExecution and is never retried. Per-URL
// failures are collected in the result; pages fetched before a cancellation
// are still persisted.
func (e *Executor) Execute(ctx context.Context, req Request) (*ExecutionResult, error) {
	start := time.Now()
	if req.SessionID == "" {
		return nil, model.Validationf("session id is required")
	}
	if req.ScraperID == "" || !e.registry.Known(req.ScraperID) {
		return nil, model.NewError(model.ErrValidation, req.SessionID,
			eris.Errorf("unknown scraper %q", req.ScraperID)).
			WithScraper(req.ScraperID).WithPhase(model.PhaseScraping)
	}
	if req.PhaseTag == "" {
		req.PhaseTag = string(model.PhaseScraping)
	}

	sess, err := e.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	urls := e.targetURLs(sess, req.URLs)

	l, err := e.locks.Acquire(ctx, req.SessionID, req.ScraperID, urls)
	if err != nil {
		return nil, eris.Wrap(err, "executor: acquire lock")
	}
	if l == nil {
		return nil, model.NewError(model.ErrConcurrentExecution, req.SessionID,
			eris.Errorf("scraper %s is already running", req.ScraperID)).
			WithScraper(req.ScraperID).WithPhase(model.PhaseScraping)
	}
	defer e.release(ctx, l)

	log := zap.L().With(
		zap.String("session_id", req.SessionID),
		zap.String("scraper_id", req.ScraperID),
	)
	log.Info("executor: starting run", zap.Int("urls", len(urls)))

	res := &ExecutionResult{SessionID: req.SessionID, ScraperID: req.ScraperID}
	var pages []model.PageRecord

	for i, u := range urls {
		if err := ctx.Err(); err != nil {
			log.Info("executor: cancelled", zap.Int("remaining", len(urls)-i))
			res.Errors = append(res.Errors, model.ItemError{URL: u, Source: req.ScraperID, Kind: "cancelled", Message: err.Error()})
			break
		}

		got, item := e.fetchOne(ctx, req, u)
		if item != nil {
			res.Errors = append(res.Errors, *item)
			log.Warn("executor: url failed",
				zap.String("url", u),
				zap.String("kind", item.Kind),
				zap.Int("attempt", item.Attempt),
				zap.String("error", item.Message),
			)
		}
		points := 0
		for _, p := range got {
			points += p.Extracted.Count()
		}
		res.NewData.DataPoints += points
		pages = append(pages, got...)
		if len(got) > 0 {
			progress.Publish(e.events, req.SessionID, progress.DataUpdated(string(model.PhaseScraping), map[string]any{
				"url":        u,
				"pages":      len(got),
				"dataPoints": points,
			}))
		}

		progress.Publish(e.events, req.SessionID, progress.Progressed(
			string(model.PhaseScraping), i+1, len(urls), u))
	}
	res.NewData.Pages = len(pages)
	res.Success = len(pages) > 0

	if len(pages) > 0 {
		// Persist even after cancellation so fetched pages are not lost.
		updated, err := store.UpdateWithRetry(context.WithoutCancel(ctx), e.store, req.SessionID, e.cfg.ConflictAttempts,
			func(cur *model.ResearchSession) (model.SessionPatch, error) {
				merged := aggregate.Aggregate(cur.MergedData, pages, req.PhaseTag)
				return model.SessionPatch{MergedData: &merged, DiscoveredURLs: urls}, nil
			})
		if err != nil {
			res.NewData.Duration = time.Since(start)
			return res, eris.Wrap(err, "executor: persist merged data")
		}
		res.Session = updated
		progress.Publish(e.events, req.SessionID, progress.DataUpdated(string(model.PhaseScraping), map[string]any{
			"scraperId":  req.ScraperID,
			"newPages":   len(pages),
			"totalPages": updated.MergedData.Stats.TotalPages,
			"dataPoints": updated.MergedData.Stats.DataPoints,
		}))
	} else {
		res.Session = sess
	}

	res.NewData.Duration = time.Since(start)
	log.Info("executor: run complete",
		zap.Int("pages", res.NewData.Pages),
		zap.Int("data_points", res.NewData.DataPoints),
		zap.Int("errors", len(res.Errors)),
		zap.Int64("duration_ms", res.NewData.Duration.Milliseconds()),
	)
	return res, nil
}

// fetchOne resolves the strategy for u and runs it under the retry policy.
func (e *Executor) fetchOne(ctx context.Context, req Request, u string) ([]model.PageRecord, *model.ItemError) {
	s, err := e.registry.Resolve(req.ScraperID, u)
	if err != nil {
		return nil, &model.ItemError{URL: u, Source: req.ScraperID, Kind: itemKind(err), Message: err.Error()}
	}

	attempts := 0
	retry := e.cfg.Retry
	retry.OnRetry = resilience.RetryLogger("scrape",
		zap.String("session_id", req.SessionID),
		zap.String("scraper_id", s.Name()),
		zap.String("url", u),
	)
	result, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (*model.ScrapingResult, error) {
		attempts++
		if err := e.limiters.Wait(ctx, u); err != nil {
			return nil, eris.Wrap(err, "rate limiter wait")
		}
		return s.Execute(ctx, strategy.Request{SessionID: req.SessionID, URL: u, Options: req.Options})
	})
	if err != nil {
		return nil, &model.ItemError{URL: u, Source: s.Name(), Kind: itemKind(err), Message: err.Error(), Attempt: attempts}
	}
	return result.Pages, nil
}

// targetURLs picks the URLs for a run and applies the page cap.
func (e *Executor) targetURLs(sess *model.ResearchSession, requested []string) []string {
	urls := model.MergeURLSet(nil, requested)
	if len(urls) == 0 {
		urls = model.MergeURLSet(nil, sess.DiscoveredURLs)
	}
	if len(urls) == 0 && sess.Domain != "" {
		urls = []string{"https://" + sess.Domain}
	}
	limit := sess.Options.MaxPages
	if limit <= 0 {
		limit = e.cfg.MaxURLs
	}
	if limit > 0 && len(urls) > limit {
		urls = urls[:limit]
	}
	return urls
}

func (e *Executor) release(ctx context.Context, l *model.ExecutionLock) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if _, err := e.locks.Release(ctx, l.ID); err != nil {
		zap.L().Error("executor: release lock",
			zap.String("session_id", l.SessionID),
			zap.String("scraper_id", l.ScraperID),
			zap.String("lock_id", l.ID),
			zap.Error(err),
		)
	}
}

// itemKind labels a per-URL failure for the result's error list.
func itemKind(err error) string {
	var blocked *strategy.BlockedError
	var status *resilience.StatusError
	switch {
	case errors.As(err, &blocked):
		return "blocked"
	case errors.Is(err, context.Canceled):
		return "cancelled"
	case resilience.IsTimeout(err):
		return "timeout"
	case errors.As(err, &status):
		return fmt.Sprintf("http_%d", status.StatusCode)
	case resilience.IsTransient(err):
		return "network"
	}
	return model.ErrorKind(err)
}
