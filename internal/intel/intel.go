// Package intel gathers external intelligence about a company from several
// independent sources. Sources run concurrently and settle independently: one
// failing source never cancels or fails its siblings.
package intel

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/research-pipeline/internal/model"
	"github.com/sells-group/research-pipeline/internal/progress"
	"github.com/sells-group/research-pipeline/internal/resilience"
	"github.com/sells-group/research-pipeline/internal/store"
	"github.com/sells-group/research-pipeline/pkg/edgar"
	"github.com/sells-group/research-pipeline/pkg/google"
	"github.com/sells-group/research-pipeline/pkg/jina"
	"github.com/sells-group/research-pipeline/pkg/perplexity"
)

// Sources are the upstream clients. A nil client fails its category.
type Sources struct {
	Perplexity perplexity.Client
	EDGAR      edgar.Client
	Places     google.Client
	Jina       jina.Client
}

// Config tunes an Orchestrator.
type Config struct {
	Weights       map[model.EnrichmentCategory]float64
	SourceTimeout time.Duration
	Retry         resilience.RetryConfig
	Breaker       resilience.CircuitBreakerConfig
}

// Orchestrator runs enrichment passes.
type Orchestrator struct {
	src      Sources
	store    store.Store
	breakers *resilience.SourceBreakers
	events   progress.Publisher
	cfg      Config
	now      func() time.Time
}

// New returns an Orchestrator. events may be nil.
func New(src Sources, s store.Store, events progress.Publisher, cfg Config) *Orchestrator {
	if cfg.Weights == nil {
		cfg.Weights = DefaultWeights()
	}
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = 45 * time.Second
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = resilience.DefaultRetryConfig()
		cfg.Retry.MaxAttempts = 2
	}
	return &Orchestrator{
		src:      src,
		store:    s,
		breakers: resilience.NewSourceBreakers(cfg.Breaker),
		events:   events,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// BreakerStates exposes the per-source breaker states.
func (o *Orchestrator) BreakerStates() map[string]resilience.BreakerState {
	return o.breakers.States()
}

// Enrich runs one pass for the session and persists the outcome, including
// partial results. Source failures are recorded on their category and never
// returned; only validation and persistence errors are.
func (o *Orchestrator) Enrich(ctx context.Context, sessionID, companyName, domain string) (*model.ExternalIntelligence, error) {
	if sessionID == "" {
		return nil, model.Validationf("session id is required")
	}
	if companyName == "" {
		companyName = domain
	}
	if companyName == "" {
		return nil, model.NewError(model.ErrValidation, sessionID, eris.New("company name or domain is required")).
			WithPhase(model.PhaseEnrichment)
	}

	start := time.Now()
	log := zap.L().With(zap.String("session_id", sessionID), zap.String("phase", string(model.PhaseEnrichment)))

	var mu sync.Mutex
	records := make(map[model.EnrichmentCategory]model.EnrichmentRecord, len(model.AllCategories()))
	done := 0
	record := func(rec model.EnrichmentRecord) {
		mu.Lock()
		records[rec.Category] = rec
		done++
		n := done
		mu.Unlock()
		progress.Publish(o.events, sessionID, progress.Progressed(
			string(model.PhaseEnrichment), n, len(model.AllCategories()), string(rec.Category)))
	}

	// The professional pre-check classifies the company before the fan-out.
	classification := model.ClassificationUnknown
	prof, rec := runSource(ctx, o, sessionID, model.CategoryProfessional, func(ctx context.Context) (*Professional, error) {
		if o.src.Perplexity == nil {
			return nil, eris.New("perplexity client not configured")
		}
		return o.professional(ctx, companyName, domain)
	})
	if prof != nil {
		classification = prof.Classification()
		if !prof.present() {
			rec.Present, rec.Payload = false, nil
		}
	}
	record(rec)

	var g errgroup.Group
	if classification == model.ClassificationPrivate {
		record(model.EnrichmentRecord{
			SessionID: sessionID,
			Category:  model.CategoryFinancial,
			Skipped:   true,
			FetchedAt: o.now(),
		})
	} else {
		g.Go(func() error {
			_, rec := runSource(ctx, o, sessionID, model.CategoryFinancial, func(ctx context.Context) (*Financial, error) {
				if o.src.EDGAR == nil {
					return nil, eris.New("edgar client not configured")
				}
				return o.financial(ctx, companyName)
			})
			record(rec)
			return nil
		})
	}
	g.Go(func() error {
		_, rec := runSource(ctx, o, sessionID, model.CategorySocial, func(ctx context.Context) (*Social, error) {
			if o.src.Jina == nil {
				return nil, eris.New("jina client not configured")
			}
			return o.social(ctx, companyName, domain)
		})
		record(rec)
		return nil
	})
	g.Go(func() error {
		_, rec := runSource(ctx, o, sessionID, model.CategoryLocalBusiness, func(ctx context.Context) (*LocalBusiness, error) {
			if o.src.Places == nil {
				return nil, eris.New("google places client not configured")
			}
			return o.localBusiness(ctx, companyName, domain)
		})
		record(rec)
		return nil
	})
	g.Go(func() error {
		_, rec := runSource(ctx, o, sessionID, model.CategoryNews, func(ctx context.Context) (*News, error) {
			if o.src.Jina == nil {
				return nil, eris.New("jina client not configured")
			}
			return o.news(ctx, companyName, domain)
		})
		record(rec)
		return nil
	})
	_ = g.Wait()

	summary := o.summarize(sessionID, records, classification, time.Since(start))
	out := &model.ExternalIntelligence{Summary: summary, Records: records}

	log.Info("intel: enrichment complete",
		zap.Float64("completeness", summary.Completeness),
		zap.String("classification", string(classification)),
		zap.Int("failed", len(summary.Failed)),
		zap.Int64("duration_ms", summary.DurationMs),
	)

	if err := o.store.SaveIntelligence(context.WithoutCancel(ctx), out); err != nil {
		return out, eris.Wrap(err, "intel: save")
	}
	progress.Publish(o.events, sessionID, progress.DataUpdated(string(model.PhaseEnrichment), map[string]any{
		"completeness":   summary.Completeness,
		"classification": summary.Classification,
		"populated":      summary.Populated,
		"failed":         summary.Failed,
	}))
	return out, nil
}

func (o *Orchestrator) summarize(sessionID string, records map[model.EnrichmentCategory]model.EnrichmentRecord, c model.CompanyClassification, d time.Duration) model.IntelligenceSummary {
	s := model.IntelligenceSummary{
		SessionID:      sessionID,
		Completeness:   Completeness(records, o.cfg.Weights),
		DurationMs:     d.Milliseconds(),
		Classification: c,
		Populated:      []model.EnrichmentCategory{},
		LastUpdated:    o.now(),
	}
	for _, cat := range model.AllCategories() {
		rec := records[cat]
		switch {
		case rec.Present:
			s.Populated = append(s.Populated, cat)
		case rec.Error != "":
			s.Failed = append(s.Failed, cat)
		}
	}
	slices.Sort(s.Populated)
	slices.Sort(s.Failed)
	return s
}

// runSource runs one source behind its breaker and retry policy and turns
// the outcome into a record. A nil value with no error means the source had
// nothing for this company.
func runSource[T any](ctx context.Context, o *Orchestrator, sessionID string, cat model.EnrichmentCategory, fn func(ctx context.Context) (*T, error)) (*T, model.EnrichmentRecord) {
	rec := model.EnrichmentRecord{SessionID: sessionID, Category: cat}
	log := zap.L().With(zap.String("session_id", sessionID), zap.String("source", string(cat)))

	if err := ctx.Err(); err != nil {
		rec.Error = sourceError(sessionID, cat, err).Error()
		rec.FetchedAt = o.now()
		return nil, rec
	}

	start := time.Now()
	retry := o.cfg.Retry
	retry.OnRetry = resilience.RetryLogger("enrich", zap.String("session_id", sessionID), zap.String("source", string(cat)))
	val, err := resilience.ExecuteVal(ctx, o.breakers.Get(string(cat)), func(ctx context.Context) (*T, error) {
		return resilience.DoVal(ctx, retry, func(ctx context.Context) (*T, error) {
			ctx, cancel := context.WithTimeout(ctx, o.cfg.SourceTimeout)
			defer cancel()
			return fn(ctx)
		})
	})
	rec.FetchedAt = o.now()
	if err != nil {
		rec.Error = sourceError(sessionID, cat, err).Error()
		log.Warn("intel: source failed", zap.Error(err), zap.Int64("duration_ms", time.Since(start).Milliseconds()))
		return nil, rec
	}
	if val == nil {
		log.Debug("intel: source returned nothing")
		return nil, rec
	}
	payload, err := json.Marshal(val)
	if err != nil {
		rec.Error = sourceError(sessionID, cat, err).Error()
		return nil, rec
	}
	rec.Present = true
	rec.Payload = payload
	log.Debug("intel: source populated", zap.Int64("duration_ms", time.Since(start).Milliseconds()))
	return val, rec
}

func sourceError(sessionID string, cat model.EnrichmentCategory, err error) error {
	return model.NewError(model.ErrEnrichmentSource, sessionID, eris.Wrap(err, string(cat))).
		WithPhase(model.PhaseEnrichment)
}
