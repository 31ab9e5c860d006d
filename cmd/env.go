package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/research-pipeline/internal/config"
	"github.com/sells-group/research-pipeline/internal/db"
	"github.com/sells-group/research-pipeline/internal/discovery"
	"github.com/sells-group/research-pipeline/internal/executor"
	"github.com/sells-group/research-pipeline/internal/fetcher"
	"github.com/sells-group/research-pipeline/internal/generate"
	"github.com/sells-group/research-pipeline/internal/intel"
	"github.com/sells-group/research-pipeline/internal/lock"
	"github.com/sells-group/research-pipeline/internal/orchestrator"
	"github.com/sells-group/research-pipeline/internal/progress"
	"github.com/sells-group/research-pipeline/internal/resilience"
	"github.com/sells-group/research-pipeline/internal/store"
	"github.com/sells-group/research-pipeline/internal/strategy"
	anthropicpkg "github.com/sells-group/research-pipeline/pkg/anthropic"
	"github.com/sells-group/research-pipeline/pkg/edgar"
	"github.com/sells-group/research-pipeline/pkg/google"
	"github.com/sells-group/research-pipeline/pkg/jina"
	"github.com/sells-group/research-pipeline/pkg/perplexity"
)

// appEnv holds the explicitly constructed registries and services shared by
// every command.
type appEnv struct {
	Store   store.Store
	Locks   lock.Manager
	Hub     *progress.Hub
	Service *orchestrator.Service
	Intel   *intel.Orchestrator
	Presets config.Presets

	closers []func() error
}

// Close releases resources in reverse construction order.
func (e *appEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		if err := e.closers[i](); err != nil {
			zap.L().Warn("close resource", zap.Error(err))
		}
	}
	if e.Hub != nil {
		e.Hub.Close()
	}
}

// initStore opens the configured session store.
func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	switch c.Store.Driver {
	case "memory":
		return store.NewMemory(), nil
	case "sqlite":
		return store.NewSQLite(c.Store.SQLitePath)
	case "postgres":
		return store.NewPostgres(ctx, c.Store.DatabaseURL, &db.PoolConfig{
			MaxConns: c.Store.MaxConns,
			MinConns: c.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
}

// lockBackend is a lock manager that may own a connection.
type lockBackend struct {
	lock.Manager
	migrate func(ctx context.Context) error
	close   func() error
}

// initLocks builds the configured lock manager. The postgres backend shares
// the session store's pool.
func initLocks(c *config.Config, st store.Store) (*lockBackend, error) {
	opts := lock.Options{TTL: time.Duration(c.Lock.TTLMins) * time.Minute}
	switch c.Lock.Backend {
	case "", "memory":
		return &lockBackend{Manager: lock.NewMemory(opts)}, nil
	case "redis":
		r := lock.NewRedis(lock.RedisOptions{
			Addr:     c.Lock.Redis.Addr,
			Password: c.Lock.Redis.Password,
			DB:       c.Lock.Redis.DB,
			Prefix:   c.Lock.Redis.Prefix,
		}, opts)
		return &lockBackend{Manager: r, close: r.Close}, nil
	case "postgres":
		ps, ok := st.(*store.PostgresStore)
		if !ok {
			return nil, eris.New("lock backend postgres requires the postgres store")
		}
		p := lock.NewPostgres(ps.Pool(), opts)
		return &lockBackend{Manager: p, migrate: p.Migrate}, nil
	default:
		return nil, eris.Errorf("unsupported lock backend: %s", c.Lock.Backend)
	}
}

// initEnv wires the store, lock manager, progress hub, collaborators and
// orchestrator. Callers should defer env.Close().
func initEnv(ctx context.Context, mode string) (*appEnv, error) {
	if err := cfg.Validate(mode); err != nil {
		return nil, err
	}
	presets, err := config.LoadPresets(cfg.Phases.PresetsFile)
	if err != nil {
		return nil, err
	}

	st, err := initStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	env := &appEnv{Store: st, Presets: presets}
	env.closers = append(env.closers, st.Close)

	if err := st.Migrate(ctx); err != nil {
		env.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	locks, err := initLocks(cfg, st)
	if err != nil {
		env.Close()
		return nil, err
	}
	if locks.close != nil {
		env.closers = append(env.closers, locks.close)
	}
	if locks.migrate != nil {
		if err := locks.migrate(ctx); err != nil {
			env.Close()
			return nil, eris.Wrap(err, "migrate locks")
		}
	}
	env.Locks = locks.Manager

	env.Hub = progress.NewHub(progress.Options{
		IdleTimeout:  time.Duration(cfg.Progress.IdleTimeoutMins) * time.Minute,
		HistoryLimit: cfg.Progress.HistoryLimit,
	})

	limiters := fetcher.NewHostLimiters(rate.Limit(cfg.Fetch.RatePerSec), cfg.Fetch.Burst, fetcher.DefaultHostOverrides())
	httpFetcher := fetcher.NewHTTPFetcher(fetcher.HTTPOptions{
		UserAgent:    cfg.Fetch.UserAgent,
		Timeout:      config.Seconds(cfg.Fetch.TimeoutSecs),
		MaxBodyBytes: cfg.Fetch.MaxBodyBytes,
		Limiters:     limiters,
	})

	clients := initClients(httpFetcher)
	registry, closeRegistry := initRegistry(httpFetcher, clients)
	if closeRegistry != nil {
		env.closers = append(env.closers, closeRegistry)
	}

	exec := executor.New(st, env.Locks, registry, limiters, env.Hub, executor.Config{
		Retry: resilience.FromRetryConfig(cfg.Executor.MaxAttempts,
			cfg.Executor.InitialBackoffMs, cfg.Executor.MaxBackoffMs, 2.0, 0.25),
		ConflictAttempts: cfg.Executor.ConflictAttempts,
		MaxURLs:          cfg.Executor.MaxURLs,
	})

	disc := discovery.New(httpFetcher, env.Hub, discovery.Config{
		MaxURLs:       cfg.Discovery.MaxURLs,
		MaxCandidates: cfg.Discovery.MaxCandidates,
		CrawlDepth:    cfg.Discovery.CrawlDepth,
		CrawlPages:    cfg.Discovery.CrawlPages,
		Concurrency:   cfg.Discovery.Concurrency,
		Timeout:       config.Seconds(cfg.Discovery.TimeoutSecs),
		UserAgent:     cfg.Fetch.UserAgent,
		Exclude:       cfg.Discovery.ExcludePaths,
	})

	enricher := intel.New(clients.sources, st, env.Hub, intel.Config{
		SourceTimeout: config.Seconds(cfg.Intel.SourceTimeoutSecs),
		Retry:         resilience.FromRetryConfig(cfg.Intel.MaxAttempts, 0, 0, 0, 0.25),
		Breaker:       resilience.FromCircuitConfig(cfg.Intel.BreakerThreshold, cfg.Intel.BreakerResetSecs),
	})

	env.Intel = enricher

	var gen generate.Generator = generate.NewOutline()
	if clients.anthropic != nil {
		gen = generate.NewLLM(clients.anthropic, cfg.Anthropic.ReportModel)
	}

	env.Service = orchestrator.New(orchestrator.Deps{
		Store:     st,
		Locks:     env.Locks,
		Hub:       env.Hub,
		Discovery: disc,
		Scraper:   exec,
		Intel:     enricher,
		Generator: gen,
	}, orchestrator.Config{
		ConflictAttempts: cfg.Executor.ConflictAttempts,
		DefaultScraper:   cfg.Executor.DefaultScraper,
		IntelMaxAgeHours: cfg.Intel.MaxAgeHours,
		RefreshThreshold: cfg.Intel.RefreshThreshold,
	})
	return env, nil
}

type upstreamClients struct {
	sources   intel.Sources
	jina      jina.Client
	anthropic anthropicpkg.Client
}

// initClients builds the upstream API clients. Clients without a key stay
// nil and the features behind them report "not configured".
func initClients(f fetcher.Fetcher) upstreamClients {
	var out upstreamClients
	out.sources.EDGAR = edgar.NewClient(f, cfg.EDGAR.UserAgent)

	if cfg.Jina.Key != "" {
		opts := []jina.Option{jina.WithBaseURL(cfg.Jina.BaseURL)}
		if cfg.Jina.SearchBaseURL != "" {
			opts = append(opts, jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL))
		}
		out.jina = jina.NewClient(cfg.Jina.Key, opts...)
		out.sources.Jina = out.jina
	} else {
		zap.L().Debug("RESEARCH_JINA_KEY not set, news enrichment and ai scraper disabled")
	}
	if cfg.Perplexity.Key != "" {
		out.sources.Perplexity = perplexity.NewClient(cfg.Perplexity.Key,
			perplexity.WithBaseURL(cfg.Perplexity.BaseURL),
			perplexity.WithModel(cfg.Perplexity.Model),
		)
	} else {
		zap.L().Debug("RESEARCH_PERPLEXITY_KEY not set, professional and social enrichment disabled")
	}
	if cfg.Google.Key != "" {
		out.sources.Places = google.NewClient(cfg.Google.Key, google.WithBaseURL(cfg.Google.BaseURL))
	} else {
		zap.L().Debug("RESEARCH_GOOGLE_KEY not set, local business enrichment disabled")
	}
	if cfg.Anthropic.Key != "" {
		out.anthropic = anthropicpkg.NewClient(cfg.Anthropic.Key)
	}
	return out
}

// initRegistry registers the scraping strategies the configuration enables.
// The returned func closes the headless browser, if any.
func initRegistry(f fetcher.Fetcher, clients upstreamClients) (*strategy.Registry, func() error) {
	reg := strategy.NewRegistry(strategy.NewStatic(f), strategy.NewAPI(f))
	var closeFn func() error
	if cfg.Browser.Enabled {
		r := strategy.NewRodRenderer(cfg.Browser.Bin, config.Seconds(cfg.Browser.TimeoutSecs))
		reg.Register(strategy.NewDynamic(r))
		closeFn = r.Close
	}
	if clients.jina != nil && clients.anthropic != nil {
		reg.Register(strategy.NewAI(clients.jina, clients.anthropic, cfg.Anthropic.ExtractModel))
	}
	zap.L().Debug("scraping strategies registered", zap.Strings("strategies", reg.Names()))
	return reg, closeFn
}
