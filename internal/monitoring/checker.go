package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/research-pipeline/internal/config"
)

// Recoverer fails a session that stopped making progress.
type Recoverer interface {
	RecoverStale(ctx context.Context, sessionID string, olderThan time.Duration) (bool, error)
}

// Checker runs periodic health checks in the background and, when a
// Recoverer is set, fails stale sessions.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	recoverer Recoverer
	cfg       config.MonitoringConfig
}

// NewChecker creates a background checker. recoverer may be nil.
func NewChecker(collector *Collector, alerter *Alerter, recoverer Recoverer, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		recoverer: recoverer,
		cfg:       cfg,
	}
}

func (c *Checker) staleAfter() time.Duration {
	if c.cfg.StaleAfterMins <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.cfg.StaleAfterMins) * time.Minute
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting health checker",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackHours),
		zap.Duration("stale_after", c.staleAfter()),
	)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("health checker stopped")
			return
		case <-ticker.C:
			c.Check(ctx, log)
		}
	}
}

// Check runs one collect, alert and recover pass.
func (c *Checker) Check(ctx context.Context, log *zap.Logger) *MetricsSnapshot {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackHours, c.staleAfter())
	if err != nil {
		log.Error("monitoring: failed to collect metrics", zap.Error(err))
		return nil
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) > 0 {
		sent := c.alerter.SendAlerts(ctx, alerts)
		log.Info("monitoring: alert check complete",
			zap.Int("alerts_triggered", len(alerts)),
			zap.Int("alerts_sent", sent),
		)
	} else {
		log.Debug("monitoring: no alerts triggered")
	}

	if c.recoverer != nil && c.cfg.RecoverStale {
		recovered := 0
		for _, id := range snap.StaleSessionIDs {
			ok, err := c.recoverer.RecoverStale(ctx, id, c.staleAfter())
			if err != nil {
				log.Warn("monitoring: recover stale session", zap.String("session_id", id), zap.Error(err))
				continue
			}
			if ok {
				recovered++
			}
		}
		if recovered > 0 {
			log.Info("monitoring: recovered stale sessions", zap.Int("count", recovered))
		}
	}
	return snap
}
