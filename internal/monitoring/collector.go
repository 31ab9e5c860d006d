package monitoring

import (
	"context"
	"sort"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/research-pipeline/internal/model"
	"github.com/sells-group/research-pipeline/internal/resilience"
	"github.com/sells-group/research-pipeline/internal/store"
)

// MetricsSnapshot holds a point-in-time view of session health.
type MetricsSnapshot struct {
	// Settled sessions updated within the lookback window.
	Completed int     `json:"completed"`
	Failed    int     `json:"failed"`
	Aborted   int     `json:"aborted"`
	FailRate  float64 `json:"fail_rate"`
	// AvgCompletedSecs is the mean create-to-complete time.
	AvgCompletedSecs float64 `json:"avg_completed_secs"`

	// Live sessions, regardless of age.
	Initialized      int      `json:"initialized"`
	InProgress       int      `json:"in_progress"`
	AwaitingApproval int      `json:"awaiting_approval"`
	StaleSessionIDs  []string `json:"stale_session_ids,omitempty"`

	OpenBreakers  []string `json:"open_breakers,omitempty"`
	ActiveStreams int      `json:"active_streams"`

	LookbackHours int       `json:"lookback_hours"`
	StaleAfter    string    `json:"stale_after"`
	CollectedAt   time.Time `json:"collected_at"`
}

// BreakerReporter exposes per-source circuit breaker states.
type BreakerReporter interface {
	BreakerStates() map[string]resilience.BreakerState
}

// StreamCounter reports the number of open progress streams.
type StreamCounter interface {
	Len() int
}

// Collector gathers metrics from the session store, the enrichment breakers
// and the progress hub. Breakers and Streams may be nil.
type Collector struct {
	store    store.Store
	breakers BreakerReporter
	streams  StreamCounter
	now      func() time.Time
}

const (
	collectPageSize = 500
	collectMaxRows  = 10000
)

// NewCollector creates a new metrics collector.
func NewCollector(st store.Store, breakers BreakerReporter, streams StreamCounter) *Collector {
	return &Collector{store: st, breakers: breakers, streams: streams, now: time.Now}
}

// Collect gathers a snapshot over the lookback window. IN_PROGRESS sessions
// not written for staleAfter are reported as stale.
func (c *Collector) Collect(ctx context.Context, lookbackHours int, staleAfter time.Duration) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		StaleAfter:    staleAfter.String(),
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)
	staleCutoff := now.Add(-staleAfter)

	var totalDur time.Duration
	for offset := 0; offset < collectMaxRows; offset += collectPageSize {
		sessions, err := c.store.ListSessions(ctx, store.SessionFilter{Limit: collectPageSize, Offset: offset})
		if err != nil {
			return nil, eris.Wrap(err, "monitoring: list sessions")
		}
		for i := range sessions {
			s := &sessions[i]
			switch s.Status {
			case model.SessionStatusInitialized:
				snap.Initialized++
			case model.SessionStatusInProgress:
				snap.InProgress++
				if s.UpdatedAt.Before(staleCutoff) {
					snap.StaleSessionIDs = append(snap.StaleSessionIDs, s.ID)
				}
			case model.SessionStatusAwaitingApproval:
				snap.AwaitingApproval++
			}
			if s.UpdatedAt.Before(cutoff) {
				continue
			}
			switch s.Status {
			case model.SessionStatusCompleted:
				snap.Completed++
				end := s.UpdatedAt
				if s.CompletedAt != nil {
					end = *s.CompletedAt
				}
				totalDur += end.Sub(s.CreatedAt)
			case model.SessionStatusFailed:
				snap.Failed++
			case model.SessionStatusAborted:
				snap.Aborted++
			}
		}
		if len(sessions) < collectPageSize {
			break
		}
	}

	if finished := snap.Completed + snap.Failed; finished > 0 {
		snap.FailRate = float64(snap.Failed) / float64(finished)
	}
	if snap.Completed > 0 {
		snap.AvgCompletedSecs = totalDur.Seconds() / float64(snap.Completed)
	}

	if c.breakers != nil {
		for name, st := range c.breakers.BreakerStates() {
			if st == resilience.BreakerOpen {
				snap.OpenBreakers = append(snap.OpenBreakers, name)
			}
		}
		sort.Strings(snap.OpenBreakers)
	}
	if c.streams != nil {
		snap.ActiveStreams = c.streams.Len()
	}
	return snap, nil
}
