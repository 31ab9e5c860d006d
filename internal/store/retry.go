package store

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/sells-group/research-pipeline/internal/model"
	"github.com/sells-group/research-pipeline/internal/resilience"
)

// DefaultConflictAttempts bounds UpdateWithRetry when no policy is given.
const DefaultConflictAttempts = 4

// MutateFunc builds a patch from the freshly read session. Returning an error
// stops the retry loop and surfaces that error.
type MutateFunc func(cur *model.ResearchSession) (model.SessionPatch, error)

// UpdateWithRetry re-reads the session, builds a patch with mutate and
// applies it with a version check. Version conflicts are retried with
// jittered backoff up to attempts times; any other error is returned at once.
// When attempts run out the last ErrVersionConflict is returned.
func UpdateWithRetry(ctx context.Context, s Store, id string, attempts int, mutate MutateFunc) (*model.ResearchSession, error) {
	cfg := resilience.ConflictRetryConfig(attempts)
	cfg.ShouldRetry = func(err error) bool {
		return errors.Is(err, model.ErrVersionConflict)
	}
	cfg.OnRetry = resilience.RetryLogger("update_session", zap.String("session_id", id))

	return resilience.DoVal(ctx, cfg, func(ctx context.Context) (*model.ResearchSession, error) {
		cur, err := s.GetSession(ctx, id)
		if err != nil {
			return nil, err
		}
		patch, err := mutate(cur)
		if err != nil {
			return nil, err
		}
		return s.UpdateSession(ctx, id, patch, cur.Version)
	})
}
