package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/research-pipeline/internal/model"
	"github.com/sells-group/research-pipeline/internal/progress"
	"github.com/sells-group/research-pipeline/internal/store"
)

// errNotStale stops UpdateWithRetry when the session moved on.
var errNotStale = eris.New("session is no longer stale")

// RecoverStale fails the session if it is still IN_PROGRESS, is not running
// in this process and has not been written since olderThan ago. A process
// that died mid-phase leaves such sessions behind; they cannot be resumed
// otherwise. Reports whether the session was recovered.
func (s *Service) RecoverStale(ctx context.Context, sessionID string, olderThan time.Duration) (bool, error) {
	if s.isRunning(sessionID) {
		return false, nil
	}
	cutoff := s.now().Add(-olderThan)
	failed := model.SessionStatusFailed
	var phase model.Phase

	_, err := store.UpdateWithRetry(ctx, s.deps.Store, sessionID, s.cfg.ConflictAttempts,
		func(cur *model.ResearchSession) (model.SessionPatch, error) {
			if cur.Status != model.SessionStatusInProgress || cur.UpdatedAt.After(cutoff) {
				return model.SessionPatch{}, errNotStale
			}
			phase = cur.CurrentPhase
			msg := "interrupted: no progress since " + cur.UpdatedAt.UTC().Format(time.RFC3339)
			patch := model.SessionPatch{Status: &failed, Error: &msg}
			if phase != "" {
				patch.PhaseResult = &model.PhaseResult{
					Phase:       phase,
					CompletedAt: s.now().UTC(),
					Errors:      []model.ItemError{{Kind: "timeout", Message: msg}},
				}
			}
			return patch, nil
		})
	if errors.Is(err, errNotStale) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	if s.deps.Locks != nil {
		if _, err := s.deps.Locks.ReleaseSession(ctx, sessionID); err != nil {
			zap.L().Warn("orchestrator: release stale session locks", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	cause := model.NewError(model.ErrTimeout, sessionID, eris.New("phase interrupted")).WithPhase(phase)
	progress.Publish(s.publisher(), sessionID, progress.PhaseFailed(string(phase), cause))
	progress.Publish(s.publisher(), sessionID, progress.Failed(cause))

	zap.L().Warn("orchestrator: recovered stale session",
		zap.String("session_id", sessionID),
		zap.String("phase", string(phase)),
	)
	return true, nil
}

func (s *Service) isRunning(sessionID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[sessionID]
	return ok
}
