package store

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/research-pipeline/internal/model"
)

// racingStore injects a competing write before the first n CAS attempts.
type racingStore struct {
	Store
	mu    sync.Mutex
	races int
}

func (r *racingStore) UpdateSession(ctx context.Context, id string, patch model.SessionPatch, expected int64) (*model.ResearchSession, error) {
	r.mu.Lock()
	race := r.races > 0
	if race {
		r.races--
	}
	r.mu.Unlock()
	if race {
		if _, err := r.Store.UpdateSession(ctx, id, model.SessionPatch{}, expected); err != nil {
			return nil, err
		}
	}
	return r.Store.UpdateSession(ctx, id, patch, expected)
}

func TestUpdateWithRetry_ResolvesConflict(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()
	sess := newSession("acme.com")
	require.NoError(t, mem.CreateSession(ctx, sess))

	s := &racingStore{Store: mem, races: 2}
	calls := 0
	got, err := UpdateWithRetry(ctx, s, sess.ID, 4, func(cur *model.ResearchSession) (model.SessionPatch, error) {
		calls++
		return model.SessionPatch{DiscoveredURLs: []string{"https://acme.com/x"}}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	// Two competing writes plus ours.
	assert.Equal(t, int64(3), got.Version)
	assert.Equal(t, []string{"https://acme.com/x"}, got.DiscoveredURLs)
}

func TestUpdateWithRetry_SurfacesConflictWhenExhausted(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()
	sess := newSession("acme.com")
	require.NoError(t, mem.CreateSession(ctx, sess))

	s := &racingStore{Store: mem, races: 10}
	calls := 0
	_, err := UpdateWithRetry(ctx, s, sess.ID, 3, func(*model.ResearchSession) (model.SessionPatch, error) {
		calls++
		return model.SessionPatch{}, nil
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrVersionConflict))
	assert.Equal(t, 3, calls)
}

func TestUpdateWithRetry_MutateErrorNotRetried(t *testing.T) {
	mem := NewMemory()
	ctx := context.Background()
	sess := newSession("acme.com")
	require.NoError(t, mem.CreateSession(ctx, sess))

	calls := 0
	_, err := UpdateWithRetry(ctx, mem, sess.ID, 4, func(*model.ResearchSession) (model.SessionPatch, error) {
		calls++
		return model.SessionPatch{}, model.NewError(model.ErrInvalidPhaseTransition, sess.ID, nil)
	})
	assert.True(t, errors.Is(err, model.ErrInvalidPhaseTransition))
	assert.Equal(t, 1, calls)
}

func TestUpdateWithRetry_NotFound(t *testing.T) {
	_, err := UpdateWithRetry(context.Background(), NewMemory(), "missing", 4, func(*model.ResearchSession) (model.SessionPatch, error) {
		t.Fatal("mutate must not run")
		return model.SessionPatch{}, nil
	})
	assert.True(t, errors.Is(err, model.ErrNotFound))
}
