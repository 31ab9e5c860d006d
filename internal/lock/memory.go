package lock

import (
	"context"
	"sync"

	"github.com/sells-group/research-pipeline/internal/model"
)

type lockKey struct {
	sessionID string
	scraperID string
}

// Memory is an in-process Manager for tests and single-node deployments.
type Memory struct {
	opts Options

	mu    sync.Mutex
	byKey map[lockKey]*model.ExecutionLock
	byID  map[string]lockKey
}

// NewMemory returns an empty in-process lock manager.
func NewMemory(opts Options) *Memory {
	return &Memory{
		opts:  opts.withDefaults(),
		byKey: make(map[lockKey]*model.ExecutionLock),
		byID:  make(map[string]lockKey),
	}
}

func (m *Memory) Acquire(_ context.Context, sessionID, scraperID string, urls []string) (*model.ExecutionLock, error) {
	if err := validateKey(sessionID, scraperID); err != nil {
		return nil, err
	}
	now := m.opts.NowFunc()
	key := lockKey{sessionID, scraperID}

	m.mu.Lock()
	defer m.mu.Unlock()
	if held, ok := m.byKey[key]; ok {
		if !held.Expired(now) {
			return nil, nil
		}
		m.dropLocked(held.ID)
	}
	l := newLock(sessionID, scraperID, urls, now, m.opts.TTL)
	m.byKey[key] = l
	m.byID[l.ID] = key
	cp := *l
	return &cp, nil
}

func (m *Memory) Release(_ context.Context, lockID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key, ok := m.byID[lockID]
	if !ok {
		return false, nil
	}
	live := !m.byKey[key].Expired(m.opts.NowFunc())
	m.dropLocked(lockID)
	return live, nil
}

func (m *Memory) ReleaseSession(_ context.Context, sessionID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for key, l := range m.byKey {
		if key.sessionID == sessionID {
			m.dropLocked(l.ID)
			n++
		}
	}
	return n, nil
}

func (m *Memory) Sweep(context.Context) (int, error) {
	now := m.opts.NowFunc()
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, l := range m.byKey {
		if l.Expired(now) {
			m.dropLocked(l.ID)
			n++
		}
	}
	return n, nil
}

func (m *Memory) dropLocked(lockID string) {
	key, ok := m.byID[lockID]
	if !ok {
		return
	}
	delete(m.byID, lockID)
	if l, ok := m.byKey[key]; ok && l.ID == lockID {
		delete(m.byKey, key)
	}
}
