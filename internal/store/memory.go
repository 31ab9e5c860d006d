package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sells-group/research-pipeline/internal/model"
)

// MemoryStore implements Store in process memory. It backs tests and
// single-process development runs.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*model.ResearchSession
	intel    map[string]*model.ExternalIntelligence
	nowFunc  func() time.Time
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*model.ResearchSession),
		intel:    make(map[string]*model.ExternalIntelligence),
		nowFunc:  func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) CreateSession(_ context.Context, sess *model.ResearchSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.insertLocked(sess)
}

func (s *MemoryStore) insertLocked(sess *model.ResearchSession) error {
	prepareNew(sess, s.nowFunc())
	if _, ok := s.sessions[sess.ID]; ok {
		return model.Validationf("session %s already exists", sess.ID)
	}
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

func (s *MemoryStore) GetSession(_ context.Context, id string) (*model.ResearchSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, notFound(id)
	}
	return sess.Clone(), nil
}

func (s *MemoryStore) GetOrCreateUserSession(_ context.Context, seed *model.ResearchSession) (*model.ResearchSession, bool, error) {
	if seed.OwnerID == "" || seed.Domain == "" {
		return nil, false, model.Validationf("owner and domain are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var found *model.ResearchSession
	for _, sess := range s.sessions {
		if sess.OwnerID != seed.OwnerID || sess.Domain != seed.Domain || sess.Status.Terminal() {
			continue
		}
		if found == nil || sess.CreatedAt.After(found.CreatedAt) {
			found = sess
		}
	}
	if found != nil {
		return found.Clone(), false, nil
	}
	if err := s.insertLocked(seed); err != nil {
		return nil, false, err
	}
	return seed.Clone(), true, nil
}

func (s *MemoryStore) UpdateSession(_ context.Context, id string, patch model.SessionPatch, expectedVersion int64) (*model.ResearchSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.sessions[id]
	if !ok {
		return nil, notFound(id)
	}
	if cur.Version != expectedVersion {
		return nil, conflict(id, expectedVersion, cur.Version)
	}
	next := applyPatch(cur, patch, s.nowFunc())
	s.sessions[id] = next
	return next.Clone(), nil
}

func (s *MemoryStore) ListSessions(_ context.Context, filter SessionFilter) ([]model.ResearchSession, error) {
	s.mu.Lock()
	all := make([]model.ResearchSession, 0, len(s.sessions))
	for _, sess := range s.sessions {
		if matchesFilter(sess, filter) {
			all = append(all, *sess.Clone())
		}
	}
	s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	limit, offset := pageBounds(filter)
	if offset >= len(all) {
		return []model.ResearchSession{}, nil
	}
	all = all[offset:]
	if len(all) > limit {
		all = all[:limit]
	}
	return all, nil
}

func (s *MemoryStore) SaveIntelligence(_ context.Context, intel *model.ExternalIntelligence) error {
	if intel == nil || intel.Summary.SessionID == "" {
		return model.Validationf("intelligence summary requires a session id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intel[intel.Summary.SessionID] = cloneIntel(intel)
	return nil
}

func (s *MemoryStore) GetIntelligence(_ context.Context, sessionID string) (*model.ExternalIntelligence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	intel, ok := s.intel[sessionID]
	if !ok {
		return nil, notFound(sessionID)
	}
	return cloneIntel(intel), nil
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }

func cloneIntel(in *model.ExternalIntelligence) *model.ExternalIntelligence {
	out := &model.ExternalIntelligence{
		Summary: in.Summary,
		Records: make(map[model.EnrichmentCategory]model.EnrichmentRecord, len(in.Records)),
	}
	out.Summary.Populated = append([]model.EnrichmentCategory(nil), in.Summary.Populated...)
	out.Summary.Failed = append([]model.EnrichmentCategory(nil), in.Summary.Failed...)
	for k, v := range in.Records {
		v.Payload = append([]byte(nil), v.Payload...)
		out.Records[k] = v
	}
	return out
}
