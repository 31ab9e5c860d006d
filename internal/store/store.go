// Package store persists research sessions and enrichment results. Every
// session write is a compare-and-swap on the session version.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/research-pipeline/internal/model"
)

// SessionFilter specifies criteria for listing sessions.
type SessionFilter struct {
	OwnerID string              `json:"owner_id,omitempty"`
	Unowned bool                `json:"unowned,omitempty"` // only sessions without an owner; ignored when OwnerID is set
	Domain  string              `json:"domain,omitempty"`
	Status  model.SessionStatus `json:"status,omitempty"`
	Limit   int                 `json:"limit,omitempty"`
	Offset  int                 `json:"offset,omitempty"`
}

// Store defines the persistence interface for the research pipeline.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context, sess *model.ResearchSession) error
	GetSession(ctx context.Context, id string) (*model.ResearchSession, error)
	GetOrCreateUserSession(ctx context.Context, seed *model.ResearchSession) (*model.ResearchSession, bool, error)
	UpdateSession(ctx context.Context, id string, patch model.SessionPatch, expectedVersion int64) (*model.ResearchSession, error)
	ListSessions(ctx context.Context, filter SessionFilter) ([]model.ResearchSession, error)

	// External intelligence
	SaveIntelligence(ctx context.Context, intel *model.ExternalIntelligence) error
	GetIntelligence(ctx context.Context, sessionID string) (*model.ExternalIntelligence, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// prepareNew fills the server-assigned fields of a session about to be
// inserted.
func prepareNew(sess *model.ResearchSession, now time.Time) {
	if sess.ID == "" {
		sess.ID = uuid.New().String()
	}
	if sess.Status == "" {
		sess.Status = model.SessionStatusInitialized
	}
	if sess.MergedData.Pages == nil {
		sess.MergedData = model.NewMergedDataset()
	}
	if sess.DiscoveredURLs == nil {
		sess.DiscoveredURLs = []string{}
	}
	sess.Version = 0
	sess.CreatedAt = now
	sess.UpdatedAt = now
}

// applyPatch returns a copy of cur with patch applied and the version bumped.
func applyPatch(cur *model.ResearchSession, patch model.SessionPatch, now time.Time) *model.ResearchSession {
	next := cur.Clone()
	patch.Apply(next)
	next.Version = cur.Version + 1
	next.UpdatedAt = now
	return next
}

func notFound(id string) error {
	return model.NewError(model.ErrNotFound, id, nil)
}

func conflict(id string, expected, actual int64) error {
	return model.NewError(model.ErrVersionConflict, id,
		eris.Errorf("expected version %d, stored version %d", expected, actual))
}

func pageBounds(f SessionFilter) (limit, offset int) {
	limit = f.Limit
	if limit <= 0 {
		limit = 100
	}
	offset = f.Offset
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func matchesFilter(s *model.ResearchSession, f SessionFilter) bool {
	if f.OwnerID != "" && s.OwnerID != f.OwnerID {
		return false
	}
	if f.OwnerID == "" && f.Unowned && s.OwnerID != "" {
		return false
	}
	if f.Domain != "" && s.Domain != f.Domain {
		return false
	}
	if f.Status != "" && s.Status != f.Status {
		return false
	}
	return true
}
