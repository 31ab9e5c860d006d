package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/sells-group/research-pipeline/internal/db"
	"github.com/sells-group/research-pipeline/internal/model"
)

// PostgresStore implements Store on postgres via pgx.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// NewPostgres connects a pool and returns a PostgresStore that owns it.
func NewPostgres(ctx context.Context, connString string, poolCfg *db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, poolCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool returns a PostgresStore on an existing pool. Close does
// not close the pool.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying pool so the lock manager can share it.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS research_sessions (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL DEFAULT '',
	domain     TEXT NOT NULL,
	status     TEXT NOT NULL,
	version    BIGINT NOT NULL DEFAULT 0,
	data       JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_research_sessions_owner_domain_active
	ON research_sessions(owner_id, domain)
	WHERE owner_id <> '' AND status NOT IN ('COMPLETED', 'ABORTED', 'FAILED');
CREATE INDEX IF NOT EXISTS idx_research_sessions_status ON research_sessions(status);
CREATE INDEX IF NOT EXISTS idx_research_sessions_created_at ON research_sessions(created_at DESC);

CREATE TABLE IF NOT EXISTS enrichment_summaries (
	session_id   TEXT PRIMARY KEY REFERENCES research_sessions(id) ON DELETE CASCADE,
	completeness DOUBLE PRECISION NOT NULL,
	data         JSONB NOT NULL,
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS enrichment_records (
	session_id TEXT NOT NULL REFERENCES research_sessions(id) ON DELETE CASCADE,
	category   TEXT NOT NULL,
	present    BOOLEAN NOT NULL,
	data       JSONB NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (session_id, category)
);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateSession(ctx context.Context, sess *model.ResearchSession) error {
	prepareNew(sess, time.Now().UTC())
	data, err := json.Marshal(sess)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal session")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO research_sessions (id, owner_id, domain, status, version, data, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sess.ID, sess.OwnerID, sess.Domain, string(sess.Status), sess.Version, data, sess.CreatedAt, sess.UpdatedAt,
	)
	if db.IsUniqueViolation(err) {
		return model.Validationf("session %s already exists", sess.ID)
	}
	return eris.Wrap(err, "postgres: create session")
}

func (s *PostgresStore) GetSession(ctx context.Context, id string) (*model.ResearchSession, error) {
	row := s.pool.QueryRow(ctx, `SELECT data, version FROM research_sessions WHERE id = $1`, id)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get session %s", id)
	}
	return sess, nil
}

func (s *PostgresStore) GetOrCreateUserSession(ctx context.Context, seed *model.ResearchSession) (*model.ResearchSession, bool, error) {
	if seed.OwnerID == "" || seed.Domain == "" {
		return nil, false, model.Validationf("owner and domain are required")
	}
	prepareNew(seed, time.Now().UTC())
	data, err := json.Marshal(seed)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: marshal session")
	}

	tag, err := s.pool.Exec(ctx,
		`INSERT INTO research_sessions (id, owner_id, domain, status, version, data, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8) ON CONFLICT DO NOTHING`,
		seed.ID, seed.OwnerID, seed.Domain, string(seed.Status), seed.Version, data, seed.CreatedAt, seed.UpdatedAt,
	)
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: insert user session")
	}
	if tag.RowsAffected() == 1 {
		return seed.Clone(), true, nil
	}

	row := s.pool.QueryRow(ctx,
		`SELECT data, version FROM research_sessions WHERE owner_id = $1 AND domain = $2 AND status NOT IN ('COMPLETED', 'ABORTED', 'FAILED') ORDER BY created_at DESC LIMIT 1`,
		seed.OwnerID, seed.Domain,
	)
	sess, err := scanSession(row)
	if errors.Is(err, pgx.ErrNoRows) {
		// The conflicting session went terminal between insert and select.
		return nil, false, model.NewError(model.ErrVersionConflict, seed.ID, eris.New("active session changed concurrently"))
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: get user session")
	}
	return sess, false, nil
}

func (s *PostgresStore) UpdateSession(ctx context.Context, id string, patch model.SessionPatch, expectedVersion int64) (*model.ResearchSession, error) {
	cur, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur.Version != expectedVersion {
		return nil, conflict(id, expectedVersion, cur.Version)
	}

	next := applyPatch(cur, patch, time.Now().UTC())
	data, err := json.Marshal(next)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal session")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE research_sessions SET status = $1, version = version + 1, data = $2, updated_at = $3 WHERE id = $4 AND version = $5`,
		string(next.Status), data, next.UpdatedAt, id, expectedVersion,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: update session %s", id)
	}
	if tag.RowsAffected() == 0 {
		return nil, conflict(id, expectedVersion, expectedVersion+1)
	}
	return next, nil
}

func (s *PostgresStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.ResearchSession, error) {
	query, args := buildListQuery(filter, func(n int) string { return fmt.Sprintf("$%d", n) })
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list sessions")
	}
	defer rows.Close()

	out := []model.ResearchSession{}
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan session")
		}
		out = append(out, *sess)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list sessions rows")
}

func (s *PostgresStore) SaveIntelligence(ctx context.Context, intel *model.ExternalIntelligence) error {
	if intel == nil || intel.Summary.SessionID == "" {
		return model.Validationf("intelligence summary requires a session id")
	}
	summary, err := json.Marshal(intel.Summary)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal summary")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin save intelligence")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	_, err = tx.Exec(ctx,
		`INSERT INTO enrichment_summaries (session_id, completeness, data, updated_at) VALUES ($1, $2, $3, $4) ON CONFLICT (session_id) DO UPDATE SET completeness = EXCLUDED.completeness, data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		intel.Summary.SessionID, intel.Summary.Completeness, summary, intel.Summary.LastUpdated,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: upsert summary")
	}

	for _, cat := range model.AllCategories() {
		rec, ok := intel.Records[cat]
		if !ok {
			continue
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal %s record", cat)
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO enrichment_records (session_id, category, present, data, fetched_at) VALUES ($1, $2, $3, $4, $5) ON CONFLICT (session_id, category) DO UPDATE SET present = EXCLUDED.present, data = EXCLUDED.data, fetched_at = EXCLUDED.fetched_at`,
			intel.Summary.SessionID, string(cat), rec.Present, data, rec.FetchedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: upsert %s record", cat)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit save intelligence")
}

func (s *PostgresStore) GetIntelligence(ctx context.Context, sessionID string) (*model.ExternalIntelligence, error) {
	var summary []byte
	err := s.pool.QueryRow(ctx, `SELECT data FROM enrichment_summaries WHERE session_id = $1`, sessionID).Scan(&summary)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, notFound(sessionID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get summary")
	}

	out := &model.ExternalIntelligence{Records: make(map[model.EnrichmentCategory]model.EnrichmentRecord)}
	if err := json.Unmarshal(summary, &out.Summary); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal summary")
	}

	rows, err := s.pool.Query(ctx, `SELECT data FROM enrichment_records WHERE session_id = $1`, sessionID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get records")
	}
	defer rows.Close()
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		var rec model.EnrichmentRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal record")
		}
		out.Records[rec.Category] = rec
	}
	return out, eris.Wrap(rows.Err(), "postgres: records rows")
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*model.ResearchSession, error) {
	var (
		data    []byte
		version int64
	)
	if err := row.Scan(&data, &version); err != nil {
		return nil, err
	}
	var sess model.ResearchSession
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, eris.Wrap(err, "unmarshal session")
	}
	sess.Version = version
	return &sess, nil
}

// buildListQuery renders the ListSessions query using placeholder for the
// nth bind parameter.
func buildListQuery(f SessionFilter, placeholder func(n int) string) (string, []any) {
	var (
		where []string
		args  []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(clause, placeholder(len(args))))
	}
	if f.OwnerID != "" {
		add("owner_id = %s", f.OwnerID)
	} else if f.Unowned {
		where = append(where, "COALESCE(owner_id, '') = ''")
	}
	if f.Domain != "" {
		add("domain = %s", f.Domain)
	}
	if f.Status != "" {
		add("status = %s", string(f.Status))
	}

	var b strings.Builder
	b.WriteString("SELECT data, version FROM research_sessions")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	limit, offset := pageBounds(f)
	args = append(args, limit)
	fmt.Fprintf(&b, " ORDER BY created_at DESC LIMIT %s", placeholder(len(args)))
	args = append(args, offset)
	fmt.Fprintf(&b, " OFFSET %s", placeholder(len(args)))
	return b.String(), args
}
