package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/research-pipeline/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	// One connection serializes writers and keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS research_sessions (
	id         TEXT PRIMARY KEY,
	owner_id   TEXT NOT NULL DEFAULT '',
	domain     TEXT NOT NULL,
	status     TEXT NOT NULL,
	version    INTEGER NOT NULL DEFAULT 0,
	data       TEXT NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_research_sessions_owner_domain_active
	ON research_sessions(owner_id, domain)
	WHERE owner_id <> '' AND status NOT IN ('COMPLETED', 'ABORTED', 'FAILED');
CREATE INDEX IF NOT EXISTS idx_research_sessions_status ON research_sessions(status);

CREATE TABLE IF NOT EXISTS enrichment_summaries (
	session_id   TEXT PRIMARY KEY REFERENCES research_sessions(id) ON DELETE CASCADE,
	completeness REAL NOT NULL,
	data         TEXT NOT NULL,
	updated_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS enrichment_records (
	session_id TEXT NOT NULL REFERENCES research_sessions(id) ON DELETE CASCADE,
	category   TEXT NOT NULL,
	present    INTEGER NOT NULL,
	data       TEXT NOT NULL,
	fetched_at DATETIME NOT NULL,
	PRIMARY KEY (session_id, category)
);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess *model.ResearchSession) error {
	prepareNew(sess, time.Now().UTC())
	data, err := json.Marshal(sess)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal session")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO research_sessions (id, owner_id, domain, status, version, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.OwnerID, sess.Domain, string(sess.Status), sess.Version, string(data), sess.CreatedAt, sess.UpdatedAt,
	)
	if err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed") {
		return model.Validationf("session %s already exists", sess.ID)
	}
	return eris.Wrap(err, "sqlite: create session")
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*model.ResearchSession, error) {
	row := s.db.QueryRowContext(ctx, `SELECT data, version FROM research_sessions WHERE id = ?`, id)
	sess, err := scanSQLiteSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get session %s", id)
	}
	return sess, nil
}

func (s *SQLiteStore) GetOrCreateUserSession(ctx context.Context, seed *model.ResearchSession) (*model.ResearchSession, bool, error) {
	if seed.OwnerID == "" || seed.Domain == "" {
		return nil, false, model.Validationf("owner and domain are required")
	}
	prepareNew(seed, time.Now().UTC())
	data, err := json.Marshal(seed)
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: marshal session")
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO research_sessions (id, owner_id, domain, status, version, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT DO NOTHING`,
		seed.ID, seed.OwnerID, seed.Domain, string(seed.Status), seed.Version, string(data), seed.CreatedAt, seed.UpdatedAt,
	)
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: insert user session")
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return seed.Clone(), true, nil
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT data, version FROM research_sessions WHERE owner_id = ? AND domain = ? AND status NOT IN ('COMPLETED', 'ABORTED', 'FAILED') ORDER BY created_at DESC LIMIT 1`,
		seed.OwnerID, seed.Domain,
	)
	sess, err := scanSQLiteSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, model.NewError(model.ErrVersionConflict, seed.ID, eris.New("active session changed concurrently"))
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: get user session")
	}
	return sess, false, nil
}

func (s *SQLiteStore) UpdateSession(ctx context.Context, id string, patch model.SessionPatch, expectedVersion int64) (*model.ResearchSession, error) {
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
		return nil, eris.Wrap(err, "sqlite: marshal session")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE research_sessions SET status = ?, version = version + 1, data = ?, updated_at = ? WHERE id = ? AND version = ?`,
		string(next.Status), string(data), next.UpdatedAt, id, expectedVersion,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: update session %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return nil, conflict(id, expectedVersion, expectedVersion+1)
	}
	return next, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, filter SessionFilter) ([]model.ResearchSession, error) {
	query, args := buildListQuery(filter, func(int) string { return "?" })
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list sessions")
	}
	defer rows.Close()

	out := []model.ResearchSession{}
	for rows.Next() {
		sess, err := scanSQLiteSession(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan session")
		}
		out = append(out, *sess)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list sessions rows")
}

func (s *SQLiteStore) SaveIntelligence(ctx context.Context, intel *model.ExternalIntelligence) error {
	if intel == nil || intel.Summary.SessionID == "" {
		return model.Validationf("intelligence summary requires a session id")
	}
	summary, err := json.Marshal(intel.Summary)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal summary")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save intelligence")
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx,
		`INSERT INTO enrichment_summaries (session_id, completeness, data, updated_at) VALUES (?, ?, ?, ?) ON CONFLICT (session_id) DO UPDATE SET completeness = excluded.completeness, data = excluded.data, updated_at = excluded.updated_at`,
		intel.Summary.SessionID, intel.Summary.Completeness, string(summary), intel.Summary.LastUpdated,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: upsert summary")
	}

	for _, cat := range model.AllCategories() {
		rec, ok := intel.Records[cat]
		if !ok {
			continue
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal %s record", cat)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO enrichment_records (session_id, category, present, data, fetched_at) VALUES (?, ?, ?, ?, ?) ON CONFLICT (session_id, category) DO UPDATE SET present = excluded.present, data = excluded.data, fetched_at = excluded.fetched_at`,
			intel.Summary.SessionID, string(cat), rec.Present, string(data), rec.FetchedAt,
		)
		if err != nil {
			return eris.Wrapf(err, "sqlite: upsert %s record", cat)
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit save intelligence")
}

func (s *SQLiteStore) GetIntelligence(ctx context.Context, sessionID string) (*model.ExternalIntelligence, error) {
	var summary string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM enrichment_summaries WHERE session_id = ?`, sessionID).Scan(&summary)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, notFound(sessionID)
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get summary")
	}

	out := &model.ExternalIntelligence{Records: make(map[model.EnrichmentCategory]model.EnrichmentRecord)}
	if err := json.Unmarshal([]byte(summary), &out.Summary); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal summary")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT data FROM enrichment_records WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get records")
	}
	defer rows.Close()
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		var rec model.EnrichmentRecord
		if err := json.Unmarshal([]byte(data), &rec); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal record")
		}
		out.Records[rec.Category] = rec
	}
	return out, eris.Wrap(rows.Err(), "sqlite: records rows")
}

func scanSQLiteSession(row rowScanner) (*model.ResearchSession, error) {
	var (
		data    string
		version int64
	)
	if err := row.Scan(&data, &version); err != nil {
		return nil, err
	}
	var sess model.ResearchSession
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, eris.Wrap(err, "unmarshal session")
	}
	sess.Version = version
	return &sess, nil
}
