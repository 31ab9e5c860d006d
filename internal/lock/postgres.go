package lock

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/sells-group/research-pipeline/internal/db"
	"github.com/sells-group/research-pipeline/internal/model"
)

// Postgres keeps locks in a table with one row per (session, scraper). An
// expired row is taken over in place by the next acquirer.
type Postgres struct {
	pool db.Pool
	opts Options
}

// NewPostgres returns a Manager on pool. The pool is not closed by the
// manager.
func NewPostgres(pool db.Pool, opts Options) *Postgres {
	return &Postgres{pool: pool, opts: opts.withDefaults()}
}

const postgresLockMigration = `
CREATE TABLE IF NOT EXISTS execution_locks (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	scraper_id  TEXT NOT NULL,
	target_urls JSONB NOT NULL DEFAULT '[]',
	acquired_at TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ NOT NULL,
	UNIQUE (session_id, scraper_id)
);

CREATE INDEX IF NOT EXISTS idx_execution_locks_expires_at ON execution_locks(expires_at);
`

// Migrate creates the lock table.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, postgresLockMigration)
	return eris.Wrap(err, "postgres lock: migrate")
}

func (p *Postgres) Acquire(ctx context.Context, sessionID, scraperID string, urls []string) (*model.ExecutionLock, error) {
	if err := validateKey(sessionID, scraperID); err != nil {
		return nil, err
	}
	l := newLock(sessionID, scraperID, urls, p.opts.NowFunc(), p.opts.TTL)
	targets, err := json.Marshal(l.TargetURLs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres lock: marshal urls")
	}

	tag, err := p.pool.Exec(ctx,
		`INSERT INTO execution_locks (id, session_id, scraper_id, target_urls, acquired_at, expires_at) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (session_id, scraper_id) DO UPDATE
		SET id = EXCLUDED.id, target_urls = EXCLUDED.target_urls, acquired_at = EXCLUDED.acquired_at, expires_at = EXCLUDED.expires_at
		WHERE execution_locks.expires_at <= EXCLUDED.acquired_at`,
		l.ID, sessionID, scraperID, targets, l.AcquiredAt, l.ExpiresAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres lock: acquire %s/%s", sessionID, scraperID)
	}
	if tag.RowsAffected() == 0 {
		return nil, nil
	}
	return l, nil
}

func (p *Postgres) Release(ctx context.Context, lockID string) (bool, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM execution_locks WHERE id = $1 AND expires_at > $2`,
		lockID, p.opts.NowFunc(),
	)
	if err != nil {
		return false, eris.Wrapf(err, "postgres lock: release %s", lockID)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) ReleaseSession(ctx context.Context, sessionID string) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM execution_locks WHERE session_id = $1`, sessionID)
	if err != nil {
		return 0, eris.Wrapf(err, "postgres lock: release session %s", sessionID)
	}
	return int(tag.RowsAffected()), nil
}

func (p *Postgres) Sweep(ctx context.Context) (int, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM execution_locks WHERE expires_at <= $1`, p.opts.NowFunc())
	if err != nil {
		return 0, eris.Wrap(err, "postgres lock: sweep")
	}
	return int(tag.RowsAffected()), nil
}
