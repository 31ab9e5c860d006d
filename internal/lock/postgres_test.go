package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockPostgres(t *testing.T) (*Postgres, pgxmock.PgxPoolIface, *fakeClock) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })
	clock := newFakeClock()
	return NewPostgres(mock, Options{TTL: 30 * time.Minute, NowFunc: clock.Now}), mock, clock
}

func TestPostgres_Migrate(t *testing.T) {
	p, mock, _ := newMockPostgres(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS execution_locks`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	require.NoError(t, p.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Acquire(t *testing.T) {
	p, mock, clock := newMockPostgres(t)
	now := clock.Now()

	mock.ExpectExec(`INSERT INTO execution_locks .* ON CONFLICT \(session_id, scraper_id\) DO UPDATE .* WHERE execution_locks.expires_at <= EXCLUDED.acquired_at`).
		WithArgs(pgxmock.AnyArg(), "s1", "static", []byte(`["https://u1.example"]`), now, now.Add(30*time.Minute)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	l, err := p.Acquire(context.Background(), "s1", "static", []string{"https://u1.example"})
	require.NoError(t, err)
	require.NotNil(t, l)
	assert.Equal(t, now.Add(30*time.Minute), l.ExpiresAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Acquire_Held(t *testing.T) {
	p, mock, _ := newMockPostgres(t)
	mock.ExpectExec(`INSERT INTO execution_locks`).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	l, err := p.Acquire(context.Background(), "s1", "static", nil)
	require.NoError(t, err)
	assert.Nil(t, l)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Acquire_Error(t *testing.T) {
	p, mock, _ := newMockPostgres(t)
	mock.ExpectExec(`INSERT INTO execution_locks`).WillReturnError(errors.New("conn refused"))

	_, err := p.Acquire(context.Background(), "s1", "static", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres lock: acquire s1/static")
}

func TestPostgres_Release(t *testing.T) {
	p, mock, clock := newMockPostgres(t)
	mock.ExpectExec(`DELETE FROM execution_locks WHERE id = \$1 AND expires_at > \$2`).
		WithArgs("lock-1", clock.Now()).
		WillReturnResult(pgxmock.NewResult("DELETE", 1))
	mock.ExpectExec(`DELETE FROM execution_locks WHERE id = \$1`).
		WithArgs("lock-1", clock.Now()).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))

	ok, err := p.Release(context.Background(), "lock-1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.Release(context.Background(), "lock-1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ReleaseSessionAndSweep(t *testing.T) {
	p, mock, clock := newMockPostgres(t)
	mock.ExpectExec(`DELETE FROM execution_locks WHERE session_id = \$1`).
		WithArgs("s1").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))
	mock.ExpectExec(`DELETE FROM execution_locks WHERE expires_at <= \$1`).
		WithArgs(clock.Now()).
		WillReturnResult(pgxmock.NewResult("DELETE", 3))

	n, err := p.ReleaseSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = p.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.NoError(t, mock.ExpectationsWereMet())
}
