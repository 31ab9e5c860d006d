package store

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/research-pipeline/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	return NewPostgresWithPool(mock), mock
}

func sessionRow(t *testing.T, sess *model.ResearchSession) []byte {
	t.Helper()
	data, err := json.Marshal(sess)
	require.NoError(t, err)
	return data
}

func TestPostgresStore_Migrate(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS research_sessions`).
		WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateSession(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	sess := newSession("acme.com")

	mock.ExpectExec(`INSERT INTO research_sessions`).
		WithArgs(pgxmock.AnyArg(), "", "acme.com", "INITIALIZED", int64(0), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.CreateSession(context.Background(), sess))
	assert.NotEmpty(t, sess.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateSession_Duplicate(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`INSERT INTO research_sessions`).
		WillReturnError(&pgconn.PgError{Code: "23505"})

	err := s.CreateSession(context.Background(), newSession("acme.com"))
	assert.True(t, errors.Is(err, model.ErrValidation))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSession_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectQuery(`SELECT data, version FROM research_sessions WHERE id = \$1`).
		WithArgs("nope").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetSession(context.Background(), "nope")
	assert.True(t, errors.Is(err, model.ErrNotFound))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetSession_UsesVersionColumn(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	stored := newSession("acme.com")
	stored.ID = "s1"
	stored.Version = 0

	mock.ExpectQuery(`SELECT data, version FROM research_sessions WHERE id = \$1`).
		WithArgs("s1").
		WillReturnRows(pgxmock.NewRows([]string{"data", "version"}).AddRow(sessionRow(t, stored), int64(7)))

	got, err := s.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, int64(7), got.Version)
	assert.Equal(t, "acme.com", got.Domain)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateSession(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	stored := newSession("acme.com")
	stored.ID = "s1"

	mock.ExpectQuery(`SELECT data, version FROM research_sessions WHERE id = \$1`).
		WithArgs("s1").
		WillReturnRows(pgxmock.NewRows([]string{"data", "version"}).AddRow(sessionRow(t, stored), int64(2)))
	mock.ExpectExec(`UPDATE research_sessions SET status = \$1, version = version \+ 1, data = \$2, updated_at = \$3 WHERE id = \$4 AND version = \$5`).
		WithArgs("IN_PROGRESS", pgxmock.AnyArg(), pgxmock.AnyArg(), "s1", int64(2)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	status := model.SessionStatusInProgress
	got, err := s.UpdateSession(context.Background(), "s1", model.SessionPatch{Status: &status}, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), got.Version)
	assert.Equal(t, status, got.Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateSession_StaleRead(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	stored := newSession("acme.com")

	mock.ExpectQuery(`SELECT data, version FROM research_sessions`).
		WithArgs("s1").
		WillReturnRows(pgxmock.NewRows([]string{"data", "version"}).AddRow(sessionRow(t, stored), int64(5)))

	_, err := s.UpdateSession(context.Background(), "s1", model.SessionPatch{}, 4)
	assert.True(t, errors.Is(err, model.ErrVersionConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateSession_LostRace(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	stored := newSession("acme.com")

	mock.ExpectQuery(`SELECT data, version FROM research_sessions`).
		WithArgs("s1").
		WillReturnRows(pgxmock.NewRows([]string{"data", "version"}).AddRow(sessionRow(t, stored), int64(1)))
	mock.ExpectExec(`UPDATE research_sessions`).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	_, err := s.UpdateSession(context.Background(), "s1", model.SessionPatch{}, 1)
	assert.True(t, errors.Is(err, model.ErrVersionConflict))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetOrCreateUserSession_Existing(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	existing := newSession("acme.com")
	existing.ID = "existing"
	existing.OwnerID = "u1"

	mock.ExpectExec(`INSERT INTO research_sessions .* ON CONFLICT DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(`SELECT data, version FROM research_sessions WHERE owner_id = \$1 AND domain = \$2`).
		WithArgs("u1", "acme.com").
		WillReturnRows(pgxmock.NewRows([]string{"data", "version"}).AddRow(sessionRow(t, existing), int64(3)))

	seed := newSession("acme.com")
	seed.OwnerID = "u1"
	got, created, err := s.GetOrCreateUserSession(context.Background(), seed)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, "existing", got.ID)
	assert.Equal(t, int64(3), got.Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetOrCreateUserSession_Created(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	mock.ExpectExec(`INSERT INTO research_sessions .* ON CONFLICT DO NOTHING`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	seed := newSession("acme.com")
	seed.OwnerID = "u1"
	got, created, err := s.GetOrCreateUserSession(context.Background(), seed)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, seed.ID, got.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListSessions(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	a := newSession("a.com")
	b := newSession("b.com")

	mock.ExpectQuery(`SELECT data, version FROM research_sessions WHERE owner_id = \$1 AND status = \$2 ORDER BY created_at DESC LIMIT \$3 OFFSET \$4`).
		WithArgs("u1", "COMPLETED", 10, 0).
		WillReturnRows(pgxmock.NewRows([]string{"data", "version"}).
			AddRow(sessionRow(t, a), int64(1)).
			AddRow(sessionRow(t, b), int64(4)))

	got, err := s.ListSessions(context.Background(), SessionFilter{OwnerID: "u1", Status: model.SessionStatusCompleted, Limit: 10})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(4), got[1].Version)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListSessions_Unowned(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT data, version FROM research_sessions WHERE COALESCE\(owner_id, ''\) = '' ORDER BY created_at DESC LIMIT \$1 OFFSET \$2`).
		WithArgs(100, 0).
		WillReturnRows(pgxmock.NewRows([]string{"data", "version"}).
			AddRow(sessionRow(t, newSession("a.com")), int64(1)))

	got, err := s.ListSessions(context.Background(), SessionFilter{Unowned: true})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveIntelligence(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	now := time.Now().UTC()
	intel := &model.ExternalIntelligence{
		Summary: model.IntelligenceSummary{SessionID: "s1", Completeness: 55, LastUpdated: now},
		Records: map[model.EnrichmentCategory]model.EnrichmentRecord{
			model.CategorySocial: {Category: model.CategorySocial, Present: true, FetchedAt: now},
		},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO enrichment_summaries`).
		WithArgs("s1", 55.0, pgxmock.AnyArg(), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec(`INSERT INTO enrichment_records`).
		WithArgs("s1", "social", true, pgxmock.AnyArg(), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.SaveIntelligence(context.Background(), intel))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_SaveIntelligence_RollsBack(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	intel := &model.ExternalIntelligence{Summary: model.IntelligenceSummary{SessionID: "s1"}}

	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO enrichment_summaries`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := s.SaveIntelligence(context.Background(), intel)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upsert summary")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetIntelligence(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	summary, _ := json.Marshal(model.IntelligenceSummary{SessionID: "s1", Completeness: 40})
	rec, _ := json.Marshal(model.EnrichmentRecord{Category: model.CategoryNews, Present: true})

	mock.ExpectQuery(`SELECT data FROM enrichment_summaries WHERE session_id = \$1`).
		WithArgs("s1").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(summary))
	mock.ExpectQuery(`SELECT data FROM enrichment_records WHERE session_id = \$1`).
		WithArgs("s1").
		WillReturnRows(pgxmock.NewRows([]string{"data"}).AddRow(rec))

	got, err := s.GetIntelligence(context.Background(), "s1")
	require.NoError(t, err)
	assert.InDelta(t, 40.0, got.Summary.Completeness, 0.001)
	assert.True(t, got.Records[model.CategoryNews].Present)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CloseWithoutOwnedPool(t *testing.T) {
	s, _ := newMockPostgresStore(t)
	assert.NoError(t, s.Close())
}
