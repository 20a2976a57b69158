package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jtheoc80/permit-leads/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func testPermit() *model.Permit {
	issued := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return &model.Permit{
		Source:            "austin-issued-permits",
		SourceRecordID:    "2026-001234",
		CanonicalPermitID: "BP-2026-001234",
		IssuedAt:          &issued,
		Address:           "1100 Congress Ave",
		Jurisdiction:      "austin-tx",
		WorkType:          "roofing",
		TradeTags:         []string{"roofing"},
		RecordHash:        "abc123",
	}
}

func TestPostgresStore_UpsertPermit_Inserted(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	p := testPermit()

	mock.ExpectQuery(`INSERT INTO permits`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "inserted"}).AddRow(int64(42), true))

	res, err := s.UpsertPermit(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, int64(42), res.ID)
	assert.Equal(t, model.ActionInserted, res.Action)
	assert.False(t, res.Unchanged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertPermit_Updated(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	p := testPermit()

	mock.ExpectQuery(`INSERT INTO permits`).
		WillReturnRows(pgxmock.NewRows([]string{"id", "inserted"}).AddRow(int64(42), false))

	res, err := s.UpsertPermit(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, model.ActionUpdated, res.Action)
	assert.False(t, res.Unchanged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertPermit_UnchangedHash(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	p := testPermit()

	// Conditional update matched nothing, so the conflict row had the same
	// hash; the store falls back to a timestamp-only touch.
	mock.ExpectQuery(`INSERT INTO permits`).
		WillReturnError(pgx.ErrNoRows)
	mock.ExpectQuery(`UPDATE permits SET updated_at = now\(\)`).
		WithArgs(p.Source, p.SourceRecordID).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))

	res, err := s.UpsertPermit(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, int64(42), res.ID)
	assert.Equal(t, model.ActionUpdated, res.Action)
	assert.True(t, res.Unchanged)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateLead_DuplicateGuard(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	lead := &model.Lead{
		ID:               "lead-1",
		ExternalPermitID: "BP-2026-001234",
		Name:             "Jane Doe",
		LeadType:         model.LeadOwner,
		Status:           model.LeadNew,
	}

	mock.ExpectExec(`INSERT INTO leads`).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))

	created, err := s.CreateLead(context.Background(), lead)
	require.NoError(t, err)
	assert.False(t, created, "conflicting insert must report not-created")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateLead_AssignsID(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	lead := &model.Lead{
		ExternalPermitID: "BP-2026-001234",
		Name:             "Jane Doe",
		LeadType:         model.LeadOwner,
		Status:           model.LeadNew,
	}

	mock.ExpectExec(`INSERT INTO leads`).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	created, err := s.CreateLead(context.Background(), lead)
	require.NoError(t, err)
	assert.True(t, created)
	assert.NotEmpty(t, lead.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LastRun_NeverSynced(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT last_run FROM etl_state`).
		WithArgs("austin-issued-permits").
		WillReturnError(pgx.ErrNoRows)

	last, err := s.LastRun(context.Background(), "austin-issued-permits")
	require.NoError(t, err)
	assert.Nil(t, last)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CommitRun(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	runTime := time.Date(2026, 8, 30, 6, 0, 0, 0, time.UTC)

	mock.ExpectExec(`INSERT INTO etl_state .+ ON CONFLICT \(source\) DO UPDATE`).
		WithArgs("austin-issued-permits", runTime).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.CommitRun(context.Background(), "austin-issued-permits", runTime))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LockSource(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT pg_try_advisory_lock\(hashtext\(\$1\)\)`).
		WithArgs("austin-issued-permits").
		WillReturnRows(pgxmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	got, err := s.LockSource(context.Background(), "austin-issued-permits")
	require.NoError(t, err)
	assert.False(t, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetLeadByPermitID_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM leads WHERE external_permit_id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	lead, err := s.GetLeadByPermitID(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, lead)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_NextScoreVersion(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT COALESCE\(MAX\(version\), 0\) \+ 1 FROM lead_scores`).
		WithArgs("lead-1").
		WillReturnRows(pgxmock.NewRows([]string{"next"}).AddRow(3))

	next, err := s.NextScoreVersion(context.Background(), "lead-1")
	require.NoError(t, err)
	assert.Equal(t, 3, next)
	assert.NoError(t, mock.ExpectationsWereMet())
}
