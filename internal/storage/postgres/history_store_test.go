package postgres

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/weirdhost-renewer/internal/renew"
)

func sampleRun() renew.Run {
	start := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	return renew.Run{
		ID:         "0190c0de-0000-7000-8000-000000000001",
		StartedAt:  start,
		FinishedAt: start.Add(12 * time.Second),
		Outcomes: []renew.Outcome{
			{Status: renew.StatusSuccess, ServerID: "abc123", ExpiryBefore: "2025-01-02 10:00:00", ExpiryAfter: "2025-01-03 10:00:00"},
			{Status: renew.StatusClickError, ServerID: "def456", Error: "detached"},
		},
	}
}

func TestSaveRunInsertsRunAndOutcomes(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewHistoryStoreWithPool(mock, "", "")
	require.NoError(t, err)

	run := sampleRun()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO renewal_runs").
		WithArgs(run.ID, run.StartedAt, run.FinishedAt, false).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO renewal_outcomes").
		WithArgs(run.ID, 0, "abc123", "success", "", "2025-01-02 10:00:00", "2025-01-03 10:00:00").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("INSERT INTO renewal_outcomes").
		WithArgs(run.ID, 1, "def456", "click_error", "detached", "", "").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, store.SaveRun(context.Background(), run))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveRunRollsBackOnFailure(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewHistoryStoreWithPool(mock, "runs", "outcomes")
	require.NoError(t, err)

	run := sampleRun()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO runs").
		WithArgs(run.ID, run.StartedAt, run.FinishedAt, false).
		WillReturnError(errors.New("duplicate key"))
	mock.ExpectRollback()

	err = store.SaveRun(context.Background(), run)
	require.ErrorContains(t, err, "insert run")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMigrateCreatesTables(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewHistoryStoreWithPool(mock, "", "")
	require.NoError(t, err)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS renewal_runs").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS renewal_outcomes").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("ALTER TABLE renewal_outcomes").WillReturnResult(pgxmock.NewResult("ALTER", 0))

	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewHistoryStoreValidation(t *testing.T) {
	t.Parallel()

	_, err := NewHistoryStoreWithPool(nil, "", "")
	require.Error(t, err)

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	_, err = NewHistoryStoreWithPool(mock, "runs; DROP TABLE x", "")
	require.Error(t, err)

	_, err = NewHistoryStore(context.Background(), Config{})
	require.Error(t, err)

	var nilStore *HistoryStore
	require.Error(t, nilStore.SaveRun(context.Background(), sampleRun()))
	require.NoError(t, nilStore.Close())
}

func TestSaveRunRequiresID(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store, err := NewHistoryStoreWithPool(mock, "", "")
	require.NoError(t, err)

	require.Error(t, store.SaveRun(context.Background(), renew.Run{}))
}
