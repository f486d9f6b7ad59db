package store_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asesmartice/floorwatch/internal/store"
)

func TestIsProcessed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := &store.Store{DB: db}

	mock.ExpectQuery("SELECT COUNT.1. FROM sessions").
		WithArgs("cam_patio", "camera_cam_patio_20260730_120000.mp4").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	processed, err := s.IsProcessed(context.Background(), "cam_patio", "camera_cam_patio_20260730_120000.mp4")
	require.NoError(t, err)
	assert.True(t, processed)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSession_UniqueConstraintSurfacesAsError(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := &store.Store{DB: db}

	mock.ExpectExec("INSERT INTO sessions").
		WillReturnError(sql.ErrTxDone) // stand-in for a UNIQUE constraint violation

	err = s.CreateSession(context.Background(), "sess-1", "cam_patio", "loc-1", "camera_cam_patio_20260730_120000.mp4", time.Now())
	require.Error(t, err)
}

func TestInsertDivisionEvents_BatchInsertsEachRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	events := []store.DivisionEvent{
		{SessionID: "sess-1", CameraID: "cam_patio", LocationID: "loc-1", FrameNumber: 1, State: "GREEN", TimestampRecorded: time.Now()},
		{SessionID: "sess-1", CameraID: "cam_patio", LocationID: "loc-1", FrameNumber: 2, State: "YELLOW", TimestampRecorded: time.Now()},
	}

	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO division_events").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO division_events").WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	require.NoError(t, store.InsertDivisionEvents(context.Background(), tx, events))
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertDivisionEvents_FailureLeavesTransactionRollbackable(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	events := []store.DivisionEvent{
		{SessionID: "sess-1", CameraID: "cam_patio", LocationID: "loc-1", FrameNumber: 1, State: "GREEN", TimestampRecorded: time.Now()},
	}

	mock.ExpectBegin()
	tx, err := db.Begin()
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO division_events").WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	err = store.InsertDivisionEvents(context.Background(), tx, events)
	require.Error(t, err)
	require.NoError(t, tx.Rollback())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkDivisionSynced_NoOpOnEmptyIDs(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := &store.Store{DB: db}
	require.NoError(t, s.MarkDivisionSynced(context.Background(), nil))
}

func TestPruneSyncedOlderThan_TouchesBothTables(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	s := &store.Store{DB: db}

	mock.ExpectExec("DELETE FROM division_events").WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("DELETE FROM table_events").WillReturnResult(sqlmock.NewResult(0, 2))

	n, err := s.PruneSyncedOlderThan(context.Background(), time.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(5), n)
	require.NoError(t, mock.ExpectationsWereMet())
}
