package eventbuffer_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asesmartice/floorwatch/internal/eventbuffer"
	"github.com/asesmartice/floorwatch/internal/store"
)

func newTestStore(t *testing.T) (*store.Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &store.Store{DB: db}, mock
}

func TestBuffer_FlushesAutomaticallyAtBatchSize(t *testing.T) {
	s, mock := newTestStore(t)
	buf := eventbuffer.NewBuffer(s, 2)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO division_events").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("INSERT INTO division_events").WillReturnResult(sqlmock.NewResult(2, 1))
	mock.ExpectCommit()

	ctx := context.Background()
	require.NoError(t, buf.AddDivisionEvent(ctx, store.DivisionEvent{SessionID: "s1", FrameNumber: 1, TimestampRecorded: time.Now()}))
	require.NoError(t, buf.AddDivisionEvent(ctx, store.DivisionEvent{SessionID: "s1", FrameNumber: 2, TimestampRecorded: time.Now()}))

	assert.Equal(t, 0, buf.Stats().PendingDivision)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBuffer_RetainsBatchOnInsertFailure(t *testing.T) {
	s, mock := newTestStore(t)
	buf := eventbuffer.NewBuffer(s, 1)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO division_events").WillReturnError(sql.ErrConnDone)
	mock.ExpectRollback()

	ctx := context.Background()
	err := buf.AddDivisionEvent(ctx, store.DivisionEvent{SessionID: "s1", FrameNumber: 1, TimestampRecorded: time.Now()})
	require.Error(t, err)

	assert.Equal(t, 1, buf.Stats().PendingDivision, "failed batch stays buffered for retry")
}

func TestBuffer_FlushAllCommitsBothKindsEvenWhenUnderBatchSize(t *testing.T) {
	s, mock := newTestStore(t)
	buf := eventbuffer.NewBuffer(s, 100)

	ctx := context.Background()
	require.NoError(t, buf.AddDivisionEvent(ctx, store.DivisionEvent{SessionID: "s1", FrameNumber: 1, TimestampRecorded: time.Now()}))
	require.NoError(t, buf.AddTableEvent(ctx, store.TableEvent{SessionID: "s1", FrameNumber: 1, TimestampRecorded: time.Now()}))

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO division_events").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO table_events").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	require.NoError(t, buf.FlushAll(ctx))
	stats := buf.Stats()
	assert.Equal(t, 0, stats.PendingDivision)
	assert.Equal(t, 0, stats.PendingTable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBuffer_FlushAllIsNoOpWhenEmpty(t *testing.T) {
	s, _ := newTestStore(t)
	buf := eventbuffer.NewBuffer(s, 100)
	require.NoError(t, buf.FlushAll(context.Background()))
}
