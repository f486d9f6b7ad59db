package cloudsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asesmartice/floorwatch/internal/store"
)

type fakeStore struct {
	division       []store.DivisionEvent
	table          []store.TableEvent
	markedDivision []int64
	markedTable    []int64
	pruneCutoff    time.Time
	pruneCount     int64
	lastRun        struct {
		kind, mode string
		rows       int
		err        error
	}
}

func (f *fakeStore) UnsyncedDivisionBatch(ctx context.Context, since time.Time, limit int) ([]store.DivisionEvent, error) {
	batch := f.division
	f.division = nil
	return batch, nil
}

func (f *fakeStore) UnsyncedTableBatch(ctx context.Context, since time.Time, limit int) ([]store.TableEvent, error) {
	batch := f.table
	f.table = nil
	return batch, nil
}

func (f *fakeStore) MarkDivisionSynced(ctx context.Context, ids []int64) error {
	f.markedDivision = append(f.markedDivision, ids...)
	return nil
}

func (f *fakeStore) MarkTableSynced(ctx context.Context, ids []int64) error {
	f.markedTable = append(f.markedTable, ids...)
	return nil
}

func (f *fakeStore) PruneSyncedOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	f.pruneCutoff = cutoff
	return f.pruneCount, nil
}

func (f *fakeStore) RecordSyncRun(ctx context.Context, kind, mode string, started, finished time.Time, rowsSynced int, lastErr error) error {
	f.lastRun.kind = kind
	f.lastRun.mode = mode
	f.lastRun.rows = rowsSynced
	f.lastRun.err = lastErr
	return nil
}

type fakeCloud struct {
	failDivision bool
	failTable    bool
	divisionRows int
	tableRows    int
}

func (f *fakeCloud) InsertDivisionBatch(ctx context.Context, rows []cloudDivisionRow) error {
	if f.failDivision {
		return errors.New("cloud rejected batch")
	}
	f.divisionRows += len(rows)
	return nil
}

func (f *fakeCloud) InsertTableBatch(ctx context.Context, rows []cloudTableRow) error {
	if f.failTable {
		return errors.New("cloud rejected batch")
	}
	f.tableRows += len(rows)
	return nil
}

func TestRun_SyncsBothTablesAndMarksRows(t *testing.T) {
	fs := &fakeStore{
		division: []store.DivisionEvent{{ID: 1, SessionID: "s1"}, {ID: 2, SessionID: "s1"}},
		table:    []store.TableEvent{{ID: 10, SessionID: "s1"}},
	}
	fc := &fakeCloud{}
	r := NewReplicator(fs, fc, 50)

	err := r.Run(context.Background(), ModeHourly)
	require.NoError(t, err)

	assert.ElementsMatch(t, []int64{1, 2}, fs.markedDivision)
	assert.ElementsMatch(t, []int64{10}, fs.markedTable)
	assert.Equal(t, "success", fs.lastRun.kind)
	assert.Equal(t, 3, fs.lastRun.rows)
}

func TestRun_OneBadBatchDoesNotStallTheOtherTable(t *testing.T) {
	fs := &fakeStore{
		division: []store.DivisionEvent{{ID: 1, SessionID: "s1"}},
		table:    []store.TableEvent{{ID: 10, SessionID: "s1"}},
	}
	fc := &fakeCloud{failDivision: true}
	r := NewReplicator(fs, fc, 50)

	err := r.Run(context.Background(), ModeFull)
	require.NoError(t, err)

	assert.Empty(t, fs.markedDivision, "failed batch must not be marked synced")
	assert.ElementsMatch(t, []int64{10}, fs.markedTable, "table batch still succeeds despite division failure")
	assert.Equal(t, "partial", fs.lastRun.kind)
}

func TestRun_PrunesWithRetentionCutoff(t *testing.T) {
	fs := &fakeStore{pruneCount: 7}
	fc := &fakeCloud{}
	r := NewReplicator(fs, fc, 50)

	before := time.Now()
	require.NoError(t, r.Run(context.Background(), ModeFull))

	assert.WithinDuration(t, before.Add(-RetentionWindow), fs.pruneCutoff, 2*time.Second)
}

func TestNewClient_ReturnsNilWithoutCredentials(t *testing.T) {
	assert.Nil(t, NewClient("", "key", "loc", time.Second))
	assert.Nil(t, NewClient("https://cloud.example", "", "loc", time.Second))
	assert.NotNil(t, NewClient("https://cloud.example", "key", "loc", time.Second))
}
