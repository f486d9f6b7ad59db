package cloudsync

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/asesmartice/floorwatch/internal/logging"
	"github.com/asesmartice/floorwatch/internal/store"
)

// BatchInserter is the seam tests substitute for Client so a replicator run
// can be exercised without a live cloud endpoint.
type BatchInserter interface {
	InsertDivisionBatch(ctx context.Context, rows []cloudDivisionRow) error
	InsertTableBatch(ctx context.Context, rows []cloudTableRow) error
}

// LocalStore is the subset of *store.Store the replicator needs, so tests
// can substitute a hand-rolled fake.
type LocalStore interface {
	UnsyncedDivisionBatch(ctx context.Context, since time.Time, limit int) ([]store.DivisionEvent, error)
	UnsyncedTableBatch(ctx context.Context, since time.Time, limit int) ([]store.TableEvent, error)
	MarkDivisionSynced(ctx context.Context, ids []int64) error
	MarkTableSynced(ctx context.Context, ids []int64) error
	PruneSyncedOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
	RecordSyncRun(ctx context.Context, kind, mode string, started, finished time.Time, rowsSynced int, lastErr error) error
}

// RetentionWindow is how long a synced row is kept locally before pruning.
// Invariants I3/I4 forbid pruning anything unsynced or younger than this,
// enforced by PruneSyncedOlderThan's WHERE clause rather than here.
const RetentionWindow = 24 * time.Hour

// hourlyLookback bounds "hourly" mode runs to rows recorded in the last two
// hours; a run never widens its own scope. Only a ModeFull run picks up
// older unsynced rows, and the controller schedules ModeHourly only (its
// ticker and the final pass on Stop), so such rows stay local and unsynced
// until a ModeFull run is made.
const hourlyLookback = 2 * time.Hour

// Replicator runs one batch-scan/transform/insert/mark/prune pass per Run
// call. The controller schedules Run on a fixed cadence (default hourly);
// Run itself does not loop or sleep.
type Replicator struct {
	store     LocalStore
	cloud     BatchInserter
	batchSize int

	batches  *prometheus.CounterVec
	rowsSent *prometheus.CounterVec
	errors   prometheus.Counter
	pruned   prometheus.Counter
}

func NewReplicator(store LocalStore, cloud BatchInserter, batchSize int) *Replicator {
	if batchSize <= 0 {
		batchSize = 500
	}
	return &Replicator{
		store:     store,
		cloud:     cloud,
		batchSize: batchSize,
		batches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "floorwatch_cloudsync_batches_total",
			Help: "Cloud batch inserts attempted, by outcome.",
		}, []string{"outcome"}),
		rowsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "floorwatch_cloudsync_rows_synced_total",
			Help: "Rows marked synced, by table.",
		}, []string{"table"}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floorwatch_cloudsync_errors_total",
			Help: "Batch failures across both event tables.",
		}),
		pruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floorwatch_cloudsync_rows_pruned_total",
			Help: "Synced rows deleted locally after aging out.",
		}),
	}
}

func (r *Replicator) Register(reg *prometheus.Registry) {
	reg.MustRegister(r.batches, r.rowsSent, r.errors, r.pruned)
}

// Run executes one replication pass in the given mode. It never returns an
// error for a failed cloud batch - that is logged and counted, and the run
// proceeds to the next batch and table - only a failure to scan, prune, or
// write the final RecordSyncRun row is returned to the caller. A failure to
// mark rows synced is handled like a failed batch.
func (r *Replicator) Run(ctx context.Context, mode Mode) error {
	log := logging.For("cloudsync")
	started := time.Now()

	since := time.Unix(0, 0)
	if mode == ModeHourly {
		since = started.Add(-hourlyLookback)
	}

	rowsSynced := 0
	var lastErr error

	// Rows of a failed batch stay unsynced and, ordered by id, head every
	// later scan; skipped counts them so the scan moves past them.
	skipped := 0
	for {
		batch, err := r.store.UnsyncedDivisionBatch(ctx, since, skipped+r.batchSize)
		if err != nil {
			return err
		}
		if len(batch) <= skipped {
			break
		}
		batch = batch[skipped:]
		n, err := r.syncDivisionBatch(ctx, batch)
		rowsSynced += n
		if err != nil {
			lastErr = err
			skipped += len(batch)
			log.Error().Err(err).Int("batch_size", len(batch)).Msg("division batch failed, continuing")
		}
		if len(batch) < r.batchSize {
			break
		}
	}

	skipped = 0
	for {
		batch, err := r.store.UnsyncedTableBatch(ctx, since, skipped+r.batchSize)
		if err != nil {
			return err
		}
		if len(batch) <= skipped {
			break
		}
		batch = batch[skipped:]
		n, err := r.syncTableBatch(ctx, batch)
		rowsSynced += n
		if err != nil {
			lastErr = err
			skipped += len(batch)
			log.Error().Err(err).Int("batch_size", len(batch)).Msg("table batch failed, continuing")
		}
		if len(batch) < r.batchSize {
			break
		}
	}

	cutoff := started.Add(-RetentionWindow)
	n, err := r.store.PruneSyncedOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	if n > 0 {
		r.pruned.Add(float64(n))
	}

	status := "success"
	if lastErr != nil {
		status = "partial"
	}
	finished := time.Now()
	log.Info().Str("mode", string(mode)).Str("status", status).Int("rows_synced", rowsSynced).Int64("rows_pruned", n).Msg("cloudsync run complete")
	return r.store.RecordSyncRun(ctx, status, string(mode), started, finished, rowsSynced, lastErr)
}

func (r *Replicator) syncDivisionBatch(ctx context.Context, batch []store.DivisionEvent) (int, error) {
	rows := make([]cloudDivisionRow, len(batch))
	ids := make([]int64, len(batch))
	for i, e := range batch {
		rows[i] = cloudDivisionRow{
			SessionID:          e.SessionID,
			CameraID:           e.CameraID,
			LocationID:         e.LocationID,
			FrameNumber:        e.FrameNumber,
			TimestampVideo:     e.TimestampVideo,
			TimestampRecorded:  e.TimestampRecorded.UTC().Format(time.RFC3339),
			State:              e.State,
			WalkingAreaWaiters: e.WalkingAreaWaiters,
			ServiceAreaWaiters: e.ServiceAreaWaiters,
			TotalStaff:         e.TotalStaff,
			ScreenshotPath:     e.ScreenshotPath,
		}
		ids[i] = e.ID
	}

	if err := r.cloud.InsertDivisionBatch(ctx, rows); err != nil {
		r.batches.WithLabelValues("failure").Inc()
		r.errors.Inc()
		return 0, err
	}
	r.batches.WithLabelValues("success").Inc()

	if err := r.store.MarkDivisionSynced(ctx, ids); err != nil {
		return 0, err
	}
	r.rowsSent.WithLabelValues("division").Add(float64(len(ids)))
	return len(ids), nil
}

func (r *Replicator) syncTableBatch(ctx context.Context, batch []store.TableEvent) (int, error) {
	rows := make([]cloudTableRow, len(batch))
	ids := make([]int64, len(batch))
	for i, e := range batch {
		rows[i] = cloudTableRow{
			SessionID:         e.SessionID,
			CameraID:          e.CameraID,
			LocationID:        e.LocationID,
			FrameNumber:       e.FrameNumber,
			TimestampVideo:    e.TimestampVideo,
			TimestampRecorded: e.TimestampRecorded.UTC().Format(time.RFC3339),
			TableID:           e.TableID,
			State:             e.State,
			CustomersCount:    e.CustomersCount,
			WaitersCount:      e.WaitersCount,
			ScreenshotPath:    e.ScreenshotPath,
		}
		ids[i] = e.ID
	}

	if err := r.cloud.InsertTableBatch(ctx, rows); err != nil {
		r.batches.WithLabelValues("failure").Inc()
		r.errors.Inc()
		return 0, err
	}
	r.batches.WithLabelValues("success").Inc()

	if err := r.store.MarkTableSynced(ctx, ids); err != nil {
		return 0, err
	}
	r.rowsSent.WithLabelValues("table").Add(float64(len(ids)))
	return len(ids), nil
}
