// Package eventbuffer implements the Event Buffer (C7): two in-memory ring
// buffers (division and table events) that batch inserts and flush them to
// the local store inside one transaction, mirroring the original batch
// writer's "buffer in memory, commit in batches" design but with
// commit-or-retain-on-failure semantics instead of a bare executemany.
package eventbuffer

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/asesmartice/floorwatch/internal/logging"
	"github.com/asesmartice/floorwatch/internal/store"
)

// Buffer batches division and table events separately, flushing each kind
// once it reaches batchSize, and both on an explicit FlushAll call.
type Buffer struct {
	db        *store.Store
	batchSize int

	mu       sync.Mutex
	division []store.DivisionEvent
	table    []store.TableEvent

	inserts     *prometheus.CounterVec
	commits     prometheus.Counter
	batchSizes  prometheus.Histogram
	pendingGau  *prometheus.GaugeVec
}

func NewBuffer(db *store.Store, batchSize int) *Buffer {
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Buffer{
		db:        db,
		batchSize: batchSize,
		inserts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "floorwatch_eventbuffer_inserts_total",
			Help: "Events buffered, by kind.",
		}, []string{"kind"}),
		commits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floorwatch_eventbuffer_commits_total",
			Help: "Batch commits to the local store.",
		}),
		batchSizes: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "floorwatch_eventbuffer_batch_size",
			Help:    "Size of each committed batch.",
			Buckets: prometheus.LinearBuckets(10, 20, 10),
		}),
		pendingGau: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "floorwatch_eventbuffer_pending",
			Help: "Events currently buffered but not yet committed, by kind.",
		}, []string{"kind"}),
	}
}

func (b *Buffer) Register(reg *prometheus.Registry) {
	reg.MustRegister(b.inserts, b.commits, b.batchSizes, b.pendingGau)
}

// AddDivisionEvent buffers e and flushes the division buffer if it has
// reached batchSize.
func (b *Buffer) AddDivisionEvent(ctx context.Context, e store.DivisionEvent) error {
	b.mu.Lock()
	b.division = append(b.division, e)
	b.inserts.WithLabelValues("division").Inc()
	full := len(b.division) >= b.batchSize
	b.pendingGau.WithLabelValues("division").Set(float64(len(b.division)))
	b.mu.Unlock()

	if full {
		return b.FlushDivision(ctx)
	}
	return nil
}

// AddTableEvent is AddDivisionEvent's table_events counterpart.
func (b *Buffer) AddTableEvent(ctx context.Context, e store.TableEvent) error {
	b.mu.Lock()
	b.table = append(b.table, e)
	b.inserts.WithLabelValues("table").Inc()
	full := len(b.table) >= b.batchSize
	b.pendingGau.WithLabelValues("table").Set(float64(len(b.table)))
	b.mu.Unlock()

	if full {
		return b.FlushTable(ctx)
	}
	return nil
}

// FlushDivision commits the buffered division events in one transaction. On
// failure the buffer keeps the events for the next attempt - nothing is
// dropped, and the batch is retried whole rather than row by row.
func (b *Buffer) FlushDivision(ctx context.Context) error {
	log := logging.For("eventbuffer")

	b.mu.Lock()
	batch := b.division
	b.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	if err := store.InsertDivisionEvents(ctx, tx, batch); err != nil {
		_ = tx.Rollback()
		log.Error().Err(err).Int("batch_size", len(batch)).Msg("division batch flush failed, retaining for retry")
		return err
	}
	if err := tx.Commit(); err != nil {
		log.Error().Err(err).Msg("division batch commit failed, retaining for retry")
		return err
	}

	b.mu.Lock()
	b.division = b.division[len(batch):]
	b.pendingGau.WithLabelValues("division").Set(float64(len(b.division)))
	b.mu.Unlock()

	b.commits.Inc()
	b.batchSizes.Observe(float64(len(batch)))
	return nil
}

// FlushTable is FlushDivision's table_events counterpart.
func (b *Buffer) FlushTable(ctx context.Context) error {
	log := logging.For("eventbuffer")

	b.mu.Lock()
	batch := b.table
	b.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	tx, err := b.db.BeginTx(ctx)
	if err != nil {
		return err
	}
	if err := store.InsertTableEvents(ctx, tx, batch); err != nil {
		_ = tx.Rollback()
		log.Error().Err(err).Int("batch_size", len(batch)).Msg("table batch flush failed, retaining for retry")
		return err
	}
	if err := tx.Commit(); err != nil {
		log.Error().Err(err).Msg("table batch commit failed, retaining for retry")
		return err
	}

	b.mu.Lock()
	b.table = b.table[len(batch):]
	b.pendingGau.WithLabelValues("table").Set(float64(len(b.table)))
	b.mu.Unlock()

	b.commits.Inc()
	b.batchSizes.Observe(float64(len(batch)))
	return nil
}

// FlushAll commits both buffers regardless of size. Called by the
// controller on a timer and on shutdown so a slow trickle of events
// (a quiet restaurant, a near-empty session) doesn't sit unflushed for long.
func (b *Buffer) FlushAll(ctx context.Context) error {
	if err := b.FlushDivision(ctx); err != nil {
		return err
	}
	return b.FlushTable(ctx)
}

// Stats mirrors the original batch writer's get_stats(), exposed for the
// /status endpoint.
type Stats struct {
	PendingDivision int
	PendingTable    int
}

func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Stats{PendingDivision: len(b.division), PendingTable: len(b.table)}
}

// FlushTicker runs FlushAll every interval until ctx is cancelled.
func FlushTicker(ctx context.Context, b *Buffer, interval time.Duration) {
	log := logging.For("eventbuffer")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := b.FlushAll(ctx); err != nil {
				log.Warn().Err(err).Msg("periodic flush failed")
			}
		}
	}
}
