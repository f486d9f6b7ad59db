// Package store implements the Local Store (C8): a single SQLite file
// holding sessions, division/table events, and sync_status audit rows. It is
// the uniqueness source of truth for I1 and the only component other
// subsystems trust for "has this already been recorded" questions.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var ErrNotFound = errors.New("store: record not found")

// DBTX is satisfied by both *sql.DB and *sql.Tx, the same seam the teacher's
// data layer uses so batch writers can run either against the pool directly
// or inside an explicit transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

type Store struct {
	DB *sql.DB
}

// Open opens (and does not migrate - see cmd/migrator) the SQLite file at
// path. Sets a conservative single-writer pool since SQLite serializes
// writes anyway, and enables WAL journaling and a 5s busy timeout under
// the ring-buffer's batched writes.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path))
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Store{DB: db}, nil
}

func (s *Store) Close() error { return s.DB.Close() }

// DivisionEvent mirrors division_events, one row per classified division
// frame. Field names follow the original batch writer's column names.
type DivisionEvent struct {
	ID                 int64
	SessionID          string
	CameraID           string
	LocationID         string
	FrameNumber        int
	TimestampVideo     float64
	TimestampRecorded  time.Time
	State              string
	WalkingAreaWaiters int
	ServiceAreaWaiters int
	TotalStaff         int
	ScreenshotPath     string
}

// TableEvent mirrors table_events, one row per classified table frame.
type TableEvent struct {
	ID                int64
	SessionID         string
	CameraID          string
	LocationID        string
	FrameNumber       int
	TimestampVideo    float64
	TimestampRecorded time.Time
	TableID           string
	State             string
	CustomersCount    int
	WaitersCount      int
	ScreenshotPath    string
}

// BeginTx starts a transaction for a batched flush.
func (s *Store) BeginTx(ctx context.Context) (*sql.Tx, error) {
	return s.DB.BeginTx(ctx, nil)
}

// IsProcessed implements segments.ProcessedChecker: a filename is processed
// once a sessions row exists for (camera_id, filename), regardless of
// whether the session finished successfully.
func (s *Store) IsProcessed(ctx context.Context, cameraID, filename string) (bool, error) {
	var n int
	err := s.DB.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM sessions WHERE camera_id = ? AND filename = ?`,
		cameraID, filename).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CreateSession inserts the sessions row that makes a (camera_id, filename)
// pair processed. Enforces I1 via the table's UNIQUE constraint - a racing
// double-dispatch collides here instead of silently double-processing.
func (s *Store) CreateSession(ctx context.Context, sessionID, cameraID, locationID, filename string, startedAt time.Time) error {
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO sessions (session_id, camera_id, location_id, filename, started_at, status)
		 VALUES (?, ?, ?, ?, ?, 'dispatched')`,
		sessionID, cameraID, locationID, filename, startedAt.UTC())
	return err
}

// FinishSession marks a session terminal (completed or failed) and records
// the frame count the runner produced, per spec.md §3 ("end_time and
// total_frames written at completion").
func (s *Store) FinishSession(ctx context.Context, sessionID, status string, totalFrames int) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE sessions SET status = ?, finished_at = ?, total_frames = ? WHERE session_id = ?`,
		status, time.Now().UTC(), totalFrames, sessionID)
	return err
}

// SessionFrameCount returns the highest frame_number recorded for sessionID
// across both event tables. The dispatcher calls this right before
// finalizing a session, since the runner reports frames by inserting
// division/table events via C7 rather than returning a count itself.
func (s *Store) SessionFrameCount(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(frame_number), 0) FROM (
			SELECT frame_number FROM division_events WHERE session_id = ?
			UNION ALL
			SELECT frame_number FROM table_events WHERE session_id = ?
		)`, sessionID, sessionID).Scan(&n)
	return n, err
}

// InsertDivisionEvents batch-inserts a ring buffer's division events inside
// tx. The caller commits or rolls back; a rollback leaves the events in the
// in-memory buffer to retry next flush (no record is ever lost to a single
// failed commit).
func InsertDivisionEvents(ctx context.Context, tx DBTX, events []DivisionEvent) error {
	if len(events) == 0 {
		return nil
	}
	stmt := `INSERT INTO division_events
		(session_id, camera_id, location_id, frame_number, timestamp_video, timestamp_recorded,
		 state, walking_area_waiters, service_area_waiters, total_staff, screenshot_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, e := range events {
		if _, err := tx.ExecContext(ctx, stmt,
			e.SessionID, e.CameraID, e.LocationID, e.FrameNumber, e.TimestampVideo, e.TimestampRecorded.UTC(),
			e.State, e.WalkingAreaWaiters, e.ServiceAreaWaiters, e.TotalStaff, nullableString(e.ScreenshotPath),
		); err != nil {
			return fmt.Errorf("insert division event (session=%s frame=%d): %w", e.SessionID, e.FrameNumber, err)
		}
	}
	return nil
}

// InsertTableEvents is InsertDivisionEvents' counterpart for table_events.
func InsertTableEvents(ctx context.Context, tx DBTX, events []TableEvent) error {
	if len(events) == 0 {
		return nil
	}
	stmt := `INSERT INTO table_events
		(session_id, camera_id, location_id, frame_number, timestamp_video, timestamp_recorded,
		 table_id, state, customers_count, waiters_count, screenshot_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	for _, e := range events {
		if _, err := tx.ExecContext(ctx, stmt,
			e.SessionID, e.CameraID, e.LocationID, e.FrameNumber, e.TimestampVideo, e.TimestampRecorded.UTC(),
			e.TableID, e.State, e.CustomersCount, e.WaitersCount, nullableString(e.ScreenshotPath),
		); err != nil {
			return fmt.Errorf("insert table event (session=%s frame=%d): %w", e.SessionID, e.FrameNumber, err)
		}
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// UnsyncedDivisionBatch returns up to limit division_events rows with
// synced_to_cloud = 0, oldest first, for cloudsync to upload.
func (s *Store) UnsyncedDivisionBatch(ctx context.Context, since time.Time, limit int) ([]DivisionEvent, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, session_id, camera_id, location_id, frame_number, timestamp_video, timestamp_recorded,
		       state, walking_area_waiters, service_area_waiters, total_staff, COALESCE(screenshot_path, '')
		FROM division_events
		WHERE synced_to_cloud = 0 AND timestamp_recorded >= ?
		ORDER BY id ASC LIMIT ?`, since.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DivisionEvent
	for rows.Next() {
		var e DivisionEvent
		if err := rows.Scan(&e.ID, &e.SessionID, &e.CameraID, &e.LocationID, &e.FrameNumber, &e.TimestampVideo,
			&e.TimestampRecorded, &e.State, &e.WalkingAreaWaiters, &e.ServiceAreaWaiters, &e.TotalStaff, &e.ScreenshotPath); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// UnsyncedTableBatch is UnsyncedDivisionBatch's table_events counterpart.
func (s *Store) UnsyncedTableBatch(ctx context.Context, since time.Time, limit int) ([]TableEvent, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, session_id, camera_id, location_id, frame_number, timestamp_video, timestamp_recorded,
		       table_id, state, customers_count, waiters_count, COALESCE(screenshot_path, '')
		FROM table_events
		WHERE synced_to_cloud = 0 AND timestamp_recorded >= ?
		ORDER BY id ASC LIMIT ?`, since.UTC(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TableEvent
	for rows.Next() {
		var e TableEvent
		if err := rows.Scan(&e.ID, &e.SessionID, &e.CameraID, &e.LocationID, &e.FrameNumber, &e.TimestampVideo,
			&e.TimestampRecorded, &e.TableID, &e.State, &e.CustomersCount, &e.WaitersCount, &e.ScreenshotPath); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// MarkDivisionSynced flips synced_to_cloud for the given ids after a
// successful cloud insert. Called after the cloud write returns success, so
// a crash between the two leaves rows merely re-uploaded next run, never
// lost - idempotent-under-retry by construction.
func (s *Store) MarkDivisionSynced(ctx context.Context, ids []int64) error {
	return markSynced(ctx, s.DB, "division_events", ids)
}

func (s *Store) MarkTableSynced(ctx context.Context, ids []int64) error {
	return markSynced(ctx, s.DB, "table_events", ids)
}

func markSynced(ctx context.Context, db *sql.DB, table string, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	now := time.Now().UTC()
	stmt := fmt.Sprintf(`UPDATE %s SET synced_to_cloud = 1, synced_at = ? WHERE id = ?`, table)
	for _, id := range ids {
		if _, err := db.ExecContext(ctx, stmt, now, id); err != nil {
			return fmt.Errorf("mark synced id=%d: %w", id, err)
		}
	}
	return nil
}

// PruneSyncedOlderThan deletes synced rows older than cutoff from both event
// tables, never touching unsynced rows regardless of age.
func (s *Store) PruneSyncedOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var total int64
	for _, table := range []string{"division_events", "table_events"} {
		res, err := s.DB.ExecContext(ctx,
			fmt.Sprintf(`DELETE FROM %s WHERE synced_to_cloud = 1 AND timestamp_recorded < ?`, table),
			cutoff.UTC())
		if err != nil {
			return total, fmt.Errorf("prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	return total, nil
}

// RecordSyncRun inserts a sync_status audit row summarizing one cloudsync
// pass.
func (s *Store) RecordSyncRun(ctx context.Context, kind, mode string, started, finished time.Time, rowsSynced int, lastErr error) error {
	var errStr sql.NullString
	if lastErr != nil {
		errStr = sql.NullString{String: lastErr.Error(), Valid: true}
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO sync_status (kind, mode, run_started_at, run_finished_at, rows_synced, last_error)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		kind, mode, started.UTC(), finished.UTC(), rowsSynced, errStr)
	return err
}
