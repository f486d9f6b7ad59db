// Package cloudsync implements the Cloud Replicator (C9): a scheduled job
// that copies unsynced division/table events out of the local store to a
// cloud endpoint in fixed-size batches, marks them synced, and prunes rows
// that have aged out once synced. No cloud SDK fits this shape (see
// DESIGN.md) - it is a thin batch-insert HTTP client, grounded on the
// teacher's audit package's "DB write, on failure spool, replay later"
// structure but inverted: here the local store is the durable side and the
// cloud endpoint is the one allowed to fail a batch without losing data.
package cloudsync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Mode selects which rows a run considers in scope, mirroring the original
// replicator's two schedules.
type Mode string

const (
	ModeHourly Mode = "hourly"
	ModeFull   Mode = "full"
)

// Client is a thin batch-insert HTTP client for the cloud event schema. No
// official SDK exists for this endpoint (it is the deployment's own
// ingestion API), so this wraps net/http directly rather than depending on
// a generic cloud vendor SDK that wouldn't apply.
type Client struct {
	baseURL    string
	apiKey     string
	locationID string
	httpClient *http.Client
}

// NewClient returns nil if either credential is empty, per spec: absent
// cloud credentials disables C9 entirely rather than erroring at every run.
func NewClient(baseURL, apiKey, locationID string, timeout time.Duration) *Client {
	if baseURL == "" || apiKey == "" {
		return nil
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		locationID: locationID,
		httpClient: &http.Client{Timeout: timeout},
	}
}

type cloudDivisionRow struct {
	SessionID          string  `json:"session_id"`
	CameraID           string  `json:"camera_id"`
	LocationID         string  `json:"location_id"`
	FrameNumber        int     `json:"frame_number"`
	TimestampVideo     float64 `json:"timestamp_video"`
	TimestampRecorded  string  `json:"timestamp_recorded"`
	State              string  `json:"state"`
	WalkingAreaWaiters int     `json:"walking_area_waiters"`
	ServiceAreaWaiters int     `json:"service_area_waiters"`
	TotalStaff         int     `json:"total_staff"`
	ScreenshotPath     string  `json:"screenshot_path,omitempty"`
}

type cloudTableRow struct {
	SessionID         string  `json:"session_id"`
	CameraID          string  `json:"camera_id"`
	LocationID        string  `json:"location_id"`
	FrameNumber       int     `json:"frame_number"`
	TimestampVideo    float64 `json:"timestamp_video"`
	TimestampRecorded string  `json:"timestamp_recorded"`
	TableID           string  `json:"table_id"`
	State             string  `json:"state"`
	CustomersCount    int     `json:"customers_count"`
	WaitersCount      int     `json:"waiters_count"`
	ScreenshotPath    string  `json:"screenshot_path,omitempty"`
}

// InsertDivisionBatch issues one cloud batch insert. The replicator treats
// any non-2xx response or transport error identically: the batch failed,
// log and move on, nothing local changes.
func (c *Client) InsertDivisionBatch(ctx context.Context, rows []cloudDivisionRow) error {
	return c.postBatch(ctx, "/v1/events/division", rows)
}

func (c *Client) InsertTableBatch(ctx context.Context, rows []cloudTableRow) error {
	return c.postBatch(ctx, "/v1/events/table", rows)
}

func (c *Client) postBatch(ctx context.Context, path string, rows any) error {
	body, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("cloudsync: encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("cloudsync: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cloudsync: %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("cloudsync: %s: unexpected status %d", path, resp.StatusCode)
	}
	return nil
}
