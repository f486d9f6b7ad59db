package controller

import (
	"bufio"
	"encoding/json"
	"net/http"
	"os"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/asesmartice/floorwatch/internal/logging"
	"github.com/asesmartice/floorwatch/internal/middleware"
	"github.com/asesmartice/floorwatch/internal/window"
)

// StatusPayload is the /status response: PID, controller state, whether the
// capture and processing windows are active, the active worker count, and
// the event buffer's pending (not yet committed) counts.
type StatusPayload struct {
	PID              int       `json:"pid"`
	State            string    `json:"state"`
	CaptureActive    bool      `json:"capture_active"`
	ProcessingActive bool      `json:"processing_active"`
	ActiveWorkers    int       `json:"active_workers"`
	PendingDivision  int       `json:"pending_division_events"`
	PendingTable     int       `json:"pending_table_events"`
	Timestamp        time.Time `json:"timestamp"`
}

func (c *Controller) statusPayload() StatusPayload {
	now := time.Now()
	_, captureActive := window.ActiveCapture(now, c.cfg.Settings.CaptureWindows)

	p := StatusPayload{
		PID:              os.Getpid(),
		State:            c.State().String(),
		CaptureActive:    captureActive,
		ProcessingActive: window.InProcessingWindow(now, c.cfg.Settings.ProcessingWindow),
		ActiveWorkers:    c.activeWorkers,
		Timestamp:        now,
	}
	if c.buffer != nil {
		stats := c.buffer.Stats()
		p.PendingDivision = stats.PendingDivision
		p.PendingTable = stats.PendingTable
	}
	return p
}

// LogTailPath is read by /status/stream to seed a new connection with
// recent structured log lines before tailing further appends. Set by the
// caller that configured logging.Configure with a file writer.
var LogTailPath string

// MountRoutes wires /healthz, /metrics, /status, and /status/stream onto r,
// plus the JWT-guarded event ingestion routes if provided. All endpoints
// here are localhost-bound and unauthenticated by design (Non-goal: no
// per-request auth for the operator surface) - only the internal ingestion
// routes under /internal/v1/events carry the session JWT.
func MountRoutes(r chi.Router, c *Controller, eventsRouter func(chi.Router), auth *middleware.JWTAuth) {
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if c.State() != StateRunning {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Handle("/metrics", promhttp.Handler())

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(c.statusPayload())
	})

	r.Get("/status/stream", c.statusStreamHandler)

	if eventsRouter != nil {
		eventsRouter(r)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true }, // localhost-only surface, see Non-goals
}

const tailLines = 200

// statusStreamHandler replays the last tailLines of the structured log file
// then keeps polling for appended lines, pushing each as a websocket text
// frame until the client disconnects.
func (c *Controller) statusStreamHandler(w http.ResponseWriter, r *http.Request) {
	log := logging.For("controller")
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("status stream upgrade failed")
		return
	}
	defer conn.Close()

	offset := int64(0)
	if LogTailPath != "" {
		for _, line := range tailFile(LogTailPath, tailLines) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				return
			}
		}
		if info, err := os.Stat(LogTailPath); err == nil {
			offset = info.Size()
		}
	}

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if LogTailPath == "" {
				continue
			}
			lines, newOffset := readFrom(LogTailPath, offset)
			offset = newOffset
			for _, line := range lines {
				if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
					return
				}
			}
		case <-r.Context().Done():
			return
		}
	}
}

// tailFile returns up to n trailing lines of path, best-effort (an unreadable
// or missing file yields an empty slice rather than an error - the stream
// endpoint degrades to "no backlog" rather than failing the connection).
func tailFile(path string, n int) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
		if len(lines) > n {
			lines = lines[1:]
		}
	}
	return lines
}

// readFrom returns the lines appended to path since byte offset since, and
// the new end-of-file offset. A final line still missing its newline is
// returned as it stands.
func readFrom(path string, since int64) ([]string, int64) {
	f, err := os.Open(path)
	if err != nil {
		return nil, since
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, since
	}
	if info.Size() < since {
		return nil, info.Size() // file truncated/rotated underneath us, resync to EOF next tick
	}
	if _, err := f.Seek(since, 0); err != nil {
		return nil, since
	}

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	return lines, info.Size()
}
