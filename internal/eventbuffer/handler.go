package eventbuffer

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/asesmartice/floorwatch/internal/logging"
	"github.com/asesmartice/floorwatch/internal/middleware"
	"github.com/asesmartice/floorwatch/internal/store"
)

// divisionEventPayload mirrors the wire shape the analysis runner posts for a
// single classified division frame. The camera/location id and session id
// are never taken from the body - they come from the verified session JWT.
type divisionEventPayload struct {
	FrameNumber        int       `json:"frame_number"`
	TimestampVideo     float64   `json:"timestamp_video"`
	TimestampRecorded  time.Time `json:"timestamp_recorded"`
	State              string    `json:"state"`
	WalkingAreaWaiters int       `json:"walking_area_waiters"`
	ServiceAreaWaiters int       `json:"service_area_waiters"`
	TotalStaff         int       `json:"total_staff"`
	ScreenshotPath     string    `json:"screenshot_path"`
}

// tableEventPayload mirrors the wire shape for a single classified table
// frame.
type tableEventPayload struct {
	FrameNumber       int       `json:"frame_number"`
	TimestampVideo    float64   `json:"timestamp_video"`
	TimestampRecorded time.Time `json:"timestamp_recorded"`
	TableID           string    `json:"table_id"`
	State             string    `json:"state"`
	CustomersCount    int       `json:"customers_count"`
	WaitersCount      int       `json:"waiters_count"`
	ScreenshotPath    string    `json:"screenshot_path"`
}

// Routes mounts the internal ingestion endpoints the analysis runner posts
// division/table events back to, guarded by the session JWT the dispatcher
// minted for that run. The session id never comes from the request body: it
// is taken from the verified token so a runner can only ever write events
// under the session it was dispatched for.
func Routes(r chi.Router, buf *Buffer, auth *middleware.JWTAuth) {
	r.Route("/internal/v1/events", func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Post("/division", buf.handleDivisionEvent)
		r.Post("/table", buf.handleTableEvent)
	})
}

func (b *Buffer) handleDivisionEvent(w http.ResponseWriter, r *http.Request) {
	log := logging.For("eventbuffer")
	sc, ok := middleware.GetSessionContext(r.Context())
	if !ok {
		http.Error(w, "missing session context", http.StatusUnauthorized)
		return
	}

	var p divisionEventPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}

	err := b.AddDivisionEvent(r.Context(), store.DivisionEvent{
		SessionID:          sc.SessionID,
		CameraID:           sc.CameraID,
		LocationID:         sc.LocationID,
		FrameNumber:        p.FrameNumber,
		TimestampVideo:     p.TimestampVideo,
		TimestampRecorded:  p.TimestampRecorded,
		State:              p.State,
		WalkingAreaWaiters: p.WalkingAreaWaiters,
		ServiceAreaWaiters: p.ServiceAreaWaiters,
		TotalStaff:         p.TotalStaff,
		ScreenshotPath:     p.ScreenshotPath,
	})
	if err != nil {
		log.Error().Err(err).Str("session_id", sc.SessionID).Msg("division event flush failed")
		http.Error(w, "failed to record event", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (b *Buffer) handleTableEvent(w http.ResponseWriter, r *http.Request) {
	log := logging.For("eventbuffer")
	sc, ok := middleware.GetSessionContext(r.Context())
	if !ok {
		http.Error(w, "missing session context", http.StatusUnauthorized)
		return
	}

	var p tableEventPayload
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		http.Error(w, "malformed body", http.StatusBadRequest)
		return
	}

	err := b.AddTableEvent(r.Context(), store.TableEvent{
		SessionID:         sc.SessionID,
		CameraID:          sc.CameraID,
		LocationID:        sc.LocationID,
		FrameNumber:       p.FrameNumber,
		TimestampVideo:    p.TimestampVideo,
		TimestampRecorded: p.TimestampRecorded,
		TableID:           p.TableID,
		State:             p.State,
		CustomersCount:    p.CustomersCount,
		WaitersCount:      p.WaitersCount,
		ScreenshotPath:    p.ScreenshotPath,
	})
	if err != nil {
		log.Error().Err(err).Str("session_id", sc.SessionID).Msg("table event flush failed")
		http.Error(w, "failed to record event", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
