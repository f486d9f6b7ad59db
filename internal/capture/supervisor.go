package capture

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/asesmartice/floorwatch/internal/config"
	"github.com/asesmartice/floorwatch/internal/logging"
	"github.com/asesmartice/floorwatch/internal/window"
)

// Supervisor owns one Recorder per enabled camera and starts/stops them as
// capture windows open and close. It is driven by Tick, called once per
// scheduler cycle (30s by default) by the controller - there is no internal
// ticker of its own, keeping every component's timing visible in one place.
type Supervisor struct {
	recorders map[string]*Recorder
	windows   []window.Capture

	mu       sync.Mutex
	active   map[string]bool
	sessions prometheus.Counter
	errors   *prometheus.CounterVec
}

func NewSupervisor(cfg *config.Config, videosDir string) *Supervisor {
	segLen := time.Duration(cfg.Settings.SegmentLengthSeconds) * time.Second
	finalize := time.Duration(cfg.Settings.FinalizationBudgetSec) * time.Second

	recorders := make(map[string]*Recorder)
	for _, cam := range cfg.EnabledCameras() {
		recorders[cam.CameraID] = NewRecorder(cam, videosDir, segLen, finalize)
	}

	sessions := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "floorwatch_capture_sessions_started_total",
		Help: "Number of recorder sessions started across all cameras.",
	})
	errors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "floorwatch_capture_session_errors_total",
		Help: "Recorder start failures and recorders found dead mid-window, by camera.",
	}, []string{"camera_id"})

	return &Supervisor{
		recorders: recorders,
		windows:   cfg.Settings.CaptureWindows,
		active:    make(map[string]bool),
		sessions:  sessions,
		errors:    errors,
	}
}

// Register adds the Supervisor's metrics to reg. Call once at startup.
func (s *Supervisor) Register(reg *prometheus.Registry) {
	reg.MustRegister(s.sessions, s.errors)
}

// Tick evaluates the active capture window against now and starts or stops
// each camera's recorder to match. Idempotent - calling it twice in the same
// window is a no-op for cameras already in the right state.
func (s *Supervisor) Tick(ctx context.Context, now time.Time) {
	log := logging.For("capture")
	_, inWindow := window.ActiveCapture(now, s.windows)

	s.mu.Lock()
	defer s.mu.Unlock()

	for camID, rec := range s.recorders {
		wasActive := s.active[camID]
		switch {
		case inWindow && !wasActive:
			if err := rec.Start(ctx); err != nil {
				log.Error().Err(err).Str("camera_id", camID).Msg("failed to start recorder")
				s.errors.WithLabelValues(camID).Inc()
				continue
			}
			s.sessions.Inc()
			s.active[camID] = true
		case !inWindow && wasActive:
			rec.Stop()
			s.active[camID] = false
		case inWindow && wasActive && !rec.Running():
			// ffmpeg died mid-window (e.g. camera unreachable); restart it so a
			// transient RTSP drop doesn't end the session for the rest of the
			// window.
			log.Warn().Str("camera_id", camID).Msg("recorder died mid-window, restarting")
			s.errors.WithLabelValues(camID).Inc()
			if err := rec.Start(ctx); err != nil {
				log.Error().Err(err).Str("camera_id", camID).Msg("restart failed")
				s.active[camID] = false
			}
		}
	}
}

// StopAll stops every running recorder. Called on shutdown.
func (s *Supervisor) StopAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for camID, rec := range s.recorders {
		if s.active[camID] {
			rec.Stop()
			s.active[camID] = false
		}
	}
}
