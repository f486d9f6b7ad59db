// Package capture implements the per-camera recording pipeline (C3): one
// ffmpeg subprocess per camera, stream-copied straight off RTSP into rotated
// segment files, started and stopped on capture window edges.
package capture

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/asesmartice/floorwatch/internal/config"
	"github.com/asesmartice/floorwatch/internal/logging"
)

// Recorder owns one ffmpeg subprocess for one camera. It is not safe for
// concurrent Start/Stop calls - the supervisor serializes those per camera.
type Recorder struct {
	cam       config.CameraConfig
	videosDir string
	segLen    time.Duration
	finalize  time.Duration

	mu      sync.Mutex
	cmd     *exec.Cmd
	stopped chan struct{}
}

func NewRecorder(cam config.CameraConfig, videosDir string, segLen, finalizeBudget time.Duration) *Recorder {
	return &Recorder{cam: cam, videosDir: videosDir, segLen: segLen, finalize: finalizeBudget}
}

// Start launches ffmpeg, which records until Stop is called (or until it
// exits on its own); the segment_time passed to ffmpeg keeps individual
// files bounded. Segments land in videosDir/YYYYMMDD/<camera_id>/, dated by
// the local day Start was called on.
func (r *Recorder) Start(ctx context.Context) error {
	log := logging.For("capture").With().Str("camera_id", r.cam.CameraID).Logger()

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cmd != nil {
		return fmt.Errorf("recorder for %s already running", r.cam.CameraID)
	}

	camDir := filepath.Join(r.videosDir, time.Now().Format("20060102"), r.cam.CameraID)
	if err := os.MkdirAll(camDir, 0750); err != nil {
		return fmt.Errorf("create videos dir: %w", err)
	}

	pattern := filepath.Join(camDir, fmt.Sprintf("camera_%s_%%Y%%m%%d_%%H%%M%%S.mp4", r.cam.CameraID))
	args := r.ffmpegArgs(pattern)

	cmd := exec.Command("ffmpeg", args...)
	cmd.Stdout = nil
	cmd.Stderr = nil
	// DEVNULL both: a PIPE here fills its 64KB buffer and blocks ffmpeg
	// indefinitely once nobody reads it, silently stalling the recorder with
	// no error and no next-segment log line.
	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	cmd.Stdout = devNull
	cmd.Stderr = devNull
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		devNull.Close()
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	r.cmd = cmd
	r.stopped = make(chan struct{})
	log.Info().Str("event", "session_start").Str("transport", r.cam.Transport).Msg("recorder session started")

	go func() {
		defer devNull.Close()
		defer close(r.stopped)
		err := cmd.Wait()
		r.mu.Lock()
		if r.cmd == cmd {
			r.cmd = nil
		}
		r.mu.Unlock()
		if err != nil {
			log.Warn().Err(err).Str("event", "session_summary").Msg("ffmpeg exited")
		} else {
			log.Info().Str("event", "session_summary").Msg("ffmpeg exited cleanly")
		}
	}()

	return nil
}

func (r *Recorder) ffmpegArgs(outputPattern string) []string {
	transport := r.cam.Transport
	if transport == "" {
		transport = "tcp"
	}
	return []string{
		"-loglevel", "warning",
		"-rtsp_transport", transport,
		"-stimeout", "5000000", // microseconds; RTSP socket I/O timeout
		"-reconnect", "1",
		"-reconnect_at_eof", "1",
		"-reconnect_streamed", "1",
		"-reconnect_delay_max", "5",
		"-i", r.cam.RTSPURL(),
		"-c", "copy",
		"-f", "segment",
		"-segment_time", fmt.Sprintf("%d", int(r.segLen.Seconds())),
		"-segment_atclocktime", "1",
		"-reset_timestamps", "1",
		"-strftime", "1",
		outputPattern,
	}
}

// Stop sends SIGTERM to the ffmpeg process group and waits up to the
// finalization budget for it to flush and exit cleanly, escalating to
// SIGKILL if it hasn't by then. Safe to call on a Recorder that was never
// started.
func (r *Recorder) Stop() {
	r.mu.Lock()
	cmd := r.cmd
	stopped := r.stopped
	r.mu.Unlock()
	if cmd == nil {
		return
	}

	log := logging.For("capture").With().Str("camera_id", r.cam.CameraID).Logger()

	pgid, err := unix.Getpgid(cmd.Process.Pid)
	if err != nil {
		pgid = cmd.Process.Pid
	}
	if err := unix.Kill(-pgid, unix.SIGTERM); err != nil {
		log.Warn().Err(err).Msg("SIGTERM to ffmpeg process group failed")
	}

	select {
	case <-stopped:
	case <-time.After(r.finalize):
		log.Warn().Dur("budget", r.finalize).Msg("ffmpeg did not exit within finalization budget, sending SIGKILL")
		_ = unix.Kill(-pgid, unix.SIGKILL)
		<-stopped
	}

	r.mu.Lock()
	r.cmd = nil
	r.mu.Unlock()
}

// Running reports whether the subprocess is currently alive.
func (r *Recorder) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cmd != nil
}
