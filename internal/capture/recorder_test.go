package capture

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asesmartice/floorwatch/internal/config"
)

func TestFfmpegArgs_ContainsReconnectAndTransportFlags(t *testing.T) {
	cam := config.CameraConfig{CameraID: "cam_patio", Host: "192.168.1.35", Port: 554, Transport: "tcp"}
	r := NewRecorder(cam, t.TempDir(), 60*time.Second, 30*time.Second)

	args := r.ffmpegArgs("/tmp/out_%Y%m%d_%H%M%S.mp4")

	assert.Contains(t, args, "-reconnect")
	assert.Contains(t, args, "-stimeout")
	assert.Contains(t, args, "-rtsp_transport")
	assert.Contains(t, args, "tcp")
	assert.Contains(t, args, "copy")
	assert.Contains(t, args, "segment")
}

// fakeFFmpeg installs a shell script named ffmpeg on PATH that sleeps until
// killed, so Start/Stop can be exercised without a real camera or ffmpeg
// binary.
func fakeFFmpeg(t *testing.T) {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("process-group signalling test requires linux")
	}
	dir := t.TempDir()
	script := filepath.Join(dir, "ffmpeg")
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\ntrap 'exit 0' TERM\nwhile true; do sleep 1; done\n"), 0755))
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func TestRecorder_StartStop(t *testing.T) {
	fakeFFmpeg(t)
	cam := config.CameraConfig{CameraID: "cam_patio", Host: "127.0.0.1", Port: 554, Transport: "tcp"}
	r := NewRecorder(cam, t.TempDir(), 60*time.Second, 5*time.Second)

	require.NoError(t, r.Start(context.Background()))
	assert.True(t, r.Running())

	require.Error(t, r.Start(context.Background()), "double start is rejected")

	r.Stop()
	assert.False(t, r.Running())
}

func TestRecorder_StopOnNeverStarted(t *testing.T) {
	cam := config.CameraConfig{CameraID: "cam_idle", Host: "127.0.0.1", Port: 554}
	r := NewRecorder(cam, t.TempDir(), 60*time.Second, 5*time.Second)
	r.Stop() // must not panic or block
	assert.False(t, r.Running())
}
