package controller

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asesmartice/floorwatch/internal/config"
	"github.com/asesmartice/floorwatch/internal/window"
)

func testConfig() *config.Config {
	return &config.Config{
		Settings: config.SystemSettings{
			SchedulerTickSeconds: 30,
			CaptureWindows:       []window.Capture{{StartHour: 0, StartMinute: 0, EndHour: 23, EndMinute: 59}},
			ProcessingWindow:     window.Processing{StartHour: 0, EndHour: 23},
			GPU:                  config.GPUSettings{MinWorkers: 2, MaxWorkers: 8},
		},
	}
}

func TestController_StartTransitionsToRunningAndStopToStopped(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "floorwatchd.pid")
	c := New(Deps{Config: testConfig(), PIDPath: pidPath})

	assert.Equal(t, StateInit, c.State())

	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, StateRunning, c.State())

	data, err := os.ReadFile(pidPath)
	require.NoError(t, err)
	pid, err := strconv.Atoi(string(data))
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	c.Stop(context.Background(), time.Second)
	assert.Equal(t, StateStopped, c.State())

	_, err = os.Stat(pidPath)
	assert.True(t, os.IsNotExist(err), "pid file must be removed on stop")
}

func TestController_TickSkipsDispatchOutsideProcessingWindow(t *testing.T) {
	cfg := testConfig()
	cfg.Settings.ProcessingWindow = window.Processing{StartHour: 1, EndHour: 2}
	c := New(Deps{Config: cfg})

	// Should not panic even with nil scanner/dispatcher/supervisor/gpuMonitor.
	c.tick(context.Background(), time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC))
}

func TestHealthz_ReflectsState(t *testing.T) {
	c := New(Deps{Config: testConfig()})
	r := chi.NewRouter()
	MountRoutes(r, c, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code, "not running yet")

	require.NoError(t, c.Start(context.Background()))
	t.Cleanup(func() { c.Stop(context.Background(), time.Second) })

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatus_ReturnsJSONPayload(t *testing.T) {
	c := New(Deps{Config: testConfig()})
	r := chi.NewRouter()
	MountRoutes(r, c, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	var payload StatusPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "init", payload.State)
}
