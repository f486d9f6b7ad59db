package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/asesmartice/floorwatch/internal/config"
	"github.com/asesmartice/floorwatch/internal/gpu"
	"github.com/asesmartice/floorwatch/internal/segments"
	"github.com/asesmartice/floorwatch/internal/tokens"
)

type fakeTracker struct {
	mu        sync.Mutex
	seen      map[string]bool
	fail      bool
	finished  map[string]string
	frameHits map[string]int
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{seen: map[string]bool{}, finished: map[string]string{}, frameHits: map[string]int{}}
}

func (f *fakeTracker) CreateSession(_ context.Context, _, cameraID, _, filename string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("forced failure")
	}
	key := cameraID + "/" + filename
	if f.seen[key] {
		return errors.New("UNIQUE constraint failed: sessions.camera_id, sessions.filename")
	}
	f.seen[key] = true
	return nil
}

func (f *fakeTracker) FinishSession(_ context.Context, sessionID, status string, _ int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished[sessionID] = status
	return nil
}

func (f *fakeTracker) SessionFrameCount(_ context.Context, sessionID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.frameHits[sessionID], nil
}

func testSegment() segments.Segment {
	return segments.Segment{CameraID: "cam_patio", Path: "/videos/cam_patio/camera_cam_patio_20260730_120000.mp4", Filename: "camera_cam_patio_20260730_120000.mp4"}
}

func TestDispatcher_EnqueueAndPopOrdersByPriority(t *testing.T) {
	d := New(RunnerConfig{Command: "true", TokenTTL: time.Minute}, newFakeTracker(), tokens.NewManager("k"), config.GPUSettings{MinWorkers: 1, MaxWorkers: 4})

	older := segments.Segment{CameraID: "cam_patio", Filename: "a.mp4", Timestamp: time.Unix(100, 0)}
	newer := segments.Segment{CameraID: "cam_patio", Filename: "b.mp4", Timestamp: time.Unix(200, 0)}
	d.Enqueue([]segments.Segment{newer, older})

	// Re-priority by insertion order inside Enqueue means 'newer' (index 0)
	// sorts before 'older' (index 1); assert the heap returns them in the
	// priority we assigned, not by timestamp.
	job1, ok := d.pop()
	require.True(t, ok)
	assert.Equal(t, "b.mp4", job1.Segment.Filename)

	job2, ok := d.pop()
	require.True(t, ok)
	assert.Equal(t, "a.mp4", job2.Segment.Filename)

	_, ok = d.pop()
	assert.False(t, ok)
}

func TestDispatcher_ProcessSkipsDuplicateSession(t *testing.T) {
	tracker := newFakeTracker()
	d := New(RunnerConfig{Command: "true", TokenTTL: time.Minute}, tracker, tokens.NewManager("k"), config.GPUSettings{MinWorkers: 1, MaxWorkers: 4})

	job := Job{Segment: testSegment()}
	outcome, err := d.process(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCompleted, outcome)

	outcome, err = d.process(context.Background(), job)
	require.Error(t, err, "second dispatch of the same camera/filename must fail I1's uniqueness check")
	assert.Equal(t, OutcomeSkipped, outcome)
}

func TestDispatcher_ProcessPropagatesRunnerFailure(t *testing.T) {
	d := New(RunnerConfig{Command: "false", TokenTTL: time.Minute}, newFakeTracker(), tokens.NewManager("k"), config.GPUSettings{MinWorkers: 1, MaxWorkers: 4})
	outcome, err := d.process(context.Background(), Job{Segment: testSegment()})
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, outcome)
}

func TestDispatcher_ProcessRecordsDuplicateExitCodeAsSkip(t *testing.T) {
	// Exit code 2 is the runner's own "already processed" signal (spec.md
	// §6/§7, P10) - distinct from a real failure (exit code 1) even though
	// both are non-zero exits.
	d := New(RunnerConfig{Command: "sh", Args: []string{"-c", "exit 2"}, TokenTTL: time.Minute}, newFakeTracker(), tokens.NewManager("k"), config.GPUSettings{MinWorkers: 1, MaxWorkers: 4})
	outcome, err := d.process(context.Background(), Job{Segment: testSegment()})
	require.NoError(t, err, "a duplicate skip is not an error")
	assert.Equal(t, OutcomeSkipped, outcome)
}

func TestDispatcher_ApplyScale_ClampsToConfiguredRange(t *testing.T) {
	d := New(RunnerConfig{Command: "true"}, newFakeTracker(), tokens.NewManager("k"), config.GPUSettings{MinWorkers: 1, MaxWorkers: 3})

	assert.Equal(t, 2, d.ApplyScale(gpu.DecisionScaleUp, 1))
	assert.Equal(t, 3, d.ApplyScale(gpu.DecisionScaleUp, 3), "clamped at MaxWorkers")
	assert.Equal(t, 1, d.ApplyScale(gpu.DecisionScaleDown, 1), "clamped at MinWorkers")
	assert.Equal(t, 1, d.ApplyScale(gpu.DecisionEmergency, 2))
}

func TestDispatcher_ApplyScale_EmergencyShrinksStraightToMin(t *testing.T) {
	// Scenario 3: 6 workers under EMERGENCY must drop straight to MinWorkers
	// in one tick, not decrement by one like SCALE_DOWN would.
	d := New(RunnerConfig{Command: "true"}, newFakeTracker(), tokens.NewManager("k"), config.GPUSettings{MinWorkers: 1, MaxWorkers: 6})
	assert.Equal(t, 1, d.ApplyScale(gpu.DecisionEmergency, 6))
}
