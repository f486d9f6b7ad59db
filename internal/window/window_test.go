package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func at(h, m, s int) time.Time {
	return time.Date(2026, 7, 31, h, m, s, 0, time.Local)
}

func TestValidateCaptureWindows(t *testing.T) {
	ok := []Capture{
		{11, 30, 14, 0},
		{17, 30, 22, 0},
	}
	require.NoError(t, ValidateCaptureWindows(ok))

	overlapping := []Capture{
		{11, 30, 14, 0},
		{13, 0, 15, 0},
	}
	require.Error(t, ValidateCaptureWindows(overlapping))

	inverted := []Capture{{14, 0, 11, 30}}
	require.Error(t, ValidateCaptureWindows(inverted))
}

func TestActiveCapture_HalfOpen(t *testing.T) {
	windows := []Capture{{11, 30, 14, 0}}

	w, ok := ActiveCapture(at(11, 30, 0), windows)
	assert.True(t, ok)
	assert.Equal(t, windows[0], w)

	_, ok = ActiveCapture(at(14, 0, 0), windows)
	assert.False(t, ok, "end boundary is exclusive")

	_, ok = ActiveCapture(at(11, 29, 59), windows)
	assert.False(t, ok)
}

func TestRemainingSeconds(t *testing.T) {
	w := Capture{11, 30, 14, 0}

	// Exactly 1 second before the boundary.
	got := RemainingSeconds(at(13, 59, 59), w)
	assert.Equal(t, 1, got)

	got = RemainingSeconds(at(11, 30, 0), w)
	assert.Equal(t, int((14*60-11*60-30)*60), got)
}

func TestInProcessingWindow(t *testing.T) {
	p := Processing{StartHour: 0, EndHour: 23}
	assert.True(t, InProcessingWindow(at(12, 0, 0), p))
	assert.False(t, InProcessingWindow(at(23, 0, 0), p))
}
