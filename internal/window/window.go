// Package window implements the pure clock/window evaluator (C2): a total
// function from (now, windows) to the active window, with no side effects
// and no dependency on any other component. Kept dependency-free on purpose
// so the scheduling invariants (P1, P2, boundary half-open semantics) are
// checkable without spinning up the rest of the daemon.
package window

import (
	"fmt"
	"time"
)

// Capture is one daily local-time capture window, half-open [start, end).
type Capture struct {
	StartHour   int `yaml:"start_hour"`
	StartMinute int `yaml:"start_minute"`
	EndHour     int `yaml:"end_hour"`
	EndMinute   int `yaml:"end_minute"`
}

func (w Capture) startMinutes() int { return w.StartHour*60 + w.StartMinute }
func (w Capture) endMinutes() int   { return w.EndHour*60 + w.EndMinute }

// Processing is the daily local-time processing window, hour granularity.
type Processing struct {
	StartHour int `yaml:"start_hour"`
	EndHour   int `yaml:"end_hour"`
}

// ValidateCaptureWindows checks the non-overlap invariant at load time; a
// violation here is a ConfigError per §7, not a runtime condition.
func ValidateCaptureWindows(windows []Capture) error {
	for i, a := range windows {
		if a.startMinutes() >= a.endMinutes() {
			return fmt.Errorf("capture window %d: start must be before end", i)
		}
		for j, b := range windows {
			if i == j {
				continue
			}
			if a.startMinutes() < b.endMinutes() && b.startMinutes() < a.endMinutes() {
				return fmt.Errorf("capture windows %d and %d overlap", i, j)
			}
		}
	}
	return nil
}

// minutesSinceMidnight converts now to local minutes-since-midnight.
func minutesSinceMidnight(now time.Time) int {
	return now.Hour()*60 + now.Minute()
}

// ActiveCapture returns the unique window with start <= M < end, or ok=false.
// Ties are impossible given ValidateCaptureWindows passed at load time.
func ActiveCapture(now time.Time, windows []Capture) (Capture, bool) {
	m := minutesSinceMidnight(now)
	for _, w := range windows {
		if w.startMinutes() <= m && m < w.endMinutes() {
			return w, true
		}
	}
	return Capture{}, false
}

// RemainingSeconds returns the whole seconds left until the window's end
// boundary. The capture path does not call it: recorders run until the
// supervisor stops them at the window edge.
func RemainingSeconds(now time.Time, w Capture) int {
	m := minutesSinceMidnight(now)
	remainingMinutes := w.endMinutes() - m
	if remainingMinutes < 0 {
		remainingMinutes = 0
	}
	// Subtract the seconds already elapsed in the current minute so the
	// boundary is exact, not rounded up to the next whole minute.
	return remainingMinutes*60 - now.Second()
}

// InProcessingWindow reports whether now falls in [StartHour, EndHour) local
// time. Hour granularity per §3's ProcessingWindow definition.
func InProcessingWindow(now time.Time, p Processing) bool {
	h := now.Hour()
	if p.StartHour <= p.EndHour {
		return h >= p.StartHour && h < p.EndHour
	}
	// Wrap-around window (e.g. 22 -> 6) is not part of spec.md's examples but
	// the evaluator stays total rather than panicking on it.
	return h >= p.StartHour || h < p.EndHour
}
