// Package dispatch implements the Dispatcher (C6): a priority queue of
// discovered segments drained by a dynamically-sized worker pool, scaled by
// the GPU monitor's classification. Each worker invokes the external
// analysis runner as a subprocess, passing it a session-scoped JWT to post
// results back through the internal ingestion API.
package dispatch

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/asesmartice/floorwatch/internal/config"
	"github.com/asesmartice/floorwatch/internal/gpu"
	"github.com/asesmartice/floorwatch/internal/logging"
	"github.com/asesmartice/floorwatch/internal/segments"
	"github.com/asesmartice/floorwatch/internal/tokens"
)

// Outcome classifies how a single process() call ended, so the worker loop
// and its metrics can tell a real runner failure apart from a duplicate
// segment the runner itself caught and skipped (spec.md I1, P10).
type Outcome int

const (
	OutcomeCompleted Outcome = iota
	OutcomeFailed
	OutcomeSkipped
)

// Job is one segment queued for analysis.
type Job struct {
	Segment  segments.Segment
	Priority int // lower runs first; older segments get a lower priority value
}

// jobQueue is a container/heap priority queue ordered by Priority, then by
// Segment.Timestamp for ties.
type jobQueue []Job

func (q jobQueue) Len() int { return len(q) }
func (q jobQueue) Less(i, j int) bool {
	if q[i].Priority != q[j].Priority {
		return q[i].Priority < q[j].Priority
	}
	return q[i].Segment.Timestamp.Before(q[j].Segment.Timestamp)
}
func (q jobQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *jobQueue) Push(x any)   { *q = append(*q, x.(Job)) }
func (q *jobQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

// SessionTracker is the I1 uniqueness gate: CreateSession must fail (and
// Dispatcher must skip the job) if the (camera_id, filename) pair was
// already dispatched.
type SessionTracker interface {
	CreateSession(ctx context.Context, sessionID, cameraID, locationID, filename string, startedAt time.Time) error
	FinishSession(ctx context.Context, sessionID, status string, totalFrames int) error
	SessionFrameCount(ctx context.Context, sessionID string) (int, error)
}

// RunnerConfig describes how to invoke the external analysis runner.
type RunnerConfig struct {
	Command    string
	Args       []string // extra fixed args, e.g. model path
	ResultsDir string
	LocationID string
	TokenTTL   time.Duration
}

// Dispatcher owns the priority queue and the dynamically-sized worker pool.
type Dispatcher struct {
	cfg      RunnerConfig
	tracker  SessionTracker
	signer   *tokens.Manager
	settings config.GPUSettings

	mu       sync.Mutex
	queue    jobQueue
	notEmpty chan struct{}

	workerCtl chan int     // target worker count, consumed by the pool manager
	target    atomic.Int32 // current target, read by every worker to decide whether to exit
	wg        sync.WaitGroup

	queueDepth    prometheus.Gauge
	dispatched    prometheus.Counter
	skipped       prometheus.Counter
	runnerErrors  *prometheus.CounterVec
	activeWorkers prometheus.Gauge
}

func New(cfg RunnerConfig, tracker SessionTracker, signer *tokens.Manager, settings config.GPUSettings) *Dispatcher {
	d := &Dispatcher{
		cfg:       cfg,
		tracker:   tracker,
		signer:    signer,
		settings:  settings,
		notEmpty:  make(chan struct{}, 1),
		workerCtl: make(chan int, 1),

		queueDepth:    prometheus.NewGauge(prometheus.GaugeOpts{Name: "floorwatch_dispatch_queue_depth", Help: "Segments waiting to be dispatched."}),
		dispatched:    prometheus.NewCounter(prometheus.CounterOpts{Name: "floorwatch_dispatch_jobs_total", Help: "Segments dispatched to the analysis runner."}),
		skipped:       prometheus.NewCounter(prometheus.CounterOpts{Name: "floorwatch_dispatch_skipped_total", Help: "Segments skipped as duplicates (I1)."}),
		runnerErrors:  prometheus.NewCounterVec(prometheus.CounterOpts{Name: "floorwatch_dispatch_runner_errors_total", Help: "Analysis runner invocations that exited non-zero."}, []string{"camera_id"}),
		activeWorkers: prometheus.NewGauge(prometheus.GaugeOpts{Name: "floorwatch_dispatch_active_workers", Help: "Current worker pool size."}),
	}
	heap.Init(&d.queue)
	return d
}

func (d *Dispatcher) Register(reg *prometheus.Registry) {
	reg.MustRegister(d.queueDepth, d.dispatched, d.skipped, d.runnerErrors, d.activeWorkers)
}

// Enqueue adds segments to the priority queue, oldest first. Called by the
// controller's scheduler tick after each segments.Scan.
func (d *Dispatcher) Enqueue(segs []segments.Segment) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, seg := range segs {
		heap.Push(&d.queue, Job{Segment: seg, Priority: i})
	}
	d.queueDepth.Set(float64(d.queue.Len()))
	select {
	case d.notEmpty <- struct{}{}:
	default:
	}
}

func (d *Dispatcher) pop() (Job, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.queue.Len() == 0 {
		return Job{}, false
	}
	job := heap.Pop(&d.queue).(Job)
	d.queueDepth.Set(float64(d.queue.Len()))
	return job, true
}

// requeue puts a job back on the priority queue at its original priority.
// Used by a worker that notices mid-drain that the pool shrank below its
// own index: it has already popped the job and must not drop it on the
// floor before exiting (spec.md §4.6).
func (d *Dispatcher) requeue(job Job) {
	d.mu.Lock()
	defer d.mu.Unlock()
	heap.Push(&d.queue, job)
	d.queueDepth.Set(float64(d.queue.Len()))
	select {
	case d.notEmpty <- struct{}{}:
	default:
	}
}

// Run starts the worker pool at settings.MinWorkers and blocks until ctx is
// cancelled, resizing the pool on each ApplyScale call in the meantime.
func (d *Dispatcher) Run(ctx context.Context) {
	log := logging.For("dispatch")
	current := d.settings.MinWorkers
	if current < 1 {
		current = 1
	}

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.target.Store(int32(current))
	for i := 0; i < current; i++ {
		d.startWorker(workerCtx, i)
	}
	d.activeWorkers.Set(float64(current))
	nextIndex := current

	for {
		select {
		case <-ctx.Done():
			d.wg.Wait()
			return
		case target := <-d.workerCtl:
			if target == current {
				continue
			}
			d.target.Store(int32(target))
			if target > current {
				for i := nextIndex; i < nextIndex+(target-current); i++ {
					d.startWorker(workerCtx, i)
				}
				nextIndex += target - current
			} else {
				// Scaling down: each worker whose index is >= target notices
				// d.target dropped below it next time it wakes, puts back any
				// job it already popped, and exits on its own (workerLoop).
				// We never kill an in-flight analysis run.
				log.Info().Int("from", current).Int("to", target).Msg("scaling worker pool down, workers exit on their own once they notice")
			}
			current = target
			d.activeWorkers.Set(float64(current))
		}
	}
}

// ApplyScale is called by the controller after gpu.Monitor.Evaluate to
// request a new worker count, clamped to [MinWorkers, MaxWorkers]. EMERGENCY
// shrinks straight to MinWorkers in one tick rather than decrementing by one
// like SCALE_DOWN (spec.md §4.5/§4.6, P9, scenario 3).
func (d *Dispatcher) ApplyScale(decision gpu.Decision, current int) int {
	target := current
	switch decision {
	case gpu.DecisionScaleUp:
		target = current + 1
	case gpu.DecisionScaleDown:
		target = current - 1
	case gpu.DecisionEmergency:
		target = d.settings.MinWorkers
	}
	if target < d.settings.MinWorkers {
		target = d.settings.MinWorkers
	}
	if target > d.settings.MaxWorkers {
		target = d.settings.MaxWorkers
	}
	select {
	case d.workerCtl <- target:
	default:
	}
	return target
}

func (d *Dispatcher) startWorker(ctx context.Context, index int) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.workerLoop(ctx, index)
	}()
}

// workerLoop is one pool slot. index is fixed for the worker's lifetime;
// whenever the worker wakes it compares index against the live target and
// exits if the pool has shrunk to or below it, requeuing any job it already
// popped first (spec.md §4.6: "puts its current job back and exits").
func (d *Dispatcher) workerLoop(ctx context.Context, index int) {
	log := logging.For("dispatch")
	for {
		select {
		case <-ctx.Done():
			return
		case <-d.notEmpty:
		case <-time.After(time.Second):
		}

		if int(d.target.Load()) <= index {
			log.Info().Int("worker", index).Msg("worker pool shrank below my index, exiting")
			return
		}

		for {
			job, ok := d.pop()
			if !ok {
				break
			}
			if int(d.target.Load()) <= index {
				d.requeue(job)
				log.Info().Int("worker", index).Msg("worker pool shrank below my index, put job back and exiting")
				return
			}
			switch outcome, err := d.process(ctx, job); outcome {
			case OutcomeSkipped:
				log.Info().Str("camera_id", job.Segment.CameraID).Str("file", job.Segment.Filename).Msg("duplicate segment skipped")
				d.skipped.Inc()
			case OutcomeFailed:
				log.Error().Err(err).Str("camera_id", job.Segment.CameraID).Str("file", job.Segment.Filename).Msg("dispatch job failed")
				d.runnerErrors.WithLabelValues(job.Segment.CameraID).Inc()
			}
		}
	}
}

// process enforces I1 (CreateSession's UNIQUE constraint), mints the
// session token, and runs the analysis runner synchronously - one worker
// goroutine processes one segment at a time by design, parallelism comes
// from the worker count, not from overlapping a single worker's jobs.
//
// The runner's terminal exit codes are 0 success, 1 error, 2 duplicate
// skipped (spec.md §6/§7, P10): code 2 is reported as OutcomeSkipped, a
// non-error outcome distinct from a real failure.
func (d *Dispatcher) process(ctx context.Context, job Job) (Outcome, error) {
	seg := job.Segment
	sessionID := uuid.New().String()

	if err := d.tracker.CreateSession(ctx, sessionID, seg.CameraID, d.cfg.LocationID, seg.Filename, time.Now()); err != nil {
		return OutcomeSkipped, fmt.Errorf("session already dispatched or could not be created: %w", err)
	}

	// The runner and the session bookkeeping after it use a context that a
	// controller stop does not cancel, so an in-flight run is never killed.
	runCtx := context.WithoutCancel(ctx)

	token, err := d.signer.GenerateSessionToken(sessionID, seg.CameraID, d.cfg.LocationID, d.cfg.TokenTTL)
	if err != nil {
		d.finish(runCtx, sessionID, "failed")
		return OutcomeFailed, fmt.Errorf("minting session token: %w", err)
	}

	args := append([]string{}, d.cfg.Args...)
	args = append(args,
		"--input", seg.Path,
		"--camera-id", seg.CameraID,
		"--session-id", sessionID,
		"--results-dir", d.cfg.ResultsDir,
	)

	cmd := exec.CommandContext(runCtx, d.cfg.Command, args...)
	cmd.Env = append(cmd.Environ(), "FLOORWATCH_SESSION_TOKEN="+token)

	runErr := cmd.Run()

	var exitErr *exec.ExitError
	switch {
	case runErr == nil:
		d.dispatched.Inc()
		d.finish(runCtx, sessionID, "completed")
		return OutcomeCompleted, nil
	case errors.As(runErr, &exitErr) && exitErr.ExitCode() == 2:
		d.finish(runCtx, sessionID, "duplicate")
		return OutcomeSkipped, nil
	default:
		d.finish(runCtx, sessionID, "failed")
		return OutcomeFailed, fmt.Errorf("analysis runner exited: %w", runErr)
	}
}

// finish looks up how many frames the runner recorded (via the events the
// runner wrote through C7) and closes out the session row, per spec.md §3
// ("end_time and total_frames written at completion"). Logged, not
// returned: a finalization failure shouldn't mask the outcome the caller
// already determined from the runner itself.
func (d *Dispatcher) finish(ctx context.Context, sessionID, status string) {
	log := logging.For("dispatch")
	frames, err := d.tracker.SessionFrameCount(ctx, sessionID)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("counting session frames")
	}
	if err := d.tracker.FinishSession(ctx, sessionID, status, frames); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("finishing session")
	}
}
