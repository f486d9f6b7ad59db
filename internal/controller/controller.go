// Package controller implements the Service Controller (C10): the process
// entry point's state machine, scheduler tick, and HTTP surface. It owns no
// domain logic itself - it drives the components built by every other
// package on a fixed cadence and exposes their state through /status.
package controller

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/asesmartice/floorwatch/internal/capture"
	"github.com/asesmartice/floorwatch/internal/cloudsync"
	"github.com/asesmartice/floorwatch/internal/config"
	"github.com/asesmartice/floorwatch/internal/diskwatch"
	"github.com/asesmartice/floorwatch/internal/dispatch"
	"github.com/asesmartice/floorwatch/internal/eventbuffer"
	"github.com/asesmartice/floorwatch/internal/gpu"
	"github.com/asesmartice/floorwatch/internal/logging"
	"github.com/asesmartice/floorwatch/internal/segments"
	"github.com/asesmartice/floorwatch/internal/store"
	"github.com/asesmartice/floorwatch/internal/window"
)

// State is the controller's own lifecycle, independent of any one
// component's internal state.
type State int

const (
	StateInit State = iota
	StateRunning
	StateStopping
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Controller wires together every component and drives the 30s scheduler
// tick. Exactly one instance runs per process.
type Controller struct {
	cfg       *config.Config
	videosDir string
	pidPath   string

	supervisor  *capture.Supervisor
	scanner     *segments.Scanner
	dispatcher  *dispatch.Dispatcher
	gpuMonitor  *gpu.Monitor
	buffer      *eventbuffer.Buffer
	replicator  *cloudsync.Replicator
	diskWatcher *diskwatch.Watcher
	store       *store.Store

	activeWorkers int

	mu    sync.RWMutex
	state State

	tickInterval time.Duration
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

// Deps bundles every already-constructed component Controller drives. Each
// is optional except Config - a nil component (the store included) is simply
// never ticked or closed, and an empty PIDPath skips the PID file (used by
// tests that only want to exercise part of the loop).
type Deps struct {
	Config      *config.Config
	VideosDir   string
	PIDPath     string
	Store       *store.Store
	Supervisor  *capture.Supervisor
	Scanner     *segments.Scanner
	Dispatcher  *dispatch.Dispatcher
	GPUMonitor  *gpu.Monitor
	Buffer      *eventbuffer.Buffer
	Replicator  *cloudsync.Replicator
	DiskWatcher *diskwatch.Watcher
}

func New(d Deps) *Controller {
	return &Controller{
		cfg:           d.Config,
		videosDir:     d.VideosDir,
		pidPath:       d.PIDPath,
		store:         d.Store,
		supervisor:    d.Supervisor,
		scanner:       d.Scanner,
		dispatcher:    d.Dispatcher,
		gpuMonitor:    d.GPUMonitor,
		buffer:        d.Buffer,
		replicator:    d.Replicator,
		diskWatcher:   d.DiskWatcher,
		state:         StateInit,
		tickInterval:  time.Duration(d.Config.Settings.SchedulerTickSeconds) * time.Second,
		activeWorkers: d.Config.Settings.GPU.MinWorkers,
	}
}

func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Controller) Register(reg *prometheus.Registry) {
	if c.supervisor != nil {
		c.supervisor.Register(reg)
	}
	if c.dispatcher != nil {
		c.dispatcher.Register(reg)
	}
	if c.gpuMonitor != nil {
		c.gpuMonitor.Register(reg)
	}
	if c.buffer != nil {
		c.buffer.Register(reg)
	}
	if c.replicator != nil {
		c.replicator.Register(reg)
	}
	if c.diskWatcher != nil {
		c.diskWatcher.Register(reg)
	}
}

// Start writes the PID file, starts the dispatcher worker pool and the
// buffer flush ticker as long-lived tasks, and begins the scheduler tick.
// Returns once the background tick loop has been launched; callers should
// then block on a signal and call Stop.
func (c *Controller) Start(ctx context.Context) error {
	if err := c.writePIDFile(); err != nil {
		return fmt.Errorf("controller: pid file: %w", err)
	}

	tickCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	if c.dispatcher != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			c.dispatcher.Run(tickCtx)
		}()
	}

	if c.buffer != nil {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			eventbuffer.FlushTicker(tickCtx, c.buffer, 10*time.Second)
		}()
	}

	if c.replicator != nil && c.cfg.Settings.CloudSync.IntervalSeconds > 0 {
		c.wg.Add(1)
		go func() {
			defer c.wg.Done()
			cloudsync.RunTicker(tickCtx, c.replicator, time.Duration(c.cfg.Settings.CloudSync.IntervalSeconds)*time.Second, cloudsync.ModeHourly)
		}()
	}

	c.setState(StateRunning)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.tickLoop(tickCtx)
	}()

	return nil
}

func (c *Controller) tickLoop(ctx context.Context) {
	interval := c.tickInterval
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	c.tick(ctx, time.Now())
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			c.tick(ctx, now)
		}
	}
}

// tick runs exactly one scheduler pass: C3 edge detection on every tick,
// then - only inside the processing window - segment discovery, dispatch
// enqueue, GPU evaluation/scaling, and disk watch.
func (c *Controller) tick(ctx context.Context, now time.Time) {
	log := logging.For("controller")

	if c.supervisor != nil {
		c.supervisor.Tick(ctx, now)
	}

	if !window.InProcessingWindow(now, c.cfg.Settings.ProcessingWindow) {
		return
	}

	if c.scanner != nil && c.dispatcher != nil {
		segs, err := c.scanner.Scan(ctx, now)
		if err != nil {
			log.Error().Err(err).Msg("segment scan failed")
		} else if len(segs) > 0 {
			c.dispatcher.Enqueue(segs)
		}
	}

	if c.gpuMonitor != nil && c.dispatcher != nil {
		decision, sample, err := c.gpuMonitor.Evaluate(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("gpu evaluation failed, holding worker count")
		} else {
			c.activeWorkers = c.dispatcher.ApplyScale(decision, c.activeWorkers)
			c.gpuMonitor.CommitDecision(ctx, decision)
			log.Debug().Str("decision", decision.String()).Int("temp_c", sample.TempC).Int("workers", c.activeWorkers).Msg("gpu tick")
		}
	}

	if c.diskWatcher != nil {
		if err := c.diskWatcher.Tick(now); err != nil {
			log.Warn().Err(err).Msg("disk watch tick failed")
		}
	}
}

// Stop runs the Stopping phase per spec.md §4.10: recorders first (two-stage
// finalization inside Supervisor.StopAll), then cancel the tick loop and let
// workers finish in-flight jobs within budget, then flush buffers, then a
// final cloudsync pass, then remove the PID file last.
func (c *Controller) Stop(ctx context.Context, workerBudget time.Duration) {
	log := logging.For("controller")
	c.setState(StateStopping)

	if c.supervisor != nil {
		c.supervisor.StopAll()
	}

	if c.cancel != nil {
		c.cancel()
	}

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(workerBudget):
		log.Warn().Msg("worker stop budget exceeded, proceeding with shutdown")
	}

	if c.buffer != nil {
		if err := c.buffer.FlushAll(ctx); err != nil {
			log.Error().Err(err).Msg("final buffer flush failed")
		}
	}

	if c.replicator != nil {
		if err := c.replicator.Run(ctx, cloudsync.ModeHourly); err != nil {
			log.Error().Err(err).Msg("final cloudsync run failed")
		}
	}

	if c.store != nil {
		_ = c.store.Close()
	}

	c.removePIDFile()
	c.setState(StateStopped)
}

func (c *Controller) writePIDFile() error {
	if c.pidPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(c.pidPath), 0750); err != nil {
		return err
	}
	return os.WriteFile(c.pidPath, []byte(strconv.Itoa(os.Getpid())), 0640)
}

func (c *Controller) removePIDFile() {
	if c.pidPath == "" {
		return
	}
	_ = os.Remove(c.pidPath)
}
