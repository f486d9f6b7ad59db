// Command floorwatchd is the appliance's single long-running process: it
// wires together capture, segment discovery, GPU-scaled dispatch, event
// ingestion, cloud replication, and the disk watchdog behind one scheduler
// tick, and exposes /healthz, /metrics, /status, and /status/stream over a
// localhost-bound HTTP server. See spec.md §6 for the CLI and environment
// contract this file implements.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/asesmartice/floorwatch/internal/capture"
	"github.com/asesmartice/floorwatch/internal/cloudsync"
	"github.com/asesmartice/floorwatch/internal/config"
	"github.com/asesmartice/floorwatch/internal/controller"
	"github.com/asesmartice/floorwatch/internal/diskwatch"
	"github.com/asesmartice/floorwatch/internal/dispatch"
	"github.com/asesmartice/floorwatch/internal/eventbuffer"
	"github.com/asesmartice/floorwatch/internal/gpu"
	"github.com/asesmartice/floorwatch/internal/logging"
	"github.com/asesmartice/floorwatch/internal/middleware"
	"github.com/asesmartice/floorwatch/internal/platform/paths"
	"github.com/asesmartice/floorwatch/internal/preflight"
	"github.com/asesmartice/floorwatch/internal/segments"
	"github.com/asesmartice/floorwatch/internal/store"
	"github.com/asesmartice/floorwatch/internal/tokens"
)

const (
	exitOK          = 0
	exitConfigError = 1
	exitAlreadyRun  = 2
	exitNotRunning  = 3

	httpAddrDefault  = "127.0.0.1:8089"
	workerStopBudget = 35 * time.Second
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		os.Exit(runStart())
	case "stop":
		os.Exit(runStop())
	case "status":
		os.Exit(runStatus())
	case "restart":
		if code := runStop(); code != exitOK && code != exitNotRunning {
			os.Exit(code)
		}
		os.Exit(runStart())
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: floorwatchd <start|stop|status|restart>")
}

func pidFilePath(dataRoot string) string {
	return filepath.Join(paths.DBDir(dataRoot), "..", "floorwatchd.pid")
}

// runStart refuses to start if a live PID file exists, runs preflight, wires
// every component, and blocks until SIGTERM/SIGINT.
func runStart() int {
	dataRoot := paths.ResolveDataRoot()
	if err := paths.EnsureDirs(dataRoot); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize data root: %v\n", err)
		return exitConfigError
	}

	if err := logging.Configure(paths.LogsDir(dataRoot), zerolog.InfoLevel, "floorwatchd.log"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to configure logging: %v\n", err)
		return exitConfigError
	}
	controller.LogTailPath = filepath.Join(paths.LogsDir(dataRoot), "floorwatchd.log")
	log := logging.For("main")

	pidPath := pidFilePath(dataRoot)
	if pid, alive := livePID(pidPath); alive {
		fmt.Fprintf(os.Stderr, "floorwatchd already running (pid %d)\n", pid)
		return exitAlreadyRun
	}

	cfgDir := paths.ResolveConfigDir("")
	cfg, err := config.Load(cfgDir)
	if err != nil {
		log.Error().Err(err).Msg("config load failed")
		return exitConfigError
	}

	if err := preflight.Run(preflight.Options{
		DataRoot:     dataRoot,
		MinFreeBytes: 1 << 30, // 1 GiB floor
	}); err != nil {
		log.Error().Err(err).Msg("preflight checks failed, refusing to start")
		return exitConfigError
	}

	dbPath := filepath.Join(paths.DBDir(dataRoot), "floorwatch.db")
	st, err := store.Open(dbPath)
	if err != nil {
		log.Error().Err(err).Msg("failed to open local store")
		return exitConfigError
	}

	ctx, stopSignals := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stopSignals()

	go config.WatchForDrift(ctx, cfgDir)

	videosDir := paths.VideosDir(dataRoot)
	resultsDir := paths.ResultsDir(dataRoot)

	supervisor := capture.NewSupervisor(cfg, videosDir)

	scanner, err := segments.NewScanner(videosDir, cfg, st, 4096)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize segment scanner")
		return exitConfigError
	}

	signingKey := os.Getenv("FLOORWATCH_JWT_SIGNING_KEY")
	if signingKey == "" {
		log.Warn().Msg("FLOORWATCH_JWT_SIGNING_KEY not set, using the built-in development key")
		signingKey = "floorwatch-dev-signing-key"
	}
	signer := tokens.NewManager(signingKey)
	locationID := os.Getenv("FLOORWATCH_LOCATION_ID")

	dispatcher := dispatch.New(dispatch.RunnerConfig{
		Command:    analysisRunnerPath(),
		ResultsDir: resultsDir,
		LocationID: locationID,
		TokenTTL:   30 * time.Minute,
	}, st, signer, cfg.Settings.GPU)

	sampler := gpu.NewSampler(time.Duration(cfg.Settings.GPU.SampleIntervalSeconds) * time.Second)
	cooldowns := buildCooldownStore(log)
	gpuMonitor := gpu.NewMonitor(sampler, cooldowns, cfg.Settings.GPU)

	buffer := eventbuffer.NewBuffer(st, cfg.Settings.EventBuffer.BatchSize)

	var replicator *cloudsync.Replicator
	cloudClient := cloudsync.NewClient(
		os.Getenv("FLOORWATCH_CLOUD_URL"),
		os.Getenv("FLOORWATCH_CLOUD_API_KEY"),
		locationID,
		time.Duration(cfg.Settings.CloudSync.BatchTimeoutMs)*time.Millisecond,
	)
	if cloudClient == nil {
		log.Warn().Msg("cloud credentials absent, cloud replication disabled")
	} else {
		replicator = cloudsync.NewReplicator(st, cloudClient, cfg.Settings.CloudSync.BatchSize)
	}

	diskWatcher := diskwatch.NewWatcher(videosDir, resultsDir, time.Duration(cfg.Settings.CloudSync.RetentionHours)*time.Hour)

	ctl := controller.New(controller.Deps{
		Config:      cfg,
		VideosDir:   videosDir,
		PIDPath:     pidPath,
		Store:       st,
		Supervisor:  supervisor,
		Scanner:     scanner,
		Dispatcher:  dispatcher,
		GPUMonitor:  gpuMonitor,
		Buffer:      buffer,
		Replicator:  replicator,
		DiskWatcher: diskWatcher,
	})

	// Register into the default registry, which is the one promhttp.Handler()
	// serves on /metrics.
	registry := prometheus.DefaultRegisterer.(*prometheus.Registry)
	ctl.Register(registry)

	jwtAuth := middleware.NewJWTAuth(signer)

	r := chi.NewRouter()
	r.Use(middleware.RequestLogger)
	controller.MountRoutes(r, ctl, func(er chi.Router) {
		eventbuffer.Routes(er, buffer, jwtAuth)
	}, jwtAuth)

	httpAddr := os.Getenv("FLOORWATCH_HTTP_ADDR")
	if httpAddr == "" {
		httpAddr = httpAddrDefault
	}
	srv := &http.Server{Addr: httpAddr, Handler: r}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("http server failed")
		}
	}()

	go controller.ReapZombies(ctx, 10*time.Second)

	if err := ctl.Start(ctx); err != nil {
		log.Error().Err(err).Msg("controller failed to start")
		return exitConfigError
	}
	log.Info().Str("http_addr", httpAddr).Msg("floorwatchd running")

	<-ctx.Done()
	log.Info().Msg("shutdown signal received, stopping")

	ctl.Stop(context.Background(), workerStopBudget)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	return exitOK
}

// runStop sends SIGTERM to the PID in the pid file and waits briefly for it
// to exit, per the orderly-Stopping contract in spec.md §6.
func runStop() int {
	dataRoot := paths.ResolveDataRoot()
	pidPath := pidFilePath(dataRoot)

	pid, alive := livePID(pidPath)
	if !alive {
		fmt.Fprintln(os.Stderr, "floorwatchd is not running")
		return exitNotRunning
	}

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		fmt.Fprintf(os.Stderr, "failed to signal pid %d: %v\n", pid, err)
		return exitConfigError
	}

	for i := 0; i < 50; i++ {
		if _, alive := livePID(pidPath); !alive {
			return exitOK
		}
		time.Sleep(100 * time.Millisecond)
	}
	fmt.Fprintln(os.Stderr, "floorwatchd did not stop within the expected budget")
	return exitConfigError
}

func runStatus() int {
	httpAddr := os.Getenv("FLOORWATCH_HTTP_ADDR")
	if httpAddr == "" {
		httpAddr = httpAddrDefault
	}
	resp, err := http.Get(fmt.Sprintf("http://%s/status", httpAddr))
	if err != nil {
		fmt.Fprintf(os.Stderr, "floorwatchd is not reachable: %v\n", err)
		return exitNotRunning
	}
	defer resp.Body.Close()
	fmt.Printf("floorwatchd responded with status %d\n", resp.StatusCode)
	return exitOK
}

// livePID reads the pid file, if any, and probes liveness with signal 0,
// which the kernel doesn't deliver but still reports ESRCH for a pid that no
// longer exists. A pid since reused by another process reads as alive.
func livePID(pidPath string) (int, bool) {
	data, err := os.ReadFile(pidPath)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(string(data))
	if err != nil {
		return 0, false
	}
	if err := syscall.Kill(pid, syscall.Signal(0)); err != nil {
		return pid, false
	}
	return pid, true
}

func analysisRunnerPath() string {
	if p := os.Getenv("FLOORWATCH_ANALYSIS_RUNNER"); p != "" {
		return p
	}
	return "/opt/floorwatch/bin/analysis-runner"
}

func buildCooldownStore(log zerolog.Logger) gpu.CooldownStore {
	inProcess := gpu.NewInProcessCooldownStore()

	redisAddr := os.Getenv("FLOORWATCH_REDIS_ADDR")
	if redisAddr == "" {
		log.Info().Msg("FLOORWATCH_REDIS_ADDR not set, GPU cooldown state is in-process only")
		return inProcess
	}
	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	return gpu.NewFallbackCooldownStore(gpu.NewRedisCooldownStore(client), inProcess)
}
