// Package diskwatch implements the disk watchdog described in spec.md §6:
// age-based pruning of the raw video and results directories, independent of
// the local store's own synced-row pruning (C9), and reporting free space as
// a gauge so an operator can see pressure building before it becomes an
// outage. Never deletes anything dated today, regardless of age settings.
package diskwatch

import (
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sys/unix"

	"github.com/asesmartice/floorwatch/internal/logging"
)

// dateDirRE matches the YYYYMMDD date directories videos/ and results/ are
// partitioned by.
var dateDirRE = regexp.MustCompile(`^(\d{4})(\d{2})(\d{2})$`)

type Watcher struct {
	videosDir, resultsDir string
	maxAge                time.Duration

	freeBytesGauge *prometheus.GaugeVec
	prunedDirs     prometheus.Counter
}

func NewWatcher(videosDir, resultsDir string, maxAge time.Duration) *Watcher {
	return &Watcher{
		videosDir:  videosDir,
		resultsDir: resultsDir,
		maxAge:     maxAge,
		freeBytesGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "floorwatch_disk_free_bytes",
			Help: "Free bytes on the filesystem backing a data directory.",
		}, []string{"dir"}),
		prunedDirs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "floorwatch_diskwatch_pruned_directories_total",
			Help: "Date-partitioned directories removed by the disk watchdog.",
		}),
	}
}

func (w *Watcher) Register(reg *prometheus.Registry) {
	reg.MustRegister(w.freeBytesGauge, w.prunedDirs)
}

// Tick reports free space for both directories and prunes date-partitioned
// subdirectories older than maxAge, skipping anything dated today even if
// maxAge is zero or misconfigured to be very small.
func (w *Watcher) Tick(now time.Time) error {
	log := logging.For("diskwatch")

	if err := w.reportFree(w.videosDir); err != nil {
		log.Warn().Err(err).Str("dir", w.videosDir).Msg("failed to stat free space")
	}
	if err := w.reportFree(w.resultsDir); err != nil {
		log.Warn().Err(err).Str("dir", w.resultsDir).Msg("failed to stat free space")
	}

	today := now.Format("20060102")
	for _, dir := range []string{w.videosDir, w.resultsDir} {
		pruned, err := w.pruneAged(dir, today, now)
		if err != nil {
			log.Error().Err(err).Str("dir", dir).Msg("prune pass failed")
			continue
		}
		if pruned > 0 {
			log.Info().Str("dir", dir).Int("removed", pruned).Msg("pruned aged date directories")
		}
	}
	return nil
}

func (w *Watcher) reportFree(dir string) error {
	var st unix.Statfs_t
	if err := unix.Statfs(dir, &st); err != nil {
		return err
	}
	free := st.Bavail * uint64(st.Bsize)
	w.freeBytesGauge.WithLabelValues(dir).Set(float64(free))
	return nil
}

func (w *Watcher) pruneAged(dir, today string, now time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		name := e.Name()
		if name == today {
			continue
		}
		m := dateDirRE.FindStringSubmatch(name)
		if m == nil {
			continue
		}
		y, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		d, _ := strconv.Atoi(m[3])
		dirDate := time.Date(y, time.Month(mo), d, 0, 0, 0, 0, now.Location())
		if dirDate.Format("20060102") == today {
			continue
		}
		if now.Sub(dirDate) <= w.maxAge {
			continue
		}
		if err := os.RemoveAll(filepath.Join(dir, name)); err != nil {
			return removed, err
		}
		removed++
		w.prunedDirs.Inc()
	}
	return removed, nil
}
