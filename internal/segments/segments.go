// Package segments implements the Segment Discovery component (C4): it
// walks the videos directory, applies the three discovery filters from §4.4,
// and returns work in filename-timestamp order for the dispatcher to consume.
package segments

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/asesmartice/floorwatch/internal/config"
)

// nameRE matches the recorder's output naming: camera_<id>_<YYYYMMDD>_<HHMMSS>.<ext>
var nameRE = regexp.MustCompile(`^camera_(.+)_(\d{8})_(\d{6})\.(mp4|mkv|ts)$`)

// Segment is one discovered, not-yet-dispatched video file.
type Segment struct {
	CameraID  string
	Path      string
	Filename  string
	Timestamp time.Time
}

// ProcessedChecker answers whether a segment has already been recorded in
// the local store (I1's uniqueness source of truth). Implemented by
// internal/store; accepting an interface here keeps segments independent of
// the storage engine.
type ProcessedChecker interface {
	IsProcessed(ctx context.Context, cameraID, filename string) (bool, error)
}

// Scanner discovers unprocessed segments under videosDir.
type Scanner struct {
	videosDir string
	cfg       *config.Config
	checker   ProcessedChecker
	cache     *lru.Cache[string, struct{}]
}

// NewScanner builds a Scanner. cacheSize bounds the "already processed" LRU
// that fronts ProcessedChecker - repeated scans of an append-only videos
// tree would otherwise re-query the store for the same old files every
// cycle.
func NewScanner(videosDir string, cfg *config.Config, checker ProcessedChecker, cacheSize int) (*Scanner, error) {
	cache, err := lru.New[string, struct{}](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("segments: building lru cache: %w", err)
	}
	return &Scanner{videosDir: videosDir, cfg: cfg, checker: checker, cache: cache}, nil
}

// Scan walks videosDir and returns every segment that passes F1 (not from
// today - today's files may still be open for writing), F2 (camera is
// enabled), and F3 (not already processed), sorted by filename timestamp
// ascending so the dispatcher works oldest-first.
func (s *Scanner) Scan(ctx context.Context, now time.Time) ([]Segment, error) {
	today := now.Format("20060102")

	var found []Segment
	err := filepath.WalkDir(s.videosDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		seg, ok := parseSegment(path)
		if !ok {
			return nil
		}

		// F1: today's date is excluded, it may still be rotating.
		if seg.Timestamp.Format("20060102") == today {
			return nil
		}
		// F2: camera must be known and enabled.
		cam, known := s.cfg.Cameras[seg.CameraID]
		if !known || !cam.Enabled {
			return nil
		}

		key := seg.CameraID + "/" + seg.Filename
		if _, cached := s.cache.Get(key); cached {
			return nil
		}

		// F3: not already recorded in the local store.
		processed, err := s.checker.IsProcessed(ctx, seg.CameraID, seg.Filename)
		if err != nil {
			return fmt.Errorf("checking processed state for %s: %w", seg.Filename, err)
		}
		if processed {
			s.cache.Add(key, struct{}{})
			return nil
		}

		found = append(found, seg)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(found, func(i, j int) bool { return found[i].Timestamp.Before(found[j].Timestamp) })
	return found, nil
}

func parseSegment(path string) (Segment, bool) {
	name := filepath.Base(path)
	m := nameRE.FindStringSubmatch(name)
	if m == nil {
		return Segment{}, false
	}

	dateStr, timeStr := m[2], m[3]
	year, _ := strconv.Atoi(dateStr[0:4])
	month, _ := strconv.Atoi(dateStr[4:6])
	day, _ := strconv.Atoi(dateStr[6:8])
	hour, _ := strconv.Atoi(timeStr[0:2])
	minute, _ := strconv.Atoi(timeStr[2:4])
	second, _ := strconv.Atoi(timeStr[4:6])

	ts := time.Date(year, time.Month(month), day, hour, minute, second, 0, time.Local)
	return Segment{
		CameraID:  m[1],
		Path:      path,
		Filename:  name,
		Timestamp: ts,
	}, true
}
