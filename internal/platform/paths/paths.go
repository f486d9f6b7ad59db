package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	DefaultDataRoot = "/var/lib/floorwatch"
)

// ResolveDataRoot returns the absolute path to the appliance's data directory
// (videos, results, db, logs, screenshots all live underneath it).
func ResolveDataRoot() string {
	root := os.Getenv("FLOORWATCH_DATA_ROOT")
	if root == "" {
		root = DefaultDataRoot
	}
	return root
}

// ResolveConfigDir returns the directory holding cameras.yaml, roi/*.yaml and
// settings.yaml.
func ResolveConfigDir(customDir string) string {
	if customDir != "" {
		return customDir
	}
	if dir := os.Getenv("FLOORWATCH_CONFIG_DIR"); dir != "" {
		return dir
	}
	return filepath.Join(ResolveDataRoot(), "config")
}

// VideosDir, ResultsDir, DBDir, LogsDir, ScreenshotsDir match the filesystem
// layout contract in §6: videos/YYYYMMDD/<camera_id>/..., results/..., db/...
func VideosDir(dataRoot string) string      { return filepath.Join(dataRoot, "videos") }
func ResultsDir(dataRoot string) string     { return filepath.Join(dataRoot, "results") }
func DBDir(dataRoot string) string          { return filepath.Join(dataRoot, "db") }
func LogsDir(dataRoot string) string        { return filepath.Join(dataRoot, "logs") }
func ScreenshotsDir(dataRoot string) string { return filepath.Join(DBDir(dataRoot), "screenshots") }

// EnsureDirs creates the standard data subdirectories if they don't exist.
func EnsureDirs(dataRoot string) error {
	subdirs := []string{"config", "logs", "db", "tmp", "videos", "results"}
	for _, sub := range subdirs {
		path := filepath.Join(dataRoot, sub)
		if err := os.MkdirAll(path, 0750); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", path, err)
		}
	}
	return nil
}

// SafeJoin joins path elements under base and rejects traversal outside it.
func SafeJoin(base string, elements ...string) (string, error) {
	for _, el := range elements {
		if filepath.IsAbs(el) {
			return "", fmt.Errorf("path traversal attempt detected: absolute element not allowed: %s", el)
		}
	}
	joined := filepath.Join(append([]string{base}, elements...)...)

	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}
	absJoined, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}

	if absJoined != absBase && !strings.HasPrefix(absJoined, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal attempt detected: %s is outside %s", absJoined, absBase)
	}
	return absJoined, nil
}
