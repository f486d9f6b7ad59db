package diskwatch

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkdirDated(t *testing.T, root, name string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(root, name), 0750))
}

func TestTick_PrunesOldDateDirsButNeverToday(t *testing.T) {
	videos := t.TempDir()
	results := t.TempDir()

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	today := now.Format("20060102")
	old := now.AddDate(0, 0, -10).Format("20060102")
	recent := now.AddDate(0, 0, -1).Format("20060102")

	mkdirDated(t, videos, today)
	mkdirDated(t, videos, old)
	mkdirDated(t, videos, recent)
	mkdirDated(t, videos, "not_a_date")

	w := NewWatcher(videos, results, 3*24*time.Hour)
	require.NoError(t, w.Tick(now))

	_, err := os.Stat(filepath.Join(videos, today))
	assert.NoError(t, err, "today's directory must survive")

	_, err = os.Stat(filepath.Join(videos, old))
	assert.True(t, os.IsNotExist(err), "directory older than maxAge should be pruned")

	_, err = os.Stat(filepath.Join(videos, recent))
	assert.NoError(t, err, "directory within maxAge should survive")

	_, err = os.Stat(filepath.Join(videos, "not_a_date"))
	assert.NoError(t, err, "non-date directories are left alone")
}

func TestTick_MissingDirectoryIsNotAnError(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "missing"), filepath.Join(t.TempDir(), "also_missing"), time.Hour)
	assert.NoError(t, w.Tick(time.Now()))
}
