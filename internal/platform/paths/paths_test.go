package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveDataRoot(t *testing.T) {
	os.Unsetenv("FLOORWATCH_DATA_ROOT")
	assert.Equal(t, DefaultDataRoot, ResolveDataRoot())

	os.Setenv("FLOORWATCH_DATA_ROOT", "/tmp/custom-data")
	defer os.Unsetenv("FLOORWATCH_DATA_ROOT")
	assert.Equal(t, "/tmp/custom-data", ResolveDataRoot())
}

func TestSafeJoin(t *testing.T) {
	base := "/var/lib/floorwatch"

	cases := []struct {
		name     string
		elements []string
		valid    bool
	}{
		{"normal", []string{"videos", "20260731"}, true},
		{"parent", []string{"..", "other"}, false},
		{"nested_parent", []string{"videos", "..", "..", "secrets"}, false},
		{"absolute", []string{"/etc/passwd"}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := SafeJoin(base, tc.elements...)
			if tc.valid {
				assert.NoError(t, err)
				assert.Contains(t, res, base)
			} else {
				if assert.Error(t, err) {
					assert.Contains(t, err.Error(), "traversal")
				}
			}
		})
	}
}

func TestEnsureDirs(t *testing.T) {
	tmpRoot := filepath.Join(os.TempDir(), "floorwatch_test_data")
	defer os.RemoveAll(tmpRoot)

	err := EnsureDirs(tmpRoot)
	assert.NoError(t, err)

	for _, sub := range []string{"config", "logs", "db", "tmp", "videos", "results"} {
		_, err := os.Stat(filepath.Join(tmpRoot, sub))
		assert.NoError(t, err, "subdirectory %s should exist", sub)
	}
}
