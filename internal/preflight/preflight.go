// Package preflight implements the startup checks the Service Controller
// (C10) runs before transitioning Init -> Running: storage free space, model
// files present, and clock sanity. Any hard failure here is a ConfigError
// per spec.md §7 and must stop the daemon from starting rather than limping
// into a broken Running state.
package preflight

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/asesmartice/floorwatch/internal/errs"
)

// Options bounds what preflight considers acceptable.
type Options struct {
	DataRoot          string
	ModelPaths        []string
	MinFreeBytes      uint64
	MaxClockDriftFrom time.Time // zero value disables the clock check
	MaxClockDrift     time.Duration
}

// Run executes every check and returns the first failure wrapped with
// errs.Config (kind KindConfig), or nil if the appliance is fit to start.
func Run(opts Options) error {
	if err := checkFreeSpace(opts.DataRoot, opts.MinFreeBytes); err != nil {
		return err
	}
	if err := checkModelFiles(opts.ModelPaths); err != nil {
		return err
	}
	if err := checkClockSanity(opts.MaxClockDriftFrom, opts.MaxClockDrift); err != nil {
		return err
	}
	return nil
}

func checkFreeSpace(dataRoot string, minFreeBytes uint64) error {
	if minFreeBytes == 0 {
		return nil
	}
	var st unix.Statfs_t
	if err := unix.Statfs(dataRoot, &st); err != nil {
		return errs.Config("stat data root "+dataRoot, err)
	}
	free := st.Bavail * uint64(st.Bsize)
	if free < minFreeBytes {
		return errs.Config("disk space", fmt.Errorf("only %d bytes free at %s, need at least %d", free, dataRoot, minFreeBytes))
	}
	return nil
}

func checkModelFiles(paths []string) error {
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return errs.Config("model file "+p, err)
		}
		if info.IsDir() {
			return errs.Config("model file "+p, errors.New("path is a directory, not a file"))
		}
		if info.Size() == 0 {
			return errs.Config("model file "+p, errors.New("file is empty"))
		}
	}
	return nil
}

// checkClockSanity is a no-op if maxDriftFrom is the zero time - it exists
// mainly so a deployment with access to a trusted time source (e.g. an NTP
// query result passed in by the caller) can assert the system clock hasn't
// drifted enough to corrupt the capture-window and segment-date logic that
// everything else in the daemon assumes is accurate.
func checkClockSanity(maxDriftFrom time.Time, maxDrift time.Duration) error {
	if maxDriftFrom.IsZero() {
		return nil
	}
	drift := time.Since(maxDriftFrom)
	if drift < 0 {
		drift = -drift
	}
	if drift > maxDrift {
		return errs.Config("clock sanity", fmt.Errorf("system clock drift %s exceeds allowed %s", drift, maxDrift))
	}
	return nil
}
