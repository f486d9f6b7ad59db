package controller

import (
	"context"
	"syscall"
	"time"

	"github.com/asesmartice/floorwatch/internal/logging"
)

// ReapZombies periodically calls wait4(WNOHANG) to collect any child process
// that exited without an explicit Wait from its owner - a defensive backstop
// for the analysis runner subprocess should its owning worker goroutine ever
// die before reaping it itself (e.g. on a panic mid-dispatch).
func ReapZombies(ctx context.Context, interval time.Duration) {
	log := logging.For("controller")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				var ws syscall.WaitStatus
				pid, err := syscall.Wait4(-1, &ws, syscall.WNOHANG, nil)
				if pid <= 0 || err != nil {
					break
				}
				log.Debug().Int("pid", pid).Msg("reaped zombie child process")
			}
		}
	}
}
