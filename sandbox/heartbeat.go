package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
)

// HeartbeatFileName is the liveness signal an owning process refreshes in
// its scratch directory while a request is in flight. The reaper trusts
// this file's age, not the container's, when deciding what is orphaned.
const HeartbeatFileName = ".heartbeat"

// touchHeartbeat creates or refreshes the heartbeat file.
func touchHeartbeat(scratchDir string) error {
	path := filepath.Join(scratchDir, HeartbeatFileName)
	now := time.Now()
	if err := os.WriteFile(path, []byte(now.UTC().Format(time.RFC3339)), 0o644); err != nil {
		return err
	}
	return os.Chtimes(path, now, now)
}

// heartbeatAge returns how long ago the heartbeat was last refreshed.
func heartbeatAge(scratchDir string, now time.Time) (time.Duration, error) {
	fi, err := os.Stat(filepath.Join(scratchDir, HeartbeatFileName))
	if err != nil {
		return 0, err
	}
	return now.Sub(fi.ModTime()), nil
}

// runHeartbeat refreshes the heartbeat on an interval until ctx is
// canceled. Refresh failures are logged; a missed beat only matters if the
// owner also crashes before cleanup.
func runHeartbeat(ctx context.Context, scratchDir string, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := touchHeartbeat(scratchDir); err != nil {
				logger.Warn("failed to refresh heartbeat",
					zap.String("scratch", scratchDir), zap.Error(err))
			}
		}
	}
}
