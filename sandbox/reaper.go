package sandbox

import (
	"context"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/PaiCY-T/LLM-strategy-generator-sub011/config"
	"github.com/PaiCY-T/LLM-strategy-generator-sub011/metrics"
)

// Sweeper removes abandoned environments. Implemented by Reaper; the
// transport layer depends on this instead of the concrete type.
type Sweeper interface {
	Cleanup(ctx context.Context) (int, error)
}

// Reaper removes environments whose owning process died before cleaning
// up. It is idempotent and safe to run concurrently with live traffic: an
// in-flight request keeps refreshing its heartbeat, so only environments
// whose heartbeat has gone stale beyond the grace period are touched.
type Reaper struct {
	runtime Runtime
	logger  *zap.Logger
	grace   time.Duration
}

// NewReaper creates a Reaper with the configured grace period.
func NewReaper(logger *zap.Logger, runtime Runtime, cfg *config.Config) *Reaper {
	return &Reaper{
		runtime: runtime,
		logger:  logger,
		grace:   cfg.ReapGracePeriod(),
	}
}

// Cleanup sweeps once and returns how many environments were removed.
// The container engine, not any in-process state, is the source of truth:
// a crashed owner takes its bookkeeping with it, the engine's labels
// survive.
func (r *Reaper) Cleanup(ctx context.Context) (int, error) {
	handles, err := r.runtime.List(ctx, LabelManaged, LabelManagedValue)
	if err != nil {
		return 0, infraErr("orphan listing", err)
	}

	now := time.Now()
	removed := 0

	for _, h := range handles {
		if !r.isOrphan(h, now) {
			continue
		}

		if err := r.runtime.Remove(ctx, h.ID); err != nil {
			r.logger.Error("failed to remove orphaned environment",
				zap.String("id", h.ID), zap.Error(err))
			metrics.CleanupFailuresTotal.Inc()
			continue
		}

		if scratch := h.Labels[LabelScratch]; scratch != "" {
			if err := os.RemoveAll(scratch); err != nil {
				r.logger.Warn("failed to remove orphaned scratch directory",
					zap.String("path", scratch), zap.Error(err))
				metrics.CleanupFailuresTotal.Inc()
			}
		}

		removed++
		metrics.OrphansReapedTotal.Inc()
		r.logger.Info("reaped orphaned environment",
			zap.String("id", h.ID),
			zap.String("name", h.Name),
			zap.Time("created_at", h.CreatedAt))
	}

	return removed, nil
}

// isOrphan decides liveness from the heartbeat file, not the environment's
// age: a slow but legitimately owned request keeps its heartbeat fresh no
// matter how long it runs.
func (r *Reaper) isOrphan(h Handle, now time.Time) bool {
	scratch := h.Labels[LabelScratch]
	if scratch == "" {
		// Labeled as ours but no scratch recorded: nothing can own it.
		return true
	}

	age, err := heartbeatAge(scratch, now)
	if err != nil {
		// Scratch or heartbeat gone while the environment remains: the
		// owner is past the point where it could still clean up.
		return true
	}

	return age > r.grace
}

// RunScheduled sweeps on an interval until ctx is canceled. One sweep runs
// immediately at startup to clear leftovers from a previous crash.
func (r *Reaper) RunScheduled(ctx context.Context, interval time.Duration) {
	if _, err := r.Cleanup(ctx); err != nil {
		r.logger.Error("startup orphan sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			count, err := r.Cleanup(ctx)
			if err != nil {
				r.logger.Error("scheduled orphan sweep failed", zap.Error(err))
				continue
			}
			if count > 0 {
				r.logger.Warn("orphan sweep removed environments", zap.Int("count", count))
			}
		}
	}
}
