package sandbox

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Kill reasons carried on a policy-kill decision.
const (
	KillReasonCPU      = "cpu"
	KillReasonMemory   = "memory"
	KillReasonForkBomb = "fork_bomb"
	KillReasonAnomaly  = "combined_anomaly"
)

// killDecision is the single piece of information the monitor hands across
// the concurrency boundary: which policy tripped, and the sample that
// tripped it. It is written at most once.
type killDecision struct {
	Reason string
	Sample Sample
}

// monitor watches exactly one running environment. It samples resource
// signals on the policy's interval, tracks how long each signal has
// continuously exceeded its threshold, and kills the environment when a
// breach outlasts its sustained window. It never removes the environment;
// ownership of cleanup stays with the Manager.
type monitor struct {
	runtime Runtime
	id      string
	policy  SecurityPolicy
	logger  *zap.Logger

	kill     chan killDecision
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// Peaks are written only by the sampling goroutine and read only
	// after stop() has joined it.
	peakCPU    float64
	peakMemory float64
	peakPids   int
}

func newMonitor(runtime Runtime, id string, policy SecurityPolicy, logger *zap.Logger) *monitor {
	return &monitor{
		runtime: runtime,
		id:      id,
		policy:  policy,
		logger:  logger,
		kill:    make(chan killDecision, 1),
		done:    make(chan struct{}),
	}
}

func (m *monitor) start(ctx context.Context) {
	m.wg.Add(1)
	go m.loop(ctx)
}

// kills returns the channel carrying the terminal kill decision, if any.
func (m *monitor) kills() <-chan killDecision {
	return m.kill
}

// stop halts sampling and joins the monitor goroutine. Safe to call
// multiple times and after the environment already exited.
func (m *monitor) stop() {
	m.stopOnce.Do(func() { close(m.done) })
	m.wg.Wait()
}

// peaks reports the highest observed usage. Valid only after stop().
func (m *monitor) peaks() ResourceUsage {
	return ResourceUsage{
		PeakCPUPercent:    m.peakCPU,
		PeakMemoryPercent: m.peakMemory,
		PeakPids:          m.peakPids,
	}
}

func (m *monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.policy.SampleInterval)
	defer ticker.Stop()

	var cpuSince, memorySince, anomalySince time.Time

	for {
		select {
		case <-m.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		sample, err := m.runtime.Stats(ctx, m.id)
		if err != nil {
			// The environment has usually exited; the waiter resolves on
			// its own and stop() follows.
			m.logger.Debug("stats sample failed", zap.String("id", m.id), zap.Error(err))
			continue
		}
		now := sample.At

		if sample.CPUPercent > m.peakCPU {
			m.peakCPU = sample.CPUPercent
		}
		if sample.MemoryPercent > m.peakMemory {
			m.peakMemory = sample.MemoryPercent
		}
		if sample.PIDCount > m.peakPids {
			m.peakPids = sample.PIDCount
		}

		// Process-count abuse escalates faster than any sustained window
		// could confirm, so it kills on the first breaching sample.
		if sample.PIDCount > m.policy.MaxPids {
			m.decide(ctx, KillReasonForkBomb, sample)
			return
		}

		cpuSince = breachStart(cpuSince, now, sample.CPUPercent > m.policy.MaxCPUPercent)
		if sustained(cpuSince, now, m.policy.CPUSustainedWindow) {
			m.decide(ctx, KillReasonCPU, sample)
			return
		}

		memorySince = breachStart(memorySince, now, sample.MemoryPercent > m.policy.MaxMemoryPercent)
		if sustained(memorySince, now, m.policy.MemorySustainedWindow) {
			m.decide(ctx, KillReasonMemory, sample)
			return
		}

		score := anomalyCPUWeight*sample.CPUPercent + anomalyMemoryWeight*sample.MemoryPercent
		anomalySince = breachStart(anomalySince, now, score > m.policy.AnomalyScoreThreshold)
		if sustained(anomalySince, now, m.policy.AnomalySustainedWindow) {
			m.decide(ctx, KillReasonAnomaly, sample)
			return
		}
	}
}

// decide terminates the environment and publishes the one-shot decision.
func (m *monitor) decide(ctx context.Context, reason string, sample Sample) {
	m.logger.Warn("runtime policy violated, killing environment",
		zap.String("id", m.id),
		zap.String("reason", reason),
		zap.Float64("cpu_percent", sample.CPUPercent),
		zap.Float64("memory_percent", sample.MemoryPercent),
		zap.Int("pid_count", sample.PIDCount))

	if err := m.runtime.Kill(ctx, m.id); err != nil {
		m.logger.Error("failed to kill environment after policy breach",
			zap.String("id", m.id), zap.Error(err))
	}

	m.kill <- killDecision{Reason: reason, Sample: sample}
}

// breachStart tracks the start of a continuous breach: zero while the
// signal is under threshold, fixed at the first breaching sample otherwise.
func breachStart(since time.Time, now time.Time, breaching bool) time.Time {
	if !breaching {
		return time.Time{}
	}
	if since.IsZero() {
		return now
	}
	return since
}

// sustained reports whether a breach has lasted its full window.
func sustained(since time.Time, now time.Time, window time.Duration) bool {
	return !since.IsZero() && now.Sub(since) >= window
}
