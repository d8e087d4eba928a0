package sandbox

import (
	"fmt"
	"time"

	"github.com/PaiCY-T/LLM-strategy-generator-sub011/config"
)

// SecurityPolicy holds the numeric thresholds the monitor treats as abuse.
// A signal must remain above its threshold for the whole of its sustained
// window before the environment is killed; single spikes are tolerated.
type SecurityPolicy struct {
	MaxCPUPercent    float64
	MaxMemoryPercent float64
	MaxPids          int

	CPUSustainedWindow    time.Duration
	MemorySustainedWindow time.Duration
	SampleInterval        time.Duration

	// Combined anomaly score: a weighted sum of CPU and memory percent
	// with its own threshold and window, catching correlated abuse where
	// each signal stays individually below its limit.
	AnomalyScoreThreshold  float64
	AnomalySustainedWindow time.Duration
}

// Anomaly score weights. CPU dominates because runaway compute is the most
// common abuse pattern for generated strategy code.
const (
	anomalyCPUWeight    = 0.6
	anomalyMemoryWeight = 0.4
)

// Validate checks the policy invariants at construction time.
func (p SecurityPolicy) Validate() error {
	if p.MaxCPUPercent <= 0 || p.MaxMemoryPercent <= 0 || p.AnomalyScoreThreshold <= 0 {
		return fmt.Errorf("policy thresholds must be positive")
	}
	if p.MaxPids <= 0 {
		return fmt.Errorf("policy max pids must be positive, got: %d", p.MaxPids)
	}
	if p.CPUSustainedWindow <= 0 || p.MemorySustainedWindow <= 0 || p.AnomalySustainedWindow <= 0 {
		return fmt.Errorf("policy sustained windows must be positive")
	}
	if p.SampleInterval <= 0 {
		return fmt.Errorf("policy sample interval must be positive, got: %s", p.SampleInterval)
	}

	shortest := p.CPUSustainedWindow
	if p.MemorySustainedWindow < shortest {
		shortest = p.MemorySustainedWindow
	}
	if p.SampleInterval >= shortest {
		return fmt.Errorf("policy sample interval (%s) must be shorter than the shortest sustained window (%s)",
			p.SampleInterval, shortest)
	}
	return nil
}

// PolicyFromConfig builds the default policy from the application
// configuration. Callers may override it per request.
func PolicyFromConfig(cfg *config.Config) SecurityPolicy {
	return SecurityPolicy{
		MaxCPUPercent:          cfg.Policy.MaxCPUPercent,
		MaxMemoryPercent:       cfg.Policy.MaxMemoryPercent,
		MaxPids:                cfg.Policy.MaxPids,
		CPUSustainedWindow:     cfg.CPUWindow(),
		MemorySustainedWindow:  cfg.MemoryWindow(),
		SampleInterval:         cfg.SampleInterval(),
		AnomalyScoreThreshold:  cfg.Policy.AnomalyScore,
		AnomalySustainedWindow: cfg.AnomalyWindow(),
	}
}
