// Package metrics defines the subsystem's prometheus instrumentation.
//
// The metrics package exposes counters, histograms, and gauges for
// validation outcomes, execution terminal states, policy kills by reason,
// orphan sweeps, and environment creation latency. Collection and
// dashboarding are external concerns; only the event shapes live here.
package metrics
