package sandbox

import (
	"context"
	"time"
)

// Labels stamped on every environment this subsystem creates. The reaper
// selects on LabelManaged and reads the scratch path back from LabelScratch,
// so the container engine itself is the source of truth about what exists.
const (
	LabelManaged      = "llm-strategy.sandbox"
	LabelManagedValue = "1"
	LabelOwnerPID     = "llm-strategy.sandbox.owner-pid"
	LabelScratch      = "llm-strategy.sandbox.scratch"
)

// HandleStatus tracks an environment through its lifecycle. Every handle
// reaches exactly one terminal state (exited, killed, or reaped) and is then
// removed from the runtime.
type HandleStatus string

const (
	StatusCreated HandleStatus = "created"
	StatusRunning HandleStatus = "running"
	StatusExited  HandleStatus = "exited"
	StatusKilled  HandleStatus = "killed"
	StatusReaped  HandleStatus = "reaped"
)

// Handle identifies one execution environment.
type Handle struct {
	ID        string
	Name      string
	CreatedAt time.Time
	OwnerPID  int
	Status    HandleStatus
	Labels    map[string]string
}

// Sample is one point-in-time resource reading for an environment. Samples
// live only inside the monitor; the waiting side sees nothing but the
// aggregated kill decision.
type Sample struct {
	CPUPercent    float64
	MemoryPercent float64
	PIDCount      int
	At            time.Time
}

// CreateSpec describes the environment to allocate for one execution.
type CreateSpec struct {
	Name       string
	ScratchDir string // host directory bound read-write at the scratch mount
	Labels     map[string]string
	Cmd        []string
	Env        []string
	MemoryMB   int
	CPUCores   float64
	PidsLimit  int
}

// Runtime abstracts the container engine. It is an injected dependency with
// its own lifecycle, never a package-level singleton, so tests substitute a
// fake and the lifecycle manager stays agnostic of the engine flavor.
type Runtime interface {
	// Create allocates an environment and returns its runtime id.
	Create(ctx context.Context, spec CreateSpec) (string, error)

	// Start transitions the environment to running.
	Start(ctx context.Context, id string) error

	// Wait blocks until the environment's main process exits, returning
	// its exit code. Cancellation of ctx aborts the wait, not the process.
	Wait(ctx context.Context, id string) (int, error)

	// Kill forcibly terminates the environment. Killing an environment
	// that already exited is not an error.
	Kill(ctx context.Context, id string) error

	// Remove deletes the environment from the runtime. Removing an
	// environment that is already gone is not an error.
	Remove(ctx context.Context, id string) error

	// Stats returns a point-in-time resource sample for a running
	// environment.
	Stats(ctx context.Context, id string) (Sample, error)

	// Logs returns captured stdout and stderr, used for diagnostics only.
	Logs(ctx context.Context, id string) (stdout, stderr string, err error)

	// List returns every environment carrying the given label, queried
	// fresh from the engine rather than any in-process cache.
	List(ctx context.Context, labelKey, labelValue string) ([]Handle, error)
}
