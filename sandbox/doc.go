// Package sandbox provides isolated execution of untrusted candidate code.
//
// The sandbox package owns the full lifecycle of one execution environment
// per request: a hardened container with a read-only root filesystem, a
// single writable scratch mount, no network, and enforced memory, CPU, and
// process-count ceilings. A background monitor samples resource usage on an
// interval and kills environments that sustain a threshold breach, while
// the lifecycle manager waits for exit, timeout, or the monitor's kill
// decision, then tears everything down on every path.
//
// The Runtime interface abstracts the container engine so tests can
// substitute a fake; DockerRuntime is the production implementation built
// on the Docker Engine API client. The Reaper sweeps environments left
// behind by a crashed owner process, trusting a heartbeat file rather than
// container age as its liveness signal.
package sandbox
