package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/PaiCY-T/LLM-strategy-generator-sub011/config"
	"github.com/PaiCY-T/LLM-strategy-generator-sub011/metrics"
)

const (
	codeFileName      = "strategy.py"
	scratchMountPath  = "/scratch"
	environmentPrefix = "strategy-sbx-"
)

// ExecutionRequest describes one unit of untrusted work. Immutable once
// constructed; the manager copies it by value.
type ExecutionRequest struct {
	Code         string
	Policy       SecurityPolicy
	Timeout      time.Duration
	Capabilities []string
}

// Manager owns the lifecycle of one execution environment per call:
// allocation, code injection, monitoring, waiting, result extraction, and
// unconditional teardown. Execute is synchronous from the caller's point of
// view; the monitor races it in the background.
type Manager struct {
	runtime       Runtime
	logger        *zap.Logger
	cfg           *config.Config
	defaultPolicy SecurityPolicy
	sem           chan struct{}
}

// NewManager creates a Manager bound to an injected runtime.
func NewManager(logger *zap.Logger, runtime Runtime, cfg *config.Config) *Manager {
	return &Manager{
		runtime:       runtime,
		logger:        logger,
		cfg:           cfg,
		defaultPolicy: PolicyFromConfig(cfg),
		sem:           make(chan struct{}, cfg.Sandbox.MaxConcurrent),
	}
}

// Execute runs the candidate code in a fresh environment and blocks until
// it exits, times out, or is policy-killed. A non-nil error is returned
// only for infrastructure failures (or caller cancellation); candidate
// failures of every kind come back as data in the Result.
func (m *Manager) Execute(ctx context.Context, req ExecutionRequest) (Result, error) {
	policy := req.Policy
	if policy == (SecurityPolicy{}) {
		policy = m.defaultPolicy
	}
	if err := policy.Validate(); err != nil {
		return Result{}, fmt.Errorf("invalid security policy: %w", err)
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = m.cfg.GetTimeout()
	}

	// Bounded concurrency: at most max_concurrent environments exist at
	// once; excess callers queue here.
	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
	defer func() { <-m.sem }()

	metrics.InflightExecutions.Inc()
	defer metrics.InflightExecutions.Dec()

	start := time.Now()
	res, err := m.run(ctx, req.Code, policy, timeout, req.Capabilities)
	res.ExecutionTime = time.Since(start)

	if err != nil {
		var infra *InfraError
		if errors.As(err, &infra) {
			metrics.ExecutionsTotal.WithLabelValues(string(ErrorInfrastructure)).Inc()
		}
		return Result{}, err
	}

	metrics.ExecutionsTotal.WithLabelValues(string(res.ErrorType)).Inc()
	metrics.ExecutionSeconds.Observe(res.ExecutionTime.Seconds())
	if res.ErrorType == ErrorPolicyKilled {
		metrics.PolicyKillsTotal.WithLabelValues(res.KilledReason).Inc()
	}
	return res, nil
}

//nolint:gocyclo // The wait/timeout/kill race and its classification live in one place on purpose
func (m *Manager) run(ctx context.Context, code string, policy SecurityPolicy, timeout time.Duration, capabilities []string) (Result, error) {
	execID := uuid.NewString()

	scratchDir, err := m.makeScratch(execID)
	if err != nil {
		return Result{}, infraErr("scratch allocation", err)
	}

	handle := Handle{
		Name:      environmentPrefix + execID,
		CreatedAt: time.Now(),
		OwnerPID:  os.Getpid(),
		Status:    StatusCreated,
	}

	var mon *monitor

	// Teardown runs on every exit path: monitor joined, environment
	// removed, scratch deleted. Failures here are logged and counted but
	// never alter the already-determined outcome; the reaper is the
	// backstop if removal fails.
	defer func() {
		if mon != nil {
			mon.stop()
		}
		if handle.ID != "" {
			if rmErr := m.runtime.Remove(context.Background(), handle.ID); rmErr != nil {
				m.logger.Error("failed to remove environment",
					zap.String("environment", handle.Name), zap.Error(rmErr))
				metrics.CleanupFailuresTotal.Inc()
			}
		}
		if rmErr := os.RemoveAll(scratchDir); rmErr != nil {
			m.logger.Error("failed to remove scratch directory",
				zap.String("path", scratchDir), zap.Error(rmErr))
			metrics.CleanupFailuresTotal.Inc()
		}
	}()

	if err := os.WriteFile(filepath.Join(scratchDir, codeFileName), []byte(code), 0o644); err != nil {
		return Result{}, infraErr("code injection", err)
	}
	if err := touchHeartbeat(scratchDir); err != nil {
		return Result{}, infraErr("heartbeat creation", err)
	}

	spec := CreateSpec{
		Name:       handle.Name,
		ScratchDir: scratchDir,
		Labels: map[string]string{
			LabelManaged:  LabelManagedValue,
			LabelOwnerPID: strconv.Itoa(handle.OwnerPID),
			LabelScratch:  scratchDir,
		},
		Cmd: []string{"python", scratchMountPath + "/" + codeFileName},
		Env: []string{
			"SANDBOX_RESULT_PATH=" + scratchMountPath + "/" + ResultFileName,
			"SANDBOX_CAPABILITIES=" + strings.Join(capabilities, ","),
		},
		MemoryMB:  m.cfg.Sandbox.MemoryMB,
		CPUCores:  m.cfg.Sandbox.CPUCores,
		PidsLimit: policy.MaxPids,
	}

	createStart := time.Now()
	handle.ID, err = m.runtime.Create(ctx, spec)
	if err != nil {
		return Result{}, infraErr("environment creation", err)
	}
	if err := m.runtime.Start(ctx, handle.ID); err != nil {
		return Result{}, infraErr("environment start", err)
	}
	metrics.ContainerCreationSeconds.Observe(time.Since(createStart).Seconds())
	handle.Status = StatusRunning

	m.logger.Info("environment running",
		zap.String("environment", handle.Name),
		zap.String("id", handle.ID),
		zap.Duration("timeout", timeout))

	// Heartbeat outlives ctx cancellation so the reaper never mistakes a
	// request mid-teardown for an orphan.
	hbCtx, hbCancel := context.WithCancel(context.Background())
	defer hbCancel()
	go runHeartbeat(hbCtx, scratchDir, m.cfg.HeartbeatInterval(), m.logger)

	mon = newMonitor(m.runtime, handle.ID, policy, m.logger)
	mon.start(ctx)

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type waitOutcome struct {
		code int
		err  error
	}
	waitc := make(chan waitOutcome, 1)
	go func() {
		code, waitErr := m.runtime.Wait(execCtx, handle.ID)
		waitc <- waitOutcome{code: code, err: waitErr}
	}()

	var (
		killReason string
		timedOut   bool
		exitCode   int
	)

	select {
	case w := <-waitc:
		// The environment stopped. If the monitor decided a kill just
		// before the exit, the decision wins over the raw exit status.
		select {
		case kd := <-mon.kills():
			killReason = kd.Reason
		default:
		}
		if killReason == "" && w.err != nil {
			switch {
			case execCtx.Err() == context.DeadlineExceeded:
				timedOut = true
				m.killEnvironment(handle.ID)
			case ctx.Err() != nil:
				return Result{}, ctx.Err()
			default:
				return Result{}, infraErr("environment wait", w.err)
			}
		}
		exitCode = w.code

	case <-execCtx.Done():
		m.killEnvironment(handle.ID)
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}
		timedOut = true

	case kd := <-mon.kills():
		killReason = kd.Reason
	}

	// Ordering: monitor joined and usage captured before the result is
	// assembled, teardown after, return last.
	mon.stop()
	usage := mon.peaks()

	stdout, stderr, logErr := m.runtime.Logs(context.Background(), handle.ID)
	if logErr != nil {
		m.logger.Debug("failed to capture environment logs",
			zap.String("id", handle.ID), zap.Error(logErr))
	}

	res := Result{
		Usage:    usage,
		Stdout:   stdout,
		Stderr:   stderr,
		ExitCode: exitCode,
	}

	switch {
	case killReason != "":
		handle.Status = StatusKilled
		res.ErrorType = ErrorPolicyKilled
		res.KilledReason = killReason
	case timedOut:
		handle.Status = StatusKilled
		res.ErrorType = ErrorTimeout
	default:
		handle.Status = StatusExited
		m.classifyExit(&res, scratchDir, exitCode)
	}

	m.logger.Info("execution finished",
		zap.String("environment", handle.Name),
		zap.String("status", string(handle.Status)),
		zap.String("error_type", string(res.ErrorType)),
		zap.String("killed_reason", res.KilledReason),
		zap.Int("exit_code", res.ExitCode))

	return res, nil
}

// killEnvironment is the only enforceable cancellation: untrusted code is
// never asked to stop, its isolation boundary is destroyed.
func (m *Manager) killEnvironment(id string) {
	if err := m.runtime.Kill(context.Background(), id); err != nil {
		m.logger.Warn("failed to kill environment", zap.String("id", id), zap.Error(err))
	}
}

// classifyExit reads the result file left in scratch and classifies a
// normal process exit.
func (m *Manager) classifyExit(res *Result, scratchDir string, exitCode int) {
	data, err := os.ReadFile(filepath.Join(scratchDir, ResultFileName))
	if err != nil {
		if exitCode != 0 {
			res.ErrorType = ErrorNonzeroExit
		} else {
			res.ErrorType = ErrorMissingResult
		}
		return
	}

	if len(data) > m.cfg.Sandbox.MaxResultSizeKB*1024 {
		res.ErrorType = ErrorMalformedResult
		return
	}

	parsed, err := ParseResultFile(data)
	if err != nil {
		m.logger.Debug("result file rejected", zap.Error(err))
		if exitCode != 0 {
			res.ErrorType = ErrorNonzeroExit
		} else {
			res.ErrorType = ErrorMalformedResult
		}
		return
	}

	res.Success = true
	res.ErrorType = ErrorSuccess
	res.Metrics = parsed
}

// makeScratch allocates the per-execution writable area. The directory is
// world-writable because the environment runs as an unprivileged uid that
// owns nothing on the host.
func (m *Manager) makeScratch(execID string) (string, error) {
	root := m.cfg.Sandbox.ScratchDir
	if root == "" {
		root = os.TempDir()
	}
	dir := filepath.Join(root, "strategy-scratch-"+execID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create scratch directory: %w", err)
	}
	if err := os.Chmod(dir, 0o777); err != nil {
		return "", fmt.Errorf("failed to open scratch permissions: %w", err)
	}
	return dir, nil
}
