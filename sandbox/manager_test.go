package sandbox

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/PaiCY-T/LLM-strategy-generator-sub011/config"
)

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Sandbox: config.SandboxConfig{
			Image:                "strategy-runtime:latest",
			TimeoutSec:           5,
			MemoryMB:             256,
			CPUCores:             0.5,
			MaxConcurrent:        2,
			MaxResultSizeKB:      64,
			ScratchDir:           t.TempDir(),
			HeartbeatIntervalSec: 1,
		},
		Reaper: config.ReaperConfig{
			IntervalSec:    300,
			GracePeriodSec: 60,
		},
		Policy: config.PolicyConfig{
			MaxCPUPercent:    90,
			MaxMemoryPercent: 85,
			MaxPids:          32,
			CPUWindowSec:     2,
			MemoryWindowSec:  2,
			SampleIntervalMS: 20,
			AnomalyScore:     80,
			AnomalyWindowSec: 2,
		},
	}
}

// scratchEmpty asserts that no per-execution directories survive under the
// configured scratch root.
func scratchEmpty(t *testing.T, cfg *config.Config) {
	t.Helper()
	entries, err := os.ReadDir(cfg.Sandbox.ScratchDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "scratch root must be empty after execution")
}

func TestManagerExecuteSuccess(t *testing.T) {
	rt := newFakeRuntime()
	rt.resultData = []byte(`{"schema_version": 1, "metrics": {"sharpe_ratio": 1.23, "max_drawdown": 0.08}}`)
	rt.stdout = "backtest complete\n"
	cfg := testConfig(t)

	mgr := NewManager(zaptest.NewLogger(t), rt, cfg)
	res, err := mgr.Execute(context.Background(), ExecutionRequest{Code: "print('ok')"})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, ErrorSuccess, res.ErrorType)
	assert.Equal(t, 1.23, res.Metrics["sharpe_ratio"])
	assert.Equal(t, 0.08, res.Metrics["max_drawdown"])
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "backtest complete\n", res.Stdout)
	assert.Positive(t, res.ExecutionTime)

	assert.Equal(t, 1, rt.creates())
	assert.Equal(t, []string{"env-1"}, rt.removes())
	scratchEmpty(t, cfg)
}

func TestManagerExecuteInjectsCodeAndLabels(t *testing.T) {
	rt := newFakeRuntime()
	rt.resultData = []byte(`{"sharpe_ratio": 0.5}`)
	cfg := testConfig(t)

	mgr := NewManager(zaptest.NewLogger(t), rt, cfg)
	_, err := mgr.Execute(context.Background(), ExecutionRequest{
		Code:         "import math",
		Capabilities: []string{"requests"},
	})
	require.NoError(t, err)

	spec := rt.lastSpec
	assert.Equal(t, LabelManagedValue, spec.Labels[LabelManaged])
	assert.Contains(t, spec.Labels, LabelOwnerPID)
	assert.Contains(t, spec.Labels, LabelScratch)
	assert.Equal(t, []string{"python", "/scratch/strategy.py"}, spec.Cmd)
	assert.Contains(t, spec.Env, "SANDBOX_CAPABILITIES=requests")
	assert.Equal(t, 256, spec.MemoryMB)
	assert.Equal(t, 32, spec.PidsLimit)
}

func TestManagerClassifiesExit(t *testing.T) {
	tests := []struct {
		name       string
		exitCode   int
		resultData []byte
		wantType   ErrorType
		wantOK     bool
	}{
		{
			name:     "missing result with zero exit",
			exitCode: 0,
			wantType: ErrorMissingResult,
		},
		{
			name:     "missing result with nonzero exit",
			exitCode: 3,
			wantType: ErrorNonzeroExit,
		},
		{
			name:       "unparsable result with zero exit",
			exitCode:   0,
			resultData: []byte(`not json at all`),
			wantType:   ErrorMalformedResult,
		},
		{
			name:       "unparsable result with nonzero exit",
			exitCode:   1,
			resultData: []byte(`{"metrics": "nope", "schema_version": 1}`),
			wantType:   ErrorNonzeroExit,
		},
		{
			name:       "valid result wins over nonzero exit",
			exitCode:   2,
			resultData: []byte(`{"sharpe_ratio": -0.4}`),
			wantType:   ErrorSuccess,
			wantOK:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := newFakeRuntime()
			rt.exitCode = tt.exitCode
			rt.resultData = tt.resultData
			cfg := testConfig(t)

			mgr := NewManager(zaptest.NewLogger(t), rt, cfg)
			res, err := mgr.Execute(context.Background(), ExecutionRequest{Code: "x = 1"})
			require.NoError(t, err)

			assert.Equal(t, tt.wantType, res.ErrorType)
			assert.Equal(t, tt.wantOK, res.Success)
			assert.Equal(t, tt.exitCode, res.ExitCode)
			scratchEmpty(t, cfg)
		})
	}
}

func TestManagerOversizedResultIsMalformed(t *testing.T) {
	rt := newFakeRuntime()
	big := make([]byte, 70*1024)
	for i := range big {
		big[i] = 'a'
	}
	rt.resultData = big
	cfg := testConfig(t) // max_result_size_kb: 64

	mgr := NewManager(zaptest.NewLogger(t), rt, cfg)
	res, err := mgr.Execute(context.Background(), ExecutionRequest{Code: "x = 1"})
	require.NoError(t, err)
	assert.Equal(t, ErrorMalformedResult, res.ErrorType)
}

func TestManagerTimeout(t *testing.T) {
	rt := newFakeRuntime()
	rt.holdUntilKilled = true
	cfg := testConfig(t)

	mgr := NewManager(zaptest.NewLogger(t), rt, cfg)
	start := time.Now()
	res, err := mgr.Execute(context.Background(), ExecutionRequest{
		Code:    "while True: pass",
		Timeout: 100 * time.Millisecond,
	})
	require.NoError(t, err)

	assert.Equal(t, ErrorTimeout, res.ErrorType)
	assert.False(t, res.Success)
	assert.Less(t, time.Since(start), 2*time.Second, "timeout must cut execution short")
	assert.GreaterOrEqual(t, rt.kills(), 1, "timed-out environment must be killed")
	assert.Equal(t, []string{"env-1"}, rt.removes())
	scratchEmpty(t, cfg)
}

func TestManagerPolicyKill(t *testing.T) {
	rt := newFakeRuntime()
	rt.holdUntilKilled = true
	rt.samples = []Sample{{CPUPercent: 100, MemoryPercent: 10, PIDCount: 1}}
	cfg := testConfig(t)

	mgr := NewManager(zaptest.NewLogger(t), rt, cfg)
	res, err := mgr.Execute(context.Background(), ExecutionRequest{
		Code:   "while True: pass",
		Policy: monitorPolicy(),
	})
	require.NoError(t, err)

	assert.Equal(t, ErrorPolicyKilled, res.ErrorType)
	assert.Equal(t, KillReasonCPU, res.KilledReason)
	assert.False(t, res.Success)
	assert.Equal(t, 100.0, res.Usage.PeakCPUPercent)
	scratchEmpty(t, cfg)
}

func TestManagerForkBombKill(t *testing.T) {
	rt := newFakeRuntime()
	rt.holdUntilKilled = true
	rt.samples = []Sample{{CPUPercent: 10, MemoryPercent: 10, PIDCount: 50}}
	cfg := testConfig(t)

	mgr := NewManager(zaptest.NewLogger(t), rt, cfg)
	res, err := mgr.Execute(context.Background(), ExecutionRequest{
		Code:   "import os\nwhile True: os.fork()",
		Policy: monitorPolicy(),
	})
	require.NoError(t, err)

	assert.Equal(t, ErrorPolicyKilled, res.ErrorType)
	assert.Equal(t, KillReasonForkBomb, res.KilledReason)
}

func TestManagerInfrastructureFailures(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*fakeRuntime)
	}{
		{"create fails", func(f *fakeRuntime) { f.createErr = errors.New("image not found") }},
		{"start fails", func(f *fakeRuntime) { f.startErr = errors.New("oci runtime error") }},
		{"wait fails", func(f *fakeRuntime) { f.waitErr = errors.New("daemon connection lost") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt := newFakeRuntime()
			tt.setup(rt)
			cfg := testConfig(t)

			mgr := NewManager(zaptest.NewLogger(t), rt, cfg)
			_, err := mgr.Execute(context.Background(), ExecutionRequest{Code: "x = 1"})
			require.Error(t, err)

			var infra *InfraError
			assert.True(t, errors.As(err, &infra), "infrastructure failures must carry InfraError, got %T", err)
			scratchEmpty(t, cfg)
		})
	}
}

func TestManagerRejectsInvalidPolicy(t *testing.T) {
	rt := newFakeRuntime()
	mgr := NewManager(zaptest.NewLogger(t), rt, testConfig(t))

	_, err := mgr.Execute(context.Background(), ExecutionRequest{
		Code:   "x = 1",
		Policy: SecurityPolicy{MaxCPUPercent: 90}, // everything else unset
	})
	require.Error(t, err)
	assert.Equal(t, 0, rt.creates(), "invalid policy must be rejected before allocation")
}

func TestManagerHonorsCancellation(t *testing.T) {
	rt := newFakeRuntime()
	rt.holdUntilKilled = true
	cfg := testConfig(t)

	ctx, cancel := context.WithCancel(context.Background())
	mgr := NewManager(zaptest.NewLogger(t), rt, cfg)

	done := make(chan error, 1)
	go func() {
		_, err := mgr.Execute(ctx, ExecutionRequest{Code: "while True: pass"})
		done <- err
	}()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not return after cancellation")
	}
	scratchEmpty(t, cfg)
}
