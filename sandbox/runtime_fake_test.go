package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// fakeRuntime implements Runtime for tests. It records every lifecycle
// call and lets tests script exit codes, stats samples, failures, and the
// moment the environment "finishes".
type fakeRuntime struct {
	mu sync.Mutex

	createCalls int
	createErr   error
	lastSpec    CreateSpec

	startCalls int
	startErr   error

	exitCode   int
	waitErr    error
	waitDelay  time.Duration // 0 = exit immediately
	resultData []byte        // written into scratch before Wait returns
	holdUntilKilled bool     // Wait blocks until Kill or ctx

	killCalls int
	killErr   error
	killedCh  chan struct{}

	removeCalls []string
	removeErr   error
	removed     map[string]bool

	samples   []Sample
	sampleIdx int
	statsErr  error

	listHandles []Handle
	listErr     error

	stdout, stderr string
}

func newFakeRuntime() *fakeRuntime {
	return &fakeRuntime{
		killedCh: make(chan struct{}),
		removed:  make(map[string]bool),
	}
}

func (f *fakeRuntime) Create(_ context.Context, spec CreateSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.createCalls++
	f.lastSpec = spec
	return fmt.Sprintf("env-%d", f.createCalls), nil
}

func (f *fakeRuntime) Start(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startCalls++
	return f.startErr
}

func (f *fakeRuntime) Wait(ctx context.Context, _ string) (int, error) {
	f.mu.Lock()
	waitErr := f.waitErr
	delay := f.waitDelay
	hold := f.holdUntilKilled
	scratch := f.lastSpec.ScratchDir
	data := f.resultData
	code := f.exitCode
	f.mu.Unlock()

	if waitErr != nil {
		return 0, waitErr
	}

	if hold {
		select {
		case <-f.killedCh:
			return 137, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-f.killedCh:
			return 137, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	if data != nil && scratch != "" {
		if err := os.WriteFile(filepath.Join(scratch, ResultFileName), data, 0o644); err != nil {
			return 0, err
		}
	}
	return code, nil
}

func (f *fakeRuntime) Kill(_ context.Context, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.killErr != nil {
		return f.killErr
	}
	f.killCalls++
	if f.killCalls == 1 {
		close(f.killedCh)
	}
	return nil
}

func (f *fakeRuntime) Remove(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removeCalls = append(f.removeCalls, id)
	f.removed[id] = true
	return nil
}

func (f *fakeRuntime) Stats(_ context.Context, _ string) (Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.statsErr != nil {
		return Sample{}, f.statsErr
	}
	if len(f.samples) == 0 {
		return Sample{At: time.Now()}, nil
	}
	s := f.samples[f.sampleIdx]
	if f.sampleIdx < len(f.samples)-1 {
		f.sampleIdx++
	}
	s.At = time.Now()
	return s, nil
}

func (f *fakeRuntime) Logs(_ context.Context, _ string) (string, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stdout, f.stderr, nil
}

func (f *fakeRuntime) List(_ context.Context, labelKey, labelValue string) ([]Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	var out []Handle
	for _, h := range f.listHandles {
		if f.removed[h.ID] {
			continue
		}
		if h.Labels[labelKey] == labelValue {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeRuntime) creates() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.createCalls
}

func (f *fakeRuntime) kills() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.killCalls
}

func (f *fakeRuntime) removes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.removeCalls...)
}

func (f *fakeRuntime) scratchDir() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastSpec.ScratchDir
}
