package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"go.uber.org/zap"
)

// DockerRuntime implements Runtime against the Docker Engine API.
type DockerRuntime struct {
	cli    *client.Client
	logger *zap.Logger
	image  string
}

// NewDockerRuntime creates a Docker-backed runtime for the given image.
func NewDockerRuntime(logger *zap.Logger, image string) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerRuntime{cli: cli, logger: logger, image: image}, nil
}

// Close releases the underlying API client.
func (r *DockerRuntime) Close() error {
	return r.cli.Close()
}

// Create allocates a hardened container: read-only rootfs with the scratch
// directory as the only writable bind, no network stack, dropped
// capabilities, unprivileged user, and hard memory/CPU/pids ceilings.
func (r *DockerRuntime) Create(ctx context.Context, spec CreateSpec) (string, error) {
	pidsLimit := int64(spec.PidsLimit)
	memoryBytes := int64(spec.MemoryMB) * 1024 * 1024

	resp, err := r.cli.ContainerCreate(ctx,
		&container.Config{
			Image:           r.image,
			Cmd:             spec.Cmd,
			Env:             spec.Env,
			Labels:          spec.Labels,
			User:            "65534:65534",
			WorkingDir:      "/scratch",
			NetworkDisabled: true,
		},
		&container.HostConfig{
			Binds:          []string{spec.ScratchDir + ":/scratch"},
			NetworkMode:    "none",
			ReadonlyRootfs: true,
			CapDrop:        []string{"ALL"},
			SecurityOpt:    []string{"no-new-privileges"},
			Tmpfs: map[string]string{
				"/tmp": "rw,noexec,nosuid,size=64m",
			},
			Resources: container.Resources{
				Memory:     memoryBytes,
				MemorySwap: memoryBytes, // same as memory = no swap, OOM kill on exceed
				NanoCPUs:   int64(spec.CPUCores * 1e9),
				PidsLimit:  &pidsLimit,
			},
		},
		nil, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	r.logger.Debug("container created",
		zap.String("id", resp.ID),
		zap.String("name", spec.Name),
		zap.Int("memory_mb", spec.MemoryMB),
		zap.Float64("cpu_cores", spec.CPUCores),
		zap.Int("pids_limit", spec.PidsLimit))

	return resp.ID, nil
}

func (r *DockerRuntime) Start(ctx context.Context, id string) error {
	if err := r.cli.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		return fmt.Errorf("failed to start container: %w", err)
	}
	return nil
}

func (r *DockerRuntime) Wait(ctx context.Context, id string) (int, error) {
	waitCh, errCh := r.cli.ContainerWait(ctx, id, container.WaitConditionNotRunning)
	select {
	case resp := <-waitCh:
		if resp.Error != nil {
			return 0, fmt.Errorf("container wait reported: %s", resp.Error.Message)
		}
		return int(resp.StatusCode), nil
	case err := <-errCh:
		return 0, fmt.Errorf("container wait failed: %w", err)
	}
}

func (r *DockerRuntime) Kill(ctx context.Context, id string) error {
	err := r.cli.ContainerKill(ctx, id, "SIGKILL")
	if err == nil || client.IsErrNotFound(err) {
		return nil
	}
	// Killing a container that exited between the decision and the call is
	// a benign race.
	if strings.Contains(err.Error(), "is not running") {
		return nil
	}
	return fmt.Errorf("failed to kill container: %w", err)
}

func (r *DockerRuntime) Remove(ctx context.Context, id string) error {
	err := r.cli.ContainerRemove(ctx, id, container.RemoveOptions{
		Force:         true,
		RemoveVolumes: true,
	})
	if err == nil || client.IsErrNotFound(err) {
		return nil
	}
	return fmt.Errorf("failed to remove container: %w", err)
}

// Stats takes a one-shot resource reading for the container.
func (r *DockerRuntime) Stats(ctx context.Context, id string) (Sample, error) {
	reader, err := r.cli.ContainerStats(ctx, id, false)
	if err != nil {
		return Sample{}, fmt.Errorf("failed to read container stats: %w", err)
	}
	defer reader.Body.Close()

	var stats container.StatsResponse
	if err := json.NewDecoder(reader.Body).Decode(&stats); err != nil {
		return Sample{}, fmt.Errorf("failed to decode container stats: %w", err)
	}

	return Sample{
		CPUPercent:    cpuPercent(&stats),
		MemoryPercent: memoryPercent(&stats),
		PIDCount:      int(stats.PidsStats.Current),
		At:            time.Now(),
	}, nil
}

func (r *DockerRuntime) Logs(ctx context.Context, id string) (string, string, error) {
	rc, err := r.cli.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", fmt.Errorf("failed to fetch container logs: %w", err)
	}
	defer rc.Close()

	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		return "", "", fmt.Errorf("failed to demultiplex container logs: %w", err)
	}
	return stdout.String(), stderr.String(), nil
}

// List queries the engine directly for containers carrying the given label.
func (r *DockerRuntime) List(ctx context.Context, labelKey, labelValue string) ([]Handle, error) {
	summaries, err := r.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", labelKey+"="+labelValue)),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	handles := make([]Handle, 0, len(summaries))
	for _, s := range summaries {
		name := ""
		if len(s.Names) > 0 {
			name = strings.TrimPrefix(s.Names[0], "/")
		}
		handles = append(handles, Handle{
			ID:        s.ID,
			Name:      name,
			CreatedAt: time.Unix(s.Created, 0),
			Status:    summaryStatus(s.State),
			Labels:    s.Labels,
		})
	}
	return handles, nil
}

func summaryStatus(state string) HandleStatus {
	switch state {
	case "created":
		return StatusCreated
	case "running", "restarting", "paused":
		return StatusRunning
	default:
		return StatusExited
	}
}

// cpuPercent computes the usage percentage from consecutive cumulative
// counters, scaled by the number of online CPUs the way the docker CLI does.
func cpuPercent(s *container.StatsResponse) float64 {
	cpuDelta := float64(s.CPUStats.CPUUsage.TotalUsage) - float64(s.PreCPUStats.CPUUsage.TotalUsage)
	systemDelta := float64(s.CPUStats.SystemUsage) - float64(s.PreCPUStats.SystemUsage)
	if cpuDelta <= 0 || systemDelta <= 0 {
		return 0
	}
	online := float64(s.CPUStats.OnlineCPUs)
	if online == 0 {
		online = 1
	}
	return cpuDelta / systemDelta * online * 100
}

func memoryPercent(s *container.StatsResponse) float64 {
	if s.MemoryStats.Limit == 0 {
		return 0
	}
	return float64(s.MemoryStats.Usage) / float64(s.MemoryStats.Limit) * 100
}
