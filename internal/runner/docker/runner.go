// Package docker runs task types as containers on the host Docker daemon.
// The job log directory is bind mounted into every container so the task's
// progress log is tailed like any local task.
package docker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/client"
	"github.com/google/uuid"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"jobcore/internal/apperrors"
	"jobcore/internal/config"
	"jobcore/internal/job"
	"jobcore/pkg/backoff"
)

// dockerAPI is the part of the Docker client the runner uses.
type dockerAPI interface {
	Ping(ctx context.Context) (types.Ping, error)
	ImageInspect(ctx context.Context, imageID string, opts ...client.ImageInspectOption) (image.InspectResponse, error)
	ImagePull(ctx context.Context, ref string, options image.PullOptions) (io.ReadCloser, error)
	ContainerCreate(ctx context.Context, config *container.Config, hostConfig *container.HostConfig, networkingConfig *network.NetworkingConfig, platform *ocispec.Platform, containerName string) (container.CreateResponse, error)
	ContainerStart(ctx context.Context, containerID string, options container.StartOptions) error
	ContainerWait(ctx context.Context, containerID string, condition container.WaitCondition) (<-chan container.WaitResponse, <-chan error)
	ContainerStop(ctx context.Context, containerID string, options container.StopOptions) error
	ContainerRemove(ctx context.Context, containerID string, options container.RemoveOptions) error
	Close() error
}

// Runner creates job.Task values backed by containers.
type Runner struct {
	client dockerAPI
	cfg    Config
	state  *stateRepo
}

// New connects to the Docker daemon configured by the environment.
func New(cfg Config) (*Runner, error) {
	dockerClient, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return newRunner(dockerClient, cfg)
}

func newRunner(api dockerAPI, cfg Config) (*Runner, error) {
	cfg = cfg.withDefaults()
	if cfg.LogDir == "" {
		cfg.LogDir = config.DefaultLogDir()
	}
	if cfg.ResultsDir == "" {
		cfg.ResultsDir = filepath.Join(os.TempDir(), "jobcore", "results")
	}
	// bind mounts need absolute host paths
	for _, dir := range []*string{&cfg.LogDir, &cfg.ResultsDir} {
		abs, err := filepath.Abs(*dir)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", *dir, err)
		}
		if err := os.MkdirAll(abs, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", abs, err)
		}
		*dir = abs
	}
	return &Runner{client: api, cfg: cfg, state: newStateRepo()}, nil
}

// Ready checks if the Docker daemon is reachable and responsive.
func (r *Runner) Ready(ctx context.Context) error {
	_, err := r.client.Ping(ctx)
	return err
}

// Close removes containers that are still running and closes the client.
func (r *Runner) Close(ctx context.Context) error {
	for name, cs := range r.state.list() {
		if cs != nil {
			r.removeContainer(ctx, cs.id)
		}
		r.state.release(name)
	}
	return r.client.Close()
}

// Register adds a task to registry for every configured image, in task type order.
func (r *Runner) Register(registry *job.Registry) {
	taskTypes := make([]string, 0, len(r.cfg.Images))
	for taskType := range r.cfg.Images {
		taskTypes = append(taskTypes, taskType)
	}
	sort.Strings(taskTypes)
	for _, taskType := range taskTypes {
		registry.Register(r.Task(taskType, r.cfg.Images[taskType]))
	}
}

// Task returns a task that runs image for taskType.
func (r *Runner) Task(taskType, imageName string) job.Task {
	return job.Task{
		Type: taskType,
		Run: func(ctx context.Context, cfg job.Config) (job.Result, error) {
			return r.run(ctx, taskType, imageName, cfg)
		},
	}
}

// run executes one container to completion. The config is passed as JSON in
// JOBCORE_CONFIG; the result is read back from JOBCORE_RESULT_FILE. When ctx
// ends first the container is stopped and removed.
func (r *Runner) run(ctx context.Context, taskType, imageName string, cfg job.Config) (job.Result, error) {
	id := uuid.NewString()
	name := fmt.Sprintf("jobcore-%s-%s", taskType, id[:8])
	logger := slog.With("taskType", taskType, "container", name)

	if err := r.state.reserve(name); err != nil {
		return nil, err
	}
	defer r.state.release(name)

	resultDir := filepath.Join(r.cfg.ResultsDir, id)
	if err := os.MkdirAll(resultDir, 0o777); err != nil {
		return nil, apperrors.Internal("docker.resultDir", err)
	}
	defer os.RemoveAll(resultDir)

	if err := r.pullImageIfNeeded(ctx, imageName); err != nil {
		return nil, apperrors.Internal("docker.pullImage", err)
	}

	containerID, err := r.createContainer(ctx, name, taskType, imageName, resultDir, cfg)
	if err != nil {
		return nil, apperrors.Internal("docker.createContainer", err)
	}
	r.state.commit(name, &containerState{id: containerID, taskType: taskType})

	// Cleanup must outlive a cancelled job context.
	cleanupCtx := context.WithoutCancel(ctx)
	defer r.removeContainer(cleanupCtx, containerID)

	if err := r.client.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return nil, apperrors.Internal("docker.startContainer", err)
	}
	logger.Info("Container started", "image", imageName)

	exitCode, err := r.waitForExit(ctx, containerID)
	if err != nil {
		if ctx.Err() != nil {
			logger.Warn("Stopping container, job ended", "cause", context.Cause(ctx))
			return nil, context.Cause(ctx)
		}
		return nil, apperrors.Internal("docker.waitContainer", err)
	}
	if exitCode != 0 {
		return nil, fmt.Errorf("container exited with code %d", exitCode)
	}
	logger.Info("Container exited")

	return readResult(filepath.Join(resultDir, filepath.Base(ContainerResultFile)))
}

func (r *Runner) createContainer(ctx context.Context, name, taskType, imageName, resultDir string, cfg job.Config) (string, error) {
	cfgJSON, err := json.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to marshal config: %w", err)
	}

	containerConfig := &container.Config{
		Image: imageName,
		Env: []string{
			"JOBCORE_CONFIG=" + string(cfgJSON),
			"JOBCORE_LOG_DIR=" + ContainerLogDir,
			"JOBCORE_RESULT_FILE=" + ContainerResultFile,
		},
		Labels: map[string]string{
			"job.task_type": taskType,
			"managed-by":    "jobcore",
		},
	}

	hostConfig := &container.HostConfig{
		Mounts: []mount.Mount{
			{Type: mount.TypeBind, Source: r.cfg.LogDir, Target: ContainerLogDir},
			{Type: mount.TypeBind, Source: resultDir, Target: ContainerResultDir},
		},
		ExtraHosts: r.cfg.ExtraHosts,
		Resources: container.Resources{
			NanoCPUs: int64(r.cfg.CPU * 1e9),
			Memory:   int64(r.cfg.MemoryMB) * 1024 * 1024,
		},
	}

	resp, err := r.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (r *Runner) pullImageIfNeeded(ctx context.Context, imageName string) error {
	if _, err := r.client.ImageInspect(ctx, imageName); err == nil {
		return nil
	}

	_, err := backoff.Retry(ctx, r.cfg.PullRetries, nil, func(ctx context.Context) error {
		reader, err := r.client.ImagePull(ctx, imageName, image.PullOptions{})
		if err != nil {
			return err
		}
		defer reader.Close()
		_, err = io.Copy(io.Discard, reader)
		return err
	})
	return err
}

func (r *Runner) waitForExit(ctx context.Context, containerID string) (int, error) {
	statusCh, errCh := r.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

	select {
	case <-ctx.Done():
		return -1, ctx.Err()
	case err := <-errCh:
		return -1, err
	case status := <-statusCh:
		if status.Error != nil {
			return int(status.StatusCode), errors.New(status.Error.Message)
		}
		return int(status.StatusCode), nil
	}
}

func (r *Runner) removeContainer(ctx context.Context, containerID string) {
	if containerID == "" {
		return
	}
	stopTimeout := r.cfg.StopTimeout
	_ = r.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &stopTimeout})
	_ = r.client.ContainerRemove(ctx, containerID, container.RemoveOptions{Force: true})
}

// readResult decodes the task's result file. A task that wrote no result
// file succeeds with a nil result.
func readResult(path string) (job.Result, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Internal("docker.readResult", err)
	}
	if strings.TrimSpace(string(data)) == "" {
		return nil, nil
	}
	var result any
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("invalid result file: %w", err)
	}
	return result, nil
}
