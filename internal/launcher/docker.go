package launcher

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/forgeml/trainctl/internal/api"
	"github.com/forgeml/trainctl/internal/logger"
)

// distMasterPort is the rendezvous port the launcher's node rank 0
// listens on for multi-node coordination.
const distMasterPort = 29500

// DockerLauncher runs each training job inside a Docker container.
//
// The container runs the same launcher argument vector the host backend
// would execute, with the job directory and dataset directory bind
// mounted at their host paths so the paths baked into the arguments
// resolve inside the container too. GPU access goes through explicit
// /dev/nvidia* device mounts plus the nvidia OCI runtime.
//
// Containers are labeled with trainctl.* metadata and rediscovered
// after a server restart, so the Docker daemon is the durable job
// state for this backend.
//
// Thread-safety: all public methods are safe for concurrent use.
type DockerLauncher struct {
	client  *client.Client
	mu      sync.RWMutex
	jobs    map[string]*Job
	sandbox *NvidiaSandbox
	image   string
	onExit  func(*Job)
}

// NewDockerLauncher creates a Docker launcher backend.
//
// Parameters:
//   - defaultImage: image used when a submission names none
//
// Returns:
//   - Initialized launcher with previous containers restored
//   - Error if the Docker daemon is unreachable
func NewDockerLauncher(defaultImage string) (*DockerLauncher, error) {
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := cli.Ping(ctx); err != nil {
		return nil, fmt.Errorf("Docker daemon is not accessible: %w", err)
	}

	l := &DockerLauncher{
		client:  cli,
		jobs:    make(map[string]*Job),
		sandbox: NewNvidiaSandbox(),
		image:   defaultImage,
	}

	if err := l.loadExistingContainers(context.Background()); err != nil {
		logger.Warn("Failed to load existing job containers: %v", err)
	}

	logger.Info("Docker launcher initialized")

	return l, nil
}

// SetExitCallback registers a function invoked whenever a job reaches a
// terminal state.
func (l *DockerLauncher) SetExitCallback(fn func(*Job)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onExit = fn
}

// Name returns the backend name.
func (l *DockerLauncher) Name() string {
	return "docker"
}

// Submit creates and starts the job container.
func (l *DockerLauncher) Submit(ctx context.Context, params *SubmitParams) (*Job, error) {
	if params == nil || params.JobID == "" {
		return nil, fmt.Errorf("invalid parameters: job ID is required")
	}
	if len(params.Argv) == 0 {
		return nil, fmt.Errorf("invalid parameters: empty argument vector")
	}

	l.mu.RLock()
	if _, exists := l.jobs[params.JobID]; exists {
		l.mu.RUnlock()
		return nil, fmt.Errorf("job %s already exists", params.JobID)
	}
	l.mu.RUnlock()

	image := params.Image
	if image == "" {
		image = l.image
	}
	if image == "" {
		return nil, fmt.Errorf("no container image configured for docker launcher")
	}

	deviceEnv, err := l.sandbox.PrepareEnvironment(params.Devices)
	if err != nil {
		return nil, fmt.Errorf("failed to prepare environment: %w", err)
	}

	// Later entries win in Docker's environment list, so the sandbox
	// device visibility overrides the host-index variant from the plan.
	envList := append([]string{}, params.Env...)
	for k, v := range deviceEnv {
		envList = append(envList, fmt.Sprintf("%s=%s", k, v))
	}

	deviceIndicesStr := joinInts(params.Devices)

	labels := map[string]string{
		"trainctl.job_id":  params.JobID,
		"trainctl.name":    params.Name,
		"trainctl.recipe":  params.Recipe,
		"trainctl.devices": deviceIndicesStr,
		"trainctl.nodes":   strconv.Itoa(params.Nodes),
		"trainctl.gpus":    strconv.Itoa(params.GPUsPerNode),
		"trainctl.micro":   strconv.Itoa(params.MicroBatch),
		"trainctl.accum":   strconv.Itoa(params.AccumSteps),
		"trainctl.job_dir": params.JobDir,
	}

	// Rank 0 of a multi-node run needs its rendezvous port reachable
	// from the other nodes.
	exposedPorts := nat.PortSet{}
	portBindings := nat.PortMap{}
	if params.Nodes > 1 {
		masterPort := nat.Port(fmt.Sprintf("%d/tcp", distMasterPort))
		exposedPorts[masterPort] = struct{}{}
		portBindings[masterPort] = []nat.PortBinding{
			{HostIP: "0.0.0.0", HostPort: fmt.Sprintf("%d", distMasterPort)},
		}
	}

	containerConfig := &container.Config{
		Image:        image,
		Env:          envList,
		Cmd:          params.Argv,
		WorkingDir:   params.JobDir,
		ExposedPorts: exposedPorts,
		Tty:          false,
		Labels:       labels,
	}

	devicePaths, err := l.sandbox.GetDeviceMounts(params.Devices)
	if err != nil {
		return nil, fmt.Errorf("failed to get device mounts: %w", err)
	}

	devices := make([]container.DeviceMapping, 0, len(devicePaths))
	for _, devPath := range devicePaths {
		devices = append(devices, container.DeviceMapping{
			PathOnHost:        devPath,
			PathInContainer:   devPath,
			CgroupPermissions: "rwm",
		})
	}

	// Bind at identical paths so the directories named in the argument
	// vector resolve unchanged inside the container.
	mounts := []mount.Mount{
		{
			Type:   mount.TypeBind,
			Source: params.JobDir,
			Target: params.JobDir,
		},
	}
	if params.DatasetDir != "" {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   params.DatasetDir,
			Target:   params.DatasetDir,
			ReadOnly: true,
		})
	}

	hostConfig := &container.HostConfig{
		Resources: container.Resources{
			Devices: devices,
		},
		Mounts:       mounts,
		PortBindings: portBindings,
		NetworkMode:  "bridge",
		Privileged:   l.sandbox.RequiresPrivileged(),
		Runtime:      l.sandbox.GetDockerRuntime(),
		Init:         boolPtr(true),
		ShmSize:      8 << 30, // data loader workers share tensors over /dev/shm
	}

	resp, err := l.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, containerName(params.JobID))
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	if err := l.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		removeOpts := container.RemoveOptions{Force: true, RemoveVolumes: true}
		if rmErr := l.client.ContainerRemove(ctx, resp.ID, removeOpts); rmErr != nil {
			logger.Warn("Failed to remove container after start failure: %v", rmErr)
		}
		return nil, fmt.Errorf("failed to start container: %w", err)
	}

	now := time.Now()
	job := &Job{
		ID:            params.JobID,
		Name:          params.Name,
		Recipe:        params.Recipe,
		Launcher:      l.Name(),
		State:         api.JobStateRunning,
		Devices:       params.Devices,
		Nodes:         params.Nodes,
		GPUsPerNode:   params.GPUsPerNode,
		MicroBatch:    params.MicroBatch,
		AccumSteps:    params.AccumSteps,
		JobDir:        params.JobDir,
		CheckpointDir: params.CheckpointDir,
		CreatedAt:     now,
		StartedAt:     now,
		Metadata: map[string]string{
			"container_id": resp.ID,
			"image":        image,
		},
	}

	l.mu.Lock()
	l.jobs[job.ID] = job
	l.mu.Unlock()

	logger.Info("Started job %s in container %s", job.ID, resp.ID[:12])

	return job, nil
}

// Stop gracefully stops a job container.
//
// Docker delivers SIGTERM first and escalates to SIGKILL after the
// grace period, matching the host backend's behavior.
func (l *DockerLauncher) Stop(ctx context.Context, jobID string) error {
	l.mu.RLock()
	job, exists := l.jobs[jobID]
	l.mu.RUnlock()

	if !exists {
		return fmt.Errorf("job not found: %s", jobID)
	}
	if job.State.Terminal() {
		return fmt.Errorf("job %s is not running (state: %s)", jobID, job.State)
	}

	containerID := job.Metadata["container_id"]
	logger.Info("Stopping job %s (container %s)", jobID, containerID[:12])

	timeout := stopGraceSeconds
	if err := l.client.ContainerStop(ctx, containerID, container.StopOptions{Timeout: &timeout}); err != nil {
		return fmt.Errorf("failed to stop container: %w", err)
	}

	l.mu.Lock()
	job.State = api.JobStateStopped
	job.FinishedAt = time.Now()
	if info, err := l.client.ContainerInspect(ctx, containerID); err == nil && info.State != nil {
		job.ExitCode = info.State.ExitCode
	}
	onExit := l.onExit
	l.mu.Unlock()

	if onExit != nil {
		onExit(job)
	}

	return nil
}

// Remove deletes a finished job and its exited container.
//
// Because the container is this backend's durable state, removing it is
// what actually forgets the job; the in-memory entry goes with it. The
// job directory on the host stays untouched.
func (l *DockerLauncher) Remove(ctx context.Context, jobID string) error {
	l.mu.Lock()
	job, exists := l.jobs[jobID]
	if !exists {
		l.mu.Unlock()
		return fmt.Errorf("job not found: %s", jobID)
	}
	if !job.State.Terminal() {
		l.mu.Unlock()
		return fmt.Errorf("job %s is %s; stop it before removing", jobID, job.State)
	}
	containerID := job.Metadata["container_id"]
	l.mu.Unlock()

	if containerID != "" {
		err := l.client.ContainerRemove(ctx, containerID, container.RemoveOptions{})
		if err != nil && !client.IsErrNotFound(err) {
			return fmt.Errorf("failed to remove container for job %s: %w", jobID, err)
		}
	}

	l.mu.Lock()
	delete(l.jobs, jobID)
	l.mu.Unlock()

	logger.Info("Removed job %s", jobID)
	return nil
}

// Get returns a tracked job with its state synced from the container.
func (l *DockerLauncher) Get(ctx context.Context, jobID string) (*Job, error) {
	l.mu.RLock()
	job, exists := l.jobs[jobID]
	l.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}

	l.syncJobState(ctx, job)

	return job, nil
}

// List returns all tracked jobs with their states synced.
func (l *DockerLauncher) List(ctx context.Context) ([]*Job, error) {
	l.mu.RLock()
	jobs := make([]*Job, 0, len(l.jobs))
	for _, job := range l.jobs {
		jobs = append(jobs, job)
	}
	l.mu.RUnlock()

	for _, job := range jobs {
		l.syncJobState(ctx, job)
	}

	return jobs, nil
}

// Logs streams container logs for a job.
//
// The stream carries Docker's stdout/stderr multiplexing headers; the
// consumer demultiplexes with the stdcopy package.
func (l *DockerLauncher) Logs(ctx context.Context, jobID string, follow bool) (LogStream, error) {
	l.mu.RLock()
	job, exists := l.jobs[jobID]
	l.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}

	containerID := job.Metadata["container_id"]
	options := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     follow,
		Tail:       "all",
	}

	reader, err := l.client.ContainerLogs(ctx, containerID, options)
	if err != nil {
		return nil, fmt.Errorf("failed to get container logs: %w", err)
	}

	return reader, nil
}

// Refresh syncs every non-terminal job against its container and
// returns the jobs that finished since the previous call.
func (l *DockerLauncher) Refresh(ctx context.Context) []*Job {
	l.mu.RLock()
	var active []*Job
	for _, job := range l.jobs {
		if !job.State.Terminal() {
			active = append(active, job)
		}
	}
	l.mu.RUnlock()

	var finished []*Job
	for _, job := range active {
		l.syncJobState(ctx, job)
		if job.State.Terminal() {
			finished = append(finished, job)
		}
	}
	return finished
}

// syncJobState reconciles the tracked state with the container state.
func (l *DockerLauncher) syncJobState(ctx context.Context, job *Job) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if job.State.Terminal() {
		return
	}

	containerID := job.Metadata["container_id"]
	info, err := l.client.ContainerInspect(ctx, containerID)
	if err != nil {
		if client.IsErrNotFound(err) {
			job.State = api.JobStateLost
			job.Error = "job container was removed"
			job.FinishedAt = time.Now()
			l.notifyExitLocked(job)
		}
		return
	}
	if info.State == nil || info.State.Running {
		return
	}

	job.ExitCode = info.State.ExitCode
	job.FinishedAt = time.Now()
	if t, err := time.Parse(time.RFC3339Nano, info.State.FinishedAt); err == nil {
		job.FinishedAt = t
	}
	if info.State.ExitCode == 0 {
		job.State = api.JobStateSucceeded
	} else {
		job.State = api.JobStateFailed
		job.Error = fmt.Sprintf("launcher exited with code %d", info.State.ExitCode)
		if info.State.Error != "" {
			job.Error = info.State.Error
		}
	}

	logger.Info("Job %s finished: %s (exit code %d)", job.ID, job.State, job.ExitCode)

	l.notifyExitLocked(job)
}

// notifyExitLocked dispatches the exit callback on a goroutine. Callers
// hold l.mu, and the callback may call back into the launcher.
func (l *DockerLauncher) notifyExitLocked(job *Job) {
	if l.onExit != nil {
		go l.onExit(job)
	}
}

// loadExistingContainers rediscovers job containers from previous runs.
func (l *DockerLauncher) loadExistingContainers(ctx context.Context) error {
	containers, err := l.client.ContainerList(ctx, container.ListOptions{
		All: true,
		Filters: filters.NewArgs(
			filters.Arg("label", "trainctl.job_id"),
		),
	})
	if err != nil {
		return fmt.Errorf("failed to list containers: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	loaded := 0
	for _, c := range containers {
		jobID := c.Labels["trainctl.job_id"]
		if jobID == "" {
			continue
		}

		job := &Job{
			ID:          jobID,
			Name:        c.Labels["trainctl.name"],
			Recipe:      c.Labels["trainctl.recipe"],
			Launcher:    l.Name(),
			State:       api.JobStateRunning,
			Devices:     splitInts(c.Labels["trainctl.devices"]),
			Nodes:       atoiOr(c.Labels["trainctl.nodes"], 1),
			GPUsPerNode: atoiOr(c.Labels["trainctl.gpus"], 1),
			MicroBatch:  atoiOr(c.Labels["trainctl.micro"], 0),
			AccumSteps:  atoiOr(c.Labels["trainctl.accum"], 0),
			JobDir:      c.Labels["trainctl.job_dir"],
			CreatedAt:   time.Unix(c.Created, 0),
			Metadata: map[string]string{
				"container_id": c.ID,
				"image":        c.Image,
			},
		}

		info, err := l.client.ContainerInspect(ctx, c.ID)
		if err != nil {
			logger.Warn("Failed to inspect container %s (job %s): %v", c.ID[:12], jobID, err)
			job.State = api.JobStateLost
			job.Error = fmt.Sprintf("failed to inspect container: %v", err)
		} else if info.State != nil {
			if t, perr := time.Parse(time.RFC3339Nano, info.State.StartedAt); perr == nil {
				job.StartedAt = t
			}
			if !info.State.Running {
				job.ExitCode = info.State.ExitCode
				if info.State.ExitCode == 0 {
					job.State = api.JobStateSucceeded
				} else {
					job.State = api.JobStateFailed
					job.Error = fmt.Sprintf("launcher exited with code %d", info.State.ExitCode)
				}
				if t, perr := time.Parse(time.RFC3339Nano, info.State.FinishedAt); perr == nil {
					job.FinishedAt = t
				}
			}
		}

		l.jobs[jobID] = job
		loaded++

		logger.Info("Loaded container %s (job %s) [state: %s]", c.ID[:12], jobID, job.State)
	}

	logger.Info("Loaded %d existing job container(s)", loaded)

	return nil
}

// containerName returns the container name derived from a job ID.
func containerName(jobID string) string {
	return "trainctl-" + jobID
}

// boolPtr returns a pointer to a boolean, for Docker API fields that
// distinguish false from unset.
func boolPtr(b bool) *bool {
	return &b
}

// joinInts renders device indexes as a comma-separated label value.
func joinInts(values []int) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = strconv.Itoa(v)
	}
	return strings.Join(parts, ",")
}

// splitInts parses a comma-separated label value back into indexes.
func splitInts(s string) []int {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	values := make([]int, 0, len(parts))
	for _, p := range parts {
		if v, err := strconv.Atoi(strings.TrimSpace(p)); err == nil {
			values = append(values, v)
		}
	}
	return values
}

// atoiOr parses an integer label with a fallback.
func atoiOr(s string, fallback int) int {
	if v, err := strconv.Atoi(s); err == nil {
		return v
	}
	return fallback
}
