package launcher

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/forgeml/trainctl/internal/api"
	"github.com/forgeml/trainctl/internal/config"
	"github.com/forgeml/trainctl/internal/device"
	"github.com/forgeml/trainctl/internal/logger"
	"github.com/forgeml/trainctl/internal/plan"
	"github.com/forgeml/trainctl/internal/recipes"
)

// maintenanceInterval is how often the manager reconciles job state
// against the process table and the Docker daemon.
const maintenanceInterval = 10 * time.Second

// Manager coordinates launcher backends, device allocation and job
// submission.
//
// Submission flow:
//  1. Resolve the recipe and allocate devices
//  2. Create the job directory and resolve the launch plan
//  3. Write the trainer configuration into the job directory
//  4. Hand the resolved argument vector to the selected backend
//
// Devices stay allocated until the job reaches a terminal state; the
// backends report exits through the exit callback and the maintenance
// loop catches anything the callbacks miss.
type Manager struct {
	mu        sync.RWMutex
	cfg       *config.Config
	env       *config.LaunchEnv
	registry  *recipes.Registry
	devices   *device.Manager
	allocator *device.Allocator
	launchers map[string]Launcher
	defaultBk string
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// NewManager creates a manager with the host backend always available
// and the docker backend when a Docker daemon is reachable.
//
// Jobs restored by the backends from a previous server run get their
// devices re-allocated so new submissions cannot double-book GPUs.
func NewManager(cfg *config.Config, registry *recipes.Registry, devices *device.Manager, env *config.LaunchEnv) (*Manager, error) {
	m := &Manager{
		cfg:       cfg,
		env:       env,
		registry:  registry,
		devices:   devices,
		allocator: device.NewAllocator(devices),
		launchers: make(map[string]Launcher),
		defaultBk: cfg.Launcher.Default,
		stopCh:    make(chan struct{}),
	}
	if m.defaultBk == "" {
		m.defaultBk = "host"
	}

	host, err := NewHostLauncher(cfg.Storage.GetStateFile())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize host launcher: %w", err)
	}
	host.SetExitCallback(m.onJobExit)
	m.launchers[host.Name()] = host

	// Docker is optional: hosts without a daemon still get the host
	// backend.
	docker, err := NewDockerLauncher(cfg.Launcher.Image)
	if err != nil {
		logger.Warn("Docker launcher unavailable: %v", err)
		if m.defaultBk == "docker" {
			return nil, fmt.Errorf("default launcher is docker but it is unavailable: %w", err)
		}
	} else {
		docker.SetExitCallback(m.onJobExit)
		m.launchers[docker.Name()] = docker
	}

	m.reclaimDevices()

	return m, nil
}

// reclaimDevices re-allocates devices held by restored running jobs.
func (m *Manager) reclaimDevices() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for _, l := range m.launchers {
		jobs, err := l.List(ctx)
		if err != nil {
			continue
		}
		for _, job := range jobs {
			if job.State.Terminal() || len(job.Devices) == 0 {
				continue
			}
			if _, err := m.allocator.AllocateExact(job.ID, job.Devices); err != nil {
				logger.Warn("Failed to re-claim devices %v for job %s: %v", job.Devices, job.ID, err)
			}
		}
	}
}

// onJobExit releases the job's devices once it is terminal.
func (m *Manager) onJobExit(job *Job) {
	m.allocator.Release(job.ID)
	logger.Debug("Released devices for job %s", job.ID)
}

// Backends returns the names of the available launcher backends.
func (m *Manager) Backends() []string {
	names := make([]string, 0, len(m.launchers))
	for name := range m.launchers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Submit plans and starts a training job.
func (m *Manager) Submit(ctx context.Context, req *api.SubmitJobRequest) (*Job, error) {
	spec, err := m.registry.Get(req.Recipe)
	if err != nil {
		return nil, err
	}

	backend := req.Launcher
	if backend == "" {
		backend = m.defaultBk
	}
	l, exists := m.launchers[backend]
	if !exists {
		return nil, fmt.Errorf("launcher backend not available: %s", backend)
	}

	if !spec.SupportsDevice(api.DeviceTypeCUDA) {
		return nil, fmt.Errorf("recipe %s does not support the available devices", spec.ID)
	}

	jobID, err := generateJobID(spec.ID)
	if err != nil {
		return nil, err
	}
	name := req.Name
	if name == "" {
		name = jobID
	}
	if existing, _ := m.findJob(ctx, name); existing != nil {
		return nil, fmt.Errorf("a job named %s already exists", name)
	}

	// Each node runs gpusPerNode local ranks; this server allocates
	// only its own node's devices.
	gpusPerNode := req.Overrides.GPUsPerNode
	if gpusPerNode == 0 {
		gpusPerNode = len(req.Devices)
	}
	if gpusPerNode == 0 {
		gpusPerNode = 1
	}

	var allocated []int
	if len(req.Devices) > 0 {
		allocated, err = m.allocator.AllocateExact(jobID, req.Devices)
	} else {
		allocated, err = m.allocator.Allocate(jobID, gpusPerNode)
	}
	if err != nil {
		return nil, fmt.Errorf("device allocation failed: %w", err)
	}

	jobDir := m.cfg.Storage.GetJobDir(jobID)

	fail := func(cause error) (*Job, error) {
		m.allocator.Release(jobID)
		return nil, cause
	}

	p, err := plan.Resolve(spec, req, m.cfg, m.env, jobDir)
	if err != nil {
		return fail(err)
	}

	if err := os.MkdirAll(p.CheckpointDir, 0755); err != nil {
		return fail(fmt.Errorf("failed to create job directory: %w", err))
	}
	if err := p.TrainerConfig.WriteFile(p.TrainerConfigPath); err != nil {
		return fail(err)
	}

	env := append([]string{}, p.Env...)
	env = append(env, "CUDA_VISIBLE_DEVICES="+config.CUDAVisibleDevices(allocated))

	params := &SubmitParams{
		JobID:         jobID,
		Name:          name,
		Recipe:        spec.ID,
		Argv:          p.Argv(),
		Env:           env,
		JobDir:        jobDir,
		CheckpointDir: p.CheckpointDir,
		DatasetDir:    p.DatasetDir,
		Devices:       allocated,
		Nodes:         p.Batch.Nodes,
		GPUsPerNode:   p.Batch.GPUsPerNode,
		MicroBatch:    p.Batch.MicroBatch,
		AccumSteps:    p.Batch.AccumulationSteps,
		Image:         m.cfg.Launcher.Image,
	}

	job, err := l.Submit(ctx, params)
	if err != nil {
		return fail(err)
	}

	logger.Info("Submitted job %s (recipe %s, devices %v, micro=%d accum=%d)",
		jobID, spec.ID, allocated, p.Batch.MicroBatch, p.Batch.AccumulationSteps)

	return job, nil
}

// findJob locates a job by ID or name across all backends.
func (m *Manager) findJob(ctx context.Context, ref string) (*Job, Launcher) {
	for _, l := range m.launchers {
		jobs, err := l.List(ctx)
		if err != nil {
			continue
		}
		for _, job := range jobs {
			if job.ID == ref || job.Name == ref {
				return job, l
			}
		}
	}
	return nil, nil
}

// Get returns a job by ID or name.
func (m *Manager) Get(ctx context.Context, ref string) (*Job, error) {
	job, l := m.findJob(ctx, ref)
	if job == nil {
		return nil, fmt.Errorf("job not found: %s", ref)
	}
	// Sync against the backend before reporting.
	return l.Get(ctx, job.ID)
}

// List returns jobs across all backends, newest first. Terminal jobs
// are included only when all is true.
func (m *Manager) List(ctx context.Context, all bool) ([]*Job, error) {
	var jobs []*Job
	for _, l := range m.launchers {
		list, err := l.List(ctx)
		if err != nil {
			logger.Warn("Failed to list %s jobs: %v", l.Name(), err)
			continue
		}
		for _, job := range list {
			if !all && job.State.Terminal() {
				continue
			}
			jobs = append(jobs, job)
		}
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	return jobs, nil
}

// Stop stops a job by ID or name.
func (m *Manager) Stop(ctx context.Context, ref string) (*Job, error) {
	job, l := m.findJob(ctx, ref)
	if job == nil {
		return nil, fmt.Errorf("job not found: %s", ref)
	}
	if err := l.Stop(ctx, job.ID); err != nil {
		return nil, err
	}
	return l.Get(ctx, job.ID)
}

// Remove deletes a terminal job by ID or name and releases anything
// still held for it. Running jobs are refused; stop them first.
func (m *Manager) Remove(ctx context.Context, ref string) (*Job, error) {
	job, l := m.findJob(ctx, ref)
	if job == nil {
		return nil, fmt.Errorf("job not found: %s", ref)
	}
	if err := l.Remove(ctx, job.ID); err != nil {
		return nil, err
	}
	m.allocator.Release(job.ID)
	return job, nil
}

// Logs streams a job's training log by ID or name.
func (m *Manager) Logs(ctx context.Context, ref string, follow bool) (LogStream, error) {
	job, l := m.findJob(ctx, ref)
	if job == nil {
		return nil, fmt.Errorf("job not found: %s", ref)
	}
	return l.Logs(ctx, job.ID, follow)
}

// Devices returns the detected accelerators with allocation marks.
func (m *Manager) Devices() []api.Device {
	return m.devices.ToAPI(m.allocator.Allocated())
}

// Registry exposes the recipe registry backing this manager.
func (m *Manager) Registry() *recipes.Registry {
	return m.registry
}

// StartBackgroundTasks starts the reconciliation loop.
func (m *Manager) StartBackgroundTasks() {
	m.wg.Add(1)
	go m.maintenanceLoop()
}

// Close stops background tasks and waits for them to finish.
func (m *Manager) Close() error {
	close(m.stopCh)
	m.wg.Wait()
	return nil
}

// maintenanceLoop periodically reconciles every backend. Jobs that
// finished without a callback (re-attached processes, externally
// stopped containers) get their devices released here.
func (m *Manager) maintenanceLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), maintenanceInterval)
			for _, l := range m.launchers {
				for _, job := range l.Refresh(ctx) {
					m.allocator.Release(job.ID)
				}
			}
			cancel()
		}
	}
}

// generateJobID builds a job identifier from the recipe ID and a random
// suffix.
func generateJobID(recipeID string) (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate job ID: %w", err)
	}
	return fmt.Sprintf("%s-%s", recipeID, hex.EncodeToString(buf)), nil
}
