package launcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/forgeml/trainctl/internal/api"
	"github.com/forgeml/trainctl/internal/logger"
)

// HostLauncher runs the external training launcher as a direct child
// process of the server.
//
// Each job is started in its own process group so that a stop signal
// reaches the whole launcher process tree, not just the top process.
// Launcher stdout and stderr are teed into train.log inside the job
// directory; the launcher's exit code is recorded verbatim on the job.
//
// Jobs are persisted to a JSON state file on every transition. After a
// server restart the launcher re-attaches to processes that are still
// alive and marks the rest lost: the exit code of a reparented child
// cannot be recovered.
//
// Thread-safety: all public methods are safe for concurrent use.
type HostLauncher struct {
	mu        sync.RWMutex
	jobs      map[string]*Job
	stopping  map[string]bool
	waited    map[string]bool // jobs with a live waiter goroutine
	stateFile string
	onExit    func(*Job)
}

// NewHostLauncher creates a host launcher and restores persisted jobs.
//
// Parameters:
//   - stateFile: path of the JSON job state file
//
// Returns:
//   - Initialized launcher
//   - Error if an existing state file cannot be parsed
func NewHostLauncher(stateFile string) (*HostLauncher, error) {
	l := &HostLauncher{
		jobs:      make(map[string]*Job),
		stopping:  make(map[string]bool),
		waited:    make(map[string]bool),
		stateFile: stateFile,
	}

	if err := l.loadState(); err != nil {
		return nil, err
	}

	// Re-attach or write off jobs from a previous server run.
	restored, lost := 0, 0
	l.mu.Lock()
	for _, job := range l.jobs {
		if job.State.Terminal() {
			continue
		}
		if pid, ok := jobPID(job); ok && processAlive(pid) {
			restored++
			logger.Info("Re-attached to running job %s (pid %d)", job.ID, pid)
			continue
		}
		job.State = api.JobStateLost
		job.Error = "server restarted while job was running"
		job.FinishedAt = time.Now()
		lost++
	}
	l.mu.Unlock()

	if restored > 0 || lost > 0 {
		logger.Info("Host launcher restored %d running and marked %d lost job(s)", restored, lost)
		l.persist()
	}

	return l, nil
}

// SetExitCallback registers a function invoked whenever a job reaches a
// terminal state. The manager uses it to release devices.
func (l *HostLauncher) SetExitCallback(fn func(*Job)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onExit = fn
}

// Name returns the backend name.
func (l *HostLauncher) Name() string {
	return "host"
}

// Submit starts the launcher process for a job.
//
// The process runs with the job directory as working directory, the
// server's environment extended with the communication-backend
// variables, and both output streams teed into train.log.
func (l *HostLauncher) Submit(ctx context.Context, params *SubmitParams) (*Job, error) {
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

	logFile, err := os.Create(filepath.Join(params.JobDir, TrainLogName))
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	cmd := exec.Command(params.Argv[0], params.Argv[1:]...)
	cmd.Dir = params.JobDir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(), params.Env...)
	// Own process group so Stop can signal the whole launcher tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return nil, fmt.Errorf("failed to start launcher: %w", err)
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
			"pid": fmt.Sprintf("%d", cmd.Process.Pid),
		},
	}

	l.mu.Lock()
	l.jobs[job.ID] = job
	l.waited[job.ID] = true
	l.mu.Unlock()
	l.persist()

	logger.Info("Started job %s (pid %d): %v", job.ID, cmd.Process.Pid, params.Argv)

	go l.wait(job.ID, cmd, logFile)

	return job, nil
}

// wait blocks on the launcher process and records its exit.
func (l *HostLauncher) wait(jobID string, cmd *exec.Cmd, logFile *os.File) {
	err := cmd.Wait()
	logFile.Close()

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			exitCode = -1
		}
	}

	l.mu.Lock()
	job := l.jobs[jobID]
	delete(l.waited, jobID)
	stopped := l.stopping[jobID]
	delete(l.stopping, jobID)

	job.ExitCode = exitCode
	job.FinishedAt = time.Now()
	switch {
	case stopped:
		job.State = api.JobStateStopped
	case exitCode == 0:
		job.State = api.JobStateSucceeded
	default:
		job.State = api.JobStateFailed
		job.Error = fmt.Sprintf("launcher exited with code %d", exitCode)
	}
	onExit := l.onExit
	l.mu.Unlock()
	l.persist()

	logger.Info("Job %s finished: %s (exit code %d)", jobID, job.State, exitCode)

	if onExit != nil {
		onExit(job)
	}
}

// Stop terminates a running job.
//
// SIGTERM goes to the whole process group first, giving trainers the
// chance to flush a final checkpoint. After the grace period SIGKILL
// follows.
func (l *HostLauncher) Stop(ctx context.Context, jobID string) error {
	l.mu.Lock()
	job, exists := l.jobs[jobID]
	if !exists {
		l.mu.Unlock()
		return fmt.Errorf("job not found: %s", jobID)
	}
	if job.State.Terminal() {
		l.mu.Unlock()
		return fmt.Errorf("job %s is not running (state: %s)", jobID, job.State)
	}
	pid, ok := jobPID(job)
	if !ok {
		l.mu.Unlock()
		return fmt.Errorf("job %s has no recorded pid", jobID)
	}
	l.stopping[jobID] = true
	hasWaiter := l.waited[jobID]
	l.mu.Unlock()

	logger.Info("Stopping job %s (pid %d)", jobID, pid)

	// Negative pid signals the process group.
	if err := syscall.Kill(-pid, syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to signal job: %w", err)
	}

	go func() {
		deadline := time.Now().Add(stopGraceSeconds * time.Second)
		for time.Now().Before(deadline) {
			if !processAlive(pid) {
				break
			}
			time.Sleep(500 * time.Millisecond)
		}
		if processAlive(pid) {
			logger.Warn("Job %s did not stop within %ds, killing", jobID, stopGraceSeconds)
			syscall.Kill(-pid, syscall.SIGKILL)
		}
		// Re-attached jobs have no waiter goroutine to record the exit.
		if !hasWaiter {
			l.finishDetached(jobID, api.JobStateStopped, "")
		}
	}()

	return nil
}

// Remove deletes a finished job from tracking and the state file.
//
// The job directory and its artifacts (trainer config, train.log,
// checkpoints) stay on disk.
func (l *HostLauncher) Remove(ctx context.Context, jobID string) error {
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
	delete(l.jobs, jobID)
	delete(l.stopping, jobID)
	delete(l.waited, jobID)
	l.mu.Unlock()

	l.persist()
	logger.Info("Removed job %s", jobID)
	return nil
}

// finishDetached records a terminal state for a job without a waiter.
func (l *HostLauncher) finishDetached(jobID string, state api.JobState, errMsg string) {
	l.mu.Lock()
	job, exists := l.jobs[jobID]
	if !exists || job.State.Terminal() {
		l.mu.Unlock()
		return
	}
	job.State = state
	job.Error = errMsg
	job.ExitCode = -1 // unknown for reparented processes
	job.FinishedAt = time.Now()
	delete(l.stopping, jobID)
	onExit := l.onExit
	l.mu.Unlock()
	l.persist()

	if onExit != nil {
		onExit(job)
	}
}

// Get returns a tracked job.
func (l *HostLauncher) Get(ctx context.Context, jobID string) (*Job, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	job, exists := l.jobs[jobID]
	if !exists {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}
	return job, nil
}

// List returns all tracked jobs.
func (l *HostLauncher) List(ctx context.Context) ([]*Job, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	jobs := make([]*Job, 0, len(l.jobs))
	for _, job := range l.jobs {
		jobs = append(jobs, job)
	}
	return jobs, nil
}

// Logs opens the job's train.log.
//
// With follow the stream tails the file until the job reaches a terminal
// state and the file is drained; without it the stream ends at the
// current end of file.
func (l *HostLauncher) Logs(ctx context.Context, jobID string, follow bool) (LogStream, error) {
	l.mu.RLock()
	job, exists := l.jobs[jobID]
	l.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("job not found: %s", jobID)
	}

	f, err := os.Open(filepath.Join(job.JobDir, TrainLogName))
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	if !follow {
		return f, nil
	}

	return &tailStream{
		file: f,
		done: func() bool {
			l.mu.RLock()
			defer l.mu.RUnlock()
			j, ok := l.jobs[jobID]
			return !ok || j.State.Terminal()
		},
	}, nil
}

// Refresh polls liveness of re-attached jobs (those without a waiter
// goroutine) and marks vanished processes lost.
func (l *HostLauncher) Refresh(ctx context.Context) []*Job {
	l.mu.RLock()
	var check []*Job
	for id, job := range l.jobs {
		if !job.State.Terminal() && !l.waited[id] {
			check = append(check, job)
		}
	}
	l.mu.RUnlock()

	var finished []*Job
	for _, job := range check {
		pid, ok := jobPID(job)
		if ok && processAlive(pid) {
			continue
		}
		logger.Warn("Job %s process disappeared, marking lost", job.ID)
		l.finishDetached(job.ID, api.JobStateLost, "launcher process disappeared")
		finished = append(finished, job)
	}
	return finished
}

// jobPID extracts the recorded pid from job metadata.
func jobPID(job *Job) (int, bool) {
	pidStr, ok := job.Metadata["pid"]
	if !ok || pidStr == "" {
		return 0, false
	}
	var pid int
	if _, err := fmt.Sscanf(pidStr, "%d", &pid); err != nil {
		return 0, false
	}
	return pid, true
}

// processAlive checks whether a pid refers to a live process.
func processAlive(pid int) bool {
	// Signal 0 performs the permission and existence checks only.
	return syscall.Kill(pid, 0) == nil
}

// persist writes the job table to the state file. Failures are logged,
// not returned: losing a state write must not fail the job transition
// that triggered it.
func (l *HostLauncher) persist() {
	l.mu.RLock()
	jobs := make([]*Job, 0, len(l.jobs))
	for _, job := range l.jobs {
		jobs = append(jobs, job)
	}
	l.mu.RUnlock()

	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		logger.Error("Failed to marshal job state: %v", err)
		return
	}

	tmp := l.stateFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		logger.Error("Failed to write job state: %v", err)
		return
	}
	if err := os.Rename(tmp, l.stateFile); err != nil {
		logger.Error("Failed to replace job state file: %v", err)
	}
}

// loadState restores the job table from the state file if present.
func (l *HostLauncher) loadState() error {
	data, err := os.ReadFile(l.stateFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read job state: %w", err)
	}

	var jobs []*Job
	if err := json.Unmarshal(data, &jobs); err != nil {
		return fmt.Errorf("failed to parse job state %s: %w", l.stateFile, err)
	}

	for _, job := range jobs {
		l.jobs[job.ID] = job
	}

	logger.Info("Loaded %d job(s) from state file", len(jobs))
	return nil
}

// tailStream follows a log file, returning io.EOF only once the job is
// finished and the file fully drained.
type tailStream struct {
	file *os.File
	done func() bool
}

func (t *tailStream) Read(p []byte) (int, error) {
	for {
		n, err := t.file.Read(p)
		if n > 0 {
			return n, nil
		}
		if err != nil && err != io.EOF {
			return 0, err
		}
		if t.done() {
			// Drain anything written between the last read and the
			// state transition.
			if n, err := t.file.Read(p); n > 0 {
				return n, nil
			} else if err != nil && err != io.EOF {
				return 0, err
			}
			return 0, io.EOF
		}
		time.Sleep(500 * time.Millisecond)
	}
}

func (t *tailStream) Close() error {
	return t.file.Close()
}
