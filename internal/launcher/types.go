// Package launcher provides job launch backends and lifecycle management
// for training jobs.
//
// A Launcher wraps one way of running the external distributed-training
// launcher: as a host process ("host") or inside a container ("docker").
// The Manager owns the launchers, the device allocator and the job
// registry, and exposes the operations the HTTP handlers call.
package launcher

import (
	"context"
	"time"

	"github.com/forgeml/trainctl/internal/api"
)

// Launcher defines the interface for job launch backends.
type Launcher interface {
	// Submit starts a job. The job directory already exists and the
	// trainer config has been written; Submit only starts execution.
	Submit(ctx context.Context, params *SubmitParams) (*Job, error)

	// Stop terminates a running job gracefully, escalating after a
	// grace period.
	Stop(ctx context.Context, jobID string) error

	// Remove deletes a terminal job from tracking, including the
	// backend's durable record of it (state file entry, exited
	// container). Running jobs must be stopped first. Job artifacts
	// in the job directory are left on disk.
	Remove(ctx context.Context, jobID string) error

	// Get returns a tracked job.
	Get(ctx context.Context, jobID string) (*Job, error)

	// List returns all tracked jobs.
	List(ctx context.Context) ([]*Job, error)

	// Logs streams the job's training log. The returned stream must be
	// closed by the caller.
	Logs(ctx context.Context, jobID string, follow bool) (LogStream, error)

	// Refresh reconciles tracked state against reality (process table
	// or container state). Returns jobs that reached a terminal state
	// during this refresh.
	Refresh(ctx context.Context) []*Job

	// Name returns the backend name ("host", "docker").
	Name() string
}

// SubmitParams contains everything a backend needs to start a job.
//
// The argument vector and environment are fully resolved by the planner
// before submission; backends execute them without interpretation.
type SubmitParams struct {
	JobID  string
	Name   string
	Recipe string

	// Argv is the complete launcher command, argv[0] included.
	Argv []string

	// Env holds extra environment entries (KEY=value): the
	// communication-backend variables and device visibility.
	Env []string

	// JobDir is the job's artifact directory (trainer config, log,
	// checkpoints).
	JobDir string

	// CheckpointDir and DatasetDir are bind-mounted by the docker
	// backend and informational for the host backend.
	CheckpointDir string
	DatasetDir    string

	// Devices are the allocated local GPU indexes.
	Devices []int

	// Topology and batch geometry, recorded on the job for listings.
	Nodes       int
	GPUsPerNode int
	MicroBatch  int
	AccumSteps  int

	// Image is the container image (docker backend only).
	Image string
}

// Job represents a tracked training job.
type Job struct {
	ID       string
	Name     string
	Recipe   string
	Launcher string

	State    api.JobState
	ExitCode int
	Error    string

	Devices     []int
	Nodes       int
	GPUsPerNode int
	MicroBatch  int
	AccumSteps  int

	JobDir        string
	CheckpointDir string

	CreatedAt  time.Time
	StartedAt  time.Time
	FinishedAt time.Time

	// Metadata holds backend-specific details (pid, container_id).
	Metadata map[string]string
}

// ToAPI converts the job to its wire representation.
func (j *Job) ToAPI() api.Job {
	out := api.Job{
		ID:            j.ID,
		Name:          j.Name,
		Recipe:        j.Recipe,
		Launcher:      j.Launcher,
		State:         j.State,
		ExitCode:      j.ExitCode,
		Error:         j.Error,
		Devices:       j.Devices,
		Nodes:         j.Nodes,
		GPUsPerNode:   j.GPUsPerNode,
		MicroBatch:    j.MicroBatch,
		AccumSteps:    j.AccumSteps,
		JobDir:        j.JobDir,
		CheckpointDir: j.CheckpointDir,
		CreatedAt:     j.CreatedAt.Format(time.RFC3339),
	}
	if !j.StartedAt.IsZero() {
		out.StartedAt = j.StartedAt.Format(time.RFC3339)
	}
	if !j.FinishedAt.IsZero() {
		out.FinishedAt = j.FinishedAt.Format(time.RFC3339)
	}
	return out
}

// LogStream provides access to job logs.
type LogStream interface {
	Read(p []byte) (n int, err error)
	Close() error
}

// TrainLogName is the log file each backend tees launcher output into,
// inside the job directory.
const TrainLogName = "train.log"

// stopGraceSeconds is how long a stopping job gets between SIGTERM and
// SIGKILL. Trainers use the term signal to flush a final checkpoint.
const stopGraceSeconds = 30
