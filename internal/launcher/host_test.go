package launcher

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/forgeml/trainctl/internal/api"
)

// waitTerminal polls until the job reaches a terminal state.
func waitTerminal(t *testing.T, l *HostLauncher, jobID string, timeout time.Duration) *Job {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		job, err := l.Get(context.Background(), jobID)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if job.State.Terminal() {
			return job
		}
		time.Sleep(50 * time.Millisecond)
	}
	t.Fatalf("job %s did not finish within %v", jobID, timeout)
	return nil
}

func newTestLauncher(t *testing.T) *HostLauncher {
	t.Helper()

	l, err := NewHostLauncher(filepath.Join(t.TempDir(), "jobs.json"))
	if err != nil {
		t.Fatalf("NewHostLauncher failed: %v", err)
	}
	return l
}

func TestHostLauncherRunsToCompletion(t *testing.T) {
	l := newTestLauncher(t)
	jobDir := t.TempDir()

	job, err := l.Submit(context.Background(), &SubmitParams{
		JobID:   "job-ok",
		Name:    "job-ok",
		Recipe:  "bert-base",
		Argv:    []string{"/bin/sh", "-c", "echo training step 1"},
		JobDir:  jobDir,
		Devices: []int{0},
		Nodes:   1,
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if job.State != api.JobStateRunning {
		t.Errorf("expected running state after submit, got %s", job.State)
	}

	done := waitTerminal(t, l, job.ID, 5*time.Second)
	if done.State != api.JobStateSucceeded {
		t.Errorf("expected succeeded, got %s (error: %s)", done.State, done.Error)
	}
	if done.ExitCode != 0 {
		t.Errorf("expected exit code 0, got %d", done.ExitCode)
	}

	stream, err := l.Logs(context.Background(), job.ID, false)
	if err != nil {
		t.Fatalf("Logs failed: %v", err)
	}
	defer stream.Close()

	data, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("reading logs failed: %v", err)
	}
	if !strings.Contains(string(data), "training step 1") {
		t.Errorf("log output missing launcher stdout: %q", string(data))
	}
}

func TestHostLauncherRecordsFailureExitCode(t *testing.T) {
	l := newTestLauncher(t)

	job, err := l.Submit(context.Background(), &SubmitParams{
		JobID:  "job-fail",
		Name:   "job-fail",
		Argv:   []string{"/bin/sh", "-c", "exit 3"},
		JobDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	done := waitTerminal(t, l, job.ID, 5*time.Second)
	if done.State != api.JobStateFailed {
		t.Errorf("expected failed, got %s", done.State)
	}
	if done.ExitCode != 3 {
		t.Errorf("expected exit code 3, got %d", done.ExitCode)
	}
}

func TestHostLauncherStop(t *testing.T) {
	l := newTestLauncher(t)

	job, err := l.Submit(context.Background(), &SubmitParams{
		JobID:  "job-stop",
		Name:   "job-stop",
		Argv:   []string{"/bin/sh", "-c", "sleep 60"},
		JobDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if err := l.Stop(context.Background(), job.ID); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	done := waitTerminal(t, l, job.ID, 10*time.Second)
	if done.State != api.JobStateStopped {
		t.Errorf("expected stopped, got %s", done.State)
	}
}

func TestHostLauncherRejectsDuplicateJobID(t *testing.T) {
	l := newTestLauncher(t)
	jobDir := t.TempDir()

	params := &SubmitParams{
		JobID:  "job-dup",
		Argv:   []string{"/bin/sh", "-c", "sleep 30"},
		JobDir: jobDir,
	}
	job, err := l.Submit(context.Background(), params)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	defer l.Stop(context.Background(), job.ID)

	if _, err := l.Submit(context.Background(), params); err == nil {
		t.Error("expected duplicate job ID to be rejected")
	}
}

func TestHostLauncherStateSurvivesRestart(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "jobs.json")

	l, err := NewHostLauncher(stateFile)
	if err != nil {
		t.Fatalf("NewHostLauncher failed: %v", err)
	}

	job, err := l.Submit(context.Background(), &SubmitParams{
		JobID:  "job-restart",
		Name:   "restart-me",
		Recipe: "bert-large",
		Argv:   []string{"/bin/sh", "-c", "true"},
		JobDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitTerminal(t, l, job.ID, 5*time.Second)

	restarted, err := NewHostLauncher(stateFile)
	if err != nil {
		t.Fatalf("restart failed: %v", err)
	}

	restored, err := restarted.Get(context.Background(), "job-restart")
	if err != nil {
		t.Fatalf("Get after restart failed: %v", err)
	}
	if restored.State != api.JobStateSucceeded {
		t.Errorf("expected restored job to stay succeeded, got %s", restored.State)
	}
	if restored.Name != "restart-me" || restored.Recipe != "bert-large" {
		t.Errorf("restored job lost metadata: %+v", restored)
	}
}

func TestHostLauncherMarksVanishedJobLost(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "jobs.json")

	l, err := NewHostLauncher(stateFile)
	if err != nil {
		t.Fatalf("NewHostLauncher failed: %v", err)
	}

	job, err := l.Submit(context.Background(), &SubmitParams{
		JobID:  "job-lost",
		Argv:   []string{"/bin/sh", "-c", "sleep 30"},
		JobDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	// Forge a dead pid so the restarted launcher cannot re-attach.
	l.mu.Lock()
	realPID, _ := jobPID(l.jobs[job.ID])
	l.jobs[job.ID].Metadata["pid"] = "999999"
	l.mu.Unlock()
	l.persist()
	t.Cleanup(func() { syscall.Kill(-realPID, syscall.SIGKILL) })

	restarted, err := NewHostLauncher(stateFile)
	if err != nil {
		t.Fatalf("restart failed: %v", err)
	}

	restored, err := restarted.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatalf("Get after restart failed: %v", err)
	}
	if restored.State != api.JobStateLost {
		t.Errorf("expected lost after restart with dead pid, got %s", restored.State)
	}
}

func TestHostLauncherRemove(t *testing.T) {
	stateFile := filepath.Join(t.TempDir(), "jobs.json")

	l, err := NewHostLauncher(stateFile)
	if err != nil {
		t.Fatalf("NewHostLauncher failed: %v", err)
	}

	running, err := l.Submit(context.Background(), &SubmitParams{
		JobID:  "job-rm-running",
		Argv:   []string{"/bin/sh", "-c", "sleep 60"},
		JobDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if err := l.Remove(context.Background(), running.ID); err == nil {
		t.Error("expected removal of a running job to be refused")
	}

	finished, err := l.Submit(context.Background(), &SubmitParams{
		JobID:  "job-rm-done",
		Argv:   []string{"/bin/sh", "-c", "true"},
		JobDir: t.TempDir(),
	})
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitTerminal(t, l, finished.ID, 5*time.Second)

	if err := l.Remove(context.Background(), finished.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if _, err := l.Get(context.Background(), finished.ID); err == nil {
		t.Error("expected removed job to be forgotten")
	}

	if err := l.Stop(context.Background(), running.ID); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	waitTerminal(t, l, running.ID, 10*time.Second)

	// Removal must survive a restart: the state file no longer carries
	// the removed job, while the other job is still tracked.
	restarted, err := NewHostLauncher(stateFile)
	if err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	if _, err := restarted.Get(context.Background(), finished.ID); err == nil {
		t.Error("removed job reappeared after restart")
	}
	if _, err := restarted.Get(context.Background(), running.ID); err != nil {
		t.Errorf("stopped job missing after restart: %v", err)
	}
}
