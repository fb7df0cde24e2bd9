package handlers

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/docker/docker/pkg/stdcopy"

	"github.com/forgeml/trainctl/internal/api"
	"github.com/forgeml/trainctl/internal/logger"
)

// SubmitJob handles POST /api/jobs/submit requests.
//
// The request body is an api.SubmitJobRequest naming a recipe plus
// optional overrides. The server resolves the launch plan, allocates
// devices, writes the trainer configuration and starts the launcher.
//
// Response: 200 OK with the created job, 400 for planning errors,
// 409 when devices cannot be allocated.
func (h *Handler) SubmitJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.WriteError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req api.SubmitJobRequest
	if err := h.decodeRequest(r, &req); err != nil {
		h.WriteError(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.Recipe == "" {
		h.WriteError(w, "recipe is required", http.StatusBadRequest)
		return
	}

	job, err := h.manager.Submit(r.Context(), &req)
	if err != nil {
		logger.Error("Job submission failed: %v", err)
		status := http.StatusBadRequest
		if isAllocationError(err) {
			status = http.StatusConflict
		}
		h.WriteError(w, err.Error(), status)
		return
	}

	h.WriteJSON(w, api.SubmitJobResponse{Job: job.ToAPI()}, http.StatusOK)
}

// isAllocationError distinguishes device contention from bad requests.
func isAllocationError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "device allocation failed")
}

// ListJobs handles POST /api/jobs/list requests.
//
// Request body:
//
//	{"all": true}
//
// Without "all", only pending and running jobs are returned. Jobs are
// ordered newest first.
func (h *Handler) ListJobs(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.WriteError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req api.ListJobsRequest
	if err := h.decodeRequest(r, &req); err != nil {
		h.WriteError(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	jobs, err := h.manager.List(r.Context(), req.All)
	if err != nil {
		h.WriteError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	out := make([]api.Job, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, job.ToAPI())
	}

	h.WriteJSON(w, api.ListJobsResponse{Jobs: out}, http.StatusOK)
}

// GetJob handles POST /api/jobs/get requests.
//
// Request body:
//
//	{"job": "<id or name>"}
func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.WriteError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req api.GetJobRequest
	if err := h.decodeRequest(r, &req); err != nil {
		h.WriteError(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.Job == "" {
		h.WriteError(w, "job is required", http.StatusBadRequest)
		return
	}

	job, err := h.manager.Get(r.Context(), req.Job)
	if err != nil {
		h.WriteError(w, err.Error(), http.StatusNotFound)
		return
	}

	h.WriteJSON(w, api.GetJobResponse{Job: job.ToAPI()}, http.StatusOK)
}

// StopJob handles POST /api/jobs/stop requests.
//
// Request body:
//
//	{"job": "<id or name>"}
//
// The launcher gets a term signal and a grace period before being
// killed; the response carries the job after the stop was issued.
func (h *Handler) StopJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.WriteError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req api.StopJobRequest
	if err := h.decodeRequest(r, &req); err != nil {
		h.WriteError(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.Job == "" {
		h.WriteError(w, "job is required", http.StatusBadRequest)
		return
	}

	job, err := h.manager.Stop(r.Context(), req.Job)
	if err != nil {
		h.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.WriteJSON(w, api.StopJobResponse{Job: job.ToAPI()}, http.StatusOK)
}

// RemoveJob handles POST /api/jobs/remove requests.
//
// Request body:
//
//	{"job": "<id or name>"}
//
// Only terminal jobs can be removed; running jobs return 400 with a
// hint to stop them first. Removal forgets the job (state file entry
// or exited container) but keeps the job directory on disk.
func (h *Handler) RemoveJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.WriteError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req api.RemoveJobRequest
	if err := h.decodeRequest(r, &req); err != nil {
		h.WriteError(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}
	if req.Job == "" {
		h.WriteError(w, "job is required", http.StatusBadRequest)
		return
	}

	job, err := h.manager.Remove(r.Context(), req.Job)
	if err != nil {
		h.WriteError(w, err.Error(), http.StatusBadRequest)
		return
	}

	h.WriteJSON(w, api.RemoveJobResponse{Job: job.ToAPI()}, http.StatusOK)
}

// StreamLogs handles GET /api/jobs/logs requests.
//
// Query parameters:
//   - job: job ID or name (required)
//   - follow: "false" disables tailing (default: true)
//
// The response is a plain-text stream of the launcher's output. Docker
// backend streams are demultiplexed from Docker's framed log format;
// host backend streams pass through unchanged.
func (h *Handler) StreamLogs(w http.ResponseWriter, r *http.Request) {
	ref := r.URL.Query().Get("job")
	if ref == "" {
		h.WriteError(w, "job parameter is required", http.StatusBadRequest)
		return
	}

	follow := r.URL.Query().Get("follow") != "false"

	job, err := h.manager.Get(r.Context(), ref)
	if err != nil {
		h.WriteError(w, err.Error(), http.StatusNotFound)
		return
	}

	logStream, err := h.manager.Logs(r.Context(), ref, follow)
	if err != nil {
		h.WriteError(w, fmt.Sprintf("failed to get logs: %v", err), http.StatusInternalServerError)
		return
	}
	defer logStream.Close()

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // disable nginx buffering

	flusher, hasFlusher := w.(http.Flusher)
	if hasFlusher {
		flusher.Flush()
	}

	flushWriter := &flushingWriter{writer: w, flusher: flusher}

	if job.Launcher == "docker" {
		// Docker multiplexes stdout and stderr with 8-byte frame
		// headers; stdcopy separates them back out.
		_, err = stdcopy.StdCopy(flushWriter, flushWriter, logStream)
	} else {
		_, err = io.Copy(flushWriter, logStream)
	}
	if err != nil && err != io.EOF {
		logger.Error("Error streaming logs for job %s: %v", job.ID, err)
	}
}

// flushingWriter wraps http.ResponseWriter to flush after each write,
// so log lines reach the client as they are produced.
type flushingWriter struct {
	writer  http.ResponseWriter
	flusher http.Flusher
}

func (fw *flushingWriter) Write(p []byte) (n int, err error) {
	n, err = fw.writer.Write(p)
	if err == nil && fw.flusher != nil {
		fw.flusher.Flush()
	}
	return n, err
}
