package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"

	"github.com/forgeml/trainctl/internal/api"
	"github.com/forgeml/trainctl/internal/client"
)

func TestResolveBoolPair(t *testing.T) {
	cases := []struct {
		name    string
		on, off bool
		want    *bool
		wantErr bool
	}{
		{name: "unset", want: nil},
		{name: "enabled", on: true, want: boolRef(true)},
		{name: "disabled", off: true, want: boolRef(false)},
		{name: "conflict", on: true, off: true, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := resolveBoolPair("fp16", tc.on, tc.off)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected conflicting flags to error")
				}
				return
			}
			if err != nil {
				t.Fatalf("resolveBoolPair: %v", err)
			}
			switch {
			case tc.want == nil && got != nil:
				t.Errorf("expected nil, got %v", *got)
			case tc.want != nil && (got == nil || *got != *tc.want):
				t.Errorf("expected %v, got %v", *tc.want, got)
			}
		})
	}
}

func boolRef(v bool) *bool { return &v }

func TestParseEnvOverrides(t *testing.T) {
	env, err := parseEnvOverrides([]string{"NCCL_DEBUG=INFO", "NCCL_IB_DISABLE=1"})
	if err != nil {
		t.Fatalf("parseEnvOverrides: %v", err)
	}
	if env["NCCL_DEBUG"] != "INFO" || env["NCCL_IB_DISABLE"] != "1" {
		t.Errorf("unexpected env map: %v", env)
	}

	if _, err := parseEnvOverrides([]string{"NO_SEPARATOR"}); err == nil {
		t.Error("expected malformed entry to be rejected")
	}
	if _, err := parseEnvOverrides([]string{"=value"}); err == nil {
		t.Error("expected empty key to be rejected")
	}
}

// fakeJobServer serves the minimal job API used by the foreground
// attach path: a blocking log stream, stop, and get.
type fakeJobServer struct {
	stopped  atomic.Bool
	released chan struct{} // closed when stop arrives; unblocks the log stream
}

func newFakeJobServer() (*fakeJobServer, *httptest.Server) {
	f := &fakeJobServer{released: make(chan struct{})}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/jobs/logs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("training step 1\n"))
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}
		<-f.released
	})
	mux.HandleFunc("/api/jobs/stop", func(w http.ResponseWriter, r *http.Request) {
		if f.stopped.CompareAndSwap(false, true) {
			close(f.released)
		}
		json.NewEncoder(w).Encode(api.StopJobResponse{Job: f.job()})
	})
	mux.HandleFunc("/api/jobs/get", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(api.GetJobResponse{Job: f.job()})
	})

	return f, httptest.NewServer(mux)
}

func (f *fakeJobServer) job() api.Job {
	state := api.JobStateRunning
	if f.stopped.Load() {
		state = api.JobStateStopped
	}
	return api.Job{ID: "bert-base-test", State: state}
}

func TestAttachForegroundStopsJobOnInterrupt(t *testing.T) {
	fake, server := newFakeJobServer()
	defer server.Close()

	interrupts := make(chan os.Signal, 1)
	interrupts <- os.Interrupt

	final, err := attachForeground(client.NewClient(server.URL), "bert-base-test", interrupts)
	if err != nil {
		t.Fatalf("attachForeground: %v", err)
	}

	if !fake.stopped.Load() {
		t.Error("interrupt did not stop the job on the server")
	}
	if final.State != api.JobStateStopped {
		t.Errorf("final state = %s, want %s", final.State, api.JobStateStopped)
	}
}

func TestAttachForegroundReturnsWhenStreamEnds(t *testing.T) {
	fake, server := newFakeJobServer()
	defer server.Close()

	// A finished job: the log stream drains immediately and the job
	// reports a terminal state without any interrupt.
	fake.stopped.Store(true)
	close(fake.released)

	interrupts := make(chan os.Signal)

	final, err := attachForeground(client.NewClient(server.URL), "bert-base-test", interrupts)
	if err != nil {
		t.Fatalf("attachForeground: %v", err)
	}
	if final.State != api.JobStateStopped {
		t.Errorf("final state = %s, want %s", final.State, api.JobStateStopped)
	}
}
