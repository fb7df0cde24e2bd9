// Package client provides an HTTP client for communicating with the
// trainctl server.
//
// This package implements the client-side of the trainctl API, enabling
// the CLI to interact with the server over HTTP. It provides:
//   - High-level methods for all API operations
//   - Automatic request/response serialization
//   - Error handling and status code processing
//   - Streaming access to training logs
//
// The client handles all HTTP communication details, allowing callers to
// work with native Go types rather than raw HTTP requests and responses.
//
// Example usage:
//
//	c := client.NewClient("http://localhost:11791")
//	recipes, err := c.ListRecipes(api.DeviceTypeAll)
//	if err != nil {
//	    log.Fatalf("Failed to list recipes: %v", err)
//	}
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/forgeml/trainctl/internal/api"
)

// Client is the HTTP client for communicating with the trainctl server.
//
// All methods are thread-safe and can be called concurrently.
type Client struct {
	// baseURL is the base URL of the trainctl server.
	// Format: "http://host:port" (e.g., "http://localhost:11791")
	baseURL string

	// httpClient is the underlying HTTP client used for requests.
	httpClient *http.Client
}

// NewClient creates a client for a specific trainctl server.
//
// Parameters:
//   - baseURL: The base URL of the server (e.g., "http://localhost:11791")
//
// Returns:
//   - A configured Client ready for use
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 0, // log streaming keeps connections open indefinitely
		},
	}
}

// Health checks whether the server is reachable and answering.
func (c *Client) Health() (*api.HealthResponse, error) {
	var resp api.HealthResponse
	if err := c.doRequest(http.MethodGet, "/api/health", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Version retrieves the server version information.
func (c *Client) Version() (*api.VersionResponse, error) {
	var resp api.VersionResponse
	if err := c.doRequest(http.MethodGet, "/api/version", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ListRecipes retrieves the recipe catalog, optionally filtered by
// device compatibility.
func (c *Client) ListRecipes(deviceType api.DeviceType) ([]api.Recipe, error) {
	req := api.ListRecipesRequest{DeviceType: deviceType}
	var resp api.ListRecipesResponse
	if err := c.doRequest(http.MethodPost, "/api/recipes/list", req, &resp); err != nil {
		return nil, err
	}
	return resp.Recipes, nil
}

// ShowRecipe retrieves a single recipe by ID.
func (c *Client) ShowRecipe(recipeID string) (*api.Recipe, error) {
	req := api.ShowRecipeRequest{Recipe: recipeID}
	var resp api.ShowRecipeResponse
	if err := c.doRequest(http.MethodPost, "/api/recipes/show", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Recipe, nil
}

// ListDevices retrieves detected accelerators and host capabilities.
func (c *Client) ListDevices() (*api.ListDevicesResponse, error) {
	var resp api.ListDevicesResponse
	if err := c.doRequest(http.MethodGet, "/api/devices/list", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SubmitJob submits a training job and returns the created job.
func (c *Client) SubmitJob(req *api.SubmitJobRequest) (*api.Job, error) {
	var resp api.SubmitJobResponse
	if err := c.doRequest(http.MethodPost, "/api/jobs/submit", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Job, nil
}

// ListJobs retrieves jobs, including finished ones when all is true.
func (c *Client) ListJobs(all bool) ([]api.Job, error) {
	req := api.ListJobsRequest{All: all}
	var resp api.ListJobsResponse
	if err := c.doRequest(http.MethodPost, "/api/jobs/list", req, &resp); err != nil {
		return nil, err
	}
	return resp.Jobs, nil
}

// GetJob retrieves a job by ID or name.
func (c *Client) GetJob(ref string) (*api.Job, error) {
	req := api.GetJobRequest{Job: ref}
	var resp api.GetJobResponse
	if err := c.doRequest(http.MethodPost, "/api/jobs/get", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Job, nil
}

// StopJob requests a stop for a job by ID or name.
func (c *Client) StopJob(ref string) (*api.Job, error) {
	req := api.StopJobRequest{Job: ref}
	var resp api.StopJobResponse
	if err := c.doRequest(http.MethodPost, "/api/jobs/stop", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Job, nil
}

// RemoveJob removes a finished job by ID or name.
func (c *Client) RemoveJob(ref string) (*api.Job, error) {
	req := api.RemoveJobRequest{Job: ref}
	var resp api.RemoveJobResponse
	if err := c.doRequest(http.MethodPost, "/api/jobs/remove", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Job, nil
}

// WaitForJob polls until the job reaches a terminal state.
//
// Polling uses exponential backoff capped at five seconds, so a
// just-submitted job is noticed quickly while long runs keep the
// request rate low. The context bounds the total wait.
//
// Returns:
//   - The terminal job
//   - Error if the context expires or the server becomes unreachable
func (c *Client) WaitForJob(ctx context.Context, ref string) (*api.Job, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxInterval = 5 * time.Second
	policy.MaxElapsedTime = 0 // bounded by ctx only

	var job *api.Job
	operation := func() error {
		j, err := c.GetJob(ref)
		if err != nil {
			return backoff.Permanent(err)
		}
		if !j.State.Terminal() {
			return fmt.Errorf("job %s still %s", ref, j.State)
		}
		job = j
		return nil
	}

	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, err
	}
	return job, nil
}

// StreamJobLogs streams a job's training log, invoking logCallback for
// each chunk as it arrives.
//
// Parameters:
//   - ref: Job ID or name
//   - follow: Keep streaming until the job finishes when true
//   - logCallback: Invoked with each chunk of log output
func (c *Client) StreamJobLogs(ref string, follow bool, logCallback func(string)) error {
	u := fmt.Sprintf("%s/api/jobs/logs?job=%s&follow=%t", c.baseURL, url.QueryEscape(ref), follow)

	req, err := http.NewRequest(http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cannot connect to trainctl server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respData, _ := io.ReadAll(resp.Body)
		var errResp api.ErrorResponse
		if jerr := json.Unmarshal(respData, &errResp); jerr == nil && errResp.Error != "" {
			return fmt.Errorf("failed to stream logs: %s", errResp.Error)
		}
		return fmt.Errorf("failed to stream logs: %s", string(respData))
	}

	// Small buffer for low latency; training logs arrive line by line.
	buf := make([]byte, 256)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if logCallback != nil {
				logCallback(string(buf[:n]))
			}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("error reading log stream: %w", err)
		}
	}
}

// doRequest performs an HTTP request with JSON serialization.
//
// Error responses are decoded into api.ErrorResponse and surfaced as
// Go errors; success responses are decoded into respBody when non-nil.
func (c *Client) doRequest(method, path string, reqBody, respBody interface{}) error {
	u := c.baseURL + path

	var body io.Reader
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, u, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("cannot connect to trainctl server at %s\n\nIs the server running? Start it with: trainctl serve", c.baseURL)
	}
	defer resp.Body.Close()

	respData, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errResp api.ErrorResponse
		if err := json.Unmarshal(respData, &errResp); err == nil && errResp.Error != "" {
			return fmt.Errorf("server error: %s", errResp.Error)
		}
		return fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(respData))
	}

	if respBody != nil {
		if err := json.Unmarshal(respData, respBody); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}
