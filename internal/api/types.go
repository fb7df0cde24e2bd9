// Package api defines the API types and contracts for the trainctl application.
//
// This package contains all the data structures used for communication between
// the CLI client and the HTTP server. It defines:
//   - Request and response types for all API endpoints
//   - Job, recipe and device type definitions
//   - Error response structures
//
// All types in this package are designed to be JSON-serializable for easy
// HTTP transmission.
package api

// DeviceType identifies a class of training accelerator.
type DeviceType string

const (
	// DeviceTypeCUDA covers NVIDIA GPUs driven through CUDA.
	DeviceTypeCUDA DeviceType = "cuda"

	// DeviceTypeAll is a special value matching every device type.
	// Used in queries to retrieve recipes compatible with any device.
	DeviceTypeAll DeviceType = "all"
)

// JobState represents the lifecycle state of a training job.
type JobState string

const (
	// JobStatePending means the job has been accepted but the launcher
	// process or container has not started yet.
	JobStatePending JobState = "pending"

	// JobStateRunning means the external launcher is executing.
	JobStateRunning JobState = "running"

	// JobStateSucceeded means the launcher exited with code 0.
	JobStateSucceeded JobState = "succeeded"

	// JobStateFailed means the launcher exited non-zero. The exit code is
	// recorded on the job; trainctl defines no error taxonomy of its own.
	JobStateFailed JobState = "failed"

	// JobStateStopped means the job was stopped on user request.
	JobStateStopped JobState = "stopped"

	// JobStateLost means the server restarted and could not re-attach to
	// the job's process. Only host-launcher jobs can become lost.
	JobStateLost JobState = "lost"
)

// Terminal reports whether the state is final.
func (s JobState) Terminal() bool {
	switch s {
	case JobStateSucceeded, JobStateFailed, JobStateStopped, JobStateLost:
		return true
	}
	return false
}

// Recipe is the wire representation of a training recipe.
type Recipe struct {
	// ID is the unique recipe identifier (e.g., "bert-large").
	ID string `json:"id"`

	// DisplayName is the human-readable recipe name.
	DisplayName string `json:"display_name"`

	// Family groups related recipes (e.g., "bert").
	Family string `json:"family"`

	// Description explains what the recipe trains and how.
	Description string `json:"description"`

	// Model and Tokenizer are the identifiers passed through to the
	// external launcher untouched.
	Model     string `json:"model"`
	Tokenizer string `json:"tokenizer"`

	// EffectiveBatchSize is the default global batch size.
	EffectiveBatchSize int `json:"effective_batch_size"`

	// MaxDeviceBatchSize is the largest micro batch that fits on one device.
	MaxDeviceBatchSize int `json:"max_device_batch_size"`

	// LearningRate is the default peak learning rate.
	LearningRate float64 `json:"learning_rate"`

	// SequenceLength is the default maximum sequence length in tokens.
	SequenceLength int `json:"sequence_length"`

	// Epochs is the default number of training epochs.
	Epochs int `json:"epochs"`

	// WarmupProportion is the fraction of steps used for LR warmup.
	WarmupProportion float64 `json:"warmup_proportion"`

	// FP16 indicates whether mixed precision is enabled by default.
	FP16 bool `json:"fp16"`

	// FusedKernels indicates whether the launcher's fused transformer
	// kernels are enabled by default.
	FusedKernels bool `json:"fused_kernels"`

	// Quantized indicates whether the recipe trains with quantization.
	Quantized bool `json:"quantized"`

	// RequiredVRAM is the minimum per-device memory in GB.
	RequiredVRAM int `json:"required_vram"`

	// SupportedDevices lists compatible accelerator types.
	SupportedDevices []DeviceType `json:"supported_devices"`
}

// Device is the wire representation of a detected accelerator.
type Device struct {
	Type       DeviceType        `json:"type"`
	Index      int               `json:"index"`
	BusAddress string            `json:"bus_address"`
	ModelName  string            `json:"model_name"`
	Allocated  bool              `json:"allocated"`
	Properties map[string]string `json:"properties,omitempty"`
}

// HostInfo reports host CPU capabilities relevant to mixed-precision
// training (vector extensions used by CPU-side preprocessing and fallbacks).
type HostInfo struct {
	CPUBrand string   `json:"cpu_brand"`
	Cores    int      `json:"cores"`
	Features []string `json:"features"`
	AVX512   bool     `json:"avx512"`
	BF16     bool     `json:"bf16"`
	AMX      bool     `json:"amx"`
}

// JobOverrides carries per-submit hyperparameter overrides. Zero values
// mean "use the recipe default".
type JobOverrides struct {
	Nodes              int     `json:"nodes,omitempty"`
	GPUsPerNode        int     `json:"gpus_per_node,omitempty"`
	EffectiveBatchSize int     `json:"effective_batch_size,omitempty"`
	MaxDeviceBatchSize int     `json:"max_device_batch_size,omitempty"`
	LearningRate       float64 `json:"learning_rate,omitempty"`
	SequenceLength     int     `json:"sequence_length,omitempty"`
	Epochs             int     `json:"epochs,omitempty"`
	WarmupProportion   float64 `json:"warmup_proportion,omitempty"`

	// FP16 and FusedKernels are tri-state: nil means recipe default.
	FP16         *bool `json:"fp16,omitempty"`
	FusedKernels *bool `json:"fused_kernels,omitempty"`
}

// SubmitJobRequest represents a request to submit a training job.
type SubmitJobRequest struct {
	// Recipe is the recipe ID to train.
	Recipe string `json:"recipe"`

	// Name is an optional job alias (defaults to a generated name).
	Name string `json:"name,omitempty"`

	// Launcher selects the launcher backend ("host" or "docker").
	// Empty selects the server default.
	Launcher string `json:"launcher,omitempty"`

	// Devices optionally pins the job to specific GPU indexes.
	Devices []int `json:"devices,omitempty"`

	// CheckpointDir and DatasetDir override the recipe's path layout.
	CheckpointDir string `json:"checkpoint_dir,omitempty"`
	DatasetDir    string `json:"dataset_dir,omitempty"`

	// TrainerConfigPath points at a user-supplied trainer JSON config.
	// When set the server validates it against the plan instead of
	// generating one.
	TrainerConfigPath string `json:"trainer_config_path,omitempty"`

	// Env holds launch environment overrides (e.g. NCCL variables),
	// applied over the server's launch_env.yaml and any recipe
	// overrides.
	Env map[string]string `json:"env,omitempty"`

	// Overrides are hyperparameter overrides applied on top of the recipe.
	Overrides JobOverrides `json:"overrides,omitempty"`
}

// Job is the wire representation of a training job.
type Job struct {
	ID            string   `json:"id"`
	Name          string   `json:"name"`
	Recipe        string   `json:"recipe"`
	Launcher      string   `json:"launcher"`
	State         JobState `json:"state"`
	ExitCode      int      `json:"exit_code"`
	Error         string   `json:"error,omitempty"`
	Devices       []int    `json:"devices"`
	Nodes         int      `json:"nodes"`
	GPUsPerNode   int      `json:"gpus_per_node"`
	MicroBatch    int      `json:"micro_batch"`
	AccumSteps    int      `json:"accumulation_steps"`
	JobDir        string   `json:"job_dir"`
	CreatedAt     string   `json:"created_at"`
	StartedAt     string   `json:"started_at,omitempty"`
	FinishedAt    string   `json:"finished_at,omitempty"`
	CheckpointDir string   `json:"checkpoint_dir"`
}

// SubmitJobResponse is returned after a successful submission.
type SubmitJobResponse struct {
	Job Job `json:"job"`
}

// ListJobsRequest represents a request to list jobs.
type ListJobsRequest struct {
	// All includes finished jobs when true; otherwise only pending and
	// running jobs are returned.
	All bool `json:"all,omitempty"`
}

// ListJobsResponse contains the job listing.
type ListJobsResponse struct {
	Jobs []Job `json:"jobs"`
}

// GetJobRequest looks up a job by ID or name.
type GetJobRequest struct {
	Job string `json:"job"`
}

// GetJobResponse contains a single job.
type GetJobResponse struct {
	Job Job `json:"job"`
}

// StopJobRequest requests a stop by ID or name.
type StopJobRequest struct {
	Job string `json:"job"`
}

// StopJobResponse acknowledges a stop request.
type StopJobResponse struct {
	Job Job `json:"job"`
}

// RemoveJobRequest requests removal of a finished job by ID or name.
type RemoveJobRequest struct {
	Job string `json:"job"`
}

// RemoveJobResponse acknowledges a removal.
type RemoveJobResponse struct {
	Job Job `json:"job"`
}

// ListRecipesRequest represents a request to list recipes.
type ListRecipesRequest struct {
	// DeviceType filters recipes by device compatibility.
	// DeviceTypeAll or empty disables filtering.
	DeviceType DeviceType `json:"device_type,omitempty"`
}

// ListRecipesResponse contains the recipe listing.
type ListRecipesResponse struct {
	Recipes []Recipe `json:"recipes"`
}

// ShowRecipeRequest looks up a recipe by ID.
type ShowRecipeRequest struct {
	Recipe string `json:"recipe"`
}

// ShowRecipeResponse contains a single recipe.
type ShowRecipeResponse struct {
	Recipe Recipe `json:"recipe"`
}

// ListDevicesResponse contains detected accelerators and host capabilities.
type ListDevicesResponse struct {
	Devices []Device `json:"devices"`
	Host    HostInfo `json:"host"`
}

// VersionResponse contains server version information.
type VersionResponse struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`

	// ServerName is the persistent identity of the server instance,
	// generated on first start.
	ServerName string `json:"server_name,omitempty"`
}

// HealthResponse is returned by the health endpoint.
type HealthResponse struct {
	Status string `json:"status"`
}

// ErrorResponse is the standard error payload for failed requests.
type ErrorResponse struct {
	Error string `json:"error"`
}
