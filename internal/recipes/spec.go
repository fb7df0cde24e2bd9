// Package recipes provides training recipe specifications and registry
// management.
//
// A recipe is a named, curated bundle of hyperparameters and trainer
// settings for one model configuration (e.g., BERT-large pre-training).
// Each recipe is defined in its own file under family subdirectories
// (e.g., bert/) and registered with the default registry from init().
package recipes

import (
	"fmt"

	"github.com/forgeml/trainctl/internal/api"
	"github.com/forgeml/trainctl/internal/config"
)

// Hyperparameters are the tunable training settings a recipe ships with.
// Every field can be overridden at submit time.
type Hyperparameters struct {
	// EffectiveBatchSize is the global batch size aggregated across all
	// accelerators and gradient-accumulation steps per optimizer update.
	EffectiveBatchSize int

	// MaxDeviceBatchSize is the largest micro batch that fits in one
	// device's memory for this model at the default sequence length.
	MaxDeviceBatchSize int

	// LearningRate is the peak learning rate.
	LearningRate float64

	// SequenceLength is the maximum sequence length in tokens.
	SequenceLength int

	// Epochs is the number of passes over the training set.
	Epochs int

	// WarmupProportion is the fraction of total steps spent warming up
	// the learning rate.
	WarmupProportion float64

	// FP16 enables mixed-precision training.
	FP16 bool

	// FusedKernels enables the launcher's fused transformer kernels.
	FusedKernels bool
}

// RecipeSpec defines the complete specification for a training recipe.
//
// Each recipe file creates a RecipeSpec instance with all necessary
// configuration: identifiers forwarded to the external launcher, default
// hyperparameters, and the trainer-config template.
type RecipeSpec struct {
	// ID is the unique recipe identifier (e.g., "bert-large").
	ID string

	// DisplayName is the human-readable recipe name.
	DisplayName string

	// Family groups related recipes (e.g., "bert").
	Family string

	// Description provides detailed information about the recipe.
	Description string

	// Model is the model identifier passed to the launcher (e.g.,
	// "bert-large-uncased"). Opaque to trainctl.
	Model string

	// Tokenizer is the tokenizer identifier passed to the launcher.
	// Defaults to Model when empty.
	Tokenizer string

	// Entrypoint is the training script the launcher executes.
	Entrypoint string

	// DatasetDirName is the default dataset subdirectory under the data
	// directory, used when no --dataset-dir override is given.
	DatasetDirName string

	// Defaults are the recipe's default hyperparameters.
	Defaults Hyperparameters

	// Optimizer is the optimizer block written into the trainer config.
	// The learning rate is filled in from the resolved hyperparameters.
	Optimizer config.OptimizerConfig

	// GradientClipping is the gradient norm clip written into the
	// trainer config. Zero disables clipping.
	GradientClipping float64

	// ZeroStage selects the trainer's memory-optimization stage.
	ZeroStage int

	// Quantize enables quantization-aware training when non-nil.
	Quantize *config.QuantizeConfig

	// LaunchEnv holds recipe-specific launch environment overrides,
	// merged over the launch_env.yaml defaults. Submit-time overrides
	// win over both.
	LaunchEnv map[string]string

	// SupportedDevices lists compatible accelerator types.
	SupportedDevices []api.DeviceType

	// RequiredVRAM is the minimum per-device memory in GB.
	RequiredVRAM int
}

// TokenizerID returns the tokenizer identifier, falling back to the model.
func (r *RecipeSpec) TokenizerID() string {
	if r.Tokenizer != "" {
		return r.Tokenizer
	}
	return r.Model
}

// SupportsDevice checks if the recipe supports a specific device type.
func (r *RecipeSpec) SupportsDevice(deviceType api.DeviceType) bool {
	if len(r.SupportedDevices) == 0 {
		return true
	}
	for _, d := range r.SupportedDevices {
		if d == deviceType {
			return true
		}
	}
	return false
}

// Validate checks if the recipe specification is valid.
//
// Returns:
//   - Error if validation fails, nil otherwise
func (r *RecipeSpec) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("recipe ID cannot be empty")
	}
	if r.Model == "" {
		return fmt.Errorf("recipe %s must name a model", r.ID)
	}
	if r.Entrypoint == "" {
		return fmt.Errorf("recipe %s must name a training entrypoint", r.ID)
	}
	if r.Defaults.EffectiveBatchSize <= 0 {
		return fmt.Errorf("recipe %s: effective batch size must be positive", r.ID)
	}
	if r.Defaults.MaxDeviceBatchSize <= 0 {
		return fmt.Errorf("recipe %s: max device batch size must be positive", r.ID)
	}
	if r.Defaults.LearningRate <= 0 {
		return fmt.Errorf("recipe %s: learning rate must be positive", r.ID)
	}
	if r.Defaults.SequenceLength <= 0 {
		return fmt.Errorf("recipe %s: sequence length must be positive", r.ID)
	}
	if r.Defaults.Epochs <= 0 {
		return fmt.Errorf("recipe %s: epochs must be positive", r.ID)
	}
	if r.Defaults.WarmupProportion < 0 || r.Defaults.WarmupProportion >= 1 {
		return fmt.Errorf("recipe %s: warmup proportion must be in [0,1)", r.ID)
	}
	if r.Quantize != nil && r.Quantize.TargetBits <= 0 {
		return fmt.Errorf("recipe %s: quantize target bits must be positive", r.ID)
	}
	return nil
}

// ToAPI converts the spec to its wire representation.
func (r *RecipeSpec) ToAPI() api.Recipe {
	return api.Recipe{
		ID:                 r.ID,
		DisplayName:        r.DisplayName,
		Family:             r.Family,
		Description:        r.Description,
		Model:              r.Model,
		Tokenizer:          r.TokenizerID(),
		EffectiveBatchSize: r.Defaults.EffectiveBatchSize,
		MaxDeviceBatchSize: r.Defaults.MaxDeviceBatchSize,
		LearningRate:       r.Defaults.LearningRate,
		SequenceLength:     r.Defaults.SequenceLength,
		Epochs:             r.Defaults.Epochs,
		WarmupProportion:   r.Defaults.WarmupProportion,
		FP16:               r.Defaults.FP16,
		FusedKernels:       r.Defaults.FusedKernels,
		Quantized:          r.Quantize != nil,
		RequiredVRAM:       r.RequiredVRAM,
		SupportedDevices:   r.SupportedDevices,
	}
}
