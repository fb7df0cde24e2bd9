package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// TrainerConfigFileName is the JSON config file written into each job
// directory and handed to the external launcher via --config.
const TrainerConfigFileName = "trainer_config.json"

// TrainerConfig is the JSON configuration consumed by the external
// trainer. trainctl generates it from the resolved launch plan; the
// trainer's own semantics for these fields are out of scope here.
//
// The batch fields are the contract between trainctl's arithmetic and
// the trainer: train_batch_size must equal
// micro_batch * accumulation_steps * world size.
type TrainerConfig struct {
	TrainBatchSize            int              `json:"train_batch_size"`
	TrainMicroBatchSizePerGPU int              `json:"train_micro_batch_size_per_gpu"`
	GradientAccumulationSteps int              `json:"gradient_accumulation_steps"`
	StepsPerPrint             int              `json:"steps_per_print,omitempty"`
	Optimizer                 OptimizerConfig  `json:"optimizer"`
	GradientClipping          float64          `json:"gradient_clipping,omitempty"`
	FP16                      *FP16Config      `json:"fp16,omitempty"`
	ZeroOptimization          *ZeroConfig      `json:"zero_optimization,omitempty"`
	QuantizeTraining          *QuantizeConfig  `json:"quantize_training,omitempty"`
	WallClockBreakdown        bool             `json:"wall_clock_breakdown,omitempty"`
}

// OptimizerConfig selects and parameterizes the trainer's optimizer.
type OptimizerConfig struct {
	Type   string          `json:"type"`
	Params OptimizerParams `json:"params"`
}

// OptimizerParams holds the Adam-family hyperparameters.
type OptimizerParams struct {
	LR          float64    `json:"lr"`
	Betas       [2]float64 `json:"betas,omitempty"`
	Eps         float64    `json:"eps,omitempty"`
	WeightDecay float64    `json:"weight_decay,omitempty"`
}

// FP16Config enables and tunes mixed-precision training.
type FP16Config struct {
	Enabled           bool `json:"enabled"`
	LossScale         int  `json:"loss_scale"`
	InitialScalePower int  `json:"initial_scale_power,omitempty"`
	LossScaleWindow   int  `json:"loss_scale_window,omitempty"`
	MinLossScale      int  `json:"min_loss_scale,omitempty"`
}

// ZeroConfig selects the memory-optimization stage.
type ZeroConfig struct {
	Stage               int  `json:"stage"`
	ReduceScatter       bool `json:"reduce_scatter,omitempty"`
	ContiguousGradients bool `json:"contiguous_gradients,omitempty"`
	OverlapComm         bool `json:"overlap_comm,omitempty"`
	AllgatherPartitions bool `json:"allgather_partitions,omitempty"`
}

// QuantizeConfig enables quantization-aware training for the quantized
// recipe variants.
type QuantizeConfig struct {
	Enabled        bool `json:"enabled"`
	TargetBits     int  `json:"quantize_target_bits"`
	StartBits      int  `json:"quantize_start_bits,omitempty"`
	QuantizePeriod int  `json:"quantize_period,omitempty"`
	ScheduleOffset int  `json:"schedule_offset,omitempty"`
	QuantizeGroups int  `json:"quantize_groups,omitempty"`
}

// Validate checks internal consistency of the trainer configuration.
//
// The single invariant trainctl owns is the batch arithmetic: the
// effective batch must be covered by micro batch, accumulation steps and
// world size. worldSize is nodes * gpusPerNode.
func (tc *TrainerConfig) Validate(worldSize int) error {
	if worldSize <= 0 {
		return fmt.Errorf("world size must be positive, got %d", worldSize)
	}
	if tc.TrainBatchSize <= 0 {
		return fmt.Errorf("train_batch_size must be positive, got %d", tc.TrainBatchSize)
	}
	if tc.TrainMicroBatchSizePerGPU <= 0 {
		return fmt.Errorf("train_micro_batch_size_per_gpu must be positive, got %d",
			tc.TrainMicroBatchSizePerGPU)
	}
	if tc.GradientAccumulationSteps < 1 {
		return fmt.Errorf("gradient_accumulation_steps must be at least 1, got %d",
			tc.GradientAccumulationSteps)
	}

	covered := tc.TrainMicroBatchSizePerGPU * tc.GradientAccumulationSteps * worldSize
	if covered < tc.TrainBatchSize {
		return fmt.Errorf(
			"batch arithmetic mismatch: micro=%d * accumulation=%d * world=%d = %d < train_batch_size=%d",
			tc.TrainMicroBatchSizePerGPU, tc.GradientAccumulationSteps, worldSize,
			covered, tc.TrainBatchSize)
	}

	if tc.Optimizer.Type == "" {
		return fmt.Errorf("optimizer type is required")
	}
	if tc.Optimizer.Params.LR <= 0 {
		return fmt.Errorf("optimizer learning rate must be positive, got %g",
			tc.Optimizer.Params.LR)
	}

	if tc.QuantizeTraining != nil && tc.QuantizeTraining.Enabled {
		if tc.QuantizeTraining.TargetBits <= 0 {
			return fmt.Errorf("quantize_target_bits must be positive, got %d",
				tc.QuantizeTraining.TargetBits)
		}
	}

	return nil
}

// WriteFile serializes the configuration to path with indentation, so the
// file in the job directory stays human-readable.
func (tc *TrainerConfig) WriteFile(path string) error {
	data, err := json.MarshalIndent(tc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal trainer config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write trainer config: %w", err)
	}
	return nil
}

// LoadTrainerConfig reads and parses a trainer configuration file. Used
// to validate user-supplied configs before a job is accepted.
func LoadTrainerConfig(path string) (*TrainerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read trainer config %s: %w", path, err)
	}

	var tc TrainerConfig
	if err := json.Unmarshal(data, &tc); err != nil {
		return nil, fmt.Errorf("failed to parse trainer config %s: %w", path, err)
	}

	return &tc, nil
}
