package plan

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/forgeml/trainctl/internal/api"
	"github.com/forgeml/trainctl/internal/config"
	"github.com/forgeml/trainctl/internal/recipes"
)

// Plan is a fully resolved launch plan for one training job.
//
// It contains everything the launcher backends need: the argument vector
// for the external launcher, the environment for the communication
// backend, and the trainer configuration. The job directory is decided by
// the caller (the manager for real jobs, a placeholder for dry runs).
type Plan struct {
	// Recipe is the source recipe.
	Recipe *recipes.RecipeSpec

	// Hyper are the hyperparameters after overrides.
	Hyper recipes.Hyperparameters

	// Batch is the resolved batch geometry.
	Batch *BatchPlan

	// JobDir is the directory holding the trainer config, log file and
	// checkpoints for this job.
	JobDir string

	// CheckpointDir is where the trainer writes checkpoints.
	CheckpointDir string

	// DatasetDir is the dataset location passed to the trainer.
	DatasetDir string

	// TrainerConfig is the generated (or user-supplied) configuration.
	TrainerConfig *config.TrainerConfig

	// TrainerConfigPath is where the config file lives inside JobDir.
	TrainerConfigPath string

	// UserConfig is true when the trainer config came from the user via
	// --config and must be copied rather than regenerated.
	UserConfig bool

	// LauncherBinary is the external launcher executable.
	LauncherBinary string

	// Hostfile is passed to the launcher for multi-node jobs.
	Hostfile string

	// Env is the communication-backend environment (KEY=value pairs),
	// not including device visibility.
	Env []string
}

// Resolve builds a launch plan from a recipe, submit-time overrides and
// the server configuration.
//
// jobDir is where job artifacts will live; dry runs may pass a
// placeholder. When req.TrainerConfigPath is set, the referenced file is
// loaded and validated against the computed batch plan instead of
// generating a config.
//
// Returns:
//   - The resolved plan
//   - Error if overrides are invalid or a user config conflicts with
//     the batch arithmetic
func Resolve(spec *recipes.RecipeSpec, req *api.SubmitJobRequest, cfg *config.Config, env *config.LaunchEnv, jobDir string) (*Plan, error) {
	hyper := applyOverrides(spec.Defaults, req.Overrides)

	nodes := req.Overrides.Nodes
	if nodes == 0 {
		nodes = 1
	}
	gpusPerNode := req.Overrides.GPUsPerNode
	if gpusPerNode == 0 {
		gpusPerNode = len(req.Devices)
	}
	if gpusPerNode == 0 {
		gpusPerNode = 1
	}

	batch, err := ComputeBatchPlan(hyper.EffectiveBatchSize, nodes, gpusPerNode, hyper.MaxDeviceBatchSize)
	if err != nil {
		return nil, fmt.Errorf("batch planning failed: %w", err)
	}

	if nodes > 1 && cfg.Launcher.Hostfile == "" {
		return nil, fmt.Errorf("a hostfile is required for %d-node jobs (set launcher.hostfile)", nodes)
	}

	checkpointDir := req.CheckpointDir
	if checkpointDir == "" {
		checkpointDir = filepath.Join(jobDir, "checkpoints")
	}
	datasetDir := req.DatasetDir
	if datasetDir == "" {
		datasetDir = filepath.Join(cfg.Storage.DataDir, "datasets", spec.DatasetDirName)
	}

	p := &Plan{
		Recipe:            spec,
		Hyper:             hyper,
		Batch:             batch,
		JobDir:            jobDir,
		CheckpointDir:     checkpointDir,
		DatasetDir:        datasetDir,
		TrainerConfigPath: filepath.Join(jobDir, config.TrainerConfigFileName),
		LauncherBinary:    cfg.Launcher.Binary,
		Hostfile:          cfg.Launcher.Hostfile,
		Env:               mergeEnv(mergeEnv(env.Environ(), spec.LaunchEnv), req.Env),
	}

	if req.TrainerConfigPath != "" {
		tc, err := config.LoadTrainerConfig(req.TrainerConfigPath)
		if err != nil {
			return nil, err
		}
		if err := tc.Validate(batch.WorldSize()); err != nil {
			return nil, fmt.Errorf("user trainer config %s: %w", req.TrainerConfigPath, err)
		}
		if tc.TrainMicroBatchSizePerGPU != batch.MicroBatch ||
			tc.GradientAccumulationSteps != batch.AccumulationSteps {
			return nil, fmt.Errorf(
				"user trainer config disagrees with plan: config has micro=%d steps=%d, plan computed micro=%d steps=%d",
				tc.TrainMicroBatchSizePerGPU, tc.GradientAccumulationSteps,
				batch.MicroBatch, batch.AccumulationSteps)
		}
		p.TrainerConfig = tc
		p.UserConfig = true
	} else {
		p.TrainerConfig = buildTrainerConfig(spec, hyper, batch)
	}

	return p, nil
}

// mergeEnv applies KEY=value overrides onto an environment list,
// replacing existing keys in place and appending new keys in sorted
// order so the result is deterministic.
func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}

	out := make([]string, 0, len(base)+len(overrides))
	replaced := make(map[string]bool, len(overrides))
	for _, entry := range base {
		key := entry
		if i := strings.IndexByte(entry, '='); i >= 0 {
			key = entry[:i]
		}
		if value, ok := overrides[key]; ok {
			out = append(out, key+"="+value)
			replaced[key] = true
			continue
		}
		out = append(out, entry)
	}

	added := make([]string, 0, len(overrides))
	for key := range overrides {
		if !replaced[key] {
			added = append(added, key)
		}
	}
	sort.Strings(added)
	for _, key := range added {
		out = append(out, key+"="+overrides[key])
	}

	return out
}

// applyOverrides merges submit-time overrides onto the recipe defaults.
func applyOverrides(defaults recipes.Hyperparameters, o api.JobOverrides) recipes.Hyperparameters {
	h := defaults

	if o.EffectiveBatchSize > 0 {
		h.EffectiveBatchSize = o.EffectiveBatchSize
	}
	if o.MaxDeviceBatchSize > 0 {
		h.MaxDeviceBatchSize = o.MaxDeviceBatchSize
	}
	if o.LearningRate > 0 {
		h.LearningRate = o.LearningRate
	}
	if o.SequenceLength > 0 {
		h.SequenceLength = o.SequenceLength
	}
	if o.Epochs > 0 {
		h.Epochs = o.Epochs
	}
	if o.WarmupProportion > 0 {
		h.WarmupProportion = o.WarmupProportion
	}
	if o.FP16 != nil {
		h.FP16 = *o.FP16
	}
	if o.FusedKernels != nil {
		h.FusedKernels = *o.FusedKernels
	}

	return h
}

// buildTrainerConfig renders the trainer JSON config from the resolved
// hyperparameters and batch plan.
func buildTrainerConfig(spec *recipes.RecipeSpec, hyper recipes.Hyperparameters, batch *BatchPlan) *config.TrainerConfig {
	tc := &config.TrainerConfig{
		TrainBatchSize:            batch.MicroBatch * batch.WorldSize() * batch.AccumulationSteps,
		TrainMicroBatchSizePerGPU: batch.MicroBatch,
		GradientAccumulationSteps: batch.AccumulationSteps,
		StepsPerPrint:             100,
		Optimizer:                 spec.Optimizer,
		GradientClipping:          spec.GradientClipping,
	}
	tc.Optimizer.Params.LR = hyper.LearningRate

	if hyper.FP16 {
		tc.FP16 = &config.FP16Config{
			Enabled:           true,
			LossScale:         0, // dynamic loss scaling
			InitialScalePower: 16,
		}
	}
	if spec.ZeroStage > 0 {
		tc.ZeroOptimization = &config.ZeroConfig{
			Stage:               spec.ZeroStage,
			ReduceScatter:       true,
			ContiguousGradients: true,
			OverlapComm:         true,
			AllgatherPartitions: true,
		}
	}
	if spec.Quantize != nil {
		q := *spec.Quantize
		tc.QuantizeTraining = &q
	}

	return tc
}

// Argv assembles the complete argument vector for the external launcher,
// starting with the launcher binary itself.
//
// The launcher is a black box: trainctl only concatenates the topology
// flags, the training entrypoint and its hyperparameter flags, and the
// --config pointer to the trainer JSON file.
func (p *Plan) Argv() []string {
	argv := []string{p.LauncherBinary}

	if p.Batch.Nodes > 1 {
		argv = append(argv, "--hostfile", p.Hostfile)
	}
	argv = append(argv,
		"--num_nodes", fmt.Sprintf("%d", p.Batch.Nodes),
		"--num_gpus", fmt.Sprintf("%d", p.Batch.GPUsPerNode),
	)

	argv = append(argv, p.Recipe.Entrypoint)
	argv = append(argv,
		"--model_name", p.Recipe.Model,
		"--tokenizer_name", p.Recipe.TokenizerID(),
		"--dataset_dir", p.DatasetDir,
		"--checkpoint_dir", p.CheckpointDir,
		"--output_dir", p.JobDir,
		"--max_seq_length", fmt.Sprintf("%d", p.Hyper.SequenceLength),
		"--lr", fmt.Sprintf("%g", p.Hyper.LearningRate),
		"--epochs", fmt.Sprintf("%d", p.Hyper.Epochs),
		"--warmup_proportion", fmt.Sprintf("%g", p.Hyper.WarmupProportion),
		"--train_micro_batch_size_per_gpu", fmt.Sprintf("%d", p.Batch.MicroBatch),
		"--gradient_accumulation_steps", fmt.Sprintf("%d", p.Batch.AccumulationSteps),
	)

	if p.Hyper.FP16 {
		argv = append(argv, "--fp16")
	}
	if p.Hyper.FusedKernels {
		argv = append(argv, "--transformer_kernel")
	}

	argv = append(argv, "--config", p.TrainerConfigPath)

	return argv
}

// Render writes a human-readable summary of the plan, used by the
// "trainctl plan" dry-run command.
func (p *Plan) Render(w io.Writer) {
	fmt.Fprintf(w, "Recipe:        %s (%s)\n", p.Recipe.ID, p.Recipe.DisplayName)
	fmt.Fprintf(w, "Topology:      %d node(s) x %d GPU(s)\n", p.Batch.Nodes, p.Batch.GPUsPerNode)
	fmt.Fprintf(w, "Batch:         effective=%d micro=%d accumulation=%d (covers %d)\n",
		p.Batch.EffectiveBatchSize, p.Batch.MicroBatch, p.Batch.AccumulationSteps,
		p.Batch.MicroBatch*p.Batch.WorldSize()*p.Batch.AccumulationSteps)
	fmt.Fprintf(w, "Hyperparams:   lr=%g seq_len=%d epochs=%d warmup=%g fp16=%t kernels=%t\n",
		p.Hyper.LearningRate, p.Hyper.SequenceLength, p.Hyper.Epochs,
		p.Hyper.WarmupProportion, p.Hyper.FP16, p.Hyper.FusedKernels)
	fmt.Fprintf(w, "Dataset:       %s\n", p.DatasetDir)
	fmt.Fprintf(w, "Checkpoints:   %s\n", p.CheckpointDir)
	fmt.Fprintf(w, "Trainer cfg:   %s", p.TrainerConfigPath)
	if p.UserConfig {
		fmt.Fprintf(w, " (user-supplied)")
	}
	fmt.Fprintln(w)

	if len(p.Env) > 0 {
		fmt.Fprintf(w, "Environment:   %s\n", strings.Join(p.Env, " "))
	}
	fmt.Fprintf(w, "Command:       %s\n", strings.Join(p.Argv(), " "))
}
