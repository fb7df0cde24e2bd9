package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forgeml/trainctl/internal/api"
	"github.com/forgeml/trainctl/internal/client"
)

// jobFlags holds the submit-time flags shared by the plan, submit and
// run commands.
type jobFlags struct {
	Name          string
	Launcher      string
	Devices       string
	Nodes         int
	GPUsPerNode   int
	BatchSize     int
	MaxGPUBatch   int
	LearningRate  float64
	SeqLen        int
	Epochs        int
	Warmup        float64
	FP16          bool
	NoFP16        bool
	Kernels       bool
	NoKernels     bool
	Env           []string
	CheckpointDir string
	DatasetDir    string
	TrainerConfig string
}

// register adds the shared submission flags to a command.
func (f *jobFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.Name, "name", "", "job name (defaults to a generated ID)")
	cmd.Flags().StringVar(&f.Launcher, "launcher", "", "launcher backend: host or docker (default: server setting)")
	cmd.Flags().StringVar(&f.Devices, "device", "", "GPU indexes to pin the job to (e.g., 0,1)")
	cmd.Flags().IntVar(&f.Nodes, "nodes", 0, "number of nodes (default: 1)")
	cmd.Flags().IntVar(&f.GPUsPerNode, "gpus-per-node", 0, "GPUs per node (default: pinned devices or 1)")
	cmd.Flags().IntVar(&f.BatchSize, "batch-size", 0, "effective batch size override")
	cmd.Flags().IntVar(&f.MaxGPUBatch, "max-gpu-batch", 0, "max per-device micro batch override")
	cmd.Flags().Float64Var(&f.LearningRate, "lr", 0, "learning rate override")
	cmd.Flags().IntVar(&f.SeqLen, "seq-len", 0, "sequence length override")
	cmd.Flags().IntVar(&f.Epochs, "epochs", 0, "epoch count override")
	cmd.Flags().Float64Var(&f.Warmup, "warmup", 0, "warmup proportion override")
	cmd.Flags().BoolVar(&f.FP16, "fp16", false, "enable mixed precision (default: recipe setting)")
	cmd.Flags().BoolVar(&f.NoFP16, "no-fp16", false, "disable mixed precision")
	cmd.Flags().BoolVar(&f.Kernels, "kernels", false, "enable fused transformer kernels (default: recipe setting)")
	cmd.Flags().BoolVar(&f.NoKernels, "no-kernels", false, "disable fused transformer kernels")
	cmd.Flags().StringArrayVar(&f.Env, "env", nil, "launch environment override KEY=VALUE (repeatable)")
	cmd.Flags().StringVar(&f.CheckpointDir, "checkpoint-dir", "", "checkpoint directory (default: inside the job directory)")
	cmd.Flags().StringVar(&f.DatasetDir, "dataset-dir", "", "dataset directory (default: data dir + recipe dataset)")
	cmd.Flags().StringVar(&f.TrainerConfig, "config", "", "user-supplied trainer JSON config to use instead of generating one")
}

// toRequest converts the flags into a submit request.
func (f *jobFlags) toRequest(recipe string) (*api.SubmitJobRequest, error) {
	devices, err := parseDeviceList(f.Devices)
	if err != nil {
		return nil, err
	}

	env, err := parseEnvOverrides(f.Env)
	if err != nil {
		return nil, err
	}

	req := &api.SubmitJobRequest{
		Recipe:            recipe,
		Name:              f.Name,
		Launcher:          f.Launcher,
		Devices:           devices,
		Env:               env,
		CheckpointDir:     f.CheckpointDir,
		DatasetDir:        f.DatasetDir,
		TrainerConfigPath: f.TrainerConfig,
		Overrides: api.JobOverrides{
			Nodes:              f.Nodes,
			GPUsPerNode:        f.GPUsPerNode,
			EffectiveBatchSize: f.BatchSize,
			MaxDeviceBatchSize: f.MaxGPUBatch,
			LearningRate:       f.LearningRate,
			SequenceLength:     f.SeqLen,
			Epochs:             f.Epochs,
			WarmupProportion:   f.Warmup,
		},
	}

	if req.Overrides.FP16, err = resolveBoolPair("fp16", f.FP16, f.NoFP16); err != nil {
		return nil, err
	}
	if req.Overrides.FusedKernels, err = resolveBoolPair("kernels", f.Kernels, f.NoKernels); err != nil {
		return nil, err
	}

	return req, nil
}

// resolveBoolPair folds an enable/disable flag pair into a tri-state:
// nil means "use the recipe default".
func resolveBoolPair(flag string, on, off bool) (*bool, error) {
	if on && off {
		return nil, fmt.Errorf("--%s and --no-%s are mutually exclusive", flag, flag)
	}
	switch {
	case on:
		v := true
		return &v, nil
	case off:
		v := false
		return &v, nil
	default:
		return nil, nil
	}
}

// parseEnvOverrides parses repeated KEY=VALUE flags into a map.
func parseEnvOverrides(entries []string) (map[string]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(entries))
	for _, entry := range entries {
		key, value, ok := strings.Cut(entry, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --env entry %q: expected KEY=VALUE", entry)
		}
		env[key] = value
	}
	return env, nil
}

// SubmitOptions holds options for the submit command
type SubmitOptions struct {
	*GlobalOptions
	jobFlags

	// Recipe is the recipe ID to train
	Recipe string

	// Detach returns right after submission instead of streaming logs
	Detach bool
}

// NewSubmitCommand creates the submit command.
//
// The submit command sends a training job to the server. Detached (the
// default), it returns as soon as the launcher is running. In the
// foreground (--detach=false) it streams the training log, and an
// interrupt stops the job rather than just the stream.
//
// Usage:
//
//	trainctl submit RECIPE [OPTIONS]
//
// Examples:
//
//	# Submit BERT-base pre-training with defaults
//	trainctl submit bert-base
//
//	# Submit on 4 specific GPUs with a larger batch
//	trainctl submit bert-large --device 0,1,2,3 --batch-size 8192
//
// Parameters:
//   - globalOpts: Global options shared across commands
//
// Returns:
//   - A configured cobra.Command for submitting jobs
func NewSubmitCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &SubmitOptions{
		GlobalOptions: globalOpts,
	}

	cmd := &cobra.Command{
		Use:   "submit RECIPE",
		Short: "Submit a training job",
		Long: `Submit a training job for a recipe.

The server resolves the recipe and any overrides into a launch plan:
micro batch and gradient-accumulation steps are derived from the
effective batch size and the device topology, the trainer configuration
is written into the job directory, and the external launcher is started.

Detached (the default), the command returns as soon as the launcher is
running; follow progress with: trainctl logs <job> -f

With --detach=false the command stays attached to the training log, and
Ctrl+C stops the job on the server. To watch a job without the
stop-on-interrupt behavior, use: trainctl run`,
		Example: `  # Submit BERT-base pre-training with defaults
  trainctl submit bert-base

  # Pin to two GPUs and override the batch size
  trainctl submit bert-large --device 0,1 --batch-size 8192

  # Stay attached; Ctrl+C stops the job
  trainctl submit bert-base --detach=false

  # Use a hand-written trainer config
  trainctl submit bert-large-moq --config ./my_trainer_config.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Recipe = args[0]
			return runSubmit(opts)
		},
	}

	opts.register(cmd)
	cmd.Flags().BoolVarP(&opts.Detach, "detach", "d", true,
		"return after submission; --detach=false streams logs and stops the job on interrupt")

	return cmd
}

// runSubmit executes the submit command logic.
func runSubmit(opts *SubmitOptions) error {
	req, err := opts.toRequest(opts.Recipe)
	if err != nil {
		return err
	}

	client := getClient(opts.GlobalOptions)
	job, err := client.SubmitJob(req)
	if err != nil {
		return fmt.Errorf("failed to submit job: %w", err)
	}

	fmt.Printf("Job %s submitted (recipe %s)\n", job.ID, job.Recipe)
	fmt.Printf("  Devices:      %v\n", job.Devices)
	fmt.Printf("  Topology:     %d node(s) x %d GPU(s)\n", job.Nodes, job.GPUsPerNode)
	fmt.Printf("  Micro batch:  %d\n", job.MicroBatch)
	fmt.Printf("  Accum steps:  %d\n", job.AccumSteps)
	fmt.Printf("  Job dir:      %s\n", job.JobDir)
	fmt.Println()

	if opts.Detach {
		fmt.Printf("Follow logs with: trainctl logs %s -f\n", job.ID)
		return nil
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	final, err := attachForeground(client, job.ID, sigChan)
	if err != nil {
		return err
	}

	fmt.Println()
	fmt.Printf("Job %s finished: %s", final.ID, final.State)
	if final.ExitCode != 0 {
		fmt.Printf(" (exit code %d)", final.ExitCode)
	}
	fmt.Println()

	if final.State == api.JobStateFailed {
		return fmt.Errorf("job %s failed", final.ID)
	}
	return nil
}

// attachForeground streams the job's training log until the job ends.
// An interrupt stops the job on the server; either way the job's
// terminal state is returned.
func attachForeground(c *client.Client, jobID string, interrupts <-chan os.Signal) (*api.Job, error) {
	streamDone := make(chan error, 1)
	go func() {
		streamDone <- c.StreamJobLogs(jobID, true, func(chunk string) {
			fmt.Print(chunk)
		})
	}()

	select {
	case <-interrupts:
		fmt.Println()
		fmt.Printf("Stopping job %s...\n", jobID)
		if _, err := c.StopJob(jobID); err != nil {
			return nil, fmt.Errorf("failed to stop job: %w", err)
		}
	case err := <-streamDone:
		if err != nil {
			return nil, fmt.Errorf("log streaming failed: %w", err)
		}
	}

	return c.WaitForJob(context.Background(), jobID)
}
