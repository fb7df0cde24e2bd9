package app

import (
	"fmt"

	"github.com/spf13/cobra"
)

// StopOptions holds options for the stop command
type StopOptions struct {
	*GlobalOptions

	// Job is the job ID or name to stop
	Job string
}

// NewStopCommand creates the stop command.
//
// The stop command terminates a running training job.
//
// Usage:
//
//	trainctl stop JOB
//
// Examples:
//
//	# Stop a job by ID
//	trainctl stop bert-base-1a2b3c4d
//
// Parameters:
//   - globalOpts: Global options shared across commands
//
// Returns:
//   - A configured cobra.Command for stopping jobs
func NewStopCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &StopOptions{
		GlobalOptions: globalOpts,
	}

	cmd := &cobra.Command{
		Use:   "stop JOB",
		Short: "Stop a running training job",
		Long: `Stop a running training job.

The launcher receives a termination signal and a grace period to flush
a final checkpoint before being killed. Checkpoints and the training log
stay in the job directory.`,
		Example: `  # Stop a job by ID
  trainctl stop bert-base-1a2b3c4d

  # Stop a job by name
  trainctl stop nightly-pretrain`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Job = args[0]
			return runStop(opts)
		},
	}

	return cmd
}

// runStop executes the stop command logic.
func runStop(opts *StopOptions) error {
	client := getClient(opts.GlobalOptions)

	job, err := client.StopJob(opts.Job)
	if err != nil {
		return fmt.Errorf("failed to stop job: %w", err)
	}

	fmt.Printf("Job %s stopping (state: %s)\n", job.ID, job.State)
	fmt.Printf("Checkpoints remain in: %s\n", job.CheckpointDir)

	return nil
}
