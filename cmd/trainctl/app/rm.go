package app

import (
	"fmt"

	"github.com/spf13/cobra"
)

// RemoveOptions holds options for the rm command
type RemoveOptions struct {
	*GlobalOptions

	// Jobs are the job IDs or names to remove
	Jobs []string
}

// NewRemoveCommand creates the rm command.
//
// The rm command removes finished training jobs from the server's
// tracking. Running jobs must be stopped first.
//
// Usage:
//
//	trainctl rm JOB [JOB...]
//
// Examples:
//
//	# Remove a finished job
//	trainctl rm bert-base-1a2b3c4d
//
// Parameters:
//   - globalOpts: Global options shared across commands
//
// Returns:
//   - A configured cobra.Command for removing jobs
func NewRemoveCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &RemoveOptions{
		GlobalOptions: globalOpts,
	}

	cmd := &cobra.Command{
		Use:   "rm JOB [JOB...]",
		Short: "Remove finished training jobs",
		Long: `Remove finished training jobs.

Removal forgets the job on the server: the state file entry for host
jobs, the exited container for docker jobs. The job directory with its
trainer config, training log and checkpoints stays on disk.

Running jobs are refused; stop them first with: trainctl stop <job>`,
		Example: `  # Remove a finished job
  trainctl rm bert-base-1a2b3c4d

  # Remove several jobs at once
  trainctl rm nightly-pretrain bert-large-5e6f7a8b`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Jobs = args
			return runRemove(opts)
		},
	}

	return cmd
}

// runRemove executes the rm command logic.
func runRemove(opts *RemoveOptions) error {
	client := getClient(opts.GlobalOptions)

	var failed int
	for _, ref := range opts.Jobs {
		job, err := client.RemoveJob(ref)
		if err != nil {
			fmt.Printf("Failed to remove %s: %v\n", ref, err)
			failed++
			continue
		}
		fmt.Printf("Removed job %s (was %s)\n", job.ID, job.State)
	}

	if failed > 0 {
		return fmt.Errorf("failed to remove %d job(s)", failed)
	}
	return nil
}
