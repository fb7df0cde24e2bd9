package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/forgeml/trainctl/internal/api"
)

// RunOptions holds options for the run command
type RunOptions struct {
	*GlobalOptions
	jobFlags

	// Recipe is the recipe ID to train
	Recipe string
}

// NewRunCommand creates the run command.
//
// The run command submits a training job and streams its log until the
// job finishes, combining submit and logs -f.
//
// Usage:
//
//	trainctl run RECIPE [OPTIONS]
//
// Examples:
//
//	# Train BERT-base and watch the output
//	trainctl run bert-base
//
//	# Train on two GPUs
//	trainctl run bert-large --device 0,1
//
// Parameters:
//   - globalOpts: Global options shared across commands
//
// Returns:
//   - A configured cobra.Command for running jobs in the foreground
func NewRunCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &RunOptions{
		GlobalOptions: globalOpts,
	}

	cmd := &cobra.Command{
		Use:   "run RECIPE",
		Short: "Submit a training job and stream its log",
		Long: `Submit a training job and follow its log output until the job
finishes.

Interrupting with Ctrl+C detaches from the log stream; the job keeps
running on the server. Stop it with: trainctl stop <job>`,
		Example: `  # Train BERT-base and watch the output
  trainctl run bert-base

  # Train BERT-large on two GPUs with a name
  trainctl run bert-large --device 0,1 --name nightly-pretrain`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Recipe = args[0]
			return runRun(opts)
		},
	}

	opts.register(cmd)

	return cmd
}

// runRun executes the run command logic.
func runRun(opts *RunOptions) error {
	req, err := opts.toRequest(opts.Recipe)
	if err != nil {
		return err
	}

	client := getClient(opts.GlobalOptions)
	job, err := client.SubmitJob(req)
	if err != nil {
		return fmt.Errorf("failed to submit job: %w", err)
	}

	fmt.Printf("Job %s started (micro batch %d, accumulation steps %d)\n",
		job.ID, job.MicroBatch, job.AccumSteps)

	// Ctrl+C detaches from the stream without stopping the job.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	streamDone := make(chan error, 1)
	go func() {
		streamDone <- client.StreamJobLogs(job.ID, true, func(chunk string) {
			fmt.Print(chunk)
		})
	}()

	select {
	case <-sigChan:
		fmt.Println()
		fmt.Printf("Detached from job %s; it is still running.\n", job.ID)
		fmt.Printf("Stop it with: trainctl stop %s\n", job.ID)
		return nil
	case err := <-streamDone:
		if err != nil {
			return fmt.Errorf("log streaming failed: %w", err)
		}
	}

	// The stream ended, so the job is terminal; report how it went.
	final, err := client.WaitForJob(context.Background(), job.ID)
	if err != nil {
		return fmt.Errorf("failed to get final job state: %w", err)
	}

	fmt.Println()
	fmt.Printf("Job %s finished: %s", final.ID, final.State)
	if final.ExitCode != 0 {
		fmt.Printf(" (exit code %d)", final.ExitCode)
	}
	fmt.Println()

	if final.State != api.JobStateSucceeded {
		return fmt.Errorf("job %s did not succeed", final.ID)
	}
	return nil
}
