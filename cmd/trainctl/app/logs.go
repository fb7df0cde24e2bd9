package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// LogsOptions holds options for the logs command
type LogsOptions struct {
	*GlobalOptions

	// Job is the job ID or name to get logs from
	Job string

	// Follow continues streaming logs in real-time
	Follow bool
}

// NewLogsCommand creates the logs command.
//
// The logs command displays the training log of a job.
//
// Usage:
//
//	trainctl logs JOB [-f|--follow]
//
// Examples:
//
//	# View the log so far
//	trainctl logs bert-base-1a2b3c4d
//
//	# Follow the log in real-time (like tail -f)
//	trainctl logs bert-base-1a2b3c4d -f
//
// Parameters:
//   - globalOpts: Global options shared across commands
//
// Returns:
//   - A configured cobra.Command for viewing job logs
func NewLogsCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &LogsOptions{
		GlobalOptions: globalOpts,
	}

	cmd := &cobra.Command{
		Use:   "logs JOB",
		Short: "View a job's training log",
		Long: `View the launcher output captured for a training job.

By default, shows the log so far and exits. Use -f/--follow to keep
streaming until the job finishes.`,
		Example: `  # Show the log so far
  trainctl logs my-job

  # Follow the log in real-time (press Ctrl+C to detach)
  trainctl logs my-job -f`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Job = args[0]
			return runLogs(opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.Follow, "follow", "f", false,
		"follow log output (stream in real-time)")

	return cmd
}

// runLogs executes the logs command logic.
func runLogs(opts *LogsOptions) error {
	client := getClient(opts.GlobalOptions)

	printChunk := func(chunk string) {
		fmt.Print(chunk)
	}

	if !opts.Follow {
		return client.StreamJobLogs(opts.Job, false, printChunk)
	}

	// Ctrl+C detaches from the stream; the job keeps running.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	streamDone := make(chan error, 1)
	go func() {
		streamDone <- client.StreamJobLogs(opts.Job, true, printChunk)
	}()

	select {
	case <-sigChan:
		fmt.Println()
		return nil
	case err := <-streamDone:
		return err
	}
}
