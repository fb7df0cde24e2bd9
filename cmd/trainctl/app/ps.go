package app

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// PsOptions holds options for the ps command
type PsOptions struct {
	*GlobalOptions

	// All includes finished jobs
	All bool
}

// NewPsCommand creates the ps command.
//
// The ps command lists training jobs.
//
// Usage:
//
//	trainctl ps [-a|--all]
//
// Examples:
//
//	# List running jobs
//	trainctl ps
//
//	# List all jobs including finished ones
//	trainctl ps -a
//
// Parameters:
//   - globalOpts: Global options shared across commands
//
// Returns:
//   - A configured cobra.Command for listing jobs
func NewPsCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &PsOptions{
		GlobalOptions: globalOpts,
	}

	cmd := &cobra.Command{
		Use:   "ps",
		Short: "List training jobs",
		Long: `List training jobs tracked by the server.

By default, only pending and running jobs are shown. Use -a/--all to
include finished jobs.`,
		Example: `  # List running jobs
  trainctl ps

  # List all jobs
  trainctl ps -a`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPs(opts)
		},
	}

	cmd.Flags().BoolVarP(&opts.All, "all", "a", false,
		"include finished jobs")

	return cmd
}

// runPs executes the ps command logic.
func runPs(opts *PsOptions) error {
	client := getClient(opts.GlobalOptions)

	jobs, err := client.ListJobs(opts.All)
	if err != nil {
		return fmt.Errorf("failed to list jobs: %w", err)
	}

	if len(jobs) == 0 {
		if opts.All {
			fmt.Println("No jobs.")
		} else {
			fmt.Println("No running jobs.")
			fmt.Println()
			fmt.Println("List finished jobs with: trainctl ps -a")
		}
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "JOB\tNAME\tRECIPE\tSTATE\tBACKEND\tDEVICES\tBATCH\tAGE")

	for _, job := range jobs {
		devices := "-"
		if len(job.Devices) > 0 {
			parts := make([]string, len(job.Devices))
			for i, d := range job.Devices {
				parts[i] = fmt.Sprintf("%d", d)
			}
			devices = strings.Join(parts, ",")
		}

		batch := fmt.Sprintf("%dx%d", job.MicroBatch, job.AccumSteps)

		age := "-"
		if t, err := time.Parse(time.RFC3339, job.CreatedAt); err == nil {
			age = formatTimeAgo(t)
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			job.ID,
			job.Name,
			job.Recipe,
			job.State,
			job.Launcher,
			devices,
			batch,
			age)
	}

	w.Flush()

	return nil
}

// formatTimeAgo renders a timestamp as a rough age (e.g., "3h ago").
func formatTimeAgo(t time.Time) string {
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
