// Package app provides the command-line interface implementation for
// trainctl.
//
// This package contains all CLI commands and their implementations,
// following the Kubernetes CLI architecture pattern with cobra. Commands
// are organized hierarchically with a root command and subcommands.
package app

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forgeml/trainctl/internal/client"
	"github.com/forgeml/trainctl/internal/config"
)

const (
	// cliName is the name of the CLI application
	cliName = "trainctl"

	// cliDescription is the short description shown in help text
	cliDescription = "trainctl - distributed BERT training jobs"
)

// GlobalOptions holds options that are common to all commands
type GlobalOptions struct {
	// ServerURL is the trainctl server address
	ServerURL string

	// Verbose enables verbose output
	Verbose bool
}

// NewTrainctlCommand creates the root trainctl command with all
// subcommands.
//
// The root command provides the main entry point for the CLI. It sets up
// global flags and registers all subcommands.
//
// Returns:
//   - A configured cobra.Command ready for execution
//
// Example:
//
//	cmd := NewTrainctlCommand()
//	if err := cmd.Execute(); err != nil {
//	    os.Exit(1)
//	}
func NewTrainctlCommand() *cobra.Command {
	opts := &GlobalOptions{}

	cmd := &cobra.Command{
		Use:   cliName,
		Short: cliDescription,
		Long: `trainctl is a command-line tool for planning and launching distributed
BERT-family training jobs through an external launcher.

It resolves recipes into complete launch plans (batch geometry, trainer
configuration, communication-backend environment), hands them to the
launcher, and tracks the resulting jobs.

The trainctl CLI communicates with a local server process over HTTP. Make
sure the trainctl server is running before executing commands.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.ServerURL, "server", "",
		fmt.Sprintf("trainctl server address (default: http://localhost:%d)", config.DefaultServerPort))
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false,
		"verbose output")

	cmd.AddCommand(
		NewListCommand(opts),
		NewShowCommand(opts),
		NewPlanCommand(opts),
		NewSubmitCommand(opts),
		NewRunCommand(opts),
		NewPsCommand(opts),
		NewLogsCommand(opts),
		NewStopCommand(opts),
		NewRemoveCommand(opts),
		NewGPUsCommand(opts),
		NewVersionCommand(opts),
		NewServeCommand(opts),
	)

	return cmd
}

// getClient creates and returns a configured API client.
//
// The server address comes from the --server flag when set, falling back
// to the default localhost port.
//
// Parameters:
//   - opts: Global options containing server URL
//
// Returns:
//   - A configured client.Client instance
func getClient(opts *GlobalOptions) *client.Client {
	serverURL := opts.ServerURL
	if serverURL == "" {
		serverURL = fmt.Sprintf("http://localhost:%d", config.DefaultServerPort)
	}
	return client.NewClient(serverURL)
}

// parseDeviceList parses a comma-separated GPU index list (e.g., "0,1,3").
//
// Returns:
//   - Parsed indexes, nil for an empty string
//   - Error on malformed or negative entries
func parseDeviceList(deviceList string) ([]int, error) {
	if deviceList == "" {
		return nil, nil
	}

	parts := strings.Split(deviceList, ",")
	indexes := make([]int, 0, len(parts))
	for _, p := range parts {
		idx, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid device index %q: must be a number", p)
		}
		if idx < 0 {
			return nil, fmt.Errorf("invalid device index %d: must be non-negative", idx)
		}
		indexes = append(indexes, idx)
	}
	return indexes, nil
}
