package app

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

// GPUsOptions holds options for the gpus command
type GPUsOptions struct {
	*GlobalOptions
}

// NewGPUsCommand creates the gpus command.
//
// The gpus command displays detected accelerators and their allocation
// status, plus host CPU capabilities relevant to training.
//
// Usage:
//
//	trainctl gpus
//
// Parameters:
//   - globalOpts: Global options shared across commands
//
// Returns:
//   - A configured cobra.Command for listing devices
func NewGPUsCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &GPUsOptions{
		GlobalOptions: globalOpts,
	}

	cmd := &cobra.Command{
		Use:   "gpus",
		Short: "List detected GPUs and host capabilities",
		Long: `List the accelerators detected by the server with their allocation
status, and summarize the host CPU's vector capabilities.`,
		Example: `  # List GPUs
  trainctl gpus`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGPUs(opts)
		},
	}

	return cmd
}

// runGPUs executes the gpus command logic.
func runGPUs(opts *GPUsOptions) error {
	client := getClient(opts.GlobalOptions)

	resp, err := client.ListDevices()
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}

	if len(resp.Devices) == 0 {
		fmt.Println("No GPUs detected.")
	} else {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
		fmt.Fprintln(w, "INDEX\tTYPE\tMODEL\tBUS\tSTATUS")

		for _, d := range resp.Devices {
			status := "free"
			if d.Allocated {
				status = "allocated"
			}
			model := d.ModelName
			if model == "" {
				model = "-"
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
				d.Index, d.Type, model, d.BusAddress, status)
		}

		w.Flush()
	}

	fmt.Println()
	fmt.Println("Host:")
	fmt.Printf("  CPU:      %s (%d cores)\n", resp.Host.CPUBrand, resp.Host.Cores)
	fmt.Printf("  AVX-512:  %t\n", resp.Host.AVX512)
	fmt.Printf("  BF16:     %t\n", resp.Host.BF16)
	fmt.Printf("  AMX:      %t\n", resp.Host.AMX)
	if opts.Verbose && len(resp.Host.Features) > 0 {
		fmt.Printf("  Features: %s\n", strings.Join(resp.Host.Features, " "))
	}

	return nil
}
