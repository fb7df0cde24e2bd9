package app

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/forgeml/trainctl/internal/api"
)

// ListOptions holds options for the list command
type ListOptions struct {
	*GlobalOptions

	// Device filters recipes by device type
	Device string
}

// NewListCommand creates the list (ls) command.
//
// The list command displays the training recipe catalog, with optional
// filtering by device type.
//
// Usage:
//
//	trainctl ls [-d|--device DEVICE]
//
// Examples:
//
//	# List all recipes
//	trainctl ls
//
//	# List recipes compatible with CUDA devices
//	trainctl ls -d cuda
//
// Parameters:
//   - globalOpts: Global options shared across commands
//
// Returns:
//   - A configured cobra.Command for listing recipes
func NewListCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &ListOptions{
		GlobalOptions: globalOpts,
	}

	cmd := &cobra.Command{
		Use:     "ls",
		Aliases: []string{"list"},
		Short:   "List training recipes",
		Long: `List the training recipes available on the server.

Each recipe bundles a model configuration with curated default
hyperparameters. Submit one with: trainctl submit <recipe>`,
		Example: `  # List all recipes
  trainctl ls

  # List recipes for CUDA devices
  trainctl ls -d cuda`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(opts)
		},
	}

	cmd.Flags().StringVarP(&opts.Device, "device", "d", "",
		"filter recipes by device type (e.g., cuda)")

	return cmd
}

// runList executes the list command logic.
func runList(opts *ListOptions) error {
	client := getClient(opts.GlobalOptions)

	deviceType := api.DeviceTypeAll
	if opts.Device != "" {
		deviceType = api.DeviceType(opts.Device)
	}

	recipes, err := client.ListRecipes(deviceType)
	if err != nil {
		return fmt.Errorf("failed to list recipes: %w", err)
	}

	if len(recipes) == 0 {
		fmt.Println("No recipes available.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "RECIPE\tMODEL\tBATCH\tSEQ LEN\tLR\tPRECISION\tVRAM")

	for _, r := range recipes {
		precision := "fp32"
		if r.FP16 {
			precision = "fp16"
		}
		if r.Quantized {
			precision += "+quant"
		}

		vram := "-"
		if r.RequiredVRAM > 0 {
			vram = fmt.Sprintf("%d GB", r.RequiredVRAM)
		}

		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%g\t%s\t%s\n",
			r.ID,
			r.Model,
			r.EffectiveBatchSize,
			r.SequenceLength,
			r.LearningRate,
			precision,
			vram)
	}

	w.Flush()

	return nil
}
