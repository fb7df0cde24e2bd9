package app

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// ShowOptions holds options for the show command
type ShowOptions struct {
	*GlobalOptions

	// Recipe is the recipe ID to display
	Recipe string
}

// NewShowCommand creates the show command.
//
// The show command displays detailed information about one recipe.
//
// Usage:
//
//	trainctl show RECIPE
//
// Examples:
//
//	# Show the BERT-large pre-training recipe
//	trainctl show bert-large
//
// Parameters:
//   - globalOpts: Global options shared across commands
//
// Returns:
//   - A configured cobra.Command for showing recipe details
func NewShowCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &ShowOptions{
		GlobalOptions: globalOpts,
	}

	cmd := &cobra.Command{
		Use:   "show RECIPE",
		Short: "Show detailed recipe information",
		Long: `Show the full specification of a training recipe: model identifiers,
default hyperparameters and trainer settings.`,
		Example: `  # Show the BERT-large recipe
  trainctl show bert-large`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Recipe = args[0]
			return runShow(opts)
		},
	}

	return cmd
}

// runShow executes the show command logic.
func runShow(opts *ShowOptions) error {
	client := getClient(opts.GlobalOptions)

	r, err := client.ShowRecipe(opts.Recipe)
	if err != nil {
		return fmt.Errorf("failed to show recipe: %w", err)
	}

	fmt.Printf("Recipe:       %s\n", r.ID)
	fmt.Printf("Name:         %s\n", r.DisplayName)
	fmt.Printf("Family:       %s\n", r.Family)
	if r.Description != "" {
		fmt.Printf("Description:  %s\n", r.Description)
	}
	fmt.Printf("Model:        %s\n", r.Model)
	fmt.Printf("Tokenizer:    %s\n", r.Tokenizer)
	fmt.Println()
	fmt.Println("Defaults:")
	fmt.Printf("  Effective batch size:  %d\n", r.EffectiveBatchSize)
	fmt.Printf("  Max device batch size: %d\n", r.MaxDeviceBatchSize)
	fmt.Printf("  Learning rate:         %g\n", r.LearningRate)
	fmt.Printf("  Sequence length:       %d\n", r.SequenceLength)
	fmt.Printf("  Epochs:                %d\n", r.Epochs)
	fmt.Printf("  Warmup proportion:     %g\n", r.WarmupProportion)
	fmt.Printf("  Mixed precision:       %t\n", r.FP16)
	fmt.Printf("  Fused kernels:         %t\n", r.FusedKernels)
	fmt.Printf("  Quantized training:    %t\n", r.Quantized)
	fmt.Println()
	if r.RequiredVRAM > 0 {
		fmt.Printf("Required VRAM: %d GB per device\n", r.RequiredVRAM)
	}
	if len(r.SupportedDevices) > 0 {
		devices := make([]string, len(r.SupportedDevices))
		for i, d := range r.SupportedDevices {
			devices[i] = string(d)
		}
		fmt.Printf("Devices:       %s\n", strings.Join(devices, ", "))
	}

	return nil
}
