package app

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/forgeml/trainctl/internal/config"
	"github.com/forgeml/trainctl/internal/plan"
	"github.com/forgeml/trainctl/internal/recipes"

	// Recipe families register themselves with the default registry.
	_ "github.com/forgeml/trainctl/internal/recipes/bert"
)

// PlanOptions holds options for the plan command
type PlanOptions struct {
	*GlobalOptions
	jobFlags

	// Recipe is the recipe ID to plan
	Recipe string
}

// NewPlanCommand creates the plan command.
//
// The plan command resolves a launch plan locally and prints it without
// submitting anything. It shows the batch geometry, the launcher command
// line and the environment a submission would use.
//
// Usage:
//
//	trainctl plan RECIPE [OPTIONS]
//
// Examples:
//
//	# Preview the default BERT-large plan on one GPU
//	trainctl plan bert-large
//
//	# Preview a 2-node, 8-GPU plan
//	trainctl plan bert-large --nodes 2 --gpus-per-node 8
//
// Parameters:
//   - globalOpts: Global options shared across commands
//
// Returns:
//   - A configured cobra.Command for planning jobs
func NewPlanCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &PlanOptions{
		GlobalOptions: globalOpts,
	}

	cmd := &cobra.Command{
		Use:   "plan RECIPE",
		Short: "Preview a launch plan without submitting",
		Long: `Resolve a recipe and overrides into a complete launch plan and print
it, without contacting the server or starting anything.

The plan shows the derived batch geometry (micro batch and gradient
accumulation steps), the full launcher command line, and the
communication-backend environment.`,
		Example: `  # Preview the default BERT-base plan
  trainctl plan bert-base

  # Preview a 2-node, 8-GPU BERT-large plan
  trainctl plan bert-large --nodes 2 --gpus-per-node 8

  # Check how a batch override changes accumulation
  trainctl plan bert-large --batch-size 8192 --gpus-per-node 4`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Recipe = args[0]
			return runPlan(opts)
		},
	}

	opts.register(cmd)

	return cmd
}

// runPlan executes the plan command logic.
//
// Planning is purely local: the recipe registry is compiled into the
// binary and the batch arithmetic needs no server state. A placeholder
// job directory stands in for the directory a real submission would get.
func runPlan(opts *PlanOptions) error {
	req, err := opts.toRequest(opts.Recipe)
	if err != nil {
		return err
	}

	spec, err := recipes.GetDefaultRegistry().Get(opts.Recipe)
	if err != nil {
		return err
	}

	cfg := config.NewDefaultConfig()
	env, err := config.LoadLaunchEnv(cfg.Storage.ConfigDir)
	if err != nil {
		return err
	}

	// Multi-node preview should not fail on a missing hostfile; show
	// the placeholder instead.
	if req.Overrides.Nodes > 1 && cfg.Launcher.Hostfile == "" {
		cfg.Launcher.Hostfile = "<hostfile>"
	}

	jobDir := filepath.Join(cfg.Storage.GetJobsDir(), "<job-id>")
	p, err := plan.Resolve(spec, req, cfg, env, jobDir)
	if err != nil {
		return fmt.Errorf("planning failed: %w", err)
	}

	p.Render(os.Stdout)

	return nil
}
