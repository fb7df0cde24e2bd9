// Command trainctl is the CLI entry point for the trainctl application.
package main

import (
	"os"

	"github.com/forgeml/trainctl/cmd/trainctl/app"
)

func main() {
	cmd := app.NewTrainctlCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
