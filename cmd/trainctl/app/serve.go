package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/forgeml/trainctl/internal/config"
	"github.com/forgeml/trainctl/internal/logger"
	"github.com/forgeml/trainctl/internal/server"
)

// ServeOptions holds options for the serve command
type ServeOptions struct {
	*GlobalOptions

	// Host is the server host address
	Host string

	// Port is the server port
	Port int

	// DataDir is the data directory for job artifacts and datasets
	DataDir string

	// ConfigDir is the directory containing configuration files
	ConfigDir string

	// Launcher is the default launcher backend
	Launcher string

	// LauncherBinary is the external launcher executable
	LauncherBinary string

	// Hostfile is the hostfile passed to the launcher for multi-node jobs
	Hostfile string

	// Image is the container image for the docker backend
	Image string
}

// NewServeCommand creates the serve command.
//
// The serve command starts the trainctl HTTP server. This is primarily
// for development and testing. In production, the server should be run
// as a systemd service.
//
// Usage:
//
//	trainctl serve [--host HOST] [--port PORT]
//
// Examples:
//
//	# Start server on default port (11791)
//	trainctl serve
//
//	# Start server with the docker backend as default
//	trainctl serve --launcher docker --image nvcr.io/nvidia/pytorch:24.07-py3
//
// Parameters:
//   - globalOpts: Global options shared across commands
//
// Returns:
//   - A configured cobra.Command for starting the server
func NewServeCommand(globalOpts *GlobalOptions) *cobra.Command {
	opts := &ServeOptions{
		GlobalOptions: globalOpts,
	}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the trainctl server",
		Long: `Start the trainctl HTTP server for handling API requests.

This command is primarily intended for development and testing. In
production deployments, run the server under systemd.

The server detects local GPUs, restores jobs from previous runs, and
listens for HTTP requests. Press Ctrl+C to gracefully shut down; running
training jobs keep running and are re-attached on the next start.`,
		Example: `  # Start server on default settings (localhost:11791)
  trainctl serve

  # Start server on a custom port with verbose logging
  trainctl serve --port 9090 -v

  # Use a different launcher binary
  trainctl serve --launcher-binary /opt/conda/bin/deepspeed`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Port < 1 || opts.Port > 65535 {
				return fmt.Errorf("invalid port number: %d (must be between 1-65535)", opts.Port)
			}
			return runServe(opts)
		},
	}

	cmd.Flags().StringVar(&opts.Host, "host", "localhost",
		"server host address")
	cmd.Flags().IntVar(&opts.Port, "port", config.DefaultServerPort,
		"server port")
	cmd.Flags().StringVar(&opts.DataDir, "data", "",
		"data directory for job artifacts and datasets (default: ~/.trainctl/data)")
	cmd.Flags().StringVar(&opts.ConfigDir, "config", "",
		"directory containing configuration files (default: ~/.trainctl)")
	cmd.Flags().StringVar(&opts.Launcher, "launcher", "",
		"default launcher backend: host or docker (default: host)")
	cmd.Flags().StringVar(&opts.LauncherBinary, "launcher-binary", "",
		fmt.Sprintf("external launcher executable (default: %s)", config.DefaultLauncherBinary))
	cmd.Flags().StringVar(&opts.Hostfile, "hostfile", "",
		"hostfile for multi-node jobs")
	cmd.Flags().StringVar(&opts.Image, "image", "",
		"container image for the docker backend")

	return cmd
}

// runServe executes the serve command logic.
//
// This function starts the HTTP server and handles graceful shutdown on
// interrupt signals.
func runServe(opts *ServeOptions) error {
	if opts.Verbose {
		logger.SetVerbose(true)
	}

	cfg := config.NewConfigWithCustomDirs(opts.ConfigDir, opts.DataDir)
	cfg.BinaryVersion = GetVersion()
	cfg.Server.Host = opts.Host
	cfg.Server.Port = opts.Port
	if opts.Launcher != "" {
		cfg.Launcher.Default = opts.Launcher
	}
	if opts.LauncherBinary != "" {
		cfg.Launcher.Binary = opts.LauncherBinary
	}
	if opts.Hostfile != "" {
		cfg.Launcher.Hostfile = opts.Hostfile
	}
	if opts.Image != "" {
		cfg.Launcher.Image = opts.Image
	}

	logger.Info("Config directory: %s", cfg.Storage.ConfigDir)
	logger.Info("Data directory: %s", cfg.Storage.DataDir)
	logger.Info("Launcher binary: %s", cfg.Launcher.Binary)

	srv, err := server.NewServer(cfg, GetVersion())
	if err != nil {
		return fmt.Errorf("failed to initialize server: %w", err)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		logger.Info("Press Ctrl+C to stop")
		if err := srv.Start(); err != nil {
			if isAddressInUse(err) {
				logger.Error("Port %d is already in use", opts.Port)
				logger.Error("Please stop the existing server or use a different port with --port")
				errChan <- fmt.Errorf("address already in use: %s:%d", opts.Host, opts.Port)
				return
			}
			errChan <- err
			return
		}
		errChan <- nil
	}()

	select {
	case <-sigChan:
		logger.Info("Received interrupt signal, shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Stop(ctx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}

		logger.Info("Server stopped successfully")
		return nil

	case err := <-errChan:
		return err
	}
}

// isAddressInUse checks if the error is due to the address being taken.
func isAddressInUse(err error) bool {
	return err != nil && strings.Contains(err.Error(), "address already in use")
}
