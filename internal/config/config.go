// Package config provides configuration management for the trainctl application.
//
// This package handles all configuration-related functionality including:
//   - Server configuration (host, port, address)
//   - Storage paths (config directory, data directory, job directories)
//   - Communication-backend environment (NCCL settings)
//   - Trainer JSON configuration generation and validation
//
// The configuration is designed to be flexible and can be customized
// for different deployment scenarios (development, production, systemd service).
package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const (
	// DefaultServerHost is the default server host address.
	// The server listens on localhost by default for security.
	DefaultServerHost = "localhost"

	// DefaultServerPort is the default server port.
	// Port 11791 is used as it doesn't require root privileges.
	DefaultServerPort = 11791

	// DefaultConfigDirName is the default configuration directory name.
	// This directory is created in the user's home directory.
	DefaultConfigDirName = ".trainctl"

	// DefaultDataDirName is the default data directory name.
	// This subdirectory under the config dir contains all runtime data.
	DefaultDataDirName = "data"

	// DefaultJobsDirName is the jobs directory name. Every job gets its
	// own subdirectory containing the trainer config, the training log and
	// the checkpoint output.
	DefaultJobsDirName = "jobs"

	// DefaultLauncherBinary is the external distributed-training launcher
	// invoked for every job. The launcher is treated as a black box.
	DefaultLauncherBinary = "deepspeed"
)

// Config represents the complete application configuration.
//
// This is the root configuration struct that contains all settings
// required for running the trainctl server, including server, storage
// and launcher configurations.
type Config struct {
	// Server holds the HTTP server configuration including host and port.
	Server ServerConfig `json:"server"`

	// Storage holds the storage configuration including directories for
	// data and configuration files.
	Storage StorageConfig `json:"storage"`

	// Launcher holds settings for the external training launcher.
	Launcher LauncherConfig `json:"launcher"`

	// BinaryVersion is the version of the trainctl binary (e.g., "v0.2.0").
	// Set from the build-time version during initialization.
	BinaryVersion string `json:"-"`
}

// ServerConfig represents the HTTP server configuration.
type ServerConfig struct {
	// Host is the server host address (e.g., "localhost", "0.0.0.0").
	// Using "localhost" restricts access to local clients only.
	Host string `json:"host"`

	// Port is the TCP port number the server listens on.
	Port int `json:"port"`
}

// StorageConfig represents the storage and persistence configuration.
type StorageConfig struct {
	// ConfigDir is the absolute path to the configuration files directory.
	// Contains YAML files such as launch_env.yaml and devices.yaml.
	// Example: "/home/user/.trainctl"
	ConfigDir string `json:"config_dir"`

	// DataDir is the absolute path to the main data directory.
	// Contains job directories and server state.
	// Example: "/home/user/.trainctl/data"
	DataDir string `json:"data_dir"`
}

// LauncherConfig holds settings for invoking the external launcher.
type LauncherConfig struct {
	// Binary is the launcher executable name or path.
	Binary string `json:"binary"`

	// Default selects the default launcher backend ("host" or "docker").
	Default string `json:"default"`

	// Image is the container image used by the docker launcher.
	Image string `json:"image"`

	// Hostfile is the path to the multi-node hostfile passed to the
	// launcher when a job spans more than one node.
	Hostfile string `json:"hostfile"`
}

// GetJobsDir returns the jobs directory path.
// Job directories are created under "jobs" within the data directory.
// Example: ~/.trainctl/data/jobs
func (s *StorageConfig) GetJobsDir() string {
	return filepath.Join(s.DataDir, DefaultJobsDirName)
}

// GetJobDir returns the directory for a specific job ID.
func (s *StorageConfig) GetJobDir(jobID string) string {
	return filepath.Join(s.GetJobsDir(), jobID)
}

// GetStateFile returns the path of the persisted job state file used by
// the host launcher to re-attach jobs after a server restart.
func (s *StorageConfig) GetStateFile() string {
	return filepath.Join(s.DataDir, "jobs.json")
}

// NewDefaultConfig creates a new configuration instance with default values.
//
// The configuration uses:
//   - Server: localhost:11791 for local-only access
//   - ConfigDir: ~/.trainctl for configuration files
//   - DataDir: ~/.trainctl/data for job directories and state
//   - Launcher: the "deepspeed" binary on PATH, host backend by default
func NewDefaultConfig() *Config {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "/tmp"
	}

	configDir := filepath.Join(homeDir, DefaultConfigDirName)
	dataDir := filepath.Join(configDir, DefaultDataDirName)

	return &Config{
		Server: ServerConfig{
			Host: DefaultServerHost,
			Port: DefaultServerPort,
		},
		Storage: StorageConfig{
			ConfigDir: configDir,
			DataDir:   dataDir,
		},
		Launcher: LauncherConfig{
			Binary:  DefaultLauncherBinary,
			Default: "host",
		},
	}
}

// NewConfigWithCustomDirs creates a new configuration with custom directories.
//
// This function allows specifying custom configuration and data directories
// instead of using the defaults. Useful for:
//   - Testing with isolated environments
//   - Running multiple servers
//   - Custom deployment scenarios
//
// Parameters:
//   - configDir: Custom configuration directory (empty uses ~/.trainctl)
//   - dataDir: Custom data directory (empty uses configDir/data)
func NewConfigWithCustomDirs(configDir, dataDir string) *Config {
	cfg := NewDefaultConfig()

	if configDir != "" {
		cfg.Storage.ConfigDir = configDir
		cfg.Storage.DataDir = filepath.Join(configDir, DefaultDataDirName)
	}
	if dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}

	return cfg
}

// GetServerAddress returns the complete HTTP server address.
//
// Returns:
//   - A string in the format "http://host:port"
func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("http://%s:%d", c.Server.Host, c.Server.Port)
}

// EnsureDirectories creates all required directories if they don't exist.
//
// This method ensures that the directory structure needed by the server
// exists on the filesystem. It creates:
//   - The configuration directory (ConfigDir)
//   - The data directory (DataDir)
//   - The jobs directory (DataDir/jobs)
//
// Directories are created with 0755 permissions.
func (c *Config) EnsureDirectories() error {
	dirs := []string{
		c.Storage.ConfigDir,
		c.Storage.DataDir,
		c.Storage.GetJobsDir(),
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}
