package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LaunchEnvFileName is the YAML file in the config directory holding the
// communication-backend environment.
const LaunchEnvFileName = "launch_env.yaml"

// LaunchEnv holds the environment variables that steer the distributed
// communication backend (NCCL) underneath the external launcher.
//
// trainctl does not interpret these values; it forwards them into the
// launcher's environment. Defaults match the single-node Ethernet setup
// the shipped recipes were tuned on.
type LaunchEnv struct {
	// SocketInterface selects the network interface NCCL binds to
	// (NCCL_SOCKET_IFNAME). Empty lets NCCL pick.
	SocketInterface string `yaml:"socket_interface"`

	// TreeThreshold is the message-size threshold, in bytes, below which
	// NCCL switches to tree algorithms (NCCL_TREE_THRESHOLD).
	// Zero means unset.
	TreeThreshold int64 `yaml:"tree_threshold"`

	// DisableInfiniBand sets NCCL_IB_DISABLE=1 when true, forcing socket
	// transport even when IB adapters are present.
	DisableInfiniBand bool `yaml:"disable_infiniband"`

	// Debug is the NCCL_DEBUG level ("WARN", "INFO", "TRACE"). Empty
	// leaves NCCL quiet.
	Debug string `yaml:"debug"`

	// Extra holds additional variables forwarded verbatim.
	Extra map[string]string `yaml:"extra,omitempty"`
}

// DefaultLaunchEnv returns the launch environment used when no
// launch_env.yaml exists.
func DefaultLaunchEnv() *LaunchEnv {
	return &LaunchEnv{
		TreeThreshold:     0,
		DisableInfiniBand: false,
		Debug:             "",
	}
}

// LoadLaunchEnv reads launch_env.yaml from the config directory.
//
// A missing file is not an error: the defaults are returned so a fresh
// install works without any configuration.
func LoadLaunchEnv(configDir string) (*LaunchEnv, error) {
	path := filepath.Join(configDir, LaunchEnvFileName)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultLaunchEnv(), nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	env := DefaultLaunchEnv()
	if err := yaml.Unmarshal(data, env); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	return env, nil
}

// Environ renders the launch environment as KEY=value pairs, sorted for
// deterministic output. Device visibility is appended separately by the
// launcher from the allocated device set.
func (e *LaunchEnv) Environ() []string {
	vars := make(map[string]string)

	if e.SocketInterface != "" {
		vars["NCCL_SOCKET_IFNAME"] = e.SocketInterface
	}
	if e.TreeThreshold > 0 {
		vars["NCCL_TREE_THRESHOLD"] = fmt.Sprintf("%d", e.TreeThreshold)
	}
	if e.DisableInfiniBand {
		vars["NCCL_IB_DISABLE"] = "1"
	}
	if e.Debug != "" {
		vars["NCCL_DEBUG"] = e.Debug
	}
	for k, v := range e.Extra {
		vars[k] = v
	}

	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	environ := make([]string, 0, len(keys))
	for _, k := range keys {
		environ = append(environ, k+"="+vars[k])
	}
	return environ
}

// CUDAVisibleDevices renders the CUDA_VISIBLE_DEVICES value for a set of
// allocated device indexes. An empty set returns an empty string, meaning
// the variable should not be set.
func CUDAVisibleDevices(indexes []int) string {
	if len(indexes) == 0 {
		return ""
	}
	parts := make([]string, len(indexes))
	for i, idx := range indexes {
		parts[i] = fmt.Sprintf("%d", idx)
	}
	return strings.Join(parts, ",")
}
