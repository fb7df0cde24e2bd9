package launcher

import (
	"fmt"
	"os"
)

// NvidiaSandbox provides NVIDIA-specific container configuration.
//
// It prepares device visibility environment, device file mounts and
// driver library mounts for CUDA training containers. The sandbox is
// stateless and safe for concurrent use.
type NvidiaSandbox struct{}

// NewNvidiaSandbox creates an NVIDIA device sandbox.
func NewNvidiaSandbox() *NvidiaSandbox {
	return &NvidiaSandbox{}
}

// PrepareEnvironment returns device visibility variables for the container.
//
// Inside the container the allocated devices are renumbered from zero,
// so CUDA_VISIBLE_DEVICES enumerates 0..n-1 regardless of the host
// indexes; the host indexes drive the device file mounts instead.
func (s *NvidiaSandbox) PrepareEnvironment(deviceIndexes []int) (map[string]string, error) {
	if len(deviceIndexes) == 0 {
		return nil, fmt.Errorf("at least one device is required")
	}

	visible := ""
	for i := range deviceIndexes {
		if i > 0 {
			visible += ","
		}
		visible += fmt.Sprintf("%d", i)
	}

	return map[string]string{
		"CUDA_VISIBLE_DEVICES":       visible,
		"NVIDIA_DRIVER_CAPABILITIES": "compute,utility",
	}, nil
}

// GetDeviceMounts returns the device files required for CUDA access.
//
// Control devices (/dev/nvidiactl, /dev/nvidia-uvm) are included only
// when present on the host; older driver installs lack the uvm-tools
// node.
func (s *NvidiaSandbox) GetDeviceMounts(deviceIndexes []int) ([]string, error) {
	paths := make([]string, 0, len(deviceIndexes)+3)
	for _, idx := range deviceIndexes {
		paths = append(paths, fmt.Sprintf("/dev/nvidia%d", idx))
	}

	for _, ctl := range []string{"/dev/nvidiactl", "/dev/nvidia-uvm", "/dev/nvidia-uvm-tools"} {
		if _, err := os.Stat(ctl); err == nil {
			paths = append(paths, ctl)
		}
	}

	return paths, nil
}

// RequiresPrivileged reports whether privileged mode is needed.
//
// With explicit device mounts and the nvidia runtime the container does
// not need privileged mode.
func (s *NvidiaSandbox) RequiresPrivileged() bool {
	return false
}

// GetDockerRuntime returns the OCI runtime for CUDA containers.
func (s *NvidiaSandbox) GetDockerRuntime() string {
	return "nvidia"
}
