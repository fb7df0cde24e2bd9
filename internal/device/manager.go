package device

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/forgeml/trainctl/internal/api"
	"github.com/forgeml/trainctl/internal/logger"
)

// GPU describes one detected accelerator.
type GPU struct {
	// Index is the stable, 0-based device index. It matches the CUDA
	// device ordering and is the value placed in CUDA_VISIBLE_DEVICES.
	Index int `yaml:"index"`

	// BusAddress is the PCI bus address (empty for declared devices).
	BusAddress string `yaml:"bus_address"`

	// ModelName is the marketing name when known.
	ModelName string `yaml:"model_name"`

	// DeviceID is the raw PCI device ID.
	DeviceID string `yaml:"device_id"`
}

// DevicesFileName is the optional YAML file in the config directory that
// declares devices instead of scanning sysfs. Intended for development
// hosts without GPUs and for tests.
const DevicesFileName = "devices.yaml"

// devicesFile mirrors the YAML layout of devices.yaml.
type devicesFile struct {
	GPUs []GPU `yaml:"gpus"`
}

// Manager owns device discovery for the server.
//
// Discovery order:
//  1. devices.yaml in the config directory, when present
//  2. sysfs PCI scan for NVIDIA display controllers
//
// A host with neither yields an empty device list; submission then fails
// with a clear error rather than at launch time.
type Manager struct {
	gpus []GPU
}

// NewManager discovers devices and returns a manager.
//
// Parameters:
//   - configDir: directory that may contain devices.yaml
//
// Returns:
//   - Manager with the discovered device list
//   - Error only on a malformed devices.yaml; scan failures degrade to
//     an empty list with a warning
func NewManager(configDir string) (*Manager, error) {
	declared, err := loadDeclaredDevices(configDir)
	if err != nil {
		return nil, err
	}
	if declared != nil {
		logger.Info("Using %d declared device(s) from %s", len(declared), DevicesFileName)
		return &Manager{gpus: declared}, nil
	}

	gpus, err := FindGPUs()
	if err != nil {
		logger.Warn("GPU scan failed: %v (no devices available)", err)
		return &Manager{}, nil
	}

	logger.Info("Detected %d GPU(s)", len(gpus))
	for _, g := range gpus {
		logger.Debug("GPU %d: %s @ %s", g.Index, g.ModelName, g.BusAddress)
	}

	return &Manager{gpus: gpus}, nil
}

// loadDeclaredDevices reads devices.yaml if it exists. Returns nil, nil
// when the file is absent.
func loadDeclaredDevices(configDir string) ([]GPU, error) {
	path := filepath.Join(configDir, DevicesFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	var file devicesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	for i := range file.GPUs {
		file.GPUs[i].Index = i
	}

	return file.GPUs, nil
}

// GPUs returns the discovered devices.
func (m *Manager) GPUs() []GPU {
	out := make([]GPU, len(m.gpus))
	copy(out, m.gpus)
	return out
}

// Count returns the number of discovered devices.
func (m *Manager) Count() int {
	return len(m.gpus)
}

// ToAPI converts the device list to its wire representation, marking
// devices currently held by the allocator.
func (m *Manager) ToAPI(allocated map[int]bool) []api.Device {
	devices := make([]api.Device, 0, len(m.gpus))
	for _, g := range m.gpus {
		devices = append(devices, api.Device{
			Type:       api.DeviceTypeCUDA,
			Index:      g.Index,
			BusAddress: g.BusAddress,
			ModelName:  g.ModelName,
			Allocated:  allocated[g.Index],
			Properties: map[string]string{"device_id": g.DeviceID},
		})
	}
	return devices
}
