// Package device provides GPU discovery and allocation for training jobs.
//
// Discovery reads PCI device information from sysfs and matches NVIDIA
// display-class devices. Hosts without GPUs (development machines) can
// declare fake devices in devices.yaml instead.
package device

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// pciDevicesPath is the standard sysfs location for PCI devices on Linux.
const pciDevicesPath = "/sys/bus/pci/devices"

// nvidiaVendorID is the PCI vendor ID for NVIDIA.
const nvidiaVendorID = "0x10de"

// PCIDevice represents a PCI device with its identifiers.
type PCIDevice struct {
	// VendorID is the PCI vendor ID (e.g., "0x10de").
	VendorID string

	// DeviceID is the PCI device ID.
	DeviceID string

	// BusAddress is the PCI bus address (e.g., "0000:01:00.0").
	BusAddress string

	// Class is the PCI device class (e.g., "0x030200" for 3D controller).
	Class string
}

// IsDisplayController reports whether the device class is a VGA or 3D
// controller, the classes GPUs enumerate as.
func (d PCIDevice) IsDisplayController() bool {
	return strings.HasPrefix(d.Class, "0x0300") || strings.HasPrefix(d.Class, "0x0302")
}

// ScanPCIDevices scans the system for PCI devices.
//
// Returns:
//   - Slice of PCIDevice found on the system
//   - Error if the sysfs tree is missing or unreadable
func ScanPCIDevices() ([]PCIDevice, error) {
	if _, err := os.Stat(pciDevicesPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("PCI devices path not found: %s", pciDevicesPath)
	}

	entries, err := os.ReadDir(pciDevicesPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read PCI devices: %w", err)
	}

	var devices []PCIDevice
	for _, entry := range entries {
		devicePath := filepath.Join(pciDevicesPath, entry.Name())
		dev, err := readPCIDevice(devicePath, entry.Name())
		if err != nil {
			// Skip devices whose sysfs entries cannot be read.
			continue
		}
		devices = append(devices, dev)
	}

	return devices, nil
}

// readPCIDevice reads PCI device information from one sysfs entry.
func readPCIDevice(devicePath, busAddress string) (PCIDevice, error) {
	device := PCIDevice{BusAddress: busAddress}

	vendorID, err := readPCIFile(filepath.Join(devicePath, "vendor"))
	if err != nil {
		return device, err
	}
	device.VendorID = vendorID

	deviceID, err := readPCIFile(filepath.Join(devicePath, "device"))
	if err != nil {
		return device, err
	}
	device.DeviceID = deviceID

	if class, err := readPCIFile(filepath.Join(devicePath, "class")); err == nil {
		device.Class = class
	}

	return device, nil
}

// readPCIFile reads a single value from a PCI sysfs file.
func readPCIFile(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// FindGPUs returns the NVIDIA display controllers on this host, sorted by
// bus address so indexes are stable across scans. The index assigned here
// matches the CUDA device ordering used via CUDA_VISIBLE_DEVICES.
func FindGPUs() ([]GPU, error) {
	pciDevices, err := ScanPCIDevices()
	if err != nil {
		return nil, err
	}

	var matched []PCIDevice
	for _, dev := range pciDevices {
		if dev.VendorID == nvidiaVendorID && dev.IsDisplayController() {
			matched = append(matched, dev)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].BusAddress < matched[j].BusAddress
	})

	gpus := make([]GPU, len(matched))
	for i, dev := range matched {
		gpus[i] = GPU{
			Index:      i,
			BusAddress: dev.BusAddress,
			ModelName:  modelNameForDeviceID(dev.DeviceID),
			DeviceID:   dev.DeviceID,
		}
	}

	return gpus, nil
}

// knownDeviceNames maps common NVIDIA data-center device IDs to marketing
// names. Unknown IDs fall back to the raw ID; nothing downstream depends
// on the name.
var knownDeviceNames = map[string]string{
	"0x1db4": "Tesla V100-PCIE-16GB",
	"0x1db5": "Tesla V100-SXM2-32GB",
	"0x20b0": "A100-SXM4-40GB",
	"0x20b2": "A100-SXM4-80GB",
	"0x20f1": "A100-PCIE-40GB",
	"0x2330": "H100-SXM5-80GB",
	"0x2331": "H100-PCIE-80GB",
}

func modelNameForDeviceID(deviceID string) string {
	if name, ok := knownDeviceNames[deviceID]; ok {
		return name
	}
	return "NVIDIA GPU " + deviceID
}
