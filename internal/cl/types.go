package cl

import (
	"fmt"
	"strings"
)

// DeviceType describes the class of an OpenCL device.
type DeviceType string

const (
	DeviceTypeGPU         DeviceType = "GPU"
	DeviceTypeCPU         DeviceType = "CPU"
	DeviceTypeAccelerator DeviceType = "Accelerator"
	DeviceTypeDefault     DeviceType = "Default"
	DeviceTypeAll         DeviceType = "All"
	DeviceTypeUnknown     DeviceType = "Unknown"
)

// ParseDeviceType maps user input to a canonical device type.
// "cpu" and "gpu" select that class; anything else matches all devices,
// mirroring the permissive selection the simulation framework expects.
func ParseDeviceType(name string) DeviceType {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "cpu":
		return DeviceTypeCPU
	case "gpu":
		return DeviceTypeGPU
	case "accelerator":
		return DeviceTypeAccelerator
	default:
		return DeviceTypeAll
	}
}

// DeviceInfo captures metadata about an OpenCL device.
type DeviceInfo struct {
	Name             string
	Vendor           string
	Version          string
	Type             DeviceType
	MaxComputeUnits  uint32
	MaxWorkGroupSize uint64
	MaxWorkItemSizes []uint64
	GlobalMemBytes   uint64
	LocalMemBytes    uint64
}

// String renders a one-line summary suitable for device listings.
func (d DeviceInfo) String() string {
	return fmt.Sprintf("%s (%s, %s, %d CU, %d MB global)",
		d.Name, d.Vendor, d.Type, d.MaxComputeUnits, d.GlobalMemBytes/(1024*1024))
}

// PlatformInfo captures metadata about an OpenCL platform and its devices.
type PlatformInfo struct {
	Name    string
	Vendor  string
	Version string
	Devices []DeviceInfo
}
