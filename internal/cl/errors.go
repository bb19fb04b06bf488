package cl

import "errors"

var (
	// ErrNoPlatforms indicates that no OpenCL platform is installed.
	ErrNoPlatforms = errors.New("no OpenCL platforms found, install a vendor SDK or ICD loader first")

	// ErrNoDevices indicates that no device matched the requested type.
	ErrNoDevices = errors.New("no OpenCL devices found")

	// ErrDeviceIndex indicates the device id was outside the matched set.
	ErrDeviceIndex = errors.New("device id out of range")

	// ErrUnknownName is returned when a program, kernel or buffer name has
	// not been registered with the runtime.
	ErrUnknownName = errors.New("unknown handle name")

	// ErrBadHostData is returned when host data has an unsupported element
	// type or a length that does not match the device buffer.
	ErrBadHostData = errors.New("unsupported or mismatched host data")

	// ErrNotBuilt indicates the binary was built without OpenCL support.
	ErrNotBuilt = errors.New("opencl support requires building with '-tags gpu'")
)
