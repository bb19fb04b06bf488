//go:build !gpu

package cl

// NewRuntime returns an error when OpenCL support is not compiled in.
func NewRuntime(_ DeviceType, _ int) (Runtime, error) {
	return nil, ErrNotBuilt
}

// EnumeratePlatforms returns an error when OpenCL support is not compiled in.
func EnumeratePlatforms() ([]PlatformInfo, error) {
	return nil, ErrNotBuilt
}
