// Package cl wraps the OpenCL host API for the clvisc simulation runtime:
// device discovery and selection, kernel program builds with accumulated
// compile options, name-keyed buffer and kernel registries, and profiled
// kernel dispatch. The cgo implementation is enabled with the "gpu" build
// tag; without it the constructors fail and MockRuntime stands in.
package cl
