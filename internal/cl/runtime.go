package cl

import (
	"fmt"
	"os"
	"time"
)

// Runtime is the host-side view of one OpenCL device: a context and a
// profiling command queue plus name-keyed registries for programs, kernels
// and buffers. Registering an existing name replaces the old handle.
//
// The cgo implementation lives behind the "gpu" build tag; MockRuntime
// provides an in-memory implementation for tests and dry runs.
type Runtime interface {
	// Device reports the selected device.
	Device() DeviceInfo

	// BuildProgram compiles source under name with the given options.
	// On a compile failure the driver build log is logged and the error
	// wraps the raw status.
	BuildProgram(name, source string, opt *CompileOption) error

	// CreateKernel registers entry from a built program under name.
	CreateKernel(name, program, entry string) error

	// CreateBuffer allocates a read-write device buffer of the given size.
	CreateBuffer(name string, bytes int) error

	// CreateBufferFrom allocates a device buffer initialized from host
	// data ([]float32, []float64 or []int32), read-only when requested.
	CreateBufferFrom(name string, data any, readOnly bool) error

	// WriteBuffer blocks until data is copied to the named buffer.
	WriteBuffer(name string, data any) error

	// ReadBuffer blocks until the named buffer is copied into dst.
	ReadBuffer(name string, dst any) error

	// SetKernelArgs binds arguments positionally, starting at index 0.
	SetKernelArgs(kernel string, args ...KernelArg) error

	// EnqueueKernel launches an NDRange over the global work size. A nil
	// local size lets the driver choose the work-group shape.
	EnqueueKernel(kernel string, global, local []int) (Event, error)

	// Finish blocks until all queued commands complete.
	Finish() error

	// Release frees every registered handle, the queue and the context.
	Release()
}

// Event identifies one enqueued kernel launch.
type Event interface {
	// Duration returns the device execution time from the profiling
	// counters (COMMAND_START to COMMAND_END).
	Duration() (time.Duration, error)
}

// KernelArg is one positional kernel argument: either a reference to a
// registered buffer or a scalar value.
type KernelArg struct {
	buffer string
	value  any
}

// BufferArg references a buffer registered with the runtime.
func BufferArg(name string) KernelArg { return KernelArg{buffer: name} }

// Int32Arg passes a 32-bit integer scalar.
func Int32Arg(v int32) KernelArg { return KernelArg{value: v} }

// Float32Arg passes a single-precision scalar.
func Float32Arg(v float32) KernelArg { return KernelArg{value: v} }

// Float64Arg passes a double-precision scalar.
func Float64Arg(v float64) KernelArg { return KernelArg{value: v} }

// RealArg passes v in the precision the kernels were compiled for.
func RealArg(v float64, singlePrecision bool) KernelArg {
	if singlePrecision {
		return Float32Arg(float32(v))
	}
	return Float64Arg(v)
}

// BuildProgramFile reads a kernel source file and builds it under name.
// Kernel sources ship with the simulation framework, not with this module,
// so they are always loaded by path.
func BuildProgramFile(rt Runtime, name, path string, opt *CompileOption) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read kernel source %s: %w", path, err)
	}
	return rt.BuildProgram(name, string(src), opt)
}
