package cl

import (
	"fmt"
	"time"
)

// MockRuntime is a host-memory Runtime for development and tests. Buffers
// live in byte slices, builds and launches are recorded, and per-kernel
// hooks can emulate what a launch does to buffer contents.
type MockRuntime struct {
	device DeviceInfo

	programs map[string]MockProgram
	kernels  map[string]mockKernel
	buffers  map[string][]byte
	args     map[string][]KernelArg

	// Launches records every EnqueueKernel call in order.
	Launches []MockLaunch

	hooks map[string]LaunchFunc

	// FailBuild, when set, makes BuildProgram of that program name fail.
	FailBuild string

	released bool
}

// MockProgram records one BuildProgram call.
type MockProgram struct {
	Source  string
	Options string
}

// MockLaunch records one EnqueueKernel call.
type MockLaunch struct {
	Kernel string
	Global []int
	Local  []int
	Args   []KernelArg
}

// LaunchFunc emulates a kernel's effect. It runs inside EnqueueKernel with
// the current positional args and the mock's buffer map.
type LaunchFunc func(m *MockRuntime, launch MockLaunch) error

type mockKernel struct {
	program string
	entry   string
}

// NewMockRuntime returns a mock runtime with a single fake device.
func NewMockRuntime() *MockRuntime {
	return &MockRuntime{
		device: DeviceInfo{
			Name:             "MockDevice",
			Vendor:           "clvisc",
			Version:          "OpenCL 1.2 mock",
			Type:             DeviceTypeGPU,
			MaxComputeUnits:  1,
			MaxWorkGroupSize: 256,
			MaxWorkItemSizes: []uint64{256, 256, 256},
		},
		programs: make(map[string]MockProgram),
		kernels:  make(map[string]mockKernel),
		buffers:  make(map[string][]byte),
		args:     make(map[string][]KernelArg),
		hooks:    make(map[string]LaunchFunc),
	}
}

// OnLaunch registers a hook that runs whenever kernel is enqueued.
func (m *MockRuntime) OnLaunch(kernel string, fn LaunchFunc) {
	m.hooks[kernel] = fn
}

// Program returns the recorded build for name.
func (m *MockRuntime) Program(name string) (MockProgram, bool) {
	p, ok := m.programs[name]
	return p, ok
}

// KernelArgs returns the last argument binding for kernel.
func (m *MockRuntime) KernelArgs(kernel string) []KernelArg {
	return m.args[kernel]
}

// Released reports whether Release has been called.
func (m *MockRuntime) Released() bool { return m.released }

func (m *MockRuntime) Device() DeviceInfo { return m.device }

func (m *MockRuntime) BuildProgram(name, source string, opt *CompileOption) error {
	if name == m.FailBuild && m.FailBuild != "" {
		return fmt.Errorf("build program %s: CL_BUILD_PROGRAM_FAILURE (-11)", name)
	}
	m.programs[name] = MockProgram{Source: source, Options: opt.String()}
	return nil
}

func (m *MockRuntime) CreateKernel(name, program, entry string) error {
	if _, ok := m.programs[program]; !ok {
		return fmt.Errorf("%w: program %q", ErrUnknownName, program)
	}
	m.kernels[name] = mockKernel{program: program, entry: entry}
	return nil
}

func (m *MockRuntime) CreateBuffer(name string, bytes int) error {
	if bytes <= 0 {
		return fmt.Errorf("%w: buffer %s size %d", ErrBadHostData, name, bytes)
	}
	m.buffers[name] = make([]byte, bytes)
	return nil
}

func (m *MockRuntime) CreateBufferFrom(name string, data any, readOnly bool) error {
	raw, err := encodeHost(data)
	if err != nil {
		return fmt.Errorf("buffer %s: %w", name, err)
	}
	m.buffers[name] = raw
	return nil
}

func (m *MockRuntime) WriteBuffer(name string, data any) error {
	buf, ok := m.buffers[name]
	if !ok {
		return fmt.Errorf("%w: buffer %q", ErrUnknownName, name)
	}
	raw, err := encodeHost(data)
	if err != nil {
		return fmt.Errorf("buffer %s: %w", name, err)
	}
	if len(raw) > len(buf) {
		return fmt.Errorf("%w: %d host bytes into %d byte buffer %s", ErrBadHostData, len(raw), len(buf), name)
	}
	copy(buf, raw)
	return nil
}

func (m *MockRuntime) ReadBuffer(name string, dst any) error {
	buf, ok := m.buffers[name]
	if !ok {
		return fmt.Errorf("%w: buffer %q", ErrUnknownName, name)
	}
	if err := decodeHost(buf, dst); err != nil {
		return fmt.Errorf("buffer %s: %w", name, err)
	}
	return nil
}

func (m *MockRuntime) SetKernelArgs(kernel string, args ...KernelArg) error {
	if _, ok := m.kernels[kernel]; !ok {
		return fmt.Errorf("%w: kernel %q", ErrUnknownName, kernel)
	}
	for i, arg := range args {
		if arg.buffer != "" {
			if _, ok := m.buffers[arg.buffer]; !ok {
				return fmt.Errorf("%w: buffer %q (kernel %s arg %d)", ErrUnknownName, arg.buffer, kernel, i)
			}
		}
	}
	m.args[kernel] = append([]KernelArg(nil), args...)
	return nil
}

func (m *MockRuntime) EnqueueKernel(kernel string, global, local []int) (Event, error) {
	if _, ok := m.kernels[kernel]; !ok {
		return nil, fmt.Errorf("%w: kernel %q", ErrUnknownName, kernel)
	}
	launch := MockLaunch{
		Kernel: kernel,
		Global: append([]int(nil), global...),
		Local:  append([]int(nil), local...),
		Args:   append([]KernelArg(nil), m.args[kernel]...),
	}
	m.Launches = append(m.Launches, launch)

	if fn, ok := m.hooks[kernel]; ok {
		if err := fn(m, launch); err != nil {
			return nil, fmt.Errorf("mock kernel %s: %w", kernel, err)
		}
	}
	return mockEvent{}, nil
}

func (m *MockRuntime) Finish() error { return nil }

func (m *MockRuntime) Release() {
	m.programs = map[string]MockProgram{}
	m.kernels = map[string]mockKernel{}
	m.buffers = map[string][]byte{}
	m.args = map[string][]KernelArg{}
	m.released = true
}

// BufferFloat64 decodes a mock buffer as float64 values, converting from
// float32 storage when the buffer was written in single precision.
func (m *MockRuntime) BufferFloat64(name string, singlePrecision bool) ([]float64, error) {
	buf, ok := m.buffers[name]
	if !ok {
		return nil, fmt.Errorf("%w: buffer %q", ErrUnknownName, name)
	}
	if singlePrecision {
		out := make([]float32, len(buf)/4)
		if err := decodeHost(buf, out); err != nil {
			return nil, err
		}
		res := make([]float64, len(out))
		for i, v := range out {
			res[i] = float64(v)
		}
		return res, nil
	}
	out := make([]float64, len(buf)/8)
	if err := decodeHost(buf, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ArgBuffer returns the buffer name bound at position i, or "".
func (a KernelArg) ArgBuffer() string { return a.buffer }

// ArgValue returns the scalar bound at position i, or nil.
func (a KernelArg) ArgValue() any { return a.value }

type mockEvent struct{}

// Duration returns a synthetic non-zero value; mock launches have no
// profiling counters.
func (mockEvent) Duration() (time.Duration, error) { return time.Microsecond, nil }
