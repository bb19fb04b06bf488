//go:build gpu

package cl

/*
#cgo LDFLAGS: -lOpenCL
#define CL_TARGET_OPENCL_VERSION 120
#define CL_USE_DEPRECATED_OPENCL_1_2_APIS
#include <CL/cl.h>
#include <stdlib.h>

static const char* clvisc_cl_error_string(cl_int status) {
	switch (status) {
	case CL_SUCCESS: return "CL_SUCCESS";
	case CL_DEVICE_NOT_FOUND: return "CL_DEVICE_NOT_FOUND";
	case CL_DEVICE_NOT_AVAILABLE: return "CL_DEVICE_NOT_AVAILABLE";
	case CL_COMPILER_NOT_AVAILABLE: return "CL_COMPILER_NOT_AVAILABLE";
	case CL_MEM_OBJECT_ALLOCATION_FAILURE: return "CL_MEM_OBJECT_ALLOCATION_FAILURE";
	case CL_OUT_OF_RESOURCES: return "CL_OUT_OF_RESOURCES";
	case CL_OUT_OF_HOST_MEMORY: return "CL_OUT_OF_HOST_MEMORY";
	case CL_PROFILING_INFO_NOT_AVAILABLE: return "CL_PROFILING_INFO_NOT_AVAILABLE";
	case CL_MEM_COPY_OVERLAP: return "CL_MEM_COPY_OVERLAP";
	case CL_BUILD_PROGRAM_FAILURE: return "CL_BUILD_PROGRAM_FAILURE";
	case CL_MAP_FAILURE: return "CL_MAP_FAILURE";
	case CL_INVALID_VALUE: return "CL_INVALID_VALUE";
	case CL_INVALID_DEVICE_TYPE: return "CL_INVALID_DEVICE_TYPE";
	case CL_INVALID_PLATFORM: return "CL_INVALID_PLATFORM";
	case CL_INVALID_DEVICE: return "CL_INVALID_DEVICE";
	case CL_INVALID_CONTEXT: return "CL_INVALID_CONTEXT";
	case CL_INVALID_QUEUE_PROPERTIES: return "CL_INVALID_QUEUE_PROPERTIES";
	case CL_INVALID_COMMAND_QUEUE: return "CL_INVALID_COMMAND_QUEUE";
	case CL_INVALID_HOST_PTR: return "CL_INVALID_HOST_PTR";
	case CL_INVALID_MEM_OBJECT: return "CL_INVALID_MEM_OBJECT";
	case CL_INVALID_BINARY: return "CL_INVALID_BINARY";
	case CL_INVALID_BUILD_OPTIONS: return "CL_INVALID_BUILD_OPTIONS";
	case CL_INVALID_PROGRAM: return "CL_INVALID_PROGRAM";
	case CL_INVALID_PROGRAM_EXECUTABLE: return "CL_INVALID_PROGRAM_EXECUTABLE";
	case CL_INVALID_KERNEL_NAME: return "CL_INVALID_KERNEL_NAME";
	case CL_INVALID_KERNEL_DEFINITION: return "CL_INVALID_KERNEL_DEFINITION";
	case CL_INVALID_KERNEL: return "CL_INVALID_KERNEL";
	case CL_INVALID_ARG_INDEX: return "CL_INVALID_ARG_INDEX";
	case CL_INVALID_ARG_VALUE: return "CL_INVALID_ARG_VALUE";
	case CL_INVALID_ARG_SIZE: return "CL_INVALID_ARG_SIZE";
	case CL_INVALID_KERNEL_ARGS: return "CL_INVALID_KERNEL_ARGS";
	case CL_INVALID_WORK_DIMENSION: return "CL_INVALID_WORK_DIMENSION";
	case CL_INVALID_WORK_GROUP_SIZE: return "CL_INVALID_WORK_GROUP_SIZE";
	case CL_INVALID_WORK_ITEM_SIZE: return "CL_INVALID_WORK_ITEM_SIZE";
	case CL_INVALID_GLOBAL_OFFSET: return "CL_INVALID_GLOBAL_OFFSET";
	case CL_INVALID_EVENT_WAIT_LIST: return "CL_INVALID_EVENT_WAIT_LIST";
	case CL_INVALID_EVENT: return "CL_INVALID_EVENT";
	case CL_INVALID_OPERATION: return "CL_INVALID_OPERATION";
	case CL_INVALID_BUFFER_SIZE: return "CL_INVALID_BUFFER_SIZE";
	default: return "CL_UNKNOWN_ERROR";
	}
}

static cl_command_queue clvisc_create_queue(cl_context ctx, cl_device_id device, cl_int *status) {
#if CL_TARGET_OPENCL_VERSION >= 200
	const cl_queue_properties props[] = {CL_QUEUE_PROPERTIES, CL_QUEUE_PROFILING_ENABLE, 0};
	return clCreateCommandQueueWithProperties(ctx, device, props, status);
#else
	return clCreateCommandQueue(ctx, device, CL_QUEUE_PROFILING_ENABLE, status);
#endif
}
*/
import "C"

import (
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unsafe"
)

// statusError lives in this file because cgo resolves C.<name> against the
// preamble of the referencing file, and clvisc_cl_error_string is defined
// in this file's preamble only.
func statusError(prefix string, status C.cl_int) error {
	return fmt.Errorf("%s: %s (%d)", prefix, C.GoString(C.clvisc_cl_error_string(status)), int(status))
}

type bufferRec struct {
	mem   C.cl_mem
	bytes int
}

type clRuntime struct {
	platformID C.cl_platform_id
	deviceID   C.cl_device_id
	context    C.cl_context
	queue      C.cl_command_queue
	device     DeviceInfo

	programs map[string]C.cl_program
	kernels  map[string]C.cl_kernel
	buffers  map[string]bufferRec
}

// NewRuntime selects the device matching devType and id, creates a context
// and a command queue with profiling enabled.
func NewRuntime(devType DeviceType, id int) (Runtime, error) {
	records, err := enumeratePlatformRecords()
	if err != nil {
		return nil, err
	}

	infos := make([]PlatformInfo, len(records))
	for i, rec := range records {
		infos[i] = rec.info
	}

	path, device, err := SelectDevice(infos, devType, id)
	if err != nil {
		logInventory(infos)
		return nil, err
	}

	platform := records[path.Platform]
	devID := platform.devices[path.Device].id

	var status C.cl_int
	context := C.clCreateContext(nil, 1, &devID, nil, nil, &status)
	if status != C.CL_SUCCESS {
		return nil, statusError("clCreateContext", status)
	}

	queue := C.clvisc_create_queue(context, devID, &status)
	if status != C.CL_SUCCESS {
		C.clReleaseContext(context)
		return nil, statusError("clCreateCommandQueue", status)
	}

	slog.Info("OpenCL runtime initialised",
		"platform", platform.info.Name,
		"device", device.Name,
		"type", device.Type,
		"compute_units", device.MaxComputeUnits,
	)

	return &clRuntime{
		platformID: platform.id,
		deviceID:   devID,
		context:    context,
		queue:      queue,
		device:     device,
		programs:   make(map[string]C.cl_program),
		kernels:    make(map[string]C.cl_kernel),
		buffers:    make(map[string]bufferRec),
	}, nil
}

func (r *clRuntime) Device() DeviceInfo { return r.device }

func (r *clRuntime) BuildProgram(name, source string, opt *CompileOption) error {
	src := C.CString(source)
	defer C.free(unsafe.Pointer(src))

	var status C.cl_int
	program := C.clCreateProgramWithSource(r.context, 1, &src, nil, &status)
	if status != C.CL_SUCCESS {
		return statusError("clCreateProgramWithSource", status)
	}

	opts := C.CString(opt.String())
	defer C.free(unsafe.Pointer(opts))

	status = C.clBuildProgram(program, 1, &r.deviceID, opts, nil, nil)
	if status != C.CL_SUCCESS {
		r.dumpBuildLog(name, program)
		C.clReleaseProgram(program)
		return fmt.Errorf("build program %s: %w", name, statusError("clBuildProgram", status))
	}

	if old, ok := r.programs[name]; ok {
		C.clReleaseProgram(old)
	}
	r.programs[name] = program
	return nil
}

func (r *clRuntime) dumpBuildLog(name string, program C.cl_program) {
	var logSize C.size_t
	if status := C.clGetProgramBuildInfo(program, r.deviceID, C.CL_PROGRAM_BUILD_LOG, 0, nil, &logSize); status != C.CL_SUCCESS {
		slog.Error("OpenCL: failed to fetch build log size", "program", name, "status", int(status))
		return
	}
	if logSize == 0 {
		return
	}

	buf := make([]byte, int(logSize))
	if status := C.clGetProgramBuildInfo(program, r.deviceID, C.CL_PROGRAM_BUILD_LOG, logSize, unsafe.Pointer(&buf[0]), nil); status != C.CL_SUCCESS {
		slog.Error("OpenCL: failed to fetch build log", "program", name, "status", int(status))
		return
	}

	slog.Error("OpenCL build log", "program", name, "log", trimNull(buf))
}

func (r *clRuntime) CreateKernel(name, program, entry string) error {
	prog, ok := r.programs[program]
	if !ok {
		return fmt.Errorf("%w: program %q", ErrUnknownName, program)
	}

	cname := C.CString(entry)
	defer C.free(unsafe.Pointer(cname))

	var status C.cl_int
	kernel := C.clCreateKernel(prog, cname, &status)
	if status != C.CL_SUCCESS {
		return fmt.Errorf("create kernel %s: %w", entry, statusError("clCreateKernel", status))
	}

	if old, ok := r.kernels[name]; ok {
		C.clReleaseKernel(old)
	}
	r.kernels[name] = kernel
	return nil
}

func (r *clRuntime) CreateBuffer(name string, bytes int) error {
	var status C.cl_int
	mem := C.clCreateBuffer(r.context, C.CL_MEM_READ_WRITE, C.size_t(bytes), nil, &status)
	if status != C.CL_SUCCESS {
		return fmt.Errorf("create buffer %s (%d bytes): %w", name, bytes, statusError("clCreateBuffer", status))
	}
	r.putBuffer(name, bufferRec{mem: mem, bytes: bytes})
	return nil
}

func (r *clRuntime) CreateBufferFrom(name string, data any, readOnly bool) error {
	ptr, n, err := hostBytes(data)
	if err != nil {
		return fmt.Errorf("buffer %s: %w", name, err)
	}

	flags := C.cl_mem_flags(C.CL_MEM_COPY_HOST_PTR)
	if readOnly {
		flags |= C.CL_MEM_READ_ONLY
	} else {
		flags |= C.CL_MEM_READ_WRITE
	}

	var status C.cl_int
	mem := C.clCreateBuffer(r.context, flags, C.size_t(n), ptr, &status)
	if status != C.CL_SUCCESS {
		return fmt.Errorf("create buffer %s (%d bytes): %w", name, n, statusError("clCreateBuffer", status))
	}
	r.putBuffer(name, bufferRec{mem: mem, bytes: n})
	return nil
}

func (r *clRuntime) putBuffer(name string, rec bufferRec) {
	if old, ok := r.buffers[name]; ok {
		C.clReleaseMemObject(old.mem)
	}
	r.buffers[name] = rec
}

func (r *clRuntime) WriteBuffer(name string, data any) error {
	rec, ok := r.buffers[name]
	if !ok {
		return fmt.Errorf("%w: buffer %q", ErrUnknownName, name)
	}
	ptr, n, err := hostBytes(data)
	if err != nil {
		return fmt.Errorf("buffer %s: %w", name, err)
	}
	if n > rec.bytes {
		return fmt.Errorf("%w: %d host bytes into %d byte buffer %s", ErrBadHostData, n, rec.bytes, name)
	}

	status := C.clEnqueueWriteBuffer(r.queue, rec.mem, C.CL_TRUE, 0, C.size_t(n), ptr, 0, nil, nil)
	if status != C.CL_SUCCESS {
		return fmt.Errorf("write buffer %s: %w", name, statusError("clEnqueueWriteBuffer", status))
	}
	return nil
}

func (r *clRuntime) ReadBuffer(name string, dst any) error {
	rec, ok := r.buffers[name]
	if !ok {
		return fmt.Errorf("%w: buffer %q", ErrUnknownName, name)
	}
	ptr, n, err := hostBytes(dst)
	if err != nil {
		return fmt.Errorf("buffer %s: %w", name, err)
	}
	if n > rec.bytes {
		return fmt.Errorf("%w: %d host bytes from %d byte buffer %s", ErrBadHostData, n, rec.bytes, name)
	}

	status := C.clEnqueueReadBuffer(r.queue, rec.mem, C.CL_TRUE, 0, C.size_t(n), ptr, 0, nil, nil)
	if status != C.CL_SUCCESS {
		return fmt.Errorf("read buffer %s: %w", name, statusError("clEnqueueReadBuffer", status))
	}
	return nil
}

func (r *clRuntime) SetKernelArgs(kernel string, args ...KernelArg) error {
	k, ok := r.kernels[kernel]
	if !ok {
		return fmt.Errorf("%w: kernel %q", ErrUnknownName, kernel)
	}

	for i, arg := range args {
		var status C.cl_int
		switch {
		case arg.buffer != "":
			rec, ok := r.buffers[arg.buffer]
			if !ok {
				return fmt.Errorf("%w: buffer %q (kernel %s arg %d)", ErrUnknownName, arg.buffer, kernel, i)
			}
			status = C.clSetKernelArg(k, C.cl_uint(i), C.size_t(unsafe.Sizeof(rec.mem)), unsafe.Pointer(&rec.mem))
		default:
			switch v := arg.value.(type) {
			case int32:
				cv := C.cl_int(v)
				status = C.clSetKernelArg(k, C.cl_uint(i), C.size_t(unsafe.Sizeof(cv)), unsafe.Pointer(&cv))
			case float32:
				cv := C.cl_float(v)
				status = C.clSetKernelArg(k, C.cl_uint(i), C.size_t(unsafe.Sizeof(cv)), unsafe.Pointer(&cv))
			case float64:
				cv := C.cl_double(v)
				status = C.clSetKernelArg(k, C.cl_uint(i), C.size_t(unsafe.Sizeof(cv)), unsafe.Pointer(&cv))
			default:
				return fmt.Errorf("%w: kernel %s arg %d (%T)", ErrBadHostData, kernel, i, arg.value)
			}
		}
		if status != C.CL_SUCCESS {
			return fmt.Errorf("kernel %s arg %d: %w", kernel, i, statusError("clSetKernelArg", status))
		}
	}
	return nil
}

func (r *clRuntime) EnqueueKernel(kernel string, global, local []int) (Event, error) {
	k, ok := r.kernels[kernel]
	if !ok {
		return nil, fmt.Errorf("%w: kernel %q", ErrUnknownName, kernel)
	}
	if len(global) == 0 || len(global) > 3 {
		return nil, fmt.Errorf("%w: kernel %s work dimension %d", ErrBadHostData, kernel, len(global))
	}
	if local != nil && len(local) != len(global) {
		return nil, fmt.Errorf("%w: kernel %s local size rank %d vs global rank %d", ErrBadHostData, kernel, len(local), len(global))
	}

	gsize := make([]C.size_t, len(global))
	for i, g := range global {
		gsize[i] = C.size_t(g)
	}

	var lptr *C.size_t
	if local != nil {
		lsize := make([]C.size_t, len(local))
		for i, l := range local {
			lsize[i] = C.size_t(l)
		}
		lptr = &lsize[0]
	}

	var ev C.cl_event
	status := C.clEnqueueNDRangeKernel(r.queue, k, C.cl_uint(len(global)), nil, &gsize[0], lptr, 0, nil, &ev)
	if status != C.CL_SUCCESS {
		return nil, fmt.Errorf("enqueue kernel %s: %w", kernel, statusError("clEnqueueNDRangeKernel", status))
	}
	return &clEvent{ev: ev}, nil
}

func (r *clRuntime) Finish() error {
	if status := C.clFinish(r.queue); status != C.CL_SUCCESS {
		return statusError("clFinish", status)
	}
	return nil
}

func (r *clRuntime) Release() {
	if r == nil {
		return
	}
	for _, k := range r.kernels {
		C.clReleaseKernel(k)
	}
	r.kernels = map[string]C.cl_kernel{}
	for _, p := range r.programs {
		C.clReleaseProgram(p)
	}
	r.programs = map[string]C.cl_program{}
	for _, b := range r.buffers {
		C.clReleaseMemObject(b.mem)
	}
	r.buffers = map[string]bufferRec{}
	if r.queue != nil {
		C.clReleaseCommandQueue(r.queue)
		r.queue = nil
	}
	if r.context != nil {
		C.clReleaseContext(r.context)
		r.context = nil
	}
}

// clEvent caches the profiling delta after the first successful read so the
// underlying event can be released eagerly.
type clEvent struct {
	ev       C.cl_event
	duration time.Duration
	resolved bool
}

func (e *clEvent) Duration() (time.Duration, error) {
	if e.resolved {
		return e.duration, nil
	}
	if e.ev == nil {
		return 0, errors.New("event already released")
	}

	if status := C.clWaitForEvents(1, &e.ev); status != C.CL_SUCCESS {
		return 0, statusError("clWaitForEvents", status)
	}

	var start, end C.cl_ulong
	status := C.clGetEventProfilingInfo(e.ev, C.CL_PROFILING_COMMAND_START, C.size_t(unsafe.Sizeof(start)), unsafe.Pointer(&start), nil)
	if status != C.CL_SUCCESS {
		return 0, statusError("clGetEventProfilingInfo(start)", status)
	}
	status = C.clGetEventProfilingInfo(e.ev, C.CL_PROFILING_COMMAND_END, C.size_t(unsafe.Sizeof(end)), unsafe.Pointer(&end), nil)
	if status != C.CL_SUCCESS {
		return 0, statusError("clGetEventProfilingInfo(end)", status)
	}

	C.clReleaseEvent(e.ev)
	e.ev = nil
	e.duration = time.Duration(uint64(end) - uint64(start))
	e.resolved = true
	return e.duration, nil
}

func hostBytes(data any) (unsafe.Pointer, int, error) {
	switch v := data.(type) {
	case []float32:
		if len(v) == 0 {
			return nil, 0, fmt.Errorf("%w: empty slice", ErrBadHostData)
		}
		return unsafe.Pointer(&v[0]), len(v) * 4, nil
	case []float64:
		if len(v) == 0 {
			return nil, 0, fmt.Errorf("%w: empty slice", ErrBadHostData)
		}
		return unsafe.Pointer(&v[0]), len(v) * 8, nil
	case []int32:
		if len(v) == 0 {
			return nil, 0, fmt.Errorf("%w: empty slice", ErrBadHostData)
		}
		return unsafe.Pointer(&v[0]), len(v) * 4, nil
	default:
		return nil, 0, fmt.Errorf("%w: %T", ErrBadHostData, data)
	}
}

func logInventory(platforms []PlatformInfo) {
	for pi, p := range platforms {
		for di, d := range p.Devices {
			slog.Info("OpenCL device",
				"platform", pi,
				"platform_name", p.Name,
				"device", di,
				"name", d.Name,
				"type", d.Type,
				"compute_units", d.MaxComputeUnits,
			)
		}
	}
}
