package cl

import (
	"strconv"
	"strings"
)

// CompileOption accumulates compiler flags and macro definitions for a
// kernel program build. The zero value is an empty option set; use
// NewCompileOption to get the conventional precision/optimization setup.
type CompileOption struct {
	flags []string
}

// NewCompileOption returns options preconfigured for the given precision
// and optimization mode. Disabling optimization appends -cl-opt-disable,
// which helps when a kernel misbehaves under the driver's optimizer.
func NewCompileOption(singlePrecision, optimize bool) *CompileOption {
	o := &CompileOption{}
	if singlePrecision {
		o.Define("USE_SINGLE_PRECISION")
	}
	if !optimize {
		o.flags = append(o.flags, "-cl-opt-disable")
	}
	return o
}

// Define adds a bare -D name macro.
func (o *CompileOption) Define(name string) *CompileOption {
	o.flags = append(o.flags, "-D", name)
	return o
}

// SetIntConst defines name as an integer constant.
func (o *CompileOption) SetIntConst(name string, value int) *CompileOption {
	o.flags = append(o.flags, "-D", name+"="+strconv.Itoa(value))
	return o
}

// SetFloatConst defines name as a single-precision constant. The value is
// written with 12 fixed digits and an "f" suffix so the kernel sees a
// float literal, not a double.
func (o *CompileOption) SetFloatConst(name string, value float32) *CompileOption {
	o.flags = append(o.flags, "-D", name+"="+strconv.FormatFloat(float64(value), 'f', 12, 32)+"f")
	return o
}

// SetDoubleConst defines name as a double-precision constant.
func (o *CompileOption) SetDoubleConst(name string, value float64) *CompileOption {
	o.flags = append(o.flags, "-D", name+"="+strconv.FormatFloat(value, 'g', -1, 64))
	return o
}

// IncludePath adds a -I search path for kernel #include directives.
// The path should be absolute; the driver resolves relative paths against
// its own working directory, not the host program's.
func (o *CompileOption) IncludePath(absPath string) *CompileOption {
	o.flags = append(o.flags, "-I", absPath)
	return o
}

// String assembles the accumulated flags into the option string passed to
// the program build.
func (o *CompileOption) String() string {
	if o == nil {
		return ""
	}
	return strings.Join(o.flags, " ")
}
