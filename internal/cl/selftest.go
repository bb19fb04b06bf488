package cl

import (
	_ "embed"
	"fmt"
	"math"
)

//go:embed kernels/selftest.cl
var selfTestSource string

const selfTestN = 64

// SelfTest builds the embedded square kernel on the runtime, pushes a small
// input through it and verifies the result. It exercises the full
// build/upload/dispatch/download path without any framework kernels.
func SelfTest(rt Runtime) error {
	opt := NewCompileOption(true, true)
	opt.SetIntConst("SELF_TEST", 1)

	if err := rt.BuildProgram("selftest", selfTestSource, opt); err != nil {
		return fmt.Errorf("self-test build: %w", err)
	}
	if err := rt.CreateKernel("selftest_square", "selftest", "square"); err != nil {
		return fmt.Errorf("self-test kernel: %w", err)
	}

	in := make([]float32, selfTestN)
	for i := range in {
		in[i] = float32(i) * 0.5
	}

	if err := rt.CreateBufferFrom("selftest_in", in, true); err != nil {
		return fmt.Errorf("self-test input: %w", err)
	}
	if err := rt.CreateBuffer("selftest_out", selfTestN*4); err != nil {
		return fmt.Errorf("self-test output: %w", err)
	}

	err := rt.SetKernelArgs("selftest_square",
		BufferArg("selftest_in"),
		BufferArg("selftest_out"),
		Int32Arg(selfTestN),
	)
	if err != nil {
		return fmt.Errorf("self-test args: %w", err)
	}

	if _, err := rt.EnqueueKernel("selftest_square", []int{selfTestN}, nil); err != nil {
		return fmt.Errorf("self-test launch: %w", err)
	}
	if err := rt.Finish(); err != nil {
		return fmt.Errorf("self-test finish: %w", err)
	}

	out := make([]float32, selfTestN)
	if err := rt.ReadBuffer("selftest_out", out); err != nil {
		return fmt.Errorf("self-test readback: %w", err)
	}

	for i, got := range out {
		want := in[i] * in[i]
		if math.Abs(float64(got-want)) > 1e-4 {
			return fmt.Errorf("self-test mismatch at %d: got %g, want %g", i, got, want)
		}
	}
	return nil
}
