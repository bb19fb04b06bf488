package cl

import (
	"errors"
	"testing"
)

func TestMockBufferRoundTrip(t *testing.T) {
	m := NewMockRuntime()

	if err := m.CreateBuffer("ev", 4*8); err != nil {
		t.Fatalf("CreateBuffer failed: %v", err)
	}

	src := []float64{1.0, -2.5, 3.25, 0}
	if err := m.WriteBuffer("ev", src); err != nil {
		t.Fatalf("WriteBuffer failed: %v", err)
	}

	dst := make([]float64, 4)
	if err := m.ReadBuffer("ev", dst); err != nil {
		t.Fatalf("ReadBuffer failed: %v", err)
	}

	for i := range src {
		if dst[i] != src[i] {
			t.Errorf("Round trip mismatch at %d: got %g, want %g", i, dst[i], src[i])
		}
	}
}

func TestMockBufferFromHostData(t *testing.T) {
	m := NewMockRuntime()

	if err := m.CreateBufferFrom("ic", []float32{1, 2, 3}, true); err != nil {
		t.Fatalf("CreateBufferFrom failed: %v", err)
	}

	got := make([]float32, 3)
	if err := m.ReadBuffer("ic", got); err != nil {
		t.Fatalf("ReadBuffer failed: %v", err)
	}
	if got[2] != 3 {
		t.Errorf("Expected 3, got %g", got[2])
	}
}

func TestMockUnknownNames(t *testing.T) {
	m := NewMockRuntime()

	if err := m.WriteBuffer("nope", []float64{1}); !errors.Is(err, ErrUnknownName) {
		t.Errorf("Expected ErrUnknownName for buffer, got %v", err)
	}
	if err := m.CreateKernel("k", "missing", "entry"); !errors.Is(err, ErrUnknownName) {
		t.Errorf("Expected ErrUnknownName for program, got %v", err)
	}
	if _, err := m.EnqueueKernel("nope", []int{1}, nil); !errors.Is(err, ErrUnknownName) {
		t.Errorf("Expected ErrUnknownName for kernel, got %v", err)
	}
}

func TestMockRecordsBuildOptions(t *testing.T) {
	m := NewMockRuntime()

	opt := NewCompileOption(true, false)
	opt.SetIntConst("NX", 64)

	if err := m.BuildProgram("ideal", "__kernel void update_ev() {}", opt); err != nil {
		t.Fatalf("BuildProgram failed: %v", err)
	}

	prog, ok := m.Program("ideal")
	if !ok {
		t.Fatal("Program not recorded")
	}
	want := "-D USE_SINGLE_PRECISION -cl-opt-disable -D NX=64"
	if prog.Options != want {
		t.Errorf("Expected options %q, got %q", want, prog.Options)
	}
}

func TestMockRecordsLaunches(t *testing.T) {
	m := NewMockRuntime()

	if err := m.BuildProgram("p", "", nil); err != nil {
		t.Fatalf("BuildProgram failed: %v", err)
	}
	if err := m.CreateKernel("update", "p", "update_ev"); err != nil {
		t.Fatalf("CreateKernel failed: %v", err)
	}
	if err := m.CreateBuffer("d_ev0", 8); err != nil {
		t.Fatalf("CreateBuffer failed: %v", err)
	}
	if err := m.SetKernelArgs("update", BufferArg("d_ev0"), Int32Arg(1)); err != nil {
		t.Fatalf("SetKernelArgs failed: %v", err)
	}
	if _, err := m.EnqueueKernel("update", []int{128}, []int{64}); err != nil {
		t.Fatalf("EnqueueKernel failed: %v", err)
	}

	if len(m.Launches) != 1 {
		t.Fatalf("Expected 1 launch, got %d", len(m.Launches))
	}
	launch := m.Launches[0]
	if launch.Kernel != "update" || launch.Global[0] != 128 || launch.Local[0] != 64 {
		t.Errorf("Launch not recorded correctly: %+v", launch)
	}
	if launch.Args[0].ArgBuffer() != "d_ev0" {
		t.Errorf("Expected d_ev0 as first arg, got %q", launch.Args[0].ArgBuffer())
	}
	if v, ok := launch.Args[1].ArgValue().(int32); !ok || v != 1 {
		t.Errorf("Expected scalar int32(1), got %v", launch.Args[1].ArgValue())
	}
}

func TestMockLaunchHook(t *testing.T) {
	m := NewMockRuntime()

	if err := m.BuildProgram("p", "", nil); err != nil {
		t.Fatalf("BuildProgram failed: %v", err)
	}
	if err := m.CreateKernel("fill", "p", "fill"); err != nil {
		t.Fatalf("CreateKernel failed: %v", err)
	}
	if err := m.CreateBuffer("out", 2*8); err != nil {
		t.Fatalf("CreateBuffer failed: %v", err)
	}

	m.OnLaunch("fill", func(mr *MockRuntime, _ MockLaunch) error {
		return mr.WriteBuffer("out", []float64{7, 7})
	})

	if err := m.SetKernelArgs("fill", BufferArg("out")); err != nil {
		t.Fatalf("SetKernelArgs failed: %v", err)
	}
	if _, err := m.EnqueueKernel("fill", []int{2}, nil); err != nil {
		t.Fatalf("EnqueueKernel failed: %v", err)
	}

	got := make([]float64, 2)
	if err := m.ReadBuffer("out", got); err != nil {
		t.Fatalf("ReadBuffer failed: %v", err)
	}
	if got[0] != 7 || got[1] != 7 {
		t.Errorf("Hook did not run: %v", got)
	}
}

func TestMockFailBuild(t *testing.T) {
	m := NewMockRuntime()
	m.FailBuild = "kt_src"

	if err := m.BuildProgram("kt_src", "", nil); err == nil {
		t.Error("Expected build failure")
	}
	if err := m.BuildProgram("ideal", "", nil); err != nil {
		t.Errorf("Unrelated build should succeed, got %v", err)
	}
}

func TestSelfTestOnMock(t *testing.T) {
	m := NewMockRuntime()

	// Emulate the square kernel on host memory.
	m.OnLaunch("selftest_square", func(mr *MockRuntime, launch MockLaunch) error {
		in := make([]float32, selfTestN)
		if err := mr.ReadBuffer(launch.Args[0].ArgBuffer(), in); err != nil {
			return err
		}
		out := make([]float32, selfTestN)
		for i, v := range in {
			out[i] = v * v
		}
		return mr.WriteBuffer(launch.Args[1].ArgBuffer(), out)
	})

	if err := SelfTest(m); err != nil {
		t.Fatalf("SelfTest failed: %v", err)
	}

	if len(m.Launches) != 1 {
		t.Errorf("Expected a single launch, got %d", len(m.Launches))
	}
}

func TestMockEventDuration(t *testing.T) {
	m := NewMockRuntime()
	if err := m.BuildProgram("p", "", nil); err != nil {
		t.Fatalf("BuildProgram failed: %v", err)
	}
	if err := m.CreateKernel("k", "p", "k"); err != nil {
		t.Fatalf("CreateKernel failed: %v", err)
	}

	ev, err := m.EnqueueKernel("k", []int{1}, nil)
	if err != nil {
		t.Fatalf("EnqueueKernel failed: %v", err)
	}
	d, err := ev.Duration()
	if err != nil {
		t.Fatalf("Duration failed: %v", err)
	}
	if d <= 0 {
		t.Errorf("Expected positive synthetic duration, got %v", d)
	}
}

func TestMockRelease(t *testing.T) {
	m := NewMockRuntime()
	if err := m.CreateBuffer("b", 8); err != nil {
		t.Fatalf("CreateBuffer failed: %v", err)
	}
	m.Release()
	if !m.Released() {
		t.Error("Released flag not set")
	}
	if err := m.WriteBuffer("b", []float64{1}); !errors.Is(err, ErrUnknownName) {
		t.Errorf("Buffers should be gone after Release, got %v", err)
	}
}
