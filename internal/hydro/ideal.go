package hydro

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/lgpang/clvisc/internal/cl"
	"github.com/lgpang/clvisc/internal/config"
)

// Program, kernel and buffer names registered with the runtime. The kernel
// sources (kt_src.cl, ideal.cl) ship with the simulation framework and are
// loaded from the configured kernel directory.
const (
	progKTSrc = "kt_src"
	progIdeal = "ideal"

	kernSrcChristoffel = "kt_src_christoffel"
	kernSrcAlongX      = "kt_src_alongx"
	kernSrcAlongY      = "kt_src_alongy"
	kernSrcAlongZ      = "kt_src_alongz"
	kernUpdateEv       = "update_ev"
	kernReduceMaxEd    = "reduction_stage1"

	bufSrc    = "d_src"
	bufSubMax = "d_submax"
)

// reduceGroupSize is the work-group size the reduction kernel is written
// for; d_submax holds one partial maximum per group.
const reduceGroupSize = 256

// evComponents is the number of fields per cell: energy density and the
// three velocity components.
const evComponents = 4

// Sample is one point of the maximum energy density history.
type Sample struct {
	Tau   float64 `json:"tau"`
	MaxEd float64 `json:"max_ed"`
}

// Progress is handed to the Evolve callback every ntskip steps.
type Progress struct {
	Step        int
	Tau         float64
	MaxEd       float64
	KernelTime  time.Duration
	StepsPerSec float64
}

// Ideal drives the ideal-hydrodynamics kernel sequence on one device: it
// configures the compile options, builds the framework kernels, owns the
// field buffers and advances the fields in proper time with a two-stage
// Runge-Kutta step.
type Ideal struct {
	cfg *config.Config
	rt  cl.Runtime
	opt *cl.CompileOption

	size      int
	single    bool
	numGroups int

	// Ping-pong buffer names: evCur holds the current fields, evPred the
	// predictor stage output, evNew the corrector output. Rotated after
	// each step so no device copies are needed.
	evCur, evPred, evNew string

	tau    float64
	step   int
	loaded bool

	pending    []cl.Event
	kernelTime time.Duration

	history  []Sample
	freeze   *FreezeoutTracker
	submax   []float64
	submax32 []float32
}

// NewIdeal builds the kernel programs against the configured device and
// allocates the field buffers. The runtime is owned by the caller until
// Close is called.
func NewIdeal(cfg *config.Config, rt cl.Runtime) (*Ideal, error) {
	size := cfg.Grid.Size()
	numGroups := (size + reduceGroupSize - 1) / reduceGroupSize

	i := &Ideal{
		cfg:       cfg,
		rt:        rt,
		size:      size,
		single:    cfg.OpenCL.SinglePrecision,
		numGroups: numGroups,
		evCur:     "d_ev0",
		evPred:    "d_ev1",
		evNew:     "d_ev2",
		tau:       cfg.Time.Tau0,
		freeze:    NewFreezeoutTracker(cfg.EOS.EdFreeze, defaultFreezePatience),
		submax:    make([]float64, numGroups),
		submax32:  make([]float32, numGroups),
	}

	i.opt = i.compileOptions()
	if err := i.buildKernels(); err != nil {
		return nil, err
	}
	if err := i.createBuffers(); err != nil {
		return nil, err
	}
	return i, nil
}

// compileOptions bakes the grid geometry, time stepping and EOS choice
// into kernel macros, the way the framework kernels expect them.
func (i *Ideal) compileOptions() *cl.CompileOption {
	cfg := i.cfg
	opt := cl.NewCompileOption(cfg.OpenCL.SinglePrecision, cfg.OpenCL.Optimize)
	opt.SetIntConst("NX", cfg.Grid.NX)
	opt.SetIntConst("NY", cfg.Grid.NY)
	opt.SetIntConst("NZ", cfg.Grid.NZ)
	i.realConst(opt, "DT", cfg.Time.Dt)
	i.realConst(opt, "DX", cfg.Grid.DX)
	i.realConst(opt, "DY", cfg.Grid.DY)
	i.realConst(opt, "DETA", cfg.Grid.DEta)
	i.realConst(opt, "TAU0", cfg.Time.Tau0)
	opt.Define("EOS_IDEAL_GAS")
	opt.SetIntConst("REDUCTION_GROUP_SIZE", reduceGroupSize)

	if abs, err := filepath.Abs(cfg.OpenCL.KernelDir); err == nil {
		opt.IncludePath(abs)
	} else {
		opt.IncludePath(cfg.OpenCL.KernelDir)
	}
	return opt
}

func (i *Ideal) realConst(opt *cl.CompileOption, name string, v float64) {
	if i.single {
		opt.SetFloatConst(name, float32(v))
	} else {
		opt.SetDoubleConst(name, v)
	}
}

func (i *Ideal) buildKernels() error {
	dir := i.cfg.OpenCL.KernelDir

	if err := cl.BuildProgramFile(i.rt, progKTSrc, filepath.Join(dir, "kt_src.cl"), i.opt); err != nil {
		return err
	}
	if err := cl.BuildProgramFile(i.rt, progIdeal, filepath.Join(dir, "ideal.cl"), i.opt); err != nil {
		return err
	}

	kernels := []struct{ name, program, entry string }{
		{kernSrcChristoffel, progKTSrc, "kt_src_christoffel"},
		{kernSrcAlongX, progKTSrc, "kt_src_alongx"},
		{kernSrcAlongY, progKTSrc, "kt_src_alongy"},
		{kernSrcAlongZ, progKTSrc, "kt_src_alongz"},
		{kernUpdateEv, progIdeal, "update_ev"},
		{kernReduceMaxEd, progIdeal, "reduction_stage1"},
	}
	for _, k := range kernels {
		if err := i.rt.CreateKernel(k.name, k.program, k.entry); err != nil {
			return err
		}
	}
	return nil
}

func (i *Ideal) realBytes() int {
	if i.single {
		return 4
	}
	return 8
}

func (i *Ideal) createBuffers() error {
	fieldBytes := evComponents * i.size * i.realBytes()

	for _, name := range []string{i.evCur, i.evPred, i.evNew, bufSrc} {
		if err := i.rt.CreateBuffer(name, fieldBytes); err != nil {
			return err
		}
	}
	return i.rt.CreateBuffer(bufSubMax, i.numGroups*i.realBytes())
}

// LoadInitialConditions uploads the interleaved (ed, vx, vy, veta) fields,
// one quadruple per cell, into the current-state buffer.
func (i *Ideal) LoadInitialConditions(ev []float64) error {
	if len(ev) != evComponents*i.size {
		return fmt.Errorf("initial conditions: got %d values, want %d (4 per cell)", len(ev), evComponents*i.size)
	}

	if i.single {
		host := make([]float32, len(ev))
		for j, v := range ev {
			host[j] = float32(v)
		}
		if err := i.rt.WriteBuffer(i.evCur, host); err != nil {
			return err
		}
	} else {
		if err := i.rt.WriteBuffer(i.evCur, ev); err != nil {
			return err
		}
	}

	i.loaded = true
	i.tau = i.cfg.Time.Tau0
	i.step = 0
	i.history = i.history[:0]
	i.freeze.Reset()
	return nil
}

// StepRK2 advances the fields by one time step: a predictor stage from the
// current fields, then a corrector stage from the predictor output, with
// the source terms rebuilt before each update.
func (i *Ideal) StepRK2() error {
	if !i.loaded {
		return fmt.Errorf("initial conditions not loaded")
	}

	// Predictor at tau.
	if err := i.sourceTerms(i.evCur, i.tau); err != nil {
		return err
	}
	if err := i.updateEv(i.evPred, i.evCur, i.evCur, i.tau, 0); err != nil {
		return err
	}

	// Corrector with sources from the predicted fields at tau+dt.
	dt := i.cfg.Time.Dt
	if err := i.sourceTerms(i.evPred, i.tau+dt); err != nil {
		return err
	}
	if err := i.updateEv(i.evNew, i.evCur, i.evPred, i.tau, 1); err != nil {
		return err
	}

	i.evCur, i.evPred, i.evNew = i.evNew, i.evCur, i.evPred
	i.tau += dt
	i.step++
	return nil
}

// sourceTerms rebuilds d_src from the fields in evName: the Christoffel
// geometric terms first (which reset the buffer), then the KT flux terms
// along each axis.
func (i *Ideal) sourceTerms(evName string, tau float64) error {
	for _, kern := range []string{kernSrcChristoffel, kernSrcAlongX, kernSrcAlongY, kernSrcAlongZ} {
		err := i.rt.SetKernelArgs(kern,
			cl.BufferArg(bufSrc),
			cl.BufferArg(evName),
			cl.RealArg(tau, i.single),
		)
		if err != nil {
			return err
		}
		if err := i.launch(kern, []int{i.size}, nil); err != nil {
			return err
		}
	}
	return nil
}

func (i *Ideal) updateEv(dst, evOld, evStage string, tau float64, rkStep int) error {
	err := i.rt.SetKernelArgs(kernUpdateEv,
		cl.BufferArg(dst),
		cl.BufferArg(evOld),
		cl.BufferArg(evStage),
		cl.BufferArg(bufSrc),
		cl.RealArg(tau, i.single),
		cl.Int32Arg(int32(rkStep)),
	)
	if err != nil {
		return err
	}
	return i.launch(kernUpdateEv, []int{i.size}, nil)
}

func (i *Ideal) launch(kernel string, global, local []int) error {
	ev, err := i.rt.EnqueueKernel(kernel, global, local)
	if err != nil {
		return err
	}
	i.pending = append(i.pending, ev)
	return nil
}

// drainProfiling resolves the profiling counters of every launch since the
// last drain and folds them into the kernel time total. Called after a
// queue sync so the waits are cheap.
func (i *Ideal) drainProfiling() {
	for _, ev := range i.pending {
		d, err := ev.Duration()
		if err != nil {
			slog.Debug("Profiling counters unavailable", "error", err)
			continue
		}
		i.kernelTime += d
	}
	i.pending = i.pending[:0]
}

// MaxEnergyDensity reduces the energy density field on the device and
// finishes the reduction on the host over the per-group partials.
func (i *Ideal) MaxEnergyDensity() (float64, error) {
	err := i.rt.SetKernelArgs(kernReduceMaxEd,
		cl.BufferArg(bufSubMax),
		cl.BufferArg(i.evCur),
		cl.Int32Arg(int32(i.size)),
	)
	if err != nil {
		return 0, err
	}
	if err := i.launch(kernReduceMaxEd, []int{i.numGroups * reduceGroupSize}, []int{reduceGroupSize}); err != nil {
		return 0, err
	}
	if err := i.rt.Finish(); err != nil {
		return 0, err
	}

	if i.single {
		if err := i.rt.ReadBuffer(bufSubMax, i.submax32); err != nil {
			return 0, err
		}
		for j, v := range i.submax32 {
			i.submax[j] = float64(v)
		}
	} else {
		if err := i.rt.ReadBuffer(bufSubMax, i.submax); err != nil {
			return 0, err
		}
	}

	maxEd := i.submax[0]
	for _, v := range i.submax[1:] {
		if v > maxEd {
			maxEd = v
		}
	}
	return maxEd, nil
}

// Evolve steps the fields until taumax, the freeze-out criterion or
// context cancellation. Every ntskip steps the maximum energy density is
// sampled, recorded and reported through progressFn (which may be nil).
func (i *Ideal) Evolve(ctx context.Context, progressFn func(Progress)) error {
	cfg := i.cfg
	start := time.Now()

	slog.Info("Starting evolution",
		"tau0", cfg.Time.Tau0,
		"taumax", cfg.Time.TauMax,
		"dt", cfg.Time.Dt,
		"grid", fmt.Sprintf("%dx%dx%d", cfg.Grid.NX, cfg.Grid.NY, cfg.Grid.NZ),
		"device", i.rt.Device().Name,
	)

	for i.tau < cfg.Time.TauMax {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := i.StepRK2(); err != nil {
			return fmt.Errorf("step %d (tau=%.3f): %w", i.step, i.tau, err)
		}

		if i.step%cfg.Time.NtSkip != 0 {
			continue
		}

		maxEd, err := i.MaxEnergyDensity()
		if err != nil {
			return fmt.Errorf("max energy density at tau=%.3f: %w", i.tau, err)
		}
		i.drainProfiling()
		i.history = append(i.history, Sample{Tau: i.tau, MaxEd: maxEd})

		elapsed := time.Since(start).Seconds()
		sps := 0.0
		if elapsed > 0 {
			sps = float64(i.step) / elapsed
		}

		slog.Debug("Evolution progress",
			"step", i.step,
			"tau", i.tau,
			"max_ed", maxEd,
			"steps_per_second", sps,
		)

		if progressFn != nil {
			progressFn(Progress{
				Step:        i.step,
				Tau:         i.tau,
				MaxEd:       maxEd,
				KernelTime:  i.kernelTime,
				StepsPerSec: sps,
			})
		}

		if i.freeze.Update(maxEd) {
			slog.Info("Freeze-out reached, stopping evolution",
				"tau", i.tau,
				"max_ed", maxEd,
				"ed_freeze", cfg.EOS.EdFreeze,
			)
			return nil
		}
	}

	slog.Info("Evolution complete", "tau", i.tau, "steps", i.step, "kernel_time", i.kernelTime)
	return nil
}

// Tau returns the current proper time.
func (i *Ideal) Tau() float64 { return i.tau }

// Step returns the number of completed time steps.
func (i *Ideal) Step() int { return i.step }

// KernelTime returns the accumulated device execution time.
func (i *Ideal) KernelTime() time.Duration { return i.kernelTime }

// History returns a copy of the recorded maximum energy density samples.
func (i *Ideal) History() []Sample {
	return append([]Sample(nil), i.history...)
}

// CurrentFields reads the interleaved fields back from the device.
func (i *Ideal) CurrentFields() ([]float64, error) {
	if i.single {
		host := make([]float32, evComponents*i.size)
		if err := i.rt.ReadBuffer(i.evCur, host); err != nil {
			return nil, err
		}
		out := make([]float64, len(host))
		for j, v := range host {
			out[j] = float64(v)
		}
		return out, nil
	}
	out := make([]float64, evComponents*i.size)
	if err := i.rt.ReadBuffer(i.evCur, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Close releases the device resources.
func (i *Ideal) Close() {
	i.rt.Release()
}
