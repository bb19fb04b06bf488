package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lgpang/clvisc/internal/config"
	"github.com/lgpang/clvisc/internal/hydro"
	"github.com/lgpang/clvisc/internal/store"
)

// runEvolution executes one evolution run in the background: it opens
// the device, uploads the initial conditions, advances the fields and
// reports progress through the run manager, the trace file and the
// snapshot store.
func runEvolution(ctx context.Context, rm *RunManager, st store.Store, factory RuntimeFactory, cfg *config.Config, runID string) error {
	if err := rm.UpdateRun(runID, func(r *Run) { r.State = StateRunning }); err != nil {
		return err
	}

	slog.Info("Starting run", "run_id", runID,
		"grid", fmt.Sprintf("%dx%dx%d", cfg.Grid.NX, cfg.Grid.NY, cfg.Grid.NZ),
		"ic", cfg.IC.Type,
	)

	rt, err := factory(cfg)
	if err != nil {
		markRunFailed(rm, runID, fmt.Errorf("open device: %w", err))
		return err
	}

	ideal, err := hydro.NewIdeal(cfg, rt)
	if err != nil {
		rt.Release()
		markRunFailed(rm, runID, fmt.Errorf("build kernels: %w", err))
		return err
	}
	defer ideal.Close()

	ev, err := hydro.InitialConditions(cfg)
	if err != nil {
		markRunFailed(rm, runID, err)
		return err
	}
	if err := ideal.LoadInitialConditions(ev); err != nil {
		markRunFailed(rm, runID, fmt.Errorf("load initial conditions: %w", err))
		return err
	}

	trace, err := st.OpenTrace(runID, false)
	if err != nil {
		markRunFailed(rm, runID, err)
		return err
	}
	defer trace.Close()

	runCfg := runConfigOf(cfg)
	start := time.Now()

	evolveErr := ideal.Evolve(ctx, func(p hydro.Progress) {
		rm.UpdateRun(runID, func(r *Run) {
			r.Tau = p.Tau
			r.Step = p.Step
			r.MaxEd = p.MaxEd
		})

		rm.broadcaster.Broadcast(ProgressEvent{
			RunID:       runID,
			State:       StateRunning,
			Step:        p.Step,
			Tau:         p.Tau,
			MaxEd:       p.MaxEd,
			StepsPerSec: p.StepsPerSec,
			Timestamp:   time.Now(),
		})

		if err := trace.Write(store.TraceEntry{
			Step:         p.Step,
			Tau:          p.Tau,
			MaxEd:        p.MaxEd,
			KernelMillis: float64(p.KernelTime.Milliseconds()),
			Timestamp:    time.Now(),
		}); err != nil {
			slog.Warn("Failed to write trace entry", "run_id", runID, "error", err)
		}

		if err := saveRunSnapshot(st, ideal, runID, runCfg); err != nil {
			slog.Warn("Failed to save snapshot", "run_id", runID, "error", err)
		}
	})

	if err := trace.Flush(); err != nil {
		slog.Warn("Failed to flush trace", "run_id", runID, "error", err)
	}

	if evolveErr != nil {
		if errors.Is(evolveErr, context.Canceled) {
			markRunCancelled(rm, runID)
		} else {
			markRunFailed(rm, runID, evolveErr)
		}
		return evolveErr
	}

	if err := saveRunSnapshot(st, ideal, runID, runCfg); err != nil {
		slog.Warn("Failed to save final snapshot", "run_id", runID, "error", err)
	}

	elapsed := time.Since(start)
	endTime := time.Now()
	maxEd := 0.0
	if history := ideal.History(); len(history) > 0 {
		maxEd = history[len(history)-1].MaxEd
	}
	rm.UpdateRun(runID, func(r *Run) {
		r.State = StateCompleted
		r.Tau = ideal.Tau()
		r.Step = ideal.Step()
		r.MaxEd = maxEd
		r.EndTime = &endTime
	})

	sps := 0.0
	if elapsed.Seconds() > 0 {
		sps = float64(ideal.Step()) / elapsed.Seconds()
	}

	slog.Info("Run completed",
		"run_id", runID,
		"tau", ideal.Tau(),
		"steps", ideal.Step(),
		"elapsed", elapsed,
		"kernel_time", ideal.KernelTime(),
		"steps_per_second", sps,
	)

	rm.broadcaster.Broadcast(ProgressEvent{
		RunID:       runID,
		State:       StateCompleted,
		Step:        ideal.Step(),
		Tau:         ideal.Tau(),
		MaxEd:       maxEd,
		StepsPerSec: sps,
		Timestamp:   time.Now(),
	})

	return nil
}

func saveRunSnapshot(st store.Store, ideal *hydro.Ideal, runID string, cfg store.RunConfig) error {
	history := ideal.History()
	points := make([]store.HistoryPoint, len(history))
	maxEd := 0.0
	for i, s := range history {
		points[i] = store.HistoryPoint{Tau: s.Tau, MaxEd: s.MaxEd}
		maxEd = s.MaxEd
	}

	snapshot := store.NewSnapshot(
		runID,
		ideal.Tau(),
		ideal.Step(),
		maxEd,
		points,
		ideal.KernelTime().Seconds(),
		cfg,
	)
	return st.SaveSnapshot(snapshot)
}

func markRunFailed(rm *RunManager, runID string, err error) {
	endTime := time.Now()
	rm.UpdateRun(runID, func(r *Run) {
		r.State = StateFailed
		r.Error = err.Error()
		r.EndTime = &endTime
	})
	rm.broadcaster.Broadcast(ProgressEvent{
		RunID:     runID,
		State:     StateFailed,
		Timestamp: time.Now(),
	})
	slog.Error("Run failed", "run_id", runID, "error", err)
}

func markRunCancelled(rm *RunManager, runID string) {
	endTime := time.Now()
	rm.UpdateRun(runID, func(r *Run) {
		r.State = StateCancelled
		r.EndTime = &endTime
	})
	rm.broadcaster.Broadcast(ProgressEvent{
		RunID:     runID,
		State:     StateCancelled,
		Timestamp: time.Now(),
	})
	slog.Info("Run cancelled", "run_id", runID)
}
