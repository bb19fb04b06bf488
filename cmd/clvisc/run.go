package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/lgpang/clvisc/internal/cl"
	"github.com/lgpang/clvisc/internal/hydro"
	"github.com/lgpang/clvisc/internal/store"
)

var (
	runDeviceType string
	runDeviceID   int
	runTauMax     float64
	runICType     string
	runDataDir    string
	runID         string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one hydrodynamic evolution on a device",
	Long: `Evolves the configured initial condition until taumax or freeze-out,
writing a snapshot and an evolution trace into the data directory.`,
	RunE: runEvolution,
}

func init() {
	runCmd.Flags().StringVar(&runDeviceType, "device", "", "Device type override (cpu, gpu)")
	runCmd.Flags().IntVar(&runDeviceID, "device-id", -1, "Device index override")
	runCmd.Flags().Float64Var(&runTauMax, "taumax", 0, "Evolve until this proper time (overrides config)")
	runCmd.Flags().StringVar(&runICType, "ic", "", "Initial condition override (gaussian, bjorken)")
	runCmd.Flags().StringVar(&runDataDir, "data-dir", "", "Output directory override")
	runCmd.Flags().StringVar(&runID, "run-id", "", "Run identifier (generated when empty)")
	rootCmd.AddCommand(runCmd)
}

func runEvolution(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runDeviceType != "" {
		cfg.Device.Type = runDeviceType
	}
	if runDeviceID >= 0 {
		cfg.Device.ID = runDeviceID
	}
	if runTauMax > 0 {
		cfg.Time.TauMax = runTauMax
	}
	if runICType != "" {
		cfg.IC.Type = runICType
	}
	if runDataDir != "" {
		cfg.Output.Dir = runDataDir
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	id := runID
	if id == "" {
		id = uuid.New().String()
	}

	rt, err := cl.NewRuntime(cl.ParseDeviceType(cfg.Device.Type), cfg.Device.ID)
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}

	ideal, err := hydro.NewIdeal(cfg, rt)
	if err != nil {
		rt.Release()
		return fmt.Errorf("build kernels: %w", err)
	}
	defer ideal.Close()

	slog.Info("Device ready", "device", rt.Device().String())

	ev, err := hydro.InitialConditions(cfg)
	if err != nil {
		return err
	}
	if err := ideal.LoadInitialConditions(ev); err != nil {
		return fmt.Errorf("load initial conditions: %w", err)
	}

	st, err := store.NewFSStore(cfg.Output.Dir)
	if err != nil {
		return err
	}
	trace, err := st.OpenTrace(id, false)
	if err != nil {
		return err
	}
	defer trace.Close()

	start := time.Now()
	evolveErr := ideal.Evolve(cmd.Context(), func(p hydro.Progress) {
		if err := trace.Write(store.TraceEntry{
			Step:         p.Step,
			Tau:          p.Tau,
			MaxEd:        p.MaxEd,
			KernelMillis: float64(p.KernelTime.Milliseconds()),
			Timestamp:    time.Now(),
		}); err != nil {
			slog.Warn("Failed to write trace entry", "error", err)
		}
	})
	if evolveErr != nil {
		return evolveErr
	}
	elapsed := time.Since(start)

	history := ideal.History()
	points := make([]store.HistoryPoint, len(history))
	maxEd := 0.0
	for i, s := range history {
		points[i] = store.HistoryPoint{Tau: s.Tau, MaxEd: s.MaxEd}
		maxEd = s.MaxEd
	}
	snapshot := store.NewSnapshot(id, ideal.Tau(), ideal.Step(), maxEd, points,
		ideal.KernelTime().Seconds(), store.RunConfig{
			NX: cfg.Grid.NX, NY: cfg.Grid.NY, NZ: cfg.Grid.NZ,
			Tau0: cfg.Time.Tau0, Dt: cfg.Time.Dt, TauMax: cfg.Time.TauMax,
			ICType:          cfg.IC.Type,
			SinglePrecision: cfg.OpenCL.SinglePrecision,
		})
	if err := st.SaveSnapshot(snapshot); err != nil {
		return err
	}

	sps := 0.0
	if elapsed.Seconds() > 0 {
		sps = float64(ideal.Step()) / elapsed.Seconds()
	}

	fmt.Printf("Run %s: %d steps to tau=%.3f in %s (%.1f steps/sec, kernel %s)\n",
		id, ideal.Step(), ideal.Tau(), elapsed.Round(time.Millisecond), sps,
		ideal.KernelTime().Round(time.Microsecond))
	return nil
}
