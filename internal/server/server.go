package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/lgpang/clvisc/internal/cl"
	"github.com/lgpang/clvisc/internal/config"
	"github.com/lgpang/clvisc/internal/store"
)

// RuntimeFactory creates the compute runtime for a run. The default
// opens the configured OpenCL device; tests inject mock runtimes.
type RuntimeFactory func(cfg *config.Config) (cl.Runtime, error)

// DefaultRuntimeFactory opens the device named in the configuration.
func DefaultRuntimeFactory(cfg *config.Config) (cl.Runtime, error) {
	return cl.NewRuntime(cl.ParseDeviceType(cfg.Device.Type), cfg.Device.ID)
}

// Server exposes evolution runs over HTTP: creation, status, history,
// live progress streams and device inventory.
type Server struct {
	addr       string
	baseCfg    *config.Config
	runManager *RunManager
	store      store.Store
	factory    RuntimeFactory
	server     *http.Server
}

// NewServer assembles a server around a base configuration. Per-run
// requests may override grid, time and initial condition settings.
func NewServer(addr string, baseCfg *config.Config, st store.Store, factory RuntimeFactory) *Server {
	if factory == nil {
		factory = DefaultRuntimeFactory
	}
	return &Server{
		addr:       addr,
		baseCfg:    baseCfg,
		runManager: NewRunManager(),
		store:      st,
		factory:    factory,
	}
}

// Handler returns the routed and middleware-wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/api/v1/runs", s.handleRuns)
	mux.HandleFunc("/api/v1/runs/", s.handleRunsWithID)
	mux.HandleFunc("/api/v1/devices", s.handleDevices)
	return s.loggingMiddleware(s.corsMiddleware(mux))
}

// Start runs the HTTP server until it is shut down.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}
	slog.Info("Starting HTTP server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown stops accepting connections and drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	slog.Info("Shutting down HTTP server")
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}

// handleIndex serves a small JSON index of the API.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"service": "clvisc",
		"endpoints": []string{
			"POST /api/v1/runs",
			"GET /api/v1/runs",
			"GET /api/v1/runs/{id}",
			"GET /api/v1/runs/{id}/history",
			"GET /api/v1/runs/{id}/stream",
			"POST /api/v1/runs/{id}/cancel",
			"GET /api/v1/devices",
		},
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleCreateRun(w, r)
	case http.MethodGet:
		s.handleListRuns(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleRunsWithID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/runs/")
	parts := strings.Split(path, "/")
	if len(parts) == 0 || parts[0] == "" {
		http.Error(w, "Run ID required", http.StatusBadRequest)
		return
	}
	runID := parts[0]

	switch {
	case len(parts) == 1 || parts[1] == "status":
		s.handleRunStatus(w, r, runID)
	case parts[1] == "history":
		s.handleRunHistory(w, r, runID)
	case parts[1] == "stream":
		s.handleRunStream(w, r, runID)
	case parts[1] == "cancel":
		s.handleCancelRun(w, r, runID)
	default:
		http.Error(w, "Not found", http.StatusNotFound)
	}
}

// runConfig applies request overrides onto a copy of the base config.
func (s *Server) runConfig(req RunRequest) (*config.Config, error) {
	cfg := *s.baseCfg

	if req.NX > 0 {
		cfg.Grid.NX = req.NX
	}
	if req.NY > 0 {
		cfg.Grid.NY = req.NY
	}
	if req.NZ > 0 {
		cfg.Grid.NZ = req.NZ
	}
	if req.Tau0 > 0 {
		cfg.Time.Tau0 = req.Tau0
	}
	if req.Dt > 0 {
		cfg.Time.Dt = req.Dt
	}
	if req.TauMax > 0 {
		cfg.Time.TauMax = req.TauMax
	}
	if req.NtSkip > 0 {
		cfg.Time.NtSkip = req.NtSkip
	}
	if req.ICType != "" {
		cfg.IC.Type = req.ICType
	}
	if req.Amplitude > 0 {
		cfg.IC.Amplitude = req.Amplitude
	}
	if req.Width > 0 {
		cfg.IC.Width = req.Width
	}
	if req.SinglePrecision != nil {
		cfg.OpenCL.SinglePrecision = *req.SinglePrecision
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (s *Server) handleCreateRun(w http.ResponseWriter, r *http.Request) {
	var req RunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("Invalid JSON: %v", err), http.StatusBadRequest)
		return
	}

	cfg, err := s.runConfig(req)
	if err != nil {
		http.Error(w, fmt.Sprintf("Invalid config: %v", err), http.StatusBadRequest)
		return
	}

	run := s.runManager.CreateRun(runConfigOf(cfg))

	ctx, cancel := context.WithCancel(context.Background())
	s.runManager.setCancel(run.ID, cancel)
	go func() {
		defer cancel()
		defer s.runManager.clearCancel(run.ID)
		runEvolution(ctx, s.runManager, s.store, s.factory, cfg, run.ID)
	}()

	writeJSON(w, http.StatusCreated, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.runManager.ListRuns())
}

func (s *Server) handleRunStatus(w http.ResponseWriter, r *http.Request, runID string) {
	run, ok := s.runManager.GetRun(runID)
	if !ok {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	var elapsed time.Duration
	if run.EndTime != nil {
		elapsed = run.EndTime.Sub(run.StartTime)
	} else {
		elapsed = time.Since(run.StartTime)
	}

	sps := 0.0
	if elapsed.Seconds() > 0 {
		sps = float64(run.Step) / elapsed.Seconds()
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":          run.ID,
		"state":       run.State,
		"config":      run.Config,
		"tau":         run.Tau,
		"step":        run.Step,
		"maxEd":       run.MaxEd,
		"elapsed":     elapsed.Seconds(),
		"stepsPerSec": sps,
		"startTime":   run.StartTime,
		"endTime":     run.EndTime,
		"error":       run.Error,
	})
}

// handleCancelRun stops a pending or running evolution. The worker
// observes the cancelled context and marks the run, so the state flips
// to cancelled shortly after this returns.
func (s *Server) handleCancelRun(w http.ResponseWriter, r *http.Request, runID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if _, ok := s.runManager.GetRun(runID); !ok {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}
	if !s.runManager.CancelRun(runID) {
		http.Error(w, "Run already finished", http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": runID, "status": "cancelling"})
}

// handleRunHistory serves the persisted maximum energy density curve.
func (s *Server) handleRunHistory(w http.ResponseWriter, r *http.Request, runID string) {
	if _, ok := s.runManager.GetRun(runID); !ok {
		http.Error(w, "Run not found", http.StatusNotFound)
		return
	}

	snapshot, err := s.store.LoadSnapshot(runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			http.Error(w, "No history yet", http.StatusNotFound)
			return
		}
		http.Error(w, fmt.Sprintf("Failed to load history: %v", err), http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"runId":   snapshot.RunID,
		"history": snapshot.History,
	})
}

// handleDevices lists the OpenCL platforms and devices visible to the
// server. Without a device runtime compiled in this reports 503.
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	platforms, err := cl.EnumeratePlatforms()
	if err != nil {
		if errors.Is(err, cl.ErrNotBuilt) {
			http.Error(w, err.Error(), http.StatusServiceUnavailable)
			return
		}
		http.Error(w, fmt.Sprintf("Enumeration failed: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, platforms)
}

func runConfigOf(cfg *config.Config) store.RunConfig {
	return store.RunConfig{
		NX:              cfg.Grid.NX,
		NY:              cfg.Grid.NY,
		NZ:              cfg.Grid.NZ,
		Tau0:            cfg.Time.Tau0,
		Dt:              cfg.Time.Dt,
		TauMax:          cfg.Time.TauMax,
		ICType:          cfg.IC.Type,
		SinglePrecision: cfg.OpenCL.SinglePrecision,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "duration", time.Since(start))
	})
}
