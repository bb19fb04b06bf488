package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/lgpang/clvisc/internal/store"
)

// RunState tracks where an evolution run is in its lifecycle.
type RunState string

const (
	StatePending   RunState = "pending"
	StateRunning   RunState = "running"
	StateCompleted RunState = "completed"
	StateFailed    RunState = "failed"
	StateCancelled RunState = "cancelled"
)

// RunRequest is the client-facing configuration for a new run. Zero
// values fall back to the server's base configuration.
type RunRequest struct {
	NX              int     `json:"nx,omitempty"`
	NY              int     `json:"ny,omitempty"`
	NZ              int     `json:"nz,omitempty"`
	Tau0            float64 `json:"tau0,omitempty"`
	Dt              float64 `json:"dt,omitempty"`
	TauMax          float64 `json:"taumax,omitempty"`
	NtSkip          int     `json:"ntskip,omitempty"`
	ICType          string  `json:"icType,omitempty"`
	Amplitude       float64 `json:"amplitude,omitempty"`
	Width           float64 `json:"width,omitempty"`
	SinglePrecision *bool   `json:"singlePrecision,omitempty"`
}

// Run is one evolution run tracked by the server.
type Run struct {
	ID        string          `json:"id"`
	State     RunState        `json:"state"`
	Config    store.RunConfig `json:"config"`
	Tau       float64         `json:"tau"`
	Step      int             `json:"step"`
	MaxEd     float64         `json:"maxEd"`
	StartTime time.Time       `json:"startTime"`
	EndTime   *time.Time      `json:"endTime,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// RunManager tracks run lifecycles and fans progress out to stream
// subscribers.
type RunManager struct {
	mu          sync.RWMutex
	runs        map[string]*Run
	cancels     map[string]context.CancelFunc
	broadcaster *EventBroadcaster
}

// NewRunManager returns an empty manager.
func NewRunManager() *RunManager {
	return &RunManager{
		runs:        make(map[string]*Run),
		cancels:     make(map[string]context.CancelFunc),
		broadcaster: NewEventBroadcaster(),
	}
}

// CreateRun registers a new pending run with a fresh ID.
func (rm *RunManager) CreateRun(cfg store.RunConfig) *Run {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	run := &Run{
		ID:        uuid.New().String(),
		State:     StatePending,
		Config:    cfg,
		Tau:       cfg.Tau0,
		StartTime: time.Now(),
	}
	rm.runs[run.ID] = run
	return run
}

// GetRun returns a copy of the run, so callers cannot race with updates.
func (rm *RunManager) GetRun(id string) (Run, bool) {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	run, ok := rm.runs[id]
	if !ok {
		return Run{}, false
	}
	return *run, true
}

// ListRuns returns copies of all tracked runs.
func (rm *RunManager) ListRuns() []Run {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	runs := make([]Run, 0, len(rm.runs))
	for _, run := range rm.runs {
		runs = append(runs, *run)
	}
	return runs
}

// UpdateRun applies fn to the run under the manager lock.
func (rm *RunManager) UpdateRun(id string, fn func(*Run)) error {
	rm.mu.Lock()
	defer rm.mu.Unlock()

	run, ok := rm.runs[id]
	if !ok {
		return fmt.Errorf("run not found: %s", id)
	}
	fn(run)
	return nil
}

// setCancel registers the cancel function of an active run.
func (rm *RunManager) setCancel(id string, cancel context.CancelFunc) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	rm.cancels[id] = cancel
}

// clearCancel drops the cancel function once a run has ended.
func (rm *RunManager) clearCancel(id string) {
	rm.mu.Lock()
	defer rm.mu.Unlock()
	delete(rm.cancels, id)
}

// CancelRun requests cancellation of an active run. It reports false
// when the run is unknown or has already finished.
func (rm *RunManager) CancelRun(id string) bool {
	rm.mu.Lock()
	cancel, ok := rm.cancels[id]
	delete(rm.cancels, id)
	rm.mu.Unlock()

	if !ok {
		return false
	}
	cancel()
	return true
}

// RunningCount returns how many runs are currently executing.
func (rm *RunManager) RunningCount() int {
	rm.mu.RLock()
	defer rm.mu.RUnlock()

	n := 0
	for _, run := range rm.runs {
		if run.State == StateRunning {
			n++
		}
	}
	return n
}
