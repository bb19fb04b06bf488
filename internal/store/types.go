package store

import (
	"fmt"
	"time"
)

// RunConfig is the subset of the run configuration persisted with a
// snapshot. It is enough to validate that a resumed run is compatible
// with the fields on disk, without dragging the full config package in.
type RunConfig struct {
	NX              int     `json:"nx"`
	NY              int     `json:"ny"`
	NZ              int     `json:"nz"`
	Tau0            float64 `json:"tau0"`
	Dt              float64 `json:"dt"`
	TauMax          float64 `json:"taumax"`
	ICType          string  `json:"icType"`
	SinglePrecision bool    `json:"singlePrecision"`
}

// HistoryPoint is one sampled maximum energy density value.
type HistoryPoint struct {
	Tau   float64 `json:"tau"`
	MaxEd float64 `json:"maxEd"`
}

// Snapshot is the persisted state of an evolution run. It records where
// the run got to and the sampled history, not the field buffers
// themselves: the fields can be regenerated from the initial conditions
// by re-running, and a full grid dump would dwarf everything else here.
type Snapshot struct {
	// RunID is the unique identifier for this run.
	RunID string `json:"runId"`

	// Tau is the proper time reached when the snapshot was taken.
	Tau float64 `json:"tau"`

	// Step is the number of completed time steps.
	Step int `json:"step"`

	// MaxEd is the maximum energy density at Tau.
	MaxEd float64 `json:"maxEd"`

	// History holds the sampled maximum energy density curve.
	History []HistoryPoint `json:"history,omitempty"`

	// KernelSeconds is the accumulated device execution time.
	KernelSeconds float64 `json:"kernelSeconds"`

	// Timestamp records when this snapshot was written.
	Timestamp time.Time `json:"timestamp"`

	// Config is the run configuration, kept for compatibility checks.
	Config RunConfig `json:"config"`
}

// NewSnapshot assembles a snapshot from run state.
func NewSnapshot(runID string, tau float64, step int, maxEd float64, history []HistoryPoint, kernelSeconds float64, cfg RunConfig) *Snapshot {
	return &Snapshot{
		RunID:         runID,
		Tau:           tau,
		Step:          step,
		MaxEd:         maxEd,
		History:       history,
		KernelSeconds: kernelSeconds,
		Timestamp:     time.Now(),
		Config:        cfg,
	}
}

// SnapshotInfo is snapshot metadata for listings, without the history.
type SnapshotInfo struct {
	RunID     string    `json:"runId"`
	Tau       float64   `json:"tau"`
	Step      int       `json:"step"`
	MaxEd     float64   `json:"maxEd"`
	Timestamp time.Time `json:"timestamp"`
	Grid      string    `json:"grid"`
	ICType    string    `json:"icType"`
}

// ToInfo strips a snapshot down to its listing metadata.
func (s *Snapshot) ToInfo() SnapshotInfo {
	return SnapshotInfo{
		RunID:     s.RunID,
		Tau:       s.Tau,
		Step:      s.Step,
		MaxEd:     s.MaxEd,
		Timestamp: s.Timestamp,
		Grid:      fmt.Sprintf("%dx%dx%d", s.Config.NX, s.Config.NY, s.Config.NZ),
		ICType:    s.Config.ICType,
	}
}

// Validate checks the snapshot for fields a resume cannot work without.
func (s *Snapshot) Validate() error {
	if s.RunID == "" {
		return &ValidationError{Field: "RunID", Reason: "cannot be empty"}
	}
	if s.Step < 0 {
		return &ValidationError{Field: "Step", Reason: "cannot be negative"}
	}
	if s.Tau < s.Config.Tau0 {
		return &ValidationError{Field: "Tau", Reason: "cannot precede tau0"}
	}
	if s.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if s.Config.NX <= 0 || s.Config.NY <= 0 || s.Config.NZ <= 0 {
		return &ValidationError{Field: "Config", Reason: "grid sizes must be positive"}
	}
	if s.Config.Dt <= 0 {
		return &ValidationError{Field: "Config.Dt", Reason: "must be positive"}
	}
	return nil
}

// ValidationError reports a snapshot field that failed validation.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks whether a run with the given configuration can pick
// up from this snapshot. The grid geometry, precision and initial
// condition must match; the time horizon may be extended.
func (s *Snapshot) IsCompatible(cfg RunConfig) error {
	if s.Config.NX != cfg.NX || s.Config.NY != cfg.NY || s.Config.NZ != cfg.NZ {
		return &CompatibilityError{
			Field:    "grid",
			Expected: fmt.Sprintf("%dx%dx%d", s.Config.NX, s.Config.NY, s.Config.NZ),
			Actual:   fmt.Sprintf("%dx%dx%d", cfg.NX, cfg.NY, cfg.NZ),
		}
	}
	if s.Config.ICType != cfg.ICType {
		return &CompatibilityError{Field: "icType", Expected: s.Config.ICType, Actual: cfg.ICType}
	}
	if s.Config.SinglePrecision != cfg.SinglePrecision {
		return &CompatibilityError{
			Field:    "singlePrecision",
			Expected: fmt.Sprintf("%t", s.Config.SinglePrecision),
			Actual:   fmt.Sprintf("%t", cfg.SinglePrecision),
		}
	}
	if s.Config.Dt != cfg.Dt {
		return &CompatibilityError{
			Field:    "dt",
			Expected: fmt.Sprintf("%g", s.Config.Dt),
			Actual:   fmt.Sprintf("%g", cfg.Dt),
		}
	}
	return nil
}

// CompatibilityError reports a config mismatch between a snapshot and a
// resume attempt.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
