package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// FSStore persists snapshots on the filesystem under
// <baseDir>/runs/<runID>/snapshot.json. Writes go through a temp file and
// an atomic rename, so no locking is needed.
type FSStore struct {
	baseDir string
}

var _ Store = (*FSStore)(nil)

// NewFSStore creates the base directory if needed and returns a store
// rooted there.
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	return &FSStore{baseDir: baseDir}, nil
}

// BaseDir returns the store's root directory.
func (fs *FSStore) BaseDir() string { return fs.baseDir }

func (fs *FSStore) runDir(runID string) string {
	return filepath.Join(fs.baseDir, "runs", runID)
}

func (fs *FSStore) snapshotPath(runID string) string {
	return filepath.Join(fs.runDir(runID), "snapshot.json")
}

// SaveSnapshot atomically writes the snapshot for its run.
func (fs *FSStore) SaveSnapshot(snapshot *Snapshot) error {
	if snapshot == nil {
		return fmt.Errorf("snapshot cannot be nil")
	}
	if err := snapshot.Validate(); err != nil {
		return fmt.Errorf("invalid snapshot: %w", err)
	}

	if err := os.MkdirAll(fs.runDir(snapshot.RunID), 0755); err != nil {
		return fmt.Errorf("create run directory: %w", err)
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize snapshot: %w", err)
	}

	finalPath := fs.snapshotPath(snapshot.RunID)
	tempPath := finalPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("rename snapshot: %w", err)
	}

	slog.Debug("Snapshot saved", "runID", snapshot.RunID, "tau", snapshot.Tau, "path", finalPath)
	return nil
}

// LoadSnapshot retrieves the snapshot for the given run.
func (fs *FSStore) LoadSnapshot(runID string) (*Snapshot, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}

	path := fs.snapshotPath(runID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &NotFoundError{RunID: runID}
		}
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("deserialize snapshot %s: %w", path, err)
	}

	slog.Debug("Snapshot loaded", "runID", runID, "tau", snapshot.Tau)
	return &snapshot, nil
}

// ListSnapshots returns metadata for every stored run. Corrupted entries
// are logged and skipped rather than failing the listing.
func (fs *FSStore) ListSnapshots() ([]SnapshotInfo, error) {
	runsDir := filepath.Join(fs.baseDir, "runs")

	entries, err := os.ReadDir(runsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []SnapshotInfo{}, nil
		}
		return nil, fmt.Errorf("read runs directory: %w", err)
	}

	infos := []SnapshotInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		snapshot, err := fs.LoadSnapshot(entry.Name())
		if err != nil {
			if _, ok := err.(*NotFoundError); !ok {
				slog.Warn("Skipping unreadable snapshot", "runID", entry.Name(), "error", err)
			}
			continue
		}
		infos = append(infos, snapshot.ToInfo())
	}
	return infos, nil
}

// OpenTrace opens the trace writer for the given run.
func (fs *FSStore) OpenTrace(runID string, appendTo bool) (*TraceWriter, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}
	return NewTraceWriter(fs.baseDir, runID, appendTo)
}

// DeleteRun removes the run directory with everything in it.
func (fs *FSStore) DeleteRun(runID string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}

	runDir := fs.runDir(runID)
	if _, err := os.Stat(runDir); os.IsNotExist(err) {
		return &NotFoundError{RunID: runID}
	} else if err != nil {
		return fmt.Errorf("stat run directory: %w", err)
	}

	if err := os.RemoveAll(runDir); err != nil {
		return fmt.Errorf("remove run directory: %w", err)
	}

	slog.Debug("Run deleted", "runID", runID, "path", runDir)
	return nil
}
