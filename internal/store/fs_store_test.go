package store

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func testSnapshot(runID string) *Snapshot {
	return &Snapshot{
		RunID: runID,
		Tau:   1.2,
		Step:  30,
		MaxEd: 4.5,
		History: []HistoryPoint{
			{Tau: 0.8, MaxEd: 20.1},
			{Tau: 1.2, MaxEd: 4.5},
		},
		KernelSeconds: 0.35,
		Timestamp:     time.Now(),
		Config: RunConfig{
			NX: 67, NY: 67, NZ: 1,
			Tau0: 0.6, Dt: 0.02, TauMax: 10,
			ICType:          "gaussian",
			SinglePrecision: true,
		},
	}
}

func TestSaveAndLoadSnapshot(t *testing.T) {
	fs, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}

	want := testSnapshot("run-1")
	if err := fs.SaveSnapshot(want); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	got, err := fs.LoadSnapshot("run-1")
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if got.RunID != want.RunID || got.Tau != want.Tau || got.Step != want.Step {
		t.Errorf("Snapshot mismatch: got %+v", got)
	}
	if len(got.History) != 2 || got.History[1].MaxEd != 4.5 {
		t.Errorf("History not persisted: %+v", got.History)
	}
	if got.Config.NX != 67 || !got.Config.SinglePrecision {
		t.Errorf("Config not persisted: %+v", got.Config)
	}
}

func TestSaveSnapshotOverwrites(t *testing.T) {
	fs, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}

	s := testSnapshot("run-1")
	if err := fs.SaveSnapshot(s); err != nil {
		t.Fatalf("First save failed: %v", err)
	}
	s.Tau = 2.0
	s.Step = 70
	if err := fs.SaveSnapshot(s); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	got, err := fs.LoadSnapshot("run-1")
	if err != nil {
		t.Fatalf("LoadSnapshot failed: %v", err)
	}
	if got.Tau != 2.0 || got.Step != 70 {
		t.Errorf("Overwrite not applied: %+v", got)
	}
}

func TestSaveSnapshotLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFSStore(dir)
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	if err := fs.SaveSnapshot(testSnapshot("run-1")); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, "runs", "run-1", "snapshot.json.tmp")); !os.IsNotExist(err) {
		t.Error("Temp file left behind after save")
	}
}

func TestSaveSnapshotRejectsInvalid(t *testing.T) {
	fs, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}

	if err := fs.SaveSnapshot(nil); err == nil {
		t.Error("Expected error for nil snapshot")
	}
	if err := fs.SaveSnapshot(&Snapshot{}); err == nil {
		t.Error("Expected error for empty runID")
	}

	// The full validation runs on the write path, not just the ID check.
	bad := testSnapshot("run-1")
	bad.Config.NX = 0
	err = fs.SaveSnapshot(bad)
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("Expected a validation error for zero grid, got %v", err)
	}
	if verr.Field != "Config" {
		t.Errorf("Validation error field = %s, want Config", verr.Field)
	}
	if _, err := fs.LoadSnapshot("run-1"); !errors.Is(err, ErrNotFound) {
		t.Error("Invalid snapshot must not reach disk")
	}
}

func TestOpenTraceWritesUnderRunDir(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFSStore(dir)
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}

	tw, err := fs.OpenTrace("run-1", false)
	if err != nil {
		t.Fatalf("OpenTrace failed: %v", err)
	}
	if err := tw.Write(TraceEntry{Step: 2, Tau: 0.64, MaxEd: 12.5, Timestamp: time.Now()}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	want := filepath.Join(dir, "runs", "run-1", "trace.jsonl")
	if tw.Path() != want {
		t.Errorf("Trace path = %s, want %s", tw.Path(), want)
	}

	tr, err := NewTraceReader(dir, "run-1")
	if err != nil {
		t.Fatalf("NewTraceReader failed: %v", err)
	}
	defer tr.Close()
	entries, err := tr.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(entries) != 1 || entries[0].Step != 2 {
		t.Errorf("Expected the written entry back, got %+v", entries)
	}

	if _, err := fs.OpenTrace("", false); err == nil {
		t.Error("Expected error for empty runID")
	}
}

func TestLoadSnapshotNotFound(t *testing.T) {
	fs, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}

	_, err = fs.LoadSnapshot("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestListSnapshots(t *testing.T) {
	fs, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}

	infos, err := fs.ListSnapshots()
	if err != nil {
		t.Fatalf("ListSnapshots on empty store failed: %v", err)
	}
	if len(infos) != 0 {
		t.Errorf("Expected empty listing, got %d", len(infos))
	}

	for _, id := range []string{"run-a", "run-b"} {
		if err := fs.SaveSnapshot(testSnapshot(id)); err != nil {
			t.Fatalf("SaveSnapshot %s failed: %v", id, err)
		}
	}

	infos, err = fs.ListSnapshots()
	if err != nil {
		t.Fatalf("ListSnapshots failed: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("Expected 2 snapshots, got %d", len(infos))
	}
	if infos[0].Grid != "67x67x1" {
		t.Errorf("Grid summary = %q, want 67x67x1", infos[0].Grid)
	}
}

func TestListSnapshotsSkipsCorrupted(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFSStore(dir)
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	if err := fs.SaveSnapshot(testSnapshot("good")); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	badDir := filepath.Join(dir, "runs", "bad")
	if err := os.MkdirAll(badDir, 0755); err != nil {
		t.Fatalf("Failed to create bad run dir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(badDir, "snapshot.json"), []byte("{broken"), 0644); err != nil {
		t.Fatalf("Failed to write corrupted snapshot: %v", err)
	}

	infos, err := fs.ListSnapshots()
	if err != nil {
		t.Fatalf("ListSnapshots failed: %v", err)
	}
	if len(infos) != 1 || infos[0].RunID != "good" {
		t.Errorf("Expected only the good run, got %+v", infos)
	}
}

func TestDeleteRun(t *testing.T) {
	fs, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}

	if err := fs.SaveSnapshot(testSnapshot("run-1")); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}
	if err := fs.DeleteRun("run-1"); err != nil {
		t.Fatalf("DeleteRun failed: %v", err)
	}
	if _, err := fs.LoadSnapshot("run-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound after delete, got %v", err)
	}

	if err := fs.DeleteRun("run-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound for repeated delete, got %v", err)
	}
}
