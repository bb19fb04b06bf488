package main

import (
	"testing"
	"time"

	"github.com/lgpang/clvisc/internal/store"
)

func infoAt(id string, age time.Duration) store.SnapshotInfo {
	return store.SnapshotInfo{RunID: id, Timestamp: time.Now().Add(-age)}
}

func TestSelectRunsForDeletionByAge(t *testing.T) {
	infos := []store.SnapshotInfo{
		infoAt("old", 10*24*time.Hour),
		infoAt("recent", time.Hour),
	}

	toDelete := selectRunsForDeletion(infos, 0, 7)
	if len(toDelete) != 1 || toDelete[0].RunID != "old" {
		t.Errorf("Expected only the old run, got %+v", toDelete)
	}
}

func TestSelectRunsForDeletionKeepLast(t *testing.T) {
	infos := []store.SnapshotInfo{
		infoAt("a", 3*time.Hour),
		infoAt("b", 2*time.Hour),
		infoAt("c", time.Hour),
	}

	toDelete := selectRunsForDeletion(infos, 2, 0)
	if len(toDelete) != 1 || toDelete[0].RunID != "a" {
		t.Errorf("Expected the oldest run, got %+v", toDelete)
	}
}

func TestSelectRunsForDeletionCombined(t *testing.T) {
	infos := []store.SnapshotInfo{
		infoAt("ancient", 30*24*time.Hour),
		infoAt("old", 10*24*time.Hour),
		infoAt("recent", time.Hour),
	}

	// Age marks ancient and old; keep-last of 1 would also mark old, but
	// it must not be listed twice.
	toDelete := selectRunsForDeletion(infos, 1, 7)
	if len(toDelete) != 2 {
		t.Fatalf("Expected 2 runs, got %d: %+v", len(toDelete), toDelete)
	}
	seen := map[string]bool{}
	for _, info := range toDelete {
		if seen[info.RunID] {
			t.Errorf("Run %s listed twice", info.RunID)
		}
		seen[info.RunID] = true
	}
	if !seen["ancient"] || !seen["old"] {
		t.Errorf("Wrong runs selected: %+v", toDelete)
	}
}

func TestSelectRunsForDeletionNoPolicy(t *testing.T) {
	infos := []store.SnapshotInfo{infoAt("a", time.Hour)}
	if toDelete := selectRunsForDeletion(infos, 0, 0); len(toDelete) != 0 {
		t.Errorf("No policy should select nothing, got %+v", toDelete)
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("0123456789abcdef"); got != "0123456789ab..." {
		t.Errorf("shortID = %q", got)
	}
	if got := shortID("short"); got != "short" {
		t.Errorf("shortID should pass short IDs through, got %q", got)
	}
}

func TestFormatBytes(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{512, "512 B"},
		{2048, "2.0 KB"},
		{3 * 1024 * 1024, "3.0 MB"},
	}
	for _, tc := range cases {
		if got := formatBytes(tc.in); got != tc.want {
			t.Errorf("formatBytes(%d) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
