package store

// Store persists run snapshots. Implementations must be safe for
// concurrent use.
//
// Errors follow the usual conventions: nil on success, ErrNotFound (via
// errors.Is) when a run has no snapshot, wrapped errors for I/O and
// serialization failures.
type Store interface {
	// SaveSnapshot atomically writes the snapshot for its run,
	// overwriting any previous one.
	SaveSnapshot(snapshot *Snapshot) error

	// LoadSnapshot retrieves the snapshot for the given run.
	LoadSnapshot(runID string) (*Snapshot, error)

	// ListSnapshots returns metadata for every stored run.
	ListSnapshots() ([]SnapshotInfo, error)

	// DeleteRun removes the snapshot, trace and any other artifacts of
	// the given run.
	DeleteRun(runID string) error

	// OpenTrace opens the evolution trace writer for the given run,
	// truncating any previous trace unless appendTo is set.
	OpenTrace(runID string, appendTo bool) (*TraceWriter, error)
}

// ErrNotFound is returned when a run has no stored snapshot. Check with
// errors.Is(err, ErrNotFound).
var ErrNotFound = &NotFoundError{}

// NotFoundError identifies the missing run.
type NotFoundError struct {
	RunID string
}

func (e *NotFoundError) Error() string {
	if e.RunID != "" {
		return "snapshot not found: " + e.RunID
	}
	return "snapshot not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
