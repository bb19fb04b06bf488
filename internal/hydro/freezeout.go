package hydro

// defaultFreezePatience is how many consecutive samples must sit below
// the freeze-out threshold before the evolution is declared finished. A
// single dip can be a transient from the reduction sampling the fields
// mid-rarefaction.
const defaultFreezePatience = 3

// FreezeoutTracker watches the sampled maximum energy density and fires
// once it has stayed below the freeze-out threshold for a number of
// consecutive samples.
type FreezeoutTracker struct {
	threshold float64
	patience  int
	below     int
	frozen    bool
}

// NewFreezeoutTracker returns a tracker for the given energy density
// threshold. A non-positive threshold disables freeze-out entirely, and
// patience values below 1 are clamped to 1.
func NewFreezeoutTracker(threshold float64, patience int) *FreezeoutTracker {
	if patience < 1 {
		patience = 1
	}
	return &FreezeoutTracker{threshold: threshold, patience: patience}
}

// Update records one maximum energy density sample and reports whether
// freeze-out has been reached.
func (f *FreezeoutTracker) Update(maxEd float64) bool {
	if f.frozen {
		return true
	}
	if f.threshold <= 0 {
		return false
	}
	if maxEd < f.threshold {
		f.below++
	} else {
		f.below = 0
	}
	if f.below >= f.patience {
		f.frozen = true
	}
	return f.frozen
}

// Frozen reports whether freeze-out has already been reached.
func (f *FreezeoutTracker) Frozen() bool { return f.frozen }

// Reset clears the tracker for a new evolution.
func (f *FreezeoutTracker) Reset() {
	f.below = 0
	f.frozen = false
}
