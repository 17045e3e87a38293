// Package thermal holds the monitor's in-memory state machine: threshold
// tracking with a sticky back-to-normal flag, the cooling sample window and
// the at-most-once alert gate. Nothing in here is safe for concurrent use;
// the monitor loop owns every value exclusively.
package thermal

import "math"

// State is a value copy of a Tracker, safe to hand to other goroutines.
type State struct {
	Current      float64 `json:"current_c"`
	Previous     float64 `json:"previous_c"`
	Threshold    int     `json:"threshold_c"`
	Changed      bool    `json:"above_threshold"`
	BackToNormal bool    `json:"back_to_normal"`
}

// Tracker holds the last two readings and the threshold flags derived from
// them.
type Tracker struct {
	current      float64
	previous     float64
	threshold    int
	minDelta     float64
	changed      bool
	backToNormal bool
}

// NewTracker returns a tracker for the given threshold. A reading is reported
// when it differs from the previous one by more than minDelta; zero means any
// difference at all.
func NewTracker(threshold int, minDelta float64) *Tracker {
	if minDelta < 0 {
		minDelta = 0
	}
	return &Tracker{threshold: threshold, minDelta: minDelta}
}

// Update shifts the current reading into previous and applies the new one.
// backToNormal is only ever set here, on a changed true -> false transition.
func (t *Tracker) Update(reading float64) {
	t.previous = t.current
	t.current = reading

	changed := t.current > float64(t.threshold)
	if t.changed && !changed {
		t.backToNormal = true
	}
	t.changed = changed
}

// ResetBackToNormal clears the sticky back-to-normal flag.
func (t *Tracker) ResetBackToNormal() {
	t.backToNormal = false
}

// ShouldCollect reports whether the current reading moved by more than
// minDelta since the previous one.
func (t *Tracker) ShouldCollect() bool {
	return math.Abs(t.current-t.previous) > t.minDelta
}

func (t *Tracker) Changed() bool      { return t.changed }
func (t *Tracker) BackToNormal() bool { return t.backToNormal }
func (t *Tracker) Current() float64   { return t.current }
func (t *Tracker) Previous() float64  { return t.previous }
func (t *Tracker) Threshold() int     { return t.threshold }

// cooling reports whether the reading is above the threshold and still
// dropping, which is the only time samples feed the cooling window.
func (t *Tracker) cooling() bool {
	return t.current > float64(t.threshold) && t.current < t.previous
}

// Snapshot returns a value copy of the tracker state.
func (t *Tracker) Snapshot() State {
	return State{
		Current:      t.current,
		Previous:     t.previous,
		Threshold:    t.threshold,
		Changed:      t.changed,
		BackToNormal: t.backToNormal,
	}
}
