package thermal

import (
	"errors"
	"time"
)

var (
	ErrInsufficientSamples = errors.New("cooling rate needs at least two samples")
	ErrZeroTimeSpan        = errors.New("cooling rate samples span no time")
)

// Sample is one timestamped reading held by a Window.
type Sample struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value_c"`
}

// Window is a bounded, append-only run of samples taken while the reading is
// above the threshold and falling. Both the append guard and the readiness
// guard use the same boundary, so a full window is always ready while the
// reading keeps cooling.
type Window struct {
	capacity int
	samples  []Sample
}

// NewWindow returns an empty window holding at most capacity samples.
func NewWindow(capacity int) *Window {
	if capacity < 0 {
		capacity = 0
	}
	return &Window{
		capacity: capacity,
		samples:  make([]Sample, 0, capacity),
	}
}

// MaybeCollect appends the tracker's current reading when it is eligible and
// the window has room. It reports whether a sample was appended.
func (w *Window) MaybeCollect(t *Tracker, now time.Time) bool {
	if !t.cooling() || len(w.samples) >= w.capacity {
		return false
	}
	w.samples = append(w.samples, Sample{Time: now, Value: t.current})
	return true
}

// IsReady reports whether the window is full and the reading is still
// cooling above the threshold.
func (w *Window) IsReady(t *Tracker) bool {
	return t.cooling() && len(w.samples) >= w.capacity
}

// CoolingRatePerSecond is (last - first) / seconds between them. A negative
// result means the reading is dropping.
func (w *Window) CoolingRatePerSecond() (float64, error) {
	if len(w.samples) < 2 {
		return 0, ErrInsufficientSamples
	}
	first := w.samples[0]
	last := w.samples[len(w.samples)-1]

	span := last.Time.Sub(first.Time).Seconds()
	if span <= 0 {
		return 0, ErrZeroTimeSpan
	}
	return (last.Value - first.Value) / span, nil
}

// Flush drops every sample.
func (w *Window) Flush() {
	w.samples = w.samples[:0]
}

func (w *Window) Len() int      { return len(w.samples) }
func (w *Window) Capacity() int { return w.capacity }

// Samples returns a copy of the held samples, oldest first.
func (w *Window) Samples() []Sample {
	out := make([]Sample, len(w.samples))
	copy(out, w.samples)
	return out
}
