package analysis

import (
	"fmt"
	"time"
)

// Window describes fixed, epoch aligned aggregation windows. A record at t
// belongs to the window whose half-open range [end-Width, end) contains
// t-Offset; the window is labelled by end.
type Window struct {
	Width  time.Duration
	Offset time.Duration
}

// -----------------------------------------------------------------------------

func NewWindow(width, offset time.Duration) (Window, error) {
	if width <= 0 {
		return Window{}, fmt.Errorf("window width must be positive, got %v", width)
	}
	if offset < 0 || offset >= width {
		return Window{}, fmt.Errorf("window offset must be in [0, %v), got %v", width, offset)
	}
	return Window{Width: width, Offset: offset}, nil
}

// -----------------------------------------------------------------------------

// Label returns the right edge of the window t falls into.
func (w Window) Label(t time.Time) time.Time {
	start, _ := CalculateWindowBoundaries(t.UTC().Add(-w.Offset), w.Width)
	return start.Add(w.Width)
}

// -----------------------------------------------------------------------------

// Start returns the earliest raw instant that maps into the window labelled
// label.
func (w Window) Start(label time.Time) time.Time {
	return label.Add(-w.Width).Add(w.Offset)
}

// -----------------------------------------------------------------------------

// Labels lists every window label whose raw range intersects [from, to).
func (w Window) Labels(from, to time.Time) []time.Time {
	if !to.After(from) {
		return nil
	}
	var out []time.Time
	for l := w.Label(from); w.Start(l).Before(to); l = l.Add(w.Width) {
		out = append(out, l)
	}
	return out
}

// -----------------------------------------------------------------------------

// CalculateWindowBoundaries floors ts to a multiple of window counted from the
// Unix epoch and returns [start, end).
func CalculateWindowBoundaries(ts time.Time, window time.Duration) (time.Time, time.Time) {
	ns := ts.UnixNano()
	w := int64(window)
	rem := ns % w
	if rem < 0 {
		rem += w
	}
	start := time.Unix(0, ns-rem).UTC()
	return start, start.Add(window)
}
