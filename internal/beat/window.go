package beat

import "time"

// Window is a sliding window of beat timestamps ordered oldest first.
// Entries are never mutated once recorded; eviction trims a prefix.
type Window struct {
	times []time.Time
	head  int
}

// Record appends a beat timestamp. Timestamps older than the latest entry are
// clamped forward so the window stays ordered.
func (w *Window) Record(ts time.Time) {
	if n := len(w.times); n > w.head && ts.Before(w.times[n-1]) {
		ts = w.times[n-1]
	}
	w.times = append(w.times, ts)
}

// Evict drops every entry for which now-t >= span.
func (w *Window) Evict(now time.Time, span time.Duration) {
	for w.head < len(w.times) && now.Sub(w.times[w.head]) >= span {
		w.head++
	}

	if w.head == len(w.times) {
		w.times = w.times[:0]
		w.head = 0
		return
	}
	if w.head > len(w.times)/2 {
		n := copy(w.times, w.times[w.head:])
		w.times = w.times[:n]
		w.head = 0
	}
}

// IsBeatNow reports whether the latest beat lies within tolerance of now.
func (w *Window) IsBeatNow(now time.Time, tolerance time.Duration) bool {
	latest, ok := w.Latest()
	if !ok {
		return false
	}
	return now.Sub(latest) < tolerance
}

// Latest returns the most recent timestamp.
func (w *Window) Latest() (time.Time, bool) {
	if w.head >= len(w.times) {
		return time.Time{}, false
	}
	return w.times[len(w.times)-1], true
}

// Len returns the number of beats currently held.
func (w *Window) Len() int {
	return len(w.times) - w.head
}

// Times returns a copy of the held timestamps, oldest first.
func (w *Window) Times() []time.Time {
	out := make([]time.Time, w.Len())
	copy(out, w.times[w.head:])
	return out
}

// Rate returns beats per minute observed across span.
func (w *Window) Rate(span time.Duration) float64 {
	if span <= 0 {
		return 0
	}
	return float64(w.Len()) / span.Minutes()
}
