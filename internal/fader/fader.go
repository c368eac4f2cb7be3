// Package fader interpolates an RGBA color toward a target over a duration.
// The same primitive drives slow idle pulses and fast beat flashes.
package fader

import (
	"sync"
	"time"

	"github.com/cybre/emotive-engine/internal/rgba"
)

// MinDuration is the shortest fade accepted; shorter requests are stretched to it.
const MinDuration = 10 * time.Millisecond

// State is a read-only view of a Fader.
type State struct {
	Current  rgba.Color
	Target   rgba.Color
	Start    time.Time
	Duration time.Duration
	Active   bool
}

// Fader is the Idle/Fading state machine. It is not safe for concurrent use;
// share it through Guarded.
type Fader struct {
	current  rgba.Color
	from     rgba.Color
	target   rgba.Color
	start    time.Time
	duration time.Duration
	active   bool
}

// New returns an idle fader resting on initial.
func New(initial rgba.Color) *Fader {
	return &Fader{current: initial, from: initial, target: initial}
}

// StartFade begins interpolating from the current color toward target and
// reports whether a fade was started. It is a no-op when the fader already
// rests on target. It is also a no-op while a fade toward the same target is
// in flight: the running fade keeps its start time instead of being reset, so
// a caller repeating its target every tick still lands after duration.
// Retargeting mid-fade starts from the current interpolated color.
func (f *Fader) StartFade(target rgba.Color, duration time.Duration, now time.Time) bool {
	if f.target == target && (f.active || f.current == target) {
		return false
	}

	f.from = f.current
	f.target = target
	f.start = now
	f.duration = max(duration, MinDuration)
	f.active = true
	return true
}

// Update advances the fade to now and returns the resulting color.
func (f *Fader) Update(now time.Time) rgba.Color {
	if !f.active {
		return f.current
	}

	t := float64(now.Sub(f.start)) / float64(f.duration)
	if t >= 1 {
		f.current = f.target
		f.from = f.target
		f.active = false
		return f.current
	}

	f.current = rgba.Lerp(f.from, f.target, t)
	return f.current
}

// Active reports whether a fade is in progress.
func (f *Fader) Active() bool {
	return f.active
}

// Current returns the last computed color.
func (f *Fader) Current() rgba.Color {
	return f.current
}

// Target returns the color being faded toward.
func (f *Fader) Target() rgba.Color {
	return f.target
}

// State returns a snapshot of the fader.
func (f *Fader) State() State {
	return State{
		Current:  f.current,
		Target:   f.target,
		Start:    f.start,
		Duration: f.duration,
		Active:   f.active,
	}
}

// Guarded serializes access to a Fader. Every start/update/apply sequence must
// run inside a single Do call so competing animations never interleave.
type Guarded struct {
	mu sync.Mutex
	f  *Fader
}

// NewGuarded wraps f.
func NewGuarded(f *Fader) *Guarded {
	return &Guarded{f: f}
}

// Do runs fn with exclusive access to the fader.
func (g *Guarded) Do(fn func(f *Fader)) {
	g.mu.Lock()
	defer g.mu.Unlock()
	fn(g.f)
}

// State returns a snapshot taken under the lock.
func (g *Guarded) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.f.State()
}
