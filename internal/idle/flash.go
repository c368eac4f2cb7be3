// Package idle runs the attention flash shown while nothing is playing: a
// snap to the opaque wallpaper color, a short hold, a fade to transparent and
// a slower fade back to the wallpaper.
package idle

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"

	"github.com/cybre/emotive-engine/internal/fader"
	"github.com/cybre/emotive-engine/internal/rgba"
	"github.com/cybre/emotive-engine/internal/sink"
	"github.com/cybre/emotive-engine/internal/utils"
)

// errPreempted aborts a flash whose fade was retargeted by someone else.
var errPreempted = eris.New("flash preempted")

// Timing holds the flash phase durations.
type Timing struct {
	Hold    time.Duration
	FadeOut time.Duration
	FadeIn  time.Duration
	// Step is the interval between fader ticks while a phase runs.
	Step time.Duration
}

// DefaultTiming is a 350ms hold, 400ms out and 600ms back in.
func DefaultTiming() Timing {
	return Timing{
		Hold:    350 * time.Millisecond,
		FadeOut: 400 * time.Millisecond,
		FadeIn:  600 * time.Millisecond,
		Step:    10 * time.Millisecond,
	}
}

// Scheduler runs at most one flash at a time. Flashes share the fader with the
// control loop and only touch it through the guard.
type Scheduler struct {
	fader    *fader.Guarded
	baseline func(ctx context.Context) rgba.Color
	out      sink.Sink
	timing   Timing
	logger   *slog.Logger

	now     func() time.Time
	sleep   func(ctx context.Context, d time.Duration) error
	observe func(c rgba.Color)

	running atomic.Bool
	flashes atomic.Int64
	wg      sync.WaitGroup
}

// NewScheduler builds a scheduler. baseline resolves the wallpaper color.
func NewScheduler(f *fader.Guarded, baseline func(ctx context.Context) rgba.Color, out sink.Sink, timing Timing, logger *slog.Logger) *Scheduler {
	if timing.Step <= 0 {
		timing.Step = DefaultTiming().Step
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		fader:    f,
		baseline: baseline,
		out:      out,
		timing:   timing,
		logger:   logger,
		now:      time.Now,
		sleep:    utils.Sleep,
	}
}

// Observe registers fn to receive every flash color after it reached the
// sink. fn runs on the flash goroutine outside the fader guard. Call it before
// the first flash.
func (s *Scheduler) Observe(fn func(c rgba.Color)) {
	s.observe = fn
}

// InProgress reports whether a flash currently holds the guard.
func (s *Scheduler) InProgress() bool {
	return s.running.Load()
}

// Flashes counts completed or aborted flash sequences.
func (s *Scheduler) Flashes() int64 {
	return s.flashes.Load()
}

// TryFlash runs a flash on the calling goroutine. It returns false at once,
// without touching the fader, when another flash is in progress.
func (s *Scheduler) TryFlash(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		return false
	}
	s.run(ctx)
	return true
}

// Go starts a flash in the background and reports whether one was started.
func (s *Scheduler) Go(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		return false
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(ctx)
	}()
	return true
}

// Wait blocks until background flashes have finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.running.Store(false)
	defer s.flashes.Add(1)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("idle flash panicked", slog.Any("panic", r))
		}
	}()

	if err := s.sequence(ctx); err != nil {
		if eris.Is(err, errPreempted) {
			s.logger.Debug("idle flash preempted")
			return
		}
		if !eris.Is(err, context.Canceled) {
			s.logger.Debug("idle flash aborted", slog.Any("error", err))
		}
	}
}

func (s *Scheduler) sequence(ctx context.Context) error {
	base := s.baseline(ctx)
	s.uniforms(ctx, base)

	if err := s.drive(ctx, base.WithAlpha(0xff), fader.MinDuration); err != nil {
		return err
	}
	if err := s.sleep(ctx, s.timing.Hold); err != nil {
		return err
	}
	if err := s.drive(ctx, rgba.Transparent, s.timing.FadeOut); err != nil {
		return err
	}

	s.uniforms(ctx, base)
	return s.drive(ctx, base, s.timing.FadeIn)
}

// drive fades toward target and ticks the fader until it settles.
func (s *Scheduler) drive(ctx context.Context, target rgba.Color, d time.Duration) error {
	var c rgba.Color
	s.fader.Do(func(f *fader.Fader) {
		now := s.now()
		f.StartFade(target, d, now)
		c = f.Update(now)
		s.emit(ctx, c)
	})
	s.notify(c)

	for {
		if err := s.sleep(ctx, s.timing.Step); err != nil {
			return err
		}

		var done, preempted bool
		s.fader.Do(func(f *fader.Fader) {
			if f.Target() != target {
				preempted = true
				return
			}
			c = f.Update(s.now())
			s.emit(ctx, c)
			done = !f.Active()
		})

		if preempted {
			return errPreempted
		}
		s.notify(c)
		if done {
			return nil
		}
	}
}

func (s *Scheduler) emit(ctx context.Context, c rgba.Color) {
	if s.out == nil {
		return
	}
	if err := s.out.SetColor(ctx, c, false); err != nil {
		s.logger.Debug("failed to apply flash color", slog.Any("error", err))
	}
}

func (s *Scheduler) notify(c rgba.Color) {
	if s.observe != nil {
		s.observe(c)
	}
}

func (s *Scheduler) uniforms(ctx context.Context, c rgba.Color) {
	if s.out == nil {
		return
	}
	if err := s.out.SetUniforms(ctx, c.Uniforms(false)); err != nil {
		s.logger.Debug("failed to apply flash uniforms", slog.Any("error", err))
	}
}
