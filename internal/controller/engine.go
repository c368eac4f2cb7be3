// Package controller runs the control loop that turns beats and the current
// base color into faded colors pushed to every sink.
package controller

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/cybre/emotive-engine/internal/beat"
	"github.com/cybre/emotive-engine/internal/config"
	"github.com/cybre/emotive-engine/internal/fader"
	"github.com/cybre/emotive-engine/internal/rgba"
	"github.com/cybre/emotive-engine/internal/sink"
	"github.com/cybre/emotive-engine/internal/source"
	"github.com/cybre/emotive-engine/internal/ui"
	"github.com/cybre/emotive-engine/internal/utils"
)

// BeatSource is the detector side of the loop.
type BeatSource interface {
	Events() <-chan time.Time
	BPM() float64
}

// PlayerFinder resolves the media player that currently qualifies.
type PlayerFinder interface {
	ActivePlayer(ctx context.Context) (string, error)
}

// ColorSelector picks the base color for the current presence.
type ColorSelector interface {
	BaseColor(ctx context.Context, presence source.Presence) (rgba.Color, source.Origin)
	Wallpaper(ctx context.Context) (rgba.Color, source.Origin)
}

// Flasher runs idle flashes in the background.
type Flasher interface {
	Go(ctx context.Context) bool
	InProgress() bool
}

// Visualizer receives a frame after every applied tick.
type Visualizer interface {
	Update(frame ui.VisualizerFrame)
}

// Config holds the loop timing and color shaping.
type Config struct {
	UpdateRate    time.Duration
	PlayerPoll    time.Duration
	BeatWindow    time.Duration
	BeatTolerance time.Duration
	IdleFlashMin  time.Duration
	IdleFlashMax  time.Duration
	IdleSleep     time.Duration
	PlayingSleep  time.Duration
	IdleFade      time.Duration
	BeatFade      time.Duration
	SteadyFade    time.Duration

	BeatBrightness   float64
	SteadyBrightness float64
	BeatAlpha        uint8
	SteadyAlpha      uint8
}

// DefaultConfig mirrors the stock configuration file.
func DefaultConfig() Config {
	return ConfigFrom(config.Default())
}

// ConfigFrom extracts the loop settings from a loaded configuration.
func ConfigFrom(cfg *config.Config) Config {
	t := cfg.Timing
	return Config{
		UpdateRate:       t.UpdateRate.Duration,
		PlayerPoll:       t.PlayerPoll.Duration,
		BeatWindow:       t.BeatWindow.Duration,
		BeatTolerance:    t.BeatTolerance.Duration,
		IdleFlashMin:     t.IdleFlashMin.Duration,
		IdleFlashMax:     t.IdleFlashMax.Duration,
		IdleSleep:        t.IdleSleep.Duration,
		PlayingSleep:     t.PlayingSleep.Duration,
		IdleFade:         t.IdleFade.Duration,
		BeatFade:         t.BeatFade.Duration,
		SteadyFade:       t.SteadyFade.Duration,
		BeatBrightness:   cfg.Color.BeatBrightness,
		SteadyBrightness: cfg.Color.SteadyBrightness,
		BeatAlpha:        cfg.Color.BeatAlpha,
		SteadyAlpha:      cfg.Color.SteadyAlpha,
	}
}

// BeatColor shapes base into the emitted color and returns the fade duration
// to reach it. Beats brighten the color and make it opaque.
func BeatColor(base rgba.Color, isBeat bool, cfg Config) (rgba.Color, time.Duration) {
	if isBeat {
		return base.Scale(cfg.BeatBrightness).WithAlpha(cfg.BeatAlpha), cfg.BeatFade
	}
	return base.Scale(cfg.SteadyBrightness).WithAlpha(cfg.SteadyAlpha), cfg.SteadyFade
}

// Engine is the single control loop. Tick must only be called from one
// goroutine; Snapshot is safe from anywhere.
type Engine struct {
	cfg      Config
	beats    BeatSource
	players  PlayerFinder
	selector ColorSelector
	fader    *fader.Guarded
	flasher  Flasher
	out      sink.Sink
	viz      Visualizer
	logger   *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
	rng   *rand.Rand

	window     beat.Window
	presence   source.Presence
	polled     bool
	lastPoll   time.Time
	lastUpdate time.Time
	lastFlash  time.Time
	nextFlash  time.Duration
	retarget   bool

	mu    sync.Mutex
	frame ui.VisualizerFrame
}

// Params wires the engine collaborators. Flasher and Visualizer may be nil.
type Params struct {
	Config     Config
	Beats      BeatSource
	Players    PlayerFinder
	Selector   ColorSelector
	Fader      *fader.Guarded
	Flasher    Flasher
	Sink       sink.Sink
	Visualizer Visualizer
	Logger     *slog.Logger
	Seed       int64
}

// NewEngine validates p and returns a loop starting in the NoPlayer state.
func NewEngine(p Params) (*Engine, error) {
	switch {
	case p.Beats == nil:
		return nil, eris.New("engine requires a beat source")
	case p.Selector == nil:
		return nil, eris.New("engine requires a color selector")
	case p.Fader == nil:
		return nil, eris.New("engine requires a fader")
	case p.Sink == nil:
		return nil, eris.New("engine requires a sink")
	case p.Config.UpdateRate <= 0:
		return nil, eris.New("engine update rate must be positive")
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	if p.Seed == 0 {
		p.Seed = time.Now().UnixNano()
	}

	return &Engine{
		cfg:      p.Config,
		beats:    p.Beats,
		players:  p.Players,
		selector: p.Selector,
		fader:    p.Fader,
		flasher:  p.Flasher,
		out:      p.Sink,
		viz:      p.Visualizer,
		logger:   p.Logger,
		now:      time.Now,
		sleep:    utils.Sleep,
		rng:      rand.New(rand.NewSource(p.Seed)),
		presence: source.NoPlayer,
	}, nil
}

// Run ticks until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	debugTicker := time.NewTicker(2 * time.Second)
	defer debugTicker.Stop()

	for {
		wait := e.Tick(ctx, e.now())

		select {
		case <-debugTicker.C:
			frame := e.Snapshot()
			e.logger.Debug("control loop state",
				slog.String("presence", frame.Presence),
				slog.String("source", frame.Source),
				slog.String("color", frame.Color.Hex()),
				slog.Int("beats", frame.Beats),
				slog.Float64("bpm", frame.BPM))
		default:
		}

		if err := e.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Tick runs one loop iteration at now and returns how long to sleep before
// the next one.
func (e *Engine) Tick(ctx context.Context, now time.Time) time.Duration {
	e.drainBeats(now)
	e.pollPresence(ctx, now)

	if !e.presence.IsPlaying() {
		e.idleTick(ctx, now)
		return e.cfg.IdleSleep
	}

	if now.Sub(e.lastUpdate) < e.cfg.UpdateRate {
		return e.cfg.PlayingSleep
	}
	e.lastUpdate = now
	e.playingTick(ctx, now)
	return e.cfg.PlayingSleep
}

// Presence returns the last polled presence.
func (e *Engine) Presence() source.Presence {
	return e.presence
}

// Snapshot returns the most recently applied frame.
func (e *Engine) Snapshot() ui.VisualizerFrame {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.frame
}

// ShowFlash publishes an idle flash color on top of the last frame. Unlike
// Tick it may be called from any goroutine.
func (e *Engine) ShowFlash(c rgba.Color) {
	e.mu.Lock()
	frame := e.frame
	frame.Color = c
	frame.Beat = false
	frame.Flashing = true
	frame.Source = source.OriginWallpaper.String()
	e.frame = frame
	e.mu.Unlock()

	if e.viz != nil {
		e.viz.Update(frame)
	}
}

func (e *Engine) drainBeats(now time.Time) {
	events := e.beats.Events()
	for {
		select {
		case ts, ok := <-events:
			if !ok {
				e.window.Evict(now, e.cfg.BeatWindow)
				return
			}
			e.window.Record(ts)
		default:
			e.window.Evict(now, e.cfg.BeatWindow)
			return
		}
	}
}

func (e *Engine) pollPresence(ctx context.Context, now time.Time) {
	if e.polled && now.Sub(e.lastPoll) < e.cfg.PlayerPoll {
		return
	}
	e.polled = true
	e.lastPoll = now

	next := source.NoPlayer
	if e.players != nil {
		id, err := e.players.ActivePlayer(ctx)
		if err != nil {
			e.logger.Debug("no qualifying player", slog.Any("error", err))
		} else {
			next = source.Playing(id)
		}
	}

	if next == e.presence {
		return
	}

	e.logger.Info("player presence changed",
		slog.String("from", e.presence.String()),
		slog.String("to", next.String()))

	if e.presence.IsPlaying() && !next.IsPlaying() {
		e.retarget = true
		e.lastFlash = now
		e.nextFlash = e.flashInterval()
	}
	e.presence = next
}

func (e *Engine) idleTick(ctx context.Context, now time.Time) {
	if e.flasher != nil && (e.lastFlash.IsZero() || now.Sub(e.lastFlash) >= e.nextFlash) {
		if e.flasher.Go(ctx) {
			e.lastFlash = now
			e.nextFlash = e.flashInterval()
			e.logger.Debug("idle flash started", slog.Duration("next_in", e.nextFlash))
		}
	}
	if e.flasher != nil && e.flasher.InProgress() {
		return
	}

	base, origin := e.selector.Wallpaper(ctx)

	var applied rgba.Color
	e.fader.Do(func(f *fader.Fader) {
		if e.retarget || !f.Active() {
			if f.StartFade(base, e.cfg.IdleFade, now) {
				e.setUniforms(ctx, base, false)
			}
		}
		applied = f.Update(now)
		e.setColor(ctx, applied, false)
	})
	e.retarget = false

	e.publish(applied, false, origin)
}

func (e *Engine) playingTick(ctx context.Context, now time.Time) {
	isBeat := e.window.IsBeatNow(now, e.cfg.BeatTolerance)
	base, origin := e.selector.BaseColor(ctx, e.presence)
	target, duration := BeatColor(base, isBeat, e.cfg)

	e.setUniforms(ctx, target, isBeat)

	var applied rgba.Color
	e.fader.Do(func(f *fader.Fader) {
		f.StartFade(target, duration, now)
		applied = f.Update(now)
		e.setColor(ctx, applied, isBeat)
	})

	e.publish(applied, isBeat, origin)
}

func (e *Engine) flashInterval() time.Duration {
	span := e.cfg.IdleFlashMax - e.cfg.IdleFlashMin
	if span <= 0 {
		return e.cfg.IdleFlashMin
	}
	return e.cfg.IdleFlashMin + time.Duration(e.rng.Int63n(int64(span)+1))
}

func (e *Engine) setColor(ctx context.Context, c rgba.Color, isBeat bool) {
	if err := e.out.SetColor(ctx, c, isBeat); err != nil {
		e.logger.Debug("failed to apply color", slog.String("color", c.Hex()), slog.Any("error", err))
	}
}

func (e *Engine) setUniforms(ctx context.Context, c rgba.Color, isBeat bool) {
	if err := e.out.SetUniforms(ctx, c.Uniforms(isBeat)); err != nil {
		e.logger.Debug("failed to write uniforms", slog.Any("error", err))
	}
}

func (e *Engine) publish(c rgba.Color, isBeat bool, origin source.Origin) {
	frame := ui.VisualizerFrame{
		Color:    c,
		Beat:     isBeat,
		BPM:      e.beats.BPM(),
		Beats:    e.window.Len(),
		Rate:     e.window.Rate(e.cfg.BeatWindow),
		Presence: e.presence.String(),
		Source:   origin.String(),
		Flashing: e.flasher != nil && e.flasher.InProgress(),
	}

	e.mu.Lock()
	e.frame = frame
	e.mu.Unlock()

	if e.viz != nil {
		e.viz.Update(frame)
	}
}
