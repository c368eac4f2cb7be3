package idle

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybre/emotive-engine/internal/fader"
	"github.com/cybre/emotive-engine/internal/rgba"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type recorder struct {
	mu       sync.Mutex
	colors   []rgba.Color
	uniforms []rgba.Uniforms
}

func (r *recorder) SetColor(_ context.Context, c rgba.Color, _ bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.colors = append(r.colors, c)
	return nil
}

func (r *recorder) SetUniforms(_ context.Context, u rgba.Uniforms) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.uniforms = append(r.uniforms, u)
	return nil
}

var wallpaper = rgba.MustParse("#336699cc")

type harness struct {
	sched     *Scheduler
	fader     *fader.Guarded
	out       *recorder
	clk       *clock
	baselines atomic.Int32
}

func newHarness() *harness {
	h := &harness{
		fader: fader.NewGuarded(fader.New(wallpaper)),
		out:   &recorder{},
		clk:   &clock{t: time.Unix(500, 0)},
	}
	baseline := func(context.Context) rgba.Color {
		h.baselines.Add(1)
		return wallpaper
	}
	h.sched = NewScheduler(h.fader, baseline, h.out, DefaultTiming(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.sched.now = h.clk.now
	h.sched.sleep = func(_ context.Context, d time.Duration) error {
		h.clk.advance(d)
		return nil
	}
	return h
}

func TestFlashSequence(t *testing.T) {
	h := newHarness()

	require.True(t, h.sched.TryFlash(context.Background()))
	assert.False(t, h.sched.InProgress())
	assert.Equal(t, int64(1), h.sched.Flashes())

	assert.Contains(t, h.out.colors, wallpaper.WithAlpha(0xff))
	assert.Contains(t, h.out.colors, rgba.Transparent)
	assert.Equal(t, wallpaper, h.out.colors[len(h.out.colors)-1])
	assert.Len(t, h.out.uniforms, 2)

	state := h.fader.State()
	assert.False(t, state.Active)
	assert.Equal(t, wallpaper, state.Current)
}

func TestConcurrentFlashIsNoOp(t *testing.T) {
	h := newHarness()

	gate := make(chan struct{})
	entered := make(chan struct{}, 1)
	h.sched.sleep = func(_ context.Context, d time.Duration) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-gate
		h.clk.advance(d)
		return nil
	}

	done := make(chan bool)
	go func() { done <- h.sched.TryFlash(context.Background()) }()
	<-entered

	before := h.fader.State()
	assert.True(t, h.sched.InProgress())
	assert.False(t, h.sched.TryFlash(context.Background()))
	assert.False(t, h.sched.Go(context.Background()))
	assert.Equal(t, before, h.fader.State())

	close(gate)
	assert.True(t, <-done)
	assert.Equal(t, int32(1), h.baselines.Load())
	assert.False(t, h.sched.InProgress())
}

func TestFlashReleasesGuardAfterPanic(t *testing.T) {
	h := newHarness()
	h.sched.baseline = func(context.Context) rgba.Color { panic("wallpaper exploded") }

	assert.True(t, h.sched.TryFlash(context.Background()))
	assert.False(t, h.sched.InProgress())

	h.sched.baseline = func(context.Context) rgba.Color { return wallpaper }
	assert.True(t, h.sched.TryFlash(context.Background()))
}

func TestFlashStopsWhenPreempted(t *testing.T) {
	h := newHarness()
	takeover := rgba.MustParse("#ff0000ff")
	ticks := 0
	h.sched.sleep = func(_ context.Context, d time.Duration) error {
		ticks++
		if ticks == 3 {
			h.fader.Do(func(f *fader.Fader) { f.StartFade(takeover, time.Second, h.clk.now()) })
		}
		h.clk.advance(d)
		return nil
	}

	require.True(t, h.sched.TryFlash(context.Background()))
	assert.Equal(t, takeover, h.fader.State().Target)
	assert.NotContains(t, h.out.colors, rgba.Transparent)
}

func TestFlashStopsOnCancel(t *testing.T) {
	h := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	h.sched.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	require.True(t, h.sched.Go(ctx))
	h.sched.Wait()
	assert.False(t, h.sched.InProgress())
}

func TestObserverSeesEveryFlashColor(t *testing.T) {
	h := newHarness()
	var seen []rgba.Color
	h.sched.Observe(func(c rgba.Color) {
		// reading the guard here would deadlock if observers ran under it
		_ = h.fader.State()
		seen = append(seen, c)
	})

	require.True(t, h.sched.TryFlash(context.Background()))

	assert.Equal(t, h.out.colors, seen)
	assert.Contains(t, seen, rgba.Transparent)
	assert.Equal(t, wallpaper, seen[len(seen)-1])
}

func TestObserverSkipsPreemptedTick(t *testing.T) {
	h := newHarness()
	takeover := rgba.MustParse("#ff0000ff")
	var seen []rgba.Color
	h.sched.Observe(func(c rgba.Color) { seen = append(seen, c) })
	ticks := 0
	h.sched.sleep = func(_ context.Context, d time.Duration) error {
		ticks++
		if ticks == 3 {
			h.fader.Do(func(f *fader.Fader) { f.StartFade(takeover, time.Second, h.clk.now()) })
		}
		h.clk.advance(d)
		return nil
	}

	require.True(t, h.sched.TryFlash(context.Background()))
	assert.Equal(t, h.out.colors, seen)
	assert.NotContains(t, seen, takeover)
}
