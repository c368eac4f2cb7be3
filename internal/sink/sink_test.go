package sink

import (
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybre/emotive-engine/internal/rgba"
	"github.com/cybre/emotive-engine/internal/yeelight"
)

func TestHyprlandBatchesKeywords(t *testing.T) {
	var calls [][]string
	run := func(_ context.Context, name string, args ...string) ([]byte, error) {
		calls = append(calls, append([]string{name}, args...))
		return []byte("ok"), nil
	}
	h := NewHyprland(run, nil)

	c := rgba.MustParse("#12ab34cc")
	require.NoError(t, h.SetColor(context.Background(), c, false))
	require.NoError(t, h.SetColor(context.Background(), c, true))

	require.Len(t, calls, 1)
	assert.Equal(t, []string{
		"hyprctl", "--batch",
		"keyword decoration:col.active rgba(12ab34cc) ; keyword decoration:col.shadow rgba(12ab34cc) ; keyword plugin:wallpaper:pulse rgba(12ab34cc)",
	}, calls[0])

	require.NoError(t, h.SetColor(context.Background(), rgba.MustParse("#12ab34ff"), true))
	assert.Len(t, calls, 2)
}

func TestHyprlandRetriesAfterFailure(t *testing.T) {
	fail := true
	calls := 0
	run := func(context.Context, string, ...string) ([]byte, error) {
		calls++
		if fail {
			return nil, eris.New("hyprctl: no instance")
		}
		return nil, nil
	}
	h := NewHyprland(run, []string{"general:col.active_border"})
	c := rgba.MustParse("#000000ff")

	assert.Error(t, h.SetColor(context.Background(), c, false))
	fail = false
	assert.NoError(t, h.SetColor(context.Background(), c, false))
	assert.Equal(t, 2, calls)
}

func TestCSSVariableRewrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "style.css")
	css := ":root {\n  --panel-accent-color: #ffffff;\n  --other: #000000;\n}\n.bar { --Panel-Accent-Color : rgba(1, 2, 3, 0.5) !important; }\n"
	require.NoError(t, os.WriteFile(path, []byte(css), 0o600))

	s := NewCSSVariable(path, "--panel-accent-color")
	require.NoError(t, s.SetColor(context.Background(), rgba.MustParse("#a1b2c3cc"), false))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":root {\n  --panel-accent-color: #a1b2c3;\n  --other: #000000;\n}\n.bar { --Panel-Accent-Color : #a1b2c3 !important; }\n", string(got))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestCSSVariableSkipsUnchangedAndMissing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "style.css")
	require.NoError(t, os.WriteFile(path, []byte("a { --emotive-accent: #010203; }"), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	s := NewCSSVariable(path, "--emotive-accent")
	require.NoError(t, s.SetColor(context.Background(), rgba.MustParse("#010203ff"), true))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.WithinDuration(t, old, info.ModTime(), time.Second, "unchanged css is not rewritten")

	missing := NewCSSVariable(filepath.Join(dir, "nope.css"), "--emotive-accent")
	assert.NoError(t, missing.SetColor(context.Background(), rgba.Neutral, false))
}

func TestUniformFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "uniforms")
	f := NewUniformFile(path)

	u := rgba.MustParse("#ff8000cc").Uniforms(true)
	require.NoError(t, f.SetUniforms(context.Background(), u))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "R=1.0000\nG=0.5020\nB=0.0000\nBEAT=1.0\n", string(got))

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

type fakeBulb struct {
	mu         sync.Mutex
	release    chan struct{}
	rgb        [][3]uint8
	brightness []uint8
}

func (b *fakeBulb) SetRGB(ctx context.Context, r, g, bl uint8, _ yeelight.Effect, _ int) error {
	if b.release != nil {
		select {
		case <-b.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rgb = append(b.rgb, [3]uint8{r, g, bl})
	return nil
}

func (b *fakeBulb) SetBrightness(_ context.Context, v uint8, _ yeelight.Effect, _ int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.brightness = append(b.brightness, v)
	return nil
}

func (b *fakeBulb) colors() [][3]uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([][3]uint8(nil), b.rgb...)
}

func TestBulbSkipsUnchangedValues(t *testing.T) {
	fake := &fakeBulb{}
	s := NewBulb(fake, nil)
	ctx := context.Background()

	require.NoError(t, s.apply(ctx, rgba.MustParse("#102030cc")))
	require.NoError(t, s.apply(ctx, rgba.MustParse("#102030ff")))
	require.NoError(t, s.apply(ctx, rgba.MustParse("#102030ff")))

	assert.Equal(t, [][3]uint8{{0x10, 0x20, 0x30}}, fake.rgb)
	assert.Equal(t, []uint8{80, 100}, fake.brightness)
}

func TestBulbSetColorNeverWaitsForTheBulb(t *testing.T) {
	fake := &fakeBulb{release: make(chan struct{})}
	s := NewBulb(fake, nil)
	s.spacing = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	start := time.Now()
	for _, hex := range []string{"#010101ff", "#020202ff", "#030303ff", "#040404ff"} {
		require.NoError(t, s.SetColor(ctx, rgba.MustParse(hex), false))
		time.Sleep(5 * time.Millisecond)
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	close(fake.release)
	assert.Eventually(t, func() bool {
		got := fake.colors()
		return len(got) > 0 && got[len(got)-1] == [3]uint8{4, 4, 4}
	}, time.Second, 5*time.Millisecond, "latest color must reach the bulb")
	assert.Less(t, len(fake.colors()), 4, "stale colors are dropped")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestBulbSinkWithUnresponsiveBulb(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		// hold the connection open without ever replying
		defer conn.Close()
		_, _ = io.Copy(io.Discard, conn)
	}()

	bulb, err := yeelight.NewBulbFromAddress(ln.Addr().String())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, bulb.Connect(ctx))
	defer bulb.Close()
	defer cancel()

	s := NewBulb(bulb, nil)
	go func() { _ = s.Run(ctx) }()

	start := time.Now()
	for range 10 {
		require.NoError(t, s.SetColor(ctx, rgba.MustParse("#112233ff"), false))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

type recordingSink struct {
	colors   []rgba.Color
	uniforms []rgba.Uniforms
	err      error
}

func (r *recordingSink) SetColor(_ context.Context, c rgba.Color, _ bool) error {
	r.colors = append(r.colors, c)
	return r.err
}

func (r *recordingSink) SetUniforms(_ context.Context, u rgba.Uniforms) error {
	r.uniforms = append(r.uniforms, u)
	return r.err
}

func TestMultiCallsEverySink(t *testing.T) {
	failing := &recordingSink{err: eris.New("boom")}
	ok := &recordingSink{}
	m := Multi{failing, ok}

	assert.Error(t, m.SetColor(context.Background(), rgba.Neutral, false))
	assert.Error(t, m.SetUniforms(context.Background(), rgba.Neutral.Uniforms(false)))
	assert.Len(t, ok.colors, 1)
	assert.Len(t, ok.uniforms, 1)
}
