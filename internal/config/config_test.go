package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybre/emotive-engine/internal/rgba"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 44100.0, cfg.Audio.SampleRate)
	assert.Equal(t, 1024, cfg.Audio.WindowSize)
	assert.Equal(t, time.Second/30, cfg.Timing.UpdateRate.Duration)
	assert.Equal(t, 90*time.Millisecond, cfg.Timing.BeatTolerance.Duration)
	assert.Equal(t, rgba.Neutral, cfg.Color.Neutral)
	assert.Equal(t, uint8(0xff), cfg.Color.BeatAlpha)
	assert.Contains(t, cfg.Players.Exclude, "studio one")
	assert.Len(t, cfg.Output.CSS, 2)
	assert.True(t, cfg.Output.BulbMusicMode)
	assert.Zero(t, cfg.Output.BulbMusicPort)
}

func TestLoadFromReaderOverridesDefaults(t *testing.T) {
	input := `
[audio]
device = "Monitor of Built-in Audio"

[timing]
beat_fade = "90ms"
idle_flash_min = "4s"
idle_flash_max = "5s"

[color]
neutral = "#102030ff"
beat_alpha = 240
sampling = "prominent"

[output]
hyprland = false
bulb_music_mode = false
bulb_music_port = 55123

[[output.css]]
path = "/tmp/waybar.css"
variable = "--accent"
`
	cfg, err := LoadFromReader(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, "Monitor of Built-in Audio", cfg.Audio.Device)
	assert.Equal(t, 1024, cfg.Audio.WindowSize, "unset keys keep defaults")
	assert.Equal(t, 90*time.Millisecond, cfg.Timing.BeatFade.Duration)
	assert.Equal(t, 350*time.Millisecond, cfg.Timing.SteadyFade.Duration)
	assert.Equal(t, 4*time.Second, cfg.Timing.IdleFlashMin.Duration)
	assert.Equal(t, rgba.MustParse("#102030ff"), cfg.Color.Neutral)
	assert.Equal(t, uint8(240), cfg.Color.BeatAlpha)
	assert.Equal(t, "prominent", cfg.Color.Sampling)
	assert.False(t, cfg.Output.Hyprland)
	assert.False(t, cfg.Output.BulbMusicMode)
	assert.Equal(t, uint16(55123), cfg.Output.BulbMusicPort)
	assert.Equal(t, []CSSTarget{{Path: "/tmp/waybar.css", Variable: "--accent"}}, cfg.Output.CSS)
}

func TestLoadFromReaderRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"bad duration":  "[timing]\nbeat_fade = \"soon\"\n",
		"negative":      "[timing]\nbeat_fade = \"-1s\"\n",
		"bad color":     "[color]\nneutral = \"#fff\"\n",
		"odd window":    "[audio]\nwindow_size = 1023\n",
		"fast polling":  "[timing]\nplayer_poll = \"100ms\"\n",
		"flash bounds":  "[timing]\nidle_flash_min = \"10s\"\nidle_flash_max = \"2s\"\n",
		"syntax error":  "[audio\n",
		"alpha too big": "[color]\nbeat_alpha = 300\n",
	}
	for name, input := range cases {
		_, err := LoadFromReader(strings.NewReader(input))
		assert.Error(t, err, name)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("EMOTIVE_MPV_SOCKET", "/run/user/1000/mpv")
	t.Setenv("EMOTIVE_UNIFORMS", "/tmp/u")
	t.Setenv("EMOTIVE_BULB", "192.168.1.50")

	cfg, err := LoadFromReader(strings.NewReader(""))
	require.NoError(t, err)
	assert.Equal(t, "/run/user/1000/mpv", cfg.Video.MPVSocket)
	assert.Equal(t, "/tmp/u", cfg.Output.UniformsPath)
	assert.Equal(t, "192.168.1.50", cfg.Output.Bulb)
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadFromFile(filepath.Join(dir, "missing.toml"))
	require.NoError(t, err)
	assert.Equal(t, Default().Timing, cfg.Timing)

	path := filepath.Join(dir, "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[video]\nwindow_matches = [\"twitch\"]\n"), 0o644))
	cfg, err = LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"twitch"}, cfg.Video.WindowMatches)
}

func TestLoadUsesXDGConfigHome(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, appName), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, appName, "config.toml"), []byte("[audio]\nsample_rate = 48000\n"), 0o644))

	assert.Equal(t, filepath.Join(dir, appName, "config.toml"), SearchPaths()[0])

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 48000.0, cfg.Audio.SampleRate)
}

func TestDurationText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("1.2s")))
	assert.Equal(t, 1200*time.Millisecond, d.Duration)

	text, err := d.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "1.2s", string(text))

	require.NoError(t, d.UnmarshalText(nil))
	assert.Zero(t, d.Duration)
}
