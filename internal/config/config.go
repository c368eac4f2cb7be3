// Package config loads the engine settings from TOML.
package config

import (
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rotisserie/eris"

	"github.com/cybre/emotive-engine/internal/rgba"
)

const appName = "emotive-engine"

// Config is the full configuration file.
type Config struct {
	Audio   AudioConfig   `toml:"audio"`
	Timing  TimingConfig  `toml:"timing"`
	Color   ColorConfig   `toml:"color"`
	Players PlayersConfig `toml:"players"`
	Output  OutputConfig  `toml:"output"`
	Video   VideoConfig   `toml:"video"`
}

// AudioConfig selects the capture device and analysis frame size.
type AudioConfig struct {
	SampleRate float64 `toml:"sample_rate"`
	// WindowSize is the analysis window; the hop is half of it.
	WindowSize int `toml:"window_size"`
	// Device is a device name substring or index; empty prompts or uses the default.
	Device string `toml:"device"`
}

// TimingConfig holds every loop and animation interval.
type TimingConfig struct {
	UpdateRate          Duration `toml:"update_rate"`
	PlayerPoll          Duration `toml:"player_poll"`
	BeatWindow          Duration `toml:"beat_window"`
	BeatTolerance       Duration `toml:"beat_tolerance"`
	IdleFlashMin        Duration `toml:"idle_flash_min"`
	IdleFlashMax        Duration `toml:"idle_flash_max"`
	IdleSleep           Duration `toml:"idle_sleep"`
	PlayingSleep        Duration `toml:"playing_sleep"`
	VideoSampleInterval Duration `toml:"video_sample_interval"`
	WallpaperTTL        Duration `toml:"wallpaper_ttl"`
	IdleFade            Duration `toml:"idle_fade"`
	BeatFade            Duration `toml:"beat_fade"`
	SteadyFade          Duration `toml:"steady_fade"`
	FlashHold           Duration `toml:"flash_hold"`
	FlashOut            Duration `toml:"flash_out"`
	FlashIn             Duration `toml:"flash_in"`
}

// ColorConfig shapes the emitted color.
type ColorConfig struct {
	Neutral          rgba.Color `toml:"neutral"`
	BeatBrightness   float64    `toml:"beat_brightness"`
	SteadyBrightness float64    `toml:"steady_brightness"`
	BeatAlpha        uint8      `toml:"beat_alpha"`
	SteadyAlpha      uint8      `toml:"steady_alpha"`
	// Sampling is "mean" or "prominent".
	Sampling string `toml:"sampling"`
}

// PlayersConfig filters MPRIS players.
type PlayersConfig struct {
	Exclude []string `toml:"exclude"`
}

// CSSTarget is one stylesheet variable to keep in sync.
type CSSTarget struct {
	Path     string `toml:"path"`
	Variable string `toml:"variable"`
}

// OutputConfig enables the sinks.
type OutputConfig struct {
	Hyprland         bool        `toml:"hyprland"`
	HyprlandKeywords []string    `toml:"hyprland_keywords"`
	CSS              []CSSTarget `toml:"css"`
	UniformsPath     string      `toml:"uniforms_path"`
	Bulb             string      `toml:"bulb"`
	// BulbMusicMode drives the bulb over a music mode connection, which the
	// bulb neither answers nor rate limits.
	BulbMusicMode bool `toml:"bulb_music_mode"`
	// BulbMusicPort is the local port the bulb connects back to. 0 picks one
	// in 55000..59999.
	BulbMusicPort uint16 `toml:"bulb_music_port"`
}

// VideoConfig locates video sources.
type VideoConfig struct {
	MPVSocket     string   `toml:"mpv_socket"`
	WindowMatches []string `toml:"window_matches"`
}

// Load reads the first config file found in the search path, or returns the
// defaults when none exists.
func Load() (*Config, error) {
	for _, p := range SearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return LoadFromFile(p)
		}
	}
	cfg := Default()
	applyEnvOverrides(cfg)
	return cfg, nil
}

// LoadFromFile reads configuration from path. A missing file yields defaults.
func LoadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, eris.Wrapf(err, "open config %s", path)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, eris.Wrapf(err, "load config %s", path)
	}
	return cfg, nil
}

// LoadFromReader decodes TOML over the defaults and applies env overrides.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if _, err := toml.NewDecoder(r).Decode(cfg); err != nil {
		return nil, eris.Wrap(err, "decode config")
	}
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the stock configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	configHome := xdgConfigHome(home)

	return &Config{
		Audio: AudioConfig{
			SampleRate: 44100,
			WindowSize: 1024,
		},
		Timing: TimingConfig{
			UpdateRate:          Duration{time.Second / 30},
			PlayerPoll:          Duration{1200 * time.Millisecond},
			BeatWindow:          Duration{8 * time.Second},
			BeatTolerance:       Duration{90 * time.Millisecond},
			IdleFlashMin:        Duration{6 * time.Second},
			IdleFlashMax:        Duration{9 * time.Second},
			IdleSleep:           Duration{20 * time.Millisecond},
			PlayingSleep:        Duration{5 * time.Millisecond},
			VideoSampleInterval: Duration{450 * time.Millisecond},
			WallpaperTTL:        Duration{30 * time.Second},
			IdleFade:            Duration{800 * time.Millisecond},
			BeatFade:            Duration{110 * time.Millisecond},
			SteadyFade:          Duration{350 * time.Millisecond},
			FlashHold:           Duration{350 * time.Millisecond},
			FlashOut:            Duration{400 * time.Millisecond},
			FlashIn:             Duration{600 * time.Millisecond},
		},
		Color: ColorConfig{
			Neutral:          rgba.Neutral,
			BeatBrightness:   1.45,
			SteadyBrightness: 1.0,
			BeatAlpha:        0xff,
			SteadyAlpha:      0xcc,
			Sampling:         "mean",
		},
		Players: PlayersConfig{
			Exclude: []string{
				"discord", "vesktop", "voice", "audacity", "studio one", "reaper",
				"obs", "input", "microphone", "webcord", "armcord",
			},
		},
		Output: OutputConfig{
			Hyprland: true,
			CSS: []CSSTarget{
				{Path: filepath.Join(configHome, "hyprpanel", "style.css"), Variable: "--panel-accent-color"},
				{Path: filepath.Join(configHome, "nwg-dock-hyprland", "style.css"), Variable: "--emotive-accent"},
			},
			UniformsPath:  "/tmp/emotive_engine_uniforms",
			BulbMusicMode: true,
		},
		Video: VideoConfig{
			MPVSocket:     "/tmp/mpv-socket",
			WindowMatches: []string{"youtube", "spotify"},
		},
	}
}

// Validate rejects settings the engine cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.Audio.SampleRate <= 0:
		return eris.Errorf("audio.sample_rate must be positive, got %v", c.Audio.SampleRate)
	case c.Audio.WindowSize < 2 || c.Audio.WindowSize%2 != 0:
		return eris.Errorf("audio.window_size must be an even number >= 2, got %d", c.Audio.WindowSize)
	case c.Timing.UpdateRate.Duration <= 0:
		return eris.New("timing.update_rate must be positive")
	case c.Timing.PlayerPoll.Duration < 1200*time.Millisecond:
		return eris.Errorf("timing.player_poll must be at least 1.2s, got %s", c.Timing.PlayerPoll)
	case c.Timing.IdleFlashMax.Duration < c.Timing.IdleFlashMin.Duration:
		return eris.New("timing.idle_flash_max must not be below idle_flash_min")
	case c.Color.BeatBrightness < 0 || c.Color.SteadyBrightness < 0:
		return eris.New("color brightness multipliers must not be negative")
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("EMOTIVE_MPV_SOCKET"); v != "" {
		cfg.Video.MPVSocket = v
	}
	if v := os.Getenv("EMOTIVE_UNIFORMS"); v != "" {
		cfg.Output.UniformsPath = v
	}
	if v := os.Getenv("EMOTIVE_BULB"); v != "" {
		cfg.Output.Bulb = v
	}
}

// SearchPaths lists candidate config files in lookup order.
func SearchPaths() []string {
	home, _ := os.UserHomeDir()
	xdg := xdgConfigHome(home)
	paths := []string{filepath.Join(xdg, appName, "config.toml")}

	defaultXDG := filepath.Join(home, ".config")
	if xdg != defaultXDG {
		paths = append(paths, filepath.Join(defaultXDG, appName, "config.toml"))
	}
	return paths
}

func xdgConfigHome(home string) string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return v
	}
	return filepath.Join(home, ".config")
}
