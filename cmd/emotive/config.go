package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gordonklaus/portaudio"
	"github.com/rotisserie/eris"

	"github.com/cybre/emotive-engine/internal/config"
	"github.com/cybre/emotive-engine/internal/ui"
)

func loadConfig(opts runtimeOptions) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.LoadFromFile(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}

	if opts.bulbAddr != "" {
		cfg.Output.Bulb = opts.bulbAddr
	}
	if opts.noHyprland {
		cfg.Output.Hyprland = false
	}
	if opts.sampleRate > 0 {
		cfg.Audio.SampleRate = opts.sampleRate
	}
	return cfg, nil
}

func selectDevice(
	devices []*portaudio.DeviceInfo,
	defaultDeviceIndex int,
	opts runtimeOptions,
	cfg *config.Config,
) (*portaudio.DeviceInfo, error) {
	if len(devices) == 0 {
		return nil, eris.New("no input devices available")
	}

	if opts.deviceIndex >= 0 {
		if opts.deviceIndex >= len(devices) {
			return nil, eris.Errorf("invalid device index %d", opts.deviceIndex)
		}
		return devices[opts.deviceIndex], nil
	}

	if cfg.Audio.Device != "" {
		idx, err := matchDevice(devices, cfg.Audio.Device)
		if err != nil {
			return nil, err
		}
		return devices[idx], nil
	}

	initialDevice := effectiveInitialDeviceIndex(-1, defaultDeviceIndex, len(devices))

	result, err := ui.RunSetup(
		buildDeviceOptions(devices),
		ui.SetupConfig{
			Sink:          describeOutputs(cfg),
			InitialDevice: initialDevice,
		},
	)
	if err != nil {
		if eris.Is(err, ui.ErrNoInteractiveTTY) {
			return devices[initialDevice], nil
		}
		return nil, err
	}

	return devices[result.DeviceIndex], nil
}

// matchDevice resolves a configured device given as an index or a
// case-insensitive name fragment.
func matchDevice(devices []*portaudio.DeviceInfo, want string) (int, error) {
	if idx, err := strconv.Atoi(want); err == nil {
		if idx < 0 || idx >= len(devices) {
			return 0, eris.Errorf("invalid device index %d", idx)
		}
		return idx, nil
	}

	want = strings.ToLower(want)
	for i, dev := range devices {
		if dev.MaxInputChannels > 0 && strings.Contains(strings.ToLower(dev.Name), want) {
			return i, nil
		}
	}
	return 0, eris.Errorf("no input device matches %q", want)
}

func describeOutputs(cfg *config.Config) string {
	var outputs []string
	if cfg.Output.Hyprland {
		outputs = append(outputs, "hyprland")
	}
	if n := len(cfg.Output.CSS); n > 0 {
		outputs = append(outputs, fmt.Sprintf("css×%d", n))
	}
	if cfg.Output.UniformsPath != "" {
		outputs = append(outputs, "uniforms")
	}
	if cfg.Output.Bulb != "" {
		outputs = append(outputs, "yeelight "+cfg.Output.Bulb)
	}
	return strings.Join(outputs, " · ")
}

func buildDeviceOptions(devices []*portaudio.DeviceInfo) []ui.Option {
	options := make([]ui.Option, len(devices))
	for i, dev := range devices {
		options[i] = ui.Option{
			Label: fmt.Sprintf(
				"[%d] %s · %.0fHz · in:%d · latency:%.1fms",
				i,
				dev.Name,
				dev.DefaultSampleRate,
				dev.MaxInputChannels,
				dev.DefaultLowInputLatency.Seconds()*1000,
			),
		}
	}
	return options
}

func effectiveInitialDeviceIndex(requested, fallback, length int) int {
	if length == 0 {
		return 0
	}
	if requested >= 0 && requested < length {
		return requested
	}
	if fallback >= 0 && fallback < length {
		return fallback
	}
	return 0
}

func buildLoopConfig(device *portaudio.DeviceInfo, cfg *config.Config, opts runtimeOptions) loopConfig {
	return loopConfig{
		Device:     device,
		SampleRate: effectiveSampleRate(cfg.Audio.SampleRate, device.DefaultSampleRate),
		WindowSize: cfg.Audio.WindowSize,
		Channels:   sanitizeChannelCount(opts.channels, int(device.MaxInputChannels)),
		Latency:    opts.latency,
		Visualize:  opts.visualize,
	}
}

func sanitizeChannelCount(requested, max int) int {
	if requested <= 0 {
		return 1
	}

	if max > 0 && requested > max {
		return max
	}

	return requested
}

func effectiveSampleRate(requested, deviceDefault float64) float64 {
	if requested > 0 {
		return requested
	}

	if deviceDefault > 0 {
		return deviceDefault
	}

	return 44100
}
