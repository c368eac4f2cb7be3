package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/rotisserie/eris"
	"golang.org/x/sync/errgroup"

	"github.com/cybre/emotive-engine/internal/artwork"
	"github.com/cybre/emotive-engine/internal/beat"
	"github.com/cybre/emotive-engine/internal/config"
	"github.com/cybre/emotive-engine/internal/controller"
	"github.com/cybre/emotive-engine/internal/fader"
	"github.com/cybre/emotive-engine/internal/idle"
	"github.com/cybre/emotive-engine/internal/mpris"
	"github.com/cybre/emotive-engine/internal/rgba"
	"github.com/cybre/emotive-engine/internal/shell"
	"github.com/cybre/emotive-engine/internal/sink"
	"github.com/cybre/emotive-engine/internal/source"
	"github.com/cybre/emotive-engine/internal/ui"
	"github.com/cybre/emotive-engine/internal/video"
	"github.com/cybre/emotive-engine/internal/wallpaper"
	"github.com/cybre/emotive-engine/internal/yeelight"
)

const (
	hyprctlTimeout   = 500 * time.Millisecond
	flashStep        = 10 * time.Millisecond
	musicModeTimeout = 2 * time.Second
)

type loopConfig struct {
	Device     *portaudio.DeviceInfo
	SampleRate float64
	WindowSize int
	Channels   int
	Latency    time.Duration
	Visualize  bool
}

func main() {
	opts := parseCLIFlags()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := runEngine(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func runEngine(ctx context.Context, opts runtimeOptions) error {
	logger := setupLogger(opts.debug, opts.visualize)

	cfg, err := loadConfig(opts)
	if err != nil {
		return eris.Wrap(err, "load configuration")
	}

	if err := portaudio.Initialize(); err != nil {
		return eris.Wrap(err, "initialize PortAudio")
	}
	defer portaudio.Terminate()

	devices, err := portaudio.Devices()
	if err != nil {
		return eris.Wrap(err, "enumerate audio devices")
	}

	defaultDevice, err := portaudio.DefaultInputDevice()
	if err != nil {
		return eris.Wrap(err, "resolve default audio input device")
	}

	device, err := selectDevice(devices, defaultDevice.Index, opts, cfg)
	if err != nil {
		return eris.Wrap(err, "select device")
	}
	if device.MaxInputChannels < 1 {
		return eris.Errorf("device %s has no input channels; select a loopback/monitor device", device.Name)
	}

	loopCfg := buildLoopConfig(device, cfg, opts)

	if opts.channels > 0 && opts.channels > int(device.MaxInputChannels) {
		logger.Warn("requested channels exceed device capabilities",
			slog.Int("requested", opts.channels),
			slog.Int("max", int(device.MaxInputChannels)),
			slog.Int("using", loopCfg.Channels),
		)
	}

	if err := run(ctx, logger, cfg, loopCfg); err != nil && !eris.Is(err, context.Canceled) {
		logger.Error("emotive engine failed", slog.Any("error", err))
		return err
	}

	return nil
}

func setupLogger(debug, visualize bool) *slog.Logger {
	logOutput := os.Stdout
	logLevel := slog.LevelInfo
	if debug {
		logLevel = slog.LevelDebug
	}
	if visualize && !debug {
		logLevel = slog.LevelWarn
	}
	if visualize {
		logOutput = os.Stderr
	}

	logger := slog.New(slog.NewTextHandler(logOutput, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	return logger
}

func run(ctx context.Context, logger *slog.Logger, cfg *config.Config, loopCfg loopConfig) error {
	loopCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	out, err := buildSinks(loopCtx, logger, cfg)
	if err != nil {
		return err
	}
	defer out.Close()

	sampler := artwork.NewSampler(cfg.Color.Sampling)

	var (
		players controller.PlayerFinder
		pauser  beat.Pauser
		art     source.MetadataColorProvider
	)
	if bus, err := mpris.ConnectSessionBus(); err != nil {
		logger.Warn("session bus unavailable; player detection disabled", slog.Any("error", err))
	} else {
		defer bus.Close()
		client := mpris.NewClient(bus, logger, mpris.WithExclusions(cfg.Players.Exclude))
		players = client
		pauser = client
		art = mpris.NewArtworkProvider(client, artwork.NewLoader(source.DefaultConfig().CallTimeout), sampler)
	}

	frames := video.Chain{
		video.NewMPV(cfg.Video.MPVSocket, sampler, logger),
		video.NewWindowCapture(shell.Run, cfg.Video.WindowMatches, sampler),
	}
	backgrounds := wallpaper.NewFinder(shell.Run, wallpaper.RunningProcesses, sampler, logger)

	selCfg := source.DefaultConfig()
	selCfg.VideoInterval = cfg.Timing.VideoSampleInterval.Duration
	selCfg.WallpaperTTL = cfg.Timing.WallpaperTTL.Duration
	selCfg.Neutral = cfg.Color.Neutral
	selector := source.NewSelector(frames, art, backgrounds, selCfg, logger)

	guarded := fader.NewGuarded(fader.New(cfg.Color.Neutral))

	flashes := idle.NewScheduler(
		guarded,
		func(ctx context.Context) rgba.Color {
			c, _ := selector.Wallpaper(ctx)
			return c
		},
		out.sinks,
		idle.Timing{
			Hold:    cfg.Timing.FlashHold.Duration,
			FadeOut: cfg.Timing.FlashOut.Duration,
			FadeIn:  cfg.Timing.FlashIn.Duration,
			Step:    flashStep,
		},
		logger,
	)
	defer flashes.Wait()

	detector := beat.NewDetector(beat.DetectorConfig{
		SampleRate: loopCfg.SampleRate,
		WindowSize: loopCfg.WindowSize,
		Channels:   loopCfg.Channels,
	}, logger, pauser)

	params := controller.Params{
		Config:   controller.ConfigFrom(cfg),
		Beats:    detector,
		Players:  players,
		Selector: selector,
		Fader:    guarded,
		Flasher:  flashes,
		Sink:     out.sinks,
		Logger:   logger,
	}
	if loopCfg.Visualize {
		viz := ui.NewVisualizer(cancel)
		defer viz.Close()
		params.Visualizer = viz
	}

	engine, err := controller.NewEngine(params)
	if err != nil {
		return err
	}
	flashes.Observe(engine.ShowFlash)

	g, gctx := errgroup.WithContext(loopCtx)
	stop := context.AfterFunc(gctx, detector.Stop)
	defer stop()

	g.Go(func() error {
		return captureAudio(gctx, logger, detector, loopCfg)
	})

	g.Go(func() error {
		return engine.Run(gctx)
	})

	for _, worker := range out.workers {
		g.Go(func() error {
			return worker(gctx)
		})
	}

	if err := g.Wait(); err != nil {
		if eris.Is(err, context.Canceled) {
			return nil
		}
		return err
	}

	return nil
}

// outputs are the enabled sinks plus the background writers some of them
// need.
type outputs struct {
	sinks   sink.Multi
	workers []func(context.Context) error
	closers []func()
}

// Close releases outputs in reverse order of creation.
func (o *outputs) Close() {
	for i := len(o.closers) - 1; i >= 0; i-- {
		o.closers[i]()
	}
}

func buildSinks(ctx context.Context, logger *slog.Logger, cfg *config.Config) (*outputs, error) {
	out := &outputs{}

	if cfg.Output.Hyprland {
		out.sinks = append(out.sinks, sink.NewHyprland(shell.WithTimeout(shell.Run, hyprctlTimeout), cfg.Output.HyprlandKeywords))
	}
	for _, target := range cfg.Output.CSS {
		out.sinks = append(out.sinks, sink.NewCSSVariable(target.Path, target.Variable))
	}
	if cfg.Output.UniformsPath != "" {
		out.sinks = append(out.sinks, sink.NewUniformFile(cfg.Output.UniformsPath))
	}

	if cfg.Output.Bulb != "" {
		client, err := connectBulb(ctx, logger, cfg, out)
		if err != nil {
			out.Close()
			return nil, err
		}
		bulbSink := sink.NewBulb(client, logger)
		out.sinks = append(out.sinks, bulbSink)
		out.workers = append(out.workers, bulbSink.Run)
	}

	if len(out.sinks) == 0 {
		logger.Warn("no outputs enabled; colors are computed but not applied")
	}

	return out, nil
}

// connectBulb connects to the configured bulb and, when enabled, switches it
// to music mode. The regular connection is used if music mode fails.
func connectBulb(ctx context.Context, logger *slog.Logger, cfg *config.Config, out *outputs) (sink.BulbClient, error) {
	bulb, err := yeelight.NewBulbFromAddress(cfg.Output.Bulb)
	if err != nil {
		return nil, eris.Wrap(err, "parse bulb address")
	}
	if err := bulb.Connect(ctx); err != nil {
		return nil, err
	}
	out.closers = append(out.closers, func() {
		if err := bulb.Close(); err != nil {
			logger.Warn("failed to disconnect from bulb", slog.Any("error", err))
		} else {
			logger.Info("bulb disconnected")
		}
	})

	if err := bulb.TurnOn(ctx, yeelight.Smooth, 250); err != nil {
		logger.Warn("failed to turn on bulb", slog.Any("error", err))
	}
	logger.Info("using yeelight bulb", slog.String("addr", bulb.Addr().String()))

	if !cfg.Output.BulbMusicMode {
		return bulb, nil
	}

	port := cfg.Output.BulbMusicPort
	if port == 0 {
		port = randomMusicModePort()
	}
	logger.Info("starting music mode", slog.Int("port", int(port)))

	music, err := bulb.EnableMusicMode(ctx, port)
	if err != nil {
		logger.Warn("music mode unavailable; bulb updates may be rate limited", slog.Any("error", err))
		return bulb, nil
	}
	out.closers = append(out.closers, func() {
		if err := music.Close(); err != nil {
			logger.Warn("failed to close music mode connection", slog.Any("error", err))
		}
		disableCtx, cancel := context.WithTimeout(context.Background(), musicModeTimeout)
		defer cancel()
		if err := bulb.DisableMusicMode(disableCtx); err != nil {
			logger.Error("failed to disable music mode", slog.Any("error", err))
		} else {
			logger.Info("music mode disabled")
		}
	})
	return music, nil
}

func randomMusicModePort() uint16 {
	const base = 55000
	const span = 5000
	return uint16(base + rand.Intn(span))
}

func captureAudio(ctx context.Context, logger *slog.Logger, detector *beat.Detector, cfg loopConfig) error {
	if cfg.Device == nil {
		return eris.New("audio device is not specified")
	}

	logger.Info("using audio input device",
		slog.String("name", cfg.Device.Name),
		slog.Float64("sample_rate", cfg.SampleRate),
		slog.Int("channels", cfg.Channels),
		slog.Int("hop_size", detector.HopSize()))

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   cfg.Device,
			Channels: cfg.Channels,
			Latency:  cfg.Device.DefaultLowInputLatency,
		},
		SampleRate:      cfg.SampleRate,
		FramesPerBuffer: detector.HopSize(),
	}
	if cfg.Latency > 0 {
		params.Input.Latency = cfg.Latency
	}

	stream, err := portaudio.OpenStream(params, func(in []float32, flags portaudio.StreamCallbackFlags) {
		detector.Process(in, flags&(portaudio.InputOverflow|portaudio.InputUnderflow) != 0)
	})
	if err != nil {
		return eris.Wrap(err, "open audio stream")
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		return eris.Wrap(err, "start audio stream")
	}
	defer stream.Stop()

	<-ctx.Done()
	return ctx.Err()
}
