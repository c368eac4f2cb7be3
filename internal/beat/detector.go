// Package beat turns raw audio blocks into beat timestamps and keeps the
// sliding window the control loop reasons about.
package beat

import (
	"context"
	"log/slog"
	"math"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"

	"github.com/cybre/emotive-engine/internal/dsp"
)

const (
	defaultQueueSize     = 64
	defaultPauseCooldown = 5 * time.Second
	defaultPauseTimeout  = 2 * time.Second
)

// Pauser is the external "pause playback" action used to alert the user when
// analysis breaks.
type Pauser interface {
	Pause(ctx context.Context) error
}

// DetectorConfig describes the audio stream feeding the detector.
type DetectorConfig struct {
	SampleRate float64
	WindowSize int
	Channels   int
	QueueSize  int
	// PauseCooldown limits how often a failing stream triggers the pause action.
	PauseCooldown time.Duration
}

// Detector wraps the streaming onset analyzer. Process is meant to be called
// from the audio callback: it never blocks and never panics.
type Detector struct {
	onset    *dsp.OnsetDetector
	channels int
	logger   *slog.Logger
	pauser   Pauser
	now      func() time.Time

	events        chan time.Time
	mono          []float64
	stopped       atomic.Bool
	bpm           atomic.Uint64
	dropped       atomic.Int64
	failures      atomic.Int64
	lastPause     atomic.Int64
	pauseCooldown time.Duration
}

// NewDetector builds a detector analysing (WindowSize, WindowSize/2, SampleRate).
func NewDetector(cfg DetectorConfig, logger *slog.Logger, pauser Pauser) *Detector {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}
	if cfg.PauseCooldown <= 0 {
		cfg.PauseCooldown = defaultPauseCooldown
	}
	if logger == nil {
		logger = slog.Default()
	}

	onset := dsp.NewOnsetDetector(dsp.OnsetOptions{
		WindowSize: cfg.WindowSize,
		HopSize:    cfg.WindowSize / 2,
		SampleRate: cfg.SampleRate,
	})

	return &Detector{
		onset:         onset,
		channels:      cfg.Channels,
		logger:        logger,
		pauser:        pauser,
		now:           time.Now,
		events:        make(chan time.Time, cfg.QueueSize),
		mono:          make([]float64, 0, onset.HopSize()),
		pauseCooldown: cfg.PauseCooldown,
	}
}

// HopSize is the number of frames per block the audio source must deliver.
func (d *Detector) HopSize() int {
	return d.onset.HopSize()
}

// Events is the single-consumer queue of beat timestamps.
func (d *Detector) Events() <-chan time.Time {
	return d.events
}

// Stop makes every subsequent Process call a no-op.
func (d *Detector) Stop() {
	d.stopped.Store(true)
}

// BPM returns the latest tempo estimate.
func (d *Detector) BPM() float64 {
	return math.Float64frombits(d.bpm.Load())
}

// Dropped counts beats discarded because the queue was full.
func (d *Detector) Dropped() int64 {
	return d.dropped.Load()
}

// Failures counts blocks skipped because analysis failed.
func (d *Detector) Failures() int64 {
	return d.failures.Load()
}

// Process analyses one interleaved block. skip marks blocks the audio driver
// flagged (overflow/underflow); those are dropped without analysis.
func (d *Detector) Process(block []float32, skip bool) {
	if d.stopped.Load() || skip || len(block) == 0 {
		return
	}

	beat, err := d.analyse(block)
	if err != nil {
		d.fail(err)
		return
	}
	if !beat {
		return
	}

	select {
	case d.events <- d.now():
	default:
		d.dropped.Add(1)
	}
}

func (d *Detector) analyse(block []float32) (beat bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("onset analysis panicked: %v", r)
		}
	}()

	d.mono = dsp.FirstChannel(block, d.channels, d.mono)
	beat, err = d.onset.Process(d.mono)
	if err != nil {
		return false, eris.Wrap(err, "analyse audio block")
	}
	d.bpm.Store(math.Float64bits(d.onset.BPM()))
	return beat, nil
}

func (d *Detector) fail(err error) {
	d.failures.Add(1)
	d.logger.Error("audio callback error", slog.Any("error", err))

	if d.pauser == nil {
		return
	}
	now := d.now().UnixNano()
	last := d.lastPause.Load()
	if last != 0 && time.Duration(now-last) < d.pauseCooldown {
		return
	}
	if !d.lastPause.CompareAndSwap(last, now) {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), defaultPauseTimeout)
		defer cancel()
		if err := d.pauser.Pause(ctx); err != nil {
			d.logger.Warn("failed to pause playback", slog.Any("error", err))
		}
	}()
}
