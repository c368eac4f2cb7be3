package dsp

import (
	"math"
	"slices"
	"time"

	"github.com/mjibson/go-dsp/fft"
	"github.com/rotisserie/eris"
)

var (
	// ErrFrameSize is returned when a hop does not match the configured hop size.
	ErrFrameSize = eris.New("frame size mismatch")
	// ErrNonFinite is returned when a hop contains NaN or infinite samples.
	ErrNonFinite = eris.New("non-finite sample")
)

// OnsetOptions tunes the OnsetDetector. Zero values fall back to defaults.
type OnsetOptions struct {
	WindowSize  int
	HopSize     int
	SampleRate  float64
	Sensitivity float64
	MinInterval time.Duration
	History     time.Duration
	SilenceDB   float64
}

func (o OnsetOptions) withDefaults() OnsetOptions {
	if o.WindowSize <= 0 {
		o.WindowSize = 1024
	}
	if o.HopSize <= 0 || o.HopSize > o.WindowSize {
		o.HopSize = o.WindowSize / 2
	}
	if o.SampleRate <= 0 {
		o.SampleRate = 44100
	}
	if o.Sensitivity <= 0 {
		o.Sensitivity = 1.5
	}
	if o.MinInterval <= 0 {
		o.MinInterval = 200 * time.Millisecond
	}
	if o.History <= 0 {
		o.History = 750 * time.Millisecond
	}
	if o.SilenceDB == 0 {
		o.SilenceDB = -70
	}
	return o
}

const (
	minHistoryFrames = 8
	tempoIntervals   = 12
	minBPM           = 60.0
	maxBPM           = 200.0
)

// OnsetDetector is a streaming spectral-flux beat tracker. Each call to Process
// consumes one hop of new samples, analyses the last WindowSize samples, and
// reports whether the hop carries a rhythmic onset.
type OnsetDetector struct {
	opts OnsetOptions

	ring     []float64
	window   []float64
	windowed []float64
	prevMag  []float64

	history    []float64
	historyIdx int
	historyLen int

	hops         int64
	lastOnsetHop int64
	minGapHops   int64
	intervals    []float64
	tempo        *Smoother
}

// NewOnsetDetector constructs a detector for (window, hop, sample rate).
func NewOnsetDetector(opts OnsetOptions) *OnsetDetector {
	opts = opts.withDefaults()

	hopSeconds := float64(opts.HopSize) / opts.SampleRate
	historyFrames := max(int(math.Ceil(opts.History.Seconds()/hopSeconds)), minHistoryFrames)

	return &OnsetDetector{
		opts:         opts,
		ring:         make([]float64, opts.WindowSize),
		window:       HannWindow(opts.WindowSize),
		windowed:     make([]float64, opts.WindowSize),
		prevMag:      make([]float64, opts.WindowSize/2+1),
		history:      make([]float64, historyFrames),
		lastOnsetHop: -1,
		minGapHops:   int64(math.Ceil(opts.MinInterval.Seconds() / hopSeconds)),
		tempo:        NewSmoother(0.25),
	}
}

// HopSize returns the number of samples Process expects per call.
func (d *OnsetDetector) HopSize() int {
	return d.opts.HopSize
}

// BPM returns the smoothed tempo estimate, or 0 before enough onsets were seen.
func (d *OnsetDetector) BPM() float64 {
	return d.tempo.Value()
}

// Process analyses one hop and reports whether an onset was detected.
func (d *OnsetDetector) Process(hop []float64) (bool, error) {
	if len(hop) != d.opts.HopSize {
		return false, eris.Wrapf(ErrFrameSize, "got %d samples, want %d", len(hop), d.opts.HopSize)
	}
	for _, s := range hop {
		if math.IsNaN(s) || math.IsInf(s, 0) {
			return false, eris.Wrap(ErrNonFinite, "hop rejected")
		}
	}

	copy(d.ring, d.ring[d.opts.HopSize:])
	copy(d.ring[len(d.ring)-d.opts.HopSize:], hop)
	d.hops++

	for i, s := range d.ring {
		d.windowed[i] = s * d.window[i]
	}
	spectrum := fft.FFTReal(d.windowed)

	var flux float64
	for i := range d.prevMag {
		mag := math.Log1p(cmplxAbs(spectrum[i]))
		if diff := mag - d.prevMag[i]; diff > 0 {
			flux += diff
		}
		d.prevMag[i] = mag
	}

	threshold, warmedUp := d.threshold()
	d.pushHistory(flux)

	if !warmedUp || Decibels(RootMeanSquare(hop)) < d.opts.SilenceDB {
		return false, nil
	}
	if flux <= threshold {
		return false, nil
	}
	if d.lastOnsetHop >= 0 && d.hops-d.lastOnsetHop < d.minGapHops {
		return false, nil
	}

	d.recordOnset()
	return true, nil
}

func (d *OnsetDetector) threshold() (float64, bool) {
	if d.historyLen < minHistoryFrames {
		return 0, false
	}
	var sum, sumSquares float64
	for _, v := range d.history[:d.historyLen] {
		sum += v
		sumSquares += v * v
	}
	n := float64(d.historyLen)
	mean := sum / n
	variance := max(sumSquares/n-mean*mean, 0)
	return mean + d.opts.Sensitivity*math.Sqrt(variance) + 1e-3, true
}

func (d *OnsetDetector) pushHistory(flux float64) {
	d.history[d.historyIdx] = flux
	d.historyIdx = (d.historyIdx + 1) % len(d.history)
	if d.historyLen < len(d.history) {
		d.historyLen++
	}
}

func (d *OnsetDetector) recordOnset() {
	if d.lastOnsetHop >= 0 {
		seconds := float64(d.hops-d.lastOnsetHop) * float64(d.opts.HopSize) / d.opts.SampleRate
		d.intervals = append(d.intervals, seconds)
		if len(d.intervals) > tempoIntervals {
			d.intervals = d.intervals[len(d.intervals)-tempoIntervals:]
		}
		if bpm := foldTempo(60 / median(d.intervals)); bpm > 0 {
			d.tempo.Step(bpm)
		}
	}
	d.lastOnsetHop = d.hops
}

// foldTempo doubles or halves bpm until it lands in the musical range.
func foldTempo(bpm float64) float64 {
	if bpm <= 0 || math.IsInf(bpm, 0) || math.IsNaN(bpm) {
		return 0
	}
	for bpm < minBPM {
		bpm *= 2
	}
	for bpm > maxBPM {
		bpm /= 2
	}
	return bpm
}

func median(values []float64) float64 {
	sorted := slices.Clone(values)
	slices.Sort(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
