package sink

import (
	"context"
	"log/slog"
	"math"
	"time"

	"github.com/cybre/emotive-engine/internal/rgba"
	"github.com/cybre/emotive-engine/internal/utils"
	"github.com/cybre/emotive-engine/internal/yeelight"
)

const defaultBulbSpacing = 25 * time.Millisecond

// BulbClient is the part of a yeelight bulb the sink drives. Both
// *yeelight.MusicModeBulb and *yeelight.Bulb satisfy it.
type BulbClient interface {
	SetRGB(ctx context.Context, r, g, b uint8, effect yeelight.Effect, duration int) error
	SetBrightness(ctx context.Context, brightness uint8, effect yeelight.Effect, duration int) error
}

// Bulb mirrors the emitted color on a Yeelight. Alpha maps to brightness.
// SetColor only records the latest color; Run writes it to the bulb, at most
// once per spacing, skipping values the bulb already shows.
type Bulb struct {
	colorOnly

	bulb    BulbClient
	spacing time.Duration
	logger  *slog.Logger
	pending chan rgba.Color

	lastRGB        [3]uint8
	lastBrightness uint8
}

// NewBulb wraps a connected bulb. Nothing is sent until Run is started.
func NewBulb(bulb BulbClient, logger *slog.Logger) *Bulb {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bulb{
		bulb:    bulb,
		spacing: defaultBulbSpacing,
		logger:  logger,
		pending: make(chan rgba.Color, 1),
	}
}

// SetColor replaces the queued color and never blocks.
func (s *Bulb) SetColor(_ context.Context, c rgba.Color, _ bool) error {
	for {
		select {
		case s.pending <- c:
			return nil
		default:
		}
		select {
		case <-s.pending:
		default:
		}
	}
}

// Run drains queued colors until ctx is done.
func (s *Bulb) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c := <-s.pending:
			if err := s.apply(ctx, c); err != nil {
				s.logger.Debug("failed to update bulb", slog.String("color", c.Hex()), slog.Any("error", err))
			}
			if err := utils.Sleep(ctx, s.spacing); err != nil {
				return err
			}
		}
	}
}

func (s *Bulb) apply(ctx context.Context, c rgba.Color) error {
	rgb := [3]uint8{c.R, c.G, c.B}
	brightness := uint8(utils.Clamp(int(math.Round(float64(c.A)/255*100)), 1, 100))

	if rgb != s.lastRGB {
		if err := s.bulb.SetRGB(ctx, c.R, c.G, c.B, yeelight.Sudden, 0); err != nil {
			return err
		}
		s.lastRGB = rgb
	}
	if brightness != s.lastBrightness {
		if err := s.bulb.SetBrightness(ctx, brightness, yeelight.Sudden, 0); err != nil {
			return err
		}
		s.lastBrightness = brightness
	}
	return nil
}
