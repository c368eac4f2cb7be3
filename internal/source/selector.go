// Package source picks the base color from the highest-priority source that
// currently answers: live video, album art, then the desktop wallpaper.
package source

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/cybre/emotive-engine/internal/rgba"
)

var (
	// ErrNoFrame means no live video source is available.
	ErrNoFrame = eris.New("no video frame available")
	// ErrNoArtwork means the player exposes no usable artwork.
	ErrNoArtwork = eris.New("no artwork available")
	// ErrNoWallpaper means no wallpaper could be resolved.
	ErrNoWallpaper = eris.New("no wallpaper found")
)

// VideoFrameProvider samples the most recent frame of a live video source.
type VideoFrameProvider interface {
	VideoColor(ctx context.Context) (rgba.Color, error)
}

// MetadataColorProvider derives a color from a player's current artwork.
type MetadataColorProvider interface {
	ArtworkColor(ctx context.Context, player string) (rgba.Color, error)
}

// WallpaperColorProvider derives a color from the desktop background.
type WallpaperColorProvider interface {
	WallpaperColor(ctx context.Context) (rgba.Color, error)
}

// Presence is either no player or a playing player identified by PlayerID.
type Presence struct {
	PlayerID string
}

// NoPlayer is the idle presence.
var NoPlayer = Presence{}

// Playing returns the presence for player id.
func Playing(id string) Presence {
	return Presence{PlayerID: id}
}

// IsPlaying reports whether a qualifying player is active.
func (p Presence) IsPlaying() bool {
	return p.PlayerID != ""
}

func (p Presence) String() string {
	if !p.IsPlaying() {
		return "none"
	}
	return p.PlayerID
}

// Origin names the source a base color came from.
type Origin int

const (
	OriginNeutral Origin = iota
	OriginWallpaper
	OriginArtwork
	OriginVideo
)

func (o Origin) String() string {
	switch o {
	case OriginVideo:
		return "video"
	case OriginArtwork:
		return "album-art"
	case OriginWallpaper:
		return "wallpaper"
	default:
		return "neutral"
	}
}

// Config tunes caching and call deadlines.
type Config struct {
	// VideoInterval is the minimum time between two video samples.
	VideoInterval time.Duration
	// WallpaperTTL is how long a wallpaper color stays fresh.
	WallpaperTTL time.Duration
	// WallpaperRetry spaces out refresh attempts after a failure.
	WallpaperRetry time.Duration
	// CallTimeout bounds every provider call.
	CallTimeout time.Duration
	// Neutral is returned when nothing else is available.
	Neutral rgba.Color
}

// DefaultConfig mirrors the engine's stock timings.
func DefaultConfig() Config {
	return Config{
		VideoInterval:  450 * time.Millisecond,
		WallpaperTTL:   30 * time.Second,
		WallpaperRetry: 2 * time.Second,
		CallTimeout:    2500 * time.Millisecond,
		Neutral:        rgba.Neutral,
	}
}

type cacheEntry struct {
	value     rgba.Color
	refreshed time.Time
	valid     bool
}

func (c cacheEntry) fresh(now time.Time, ttl time.Duration) bool {
	return c.valid && now.Sub(c.refreshed) < ttl
}

// Selector resolves base colors. Any provider may be nil, which counts as a
// permanent failure of that source. It is safe for concurrent use.
type Selector struct {
	video     VideoFrameProvider
	artwork   MetadataColorProvider
	wallpaper WallpaperColorProvider
	cfg       Config
	logger    *slog.Logger
	now       func() time.Time

	mu               sync.Mutex
	videoCache       cacheEntry
	wallpaperCache   cacheEntry
	wallpaperAttempt time.Time
}

// NewSelector wires the three providers.
func NewSelector(video VideoFrameProvider, artwork MetadataColorProvider, wallpaper WallpaperColorProvider, cfg Config, logger *slog.Logger) *Selector {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig().CallTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Selector{
		video:     video,
		artwork:   artwork,
		wallpaper: wallpaper,
		cfg:       cfg,
		logger:    logger,
		now:       time.Now,
	}
}

// BaseColor returns the opaque base color for presence, never failing.
func (s *Selector) BaseColor(ctx context.Context, presence Presence) (rgba.Color, Origin) {
	if presence.IsPlaying() {
		if c, ok := s.videoColor(ctx); ok {
			return c, OriginVideo
		}
		if c, ok := s.artworkColor(ctx, presence.PlayerID); ok {
			return c, OriginArtwork
		}
	}
	return s.Wallpaper(ctx)
}

// Wallpaper returns the cached wallpaper baseline, refreshing it when stale.
// Failed refreshes keep the previous value; before any success the neutral
// color is returned.
func (s *Selector) Wallpaper(ctx context.Context) (rgba.Color, Origin) {
	now := s.now()

	s.mu.Lock()
	cached := s.wallpaperCache
	retryBlocked := !s.wallpaperAttempt.IsZero() && now.Sub(s.wallpaperAttempt) < s.cfg.WallpaperRetry
	if cached.fresh(now, s.cfg.WallpaperTTL) || retryBlocked {
		s.mu.Unlock()
		return s.fallback(cached)
	}
	s.wallpaperAttempt = now
	s.mu.Unlock()

	if s.wallpaper == nil {
		return s.fallback(cached)
	}

	c, err := callWithTimeout(ctx, s.cfg.CallTimeout, s.wallpaper.WallpaperColor)
	if err != nil {
		s.logger.Debug("wallpaper color unavailable", slog.Any("error", err))
		return s.fallback(cached)
	}

	s.mu.Lock()
	s.wallpaperCache = cacheEntry{value: c, refreshed: now, valid: true}
	s.wallpaperAttempt = time.Time{}
	s.mu.Unlock()

	return c, OriginWallpaper
}

func (s *Selector) fallback(cached cacheEntry) (rgba.Color, Origin) {
	if cached.valid {
		return cached.value, OriginWallpaper
	}
	return s.cfg.Neutral, OriginNeutral
}

func (s *Selector) videoColor(ctx context.Context) (rgba.Color, bool) {
	now := s.now()

	s.mu.Lock()
	cached := s.videoCache
	s.mu.Unlock()
	if cached.fresh(now, s.cfg.VideoInterval) {
		return cached.value, true
	}

	if s.video == nil {
		return rgba.Color{}, false
	}

	c, err := callWithTimeout(ctx, s.cfg.CallTimeout, s.video.VideoColor)
	if err != nil {
		s.logger.Debug("video frame color unavailable", slog.Any("error", err))
		return rgba.Color{}, false
	}

	s.mu.Lock()
	s.videoCache = cacheEntry{value: c, refreshed: now, valid: true}
	s.mu.Unlock()
	return c, true
}

func (s *Selector) artworkColor(ctx context.Context, player string) (rgba.Color, bool) {
	if s.artwork == nil {
		return rgba.Color{}, false
	}

	c, err := callWithTimeout(ctx, s.cfg.CallTimeout, func(ctx context.Context) (rgba.Color, error) {
		return s.artwork.ArtworkColor(ctx, player)
	})
	if err != nil {
		s.logger.Debug("album art color unavailable", slog.String("player", player), slog.Any("error", err))
		return rgba.Color{}, false
	}
	return c, true
}

func callWithTimeout(ctx context.Context, timeout time.Duration, fn func(context.Context) (rgba.Color, error)) (rgba.Color, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(ctx)
}
