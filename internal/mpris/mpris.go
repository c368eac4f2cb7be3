// Package mpris finds the active media player on the session bus and reads
// its track metadata.
package mpris

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rotisserie/eris"

	"github.com/cybre/emotive-engine/internal/artwork"
	"github.com/cybre/emotive-engine/internal/rgba"
	"github.com/cybre/emotive-engine/internal/source"
)

const (
	busPrefix   = "org.mpris.MediaPlayer2."
	objectPath  = "/org/mpris/MediaPlayer2"
	playerIface = "org.mpris.MediaPlayer2.Player"

	statusPlaying = "Playing"

	// DefaultTimeout bounds each bus round trip.
	DefaultTimeout = 1200 * time.Millisecond
)

// DefaultExclusions names voice and recording apps that expose MPRIS but
// should never drive the lights.
var DefaultExclusions = []string{
	"discord", "vesktop", "voice", "audacity", "studio one", "reaper",
	"obs", "input", "microphone", "webcord", "armcord",
}

// ErrNoPlayer is returned when no qualifying player is on the bus.
var ErrNoPlayer = eris.New("no active player")

// Bus is the subset of the session bus the client uses.
type Bus interface {
	ListNames(ctx context.Context) ([]string, error)
	Property(ctx context.Context, service, name string) (dbus.Variant, error)
	Call(ctx context.Context, service, method string) error
}

// Metadata is a player's xesam/mpris metadata map.
type Metadata map[string]dbus.Variant

// String returns the string value under key, or "".
func (m Metadata) String(key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	s, _ := v.Value().(string)
	return s
}

// Strings returns key as a list, accepting either a single string or a list.
func (m Metadata) Strings(key string) []string {
	v, ok := m[key]
	if !ok {
		return nil
	}
	switch typed := v.Value().(type) {
	case []string:
		return typed
	case string:
		if typed == "" {
			return nil
		}
		return []string{typed}
	default:
		return nil
	}
}

// Title is xesam:title.
func (m Metadata) Title() string { return m.String("xesam:title") }

// Artist is the first xesam:artist entry.
func (m Metadata) Artist() string {
	if artists := m.Strings("xesam:artist"); len(artists) > 0 {
		return artists[0]
	}
	return ""
}

// ArtURL is mpris:artUrl.
func (m Metadata) ArtURL() string { return m.String("mpris:artUrl") }

// text flattens keys and values into one lowercase string for keyword matching.
func (m Metadata) text() string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteByte(' ')
		switch typed := m[k].Value().(type) {
		case string:
			b.WriteString(typed)
		case []string:
			b.WriteString(strings.Join(typed, " "))
		default:
			fmt.Fprint(&b, typed)
		}
		b.WriteByte('\n')
	}
	return strings.ToLower(b.String())
}

// Client queries MPRIS players over a Bus.
type Client struct {
	bus        Bus
	exclusions []string
	timeout    time.Duration
	logger     *slog.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithExclusions replaces the exclusion keyword list.
func WithExclusions(keywords []string) Option {
	return func(c *Client) {
		c.exclusions = c.exclusions[:0]
		for _, k := range keywords {
			if k = strings.ToLower(strings.TrimSpace(k)); k != "" {
				c.exclusions = append(c.exclusions, k)
			}
		}
	}
}

// WithTimeout bounds every bus call.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient wraps bus.
func NewClient(bus Bus, logger *slog.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		bus:        bus,
		exclusions: slices.Clone(DefaultExclusions),
		timeout:    DefaultTimeout,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ActivePlayer returns the short name of a qualifying player. Players that
// report Playing win over paused ones; ties go to bus name order.
func (c *Client) ActivePlayer(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	names, err := c.bus.ListNames(ctx)
	if err != nil {
		return "", eris.Wrap(err, "list bus names")
	}

	var players []string
	for _, name := range names {
		if strings.HasPrefix(name, busPrefix) {
			players = append(players, name)
		}
	}
	sort.Strings(players)

	fallback := ""
	for _, service := range players {
		meta, err := c.metadata(ctx, service)
		if err != nil {
			c.logger.Debug("skipping player", slog.String("player", service), slog.Any("error", err))
			continue
		}
		if !c.qualifies(service, meta) {
			continue
		}

		id := strings.TrimPrefix(service, busPrefix)
		if c.status(ctx, service) == statusPlaying {
			return id, nil
		}
		if fallback == "" {
			fallback = id
		}
	}

	if fallback == "" {
		return "", ErrNoPlayer
	}
	return fallback, nil
}

// Metadata returns the metadata of player.
func (c *Client) Metadata(ctx context.Context, player string) (Metadata, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	return c.metadata(ctx, serviceName(player))
}

// Pause asks the active player to pause. It is the audio failure side channel.
func (c *Client) Pause(ctx context.Context) error {
	player, err := c.ActivePlayer(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := c.bus.Call(ctx, serviceName(player), playerIface+".Pause"); err != nil {
		return eris.Wrapf(err, "pause %s", player)
	}
	return nil
}

func (c *Client) qualifies(service string, meta Metadata) bool {
	if meta.Title() == "" && meta.Artist() == "" {
		return false
	}

	haystack := strings.ToLower(service) + "\n" + meta.text()
	for _, keyword := range c.exclusions {
		if strings.Contains(haystack, keyword) {
			return false
		}
	}
	return true
}

func (c *Client) metadata(ctx context.Context, service string) (Metadata, error) {
	v, err := c.bus.Property(ctx, service, playerIface+".Metadata")
	if err != nil {
		return nil, eris.Wrapf(err, "get metadata of %s", service)
	}

	meta, ok := v.Value().(map[string]dbus.Variant)
	if !ok {
		return nil, eris.Errorf("unexpected metadata type %T", v.Value())
	}
	return meta, nil
}

func (c *Client) status(ctx context.Context, service string) string {
	v, err := c.bus.Property(ctx, service, playerIface+".PlaybackStatus")
	if err != nil {
		return ""
	}
	s, _ := v.Value().(string)
	return s
}

func serviceName(player string) string {
	if strings.HasPrefix(player, busPrefix) {
		return player
	}
	return busPrefix + player
}

// ArtworkProvider samples the current album art of a player.
type ArtworkProvider struct {
	client  *Client
	loader  *artwork.Loader
	sampler artwork.Sampler
}

// NewArtworkProvider joins metadata lookup with image loading.
func NewArtworkProvider(client *Client, loader *artwork.Loader, sampler artwork.Sampler) *ArtworkProvider {
	if sampler == nil {
		sampler = artwork.MeanColor
	}
	return &ArtworkProvider{client: client, loader: loader, sampler: sampler}
}

// ArtworkColor fetches and samples the artwork of player.
func (p *ArtworkProvider) ArtworkColor(ctx context.Context, player string) (rgba.Color, error) {
	meta, err := p.client.Metadata(ctx, player)
	if err != nil {
		return rgba.Color{}, err
	}

	uri := meta.ArtURL()
	if uri == "" {
		return rgba.Color{}, eris.Wrapf(source.ErrNoArtwork, "%s has no art url", player)
	}

	img, err := p.loader.Open(ctx, uri)
	if err != nil {
		return rgba.Color{}, err
	}
	return p.sampler(img)
}

// SessionBus adapts a godbus connection to Bus.
type SessionBus struct {
	conn *dbus.Conn
}

// ConnectSessionBus opens a private session bus connection.
func ConnectSessionBus() (*SessionBus, error) {
	conn, err := dbus.ConnectSessionBus()
	if err != nil {
		return nil, eris.Wrap(err, "connect session bus")
	}
	return &SessionBus{conn: conn}, nil
}

// Close releases the connection.
func (b *SessionBus) Close() error {
	return b.conn.Close()
}

func (b *SessionBus) ListNames(ctx context.Context) ([]string, error) {
	var names []string
	err := b.conn.BusObject().CallWithContext(ctx, "org.freedesktop.DBus.ListNames", 0).Store(&names)
	return names, err
}

func (b *SessionBus) Property(ctx context.Context, service, name string) (dbus.Variant, error) {
	dot := strings.LastIndex(name, ".")
	if dot < 0 {
		return dbus.Variant{}, eris.Errorf("property %q has no interface", name)
	}

	var v dbus.Variant
	err := b.conn.Object(service, objectPath).
		CallWithContext(ctx, "org.freedesktop.DBus.Properties.Get", 0, name[:dot], name[dot+1:]).
		Store(&v)
	return v, err
}

func (b *SessionBus) Call(ctx context.Context, service, method string) error {
	return b.conn.Object(service, objectPath).CallWithContext(ctx, method, 0).Err
}
