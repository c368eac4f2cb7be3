package mpris

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybre/emotive-engine/internal/artwork"
	"github.com/cybre/emotive-engine/internal/rgba"
	"github.com/cybre/emotive-engine/internal/source"
)

type fakePlayer struct {
	meta   map[string]dbus.Variant
	status string
}

type fakeBus struct {
	players map[string]fakePlayer
	calls   []string
	listErr error
}

func (b *fakeBus) ListNames(context.Context) ([]string, error) {
	if b.listErr != nil {
		return nil, b.listErr
	}
	names := []string{"org.freedesktop.DBus", ":1.42"}
	for id := range b.players {
		names = append(names, busPrefix+id)
	}
	return names, nil
}

func (b *fakeBus) Property(_ context.Context, service, name string) (dbus.Variant, error) {
	p, ok := b.players[service[len(busPrefix):]]
	if !ok {
		return dbus.Variant{}, eris.New("no such service")
	}
	switch name {
	case playerIface + ".Metadata":
		return dbus.MakeVariant(p.meta), nil
	case playerIface + ".PlaybackStatus":
		return dbus.MakeVariant(p.status), nil
	}
	return dbus.Variant{}, eris.New("no such property")
}

func (b *fakeBus) Call(_ context.Context, service, method string) error {
	b.calls = append(b.calls, service+" "+method)
	return nil
}

func track(title, artist string, extra ...string) map[string]dbus.Variant {
	m := map[string]dbus.Variant{}
	if title != "" {
		m["xesam:title"] = dbus.MakeVariant(title)
	}
	if artist != "" {
		m["xesam:artist"] = dbus.MakeVariant([]string{artist})
	}
	for i := 0; i+1 < len(extra); i += 2 {
		m[extra[i]] = dbus.MakeVariant(extra[i+1])
	}
	return m
}

func newTestClient(bus Bus) *Client {
	return NewClient(bus, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestActivePlayerPrefersPlaying(t *testing.T) {
	bus := &fakeBus{players: map[string]fakePlayer{
		"cmus":    {meta: track("Song", "Band"), status: "Paused"},
		"spotify": {meta: track("Other", "Artist"), status: "Playing"},
	}}

	player, err := newTestClient(bus).ActivePlayer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "spotify", player)
}

func TestActivePlayerFallsBackToPausedPlayer(t *testing.T) {
	bus := &fakeBus{players: map[string]fakePlayer{
		"cmus": {meta: track("Song", "", "mpris:trackid", "/track/1"), status: "Paused"},
	}}

	player, err := newTestClient(bus).ActivePlayer(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "cmus", player)
}

func TestActivePlayerSkipsVoiceApps(t *testing.T) {
	bus := &fakeBus{players: map[string]fakePlayer{
		"vesktop":  {meta: track("Call", "Friends"), status: "Playing"},
		"chromium": {meta: track("Standup", "", "xesam:url", "https://discord.com/channels/1"), status: "Playing"},
		"firefox":  {meta: track("", ""), status: "Playing"},
	}}

	_, err := newTestClient(bus).ActivePlayer(context.Background())
	assert.True(t, eris.Is(err, ErrNoPlayer))
}

func TestActivePlayerCustomExclusions(t *testing.T) {
	bus := &fakeBus{players: map[string]fakePlayer{
		"spotify": {meta: track("Song", "Band"), status: "Playing"},
	}}
	client := NewClient(bus, nil, WithExclusions([]string{"  SPOTIFY "}), WithTimeout(time.Second))

	_, err := client.ActivePlayer(context.Background())
	assert.True(t, eris.Is(err, ErrNoPlayer))
}

func TestActivePlayerListError(t *testing.T) {
	bus := &fakeBus{listErr: eris.New("bus gone")}
	_, err := newTestClient(bus).ActivePlayer(context.Background())
	assert.Error(t, err)
}

func TestPauseTargetsActivePlayer(t *testing.T) {
	bus := &fakeBus{players: map[string]fakePlayer{
		"spotify": {meta: track("Song", "Band"), status: "Playing"},
	}}

	require.NoError(t, newTestClient(bus).Pause(context.Background()))
	assert.Equal(t, []string{"org.mpris.MediaPlayer2.spotify org.mpris.MediaPlayer2.Player.Pause"}, bus.calls)
}

func TestMetadataAccessors(t *testing.T) {
	meta := Metadata(track("Title", "Artist", "mpris:artUrl", "file:///tmp/a.png"))
	assert.Equal(t, "Title", meta.Title())
	assert.Equal(t, "Artist", meta.Artist())
	assert.Equal(t, "file:///tmp/a.png", meta.ArtURL())
	assert.Empty(t, meta.String("missing"))

	single := Metadata{"xesam:artist": dbus.MakeVariant("Solo")}
	assert.Equal(t, []string{"Solo"}, single.Strings("xesam:artist"))
}

func TestArtworkColorSamplesArtURL(t *testing.T) {
	path := filepath.Join(t.TempDir(), "art.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	img := solidImage(8, color.NRGBA{R: 10, G: 20, B: 30, A: 0xff})
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())

	bus := &fakeBus{players: map[string]fakePlayer{
		"spotify": {meta: track("Song", "Band", "mpris:artUrl", "file://"+path), status: "Playing"},
		"mpv":     {meta: track("Clip", ""), status: "Playing"},
	}}
	provider := NewArtworkProvider(newTestClient(bus), artwork.NewLoader(time.Second), nil)

	c, err := provider.ArtworkColor(context.Background(), "spotify")
	require.NoError(t, err)
	assert.Equal(t, rgba.MustParse("#0a141ecc"), c)

	_, err = provider.ArtworkColor(context.Background(), "mpv")
	assert.True(t, eris.Is(err, source.ErrNoArtwork))
}

func solidImage(size int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := range size {
		for x := range size {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}
