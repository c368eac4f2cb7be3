package yeelight

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// musicBulb acknowledges control commands and, on set_music, dials back to
// the requested listener and records what arrives there. It never replies on
// the music connection.
func musicBulb(t *testing.T) (string, <-chan command, <-chan command) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	control := make(chan command, 16)
	music := make(chan command, 16)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		scanner := bufio.NewScanner(conn)
		for scanner.Scan() {
			var cmd command
			if json.Unmarshal(scanner.Bytes(), &cmd) != nil {
				continue
			}
			control <- cmd
			_, _ = fmt.Fprintf(conn, `{"id":%d,"result":["ok"]}`+lineEnding, cmd.ID)

			if cmd.Method != "set_music" || cmd.Params[0] != float64(1) {
				continue
			}
			target := net.JoinHostPort(cmd.Params[1].(string), fmt.Sprint(cmd.Params[2]))
			back, err := net.Dial("tcp", target)
			if err != nil {
				return
			}
			go func() {
				defer back.Close()
				s := bufio.NewScanner(back)
				for s.Scan() {
					var cmd command
					if json.Unmarshal(s.Bytes(), &cmd) == nil {
						music <- cmd
					}
				}
			}()
		}
	}()

	return ln.Addr().String(), control, music
}

func TestMusicModeRoundTrip(t *testing.T) {
	addr, control, music := musicBulb(t)

	bulb, err := NewBulbFromAddress(addr)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, bulb.Connect(ctx))
	defer bulb.Close()

	mb, err := bulb.EnableMusicMode(ctx, 0)
	require.NoError(t, err)
	defer mb.Close()

	enable := <-control
	assert.Equal(t, "set_music", enable.Method)
	assert.Equal(t, "127.0.0.1", enable.Params[1])
	assert.NotZero(t, enable.Params[2])

	start := time.Now()
	require.NoError(t, mb.SetRGB(ctx, 0xff, 0x00, 0x80, Sudden, 0))
	require.NoError(t, mb.SetBrightness(ctx, 40, Sudden, 0))
	assert.Less(t, time.Since(start), time.Second, "music mode writes must not wait for replies")

	rgb := <-music
	assert.Equal(t, "set_rgb", rgb.Method)
	assert.Equal(t, float64(0xff0080), rgb.Params[0])
	assert.Equal(t, "set_bright", (<-music).Method)

	_, color, brightness := mb.State()
	assert.Equal(t, uint(0xff0080), color)
	assert.Equal(t, uint8(40), brightness)

	require.NoError(t, bulb.DisableMusicMode(ctx))
	disable := <-control
	assert.Equal(t, []any{float64(0)}, disable.Params)
}

func TestEnableMusicModeRequiresConnection(t *testing.T) {
	bulb, err := NewBulbFromAddress("127.0.0.1:1")
	require.NoError(t, err)

	_, err = bulb.EnableMusicMode(context.Background(), 0)
	assert.Error(t, err)
}
