package yeelight

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetCommandExecutionCallbackSuccess(t *testing.T) {
	results := make(chan commandResult, 1)
	callback := getCommandExecutionCallback(results, 50*time.Millisecond)

	cmd := command{ID: 1}
	results <- commandResult{ID: 1, Result: []string{"value"}}

	resp, err := callback(context.Background(), cmd)
	assert.NoError(t, err)
	assert.Equal(t, []string{"value"}, resp)
}

func TestGetCommandExecutionCallbackError(t *testing.T) {
	results := make(chan commandResult, 1)
	callback := getCommandExecutionCallback(results, 50*time.Millisecond)

	cmd := command{ID: 2, Method: "test", Params: []any{"a"}}
	results <- commandResult{
		ID:    2,
		Error: &commandError{Code: 500, Message: "boom"},
	}

	_, err := callback(context.Background(), cmd)
	assert.Error(t, err)
}

func TestGetCommandExecutionCallbackTimeout(t *testing.T) {
	results := make(chan commandResult)
	callback := getCommandExecutionCallback(results, 30*time.Millisecond)

	_, err := callback(context.Background(), command{ID: 3})
	assert.Error(t, err)
}

func TestGetCommandExecutionCallbackSkipsStaleReplies(t *testing.T) {
	results := make(chan commandResult, 2)
	callback := getCommandExecutionCallback(results, 50*time.Millisecond)

	results <- commandResult{ID: 3, Result: []string{"late"}}
	results <- commandResult{ID: 4, Result: []string{"ok"}}

	resp, err := callback(context.Background(), command{ID: 4})
	assert.NoError(t, err)
	assert.Nil(t, resp)
}

// fakeBulb acknowledges every command and records its method.
func fakeBulb(t *testing.T) (string, <-chan command) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	received := make(chan command, 16)
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
			received <- cmd
			_, _ = conn.Write([]byte(`{"method":"props","params":{"power":"on"}}` + lineEnding))
			_, _ = fmt.Fprintf(conn, `{"id":%d,"result":["ok"]}`+lineEnding, cmd.ID)
		}
	}()

	return ln.Addr().String(), received
}

func TestBulbRoundTrip(t *testing.T) {
	addr, received := fakeBulb(t)

	bulb, err := NewBulbFromAddress(addr)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, bulb.Connect(ctx))
	defer bulb.Close()

	require.NoError(t, bulb.TurnOn(ctx, Smooth, 300))
	require.NoError(t, bulb.SetRGB(ctx, 0x12, 0x34, 0x56, Sudden, 0))
	require.NoError(t, bulb.SetBrightness(ctx, 80, Sudden, 0))

	assert.Equal(t, "set_power", (<-received).Method)
	rgb := <-received
	assert.Equal(t, "set_rgb", rgb.Method)
	assert.Equal(t, float64(0x123456), rgb.Params[0])
	assert.Equal(t, "set_bright", (<-received).Method)

	power, color, brightness := bulb.State()
	assert.Equal(t, PowerOn, power)
	assert.Equal(t, uint(0x123456), color)
	assert.Equal(t, uint8(80), brightness)
}

func TestSetBrightnessValidatesRange(t *testing.T) {
	bulb, err := NewBulbFromAddress("127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, uint16(defaultBulbPort), bulb.Addr().Port())

	err = bulb.SetBrightness(context.Background(), 0, Sudden, 0)
	assert.True(t, eris.Is(err, ErrBrightnessInvalid))
}

func TestCommandsRequireConnection(t *testing.T) {
	bulb, err := NewBulbFromAddress("127.0.0.1:1")
	require.NoError(t, err)
	assert.Error(t, bulb.SetRGB(context.Background(), 1, 2, 3, Sudden, 0))
	assert.NoError(t, bulb.Close())
}

func TestRGBToInt(t *testing.T) {
	assert.Equal(t, uint(0xff8000), RGBToInt(0xff, 0x80, 0x00))
}
