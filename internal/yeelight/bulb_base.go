package yeelight

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/rotisserie/eris"
)

// bulbBase holds the connection and the command set shared by the regular
// and the music mode bulb. commandCallback decides whether a command waits
// for a reply.
type bulbBase struct {
	addr   netip.AddrPort
	logger *slog.Logger

	mu              sync.Mutex
	conn            net.Conn
	lastCommandID   int
	power           PowerStatus
	rgb             uint
	brightness      uint8
	commandCallback func(context.Context, command) ([]string, error)
}

// Addr is the bulb's TCP address.
func (bb *bulbBase) Addr() netip.AddrPort {
	return bb.addr
}

// Close closes the connection.
func (bb *bulbBase) Close() error {
	bb.mu.Lock()
	defer bb.mu.Unlock()

	if bb.conn == nil {
		return nil
	}
	err := bb.conn.Close()
	bb.conn = nil
	return err
}

// TurnOn powers the bulb on.
func (bb *bulbBase) TurnOn(ctx context.Context, effect Effect, duration int) error {
	if _, err := bb.executeCommand(ctx, "set_power", "on", effect, duration); err != nil {
		return err
	}

	bb.mu.Lock()
	bb.power = PowerOn
	bb.mu.Unlock()
	return nil
}

// SetRGB sets the color. duration is in milliseconds and ignored for Sudden.
func (bb *bulbBase) SetRGB(ctx context.Context, r, g, b uint8, effect Effect, duration int) error {
	rgb := RGBToInt(r, g, b)

	if _, err := bb.executeCommand(ctx, "set_rgb", rgb, effect, duration); err != nil {
		return err
	}

	bb.mu.Lock()
	bb.rgb = rgb
	bb.mu.Unlock()
	return nil
}

// SetBrightness sets brightness in percent (1..100).
func (bb *bulbBase) SetBrightness(ctx context.Context, brightness uint8, effect Effect, duration int) error {
	if brightness < 1 || brightness > 100 {
		return eris.Wrap(ErrBrightnessInvalid, "failed to set brightness")
	}

	if _, err := bb.executeCommand(ctx, "set_bright", brightness, effect, duration); err != nil {
		return err
	}

	bb.mu.Lock()
	bb.brightness = brightness
	bb.mu.Unlock()
	return nil
}

// State returns the last values sent to the bulb. On a regular connection
// they were also acknowledged.
func (bb *bulbBase) State() (PowerStatus, uint, uint8) {
	bb.mu.Lock()
	defer bb.mu.Unlock()
	return bb.power, bb.rgb, bb.brightness
}

func (bb *bulbBase) executeCommand(ctx context.Context, method string, params ...any) ([]string, error) {
	bb.mu.Lock()
	defer bb.mu.Unlock()

	if bb.conn == nil {
		return nil, eris.New("bulb is not connected")
	}

	select {
	case <-ctx.Done():
		return nil, eris.Wrap(ctx.Err(), "failed to execute command")
	default:
	}

	bb.lastCommandID++
	cmd := newCommand(bb.lastCommandID, method, params...)
	line, err := cmd.line()
	if err != nil {
		return nil, err
	}

	bb.logger.Debug("executing command",
		slog.String("addr", bb.addr.String()),
		slog.Int("id", cmd.ID),
		slog.String("method", method),
		slog.Any("params", cmd.Params),
	)

	if err := bb.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
		return nil, eris.Wrap(err, "failed to set write deadline")
	}
	if _, err = bb.conn.Write(line); err != nil {
		return nil, eris.Wrap(err, "failed to write command to connection")
	}

	return bb.commandCallback(ctx, cmd)
}
