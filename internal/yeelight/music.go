package yeelight

import (
	"context"
	"log/slog"
	"net"
	"net/netip"
	"time"

	"github.com/rotisserie/eris"
)

// MusicModeBulb is the connection a bulb opens back to us after set_music.
// Commands sent over it are neither answered nor rate limited by the bulb.
type MusicModeBulb struct {
	bulbBase
}

func newMusicModeBulb(addr netip.AddrPort, logger *slog.Logger, conn net.Conn) *MusicModeBulb {
	return &MusicModeBulb{
		bulbBase: bulbBase{
			addr:   addr,
			logger: logger,
			conn:   conn,
			commandCallback: func(context.Context, command) ([]string, error) {
				return nil, nil
			},
		},
	}
}

// EnableMusicMode asks the bulb to connect to a listener on port, on the
// local address of the control connection. Port 0 picks a free one. The
// returned bulb must be closed and music mode disabled when done.
func (bb *Bulb) EnableMusicMode(ctx context.Context, port uint16) (*MusicModeBulb, error) {
	bb.mu.Lock()
	conn := bb.conn
	bb.mu.Unlock()
	if conn == nil {
		return nil, eris.New("bulb is not connected")
	}

	local, err := netip.ParseAddrPort(conn.LocalAddr().String())
	if err != nil {
		return nil, eris.Wrap(err, "invalid local address")
	}
	ip := local.Addr().Unmap()

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", netip.AddrPortFrom(ip, port).String())
	if err != nil {
		return nil, eris.Wrap(err, "failed to start music mode listener")
	}
	defer ln.Close()

	listening, err := netip.ParseAddrPort(ln.Addr().String())
	if err != nil {
		return nil, eris.Wrap(err, "invalid listener address")
	}

	if _, err := bb.executeCommand(ctx, "set_music", 1, ip.String(), listening.Port()); err != nil {
		return nil, err
	}

	stop := context.AfterFunc(ctx, func() { ln.Close() })
	defer stop()
	if tcp, ok := ln.(*net.TCPListener); ok {
		if err := tcp.SetDeadline(time.Now().Add(timeout)); err != nil {
			return nil, eris.Wrap(err, "failed to set accept deadline")
		}
	}

	musicConn, err := ln.Accept()
	if err != nil {
		return nil, eris.Wrap(err, "failed to accept connection from bulb")
	}

	bb.logger.Info("music mode enabled",
		slog.String("addr", bb.addr.String()),
		slog.String("listener", listening.String()))

	return newMusicModeBulb(bb.addr, bb.logger, musicConn), nil
}

// DisableMusicMode returns the bulb to regular command handling.
func (bb *Bulb) DisableMusicMode(ctx context.Context) error {
	_, err := bb.executeCommand(ctx, "set_music", 0)
	return err
}
