// Package video samples colors from whatever video is on screen: mpv over its
// JSON IPC socket, or a browser/player window captured through Hyprland.
package video

import (
	"bufio"
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rotisserie/eris"

	"github.com/cybre/emotive-engine/internal/artwork"
	"github.com/cybre/emotive-engine/internal/rgba"
	"github.com/cybre/emotive-engine/internal/source"
	"github.com/cybre/emotive-engine/internal/utils"
)

const (
	// DefaultSocket is where mpv is expected to expose --input-ipc-server.
	DefaultSocket = "/tmp/mpv-socket"

	defaultReplyTimeout = 1200 * time.Millisecond
	defaultSettle       = 60 * time.Millisecond
	defaultLateGrace    = 3 * time.Second
	staleFrameAge       = time.Minute
	framePattern        = "emotive-frame-*.jpg"
	ipcLineEnding       = "\n"
)

type ipcCommand struct {
	Command   []any `json:"command"`
	RequestID int64 `json:"request_id"`
}

func (c ipcCommand) line() ([]byte, error) {
	b, err := json.Marshal(c)
	if err != nil {
		return nil, eris.Wrap(err, "failed to marshal mpv command")
	}
	return append(b, ipcLineEnding...), nil
}

type ipcReply struct {
	RequestID int64  `json:"request_id"`
	Error     string `json:"error"`
	Event     string `json:"event"`
}

// MPV grabs the current video frame from a running mpv instance.
type MPV struct {
	socket  string
	timeout time.Duration
	settle  time.Duration
	grace   time.Duration
	tempDir string
	sampler artwork.Sampler
	logger  *slog.Logger

	lastRequestID atomic.Int64
}

// NewMPV talks to the mpv IPC socket at path.
func NewMPV(path string, sampler artwork.Sampler, logger *slog.Logger) *MPV {
	if path == "" {
		path = DefaultSocket
	}
	if sampler == nil {
		sampler = artwork.MeanColor
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &MPV{
		socket:  path,
		timeout: defaultReplyTimeout,
		settle:  defaultSettle,
		grace:   defaultLateGrace,
		sampler: sampler,
		logger:  logger,
	}
}

// VideoColor asks mpv for a screenshot of the video layer and samples it.
func (m *MPV) VideoColor(ctx context.Context) (rgba.Color, error) {
	if _, err := os.Stat(m.socket); err != nil {
		return rgba.Color{}, eris.Wrapf(source.ErrNoFrame, "mpv socket %s", m.socket)
	}

	m.sweepStaleFrames()

	frame, err := os.CreateTemp(m.tempDir, framePattern)
	if err != nil {
		return rgba.Color{}, eris.Wrap(err, "create frame file")
	}
	path := frame.Name()
	frame.Close()

	if err := m.screenshot(ctx, path); err != nil {
		return rgba.Color{}, err
	}
	defer os.Remove(path)

	if err := utils.Sleep(ctx, m.settle); err != nil {
		return rgba.Color{}, err
	}

	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return rgba.Color{}, eris.Wrap(source.ErrNoFrame, "mpv wrote no frame")
	}

	img, err := imaging.Open(path)
	if err != nil {
		return rgba.Color{}, eris.Wrap(err, "open mpv frame")
	}
	return m.sampler(img)
}

// screenshot has mpv write the video layer to path. On failure path is
// removed, right away if mpv answered and otherwise once its late reply
// arrives or the grace period ends.
func (m *MPV) screenshot(ctx context.Context, path string) error {
	args := []any{"screenshot-to-file", path, "video"}

	conn, id, err := m.send(ctx, args...)
	if err != nil {
		os.Remove(path)
		return err
	}

	answered, err := m.await(conn, id, args[0])
	if err == nil || answered {
		conn.Close()
		if err != nil {
			os.Remove(path)
		}
		return err
	}

	go m.removeAfterReply(conn, id, path)
	return err
}

// removeAfterReply waits for the reply to a command that already timed out,
// since mpv writes the frame before answering.
func (m *MPV) removeAfterReply(conn net.Conn, id int64, path string) {
	defer conn.Close()
	defer os.Remove(path)

	if err := conn.SetReadDeadline(time.Now().Add(m.grace)); err != nil {
		return
	}
	if _, err := m.await(conn, id, "screenshot-to-file"); err != nil {
		m.logger.Debug("mpv never finished the screenshot", slog.String("path", path), slog.Any("error", err))
	}
}

// sweepStaleFrames removes frames a previous call gave up on after the grace
// period.
func (m *MPV) sweepStaleFrames() {
	dir := m.tempDir
	if dir == "" {
		dir = os.TempDir()
	}
	matches, err := filepath.Glob(filepath.Join(dir, framePattern))
	if err != nil {
		return
	}
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || time.Since(info.ModTime()) < staleFrameAge {
			continue
		}
		if err := os.Remove(path); err == nil {
			m.logger.Debug("removed stale mpv frame", slog.String("path", path))
		}
	}
}

// send dials mpv and writes one command. The connection deadline is the
// earlier of ctx's deadline and the reply timeout.
func (m *MPV) send(ctx context.Context, args ...any) (net.Conn, int64, error) {
	deadline := time.Now().Add(m.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	dialCtx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(dialCtx, "unix", m.socket)
	if err != nil {
		return nil, 0, eris.Wrap(err, "failed to connect to mpv")
	}

	if err := conn.SetDeadline(deadline); err != nil {
		conn.Close()
		return nil, 0, eris.Wrap(err, "set mpv deadline")
	}

	cmd := ipcCommand{Command: args, RequestID: m.lastRequestID.Add(1)}
	line, err := cmd.line()
	if err != nil {
		conn.Close()
		return nil, 0, err
	}

	m.logger.Debug("executing mpv command", slog.Int64("id", cmd.RequestID), slog.Any("command", args))

	if _, err := conn.Write(line); err != nil {
		conn.Close()
		return nil, 0, eris.Wrap(err, "failed to write command to mpv")
	}
	return conn, cmd.RequestID, nil
}

// await reads replies until the one for id. answered reports whether mpv
// replied to the command at all.
func (m *MPV) await(conn net.Conn, id int64, name any) (bool, error) {
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		var reply ipcReply
		if err := json.Unmarshal(scanner.Bytes(), &reply); err != nil {
			m.logger.Debug("skipping malformed mpv reply", slog.String("json", scanner.Text()))
			continue
		}
		if reply.Event != "" || reply.RequestID != id {
			continue
		}
		if reply.Error != "success" {
			return true, eris.Wrapf(source.ErrNoFrame, "mpv %v: %s", name, reply.Error)
		}
		return true, nil
	}

	if err := scanner.Err(); err != nil {
		return false, eris.Wrap(err, "failed to read mpv reply")
	}
	return false, eris.New("mpv closed the connection without replying")
}
