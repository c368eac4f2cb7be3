package yeelight

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

type commandError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *commandError) Error() string {
	return fmt.Sprintf("%s (%d)", e.Message, e.Code)
}

type commandResult struct {
	ID     int           `json:"id"`
	Result []string      `json:"result"`
	Error  *commandError `json:"error"`
}

// Bulb is a connected bulb. Commands are serialized; replies are matched by id.
type Bulb struct {
	bulbBase

	results chan commandResult
}

func newBulb(addr netip.AddrPort) *Bulb {
	results := make(chan commandResult, 8)
	return &Bulb{
		bulbBase: bulbBase{
			addr:            addr,
			logger:          slog.Default(),
			commandCallback: getCommandExecutionCallback(results, timeout),
		},
		results: results,
	}
}

// Connect dials the bulb and starts reading replies until ctx is done or the
// connection closes.
func (bb *Bulb) Connect(ctx context.Context) error {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", bb.addr.String())
	if err != nil {
		return eris.Wrap(err, "failed to connect to bulb")
	}

	bb.mu.Lock()
	bb.conn = conn
	bb.mu.Unlock()

	go bb.readMessages(ctx, conn)

	return nil
}

func (bb *Bulb) readMessages(ctx context.Context, conn net.Conn) {
	addr := bb.addr.String()
	scanner := bufio.NewScanner(conn)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "{\"id\":") {
			// property notifications are not tracked
			continue
		}
		bb.decodeCommandResult(line, addr)
	}

	if err := scanner.Err(); err != nil && !eris.Is(err, net.ErrClosed) {
		bb.logger.Error("failed to read data from bulb connection",
			slog.String("addr", addr),
			slog.Any("error", err),
		)
	}
}

func (bb *Bulb) decodeCommandResult(line, addr string) {
	var result commandResult
	if err := json.Unmarshal([]byte(line), &result); err != nil {
		bb.logger.Error("failed to unmarshal command result",
			slog.String("addr", addr),
			slog.String("json", line),
			slog.Any("error", err),
		)
		return
	}

	select {
	case bb.results <- result:
	default:
		bb.logger.Warn("dropping unclaimed command result", slog.String("addr", addr), slog.Int("id", result.ID))
	}
}

// getCommandExecutionCallback waits for the reply matching cmd, discarding
// stale replies to earlier commands that already timed out.
func getCommandExecutionCallback(results <-chan commandResult, wait time.Duration) func(context.Context, command) ([]string, error) {
	return func(ctx context.Context, cmd command) ([]string, error) {
		timer := time.NewTimer(wait)
		defer timer.Stop()

		for {
			select {
			case result := <-results:
				if result.ID != cmd.ID {
					continue
				}
				if result.Error != nil {
					return nil, eris.Wrapf(result.Error, "bulb rejected %s", cmd)
				}
				if len(result.Result) == 1 && result.Result[0] == "ok" {
					return nil, nil
				}
				return result.Result, nil
			case <-timer.C:
				return nil, eris.Errorf("%s timed out", cmd)
			case <-ctx.Done():
				return nil, eris.Wrapf(ctx.Err(), "waiting for %s", cmd)
			}
		}
	}
}
