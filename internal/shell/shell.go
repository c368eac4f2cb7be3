// Package shell runs external helper programs with a hard deadline.
package shell

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
	"time"

	"github.com/rotisserie/eris"
)

// DefaultTimeout bounds commands run without an explicit deadline.
const DefaultTimeout = 2 * time.Second

// Runner executes a command and returns its stdout.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

// Run executes name with args, killing it once ctx expires. A ctx without a
// deadline gets DefaultTimeout.
func Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, DefaultTimeout)
		defer cancel()
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	cmd.WaitDelay = 500 * time.Millisecond

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, eris.Wrapf(ctx.Err(), "%s timed out", name)
		}
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, eris.Wrapf(err, "%s %s: %s", name, strings.Join(args, " "), msg)
		}
		return nil, eris.Wrapf(err, "%s %s", name, strings.Join(args, " "))
	}

	return out, nil
}

// WithTimeout wraps r so every invocation is bounded by timeout.
func WithTimeout(r Runner, timeout time.Duration) Runner {
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		return r(ctx, name, args...)
	}
}
