package shell

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCapturesStdout(t *testing.T) {
	out, err := Run(context.Background(), "sh", "-c", "printf hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(out))
}

func TestRunReportsFailure(t *testing.T) {
	_, err := Run(context.Background(), "sh", "-c", "echo nope >&2; exit 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nope")
}

func TestRunHonoursTimeout(t *testing.T) {
	run := WithTimeout(Run, 50*time.Millisecond)

	start := time.Now()
	_, err := run(context.Background(), "sleep", "5")
	require.Error(t, err)
	assert.True(t, eris.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestRunMissingBinary(t *testing.T) {
	_, err := Run(context.Background(), "definitely-not-a-real-binary-xyz")
	assert.Error(t, err)
}
