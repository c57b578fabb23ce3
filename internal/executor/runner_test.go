package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShellRunnerCapturesOutput(t *testing.T) {
	runner := NewShellRunner()

	res, err := runner.Run(context.Background(), "echo hello; echo world >&2", nil, "")

	require.NoError(t, err)
	assert.Zero(t, res.ExitCode)
	assert.Contains(t, res.Output, "hello")
	assert.Contains(t, res.Output, "world")
}

func TestShellRunnerNonZeroExitIsNotAnError(t *testing.T) {
	runner := NewShellRunner()

	res, err := runner.Run(context.Background(), "echo failing; exit 3", nil, "")

	require.NoError(t, err)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.Output, "failing")
}

func TestShellRunnerEnvAndDir(t *testing.T) {
	runner := NewShellRunner()
	dir := t.TempDir()

	res, err := runner.Run(context.Background(), "echo $MATRIXCI_CHANNEL; pwd",
		[]string{"MATRIXCI_CHANNEL=nightly"}, dir)

	require.NoError(t, err)
	assert.Contains(t, res.Output, "nightly")
	assert.Contains(t, res.Output, dir)
}

func TestShellRunnerContextCancellation(t *testing.T) {
	runner := NewShellRunner()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := runner.Run(ctx, "sleep 10", nil, "")

	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
