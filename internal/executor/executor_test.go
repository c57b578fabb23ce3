package executor

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/matrixci/internal/cierrors"
	"git.home.luguber.info/inful/matrixci/internal/matrix"
)

// fakeRunner replays scripted results and records every invocation.
type fakeRunner struct {
	mu      sync.Mutex
	results map[string]CommandResult
	errs    map[string]error
	calls   []fakeCall
}

type fakeCall struct {
	command string
	env     []string
	dir     string
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{
		results: make(map[string]CommandResult),
		errs:    make(map[string]error),
	}
}

func (f *fakeRunner) Run(ctx context.Context, command string, env []string, dir string) (CommandResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fakeCall{command: command, env: env, dir: dir})
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return CommandResult{}, err
	}
	if err, ok := f.errs[command]; ok {
		return CommandResult{}, err
	}
	if res, ok := f.results[command]; ok {
		return res, nil
	}
	return CommandResult{Output: "ok\n", ExitCode: 0}, nil
}

func (f *fakeRunner) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.command
	}
	return out
}

func testLane() matrix.Lane {
	return matrix.Lane{
		ID:   "linux-stable",
		Vars: map[string]string{"image": "ubuntu-22.04", "channel": "stable"},
	}
}

func pipelineStages() []Stage {
	return []Stage{
		{Name: "build", Commands: []string{"cargo build --tests"}},
		{Name: "lint", Commands: []string{"cargo clippy -- -D warnings"}},
		{Name: "test", Commands: []string{"cargo test"}},
		{Name: "docs", Commands: []string{"cargo doc --no-deps"}},
	}
}

func TestRunLaneAllStagesSucceed(t *testing.T) {
	runner := newFakeRunner()
	exec := New(runner)

	result := exec.RunLane(context.Background(), testLane(), pipelineStages())

	require.Equal(t, LaneSucceeded, result.State)
	require.Len(t, result.Stages, 4)
	assert.True(t, result.Success())
	for _, sr := range result.Stages {
		assert.Equal(t, StageSucceeded, sr.Status)
		assert.Zero(t, sr.ExitCode)
	}
	assert.Equal(t, []string{
		"cargo build --tests",
		"cargo clippy -- -D warnings",
		"cargo test",
		"cargo doc --no-deps",
	}, runner.commands())
}

func TestRunLaneFailFastOnFirstStage(t *testing.T) {
	runner := newFakeRunner()
	runner.results["cargo build --tests"] = CommandResult{Output: "error[E0308]\n", ExitCode: 101}
	exec := New(runner)

	result := exec.RunLane(context.Background(), testLane(), pipelineStages())

	require.Equal(t, LaneFailed, result.State)
	// Only the failing stage has a result; later stages never ran.
	require.Len(t, result.Stages, 1)
	assert.Equal(t, "build", result.Stages[0].Stage)
	assert.Equal(t, StageFailed, result.Stages[0].Status)
	assert.Equal(t, 101, result.Stages[0].ExitCode)
	assert.Contains(t, result.Stages[0].Output, "E0308")
	assert.Len(t, runner.commands(), 1)
	assert.False(t, result.Success())
}

func TestRunLaneFailureInMiddleKeepsEarlierResults(t *testing.T) {
	runner := newFakeRunner()
	runner.results["cargo test"] = CommandResult{Output: "test failed\n", ExitCode: 1}
	exec := New(runner)

	result := exec.RunLane(context.Background(), testLane(), pipelineStages())

	require.Equal(t, LaneFailed, result.State)
	require.Len(t, result.Stages, 3)
	assert.Equal(t, StageSucceeded, result.Stages[0].Status)
	assert.Equal(t, StageSucceeded, result.Stages[1].Status)
	assert.Equal(t, StageFailed, result.Stages[2].Status)
	assert.Equal(t, cierrors.CategoryStage, cierrors.CategoryOf(result.Err))
	assert.False(t, cierrors.IsRetryable(result.Err))
}

func TestRunLaneContinueOnFailure(t *testing.T) {
	runner := newFakeRunner()
	runner.results["cargo clippy -- -D warnings"] = CommandResult{Output: "warning as error\n", ExitCode: 1}
	stages := pipelineStages()
	stages[1].ContinueOnFailure = true
	exec := New(runner)

	result := exec.RunLane(context.Background(), testLane(), stages)

	// Later stages ran, but the lane outcome is still failure.
	require.Equal(t, LaneFailed, result.State)
	require.Len(t, result.Stages, 4)
	assert.Equal(t, StageFailed, result.Stages[1].Status)
	assert.Equal(t, StageSucceeded, result.Stages[2].Status)
	assert.Equal(t, StageSucceeded, result.Stages[3].Status)
}

func TestRunLaneInfrastructureErrorIsRetryable(t *testing.T) {
	runner := newFakeRunner()
	runner.errs["cargo build --tests"] = errors.New("fork/exec: resource temporarily unavailable")
	exec := New(runner)

	result := exec.RunLane(context.Background(), testLane(), pipelineStages())

	require.Equal(t, LaneFailed, result.State)
	require.Len(t, result.Stages, 1)
	assert.Equal(t, cierrors.CategoryInfrastructure, cierrors.CategoryOf(result.Err))
	assert.True(t, cierrors.IsRetryable(result.Err))
}

func TestRunLaneCancellation(t *testing.T) {
	runner := newFakeRunner()
	exec := New(runner)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	result := exec.RunLane(ctx, testLane(), pipelineStages())

	assert.Equal(t, LaneCanceled, result.State)
	assert.Empty(t, result.Stages)
	assert.ErrorIs(t, result.Err, context.Canceled)
}

// cancelingRunner cancels the lane context while the named command runs,
// simulating a run-level timeout firing mid-stage.
type cancelingRunner struct {
	inner    *fakeRunner
	cancelOn string
	cancel   context.CancelFunc
}

func (c *cancelingRunner) Run(ctx context.Context, command string, env []string, dir string) (CommandResult, error) {
	if command == c.cancelOn {
		c.cancel()
		return CommandResult{}, ctx.Err()
	}
	return c.inner.Run(ctx, command, env, dir)
}

func TestRunLaneCancellationMidStage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runner := &cancelingRunner{inner: newFakeRunner(), cancelOn: "cargo test", cancel: cancel}
	exec := New(runner)

	result := exec.RunLane(ctx, testLane(), pipelineStages())

	require.Equal(t, LaneCanceled, result.State)
	// build and lint completed, test was interrupted, docs never ran.
	require.Len(t, result.Stages, 3)
	assert.Equal(t, StageSucceeded, result.Stages[0].Status)
	assert.Equal(t, StageSucceeded, result.Stages[1].Status)
	assert.Equal(t, StageCanceled, result.Stages[2].Status)
}

func TestRunLaneExportsVariables(t *testing.T) {
	runner := newFakeRunner()
	exec := New(runner, WithExtraEnv([]string{"RUSTUP_HOME=/opt/rustup"}), WithWorkdir("/work/lane"))

	exec.RunLane(context.Background(), testLane(), pipelineStages()[:1])

	require.Len(t, runner.calls, 1)
	call := runner.calls[0]
	env := strings.Join(call.env, "\n")
	assert.Contains(t, env, "MATRIXCI_IMAGE=ubuntu-22.04")
	assert.Contains(t, env, "MATRIXCI_CHANNEL=stable")
	assert.Contains(t, env, "RUSTUP_HOME=/opt/rustup")
	assert.Equal(t, "/work/lane", call.dir)
}

func TestRunLaneStageEnvOverlay(t *testing.T) {
	runner := newFakeRunner()
	exec := New(runner)
	stages := []Stage{{
		Name:     "test",
		Commands: []string{"cargo test"},
		Env:      map[string]string{"RUST_BACKTRACE": "1"},
	}}

	exec.RunLane(context.Background(), testLane(), stages)

	require.Len(t, runner.calls, 1)
	assert.Contains(t, strings.Join(runner.calls[0].env, "\n"), "RUST_BACKTRACE=1")
}

func TestLaneEnv(t *testing.T) {
	env := LaneEnv(matrix.Lane{ID: "l", Vars: map[string]string{"channel": "nightly"}})
	assert.Equal(t, []string{"MATRIXCI_CHANNEL=nightly"}, env)
}
