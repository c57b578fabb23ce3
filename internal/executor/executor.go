// Package executor runs the fixed stage sequence for one lane.
//
// Within a lane, stage execution is strictly sequential and blocking; the
// only suspension point is waiting for external command completion. The lane
// lifecycle is an explicit state machine (Pending -> Running -> Failed |
// Succeeded | Canceled) with a stop-on-first-failure loop, so partial stage
// results remain explicit and testable.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"git.home.luguber.info/inful/matrixci/internal/cierrors"
	"git.home.luguber.info/inful/matrixci/internal/logfields"
	"git.home.luguber.info/inful/matrixci/internal/matrix"
	"git.home.luguber.info/inful/matrixci/internal/metrics"
)

// Stage is one ordered step in the pipeline: a display name plus one or more
// shell commands, all of which must exit zero.
type Stage struct {
	Name     string
	Commands []string
	Env      map[string]string

	// ContinueOnFailure records the stage's failure but lets the lane proceed
	// to later stages. The lane outcome is still failure. Default false
	// (fail-fast).
	ContinueOnFailure bool
}

// StageStatus is the outcome of a single stage.
type StageStatus string

const (
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
	StageCanceled  StageStatus = "canceled"
)

// StageResult captures one stage's outcome, output, and wall-clock duration.
type StageResult struct {
	Stage    string
	Status   StageStatus
	Output   string
	ExitCode int
	Duration time.Duration
	Err      error
}

// LaneState is the lifecycle state of a lane execution.
type LaneState string

const (
	LanePending   LaneState = "pending"
	LaneRunning   LaneState = "running"
	LaneSucceeded LaneState = "succeeded"
	LaneFailed    LaneState = "failed"
	LaneCanceled  LaneState = "canceled"
)

// LaneResult is the outcome of one lane: terminal state plus the stage
// results collected up to the failure/cancellation point. Stages after a
// fail-fast failure are simply absent (not-run, neither success nor failure).
type LaneResult struct {
	Lane     matrix.Lane
	State    LaneState
	Stages   []StageResult
	Duration time.Duration
	Err      error
}

// Success reports whether every declared stage completed with exit zero.
func (r *LaneResult) Success() bool { return r.State == LaneSucceeded }

// EnvPrefix is prepended (upper-cased) to lane variable names when they are
// exported into stage command environments, e.g. image -> MATRIXCI_IMAGE.
const EnvPrefix = "MATRIXCI_"

// LaneExecutor runs stages for a single lane through a CommandRunner.
type LaneExecutor struct {
	runner   CommandRunner
	recorder metrics.Recorder
	workdir  string
	extraEnv []string
}

// Option configures a LaneExecutor.
type Option func(*LaneExecutor)

// WithWorkdir sets the working directory for stage commands (the lane's
// checked-out source tree, typically).
func WithWorkdir(dir string) Option {
	return func(e *LaneExecutor) { e.workdir = dir }
}

// WithExtraEnv appends environment entries (KEY=VALUE) to every stage
// command, e.g. bindings produced by the toolchain provisioner.
func WithExtraEnv(env []string) Option {
	return func(e *LaneExecutor) { e.extraEnv = append(e.extraEnv, env...) }
}

// WithRecorder injects a metrics recorder (default NoopRecorder).
func WithRecorder(r metrics.Recorder) Option {
	return func(e *LaneExecutor) { e.recorder = r }
}

// New creates a LaneExecutor backed by the given runner.
func New(runner CommandRunner, opts ...Option) *LaneExecutor {
	e := &LaneExecutor{runner: runner, recorder: metrics.NoopRecorder{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// LaneEnv renders a lane's variable bindings as environment entries.
func LaneEnv(lane matrix.Lane) []string {
	env := make([]string, 0, len(lane.Vars))
	for name, value := range lane.Vars {
		env = append(env, EnvPrefix+strings.ToUpper(name)+"="+value)
	}
	return env
}

// RunLane iterates stages in declared order, executing each stage's commands
// in the lane's environment. On the first failing stage (unless it opts into
// ContinueOnFailure) remaining stages are skipped and the partial results are
// returned. Cancellation kills the running command and terminates the lane in
// state canceled.
func (e *LaneExecutor) RunLane(ctx context.Context, lane matrix.Lane, stages []Stage) *LaneResult {
	result := &LaneResult{Lane: lane, State: LanePending}
	laneStart := time.Now()
	defer func() { result.Duration = time.Since(laneStart) }()

	env := append(LaneEnv(lane), e.extraEnv...)

	result.State = LaneRunning
	failed := false
	for _, stage := range stages {
		select {
		case <-ctx.Done():
			result.State = LaneCanceled
			result.Err = ctx.Err()
			return result
		default:
		}

		sr := e.runStage(ctx, lane, stage, env)
		result.Stages = append(result.Stages, sr)
		e.recorder.ObserveStageDuration(stage.Name, sr.Duration)
		e.recorder.IncStageResult(stage.Name, metrics.ResultLabel(sr.Status))

		switch sr.Status {
		case StageCanceled:
			result.State = LaneCanceled
			result.Err = sr.Err
			return result
		case StageFailed:
			failed = true
			if !stage.ContinueOnFailure {
				result.State = LaneFailed
				result.Err = sr.Err
				return result
			}
			slog.Warn("Stage failed, continuing per stage policy",
				logfields.Lane(lane.ID), logfields.Stage(stage.Name))
		}
	}

	if failed {
		result.State = LaneFailed
		return result
	}
	result.State = LaneSucceeded
	return result
}

// runStage executes all of a stage's commands in sequence; all must succeed.
func (e *LaneExecutor) runStage(ctx context.Context, lane matrix.Lane, stage Stage, laneEnv []string) StageResult {
	start := time.Now()
	sr := StageResult{Stage: stage.Name}

	env := laneEnv
	if len(stage.Env) > 0 {
		env = append(append([]string{}, laneEnv...), renderEnv(stage.Env)...)
	}

	var output strings.Builder
	for _, command := range stage.Commands {
		slog.Debug("Running stage command",
			logfields.Lane(lane.ID), logfields.Stage(stage.Name), logfields.Command(command))

		res, err := e.runner.Run(ctx, command, env, e.workdir)
		output.WriteString(res.Output)

		if err != nil {
			sr.Duration = time.Since(start)
			sr.Output = output.String()
			if ctx.Err() != nil {
				sr.Status = StageCanceled
				sr.Err = ctx.Err()
				return sr
			}
			sr.Status = StageFailed
			sr.Err = cierrors.InfrastructureFailure(lane.ID, err).WithContext("stage", stage.Name)
			return sr
		}
		if res.ExitCode != 0 {
			sr.Duration = time.Since(start)
			sr.Output = output.String()
			sr.Status = StageFailed
			sr.ExitCode = res.ExitCode
			sr.Err = cierrors.StageFailed(lane.ID, stage.Name, res.ExitCode)
			slog.Error("Stage failed",
				logfields.Lane(lane.ID), logfields.Stage(stage.Name),
				logfields.ExitCode(res.ExitCode),
				logfields.DurationMS(float64(sr.Duration.Milliseconds())))
			return sr
		}
	}

	sr.Duration = time.Since(start)
	sr.Output = output.String()
	sr.Status = StageSucceeded
	slog.Debug("Stage completed",
		logfields.Lane(lane.ID), logfields.Stage(stage.Name),
		logfields.DurationMS(float64(sr.Duration.Milliseconds())))
	return sr
}

func renderEnv(m map[string]string) []string {
	env := make([]string, 0, len(m))
	for k, v := range m {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}
