// Package run orchestrates one full pipeline execution: expand the matrix
// once, fan out one worker per lane (bounded by configured capacity), and
// aggregate lane outcomes. Lanes are mutually independent; a lane failure
// never stops sibling lanes, so the full matrix of failures is visible in
// one report.
package run

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/matrixci/internal/checkout"
	"git.home.luguber.info/inful/matrixci/internal/cierrors"
	"git.home.luguber.info/inful/matrixci/internal/config"
	"git.home.luguber.info/inful/matrixci/internal/executor"
	"git.home.luguber.info/inful/matrixci/internal/logfields"
	"git.home.luguber.info/inful/matrixci/internal/matrix"
	"git.home.luguber.info/inful/matrixci/internal/metrics"
	"git.home.luguber.info/inful/matrixci/internal/provision"
	"git.home.luguber.info/inful/matrixci/internal/retry"
	"git.home.luguber.info/inful/matrixci/internal/runstore"
)

// Outcome is the aggregate status of a run.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeCanceled  Outcome = "canceled"
)

// Result is the report for one run: per-lane results in matrix declaration
// order plus the aggregate outcome.
type Result struct {
	ID        string
	Project   string
	StartedAt time.Time
	Duration  time.Duration
	Outcome   Outcome
	Lanes     []*executor.LaneResult
}

// Success reports whether every lane succeeded.
func (r *Result) Success() bool { return r.Outcome == OutcomeSucceeded }

// Orchestrator executes runs for a fixed, validated configuration.
type Orchestrator struct {
	cfg         *config.Config
	runner      executor.CommandRunner
	provisioner provision.Provisioner
	recorder    metrics.Recorder
	emitter     *runstore.Emitter
	policy      retry.Policy
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRunner injects a command runner (tests use a deterministic fake).
func WithRunner(r executor.CommandRunner) Option {
	return func(o *Orchestrator) { o.runner = r }
}

// WithProvisioner overrides the provisioner derived from config.
func WithProvisioner(p provision.Provisioner) Option {
	return func(o *Orchestrator) { o.provisioner = p }
}

// WithRecorder injects a metrics recorder.
func WithRecorder(r metrics.Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithEmitter injects a run-event emitter.
func WithEmitter(e *runstore.Emitter) Option {
	return func(o *Orchestrator) { o.emitter = e }
}

// New creates an Orchestrator for cfg.
func New(cfg *config.Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg,
		runner:   executor.NewShellRunner(),
		recorder: metrics.NoopRecorder{},
		emitter:  runstore.NewEmitter(nil),
		policy:   retry.FromConfig(cfg.Execution.Retry),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.provisioner == nil {
		if cfg.Provisioner != nil && cfg.Provisioner.Command != "" {
			o.provisioner = provision.NewCommandProvisioner(cfg.Provisioner.Command, cfg.Provisioner.Env, o.runner)
		} else {
			o.provisioner = provision.Noop{}
		}
	}
	return o
}

// Execute runs the full matrix. The returned error is non-nil only for
// configuration errors (nothing ran); lane failures are reported through the
// Result so every lane still runs to its own completion point.
func (o *Orchestrator) Execute(ctx context.Context) (*Result, error) {
	lanes, err := matrix.Expand(o.cfg.Axes())
	if err != nil {
		return nil, err
	}

	if d := o.cfg.RunTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	result := &Result{
		ID:        uuid.NewString(),
		Project:   o.cfg.Project,
		StartedAt: time.Now(),
		Lanes:     make([]*executor.LaneResult, len(lanes)),
	}
	stages := toStages(o.cfg.Stages)

	var ws *checkout.Workspace
	if o.cfg.Source != nil {
		ws, err = checkout.NewWorkspace("")
		if err != nil {
			return nil, cierrors.InternalError("workspace creation failed", err)
		}
		defer func() {
			if cerr := ws.Cleanup(); cerr != nil {
				slog.Warn("Failed to clean up workspace", logfields.Error(cerr))
			}
		}()
	}

	stageNames := make([]string, len(stages))
	for i, s := range stages {
		stageNames[i] = s.Name
	}
	o.emitter.RunStarted(ctx, result.ID, runstore.RunStartedPayload{
		Project: o.cfg.Project,
		Lanes:   matrix.IDs(lanes),
		Stages:  stageNames,
	})
	slog.Info("Run started",
		logfields.RunID(result.ID),
		slog.Int("lanes", len(lanes)),
		slog.Int("workers", o.cfg.Execution.Workers))

	workers := o.cfg.Execution.Workers
	if workers > len(lanes) {
		workers = len(lanes)
	}
	o.recorder.SetLaneConcurrency(workers)
	defer o.recorder.SetLaneConcurrency(0)

	jobs := make(chan int, len(lanes))
	for i := range lanes {
		jobs <- i
	}
	close(jobs)

	done := make(chan struct{})
	for w := 0; w < workers; w++ {
		go func(workerID int) {
			for idx := range jobs {
				result.Lanes[idx] = o.runLane(ctx, result.ID, workerID, lanes[idx], stages, ws)
			}
			done <- struct{}{}
		}(w)
	}
	for w := 0; w < workers; w++ {
		<-done
	}

	result.Duration = time.Since(result.StartedAt)
	result.Outcome = aggregate(ctx, result.Lanes)

	lanesOK := 0
	for _, lr := range result.Lanes {
		if lr.Success() {
			lanesOK++
		}
	}
	o.emitter.RunFinished(ctx, result.ID, runstore.RunFinishedPayload{
		Outcome:    string(result.Outcome),
		Duration:   result.Duration,
		LanesTotal: len(result.Lanes),
		LanesOK:    lanesOK,
	})
	o.recorder.ObserveRunDuration(result.Duration)
	o.recorder.IncRunOutcome(string(result.Outcome))
	slog.Info("Run finished",
		logfields.RunID(result.ID),
		logfields.Outcome(string(result.Outcome)),
		slog.Int("lanes_ok", lanesOK),
		slog.Int("lanes_total", len(result.Lanes)),
		logfields.DurationMS(float64(result.Duration.Milliseconds())))

	return result, nil
}

// runLane executes one lane, retrying only infrastructure-class failures
// when the policy allows. Stage failures are terminal on first attempt.
func (o *Orchestrator) runLane(ctx context.Context, runID string, workerID int, lane matrix.Lane, stages []executor.Stage, ws *checkout.Workspace) *executor.LaneResult {
	var lr *executor.LaneResult
	for attempt := 0; ; attempt++ {
		lr = o.executeLane(ctx, runID, workerID, lane, stages, ws)
		if lr.State != executor.LaneFailed || !cierrors.IsRetryable(lr.Err) {
			break
		}
		if attempt >= o.policy.MaxRetries {
			if o.policy.MaxRetries > 0 {
				o.recorder.IncInfraRetryExhausted(lane.ID)
			}
			break
		}
		delay := o.policy.Delay(attempt + 1)
		slog.Warn("Retrying lane after infrastructure failure",
			logfields.RunID(runID), logfields.Lane(lane.ID),
			logfields.Attempt(attempt+1), slog.Duration("backoff", delay),
			logfields.Error(lr.Err))
		o.recorder.IncInfraRetry(lane.ID)
		select {
		case <-ctx.Done():
			return lr
		case <-time.After(delay):
		}
	}
	return lr
}

// executeLane performs a single attempt: checkout, provision, stages.
// Checkout and provisioning failures fail the lane before stage 1, with
// zero stage results.
func (o *Orchestrator) executeLane(ctx context.Context, runID string, workerID int, lane matrix.Lane, stages []executor.Stage, ws *checkout.Workspace) *executor.LaneResult {
	if d := o.cfg.LaneTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}

	o.emitter.LaneStarted(ctx, runID, runstore.LaneStartedPayload{Lane: lane.ID, Vars: lane.Vars})
	slog.Info("Lane started",
		logfields.RunID(runID), logfields.Lane(lane.ID), logfields.Worker(workerID),
		logfields.Image(lane.Image()), logfields.Channel(lane.Channel()))

	start := time.Now()
	fail := func(err error) *executor.LaneResult {
		lr := &executor.LaneResult{Lane: lane, State: executor.LaneFailed, Err: err, Duration: time.Since(start)}
		o.finishLane(ctx, runID, lr)
		return lr
	}

	workdir := ""
	if ws != nil {
		dir, err := ws.LaneDir(lane.ID)
		if err != nil {
			return fail(cierrors.InfrastructureFailure(lane.ID, err))
		}
		workdir, err = checkout.NewClient(*o.cfg.Source).Checkout(ctx, lane.ID, dir)
		if err != nil {
			if checkout.Permanent(err) {
				return fail(cierrors.Wrap(err, cierrors.CategoryCheckout, cierrors.SeverityError, "source checkout failed"))
			}
			return fail(cierrors.CheckoutFailed(lane.ID, err))
		}
	}

	extraEnv, err := o.provisioner.Provision(ctx, lane)
	if err != nil {
		return fail(err)
	}

	laneExec := executor.New(o.runner,
		executor.WithWorkdir(workdir),
		executor.WithExtraEnv(extraEnv),
		executor.WithRecorder(o.recorder),
	)
	lr := laneExec.RunLane(ctx, lane, stages)
	o.finishLane(ctx, runID, lr)
	return lr
}

func (o *Orchestrator) finishLane(ctx context.Context, runID string, lr *executor.LaneResult) {
	for _, sr := range lr.Stages {
		o.emitter.StageFinished(ctx, runID, runstore.StageFinishedPayload{
			Lane:     lr.Lane.ID,
			Stage:    sr.Stage,
			Status:   string(sr.Status),
			ExitCode: sr.ExitCode,
			Duration: sr.Duration,
		})
	}
	errMsg := ""
	if lr.Err != nil {
		errMsg = lr.Err.Error()
	}
	o.emitter.LaneFinished(ctx, runID, runstore.LaneFinishedPayload{
		Lane:     lr.Lane.ID,
		State:    string(lr.State),
		Duration: lr.Duration,
		Error:    errMsg,
	})
	o.recorder.ObserveLaneDuration(lr.Lane.ID, lr.Duration)
	o.recorder.IncLaneOutcome(string(lr.State))
	slog.Info("Lane finished",
		logfields.RunID(runID), logfields.Lane(lr.Lane.ID),
		logfields.Outcome(string(lr.State)),
		slog.Int("stages_run", len(lr.Stages)),
		logfields.DurationMS(float64(lr.Duration.Milliseconds())))
}

func aggregate(ctx context.Context, lanes []*executor.LaneResult) Outcome {
	outcome := OutcomeSucceeded
	for _, lr := range lanes {
		switch lr.State {
		case executor.LaneCanceled:
			if ctx.Err() != nil {
				return OutcomeCanceled
			}
			outcome = OutcomeFailed
		case executor.LaneFailed:
			outcome = OutcomeFailed
		}
	}
	return outcome
}

func toStages(cfgs []config.StageConfig) []executor.Stage {
	stages := make([]executor.Stage, 0, len(cfgs))
	for _, s := range cfgs {
		stages = append(stages, executor.Stage{
			Name:              s.Name,
			Commands:          s.Commands,
			Env:               s.Env,
			ContinueOnFailure: s.ContinueOnFailure,
		})
	}
	return stages
}
