package runstore

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/matrixci/internal/logfields"
)

// Event types recorded over a run's lifecycle.
const (
	EventRunStarted    = "run.started"
	EventRunFinished   = "run.finished"
	EventLaneStarted   = "lane.started"
	EventLaneFinished  = "lane.finished"
	EventStageFinished = "stage.finished"
)

// RunStartedPayload describes the expanded matrix at run start.
type RunStartedPayload struct {
	Project string   `json:"project"`
	Lanes   []string `json:"lanes"`
	Stages  []string `json:"stages"`
}

// RunFinishedPayload records the aggregate outcome.
type RunFinishedPayload struct {
	Outcome    string        `json:"outcome"`
	Duration   time.Duration `json:"duration"`
	LanesTotal int           `json:"lanes_total"`
	LanesOK    int           `json:"lanes_ok"`
}

// LaneStartedPayload records a lane picking up a worker.
type LaneStartedPayload struct {
	Lane string            `json:"lane"`
	Vars map[string]string `json:"vars"`
}

// LaneFinishedPayload records a lane's terminal state.
type LaneFinishedPayload struct {
	Lane     string        `json:"lane"`
	State    string        `json:"state"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// StageFinishedPayload records one stage result within a lane.
type StageFinishedPayload struct {
	Lane     string        `json:"lane"`
	Stage    string        `json:"stage"`
	Status   string        `json:"status"`
	ExitCode int           `json:"exit_code"`
	Duration time.Duration `json:"duration"`
}

// Emitter writes typed lifecycle events to a Store. A nil store makes every
// emit a no-op, so callers need no history-enabled checks. Emission failures
// are logged, never propagated: history must not fail a run.
type Emitter struct {
	store Store
}

// NewEmitter creates an emitter over store (nil disables emission).
func NewEmitter(store Store) *Emitter { return &Emitter{store: store} }

func (e *Emitter) emit(ctx context.Context, runID, eventType string, payload any) {
	if e == nil || e.store == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Warn("Failed to marshal run event", logfields.RunID(runID), logfields.Error(err))
		return
	}
	if err := e.store.Append(ctx, runID, eventType, data, nil); err != nil {
		slog.Warn("Failed to record run event",
			logfields.RunID(runID), slog.String("event", eventType), logfields.Error(err))
	}
}

func (e *Emitter) RunStarted(ctx context.Context, runID string, p RunStartedPayload) {
	e.emit(ctx, runID, EventRunStarted, p)
}

func (e *Emitter) RunFinished(ctx context.Context, runID string, p RunFinishedPayload) {
	e.emit(ctx, runID, EventRunFinished, p)
}

func (e *Emitter) LaneStarted(ctx context.Context, runID string, p LaneStartedPayload) {
	e.emit(ctx, runID, EventLaneStarted, p)
}

func (e *Emitter) LaneFinished(ctx context.Context, runID string, p LaneFinishedPayload) {
	e.emit(ctx, runID, EventLaneFinished, p)
}

func (e *Emitter) StageFinished(ctx context.Context, runID string, p StageFinishedPayload) {
	e.emit(ctx, runID, EventStageFinished, p)
}
