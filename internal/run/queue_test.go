package run

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingExecutor struct {
	calls   atomic.Int32
	outcome Outcome
	err     error
	block   chan struct{}
}

func (e *countingExecutor) Execute(ctx context.Context) (*Result, error) {
	e.calls.Add(1)
	if e.block != nil {
		select {
		case <-e.block:
		case <-ctx.Done():
			return &Result{Outcome: OutcomeCanceled}, nil
		}
	}
	if e.err != nil {
		return nil, e.err
	}
	outcome := e.outcome
	if outcome == "" {
		outcome = OutcomeSucceeded
	}
	return &Result{Outcome: outcome}, nil
}

func waitForHistory(t *testing.T, q *Queue, n int) []*Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if h := q.History(); len(h) >= n {
			return h
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("queue history never reached %d entries", n)
	return nil
}

func TestQueueProcessesJobs(t *testing.T) {
	exec := &countingExecutor{}
	q := NewQueue(10, 1, exec)
	q.Start(context.Background())
	defer q.Stop(context.Background())

	job, err := q.Enqueue(TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, JobQueued, job.Status)
	assert.Equal(t, TriggerManual, job.Trigger)

	history := waitForHistory(t, q, 1)
	assert.Equal(t, JobCompleted, history[0].Status)
	assert.Equal(t, int32(1), exec.calls.Load())
	assert.NotNil(t, history[0].Result)
}

func TestQueueMarksFailedRuns(t *testing.T) {
	exec := &countingExecutor{outcome: OutcomeFailed}
	q := NewQueue(10, 1, exec)
	q.Start(context.Background())
	defer q.Stop(context.Background())

	_, err := q.Enqueue(TriggerScheduled)
	require.NoError(t, err)

	history := waitForHistory(t, q, 1)
	assert.Equal(t, JobFailed, history[0].Status)
}

func TestQueueFullRejectsEnqueue(t *testing.T) {
	exec := &countingExecutor{block: make(chan struct{})}
	q := NewQueue(1, 1, exec)
	// Not started: jobs accumulate in the channel.

	_, err := q.Enqueue(TriggerManual)
	require.NoError(t, err)
	_, err = q.Enqueue(TriggerManual)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "full")
}

func TestQueueStopCancelsActiveJobs(t *testing.T) {
	exec := &countingExecutor{block: make(chan struct{})}
	q := NewQueue(10, 1, exec)
	q.Start(context.Background())

	_, err := q.Enqueue(TriggerManual)
	require.NoError(t, err)

	// Wait until the worker picks up the job.
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) && len(q.Active()) == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	require.NotEmpty(t, q.Active())

	stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, q.Stop(stopCtx))
}

func TestNewQueueRequiresExecutor(t *testing.T) {
	assert.Panics(t, func() { NewQueue(1, 1, nil) })
}
