package run

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/matrixci/internal/logfields"
)

// TriggerType records what enqueued a run.
type TriggerType string

const (
	TriggerManual    TriggerType = "manual"
	TriggerScheduled TriggerType = "scheduled"
)

// JobStatus is the queue-level lifecycle of a run job.
type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
	JobCanceled  JobStatus = "canceled"
)

// Job is a single queued run.
type Job struct {
	ID          string
	Trigger     TriggerType
	Status      JobStatus
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Duration    time.Duration
	Error       string
	Result      *Result

	cancel context.CancelFunc
}

// Executor produces a run result; satisfied by *Orchestrator.
type Executor interface {
	Execute(ctx context.Context) (*Result, error)
}

// Queue serializes successive runs in daemon mode: one run executes at a
// time (the lane fan-out happens inside the run) while further triggers
// wait. Completed jobs are kept in a bounded history ring.
type Queue struct {
	jobs        chan *Job
	workers     int
	mu          sync.RWMutex
	active      map[string]*Job
	history     []*Job
	historySize int
	stopChan    chan struct{}
	wg          sync.WaitGroup
	executor    Executor
}

// NewQueue creates a queue over the given executor.
func NewQueue(maxSize, workers int, exec Executor) *Queue {
	if maxSize <= 0 {
		maxSize = 100
	}
	if workers <= 0 {
		workers = 1
	}
	if exec == nil {
		panic("run.NewQueue: executor is required")
	}
	return &Queue{
		jobs:        make(chan *Job, maxSize),
		workers:     workers,
		active:      make(map[string]*Job),
		historySize: 50,
		stopChan:    make(chan struct{}),
		executor:    exec,
	}
}

// Start launches the worker goroutines.
func (q *Queue) Start(ctx context.Context) {
	for i := 0; i < q.workers; i++ {
		q.wg.Add(1)
		go q.worker(ctx, i)
	}
	slog.Info("Run queue started", slog.Int("workers", q.workers))
}

// Stop drains workers and cancels in-flight runs.
func (q *Queue) Stop(ctx context.Context) error {
	close(q.stopChan)

	q.mu.Lock()
	for _, job := range q.active {
		if job.cancel != nil {
			job.cancel()
		}
	}
	q.mu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(doneCh)
	}()
	select {
	case <-doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("run queue shutdown timed out: %w", ctx.Err())
	}
}

// Enqueue adds a run job; fails when the queue is full.
func (q *Queue) Enqueue(trigger TriggerType) (*Job, error) {
	job := &Job{
		ID:        uuid.NewString(),
		Trigger:   trigger,
		Status:    JobQueued,
		CreatedAt: time.Now(),
	}
	select {
	case q.jobs <- job:
		slog.Info("Run enqueued", logfields.RunID(job.ID), slog.String("trigger", string(trigger)))
		return job, nil
	default:
		return nil, fmt.Errorf("run queue is full")
	}
}

// Active returns a snapshot of currently running jobs.
func (q *Queue) Active() []*Job {
	q.mu.RLock()
	defer q.mu.RUnlock()
	out := make([]*Job, 0, len(q.active))
	for _, j := range q.active {
		out = append(out, j)
	}
	return out
}

// History returns completed jobs, most recent last.
func (q *Queue) History() []*Job {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return append([]*Job{}, q.history...)
}

func (q *Queue) worker(ctx context.Context, id int) {
	defer q.wg.Done()
	for {
		select {
		case <-q.stopChan:
			return
		case <-ctx.Done():
			return
		case job := <-q.jobs:
			q.process(ctx, id, job)
		}
	}
}

func (q *Queue) process(ctx context.Context, workerID int, job *Job) {
	jobCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	now := time.Now()
	job.Status = JobRunning
	job.StartedAt = &now
	job.cancel = cancel

	q.mu.Lock()
	q.active[job.ID] = job
	q.mu.Unlock()

	slog.Info("Processing run job",
		logfields.RunID(job.ID), logfields.Worker(workerID), slog.String("trigger", string(job.Trigger)))

	result, err := q.executor.Execute(jobCtx)
	completed := time.Now()
	job.CompletedAt = &completed
	job.Duration = completed.Sub(now)
	job.Result = result

	switch {
	case err != nil:
		job.Status = JobFailed
		job.Error = err.Error()
	case jobCtx.Err() != nil:
		job.Status = JobCanceled
		job.Error = jobCtx.Err().Error()
	case result != nil && !result.Success():
		job.Status = JobFailed
	default:
		job.Status = JobCompleted
	}

	q.mu.Lock()
	delete(q.active, job.ID)
	q.history = append(q.history, job)
	if len(q.history) > q.historySize {
		q.history = q.history[len(q.history)-q.historySize:]
	}
	q.mu.Unlock()

	slog.Info("Run job finished",
		logfields.RunID(job.ID), slog.String("status", string(job.Status)),
		logfields.DurationMS(float64(job.Duration.Milliseconds())))
}
