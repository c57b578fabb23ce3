package daemon

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"git.home.luguber.info/inful/matrixci/internal/logfields"
	"git.home.luguber.info/inful/matrixci/internal/run"
)

// Scheduler wraps gocron for periodic run triggering.
type Scheduler struct {
	scheduler gocron.Scheduler
	enqueuer  interface {
		Enqueue(trigger run.TriggerType) (*run.Job, error)
	}
}

// NewScheduler creates a new scheduler instance.
func NewScheduler() (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	return &Scheduler{scheduler: s}, nil
}

// SetEnqueuer injects the run queue.
func (s *Scheduler) SetEnqueuer(e interface {
	Enqueue(trigger run.TriggerType) (*run.Job, error)
}) {
	s.enqueuer = e
}

// SchedulePeriodicRun schedules a run at the given interval and returns the
// job id for later management.
func (s *Scheduler) SchedulePeriodicRun(interval time.Duration) (string, error) {
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(s.triggerRun),
		gocron.WithName("scheduled-run"),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create periodic run job: %w", err)
	}
	return job.ID().String(), nil
}

// triggerRun is called by gocron on each tick.
func (s *Scheduler) triggerRun() {
	if s.enqueuer == nil {
		slog.Error("Scheduler enqueuer not set")
		return
	}
	job, err := s.enqueuer.Enqueue(run.TriggerScheduled)
	if err != nil {
		slog.Warn("Failed to enqueue scheduled run", logfields.Error(err))
		return
	}
	slog.Info("Scheduled run enqueued", logfields.RunID(job.ID))
}

// Start begins the scheduler.
func (s *Scheduler) Start() {
	slog.Info("Starting scheduler")
	s.scheduler.Start()
}

// Stop gracefully shuts down the scheduler.
func (s *Scheduler) Stop() error {
	slog.Info("Stopping scheduler")
	return s.scheduler.Shutdown()
}
