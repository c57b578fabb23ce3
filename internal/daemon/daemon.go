// Package daemon runs the pipeline continuously: a scheduler enqueues runs
// at a fixed interval, a queue executes them one at a time, and a config
// watcher hot-reloads the pipeline definition between runs.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/matrixci/internal/config"
	"git.home.luguber.info/inful/matrixci/internal/logfields"
	"git.home.luguber.info/inful/matrixci/internal/metrics"
	"git.home.luguber.info/inful/matrixci/internal/run"
	"git.home.luguber.info/inful/matrixci/internal/runstore"
)

// Status represents the current state of the daemon.
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
)

// Daemon ties the queue, scheduler, history store, and metrics endpoint
// together around a reloadable configuration.
type Daemon struct {
	configPath string

	mu           sync.RWMutex
	cfg          *config.Config
	orchestrator *run.Orchestrator
	status       Status

	store    runstore.Store
	emitter  *runstore.Emitter
	recorder metrics.Recorder

	queue     *run.Queue
	scheduler *Scheduler
	watcher   *ConfigWatcher
	metricsHS *http.Server
}

// New creates a daemon from the config at configPath.
func New(configPath string) (*Daemon, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return &Daemon{
		configPath: configPath,
		cfg:        cfg,
		status:     StatusStopped,
		recorder:   metrics.NoopRecorder{},
	}, nil
}

// Status returns the daemon's lifecycle state.
func (d *Daemon) Status() Status {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.status
}

// Config returns the currently active configuration.
func (d *Daemon) Config() *config.Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.cfg
}

// Execute satisfies run.Executor by delegating to the current orchestrator,
// so a config reload takes effect on the next queued run without restarting
// the queue.
func (d *Daemon) Execute(ctx context.Context) (*run.Result, error) {
	d.mu.RLock()
	o := d.orchestrator
	d.mu.RUnlock()
	return o.Execute(ctx)
}

// Start brings up all daemon components.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.status != StatusStopped {
		d.mu.Unlock()
		return fmt.Errorf("daemon already started (status %s)", d.status)
	}
	d.status = StatusStarting
	cfg := d.cfg
	d.mu.Unlock()

	slog.Info("Starting daemon",
		logfields.Path(d.configPath),
		slog.Duration("interval", cfg.DaemonInterval()))

	if cfg.History.Path != "" {
		store, err := runstore.NewSQLiteStore(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("failed to open run history store: %w", err)
		}
		d.store = store
		d.emitter = runstore.NewEmitter(store)
	}

	if cfg.Daemon.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		d.recorder = metrics.NewPrometheusRecorder(reg)
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.HTTPHandler(reg))
		d.metricsHS = &http.Server{Addr: cfg.Daemon.MetricsAddr, Handler: mux}
		go func() {
			slog.Info("Metrics endpoint listening", slog.String("addr", cfg.Daemon.MetricsAddr))
			if err := d.metricsHS.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", logfields.Error(err))
			}
		}()
	}

	d.mu.Lock()
	d.orchestrator = d.buildOrchestrator(cfg)
	d.mu.Unlock()

	d.queue = run.NewQueue(cfg.Daemon.MaxQueue, 1, d)
	d.queue.Start(ctx)

	scheduler, err := NewScheduler()
	if err != nil {
		return err
	}
	scheduler.SetEnqueuer(d.queue)
	if _, err := scheduler.SchedulePeriodicRun(cfg.DaemonInterval()); err != nil {
		return err
	}
	scheduler.Start()
	d.scheduler = scheduler

	watcher, err := NewConfigWatcher(d.configPath, d)
	if err != nil {
		slog.Warn("Config watcher unavailable, hot reload disabled", logfields.Error(err))
	} else {
		if err := watcher.Start(ctx); err != nil {
			slog.Warn("Config watcher failed to start, hot reload disabled", logfields.Error(err))
		} else {
			d.watcher = watcher
		}
	}

	d.mu.Lock()
	d.status = StatusRunning
	d.mu.Unlock()
	slog.Info("Daemon running")
	return nil
}

// TriggerRun enqueues a manual run, e.g. from a signal handler.
func (d *Daemon) TriggerRun() (*run.Job, error) {
	if d.queue == nil {
		return nil, fmt.Errorf("daemon not started")
	}
	return d.queue.Enqueue(run.TriggerManual)
}

// Reload re-reads the configuration file and swaps the orchestrator. An
// invalid file leaves the previous configuration active. Queue size, metrics
// address, and history path changes require a restart.
func (d *Daemon) Reload() error {
	cfg, err := config.Load(d.configPath)
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.cfg = cfg
	d.orchestrator = d.buildOrchestrator(cfg)
	d.mu.Unlock()

	if d.scheduler != nil {
		if err := d.scheduler.Stop(); err != nil {
			slog.Warn("Failed to stop scheduler during reload", logfields.Error(err))
		}
		scheduler, err := NewScheduler()
		if err != nil {
			return err
		}
		scheduler.SetEnqueuer(d.queue)
		if _, err := scheduler.SchedulePeriodicRun(cfg.DaemonInterval()); err != nil {
			return err
		}
		scheduler.Start()
		d.scheduler = scheduler
	}

	slog.Info("Configuration reloaded", slog.Duration("interval", cfg.DaemonInterval()))
	return nil
}

// Stop shuts down all components, waiting up to timeout for in-flight runs.
func (d *Daemon) Stop(timeout time.Duration) error {
	d.mu.Lock()
	d.status = StatusStopping
	d.mu.Unlock()
	slog.Info("Stopping daemon")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if d.watcher != nil {
		if err := d.watcher.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("config watcher: %w", err))
		}
	}
	if d.scheduler != nil {
		if err := d.scheduler.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("scheduler: %w", err))
		}
	}
	if d.queue != nil {
		if err := d.queue.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("queue: %w", err))
		}
	}
	if d.metricsHS != nil {
		if err := d.metricsHS.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("history store: %w", err))
		}
	}

	d.mu.Lock()
	d.status = StatusStopped
	d.mu.Unlock()
	slog.Info("Daemon stopped")
	return errors.Join(errs...)
}

func (d *Daemon) buildOrchestrator(cfg *config.Config) *run.Orchestrator {
	return run.New(cfg,
		run.WithRecorder(d.recorder),
		run.WithEmitter(d.emitter),
	)
}
