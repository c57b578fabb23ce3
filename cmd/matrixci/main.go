package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"

	"git.home.luguber.info/inful/matrixci/internal/config"
	"git.home.luguber.info/inful/matrixci/internal/daemon"
	"git.home.luguber.info/inful/matrixci/internal/executor"
	"git.home.luguber.info/inful/matrixci/internal/matrix"
	"git.home.luguber.info/inful/matrixci/internal/run"
	"git.home.luguber.info/inful/matrixci/internal/runstore"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"matrixci.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Run struct {
	} `cmd:"" help:"Expand the matrix and execute every lane once"`

	Plan struct {
	} `cmd:"" help:"Show the lanes the matrix expands to without running anything"`

	Init struct {
		Force bool `help:"Overwrite existing configuration file"`
	} `cmd:"" help:"Initialize a new configuration file"`

	History struct {
		RunID string `short:"r" help:"Show all events for a specific run"`
		Limit int    `short:"n" help:"Number of recent runs to list" default:"10"`
	} `cmd:"" help:"Inspect past runs recorded in the history store"`

	Daemon struct {
	} `cmd:"" help:"Run continuously, executing the matrix on a schedule"`
}

func main() {
	ctx := kong.Parse(&CLI)

	switch ctx.Command() {
	case "run":
		cfg := loadConfigOrExit()
		setupLogging(cfg)
		ok, err := runOnce(cfg)
		if err != nil {
			slog.Error("Run failed", "error", err)
			os.Exit(1)
		}
		if !ok {
			os.Exit(1)
		}
	case "plan":
		cfg := loadConfigOrExit()
		setupLogging(cfg)
		if err := runPlan(cfg); err != nil {
			slog.Error("Plan failed", "error", err)
			os.Exit(1)
		}
	case "init":
		setupLogging(nil)
		if err := config.Init(CLI.Config, CLI.Init.Force); err != nil {
			slog.Error("Init failed", "error", err)
			os.Exit(1)
		}
		fmt.Printf("Configuration written to %s\n", CLI.Config)
	case "history":
		cfg := loadConfigOrExit()
		setupLogging(cfg)
		if err := runHistory(cfg); err != nil {
			slog.Error("History failed", "error", err)
			os.Exit(1)
		}
	case "daemon":
		cfg := loadConfigOrExit()
		setupLogging(cfg)
		if err := runDaemon(); err != nil {
			slog.Error("Daemon failed", "error", err)
			os.Exit(1)
		}
	}
}

func loadConfigOrExit() *config.Config {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// setupLogging configures slog from the config's logging block; -v forces
// debug level. A nil cfg uses text/info.
func setupLogging(cfg *config.Config) {
	level := config.LogLevelInfo
	format := config.LogFormatText
	if cfg != nil {
		level = config.NormalizeLogLevel(cfg.Logging.Level)
		format = config.NormalizeLogFormat(cfg.Logging.Format)
	}
	slogLevel := level.SlogLevel()
	if CLI.Verbose {
		slogLevel = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: slogLevel}
	var handler slog.Handler
	if format == config.LogFormatJSON {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// runOnce executes the full matrix once; the bool reports run success so the
// caller can exit non-zero after deferred cleanup has run.
func runOnce(cfg *config.Config) (bool, error) {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var opts []run.Option
	if cfg.History.Path != "" {
		store, err := runstore.NewSQLiteStore(cfg.History.Path)
		if err != nil {
			return false, fmt.Errorf("failed to open run history store: %w", err)
		}
		defer func() {
			if cerr := store.Close(); cerr != nil {
				slog.Warn("Failed to close history store", "error", cerr)
			}
		}()
		opts = append(opts, run.WithEmitter(runstore.NewEmitter(store)))
	}

	result, err := run.New(cfg, opts...).Execute(ctx)
	if err != nil {
		return false, err
	}

	printRunReport(result)
	return result.Success(), nil
}

func printRunReport(result *run.Result) {
	fmt.Printf("\nRun %s (%s) finished in %s: %s\n",
		result.ID, result.Project, result.Duration.Round(time.Millisecond), result.Outcome)
	for _, lr := range result.Lanes {
		fmt.Printf("  %-30s %-10s %s\n", lr.Lane.ID, lr.State, lr.Duration.Round(time.Millisecond))
		for _, sr := range lr.Stages {
			line := fmt.Sprintf("    %-28s %-10s %s", sr.Stage, sr.Status, sr.Duration.Round(time.Millisecond))
			if sr.Status == executor.StageFailed {
				line += fmt.Sprintf(" (exit %d)", sr.ExitCode)
			}
			fmt.Println(line)
		}
		if lr.Err != nil && len(lr.Stages) == 0 {
			fmt.Printf("    error: %v\n", lr.Err)
		}
	}
}

func runPlan(cfg *config.Config) error {
	lanes, err := matrix.Expand(cfg.Axes())
	if err != nil {
		return err
	}
	fmt.Printf("Matrix expands to %d lane(s):\n", len(lanes))
	for _, lane := range lanes {
		fmt.Printf("  %s\n", lane)
	}
	fmt.Printf("Stages (in order):\n")
	for _, s := range cfg.Stages {
		fmt.Printf("  %s (%d command(s))\n", s.Name, len(s.Commands))
	}
	return nil
}

func runHistory(cfg *config.Config) error {
	if cfg.History.Path == "" {
		return fmt.Errorf("history is not enabled (set history.path in the configuration)")
	}
	store, err := runstore.NewSQLiteStore(cfg.History.Path)
	if err != nil {
		return fmt.Errorf("failed to open run history store: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	if CLI.History.RunID != "" {
		events, err := store.GetByRunID(ctx, CLI.History.RunID)
		if err != nil {
			return err
		}
		if len(events) == 0 {
			return fmt.Errorf("no events recorded for run %s", CLI.History.RunID)
		}
		for _, ev := range events {
			payload := formatPayload(ev.Payload)
			fmt.Printf("%s  %-15s %s\n", ev.Timestamp.Format(time.RFC3339), ev.Type, payload)
		}
		return nil
	}

	runIDs, err := store.RecentRuns(ctx, CLI.History.Limit)
	if err != nil {
		return err
	}
	if len(runIDs) == 0 {
		fmt.Println("No runs recorded yet.")
		return nil
	}
	fmt.Printf("Most recent %d run(s):\n", len(runIDs))
	for _, id := range runIDs {
		fmt.Printf("  %s\n", id)
	}
	return nil
}

// formatPayload compacts the JSON payload for single-line display.
func formatPayload(raw []byte) string {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

func runDaemon() error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d, err := daemon.New(CLI.Config)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}
	if err := d.Start(ctx); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	slog.Info("Daemon started, waiting for shutdown signal...")
	<-ctx.Done()
	slog.Info("Shutdown signal received, stopping daemon...")

	if err := d.Stop(30 * time.Second); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}
	return nil
}
