// Package config defines the declarative pipeline configuration: the build
// matrix, the ordered stage list, the provisioner boundary, and execution
// knobs. The configuration is loaded once per run and is immutable after
// validation; the expander and executor receive it explicitly so concurrent
// lanes can never observe partial mutation.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"git.home.luguber.info/inful/matrixci/internal/cierrors"
	"git.home.luguber.info/inful/matrixci/internal/matrix"
)

// Config represents the application configuration.
type Config struct {
	Project     string             `yaml:"project"`
	Source      *SourceConfig      `yaml:"source,omitempty"`
	Matrix      MatrixConfig       `yaml:"matrix"`
	Stages      []StageConfig      `yaml:"stages"`
	Provisioner *ProvisionerConfig `yaml:"provisioner,omitempty"`
	Execution   ExecutionConfig    `yaml:"execution"`
	History     HistoryConfig      `yaml:"history"`
	Logging     LoggingConfig      `yaml:"logging"`
	Daemon      DaemonConfig       `yaml:"daemon"`
}

// SourceConfig describes the project source checked out into each lane
// workspace before provisioning. Optional; when absent, stages run in the
// current working directory.
type SourceConfig struct {
	URL    string `yaml:"url"`
	Ref    string `yaml:"ref,omitempty"`
	Depth  int    `yaml:"depth,omitempty"`
	Token  string `yaml:"token,omitempty"`  // HTTP token auth
	User   string `yaml:"user,omitempty"`   // basic auth username (default "git" when token set)
	SubDir string `yaml:"subdir,omitempty"` // run stages from this subdirectory
}

// MatrixConfig declares the named axes of the build matrix.
type MatrixConfig struct {
	Axes []AxisConfig `yaml:"axes"`
}

// AxisConfig is one named dimension of variation.
type AxisConfig struct {
	Name    string        `yaml:"name"`
	Entries []EntryConfig `yaml:"entries"`
}

// EntryConfig is one labeled point on an axis with its variable bindings.
type EntryConfig struct {
	ID   string            `yaml:"id"`
	Vars map[string]string `yaml:"vars"`
}

// StageConfig is one ordered pipeline step.
type StageConfig struct {
	Name              string            `yaml:"name"`
	Commands          []string          `yaml:"commands"`
	Env               map[string]string `yaml:"env,omitempty"`
	ContinueOnFailure bool              `yaml:"continue_on_failure,omitempty"`
}

// ProvisionerConfig configures the toolchain provisioner collaborator. The
// command runs with the lane's variable bindings in its environment before
// stage 1; failure fails the lane with zero stage results.
type ProvisionerConfig struct {
	Command string            `yaml:"command"`
	Env     map[string]string `yaml:"env,omitempty"`
}

// ExecutionConfig carries orchestration knobs the core deliberately does not
// hard-code: lane concurrency, timeouts, and infra-only retry.
type ExecutionConfig struct {
	Workers     int         `yaml:"workers"`
	LaneTimeout string      `yaml:"lane_timeout,omitempty"`
	RunTimeout  string      `yaml:"run_timeout,omitempty"`
	Retry       RetryConfig `yaml:"retry"`
}

// RetryBackoffMode selects the backoff growth curve for infra retries.
type RetryBackoffMode string

const (
	RetryBackoffFixed       RetryBackoffMode = "fixed"
	RetryBackoffLinear      RetryBackoffMode = "linear"
	RetryBackoffExponential RetryBackoffMode = "exponential"
)

// RetryConfig applies only to retryable (provision/infrastructure) errors,
// never to genuine stage failures. MaxRetries defaults to 0: no automatic
// retries unless explicitly configured.
type RetryConfig struct {
	Backoff    RetryBackoffMode `yaml:"backoff,omitempty"`
	Initial    string           `yaml:"initial,omitempty"`
	Max        string           `yaml:"max,omitempty"`
	MaxRetries int              `yaml:"max_retries,omitempty"`
}

// HistoryConfig configures the sqlite run-event store. An empty path
// disables history recording.
type HistoryConfig struct {
	Path string `yaml:"path,omitempty"`
}

// LoggingConfig selects level and output format for slog.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty"`
	Format string `yaml:"format,omitempty"`
}

// DaemonConfig configures continuous mode.
type DaemonConfig struct {
	Interval    string `yaml:"interval,omitempty"`
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
	MaxQueue    int    `yaml:"max_queue,omitempty"`
}

// Load loads configuration from the specified file. A .env file alongside
// the process, when present, is loaded first; environment variables are
// expanded in the raw YAML before unmarshal.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "Note: .env file couldn't be loaded: %v\n", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("configuration file not found: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := expandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// expandEnv substitutes ${VAR} references from the process environment.
// Unset variables are left intact so references meant for the lane shell
// (e.g. $MATRIXCI_CHANNEL in the provisioner command) survive load.
func expandEnv(raw string) string {
	return os.Expand(raw, func(key string) string {
		if v, ok := os.LookupEnv(key); ok {
			return v
		}
		return "${" + key + "}"
	})
}

func (c *Config) applyDefaults() {
	if c.Project == "" {
		c.Project = "pipeline"
	}
	if c.Execution.Workers <= 0 {
		c.Execution.Workers = 4
	}
	if c.Execution.Retry.Backoff == "" {
		c.Execution.Retry.Backoff = RetryBackoffLinear
	}
	if c.Execution.Retry.Initial == "" {
		c.Execution.Retry.Initial = "1s"
	}
	if c.Execution.Retry.Max == "" {
		c.Execution.Retry.Max = "30s"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = string(LogLevelInfo)
	}
	if c.Logging.Format == "" {
		c.Logging.Format = string(LogFormatText)
	}
	if c.Daemon.MaxQueue <= 0 {
		c.Daemon.MaxQueue = 100
	}
	if c.Source != nil {
		if c.Source.Ref == "" {
			c.Source.Ref = "main"
		}
		if c.Source.User == "" && c.Source.Token != "" {
			c.Source.User = "git"
		}
	}
}

// Validate checks structural invariants. Matrix-level errors (empty matrix,
// duplicate lane labels, colliding variables) surface here, before any lane
// runs, by running the expander against the declared axes.
func (c *Config) Validate() error {
	if len(c.Stages) == 0 {
		return cierrors.ConfigRequired("stages")
	}
	seen := make(map[string]bool, len(c.Stages))
	for _, s := range c.Stages {
		if s.Name == "" {
			return cierrors.ValidationFailed("stages", "stage without a name")
		}
		if seen[s.Name] {
			return cierrors.ValidationFailed("stages", "duplicate stage name "+s.Name)
		}
		seen[s.Name] = true
		if len(s.Commands) == 0 {
			return cierrors.ValidationFailed("stages", "stage "+s.Name+" has no commands")
		}
	}

	if _, err := matrix.Expand(c.Axes()); err != nil {
		return err
	}

	for _, field := range []struct{ name, raw string }{
		{"execution.lane_timeout", c.Execution.LaneTimeout},
		{"execution.run_timeout", c.Execution.RunTimeout},
		{"execution.retry.initial", c.Execution.Retry.Initial},
		{"execution.retry.max", c.Execution.Retry.Max},
		{"daemon.interval", c.Daemon.Interval},
	} {
		if field.raw == "" {
			continue
		}
		if _, err := time.ParseDuration(field.raw); err != nil {
			return cierrors.ValidationFailed(field.name, err.Error())
		}
	}

	if c.Execution.Retry.MaxRetries < 0 {
		return cierrors.ValidationFailed("execution.retry.max_retries", "cannot be negative")
	}
	if c.Source != nil && c.Source.URL == "" {
		return cierrors.ConfigRequired("source.url")
	}
	return nil
}

// Axes converts the declared matrix config into expander axes, preserving
// declaration order.
func (c *Config) Axes() []matrix.Axis {
	axes := make([]matrix.Axis, 0, len(c.Matrix.Axes))
	for _, a := range c.Matrix.Axes {
		entries := make([]matrix.Entry, 0, len(a.Entries))
		for _, e := range a.Entries {
			entries = append(entries, matrix.Entry{Label: e.ID, Vars: e.Vars})
		}
		axes = append(axes, matrix.Axis{Name: a.Name, Entries: entries})
	}
	return axes
}

// Duration helpers; validation guarantees parseability, so errors here mean
// the value was never set.

func (c *Config) LaneTimeout() time.Duration { return parseDuration(c.Execution.LaneTimeout) }
func (c *Config) RunTimeout() time.Duration  { return parseDuration(c.Execution.RunTimeout) }
func (c *Config) DaemonInterval() time.Duration {
	if d := parseDuration(c.Daemon.Interval); d > 0 {
		return d
	}
	return time.Hour
}
func (r RetryConfig) InitialDelay() time.Duration { return parseDuration(r.Initial) }
func (r RetryConfig) MaxDelay() time.Duration     { return parseDuration(r.Max) }

func parseDuration(raw string) time.Duration {
	if raw == "" {
		return 0
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0
	}
	return d
}
