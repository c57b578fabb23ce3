package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"git.home.luguber.info/inful/matrixci/internal/cierrors"
)

const validYAML = `
project: widget
matrix:
  axes:
    - name: platform
      entries:
        - id: linux-stable
          vars:
            image: ubuntu-22.04
            channel: stable
        - id: linux-beta
          vars:
            image: ubuntu-22.04
            channel: beta
stages:
  - name: build
    commands:
      - cargo build --tests
  - name: test
    commands:
      - cargo test
    env:
      RUST_BACKTRACE: "1"
execution:
  workers: 2
  lane_timeout: 30m
  retry:
    backoff: exponential
    initial: 2s
    max: 1m
    max_retries: 2
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "matrixci.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "widget", cfg.Project)
	require.Len(t, cfg.Matrix.Axes, 1)
	assert.Len(t, cfg.Matrix.Axes[0].Entries, 2)
	require.Len(t, cfg.Stages, 2)
	assert.Equal(t, "1", cfg.Stages[1].Env["RUST_BACKTRACE"])
	assert.Equal(t, 2, cfg.Execution.Workers)
	assert.Equal(t, 30*time.Minute, cfg.LaneTimeout())
	assert.Equal(t, RetryBackoffExponential, cfg.Execution.Retry.Backoff)
	assert.Equal(t, 2*time.Second, cfg.Execution.Retry.InitialDelay())
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
matrix:
  axes:
    - name: platform
      entries:
        - id: linux
stages:
  - name: build
    commands: [make]
`))
	require.NoError(t, err)

	assert.Equal(t, "pipeline", cfg.Project)
	assert.Equal(t, 4, cfg.Execution.Workers)
	assert.Equal(t, RetryBackoffLinear, cfg.Execution.Retry.Backoff)
	assert.Zero(t, cfg.Execution.Retry.MaxRetries)
	assert.Equal(t, string(LogLevelInfo), cfg.Logging.Level)
	assert.Equal(t, string(LogFormatText), cfg.Logging.Format)
	assert.Zero(t, cfg.LaneTimeout())
	assert.Equal(t, time.Hour, cfg.DaemonInterval())
	assert.Equal(t, 100, cfg.Daemon.MaxQueue)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("CI_TOKEN", "secret-token")
	cfg, err := Load(writeConfig(t, `
source:
  url: https://git.example.com/widget.git
  token: ${CI_TOKEN}
matrix:
  axes:
    - name: platform
      entries:
        - id: linux
stages:
  - name: build
    commands: [make]
`))
	require.NoError(t, err)
	require.NotNil(t, cfg.Source)
	assert.Equal(t, "secret-token", cfg.Source.Token)
	// Defaults for source.
	assert.Equal(t, "main", cfg.Source.Ref)
	assert.Equal(t, "git", cfg.Source.User)
}

func TestLoadPreservesUnsetVariables(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
matrix:
  axes:
    - name: platform
      entries:
        - id: linux
stages:
  - name: build
    commands: [make]
provisioner:
  command: rustup default "$MATRIXCI_CHANNEL"
`))
	require.NoError(t, err)
	require.NotNil(t, cfg.Provisioner)
	// The reference is for the lane shell, not load time.
	assert.Contains(t, cfg.Provisioner.Command, "MATRIXCI_CHANNEL")
}

func TestValidateRejectsMissingStages(t *testing.T) {
	_, err := Load(writeConfig(t, `
matrix:
  axes:
    - name: platform
      entries:
        - id: linux
`))
	require.Error(t, err)
	assert.Equal(t, cierrors.CategoryConfig, cierrors.CategoryOf(err))
}

func TestValidateRejectsDuplicateStageNames(t *testing.T) {
	_, err := Load(writeConfig(t, `
matrix:
  axes:
    - name: platform
      entries:
        - id: linux
stages:
  - name: build
    commands: [make]
  - name: build
    commands: [make again]
`))
	require.Error(t, err)
	assert.Equal(t, cierrors.CategoryValidation, cierrors.CategoryOf(err))
}

func TestValidateSurfacesMatrixErrors(t *testing.T) {
	// Duplicate entry label within one axis.
	_, err := Load(writeConfig(t, `
matrix:
  axes:
    - name: platform
      entries:
        - id: linux
        - id: linux
stages:
  - name: build
    commands: [make]
`))
	require.Error(t, err)
	assert.Equal(t, cierrors.CategoryConfig, cierrors.CategoryOf(err))

	// No axes at all.
	_, err = Load(writeConfig(t, `
stages:
  - name: build
    commands: [make]
`))
	require.Error(t, err)
}

func TestValidateRejectsBadDurations(t *testing.T) {
	_, err := Load(writeConfig(t, `
matrix:
  axes:
    - name: platform
      entries:
        - id: linux
stages:
  - name: build
    commands: [make]
execution:
  lane_timeout: soon
`))
	require.Error(t, err)
	assert.Equal(t, cierrors.CategoryValidation, cierrors.CategoryOf(err))
}

func TestValidateRejectsSourceWithoutURL(t *testing.T) {
	_, err := Load(writeConfig(t, `
source:
  ref: main
matrix:
  axes:
    - name: platform
      entries:
        - id: linux
stages:
  - name: build
    commands: [make]
`))
	require.Error(t, err)
}

func TestAxesPreservesDeclarationOrder(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	axes := cfg.Axes()
	require.Len(t, axes, 1)
	assert.Equal(t, "platform", axes[0].Name)
	require.Len(t, axes[0].Entries, 2)
	assert.Equal(t, "linux-stable", axes[0].Entries[0].Label)
	assert.Equal(t, "stable", axes[0].Entries[0].Vars["channel"])
}

func TestInitWritesLoadableConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "matrixci.yaml")
	require.NoError(t, Init(path, false))

	// Refuses to overwrite without force.
	require.Error(t, Init(path, false))
	require.NoError(t, Init(path, true))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Matrix.Axes)
	assert.NotEmpty(t, cfg.Stages)
}
