// Package provision is the boundary to the toolchain installer collaborator.
// It binds a lane's requested toolchain channel into the worker environment
// before any stage runs; a failure here fails the lane with zero stage
// results and is tagged retryable (infrastructure class).
package provision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"git.home.luguber.info/inful/matrixci/internal/cierrors"
	"git.home.luguber.info/inful/matrixci/internal/executor"
	"git.home.luguber.info/inful/matrixci/internal/logfields"
	"git.home.luguber.info/inful/matrixci/internal/matrix"
)

// Provisioner binds a toolchain for a lane. The returned env entries
// (KEY=VALUE) are added to every stage command in the lane.
type Provisioner interface {
	Provision(ctx context.Context, lane matrix.Lane) ([]string, error)
}

// Noop performs no provisioning (toolchain assumed pre-installed on the image).
type Noop struct{}

func (Noop) Provision(context.Context, matrix.Lane) ([]string, error) { return nil, nil }

// CommandProvisioner runs a configured install command with the lane's
// variable bindings exported, e.g.:
//
//	rustup toolchain install "$MATRIXCI_CHANNEL" && rustup default "$MATRIXCI_CHANNEL"
type CommandProvisioner struct {
	command string
	env     map[string]string
	runner  executor.CommandRunner
	workdir string
}

// NewCommandProvisioner creates a provisioner that shells out through runner.
func NewCommandProvisioner(command string, env map[string]string, runner executor.CommandRunner) *CommandProvisioner {
	return &CommandProvisioner{command: command, env: env, runner: runner}
}

// WithWorkdir sets the working directory for the provision command.
func (p *CommandProvisioner) WithWorkdir(dir string) *CommandProvisioner {
	p.workdir = dir
	return p
}

// Provision runs the install command in the lane's environment. The extra
// env configured for the provisioner is also handed back so stage commands
// observe the same bindings.
func (p *CommandProvisioner) Provision(ctx context.Context, lane matrix.Lane) ([]string, error) {
	env := executor.LaneEnv(lane)
	for k, v := range p.env {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}

	start := time.Now()
	slog.Info("Provisioning toolchain",
		logfields.Lane(lane.ID), logfields.Channel(lane.Channel()), logfields.Image(lane.Image()))

	res, err := p.runner.Run(ctx, p.command, env, p.workdir)
	if err != nil {
		return nil, cierrors.ProvisionFailed(lane.ID, err)
	}
	if res.ExitCode != 0 {
		return nil, cierrors.ProvisionFailed(lane.ID,
			fmt.Errorf("provision command exited %d: %s", res.ExitCode, tail(res.Output, 512)))
	}

	slog.Debug("Toolchain provisioned",
		logfields.Lane(lane.ID),
		logfields.DurationMS(float64(time.Since(start).Milliseconds())))

	extra := make([]string, 0, len(p.env))
	for k, v := range p.env {
		extra = append(extra, fmt.Sprintf("%s=%s", k, v))
	}
	return extra, nil
}

// tail returns the last n bytes of s for compact error context.
func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
