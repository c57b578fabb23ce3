package executor

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
)

// CommandResult is the observable outcome of one external command: captured
// combined stdout/stderr and the process exit status. The runner never
// interprets collaborator output beyond these two.
type CommandResult struct {
	Output   string
	ExitCode int
}

// CommandRunner is the capability port for "run a command and observe exit
// status + captured output". A non-zero exit code is NOT an error return;
// the error return is reserved for infrastructure failures (the command could
// not be spawned, or the context was canceled before completion).
type CommandRunner interface {
	Run(ctx context.Context, command string, env []string, dir string) (CommandResult, error)
}

// ShellRunner executes commands through `sh -c` with combined output capture.
type ShellRunner struct{}

// NewShellRunner creates the default process-spawning runner.
func NewShellRunner() *ShellRunner { return &ShellRunner{} }

// Run executes a single shell command. env entries are appended to the
// current process environment; dir, when non-empty, sets the working
// directory.
func (r *ShellRunner) Run(ctx context.Context, command string, env []string, dir string) (CommandResult, error) {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Env = append(os.Environ(), env...)
	cmd.Dir = dir

	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	res := CommandResult{Output: out.String()}
	if err == nil {
		return res, nil
	}

	// Cancellation and deadline expiry are infrastructure-class, even though
	// the killed process also reports a non-zero exit.
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, err
}
