// Package exec wraps os/exec behind a single seam. It is the only
// package in the module allowed to spawn processes. Children are
// always started from an argument vector, never through a shell, and
// every child is reaped on every exit path, including timeout.
package exec

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"syscall"
	"time"
)

// Runner spawns and supervises child processes.
type Runner struct{}

// NewRunner creates a new process runner.
func NewRunner() *Runner {
	return &Runner{}
}

// Spec describes a single process invocation.
type Spec struct {
	// Program is the program to run, resolved via the PATH of the
	// parent process (exec.LookPath semantics).
	Program string

	// Args are the arguments, excluding the program name.
	Args []string

	// Env is the complete child environment in KEY=VALUE form.
	// The child inherits nothing beyond this slice.
	Env []string

	// Dir is the working directory. Empty means the parent's.
	Dir string

	// Stdin provides input to the child.
	Stdin io.Reader

	// Stdout receives standard output. If nil, output is captured
	// into Outcome.Stdout.
	Stdout io.Writer

	// Stderr receives standard error. If nil, output is captured
	// into Outcome.Stderr.
	Stderr io.Writer
}

// Outcome is the raw result of a supervised process run.
type Outcome struct {
	// Started reports whether the process was successfully spawned.
	Started bool

	// ExitCode is the exit code, or -1 if the process was killed or
	// never ran to completion.
	ExitCode int

	// Signaled reports whether the process was terminated by a signal.
	Signaled bool

	// Stdout and Stderr hold captured output when no streaming writer
	// was supplied. On timeout they hold whatever was produced before
	// the kill.
	Stdout []byte
	Stderr []byte

	// Duration is the wall-clock time from spawn to reap.
	Duration time.Duration
}

// Run spawns the process described by spec and waits for it, bounded by
// ctx. When ctx expires the whole process group is killed and the child
// is still reaped before Run returns.
//
// Error contract: a nil error means the process ran to completion; a
// non-zero exit code is data, not an error. ctx.Err() is returned on
// timeout or cancellation. Any other error means the spawn itself
// failed and Outcome.Started is false.
func (r *Runner) Run(ctx context.Context, spec *Spec) (*Outcome, error) {
	if err := ctx.Err(); err != nil {
		return &Outcome{ExitCode: -1}, err
	}
	if _, ok := ctx.Deadline(); !ok {
		return &Outcome{ExitCode: -1}, fmt.Errorf("context must carry a deadline")
	}

	// #nosec G204 -- the argument vector has already passed the policy
	// token check; no shell interpretation happens here.
	cmd := exec.Command(spec.Program, spec.Args...)
	cmd.Env = spec.Env
	cmd.Dir = spec.Dir
	cmd.Stdin = spec.Stdin
	// New process group so a timeout kill reaches descendants too.
	cmd.SysProcAttr = sysProcAttr()

	var stdoutBuf, stderrBuf bytes.Buffer
	if spec.Stdout != nil {
		cmd.Stdout = spec.Stdout
	} else {
		cmd.Stdout = &stdoutBuf
	}
	if spec.Stderr != nil {
		cmd.Stderr = spec.Stderr
	} else {
		cmd.Stderr = &stderrBuf
	}

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return &Outcome{Started: false, ExitCode: -1, Duration: time.Since(start)}, err
	}

	waitDone := make(chan error, 1)
	go func() { waitDone <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-waitDone:
	case <-ctx.Done():
		killTree(cmd.Process.Pid)
		// SIGKILL cannot be caught, so the reap is bounded.
		waitErr = <-waitDone
	}

	out := &Outcome{
		Started:  true,
		ExitCode: -1,
		Duration: time.Since(start),
	}
	if spec.Stdout == nil {
		out.Stdout = stdoutBuf.Bytes()
	}
	if spec.Stderr == nil {
		out.Stderr = stderrBuf.Bytes()
	}

	if state := cmd.ProcessState; state != nil {
		out.ExitCode = state.ExitCode()
		if ws, ok := state.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
			out.Signaled = true
		}
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return out, ctxErr
	}
	if _, isExit := waitErr.(*exec.ExitError); waitErr != nil && !isExit {
		return out, waitErr
	}
	return out, nil
}

// BuildEnv flattens an environment map into KEY=VALUE form.
func BuildEnv(env map[string]string) []string {
	result := make([]string, 0, len(env))
	for k, v := range env {
		result = append(result, k+"="+v)
	}
	return result
}
