package command

import (
	"time"
)

// Result is the outcome of one Execute call. Every result is complete:
// a denied or timed-out command still yields a Result with its kind,
// violations and whatever output was captured before the kill. Stdout
// and Stderr have already been through secret redaction.
type Result struct {
	// ID is the unique identifier assigned to this execution.
	ID string

	// TraceID is the trace the execution ran under, if tracing is on.
	TraceID string

	// Program is the base name the allowlist was consulted with.
	Program string

	// Argv is the command line as requested, secrets redacted.
	Argv []string

	// Kind classifies the outcome.
	Kind FailureKind

	// ExitCode is the process exit code. -1 when the process was
	// killed or never started.
	ExitCode int

	// Stdout and Stderr are the captured, redacted output streams.
	Stdout string
	Stderr string

	// Violations explains a FailureNotAllowed outcome.
	Violations []Violation

	// Reason is a one-line summary for non-success outcomes.
	Reason string

	// Duration is the wall-clock time spent in the child process.
	// Zero when the command never spawned.
	Duration time.Duration

	// Started reports whether a child process was actually spawned.
	Started bool
}

// FailureKind classifies how an execution ended.
type FailureKind int

const (
	// FailureNone means the command ran and exited zero.
	FailureNone FailureKind = iota
	// FailureNotAllowed means the command was refused before spawning.
	FailureNotAllowed
	// FailureTimedOut means the process was killed at its deadline.
	FailureTimedOut
	// FailureNonZeroExit means the process ran and exited non-zero.
	FailureNonZeroExit
	// FailureSpawnFailed means the OS could not start the process.
	FailureSpawnFailed
)

// String returns the string representation of the failure kind.
func (k FailureKind) String() string {
	switch k {
	case FailureNone:
		return "none"
	case FailureNotAllowed:
		return "not_allowed"
	case FailureTimedOut:
		return "timed_out"
	case FailureNonZeroExit:
		return "non_zero_exit"
	case FailureSpawnFailed:
		return "spawn_failed"
	default:
		return "unknown"
	}
}

// Success reports whether the command ran to completion with exit
// code zero.
func (r *Result) Success() bool {
	return r.Kind == FailureNone
}

// Failed reports the inverse of Success.
func (r *Result) Failed() bool {
	return !r.Success()
}

// Retryable reports whether retrying the identical request could
// plausibly succeed. Rate-limit denials and timeouts are transient;
// allowlist denials and spawn failures are not.
func (r *Result) Retryable() bool {
	if r.Kind == FailureTimedOut {
		return true
	}
	if r.Kind == FailureNotAllowed {
		for _, v := range r.Violations {
			if v.Code == CodeRateLimited {
				return true
			}
		}
	}
	return false
}
