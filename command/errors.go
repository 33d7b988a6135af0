package command

import (
	"errors"
	"fmt"
)

// Sentinel errors for lifecycle and caller mistakes. Outcomes of a
// command that actually went through the checks, including denials and
// timeouts, are reported on the Result instead.
var (
	// ErrInvalidRequest indicates a malformed request.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrGuardShutdown indicates the guard has been shut down.
	ErrGuardShutdown = errors.New("guard shut down")

	// ErrNoPolicy indicates the guard was built without a policy.
	ErrNoPolicy = errors.New("no policy configured")

	// ErrHookAborted indicates a pre-execution hook refused the command.
	ErrHookAborted = errors.New("hook aborted execution")
)

// Violation describes one specific reason a request was refused.
// A denial carries every violation found, not just the first, so the
// caller can report the full picture in one round trip.
type Violation struct {
	// Code is a stable machine-readable identifier.
	Code string

	// Field names the part of the request at fault, e.g. "argv[2]".
	Field string

	// Message is the human-readable explanation.
	Message string

	// Severity classifies the violation.
	Severity Severity
}

// Violation codes emitted by the built-in checks.
const (
	CodeProgramNotAllowed = "PROGRAM_NOT_ALLOWED"
	CodeProgramDisabled   = "PROGRAM_DISABLED"
	CodeArgumentDenied    = "ARGUMENT_DENIED"
	CodeWorkdirDenied     = "WORKDIR_DENIED"
	CodeRateLimited       = "RATE_LIMITED"
	CodeHookRejected      = "HOOK_REJECTED"
	CodeEmptyCommand      = "EMPTY_COMMAND"
)

// Severity represents violation severity.
type Severity int

const (
	// SeverityWarning is recorded but does not block execution.
	SeverityWarning Severity = iota
	// SeverityError blocks execution.
	SeverityError
	// SeverityCritical blocks execution and should page someone.
	SeverityCritical
)

// String returns the string representation of the severity.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// GuardError provides structured detail for errors returned by the
// guard itself. It wraps one of the sentinel errors above.
type GuardError struct {
	// Op is the operation that failed.
	Op string

	// Program is the base name of the program involved, if any.
	Program string

	// Err is the underlying sentinel.
	Err error

	// Details provides human-readable context.
	Details string
}

// Error returns the error message.
func (e *GuardError) Error() string {
	switch {
	case e.Program != "" && e.Details != "":
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Program, e.Details)
	case e.Details != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Details)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

// Unwrap returns the underlying sentinel.
func (e *GuardError) Unwrap() error {
	return e.Err
}

// Is reports whether the error matches the target.
func (e *GuardError) Is(target error) bool {
	return errors.Is(e.Err, target)
}
