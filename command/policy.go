package command

import (
	"context"
	"time"
)

// Policy decides whether a request may run and with what effective
// settings. Implementations must be safe for concurrent use; the guard
// consults the policy exactly once per Execute call and acts on that
// one decision, so a reload mid-flight never mixes two policy versions
// in a single execution.
type Policy interface {
	// Check evaluates a request. It never returns an error: a request
	// the policy cannot evaluate is a denied request.
	Check(ctx context.Context, req *Request) *Decision

	// Version identifies the policy for audit records.
	Version() string
}

// Decision is one complete policy answer. Besides the verdict it
// carries the per-program settings in effect at decision time, so the
// caller never has to consult the policy a second time.
type Decision struct {
	// Allowed is the verdict.
	Allowed bool

	// Reason is a one-line summary when denied.
	Reason string

	// Violations lists every check that failed, not just the first.
	Violations []Violation

	// DefaultTimeout applies when the request names no timeout.
	DefaultTimeout time.Duration

	// MaxTimeout is the ceiling requests are clamped to.
	MaxTimeout time.Duration

	// PassEnv names the environment variables forwarded to the child.
	PassEnv []string
}

// Deny marks the decision denied and appends the violation. The first
// denial sets the reason.
func (d *Decision) Deny(reason string, v Violation) {
	if d.Allowed {
		d.Allowed = false
		d.Reason = reason
	}
	d.Violations = append(d.Violations, v)
}
