// Package command implements guarded subprocess execution: allowlist
// enforcement, working-directory containment, timeout supervision and
// secret redaction, in that order, for every request.
package command

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	internalexec "github.com/croakml/guard/internal/exec"
	"github.com/croakml/guard/internal/envutil"
	"github.com/croakml/guard/pathguard"
	"github.com/croakml/guard/resilience"
	"github.com/croakml/guard/secretguard"
)

// Runner spawns and supervises one child process. The production
// implementation lives in internal/exec; tests substitute a counting
// double to prove that denied requests never spawn.
type Runner interface {
	Run(ctx context.Context, spec *internalexec.Spec) (*internalexec.Outcome, error)
}

// HookRunner runs lifecycle hooks around an execution.
type HookRunner interface {
	RunArgValidators(ctx context.Context, req *Request) error
	RunPreExecute(ctx context.Context, req *Request) error
	RunPostExecute(ctx context.Context, req *Request, result *Result) error
}

// Auditor records completed executions and denials.
type Auditor interface {
	Record(ctx context.Context, req *Request, result *Result, policyVersion string) error
}

// StatsRecorder accumulates in-process execution counters.
type StatsRecorder interface {
	Record(result *Result)
}

// Telemetry exports spans and metrics for executions.
type Telemetry interface {
	StartSpan(ctx context.Context, name string) (context.Context, func())
	RecordDuration(seconds float64, labels map[string]string)
	CountExecution(labels map[string]string)
	CountDenial(labels map[string]string)
	AddActive(delta int64)
}

// Guard is the single entry point for subprocess execution. All checks
// run before any process is spawned; a request that fails any of them
// produces a FailureNotAllowed result and zero side effects.
//
// A Guard is safe for concurrent use. Each Execute call owns its own
// child process and timeout; the only shared state is the policy
// reference, read once per call.
type Guard struct {
	policy      Policy
	policyMu    sync.RWMutex
	workspace   *pathguard.Guard
	secrets     *secretguard.Registry
	runner      Runner
	rateLimiter resilience.RateLimiter
	concurrency *resilience.ConcurrencyLimiter
	hooks       HookRunner
	audit       Auditor
	stats       StatsRecorder
	telemetry   Telemetry

	wg       sync.WaitGroup
	mu       sync.RWMutex // protects shutdown check and wg.Add
	shutdown int32
}

// Builder creates configured Guard instances.
type Builder struct {
	policy        Policy
	workspace     *pathguard.Guard
	secrets       *secretguard.Registry
	runner        Runner
	rateLimiter   resilience.RateLimiter
	maxConcurrent int64
	hooks         HookRunner
	audit         Auditor
	stats         StatsRecorder
	telemetry     Telemetry
}

// NewBuilder creates a new guard builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithPolicy sets the allowlist policy. Required.
func (b *Builder) WithPolicy(policy Policy) *Builder {
	b.policy = policy
	return b
}

// WithWorkspace confines working directories to a project root.
func (b *Builder) WithWorkspace(workspace *pathguard.Guard) *Builder {
	b.workspace = workspace
	return b
}

// WithSecrets sets the redaction registry applied to all output.
func (b *Builder) WithSecrets(secrets *secretguard.Registry) *Builder {
	b.secrets = secrets
	return b
}

// WithRunner substitutes the process runner. Test seam.
func (b *Builder) WithRunner(runner Runner) *Builder {
	b.runner = runner
	return b
}

// WithRateLimiter sets the per-program rate limiter.
func (b *Builder) WithRateLimiter(limiter resilience.RateLimiter) *Builder {
	b.rateLimiter = limiter
	return b
}

// WithMaxConcurrent bounds simultaneously running child processes.
func (b *Builder) WithMaxConcurrent(max int64) *Builder {
	b.maxConcurrent = max
	return b
}

// WithHooks sets the hook registry.
func (b *Builder) WithHooks(hooks HookRunner) *Builder {
	b.hooks = hooks
	return b
}

// WithAudit sets the audit recorder.
func (b *Builder) WithAudit(audit Auditor) *Builder {
	b.audit = audit
	return b
}

// WithStats sets the in-process metrics recorder.
func (b *Builder) WithStats(stats StatsRecorder) *Builder {
	b.stats = stats
	return b
}

// WithTelemetry sets the telemetry provider.
func (b *Builder) WithTelemetry(telemetry Telemetry) *Builder {
	b.telemetry = telemetry
	return b
}

// Build creates the guard.
func (b *Builder) Build() (*Guard, error) {
	if b.policy == nil {
		return nil, &GuardError{Op: "build", Err: ErrNoPolicy}
	}

	runner := b.runner
	if runner == nil {
		runner = internalexec.NewRunner()
	}
	secrets := b.secrets
	if secrets == nil {
		secrets = secretguard.Empty()
	}

	return &Guard{
		policy:      b.policy,
		workspace:   b.workspace,
		secrets:     secrets,
		runner:      runner,
		rateLimiter: b.rateLimiter,
		concurrency: resilience.NewConcurrencyLimiter(b.maxConcurrent),
		hooks:       b.hooks,
		audit:       b.audit,
		stats:       b.stats,
		telemetry:   b.telemetry,
	}, nil
}

// SetPolicy atomically replaces the policy. In-flight executions keep
// the decision they already took; subsequent calls see the new policy.
func (g *Guard) SetPolicy(policy Policy) {
	if policy == nil {
		return
	}
	g.policyMu.Lock()
	g.policy = policy
	g.policyMu.Unlock()
}

// currentPolicy returns the one policy snapshot this call will use.
func (g *Guard) currentPolicy() Policy {
	g.policyMu.RLock()
	defer g.policyMu.RUnlock()
	return g.policy
}

// Available reports whether program resolves on the parent's PATH.
// Availability is not permission: an available program may still be
// denied by policy.
func (g *Guard) Available(program string) bool {
	_, err := internalexec.LookPath(program)
	return err == nil
}

// Execute runs one guarded command. Expected failure modes, including
// denial, timeout and non-zero exit, are reported on the Result with a
// nil error; a non-nil error means the guard itself could not process
// the request (shutdown, malformed request).
func (g *Guard) Execute(ctx context.Context, req *Request) (*Result, error) {
	// The shutdown check and wg.Add must be atomic so Shutdown cannot
	// begin waiting between them.
	g.mu.RLock()
	if atomic.LoadInt32(&g.shutdown) == 1 {
		g.mu.RUnlock()
		return nil, &GuardError{Op: "execute", Err: ErrGuardShutdown}
	}
	g.wg.Add(1)
	g.mu.RUnlock()
	defer g.wg.Done()

	if req == nil || len(req.Argv) == 0 {
		return nil, &GuardError{Op: "execute", Err: ErrInvalidRequest, Details: "empty argv"}
	}

	if g.telemetry != nil {
		var endSpan func()
		ctx, endSpan = g.telemetry.StartSpan(ctx, "guard.Execute")
		defer endSpan()
	}

	pol := g.currentPolicy()

	result := &Result{
		ID:       uuid.New().String(),
		Program:  req.Program(),
		Argv:     g.secrets.RedactAll(req.Argv),
		ExitCode: -1,
	}
	if span := trace.SpanContextFromContext(ctx); span.HasTraceID() {
		result.TraceID = span.TraceID().String()
	}

	decision := pol.Check(ctx, req)
	if !decision.Allowed {
		result.Kind = FailureNotAllowed
		result.Reason = g.secrets.Redact(decision.Reason)
		result.Violations = g.redactViolations(decision.Violations)
		return g.finish(ctx, req, result, pol), nil
	}

	if err := g.runHookChecks(ctx, req, result, pol); err != nil {
		return result, nil
	}

	// Working directory containment happens before any spawn. The
	// canonical path from pathguard, not the caller's input, is what
	// the child actually runs in.
	dir := req.Dir
	if g.workspace != nil {
		if dir == "" {
			dir = g.workspace.Root()
		} else {
			canonical, err := g.workspace.ValidateDir(dir)
			if err != nil {
				result.Kind = FailureNotAllowed
				result.Reason = "working directory outside workspace"
				result.Violations = append(result.Violations, Violation{
					Code:     CodeWorkdirDenied,
					Field:    "dir",
					Message:  g.secrets.Redact(err.Error()),
					Severity: SeverityError,
				})
				return g.finish(ctx, req, result, pol), nil
			}
			dir = canonical
		}
	}

	if g.rateLimiter != nil && !g.rateLimiter.Allow(result.Program) {
		result.Kind = FailureNotAllowed
		result.Reason = "rate limit exceeded"
		result.Violations = append(result.Violations, Violation{
			Code:     CodeRateLimited,
			Field:    "argv[0]",
			Message:  "execution rate limit exceeded for " + result.Program,
			Severity: SeverityError,
		})
		return g.finish(ctx, req, result, pol), nil
	}

	if err := g.concurrency.Acquire(ctx); err != nil {
		result.Kind = FailureTimedOut
		result.Reason = "canceled while waiting for an execution slot"
		return g.finish(ctx, req, result, pol), nil
	}
	defer g.concurrency.Release()

	timeout := clampTimeout(req.Timeout, decision.DefaultTimeout, decision.MaxTimeout)

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	env := envutil.Merge(envutil.Minimal(), envutil.PassThrough(decision.PassEnv))
	env = envutil.Merge(env, req.Env)

	spec := &internalexec.Spec{
		Program: req.Argv[0],
		Args:    req.Args(),
		Env:     internalexec.BuildEnv(env),
		Dir:     dir,
		Stdin:   req.Stdin,
	}

	if g.telemetry != nil {
		g.telemetry.AddActive(1)
		defer g.telemetry.AddActive(-1)
	}

	outcome, runErr := g.runner.Run(execCtx, spec)
	g.applyOutcome(result, outcome, runErr, execCtx)

	return g.finish(ctx, req, result, pol), nil
}

// redactViolations scrubs violation messages before they reach the
// caller. Policy checks echo the offending argument, which can carry
// secret material.
func (g *Guard) redactViolations(violations []Violation) []Violation {
	if len(violations) == 0 {
		return violations
	}
	out := make([]Violation, len(violations))
	for i, v := range violations {
		v.Message = g.secrets.Redact(v.Message)
		out[i] = v
	}
	return out
}

// runHookChecks runs arg validators and pre-execute hooks, converting
// a refusal into a denial on the result. The returned error only
// signals "stop here"; the caller returns the result with a nil error.
func (g *Guard) runHookChecks(ctx context.Context, req *Request, result *Result, pol Policy) error {
	if g.hooks == nil {
		return nil
	}

	deny := func(err error) error {
		result.Kind = FailureNotAllowed
		result.Reason = "rejected by hook"
		result.Violations = append(result.Violations, Violation{
			Code:     CodeHookRejected,
			Field:    "argv",
			Message:  g.secrets.Redact(err.Error()),
			Severity: SeverityError,
		})
		g.finish(ctx, req, result, pol)
		return err
	}

	if err := g.hooks.RunArgValidators(ctx, req); err != nil {
		return deny(err)
	}
	if err := g.hooks.RunPreExecute(ctx, req); err != nil {
		return deny(err)
	}
	return nil
}

// applyOutcome maps a raw process outcome onto the result, redacting
// all captured output.
func (g *Guard) applyOutcome(result *Result, outcome *internalexec.Outcome, runErr error, execCtx context.Context) {
	if outcome != nil {
		result.Started = outcome.Started
		result.ExitCode = outcome.ExitCode
		result.Duration = outcome.Duration
		result.Stdout = g.secrets.Redact(string(outcome.Stdout))
		result.Stderr = g.secrets.Redact(string(outcome.Stderr))
	}

	switch {
	case runErr == nil && outcome != nil && outcome.ExitCode == 0:
		result.Kind = FailureNone
	case runErr == context.DeadlineExceeded || execCtx.Err() == context.DeadlineExceeded:
		result.Kind = FailureTimedOut
		result.Reason = "killed at deadline"
		result.ExitCode = -1
	case runErr == context.Canceled || execCtx.Err() == context.Canceled:
		// Caller cancellation surfaces the same way as the deadline:
		// the child was killed before completing.
		result.Kind = FailureTimedOut
		result.Reason = "canceled before completion"
		result.ExitCode = -1
	case outcome == nil || !outcome.Started:
		result.Kind = FailureSpawnFailed
		if runErr != nil {
			result.Reason = g.secrets.Redact(runErr.Error())
		}
	case runErr != nil:
		result.Kind = FailureSpawnFailed
		result.Reason = g.secrets.Redact(runErr.Error())
	default:
		result.Kind = FailureNonZeroExit
		result.Reason = "exit code " + strconv.Itoa(result.ExitCode)
	}
}

// finish runs post hooks and records the result everywhere it is
// observed. It always returns the result it was given.
func (g *Guard) finish(ctx context.Context, req *Request, result *Result, pol Policy) *Result {
	if g.hooks != nil {
		// A failing post hook cannot undo the execution; the outcome
		// stands regardless.
		_ = g.hooks.RunPostExecute(ctx, req, result)
	}

	if g.stats != nil {
		g.stats.Record(result)
	}

	if g.audit != nil {
		_ = g.audit.Record(ctx, req, result, pol.Version())
	}

	if g.telemetry != nil {
		labels := map[string]string{
			"program": result.Program,
			"kind":    result.Kind.String(),
		}
		g.telemetry.CountExecution(labels)
		if result.Kind == FailureNotAllowed {
			g.telemetry.CountDenial(labels)
		}
		if result.Started {
			g.telemetry.RecordDuration(result.Duration.Seconds(), labels)
		}
	}

	return result
}

// Redact masks secret material in arbitrary text using the guard's
// registry. Exposed so callers can scrub text that never went through
// Execute, e.g. their own log lines.
func (g *Guard) Redact(text string) string {
	return g.secrets.Redact(text)
}

// ValidatePath validates a path against the guard's workspace root and
// returns its canonical form. Errors when no workspace is configured.
func (g *Guard) ValidatePath(candidate string) (string, error) {
	if g.workspace == nil {
		return "", &GuardError{Op: "validate_path", Err: ErrInvalidRequest, Details: "no workspace root configured"}
	}
	return g.workspace.Validate(candidate)
}

// Shutdown refuses new executions and waits for in-flight ones, up to
// the context deadline. Child processes are not killed; each is still
// bounded by its own timeout.
func (g *Guard) Shutdown(ctx context.Context) error {
	g.mu.Lock()
	atomic.StoreInt32(&g.shutdown, 1)
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExecuteAsync runs a command in a goroutine, returning a channel that
// yields the single outcome.
func (g *Guard) ExecuteAsync(ctx context.Context, req *Request) <-chan AsyncResult {
	ch := make(chan AsyncResult, 1)
	go func() {
		result, err := g.Execute(ctx, req)
		ch <- AsyncResult{Result: result, Err: err}
		close(ch)
	}()
	return ch
}

// AsyncResult pairs a result with the guard error, if any.
type AsyncResult struct {
	Result *Result
	Err    error
}

// clampTimeout resolves the effective timeout: the request's own value
// when set, the policy default otherwise, never above the ceiling.
func clampTimeout(requested, def, max time.Duration) time.Duration {
	t := requested
	if t == 0 {
		t = def
	}
	if max > 0 && t > max {
		t = max
	}
	return t
}
