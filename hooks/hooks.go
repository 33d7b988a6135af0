// Package hooks provides extension points for the execution lifecycle.
// Hooks run after the allowlist has accepted a request, so they can
// only tighten policy, never loosen it.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/croakml/guard/command"
)

// Hook is the common surface of all hook kinds.
type Hook interface {
	// Name returns a unique identifier for the hook.
	Name() string

	// Priority determines execution order (lower = earlier).
	Priority() int
}

// PreExecuteHook is called after policy checks, before spawning.
// Returning an error aborts the execution.
type PreExecuteHook interface {
	Hook
	PreExecute(ctx context.Context, req *command.Request) error
}

// PostExecuteHook is called after the result is built, output already
// redacted. Errors are reported to the caller but cannot undo the
// execution.
type PostExecuteHook interface {
	Hook
	PostExecute(ctx context.Context, req *command.Request, result *command.Result) error
}

// ArgValidator adds semantic argument checks for one program beyond
// what the declarative allowlist can express, e.g. "the script path
// must point at an existing file".
type ArgValidator interface {
	Hook
	// Program returns the base name this validator applies to, or ""
	// for all programs.
	Program() string

	// ValidateArgs inspects the arguments after argv[0]. A non-nil
	// error denies the request.
	ValidateArgs(ctx context.Context, program string, args []string) error
}

// Registry manages hook registration and invocation. It is safe for
// concurrent use; registration after the guard is built takes effect
// on the next Execute call.
type Registry struct {
	preExecute  []PreExecuteHook
	postExecute []PostExecuteHook
	validators  []ArgValidator
	mu          sync.RWMutex
}

// NewRegistry creates an empty hook registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register adds a hook. A hook implementing several interfaces is
// registered for each of them.
func (r *Registry) Register(hook Hook) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if h, ok := hook.(PreExecuteHook); ok {
		r.preExecute = append(r.preExecute, h)
		sort.SliceStable(r.preExecute, func(i, j int) bool {
			return r.preExecute[i].Priority() < r.preExecute[j].Priority()
		})
	}

	if h, ok := hook.(PostExecuteHook); ok {
		r.postExecute = append(r.postExecute, h)
		sort.SliceStable(r.postExecute, func(i, j int) bool {
			return r.postExecute[i].Priority() < r.postExecute[j].Priority()
		})
	}

	if h, ok := hook.(ArgValidator); ok {
		r.validators = append(r.validators, h)
		sort.SliceStable(r.validators, func(i, j int) bool {
			return r.validators[i].Priority() < r.validators[j].Priority()
		})
	}
}

// Unregister removes a hook by name from every list.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.preExecute = filterPre(r.preExecute, name)
	r.postExecute = filterPost(r.postExecute, name)
	r.validators = filterValidators(r.validators, name)
}

// RunPreExecute runs all pre-execute hooks in priority order.
func (r *Registry) RunPreExecute(ctx context.Context, req *command.Request) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, hook := range r.preExecute {
		if err := hook.PreExecute(ctx, req); err != nil {
			return fmt.Errorf("hook %s: %w", hook.Name(), err)
		}
	}
	return nil
}

// RunPostExecute runs all post-execute hooks in priority order.
func (r *Registry) RunPostExecute(ctx context.Context, req *command.Request, result *command.Result) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, hook := range r.postExecute {
		if err := hook.PostExecute(ctx, req, result); err != nil {
			return fmt.Errorf("hook %s: %w", hook.Name(), err)
		}
	}
	return nil
}

// RunArgValidators runs the validators registered for the request's
// program, plus the catch-all validators.
func (r *Registry) RunArgValidators(ctx context.Context, req *command.Request) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	program := req.Program()
	for _, v := range r.validators {
		if v.Program() != "" && v.Program() != program {
			continue
		}
		if err := v.ValidateArgs(ctx, program, req.Args()); err != nil {
			return fmt.Errorf("hook %s: %w", v.Name(), err)
		}
	}
	return nil
}

func filterPre(hooks []PreExecuteHook, name string) []PreExecuteHook {
	result := hooks[:0:0]
	for _, h := range hooks {
		if h.Name() != name {
			result = append(result, h)
		}
	}
	return result
}

func filterPost(hooks []PostExecuteHook, name string) []PostExecuteHook {
	result := hooks[:0:0]
	for _, h := range hooks {
		if h.Name() != name {
			result = append(result, h)
		}
	}
	return result
}

func filterValidators(hooks []ArgValidator, name string) []ArgValidator {
	result := hooks[:0:0]
	for _, h := range hooks {
		if h.Name() != name {
			result = append(result, h)
		}
	}
	return result
}

// LoggingHook logs every execution outcome through slog. Output in
// the result has already been redacted, so logging it is safe.
type LoggingHook struct {
	logger *slog.Logger
}

// NewLoggingHook creates a logging hook. A nil logger uses the
// default slog logger.
func NewLoggingHook(logger *slog.Logger) *LoggingHook {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingHook{logger: logger}
}

// Name implements Hook.
func (h *LoggingHook) Name() string { return "logging" }

// Priority implements Hook. Logging runs last.
func (h *LoggingHook) Priority() int { return 1000 }

// PostExecute implements PostExecuteHook.
func (h *LoggingHook) PostExecute(ctx context.Context, req *command.Request, result *command.Result) error {
	attrs := []any{
		"id", result.ID,
		"program", result.Program,
		"kind", result.Kind.String(),
		"exit_code", result.ExitCode,
		"duration", result.Duration,
	}
	if result.Success() {
		h.logger.InfoContext(ctx, "command completed", attrs...)
	} else {
		attrs = append(attrs, "reason", result.Reason)
		h.logger.WarnContext(ctx, "command failed", attrs...)
	}
	return nil
}

// ScriptExistsValidator denies a program invocation whose script
// argument does not point at an existing regular file. Registered for
// interpreters like python where the allowlist admits any argument but
// a missing script indicates a confused caller.
type ScriptExistsValidator struct {
	ForProgram string
	Check      func(path string) error
}

// Name implements Hook.
func (v *ScriptExistsValidator) Name() string { return "script-exists:" + v.ForProgram }

// Priority implements Hook.
func (v *ScriptExistsValidator) Priority() int { return 100 }

// Program implements ArgValidator.
func (v *ScriptExistsValidator) Program() string { return v.ForProgram }

// ValidateArgs implements ArgValidator.
func (v *ScriptExistsValidator) ValidateArgs(ctx context.Context, program string, args []string) error {
	if v.Check == nil {
		return nil
	}
	for _, arg := range args {
		if len(arg) > 3 && arg[len(arg)-3:] == ".py" {
			if err := v.Check(arg); err != nil {
				return fmt.Errorf("script %s: %w", arg, err)
			}
		}
	}
	return nil
}
