// Package guard is the trust boundary between an agent-driven ML
// pipeline and the host it runs on. It centralizes subprocess
// execution behind an allowlist, confines filesystem paths to a
// project root, and redacts secret material from anything that could
// reach a log or a transcript.
//
// # Quick Start
//
//	pol, err := policy.Compile(guard.ExamplePolicy())
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	g, err := guard.NewBuilder().
//	    WithPolicy(pol).
//	    WithSecrets(guard.SecretsFromEnvironment()).
//	    Build()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer g.Shutdown(context.Background())
//
//	req := guard.Command("git", "status").MustBuild()
//	result, err := g.Execute(ctx, req)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if result.Failed() {
//	    fmt.Println(result.Kind, result.Reason)
//	}
//	fmt.Println(result.Stdout)
//
// # Security Model
//
// Three cooperating layers, each independently usable:
//
//   - Command allowlisting: only named programs run, with their
//     arguments checked token by token. No shell is ever involved, so
//     there is no quoting or injection surface.
//   - Path containment: candidate paths are canonicalized, symlinks
//     resolved, and checked against a single project root before use.
//   - Secret redaction: known secret values and secret-shaped tokens
//     are masked in all captured output, unconditionally.
//
// Denied commands, timeouts and non-zero exits are data on the Result,
// not errors: the caller must branch on them, and the guard never
// retries on its own.
//
// # Architecture
//
// The module is organized into focused packages:
//
//   - guard (this package): entry point and convenience functions
//   - command: the execution guard, requests and results
//   - policy: YAML allowlist loading and compilation
//   - pathguard: path canonicalization and root containment
//   - secretguard: secret registry and redaction
//   - resilience: rate limiting and concurrency bounds
//   - observability: audit logging, metrics and OpenTelemetry
//   - hooks: extension points around execution
//   - config: aggregate configuration presets
//
// # Thread Safety
//
// All types in this package are safe for concurrent use by multiple
// goroutines. A Guard can be shared freely; each Execute call owns its
// own child process and timeout.
package guard

import (
	"context"
	"path/filepath"
	"time"

	"github.com/croakml/guard/command"
	"github.com/croakml/guard/pathguard"
	"github.com/croakml/guard/policy"
	"github.com/croakml/guard/secretguard"
)

// =============================================================================
// Core Types
// =============================================================================

// Guard is the primary type for guarded command execution.
// All subprocess execution MUST go through a Guard so that the
// allowlist, containment and redaction layers are applied consistently.
type Guard = command.Guard

// Builder creates configured Guard instances.
type Builder = command.Builder

// Request describes a single command to run.
type Request = command.Request

// RequestBuilder creates requests with a fluent interface.
type RequestBuilder = command.RequestBuilder

// Result contains the outcome of one execution.
type Result = command.Result

// FailureKind classifies how an execution ended.
type FailureKind = command.FailureKind

// Failure kinds.
const (
	FailureNone        = command.FailureNone
	FailureNotAllowed  = command.FailureNotAllowed
	FailureTimedOut    = command.FailureTimedOut
	FailureNonZeroExit = command.FailureNonZeroExit
	FailureSpawnFailed = command.FailureSpawnFailed
)

// Violation describes one specific reason a request was refused.
type Violation = command.Violation

// Decision is one complete policy answer.
type Decision = command.Decision

// =============================================================================
// Path Types
// =============================================================================

// PathGuard validates paths against a project root.
type PathGuard = pathguard.Guard

// PathSecurityError reports a rejected path.
type PathSecurityError = pathguard.SecurityError

// =============================================================================
// Secret Types
// =============================================================================

// SecretRegistry holds one consistent snapshot of secret material.
type SecretRegistry = secretguard.Registry

// SecretPattern is a structural matcher for secret-shaped text.
type SecretPattern = secretguard.Pattern

// =============================================================================
// Policy Types
// =============================================================================

// PolicyLoader loads and manages policies from YAML files.
type PolicyLoader = policy.Loader

// PolicyConfig represents a policy configuration before compilation.
type PolicyConfig = policy.Config

// CompiledPolicy is a compiled and ready-to-use policy.
type CompiledPolicy = policy.CompiledPolicy

// =============================================================================
// Error Variables
// =============================================================================

// Common errors returned by the module.
var (
	// ErrOutsideRoot indicates a path escaped the project root.
	ErrOutsideRoot = pathguard.ErrOutsideRoot

	// ErrInvalidRequest indicates a malformed request.
	ErrInvalidRequest = command.ErrInvalidRequest

	// ErrGuardShutdown indicates the guard has been shut down.
	ErrGuardShutdown = command.ErrGuardShutdown

	// ErrNoPolicy indicates the guard was built without a policy.
	ErrNoPolicy = command.ErrNoPolicy
)

// =============================================================================
// Factory Functions
// =============================================================================

// NewBuilder creates a builder for configuring a Guard.
//
// Example:
//
//	g, err := guard.NewBuilder().
//	    WithPolicy(pol).
//	    WithWorkspace(ws).
//	    WithSecrets(guard.SecretsFromEnvironment()).
//	    Build()
func NewBuilder() *Builder {
	return command.NewBuilder()
}

// New creates a Guard for a project: the policy compiled from config,
// working directories confined to root, and secrets snapshotted from
// the environment. The simplest production-shaped entry point.
func New(root string, cfg *PolicyConfig) (*Guard, error) {
	pol, err := policy.Compile(cfg)
	if err != nil {
		return nil, err
	}

	ws, err := pathguard.New(root)
	if err != nil {
		return nil, err
	}

	return NewBuilder().
		WithPolicy(pol).
		WithWorkspace(ws).
		WithSecrets(secretguard.FromEnvironment()).
		Build()
}

// =============================================================================
// Request Construction
// =============================================================================

// Command creates a request builder for the given command line.
//
// Example:
//
//	req, err := guard.Command("git", "status").
//	    WithTimeout(10 * time.Second).
//	    Build()
func Command(argv ...string) *command.RequestBuilder {
	return command.NewRequest(argv...)
}

// =============================================================================
// Policy Loading
// =============================================================================

// LoadPolicy creates a policy loader for a YAML file under baseDir.
//
// Example policy.yaml:
//
//	version: "1.0"
//	defaults:
//	  timeout: 5m
//	  max_timeout: 4h
//	programs:
//	  - name: git
//	    enabled: true
//	    tokens: [status, log, diff, rev-parse]
func LoadPolicy(baseDir, policyFile string, opts ...policy.LoaderOption) (*PolicyLoader, error) {
	return policy.NewLoader(baseDir, policyFile, opts...)
}

// LoadPolicyFromPath creates a loader from a full file path.
func LoadPolicyFromPath(path string) (*PolicyLoader, error) {
	return policy.NewLoader(filepath.Dir(path), filepath.Base(path))
}

// ExamplePolicy returns a policy covering the tools an ML training
// pipeline shells out to. Use it as a starting point for your own.
func ExamplePolicy() *PolicyConfig {
	return policy.ExamplePolicy()
}

// WatchPolicy starts hot reload: the loader polls its file and swaps
// the guard's policy whenever the content changes. In-flight
// executions keep the decision they already took.
func WatchPolicy(ctx context.Context, g *Guard, loader *PolicyLoader, interval time.Duration) {
	loader.OnChange(func(p *CompiledPolicy) { g.SetPolicy(p) })
	if current := loader.Get(); current != nil {
		g.SetPolicy(current)
	}
	loader.Watch(ctx, interval)
}

// =============================================================================
// Path Validation
// =============================================================================

// NewPathGuard creates a path guard rooted at the given directory.
func NewPathGuard(root string) (*PathGuard, error) {
	return pathguard.New(root)
}

// SanitizeFilename strips path separators and control characters from
// an untrusted filename, leaving a single safe path component.
func SanitizeFilename(name string) string {
	return pathguard.SanitizeFilename(name)
}

// =============================================================================
// Secret Redaction
// =============================================================================

// SecretsFromEnvironment snapshots the current values of the default
// secret-bearing environment variables.
func SecretsFromEnvironment(names ...string) *SecretRegistry {
	return secretguard.FromEnvironment(names...)
}

// Redact masks secret material in text using a fresh environment
// snapshot. For repeated calls, build one registry and reuse it.
func Redact(text string) string {
	return secretguard.FromEnvironment().Redact(text)
}

// =============================================================================
// Version Information
// =============================================================================

// Version returns the module version.
func Version() string {
	return "1.0.0"
}
