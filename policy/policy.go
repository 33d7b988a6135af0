// Package policy provides YAML-based allowlist policy for command
// execution. A policy names the programs that may run and, per
// program, the arguments they may receive. Anything the policy does
// not name is denied.
package policy

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/croakml/guard/command"
)

// Fallbacks applied when the YAML names no timeout.
const (
	// DefaultTimeout bounds a command whose request and policy are
	// both silent. Training-adjacent tooling routinely takes minutes,
	// so this is generous by CLI standards.
	DefaultTimeout = 5 * time.Minute

	// DefaultMaxTimeout is the absolute ceiling. Four hours covers a
	// long fine-tuning run; anything longer should be a managed job,
	// not a guarded subprocess.
	DefaultMaxTimeout = 4 * time.Hour
)

// ProgramPolicy is the compiled allowlist entry for one program.
type ProgramPolicy struct {
	// Name is the program base name.
	Name string

	// Enabled gates the entry.
	Enabled bool

	// AllowAnyArgs skips argument checks.
	AllowAnyArgs bool

	// StrictFlags subjects leading-dash arguments to token checks.
	StrictFlags bool

	// PassEnv is the environment pass-through set for this program,
	// defaults already merged in.
	PassEnv []string

	// MaxTimeout is the effective ceiling for this program.
	MaxTimeout time.Duration

	// RateLimit is the effective rate limit, nil for unlimited.
	RateLimit *RateLimitConfig

	// tokens is the literal argument set.
	tokens map[string]struct{}

	// patterns are the compiled arg patterns, anchored.
	patterns []*regexp.Regexp

	// patternSources retains the originals for violation messages.
	patternSources []ArgPattern
}

// CompiledPolicy is a validated, optimized policy ready for use. It
// implements command.Policy. The index is immutable after compilation;
// a reload produces a new CompiledPolicy rather than mutating one.
type CompiledPolicy struct {
	raw          *Config
	version      string
	hash         string
	programIndex map[string]*ProgramPolicy
	loadedAt     time.Time
	mu           sync.RWMutex
}

// Compile builds a CompiledPolicy from configuration.
func Compile(config *Config) (*CompiledPolicy, error) {
	cp := &CompiledPolicy{
		raw:          config,
		version:      config.Version,
		programIndex: make(map[string]*ProgramPolicy),
		loadedAt:     time.Now(),
	}

	for i := range config.Programs {
		pc := &config.Programs[i]
		pp, err := compileProgram(pc, &config.Defaults)
		if err != nil {
			return nil, fmt.Errorf("compiling policy for %s: %w", pc.Name, err)
		}
		cp.programIndex[pc.Name] = pp
	}

	return cp, nil
}

func compileProgram(pc *ProgramConfig, defaults *DefaultsConfig) (*ProgramPolicy, error) {
	if pc.Name == "" {
		return nil, fmt.Errorf("program name is required")
	}
	if strings.ContainsAny(pc.Name, "/\\") {
		return nil, fmt.Errorf("program name %q must be a base name, not a path", pc.Name)
	}

	pp := &ProgramPolicy{
		Name:         pc.Name,
		Enabled:      pc.Enabled,
		AllowAnyArgs: pc.AllowAnyArgs,
		StrictFlags:  pc.StrictFlags,
		MaxTimeout:   defaults.MaxTimeout.Duration,
		RateLimit:    defaults.RateLimit,
		tokens:       make(map[string]struct{}, len(pc.Tokens)),
	}

	if pp.MaxTimeout <= 0 {
		pp.MaxTimeout = DefaultMaxTimeout
	}
	if pc.MaxTimeout.Duration > 0 {
		pp.MaxTimeout = pc.MaxTimeout.Duration
	}
	if pc.RateLimit != nil {
		pp.RateLimit = pc.RateLimit
	}

	pp.PassEnv = append(pp.PassEnv, defaults.PassEnv...)
	pp.PassEnv = append(pp.PassEnv, pc.PassEnv...)

	for _, tok := range pc.Tokens {
		pp.tokens[tok] = struct{}{}
	}

	for _, ap := range pc.ArgPatterns {
		if ap.Pattern == "" {
			return nil, fmt.Errorf("empty arg pattern")
		}
		re, err := regexp.Compile("^(?:" + ap.Pattern + ")$")
		if err != nil {
			return nil, fmt.Errorf("invalid arg pattern %q: %w", ap.Pattern, err)
		}
		pp.patterns = append(pp.patterns, re)
		pp.patternSources = append(pp.patternSources, ap)
	}

	return pp, nil
}

// Check implements command.Policy.
func (cp *CompiledPolicy) Check(ctx context.Context, req *command.Request) *command.Decision {
	cp.mu.RLock()
	defer cp.mu.RUnlock()

	decision := &command.Decision{
		Allowed:        true,
		DefaultTimeout: cp.defaultTimeout(),
		MaxTimeout:     DefaultMaxTimeout,
	}

	program := req.Program()
	if program == "" {
		decision.Deny("empty command", command.Violation{
			Code:     command.CodeEmptyCommand,
			Field:    "argv",
			Message:  "command line is empty",
			Severity: command.SeverityError,
		})
		return decision
	}

	pp, ok := cp.programIndex[program]
	if !ok {
		decision.Deny("program not in allowlist", command.Violation{
			Code:     command.CodeProgramNotAllowed,
			Field:    "argv[0]",
			Message:  fmt.Sprintf("program %q is not in the allowlist", program),
			Severity: command.SeverityError,
		})
		return decision
	}

	decision.MaxTimeout = pp.MaxTimeout
	decision.PassEnv = pp.PassEnv

	if !pp.Enabled {
		decision.Deny("program is disabled", command.Violation{
			Code:     command.CodeProgramDisabled,
			Field:    "argv[0]",
			Message:  fmt.Sprintf("program %q is disabled in policy", program),
			Severity: command.SeverityError,
		})
		return decision
	}

	if pp.AllowAnyArgs {
		return decision
	}

	for i, arg := range req.Args() {
		if !pp.allows(arg) {
			decision.Deny("argument not allowed", command.Violation{
				Code:     command.CodeArgumentDenied,
				Field:    fmt.Sprintf("argv[%d]", i+1),
				Message:  fmt.Sprintf("argument %q is not allowed for %s", arg, program),
				Severity: command.SeverityError,
			})
		}
	}

	return decision
}

// allows reports whether one argument passes the token and pattern
// checks for this program.
func (pp *ProgramPolicy) allows(arg string) bool {
	// Flags select behavior rather than name targets, so they pass
	// unless the entry opts into strict checking.
	if !pp.StrictFlags && strings.HasPrefix(arg, "-") {
		return true
	}
	if _, ok := pp.tokens[arg]; ok {
		return true
	}
	for _, re := range pp.patterns {
		if re.MatchString(arg) {
			return true
		}
	}
	return false
}

// Version implements command.Policy.
func (cp *CompiledPolicy) Version() string {
	return cp.version
}

// Hash returns the content hash of the loaded YAML, empty for policies
// compiled directly from a Config.
func (cp *CompiledPolicy) Hash() string {
	return cp.hash
}

// LoadedAt returns when this policy was compiled.
func (cp *CompiledPolicy) LoadedAt() time.Time {
	return cp.loadedAt
}

// Program returns the compiled entry for a program, or nil when the
// program is not in the policy.
func (cp *CompiledPolicy) Program(name string) *ProgramPolicy {
	cp.mu.RLock()
	defer cp.mu.RUnlock()
	return cp.programIndex[name]
}

// Programs returns the names of all programs in the policy.
func (cp *CompiledPolicy) Programs() []string {
	cp.mu.RLock()
	defer cp.mu.RUnlock()

	names := make([]string, 0, len(cp.programIndex))
	for name := range cp.programIndex {
		names = append(names, name)
	}
	return names
}

// Audit returns the audit section of the underlying configuration.
func (cp *CompiledPolicy) Audit() AuditConfig {
	return cp.raw.Audit
}

func (cp *CompiledPolicy) defaultTimeout() time.Duration {
	if cp.raw != nil && cp.raw.Defaults.Timeout.Duration > 0 {
		return cp.raw.Defaults.Timeout.Duration
	}
	return DefaultTimeout
}

// Permissive returns a policy that allows everything.
// WARNING: Only use for testing.
func Permissive() command.Policy {
	return &permissivePolicy{}
}

type permissivePolicy struct{}

func (p *permissivePolicy) Check(ctx context.Context, req *command.Request) *command.Decision {
	return &command.Decision{
		Allowed:        true,
		DefaultTimeout: DefaultTimeout,
		MaxTimeout:     DefaultMaxTimeout,
	}
}

func (p *permissivePolicy) Version() string { return "permissive" }
