package policy

import (
	"context"
	"crypto/sha256"
	"fmt"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/croakml/guard/pathguard"
)

// Loader loads and manages policies from YAML files. The policy file
// must live inside the loader's base directory; the path goes through
// pathguard before any read.
type Loader struct {
	path       string
	base       *pathguard.Guard
	policy     *CompiledPolicy
	mu         sync.RWMutex
	lastHash   []byte
	lastLoad   time.Time
	validators []Validator
	onChange   []func(*CompiledPolicy)
	onError    []func(error)
	watchStop  chan struct{}
}

// Validator validates a policy configuration before compilation.
type Validator interface {
	Validate(config *Config) error
}

// LoaderOption configures the loader.
type LoaderOption func(*Loader)

// WithValidator adds a policy validator.
func WithValidator(v Validator) LoaderOption {
	return func(l *Loader) {
		l.validators = append(l.validators, v)
	}
}

// WithOnChange adds a callback invoked whenever a changed policy file
// is loaded.
func WithOnChange(fn func(*CompiledPolicy)) LoaderOption {
	return func(l *Loader) {
		l.onChange = append(l.onChange, fn)
	}
}

// WithOnError adds a callback invoked when a background reload fails.
// The previous policy stays in effect.
func WithOnError(fn func(error)) LoaderOption {
	return func(l *Loader) {
		l.onError = append(l.onError, fn)
	}
}

// NewLoader creates a policy loader for a file under baseDir.
func NewLoader(baseDir, policyFile string, opts ...LoaderOption) (*Loader, error) {
	base, err := pathguard.New(baseDir)
	if err != nil {
		return nil, fmt.Errorf("policy base directory: %w", err)
	}

	l := &Loader{
		path: policyFile,
		base: base,
	}

	for _, opt := range opts {
		opt(l)
	}

	return l, nil
}

// Load reads, parses and compiles the policy file. When the file
// content is unchanged since the previous load, the already-compiled
// policy is returned without recompiling.
func (l *Loader) Load(ctx context.Context) (*CompiledPolicy, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	resolved, err := l.base.Validate(l.path)
	if err != nil {
		return nil, fmt.Errorf("policy file path: %w", err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, fmt.Errorf("reading policy file: %w", err)
	}

	hash := sha256.Sum256(data)
	if l.policy != nil && string(hash[:]) == string(l.lastHash) {
		return l.policy, nil
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parsing policy YAML: %w", err)
	}

	for _, v := range l.validators {
		if err := v.Validate(&config); err != nil {
			return nil, fmt.Errorf("policy validation failed: %w", err)
		}
	}

	compiled, err := Compile(&config)
	if err != nil {
		return nil, fmt.Errorf("compiling policy: %w", err)
	}

	compiled.hash = fmt.Sprintf("%x", hash)

	l.policy = compiled
	l.lastHash = hash[:]
	l.lastLoad = time.Now()

	for _, fn := range l.onChange {
		fn(compiled)
	}

	return compiled, nil
}

// OnChange registers a callback after construction. The callback runs
// on the next load that observes changed content.
func (l *Loader) OnChange(fn func(*CompiledPolicy)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onChange = append(l.onChange, fn)
}

// Get returns the current policy without reloading.
func (l *Loader) Get() *CompiledPolicy {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.policy
}

// Reload reloads the policy from the file.
func (l *Loader) Reload(ctx context.Context) error {
	_, err := l.Load(ctx)
	return err
}

// Watch polls the policy file for changes until the context is
// canceled or StopWatch is called. A load failure leaves the previous
// policy in effect and is reported through the OnError callbacks.
// Calling Watch while a watch is already running is a no-op.
func (l *Loader) Watch(ctx context.Context, interval time.Duration) {
	l.mu.Lock()
	if l.watchStop != nil {
		l.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	l.watchStop = stop
	l.mu.Unlock()

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				if _, err := l.Load(ctx); err != nil {
					l.reportError(err)
				}
			}
		}
	}()
}

// StopWatch stops watching for policy changes. It is safe to call
// more than once and a later Watch starts a fresh poll loop.
func (l *Loader) StopWatch() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.watchStop != nil {
		close(l.watchStop)
		l.watchStop = nil
	}
}

func (l *Loader) reportError(err error) {
	l.mu.RLock()
	callbacks := l.onError
	l.mu.RUnlock()
	for _, fn := range callbacks {
		fn(err)
	}
}

// ParseYAML parses a YAML policy configuration.
func ParseYAML(data []byte) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, err
	}
	return &config, nil
}

// DefaultValidator applies the structural checks every policy must
// pass regardless of content.
type DefaultValidator struct{}

// Validate validates the policy configuration.
func (v *DefaultValidator) Validate(config *Config) error {
	if config.Version == "" {
		return fmt.Errorf("policy version is required")
	}

	seen := make(map[string]bool, len(config.Programs))
	for i, p := range config.Programs {
		if p.Name == "" {
			return fmt.Errorf("program %d: name is required", i)
		}
		if seen[p.Name] {
			return fmt.Errorf("program %d: duplicate entry for %q", i, p.Name)
		}
		seen[p.Name] = true

		for j, ap := range p.ArgPatterns {
			if ap.Pattern == "" {
				return fmt.Errorf("program %s, arg_pattern %d: pattern is required", p.Name, j)
			}
		}
	}

	return nil
}

// ExamplePolicy returns a policy covering the tools an ML training
// pipeline shells out to: Modal deployments, Python environments, GPU
// inspection, read-only git and Ultralytics YOLO.
func ExamplePolicy() *Config {
	return &Config{
		Version: "1.0",
		Metadata: Metadata{
			Name:        "ml-pipeline",
			Description: "Allowlist for training pipeline subprocesses",
		},
		Defaults: DefaultsConfig{
			Timeout:    Duration{5 * time.Minute},
			MaxTimeout: Duration{4 * time.Hour},
		},
		Programs: []ProgramConfig{
			{
				Name:    "modal",
				Enabled: true,
				Tokens:  []string{"run", "token", "volume", "app", "deploy"},
				ArgPatterns: []ArgPattern{
					{Pattern: `[\w./-]+\.py`, Description: "Entry point scripts"},
				},
				PassEnv: []string{"MODAL_TOKEN_ID", "MODAL_TOKEN_SECRET"},
			},
			{Name: "python", Enabled: true, AllowAnyArgs: true},
			{Name: "python3", Enabled: true, AllowAnyArgs: true},
			{
				Name:    "pip",
				Enabled: true,
				Tokens:  []string{"install", "list", "show", "freeze"},
				ArgPatterns: []ArgPattern{
					// Requires a version pin, dot or slash so a bare
					// word can never smuggle in an unlisted subcommand.
					{Pattern: `[\w-]*(==|[./])[\w.=/-]*`, Description: "Pinned package specs and requirement files"},
				},
			},
			{
				Name:    "pip3",
				Enabled: true,
				Tokens:  []string{"install", "list", "show", "freeze"},
				ArgPatterns: []ArgPattern{
					{Pattern: `[\w-]*(==|[./])[\w.=/-]*`, Description: "Pinned package specs and requirement files"},
				},
			},
			{
				Name:    "uv",
				Enabled: true,
				Tokens:  []string{"pip", "venv", "run", "install", "sync"},
				ArgPatterns: []ArgPattern{
					// Same shape as pip: unlisted subcommands are bare
					// words and cannot match.
					{Pattern: `[\w-]*(==|[./])[\w.=/-]*`, Description: "Pinned package specs and script paths"},
				},
			},
			{Name: "nvidia-smi", Enabled: true, AllowAnyArgs: true},
			{Name: "nvcc", Enabled: true},
			{
				Name:    "git",
				Enabled: true,
				Tokens:  []string{"status", "log", "diff", "rev-parse", "HEAD"},
				ArgPatterns: []ArgPattern{
					// Requires a dot or slash so a bare word can never
					// smuggle in an unlisted subcommand.
					{Pattern: `[\w.-]*[./][\w./-]*`, Description: "Paths and file revisions"},
				},
			},
			{Name: "yolo", Enabled: true, AllowAnyArgs: true},
		},
		Audit: AuditConfig{
			Enabled:  true,
			LogLevel: "all",
		},
	}
}
