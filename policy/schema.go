package policy

import (
	"time"
)

// Config represents the YAML policy structure.
type Config struct {
	Metadata Metadata        `yaml:"metadata"`
	Version  string          `yaml:"version"`
	Defaults DefaultsConfig  `yaml:"defaults"`
	Programs []ProgramConfig `yaml:"programs"`
	Audit    AuditConfig     `yaml:"audit"`
}

// Metadata contains policy metadata.
type Metadata struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Created     string `yaml:"created"`
	Updated     string `yaml:"updated"`
}

// DefaultsConfig contains settings applied to every program unless the
// program overrides them.
type DefaultsConfig struct {
	// Timeout applies when a request does not name one.
	Timeout Duration `yaml:"timeout"`

	// MaxTimeout is the ceiling; longer requests are clamped to it.
	MaxTimeout Duration `yaml:"max_timeout"`

	// PassEnv names environment variables forwarded from the parent
	// process on top of the minimal base environment.
	PassEnv []string `yaml:"pass_env"`

	// RateLimit throttles executions per program.
	RateLimit *RateLimitConfig `yaml:"rate_limit"`
}

// ProgramConfig defines the allowlist entry for one program, keyed on
// the base name of argv[0].
type ProgramConfig struct {
	// Name is the program base name, e.g. "git".
	Name string `yaml:"name"`

	// Enabled gates the entry without deleting it.
	Enabled bool `yaml:"enabled"`

	// AllowAnyArgs skips argument checks entirely.
	AllowAnyArgs bool `yaml:"allow_any_args"`

	// Tokens are the literal non-flag arguments the program may
	// receive. Empty with AllowAnyArgs false means the program takes
	// no positional arguments.
	Tokens []string `yaml:"tokens"`

	// ArgPatterns are regular expressions a token may match instead
	// of appearing in Tokens.
	ArgPatterns []ArgPattern `yaml:"arg_patterns"`

	// StrictFlags requires flag arguments (leading dash) to pass the
	// same token and pattern checks as positional arguments. Off by
	// default: flags select behavior, they do not name targets.
	StrictFlags bool `yaml:"strict_flags"`

	// PassEnv extends the default pass-through set for this program.
	PassEnv []string `yaml:"pass_env"`

	// MaxTimeout overrides the default ceiling for this program.
	MaxTimeout Duration `yaml:"max_timeout"`

	// RateLimit overrides the default rate limit for this program.
	RateLimit *RateLimitConfig `yaml:"rate_limit"`
}

// ArgPattern defines a regular expression for argument validation.
type ArgPattern struct {
	// Pattern is the regex source. It is anchored on compile, so
	// "v[0-9]+" matches the whole token, not a substring.
	Pattern string `yaml:"pattern"`

	// Description documents what this pattern admits.
	Description string `yaml:"description"`
}

// RateLimitConfig defines rate limiting parameters.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained execution rate.
	RequestsPerSecond float64 `yaml:"requests_per_second"`

	// BurstSize is the maximum burst size.
	BurstSize int `yaml:"burst"`
}

// AuditConfig defines audit settings.
type AuditConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	LogLevel      string `yaml:"log_level"`
	IncludeOutput bool   `yaml:"include_output"`
}

// Duration is a time.Duration that can be unmarshaled from YAML.
type Duration struct {
	time.Duration
}

// UnmarshalYAML unmarshals a duration from YAML.
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}

	duration, err := time.ParseDuration(s)
	if err != nil {
		return err
	}

	d.Duration = duration
	return nil
}

// MarshalYAML marshals a duration to YAML.
func (d Duration) MarshalYAML() (interface{}, error) {
	return d.String(), nil
}
