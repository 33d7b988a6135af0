// Package secretguard masks secret material in text before it reaches
// a log line, a transcript or any other surface a person or model can
// read. Redaction is best-effort hardening: it never fails and never
// blocks the pipeline, it only rewrites text.
package secretguard

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
)

// Mask is the fixed token substituted for every known literal value.
const Mask = "[REDACTED]"

// minLiteralLength guards against registering trivially short values
// whose masking would shred unrelated text.
const minLiteralLength = 6

// Pattern is a structural matcher for secret-shaped text the registry
// does not know literally. Patterns are applied after literal masking,
// in declared order.
type Pattern struct {
	// Name tags the mask token, e.g. [REDACTED:GITHUB_TOKEN].
	Name string

	// Expr is the regular expression source.
	Expr string

	re *regexp.Regexp
}

// DefaultSecretEnvVars are the environment variables treated as
// secret-bearing when no explicit set is configured.
var DefaultSecretEnvVars = []string{
	"VFROG_API_KEY",
	"MODAL_TOKEN_ID",
	"MODAL_TOKEN_SECRET",
	"WANDB_API_KEY",
	"OPENAI_API_KEY",
	"ANTHROPIC_API_KEY",
	"HF_TOKEN",
}

// DefaultPatterns returns the built-in structural matchers. They cover
// the token shapes the surrounding pipeline actually handles plus a few
// ubiquitous formats; the trailing generic long-run matcher is handled
// separately by the registry.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{Name: "VFROG_API_KEY", Expr: `vfrog_[A-Za-z0-9]{24,}`},
		{Name: "MODAL_TOKEN", Expr: `\bsk-[A-Za-z0-9_-]{20,}`},
		{Name: "WANDB_API_KEY", Expr: `wandb_[A-Za-z0-9]{24,}`},
		{Name: "GITHUB_TOKEN", Expr: `\bgh[pousr]_[A-Za-z0-9]{20,}`},
		{Name: "AWS_ACCESS_KEY", Expr: `\bAKIA[0-9A-Z]{16}\b`},
		{Name: "BEARER_TOKEN", Expr: `(?i)bearer\s+[A-Za-z0-9._~+/-]{16,}=*`},
	}
}

// longRunRe matches long alphanumeric runs that look key-shaped. Such
// runs are partially masked rather than removed so that operators can
// still correlate a token across two log lines without seeing it.
var longRunRe = regexp.MustCompile(`\b[A-Za-z0-9_-]{24,}\b`)

// Registry holds one consistent snapshot of secret material: literal
// values to mask verbatim plus structural patterns. It is immutable
// after construction and safe for unrestricted concurrent use. When
// the environment changes, build a fresh snapshot instead of mutating
// an existing one.
type Registry struct {
	values       []string // longest first
	patterns     []Pattern
	maskLongRuns bool
}

// NewRegistry builds a registry from explicit literal values and
// patterns. Values shorter than six characters are dropped; masking
// them would destroy surrounding text for negligible gain. Invalid
// pattern expressions are rejected.
func NewRegistry(values []string, patterns []Pattern) (*Registry, error) {
	r := &Registry{maskLongRuns: true}

	for _, v := range values {
		if len(v) >= minLiteralLength {
			r.values = append(r.values, v)
		}
	}
	// Longest first, so a secret that is a substring of another is
	// masked without leaving partial fragments behind.
	sort.Slice(r.values, func(i, j int) bool {
		if len(r.values[i]) != len(r.values[j]) {
			return len(r.values[i]) > len(r.values[j])
		}
		return r.values[i] < r.values[j]
	})

	for _, p := range patterns {
		re, err := regexp.Compile(p.Expr)
		if err != nil {
			return nil, fmt.Errorf("secret pattern %s: %w", p.Name, err)
		}
		p.re = re
		r.patterns = append(r.patterns, p)
	}
	return r, nil
}

// FromEnvironment snapshots the current values of the named
// environment variables (DefaultSecretEnvVars when none are given)
// together with the default patterns. Unset variables are skipped.
func FromEnvironment(names ...string) *Registry {
	if len(names) == 0 {
		names = DefaultSecretEnvVars
	}
	var values []string
	for _, name := range names {
		if v, ok := os.LookupEnv(name); ok && v != "" {
			values = append(values, v)
		}
	}
	r, err := NewRegistry(values, DefaultPatterns())
	if err != nil {
		// Default patterns are compile-checked by tests; this cannot
		// happen at runtime.
		panic(err)
	}
	return r
}

// Empty returns a registry that redacts nothing.
func Empty() *Registry {
	return &Registry{}
}

// Redact masks every known literal value and every structural match in
// text. It is pure and deterministic for a given (text, registry) pair,
// idempotent, and never fails: a nil or empty registry returns text
// unchanged.
func (r *Registry) Redact(text string) string {
	if r == nil || text == "" {
		return text
	}

	result := text
	for _, v := range r.values {
		result = strings.ReplaceAll(result, v, Mask)
	}
	for _, p := range r.patterns {
		result = p.re.ReplaceAllString(result, "[REDACTED:"+p.Name+"]")
	}
	if r.maskLongRuns {
		result = longRunRe.ReplaceAllStringFunc(result, partialMask)
	}
	return result
}

// RedactAll applies Redact to each element of a string slice, returning
// a new slice. Used for argv in audit records.
func (r *Registry) RedactAll(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	out := make([]string, len(items))
	for i, item := range items {
		out[i] = r.Redact(item)
	}
	return out
}

// partialMask keeps the first and last four characters of a key-shaped
// run. The ellipsis breaks the alphanumeric run, so a second pass
// leaves the result untouched.
func partialMask(s string) string {
	if len(s) < 8 {
		return s
	}
	return s[:4] + "…" + s[len(s)-4:]
}

// Probe reports which of the named environment variables are currently
// set. It returns presence only, never values.
func Probe(names ...string) map[string]bool {
	if len(names) == 0 {
		names = DefaultSecretEnvVars
	}
	result := make(map[string]bool, len(names))
	for _, name := range names {
		v, ok := os.LookupEnv(name)
		result[name] = ok && v != ""
	}
	return result
}
