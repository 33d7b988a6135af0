// Package observability provides audit logging, in-process metrics and
// OpenTelemetry integration for guarded command execution.
package observability

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/croakml/guard/command"
	"github.com/croakml/guard/pathguard"
	"github.com/croakml/guard/secretguard"
)

// AuditLogger records execution events in an append-only log.
type AuditLogger interface {
	// Log records an audit event.
	Log(ctx context.Context, event *AuditEvent) error

	// Query returns recorded events matching the filter.
	Query(ctx context.Context, filter *AuditFilter) ([]*AuditEvent, error)

	// Close closes the audit logger.
	Close() error
}

// AuditEvent represents one audit log entry. Every text field has been
// through secret redaction before it reaches the logger.
type AuditEvent struct {
	Timestamp     time.Time         `json:"timestamp"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	ID            string            `json:"id"`
	TraceID       string            `json:"trace_id,omitempty"`
	Type          AuditEventType    `json:"type"`
	Program       string            `json:"program"`
	Argv          []string          `json:"argv"`
	WorkingDir    string            `json:"working_dir,omitempty"`
	PolicyVersion string            `json:"policy_version,omitempty"`
	Outcome       string            `json:"outcome"`
	Reason        string            `json:"reason,omitempty"`
	Violations    []string          `json:"violations,omitempty"`
	Output        string            `json:"output,omitempty"`
	ExitCode      int               `json:"exit_code"`
	Duration      time.Duration     `json:"duration"`
}

// AuditEventType represents the type of audit event.
type AuditEventType string

const (
	// AuditEventExecution is a command that was spawned.
	AuditEventExecution AuditEventType = "execution"

	// AuditEventPolicyDenied is an allowlist denial.
	AuditEventPolicyDenied AuditEventType = "policy_denied"

	// AuditEventPathDenied is a working-directory containment denial.
	AuditEventPathDenied AuditEventType = "path_denied"

	// AuditEventRateLimited is a throttling denial.
	AuditEventRateLimited AuditEventType = "rate_limited"

	// AuditEventTimeout is a command killed at its deadline.
	AuditEventTimeout AuditEventType = "timeout"

	// AuditEventError is an internal failure.
	AuditEventError AuditEventType = "error"
)

// AuditFilter filters audit events.
type AuditFilter struct {
	// StartTime is the start of the time range.
	StartTime time.Time

	// EndTime is the end of the time range.
	EndTime time.Time

	// Program filters by program base name.
	Program string

	// Type filters by event type.
	Type AuditEventType

	// Limit is the maximum number of events to return.
	Limit int
}

// AuditLogLevel determines what events to log.
type AuditLogLevel string

const (
	// AuditLogAll logs all events.
	AuditLogAll AuditLogLevel = "all"

	// AuditLogFailures logs only failed executions and denials.
	AuditLogFailures AuditLogLevel = "failures"

	// AuditLogViolations logs only security denials.
	AuditLogViolations AuditLogLevel = "violations"
)

// AuditConfig configures the audit logger.
type AuditConfig struct {
	LogLevel      AuditLogLevel
	BaseDir       string
	FilePath      string
	MaxOutputSize int
	Enabled       bool
	IncludeOutput bool
}

// DefaultAuditConfig returns default audit configuration. The log file
// lives under the state directory the surrounding pipeline already
// owns.
func DefaultAuditConfig(baseDir string) AuditConfig {
	return AuditConfig{
		Enabled:       true,
		LogLevel:      AuditLogAll,
		IncludeOutput: false,
		MaxOutputSize: 1024,
		BaseDir:       baseDir,
		FilePath:      "audit.jsonl",
	}
}

// fileAuditLogger appends JSON lines to a file confined to a base
// directory by pathguard.
type fileAuditLogger struct {
	config   AuditConfig
	resolved string
	redactor *secretguard.Registry
	mu       sync.Mutex
}

// NewFileAuditLogger creates a file-based audit logger. The redactor
// is applied to every event as a second line of defense; events should
// already arrive redacted.
func NewFileAuditLogger(config AuditConfig, redactor *secretguard.Registry) (AuditLogger, error) {
	base, err := pathguard.New(config.BaseDir)
	if err != nil {
		return nil, fmt.Errorf("audit base directory: %w", err)
	}

	resolved, err := base.Validate(config.FilePath)
	if err != nil {
		return nil, fmt.Errorf("audit file path: %w", err)
	}
	if dir := filepath.Dir(resolved); dir != base.Root() {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("audit directory: %w", err)
		}
	}

	return &fileAuditLogger{
		config:   config,
		resolved: resolved,
		redactor: redactor,
	}, nil
}

// Log implements AuditLogger.Log.
func (l *fileAuditLogger) Log(ctx context.Context, event *AuditEvent) error {
	if !l.config.Enabled {
		return nil
	}

	if !l.shouldLog(event) {
		return nil
	}

	if !l.config.IncludeOutput {
		event.Output = ""
	} else if len(event.Output) > l.config.MaxOutputSize {
		event.Output = event.Output[:l.config.MaxOutputSize] + "...(truncated)"
	}

	l.redact(event)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling audit event: %w", err)
	}
	data = append(data, '\n')

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.resolved, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("writing audit log: %w", err)
	}
	return nil
}

// Query implements AuditLogger.Query by scanning the JSONL file.
func (l *fileAuditLogger) Query(ctx context.Context, filter *AuditFilter) ([]*AuditEvent, error) {
	l.mu.Lock()
	data, err := os.ReadFile(l.resolved)
	l.mu.Unlock()
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading audit log: %w", err)
	}

	var events []*AuditEvent
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var event AuditEvent
		if err := json.Unmarshal(line, &event); err != nil {
			// A torn last line from a crashed writer is not fatal.
			continue
		}
		if !matches(&event, filter) {
			continue
		}
		events = append(events, &event)
		if filter != nil && filter.Limit > 0 && len(events) >= filter.Limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning audit log: %w", err)
	}
	return events, nil
}

// Close implements AuditLogger.Close.
func (l *fileAuditLogger) Close() error {
	return nil
}

func matches(event *AuditEvent, filter *AuditFilter) bool {
	if filter == nil {
		return true
	}
	if !filter.StartTime.IsZero() && event.Timestamp.Before(filter.StartTime) {
		return false
	}
	if !filter.EndTime.IsZero() && event.Timestamp.After(filter.EndTime) {
		return false
	}
	if filter.Program != "" && event.Program != filter.Program {
		return false
	}
	if filter.Type != "" && event.Type != filter.Type {
		return false
	}
	return true
}

func (l *fileAuditLogger) shouldLog(event *AuditEvent) bool {
	switch l.config.LogLevel {
	case AuditLogAll:
		return true
	case AuditLogFailures:
		return event.Outcome != "none"
	case AuditLogViolations:
		return event.Type == AuditEventPolicyDenied || event.Type == AuditEventPathDenied
	default:
		return true
	}
}

func (l *fileAuditLogger) redact(event *AuditEvent) {
	if l.redactor == nil {
		return
	}
	event.Argv = l.redactor.RedactAll(event.Argv)
	event.Reason = l.redactor.Redact(event.Reason)
	event.Output = l.redactor.Redact(event.Output)
	event.WorkingDir = l.redactor.Redact(event.WorkingDir)
	for i, v := range event.Violations {
		event.Violations[i] = l.redactor.Redact(v)
	}
	if len(event.Metadata) > 0 {
		// Copy before scrubbing; the map may be shared with the
		// originating request.
		meta := make(map[string]string, len(event.Metadata))
		for k, v := range event.Metadata {
			meta[k] = l.redactor.Redact(v)
		}
		event.Metadata = meta
	}
}

// NewAuditEvent builds an audit event from an execution result.
func NewAuditEvent(req *command.Request, result *command.Result, policyVersion string) *AuditEvent {
	event := &AuditEvent{
		ID:            result.ID,
		Timestamp:     time.Now(),
		Type:          AuditEventExecution,
		Program:       result.Program,
		Argv:          result.Argv,
		WorkingDir:    req.Dir,
		PolicyVersion: policyVersion,
		Outcome:       result.Kind.String(),
		Reason:        result.Reason,
		ExitCode:      result.ExitCode,
		Duration:      result.Duration,
		TraceID:       result.TraceID,
		Metadata:      req.Metadata,
		Output:        result.Stdout,
	}

	for _, v := range result.Violations {
		event.Violations = append(event.Violations, fmt.Sprintf("%s: %s", v.Code, v.Message))
	}

	switch result.Kind {
	case command.FailureNotAllowed:
		event.Type = AuditEventPolicyDenied
		for _, v := range result.Violations {
			switch v.Code {
			case command.CodeWorkdirDenied:
				event.Type = AuditEventPathDenied
			case command.CodeRateLimited:
				event.Type = AuditEventRateLimited
			}
		}
	case command.FailureTimedOut:
		event.Type = AuditEventTimeout
	case command.FailureSpawnFailed:
		event.Type = AuditEventError
	}

	return event
}

// NoopAuditLogger returns a no-op audit logger.
func NoopAuditLogger() AuditLogger {
	return &noopAuditLogger{}
}

type noopAuditLogger struct{}

func (l *noopAuditLogger) Log(ctx context.Context, event *AuditEvent) error { return nil }
func (l *noopAuditLogger) Query(ctx context.Context, filter *AuditFilter) ([]*AuditEvent, error) {
	return nil, nil
}
func (l *noopAuditLogger) Close() error { return nil }
