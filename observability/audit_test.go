package observability

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/croakml/guard/command"
	"github.com/croakml/guard/secretguard"
)

func newTestLogger(t *testing.T, config AuditConfig) AuditLogger {
	t.Helper()
	l, err := NewFileAuditLogger(config, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { l.Close() })
	return l
}

func executionEvent(program, outcome string) *AuditEvent {
	return &AuditEvent{
		ID:        "evt-" + program,
		Timestamp: time.Now(),
		Type:      AuditEventExecution,
		Program:   program,
		Argv:      []string{program},
		Outcome:   outcome,
		ExitCode:  0,
	}
}

func TestFileAuditLoggerRoundTrip(t *testing.T) {
	l := newTestLogger(t, DefaultAuditConfig(t.TempDir()))
	ctx := context.Background()

	if err := l.Log(ctx, executionEvent("git", "none")); err != nil {
		t.Fatal(err)
	}
	if err := l.Log(ctx, executionEvent("pip", "non_zero_exit")); err != nil {
		t.Fatal(err)
	}

	events, err := l.Query(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("events = %d", len(events))
	}
	if events[0].Program != "git" || events[1].Program != "pip" {
		t.Errorf("events out of order: %s, %s", events[0].Program, events[1].Program)
	}
}

func TestFileAuditLoggerQueryFilter(t *testing.T) {
	l := newTestLogger(t, DefaultAuditConfig(t.TempDir()))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := l.Log(ctx, executionEvent("git", "none")); err != nil {
			t.Fatal(err)
		}
	}
	denied := executionEvent("rm", "not_allowed")
	denied.Type = AuditEventPolicyDenied
	if err := l.Log(ctx, denied); err != nil {
		t.Fatal(err)
	}

	byProgram, err := l.Query(ctx, &AuditFilter{Program: "rm"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byProgram) != 1 || byProgram[0].Type != AuditEventPolicyDenied {
		t.Errorf("byProgram = %+v", byProgram)
	}

	byType, err := l.Query(ctx, &AuditFilter{Type: AuditEventExecution})
	if err != nil {
		t.Fatal(err)
	}
	if len(byType) != 3 {
		t.Errorf("byType = %d", len(byType))
	}

	limited, err := l.Query(ctx, &AuditFilter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 2 {
		t.Errorf("limited = %d", len(limited))
	}
}

func TestFileAuditLoggerLevels(t *testing.T) {
	ctx := context.Background()

	config := DefaultAuditConfig(t.TempDir())
	config.LogLevel = AuditLogFailures
	l := newTestLogger(t, config)

	if err := l.Log(ctx, executionEvent("git", "none")); err != nil {
		t.Fatal(err)
	}
	if err := l.Log(ctx, executionEvent("git", "timed_out")); err != nil {
		t.Fatal(err)
	}

	events, err := l.Query(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Outcome != "timed_out" {
		t.Errorf("failures level kept %+v", events)
	}

	config = DefaultAuditConfig(t.TempDir())
	config.LogLevel = AuditLogViolations
	l = newTestLogger(t, config)

	if err := l.Log(ctx, executionEvent("git", "timed_out")); err != nil {
		t.Fatal(err)
	}
	denied := executionEvent("rm", "not_allowed")
	denied.Type = AuditEventPolicyDenied
	if err := l.Log(ctx, denied); err != nil {
		t.Fatal(err)
	}

	events, err = l.Query(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].Type != AuditEventPolicyDenied {
		t.Errorf("violations level kept %+v", events)
	}
}

func TestFileAuditLoggerDisabled(t *testing.T) {
	config := DefaultAuditConfig(t.TempDir())
	config.Enabled = false
	l := newTestLogger(t, config)
	ctx := context.Background()

	if err := l.Log(ctx, executionEvent("git", "none")); err != nil {
		t.Fatal(err)
	}
	events, err := l.Query(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("disabled logger recorded %d events", len(events))
	}
}

func TestFileAuditLoggerOutputHandling(t *testing.T) {
	ctx := context.Background()

	// Output is dropped unless explicitly included.
	l := newTestLogger(t, DefaultAuditConfig(t.TempDir()))
	ev := executionEvent("git", "none")
	ev.Output = "working tree clean"
	if err := l.Log(ctx, ev); err != nil {
		t.Fatal(err)
	}
	events, err := l.Query(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if events[0].Output != "" {
		t.Errorf("Output = %q, want dropped", events[0].Output)
	}

	// Included output is truncated at the configured bound.
	config := DefaultAuditConfig(t.TempDir())
	config.IncludeOutput = true
	config.MaxOutputSize = 10
	l = newTestLogger(t, config)

	ev = executionEvent("git", "none")
	ev.Output = strings.Repeat("x", 50)
	if err := l.Log(ctx, ev); err != nil {
		t.Fatal(err)
	}
	events, err = l.Query(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if got := events[0].Output; got != strings.Repeat("x", 10)+"...(truncated)" {
		t.Errorf("Output = %q", got)
	}
}

func TestFileAuditLoggerRedactsEvents(t *testing.T) {
	redactor, err := secretguard.NewRegistry([]string{"supersecretvalue"}, nil)
	if err != nil {
		t.Fatal(err)
	}

	config := DefaultAuditConfig(t.TempDir())
	config.IncludeOutput = true
	l, err := NewFileAuditLogger(config, redactor)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	ctx := context.Background()
	ev := executionEvent("curl", "none")
	ev.Argv = []string{"curl", "-H", "X-Key: supersecretvalue"}
	ev.Output = "sent supersecretvalue"
	ev.Reason = "supersecretvalue rejected"
	ev.WorkingDir = "/home/supersecretvalue/project"
	reqMeta := map[string]string{"api_key": "supersecretvalue"}
	ev.Metadata = reqMeta
	if err := l.Log(ctx, ev); err != nil {
		t.Fatal(err)
	}

	events, err := l.Query(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	got := events[0]
	for name, text := range map[string]string{
		"Argv":       strings.Join(got.Argv, " "),
		"Output":     got.Output,
		"Reason":     got.Reason,
		"WorkingDir": got.WorkingDir,
		"Metadata":   got.Metadata["api_key"],
	} {
		if strings.Contains(text, "supersecretvalue") {
			t.Errorf("%s leaked the secret: %q", name, text)
		}
	}
	if reqMeta["api_key"] != "supersecretvalue" {
		t.Errorf("request metadata mutated: %q", reqMeta["api_key"])
	}
}

func TestFileAuditLoggerRejectsPathOutsideBase(t *testing.T) {
	config := DefaultAuditConfig(t.TempDir())
	config.FilePath = "/etc/audit.jsonl"
	if _, err := NewFileAuditLogger(config, nil); err == nil {
		t.Error("accepted an audit file outside the base directory")
	}
}

func TestNewAuditEventTypes(t *testing.T) {
	req := command.NewRequest("git", "status").MustBuild()

	tests := []struct {
		name   string
		result command.Result
		want   AuditEventType
	}{
		{"execution", command.Result{Kind: command.FailureNone}, AuditEventExecution},
		{"non-zero exit", command.Result{Kind: command.FailureNonZeroExit}, AuditEventExecution},
		{
			"policy denial",
			command.Result{
				Kind:       command.FailureNotAllowed,
				Violations: []command.Violation{{Code: command.CodeProgramNotAllowed}},
			},
			AuditEventPolicyDenied,
		},
		{
			"path denial",
			command.Result{
				Kind:       command.FailureNotAllowed,
				Violations: []command.Violation{{Code: command.CodeWorkdirDenied}},
			},
			AuditEventPathDenied,
		},
		{
			"rate limited",
			command.Result{
				Kind:       command.FailureNotAllowed,
				Violations: []command.Violation{{Code: command.CodeRateLimited}},
			},
			AuditEventRateLimited,
		},
		{"timeout", command.Result{Kind: command.FailureTimedOut}, AuditEventTimeout},
		{"spawn failure", command.Result{Kind: command.FailureSpawnFailed}, AuditEventError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			event := NewAuditEvent(req, &tt.result, "v1")
			if event.Type != tt.want {
				t.Errorf("Type = %q, want %q", event.Type, tt.want)
			}
			if event.PolicyVersion != "v1" {
				t.Errorf("PolicyVersion = %q", event.PolicyVersion)
			}
		})
	}
}

func TestRecorderAdapter(t *testing.T) {
	l := newTestLogger(t, DefaultAuditConfig(t.TempDir()))
	rec := &Recorder{Logger: l}

	req := command.NewRequest("git", "status").MustBuild()
	result := &command.Result{ID: "run-1", Program: "git", Kind: command.FailureNone}
	if err := rec.Record(context.Background(), req, result, "v1"); err != nil {
		t.Fatal(err)
	}

	events, err := l.Query(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 || events[0].ID != "run-1" {
		t.Errorf("events = %+v", events)
	}
}
