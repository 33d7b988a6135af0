package observability

import (
	"testing"
	"time"

	"github.com/croakml/guard/command"
)

func TestMetricsRecord(t *testing.T) {
	m := NewMetrics()

	m.Record(&command.Result{
		Program:  "git",
		Kind:     command.FailureNone,
		Started:  true,
		Duration: 10 * time.Millisecond,
	})
	m.Record(&command.Result{
		Program:  "git",
		Kind:     command.FailureNonZeroExit,
		Started:  true,
		Duration: 30 * time.Millisecond,
	})
	m.Record(&command.Result{
		Program: "rm",
		Kind:    command.FailureNotAllowed,
		Violations: []command.Violation{
			{Code: command.CodeProgramNotAllowed},
		},
	})
	m.Record(&command.Result{
		Program: "git",
		Kind:    command.FailureNotAllowed,
		Violations: []command.Violation{
			{Code: command.CodeRateLimited},
		},
	})
	m.Record(&command.Result{Program: "sleep", Kind: command.FailureTimedOut, Started: true})

	s := m.Snapshot()
	if s.TotalExecutions != 5 {
		t.Errorf("TotalExecutions = %d", s.TotalExecutions)
	}
	if s.Succeeded != 1 || s.NonZeroExit != 1 || s.TimedOut != 1 {
		t.Errorf("snapshot = %+v", s)
	}
	if s.NotAllowed != 2 || s.RateLimited != 1 {
		t.Errorf("denials = %d, rate limited = %d", s.NotAllowed, s.RateLimited)
	}
	if s.MinDuration != 0 || s.MaxDuration != 30*time.Millisecond {
		t.Errorf("min = %v, max = %v", s.MinDuration, s.MaxDuration)
	}

	if got := s.SuccessRate(); got != 20 {
		t.Errorf("SuccessRate = %v", got)
	}
	if got := s.DenialRate(); got != 40 {
		t.Errorf("DenialRate = %v", got)
	}
}

func TestMetricsDurationOnlyCountsSpawned(t *testing.T) {
	m := NewMetrics()

	// Denials never spawned, so they must not drag the average down.
	m.Record(&command.Result{Program: "rm", Kind: command.FailureNotAllowed})
	m.Record(&command.Result{
		Program:  "git",
		Kind:     command.FailureNone,
		Started:  true,
		Duration: 40 * time.Millisecond,
	})

	s := m.Snapshot()
	if s.AvgDuration != 40*time.Millisecond {
		t.Errorf("AvgDuration = %v", s.AvgDuration)
	}
	if s.MinDuration != 40*time.Millisecond {
		t.Errorf("MinDuration = %v", s.MinDuration)
	}
}

func TestMetricsProgramStats(t *testing.T) {
	m := NewMetrics()

	m.Record(&command.Result{Program: "git", Kind: command.FailureNone, Started: true})
	m.Record(&command.Result{Program: "git", Kind: command.FailureNonZeroExit, Started: true})
	m.Record(&command.Result{Program: "pip", Kind: command.FailureNone, Started: true})

	s := m.Snapshot()
	git := s.ProgramStats["git"]
	if git == nil {
		t.Fatal("no stats for git")
	}
	if git.TotalExecutions != 2 || git.Succeeded != 1 || git.Failed != 1 {
		t.Errorf("git stats = %+v", git)
	}
	if git.LastOutcome != "non_zero_exit" {
		t.Errorf("LastOutcome = %q", git.LastOutcome)
	}

	// Snapshot copies must not alias live state.
	git.Succeeded = 99
	if m.Snapshot().ProgramStats["git"].Succeeded == 99 {
		t.Error("snapshot aliases internal program stats")
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()
	m.Record(&command.Result{Program: "git", Kind: command.FailureNone, Started: true, Duration: time.Millisecond})
	m.Reset()

	s := m.Snapshot()
	if s.TotalExecutions != 0 || s.Succeeded != 0 || len(s.ProgramStats) != 0 {
		t.Errorf("snapshot after reset = %+v", s)
	}
	if s.SuccessRate() != 0 {
		t.Errorf("SuccessRate = %v", s.SuccessRate())
	}
}
