//go:build unix

package exec

import (
	"context"
	"strings"
	"testing"
	"time"
)

func runCtx(t *testing.T, timeout time.Duration) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

func TestRunCapturesOutput(t *testing.T) {
	r := NewRunner()

	out, err := r.Run(runCtx(t, 10*time.Second), &Spec{
		Program: "sh",
		Args:    []string{"-c", "echo out; echo err >&2"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Started || out.ExitCode != 0 {
		t.Fatalf("outcome = %+v", out)
	}
	if string(out.Stdout) != "out\n" || string(out.Stderr) != "err\n" {
		t.Errorf("stdout = %q, stderr = %q", out.Stdout, out.Stderr)
	}
}

func TestRunNonZeroExitIsNotAnError(t *testing.T) {
	r := NewRunner()

	out, err := r.Run(runCtx(t, 10*time.Second), &Spec{
		Program: "sh",
		Args:    []string{"-c", "exit 3"},
	})
	if err != nil {
		t.Fatalf("non-zero exit must be data: %v", err)
	}
	if out.ExitCode != 3 {
		t.Errorf("ExitCode = %d", out.ExitCode)
	}
}

func TestRunKillsAtDeadline(t *testing.T) {
	r := NewRunner()

	start := time.Now()
	out, err := r.Run(runCtx(t, 200*time.Millisecond), &Spec{
		Program: "sleep",
		Args:    []string{"10"},
	})
	if err != context.DeadlineExceeded {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("kill took %v, child was not reaped promptly", elapsed)
	}
	if !out.Started {
		t.Error("Started = false for a process that ran")
	}
	if out.ExitCode != -1 {
		t.Errorf("ExitCode = %d, want -1 for a killed process", out.ExitCode)
	}
	if !out.Signaled {
		t.Error("Signaled = false for a killed process")
	}
}

func TestRunSpawnFailure(t *testing.T) {
	r := NewRunner()

	out, err := r.Run(runCtx(t, 10*time.Second), &Spec{
		Program: "/nonexistent/definitely-not-a-binary",
	})
	if err == nil {
		t.Fatal("expected a spawn error")
	}
	if out.Started {
		t.Error("Started = true for a process that never spawned")
	}
	if out.ExitCode != -1 {
		t.Errorf("ExitCode = %d", out.ExitCode)
	}
}

func TestRunRequiresDeadline(t *testing.T) {
	r := NewRunner()

	if _, err := r.Run(context.Background(), &Spec{Program: "true"}); err == nil {
		t.Fatal("accepted a context without a deadline")
	}
}

func TestRunEnvironmentIsExactlySpec(t *testing.T) {
	r := NewRunner()

	out, err := r.Run(runCtx(t, 10*time.Second), &Spec{
		Program: "env",
		Env:     []string{"ONLY_VAR=only-value", "PATH=/usr/bin:/bin"},
	})
	if err != nil {
		t.Fatal(err)
	}
	got := string(out.Stdout)
	if !strings.Contains(got, "ONLY_VAR=only-value") {
		t.Errorf("env = %q", got)
	}
	for _, line := range strings.Split(strings.TrimSpace(got), "\n") {
		key := strings.SplitN(line, "=", 2)[0]
		if key != "ONLY_VAR" && key != "PATH" && key != "PWD" && key != "SHLVL" && key != "_" {
			t.Errorf("unexpected inherited variable %q", line)
		}
	}
}

func TestRunStdin(t *testing.T) {
	r := NewRunner()

	out, err := r.Run(runCtx(t, 10*time.Second), &Spec{
		Program: "cat",
		Stdin:   strings.NewReader("piped input"),
	})
	if err != nil {
		t.Fatal(err)
	}
	if string(out.Stdout) != "piped input" {
		t.Errorf("Stdout = %q", out.Stdout)
	}
}

func TestBuildEnv(t *testing.T) {
	env := BuildEnv(map[string]string{"A": "1", "B": "2"})
	if len(env) != 2 {
		t.Fatalf("env = %v", env)
	}
	seen := map[string]bool{}
	for _, e := range env {
		seen[e] = true
	}
	if !seen["A=1"] || !seen["B=2"] {
		t.Errorf("env = %v", env)
	}
}

func TestLookPath(t *testing.T) {
	if _, err := LookPath("sh"); err != nil {
		t.Errorf("LookPath(sh) = %v", err)
	}
	if _, err := LookPath("definitely-not-a-binary-12345"); err == nil {
		t.Error("LookPath resolved a nonexistent program")
	}
}
