package hooks

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/croakml/guard/command"
)

// recordingHook implements every hook interface and appends its name
// to a shared trace on each invocation.
type recordingHook struct {
	name     string
	priority int
	trace    *[]string
	err      error
}

func (h *recordingHook) Name() string    { return h.name }
func (h *recordingHook) Priority() int   { return h.priority }
func (h *recordingHook) Program() string { return "" }

func (h *recordingHook) PreExecute(ctx context.Context, req *command.Request) error {
	*h.trace = append(*h.trace, "pre:"+h.name)
	return h.err
}

func (h *recordingHook) PostExecute(ctx context.Context, req *command.Request, result *command.Result) error {
	*h.trace = append(*h.trace, "post:"+h.name)
	return h.err
}

func (h *recordingHook) ValidateArgs(ctx context.Context, program string, args []string) error {
	*h.trace = append(*h.trace, "args:"+h.name)
	return h.err
}

func TestRegistryPriorityOrder(t *testing.T) {
	var trace []string
	r := NewRegistry()
	r.Register(&recordingHook{name: "late", priority: 200, trace: &trace})
	r.Register(&recordingHook{name: "early", priority: 10, trace: &trace})
	r.Register(&recordingHook{name: "mid", priority: 100, trace: &trace})

	req := command.NewRequest("git", "status").MustBuild()
	if err := r.RunPreExecute(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	want := []string{"pre:early", "pre:mid", "pre:late"}
	if fmt.Sprint(trace) != fmt.Sprint(want) {
		t.Errorf("trace = %v, want %v", trace, want)
	}
}

func TestRegistryStopsOnError(t *testing.T) {
	var trace []string
	boom := errors.New("refused")
	r := NewRegistry()
	r.Register(&recordingHook{name: "first", priority: 1, trace: &trace, err: boom})
	r.Register(&recordingHook{name: "second", priority: 2, trace: &trace})

	req := command.NewRequest("git").MustBuild()
	err := r.RunPreExecute(context.Background(), req)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if len(trace) != 1 {
		t.Errorf("trace = %v, want the chain to stop at the failing hook", trace)
	}
}

func TestRegistryUnregister(t *testing.T) {
	var trace []string
	r := NewRegistry()
	r.Register(&recordingHook{name: "keep", priority: 1, trace: &trace})
	r.Register(&recordingHook{name: "drop", priority: 2, trace: &trace})
	r.Unregister("drop")

	req := command.NewRequest("git").MustBuild()
	result := &command.Result{}
	if err := r.RunPostExecute(context.Background(), req, result); err != nil {
		t.Fatal(err)
	}

	if len(trace) != 1 || trace[0] != "post:keep" {
		t.Errorf("trace = %v", trace)
	}
}

// programValidator only fires for one program.
type programValidator struct {
	program string
	seen    *[]string
}

func (v *programValidator) Name() string    { return "program:" + v.program }
func (v *programValidator) Priority() int   { return 50 }
func (v *programValidator) Program() string { return v.program }

func (v *programValidator) ValidateArgs(ctx context.Context, program string, args []string) error {
	*v.seen = append(*v.seen, program)
	return nil
}

func TestRunArgValidatorsFiltersByProgram(t *testing.T) {
	var seen []string
	r := NewRegistry()
	r.Register(&programValidator{program: "python3", seen: &seen})
	r.Register(&programValidator{program: "git", seen: &seen})
	r.Register(&recordingHook{name: "all", priority: 99, trace: &seen})

	req := command.NewRequest("python3", "train.py").MustBuild()
	if err := r.RunArgValidators(context.Background(), req); err != nil {
		t.Fatal(err)
	}

	want := []string{"python3", "args:all"}
	if fmt.Sprint(seen) != fmt.Sprint(want) {
		t.Errorf("seen = %v, want %v", seen, want)
	}
}

func TestScriptExistsValidator(t *testing.T) {
	missing := errors.New("no such file")
	v := &ScriptExistsValidator{
		ForProgram: "python3",
		Check: func(path string) error {
			if path == "train.py" {
				return nil
			}
			return missing
		},
	}

	ctx := context.Background()
	if err := v.ValidateArgs(ctx, "python3", []string{"train.py", "--epochs", "5"}); err != nil {
		t.Errorf("existing script rejected: %v", err)
	}
	if err := v.ValidateArgs(ctx, "python3", []string{"gone.py"}); !errors.Is(err, missing) {
		t.Errorf("err = %v, want the check's error", err)
	}
	// Non-script arguments are not checked at all.
	if err := v.ValidateArgs(ctx, "python3", []string{"-m", "torch.utils.collect_env"}); err != nil {
		t.Errorf("module invocation rejected: %v", err)
	}
}
