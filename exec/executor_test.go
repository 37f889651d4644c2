package exec

import (
	"context"
	"errors"
	"sync"
	"testing"
)

type exitErr int

func (e exitErr) Error() string { return "exit status" }
func (e exitErr) ExitCode() int { return int(e) }

func TestRealExecutor_Run(t *testing.T) {
	executor := NewRealExecutor()

	stdout, stderr, err := executor.Run(context.Background(), "sh", "-c", "echo out; echo err >&2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(stdout) != "out\n" {
		t.Errorf("expected 'out\\n', got %q", string(stdout))
	}
	if string(stderr) != "err\n" {
		t.Errorf("expected 'err\\n', got %q", string(stderr))
	}
}

func TestRealExecutor_CLocale(t *testing.T) {
	output, err := NewRealExecutor().Output(context.Background(), "sh", "-c", "echo $LC_ALL")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(output) != "C\n" {
		t.Errorf("expected LC_ALL=C, got %q", string(output))
	}
}

func TestRealExecutor_ExitCode(t *testing.T) {
	_, err := NewRealExecutor().Output(context.Background(), "sh", "-c", "exit 1")
	if err == nil {
		t.Fatal("expected an error")
	}
	if got := ExitCode(err); got != 1 {
		t.Errorf("ExitCode() = %d, want 1", got)
	}
}

func TestExitCode_Other(t *testing.T) {
	if got := ExitCode(errors.New("boom")); got != -1 {
		t.Errorf("ExitCode() = %d, want -1", got)
	}
	if got := ExitCode(exitErr(2)); got != 2 {
		t.Errorf("ExitCode() = %d, want 2", got)
	}
}

func TestMockExecutor_Run(t *testing.T) {
	mock := NewMockExecutor()
	mock.AddExactMatch("pgrep", []string{"-x", "greeter-backend"}, MockResponse{
		Stdout: []byte("123\n"),
	})

	stdout, stderr, err := mock.Run(context.Background(), "pgrep", "-x", "greeter-backend")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(stdout) != "123\n" {
		t.Errorf("expected '123\\n', got %q", string(stdout))
	}
	if len(stderr) != 0 {
		t.Errorf("expected empty stderr, got %q", string(stderr))
	}

	calls := mock.Calls()
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Name != "pgrep" || len(calls[0].Args) != 2 {
		t.Errorf("unexpected call %+v", calls[0])
	}
}

func TestMockExecutor_PrefixMatch(t *testing.T) {
	mock := NewMockExecutor()
	mock.AddPrefixMatch("ps", []string{"-o"}, MockResponse{Stdout: []byte("1 greeter-backend")})

	ctx := context.Background()
	for _, args := range [][]string{{"-o", "ppid=", "-p", "5"}, {"-o", "args="}} {
		out, err := mock.Output(ctx, "ps", args...)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if string(out) != "1 greeter-backend" {
			t.Errorf("ps %v: got %q", args, out)
		}
	}

	// Different prefix falls through to the empty default.
	out, err := mock.Output(ctx, "ps", "aux")
	if err != nil || len(out) != 0 {
		t.Errorf("unmatched command: got %q, %v", out, err)
	}
}

func TestMockExecutor_Error(t *testing.T) {
	mock := NewMockExecutor()
	mock.AddExactMatch("kill", []string{"-TERM", "42"}, MockResponse{
		Stderr: []byte("No such process"),
		Err:    exitErr(1),
	})

	_, stderr, err := mock.Run(context.Background(), "kill", "-TERM", "42")
	if ExitCode(err) != 1 {
		t.Errorf("expected exit code 1, got %v", err)
	}
	if string(stderr) != "No such process" {
		t.Errorf("expected stderr, got %q", string(stderr))
	}
}

func TestMockExecutor_AddRule(t *testing.T) {
	mock := NewMockExecutor()
	mock.AddRule(func(name string, args []string) bool {
		return len(args) > 0 && args[len(args)-1] == "special"
	}, MockResponse{Stdout: []byte("special response")})

	ctx := context.Background()
	if out, _ := mock.Output(ctx, "any", "special"); string(out) != "special response" {
		t.Errorf("expected 'special response', got %q", out)
	}
	if out, _ := mock.Output(ctx, "any", "other"); len(out) != 0 {
		t.Errorf("expected empty response, got %q", out)
	}
}

func TestMockExecutor_RuleOrder(t *testing.T) {
	mock := NewMockExecutor()
	mock.AddExactMatch("kill", []string{"-TERM", "1"}, MockResponse{Stdout: []byte("specific")})
	mock.AddPrefixMatch("kill", []string{"-TERM"}, MockResponse{Stdout: []byte("general")})

	ctx := context.Background()
	if out, _ := mock.Output(ctx, "kill", "-TERM", "1"); string(out) != "specific" {
		t.Errorf("expected 'specific', got %q", out)
	}
	if out, _ := mock.Output(ctx, "kill", "-TERM", "2"); string(out) != "general" {
		t.Errorf("expected 'general', got %q", out)
	}
}

func TestMockExecutor_CallsAreCopies(t *testing.T) {
	mock := NewMockExecutor()
	args := []string{"-x", "a"}
	mock.Output(context.Background(), "pgrep", args...)
	args[1] = "b"

	calls := mock.Calls()
	calls[0].Name = "changed"
	if got := mock.Calls()[0]; got.Name != "pgrep" || got.Args[1] != "a" {
		t.Errorf("recorded call was mutated: %+v", got)
	}
}

func TestDefaultExecutor(t *testing.T) {
	if _, ok := GetDefaultExecutor().(*RealExecutor); !ok {
		t.Errorf("DefaultExecutor should be *RealExecutor, got %T", GetDefaultExecutor())
	}

	mock := NewMockExecutor()
	original := GetDefaultExecutor()
	SetDefaultExecutor(mock)
	if GetDefaultExecutor() != mock {
		t.Error("SetDefaultExecutor did not set the executor")
	}
	SetDefaultExecutor(original)
}

func TestDefaultExecutorConcurrentAccess(t *testing.T) {
	original := GetDefaultExecutor()
	defer SetDefaultExecutor(original)

	var wg sync.WaitGroup
	for range 100 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			SetDefaultExecutor(NewMockExecutor())
		}()
		go func() {
			defer wg.Done()
			_ = GetDefaultExecutor()
		}()
	}
	wg.Wait()
}
