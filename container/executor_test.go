package container

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeEngine writes a shell script that emulates the container CLI: `run`
// execs the wrapper body locally, admin subcommands succeed silently.
func fakeEngine(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "fake-docker")
	script := `#!/bin/sh
cmd="$1"
case "$cmd" in
run)
  for last; do :; done
  exec /bin/sh -c "$last"
  ;;
*)
  exit 0
  ;;
esac
`
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func fakeEngineJob(cmd ...string) *Job {
	return &Job{
		Image:                "fake:latest",
		Cmd:                  cmd,
		MemoryMB:             512,
		CPUFraction:          1.0,
		Network:              NetworkNone,
		Timeout:              MinTimeout,
		InlineScriptContent:  []byte("unused"),
		InlineScriptFileName: "unused-inline.txt",
	}
}

func TestExecute_CapturesOutputAndExitCode(t *testing.T) {
	e := NewExecutor(ExecutorConfig{Engine: fakeEngine(t)})
	res, err := e.Execute(context.Background(), fakeEngineJob("sh", "-c", "echo out; echo err >&2"), StreamSinks{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Success || res.ExitCode != 0 {
		t.Errorf("expected success, got %+v", res)
	}
	if !strings.Contains(res.Stdout, "out") {
		t.Errorf("stdout = %q", res.Stdout)
	}
	if !strings.Contains(res.Stderr, "err") {
		t.Errorf("stderr = %q", res.Stderr)
	}
}

func TestExecute_PropagatesNonZeroExit(t *testing.T) {
	e := NewExecutor(ExecutorConfig{Engine: fakeEngine(t)})
	res, err := e.Execute(context.Background(), fakeEngineJob("sh", "-c", "exit 7"), StreamSinks{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success || res.ExitCode != 7 {
		t.Errorf("expected exit 7, got %+v", res)
	}
}

func TestExecute_StreamsToSinks(t *testing.T) {
	e := NewExecutor(ExecutorConfig{Engine: fakeEngine(t)})
	var mu sync.Mutex
	var chunks []string
	sink := writerFunc(func(b []byte) (int, error) {
		mu.Lock()
		chunks = append(chunks, string(b))
		mu.Unlock()
		return len(b), nil
	})

	res, err := e.Execute(context.Background(), fakeEngineJob("sh", "-c", "printf live-chunk"), StreamSinks{Stdout: sink})
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(chunks) == 0 || !strings.Contains(strings.Join(chunks, ""), "live-chunk") {
		t.Errorf("sink chunks = %v", chunks)
	}
}

// Diagnostics written immediately before exit must land in the capture
// buffers; the port-collision retry upstream keys off the final stderr line.
func TestExecute_CapturesTrailingStderrAtExit(t *testing.T) {
	e := NewExecutor(ExecutorConfig{Engine: fakeEngine(t)})
	for i := 0; i < 20; i++ {
		res, err := e.Execute(context.Background(), fakeEngineJob("sh", "-c",
			"printf 'error: listen tcp 127.0.0.1:5665: bind: address already in use\\n' >&2; exit 105"), StreamSinks{})
		if err != nil {
			t.Fatal(err)
		}
		if res.ExitCode != 105 {
			t.Fatalf("exit code = %d, want 105", res.ExitCode)
		}
		if !strings.Contains(res.Stderr, "address already in use") {
			t.Fatalf("iteration %d: trailing stderr lost: %q", i, res.Stderr)
		}
	}
}

func TestExecute_Timeout(t *testing.T) {
	e := NewExecutor(ExecutorConfig{Engine: fakeEngine(t)})
	job := fakeEngineJob("sleep", "60")
	job.Timeout = MinTimeout

	start := time.Now()
	res, err := e.Execute(context.Background(), job, StreamSinks{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.TimedOut {
		t.Fatalf("expected timeout, got %+v", res)
	}
	if res.ExitCode != 124 {
		t.Errorf("timeout exit code = %d, want 124", res.ExitCode)
	}
	if elapsed := time.Since(start); elapsed > MinTimeout+3*time.Second {
		t.Errorf("kill took too long: %s", elapsed)
	}
}

// fakeCancellations flips to cancelled immediately and records clears.
type fakeCancellations struct {
	mu        sync.Mutex
	cancelled map[string]bool
	cleared   []string
}

func (f *fakeCancellations) IsCancelled(_ context.Context, runID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled[runID]
}

func (f *fakeCancellations) ClearCancellation(_ context.Context, runID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.cancelled, runID)
	f.cleared = append(f.cleared, runID)
}

func TestExecute_ExternalCancellation(t *testing.T) {
	cancels := &fakeCancellations{cancelled: map[string]bool{"run-9": true}}
	e := NewExecutor(ExecutorConfig{Engine: fakeEngine(t), Cancellations: cancels})

	job := fakeEngineJob("sleep", "60")
	job.RunID = "run-9"
	job.Timeout = 30 * time.Second

	start := time.Now()
	res, err := e.Execute(context.Background(), job, StreamSinks{})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Cancelled {
		t.Fatalf("expected cancellation, got %+v", res)
	}
	if res.ExitCode != 137 || res.Error != "cancelled" {
		t.Errorf("cancelled result = %+v", res)
	}
	// Cancellation must land within poll interval + kill grace.
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("cancellation took %s, want <= 2s + grace", elapsed)
	}
	if len(cancels.cleared) != 1 || cancels.cleared[0] != "run-9" {
		t.Errorf("flag should be cleared after kill: %v", cancels.cleared)
	}
}

func TestExecute_RegistryLifecycle(t *testing.T) {
	reg := NewRegistry()
	e := NewExecutor(ExecutorConfig{Engine: fakeEngine(t), Registry: reg})

	job := fakeEngineJob("sh", "-c", "true")
	job.RunID = "run-reg"
	if _, err := e.Execute(context.Background(), job, StreamSinks{}); err != nil {
		t.Fatal(err)
	}
	if reg.Len() != 0 {
		t.Error("run should be deregistered after completion")
	}
}

func TestExecute_EngineUnavailable(t *testing.T) {
	e := NewExecutor(ExecutorConfig{Engine: "/nonexistent/docker"})
	res, err := e.Execute(context.Background(), fakeEngineJob("true"), StreamSinks{})
	if err != nil {
		t.Fatal(err)
	}
	if res.Success {
		t.Error("missing engine should not succeed")
	}
	if res.Error != ErrEngineUnavailable.Error() {
		t.Errorf("error = %q, want %q", res.Error, ErrEngineUnavailable.Error())
	}
}

func TestExecute_ValidationRejectsBeforeLaunch(t *testing.T) {
	e := NewExecutor(ExecutorConfig{Engine: "/nonexistent/docker"})
	job := fakeEngineJob("true")
	job.MemoryMB = 1
	if _, err := e.Execute(context.Background(), job, StreamSinks{}); err == nil {
		t.Error("out-of-range job should reject before launch")
	}
}

type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) { return f(b) }
