package process_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/seantiz/offload/internal/boundary"
	"github.com/seantiz/offload/internal/boundary/process"
	"github.com/seantiz/offload/internal/capability"
	"github.com/seantiz/offload/internal/task/builtin"
	"github.com/seantiz/offload/internal/wire"
	"github.com/seantiz/offload/internal/worker"
)

const workerEnv = "OFFLOAD_TEST_PROCESS_WORKER"

// TestMain lets the test binary double as a stdio worker.
func TestMain(m *testing.M) {
	if os.Getenv(workerEnv) == "1" {
		agent := worker.New(builtin.New(), capability.Builtin(), worker.WithExitFunc(os.Exit))
		os.Exit(agent.ServeConn(worker.Stdio()))
	}
	os.Exit(m.Run())
}

func newBoundary(t *testing.T) *process.Boundary {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	return process.New(exe, nil, process.WithEnv(workerEnv+"=1"))
}

func spawn(t *testing.T, b *process.Boundary, task, mode string, args ...string) boundary.Handle {
	t.Helper()
	req := wire.StartRequest{Task: task, Mode: mode}
	for _, a := range args {
		req.Args = append(req.Args, json.RawMessage(a))
	}
	h, err := b.Spawn(context.Background(), req, boundary.SpawnOptions{ID: "exec-1"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	t.Cleanup(func() { h.Terminate() })
	return h
}

func next(t *testing.T, h boundary.Handle) (wire.Frame, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return h.Next(ctx)
}

func TestProcessOneShot(t *testing.T) {
	h := spawn(t, newBoundary(t), "concat", "one_shot", `{"a":"foo","b":"bar"}`)

	f, err := next(t, h)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.Type != wire.TypeResult || string(f.Value) != `"foobar"` {
		t.Errorf("frame = %+v, want result \"foobar\"", f)
	}

	select {
	case <-h.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("worker process did not exit")
	}
	if h.ExitCode() != 0 {
		t.Errorf("ExitCode() = %d, want 0", h.ExitCode())
	}
}

func TestProcessStream(t *testing.T) {
	h := spawn(t, newBoundary(t), "echo-chain", "stream")

	f, err := next(t, h)
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if string(f.Value) != `"a"` {
		t.Errorf("first step = %s, want \"a\"", f.Value)
	}

	for _, tc := range []struct{ resume, want string }{
		{`"b"`, `"bb"`},
		{`"c"`, `"cc"`},
		{`"d"`, `"dd"`},
	} {
		if err := h.Post(json.RawMessage(tc.resume)); err != nil {
			t.Fatalf("Post(%s): %v", tc.resume, err)
		}
		f, err := next(t, h)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if string(f.Value) != tc.want {
			t.Errorf("step after %s = %s, want %s", tc.resume, f.Value, tc.want)
		}
	}
}

func TestProcessExitCode(t *testing.T) {
	h := spawn(t, newBoundary(t), "exit", "one_shot", `124`)

	_, err := next(t, h)
	var berr *boundary.Error
	if !errors.As(err, &berr) || berr.Kind != boundary.KindWorkerCrashed {
		t.Fatalf("Next error = %v, want worker crashed", err)
	}
	if berr.ExitCode != 124 {
		t.Errorf("exit code = %d, want 124", berr.ExitCode)
	}
}

func TestProcessTerminate(t *testing.T) {
	h := spawn(t, newBoundary(t), "sleep", "one_shot", `60000`)

	if err := h.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if _, err := next(t, h); !errors.Is(err, boundary.ErrWorkerCrashed) {
		t.Errorf("Next after Terminate = %v, want worker crashed", err)
	}
}

func TestProcessSpawnFailure(t *testing.T) {
	b := process.New("/nonexistent/offload-worker", nil)
	_, err := b.Spawn(context.Background(), wire.StartRequest{Task: "echo", Mode: "one_shot"}, boundary.SpawnOptions{})
	if !errors.Is(err, boundary.ErrSpawnFailure) {
		t.Errorf("Spawn error = %v, want spawn failure", err)
	}
}
