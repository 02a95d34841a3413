package local_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/seantiz/offload/internal/boundary"
	"github.com/seantiz/offload/internal/boundary/local"
	"github.com/seantiz/offload/internal/capability"
	"github.com/seantiz/offload/internal/task/builtin"
	"github.com/seantiz/offload/internal/wire"
	"github.com/seantiz/offload/internal/worker"
)

func newBoundary() *local.Boundary {
	return local.New(worker.New(builtin.New(), capability.Builtin()))
}

func TestSpawnOneShot(t *testing.T) {
	b := newBoundary()
	if b.Name() != local.Name {
		t.Errorf("Name() = %q, want %q", b.Name(), local.Name)
	}

	h, err := b.Spawn(context.Background(), wire.StartRequest{
		Task: "echo",
		Mode: "one_shot",
		Args: []json.RawMessage{json.RawMessage(`{"a":[1,2]}`)},
	}, boundary.SpawnOptions{ID: "exec-1"})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer h.Terminate()

	f, err := h.Next(context.Background())
	if err != nil {
		t.Fatalf("Next: %v", err)
	}
	if f.Type != wire.TypeResult || string(f.Value) != `{"a":[1,2]}` {
		t.Errorf("frame = %+v, want result echoing the argument", f)
	}

	select {
	case <-h.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("context did not exit after result")
	}
	if h.ExitCode() != worker.ExitOK {
		t.Errorf("ExitCode() = %d, want %d", h.ExitCode(), worker.ExitOK)
	}
}

func TestSpawnExitCode(t *testing.T) {
	h, err := newBoundary().Spawn(context.Background(), wire.StartRequest{
		Task: "exit",
		Mode: "one_shot",
		Args: []json.RawMessage{json.RawMessage(`124`)},
	}, boundary.SpawnOptions{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}
	defer h.Terminate()

	_, err = h.Next(context.Background())
	var berr *boundary.Error
	if !errors.As(err, &berr) || berr.Kind != boundary.KindWorkerCrashed {
		t.Fatalf("Next error = %v, want worker crashed", err)
	}
	if berr.ExitCode != 124 {
		t.Errorf("exit code = %d, want 124", berr.ExitCode)
	}
}

func TestTerminateCancelsWork(t *testing.T) {
	h, err := newBoundary().Spawn(context.Background(), wire.StartRequest{
		Task: "sleep",
		Mode: "one_shot",
		Args: []json.RawMessage{json.RawMessage(`60000`)},
	}, boundary.SpawnOptions{})
	if err != nil {
		t.Fatalf("Spawn: %v", err)
	}

	if err := h.Terminate(); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if _, err := h.Next(context.Background()); !errors.Is(err, boundary.ErrWorkerCrashed) {
		t.Errorf("Next after Terminate = %v, want worker crashed", err)
	}
}
