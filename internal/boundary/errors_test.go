package boundary_test

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/seantiz/offload/internal/boundary"
)

func TestErrorIsMatchesKind(t *testing.T) {
	err := fmt.Errorf("await: %w", &boundary.Error{Kind: boundary.KindWorkerCrashed, ExitCode: 124})

	if !errors.Is(err, boundary.ErrWorkerCrashed) {
		t.Error("expected errors.Is(err, ErrWorkerCrashed)")
	}
	if errors.Is(err, boundary.ErrTimeout) {
		t.Error("crash error must not match ErrTimeout")
	}
	if got := boundary.KindOf(err); got != boundary.KindWorkerCrashed {
		t.Errorf("KindOf = %q, want %q", got, boundary.KindWorkerCrashed)
	}
	if got := boundary.KindOf(errors.New("plain")); got != "" {
		t.Errorf("KindOf(plain) = %q, want empty", got)
	}
}

func TestErrorUnwrapsCause(t *testing.T) {
	err := &boundary.Error{Kind: boundary.KindCancelled, Err: context.Canceled}
	if !errors.Is(err, context.Canceled) {
		t.Error("expected cancelled error to wrap context.Canceled")
	}
	if !errors.Is(err, boundary.ErrCancelled) {
		t.Error("expected errors.Is(err, ErrCancelled)")
	}
}

func TestErrorMessage(t *testing.T) {
	tests := []struct {
		err  *boundary.Error
		want string
	}{
		{&boundary.Error{Kind: boundary.KindWorkerCrashed, ExitCode: 124}, "worker exited with code: 124"},
		{&boundary.Error{Kind: boundary.KindWorkerError, Message: "boom"}, "worker error: boom"},
		{&boundary.Error{Kind: boundary.KindTimeout, Err: context.DeadlineExceeded}, "worker exceeded timeout: context deadline exceeded"},
		{boundary.SpawnError(errors.New("no such task")), "spawn worker: no such task"},
	}
	for _, tc := range tests {
		if got := tc.err.Error(); got != tc.want {
			t.Errorf("Error() = %q, want %q", got, tc.want)
		}
	}
}
