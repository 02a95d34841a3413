package boundary

import (
	"context"
	"encoding/json"

	"github.com/seantiz/offload/internal/wire"
)

// ExitCodeUnknown is reported when a context's exit code cannot be observed.
const ExitCodeUnknown = -1

// Boundary creates worker contexts.
type Boundary interface {
	// Name is the registry key of the boundary.
	Name() string

	// Spawn starts a worker context and sends it req. It returns once the
	// context exists; it never waits for the work itself.
	Spawn(ctx context.Context, req wire.StartRequest, opts SpawnOptions) (Handle, error)
}

// SpawnOptions carry per-call settings to a boundary.
type SpawnOptions struct {
	// ID identifies the execution the context serves.
	ID string

	// LogWriter receives log lines emitted by the work. Optional.
	LogWriter func(line string)
}

// Handle is one running worker context. Only its owning controller may use it.
type Handle interface {
	// ID identifies the context.
	ID() string

	// Next blocks until the worker emits a data frame (step or result) or an
	// error frame. Log frames are passed to the LogWriter and skipped. If the
	// context ends without a frame, Next fails with a WorkerCrashed Error.
	Next(ctx context.Context) (wire.Frame, error)

	// Post delivers a resume value for the worker's next step.
	Post(value json.RawMessage) error

	// Terminate stops the context. It is idempotent and safe after exit.
	Terminate() error

	// Done is closed once the context has exited or been terminated.
	Done() <-chan struct{}

	// ExitCode reports the context's exit code, or ExitCodeUnknown.
	ExitCode() int
}
