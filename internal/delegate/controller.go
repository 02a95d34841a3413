// Package delegate hands units of work to isolated worker contexts and
// relays their results back to the caller.
//
// A one-shot call returns a Future settled by the worker's single result. A
// stream call returns a Stream driven step by step: each Next posts the
// caller's resume value and awaits the worker's next step. Every delegation
// settles exactly once, into completed, failed, timed out or cancelled, and
// its worker context is terminated on every path.
package delegate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/seantiz/offload/internal/boundary"
	"github.com/seantiz/offload/internal/capability"
	"github.com/seantiz/offload/internal/model"
	"github.com/seantiz/offload/internal/task"
	"github.com/seantiz/offload/internal/tracing"
	"github.com/seantiz/offload/internal/wire"
)

// Controller delegates work units across registered boundaries. It is safe
// for concurrent use; each call owns its own worker context.
type Controller struct {
	boundaries *boundary.Registry
	tasks      *task.Registry
	caps       *capability.Registry
	timeout    time.Duration
	logger     *slog.Logger
}

// New creates a controller spawning workers through reg.
func New(reg *boundary.Registry, opts ...ControllerOption) *Controller {
	c := &Controller{
		boundaries: reg,
		logger:     slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Result holds the handle returned by Delegate: Future for one-shot work,
// Stream for stream work.
type Result struct {
	Future *Future
	Stream *Stream
}

// Delegate dispatches w on its mode. A work unit without a mode takes the
// mode of its registered task, or one-shot when no task registry is set.
func (c *Controller) Delegate(ctx context.Context, w model.WorkUnit, opts ...Option) (Result, error) {
	if c.ModeOf(w) == model.ModeStream {
		s, err := c.Stream(ctx, w, opts...)
		return Result{Stream: s}, err
	}
	f, err := c.Call(ctx, w, opts...)
	return Result{Future: f}, err
}

// ModeOf reports the mode Delegate would run w in.
func (c *Controller) ModeOf(w model.WorkUnit) model.Mode {
	if w.Mode != "" {
		return w.Mode
	}
	if c.tasks != nil {
		if def, err := c.tasks.Lookup(w.Task); err == nil {
			return def.Mode
		}
	}
	return model.ModeOneShot
}

// Call runs w as one-shot work. It returns once the worker context is
// spawned; the Future settles with the worker's result. A failure before the
// spawn is returned directly and no worker is started.
func (c *Controller) Call(ctx context.Context, w model.WorkUnit, opts ...Option) (*Future, error) {
	e, err := c.start(ctx, w, model.ModeOneShot, opts)
	if err != nil {
		return nil, err
	}
	e.armTimer()
	go e.awaitResult()
	return &Future{e: e}, nil
}

// Stream runs w as stream work. The worker context is spawned before
// Stream returns; its first step is requested by the first Next.
func (c *Controller) Stream(ctx context.Context, w model.WorkUnit, opts ...Option) (*Stream, error) {
	e, err := c.start(ctx, w, model.ModeStream, opts)
	if err != nil {
		return nil, err
	}
	return &Stream{e: e}, nil
}

// start creates the execution and spawns its worker context. Failures are
// settled before they are returned.
func (c *Controller) start(ctx context.Context, w model.WorkUnit, mode model.Mode, opts []Option) (*execution, error) {
	o := callOptions{timeout: c.timeout}
	for _, opt := range opts {
		opt(&o)
	}
	if o.observer == nil {
		o.observer = nopObserver{}
	}
	if o.id == "" {
		o.id = model.NewID()
	}
	name := o.boundary
	if name == "" {
		name = c.boundaries.Default()
	}

	e := newExecution(c, o, Info{ID: o.id, Task: w.Task, Mode: mode, Boundary: name})
	_, e.span = tracing.StartSpan(ctx, "delegate "+w.Task, map[string]string{
		"execution.id": o.id,
		"task":         w.Task,
		"mode":         string(mode),
		"boundary":     name,
	})

	if ctx.Err() != nil {
		e.settle(model.StateCancelled, nil, cancelError(ctx))
		return nil, e.failure()
	}

	req, err := c.request(w, mode)
	if err != nil {
		e.settle(model.StateFailed, nil, boundary.SpawnError(err))
		return nil, e.failure()
	}
	b, err := c.boundaries.Resolve(o.boundary)
	if err != nil {
		e.settle(model.StateFailed, nil, boundary.SpawnError(err))
		return nil, e.failure()
	}

	h, err := b.Spawn(ctx, req, boundary.SpawnOptions{ID: o.id, LogWriter: o.logWriter})
	if err != nil {
		if ctx.Err() != nil {
			e.settle(model.StateCancelled, nil, cancelError(ctx))
		} else {
			if boundary.KindOf(err) == "" {
				err = boundary.SpawnError(err)
			}
			e.settle(model.StateFailed, nil, err)
		}
		return nil, e.failure()
	}

	e.run(ctx, h)
	if o.onStart != nil {
		o.onStart(h)
	}
	return e, nil
}

// request encodes w into a start frame. The caller's values are copied at
// this point, so later mutation of w has no effect on the worker.
func (c *Controller) request(w model.WorkUnit, mode model.Mode) (wire.StartRequest, error) {
	if w.Task == "" {
		return wire.StartRequest{}, errors.New("work unit names no task")
	}
	if w.Mode != "" && w.Mode != mode {
		return wire.StartRequest{}, fmt.Errorf("work unit mode %q cannot run as %s", w.Mode, mode)
	}
	if c.tasks != nil {
		def, err := c.tasks.Lookup(w.Task)
		if err != nil {
			return wire.StartRequest{}, err
		}
		if def.Mode != mode {
			return wire.StartRequest{}, fmt.Errorf("task %q is %s work, not %s", w.Task, def.Mode, mode)
		}
	}

	var bindings []capability.Binding
	var err error
	if c.caps != nil {
		bindings, err = c.caps.Resolve(w.Capabilities)
	} else {
		bindings, err = capability.ParseSpecs(w.Capabilities)
	}
	if err != nil {
		return wire.StartRequest{}, fmt.Errorf("resolve capabilities: %w", err)
	}

	args := make([]json.RawMessage, len(w.Args))
	for i, a := range w.Args {
		raw, err := wire.Encode(a)
		if err != nil {
			return wire.StartRequest{}, fmt.Errorf("argument %d: %w", i, err)
		}
		args[i] = raw
	}

	var vars map[string]json.RawMessage
	if len(w.Context) > 0 {
		vars = make(map[string]json.RawMessage, len(w.Context))
		for k, v := range w.Context {
			raw, err := wire.Encode(v)
			if err != nil {
				return wire.StartRequest{}, fmt.Errorf("context %q: %w", k, err)
			}
			vars[k] = raw
		}
	}

	return wire.StartRequest{
		Task:     w.Task,
		Mode:     string(mode),
		Args:     args,
		Context:  vars,
		Bindings: bindings,
	}, nil
}

func cancelError(ctx context.Context) error {
	return &boundary.Error{Kind: boundary.KindCancelled, Err: context.Cause(ctx)}
}
