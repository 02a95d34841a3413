package delegate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/offload/internal/boundary"
	"github.com/seantiz/offload/internal/model"
	"github.com/seantiz/offload/internal/tracing"
	"github.com/seantiz/offload/internal/wire"
)

// ErrRunning is returned when a settled outcome is requested too early.
var ErrRunning = errors.New("delegation still running")

// execution is the state shared by a Future or Stream and the goroutines
// that may settle it: the awaiting caller, the timeout timer and the
// cancellation watcher.
type execution struct {
	c     *Controller
	opts  callOptions
	info  Info
	span  *tracing.Span
	began time.Time

	// ctx is cancelled at settlement to release internal waits.
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	state     model.State
	value     json.RawMessage
	err       error
	steps     int
	handle    boundary.Handle
	timer     *time.Timer
	window    uint64
	stopWatch func() bool
}

func newExecution(c *Controller, o callOptions, info Info) *execution {
	ctx, cancel := context.WithCancel(context.Background())
	return &execution{
		c:      c,
		opts:   o,
		info:   info,
		began:  time.Now(),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		state:  model.StateCreated,
	}
}

// run marks the execution running on h and settles it as cancelled once
// ctx is done.
func (e *execution) run(ctx context.Context, h boundary.Handle) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.handle = h
	e.state = model.StateRunning
	delegationsInFlight.Inc()
	e.span.AddEvent("spawned")
	e.opts.observer.OnStart(e.info)
	e.stopWatch = context.AfterFunc(ctx, func() {
		e.settle(model.StateCancelled, nil, cancelError(ctx))
	})

	e.c.logger.Debug("worker spawned",
		"execution_id", e.info.ID,
		"task", e.info.Task,
		"boundary", e.info.Boundary,
	)
}

// settle records the final state. Only the first call has any effect; it
// reports whether this call settled the execution.
func (e *execution) settle(state model.State, value json.RawMessage, err error) bool {
	return e.settleIf(nil, state, value, err)
}

// settleIf is settle guarded by valid, which runs under the lock.
func (e *execution) settleIf(valid func() bool, state model.State, value json.RawMessage, err error) bool {
	e.mu.Lock()
	if e.state.Terminal() || (valid != nil && !valid()) {
		e.mu.Unlock()
		return false
	}
	wasRunning := e.state == model.StateRunning
	e.state, e.value, e.err = state, value, err
	if e.timer != nil {
		e.timer.Stop()
	}
	stop, h, steps := e.stopWatch, e.handle, e.steps
	e.mu.Unlock()

	if stop != nil {
		stop()
	}
	e.cancel()
	if h != nil {
		if terr := h.Terminate(); terr != nil {
			e.c.logger.Warn("terminate worker", "execution_id", e.info.ID, "error", terr)
		}
	}
	if wasRunning {
		delegationsInFlight.Dec()
	}

	elapsed := time.Since(e.began)
	delegationsTotal.WithLabelValues(e.info.Task, string(e.info.Mode), string(state)).Inc()
	delegationDuration.WithLabelValues(string(e.info.Mode)).Observe(elapsed.Seconds())

	e.span.SetAttributes(map[string]string{"state": string(state)})
	e.span.End(err)

	attrs := []any{
		"execution_id", e.info.ID,
		"task", e.info.Task,
		"mode", e.info.Mode,
		"boundary", e.info.Boundary,
		"state", state,
		"steps", steps,
		"duration_ms", elapsed.Milliseconds(),
	}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	e.c.logger.Log(context.Background(), logLevel(state), "delegation settled", attrs...)

	e.opts.observer.OnSettle(e.info, Outcome{
		State:    state,
		Value:    value,
		Err:      err,
		Steps:    steps,
		Duration: elapsed,
	})
	close(e.done)
	return true
}

// outcome returns the current state with the settled value and error.
func (e *execution) outcome() (model.State, json.RawMessage, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, e.value, e.err
}

func (e *execution) failure() error {
	_, _, err := e.outcome()
	return err
}

// armTimer starts a new timeout window for the next await.
func (e *execution) armTimer() {
	d := e.opts.timeout
	if d <= 0 {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Terminal() {
		return
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.window++
	window := e.window
	e.timer = time.AfterFunc(d, func() { e.expire(window, d) })
}

// expire settles the execution as timed out unless window has been closed
// since the timer was armed. A timer that fired while a step was being
// recorded is stale.
func (e *execution) expire(window uint64, limit time.Duration) bool {
	return e.settleIf(func() bool { return e.window == window }, model.StateTimedOut, nil, &boundary.Error{
		Kind:    boundary.KindTimeout,
		Message: fmt.Sprintf("limit %s", limit),
		Err:     context.DeadlineExceeded,
	})
}

// recordStep accepts an intermediate stream step unless the execution has
// already settled.
func (e *execution) recordStep(value json.RawMessage) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state.Terminal() {
		return false
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.window++
	e.steps++
	streamSteps.WithLabelValues(e.info.Task).Inc()
	e.opts.observer.OnStep(e.info, value)
	return true
}

// awaitResult settles one-shot work from the worker's single message.
func (e *execution) awaitResult() {
	f, err := e.handle.Next(e.ctx)
	if err != nil {
		e.settle(model.StateFailed, nil, err)
		return
	}

	switch f.Type {
	case wire.TypeResult:
		e.settle(model.StateCompleted, valueOrNull(f.Value), nil)
	case wire.TypeError:
		e.settle(model.StateFailed, nil, workerError(f.Error))
	default:
		e.settle(model.StateFailed, nil, protocolError(f.Type, e.info.Mode))
	}
}

func valueOrNull(v json.RawMessage) json.RawMessage {
	if len(v) == 0 {
		return json.RawMessage("null")
	}
	return v
}

func workerError(info *wire.ErrorInfo) error {
	if info == nil {
		return &boundary.Error{Kind: boundary.KindWorkerError, Message: "error frame without details"}
	}
	return &boundary.Error{Kind: boundary.KindWorkerError, Message: info.Message, Stack: info.Stack}
}

func protocolError(frameType string, mode model.Mode) error {
	return &boundary.Error{
		Kind:    boundary.KindWorkerError,
		Message: fmt.Sprintf("unexpected %q frame from %s worker", frameType, mode),
	}
}

func logLevel(state model.State) slog.Level {
	if state == model.StateCompleted {
		return slog.LevelInfo
	}
	return slog.LevelWarn
}
