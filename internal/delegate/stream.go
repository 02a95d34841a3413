package delegate

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"sync"

	"github.com/seantiz/offload/internal/boundary"
	"github.com/seantiz/offload/internal/model"
	"github.com/seantiz/offload/internal/wire"
)

// Step is one value produced by stream work. The step with Done set carries
// the work's return value.
type Step struct {
	Value json.RawMessage
	Done  bool
}

// Stream is a bidirectional handle on stream work. It is not restartable.
type Stream struct {
	e *execution

	mu      sync.Mutex
	started bool
}

// ID returns the execution ID.
func (s *Stream) ID() string { return s.e.info.ID }

// Done is closed once the stream has settled.
func (s *Stream) Done() <-chan struct{} { return s.e.done }

// State reports the current state.
func (s *Stream) State() model.State {
	state, _, _ := s.e.outcome()
	return state
}

// Steps reports how many intermediate steps have been delivered.
func (s *Stream) Steps() int {
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	return s.e.steps
}

// Next sends resume to the worker and returns its next step. The first call
// has nothing to resume, so its resume value is discarded. After the final
// step Next returns a Done step without a value; after a failure it returns
// the terminal error. Cancelling ctx cancels the stream. Concurrent calls
// are served one at a time.
func (s *Stream) Next(ctx context.Context, resume any) (Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.e
	if state, _, err := e.outcome(); state.Terminal() {
		if state == model.StateCompleted {
			return Step{Done: true}, nil
		}
		return Step{}, err
	}

	if s.started {
		raw, err := wire.Encode(resume)
		if err != nil {
			return Step{}, fmt.Errorf("encode resume: %w", err)
		}
		e.armTimer()
		// A failed post surfaces as a crash on the await below.
		_ = e.handle.Post(raw)
	} else {
		s.started = true
		e.armTimer()
	}

	return s.await(ctx)
}

func (s *Stream) await(ctx context.Context) (Step, error) {
	e := s.e
	f, err := e.handle.Next(ctx)
	if err != nil {
		if ctx.Err() != nil {
			e.settle(model.StateCancelled, nil, cancelError(ctx))
		} else {
			e.settle(model.StateFailed, nil, err)
		}
		return Step{}, e.failure()
	}

	switch {
	case f.Type == wire.TypeStep && !f.Done:
		if !e.recordStep(f.Value) {
			return Step{}, e.failure()
		}
		return Step{Value: valueOrNull(f.Value)}, nil
	case f.Type == wire.TypeStep:
		v := valueOrNull(f.Value)
		if !e.settle(model.StateCompleted, v, nil) {
			return Step{}, e.failure()
		}
		return Step{Value: v, Done: true}, nil
	case f.Type == wire.TypeError:
		e.settle(model.StateFailed, nil, workerError(f.Error))
	default:
		e.settle(model.StateFailed, nil, protocolError(f.Type, e.info.Mode))
	}
	return Step{}, e.failure()
}

// All iterates the remaining intermediate steps, resuming each with null.
// The iteration ends at completion; the return value is then available from
// Result. An error ends it after being yielded. Breaking out of the loop
// closes the stream.
func (s *Stream) All(ctx context.Context) iter.Seq2[json.RawMessage, error] {
	return func(yield func(json.RawMessage, error) bool) {
		for {
			step, err := s.Next(ctx, nil)
			if err != nil {
				yield(nil, err)
				return
			}
			if step.Done {
				return
			}
			if !yield(step.Value, nil) {
				s.Close()
				return
			}
		}
	}
}

// Result returns the return value of completed work or the terminal error.
// It returns ErrRunning before the stream settles.
func (s *Stream) Result() (json.RawMessage, error) {
	state, value, err := s.e.outcome()
	if !state.Terminal() {
		return nil, ErrRunning
	}
	return value, err
}

// Close cancels the stream and terminates its worker. It has no effect once
// the stream has settled.
func (s *Stream) Close() error {
	s.e.settle(model.StateCancelled, nil, &boundary.Error{Kind: boundary.KindCancelled, Err: context.Canceled})
	return nil
}
