package delegate

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/seantiz/offload/internal/boundary"
	"github.com/seantiz/offload/internal/model"
)

// Future is the pending result of one-shot work.
type Future struct {
	e *execution
}

// ID returns the execution ID.
func (f *Future) ID() string { return f.e.info.ID }

// Done is closed once the future has settled.
func (f *Future) Done() <-chan struct{} { return f.e.done }

// State reports the current state.
func (f *Future) State() model.State {
	state, _, _ := f.e.outcome()
	return state
}

// Await blocks until the future settles and returns the worker's value as
// JSON, or the terminal error. ctx only bounds the wait; it does not cancel
// the work.
func (f *Future) Await(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-f.e.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	_, value, err := f.e.outcome()
	return value, err
}

// AwaitInto awaits the value and decodes it into v.
func (f *Future) AwaitInto(ctx context.Context, v any) error {
	raw, err := f.Await(ctx)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode result: %w", err)
	}
	return nil
}

// Cancel settles the future as cancelled and terminates its worker. It has
// no effect once the future has settled.
func (f *Future) Cancel() {
	f.e.settle(model.StateCancelled, nil, &boundary.Error{Kind: boundary.KindCancelled, Err: context.Canceled})
}
