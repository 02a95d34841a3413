package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/seantiz/offload/internal/model"
)

var (
	// ErrUnknownTask is returned when a task name is not registered.
	ErrUnknownTask = errors.New("unknown task")

	// ErrUnbound is returned by Env.Var for a name missing from the context.
	ErrUnbound = errors.New("variable not bound")
)

// Func is a one-shot handler. Its return value is the execution's result.
type Func func(ctx context.Context, env *Env, args Args) (any, error)

// StreamFunc is a streaming handler. Each y.Yield produces one step; the
// return value completes the stream.
type StreamFunc func(ctx context.Context, env *Env, args Args, y *Yielder) (any, error)

// Definition is a registered task.
type Definition struct {
	Name        string     `json:"name"`
	Mode        model.Mode `json:"mode"`
	Description string     `json:"description,omitempty"`

	fn     Func
	stream StreamFunc
}

// Run invokes a one-shot definition.
func (d Definition) Run(ctx context.Context, env *Env, args Args) (any, error) {
	if d.fn == nil {
		return nil, fmt.Errorf("task %q is not a one-shot task", d.Name)
	}
	return d.fn(ctx, env, args)
}

// RunStream invokes a streaming definition.
func (d Definition) RunStream(ctx context.Context, env *Env, args Args, y *Yielder) (any, error) {
	if d.stream == nil {
		return nil, fmt.Errorf("task %q is not a stream task", d.Name)
	}
	return d.stream(ctx, env, args, y)
}

// Registry maps task names to handlers. It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	defs map[string]Definition
}

// NewRegistry creates an empty task registry.
func NewRegistry() *Registry {
	return &Registry{defs: make(map[string]Definition)}
}

// Register adds a one-shot task.
func (r *Registry) Register(name, description string, fn Func) {
	r.add(Definition{Name: name, Mode: model.ModeOneShot, Description: description, fn: fn})
}

// RegisterStream adds a streaming task.
func (r *Registry) RegisterStream(name, description string, fn StreamFunc) {
	r.add(Definition{Name: name, Mode: model.ModeStream, Description: description, stream: fn})
}

func (r *Registry) add(d Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[d.Name] = d
}

// Lookup returns the definition registered under name.
func (r *Registry) Lookup(name string) (Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[name]
	if !ok {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnknownTask, name)
	}
	return d, nil
}

// List returns all definitions sorted by name.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Unit builds a work unit for the named task with its registered mode.
func (r *Registry) Unit(name string, args ...any) (model.WorkUnit, error) {
	d, err := r.Lookup(name)
	if err != nil {
		return model.WorkUnit{}, err
	}
	return model.WorkUnit{Task: d.Name, Mode: d.Mode, Args: args}, nil
}

// Args are the positional arguments of a work unit, still JSON-encoded.
type Args []json.RawMessage

// Decode decodes argument i into v.
func (a Args) Decode(i int, v any) error {
	if i < 0 || i >= len(a) {
		return fmt.Errorf("argument %d: out of range (have %d)", i, len(a))
	}
	if err := json.Unmarshal(a[i], v); err != nil {
		return fmt.Errorf("argument %d: %w", i, err)
	}
	return nil
}

// Bind decodes the leading arguments into vs, in order.
func (a Args) Bind(vs ...any) error {
	for i, v := range vs {
		if err := a.Decode(i, v); err != nil {
			return err
		}
	}
	return nil
}
