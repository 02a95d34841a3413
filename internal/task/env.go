package task

import (
	"context"
	"encoding/json"
	"fmt"
)

// Env is the namespace a handler runs in: context variables injected by the
// caller and capability references bound before the work began.
type Env struct {
	vars map[string]json.RawMessage
	caps map[string]any
	log  func(string)
	exit func(int)
}

// EnvConfig configures a new Env. Workers build one per work unit.
type EnvConfig struct {
	Vars         map[string]json.RawMessage
	Capabilities map[string]any
	Log          func(line string)
	Exit         func(code int)
}

// NewEnv creates an Env.
func NewEnv(cfg EnvConfig) *Env {
	return &Env{
		vars: cfg.Vars,
		caps: cfg.Capabilities,
		log:  cfg.Log,
		exit: cfg.Exit,
	}
}

// Var decodes the context variable name into v.
func (e *Env) Var(name string, v any) error {
	raw, ok := e.vars[name]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnbound, name)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode variable %q: %w", name, err)
	}
	return nil
}

// Capability returns the reference bound under alias.
func (e *Env) Capability(alias string) (any, bool) {
	v, ok := e.caps[alias]
	return v, ok
}

// Logf emits a log line to the host.
func (e *Env) Logf(format string, args ...any) {
	if e.log != nil {
		e.log(fmt.Sprintf(format, args...))
	}
}

// Exit ends the worker context with code without producing a result.
// It does not return when the worker supports it.
func (e *Env) Exit(code int) {
	if e.exit != nil {
		e.exit(code)
	}
}

// Yielder hands step values to the host and receives resume values back.
type Yielder struct {
	yield func(ctx context.Context, value json.RawMessage) (json.RawMessage, error)
}

// NewYielder wraps the worker's step exchange.
func NewYielder(fn func(ctx context.Context, value json.RawMessage) (json.RawMessage, error)) *Yielder {
	return &Yielder{yield: fn}
}

// Yield sends v as the next step and blocks until the host resumes the
// stream. A non-null resume value is decoded into resume when it is non-nil.
func (y *Yielder) Yield(ctx context.Context, v any, resume any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode step: %w", err)
	}
	raw, err := y.yield(ctx, data)
	if err != nil {
		return err
	}
	if resume == nil || len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	if err := json.Unmarshal(raw, resume); err != nil {
		return fmt.Errorf("decode resume value: %w", err)
	}
	return nil
}
