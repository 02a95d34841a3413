package delegate

import (
	"log/slog"
	"time"

	"github.com/seantiz/offload/internal/boundary"
	"github.com/seantiz/offload/internal/capability"
	"github.com/seantiz/offload/internal/task"
)

// ControllerOption configures a Controller.
type ControllerOption func(*Controller)

// WithTasks enables host-side validation: unknown tasks and mode mismatches
// fail before any boundary is spawned.
func WithTasks(reg *task.Registry) ControllerOption {
	return func(c *Controller) { c.tasks = reg }
}

// WithCapabilities resolves capability bindings against reg before spawning.
// Without it bindings are only parsed.
func WithCapabilities(reg *capability.Registry) ControllerOption {
	return func(c *Controller) { c.caps = reg }
}

// WithDefaultTimeout applies d to calls that set no timeout of their own.
func WithDefaultTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) { c.timeout = d }
}

// WithLogger sets the controller's logger.
func WithLogger(l *slog.Logger) ControllerOption {
	return func(c *Controller) { c.logger = l }
}

// Option configures a single delegation.
type Option func(*callOptions)

type callOptions struct {
	timeout   time.Duration
	onStart   func(boundary.Handle)
	boundary  string
	id        string
	observer  Observer
	logWriter func(string)
}

// WithTimeout bounds each wait for a worker message. Zero disables the
// limit unless the controller has a default.
func WithTimeout(d time.Duration) Option {
	return func(o *callOptions) { o.timeout = d }
}

// WithOnStart registers fn to run once, right after the worker context is
// spawned and before the first message is awaited.
func WithOnStart(fn func(boundary.Handle)) Option {
	return func(o *callOptions) { o.onStart = fn }
}

// WithBoundary selects a registered boundary by name.
func WithBoundary(name string) Option {
	return func(o *callOptions) { o.boundary = name }
}

// WithID sets the execution ID instead of generating one.
func WithID(id string) Option {
	return func(o *callOptions) { o.id = id }
}

// WithObserver receives the lifecycle of the delegation.
func WithObserver(obs Observer) Option {
	return func(o *callOptions) { o.observer = obs }
}

// WithLogWriter receives log lines emitted by the work.
func WithLogWriter(fn func(line string)) Option {
	return func(o *callOptions) { o.logWriter = fn }
}
