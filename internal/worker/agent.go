// Package worker implements the worker side of an isolation boundary. An Agent
// serves one work unit per connection: it reads the start frame, binds the
// context and capabilities, runs the registered task, and exchanges step and
// resume frames with the host until the work settles.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime"
	"runtime/debug"
	"sync"

	"github.com/seantiz/offload/internal/capability"
	"github.com/seantiz/offload/internal/model"
	"github.com/seantiz/offload/internal/task"
	"github.com/seantiz/offload/internal/wire"
)

// Exit codes reported by ServeConn.
const (
	ExitOK       = 0
	ExitProtocol = 2
)

// errHostGone is returned from a yield when the host closed the connection.
var errHostGone = errors.New("host closed the connection")

// Agent runs work units received over connections.
type Agent struct {
	tasks  *task.Registry
	caps   *capability.Registry
	logger *slog.Logger
	exit   func(code int)
}

// Option configures an Agent.
type Option func(*Agent)

// WithLogger sets the agent's logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) { a.logger = l }
}

// WithExitFunc replaces how Env.Exit ends the worker. The process worker
// passes os.Exit; the default unwinds only the task goroutine.
func WithExitFunc(fn func(code int)) Option {
	return func(a *Agent) { a.exit = fn }
}

// New creates an agent serving tasks with the given capability modules.
func New(tasks *task.Registry, caps *capability.Registry, opts ...Option) *Agent {
	a := &Agent{
		tasks:  tasks,
		caps:   caps,
		logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.caps == nil {
		a.caps = capability.NewRegistry()
	}
	return a
}

// Serve accepts connections and serves one work unit on each. It blocks until
// the listener is closed or an unrecoverable error occurs.
func (a *Agent) Serve(l net.Listener) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			return fmt.Errorf("accept: %w", err)
		}
		go func() {
			code := a.ServeConn(conn)
			a.logger.Debug("work unit finished", "remote", conn.RemoteAddr().String(), "exit_code", code)
		}()
	}
}

// session is the per-connection state of one work unit.
type session struct {
	conn    io.ReadWriteCloser
	writeMu sync.Mutex
	resumes chan json.RawMessage
	logger  *slog.Logger
}

func (s *session) send(f *wire.Frame) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return wire.WriteMessage(s.conn, f)
}

func (s *session) sendError(info wire.ErrorInfo) {
	if err := s.send(&wire.Frame{Type: wire.TypeError, Error: &info}); err != nil {
		s.logger.Debug("write error frame", "error", err)
	}
}

// ServeConn runs a single work unit on conn and returns the worker's exit
// code. conn is closed on return.
func (a *Agent) ServeConn(conn io.ReadWriteCloser) int {
	defer conn.Close()

	s := &session{
		conn:    conn,
		resumes: make(chan json.RawMessage, 1),
		logger:  a.logger,
	}

	var start wire.Frame
	if err := wire.ReadMessage(conn, &start); err != nil {
		a.logger.Warn("read start frame", "error", err)
		return ExitProtocol
	}
	if start.Type != wire.TypeStart || start.Start == nil {
		s.sendError(wire.ErrorInfo{Message: fmt.Sprintf("expected start frame, got %q", start.Type)})
		return ExitProtocol
	}
	req := start.Start

	def, err := a.tasks.Lookup(req.Task)
	if err != nil {
		s.sendError(wire.ErrorInfo{Message: err.Error()})
		return ExitOK
	}
	if string(def.Mode) != req.Mode {
		s.sendError(wire.ErrorInfo{Message: fmt.Sprintf("task %q runs in %s mode, requested %s", def.Name, def.Mode, req.Mode)})
		return ExitOK
	}

	caps, err := a.caps.Materialize(req.Bindings)
	if err != nil {
		s.sendError(wire.ErrorInfo{Message: fmt.Sprintf("bind capabilities: %v", err)})
		return ExitOK
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The reader is the only sender on resumes, so it owns closing it.
	// Any read failure means the host went away or terminated us.
	go func() {
		defer cancel()
		defer close(s.resumes)
		for {
			var f wire.Frame
			if err := wire.ReadMessage(conn, &f); err != nil {
				return
			}
			if f.Type != wire.TypeResume {
				a.logger.Warn("unexpected frame from host", "type", f.Type)
				return
			}
			select {
			case s.resumes <- f.Value:
			case <-ctx.Done():
				return
			}
		}
	}()

	exitCode := ExitOK
	exitFn := a.exit
	if exitFn == nil {
		exitFn = func(code int) {
			exitCode = code
			runtime.Goexit()
		}
	}

	env := task.NewEnv(task.EnvConfig{
		Vars:         req.Context,
		Capabilities: caps,
		Log: func(line string) {
			if err := s.send(&wire.Frame{Type: wire.TypeLog, Line: line}); err != nil {
				a.logger.Debug("write log frame", "error", err)
			}
		},
		Exit: exitFn,
	})

	out := a.run(ctx, s, def, env, task.Args(req.Args))
	if out.exited {
		return exitCode
	}
	if ctx.Err() != nil && out.err != nil {
		// Terminated by the host; nobody is listening for the outcome.
		return ExitOK
	}

	if out.err != nil {
		info := wire.ErrorInfo{Message: out.err.Error(), Stack: out.stack}
		s.sendError(info)
		return ExitOK
	}

	value, err := wire.Encode(out.value)
	if err != nil {
		s.sendError(wire.ErrorInfo{Message: err.Error()})
		return ExitOK
	}

	final := wire.Frame{Type: wire.TypeResult, Value: value}
	if def.Mode == model.ModeStream {
		final = wire.Frame{Type: wire.TypeStep, Value: value, Done: true}
	}
	if err := s.send(&final); err != nil {
		a.logger.Debug("write final frame", "error", err)
	}
	return ExitOK
}

// outcome is what a task goroutine produced.
type outcome struct {
	value  any
	err    error
	stack  string
	exited bool
}

// run executes the task on its own goroutine so that a panic or an Env.Exit
// unwinds only the task.
func (a *Agent) run(ctx context.Context, s *session, def task.Definition, env *task.Env, args task.Args) outcome {
	done := make(chan outcome, 1)

	go func() {
		var out outcome
		finished := false
		defer func() {
			if r := recover(); r != nil {
				out = outcome{err: fmt.Errorf("panic: %v", r), stack: string(debug.Stack())}
				finished = true
			}
			if !finished {
				out.exited = true
			}
			done <- out
		}()

		if def.Mode == model.ModeStream {
			y := task.NewYielder(func(yctx context.Context, value json.RawMessage) (json.RawMessage, error) {
				if err := s.send(&wire.Frame{Type: wire.TypeStep, Value: value}); err != nil {
					return nil, fmt.Errorf("send step: %w", err)
				}
				select {
				case v, ok := <-s.resumes:
					if !ok {
						return nil, errHostGone
					}
					return v, nil
				case <-yctx.Done():
					return nil, yctx.Err()
				}
			})
			out.value, out.err = def.RunStream(ctx, env, args, y)
		} else {
			out.value, out.err = def.Run(ctx, env, args)
		}
		finished = true
	}()

	return <-done
}
