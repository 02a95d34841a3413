// Package process runs each worker context as a child process speaking frames
// over its stdin and stdout. Stderr is left to the child's logger.
package process

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/seantiz/offload/internal/boundary"
	"github.com/seantiz/offload/internal/wire"
)

// Name is the registry name of the process boundary.
const Name = "process"

// Boundary spawns worker processes from a binary.
type Boundary struct {
	path   string
	args   []string
	env    []string
	stderr io.Writer
}

// Option configures a Boundary.
type Option func(*Boundary)

// WithEnv appends variables to the environment inherited by workers.
func WithEnv(env ...string) Option {
	return func(b *Boundary) { b.env = append(b.env, env...) }
}

// WithStderr sets where worker stderr is written. Defaults to os.Stderr.
func WithStderr(w io.Writer) Option {
	return func(b *Boundary) { b.stderr = w }
}

// New creates a process boundary that runs path with args for every context.
func New(path string, args []string, opts ...Option) *Boundary {
	b := &Boundary{path: path, args: args, stderr: os.Stderr}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Boundary) Name() string { return Name }

// Spawn starts a worker process and sends it req.
func (b *Boundary) Spawn(ctx context.Context, req wire.StartRequest, opts boundary.SpawnOptions) (h boundary.Handle, err error) {
	began := time.Now()
	defer func() { boundary.ObserveSpawn(Name, time.Since(began).Seconds(), err) }()

	if err := ctx.Err(); err != nil {
		return nil, boundary.SpawnError(err)
	}

	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, boundary.SpawnError(fmt.Errorf("create stdin pipe: %w", err))
	}
	stdoutR, stdoutW, err := os.Pipe()
	if err != nil {
		stdinR.Close()
		stdinW.Close()
		return nil, boundary.SpawnError(fmt.Errorf("create stdout pipe: %w", err))
	}

	// The process outlives ctx; it is bounded by the handle instead.
	cmd := exec.Command(b.path, b.args...)
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = b.stderr
	cmd.Env = append(os.Environ(), b.env...)

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{stdinR, stdinW, stdoutR, stdoutW} {
			f.Close()
		}
		return nil, boundary.SpawnError(fmt.Errorf("start %s: %w", b.path, err))
	}
	stdinR.Close()
	stdoutW.Close()

	exited := make(chan struct{})
	var code int
	go func() {
		defer close(exited)
		code = exitCode(cmd.Wait())
	}()

	ch, err := boundary.Start(boundary.ConnConfig{
		Boundary:  Name,
		ID:        opts.ID,
		Conn:      &pipeConn{r: stdoutR, w: stdinW},
		Exited:    exited,
		ExitCode:  func() int { return code },
		Kill:      func() error { return kill(cmd.Process) },
		LogWriter: opts.LogWriter,
	}, req)
	if err != nil {
		return nil, err
	}
	return ch, nil
}

func kill(p *os.Process) error {
	if err := p.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill worker process %d: %w", p.Pid, err)
	}
	return nil
}

// exitCode maps a Wait result to the process exit code. A process killed by
// a signal reports boundary.ExitCodeUnknown.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return boundary.ExitCodeUnknown
}

// pipeConn joins the parent ends of a child's stdout and stdin.
type pipeConn struct {
	r *os.File
	w *os.File
}

func (c *pipeConn) Read(p []byte) (int, error)  { return c.r.Read(p) }
func (c *pipeConn) Write(p []byte) (int, error) { return c.w.Write(p) }

func (c *pipeConn) Close() error {
	werr := c.w.Close()
	rerr := c.r.Close()
	return errors.Join(werr, rerr)
}
