package boundary

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/offload/internal/wire"
)

// exitGrace bounds how long a handle waits for an exit code once its
// connection has closed.
const exitGrace = 5 * time.Second

var errTerminated = errors.New("worker context terminated")

// ConnConfig describes a worker context reachable over a frame connection.
type ConnConfig struct {
	Boundary string
	ID       string
	Conn     io.ReadWriteCloser

	// Exited is closed when the context exits, after which ExitCode reports
	// its code. When nil the exit is observed only as the connection closing.
	Exited   <-chan struct{}
	ExitCode func() int

	// Kill forcibly stops the context. Optional.
	Kill func() error

	LogWriter func(line string)
}

// ConnHandle is a Handle over a frame connection. A single reader goroutine
// pumps frames in arrival order; log frames go to the LogWriter.
type ConnHandle struct {
	cfg ConnConfig

	frames  chan wire.Frame
	err     error // written before frames is closed
	stopped chan struct{}
	done    chan struct{}

	writeMu    sync.Mutex
	termOnce   sync.Once
	doneOnce   sync.Once
	terminated atomic.Bool
}

// Start sends req as the start frame and returns a handle reading the
// context's frames. On failure the context is killed and a SpawnFailure
// Error is returned.
func Start(cfg ConnConfig, req wire.StartRequest) (*ConnHandle, error) {
	if err := wire.WriteMessage(cfg.Conn, wire.Frame{Type: wire.TypeStart, Start: &req}); err != nil {
		cfg.Conn.Close()
		if cfg.Kill != nil {
			cfg.Kill()
		}
		return nil, SpawnError(fmt.Errorf("send start frame: %w", err))
	}
	return NewConnHandle(cfg), nil
}

// NewConnHandle starts reading frames from cfg.Conn.
func NewConnHandle(cfg ConnConfig) *ConnHandle {
	h := &ConnHandle{
		cfg:     cfg,
		frames:  make(chan wire.Frame),
		stopped: make(chan struct{}),
		done:    make(chan struct{}),
	}

	activeContexts.WithLabelValues(cfg.Boundary).Inc()
	go h.read()
	if cfg.Exited != nil {
		go func() {
			<-cfg.Exited
			h.finish()
		}()
	}
	return h
}

func (h *ConnHandle) read() {
	defer close(h.frames)
	for {
		var f wire.Frame
		if err := wire.ReadMessage(h.cfg.Conn, &f); err != nil {
			h.err = h.exitError()
			if h.cfg.Exited == nil {
				h.finish()
			}
			return
		}

		if f.Type == wire.TypeLog {
			if h.cfg.LogWriter != nil {
				h.cfg.LogWriter(f.Line)
			}
			continue
		}

		select {
		case h.frames <- f:
		case <-h.stopped:
			h.err = CrashError(ExitCodeUnknown, errTerminated)
			return
		}
	}
}

// exitError describes a context whose connection closed without a frame.
// The exit code is awaited briefly unless the handle was terminated.
func (h *ConnHandle) exitError() error {
	if h.terminated.Load() {
		return CrashError(h.ExitCode(), errTerminated)
	}
	if h.cfg.Exited != nil {
		timer := time.NewTimer(exitGrace)
		defer timer.Stop()
		select {
		case <-h.cfg.Exited:
		case <-h.stopped:
		case <-timer.C:
		}
	}
	return CrashError(h.ExitCode(), nil)
}

func (h *ConnHandle) finish() {
	h.doneOnce.Do(func() {
		activeContexts.WithLabelValues(h.cfg.Boundary).Dec()
		close(h.done)
	})
}

func (h *ConnHandle) ID() string { return h.cfg.ID }

// Next returns the next step, result or error frame.
func (h *ConnHandle) Next(ctx context.Context) (wire.Frame, error) {
	select {
	case f, ok := <-h.frames:
		if !ok {
			return wire.Frame{}, h.err
		}
		return f, nil
	case <-ctx.Done():
		return wire.Frame{}, ctx.Err()
	}
}

// Post sends a resume frame.
func (h *ConnHandle) Post(value json.RawMessage) error {
	h.writeMu.Lock()
	defer h.writeMu.Unlock()

	if h.terminated.Load() {
		return errTerminated
	}
	if err := wire.WriteMessage(h.cfg.Conn, wire.Frame{Type: wire.TypeResume, Value: value}); err != nil {
		return fmt.Errorf("post resume: %w", err)
	}
	return nil
}

// Terminate closes the connection and kills the context.
func (h *ConnHandle) Terminate() error {
	var err error
	h.termOnce.Do(func() {
		h.terminated.Store(true)
		close(h.stopped)
		h.cfg.Conn.Close()
		if h.cfg.Kill != nil {
			err = h.cfg.Kill()
		}
		h.finish()
	})
	return err
}

func (h *ConnHandle) Done() <-chan struct{} { return h.done }

func (h *ConnHandle) ExitCode() int {
	if h.cfg.Exited == nil || h.cfg.ExitCode == nil {
		return ExitCodeUnknown
	}
	select {
	case <-h.cfg.Exited:
		return h.cfg.ExitCode()
	default:
		return ExitCodeUnknown
	}
}
