// Package local runs worker contexts as goroutines inside the host process.
// The host and the worker share no memory: every value crosses an in-memory
// pipe as a JSON frame.
//
// A goroutine cannot be killed. Terminate closes the pipe, which cancels the
// work's context; work that ignores its context is abandoned and the handle
// settles regardless.
package local

import (
	"context"
	"net"
	"time"

	"github.com/seantiz/offload/internal/boundary"
	"github.com/seantiz/offload/internal/wire"
	"github.com/seantiz/offload/internal/worker"
)

// Name is the registry name of the local boundary.
const Name = "local"

// Boundary spawns goroutine workers served by an agent.
type Boundary struct {
	agent *worker.Agent
}

// New creates a local boundary running work on agent.
func New(agent *worker.Agent) *Boundary {
	return &Boundary{agent: agent}
}

func (b *Boundary) Name() string { return Name }

// Spawn starts a goroutine serving req over a fresh pipe.
func (b *Boundary) Spawn(_ context.Context, req wire.StartRequest, opts boundary.SpawnOptions) (h boundary.Handle, err error) {
	began := time.Now()
	defer func() { boundary.ObserveSpawn(Name, time.Since(began).Seconds(), err) }()

	host, work := net.Pipe()
	exited := make(chan struct{})
	var code int
	go func() {
		defer close(exited)
		code = b.agent.ServeConn(work)
	}()

	ch, err := boundary.Start(boundary.ConnConfig{
		Boundary:  Name,
		ID:        opts.ID,
		Conn:      host,
		Exited:    exited,
		ExitCode:  func() int { return code },
		LogWriter: opts.LogWriter,
	}, req)
	if err != nil {
		return nil, err
	}
	return ch, nil
}
