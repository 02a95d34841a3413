// Package socket reaches worker agents that are already running, for example
// inside a microVM, over a stream socket. Each spawn opens one connection and
// the agent serves one work unit on it.
//
// Terminate closes the connection, and the agent cancels the work. The exit
// code of a remote context cannot be observed.
package socket

import (
	"context"
	"time"

	"github.com/seantiz/offload/internal/boundary"
	"github.com/seantiz/offload/internal/wire"
)

// Name is the registry name of the socket boundary.
const Name = "socket"

// Boundary dials a worker agent for every context.
type Boundary struct {
	addr    string
	retries int
	backoff time.Duration
}

// Option configures a Boundary.
type Option func(*Boundary)

// WithRetry sets the number of dial attempts and the initial backoff, which
// doubles after each failure.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(b *Boundary) {
		b.retries = attempts
		b.backoff = backoff
	}
}

// New creates a socket boundary for addr, one of "unix:<path>",
// "tcp:<host:port>", "vsock:<cid>:<port>" or "firecracker:<uds path>:<port>".
// The firecracker form speaks the CONNECT handshake of Firecracker's
// vsock-over-UDS bridge.
func New(addr string, opts ...Option) *Boundary {
	b := &Boundary{addr: addr, retries: dialMaxRetries, backoff: dialBaseBackoff}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Boundary) Name() string { return Name }

// Spawn connects to the agent and sends it req.
func (b *Boundary) Spawn(ctx context.Context, req wire.StartRequest, opts boundary.SpawnOptions) (h boundary.Handle, err error) {
	began := time.Now()
	defer func() { boundary.ObserveSpawn(Name, time.Since(began).Seconds(), err) }()

	conn, err := Dial(ctx, b.addr, b.retries, b.backoff)
	if err != nil {
		return nil, boundary.SpawnError(err)
	}

	ch, err := boundary.Start(boundary.ConnConfig{
		Boundary:  Name,
		ID:        opts.ID,
		Conn:      conn,
		LogWriter: opts.LogWriter,
	}, req)
	if err != nil {
		return nil, err
	}
	return ch, nil
}
