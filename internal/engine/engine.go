package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/seantiz/offload/internal/delegate"
	"github.com/seantiz/offload/internal/model"
	"github.com/seantiz/offload/internal/store"
)

// ErrNotRunning is returned when cancelling an execution that is not in
// flight.
var ErrNotRunning = errors.New("execution not running")

// Request is a delegation submitted to the engine.
type Request struct {
	Unit     model.WorkUnit
	Boundary string
	Timeout  time.Duration
}

// Engine runs delegations and journals them.
type Engine struct {
	ctrl            *delegate.Controller
	store           store.Store
	defaultBoundary string
	logger          *slog.Logger
	broker          *EventBroker
	wg              sync.WaitGroup

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewEngine creates an engine delegating through ctrl. defaultBoundary is
// recorded for requests that name no boundary.
func NewEngine(ctrl *delegate.Controller, s store.Store, defaultBoundary string, logger *slog.Logger) *Engine {
	return &Engine{
		ctrl:            ctrl,
		store:           s,
		defaultBoundary: defaultBoundary,
		logger:          logger,
		broker:          NewEventBroker(),
		running:         make(map[string]context.CancelFunc),
	}
}

// Broker returns the engine's event broker for SSE subscription.
func (e *Engine) Broker() *EventBroker {
	return e.broker
}

// Run delegates req and blocks until it settles. Stream work is drained,
// each step resumed with null. The returned record is the settled journal
// entry; a failed delegation is reported through its state, not the error.
func (e *Engine) Run(ctx context.Context, req Request) (*model.Execution, error) {
	rec, err := e.create(ctx, req)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.track(rec.ID, cancel)
	e.execute(runCtx, rec, req)

	return e.store.GetExecution(context.WithoutCancel(ctx), rec.ID)
}

// Submit records req and delegates it in the background. The record is
// stored in the created state before Submit returns.
func (e *Engine) Submit(ctx context.Context, req Request) (*model.Execution, error) {
	rec, err := e.create(ctx, req)
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	e.track(rec.ID, cancel)
	recCopy := *rec
	e.wg.Go(func() {
		e.execute(runCtx, &recCopy, req)
	})

	return rec, nil
}

// Cancel cancels an in-flight execution. The execution settles as
// cancelled unless it settles some other way first.
func (e *Engine) Cancel(id string) error {
	e.mu.Lock()
	cancel, ok := e.running[id]
	e.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, id)
	}
	cancel()
	return nil
}

// Wait blocks until all submitted executions settle.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// Running reports how many executions are in flight.
func (e *Engine) Running() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.running)
}

func (e *Engine) create(ctx context.Context, req Request) (*model.Execution, error) {
	args, err := json.Marshal(req.Unit.Args)
	if err != nil {
		return nil, fmt.Errorf("encode args: %w", err)
	}
	rec := &model.Execution{
		ID:        model.NewID(),
		Task:      req.Unit.Task,
		Mode:      e.ctrl.ModeOf(req.Unit),
		Boundary:  req.Boundary,
		State:     model.StateCreated,
		Args:      args,
		CreatedAt: time.Now().UTC(),
	}
	if rec.Boundary == "" {
		rec.Boundary = e.defaultBoundary
	}
	if len(req.Unit.Context) > 0 {
		if rec.Context, err = json.Marshal(req.Unit.Context); err != nil {
			return nil, fmt.Errorf("encode context: %w", err)
		}
	}
	if req.Timeout > 0 {
		ms := int(req.Timeout.Milliseconds())
		rec.TimeoutMS = &ms
	}

	if err := e.store.CreateExecution(ctx, rec); err != nil {
		return nil, fmt.Errorf("create execution: %w", err)
	}
	return rec, nil
}

func (e *Engine) track(id string, cancel context.CancelFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running[id] = cancel
}

func (e *Engine) untrack(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cancel, ok := e.running[id]; ok {
		cancel()
		delete(e.running, id)
	}
}

// execute delegates the unit behind rec and waits for it to settle. The
// journal observer records every transition.
func (e *Engine) execute(ctx context.Context, rec *model.Execution, req Request) {
	defer e.untrack(rec.ID)

	j := newJournal(e, rec)
	opts := []delegate.Option{
		delegate.WithID(rec.ID),
		delegate.WithObserver(j),
		delegate.WithLogWriter(j.log),
	}
	if req.Boundary != "" {
		opts = append(opts, delegate.WithBoundary(req.Boundary))
	}
	if req.Timeout > 0 {
		opts = append(opts, delegate.WithTimeout(req.Timeout))
	}

	unit := req.Unit
	unit.Mode = rec.Mode
	res, err := e.ctrl.Delegate(ctx, unit, opts...)
	if err != nil {
		// Already settled and journalled.
		return
	}

	switch {
	case res.Future != nil:
		_, _ = res.Future.Await(context.Background())
	case res.Stream != nil:
		for _, err := range res.Stream.All(ctx) {
			if err != nil {
				break
			}
		}
	}
}
