package engine

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/seantiz/offload/internal/boundary"
	"github.com/seantiz/offload/internal/delegate"
	"github.com/seantiz/offload/internal/model"
)

// journal records one delegation's lifecycle in the store and publishes
// its events to the broker. Log lines arrive on the boundary's reader
// goroutine, concurrently with observer calls.
type journal struct {
	e   *Engine
	id  string
	seq atomic.Int32

	mu  sync.Mutex
	rec model.Execution
}

func newJournal(e *Engine, rec *model.Execution) *journal {
	return &journal{e: e, id: rec.ID, rec: *rec}
}

func (j *journal) OnStart(info delegate.Info) {
	now := time.Now().UTC()
	j.mu.Lock()
	j.rec.State = model.StateRunning
	j.rec.StartedAt = &now
	j.mu.Unlock()

	if err := j.e.store.UpdateExecutionState(context.Background(), info.ID, model.StateRunning); err != nil {
		j.e.logger.Error("failed to transition to running", "execution_id", info.ID, "error", err)
	}
}

func (j *journal) OnStep(info delegate.Info, value json.RawMessage) {
	j.record(info.ID, model.EventStep, string(value))
}

func (j *journal) log(line string) {
	j.record(j.id, model.EventLog, line)
}

// record persists an event for historical viewing, then publishes it for
// live subscribers.
func (j *journal) record(id, typ, data string) {
	ev := model.Event{
		ExecutionID: id,
		Seq:         int(j.seq.Add(1) - 1),
		Type:        typ,
		Data:        data,
	}
	if err := j.e.store.InsertEvent(context.Background(), &ev); err != nil {
		j.e.logger.Error("failed to persist event", "execution_id", id, "seq", ev.Seq, "error", err)
	}
	j.e.broker.Publish(ev)
}

func (j *journal) OnSettle(info delegate.Info, out delegate.Outcome) {
	defer j.e.broker.Close(info.ID)

	now := time.Now().UTC()
	dur := int(out.Duration.Milliseconds())

	j.mu.Lock()
	rec := j.rec
	j.mu.Unlock()

	rec.State = out.State
	rec.Result = out.Value
	rec.Steps = out.Steps
	rec.DurationMS = &dur
	rec.FinishedAt = &now
	if out.Err != nil {
		rec.ErrorKind = string(boundary.KindOf(out.Err))
		rec.Error = out.Err.Error()
		var be *boundary.Error
		if errors.As(out.Err, &be) && be.Kind == boundary.KindWorkerCrashed {
			code := be.ExitCode
			rec.ExitCode = &code
		}
	}

	if err := j.e.store.UpdateExecution(context.Background(), &rec); err != nil {
		j.e.logger.Error("failed to record settled execution", "execution_id", info.ID, "state", out.State, "error", err)
	}
}
