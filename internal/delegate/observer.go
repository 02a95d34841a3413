package delegate

import (
	"encoding/json"
	"time"

	"github.com/seantiz/offload/internal/model"
)

// Info identifies a delegation to an Observer.
type Info struct {
	ID       string
	Task     string
	Mode     model.Mode
	Boundary string
}

// Outcome is how a delegation settled.
type Outcome struct {
	State    model.State
	Value    json.RawMessage
	Err      error
	Steps    int
	Duration time.Duration
}

// Observer receives the lifecycle of one delegation. OnSettle is called
// exactly once, including for calls that fail before a worker is spawned;
// OnStart only once a worker context exists. Calls never overlap and
// OnSettle is always the last. Observers run on the delegation's goroutines
// and must not call back into it.
type Observer interface {
	OnStart(info Info)
	OnStep(info Info, value json.RawMessage)
	OnSettle(info Info, outcome Outcome)
}

type nopObserver struct{}

func (nopObserver) OnStart(Info)                 {}
func (nopObserver) OnStep(Info, json.RawMessage) {}
func (nopObserver) OnSettle(Info, Outcome)       {}
