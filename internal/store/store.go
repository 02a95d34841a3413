package store

import (
	"context"
	"errors"

	"github.com/seantiz/offload/internal/model"
)

var (
	// ErrNotFound is returned when an execution is not in the journal.
	ErrNotFound = errors.New("execution not found")

	// ErrInvalidTransition is returned when an execution state change is not allowed.
	ErrInvalidTransition = errors.New("invalid state transition")
)

// ExecutionStats holds aggregate delegation statistics.
type ExecutionStats struct {
	Total           int            `json:"total"`
	CountByState    map[string]int `json:"count_by_state"`
	CountByTask     map[string]int `json:"count_by_task"`
	CountByBoundary map[string]int `json:"count_by_boundary"`
	AvgDurationMS   float64        `json:"avg_duration_ms"`
	TotalSteps      int            `json:"total_steps"`
}

// Store is the execution journal. It records what happened to each
// delegation for inspection; nothing is ever resumed from it.
type Store interface {
	CreateExecution(ctx context.Context, e *model.Execution) error
	GetExecution(ctx context.Context, id string) (*model.Execution, error)
	ListExecutions(ctx context.Context, limit, offset int) ([]*model.Execution, int, error)
	UpdateExecutionState(ctx context.Context, id string, state model.State) error
	UpdateExecution(ctx context.Context, e *model.Execution) error
	GetExecutionStats(ctx context.Context) (*ExecutionStats, error)
	InsertEvent(ctx context.Context, ev *model.Event) error
	GetEvents(ctx context.Context, executionID string) ([]model.Event, error)
	Close() error
}
