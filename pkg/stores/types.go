package stores

import (
	"context"
	"errors"
	"time"

	"github.com/declabill/declabill/pkg/engine"
)

// ErrNotFound is returned when a run or snapshot does not exist.
var ErrNotFound = errors.New("not found")

// RunStatus represents the status of a journaled run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// OperationStatus is the outcome of one journaled decision.
type OperationStatus string

const (
	OperationStatusSucceeded OperationStatus = "succeeded"
	OperationStatusFailed    OperationStatus = "failed"
)

// Run is one CLI invocation that talked to the provider.
type Run struct {
	ID          string     `json:"id"`
	Command     string     `json:"command"`          // apply, watch, invoice.open, ...
	Source      string     `json:"source,omitempty"` // desired-state document path
	Mode        string     `json:"mode,omitempty"`
	Status      RunStatus  `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Error       *string    `json:"error,omitempty"`
	Summary     *string    `json:"summary,omitempty"` // JSON blob
}

// Operation is one engine decision.
type Operation struct {
	ID             string          `json:"id"`
	RunID          *string         `json:"run_id,omitempty"`
	Kind           string          `json:"kind"`
	EntityID       string          `json:"entity_id,omitempty"`
	UniqueKey      string          `json:"unique_key,omitempty"`
	Action         string          `json:"action"`
	Detail         string          `json:"detail,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Status         OperationStatus `json:"status"`
	Error          *string         `json:"error,omitempty"`
	DurationMS     int64           `json:"duration_ms"`
	CreatedAt      time.Time       `json:"created_at"`
}

// Snapshot is the last state applied to one entity.
type Snapshot struct {
	Kind      string    `json:"kind"`
	UniqueKey string    `json:"unique_key"`
	EntityID  string    `json:"entity_id"`
	State     string    `json:"state"` // JSON blob
	Hash      string    `json:"hash"`  // BLAKE2b-256 of State
	RunID     *string   `json:"run_id,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// OperationFilter narrows ListOperations. Nil fields match everything.
type OperationFilter struct {
	RunID    *string
	Kind     *string
	EntityID *string
	Action   *string
	Limit    int
	Offset   int
}

// Store defines the interface for the journal persistence layer
type Store interface {
	engine.Journal

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	FinishRun(ctx context.Context, id string, status RunStatus, errMsg *string, summary *string) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Operation operations
	AppendOperation(ctx context.Context, op *Operation) error
	ListOperations(ctx context.Context, filter OperationFilter) ([]*Operation, error)

	// Snapshot operations
	UpsertSnapshot(ctx context.Context, snap *Snapshot) (changed bool, err error)
	GetSnapshot(ctx context.Context, kind, uniqueKey string) (*Snapshot, error)
	ListSnapshots(ctx context.Context, kind *string, limit, offset int) ([]*Snapshot, error)
	DeleteSnapshot(ctx context.Context, kind, uniqueKey string) error

	// Utility
	HealthCheck(ctx context.Context) error
}

type runKey struct{}

// ContextWithRun tags ctx with a run id. Operations recorded through the
// store's Record method under that context belong to the run.
func ContextWithRun(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runKey{}, runID)
}

// RunFromContext returns the run id ctx is tagged with.
func RunFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runKey{}).(string)
	return id, ok && id != ""
}
