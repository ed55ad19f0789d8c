package stores

import (
	"context"
	"time"

	"github.com/openfroyo/pgfroyo/pkg/postgres"
)

// RunStatus represents the status of a CLI run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Run groups the operations performed by one CLI invocation
type Run struct {
	ID           string     `json:"id"`
	Command      string     `json:"command"` // e.g. "apply", "db create"
	Host         string     `json:"host"`
	ManifestPath *string    `json:"manifest_path,omitempty"`
	Status       RunStatus  `json:"status"`
	StartedAt    time.Time  `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
	Error        *string    `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// OperationRecord is a journaled lifecycle operation
type OperationRecord struct {
	ID         string             `json:"id"`
	RunID      *string            `json:"run_id,omitempty"`
	Host       string             `json:"host"`
	Operation  postgres.Operation `json:"operation"`
	Target     string             `json:"target"`
	Action     string             `json:"action"`
	Changed    bool               `json:"changed"`
	ExitStatus int                `json:"exit_status"`
	ErrorKind  *string            `json:"error_kind,omitempty"`
	Error      *string            `json:"error,omitempty"` // already redacted
	StartedAt  time.Time          `json:"started_at"`
	Duration   time.Duration      `json:"duration"`
}

// OperationFilter narrows ListOperations. Zero values match everything.
type OperationFilter struct {
	RunID     string
	Operation postgres.Operation
	Target    string
	Since     time.Time
	Limit     int
	Offset    int
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	GetRun(ctx context.Context, id string) (*Run, error)
	UpdateRunStatus(ctx context.Context, id string, status RunStatus, err *string) error
	ListRuns(ctx context.Context, limit, offset int) ([]*Run, error)
	DeleteRun(ctx context.Context, id string) error

	// Operation journal
	RecordOperation(ctx context.Context, rec *OperationRecord) error
	GetOperation(ctx context.Context, id string) (*OperationRecord, error)
	ListOperations(ctx context.Context, filter OperationFilter) ([]*OperationRecord, error)
	PruneOperations(ctx context.Context, before time.Time) (int64, error)

	// Utility
	HealthCheck(ctx context.Context) error
}
