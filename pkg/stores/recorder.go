package stores

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/pgfroyo/pkg/postgres"
)

// Recorder journals every finished operation. It implements postgres.Observer.
// Journal failures are logged and never fail the operation.
type Recorder struct {
	store  Store
	host   string
	runID  *string
	logger zerolog.Logger
}

// NewRecorder returns a Recorder writing to store on behalf of host.
func NewRecorder(store Store, host string, logger zerolog.Logger) *Recorder {
	return &Recorder{store: store, host: host, logger: logger}
}

// StartRun opens a run record that subsequent operations are attached to.
func (r *Recorder) StartRun(ctx context.Context, command string, manifestPath string) (string, error) {
	run := &Run{
		ID:        uuid.NewString(),
		Command:   command,
		Host:      r.host,
		Status:    RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if manifestPath != "" {
		run.ManifestPath = &manifestPath
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		return "", err
	}
	r.runID = &run.ID
	return run.ID, nil
}

// FinishRun closes the current run with the outcome of the command.
func (r *Recorder) FinishRun(ctx context.Context, runErr error) error {
	if r.runID == nil {
		return nil
	}
	status := RunStatusCompleted
	var msg *string
	if runErr != nil {
		status = RunStatusFailed
		s := runErr.Error()
		msg = &s
	}
	err := r.store.UpdateRunStatus(ctx, *r.runID, status, msg)
	r.runID = nil
	return err
}

// OperationStarted implements postgres.Observer.
func (r *Recorder) OperationStarted(ctx context.Context, _ postgres.Operation, _ string) context.Context {
	return ctx
}

// OperationFinished implements postgres.Observer.
func (r *Recorder) OperationFinished(ctx context.Context, result *postgres.OperationResult, err error) {
	if result == nil {
		return
	}
	rec := &OperationRecord{
		ID:         result.ID,
		RunID:      r.runID,
		Host:       r.host,
		Operation:  result.Operation,
		Target:     result.Target,
		Action:     result.Action,
		Changed:    result.Changed,
		ExitStatus: result.ExitStatus,
		StartedAt:  result.StartedAt,
		Duration:   result.Duration,
	}
	if result.ErrorKind != "" {
		kind := string(result.ErrorKind)
		rec.ErrorKind = &kind
	}
	if err != nil {
		msg := err.Error()
		rec.Error = &msg
	}

	if jerr := r.store.RecordOperation(context.WithoutCancel(ctx), rec); jerr != nil {
		r.logger.Warn().Err(jerr).Str("operation_id", result.ID).Msg("failed to journal operation")
	}
}
