package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openfroyo/pgfroyo/pkg/execx"
	"github.com/openfroyo/pgfroyo/pkg/fsys"
)

// Notifier receives the change signal emitted whenever an operation changed
// the host, typically to reload the PostgreSQL service.
type Notifier interface {
	Notify(ctx context.Context, result *OperationResult) error
}

// Observer is told about every operation attempt (metrics, tracing, journal).
type Observer interface {
	OperationStarted(ctx context.Context, op Operation, target string) context.Context
	OperationFinished(ctx context.Context, result *OperationResult, err error)
}

// Runner executes lifecycle operations idempotently against one resolved context.
// Each call checks existence, then runs at most one mutating command.
// It performs no locking; callers serialize operations on the same target.
type Runner struct {
	rc        ResolvedContext
	composer  Composer
	exec      execx.Runner
	prober    Prober
	files     fsys.Checker
	notifier  Notifier
	observers []Observer
	logger    zerolog.Logger
	now       func() time.Time
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithProber replaces the default psql based prober.
func WithProber(p Prober) RunnerOption {
	return func(r *Runner) { r.prober = p }
}

// WithFileChecker sets the file facility used for marker checks.
func WithFileChecker(fs fsys.Checker) RunnerOption {
	return func(r *Runner) { r.files = fs }
}

// WithNotifier sets the change notifier.
func WithNotifier(n Notifier) RunnerOption {
	return func(r *Runner) { r.notifier = n }
}

// WithObserver adds an observer.
func WithObserver(o ...Observer) RunnerOption {
	return func(r *Runner) { r.observers = append(r.observers, o...) }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) RunnerOption {
	return func(r *Runner) { r.logger = l }
}

// NewRunner creates a runner for rc executing through exec.
func NewRunner(rc ResolvedContext, exec execx.Runner, opts ...RunnerOption) *Runner {
	r := &Runner{
		rc:       rc,
		composer: NewComposer(rc),
		exec:     exec,
		logger:   zerolog.Nop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.prober == nil {
		r.prober = NewCommandProber(exec, rc)
	}
	if r.files == nil {
		r.files = fsys.NewOSChecker()
	}
	r.logger = r.logger.With().Str("component", "runner").Logger()
	return r
}

// Context returns the resolved context the runner was built for.
func (r *Runner) Context() ResolvedContext {
	return r.rc
}

type gate int

const (
	// gateNone always runs the command.
	gateNone gate = iota
	// gateAbsent runs the command only when the target does not exist.
	gateAbsent
	// gatePresent runs the command only when the target exists.
	gatePresent
)

type action struct {
	op      Operation
	target  string
	user    string
	gate    gate
	exists  func(ctx context.Context) (bool, error)
	command Command
	done    string
}

// CreateDatabase creates the database unless it already exists.
func (r *Runner) CreateDatabase(ctx context.Context, spec DatabaseSpec) (*OperationResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, withOperation(err, OpCreateDatabase, spec.Database)
	}
	return r.execute(ctx, action{
		op:      OpCreateDatabase,
		target:  spec.Database,
		user:    userOrDefault(spec.User),
		gate:    gateAbsent,
		exists:  func(ctx context.Context) (bool, error) { return r.prober.DatabaseExists(ctx, spec) },
		command: r.composer.CreateDatabase(spec),
		done:    ActionCreated,
	})
}

// DropDatabase drops the database when it exists.
func (r *Runner) DropDatabase(ctx context.Context, spec DatabaseSpec) (*OperationResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, withOperation(err, OpDropDatabase, spec.Database)
	}
	return r.execute(ctx, action{
		op:      OpDropDatabase,
		target:  spec.Database,
		user:    userOrDefault(spec.User),
		gate:    gatePresent,
		exists:  func(ctx context.Context) (bool, error) { return r.prober.DatabaseExists(ctx, spec) },
		command: r.composer.DropDatabase(spec),
		done:    ActionDropped,
	})
}

// UpdateDatabase applies attributes unconditionally.
func (r *Runner) UpdateDatabase(ctx context.Context, spec DatabaseSpec, attributes map[string]string) (*OperationResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, withOperation(err, OpUpdateDatabase, spec.Database)
	}
	cmd, err := r.composer.AlterDatabase(spec, attributes)
	if err != nil {
		return nil, withOperation(err, OpUpdateDatabase, spec.Database)
	}
	return r.execute(ctx, action{
		op:      OpUpdateDatabase,
		target:  spec.Database,
		user:    userOrDefault(spec.User),
		command: cmd,
		done:    ActionUpdated,
	})
}

// CreateRole creates the role unless it already exists.
func (r *Runner) CreateRole(ctx context.Context, spec RoleSpec) (*OperationResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, withOperation(err, OpCreateRole, spec.Name)
	}
	return r.execute(ctx, action{
		op:      OpCreateRole,
		target:  spec.Name,
		user:    userOrDefault(spec.User),
		gate:    gateAbsent,
		exists:  func(ctx context.Context) (bool, error) { return r.prober.RoleExists(ctx, spec) },
		command: r.composer.CreateRole(spec),
		done:    ActionCreated,
	})
}

// DropRole drops the role when it exists.
func (r *Runner) DropRole(ctx context.Context, spec RoleSpec) (*OperationResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, withOperation(err, OpDropRole, spec.Name)
	}
	return r.execute(ctx, action{
		op:      OpDropRole,
		target:  spec.Name,
		user:    userOrDefault(spec.User),
		gate:    gatePresent,
		exists:  func(ctx context.Context) (bool, error) { return r.prober.RoleExists(ctx, spec) },
		command: r.composer.DropRole(spec),
		done:    ActionDropped,
	})
}

// UpdateRole reapplies role options and settings unconditionally.
// A missing role makes psql fail and that failure is returned as is.
func (r *Runner) UpdateRole(ctx context.Context, spec RoleSpec, attributes map[string]string) (*OperationResult, error) {
	if err := spec.Validate(); err != nil {
		return nil, withOperation(err, OpUpdateRole, spec.Name)
	}
	cmd, err := r.composer.AlterRole(spec, attributes)
	if err != nil {
		return nil, withOperation(err, OpUpdateRole, spec.Name)
	}
	return r.execute(ctx, action{
		op:      OpUpdateRole,
		target:  spec.Name,
		user:    userOrDefault(spec.User),
		command: cmd,
		done:    ActionUpdated,
	})
}

// InitDB initializes the data directory unless the PG_VERSION marker exists.
func (r *Runner) InitDB(ctx context.Context, spec InitDBSpec) (*OperationResult, error) {
	cmd, err := r.composer.InitDB(spec)
	if err != nil {
		return nil, withOperation(err, OpInitDB, r.rc.DataDir)
	}
	return r.execute(ctx, action{
		op:      OpInitDB,
		target:  r.rc.DataDir,
		user:    userOrDefault(spec.User),
		gate:    gateAbsent,
		exists:  func(ctx context.Context) (bool, error) { return Initialized(ctx, r.files, r.rc) },
		command: cmd,
		done:    ActionInitialized,
	})
}

// execute runs one action: existence check first, then at most one command.
func (r *Runner) execute(ctx context.Context, a action) (result *OperationResult, err error) {
	for _, o := range r.observers {
		ctx = o.OperationStarted(ctx, a.op, a.target)
	}

	result = &OperationResult{
		ID:        uuid.NewString(),
		Operation: a.op,
		Target:    a.target,
		StartedAt: r.now(),
	}
	logger := r.logger.With().Str("operation_id", result.ID).Str("operation", string(a.op)).Str("target", a.target).Logger()

	defer func() {
		result.Duration = r.now().Sub(result.StartedAt)
		if err != nil {
			result.Action = ActionFailed
			result.ErrorKind = KindOf(err)
		}
		for _, o := range r.observers {
			o.OperationFinished(ctx, result, err)
		}
		if result.Changed && r.notifier != nil {
			if nerr := r.notifier.Notify(ctx, result); nerr != nil {
				logger.Error().Err(nerr).Msg("change notification failed")
			}
		}
	}()

	if a.gate != gateNone {
		exists, perr := a.exists(ctx)
		if perr != nil {
			return result, fmt.Errorf("%s %s: %w", a.op, a.target, perr)
		}
		switch {
		case a.gate == gateAbsent && exists:
			result.Action = ActionAlreadyPresent
			logger.Info().Msg("target already exists, nothing to do")
			return result, nil
		case a.gate == gatePresent && !exists:
			result.Action = ActionAlreadyAbsent
			logger.Info().Msg("target does not exist, nothing to do")
			return result, nil
		}
	}

	res, rerr := r.exec.Run(ctx, a.command.Invocation(a.user))
	if rerr != nil {
		result.ExitStatus = -1
		e := NewOperationFailedError(a.op, a.target, -1, a.command.Redacted())
		e.Err = rerr
		return result, e
	}

	result.ExitStatus = res.ExitCode
	if !res.Success() {
		e := NewOperationFailedError(a.op, a.target, res.ExitCode, a.command.Redacted())
		if stderr := strings.TrimSpace(a.command.redact(res.Stderr)); stderr != "" {
			e.Err = errors.New(stderr)
		}
		logger.Error().Int("exit_status", res.ExitCode).Str("command", e.Command).Msg("operation failed")
		return result, e
	}

	result.Changed = true
	result.Action = a.done
	logger.Info().Str("action", a.done).Dur("duration", res.Duration).Msg("operation changed target")
	return result, nil
}

func withOperation(err error, op Operation, target string) error {
	var e *Error
	if errors.As(err, &e) {
		return e.WithOperation(op, target)
	}
	return err
}
