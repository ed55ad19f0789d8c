package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/pgfroyo/pkg/postgres"
)

// setupTestStore creates a migrated store in a temporary directory
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{Path: filepath.Join(t.TempDir(), "journal.db")})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.Migrate(ctx))
	t.Cleanup(func() { _ = store.Close() })

	return store
}

func TestNewSQLiteStoreRequiresPath(t *testing.T) {
	_, err := NewSQLiteStore(Config{})
	assert.ErrorContains(t, err, "database path is required")
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: ":memory:"})
	require.NoError(t, err)
	assert.Equal(t, 1, store.cfg.MaxOpenConns)

	ctx := context.Background()
	assert.Error(t, store.HealthCheck(ctx))
	assert.Error(t, store.Migrate(ctx))

	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.HealthCheck(ctx))
	require.NoError(t, store.Migrate(ctx))
	// second run is a no-op
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Close())
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	for _, table := range []string{"runs", "operations"} {
		var count int
		err := store.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&count)
		assert.NoError(t, err, "table %s", table)
	}
}

func TestRunCRUD(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	manifest := "/etc/pgfroyo/pgfroyo.yaml"
	run := &Run{ID: "run-001", Command: "apply", Host: "db1", ManifestPath: &manifest, Status: RunStatusRunning}
	require.NoError(t, store.CreateRun(ctx, run))
	assert.False(t, run.StartedAt.IsZero())

	got, err := store.GetRun(ctx, "run-001")
	require.NoError(t, err)
	assert.Equal(t, "apply", got.Command)
	assert.Equal(t, RunStatusRunning, got.Status)
	require.NotNil(t, got.ManifestPath)
	assert.Equal(t, manifest, *got.ManifestPath)
	assert.Nil(t, got.CompletedAt)

	msg := "exit status 1"
	require.NoError(t, store.UpdateRunStatus(ctx, "run-001", RunStatusFailed, &msg))
	got, err = store.GetRun(ctx, "run-001")
	require.NoError(t, err)
	assert.Equal(t, RunStatusFailed, got.Status)
	require.NotNil(t, got.Error)
	assert.Equal(t, msg, *got.Error)
	assert.NotNil(t, got.CompletedAt)

	require.NoError(t, store.CreateRun(ctx, &Run{
		ID: "run-002", Command: "db create", Status: RunStatusRunning,
		StartedAt: time.Now().Add(time.Minute),
	}))
	runs, err := store.ListRuns(ctx, 10, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-002", runs[0].ID)

	require.NoError(t, store.DeleteRun(ctx, "run-001"))
	_, err = store.GetRun(ctx, "run-001")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.DeleteRun(ctx, "run-001"), ErrNotFound)
	assert.ErrorIs(t, store.UpdateRunStatus(ctx, "missing", RunStatusCompleted, nil), ErrNotFound)
}

func TestOperationJournal(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateRun(ctx, &Run{ID: "run-1", Command: "apply", Status: RunStatusRunning}))
	runID := "run-1"
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	kind := string(postgres.KindOperationFailed)
	errMsg := `command failed: exit status 2 running "dropdb app"`
	records := []*OperationRecord{
		{ID: "op-1", RunID: &runID, Host: "db1", Operation: postgres.OpCreateDatabase, Target: "app",
			Action: postgres.ActionCreated, Changed: true, StartedAt: base, Duration: 120 * time.Millisecond},
		{ID: "op-2", RunID: &runID, Host: "db1", Operation: postgres.OpCreateRole, Target: "app_user",
			Action: postgres.ActionAlreadyPresent, StartedAt: base.Add(time.Second)},
		{ID: "op-3", Host: "db1", Operation: postgres.OpDropDatabase, Target: "app",
			Action: postgres.ActionFailed, ExitStatus: 2, ErrorKind: &kind, Error: &errMsg, StartedAt: base.Add(2 * time.Second)},
	}
	for _, rec := range records {
		require.NoError(t, store.RecordOperation(ctx, rec))
	}

	got, err := store.GetOperation(ctx, "op-1")
	require.NoError(t, err)
	assert.Equal(t, postgres.OpCreateDatabase, got.Operation)
	assert.True(t, got.Changed)
	assert.Equal(t, 120*time.Millisecond, got.Duration)
	assert.True(t, base.Equal(got.StartedAt))
	require.NotNil(t, got.RunID)
	assert.Equal(t, runID, *got.RunID)

	_, err = store.GetOperation(ctx, "op-404")
	assert.ErrorIs(t, err, ErrNotFound)

	all, err := store.ListOperations(ctx, OperationFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "op-3", all[0].ID)
	require.NotNil(t, all[0].ErrorKind)
	assert.Equal(t, kind, *all[0].ErrorKind)
	assert.Equal(t, 2, all[0].ExitStatus)

	byRun, err := store.ListOperations(ctx, OperationFilter{RunID: runID})
	require.NoError(t, err)
	assert.Len(t, byRun, 2)

	byTarget, err := store.ListOperations(ctx, OperationFilter{Operation: postgres.OpDropDatabase, Target: "app"})
	require.NoError(t, err)
	require.Len(t, byTarget, 1)
	assert.Equal(t, "op-3", byTarget[0].ID)

	since, err := store.ListOperations(ctx, OperationFilter{Since: base.Add(time.Second)})
	require.NoError(t, err)
	assert.Len(t, since, 2)

	page, err := store.ListOperations(ctx, OperationFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "op-2", page[0].ID)

	pruned, err := store.PruneOperations(ctx, base.Add(time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	// deleting a run removes its operations
	require.NoError(t, store.DeleteRun(ctx, runID))
	all, err = store.ListOperations(ctx, OperationFilter{})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "op-3", all[0].ID)
}
