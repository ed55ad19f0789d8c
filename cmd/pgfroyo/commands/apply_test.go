package commands

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/pgfroyo/pkg/config"
	"github.com/openfroyo/pgfroyo/pkg/postgres"
)

// fakeLifecycle records calls against an in-memory catalog.
type fakeLifecycle struct {
	databases map[string]bool
	roles     map[string]bool
	calls     []string
	specs     []postgres.RoleSpec
	failOn    string
}

func newFakeLifecycle() *fakeLifecycle {
	return &fakeLifecycle{databases: map[string]bool{}, roles: map[string]bool{}}
}

func (f *fakeLifecycle) result(op postgres.Operation, target string, changed bool, done string) (*postgres.OperationResult, error) {
	call := string(op) + " " + target
	f.calls = append(f.calls, call)
	r := &postgres.OperationResult{Operation: op, Target: target, Changed: changed, Action: done}
	if call == f.failOn {
		r.Changed = false
		r.Action = postgres.ActionFailed
		return r, errors.New("boom")
	}
	return r, nil
}

func (f *fakeLifecycle) InitDB(_ context.Context, _ postgres.InitDBSpec) (*postgres.OperationResult, error) {
	return f.result(postgres.OpInitDB, "/data", false, postgres.ActionAlreadyPresent)
}

func (f *fakeLifecycle) CreateDatabase(_ context.Context, spec postgres.DatabaseSpec) (*postgres.OperationResult, error) {
	if f.databases[spec.Database] {
		return f.result(postgres.OpCreateDatabase, spec.Database, false, postgres.ActionAlreadyPresent)
	}
	f.databases[spec.Database] = true
	return f.result(postgres.OpCreateDatabase, spec.Database, true, postgres.ActionCreated)
}

func (f *fakeLifecycle) DropDatabase(_ context.Context, spec postgres.DatabaseSpec) (*postgres.OperationResult, error) {
	if !f.databases[spec.Database] {
		return f.result(postgres.OpDropDatabase, spec.Database, false, postgres.ActionAlreadyAbsent)
	}
	delete(f.databases, spec.Database)
	return f.result(postgres.OpDropDatabase, spec.Database, true, postgres.ActionDropped)
}

func (f *fakeLifecycle) UpdateDatabase(_ context.Context, spec postgres.DatabaseSpec, _ map[string]string) (*postgres.OperationResult, error) {
	return f.result(postgres.OpUpdateDatabase, spec.Database, true, postgres.ActionUpdated)
}

func (f *fakeLifecycle) CreateRole(_ context.Context, spec postgres.RoleSpec) (*postgres.OperationResult, error) {
	f.specs = append(f.specs, spec)
	if f.roles[spec.Name] {
		return f.result(postgres.OpCreateRole, spec.Name, false, postgres.ActionAlreadyPresent)
	}
	f.roles[spec.Name] = true
	return f.result(postgres.OpCreateRole, spec.Name, true, postgres.ActionCreated)
}

func (f *fakeLifecycle) DropRole(_ context.Context, spec postgres.RoleSpec) (*postgres.OperationResult, error) {
	if !f.roles[spec.Name] {
		return f.result(postgres.OpDropRole, spec.Name, false, postgres.ActionAlreadyAbsent)
	}
	delete(f.roles, spec.Name)
	return f.result(postgres.OpDropRole, spec.Name, true, postgres.ActionDropped)
}

func (f *fakeLifecycle) UpdateRole(_ context.Context, spec postgres.RoleSpec, _ map[string]string) (*postgres.OperationResult, error) {
	f.specs = append(f.specs, spec)
	return f.result(postgres.OpUpdateRole, spec.Name, true, postgres.ActionUpdated)
}

func manifest() *config.Config {
	cfg := config.Defaults()
	cfg.Roles = []config.RoleEntry{
		{RoleSpec: postgres.RoleSpec{Name: "app_user", Login: true, Password: postgres.GeneratePassword}},
		{RoleSpec: postgres.RoleSpec{Name: "reporting", Attributes: map[string]string{"statement_timeout": "30s"}}},
		{RoleSpec: postgres.RoleSpec{Name: "old_user"}, State: config.StateAbsent},
	}
	cfg.Databases = []config.DatabaseEntry{
		{DatabaseSpec: postgres.DatabaseSpec{Database: "app", Owner: "app_user", Attributes: map[string]string{"work_mem": "64MB"}}},
		{DatabaseSpec: postgres.DatabaseSpec{Database: "legacy"}, State: config.StateAbsent},
	}
	return cfg
}

func TestConvergeOrder(t *testing.T) {
	lc := newFakeLifecycle()
	lc.databases["legacy"] = true
	lc.roles["old_user"] = true

	report, err := converge(context.Background(), lc, manifest(), convergeOptions{})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"initdb /data",
		"create_role app_user",
		"create_role reporting",
		"update_role reporting",
		"create_database app",
		"update_database app",
		"drop_database legacy",
		"drop_role old_user",
	}, lc.calls)
	assert.Len(t, report.Results, len(lc.calls))

	require.Contains(t, report.GeneratedPasswords, "app_user")
	assert.Len(t, report.GeneratedPasswords["app_user"], 32)
	assert.NotEqual(t, postgres.GeneratePassword, lc.specs[0].Password)
	assert.Equal(t, "postgres", lc.specs[0].User)
}

func TestConvergeIsIdempotent(t *testing.T) {
	lc := newFakeLifecycle()
	cfg := manifest()

	_, err := converge(context.Background(), lc, cfg, convergeOptions{SkipInitDB: true})
	require.NoError(t, err)

	lc.calls = nil
	report, err := converge(context.Background(), lc, cfg, convergeOptions{SkipInitDB: true})
	require.NoError(t, err)

	for _, r := range report.Results {
		switch r.Operation {
		case postgres.OpUpdateDatabase, postgres.OpUpdateRole:
			assert.True(t, r.Changed, r.Target)
		default:
			assert.False(t, r.Changed, "%s %s", r.Operation, r.Target)
		}
	}
	assert.Empty(t, report.GeneratedPasswords)
	assert.NotContains(t, lc.calls, "initdb /data")
}

func TestConvergeDoesNotResetExistingPassword(t *testing.T) {
	lc := newFakeLifecycle()
	lc.roles["app_user"] = true
	cfg := config.Defaults()
	cfg.Roles = []config.RoleEntry{{RoleSpec: postgres.RoleSpec{
		Name:       "app_user",
		Password:   postgres.GeneratePassword,
		Attributes: map[string]string{"search_path": "app"},
	}}}

	report, err := converge(context.Background(), lc, cfg, convergeOptions{SkipInitDB: true})
	require.NoError(t, err)
	assert.Empty(t, report.GeneratedPasswords)

	require.Len(t, lc.specs, 2)
	assert.Empty(t, lc.specs[1].Password)
}

func TestConvergeStopsAtFirstFailure(t *testing.T) {
	lc := newFakeLifecycle()
	lc.failOn = "create_database app"

	report, err := converge(context.Background(), lc, manifest(), convergeOptions{SkipInitDB: true})
	require.Error(t, err)

	last := report.Results[len(report.Results)-1]
	assert.Equal(t, postgres.ActionFailed, last.Action)
	assert.Equal(t, "app", last.Target)
	assert.NotContains(t, lc.calls, "drop_database legacy")
	assert.NotContains(t, lc.calls, "drop_role old_user")
}
