package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/pgfroyo/pkg/execx"
	"github.com/openfroyo/pgfroyo/pkg/execx/execxtest"
	"github.com/openfroyo/pgfroyo/pkg/postgres"
)

func systemd(active string) *execxtest.Fake {
	return &execxtest.Fake{Respond: func(inv execx.Invocation) (*execx.Result, error) {
		switch inv.Args[0] {
		case "is-active":
			code := 0
			if active != "active" {
				code = 3
			}
			return execxtest.Exit(code, active+"\n"), nil
		case "is-enabled":
			return execxtest.Exit(0, "enabled\n"), nil
		case "show":
			return execxtest.Exit(0, "running\n"), nil
		}
		return execxtest.Exit(0, ""), nil
	}}
}

func TestStatus(t *testing.T) {
	m := NewManager(systemd("active"), "", zerolog.Nop())
	st, err := m.Status(context.Background(), "postgresql-14")
	require.NoError(t, err)
	assert.True(t, st.Running())
	assert.True(t, st.Enabled)
	assert.Equal(t, "running", st.SubState)
}

func TestNotifierReloadsOnChange(t *testing.T) {
	fake := systemd("active")
	m := NewManager(fake, "root", zerolog.Nop())
	rc := postgres.ResolvedContext{ServiceName: "postgresql-14"}
	n := NewNotifier(m, rc, ActionReload)

	require.NoError(t, n.Notify(context.Background(), &postgres.OperationResult{Changed: true, Operation: postgres.OpCreateDatabase}))
	commands := fake.Commands()
	assert.Equal(t, "systemctl reload postgresql-14", commands[len(commands)-1])
	assert.Equal(t, "root", fake.Calls[len(fake.Calls)-1].User)

	fake.Reset()
	require.NoError(t, n.Notify(context.Background(), &postgres.OperationResult{Changed: false}))
	assert.Empty(t, fake.Calls)
}

func TestNotifierRestart(t *testing.T) {
	fake := systemd("active")
	n := NewNotifier(NewManager(fake, "", zerolog.Nop()), postgres.ResolvedContext{ServiceName: "postgresql"}, ActionRestart)

	require.NoError(t, n.Notify(context.Background(), &postgres.OperationResult{Changed: true}))
	assert.Contains(t, fake.Commands(), "systemctl restart postgresql")
}

func TestNotifierSkipsStoppedUnit(t *testing.T) {
	fake := systemd("inactive")
	n := NewNotifier(NewManager(fake, "", zerolog.Nop()), postgres.ResolvedContext{ServiceName: "postgresql"}, ActionReload)

	require.NoError(t, n.Notify(context.Background(), &postgres.OperationResult{Changed: true}))
	assert.NotContains(t, fake.Commands(), "systemctl reload postgresql")
}

func TestNotifierReloadFailure(t *testing.T) {
	fake := &execxtest.Fake{Respond: func(inv execx.Invocation) (*execx.Result, error) {
		if inv.Args[0] == "reload" {
			return &execx.Result{ExitCode: 1, Stderr: "Job for postgresql.service failed."}, nil
		}
		return execxtest.Exit(0, "active\n"), nil
	}}
	n := NewNotifier(NewManager(fake, "", zerolog.Nop()), postgres.ResolvedContext{ServiceName: "postgresql"}, ActionReload)

	err := n.Notify(context.Background(), &postgres.OperationResult{Changed: true})
	assert.ErrorContains(t, err, "Job for postgresql.service failed.")
}

func TestNotifierNone(t *testing.T) {
	fake := systemd("active")
	n := NewNotifier(NewManager(fake, "", zerolog.Nop()), postgres.ResolvedContext{ServiceName: "postgresql"}, ActionNone)
	require.NoError(t, n.Notify(context.Background(), &postgres.OperationResult{Changed: true}))
	assert.Empty(t, fake.Calls)
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction("")
	require.NoError(t, err)
	assert.Equal(t, ActionReload, a)

	a, err = ParseAction("restart")
	require.NoError(t, err)
	assert.Equal(t, ActionRestart, a)

	_, err = ParseAction("bounce")
	assert.Error(t, err)
}
