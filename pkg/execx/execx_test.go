package execx

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuote(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"createdb", "createdb"},
		{"UTF-8", "UTF-8"},
		{"/var/lib/pgsql/14/data", "/var/lib/pgsql/14/data"},
		{"", "''"},
		{"en US", "'en US'"},
		{"it's", `'it'\''s'`},
		{"$(rm)", "'$(rm)'"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Quote(tt.in), tt.in)
	}
}

func TestInvocationString(t *testing.T) {
	inv := Invocation{
		Program: "createdb",
		Args:    []string{"-E", "UTF-8", "-T", "template0", "sous_chef"},
		Env:     map[string]string{"PGPASSWORD": "secret"},
		Stdin:   "ignored",
	}
	assert.Equal(t, "createdb -E UTF-8 -T template0 sous_chef", inv.String())
	assert.NotContains(t, inv.String(), "secret")
}

func TestEnvListSorted(t *testing.T) {
	inv := Invocation{Env: map[string]string{"B": "2", "A": "1"}}
	assert.Equal(t, []string{"A=1", "B=2"}, inv.EnvList())
}

func TestLocalRunnerWrap(t *testing.T) {
	r := &LocalRunner{currentUser: "root", sudoPath: "sudo"}

	program, args, env := r.wrap(Invocation{Program: "psql", Args: []string{"-c", "x"}, User: "root"})
	assert.Equal(t, "psql", program)
	assert.Equal(t, []string{"-c", "x"}, args)
	assert.Empty(t, env)

	program, args, env = r.wrap(Invocation{
		Program: "createdb",
		Args:    []string{"db"},
		User:    "postgres",
		Env:     map[string]string{"PGPASSWORD": "pw"},
	})
	assert.Equal(t, "sudo", program)
	assert.Equal(t, []string{"-n", "-H", "-u", "postgres", "--preserve-env=PGPASSWORD", "--", "createdb", "db"}, args)
	assert.Equal(t, []string{"PGPASSWORD=pw"}, env)
	assert.NotContains(t, args, "PGPASSWORD=pw")
}

func TestLocalRunnerRun(t *testing.T) {
	r := NewLocalRunner(zerolog.Nop())
	ctx := context.Background()

	res, err := r.Run(ctx, Invocation{Program: "sh", Args: []string{"-c", "cat; echo done"}, Stdin: "in\n"})
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.Equal(t, "in\ndone\n", res.Stdout)

	res, err = r.Run(ctx, Invocation{Program: "sh", Args: []string{"-c", "exit 3"}})
	require.NoError(t, err)
	assert.False(t, res.Success())
	assert.Equal(t, 3, res.ExitCode)

	res, err = r.Run(ctx, Invocation{Program: "sh", Args: []string{"-c", "printf %s \"$FOO\""}, Env: map[string]string{"FOO": "bar"}})
	require.NoError(t, err)
	assert.Equal(t, "bar", res.Stdout)

	_, err = r.Run(ctx, Invocation{Program: "/nonexistent/binary"})
	assert.Error(t, err)

	_, err = r.Run(ctx, Invocation{})
	assert.Error(t, err)
}
