package fsys

import (
	"context"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBillyCheckerExists(t *testing.T) {
	mem := memfs.New()
	require.NoError(t, util.WriteFile(mem, "/var/lib/pgsql/14/data/PG_VERSION", []byte("14\n"), 0o600))

	c := NewBillyChecker(mem)
	ctx := context.Background()

	ok, err := c.Exists(ctx, "/var/lib/pgsql/14/data/PG_VERSION")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Exists(ctx, "/var/lib/pgsql/14/data")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Exists(ctx, "/var/lib/pgsql/14/data/recovery.conf")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestOSChecker(t *testing.T) {
	dir := t.TempDir()
	c := NewOSChecker()

	ok, err := c.Exists(context.Background(), dir)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.Exists(context.Background(), dir+"/missing")
	require.NoError(t, err)
	assert.False(t, ok)
}
