package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveVersionSource(t *testing.T) {
	tests := []struct {
		name        string
		inventory   map[string]Package
		wantVersion int
		wantSource  PackageSource
	}{
		{
			name:        "pgdg server package on rhel",
			inventory:   map[string]Package{"postgresql14-server": {Version: "14.2", Release: "1.PGDG.rhel8"}},
			wantVersion: 14,
			wantSource:  SourceRepo,
		},
		{
			name:        "distro package without release",
			inventory:   map[string]Package{"postgresql": {Version: "13.4"}},
			wantVersion: 13,
			wantSource:  SourceOS,
		},
		{
			name:        "distro package with release",
			inventory:   map[string]Package{"postgresql": {Version: "10.17", Release: "1.module+el8.4.0"}},
			wantVersion: 10,
			wantSource:  SourceOS,
		},
		{
			name:        "pgdg marker in debian version",
			inventory:   map[string]Package{"postgresql-15": {Version: "15.4-1.pgdg22.04+1"}},
			wantVersion: 15,
			wantSource:  SourceRepo,
		},
		{
			name:        "dpkg epoch is stripped",
			inventory:   map[string]Package{"postgresql": {Version: "1:16.1-1"}},
			wantVersion: 16,
			wantSource:  SourceOS,
		},
		{
			name: "base package preferred over server package",
			inventory: map[string]Package{
				"postgresql12":        {Version: "12.9", Release: "1PGDG.rhel7"},
				"postgresql12-server": {Version: "12.9", Release: "1PGDG.rhel7"},
				"postgresql12-libs":   {Version: "12.9", Release: "1PGDG.rhel7"},
			},
			wantVersion: 12,
			wantSource:  SourceRepo,
		},
		{
			name: "release marker is case sensitive",
			inventory: map[string]Package{
				"postgresql": {Version: "9.6.24", Release: "1.pgdg"},
			},
			wantVersion: 9,
			wantSource:  SourceOS,
		},
		{
			name: "unrelated packages ignored",
			inventory: map[string]Package{
				"postgresql":        {Version: "13.4"},
				"postgresql-common": {Version: "238"},
				"postgresql-client": {Version: "13.4"},
				"nginx":             {Version: "1.20"},
			},
			wantVersion: 13,
			wantSource:  SourceOS,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			version, source, err := ResolveVersionSource(tt.inventory)
			require.NoError(t, err)
			assert.Equal(t, tt.wantVersion, version.Major)
			assert.Equal(t, tt.wantSource, source)
		})
	}
}

func TestResolveVersionSourceErrors(t *testing.T) {
	tests := []struct {
		name      string
		inventory map[string]Package
	}{
		{name: "empty inventory", inventory: map[string]Package{}},
		{name: "nil inventory"},
		{name: "only libs", inventory: map[string]Package{"postgresql-libs": {Version: "13.4"}}},
		{name: "no leading digits", inventory: map[string]Package{"postgresql": {Version: "devel"}}},
		{
			name: "ambiguous versions",
			inventory: map[string]Package{
				"postgresql13": {Version: "13.4", Release: "1PGDG"},
				"postgresql14": {Version: "14.1", Release: "1PGDG"},
			},
		},
		{
			name: "ambiguous sources",
			inventory: map[string]Package{
				"postgresql":   {Version: "14.1", Release: "1.el8"},
				"postgresql14": {Version: "14.1", Release: "1PGDG"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ResolveVersionSource(tt.inventory)
			require.Error(t, err)
			assert.True(t, IsResolution(err))
			assert.True(t, errors.Is(err, ErrResolution))
		})
	}
}

func TestResolveVersionSourceIdempotent(t *testing.T) {
	inventory := map[string]Package{
		"postgresql11":        {Version: "11.14", Release: "1PGDG.rhel8"},
		"postgresql11-server": {Version: "11.14", Release: "1PGDG.rhel8"},
	}

	v1, s1, err1 := ResolveVersionSource(inventory)
	v2, s2, err2 := ResolveVersionSource(inventory)
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, v1, v2)
	assert.Equal(t, s1, s2)
}

type countingInventory struct {
	calls    int
	packages map[string]Package
	err      error
}

func (c *countingInventory) Packages(context.Context) (map[string]Package, error) {
	c.calls++
	return c.packages, c.err
}

func TestResolverScenarios(t *testing.T) {
	ctx := context.Background()

	t.Run("rhel repo", func(t *testing.T) {
		inv := StaticInventory{"postgresql14-server": {Version: "14.2", Release: "1.PGDG.rhel8"}}
		rc, err := NewResolver(inv, PlatformRHEL, zerolog.Nop()).Resolve(ctx)
		require.NoError(t, err)
		assert.Equal(t, 14, rc.Version.Major)
		assert.Equal(t, SourceRepo, rc.Source)
		assert.Equal(t, "/var/lib/pgsql/14/data", rc.DataDir)
		assert.Equal(t, "postgresql-14", rc.ServiceName)
	})

	t.Run("debian os", func(t *testing.T) {
		inv := StaticInventory{"postgresql": {Version: "13.4"}}
		rc, err := NewResolver(inv, PlatformDebian, zerolog.Nop()).Resolve(ctx)
		require.NoError(t, err)
		assert.Equal(t, 13, rc.Version.Major)
		assert.Equal(t, SourceOS, rc.Source)
		assert.Equal(t, "/etc/postgresql/13/main", rc.ConfDir)
		assert.Equal(t, "/var/lib/postgresql/13/main", rc.DataDir)
		assert.Equal(t, "postgresql", rc.ServiceName)
	})

	t.Run("unknown platform", func(t *testing.T) {
		inv := StaticInventory{"postgresql": {Version: "13.4"}}
		_, err := NewResolver(inv, "windows", zerolog.Nop()).Resolve(ctx)
		require.Error(t, err)
		assert.True(t, IsUnsupportedPlatform(err))
	})

	t.Run("inventory failure", func(t *testing.T) {
		inv := &countingInventory{err: errors.New("rpm: not found")}
		_, err := NewResolver(inv, PlatformRHEL, zerolog.Nop()).Resolve(ctx)
		require.Error(t, err)
		assert.True(t, IsResolution(err))
		assert.Contains(t, err.Error(), "rpm: not found")
	})

	t.Run("no cache between calls", func(t *testing.T) {
		inv := &countingInventory{packages: map[string]Package{"postgresql": {Version: "13.4"}}}
		r := NewResolver(inv, PlatformDebian, zerolog.Nop())

		first, err := r.Resolve(ctx)
		require.NoError(t, err)

		inv.packages = map[string]Package{"postgresql-15": {Version: "15.4-1.pgdg22.04+1"}}
		second, err := r.Resolve(ctx)
		require.NoError(t, err)

		assert.Equal(t, 2, inv.calls)
		assert.Equal(t, 13, first.Version.Major)
		assert.Equal(t, "/var/lib/postgresql/13/main", first.DataDir)
		assert.Equal(t, 15, second.Version.Major)
		assert.Equal(t, SourceRepo, second.Source)
	})
}
