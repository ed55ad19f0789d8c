package facts

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/pgfroyo/pkg/execx"
	"github.com/openfroyo/pgfroyo/pkg/execx/execxtest"
	"github.com/openfroyo/pgfroyo/pkg/postgres"
)

func TestParseOSRelease(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    Platform
	}{
		{
			name: "rocky",
			content: `NAME="Rocky Linux"
VERSION="8.9 (Green Obsidian)"
ID="rocky"
ID_LIKE="rhel centos fedora"
VERSION_ID="8.9"
PRETTY_NAME="Rocky Linux 8.9 (Green Obsidian)"`,
			want: Platform{Family: postgres.PlatformRHEL, Name: "rocky", Version: "8.9", PrettyName: "Rocky Linux 8.9 (Green Obsidian)"},
		},
		{
			name:    "ubuntu",
			content: "ID=ubuntu\nID_LIKE=debian\nVERSION_ID=\"22.04\"\n",
			want:    Platform{Family: postgres.PlatformDebian, Name: "ubuntu", Version: "22.04"},
		},
		{
			name:    "amazon linux",
			content: "ID=\"amzn\"\nVERSION_ID=\"2\"\n",
			want:    Platform{Family: postgres.PlatformAmazon, Name: "amazon", Version: "2"},
		},
		{
			name:    "fedora",
			content: "# comment\nID=fedora\nVERSION_ID=39\n",
			want:    Platform{Family: postgres.PlatformFedora, Name: "fedora", Version: "39"},
		},
		{
			name:    "derivative through ID_LIKE",
			content: "ID=pop\nID_LIKE=\"ubuntu debian\"\nVERSION_ID=22.04\n",
			want:    Platform{Family: postgres.PlatformDebian, Name: "pop", Version: "22.04"},
		},
		{
			name:    "unknown",
			content: "ID=alpine\nVERSION_ID=3.19.0\n",
			want:    Platform{Family: postgres.PlatformOther, Name: "alpine", Version: "3.19.0"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseOSRelease(tt.content))
		})
	}
}

func TestDetectPlatform(t *testing.T) {
	fake := &execxtest.Fake{Respond: func(execx.Invocation) (*execx.Result, error) {
		return execxtest.Exit(0, "ID=debian\nVERSION_ID=\"12\"\n"), nil
	}}
	p, err := DetectPlatform(context.Background(), fake)
	require.NoError(t, err)
	assert.Equal(t, postgres.PlatformDebian, p.Family)
	assert.Equal(t, []string{"cat /etc/os-release"}, fake.Commands())

	failing := &execxtest.Fake{Respond: func(execx.Invocation) (*execx.Result, error) {
		return &execx.Result{ExitCode: 1, Stderr: "No such file"}, nil
	}}
	_, err = DetectPlatform(context.Background(), failing)
	assert.ErrorContains(t, err, "No such file")
}

func TestInventoryRPM(t *testing.T) {
	fake := &execxtest.Fake{Respond: func(execx.Invocation) (*execx.Result, error) {
		return execxtest.Exit(0,
			"postgresql14\t14.2\t1PGDG.rhel8\n"+
				"postgresql14-server\t14.2\t1PGDG.rhel8\n"+
				"postgresql-odd\t1.0\t(none)\n"+
				"\n"), nil
	}}
	inv, err := NewInventory(fake, postgres.PlatformRHEL, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, ManagerRPM, inv.Manager())

	packages, err := inv.Packages(context.Background())
	require.NoError(t, err)
	assert.Len(t, packages, 3)
	assert.Equal(t, postgres.Package{Name: "postgresql14", Version: "14.2", Release: "1PGDG.rhel8"}, packages["postgresql14"])
	assert.Empty(t, packages["postgresql-odd"].Release)

	require.Len(t, fake.Calls, 1)
	assert.Equal(t, "rpm", fake.Calls[0].Program)
	assert.Equal(t, PackagePattern, fake.Calls[0].Args[len(fake.Calls[0].Args)-1])

	version, source, err := postgres.ResolveVersionSource(packages)
	require.NoError(t, err)
	assert.Equal(t, 14, version.Major)
	assert.Equal(t, postgres.SourceRepo, source)
}

func TestInventoryDpkg(t *testing.T) {
	fake := &execxtest.Fake{Respond: func(execx.Invocation) (*execx.Result, error) {
		return execxtest.Exit(0,
			"postgresql-15\t15.4-1.pgdg22.04+1\tii \n"+
				"postgresql-common\t254.pgdg22.04+1\tii \n"+
				"postgresql-14\t14.9-1\trc \n"+
				"postgresql-client-15:amd64\t15.4-1.pgdg22.04+1\tii \n"), nil
	}}
	inv, err := NewInventory(fake, postgres.PlatformDebian, zerolog.Nop())
	require.NoError(t, err)

	packages, err := inv.Packages(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, packages, "postgresql-14")
	assert.Contains(t, packages, "postgresql-client-15")
	assert.Equal(t, "15.4-1.pgdg22.04+1", packages["postgresql-15"].Version)
	assert.Equal(t, "dpkg-query", fake.Calls[0].Program)

	_, source, err := postgres.ResolveVersionSource(packages)
	require.NoError(t, err)
	assert.Equal(t, postgres.SourceRepo, source)
}

func TestInventoryNoMatches(t *testing.T) {
	fake := &execxtest.Fake{Respond: func(execx.Invocation) (*execx.Result, error) {
		return &execx.Result{ExitCode: 1, Stderr: "dpkg-query: no packages found matching postgresql*\n"}, nil
	}}
	inv, err := NewInventory(fake, postgres.PlatformDebian, zerolog.Nop())
	require.NoError(t, err)

	packages, err := inv.Packages(context.Background())
	require.NoError(t, err)
	assert.Empty(t, packages)
}

func TestInventoryErrors(t *testing.T) {
	_, err := NewInventory(&execxtest.Fake{}, postgres.PlatformOther, zerolog.Nop())
	assert.True(t, postgres.IsUnsupportedPlatform(err))

	broken := &execxtest.Fake{Respond: func(execx.Invocation) (*execx.Result, error) {
		return nil, errors.New("rpm: not found")
	}}
	inv, err := NewInventory(broken, postgres.PlatformAmazon, zerolog.Nop())
	require.NoError(t, err)
	_, err = inv.Packages(context.Background())
	assert.ErrorContains(t, err, "rpm: not found")

	failing := &execxtest.Fake{Respond: func(execx.Invocation) (*execx.Result, error) {
		return &execx.Result{ExitCode: 2, Stderr: "error: rpmdb open failed"}, nil
	}}
	inv, err = NewInventory(failing, postgres.PlatformRHEL, zerolog.Nop())
	require.NoError(t, err)
	_, err = inv.Packages(context.Background())
	assert.ErrorContains(t, err, "rpmdb open failed")
}
