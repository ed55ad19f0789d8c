package install

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/pgfroyo/pkg/execx"
	"github.com/openfroyo/pgfroyo/pkg/execx/execxtest"
	"github.com/openfroyo/pgfroyo/pkg/facts"
	"github.com/openfroyo/pgfroyo/pkg/postgres"
)

func TestEnsureInstallsMissing(t *testing.T) {
	installed := map[string]bool{"postgresql14-contrib": true}
	fake := &execxtest.Fake{Respond: func(inv execx.Invocation) (*execx.Result, error) {
		if inv.Program == "rpm" {
			if installed[inv.Args[1]] {
				return execxtest.Exit(0, inv.Args[1]+"-14.2-1PGDG.rhel8.x86_64\n"), nil
			}
			return execxtest.Exit(1, "package "+inv.Args[1]+" is not installed\n"), nil
		}
		return execxtest.Exit(0, ""), nil
	}}

	result, err := New(fake, WithUser("root")).Ensure(context.Background(), Request{
		Role:     postgres.RoleServer,
		Version:  "14",
		Source:   postgres.SourceRepo,
		Platform: facts.Platform{Family: postgres.PlatformRHEL, Name: "rocky", Version: "8.9"},
	})
	require.NoError(t, err)
	assert.True(t, result.Changed)
	assert.True(t, result.ModuleDisabled)
	assert.Equal(t, "dnf", result.Manager)
	assert.Equal(t, []string{"postgresql14-server"}, result.Installed)

	assert.Equal(t, []string{
		"rpm -q postgresql14-contrib",
		"rpm -q postgresql14-server",
		"dnf -qy module disable postgresql",
		"dnf install -y postgresql14-server",
	}, fake.Commands())
	assert.Equal(t, "root", fake.Calls[3].User)
}

func TestEnsureAlreadyPresent(t *testing.T) {
	fake := &execxtest.Fake{Respond: func(inv execx.Invocation) (*execx.Result, error) {
		return execxtest.Exit(0, "ii "), nil
	}}

	result, err := New(fake).Ensure(context.Background(), Request{
		Role:     postgres.RoleClient,
		Source:   postgres.SourceOS,
		Platform: facts.Platform{Family: postgres.PlatformDebian, Name: "debian", Version: "12"},
	})
	require.NoError(t, err)
	assert.False(t, result.Changed)
	assert.Equal(t, "already_present", result.Action)
	assert.Equal(t, []string{"dpkg-query -W -f '${db:Status-Abbrev}' postgresql-client"}, fake.Commands())
}

func TestEnsureDebianNoninteractive(t *testing.T) {
	fake := &execxtest.Fake{Respond: func(inv execx.Invocation) (*execx.Result, error) {
		if inv.Program == "dpkg-query" {
			return execxtest.Exit(0, "un "), nil
		}
		return execxtest.Exit(0, ""), nil
	}}

	result, err := New(fake).Ensure(context.Background(), Request{
		Role:     postgres.RoleServer,
		Version:  "15",
		Source:   postgres.SourceRepo,
		Platform: facts.Platform{Family: postgres.PlatformDebian, Name: "ubuntu", Version: "22.04"},
		Options:  []string{"--no-install-recommends"},
	})
	require.NoError(t, err)
	assert.False(t, result.ModuleDisabled)

	last := fake.Calls[len(fake.Calls)-1]
	assert.Equal(t, "apt-get install -y --no-install-recommends postgresql-15 postgresql-common", last.String())
	assert.Equal(t, "noninteractive", last.Env["DEBIAN_FRONTEND"])
}

func TestEnsureFailure(t *testing.T) {
	fake := &execxtest.Fake{Respond: func(inv execx.Invocation) (*execx.Result, error) {
		if inv.Program == "rpm" {
			return execxtest.Exit(1, ""), nil
		}
		return &execx.Result{ExitCode: 1, Stderr: "No match for argument: postgresql-server"}, nil
	}}

	_, err := New(fake).Ensure(context.Background(), Request{
		Role:     postgres.RoleServer,
		Source:   postgres.SourceOS,
		Platform: facts.Platform{Family: postgres.PlatformRHEL, Version: "7.9"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "No match for argument")
	assert.Contains(t, err.Error(), "yum install")
}

func TestEnsureUnsupported(t *testing.T) {
	fake := &execxtest.Fake{}
	_, err := New(fake).Ensure(context.Background(), Request{
		Role:     postgres.RoleServer,
		Source:   postgres.SourceOS,
		Platform: facts.Platform{Family: postgres.PlatformOther},
	})
	assert.True(t, postgres.IsUnsupportedPlatform(err))
	assert.Empty(t, fake.Calls)
}

func TestManagerFor(t *testing.T) {
	tests := []struct {
		platform facts.Platform
		want     string
	}{
		{facts.Platform{Family: postgres.PlatformRHEL, Version: "7.9"}, "yum"},
		{facts.Platform{Family: postgres.PlatformRHEL, Version: "9.3"}, "dnf"},
		{facts.Platform{Family: postgres.PlatformFedora, Version: "39"}, "dnf"},
		{facts.Platform{Family: postgres.PlatformAmazon, Version: "2"}, "yum"},
		{facts.Platform{Family: postgres.PlatformDebian, Version: "12"}, "apt-get"},
	}
	for _, tt := range tests {
		got, err := managerFor(tt.platform)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}
}
