package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/openfroyo/pgfroyo/pkg/execx"
)

// Prober answers the existence predicates that gate create and drop.
type Prober interface {
	DatabaseExists(ctx context.Context, spec DatabaseSpec) (bool, error)
	RoleExists(ctx context.Context, spec RoleSpec) (bool, error)
}

// CommandProber evaluates existence with psql catalog queries.
// A target exists when psql exits 0 and prints a line equal to its name;
// substring matches such as name-with-dash-2 for name-with-dash do not count.
type CommandProber struct {
	runner   execx.Runner
	composer Composer
}

// NewCommandProber creates a psql based prober.
func NewCommandProber(runner execx.Runner, rc ResolvedContext) *CommandProber {
	return &CommandProber{runner: runner, composer: NewComposer(rc)}
}

// DatabaseExists implements Prober.
func (p *CommandProber) DatabaseExists(ctx context.Context, spec DatabaseSpec) (bool, error) {
	return p.probe(ctx, p.composer.DatabaseExists(spec), userOrDefault(spec.User), spec.Database)
}

// RoleExists implements Prober.
func (p *CommandProber) RoleExists(ctx context.Context, spec RoleSpec) (bool, error) {
	return p.probe(ctx, p.composer.RoleExists(spec), userOrDefault(spec.User), spec.Name)
}

func (p *CommandProber) probe(ctx context.Context, cmd Command, user, name string) (bool, error) {
	res, err := p.runner.Run(ctx, cmd.Invocation(user))
	if err != nil {
		return false, fmt.Errorf("existence check for %s: %w", name, err)
	}
	if !res.Success() {
		return false, nil
	}
	return containsLine(res.Stdout, name), nil
}

func containsLine(output, want string) bool {
	for _, line := range strings.Split(output, "\n") {
		if strings.TrimSpace(line) == want {
			return true
		}
	}
	return false
}

// DefaultOSUser is the identity client tools run as when a spec names none.
const DefaultOSUser = "postgres"

func userOrDefault(u string) string {
	if u == "" {
		return DefaultOSUser
	}
	return u
}
