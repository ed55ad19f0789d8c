package facts

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/openfroyo/pgfroyo/pkg/execx"
	"github.com/openfroyo/pgfroyo/pkg/postgres"
)

// Manager is a package database backend.
type Manager string

const (
	ManagerRPM  Manager = "rpm"
	ManagerDpkg Manager = "dpkg"
)

// ManagerFor returns the package database used on a platform family.
func ManagerFor(family postgres.PlatformFamily) (Manager, error) {
	switch {
	case family.RHELFamily():
		return ManagerRPM, nil
	case family == postgres.PlatformDebian:
		return ManagerDpkg, nil
	default:
		return "", postgres.NewUnsupportedPlatformError(family, "")
	}
}

// PackagePattern limits inventory queries to PostgreSQL packages.
const PackagePattern = "postgresql*"

// Inventory queries installed packages through the process facility.
// It implements postgres.Inventory.
type Inventory struct {
	runner  execx.Runner
	manager Manager
	logger  zerolog.Logger
}

// NewInventory creates an inventory for a platform family.
func NewInventory(runner execx.Runner, family postgres.PlatformFamily, logger zerolog.Logger) (*Inventory, error) {
	manager, err := ManagerFor(family)
	if err != nil {
		return nil, err
	}
	return &Inventory{
		runner:  runner,
		manager: manager,
		logger:  logger.With().Str("component", "inventory").Str("manager", string(manager)).Logger(),
	}, nil
}

// Manager returns the backend in use.
func (i *Inventory) Manager() Manager {
	return i.manager
}

// Packages implements postgres.Inventory.
func (i *Inventory) Packages(ctx context.Context) (map[string]postgres.Package, error) {
	inv := i.invocation()
	res, err := i.runner.Run(ctx, inv)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", i.manager, err)
	}

	if !res.Success() {
		// dpkg-query exits 1 when nothing matches the pattern.
		if i.manager == ManagerDpkg && strings.Contains(res.Stderr, "no packages found") {
			return map[string]postgres.Package{}, nil
		}
		return nil, fmt.Errorf("%s exited with status %d: %s", inv.Program, res.ExitCode, strings.TrimSpace(res.Stderr))
	}

	var packages map[string]postgres.Package
	if i.manager == ManagerRPM {
		packages = parseRPM(res.Stdout)
	} else {
		packages = parseDpkg(res.Stdout)
	}
	i.logger.Debug().Int("count", len(packages)).Msg("queried package inventory")
	return packages, nil
}

func (i *Inventory) invocation() execx.Invocation {
	if i.manager == ManagerRPM {
		return execx.Invocation{
			Program: "rpm",
			Args:    []string{"-qa", "--queryformat", `%{NAME}\t%{VERSION}\t%{RELEASE}\n`, PackagePattern},
		}
	}
	return execx.Invocation{
		Program: "dpkg-query",
		Args:    []string{"-W", "-f", `${Package}\t${Version}\t${db:Status-Abbrev}\n`, PackagePattern},
	}
}

// parseRPM parses NAME\tVERSION\tRELEASE lines.
func parseRPM(out string) map[string]postgres.Package {
	packages := make(map[string]postgres.Package)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Split(strings.TrimRight(line, "\r"), "\t")
		if len(fields) < 2 || fields[0] == "" {
			continue
		}
		pkg := postgres.Package{Name: fields[0], Version: fields[1]}
		if len(fields) > 2 && fields[2] != "(none)" {
			pkg.Release = fields[2]
		}
		packages[pkg.Name] = pkg
	}
	return packages
}

// parseDpkg parses Package\tVersion\tStatus lines, keeping installed packages only.
// dpkg has no release field; the vendor marker lives in the version.
func parseDpkg(out string) map[string]postgres.Package {
	packages := make(map[string]postgres.Package)
	for _, line := range strings.Split(out, "\n") {
		fields := strings.Split(strings.TrimRight(line, "\r"), "\t")
		if len(fields) < 2 || fields[0] == "" || fields[1] == "" {
			continue
		}
		if len(fields) > 2 && !strings.HasPrefix(fields[2], "ii") {
			continue
		}
		name, _, _ := strings.Cut(fields[0], ":")
		packages[name] = postgres.Package{Name: name, Version: fields[1]}
	}
	return packages
}
