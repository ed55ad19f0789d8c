// Package install ensures the PostgreSQL server or client packages resolved
// for a host are present, using the platform's package manager.
package install

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/openfroyo/pgfroyo/pkg/execx"
	"github.com/openfroyo/pgfroyo/pkg/facts"
	"github.com/openfroyo/pgfroyo/pkg/postgres"
)

// Request selects the package set to ensure.
type Request struct {
	Role     postgres.PackageRole
	Version  string
	Source   postgres.PackageSource
	Platform facts.Platform
	// Options are extra package manager arguments placed before the package names.
	Options []string
}

// Result is the outcome of an ensure call.
type Result struct {
	Manager        string        `json:"manager"`
	Packages       []string      `json:"packages"`
	Installed      []string      `json:"installed,omitempty"`
	ModuleDisabled bool          `json:"module_disabled,omitempty"`
	Changed        bool          `json:"changed"`
	Action         string        `json:"action"`
	Duration       time.Duration `json:"duration"`
}

// Installer installs missing packages. It never upgrades or removes.
type Installer struct {
	runner execx.Runner
	user   string
	logger zerolog.Logger
}

// Option configures an Installer.
type Option func(*Installer)

// WithUser runs the package manager as user (usually root).
func WithUser(user string) Option {
	return func(i *Installer) { i.user = user }
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(i *Installer) { i.logger = logger }
}

// New creates an installer executing through runner.
func New(runner execx.Runner, opts ...Option) *Installer {
	i := &Installer{runner: runner, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(i)
	}
	i.logger = i.logger.With().Str("component", "installer").Logger()
	return i
}

// Ensure installs whichever of the resolved packages are missing.
func (i *Installer) Ensure(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()

	names, err := postgres.PackageNames(req.Role, req.Version, req.Source, req.Platform.Family)
	if err != nil {
		return nil, err
	}
	manager, err := managerFor(req.Platform)
	if err != nil {
		return nil, err
	}

	result := &Result{Manager: manager, Packages: names}

	var missing []string
	for _, name := range names {
		installed, err := i.isInstalled(ctx, req.Platform.Family, name)
		if err != nil {
			return nil, fmt.Errorf("failed to check package %s: %w", name, err)
		}
		if !installed {
			missing = append(missing, name)
		}
	}

	if len(missing) == 0 {
		result.Action = "already_present"
		result.Duration = time.Since(start)
		i.logger.Info().Strs("packages", names).Msg("packages already present")
		return result, nil
	}

	if req.Source == postgres.SourceRepo && postgres.DNFModulePlatform(req.Platform.Family, req.Platform.Version) {
		if err := i.run(ctx, manager, "-qy", "module", "disable", "postgresql"); err != nil {
			return nil, fmt.Errorf("failed to disable the postgresql dnf module: %w", err)
		}
		result.ModuleDisabled = true
	}

	args := append([]string{"install", "-y"}, req.Options...)
	args = append(args, missing...)
	if err := i.run(ctx, manager, args...); err != nil {
		return nil, fmt.Errorf("failed to install packages: %w", err)
	}

	result.Installed = missing
	result.Changed = true
	result.Action = "installed"
	result.Duration = time.Since(start)
	i.logger.Info().Strs("packages", missing).Str("manager", manager).Msg("installed packages")
	return result, nil
}

func (i *Installer) isInstalled(ctx context.Context, family postgres.PlatformFamily, name string) (bool, error) {
	inv := execx.Invocation{Program: "rpm", Args: []string{"-q", name}}
	if family == postgres.PlatformDebian {
		inv = execx.Invocation{Program: "dpkg-query", Args: []string{"-W", "-f", "${db:Status-Abbrev}", name}}
	}

	res, err := i.runner.Run(ctx, inv)
	if err != nil {
		return false, err
	}
	if !res.Success() {
		return false, nil
	}
	if family == postgres.PlatformDebian {
		return strings.HasPrefix(res.Stdout, "ii"), nil
	}
	return true, nil
}

func (i *Installer) run(ctx context.Context, program string, args ...string) error {
	inv := execx.Invocation{Program: program, Args: args, User: i.user}
	if program == "apt-get" {
		inv.Env = map[string]string{"DEBIAN_FRONTEND": "noninteractive"}
	}
	res, err := i.runner.Run(ctx, inv)
	if err != nil {
		return err
	}
	if !res.Success() {
		return fmt.Errorf("%s exited with status %d: %s", inv.String(), res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// managerFor picks the package manager front end for a platform.
func managerFor(p facts.Platform) (string, error) {
	switch p.Family {
	case postgres.PlatformDebian:
		return "apt-get", nil
	case postgres.PlatformFedora:
		return "dnf", nil
	case postgres.PlatformAmazon:
		return "yum", nil
	case postgres.PlatformRHEL:
		major, _, _ := strings.Cut(p.Version, ".")
		if n, err := strconv.Atoi(major); err == nil && n < 8 {
			return "yum", nil
		}
		return "dnf", nil
	default:
		return "", postgres.NewUnsupportedPlatformError(p.Family, "")
	}
}
