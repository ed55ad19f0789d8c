package postgres

import (
	"context"

	"github.com/rs/zerolog"
)

// Resolver derives a ResolvedContext from live host state.
// It keeps no cache: every Resolve call queries the inventory again.
type Resolver struct {
	inventory Inventory
	platform  PlatformFamily
	logger    zerolog.Logger
}

// NewResolver creates a resolver for a host of the given platform family.
func NewResolver(inventory Inventory, platform PlatformFamily, logger zerolog.Logger) *Resolver {
	return &Resolver{
		inventory: inventory,
		platform:  ParsePlatformFamily(string(platform)),
		logger:    logger.With().Str("component", "resolver").Logger(),
	}
}

// Resolve queries the inventory and computes the full context in one pass.
func (r *Resolver) Resolve(ctx context.Context) (ResolvedContext, error) {
	packages, err := r.inventory.Packages(ctx)
	if err != nil {
		return ResolvedContext{}, NewResolutionError("unable to query package inventory", err)
	}

	version, source, err := ResolveVersionSource(packages)
	if err != nil {
		return ResolvedContext{}, err
	}

	r.logger.Info().
		Int("version", version.Major).
		Str("source", string(source)).
		Msgf("Detected installed PostgreSQL version: %d installed from %s", version.Major, source)

	return NewResolvedContext(version, source, r.platform)
}

// NewResolvedContext computes every derived field from one triple.
func NewResolvedContext(version ResolvedVersion, source PackageSource, platform PlatformFamily) (ResolvedContext, error) {
	paths, err := ResolvePaths(version, source, platform)
	if err != nil {
		return ResolvedContext{}, err
	}
	return ResolvedContext{
		Version:     version,
		Source:      source,
		Platform:    platform,
		DataDir:     paths.DataDir,
		ConfDir:     paths.ConfDir,
		ServiceName: ServiceName(version, source, platform),
	}, nil
}
