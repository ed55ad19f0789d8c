// Package postgres resolves how PostgreSQL is laid out on a host and drives
// idempotent lifecycle operations against it.
//
// # Overview
//
// Work happens in two phases:
//
//  1. Resolve - query the package inventory once and derive a ResolvedContext
//     (major version, package source, data and config directories, service name)
//  2. Operate - compose one command from the context and a spec, check whether
//     the target already is in the desired state, and run the command only if not
//
// The resolved context is a value. It is computed from a single
// (version, source, platform) triple and never cached between operations.
//
// # Resolution Tables
//
// Paths by platform family:
//
//	rhel/fedora/amazon, repo  /var/lib/pgsql/{v}/data      (data and conf)
//	rhel/fedora/amazon, os    /var/lib/pgsql/data          (data and conf)
//	debian                    /var/lib/postgresql/{v}/main  /etc/postgresql/{v}/main
//
// Any other family fails with an unsupported platform error before anything runs.
//
// # Commands
//
// Commands are argument vectors built from ordered (predicate, fragment) pairs.
// Names never pass through a shell. SQL is parameterized with psql variables
// and read from stdin, and credentials travel only in the environment or on
// stdin. Redacted renders a command for logs and errors.
//
// # Operations
//
// Runner exposes create, drop and update for databases and roles plus initdb:
//
//	rc, err := postgres.NewResolver(inventory, postgres.PlatformDebian, logger).Resolve(ctx)
//	if err != nil {
//	    return err
//	}
//	runner := postgres.NewRunner(rc, execx.NewLocalRunner(logger))
//	result, err := runner.CreateDatabase(ctx, postgres.DatabaseSpec{Database: "sous_chef"})
//
// Create and drop are gated on an existence check that always runs first.
// Update is unconditional. Every changed result is passed to the Notifier.
//
// # Errors
//
// Failures are *Error values classified by Kind:
//
//   - resolution: no usable PostgreSQL package in the inventory
//   - unsupported_platform: the platform has no entry in the tables
//   - operation_failed: the command exited non-zero
//   - invalid_spec: input was rejected before anything was composed
//
// Use errors.Is with the Err* sentinels or the Is* helpers.
package postgres
