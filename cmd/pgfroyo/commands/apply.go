package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/pgfroyo/pkg/config"
	"github.com/openfroyo/pgfroyo/pkg/postgres"
)

// lifecycle is the subset of postgres.Runner that apply drives.
type lifecycle interface {
	InitDB(ctx context.Context, spec postgres.InitDBSpec) (*postgres.OperationResult, error)
	CreateDatabase(ctx context.Context, spec postgres.DatabaseSpec) (*postgres.OperationResult, error)
	DropDatabase(ctx context.Context, spec postgres.DatabaseSpec) (*postgres.OperationResult, error)
	UpdateDatabase(ctx context.Context, spec postgres.DatabaseSpec, attributes map[string]string) (*postgres.OperationResult, error)
	CreateRole(ctx context.Context, spec postgres.RoleSpec) (*postgres.OperationResult, error)
	DropRole(ctx context.Context, spec postgres.RoleSpec) (*postgres.OperationResult, error)
	UpdateRole(ctx context.Context, spec postgres.RoleSpec, attributes map[string]string) (*postgres.OperationResult, error)
}

// convergeOptions tune one apply pass.
type convergeOptions struct {
	SkipInitDB bool
}

// applyReport is what one apply pass did.
type applyReport struct {
	Results []*postgres.OperationResult `json:"results"`
	// GeneratedPasswords maps newly created roles to their generated password.
	GeneratedPasswords map[string]string `json:"generated_passwords,omitempty"`
}

func (r *applyReport) add(result *postgres.OperationResult) {
	if result != nil {
		r.Results = append(r.Results, result)
	}
}

// converge brings the host to the manifest in cfg. The cluster is
// initialized first, then present roles and databases are created and
// updated, then absent databases and roles are dropped. The first failure
// stops the pass; the report holds everything done up to it.
func converge(ctx context.Context, lc lifecycle, cfg *config.Config, opts convergeOptions) (*applyReport, error) {
	out := &applyReport{}

	if !opts.SkipInitDB {
		result, err := lc.InitDB(ctx, cfg.InitDBSpec())
		out.add(result)
		if err != nil {
			return out, err
		}
	}

	for _, entry := range cfg.Roles {
		if !entry.Present() {
			continue
		}
		spec := cfg.RoleSpec(entry.RoleSpec)
		pw, generated, err := postgres.ResolvePassword(spec.Password)
		if err != nil {
			return out, err
		}
		spec.Password = pw

		result, err := lc.CreateRole(ctx, spec)
		out.add(result)
		if err != nil {
			return out, err
		}
		if generated && result.Changed {
			if out.GeneratedPasswords == nil {
				out.GeneratedPasswords = map[string]string{}
			}
			out.GeneratedPasswords[spec.Name] = pw
		}

		if len(spec.Attributes) > 0 {
			// A generated password is only set at creation.
			if generated {
				spec.Password = ""
			}
			result, err := lc.UpdateRole(ctx, spec, spec.Attributes)
			out.add(result)
			if err != nil {
				return out, err
			}
		}
	}

	for _, entry := range cfg.Databases {
		if !entry.Present() {
			continue
		}
		spec := cfg.DatabaseSpec(entry.DatabaseSpec)
		result, err := lc.CreateDatabase(ctx, spec)
		out.add(result)
		if err != nil {
			return out, err
		}
		if len(spec.Attributes) > 0 {
			result, err := lc.UpdateDatabase(ctx, spec, spec.Attributes)
			out.add(result)
			if err != nil {
				return out, err
			}
		}
	}

	for _, entry := range cfg.Databases {
		if entry.Present() {
			continue
		}
		result, err := lc.DropDatabase(ctx, cfg.DatabaseSpec(entry.DatabaseSpec))
		out.add(result)
		if err != nil {
			return out, err
		}
	}

	for _, entry := range cfg.Roles {
		if entry.Present() {
			continue
		}
		result, err := lc.DropRole(ctx, cfg.RoleSpec(entry.RoleSpec))
		out.add(result)
		if err != nil {
			return out, err
		}
	}

	return out, nil
}

func newApplyCommand() *cobra.Command {
	var opts convergeOptions

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Converge the host to the databases and roles in the configuration",
		Long: `Apply the manifest from the configuration file: initialize the cluster,
create and update the roles and databases whose state is present, then drop
the databases and roles whose state is absent.

Create and drop steps are idempotent, so running apply again only reports
changes for entries with attributes, which are reapplied every time. The
first failing step stops the run.`,
		Example: `  pgfroyo apply
  pgfroyo apply -c ./pgfroyo.yaml --host db1.example.com
  pgfroyo apply --no-initdb --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, "apply", func(ctx context.Context, s *session) error {
				if len(s.cfg.Databases) == 0 && len(s.cfg.Roles) == 0 && opts.SkipInitDB {
					s.logger.Warn().Msg("nothing to apply: the configuration lists no databases or roles")
					return nil
				}

				runner, err := s.runner(ctx)
				if err != nil {
					return err
				}
				rc := runner.Context()
				s.logger.Info().
					Str("version", rc.Version.String()).
					Str("data_dir", rc.DataDir).
					Int("databases", len(s.cfg.Databases)).
					Int("roles", len(s.cfg.Roles)).
					Msg("applying manifest")
				applied, err := converge(ctx, runner, s.cfg, opts)

				if jsonOutput {
					if perr := printJSON(cmd.OutOrStdout(), applied); perr != nil {
						return perr
					}
					return err
				}
				w := cmd.OutOrStdout()
				printResults(w, applied.Results)
				for role, pw := range applied.GeneratedPasswords {
					warnColor.Fprintf(w, "generated password for %s (shown once): ", role)
					fmt.Fprintln(w, pw)
				}
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&opts.SkipInitDB, "no-initdb", false, "do not initialize the cluster first")

	return cmd
}
