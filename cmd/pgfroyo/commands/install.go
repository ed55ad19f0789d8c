package commands

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/openfroyo/pgfroyo/pkg/install"
	"github.com/openfroyo/pgfroyo/pkg/postgres"
)

func newInstallCommand() *cobra.Command {
	var role, pgVersion, source string
	var options []string

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install the PostgreSQL packages that are missing",
		Long: `Install whichever packages of the selected role, version and source are
missing on the host. Installed packages are never upgraded or removed.

Defaults come from the install section of the configuration. PGDG (repo)
packages expect the PGDG repository to be configured already; "pgfroyo
packages" prints its URL.`,
		Example: `  pgfroyo install
  pgfroyo install --source repo --pg-version 16
  pgfroyo install --role client --option=--setopt=install_weak_deps=False`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, "install", func(ctx context.Context, s *session) error {
				src, err := postgres.ParsePackageSource(firstNonEmpty(source, s.cfg.Install.Source))
				if err != nil {
					return err
				}
				req := install.Request{
					Role:     postgres.PackageRole(firstNonEmpty(role, s.cfg.Install.Role)),
					Version:  firstNonEmpty(pgVersion, s.cfg.Install.Version),
					Source:   src,
					Platform: s.platform,
					Options:  s.cfg.Install.Options,
				}
				if len(options) > 0 {
					req.Options = options
				}
				if src == postgres.SourceRepo {
					if err := postgres.ValidateVersion(req.Version); err != nil {
						return err
					}
				}

				installer := install.New(s.exec,
					install.WithUser(s.privilegedUser()),
					install.WithLogger(s.logger))
				res, err := installer.Ensure(ctx, req)
				if err != nil {
					return err
				}

				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), res)
				}
				w := cmd.OutOrStdout()
				if res.Changed {
					changedColor.Fprintf(w, "installed %d %s with %s: %v (%s)\n",
						len(res.Installed), plural(len(res.Installed), "package"), res.Manager, res.Installed,
						formatDuration(res.Duration))
				} else {
					okColor.Fprintf(w, "already present: %v\n", res.Packages)
				}
				if res.ModuleDisabled {
					warnColor.Fprintln(w, "disabled the distribution postgresql dnf module")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "package role (server, client)")
	cmd.Flags().StringVar(&pgVersion, "pg-version", "", "PostgreSQL release line, e.g. 16")
	cmd.Flags().StringVar(&source, "source", "", "package source (os, repo)")
	cmd.Flags().StringArrayVar(&options, "option", nil, "extra package manager argument (repeatable)")

	return cmd
}

func newInitDBCommand() *cobra.Command {
	var locale, encoding, extra string

	cmd := &cobra.Command{
		Use:   "initdb",
		Short: "Initialize the data directory unless it already is",
		Long: `Run initdb for the resolved data directory. Nothing happens when the
PG_VERSION marker already exists there. A change reloads the service.`,
		Example: `  pgfroyo initdb
  pgfroyo initdb --locale en_US.UTF-8 --encoding UTF8 --options "--data-checksums"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, "initdb", func(ctx context.Context, s *session) error {
				runner, err := s.runner(ctx)
				if err != nil {
					return err
				}
				spec := s.cfg.InitDBSpec()
				if locale != "" {
					spec.Locale = locale
				}
				if encoding != "" {
					spec.Encoding = encoding
				}
				if extra != "" {
					spec.AdditionalOptions = extra
				}

				result, err := runner.InitDB(ctx, spec)
				return report(cmd, result, err)
			})
		},
	}

	cmd.Flags().StringVar(&locale, "locale", "", "cluster locale")
	cmd.Flags().StringVar(&encoding, "encoding", "", "cluster encoding")
	cmd.Flags().StringVar(&extra, "options", "", "additional initdb options, shell-quoted")

	return cmd
}

// report prints one operation result and passes err through.
func report(cmd *cobra.Command, result *postgres.OperationResult, err error) error {
	if result == nil {
		return err
	}
	if jsonOutput {
		if perr := printJSON(cmd.OutOrStdout(), result); perr != nil {
			return perr
		}
		return err
	}
	printResult(cmd.OutOrStdout(), result)
	return err
}
