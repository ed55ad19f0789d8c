package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/pgfroyo/pkg/facts"
	"github.com/openfroyo/pgfroyo/pkg/postgres"
	"github.com/openfroyo/pgfroyo/pkg/service"
)

// PGDGYumBaseURL is the root of the PGDG yum repositories.
const PGDGYumBaseURL = "https://download.postgresql.org/pub/repos/yum"

func newResolveCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve",
		Short: "Show the PostgreSQL layout detected on the host",
		Long: `Detect the installed PostgreSQL major version and package source from the
package database, and derive the data directory, configuration directory and
service name from them.`,
		Example: `  # Resolve the local host
  pgfroyo resolve

  # Resolve a remote host
  pgfroyo resolve --host db1.example.com --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, "resolve", func(ctx context.Context, s *session) error {
				rc, err := s.resolve(ctx)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), rc)
				}
				printResolved(cmd.OutOrStdout(), rc)
				return nil
			})
		},
	}
}

type packagesOutput struct {
	Platform       facts.Platform `json:"platform"`
	Role           string         `json:"role"`
	Version        string         `json:"version,omitempty"`
	Source         string         `json:"source"`
	Packages       []string       `json:"packages"`
	RepoURL        string         `json:"repo_url,omitempty"`
	CommonRepoURL  string         `json:"common_repo_url,omitempty"`
	DisablesModule bool           `json:"disables_dnf_module,omitempty"`
}

func newPackagesCommand() *cobra.Command {
	var role, pgVersion, source string

	cmd := &cobra.Command{
		Use:   "packages",
		Short: "List the package names for a role, version and source",
		Long: `List the packages that make up the PostgreSQL server or client on the
host's platform. Defaults come from the install section of the configuration.

For PGDG (repo) packages on rpm platforms the yum repository URLs are shown too.`,
		Example: `  pgfroyo packages
  pgfroyo packages --role client --source repo --pg-version 16`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, "packages", func(ctx context.Context, s *session) error {
				out := packagesOutput{
					Platform: s.platform,
					Role:     firstNonEmpty(role, s.cfg.Install.Role),
					Version:  firstNonEmpty(pgVersion, s.cfg.Install.Version),
					Source:   firstNonEmpty(source, s.cfg.Install.Source),
				}
				src, err := postgres.ParsePackageSource(out.Source)
				if err != nil {
					return err
				}
				if src == postgres.SourceRepo {
					if err := postgres.ValidateVersion(out.Version); err != nil {
						return err
					}
				}

				names, err := postgres.PackageNames(postgres.PackageRole(out.Role), out.Version, src, s.platform.Family)
				if err != nil {
					return err
				}
				out.Packages = names

				if src == postgres.SourceRepo && s.platform.Family.RHELFamily() {
					out.RepoURL = postgres.YumRepoURL(PGDGYumBaseURL, out.Version, s.platform.Family, s.platform.Name)
					out.CommonRepoURL = postgres.YumCommonRepoURL(s.platform.Family, s.platform.Name)
					out.DisablesModule = postgres.DNFModulePlatform(s.platform.Family, s.platform.Version)
				}

				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), out)
				}
				w := cmd.OutOrStdout()
				for _, name := range out.Packages {
					fmt.Fprintln(w, name)
				}
				if out.RepoURL != "" {
					fmt.Fprintf(w, "\nrepository:        %s\n", out.RepoURL)
					fmt.Fprintf(w, "common repository: %s\n", out.CommonRepoURL)
				}
				if out.DisablesModule {
					warnColor.Fprintln(w, "the distribution postgresql dnf module is disabled before installing")
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&role, "role", "", "package role (server, client)")
	cmd.Flags().StringVar(&pgVersion, "pg-version", "", "PostgreSQL release line, e.g. 16")
	cmd.Flags().StringVar(&source, "source", "", "package source (os, repo)")

	return cmd
}

type statusOutput struct {
	Host          string                   `json:"host"`
	Platform      facts.Platform           `json:"platform"`
	Resolved      postgres.ResolvedContext `json:"resolved"`
	Initialized   bool                     `json:"initialized"`
	Follower      bool                     `json:"follower"`
	Service       *service.Status          `json:"service,omitempty"`
	ServerVersion string                   `json:"server_version,omitempty"`
	InRecovery    *bool                    `json:"in_recovery,omitempty"`
}

func newStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the cluster state on the host",
		Long: `Show the resolved layout, whether the data directory is initialized,
whether the cluster is a follower (recovery.conf present), and the service
state. With pgconn enabled the server version and recovery state are read
over SQL as well.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, "status", func(ctx context.Context, s *session) error {
				rc, err := s.resolve(ctx)
				if err != nil {
					return err
				}
				out := statusOutput{Host: s.host, Platform: s.platform, Resolved: rc}

				if out.Initialized, err = postgres.Initialized(ctx, s.files, rc); err != nil {
					return fmt.Errorf("failed to check initialization: %w", err)
				}
				if out.Follower, err = postgres.Follower(ctx, s.files, rc); err != nil {
					return fmt.Errorf("failed to check follower state: %w", err)
				}

				st, err := s.serviceManager().Status(ctx, rc.ServiceName)
				if err != nil {
					s.logger.Warn().Err(err).Str("service", rc.ServiceName).Msg("failed to query service")
				} else {
					out.Service = &st
				}

				if s.cfg.PGConn.Enabled {
					s.sqlStatus(ctx, &out)
				}

				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), out)
				}
				printStatus(cmd, out)
				return nil
			})
		},
	}
}

func (s *session) sqlStatus(ctx context.Context, out *statusOutput) {
	prober, err := s.sqlProber(ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("sql status unavailable")
		return
	}
	if v, err := prober.ServerVersion(ctx); err == nil {
		out.ServerVersion = v.String()
	} else {
		s.logger.Warn().Err(err).Msg("failed to read server version")
	}
	if rec, err := prober.InRecovery(ctx); err == nil {
		out.InRecovery = &rec
	} else {
		s.logger.Warn().Err(err).Msg("failed to read recovery state")
	}
}

func printStatus(cmd *cobra.Command, out statusOutput) {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "host: %s (%s)\n", out.Host, firstNonEmpty(out.Platform.PrettyName, string(out.Platform.Family)))
	printResolved(w, out.Resolved)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "initialized: %s\n", yesNo(out.Initialized))
	fmt.Fprintf(w, "follower:    %s\n", yesNo(out.Follower))
	if out.Service != nil {
		label := failedColor.Sprint(out.Service.Active)
		if out.Service.Running() {
			label = changedColor.Sprint(out.Service.Active)
		}
		fmt.Fprintf(w, "service:     %s\n", label)
	}
	if out.ServerVersion != "" {
		fmt.Fprintf(w, "server:      %s\n", out.ServerVersion)
	}
	if out.InRecovery != nil {
		fmt.Fprintf(w, "in recovery: %s\n", yesNo(*out.InRecovery))
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
