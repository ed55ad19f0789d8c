package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/pgfroyo/pkg/postgres"
)

type roleFlags struct {
	connFlags
	generate        bool
	superuser       bool
	createDB        bool
	createRole      bool
	inherit         bool
	login           bool
	replication     bool
	connectionLimit int
	validUntil      string
}

func (f *roleFlags) registerAttributes(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.passwordEnv, "password-env", "", "read the role password from this environment variable")
	cmd.Flags().BoolVar(&f.generate, "generate-password", false, "set a random password and print it once")
	cmd.Flags().BoolVar(&f.superuser, "superuser", false, "grant SUPERUSER")
	cmd.Flags().BoolVar(&f.createDB, "createdb", false, "grant CREATEDB")
	cmd.Flags().BoolVar(&f.createRole, "createrole", false, "grant CREATEROLE")
	cmd.Flags().BoolVar(&f.inherit, "inherit", false, "grant INHERIT")
	cmd.Flags().BoolVar(&f.login, "login", false, "grant LOGIN")
	cmd.Flags().BoolVar(&f.replication, "replication", false, "grant REPLICATION")
	cmd.Flags().IntVar(&f.connectionLimit, "connection-limit", 0, "CONNECTION LIMIT (-1 for none, 0 leaves it unset)")
	cmd.Flags().StringVar(&f.validUntil, "valid-until", "", "password expiry timestamp")
	cmd.MarkFlagsMutuallyExclusive("password-env", "generate-password")
}

// spec builds the role spec. The returned flag reports whether the password
// was generated.
func (f *roleFlags) spec(s *session, name string) (postgres.RoleSpec, bool, error) {
	pw, err := f.password()
	if err != nil {
		return postgres.RoleSpec{}, false, err
	}
	if f.generate {
		pw = postgres.GeneratePassword
	}
	pw, generated, err := postgres.ResolvePassword(pw)
	if err != nil {
		return postgres.RoleSpec{}, false, err
	}
	spec := s.cfg.RoleSpec(postgres.RoleSpec{
		Name:            name,
		User:            f.user,
		Username:        f.username,
		Host:            f.host,
		Port:            f.port,
		Password:        pw,
		Superuser:       f.superuser,
		CreateDB:        f.createDB,
		CreateRole:      f.createRole,
		Inherit:         f.inherit,
		Login:           f.login,
		Replication:     f.replication,
		ConnectionLimit: f.connectionLimit,
		ValidUntil:      f.validUntil,
	})
	return spec, generated, nil
}

func newRoleCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "role",
		Short: "Create, drop and update roles",
		Long: `Manage roles idempotently. create does nothing when the role exists,
drop does nothing when it is absent, update reapplies the role options and
the given settings with ALTER ROLE.

Passwords are never accepted as flag values. Use --password-env to read one
from the environment, or --generate-password to have a random one created
and printed once.`,
	}

	cmd.AddCommand(newRoleCreateCommand())
	cmd.AddCommand(newRoleDropCommand())
	cmd.AddCommand(newRoleUpdateCommand())

	return cmd
}

func newRoleCreateCommand() *cobra.Command {
	var f roleFlags

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a role unless it exists",
		Example: `  pgfroyo role create app_user --login --generate-password
  APP_PW=s3cret pgfroyo role create app_user --login --password-env APP_PW`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, "role create", func(ctx context.Context, s *session) error {
				spec, generated, err := f.spec(s, args[0])
				if err != nil {
					return err
				}
				runner, err := s.runner(ctx)
				if err != nil {
					return err
				}
				result, err := runner.CreateRole(ctx, spec)
				if err := report(cmd, result, err); err != nil {
					return err
				}
				if generated && result.Changed {
					printGeneratedPassword(cmd, spec.Name, spec.Password)
				}
				return nil
			})
		},
	}

	f.register(cmd)
	f.registerAttributes(cmd)
	return cmd
}

func newRoleDropCommand() *cobra.Command {
	var f roleFlags

	cmd := &cobra.Command{
		Use:     "drop NAME",
		Short:   "Drop a role if it exists",
		Example: `  pgfroyo role drop legacy_user`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, "role drop", func(ctx context.Context, s *session) error {
				spec, _, err := f.spec(s, args[0])
				if err != nil {
					return err
				}
				runner, err := s.runner(ctx)
				if err != nil {
					return err
				}
				result, err := runner.DropRole(ctx, spec)
				return report(cmd, result, err)
			})
		},
	}

	f.register(cmd)
	return cmd
}

func newRoleUpdateCommand() *cobra.Command {
	var f roleFlags
	var settings []string

	cmd := &cobra.Command{
		Use:   "update NAME",
		Short: "Reapply role options and settings",
		Example: `  pgfroyo role update app_user --login --set statement_timeout=30s
  pgfroyo role update app_user --generate-password`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			attrs, err := parseSettings(settings)
			if err != nil {
				return err
			}
			return withSession(cmd, "role update", func(ctx context.Context, s *session) error {
				spec, generated, err := f.spec(s, args[0])
				if err != nil {
					return err
				}
				runner, err := s.runner(ctx)
				if err != nil {
					return err
				}
				result, err := runner.UpdateRole(ctx, spec, attrs)
				if err := report(cmd, result, err); err != nil {
					return err
				}
				if generated && result.Changed {
					printGeneratedPassword(cmd, spec.Name, spec.Password)
				}
				return nil
			})
		},
	}

	f.register(cmd)
	f.registerAttributes(cmd)
	cmd.Flags().StringArrayVar(&settings, "set", nil, "setting as key=value (repeatable)")
	return cmd
}

// printGeneratedPassword shows a generated password once on stdout. It is
// never logged or journaled.
func printGeneratedPassword(cmd *cobra.Command, role, password string) {
	w := cmd.OutOrStdout()
	if jsonOutput {
		_ = printJSON(w, map[string]string{"role": role, "generated_password": password})
		return
	}
	warnColor.Fprintf(w, "generated password for %s (shown once): ", role)
	fmt.Fprintln(w, password)
}
