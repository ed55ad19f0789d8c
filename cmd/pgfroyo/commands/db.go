package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/openfroyo/pgfroyo/pkg/postgres"
)

// connFlags are the client connection settings shared by db and role commands.
type connFlags struct {
	user        string
	username    string
	host        string
	port        int
	passwordEnv string
}

func (f *connFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.user, "as", "", "OS user the client tools run as (default: postgres_user)")
	cmd.Flags().StringVarP(&f.username, "username", "U", "", "database user name (-U)")
	cmd.Flags().StringVar(&f.host, "db-host", "", "database server host or socket directory")
	cmd.Flags().IntVarP(&f.port, "port", "p", 0, "database server port")
}

func (f *connFlags) registerPassword(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.passwordEnv, "password-env", "", "read the connection password from this environment variable")
}

// password reads the password named by --password-env.
func (f *connFlags) password() (string, error) {
	if f.passwordEnv == "" {
		return "", nil
	}
	pw, ok := os.LookupEnv(f.passwordEnv)
	if !ok {
		return "", fmt.Errorf("environment variable %s is not set", f.passwordEnv)
	}
	return pw, nil
}

type dbFlags struct {
	connFlags
	owner    string
	encoding string
	locale   string
	template string
}

func (f *dbFlags) spec(s *session, name string) (postgres.DatabaseSpec, error) {
	pw, err := f.password()
	if err != nil {
		return postgres.DatabaseSpec{}, err
	}
	return s.cfg.DatabaseSpec(postgres.DatabaseSpec{
		Database: name,
		User:     f.user,
		Username: f.username,
		Host:     f.host,
		Port:     f.port,
		Password: pw,
		Owner:    f.owner,
		Encoding: f.encoding,
		Locale:   f.locale,
		Template: f.template,
	}), nil
}

func newDBCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Create, drop and update databases",
		Long: `Manage databases idempotently. create does nothing when the database
exists, drop does nothing when it is absent, update always applies the given
settings with ALTER DATABASE ... SET.`,
	}

	cmd.AddCommand(newDBCreateCommand())
	cmd.AddCommand(newDBDropCommand())
	cmd.AddCommand(newDBUpdateCommand())

	return cmd
}

func newDBCreateCommand() *cobra.Command {
	var f dbFlags

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a database unless it exists",
		Example: `  pgfroyo db create sous_chef --encoding UTF-8 --template template0
  pgfroyo db create app --owner app_user --host db1.example.com`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, "db create", func(ctx context.Context, s *session) error {
				spec, err := f.spec(s, args[0])
				if err != nil {
					return err
				}
				runner, err := s.runner(ctx)
				if err != nil {
					return err
				}
				result, err := runner.CreateDatabase(ctx, spec)
				return report(cmd, result, err)
			})
		},
	}

	f.register(cmd)
	f.registerPassword(cmd)
	cmd.Flags().StringVarP(&f.owner, "owner", "O", "", "database owner")
	cmd.Flags().StringVarP(&f.encoding, "encoding", "E", "", "character encoding")
	cmd.Flags().StringVarP(&f.locale, "locale", "l", "", "locale")
	cmd.Flags().StringVarP(&f.template, "template", "T", "", "template database")

	return cmd
}

func newDBDropCommand() *cobra.Command {
	var f dbFlags

	cmd := &cobra.Command{
		Use:     "drop NAME",
		Short:   "Drop a database if it exists",
		Example: `  pgfroyo db drop legacy`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withSession(cmd, "db drop", func(ctx context.Context, s *session) error {
				spec, err := f.spec(s, args[0])
				if err != nil {
					return err
				}
				runner, err := s.runner(ctx)
				if err != nil {
					return err
				}
				result, err := runner.DropDatabase(ctx, spec)
				return report(cmd, result, err)
			})
		},
	}

	f.register(cmd)
	f.registerPassword(cmd)
	return cmd
}

func newDBUpdateCommand() *cobra.Command {
	var f dbFlags
	var settings []string

	cmd := &cobra.Command{
		Use:   "update NAME",
		Short: "Apply database settings",
		Example: `  pgfroyo db update app --set search_path=app,public --set work_mem=64MB`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			attrs, err := parseSettings(settings)
			if err != nil {
				return err
			}
			return withSession(cmd, "db update", func(ctx context.Context, s *session) error {
				spec, err := f.spec(s, args[0])
				if err != nil {
					return err
				}
				runner, err := s.runner(ctx)
				if err != nil {
					return err
				}
				result, err := runner.UpdateDatabase(ctx, spec, attrs)
				return report(cmd, result, err)
			})
		},
	}

	f.register(cmd)
	f.registerPassword(cmd)
	cmd.Flags().StringArrayVar(&settings, "set", nil, "setting as key=value (repeatable)")
	return cmd
}
