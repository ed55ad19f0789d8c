package commands

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	jsonOutput bool
	noColor    bool

	version = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, ver, commit, buildDate string) error {
	version = ver
	rootCmd := newRootCommand(ver, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(ver, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pgfroyo",
		Short: "pgfroyo - idempotent PostgreSQL lifecycle management",
		Long: `pgfroyo works out how PostgreSQL is laid out on a host (major version,
package source, data and config directories, service name) and uses that
to install, initialize and manage databases and roles idempotently.

Every operation checks the current state first and changes the host at most
once; a change reloads the PostgreSQL service.

Hosts are managed locally or over SSH (--host).`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", ver, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if noColor {
				color.NoColor = true
			}
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configPath, "config", "c", "", "config file path (default: search ./, ~/.config/pgfroyo, /etc/pgfroyo)")
	flags.BoolVar(&jsonOutput, "json", false, "output in JSON format")
	flags.BoolVar(&noColor, "no-color", false, "disable colored output")
	flags.String("host", "", "manage this host over SSH instead of the local host")
	flags.String("ssh-user", "", "SSH login user")
	flags.Int("ssh-port", 0, "SSH port")
	flags.StringP("identity", "i", "", "SSH private key file")
	flags.String("postgres-user", "", "OS user that owns the cluster")
	flags.String("platform", "", "override the detected platform family (rhel, fedora, amazon, debian)")
	flags.String("log-level", "", "log level (trace, debug, info, warn, error)")
	flags.String("log-format", "", "log format (console, json)")

	rootCmd.AddCommand(newResolveCommand())
	rootCmd.AddCommand(newPackagesCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newInstallCommand())
	rootCmd.AddCommand(newInitDBCommand())
	rootCmd.AddCommand(newDBCommand())
	rootCmd.AddCommand(newRoleCommand())
	rootCmd.AddCommand(newApplyCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newConfigCommand())

	return rootCmd
}
