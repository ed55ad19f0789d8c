package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/pgfroyo/pkg/config"
)

func newConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the pgfroyo configuration file",
	}

	cmd.AddCommand(newConfigInitCommand())
	cmd.AddCommand(newConfigShowCommand())

	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var path string
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with the built-in defaults",
		Example: `  pgfroyo config init
  pgfroyo config init --path ./pgfroyo.yaml --force`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if path == "" {
				path = configPath
			}
			written, err := config.WriteDefault(path, force)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]string{"path": written})
			}
			changedColor.Fprintf(cmd.OutOrStdout(), "wrote %s\n", written)
			return nil
		},
	}

	cmd.Flags().StringVar(&path, "path", "", "file to write (default: ~/.config/pgfroyo/pgfroyo.yaml)")
	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets masked",
		Long: `Print the configuration after file, environment and flags have been
merged. Passwords and passphrases are masked.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			redacted := res.Config.Redacted()
			if jsonOutput {
				return printJSON(cmd.OutOrStdout(), map[string]any{
					"source": res.SourcePath,
					"config": redacted,
				})
			}

			body, err := config.Marshal(redacted)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			if res.SourcePath != "" {
				fmt.Fprintf(w, "# source: %s\n", res.SourcePath)
			} else {
				fmt.Fprintln(w, "# source: built-in defaults")
			}
			_, err = w.Write(body)
			return err
		},
	}
}
