package commands

import (
	"fmt"

	"github.com/marmos91/imapfs/pkg/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func (a *app) configCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and create the configuration",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "show",
			Short: "Print the effective configuration as YAML (secrets hidden)",
			Args:  usageArgs(cobra.NoArgs),
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := yaml.Marshal(a.cfg.Redacted())
				if err != nil {
					return fmt.Errorf("failed to encode config: %w", err)
				}
				_, err = a.stdout.Write(data)
				return err
			},
		},
		&cobra.Command{
			Use:   "path",
			Short: "Print the default config and credentials file paths",
			Args:  usageArgs(cobra.NoArgs),
			RunE: func(cmd *cobra.Command, args []string) error {
				fmt.Fprintf(a.stdout, "config:      %s\n", config.GetDefaultConfigPath())
				fmt.Fprintf(a.stdout, "credentials: %s\n", config.GetDefaultEnvFilePath())
				return nil
			},
		},
		a.configInitCommand(),
	)

	return cmd
}

func (a *app) configInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write a default configuration file",
		Args:  usageArgs(cobra.MaximumNArgs(1)),
		// A broken existing file must not prevent writing a new one
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.GetDefaultConfigPath()
			if len(args) == 1 {
				path = args[0]
			} else if a.configPath != "" {
				path = a.configPath
			}

			if err := config.InitConfigToPath(path, force); err != nil {
				return err
			}
			fmt.Fprintln(a.stdout, path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")
	return cmd
}
