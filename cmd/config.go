package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lubosmato/wled-ambilight/config"
)

func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the config file",
	}

	cmd.AddCommand(newConfigInitCommand())
	cmd.AddCommand(newConfigShowCommand())

	return cmd
}

func newConfigInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default config file",
		Long: `Write the default config.toml to the path given with --config, or to the
user config directory.`,
		Example: `  ambilight config init
  ambilight config init --force
  ambilight --config ./config.toml config init`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath
			if path == "" {
				var err error
				if path, err = config.DefaultPath(); err != nil {
					return err
				}
			}
			if err := config.WriteDefault(path, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Config written to %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "Overwrite an existing file")

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective config",
		Long:  "Print the config after defaults, the config file and AMBILIGHT_* environment overrides are applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, used, err := config.Load(configPath)
			if err != nil {
				return err
			}
			cfg.Readme = ""
			data, err := config.Marshal(cfg)
			if err != nil {
				return err
			}
			source := used
			if source == "" {
				source = "defaults"
			}
			fmt.Fprintf(cmd.OutOrStdout(), "# source: %s\n%s", source, data)
			return nil
		},
	}
}
