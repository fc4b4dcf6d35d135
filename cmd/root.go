package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lubosmato/wled-ambilight/internal/util"
	"github.com/lubosmato/wled-ambilight/internal/version"
)

var (
	verbose    bool
	configPath string

	rootCmd = &cobra.Command{
		Use:   "ambilight",
		Short: "Screen border colors to WLED",
		Long: `ambilight captures the desktop, samples the colors along the screen border
and streams them to a WLED controller over its realtime UDP protocol.`,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			util.InitLogger(verbose)
			util.SetupGlobalLogger()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if cmd.Flag("version").Changed {
				info := version.Get()
				fmt.Fprintf(cmd.OutOrStdout(), "ambilight version %s, build %s\n", info.Version, info.Commit)
				return nil
			}
			return cmd.Help()
		},
	}
)

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.Flags().BoolP("version", "v", false, "Print version information and exit")

	pflags := rootCmd.PersistentFlags()
	pflags.BoolVar(&verbose, "verbose", false, "Enable debug logging")
	pflags.StringVarP(&configPath, "config", "c", "", "Config file (default: ./config.toml, then the user config directory)")

	rootCmd.AddCommand(NewRunCommand())
	rootCmd.AddCommand(NewDisplaysCommand())
	rootCmd.AddCommand(NewListenCommand())
	rootCmd.AddCommand(NewConfigCommand())
	rootCmd.AddCommand(NewVersionCommand())
}
