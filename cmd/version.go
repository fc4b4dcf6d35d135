package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lubosmato/wled-ambilight/internal/version"
)

func NewVersionCommand() *cobra.Command {
	var outputFormat string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			out := cmd.OutOrStdout()

			switch outputFormat {
			case "json":
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			case "text":
				fmt.Fprintf(out, "Version:    %s\n", info.Version)
				fmt.Fprintf(out, "Git commit: %s\n", info.Commit)
				fmt.Fprintf(out, "Built:      %s\n", info.Built())
				fmt.Fprintf(out, "Go version: %s\n", info.GoVersion)
				fmt.Fprintf(out, "OS/Arch:    %s\n", info.Platform)
				return nil
			default:
				return fmt.Errorf("unsupported output format %q, use json or text", outputFormat)
			}
		},
	}

	cmd.Flags().StringVarP(&outputFormat, "output", "o", "text", "Output format (json or text)")

	return cmd
}
