package cmd

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/lubosmato/wled-ambilight/internal/capture"
	"github.com/lubosmato/wled-ambilight/internal/display"
	"github.com/lubosmato/wled-ambilight/internal/pixel"
	"github.com/lubosmato/wled-ambilight/internal/util"
)

type DisplaysOptions struct {
	OutputFormat string
}

type displayEntry struct {
	Index       int    `json:"index"`
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	X           int    `json:"x"`
	Y           int    `json:"y"`
	ScaleFactor uint32 `json:"scale_factor"`
	Frame       string `json:"frame"`
	Selected    bool   `json:"selected"`
}

func NewDisplaysCommand() *cobra.Command {
	opts := &DisplaysOptions{}

	cmd := &cobra.Command{
		Use:   "displays",
		Short: "List active displays",
		Long:  "List active displays with the downsampling the configured LED grid would use",
		Example: `  ambilight displays
  ambilight displays --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDisplays(cmd.OutOrStdout(), opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.OutputFormat, "format", "f", "text", "Output format (json or text)")

	cmd.RegisterFlagCompletionFunc("format", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return []string{"json", "text"}, cobra.ShellCompDirectiveNoFileComp
	})

	return cmd
}

func runDisplays(w io.Writer, opts *DisplaysOptions) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	entries := describeDisplays(display.List(), cfg.LEDs(), cfg.DisplayIndex)
	return outputDisplays(w, entries, opts.OutputFormat)
}

func describeDisplays(infos []display.Info, leds pixel.Dimension, selected int) []displayEntry {
	entries := make([]displayEntry, 0, len(infos))
	for _, info := range infos {
		size := pixel.Dimension{Width: uint32(info.Bounds.Dx()), Height: uint32(info.Bounds.Dy())}
		scale := capture.ScaleFactor(size, leds)
		frame := pixel.Dimension{Width: size.Width >> scale, Height: size.Height >> scale}
		entries = append(entries, displayEntry{
			Index:       info.Index,
			Width:       info.Bounds.Dx(),
			Height:      info.Bounds.Dy(),
			X:           info.Bounds.Min.X,
			Y:           info.Bounds.Min.Y,
			ScaleFactor: scale,
			Frame:       frame.String(),
			Selected:    info.Index == selected,
		})
	}
	return entries
}

func outputDisplays(w io.Writer, entries []displayEntry, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(entries)
	case "text":
		table := util.NewTable("", "INDEX", "RESOLUTION", "POSITION", "SCALE", "FRAME")
		for _, e := range entries {
			marker := ""
			if e.Selected {
				marker = "*"
			}
			table.AddRow(marker, e.Index, fmt.Sprintf("%dx%d", e.Width, e.Height),
				fmt.Sprintf("%d,%d", e.X, e.Y), e.ScaleFactor, e.Frame)
		}
		table.Render(w)
		return nil
	default:
		return fmt.Errorf("unsupported output format %q, use json or text", format)
	}
}
