package cmd

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/lubosmato/wled-ambilight/internal/util"
	"github.com/lubosmato/wled-ambilight/internal/wled"
)

const listenBufSize = 1500

type ListenOptions struct {
	Raw bool
}

func NewListenCommand() *cobra.Command {
	opts := &ListenOptions{}

	cmd := &cobra.Command{
		Use:   "listen [address]",
		Short: "Print realtime packets received on a UDP port",
		Long: `Listen for WLED realtime packets and print them, for checking what a sender
emits without a controller. On a terminal the LED ring is drawn in color.`,
		Example: `  ambilight listen
  ambilight listen 127.0.0.1:21324
  AMBILIGHT_WLED_IP=127.0.0.1 ambilight run & ambilight listen 127.0.0.1`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			addr := fmt.Sprintf("0.0.0.0:%d", wled.Port)
			if len(args) == 1 {
				addr = wled.Address(args[0])
			}
			return runListen(cmd.OutOrStdout(), addr, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Raw, "raw", false, "Print packet bytes instead of colors")

	return cmd
}

func runListen(out io.Writer, addr string, opts *ListenOptions) error {
	conn, err := wled.Listen(addr)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	fmt.Fprintf(out, "listening on %s\n", conn.LocalAddr())

	width := 0
	colorize := false
	if f, ok := out.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		colorize = !opts.Raw
		if w, _, err := term.GetSize(int(f.Fd())); err == nil {
			width = w
		}
	}

	buf := make([]byte, listenBufSize)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			return errors.Wrap(err, "failed to read packet")
		}
		fmt.Fprintln(out, formatPacket(time.Now(), from, buf[:n], opts.Raw, colorize, width))
	}
}

// formatPacket renders one datagram as a single summary line, followed by
// the colored ring when colorize is set.
func formatPacket(at time.Time, from *net.UDPAddr, b []byte, raw, colorize bool, width int) string {
	prefix := fmt.Sprintf("%s [%s]", at.Format(time.ANSIC), from)

	pkt, err := wled.Decode(b)
	if err != nil || raw {
		if err != nil {
			util.GetLogger().Debug("Undecodable packet", "from", from.String(), "error", err)
		}
		return fmt.Sprintf("%s %d bytes % x", prefix, len(b), b)
	}

	line := fmt.Sprintf("%s %s timeout=%ds leds=%d", prefix, pkt.Header.Protocol, pkt.Header.Timeout, len(pkt.Colors))
	if !colorize || len(pkt.Colors) == 0 {
		return line
	}

	if width <= 0 {
		width = 80
	}
	var sb strings.Builder
	sb.WriteString(line)
	for i, c := range pkt.Colors {
		if i%width == 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(color.BgRGB(int(c.R), int(c.G), int(c.B)).Sprint(" "))
	}
	return sb.String()
}
