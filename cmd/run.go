package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/browser"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/lubosmato/wled-ambilight/config"
	"github.com/lubosmato/wled-ambilight/internal/capture"
	"github.com/lubosmato/wled-ambilight/internal/display"
	"github.com/lubosmato/wled-ambilight/internal/preview"
	"github.com/lubosmato/wled-ambilight/internal/streamer"
	"github.com/lubosmato/wled-ambilight/internal/util"
)

type RunOptions struct {
	PreviewAddr string
	Open        bool
}

func NewRunCommand() *cobra.Command {
	opts := &RunOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Stream screen border colors to WLED",
		Long: `Capture the configured display and stream its border colors to WLED until
interrupted. A default config.toml is written on first start.`,
		Example: `  ambilight run
  ambilight run --preview-addr 127.0.0.1:8090 --open
  AMBILIGHT_WLED_IP=192.168.1.40 ambilight run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.PreviewAddr, "preview-addr", "", "Serve the live preview on this address (overrides preview_addr)")
	flags.BoolVar(&opts.Open, "open", false, "Open the preview in the browser")

	return cmd
}

func runPipeline(cmd *cobra.Command, opts *RunOptions) error {
	logger := util.GetLogger()

	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	var metrics *streamer.Metrics
	if cfg.Metrics {
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		if metrics, err = streamer.NewMetrics(reg); err != nil {
			return err
		}
	}
	workerOpts := []streamer.Option{streamer.WithMetrics(metrics)}

	previewAddr := cfg.PreviewAddr
	if opts.PreviewAddr != "" {
		previewAddr = opts.PreviewAddr
	}
	var server *preview.Server
	if previewAddr != "" {
		hub := preview.NewHub(cfg.Mode().BytesPerLED())
		var gatherer prometheus.Gatherer
		if cfg.Metrics {
			gatherer = reg
		}
		server = preview.NewServer(hub, gatherer)
		addr, err := server.Start(previewAddr)
		if err != nil {
			return err
		}
		workerOpts = append(workerOpts, streamer.WithPublisher(hub))

		url := fmt.Sprintf("http://%s/", addr)
		fmt.Fprintf(cmd.OutOrStdout(), "Preview ➜ %s\n", url)
		if opts.Open {
			if err := browser.OpenURL(url); err != nil {
				logger.Warn("Failed to open browser", "url", url, "error", err)
			}
		}
	} else if opts.Open {
		logger.Warn("--open needs a preview address")
	}

	worker := streamer.NewWorker(streamer.Config{
		Address: cfg.WLEDIP,
		Mode:    cfg.Mode(),
		Timeout: byte(cfg.WLEDTimeout),
		LEDs:    cfg.RingSize(),
	}, screenSource(cfg), workerOpts...)

	worker.Start()
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl+C to stop...")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		logger.Info("Shutting down", "signal", sig.String())
	case <-worker.Done():
	}
	worker.Stop()

	if server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Stop(ctx); err != nil {
			logger.Warn("Error stopping preview server", "error", err)
		}
	}

	if err := worker.Err(); err != nil {
		return errors.Wrap(err, "pipeline stopped")
	}
	return nil
}

// screenSource opens the configured display inside the worker goroutine.
func screenSource(cfg *config.Config) streamer.SourceFactory {
	return func(ctx context.Context) (streamer.FrameSource, error) {
		screen, err := display.Open(cfg.DisplayIndex, display.Options{IncludeCursor: cfg.IncludeCursor})
		if err != nil {
			return nil, err
		}
		src, err := capture.NewSource(screen, capture.Options{
			LEDs:   cfg.LEDs(),
			MaxFPS: cfg.MaxFPS,
			VSync:  cfg.EnableVSync,
		})
		if err != nil {
			_ = screen.Close()
			return nil, err
		}
		util.GetLogger().Info("Capturing display", "display", cfg.DisplayIndex,
			"mode", src.Mode().String(), "scale", src.ScaleFactor(), "grid", src.Extractor().Grid().String())
		return src, nil
	}
}

// loadConfig reads the config. With writeDefault set, a default file is
// created when none was found.
func loadConfig(writeDefault bool) (*config.Config, error) {
	logger := util.GetLogger()

	cfg, used, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if used != "" {
		logger.Info("Loaded config", "path", used)
		return cfg, nil
	}

	logger.Info("No config file found, using defaults", "search_paths", config.SearchPaths())
	if writeDefault {
		path, err := config.DefaultPath()
		if err != nil {
			logger.Warn("Could not resolve default config path", "error", err)
			return cfg, nil
		}
		if err := config.WriteDefault(path, false); err != nil {
			logger.Warn("Could not write default config", "path", path, "error", err)
			return cfg, nil
		}
		logger.Info("Wrote default config", "path", path)
	}
	return cfg, nil
}
