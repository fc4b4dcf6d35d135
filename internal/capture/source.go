// Package capture produces downsampled desktop frames sized for the LED grid.
//
// A Source pulls frames from a Duplicator, shrinks them with a power-of-two
// mip chain so that only a small image is ever copied out, and hands the
// result to a border.Extractor built for the current display mode. Display
// reconfiguration is handled by re-querying the mode; no capture error is
// fatal.
package capture

import (
	"context"
	"time"

	"github.com/pkg/errors"

	"github.com/lubosmato/wled-ambilight/internal/border"
	"github.com/lubosmato/wled-ambilight/internal/display"
	"github.com/lubosmato/wled-ambilight/internal/pixel"
	"github.com/lubosmato/wled-ambilight/internal/util"
)

// Duplicator is the display capture backend.
type Duplicator interface {
	// Mode returns the current display mode.
	Mode() (display.Mode, error)
	// AcquireNextFrame returns the latest desktop image, or an error
	// wrapping display.ErrAccessLost after a display reconfiguration.
	AcquireNextFrame() (*display.Frame, error)
	// WaitForVSync blocks until the next vertical blank.
	WaitForVSync() error
	Close() error
}

// Options describe the LED layout and pacing.
type Options struct {
	// LEDs is the horizontal LED count and the vertical LED count without
	// the corner rows.
	LEDs   pixel.Dimension
	MaxFPS int
	VSync  bool
}

// Grid is the LED grid including the top and bottom rows.
func (o Options) Grid() pixel.Dimension {
	return pixel.Dimension{Width: o.LEDs.Width, Height: o.LEDs.Height + 2}
}

// Source is not safe for concurrent use; it belongs to the goroutine
// driving the pipeline.
type Source struct {
	dup  Duplicator
	opts Options

	mode        display.Mode
	scale       uint32
	framePeriod time.Duration
	timer       *time.Timer

	mips      *mipChain
	buf       pixel.Buffer
	extractor *border.Extractor
}

// NewSource queries the display mode and prepares the extractor.
func NewSource(dup Duplicator, opts Options) (*Source, error) {
	if !opts.LEDs.Valid() {
		return nil, errors.Errorf("invalid LED layout %s", opts.LEDs)
	}
	if opts.MaxFPS <= 0 {
		return nil, errors.Errorf("invalid max fps %d", opts.MaxFPS)
	}

	s := &Source{
		dup:         dup,
		opts:        opts,
		framePeriod: time.Second / time.Duration(opts.MaxFPS),
	}
	if err := s.RefreshDisplayMode(); err != nil {
		return nil, err
	}
	return s, nil
}

// RefreshDisplayMode re-reads the display mode, recomputes the scale factor
// and rebuilds the extractor for the new downsampled frame size. GPU side
// resources are rebuilt lazily by the next frame.
func (s *Source) RefreshDisplayMode() error {
	mode, err := s.dup.Mode()
	if err != nil {
		return errors.Wrap(err, "failed to query display mode")
	}

	screen := pixel.Dimension{Width: uint32(mode.Width), Height: uint32(mode.Height)}
	scale := ScaleFactor(screen, s.opts.LEDs)
	frame := pixel.Dimension{Width: screen.Width >> scale, Height: screen.Height >> scale}

	extractor, err := border.NewExtractor(frame, s.opts.Grid())
	if err != nil {
		return errors.Wrapf(err, "display mode %s", mode)
	}

	s.mode = mode
	s.scale = scale
	s.extractor = extractor

	util.GetLogger().Info("Refreshing display mode",
		"mode", mode.String(), "scale_factor", scale, "frame", frame.String(), "grid", s.opts.Grid().String())
	return nil
}

// WaitForNextFrame paces the caller: it waits for the vertical blank when
// vsync is enabled, otherwise sleeps one frame period. The sleep returns
// early when ctx is cancelled; a vsync wait always runs to completion.
func (s *Source) WaitForNextFrame(ctx context.Context) error {
	if s.opts.VSync {
		err := s.dup.WaitForVSync()
		if err == nil {
			return ctx.Err()
		}
		util.GetLogger().Warn("VSync wait failed, sleeping one frame period instead", "error", err)
	}

	if s.timer == nil {
		s.timer = time.NewTimer(s.framePeriod)
	} else {
		s.timer.Reset(s.framePeriod)
	}
	select {
	case <-ctx.Done():
		s.timer.Stop()
		return ctx.Err()
	case <-s.timer.C:
		return nil
	}
}

// AcquireFrame captures and downsamples the next frame. It returns false
// when no frame is available this cycle; the caller simply tries again.
// The returned buffer is reused by the next call.
func (s *Source) AcquireFrame() (*pixel.Buffer, bool) {
	logger := util.GetLogger()

	frame, err := s.dup.AcquireNextFrame()
	if errors.Is(err, display.ErrAccessLost) {
		logger.Warn("Display access lost, refreshing display mode", "error", err)
		if err := s.RefreshDisplayMode(); err != nil {
			logger.Error("Failed to refresh display mode", "error", err)
		}
		return nil, false
	}
	if err != nil {
		logger.Error("Failed to acquire frame", "error", err)
		return nil, false
	}

	if frame.Format.Planes(frame.Width, frame.Height) == nil {
		// Unknown layout: pass it on tagged so the extractor rejects it.
		s.buf.Format = frame.Format
		s.buf.Width = int(s.extractor.Source().Width)
		s.buf.Height = int(s.extractor.Source().Height)
		s.buf.Pix = s.buf.Pix[:0]
		return &s.buf, true
	}

	if err := s.downsample(frame); err != nil {
		logger.Error("Failed to downsample frame", "error", err)
		return nil, false
	}

	if s.buf.Dimension() != s.extractor.Source() {
		logger.Warn("Captured frame does not match display mode, refreshing",
			"frame", s.buf.Dimension().String(), "expected", s.extractor.Source().String())
		if err := s.RefreshDisplayMode(); err != nil {
			logger.Error("Failed to refresh display mode", "error", err)
		}
		return nil, false
	}
	return &s.buf, true
}

func (s *Source) downsample(frame *display.Frame) error {
	if s.mips == nil || !s.mips.matches(frame, s.scale) {
		s.mips = newMipChain(frame.Format, frame.Width, frame.Height, s.scale)
		util.GetLogger().Info("New mip chain",
			"format", frame.Format.String(), "width", frame.Width, "height", frame.Height, "levels", s.scale+1)
	}
	if err := s.mips.upload(frame); err != nil {
		return err
	}
	s.mips.generate()
	readback(s.mips.stage(), &s.buf)
	return nil
}

// Extractor returns the border extractor for the current display mode.
func (s *Source) Extractor() *border.Extractor { return s.extractor }

// Mode returns the last queried display mode.
func (s *Source) Mode() display.Mode { return s.mode }

// ScaleFactor returns the number of halvings applied before readback.
func (s *Source) ScaleFactor() uint32 { return s.scale }

// Close releases the capture backend.
func (s *Source) Close() error {
	if s.timer != nil {
		s.timer.Stop()
	}
	return s.dup.Close()
}
