package display

import (
	"image"
	"time"

	"github.com/kbinani/screenshot"
	"github.com/pkg/errors"

	"github.com/lubosmato/wled-ambilight/internal/pixel"
	"github.com/lubosmato/wled-ambilight/internal/util"
)

// List returns every active display.
func List() []Info {
	n := screenshot.NumActiveDisplays()
	displays := make([]Info, 0, n)
	for i := 0; i < n; i++ {
		displays = append(displays, Info{Index: i, Bounds: screenshot.GetDisplayBounds(i)})
	}
	return displays
}

// Screen captures one display through the screenshot library. It is not
// safe for concurrent use.
type Screen struct {
	index  int
	probe  func(index int, bounds image.Rectangle) (float64, error)
	bounds image.Rectangle
	mode   Mode
	vsync  *time.Ticker
	frame  Frame
}

// Open selects the display at index.
func Open(index int, opts Options) (*Screen, error) {
	if n := screenshot.NumActiveDisplays(); index < 0 || index >= n {
		return nil, errors.Errorf("display %d not found, %d active", index, n)
	}
	if opts.IncludeCursor {
		util.GetLogger().Info("Cursor is not composited by the screenshot backend", "display", index)
	}
	return &Screen{
		index: index,
		probe: ProbeRefreshRate,
	}, nil
}

// Mode queries the current display mode and restarts the refresh ticker.
func (s *Screen) Mode() (Mode, error) {
	if s.index >= screenshot.NumActiveDisplays() {
		return Mode{}, errors.Wrapf(ErrAccessLost, "display %d disconnected", s.index)
	}
	bounds := screenshot.GetDisplayBounds(s.index)
	if bounds.Empty() {
		return Mode{}, errors.Errorf("display %d reports empty bounds", s.index)
	}

	rate, err := s.probe(s.index, bounds)
	if err != nil || rate <= 0 {
		util.GetLogger().Debug("Refresh rate probe failed, using default", "display", s.index, "error", err, "default", DefaultRefreshRate)
		rate = DefaultRefreshRate
	}

	s.bounds = bounds
	s.mode = Mode{Width: bounds.Dx(), Height: bounds.Dy(), RefreshRate: rate}

	if s.vsync != nil {
		s.vsync.Stop()
	}
	s.vsync = time.NewTicker(s.mode.FramePeriod())
	return s.mode, nil
}

// AcquireNextFrame grabs the current desktop image. The returned frame is
// reused by the next call.
func (s *Screen) AcquireNextFrame() (*Frame, error) {
	if s.index >= screenshot.NumActiveDisplays() {
		return nil, errors.Wrapf(ErrAccessLost, "display %d disconnected", s.index)
	}
	if bounds := screenshot.GetDisplayBounds(s.index); bounds != s.bounds {
		return nil, errors.Wrapf(ErrAccessLost, "display %d bounds changed from %v to %v", s.index, s.bounds, bounds)
	}

	img, err := screenshot.CaptureRect(s.bounds)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to capture display %d", s.index)
	}

	s.frame = Frame{
		Format: pixel.FormatRGBA8,
		Width:  img.Rect.Dx(),
		Height: img.Rect.Dy(),
		Stride: img.Stride,
		Data:   img.Pix,
	}
	return &s.frame, nil
}

// WaitForVSync blocks until the next refresh tick.
func (s *Screen) WaitForVSync() error {
	if s.vsync == nil {
		return errors.New("display mode has not been queried")
	}
	<-s.vsync.C
	return nil
}

// Close releases the refresh ticker.
func (s *Screen) Close() error {
	if s.vsync != nil {
		s.vsync.Stop()
		s.vsync = nil
	}
	return nil
}
