// Package display talks to the desktop display subsystem: it reports the
// current display mode, hands out captured frames and paces callers to the
// display refresh.
package display

import (
	"fmt"
	"image"
	"time"

	"github.com/pkg/errors"

	"github.com/lubosmato/wled-ambilight/internal/pixel"
)

// DefaultRefreshRate is used when the refresh rate cannot be probed.
const DefaultRefreshRate = 60.0

// ErrAccessLost means the display output was reconfigured or disconnected.
// Callers re-query the mode and try again on the next cycle.
var ErrAccessLost = errors.New("display access lost")

// Mode is the current resolution and refresh rate of a display.
type Mode struct {
	Width       int
	Height      int
	RefreshRate float64
}

func (m Mode) String() string {
	return fmt.Sprintf("%dx%d@%.2fHz", m.Width, m.Height, m.RefreshRate)
}

// FramePeriod is the duration of one refresh.
func (m Mode) FramePeriod() time.Duration {
	rate := m.RefreshRate
	if rate <= 0 {
		rate = DefaultRefreshRate
	}
	return time.Duration(float64(time.Second) / rate)
}

// Frame is a captured desktop image. All planes of the format are stored one
// after another, each row Stride bytes apart.
type Frame struct {
	Format pixel.Format
	Width  int
	Height int
	Stride int
	Data   []byte
}

// Options tune a capture backend.
type Options struct {
	IncludeCursor bool
}

// Info describes one active display.
type Info struct {
	Index  int
	Bounds image.Rectangle
}
