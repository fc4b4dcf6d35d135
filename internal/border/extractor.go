// Package border turns a downsampled frame into the ring of colors that sits
// under a perimeter LED strip.
//
// The ring is walked clockwise starting at the top-left corner:
//
//	top     row 0, left to right
//	right   column w-1, rows 1..h-2, top to bottom
//	bottom  row h-1, right to left
//	left    column 0, rows h-2..1, bottom to top
//
// Corners belong to top and bottom only, so every perimeter pixel is emitted
// exactly once.
package border

import (
	"image"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"

	"github.com/lubosmato/wled-ambilight/internal/pixel"
)

// BytesPerColor is the size of one RGBA entry in a ColorSet.
const BytesPerColor = 4

var (
	// ErrUnsupportedFormat is returned for channel layouts the extractor
	// cannot normalize to RGBA. It is not transient.
	ErrUnsupportedFormat = errors.New("this capture format is not supported")
	// ErrGeometryMismatch is returned when a buffer does not have the source
	// dimension the extractor was built for.
	ErrGeometryMismatch = errors.New("pixel buffer does not match extractor geometry")
	// ErrInvalidGeometry is returned by NewExtractor for unusable sizes.
	ErrInvalidGeometry = errors.New("invalid extractor geometry")
)

// ColorSet holds the four sides of the LED ring as flat RGBA sequences. The
// backing arrays are owned by the Extractor and overwritten on every call.
type ColorSet struct {
	Top    []byte
	Right  []byte
	Bottom []byte
	Left   []byte
}

func newColorSet(grid pixel.Dimension) ColorSet {
	w := int(grid.Width)
	side := int(grid.Height) - 2
	return ColorSet{
		Top:    make([]byte, w*BytesPerColor),
		Right:  make([]byte, side*BytesPerColor),
		Bottom: make([]byte, w*BytesPerColor),
		Left:   make([]byte, side*BytesPerColor),
	}
}

// Len is the number of colors in the ring.
func (c *ColorSet) Len() int {
	return (len(c.Top) + len(c.Right) + len(c.Bottom) + len(c.Left)) / BytesPerColor
}

// Sides returns the four sequences in wiring order.
func (c *ColorSet) Sides() [4][]byte {
	return [4][]byte{c.Top, c.Right, c.Bottom, c.Left}
}

// AppendTo appends top, right, bottom and left to dst, in that order.
func (c *ColorSet) AppendTo(dst []byte) []byte {
	for _, side := range c.Sides() {
		dst = append(dst, side...)
	}
	return dst
}

// channelOrder gives the source byte offsets of R, G and B.
type channelOrder [3]int

func orderFor(f pixel.Format) (channelOrder, bool) {
	switch f {
	case pixel.FormatBGRA8:
		return channelOrder{2, 1, 0}, true
	case pixel.FormatRGBA8:
		return channelOrder{0, 1, 2}, true
	default:
		return channelOrder{}, false
	}
}

// Extractor resamples frames of one source size onto the LED grid and reads
// the border ring out of the result.
type Extractor struct {
	source pixel.Dimension
	grid   pixel.Dimension

	scaler draw.Scaler
	src    image.RGBA
	dst    *image.RGBA
	colors ColorSet
}

// NewExtractor prepares an extractor for buffers of size source, producing a
// ring for an LED grid of size grid. The grid needs at least two rows, and
// at least two columns once it has side rows; a single column would be read
// as both the right and the left side.
func NewExtractor(source, grid pixel.Dimension) (*Extractor, error) {
	if !source.Valid() {
		return nil, errors.Wrapf(ErrInvalidGeometry, "source %s", source)
	}
	if !grid.Valid() || grid.Height < 2 {
		return nil, errors.Wrapf(ErrInvalidGeometry, "grid %s needs width >= 1 and height >= 2", grid)
	}
	if grid.Width < 2 && grid.Height > 2 {
		return nil, errors.Wrapf(ErrInvalidGeometry, "grid %s with side rows needs width >= 2", grid)
	}

	e := &Extractor{
		source: source,
		grid:   grid,
		dst:    image.NewRGBA(image.Rect(0, 0, int(grid.Width), int(grid.Height))),
		colors: newColorSet(grid),
	}
	if source != grid {
		e.scaler = draw.BiLinear.NewScaler(int(grid.Width), int(grid.Height), int(source.Width), int(source.Height))
	}
	return e, nil
}

// Source is the buffer size this extractor accepts.
func (e *Extractor) Source() pixel.Dimension { return e.source }

// Grid is the LED grid size.
func (e *Extractor) Grid() pixel.Dimension { return e.grid }

// Extract computes the border ring of buf. The returned set is reused by the
// next call. On error the previous contents are left untouched.
func (e *Extractor) Extract(buf *pixel.Buffer) (*ColorSet, error) {
	order, ok := orderFor(buf.Format)
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedFormat, "format %s", buf.Format)
	}
	need := int(e.source.Width) * int(e.source.Height) * BytesPerColor
	if buf.Dimension() != e.source || len(buf.Pix) < need {
		return nil, errors.Wrapf(ErrGeometryMismatch, "buffer %dx%d (%d bytes), want %s",
			buf.Width, buf.Height, len(buf.Pix), e.source)
	}

	e.resample(buf)
	normalize(e.dst.Pix, order)
	e.walk()
	return &e.colors, nil
}

func (e *Extractor) resample(buf *pixel.Buffer) {
	if e.scaler == nil {
		copy(e.dst.Pix, buf.Pix)
		return
	}
	e.src = image.RGBA{
		Pix:    buf.Pix,
		Stride: buf.Width * BytesPerColor,
		Rect:   image.Rect(0, 0, buf.Width, buf.Height),
	}
	// Bilinear weights are applied per byte lane, so the channel order of
	// the source does not matter here.
	e.scaler.Scale(e.dst, e.dst.Bounds(), &e.src, e.src.Bounds(), draw.Src, nil)
}

func normalize(pix []byte, order channelOrder) {
	if order == (channelOrder{0, 1, 2}) {
		return
	}
	for i := 0; i+3 < len(pix); i += 4 {
		r, g, b := pix[i+order[0]], pix[i+order[1]], pix[i+order[2]]
		pix[i], pix[i+1], pix[i+2] = r, g, b
	}
}

func (e *Extractor) walk() {
	w := int(e.grid.Width)
	h := int(e.grid.Height)
	pix := e.dst.Pix
	stride := e.dst.Stride

	copy(e.colors.Top, pix[:w*BytesPerColor])

	for row := 1; row < h-1; row++ {
		off := row*stride + (w-1)*BytesPerColor
		copy(e.colors.Right[(row-1)*BytesPerColor:], pix[off:off+BytesPerColor])
	}

	last := (h - 1) * stride
	for i := 0; i < w; i++ {
		off := last + (w-1-i)*BytesPerColor
		copy(e.colors.Bottom[i*BytesPerColor:], pix[off:off+BytesPerColor])
	}

	for i, row := 0, h-2; row >= 1; i, row = i+1, row-1 {
		off := row * stride
		copy(e.colors.Left[i*BytesPerColor:], pix[off:off+BytesPerColor])
	}
}
