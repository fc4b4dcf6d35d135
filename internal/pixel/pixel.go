// Package pixel holds the frame data model shared by the capture and border
// extraction stages.
package pixel

import "fmt"

// Dimension is a width/height pair, used both for frame sizes and for the
// logical LED grid.
type Dimension struct {
	Width  uint32
	Height uint32
}

// Valid reports whether both sides are non-zero.
func (d Dimension) Valid() bool {
	return d.Width > 0 && d.Height > 0
}

func (d Dimension) String() string {
	return fmt.Sprintf("%dx%d", d.Width, d.Height)
}

// Format tags the channel layout of a pixel buffer.
type Format int

const (
	FormatUnknown Format = iota
	// FormatBGRA8 stores bytes as B, G, R, A (DXGI B8G8R8A8).
	FormatBGRA8
	// FormatRGBA8 stores bytes as R, G, B, A.
	FormatRGBA8
	// FormatAYUV is packed 4:4:4 YUV with alpha, 4 bytes per pixel.
	FormatAYUV
	// FormatYUV444 is three full resolution 1 byte planes.
	FormatYUV444
	// FormatNV12 is a full resolution luma plane followed by a half
	// resolution interleaved chroma plane.
	FormatNV12
)

func (f Format) String() string {
	switch f {
	case FormatBGRA8:
		return "BGRA8"
	case FormatRGBA8:
		return "RGBA8"
	case FormatAYUV:
		return "AYUV"
	case FormatYUV444:
		return "YUV444"
	case FormatNV12:
		return "NV12"
	default:
		return fmt.Sprintf("Format(%d)", int(f))
	}
}

// Plane describes one plane of a surface. Rows are RowBytes() long when
// tightly packed.
type Plane struct {
	Width    int
	Height   int
	Channels int
}

// RowBytes is the packed length of one row.
func (p Plane) RowBytes() int {
	return p.Width * p.Channels
}

// Size is the packed length of the whole plane.
func (p Plane) Size() int {
	return p.RowBytes() * p.Height
}

// Planes returns the plane layout of a w x h surface in this format, or nil
// for unknown formats.
func (f Format) Planes(w, h int) []Plane {
	switch f {
	case FormatBGRA8, FormatRGBA8, FormatAYUV:
		return []Plane{{Width: w, Height: h, Channels: 4}}
	case FormatYUV444:
		return []Plane{
			{Width: w, Height: h, Channels: 1},
			{Width: w, Height: h, Channels: 1},
			{Width: w, Height: h, Channels: 1},
		}
	case FormatNV12:
		return []Plane{
			{Width: w, Height: h, Channels: 1},
			{Width: max(w/2, 1), Height: max(h/2, 1), Channels: 2},
		}
	default:
		return nil
	}
}

// PackedSize is the total packed length of a w x h surface in this format.
func (f Format) PackedSize(w, h int) int {
	n := 0
	for _, p := range f.Planes(w, h) {
		n += p.Size()
	}
	return n
}

// Buffer is one frame worth of pixel data plus its layout tag. It is reused
// across frames; Resize keeps the backing array whenever it is large enough.
type Buffer struct {
	Format Format
	Width  int
	Height int
	Pix    []byte
}

// Resize sets the geometry and length of the buffer, growing the backing
// array only when needed.
func (b *Buffer) Resize(format Format, w, h int) {
	n := format.PackedSize(w, h)
	if cap(b.Pix) < n {
		b.Pix = make([]byte, n)
	}
	b.Pix = b.Pix[:n]
	b.Format = format
	b.Width = w
	b.Height = h
}

// Dimension returns the buffer size as a Dimension.
func (b *Buffer) Dimension() Dimension {
	return Dimension{Width: uint32(b.Width), Height: uint32(b.Height)}
}
