package capture

import (
	"github.com/pkg/errors"

	"github.com/lubosmato/wled-ambilight/internal/display"
	"github.com/lubosmato/wled-ambilight/internal/pixel"
)

// stagingPitchAlign is the row alignment of the CPU readable staging copy.
const stagingPitchAlign = 64

// planeView addresses one plane whose rows are stride bytes apart.
type planeView struct {
	pixel.Plane
	data   []byte
	stride int
}

func (v planeView) row(y int) []byte {
	return v.data[y*v.stride : y*v.stride+v.RowBytes()]
}

// surface is one generated mip level, planes packed back to back.
type surface struct {
	width  int
	height int
	planes []pixel.Plane
	data   []byte
}

func newSurface(format pixel.Format, w, h int) surface {
	return surface{
		width:  w,
		height: h,
		planes: format.Planes(w, h),
		data:   make([]byte, format.PackedSize(w, h)),
	}
}

// plane returns the bytes of plane i.
func (s *surface) plane(i int) []byte {
	off := 0
	for _, p := range s.planes[:i] {
		off += p.Size()
	}
	return s.data[off : off+s.planes[i].Size()]
}

func (s *surface) view(i int) planeView {
	return planeView{Plane: s.planes[i], data: s.plane(i), stride: s.planes[i].RowBytes()}
}

// staging is the readable copy of the selected mip level. Rows are pitch
// bytes apart and planes are stacked one after another.
type staging struct {
	format pixel.Format
	width  int
	height int
	planes []pixel.Plane
	pitch  int
	data   []byte
}

func newStaging(format pixel.Format, w, h int) staging {
	planes := format.Planes(w, h)
	pitch, rows := 0, 0
	for _, p := range planes {
		pitch = max(pitch, p.RowBytes())
		rows += p.Height
	}
	pitch = (pitch + stagingPitchAlign - 1) / stagingPitchAlign * stagingPitchAlign
	return staging{
		format: format,
		width:  w,
		height: h,
		planes: planes,
		pitch:  pitch,
		data:   make([]byte, pitch*rows),
	}
}

// mipChain owns the downsampling resources for one frame geometry: the mip
// levels below the captured frame down to the scale level and the staging
// copy of that level. Level 0 is the captured frame itself, read in place.
// It is rebuilt only when the frame format, size or scale change.
type mipChain struct {
	format  pixel.Format
	width   int
	height  int
	scale   uint32
	source  []planeView
	levels  []surface // levels 1..scale
	staging staging
}

func newMipChain(format pixel.Format, w, h int, scale uint32) *mipChain {
	m := &mipChain{
		format: format,
		width:  w,
		height: h,
		scale:  scale,
		levels: make([]surface, scale),
	}
	for i := range m.levels {
		m.levels[i] = newSurface(format, max(w>>(i+1), 1), max(h>>(i+1), 1))
	}
	m.staging = newStaging(format, max(w>>scale, 1), max(h>>scale, 1))
	return m
}

func (m *mipChain) matches(f *display.Frame, scale uint32) bool {
	return m.format == f.Format && m.width == f.Width && m.height == f.Height && m.scale == scale
}

// upload points level 0 at the frame planes without copying them. The views
// stay valid until the frame is released by the next acquisition.
func (m *mipChain) upload(f *display.Frame) error {
	m.source = m.source[:0]
	row := 0
	for _, p := range m.format.Planes(m.width, m.height) {
		end := (row+p.Height-1)*f.Stride + p.RowBytes()
		if f.Stride < p.RowBytes() || end > len(f.Data) {
			return errors.Errorf("frame data too short: %d bytes, stride %d, row %d", len(f.Data), f.Stride, row)
		}
		m.source = append(m.source, planeView{Plane: p, data: f.Data[row*f.Stride : end], stride: f.Stride})
		row += p.Height
	}
	return nil
}

// view returns plane p of the given level.
func (m *mipChain) view(level, p int) planeView {
	if level == 0 {
		return m.source[p]
	}
	return m.levels[level-1].view(p)
}

// generate fills every level below 0 with a 2x2 box filter of the level
// above it. Level 1 is read straight from the frame rows.
func (m *mipChain) generate() {
	for l := 1; l <= int(m.scale); l++ {
		for p := range m.source {
			halve(m.view(l-1, p), m.view(l, p))
		}
	}
}

// stage copies the scale level into the staging rows.
func (m *mipChain) stage() *staging {
	st := &m.staging
	row := 0
	for p := range m.source {
		v := m.view(int(m.scale), p)
		for y := 0; y < v.Height; y++ {
			copy(st.data[row*st.pitch:], v.row(y))
			row++
		}
	}
	return st
}

func halve(src, dst planeView) {
	ch := src.Channels
	for y := 0; y < dst.Height; y++ {
		r0 := min(2*y, src.Height-1) * src.stride
		r1 := min(2*y+1, src.Height-1) * src.stride
		out := y * dst.stride
		for x := 0; x < dst.Width; x++ {
			x0 := min(2*x, src.Width-1) * ch
			x1 := min(2*x+1, src.Width-1) * ch
			for c := 0; c < ch; c++ {
				sum := uint32(src.data[r0+x0+c]) + uint32(src.data[r0+x1+c]) +
					uint32(src.data[r1+x0+c]) + uint32(src.data[r1+x1+c])
				dst.data[out+x*ch+c] = byte((sum + 2) / 4)
			}
		}
	}
}

// readback copies the staging rows into buf, packing each plane tightly:
// 4 bytes per pixel for interleaved formats, 1 byte per luma sample followed
// by the chroma rows for planar ones.
func readback(st *staging, buf *pixel.Buffer) {
	buf.Resize(st.format, st.width, st.height)
	dst := 0
	row := 0
	for _, p := range st.planes {
		n := p.RowBytes()
		for y := 0; y < p.Height; y++ {
			copy(buf.Pix[dst:dst+n], st.data[row*st.pitch:row*st.pitch+n])
			dst += n
			row++
		}
	}
}
