// Package wled implements the WLED realtime UDP protocol.
//
// Every datagram starts with a two byte header: the protocol id and the
// number of seconds WLED stays in realtime mode after the last packet
// before it returns to its own effects. Color bytes follow.
package wled

import (
	"net"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/lubosmato/wled-ambilight/internal/border"
)

// Port is the WLED realtime UDP port.
const Port = 21324

// DefaultTimeout is the realtime timeout in seconds sent with each packet.
const DefaultTimeout = 5

// Protocol is the first header byte.
type Protocol byte

const (
	ProtocolWARLS Protocol = 1
	ProtocolDRGB  Protocol = 2
	ProtocolDRGBW Protocol = 3
	ProtocolDNRGB Protocol = 4
)

func (p Protocol) String() string {
	switch p {
	case ProtocolWARLS:
		return "WARLS"
	case ProtocolDRGB:
		return "DRGB"
	case ProtocolDRGBW:
		return "DRGBW"
	case ProtocolDNRGB:
		return "DNRGB"
	default:
		return "Protocol(" + strconv.Itoa(int(p)) + ")"
	}
}

// Mode is the color layout the controller expects.
type Mode int

const (
	ModeRGB Mode = iota
	ModeRGBW
)

// ParseMode accepts the config spellings "Rgb" and "Rgbw", case insensitive.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "rgb":
		return ModeRGB, nil
	case "rgbw":
		return ModeRGBW, nil
	default:
		return 0, errors.Errorf("unknown WLED type %q, expected \"Rgb\" or \"Rgbw\"", s)
	}
}

func (m Mode) String() string {
	if m == ModeRGBW {
		return "Rgbw"
	}
	return "Rgb"
}

// Protocol returns the realtime protocol carrying this mode.
func (m Mode) Protocol() Protocol {
	if m == ModeRGBW {
		return ProtocolDRGBW
	}
	return ProtocolDRGB
}

// BytesPerLED is 3 for RGB and 4 for RGBW.
func (m Mode) BytesPerLED() int {
	if m == ModeRGBW {
		return 4
	}
	return 3
}

// MaxLEDs is the largest LED count a single DRGB or DRGBW packet can address.
func (m Mode) MaxLEDs() int {
	if m == ModeRGBW {
		return 367
	}
	return 490
}

// Header is the two byte packet prefix.
type Header struct {
	Protocol Protocol
	Timeout  byte
}

// Encoder builds realtime packets into a reused buffer.
type Encoder struct {
	mode    Mode
	timeout byte
	buf     []byte
}

// NewEncoder returns an encoder for mode. A zero timeout selects
// DefaultTimeout.
func NewEncoder(mode Mode, timeout byte) *Encoder {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	return &Encoder{mode: mode, timeout: timeout}
}

// Header returns the header written in front of every packet.
func (e *Encoder) Header() Header {
	return Header{Protocol: e.mode.Protocol(), Timeout: e.timeout}
}

// Encode writes the header and the ring colors in top, right, bottom, left
// order. The white channel of RGBW is always 0. The returned slice is valid
// until the next call.
func (e *Encoder) Encode(colors *border.ColorSet) []byte {
	n := colors.Len()
	size := 2 + n*e.mode.BytesPerLED()
	if cap(e.buf) < size {
		e.buf = make([]byte, 0, size)
	}
	out := append(e.buf[:0], byte(e.mode.Protocol()), e.timeout)

	for _, side := range colors.Sides() {
		for i := 0; i+border.BytesPerColor <= len(side); i += border.BytesPerColor {
			out = append(out, side[i], side[i+1], side[i+2])
			if e.mode == ModeRGBW {
				out = append(out, 0)
			}
		}
	}
	e.buf = out
	return out
}

// Color is one decoded LED.
type Color struct {
	Index      int
	R, G, B, W byte
}

// Packet is a decoded realtime datagram.
type Packet struct {
	Header Header
	Colors []Color
}

// ErrMalformedPacket is returned by Decode for datagrams that do not follow
// the realtime protocol.
var ErrMalformedPacket = errors.New("malformed realtime packet")

// Decode parses a WARLS, DRGB, DRGBW or DNRGB datagram.
func Decode(b []byte) (*Packet, error) {
	if len(b) < 2 {
		return nil, errors.Wrapf(ErrMalformedPacket, "%d bytes, need a 2 byte header", len(b))
	}
	p := &Packet{Header: Header{Protocol: Protocol(b[0]), Timeout: b[1]}}
	body := b[2:]

	switch p.Header.Protocol {
	case ProtocolWARLS:
		if len(body)%4 != 0 {
			return nil, errors.Wrapf(ErrMalformedPacket, "WARLS body of %d bytes", len(body))
		}
		for i := 0; i < len(body); i += 4 {
			p.Colors = append(p.Colors, Color{Index: int(body[i]), R: body[i+1], G: body[i+2], B: body[i+3]})
		}
	case ProtocolDRGB:
		p.Colors = decodeRun(body, 0, 3)
		if p.Colors == nil && len(body) > 0 {
			return nil, errors.Wrapf(ErrMalformedPacket, "DRGB body of %d bytes", len(body))
		}
	case ProtocolDRGBW:
		p.Colors = decodeRun(body, 0, 4)
		if p.Colors == nil && len(body) > 0 {
			return nil, errors.Wrapf(ErrMalformedPacket, "DRGBW body of %d bytes", len(body))
		}
	case ProtocolDNRGB:
		if len(body) < 2 {
			return nil, errors.Wrap(ErrMalformedPacket, "DNRGB packet without start index")
		}
		start := int(body[0])<<8 | int(body[1])
		p.Colors = decodeRun(body[2:], start, 3)
		if p.Colors == nil && len(body) > 2 {
			return nil, errors.Wrapf(ErrMalformedPacket, "DNRGB body of %d bytes", len(body)-2)
		}
	default:
		return nil, errors.Wrapf(ErrMalformedPacket, "unknown protocol %d", b[0])
	}
	return p, nil
}

func decodeRun(body []byte, start, width int) []Color {
	if len(body)%width != 0 {
		return nil
	}
	colors := make([]Color, 0, len(body)/width)
	for i := 0; i < len(body); i += width {
		c := Color{Index: start + i/width, R: body[i], G: body[i+1], B: body[i+2]}
		if width == 4 {
			c.W = body[i+3]
		}
		colors = append(colors, c)
	}
	return colors
}

// Address returns host:port, adding the realtime port when host has none.
func Address(host string) string {
	host = strings.TrimSpace(host)
	if _, _, err := net.SplitHostPort(host); err == nil {
		return host
	}
	return net.JoinHostPort(strings.Trim(host, "[]"), strconv.Itoa(Port))
}
