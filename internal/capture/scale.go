package capture

import "github.com/lubosmato/wled-ambilight/internal/pixel"

// ScaleFactor returns how many power-of-two halvings a display can take
// before it gets smaller than the LED layout in either direction, i.e.
// floor(min(log2(dw/leds.w), log2(dh/leds.h))) clamped to zero.
//
// leds is the raw LED count per side; the two corner rows of the grid are
// not part of it.
func ScaleFactor(display, leds pixel.Dimension) uint32 {
	return min(halvings(display.Width, leds.Width), halvings(display.Height, leds.Height))
}

// halvings is the largest k with count<<k <= size.
func halvings(size, count uint32) uint32 {
	if count == 0 || size < count {
		return 0
	}
	var k uint32
	for uint64(count)<<(k+1) <= uint64(size) {
		k++
	}
	return k
}
