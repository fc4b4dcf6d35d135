package display

import (
	"image"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const dualXrandr = `Screen 0: minimum 320 x 200, current 4480 x 1440, maximum 16384 x 16384
eDP-1 connected primary 1920x1080+0+0 (normal left inverted right x axis y axis) 344mm x 194mm
   1920x1080     60.00*+  59.97    59.96    48.00
   1680x1050     59.95    59.88
HDMI-1 disconnected (normal left inverted right x axis y axis)
DP-2 connected 2560x1440+1920+0 (normal left inverted right x axis y axis) 597mm x 336mm
   2560x1440     59.95 +  143.91*  119.88
`

func TestParseXrandrRefreshRate(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		bounds      image.Rectangle
		expected    float64
		expectError bool
	}{
		{
			name:     "Primary display",
			input:    dualXrandr,
			bounds:   image.Rect(0, 0, 1920, 1080),
			expected: 60.00,
		},
		{
			name:     "Secondary display",
			input:    dualXrandr,
			bounds:   image.Rect(1920, 0, 1920+2560, 1440),
			expected: 143.91,
		},
		{
			name:     "Unknown placement uses first active mode",
			input:    dualXrandr,
			bounds:   image.Rect(0, 0, 800, 600),
			expected: 60.00,
		},
		{
			name: "No active mode",
			input: `Screen 0: minimum 320 x 200, current 1920 x 1080, maximum 16384 x 16384
HDMI-1 disconnected (normal left inverted right x axis y axis)`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rate, err := parseXrandrRefreshRate(tt.input, tt.bounds)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, rate)
		})
	}
}

const dualMacOS = `Graphics/Displays:

    Apple M2:

      Displays:
        Color LCD:
          Display Type: Built-in Liquid Retina Display
          Resolution: 2560 x 1664 Retina
          UI Looks like: 1280 x 832 @ 60.00Hz
          Main Display: Yes
        LG ULTRAGEAR:
          Resolution: 2560 x 1440 (QHD/WQHD - Wide Quad High Definition)
          Refresh Rate: 144 Hz`

func TestParseMacOSRefreshRate(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		index       int
		expected    float64
		expectError bool
	}{
		{name: "First display", input: dualMacOS, index: 0, expected: 60},
		{name: "Second display", input: dualMacOS, index: 1, expected: 144},
		{name: "Index out of range uses first rate", input: dualMacOS, index: 5, expected: 60},
		{
			name: "No rate reported",
			input: `      Displays:
        Color LCD:
          Resolution: 3456 x 2234 Retina`,
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rate, err := parseMacOSRefreshRate(tt.input, tt.index)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, rate)
		})
	}
}

func TestParseWindowsRefreshRate(t *testing.T) {
	rate, err := parseWindowsRefreshRate("165\r\n", 0)
	require.NoError(t, err)
	assert.Equal(t, 165.0, rate)

	rate, err = parseWindowsRefreshRate("60\r\n144\r\n", 1)
	require.NoError(t, err)
	assert.Equal(t, 144.0, rate)

	rate, err = parseWindowsRefreshRate("60\r\n", 3)
	require.NoError(t, err)
	assert.Equal(t, 60.0, rate)

	_, err = parseWindowsRefreshRate("n/a", 0)
	assert.Error(t, err)
}

func TestModeFramePeriod(t *testing.T) {
	assert.Equal(t, 20*time.Millisecond, Mode{RefreshRate: 50}.FramePeriod())
	assert.Equal(t, time.Second/60, Mode{}.FramePeriod())
}
