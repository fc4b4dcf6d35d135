package display

import (
	"fmt"
	"image"
	"os/exec"
	"regexp"
	"runtime"
	"strconv"
	"strings"
)

// xrandrGeometry matches the "WxH+X+Y" placement of a connected output.
var xrandrGeometry = regexp.MustCompile(`(\d+)x(\d+)\+(-?\d+)\+(-?\d+)`)

// ProbeRefreshRate returns the refresh rate in Hz of the display at index
// with the given desktop bounds. When the display cannot be told apart from
// the others, the first reported rate is used.
func ProbeRefreshRate(index int, bounds image.Rectangle) (float64, error) {
	switch runtime.GOOS {
	case "linux":
		output, err := exec.Command("xrandr", "--current").Output()
		if err != nil {
			return 0, err
		}
		return parseXrandrRefreshRate(string(output), bounds)
	case "darwin":
		output, err := exec.Command("system_profiler", "SPDisplaysDataType").Output()
		if err != nil {
			return 0, err
		}
		return parseMacOSRefreshRate(string(output), index)
	case "windows":
		output, err := exec.Command("powershell", "-Command",
			"Get-CimInstance -ClassName Win32_VideoController | Select-Object -ExpandProperty CurrentRefreshRate").Output()
		if err != nil {
			return 0, err
		}
		return parseWindowsRefreshRate(string(output), index)
	default:
		return 0, fmt.Errorf("unsupported OS: %s", runtime.GOOS)
	}
}

// parseXrandrRefreshRate reads the active rate, the one marked with "*" in
// lines such as "   1920x1080     60.00*+  59.94", of the output placed at
// bounds. Output header lines carry the placement, e.g.
// "HDMI-1 connected 2560x1440+1920+0".
func parseXrandrRefreshRate(output string, bounds image.Rectangle) (float64, error) {
	first := 0.0
	current := false
	for _, line := range strings.Split(output, "\n") {
		if line == "" {
			continue
		}
		if line[0] != ' ' && line[0] != '\t' {
			current = xrandrPlacement(line) == bounds
			continue
		}
		if !strings.Contains(line, "*") {
			continue
		}
		rate, err := activeRate(line)
		if err != nil {
			return 0, err
		}
		if current {
			return rate, nil
		}
		if first == 0 {
			first = rate
		}
	}
	if first > 0 {
		return first, nil
	}
	return 0, fmt.Errorf("could not determine refresh rate")
}

func xrandrPlacement(header string) image.Rectangle {
	if !strings.Contains(header, " connected") {
		return image.Rectangle{}
	}
	m := xrandrGeometry.FindStringSubmatch(header)
	if m == nil {
		return image.Rectangle{}
	}
	w, _ := strconv.Atoi(m[1])
	h, _ := strconv.Atoi(m[2])
	x, _ := strconv.Atoi(m[3])
	y, _ := strconv.Atoi(m[4])
	return image.Rect(x, y, x+w, y+h)
}

func activeRate(line string) (float64, error) {
	for _, field := range strings.Fields(line) {
		if !strings.Contains(field, "*") {
			continue
		}
		rate, err := strconv.ParseFloat(strings.TrimRight(field, "*+"), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid refresh rate: %s", field)
		}
		return rate, nil
	}
	return 0, fmt.Errorf("no active mode in %q", line)
}

// parseMacOSRefreshRate reads lines like "UI Looks like: 1920 x 1080 @ 60.00Hz"
// or "Refresh Rate: 120 Hz". Every display block starts with a
// "Resolution:" line; the rate of the index-th block is returned, or the
// first rate found when that block reports none.
func parseMacOSRefreshRate(output string, index int) (float64, error) {
	var rates []float64 // one per display, 0 when unknown
	first := 0.0
	for _, line := range strings.Split(output, "\n") {
		trimmed := strings.TrimSpace(line)

		var value string
		switch {
		case strings.HasPrefix(trimmed, "Resolution:"):
			rates = append(rates, 0)
			continue
		case strings.HasPrefix(trimmed, "Refresh Rate:"):
			value = strings.TrimSpace(strings.TrimPrefix(trimmed, "Refresh Rate:"))
		case strings.Contains(trimmed, "@"):
			value = strings.TrimSpace(trimmed[strings.LastIndex(trimmed, "@")+1:])
		default:
			continue
		}

		value = strings.TrimSpace(strings.TrimSuffix(value, "Hz"))
		fields := strings.Fields(value)
		if len(fields) == 0 {
			continue
		}
		rate, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			continue
		}
		if first == 0 {
			first = rate
		}
		if n := len(rates); n > 0 && rates[n-1] == 0 {
			rates[n-1] = rate
		}
	}
	if index >= 0 && index < len(rates) && rates[index] > 0 {
		return rates[index], nil
	}
	if first > 0 {
		return first, nil
	}
	return 0, fmt.Errorf("could not determine refresh rate")
}

// parseWindowsRefreshRate takes one rate per video controller, in order.
func parseWindowsRefreshRate(output string, index int) (float64, error) {
	var rates []float64
	for _, line := range strings.Split(strings.TrimSpace(output), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		rate, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid refresh rate: %s", line)
		}
		rates = append(rates, rate)
	}
	if len(rates) == 0 {
		return 0, fmt.Errorf("could not determine refresh rate")
	}
	if index >= 0 && index < len(rates) {
		return rates[index], nil
	}
	return rates[0], nil
}
