package streamer

import "time"

// fpsMeter averages the frame rate over a window that restarts once it is
// older than reset, so a long run does not flatten the average.
type fpsMeter struct {
	now    func() time.Time
	every  int
	reset  time.Duration
	start  time.Time
	frames int
}

func newFPSMeter(now func() time.Time, every int, reset time.Duration) *fpsMeter {
	return &fpsMeter{now: now, every: every, reset: reset, start: now()}
}

// tick counts one emitted frame. Every n-th frame it returns the average
// rate since the window started.
func (m *fpsMeter) tick() (float64, bool) {
	m.frames++
	if m.every <= 0 || m.frames%m.every != 0 {
		return 0, false
	}

	now := m.now()
	elapsed := now.Sub(m.start)
	var fps float64
	if elapsed > 0 {
		fps = float64(m.frames) / elapsed.Seconds()
	}
	if elapsed > m.reset {
		m.start = now
		m.frames = 0
	}
	return fps, true
}
