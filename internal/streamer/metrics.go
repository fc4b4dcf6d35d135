package streamer

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the worker's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	framesSent    prometheus.Counter
	framesSkipped *prometheus.CounterVec // reason: capture, extract
	sendErrors    prometheus.Counter
	reconnects    prometheus.Counter
	fps           prometheus.Gauge
	state         prometheus.Gauge
}

// NewMetrics creates the worker metrics and registers them with reg. A nil
// registerer disables metrics.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		return nil, nil
	}

	m := &Metrics{
		framesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ambilight",
			Subsystem: "streamer",
			Name:      "frames_sent_total",
			Help:      "Total number of realtime packets sent to WLED",
		}),
		framesSkipped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ambilight",
			Subsystem: "streamer",
			Name:      "frames_skipped_total",
			Help:      "Total number of cycles that produced no packet",
		}, []string{"reason"}),
		sendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ambilight",
			Subsystem: "streamer",
			Name:      "send_errors_total",
			Help:      "Total number of failed packet sends",
		}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ambilight",
			Subsystem: "streamer",
			Name:      "connect_attempts_total",
			Help:      "Total number of attempts to open the WLED transport",
		}),
		fps: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ambilight",
			Subsystem: "streamer",
			Name:      "fps",
			Help:      "Frame rate achieved over the last report window",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ambilight",
			Subsystem: "streamer",
			Name:      "state",
			Help:      "Worker state: 0 stopped, 1 connecting, 2 streaming, 3 stopping",
		}),
	}

	for _, c := range []prometheus.Collector{m.framesSent, m.framesSkipped, m.sendErrors, m.reconnects, m.fps, m.state} {
		if err := reg.Register(c); err != nil {
			return nil, errors.Wrap(err, "failed to register streamer metrics")
		}
	}
	return m, nil
}

func (m *Metrics) frameSent() {
	if m != nil {
		m.framesSent.Inc()
	}
}

func (m *Metrics) frameSkipped(reason string) {
	if m != nil {
		m.framesSkipped.WithLabelValues(reason).Inc()
	}
}

func (m *Metrics) sendError() {
	if m != nil {
		m.sendErrors.Inc()
	}
}

func (m *Metrics) connectAttempt() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) setFPS(fps float64) {
	if m != nil {
		m.fps.Set(fps)
	}
}

func (m *Metrics) setState(s State) {
	if m != nil {
		m.state.Set(float64(s))
	}
}
