// Package streamer runs the capture, extract and send loop in the
// background and keeps it alive across transport failures.
package streamer

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/lubosmato/wled-ambilight/internal/border"
	"github.com/lubosmato/wled-ambilight/internal/pixel"
	"github.com/lubosmato/wled-ambilight/internal/util"
	"github.com/lubosmato/wled-ambilight/internal/wled"
)

const (
	DefaultReconnectDelay = 2 * time.Second
	DefaultFPSReportEvery = 120
	DefaultFPSWindowReset = 5 * time.Second
)

// State is the worker lifecycle state.
type State int32

const (
	StateStopped State = iota
	StateConnecting
	StateStreaming
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateStopping:
		return "stopping"
	default:
		return "unknown"
	}
}

// FrameSource is the capture side of the pipeline. It is used only from
// the worker goroutine.
type FrameSource interface {
	WaitForNextFrame(ctx context.Context) error
	AcquireFrame() (*pixel.Buffer, bool)
	Extractor() *border.Extractor
	Close() error
}

// SourceFactory opens the capture source. It is called from the worker
// goroutine, so the source never crosses goroutines.
type SourceFactory func(ctx context.Context) (FrameSource, error)

// Publisher receives every ring that was sent. Publish must not block and
// must not retain colors.
type Publisher interface {
	Publish(colors *border.ColorSet)
}

// Config controls the worker.
type Config struct {
	// Address is the controller host, optionally with a port.
	Address string
	Mode    wled.Mode
	// Timeout is the realtime timeout byte; 0 selects wled.DefaultTimeout.
	Timeout byte
	// LEDs is the ring size, used only to warn about oversized packets.
	LEDs int

	ReconnectDelay time.Duration
	FPSReportEvery int
	FPSWindowReset time.Duration
}

func (c *Config) applyDefaults() {
	if c.ReconnectDelay <= 0 {
		c.ReconnectDelay = DefaultReconnectDelay
	}
	if c.FPSReportEvery <= 0 {
		c.FPSReportEvery = DefaultFPSReportEvery
	}
	if c.FPSWindowReset <= 0 {
		c.FPSWindowReset = DefaultFPSWindowReset
	}
}

// Option customizes a Worker.
type Option func(*Worker)

// WithDialer replaces the UDP dialer.
func WithDialer(d wled.Dialer) Option {
	return func(w *Worker) { w.dialer = d }
}

// WithMetrics records worker metrics.
func WithMetrics(m *Metrics) Option {
	return func(w *Worker) { w.metrics = m }
}

// WithPublisher forwards sent rings to p.
func WithPublisher(p Publisher) Option {
	return func(w *Worker) { w.publisher = p }
}

// WithClock replaces time.Now for the FPS meter.
func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// Worker owns one background pipeline run at a time.
//
// Start and Stop may be called from any goroutine. Capture, extraction and
// the reusable buffers belong to the worker goroutine alone.
type Worker struct {
	cfg       Config
	open      SourceFactory
	dialer    wled.Dialer
	metrics   *Metrics
	publisher Publisher
	now       func() time.Time

	state atomic.Int32

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// NewWorker returns a stopped worker.
func NewWorker(cfg Config, open SourceFactory, opts ...Option) *Worker {
	cfg.applyDefaults()
	w := &Worker{
		cfg:    cfg,
		open:   open,
		dialer: wled.UDPDialer{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.metrics.setState(StateStopped)
	return w
}

// Start spawns the background run and returns immediately. Calling Start
// while a run is active logs a warning and does nothing.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.done != nil {
		select {
		case <-w.done:
		default:
			util.GetLogger().Warn("Streaming worker already running, ignoring start")
			return
		}
	}

	logger := util.GetLogger()
	if w.cfg.LEDs > w.cfg.Mode.MaxLEDs() {
		logger.Warn("LED count exceeds what a single realtime packet can address, WLED will ignore the rest",
			"leds", w.cfg.LEDs, "max", w.cfg.Mode.MaxLEDs(), "mode", w.cfg.Mode.String())
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	w.cancel = cancel
	w.done = done
	w.err = nil
	w.setState(StateConnecting)

	go w.run(ctx, done)
	logger.Info("Streaming worker started", "address", wled.Address(w.cfg.Address), "mode", w.cfg.Mode.String())
}

// Stop cancels the run and blocks until the worker goroutine has exited.
// It is a no-op when the worker was never started or already stopped.
func (w *Worker) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel = nil
	w.mu.Unlock()

	if done == nil {
		return
	}
	if cancel != nil {
		for {
			cur := w.state.Load()
			if State(cur) == StateStopped {
				break
			}
			if w.state.CompareAndSwap(cur, int32(StateStopping)) {
				w.metrics.setState(StateStopping)
				break
			}
		}
		cancel()
	}
	<-done
	util.GetLogger().Info("Streaming worker stopped")
}

// Done is closed when the current run has exited. Before the first Start it
// returns a closed channel.
func (w *Worker) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.done == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return w.done
}

// Err returns the error that ended the last run on its own, or nil when it
// was stopped.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// State returns the current lifecycle state.
func (w *Worker) State() State {
	return State(w.state.Load())
}

func (w *Worker) setState(s State) {
	w.state.Store(int32(s))
	w.metrics.setState(s)
}

// advance moves a live run to s unless Stop has already marked it Stopping.
func (w *Worker) advance(s State) {
	for {
		cur := w.state.Load()
		if State(cur) == StateStopping {
			return
		}
		if w.state.CompareAndSwap(cur, int32(s)) {
			w.metrics.setState(s)
			return
		}
	}
}

func (w *Worker) fail(err error) {
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
}

func (w *Worker) run(ctx context.Context, done chan struct{}) {
	logger := util.GetLogger()
	var src FrameSource
	defer func() {
		if src != nil {
			if err := src.Close(); err != nil {
				logger.Warn("Failed to close capture source", "error", err)
			}
		}
		w.setState(StateStopped)
		close(done)
	}()

	meter := newFPSMeter(w.now, w.cfg.FPSReportEvery, w.cfg.FPSWindowReset)
	for ctx.Err() == nil {
		w.advance(StateConnecting)

		if src == nil {
			var err error
			src, err = w.open(ctx)
			if err != nil {
				src = nil
				logger.Warn("Could not open capture source, retrying", "error", err, "delay", w.cfg.ReconnectDelay)
				w.sleep(ctx, w.cfg.ReconnectDelay)
				continue
			}
		}

		w.metrics.connectAttempt()
		conn, err := w.dialer.DialContext(ctx, w.cfg.Address)
		if err != nil {
			logger.Warn("Could not connect to WLED, retrying", "error", err, "delay", w.cfg.ReconnectDelay)
			w.sleep(ctx, w.cfg.ReconnectDelay)
			continue
		}

		w.advance(StateStreaming)
		err = w.stream(ctx, src, conn, meter)
		if cerr := conn.Close(); cerr != nil {
			logger.Debug("Failed to close WLED connection", "error", cerr)
		}

		if errors.Is(err, border.ErrUnsupportedFormat) {
			logger.Error("Stopping pipeline", "error", err)
			w.fail(err)
			return
		}
		if err != nil {
			logger.Warn("Could not send a frame, reconnecting", "error", err)
		}
	}
}

// stream runs until ctx is cancelled or a send fails. The meter spans
// reconnects within one run.
func (w *Worker) stream(ctx context.Context, src FrameSource, conn wled.Conn, meter *fpsMeter) error {
	logger := util.GetLogger()
	enc := wled.NewEncoder(w.cfg.Mode, w.cfg.Timeout)
	header := enc.Header()
	logger.Info("Streaming to WLED", "address", wled.Address(w.cfg.Address),
		"protocol", header.Protocol.String(), "timeout", int(header.Timeout))

	for ctx.Err() == nil {
		if err := src.WaitForNextFrame(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			logger.Warn("Frame pacing failed", "error", err)
		}

		buf, ok := src.AcquireFrame()
		if !ok {
			w.metrics.frameSkipped("capture")
			continue
		}

		colors, err := src.Extractor().Extract(buf)
		if errors.Is(err, border.ErrUnsupportedFormat) {
			return err
		}
		if err != nil {
			logger.Warn("Skipping frame", "error", err)
			w.metrics.frameSkipped("extract")
			continue
		}

		if _, err := conn.Write(enc.Encode(colors)); err != nil {
			w.metrics.sendError()
			return errors.Wrap(err, "failed to send realtime packet")
		}
		w.metrics.frameSent()

		if w.publisher != nil {
			w.publisher.Publish(colors)
		}

		if fps, ok := meter.tick(); ok {
			logger.Info("Streaming", "fps", int(fps))
			w.metrics.setFPS(fps)
		}
	}
	return nil
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
