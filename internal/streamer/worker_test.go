package streamer

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lubosmato/wled-ambilight/internal/border"
	"github.com/lubosmato/wled-ambilight/internal/pixel"
	"github.com/lubosmato/wled-ambilight/internal/wled"
)

var testGrid = pixel.Dimension{Width: 4, Height: 4}

// fakeSource yields a uniform BGRA frame every millisecond. Every
// skipEvery-th acquisition reports no frame.
type fakeSource struct {
	format    pixel.Format
	skipEvery int64

	buf       pixel.Buffer
	extractor *border.Extractor

	acquires atomic.Int64
	closed   atomic.Bool
}

func newFakeSource(t *testing.T, format pixel.Format) *fakeSource {
	t.Helper()
	e, err := border.NewExtractor(testGrid, testGrid)
	require.NoError(t, err)

	s := &fakeSource{format: format, extractor: e}
	s.buf = pixel.Buffer{
		Format: format,
		Width:  int(testGrid.Width),
		Height: int(testGrid.Height),
		Pix:    make([]byte, int(testGrid.Width*testGrid.Height)*4),
	}
	for i := 0; i < len(s.buf.Pix); i += 4 {
		s.buf.Pix[i], s.buf.Pix[i+1], s.buf.Pix[i+2], s.buf.Pix[i+3] = 10, 20, 30, 255
	}
	return s
}

func (s *fakeSource) WaitForNextFrame(ctx context.Context) error {
	t := time.NewTimer(time.Millisecond)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func (s *fakeSource) AcquireFrame() (*pixel.Buffer, bool) {
	n := s.acquires.Add(1)
	if s.skipEvery > 0 && n%s.skipEvery == 0 {
		return nil, false
	}
	return &s.buf, true
}

func (s *fakeSource) Extractor() *border.Extractor { return s.extractor }

func (s *fakeSource) Close() error {
	s.closed.Store(true)
	return nil
}

// fakeNet hands out connections whose first failFirst writes fail. With
// failEvery set, every failEvery-th write fails as well.
type fakeNet struct {
	failFirst int64
	failEvery int64
	dialErr   error

	dials     atomic.Int64
	writes    atomic.Int64
	delivered chan []byte
}

func newFakeNet(failFirst int64) *fakeNet {
	return &fakeNet{failFirst: failFirst, delivered: make(chan []byte, 1024)}
}

func (n *fakeNet) DialContext(_ context.Context, _ string) (wled.Conn, error) {
	n.dials.Add(1)
	if n.dialErr != nil {
		return nil, n.dialErr
	}
	return &fakeConn{net: n}, nil
}

type fakeConn struct {
	net *fakeNet
}

func (c *fakeConn) Write(b []byte) (int, error) {
	n := c.net.writes.Add(1)
	if n <= c.net.failFirst || (c.net.failEvery > 0 && n%c.net.failEvery == 0) {
		return 0, errors.New("connection refused")
	}
	select {
	case c.net.delivered <- append([]byte(nil), b...):
	default:
	}
	return len(b), nil
}

func (c *fakeConn) Close() error { return nil }

type recordingPublisher struct {
	mu    sync.Mutex
	count int
	last  []byte
}

func (p *recordingPublisher) Publish(colors *border.ColorSet) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.count++
	p.last = colors.AppendTo(p.last[:0])
}

func (p *recordingPublisher) snapshot() (int, []byte) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.count, append([]byte(nil), p.last...)
}

func sourceFactory(src FrameSource) SourceFactory {
	return func(context.Context) (FrameSource, error) { return src, nil }
}

func waitPacket(t *testing.T, n *fakeNet) []byte {
	t.Helper()
	select {
	case p := <-n.delivered:
		return p
	case <-time.After(3 * time.Second):
		t.Fatal("no packet delivered")
		return nil
	}
}

func TestWorkerSendsEncodedRing(t *testing.T) {
	src := newFakeSource(t, pixel.FormatBGRA8)
	fnet := newFakeNet(0)
	w := NewWorker(Config{Address: "wled.local", Mode: wled.ModeRGB}, sourceFactory(src), WithDialer(fnet))

	w.Start()
	defer w.Stop()

	packet := waitPacket(t, fnet)
	require.Len(t, packet, 2+12*3)
	assert.Equal(t, []byte{byte(wled.ProtocolDRGB), wled.DefaultTimeout}, packet[:2])
	for i := 2; i < len(packet); i += 3 {
		assert.Equal(t, []byte{30, 20, 10}, packet[i:i+3])
	}
	assert.Equal(t, StateStreaming, w.State())
}

func TestWorkerReconnectsAfterSendFailures(t *testing.T) {
	src := newFakeSource(t, pixel.FormatBGRA8)
	fnet := newFakeNet(2)
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	w := NewWorker(Config{Address: "wled.local", Mode: wled.ModeRGBW}, sourceFactory(src),
		WithDialer(fnet), WithMetrics(metrics))
	w.Start()

	packet := waitPacket(t, fnet)
	assert.Equal(t, byte(wled.ProtocolDRGBW), packet[0])
	assert.GreaterOrEqual(t, fnet.dials.Load(), int64(3), "each failed send must reconnect")
	assert.Equal(t, StateStreaming, w.State())
	assert.Nil(t, w.Err())

	select {
	case <-w.Done():
		t.Fatal("worker must keep running after send failures")
	default:
	}

	w.Stop()
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.sendErrors))
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.framesSent), float64(1))
	assert.GreaterOrEqual(t, testutil.ToFloat64(metrics.reconnects), float64(3))
	assert.Equal(t, float64(StateStopped), testutil.ToFloat64(metrics.state))
}

func TestWorkerStopImmediatelyAfterStart(t *testing.T) {
	src := newFakeSource(t, pixel.FormatBGRA8)
	fnet := newFakeNet(0)
	w := NewWorker(Config{Address: "wled.local"}, sourceFactory(src), WithDialer(fnet))

	w.Start()
	w.Stop()

	select {
	case <-w.Done():
	default:
		t.Fatal("Stop returned before the worker exited")
	}
	assert.Equal(t, StateStopped, w.State())

	acquires, writes := src.acquires.Load(), fnet.writes.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, acquires, src.acquires.Load(), "no capture after stop")
	assert.Equal(t, writes, fnet.writes.Load(), "no send after stop")
}

func TestWorkerStopWithoutStart(t *testing.T) {
	w := NewWorker(Config{Address: "wled.local"}, sourceFactory(nil))
	assert.NotPanics(t, w.Stop)
	assert.Equal(t, StateStopped, w.State())

	select {
	case <-w.Done():
	default:
		t.Fatal("Done must be closed before the first start")
	}
}

func TestWorkerStopFromAnotherGoroutine(t *testing.T) {
	src := newFakeSource(t, pixel.FormatBGRA8)
	fnet := newFakeNet(0)
	w := NewWorker(Config{Address: "wled.local"}, sourceFactory(src), WithDialer(fnet))
	w.Start()
	waitPacket(t, fnet)

	stopped := make(chan struct{})
	go func() {
		w.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}
	assert.True(t, src.closed.Load())
}

func TestWorkerRestart(t *testing.T) {
	src := newFakeSource(t, pixel.FormatBGRA8)
	fnet := newFakeNet(0)
	w := NewWorker(Config{Address: "wled.local"}, sourceFactory(src), WithDialer(fnet))

	w.Start()
	waitPacket(t, fnet)
	w.Stop()

	for len(fnet.delivered) > 0 {
		<-fnet.delivered
	}

	w.Start()
	defer w.Stop()
	waitPacket(t, fnet)
}

func TestWorkerUnsupportedFormatEndsRun(t *testing.T) {
	src := newFakeSource(t, pixel.FormatNV12)
	fnet := newFakeNet(0)
	w := NewWorker(Config{Address: "wled.local"}, sourceFactory(src), WithDialer(fnet))
	w.Start()

	select {
	case <-w.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("worker kept running on an unsupported format")
	}

	assert.True(t, errors.Is(w.Err(), border.ErrUnsupportedFormat))
	assert.Equal(t, StateStopped, w.State())
	assert.True(t, src.closed.Load())
	assert.Zero(t, fnet.writes.Load())

	w.Stop()
}

func TestWorkerDialFailureBacksOff(t *testing.T) {
	src := newFakeSource(t, pixel.FormatBGRA8)
	fnet := newFakeNet(0)
	fnet.dialErr = errors.New("network is unreachable")

	w := NewWorker(Config{Address: "wled.local", ReconnectDelay: 10 * time.Second}, sourceFactory(src), WithDialer(fnet))
	w.Start()

	require.Eventually(t, func() bool { return fnet.dials.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, StateConnecting, w.State())

	start := time.Now()
	w.Stop()
	assert.Less(t, time.Since(start), time.Second, "backoff must be interruptible")
	assert.Equal(t, int64(1), fnet.dials.Load())
	assert.Zero(t, fnet.writes.Load())
}

func TestWorkerRetriesSourceOpen(t *testing.T) {
	src := newFakeSource(t, pixel.FormatBGRA8)
	fnet := newFakeNet(0)
	var opens atomic.Int64
	factory := func(context.Context) (FrameSource, error) {
		if opens.Add(1) == 1 {
			return nil, errors.New("display busy")
		}
		return src, nil
	}

	w := NewWorker(Config{Address: "wled.local", ReconnectDelay: 20 * time.Millisecond}, factory, WithDialer(fnet))
	w.Start()
	defer w.Stop()

	waitPacket(t, fnet)
	assert.Equal(t, int64(2), opens.Load())
}

func TestWorkerSkippedFramesArePublishedOnlyWhenSent(t *testing.T) {
	src := newFakeSource(t, pixel.FormatBGRA8)
	src.skipEvery = 2
	fnet := newFakeNet(0)
	pub := &recordingPublisher{}
	metrics, err := NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	w := NewWorker(Config{Address: "wled.local"}, sourceFactory(src),
		WithDialer(fnet), WithPublisher(pub), WithMetrics(metrics))
	w.Start()
	require.Eventually(t, func() bool { return src.acquires.Load() >= 10 }, 3*time.Second, 5*time.Millisecond)
	w.Stop()

	count, last := pub.snapshot()
	assert.Equal(t, float64(count), testutil.ToFloat64(metrics.framesSent))
	assert.Greater(t, testutil.ToFloat64(metrics.framesSkipped.WithLabelValues("capture")), float64(0))
	require.Len(t, last, 12*border.BytesPerColor)
	assert.Equal(t, []byte{30, 20, 10, 255}, last[:4])
}

func TestWorkerStreamsToRealSocket(t *testing.T) {
	listener, err := wled.Listen("127.0.0.1:0")
	require.NoError(t, err)
	defer listener.Close()

	src := newFakeSource(t, pixel.FormatRGBA8)
	w := NewWorker(Config{Address: listener.LocalAddr().String(), Mode: wled.ModeRGBW, Timeout: 2}, sourceFactory(src))
	w.Start()
	defer w.Stop()

	require.NoError(t, listener.SetReadDeadline(time.Now().Add(3*time.Second)))
	buf := make([]byte, 1500)
	n, _, err := listener.ReadFromUDP(buf)
	require.NoError(t, err)

	pkt, err := wled.Decode(buf[:n])
	require.NoError(t, err)
	assert.Equal(t, wled.Header{Protocol: wled.ProtocolDRGBW, Timeout: 2}, pkt.Header)
	require.Len(t, pkt.Colors, 12)
	assert.Equal(t, wled.Color{Index: 11, R: 10, G: 20, B: 30}, pkt.Colors[11])
}

func TestMetricsNilRegistryDisables(t *testing.T) {
	m, err := NewMetrics(nil)
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.NotPanics(t, func() {
		m.frameSent()
		m.frameSkipped("capture")
		m.sendError()
		m.connectAttempt()
		m.setFPS(60)
		m.setState(StateStreaming)
	})
}

func TestWorkerFPSWindowSpansReconnects(t *testing.T) {
	src := newFakeSource(t, pixel.FormatBGRA8)
	fnet := newFakeNet(0)
	fnet.failEvery = 3 // two packets per connection
	reg := prometheus.NewRegistry()
	metrics, err := NewMetrics(reg)
	require.NoError(t, err)

	var ticks atomic.Int64
	clock := func() time.Time {
		return time.Unix(1000, 0).Add(time.Duration(ticks.Add(1)) * 10 * time.Millisecond)
	}

	w := NewWorker(Config{Address: "wled.local", Mode: wled.ModeRGB, FPSReportEvery: 3}, sourceFactory(src),
		WithDialer(fnet), WithMetrics(metrics), WithClock(clock))
	w.Start()
	defer w.Stop()

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.fps) > 0
	}, 3*time.Second, 5*time.Millisecond, "three frames over several connections must produce a report")
	assert.GreaterOrEqual(t, fnet.dials.Load(), int64(2))
}

func TestWorkerRunCannotLeaveStopping(t *testing.T) {
	w := NewWorker(Config{Address: "wled.local", Mode: wled.ModeRGB}, sourceFactory(nil))

	w.state.Store(int32(StateStopping))
	w.advance(StateConnecting)
	assert.Equal(t, StateStopping, w.State())
	w.advance(StateStreaming)
	assert.Equal(t, StateStopping, w.State())

	w.state.Store(int32(StateConnecting))
	w.advance(StateStreaming)
	assert.Equal(t, StateStreaming, w.State())
}
