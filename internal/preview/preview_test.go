package preview

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lubosmato/wled-ambilight/internal/border"
)

func ring() *border.ColorSet {
	return &border.ColorSet{
		Top:    []byte{255, 0, 0, 255, 0, 255, 0, 255},
		Right:  []byte{0, 0, 255, 255},
		Bottom: []byte{1, 2, 3, 255, 16, 32, 48, 255},
		Left:   []byte{170, 187, 204, 255},
	}
}

func TestHubPublishSnapshot(t *testing.T) {
	hub := NewHub(4)
	ch := hub.Subscribe("a", 1)

	hub.Publish(ring())
	snap := <-ch

	assert.Equal(t, uint64(1), snap.Seq)
	assert.Equal(t, 2, snap.Top)
	assert.Equal(t, 1, snap.Right)
	assert.Equal(t, 2, snap.Bottom)
	assert.Equal(t, 1, snap.Left)
	assert.Equal(t, 4, snap.Channels)
	assert.Equal(t, []string{"#ff0000", "#00ff00", "#0000ff", "#010203", "#102030", "#aabbcc"}, snap.Colors)
}

func TestHubDropsForSlowSubscriber(t *testing.T) {
	hub := NewHub(3)
	slow := hub.Subscribe("slow", 1)
	fast := hub.Subscribe("fast", 8)

	for i := 0; i < 5; i++ {
		hub.Publish(ring())
	}

	assert.Len(t, slow, 1)
	assert.Len(t, fast, 5)
	assert.Equal(t, uint64(1), (<-slow).Seq)
}

func TestHubUnsubscribeClosesChannel(t *testing.T) {
	hub := NewHub(3)
	ch := hub.Subscribe("a", 1)
	assert.Equal(t, 1, hub.Subscribers())

	hub.Unsubscribe("a")
	hub.Unsubscribe("a")
	assert.Zero(t, hub.Subscribers())

	_, ok := <-ch
	assert.False(t, ok)

	assert.NotPanics(t, func() { hub.Publish(ring()) })
}

func TestHubSequenceAdvancesWithoutSubscribers(t *testing.T) {
	hub := NewHub(3)
	hub.Publish(ring())
	hub.Publish(ring())

	ch := hub.Subscribe("late", 1)
	hub.Publish(ring())
	assert.Equal(t, uint64(3), (<-ch).Seq)
}

func TestServerIndex(t *testing.T) {
	srv := httptest.NewServer(NewServer(NewHub(3), nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "/ws")
}

func TestServerMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "preview_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Add(3)

	srv := httptest.NewServer(NewServer(NewHub(3), reg).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "preview_test_total 3")
}

func TestServerWithoutMetrics(t *testing.T) {
	srv := httptest.NewServer(NewServer(NewHub(3), nil).Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestServerStreamsSnapshots(t *testing.T) {
	hub := NewHub(3)
	srv := httptest.NewServer(NewServer(hub, nil).Handler())
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 5*time.Millisecond)
	hub.Publish(ring())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var snap Snapshot
	require.NoError(t, conn.ReadJSON(&snap))
	assert.Equal(t, 6, len(snap.Colors))
	assert.Equal(t, "#ff0000", snap.Colors[0])
	assert.Equal(t, 3, snap.Channels)

	require.NoError(t, conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	require.Eventually(t, func() bool { return hub.Subscribers() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestServerStartStop(t *testing.T) {
	s := NewServer(NewHub(3), nil)
	addr, err := s.Start("127.0.0.1:0")
	require.NoError(t, err)

	_, err = s.Start("127.0.0.1:0")
	assert.Error(t, err)

	resp, err := http.Get("http://" + addr.String() + "/")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx))
}
