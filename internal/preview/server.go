package preview

import (
	"context"
	_ "embed"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lubosmato/wled-ambilight/internal/util"
)

//go:embed index.html
var indexHTML []byte

const (
	subscriberBuffer = 4
	writeTimeout     = 5 * time.Second
	pingInterval     = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local preview, any origin
	},
}

// Server exposes the preview page, the snapshot websocket and metrics.
type Server struct {
	hub      *Hub
	gatherer prometheus.Gatherer
	router   *mux.Router

	mu         sync.Mutex
	httpServer *http.Server
	quit       chan struct{}
	quitOnce   sync.Once
}

// NewServer builds the routes. A nil gatherer leaves /metrics out.
func NewServer(hub *Hub, gatherer prometheus.Gatherer) *Server {
	s := &Server{hub: hub, gatherer: gatherer, router: mux.NewRouter(), quit: make(chan struct{})}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// Start listens on addr and serves in the background. It returns the bound
// address, useful when addr has port 0.
func (s *Server) Start(addr string) (net.Addr, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.httpServer != nil {
		return nil, errors.New("preview server already started")
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to listen on %s", addr)
	}

	s.httpServer = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          util.NewStdLogger(slog.LevelWarn),
	}

	go func(srv *http.Server) {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			util.GetLogger().Error("Preview server failed", "error", err)
		}
	}(s.httpServer)

	util.GetLogger().Info("Preview server listening", "address", ln.Addr().String())
	return ln.Addr(), nil
}

// Stop shuts the server down, closing open websockets.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	srv := s.httpServer
	s.httpServer = nil
	s.mu.Unlock()

	if srv == nil {
		return nil
	}
	// Hijacked websocket connections are not tracked by Shutdown.
	s.quitOnce.Do(func() { close(s.quit) })
	if err := srv.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "failed to shut down preview server")
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(indexHTML)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	logger := util.GetLogger()

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("Failed to upgrade preview websocket", "error", err)
		return
	}
	defer conn.Close()

	id := uuid.New().String()
	snapshots := s.hub.Subscribe(id, subscriberBuffer)
	defer s.hub.Unsubscribe(id)
	logger.Info("Preview client connected", "id", id, "remote", r.RemoteAddr)

	// The client never sends anything meaningful; reading detects close.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Debug("Preview websocket read error", "id", id, "error", err)
				}
				return
			}
		}
	}()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case <-closed:
			logger.Info("Preview client disconnected", "id", id)
			return
		case <-r.Context().Done():
			return
		case <-s.quit:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server stopping"), time.Now().Add(writeTimeout))
			return
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				return
			}
		case snap, ok := <-snapshots:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteJSON(snap); err != nil {
				logger.Debug("Preview websocket write failed", "id", id, "error", err)
				return
			}
		}
	}
}
