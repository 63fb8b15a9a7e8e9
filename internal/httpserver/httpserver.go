// Package httpserver is the Admin/Overlay surface: a small gin router
// exposing health/status endpoints and a gorilla/websocket upgrade that
// streams the Event Bus's Overlay topic to a browser overlay, with
// ping/pong keepalive, a per-connection send channel, and disconnect on a
// full backlog.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"songbot/internal/events"
	"songbot/internal/eventbus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	sendBufferSize = 16
)

// StateSnapshotter is the read-only view the /status endpoint exposes;
// internal/playerfsm.FSM satisfies it via Snapshot.
type StateSnapshotter interface {
	Snapshot() events.PlayerStateChanged
}

// Server owns the gin engine and HTTP listener for the admin/overlay
// surface.
type Server struct {
	engine    *gin.Engine
	bus       *eventbus.Bus
	fsms      map[string]StateSnapshotter
	startedAt time.Time
	log       *logrus.Entry
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// New builds a Server. fsms maps each channel name to the FSM whose
// Snapshot the /status endpoint should report.
func New(bus *eventbus.Bus, fsms map[string]StateSnapshotter, log *logrus.Entry) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine:    gin.New(),
		bus:       bus,
		fsms:      fsms,
		startedAt: time.Now(),
		log:       log.WithField("component", "httpserver"),
	}
	s.engine.Use(gin.Recovery())
	s.engine.Use(corsMiddleware())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/health", s.handleHealth)
	s.engine.GET("/status", s.handleStatus)
	s.engine.GET("/status/:channel", s.handleStatus)
	s.engine.GET("/overlay/ws", s.handleOverlayWS)
}

// Run starts the HTTP listener on addr and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.engine}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithField("addr", addr).Info("admin/overlay server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	c.JSON(http.StatusOK, gin.H{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
		"ram_mb":         fmt.Sprintf("%.2f", float64(mem.Alloc)/1024/1024),
		"goroutines":     runtime.NumGoroutine(),
		"go_version":     runtime.Version(),
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	channel := c.Param("channel")
	if channel == "" {
		out := make(map[string]events.PlayerStateChanged, len(s.fsms))
		for ch, fsm := range s.fsms {
			out[ch] = fsm.Snapshot()
		}
		c.JSON(http.StatusOK, out)
		return
	}
	fsm, ok := s.fsms[channel]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such channel"})
		return
	}
	c.JSON(http.StatusOK, fsm.Snapshot())
}

// handleOverlayWS upgrades to a WebSocket and streams the Overlay topic
// (plus YouTubeVolume directives) to the browser overlay until the
// connection drops or its backlog overflows.
func (s *Server) handleOverlayWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.WithError(err).Warn("overlay websocket upgrade failed")
		return
	}

	log := s.log.WithField("client_id", uuid.NewString())
	log.WithField("remote", conn.RemoteAddr().String()).Info("overlay client connected")
	defer log.Info("overlay client disconnected")

	sendCh := make(chan []byte, sendBufferSize)
	done := make(chan struct{})

	go s.overlayWriter(conn, sendCh, done)
	s.overlayReader(conn, done)

	overlaySub := s.bus.Subscribe(eventbus.Overlay)
	volumeSub := s.bus.Subscribe(eventbus.YouTubeVolume)
	defer overlaySub.Unsubscribe()
	defer volumeSub.Unsubscribe()

	for {
		select {
		case <-done:
			close(sendCh)
			return
		case payload, ok := <-overlaySub.Events():
			if !ok {
				close(sendCh)
				return
			}
			if !s.forward(sendCh, "overlay", payload) {
				close(sendCh)
				return
			}
		case payload, ok := <-volumeSub.Events():
			if !ok {
				close(sendCh)
				return
			}
			if !s.forward(sendCh, "volume", payload) {
				close(sendCh)
				return
			}
		}
	}
}

// forward queues payload on sendCh, reporting false when the connection's
// backlog is full so the caller disconnects it.
func (s *Server) forward(sendCh chan []byte, kind string, payload interface{}) bool {
	body, err := marshalEnvelope(kind, payload)
	if err != nil {
		return true
	}
	select {
	case sendCh <- body:
		return true
	default:
		// Backlog full: disconnect rather than block the bus publisher.
		return false
	}
}

func (s *Server) overlayReader(conn *websocket.Conn, done chan struct{}) {
	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func (s *Server) overlayWriter(conn *websocket.Conn, sendCh <-chan []byte, done chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case <-done:
			return
		case msg, ok := <-sendCh:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// overlayEnvelope wraps a bus payload with its kind so the browser overlay
// can dispatch on a single JSON field without inspecting shape.
type overlayEnvelope struct {
	Kind    string      `json:"kind"`
	Payload interface{} `json:"payload"`
}

func marshalEnvelope(kind string, payload interface{}) ([]byte, error) {
	return json.Marshal(overlayEnvelope{Kind: kind, Payload: payload})
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
