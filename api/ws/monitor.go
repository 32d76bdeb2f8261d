// Package ws serves the monitor WebSocket. Monitors receive every quest event
// as a JSON text frame and may ask for a quest's current state.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/questline/config"
	"github.com/kasuganosora/questline/metrics"
	"github.com/kasuganosora/questline/notify"
	"github.com/kasuganosora/questline/quest"
	"go.uber.org/zap"
)

// Viewer renders a quest's admin view.
type Viewer interface {
	View(ctx context.Context, name string, admin bool) (*quest.View, error)
}

// request is a frame sent by a monitor.
type request struct {
	Type  string `json:"type"`
	Quest string `json:"quest"`
}

type reply struct {
	Type  string      `json:"type"`
	Quest string      `json:"quest,omitempty"`
	Data  interface{} `json:"data,omitempty"`
	Error string      `json:"error,omitempty"`
}

// Handler is the Gin handler for GET /ws/monitor.
type Handler struct {
	registry *notify.Registry
	viewer   Viewer
	adminKey string
	pongWait time.Duration
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a monitor Handler. sec.AllowedOrigins controls which
// WebSocket origins are accepted; an empty slice permits all origins
// (development only). A monitor that misses pings for two intervals is
// disconnected.
func NewHandler(registry *notify.Registry, viewer Viewer, adminKey string, sec config.SecurityConfig, pingInterval time.Duration, logger *zap.Logger) *Handler {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	h := &Handler{
		registry: registry,
		viewer:   viewer,
		adminKey: adminKey,
		pongWait: 2 * pingInterval,
		logger:   logger,
	}
	allowed := sec.AllowedOrigins
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowed) == 0 {
				return true // dev mode: allow all
			}
			origin := r.Header.Get("Origin")
			for _, o := range allowed {
				if o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// ServeMonitor handles GET /ws/monitor?key=<admin key>.
func (h *Handler) ServeMonitor(c *gin.Context) {
	if h.adminKey == "" {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "monitor disabled: set server.admin_key in config"})
		return
	}
	if c.Query("key") != h.adminKey {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", zap.Error(err))
		return
	}
	id := h.registry.Add(conn)
	metrics.Monitors(h.registry.Len())

	h.readPump(context.WithoutCancel(c.Request.Context()), id, conn)
}

// readPump blocks until the connection closes. Pongs from the sweep keep
// the read deadline moving.
func (h *Handler) readPump(ctx context.Context, id string, conn *websocket.Conn) {
	defer func() {
		h.registry.Remove(id)
		metrics.Monitors(h.registry.Len())
	}()

	_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseNormalClosure,
				websocket.CloseNoStatusReceived) {
				h.logger.Warn("ws unexpected close", zap.String("monitor_id", id), zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.pongWait))
		h.dispatch(ctx, id, raw)
	}
}

func (h *Handler) dispatch(ctx context.Context, id string, raw []byte) {
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		h.send(id, reply{Type: "error", Error: "malformed request"})
		return
	}
	switch req.Type {
	case "view":
		v, err := h.viewer.View(ctx, req.Quest, true)
		if err != nil {
			h.send(id, reply{Type: "error", Quest: req.Quest, Error: err.Error()})
			return
		}
		h.send(id, reply{Type: "view", Quest: req.Quest, Data: v})
	default:
		h.logger.Debug("unknown monitor request", zap.String("type", req.Type))
		h.send(id, reply{Type: "error", Error: "unknown request type " + req.Type})
	}
}

func (h *Handler) send(id string, r reply) {
	b, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := h.registry.Send(id, b); err != nil {
		h.logger.Debug("monitor reply failed", zap.String("monitor_id", id), zap.Error(err))
	}
}
