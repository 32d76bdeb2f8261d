// Package sse streams quest events to browsers as server-sent events.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questline/cache"
	"github.com/kasuganosora/questline/config"
	mw "github.com/kasuganosora/questline/middleware"
	"github.com/kasuganosora/questline/notify"
	"go.uber.org/zap"
)

const keepalive = 30 * time.Second

// Teams expands a player to the assignee names whose events they may see.
type Teams interface {
	ExpandToTeams(ctx context.Context, userName string) ([]string, error)
}

// Handler handles the SSE endpoint.
type Handler struct {
	pubsub   cache.PubSub
	c        cache.Cache
	sec      config.SecurityConfig
	adminKey string
	teams    Teams
	logger   *zap.Logger
}

func NewHandler(pubsub cache.PubSub, c cache.Cache, sec config.SecurityConfig, adminKey string, teams Teams, logger *zap.Logger) *Handler {
	return &Handler{pubsub: pubsub, c: c, sec: sec, adminKey: adminKey, teams: teams, logger: logger}
}

// ServeQuests handles GET /sse/quests?token=<jwt> or ?key=<admin key>.
// A player only receives events of quests assigned to them or their teams;
// the admin key receives everything.
func (h *Handler) ServeQuests(c *gin.Context) {
	allow, ok := h.authorize(c)
	if !ok {
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	subCtx, subCancel := context.WithCancel(c.Request.Context())
	defer subCancel()

	msgCh, unsub, err := h.pubsub.Subscribe(subCtx, notify.Channel)
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.Error(err))
		c.Status(http.StatusInternalServerError)
		return
	}
	defer unsub()

	fmt.Fprintf(c.Writer, "event: connected\ndata: {}\n\n")
	c.Writer.Flush()

	ticker := time.NewTicker(keepalive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			var ev notify.Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				h.logger.Warn("sse dropped malformed event", zap.Error(err))
				continue
			}
			if !allow(ev.Assignee) {
				continue
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", ev.Kind, msg.Payload)
			c.Writer.Flush()

		case <-ticker.C:
			// Keepalive comment to prevent proxy timeouts.
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return
		}
	}
}

// authorize returns the event filter for the caller. On false a response
// has been written.
func (h *Handler) authorize(c *gin.Context) (func(assignee string) bool, bool) {
	if key := c.Query("key"); key != "" {
		if h.adminKey == "" || key != h.adminKey {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return nil, false
		}
		return func(string) bool { return true }, true
	}

	tokenStr := c.Query("token")
	if tokenStr == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return nil, false
	}
	claims, err := mw.ParseToken(tokenStr, h.sec.JWTSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return nil, false
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	exists, err := h.c.Exists(ctx, mw.SessionKey(tokenStr))
	if err != nil || !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
		return nil, false
	}

	names, err := h.teams.ExpandToTeams(ctx, claims.Player)
	if err != nil {
		h.logger.Error("sse team lookup failed", zap.String("player", claims.Player), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return nil, false
	}
	return func(assignee string) bool { return slices.Contains(names, assignee) }, true
}
