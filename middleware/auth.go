package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questline/audit"
	"github.com/kasuganosora/questline/cache"
	"github.com/kasuganosora/questline/config"
)

const PlayerKey = "player"

// SessionKey is the cache key that keeps an issued token alive.
func SessionKey(token string) string {
	return "session:" + token
}

// Auth validates the Bearer JWT token and checks the session cache.
func Auth(sec config.SecurityConfig, c cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		tokenStr := strings.TrimPrefix(header, "Bearer ")

		claims, err := ParseToken(tokenStr, sec.JWTSecret)
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		// Check session still valid in cache.
		cacheCtx, cancel := context.WithTimeout(ctx.Request.Context(), 2*time.Second)
		defer cancel()
		exists, err := c.Exists(cacheCtx, SessionKey(tokenStr))
		if err != nil || !exists {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "session expired"})
			return
		}

		ctx.Set(PlayerKey, claims.Player)
		SetActor(ctx, claims.Player)
		ctx.Next()
	}
}

// GetPlayer retrieves the authenticated player name from the Gin context.
func GetPlayer(c *gin.Context) string {
	if v, exists := c.Get(PlayerKey); exists {
		return v.(string)
	}
	return ""
}

// SetActor records who is acting in the request context, for the audit trail.
func SetActor(c *gin.Context, actor string) {
	o := audit.OriginFrom(c.Request.Context())
	o.Actor = actor
	if o.TraceID == "" {
		o.TraceID = GetTraceID(c)
	}
	c.Request = c.Request.WithContext(audit.WithOrigin(c.Request.Context(), o))
}
