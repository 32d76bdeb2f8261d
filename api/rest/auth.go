package rest

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questline/apperr"
	"github.com/kasuganosora/questline/cache"
	"github.com/kasuganosora/questline/config"
	"github.com/kasuganosora/questline/identity"
	mw "github.com/kasuganosora/questline/middleware"
	"github.com/kasuganosora/questline/model"
)

// AuthHandler issues and revokes player tokens. Players do not log in with a
// password; an admin hands out tokens for registered users.
type AuthHandler struct {
	dir   *identity.Directory
	cache cache.Cache
	sec   config.SecurityConfig
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(dir *identity.Directory, c cache.Cache, sec config.SecurityConfig) *AuthHandler {
	return &AuthHandler{dir: dir, cache: c, sec: sec}
}

type issueRequest struct {
	Player string `json:"player" binding:"required,max=64"`
}

// Issue handles POST /api/admin/tokens.
func (h *AuthHandler) Issue(c *gin.Context) {
	var req issueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	a, err := h.dir.ResolveAssignee(c.Request.Context(), strings.TrimSpace(req.Player))
	if err != nil {
		renderError(c, err)
		return
	}
	if a.Kind != model.AssigneeUser {
		renderError(c, apperr.InvalidRequest("%q is a team, tokens are issued to users", a.Name))
		return
	}
	token, err := h.store(c, a.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token, "player": a.Name, "expires_in": int(h.sec.JWTTTLH.Seconds())})
}

// Logout handles POST /api/auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	tokenStr := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if tokenStr == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	_ = h.cache.Del(ctx, mw.SessionKey(tokenStr))
	c.JSON(http.StatusOK, gin.H{"message": "logged out"})
}

// Refresh handles POST /api/auth/refresh.
func (h *AuthHandler) Refresh(c *gin.Context) {
	player := mw.GetPlayer(c)
	if player == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	oldToken := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	_ = h.cache.Del(ctx, mw.SessionKey(oldToken))

	token, err := h.store(c, player)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

// store signs a token and registers its session so Auth accepts it.
func (h *AuthHandler) store(c *gin.Context, player string) (string, error) {
	token, err := mw.GenerateToken(player, h.sec.JWTSecret, h.sec.JWTTTLH)
	if err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()
	if err := h.cache.Set(ctx, mw.SessionKey(token), player, h.sec.JWTTTLH); err != nil {
		return "", err
	}
	return token, nil
}
