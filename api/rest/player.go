package rest

import (
	"context"
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questline/apperr"
	"github.com/kasuganosora/questline/identity"
	mw "github.com/kasuganosora/questline/middleware"
	"github.com/kasuganosora/questline/model"
	"github.com/kasuganosora/questline/quest"
	"go.uber.org/zap"
)

// PlayerHandler serves the quests of the authenticated player. A player may
// act on quests assigned to them or to any of their teams.
type PlayerHandler struct {
	eng    *quest.Engine
	dir    *identity.Directory
	logger *zap.Logger
}

// NewPlayerHandler creates a new PlayerHandler.
func NewPlayerHandler(eng *quest.Engine, dir *identity.Directory, logger *zap.Logger) *PlayerHandler {
	return &PlayerHandler{eng: eng, dir: dir, logger: logger}
}

// listOrder puts the quests a player can act on first.
var listOrder = []model.QuestStatus{model.QuestInProgress, model.QuestNotStarted, model.QuestCompleted}

// ListQuests GET /api/quests
func (h *PlayerHandler) ListQuests(c *gin.Context) {
	names, err := h.dir.ExpandToTeams(c.Request.Context(), mw.GetPlayer(c))
	if err != nil {
		renderError(c, err)
		return
	}
	type questInfo struct {
		Name        string `json:"name"`
		DisplayName string `json:"display_name"`
		Assignee    string `json:"assignee"`
		Status      string `json:"status"`
		Current     string `json:"current_puzzle,omitempty"`
	}
	out := []questInfo{}
	for _, status := range listOrder {
		qs, err := h.eng.ListByAssignees(c.Request.Context(), names, status)
		if err != nil {
			renderError(c, err)
			return
		}
		for _, q := range qs {
			info := questInfo{Name: q.Name, DisplayName: q.DisplayName, Assignee: q.Assignee, Status: q.Status.String()}
			if i := q.Current(); i >= 0 {
				info.Current = q.Puzzles[i].PuzzleName
			}
			out = append(out, info)
		}
	}
	c.JSON(http.StatusOK, gin.H{"quests": out})
}

// GetQuest GET /api/quests/:name
func (h *PlayerHandler) GetQuest(c *gin.Context) {
	if !h.owned(c) {
		return
	}
	h.respondView(c)
}

type activateRequest struct {
	Code   string `json:"code" binding:"required"`
	Source string `json:"source" binding:"omitempty,oneof=typed qr"`
}

// Activate POST /api/quests/:name/puzzles/:puzzle/activate
// A scanned QR code is sent as its decoded text with source "qr".
func (h *PlayerHandler) Activate(c *gin.Context) {
	var req activateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !h.owned(c) {
		return
	}
	if _, err := h.eng.Activate(c.Request.Context(), c.Param("name"), c.Param("puzzle"), req.Code); err != nil {
		renderError(c, err)
		return
	}
	h.logger.Debug("puzzle activated",
		zap.String("quest", c.Param("name")),
		zap.String("puzzle", c.Param("puzzle")),
		zap.String("source", req.Source))
	h.respondView(c)
}

type solveRequest struct {
	Guess string `json:"guess"`
}

// Solve POST /api/quests/:name/puzzles/:puzzle/solve
func (h *PlayerHandler) Solve(c *gin.Context) {
	var req solveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if !h.owned(c) {
		return
	}
	res, err := h.eng.Solve(c.Request.Context(), c.Param("name"), c.Param("puzzle"), req.Guess)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Hint POST /api/quests/:name/puzzles/:puzzle/hint
func (h *PlayerHandler) Hint(c *gin.Context) {
	if !h.owned(c) {
		return
	}
	res, err := h.eng.RequestHint(c.Request.Context(), c.Param("name"), c.Param("puzzle"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// owned checks that the quest in the path belongs to the player. Someone
// else's quest is reported as missing. On false a response has been written.
func (h *PlayerHandler) owned(c *gin.Context) bool {
	ok, err := h.owns(c.Request.Context(), mw.GetPlayer(c), c.Param("name"))
	if err != nil {
		renderError(c, err)
		return false
	}
	if !ok {
		renderError(c, apperr.NotFound("quest %q not found", c.Param("name")))
		return false
	}
	return true
}

func (h *PlayerHandler) owns(ctx context.Context, player, questName string) (bool, error) {
	q, err := h.eng.Get(ctx, questName)
	if err != nil {
		return false, err
	}
	names, err := h.dir.ExpandToTeams(ctx, player)
	if err != nil {
		return false, err
	}
	return slices.Contains(names, q.Assignee), nil
}

func (h *PlayerHandler) respondView(c *gin.Context) {
	v, err := h.eng.View(c.Request.Context(), c.Param("name"), false)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, v)
}
