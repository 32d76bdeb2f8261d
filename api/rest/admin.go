package rest

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questline/audit"
	"github.com/kasuganosora/questline/catalog"
	"github.com/kasuganosora/questline/identity"
	"github.com/kasuganosora/questline/messaging"
	mw "github.com/kasuganosora/questline/middleware"
	"github.com/kasuganosora/questline/model"
	"github.com/kasuganosora/questline/quest"
	"github.com/kasuganosora/questline/scheduler"
	"go.uber.org/zap"
)

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by AdminAuth middleware.
type AdminHandler struct {
	eng         *quest.Engine
	catalog     *catalog.Catalog
	dir         *identity.Directory
	broadcaster *messaging.Broadcaster
	audit       *audit.Service
	sched       *scheduler.Scheduler
	logger      *zap.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(
	eng *quest.Engine,
	cat *catalog.Catalog,
	dir *identity.Directory,
	broadcaster *messaging.Broadcaster,
	auditSvc *audit.Service,
	sched *scheduler.Scheduler,
	logger *zap.Logger,
) *AdminHandler {
	return &AdminHandler{
		eng:         eng,
		catalog:     cat,
		dir:         dir,
		broadcaster: broadcaster,
		audit:       auditSvc,
		sched:       sched,
		logger:      logger,
	}
}

// ---- quests ----

// ListQuests GET /api/admin/quests
func (h *AdminHandler) ListQuests(c *gin.Context) {
	qs, err := h.eng.List(c.Request.Context())
	if err != nil {
		renderError(c, err)
		return
	}
	type questInfo struct {
		Name         string `json:"name"`
		DisplayName  string `json:"display_name"`
		Assignee     string `json:"assignee"`
		AssigneeKind string `json:"assignee_kind"`
		Status       string `json:"status"`
		Puzzles      int    `json:"puzzles"`
		Version      int64  `json:"version"`
	}
	out := make([]questInfo, 0, len(qs))
	for _, q := range qs {
		out = append(out, questInfo{
			Name:         q.Name,
			DisplayName:  q.DisplayName,
			Assignee:     q.Assignee,
			AssigneeKind: string(q.AssigneeKind),
			Status:       q.Status.String(),
			Puzzles:      len(q.Puzzles),
			Version:      q.Version,
		})
	}
	c.JSON(http.StatusOK, gin.H{"quests": out, "count": len(out)})
}

// CreateQuest POST /api/admin/quests
func (h *AdminHandler) CreateQuest(c *gin.Context) {
	var req quest.CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	q, err := h.eng.Create(c.Request.Context(), req)
	if err != nil {
		renderError(c, err)
		return
	}
	h.respondView(c, http.StatusCreated, q.Name)
}

// GetQuest GET /api/admin/quests/:name
func (h *AdminHandler) GetQuest(c *gin.Context) {
	h.respondView(c, http.StatusOK, c.Param("name"))
}

// UpdateQuest PUT /api/admin/quests/:name
func (h *AdminHandler) UpdateQuest(c *gin.Context) {
	var req quest.UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if _, err := h.eng.Update(c.Request.Context(), c.Param("name"), req); err != nil {
		renderError(c, err)
		return
	}
	h.respondView(c, http.StatusOK, c.Param("name"))
}

// DeleteQuest DELETE /api/admin/quests/:name
func (h *AdminHandler) DeleteQuest(c *gin.Context) {
	if err := h.eng.Delete(c.Request.Context(), c.Param("name")); err != nil {
		renderError(c, err)
		return
	}
	h.logger.Info("admin deleted quest", zap.String("quest", c.Param("name")))
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// StartQuest POST /api/admin/quests/:name/start
func (h *AdminHandler) StartQuest(c *gin.Context) {
	if _, err := h.eng.Start(c.Request.Context(), c.Param("name")); err != nil {
		renderError(c, err)
		return
	}
	h.respondView(c, http.StatusOK, c.Param("name"))
}

// ResetQuest POST /api/admin/quests/:name/reset
func (h *AdminHandler) ResetQuest(c *gin.Context) {
	if _, err := h.eng.Reset(c.Request.Context(), c.Param("name")); err != nil {
		renderError(c, err)
		return
	}
	h.logger.Info("admin reset quest", zap.String("quest", c.Param("name")))
	h.respondView(c, http.StatusOK, c.Param("name"))
}

type expectedResponseRequest struct {
	Pattern      string `json:"pattern"`
	Confirmation string `json:"confirmation"`
}

// SetExpectedResponse PUT /api/admin/quests/:name/puzzles/:puzzle/expected-response
func (h *AdminHandler) SetExpectedResponse(c *gin.Context) {
	var req expectedResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	_, err := h.eng.SetExpectedResponse(c.Request.Context(), c.Param("name"), c.Param("puzzle"), req.Pattern, req.Confirmation)
	if err != nil {
		renderError(c, err)
		return
	}
	h.respondView(c, http.StatusOK, c.Param("name"))
}

type broadcastRequest struct {
	Body string `json:"body" binding:"required"`
}

// Broadcast POST /api/admin/quests/:name/broadcast
// Sends body to the quest's assignee, every opted-in member of a team.
func (h *AdminHandler) Broadcast(c *gin.Context) {
	var req broadcastRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	q, err := h.eng.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		renderError(c, err)
		return
	}
	a := identity.Assignee{Kind: q.AssigneeKind, Name: q.Assignee}
	res, err := h.broadcaster.Send(c.Request.Context(), a, req.Body)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"recipients": res.Recipients, "sent": res.Sent})
}

// Attempts GET /api/admin/quests/:name/attempts?limit=N
func (h *AdminHandler) Attempts(c *gin.Context) {
	name := c.Param("name")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := h.audit.ListByQuest(c.Request.Context(), name, limit)
	if err != nil {
		renderError(c, err)
		return
	}
	counts, err := h.audit.CountByOutcome(c.Request.Context(), name)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"attempts": entries, "outcomes": counts})
}

func (h *AdminHandler) respondView(c *gin.Context, status int, name string) {
	v, err := h.eng.View(c.Request.Context(), name, true)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(status, v)
}

// ---- catalog ----

// ListPuzzles GET /api/admin/puzzles
func (h *AdminHandler) ListPuzzles(c *gin.Context) {
	ps, err := h.catalog.List(c.Request.Context())
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"puzzles": ps, "count": len(ps)})
}

// GetPuzzle GET /api/admin/puzzles/:name
func (h *AdminHandler) GetPuzzle(c *gin.Context) {
	p, err := h.catalog.Get(c.Request.Context(), c.Param("name"))
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// PutPuzzle PUT /api/admin/puzzles/:name creates or replaces a catalog puzzle.
func (h *AdminHandler) PutPuzzle(c *gin.Context) {
	var p model.Puzzle
	if err := c.ShouldBindJSON(&p); err != nil {
		badRequest(c, err)
		return
	}
	p.ID = 0
	p.Name = c.Param("name")
	if err := h.catalog.Put(c.Request.Context(), &p); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// DeletePuzzle DELETE /api/admin/puzzles/:name
// Quests that still reference the puzzle keep working for everything but
// solving and hints on it.
func (h *AdminHandler) DeletePuzzle(c *gin.Context) {
	if err := h.catalog.Delete(c.Request.Context(), c.Param("name")); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ---- identity ----

type createUserRequest struct {
	Name     string `json:"name" binding:"required,max=64"`
	Phone    string `json:"phone" binding:"max=32"`
	SMSOptIn bool   `json:"sms_opt_in"`
}

// CreateUser POST /api/admin/users
func (h *AdminHandler) CreateUser(c *gin.Context) {
	var req createUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	u, err := h.dir.CreateUser(c.Request.Context(), req.Name, req.Phone, req.SMSOptIn)
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

type createTeamRequest struct {
	Name    string   `json:"name" binding:"required,max=64"`
	Members []string `json:"members"`
}

// CreateTeam POST /api/admin/teams
func (h *AdminHandler) CreateTeam(c *gin.Context) {
	var req createTeamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	t, err := h.dir.CreateTeam(c.Request.Context(), req.Name)
	if err != nil {
		renderError(c, err)
		return
	}
	for _, m := range req.Members {
		if err := h.dir.AddMember(c.Request.Context(), t.Name, m); err != nil {
			renderError(c, err)
			return
		}
	}
	c.JSON(http.StatusCreated, gin.H{"team": t, "members": req.Members})
}

type addMemberRequest struct {
	User string `json:"user" binding:"required"`
}

// AddMember POST /api/admin/teams/:name/members
func (h *AdminHandler) AddMember(c *gin.Context) {
	var req addMemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, err)
		return
	}
	if err := h.dir.AddMember(c.Request.Context(), c.Param("name"), req.User); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ListSchedulerTasks returns the background tasks and their last runs.
// GET /api/admin/scheduler
func (h *AdminHandler) ListSchedulerTasks(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tasks": h.sched.Tasks()})
}

// AdminAuth returns a middleware that checks the X-Admin-Key header.
// WARNING: if adminKey is empty all admin endpoints are disabled (503) so the
// server cannot be accidentally deployed without protection. Set a non-empty
// server.admin_key in config to enable admin routes.
func AdminAuth(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		key := c.GetHeader("X-Admin-Key")
		if key != adminKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		mw.SetActor(c, "admin")
		c.Next()
	}
}
