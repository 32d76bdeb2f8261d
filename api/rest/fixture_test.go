package rest_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questline/api/rest"
	"github.com/kasuganosora/questline/audit"
	"github.com/kasuganosora/questline/cache"
	"github.com/kasuganosora/questline/catalog"
	"github.com/kasuganosora/questline/config"
	"github.com/kasuganosora/questline/identity"
	"github.com/kasuganosora/questline/messaging"
	mw "github.com/kasuganosora/questline/middleware"
	"github.com/kasuganosora/questline/model"
	"github.com/kasuganosora/questline/quest"
	"github.com/kasuganosora/questline/scheduler"
	"github.com/kasuganosora/questline/sms"
	"github.com/kasuganosora/questline/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/datatypes"
)

const adminKey = "admin-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

type server struct {
	r         *gin.Engine
	eng       *quest.Engine
	dir       *identity.Directory
	cat       *catalog.Catalog
	audit     *audit.Service
	cache     cache.Cache
	transport *messaging.LogTransport
	sec       config.SecurityConfig
}

// newServer wires the REST surface the way main.go does, on an in-memory
// database with puzzles p1 (two hints) and p2, and users alice and bob.
// alice is in team red.
func newServer(t *testing.T) *server {
	t.Helper()
	db := testutil.SetupTestDB(t)
	c, _ := testutil.SetupTestCache(t)
	logger := zap.NewNop()
	sec := config.SecurityConfig{JWTSecret: "rest-secret", JWTTTLH: time.Hour}

	s := &server{
		cat:       catalog.New(db, c, time.Minute, logger),
		dir:       identity.NewDirectory(db),
		audit:     audit.New(db, logger),
		cache:     c,
		transport: messaging.NewLogTransport(logger),
		sec:       sec,
	}
	t.Cleanup(func() { s.audit.Stop(context.Background()) })
	s.eng = quest.NewEngine(quest.Deps{
		Store:     quest.NewGormStore(db),
		Catalog:   s.cat,
		Directory: s.dir,
		Auditor:   s.audit,
		Logger:    logger,
	})
	texts := config.Default().Messaging
	corr := sms.NewCorrelator(s.dir, s.eng, c, texts, s.audit, logger)
	bc := messaging.NewBroadcaster(s.dir, s.transport, time.Millisecond, logger)
	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)

	authH := rest.NewAuthHandler(s.dir, c, sec)
	playerH := rest.NewPlayerHandler(s.eng, s.dir, logger)
	adminH := rest.NewAdminHandler(s.eng, s.cat, s.dir, bc, s.audit, sched, logger)
	hooksH := rest.NewHooksHandler(corr, logger)

	r := gin.New()
	r.Use(mw.TraceID())
	api := r.Group("/api")
	api.POST("/auth/logout", mw.Auth(sec, c), authH.Logout)
	api.POST("/auth/refresh", mw.Auth(sec, c), authH.Refresh)

	questsG := api.Group("/quests")
	questsG.Use(mw.Auth(sec, c))
	questsG.GET("", playerH.ListQuests)
	questsG.GET("/:name", playerH.GetQuest)
	attempt := mw.AttemptLimit(rate.Limit(1000), 1000)
	questsG.POST("/:name/puzzles/:puzzle/activate", attempt, playerH.Activate)
	questsG.POST("/:name/puzzles/:puzzle/solve", attempt, playerH.Solve)
	questsG.POST("/:name/puzzles/:puzzle/hint", playerH.Hint)

	adminG := api.Group("/admin")
	adminG.Use(rest.AdminAuth(adminKey))
	adminG.GET("/puzzles", adminH.ListPuzzles)
	adminG.GET("/puzzles/:name", adminH.GetPuzzle)
	adminG.PUT("/puzzles/:name", adminH.PutPuzzle)
	adminG.DELETE("/puzzles/:name", adminH.DeletePuzzle)
	adminG.GET("/quests", adminH.ListQuests)
	adminG.POST("/quests", adminH.CreateQuest)
	adminG.GET("/quests/:name", adminH.GetQuest)
	adminG.PUT("/quests/:name", adminH.UpdateQuest)
	adminG.DELETE("/quests/:name", adminH.DeleteQuest)
	adminG.POST("/quests/:name/start", adminH.StartQuest)
	adminG.POST("/quests/:name/reset", adminH.ResetQuest)
	adminG.PUT("/quests/:name/puzzles/:puzzle/expected-response", adminH.SetExpectedResponse)
	adminG.POST("/quests/:name/broadcast", adminH.Broadcast)
	adminG.GET("/quests/:name/attempts", adminH.Attempts)
	adminG.POST("/users", adminH.CreateUser)
	adminG.POST("/teams", adminH.CreateTeam)
	adminG.POST("/teams/:name/members", adminH.AddMember)
	adminG.POST("/tokens", authH.Issue)
	adminG.GET("/scheduler", adminH.ListSchedulerTasks)

	hooksG := api.Group("/hooks")
	hooksG.POST("/sms", hooksH.SMS)
	hooksG.POST("/voice", hooksH.Voice)
	s.r = r

	ctx := context.Background()
	require.NoError(t, s.cat.Put(ctx, &model.Puzzle{
		Name:     "p1",
		Content:  "Where do the bells ring?",
		Keywords: "bell,tower",
		Solution: "The bell tower",
		Hints: datatypes.JSONSlice[model.Hint]{
			{Text: "Look up", Order: 1, PenaltySeconds: 60},
			{Text: "It is the bell tower", Order: 2, RevealsSolution: true, PenaltySeconds: 300},
		},
	}))
	require.NoError(t, s.cat.Put(ctx, &model.Puzzle{Name: "p2", Keywords: "pier", Solution: "The pier"}))
	_, err := s.dir.CreateUser(ctx, "alice", "+15550100001", true)
	require.NoError(t, err)
	_, err = s.dir.CreateUser(ctx, "bob", "+15550100002", true)
	require.NoError(t, err)
	_, err = s.dir.CreateTeam(ctx, "red")
	require.NoError(t, err)
	require.NoError(t, s.dir.AddMember(ctx, "red", "alice"))
	return s
}

// createQuest creates quest name for assignee over p1 and p2 with codes A1 and B2.
func (s *server) createQuest(t *testing.T, name, assignee string) {
	t.Helper()
	w := s.admin(http.MethodPost, "/api/admin/quests", map[string]any{
		"name":     name,
		"assignee": assignee,
		"puzzles":  []map[string]string{{"name": "p1", "code": "A1"}, {"name": "p2", "code": "B2"}},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
}

// token issues a player token through the admin API.
func (s *server) token(t *testing.T, player string) string {
	t.Helper()
	w := s.admin(http.MethodPost, "/api/admin/tokens", map[string]string{"player": player})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	return decode(t, w)["token"].(string)
}

func (s *server) do(method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.r.ServeHTTP(w, req)
	return w
}

func (s *server) admin(method, path string, body any) *httptest.ResponseRecorder {
	return s.do(method, path, body, "X-Admin-Key", adminKey)
}

func (s *server) player(method, path, token string, body any) *httptest.ResponseRecorder {
	return s.do(method, path, body, "Authorization", "Bearer "+token)
}

func (s *server) form(path string, values url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func decodeView(t *testing.T, w *httptest.ResponseRecorder) quest.View {
	t.Helper()
	var v quest.View
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}
