// Package integration runs the quest server over real HTTP and WebSocket
// connections for end-to-end tests.
package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	apirest "github.com/kasuganosora/questline/api/rest"
	"github.com/kasuganosora/questline/api/sse"
	apiws "github.com/kasuganosora/questline/api/ws"
	"github.com/kasuganosora/questline/audit"
	"github.com/kasuganosora/questline/cache"
	"github.com/kasuganosora/questline/catalog"
	"github.com/kasuganosora/questline/config"
	"github.com/kasuganosora/questline/identity"
	"github.com/kasuganosora/questline/messaging"
	"github.com/kasuganosora/questline/metrics"
	mw "github.com/kasuganosora/questline/middleware"
	"github.com/kasuganosora/questline/notify"
	"github.com/kasuganosora/questline/quest"
	"github.com/kasuganosora/questline/scheduler"
	"github.com/kasuganosora/questline/sms"
	"github.com/kasuganosora/questline/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
)

// AdminKey is the admin key the test server is configured with.
const AdminKey = "integration-admin-key"

// TestServer wraps a real HTTP server with every subsystem wired together.
type TestServer struct {
	DB        *gorm.DB
	Cache     cache.Cache
	PubSub    cache.PubSub
	Engine    *quest.Engine
	Registry  *notify.Registry
	Transport *messaging.LogTransport
	Sched     *scheduler.Scheduler
	Server    *httptest.Server
	URL       string // http://127.0.0.1:<port>
	WSURL     string // ws://127.0.0.1:<port>/ws/monitor
	Sec       config.SecurityConfig
}

// NewTestServer creates a fully wired server for integration testing.
// It mirrors the dependency wiring in main.go.
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	// ---- Infrastructure ----
	db := testutil.SetupTestDB(t)
	c, pubsub := testutil.SetupTestCache(t)
	logger := zap.NewNop()

	cfg := config.Default()
	cfg.Server.AdminKey = AdminKey
	cfg.Security.JWTSecret = "integration-test-secret"
	cfg.Security.RateLimitRPS = 1000
	cfg.Security.RateLimitBurst = 2000
	cfg.Security.AttemptRPS = 1000
	cfg.Security.AttemptBurst = 1000
	cfg.Messaging.SendDelay = time.Millisecond
	cfg.Notify.PingInterval = 50 * time.Millisecond
	sec := cfg.Security

	auditSvc := audit.New(db, logger)
	t.Cleanup(func() { auditSvc.Stop(context.Background()) })

	// ---- Quest engine ----
	cat := catalog.New(db, c, cfg.Game.CatalogCacheTTL, logger)
	dir := identity.NewDirectory(db)
	eng := quest.NewEngine(quest.Deps{
		Store:      quest.NewGormStore(db),
		Catalog:    cat,
		Directory:  dir,
		Publisher:  notify.NewPublisher(pubsub, logger),
		Auditor:    auditSvc,
		Logger:     logger,
		CodeLength: cfg.Game.ActivationCodeLength,
	})

	// ---- Messaging ----
	transport := messaging.NewLogTransport(logger)
	broadcaster := messaging.NewBroadcaster(dir, transport, cfg.Messaging.SendDelay, logger)
	corr := sms.NewCorrelator(dir, eng, c, cfg.Messaging, auditSvc, logger)

	// ---- Monitors ----
	ctx, cancel := context.WithCancel(context.Background())
	registry := notify.NewRegistry(logger)
	hub := notify.NewHub(pubsub, registry, logger)
	go func() { _ = hub.Run(ctx) }()

	sched := scheduler.New(logger)
	sched.AddTicker("monitor_sweep", cfg.Notify.PingInterval, func(context.Context) error {
		registry.Sweep()
		metrics.Monitors(registry.Len())
		return nil
	})

	// ---- Gin HTTP Server ----
	r := gin.New()
	r.Use(mw.TraceID(), mw.Recovery(logger), metrics.Middleware(), mw.CORS(sec.AllowedOrigins))
	r.Use(mw.RateLimit(rate.Limit(sec.RateLimitRPS), sec.RateLimitBurst))

	r.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))

	// ---- REST API routes (mirrors main.go) ----
	authH := apirest.NewAuthHandler(dir, c, sec)
	playerH := apirest.NewPlayerHandler(eng, dir, logger)
	adminH := apirest.NewAdminHandler(eng, cat, dir, broadcaster, auditSvc, sched, logger)
	hooksH := apirest.NewHooksHandler(corr, logger)
	attempt := mw.AttemptLimit(rate.Limit(sec.AttemptRPS), sec.AttemptBurst)

	api := r.Group("/api")
	{
		authG := api.Group("/auth")
		authG.POST("/logout", mw.Auth(sec, c), authH.Logout)
		authG.POST("/refresh", mw.Auth(sec, c), authH.Refresh)

		questsG := api.Group("/quests")
		questsG.Use(mw.Auth(sec, c))
		questsG.GET("", playerH.ListQuests)
		questsG.GET("/:name", playerH.GetQuest)
		questsG.POST("/:name/puzzles/:puzzle/activate", attempt, playerH.Activate)
		questsG.POST("/:name/puzzles/:puzzle/solve", attempt, playerH.Solve)
		questsG.POST("/:name/puzzles/:puzzle/hint", playerH.Hint)

		adminG := api.Group("/admin")
		adminG.Use(apirest.AdminAuth(cfg.Server.AdminKey))
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
		hooksG.Use(mw.IPWhitelist(sec.WebhookIPs))
		hooksG.POST("/sms", hooksH.SMS)
		hooksG.POST("/voice", hooksH.Voice)
	}

	wsH := apiws.NewHandler(registry, eng, cfg.Server.AdminKey, sec, cfg.Notify.PingInterval, logger)
	r.GET("/ws/monitor", wsH.ServeMonitor)

	sseH := sse.NewHandler(pubsub, c, sec, cfg.Server.AdminKey, dir, logger)
	r.GET("/sse/quests", sseH.ServeQuests)

	// ---- Start server ----
	server := httptest.NewServer(r)
	ts := &TestServer{
		DB:        db,
		Cache:     c,
		PubSub:    pubsub,
		Engine:    eng,
		Registry:  registry,
		Transport: transport,
		Sched:     sched,
		Server:    server,
		URL:       server.URL,
		WSURL:     "ws" + strings.TrimPrefix(server.URL, "http") + "/ws/monitor",
		Sec:       sec,
	}
	t.Cleanup(func() {
		cancel()
		sched.Stop()
		registry.CloseAll()
		server.Close()
	})
	return ts
}

// --- HTTP helpers ---

// Do sends a JSON request. headers are name/value pairs.
func (ts *TestServer) Do(t *testing.T, method, path string, body interface{}, headers ...string) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, ts.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	return resp
}

// Player sends a request with a Bearer token.
func (ts *TestServer) Player(t *testing.T, method, path, token string, body interface{}) *http.Response {
	t.Helper()
	return ts.Do(t, method, path, body, "Authorization", "Bearer "+token)
}

// Admin sends a request with the admin key.
func (ts *TestServer) Admin(t *testing.T, method, path string, body interface{}) *http.Response {
	t.Helper()
	return ts.Do(t, method, path, body, "X-Admin-Key", AdminKey)
}

// MustAdmin sends an admin request and requires a 2xx answer.
func (ts *TestServer) MustAdmin(t *testing.T, method, path string, body interface{}) {
	t.Helper()
	resp := ts.Admin(t, method, path, body)
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		data, _ := io.ReadAll(resp.Body)
		t.Fatalf("%s %s: %d %s", method, path, resp.StatusCode, data)
	}
}

// PostForm posts a webhook form and returns the status and body.
func (ts *TestServer) PostForm(t *testing.T, path string, values url.Values) (int, string) {
	t.Helper()
	resp, err := http.PostForm(ts.URL+path, values)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(data)
}

// ReadJSON reads and decodes a JSON response body into the given target.
func ReadJSON(t *testing.T, resp *http.Response, target interface{}) {
	t.Helper()
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, target), "body: %s", string(data))
}

// IssueToken asks the admin API for a player token.
func (ts *TestServer) IssueToken(t *testing.T, player string) string {
	t.Helper()
	resp := ts.Admin(t, http.MethodPost, "/api/admin/tokens", map[string]string{"player": player})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Token string `json:"token"`
	}
	ReadJSON(t, resp, &out)
	return out.Token
}

// --- Monitor client ---

// Monitor wraps a monitor WebSocket. A background readLoop feeds frames to
// a channel so waits can time out without touching read deadlines.
type Monitor struct {
	Conn   *websocket.Conn
	t      *testing.T
	readCh chan readResult
}

type readResult struct {
	data []byte
	err  error
}

// ConnectMonitor dials /ws/monitor with the admin key and waits until the
// server has registered the connection.
func (ts *TestServer) ConnectMonitor(t *testing.T) *Monitor {
	t.Helper()
	before := ts.Registry.Len()
	conn, resp, err := websocket.DefaultDialer.Dial(ts.WSURL+"?key="+AdminKey, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	require.NoError(t, err, "WS dial failed")
	m := &Monitor{Conn: conn, t: t, readCh: make(chan readResult, 256)}
	go m.readLoop()
	t.Cleanup(func() { conn.Close() })
	require.Eventually(t, func() bool { return ts.Registry.Len() > before }, time.Second, 5*time.Millisecond)
	return m
}

func (m *Monitor) readLoop() {
	for {
		_, data, err := m.Conn.ReadMessage()
		m.readCh <- readResult{data, err}
		if err != nil {
			return
		}
	}
}

// Next returns the next JSON frame as a map.
func (m *Monitor) Next(timeout time.Duration) map[string]interface{} {
	m.t.Helper()
	select {
	case res := <-m.readCh:
		require.NoError(m.t, res.err, "monitor read failed")
		var frame map[string]interface{}
		require.NoError(m.t, json.Unmarshal(res.data, &frame))
		return frame
	case <-time.After(timeout):
		m.t.Fatal("timed out waiting for a monitor frame")
		return nil
	}
}

// NextKind skips frames until a quest event of the given kind arrives.
func (m *Monitor) NextKind(kind string, timeout time.Duration) map[string]interface{} {
	m.t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		frame := m.Next(time.Until(deadline))
		if frame["kind"] == kind {
			return frame
		}
	}
	m.t.Fatalf("timed out waiting for %q event", kind)
	return nil
}
