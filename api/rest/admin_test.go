package rest_test

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questline/api/rest"
	"github.com/kasuganosora/questline/messaging"
	"github.com/kasuganosora/questline/scheduler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

// ---- AdminAuth ----

func newAuthOnlyRouter(key string) *gin.Engine {
	r := gin.New()
	r.Use(rest.AdminAuth(key))
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	return r
}

func get(r *gin.Engine, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if key != "" {
		req.Header.Set("X-Admin-Key", key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAdminAuth_NoKey_Disabled(t *testing.T) {
	// When adminKey is empty, admin endpoints must be disabled (503) so the
	// server cannot be accidentally deployed without protection.
	assert.Equal(t, http.StatusServiceUnavailable, get(newAuthOnlyRouter(""), "").Code)
}

func TestAdminAuth_WrongKey(t *testing.T) {
	assert.Equal(t, http.StatusUnauthorized, get(newAuthOnlyRouter("secret"), "wrong").Code)
	assert.Equal(t, http.StatusUnauthorized, get(newAuthOnlyRouter("secret"), "").Code)
}

func TestAdminAuth_CorrectKey(t *testing.T) {
	assert.Equal(t, http.StatusOK, get(newAuthOnlyRouter("secret"), "secret").Code)
}

// ---- catalog ----

func TestAdmin_PuzzleCRUD(t *testing.T) {
	s := newServer(t)

	w := s.admin(http.MethodPut, "/api/admin/puzzles/p9", map[string]any{
		"display_name": "The Fountain",
		"content_kind": "image",
		"content":      "/media/fountain.jpg",
		"keywords":     "fountain",
		"solution":     "The fountain",
	})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = s.admin(http.MethodGet, "/api/admin/puzzles/p9", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "The Fountain", decode(t, w)["display_name"])

	w = s.admin(http.MethodGet, "/api/admin/puzzles", nil)
	assert.EqualValues(t, 3, decode(t, w)["count"])

	w = s.admin(http.MethodPut, "/api/admin/puzzles/p9", map[string]any{"content_kind": "hologram"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	assert.Equal(t, http.StatusOK, s.admin(http.MethodDelete, "/api/admin/puzzles/p9", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.admin(http.MethodDelete, "/api/admin/puzzles/p9", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.admin(http.MethodGet, "/api/admin/puzzles/p9", nil).Code)
}

// ---- quests ----

func TestAdmin_QuestLifecycle(t *testing.T) {
	s := newServer(t)
	s.createQuest(t, "q1", "alice")

	v := decodeView(t, s.admin(http.MethodGet, "/api/admin/quests/q1", nil))
	assert.Equal(t, "not_started", v.Status)
	assert.Equal(t, "A1", v.Puzzles[0].ActivationCode, "admin view carries codes")
	assert.Equal(t, "Where do the bells ring?", v.Puzzles[0].Content)

	name := "Bells and Piers"
	w := s.admin(http.MethodPut, "/api/admin/quests/q1", map[string]any{"display_name": name})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, name, decodeView(t, w).DisplayName)

	w = s.admin(http.MethodPost, "/api/admin/quests/q1/start", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "awaiting_activation", decodeView(t, w).Puzzles[0].Status)

	w = s.admin(http.MethodPost, "/api/admin/quests/q1/start", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = s.admin(http.MethodPut, "/api/admin/quests/q1", map[string]any{
		"puzzles": []map[string]string{{"name": "p2"}},
	})
	assert.Equal(t, http.StatusConflict, w.Code, "puzzles are fixed once started")

	w = s.admin(http.MethodPost, "/api/admin/quests/q1/reset", nil)
	require.Equal(t, http.StatusOK, w.Code)
	v = decodeView(t, w)
	assert.Equal(t, "not_started", v.Status)
	assert.Equal(t, "A1", v.Puzzles[0].ActivationCode)

	w = s.admin(http.MethodGet, "/api/admin/quests", nil)
	assert.EqualValues(t, 1, decode(t, w)["count"])

	assert.Equal(t, http.StatusOK, s.admin(http.MethodDelete, "/api/admin/quests/q1", nil).Code)
	assert.Equal(t, http.StatusNotFound, s.admin(http.MethodGet, "/api/admin/quests/q1", nil).Code)
}

func TestAdmin_CreateQuestErrors(t *testing.T) {
	s := newServer(t)
	s.createQuest(t, "q1", "alice")

	cases := []struct {
		name string
		body map[string]any
		want int
	}{
		{"duplicate name", map[string]any{"name": "q1", "assignee": "alice"}, http.StatusBadRequest},
		{"unknown assignee", map[string]any{"name": "q2", "assignee": "carol"}, http.StatusNotFound},
		{"unknown puzzle", map[string]any{"name": "q3", "assignee": "alice",
			"puzzles": []map[string]string{{"name": "nope"}}}, http.StatusNotFound},
		{"repeated puzzle", map[string]any{"name": "q4", "assignee": "alice",
			"puzzles": []map[string]string{{"name": "p1"}, {"name": "p1"}}}, http.StatusBadRequest},
		{"missing assignee", map[string]any{"name": "q5"}, http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := s.admin(http.MethodPost, "/api/admin/quests", tc.body)
			assert.Equal(t, tc.want, w.Code, w.Body.String())
			assert.NotEmpty(t, decode(t, w)["kind"])
		})
	}
}

func TestAdmin_GeneratesMissingCodes(t *testing.T) {
	s := newServer(t)
	w := s.admin(http.MethodPost, "/api/admin/quests", map[string]any{
		"name":     "q1",
		"assignee": "alice",
		"puzzles":  []map[string]string{{"name": "p1"}},
	})
	require.Equal(t, http.StatusCreated, w.Code)
	assert.Len(t, decodeView(t, w).Puzzles[0].ActivationCode, 6)
}

// ---- broadcast / attempts ----

func TestAdmin_BroadcastToTeam(t *testing.T) {
	s := newServer(t)
	s.createQuest(t, "team-q", "red")

	w := s.admin(http.MethodPost, "/api/admin/quests/team-q/broadcast", map[string]string{"body": "Meet at the pier"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.EqualValues(t, 1, body["recipients"])
	assert.EqualValues(t, 1, body["sent"])

	sent := s.transport.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "+15550100001", sent[0].To)

	w = s.admin(http.MethodPost, "/api/admin/quests/team-q/broadcast", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	w = s.admin(http.MethodPost, "/api/admin/quests/nope/broadcast", map[string]string{"body": "hi"})
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type downTransport struct{}

func (downTransport) SendSMS(context.Context, string, string) error {
	return errors.New("carrier unavailable")
}

func TestAdmin_BroadcastFailureLoggedOnce(t *testing.T) {
	s := newServer(t)
	s.createQuest(t, "team-q", "red")

	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)
	sched := scheduler.New(logger)
	t.Cleanup(sched.Stop)
	bc := messaging.NewBroadcaster(s.dir, downTransport{}, 0, logger)
	h := rest.NewAdminHandler(s.eng, s.cat, s.dir, bc, s.audit, sched, logger)
	r := gin.New()
	r.POST("/quests/:name/broadcast", h.Broadcast)

	req := httptest.NewRequest(http.MethodPost, "/quests/team-q/broadcast", bytes.NewBufferString(`{"body":"Meet at the pier"}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadGateway, w.Code, w.Body.String())
	assert.Equal(t, 1, logs.FilterMessage("broadcast aborted").Len())
}

func TestAdmin_AttemptsCountWrongAnswers(t *testing.T) {
	s := newServer(t)
	s.createQuest(t, "q1", "alice")
	s.admin(http.MethodPost, "/api/admin/quests/q1/start", nil)
	tok := s.token(t, "alice")

	for _, code := range []string{"x", "y", "A1"} {
		s.player(http.MethodPost, "/api/quests/q1/puzzles/p1/activate", tok, map[string]string{"code": code})
	}
	s.audit.Stop(context.Background()) // flush the batch

	w := s.admin(http.MethodGet, "/api/admin/quests/q1/attempts?limit=10", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	outcomes := body["outcomes"].(map[string]any)
	assert.EqualValues(t, 2, outcomes["invalid_credential"])
	assert.EqualValues(t, 1, outcomes["ok"])

	attempts := body["attempts"].([]any)
	require.Len(t, attempts, 3)
	newest := attempts[0].(map[string]any)
	assert.Equal(t, "alice", newest["actor"])
	assert.Equal(t, "activate", newest["action"])
}

// ---- identity ----

func TestAdmin_IdentitySeeding(t *testing.T) {
	s := newServer(t)

	w := s.admin(http.MethodPost, "/api/admin/users", map[string]any{"name": "carol", "phone": "+1 (555) 010-0003", "sms_opt_in": true})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, "+15550100003", decode(t, w)["phone"])

	w = s.admin(http.MethodPost, "/api/admin/users", map[string]any{"name": "red"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "team names and user names share one namespace")

	w = s.admin(http.MethodPost, "/api/admin/teams", map[string]any{"name": "blue", "members": []string{"carol", "bob"}})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = s.admin(http.MethodPost, "/api/admin/teams/blue/members", map[string]string{"user": "alice"})
	assert.Equal(t, http.StatusOK, w.Code)
	w = s.admin(http.MethodPost, "/api/admin/teams/blue/members", map[string]string{"user": "nobody"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	teams, err := s.dir.ExpandToTeams(context.Background(), "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "red", "blue"}, teams)
}

func TestAdmin_IssueToken(t *testing.T) {
	s := newServer(t)

	w := s.admin(http.MethodPost, "/api/admin/tokens", map[string]string{"player": "red"})
	assert.Equal(t, http.StatusBadRequest, w.Code, "teams cannot hold tokens")
	w = s.admin(http.MethodPost, "/api/admin/tokens", map[string]string{"player": "carol"})
	assert.Equal(t, http.StatusNotFound, w.Code)
	w = s.do(http.MethodPost, "/api/admin/tokens", map[string]string{"player": "alice"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.admin(http.MethodPost, "/api/admin/tokens", map[string]string{"player": "alice"})
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "alice", body["player"])
	assert.EqualValues(t, 3600, body["expires_in"])
}

func TestAdmin_SchedulerTasks(t *testing.T) {
	s := newServer(t)
	w := s.admin(http.MethodGet, "/api/admin/scheduler", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["tasks"])
}

// ---- webhooks ----

func TestHooks_SMSSolvesExpectedResponse(t *testing.T) {
	s := newServer(t)
	s.createQuest(t, "q1", "alice")
	s.admin(http.MethodPost, "/api/admin/quests/q1/start", nil)
	tok := s.token(t, "alice")
	s.player(http.MethodPost, "/api/quests/q1/puzzles/p1/activate", tok, map[string]string{"code": "A1"})

	w := s.admin(http.MethodPut, "/api/admin/quests/q1/puzzles/p1/expected-response",
		map[string]string{"pattern": "bell", "confirmation": "Nicely done!"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "bell", decodeView(t, w).Puzzles[0].TextResponse)

	w = s.form("/api/hooks/sms", url.Values{"From": {"+15550100001"}, "Body": {"The BELL rings"}, "MessageSid": {"SM1"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "application/xml")
	assert.Contains(t, w.Body.String(), "<Message>Nicely done!</Message>")

	w = s.form("/api/hooks/sms", url.Values{"From": {"+15550100001"}, "Body": {"The BELL rings"}, "MessageSid": {"SM1"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "<Message>", "redelivery is answered silently")

	v := decodeView(t, s.admin(http.MethodGet, "/api/admin/quests/q1", nil))
	assert.Equal(t, "completed", v.Puzzles[0].Status)
	assert.Equal(t, "awaiting_activation", v.Puzzles[1].Status)
}

func TestHooks_SMSNotExpecting(t *testing.T) {
	s := newServer(t)
	w := s.form("/api/hooks/sms", url.Values{"From": {"+15550100002"}, "Body": {"hello?"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "not expecting")
}

func TestHooks_VoiceStartsQuests(t *testing.T) {
	s := newServer(t)
	s.createQuest(t, "q1", "alice")
	s.createQuest(t, "team-q", "red")

	w := s.form("/api/hooks/voice", url.Values{"From": {"+1 555 010 0001"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<Say")
	assert.Contains(t, w.Body.String(), "2 quest(s)")
	assert.Contains(t, w.Body.String(), "<Hangup")
	assert.NotContains(t, w.Body.String(), "<Reject")

	v := decodeView(t, s.admin(http.MethodGet, "/api/admin/quests/team-q", nil))
	assert.Equal(t, "in_progress", v.Status)

	w = s.form("/api/hooks/voice", url.Values{"From": {"anonymous"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "without withholding")
	assert.Contains(t, w.Body.String(), `<Reject reason="rejected"`)
	assert.NotContains(t, w.Body.String(), "<Hangup")

	w = s.form("/api/hooks/voice", url.Values{"From": {"+15550199999"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "<Reject")
}
