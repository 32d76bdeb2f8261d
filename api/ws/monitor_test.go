package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/kasuganosora/questline/apperr"
	"github.com/kasuganosora/questline/config"
	"github.com/kasuganosora/questline/notify"
	"github.com/kasuganosora/questline/quest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func nop() *zap.Logger { return zap.NewNop() }

type stubViewer struct{}

func (stubViewer) View(_ context.Context, name string, admin bool) (*quest.View, error) {
	if name != "q1" {
		return nil, apperr.NotFound("quest %q not found", name)
	}
	return &quest.View{Name: name, Status: "in_progress"}, nil
}

func newMonitorServer(t *testing.T, adminKey string) (*httptest.Server, *notify.Registry) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	reg := notify.NewRegistry(nop())
	h := NewHandler(reg, stubViewer{}, adminKey, config.SecurityConfig{}, time.Second, nop())
	r := gin.New()
	r.GET("/ws/monitor", h.ServeMonitor)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, reg
}

func dial(t *testing.T, srv *httptest.Server, key string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/monitor?key=" + key
	return websocket.DefaultDialer.Dial(url, nil)
}

func TestServeMonitor_RejectsWrongKey(t *testing.T) {
	srv, _ := newMonitorServer(t, "secret")
	_, resp, err := dial(t, srv, "wrong")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeMonitor_DisabledWithoutKey(t *testing.T) {
	srv, _ := newMonitorServer(t, "")
	_, resp, err := dial(t, srv, "")
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestServeMonitor_ReceivesBroadcast(t *testing.T) {
	srv, reg := newMonitorServer(t, "secret")
	conn, _, err := dial(t, srv, "secret")
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return reg.Len() == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, reg.Broadcast([]byte(`{"quest":"q1","kind":"solved"}`)))

	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.JSONEq(t, `{"quest":"q1","kind":"solved"}`, string(msg))
}

func TestServeMonitor_ViewRequest(t *testing.T) {
	srv, _ := newMonitorServer(t, "secret")
	conn, _, err := dial(t, srv, "secret")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(request{Type: "view", Quest: "q1"}))
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	var got struct {
		Type  string     `json:"type"`
		Quest string     `json:"quest"`
		Data  quest.View `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, "view", got.Type)
	assert.Equal(t, "in_progress", got.Data.Status)

	require.NoError(t, conn.WriteJSON(request{Type: "view", Quest: "nope"}))
	var bad reply
	require.NoError(t, conn.ReadJSON(&bad))
	assert.Equal(t, "error", bad.Type)
	assert.Contains(t, bad.Error, "not found")
}

func TestServeMonitor_MalformedFrame(t *testing.T) {
	srv, _ := newMonitorServer(t, "secret")
	conn, _, err := dial(t, srv, "secret")
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var r reply
	require.NoError(t, json.Unmarshal(raw, &r))
	assert.Equal(t, "malformed request", r.Error)
}

func TestServeMonitor_DisconnectRemoves(t *testing.T) {
	srv, reg := newMonitorServer(t, "secret")
	conn, _, err := dial(t, srv, "secret")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return reg.Len() == 1 }, time.Second, 10*time.Millisecond)

	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.Close()
	assert.Eventually(t, func() bool { return reg.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}
