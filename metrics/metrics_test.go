package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMiddleware_UsesRoutePattern(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/api/quests/:name", func(c *gin.Context) { c.Status(http.StatusTeapot) })

	before := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/quests/:name", "418"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/quests/q1", nil))
	assert.Equal(t, http.StatusTeapot, w.Code)
	after := testutil.ToFloat64(httpRequests.WithLabelValues("GET", "/api/quests/:name", "418"))
	assert.Equal(t, before+1, after)
}

func TestDomainCounters(t *testing.T) {
	before := testutil.ToFloat64(attempts.WithLabelValues("solve", "invalid_credential"))
	Attempt("solve", "invalid_credential")
	assert.Equal(t, before+1, testutil.ToFloat64(attempts.WithLabelValues("solve", "invalid_credential")))

	Monitors(3)
	assert.Equal(t, 3.0, testutil.ToFloat64(monitors))
}

func TestHandler_Exposes(t *testing.T) {
	Transition("started")
	w := httptest.NewRecorder()
	Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "questline_quest_transitions_total"))
}
