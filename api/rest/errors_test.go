package rest

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questline/apperr"
	"github.com/kasuganosora/questline/quest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func render(t *testing.T, err error) (int, map[string]any) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	renderError(c, err)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestRenderError_ConcurrentUpdateIsRetryable(t *testing.T) {
	err := apperr.Wrap(apperr.KindPersistenceFailure, quest.ErrConcurrentUpdate, "quest %q was modified concurrently", "q1")
	code, body := render(t, fmt.Errorf("hint: %w", err))
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "conflict", body["kind"])
	assert.Equal(t, true, body["retryable"])
	assert.Contains(t, body["error"], "retry")
}

func TestRenderError_PersistenceFailureIsMasked(t *testing.T) {
	err := apperr.Wrap(apperr.KindPersistenceFailure, errors.New("disk full"), "save quest %q", "q1")
	code, body := render(t, err)
	assert.Equal(t, http.StatusInternalServerError, code)
	assert.Equal(t, "internal error", body["error"])
	assert.Nil(t, body["retryable"])
}

func TestRenderError_KindStatus(t *testing.T) {
	code, body := render(t, apperr.NotFound("quest %q", "q9"))
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, `quest "q9"`, body["error"])
}
