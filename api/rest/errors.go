package rest

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questline/apperr"
	"github.com/kasuganosora/questline/quest"
)

// renderError answers with the status mapped from the error kind.
// Persistence failures hide their cause from the client. A lost write race
// is reported as a retryable 409 instead.
func renderError(c *gin.Context, err error) {
	if errors.Is(err, quest.ErrConcurrentUpdate) {
		c.JSON(http.StatusConflict, gin.H{
			"error":     "quest was modified concurrently, retry",
			"kind":      "conflict",
			"retryable": true,
		})
		return
	}
	kind := apperr.KindOf(err)
	msg := apperr.Message(err)
	if kind == apperr.KindPersistenceFailure {
		_ = c.Error(err)
		msg = "internal error"
	}
	c.JSON(kind.HTTPStatus(), gin.H{"error": msg, "kind": kind.String()})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "kind": apperr.KindInvalidRequest.String()})
}
