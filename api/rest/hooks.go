package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/questline/apperr"
	"github.com/kasuganosora/questline/messaging"
	mw "github.com/kasuganosora/questline/middleware"
	"github.com/kasuganosora/questline/sms"
	"go.uber.org/zap"
)

// HooksHandler answers the SMS provider's inbound webhooks with TwiML.
// Routes should be protected by an IPWhitelist of the provider's addresses.
type HooksHandler struct {
	corr   *sms.Correlator
	logger *zap.Logger
}

// NewHooksHandler creates a HooksHandler.
func NewHooksHandler(corr *sms.Correlator, logger *zap.Logger) *HooksHandler {
	return &HooksHandler{corr: corr, logger: logger}
}

// SMS POST /api/hooks/sms (form: From, Body, MessageSid)
func (h *HooksHandler) SMS(c *gin.Context) {
	from := c.PostForm("From")
	mw.SetActor(c, from)
	reply, err := h.corr.HandleText(c.Request.Context(), from, c.PostForm("Body"), c.PostForm("MessageSid"))
	if err != nil {
		h.logger.Error("inbound sms failed", zap.String("from", from), zap.Error(err))
		// A non-2xx makes the provider retry; MessageSid dedup absorbs the repeat.
		c.Data(apperr.KindOf(err).HTTPStatus(), messaging.ContentTypeXML, messaging.MessageMarkup(""))
		return
	}
	if reply.Duplicate {
		c.Data(http.StatusOK, messaging.ContentTypeXML, messaging.MessageMarkup(""))
		return
	}
	c.Data(http.StatusOK, messaging.ContentTypeXML, messaging.MessageMarkup(reply.Message))
}

// Voice POST /api/hooks/voice (form: From)
func (h *HooksHandler) Voice(c *gin.Context) {
	from := c.PostForm("From")
	mw.SetActor(c, from)
	reply, err := h.corr.HandleVoiceCall(c.Request.Context(), from)
	if err != nil {
		h.logger.Error("inbound call failed", zap.String("from", from), zap.Error(err))
		c.Data(http.StatusOK, messaging.ContentTypeXML,
			messaging.VoiceMarkup("Sorry, something went wrong. Please try again later."))
		return
	}
	if !reply.Accept {
		c.Data(http.StatusOK, messaging.ContentTypeXML, messaging.RejectMarkup(reply.Message))
		return
	}
	c.Data(http.StatusOK, messaging.ContentTypeXML, messaging.VoiceMarkup(reply.Message))
}
