package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"bankfeed/internal/webhook"
)

// WebhookHandler answers the provider's push deliveries. Enqueue-and-return:
// everything past the signature check happens on the worker pool.
type WebhookHandler struct {
	Ingestor    *webhook.Ingestor
	Logger      *zap.Logger
	MaxBodySize int64
}

func (h *WebhookHandler) Register(r *gin.Engine) {
	r.POST("/webhooks/openfinance", h.receive)
}

func (h *WebhookHandler) receive(c *gin.Context) {
	maxBody := h.MaxBodySize
	if maxBody <= 0 {
		maxBody = 1 << 20
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBody))
	if err != nil {
		Error(c, http.StatusBadRequest, "read body failed", nil)
		return
	}

	receipt, err := h.Ingestor.Receive(c.Request.Context(), body, c.GetHeader("X-Webhook-Signature"))
	if errors.Is(err, webhook.ErrBadSignature) {
		if h.Logger != nil {
			h.Logger.Warn("webhook rejected: bad signature", zap.String("remote", c.ClientIP()))
		}
		Error(c, http.StatusUnauthorized, "invalid signature", nil)
		return
	}
	if err != nil {
		if h.Logger != nil {
			h.Logger.Error("webhook enqueue failed", zap.Error(err))
		}
		Error(c, http.StatusInternalServerError, "enqueue failed", nil)
		return
	}
	Accepted(c, receipt)
}
