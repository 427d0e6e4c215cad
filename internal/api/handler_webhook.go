package api

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"mailtriage/internal/model"
	"mailtriage/pkg/logger"
)

// secretHeader carries the shared webhook secret from the mail
// provider's notification subscription.
const secretHeader = "X-Webhook-Secret"

type WebhookHandler struct {
	triage TriageRunner
	secret string
	logger *zap.Logger
}

// TriageRunner is the whole pipeline from the handler's point of view.
type TriageRunner interface {
	Handle(ctx context.Context, email *model.InboundEmail) *model.Outcome
}

func NewWebhookHandler(triage TriageRunner, secret string, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{triage: triage, secret: secret, logger: log}
}

// HandleInboundEmail handles POST /webhook/email
func (h *WebhookHandler) HandleInboundEmail(c *gin.Context) {
	if h.secret != "" {
		got := c.GetHeader(secretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.secret)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook secret"})
			return
		}
	}

	var email model.InboundEmail
	if err := c.ShouldBindJSON(&email); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	ctx := c.Request.Context()
	log := logger.WithRequestID(ctx, h.logger)
	log.Info("Webhook email received",
		zap.String("sender", email.Sender),
		zap.String("subject", email.Subject),
	)

	outcome := h.triage.Handle(ctx, &email)

	status := http.StatusOK
	if outcome.Status == model.OutcomeFailed {
		status = http.StatusBadGateway
	}
	c.JSON(status, outcome)
}
