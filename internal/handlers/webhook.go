package handlers

import (
	"context"
	"net/http"

	"fxwallet/internal/services/reconciliation"
	"fxwallet/internal/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type WebhookService interface {
	HandleWebhook(ctx context.Context, provider string, rawBody []byte, headers http.Header) (*reconciliation.WebhookResult, error)
}

type WebhookHandler struct {
	webhookService WebhookService
	logger         *zap.Logger
}

func NewWebhookHandler(webhookService WebhookService, logger *zap.Logger) *WebhookHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookHandler{webhookService: webhookService, logger: logger}
}

// Handle passes the unparsed body to the provider's verifier. Answers other
// than 2xx make the provider redeliver, so only failures worth retrying
// return 5xx.
func (h *WebhookHandler) Handle(c *fiber.Ctx) error {
	provider := c.Params("provider")

	// fasthttp reuses the body buffer after the handler returns.
	raw := append([]byte(nil), c.Body()...)
	headers := make(http.Header)
	c.Request().Header.VisitAll(func(key, value []byte) {
		headers.Add(string(key), string(value))
	})

	res, err := h.webhookService.HandleWebhook(c.UserContext(), provider, raw, headers)
	if err != nil {
		h.logger.Warn("webhook failed",
			zap.String("provider", provider),
			zap.Int("status", utils.StatusFor(err)),
			zap.Error(err),
		)
		return utils.Error(c, err)
	}
	return utils.Success(c, fiber.Map{"received": true, "result": res})
}
