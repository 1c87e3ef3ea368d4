// internal/handlers/billing/webhook_handler.go
package billing

import (
	"net/http"

	"studyhub-service/internal/domain/billing"
	xerrors "studyhub-service/internal/pkg/errors"
	"studyhub-service/internal/pkg/response"
	billingUsecase "studyhub-service/internal/service/billing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type WebhookHandler struct {
	billingService *billingUsecase.Service
	logger         *zap.Logger
}

func NewWebhookHandler(billingService *billingUsecase.Service, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		billingService: billingService,
		logger:         logger,
	}
}

// HandlePayPalWebhook ingests provider notifications. Only an unparseable
// or malformed body gets a 400 (so the provider retries); every other
// outcome, including internal failures we logged, is answered 200 to stop
// redelivery loops for events that would fail identically again.
func (h *WebhookHandler) HandlePayPalWebhook(c *gin.Context) {
	var env billing.WebhookEnvelope
	if err := c.ShouldBindJSON(&env); err != nil {
		response.Error(c, http.StatusBadRequest, "malformed webhook payload", err)
		return
	}

	err := h.billingService.HandleProviderEvent(c.Request.Context(), &env)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrBadRequest) {
			response.Error(c, http.StatusBadRequest, "malformed webhook payload", err)
			return
		}
		// Processing failure. Acknowledge anyway; reconciliation against the
		// provider, not redelivery, is the recovery path.
		h.logger.Error("webhook processing failed",
			zap.String("event_type", env.EventType),
			zap.Error(err))
	}

	response.Success(c, http.StatusOK, "event received", nil)
}
