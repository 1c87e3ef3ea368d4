// internal/handlers/billing/admin_handler.go
package billing

import (
	"net/http"
	"strconv"

	"studyhub-service/internal/domain/billing"
	"studyhub-service/internal/middleware"
	"studyhub-service/internal/pkg/response"
	billingUsecase "studyhub-service/internal/service/billing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type AdminHandler struct {
	billingService *billingUsecase.Service
	logger         *zap.Logger
}

func NewAdminHandler(billingService *billingUsecase.Service, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		billingService: billingService,
		logger:         logger,
	}
}

// ListPendingSubscriptions lists manual-transfer requests awaiting review
func (h *AdminHandler) ListPendingSubscriptions(c *gin.Context) {
	adminID := middleware.MustGetUserID(c)

	subs, err := h.billingService.ListPendingManual(c.Request.Context(), adminID)
	if err != nil {
		response.Error(c, statusFor(err), "failed to list pending subscriptions", err)
		return
	}

	response.Success(c, http.StatusOK, "pending subscriptions retrieved", subs)
}

// VerifySubscription approves or rejects a manual-transfer request
func (h *AdminHandler) VerifySubscription(c *gin.Context) {
	adminID := middleware.MustGetUserID(c)

	subID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid subscription id", err)
		return
	}

	var req billing.VerifyManualSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	sub, err := h.billingService.VerifyManualSubscription(c.Request.Context(), adminID, subID, &req)
	if err != nil {
		h.logger.Warn("subscription verification failed",
			zap.Int64("admin_id", adminID),
			zap.Int64("subscription_id", subID),
			zap.Error(err))
		response.Error(c, statusFor(err), "failed to verify subscription", err)
		return
	}

	response.Success(c, http.StatusOK, "subscription verified", sub)
}

// SetPremium grants or revokes premium out of band
func (h *AdminHandler) SetPremium(c *gin.Context) {
	adminID := middleware.MustGetUserID(c)

	userID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		response.Error(c, http.StatusBadRequest, "invalid user id", err)
		return
	}

	var req billing.SetPremiumRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	if err := h.billingService.AdminSetPremium(c.Request.Context(), adminID, userID, req.Grant); err != nil {
		response.Error(c, statusFor(err), "failed to set premium", err)
		return
	}

	response.Success(c, http.StatusOK, "premium flag updated", nil)
}
