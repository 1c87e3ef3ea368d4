// internal/handlers/billing/subscription_handler.go
package billing

import (
	"net/http"

	"studyhub-service/internal/domain/billing"
	"studyhub-service/internal/middleware"
	xerrors "studyhub-service/internal/pkg/errors"
	"studyhub-service/internal/pkg/response"
	billingUsecase "studyhub-service/internal/service/billing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type SubscriptionHandler struct {
	billingService *billingUsecase.Service
	logger         *zap.Logger
}

func NewSubscriptionHandler(billingService *billingUsecase.Service, logger *zap.Logger) *SubscriptionHandler {
	return &SubscriptionHandler{
		billingService: billingService,
		logger:         logger,
	}
}

// statusFor maps service sentinels onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case xerrors.Is(err, xerrors.ErrNotFound):
		return http.StatusNotFound
	case xerrors.Is(err, xerrors.ErrConflict), xerrors.Is(err, xerrors.ErrDuplicateEntry):
		return http.StatusConflict
	case xerrors.Is(err, xerrors.ErrInvalidInput), xerrors.Is(err, xerrors.ErrBadRequest):
		return http.StatusBadRequest
	case xerrors.Is(err, xerrors.ErrForbidden):
		return http.StatusForbidden
	case xerrors.Is(err, xerrors.ErrUnauthorized):
		return http.StatusUnauthorized
	case xerrors.Is(err, xerrors.ErrBadGateway):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// CreateManualSubscription requests a bank-transfer subscription
func (h *SubscriptionHandler) CreateManualSubscription(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	var req billing.CreateManualSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	sub, err := h.billingService.CreateManualSubscription(c.Request.Context(), userID, &req)
	if err != nil {
		response.Error(c, statusFor(err), "failed to create subscription", err)
		return
	}

	response.Success(c, http.StatusCreated, "subscription requested, awaiting verification", sub)
}

// CreatePayPalSubscription starts the automated billing flow
func (h *SubscriptionHandler) CreatePayPalSubscription(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	var req billing.CreateAutomatedSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	resp, err := h.billingService.CreatePayPalSubscription(c.Request.Context(), userID, &req)
	if err != nil {
		h.logger.Error("paypal subscription create failed",
			zap.Int64("user_id", userID), zap.Error(err))
		response.Error(c, statusFor(err), "failed to create subscription", err)
		return
	}

	response.Success(c, http.StatusCreated, "subscription created, approval required", resp)
}

// ActivatePayPalSubscription is the post-approval callback
func (h *SubscriptionHandler) ActivatePayPalSubscription(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	var req billing.ActivateAutomatedSubscriptionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, "invalid request", err)
		return
	}

	sub, err := h.billingService.ActivatePayPalSubscription(c.Request.Context(), userID, &req)
	if err != nil {
		response.Error(c, statusFor(err), "failed to activate subscription", err)
		return
	}

	response.Success(c, http.StatusOK, "subscription state refreshed", sub)
}

// CancelSubscription cancels the caller's open subscription
func (h *SubscriptionHandler) CancelSubscription(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	sub, err := h.billingService.CancelSubscription(c.Request.Context(), userID)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			response.NotFound(c, "no open subscription to cancel")
			return
		}
		h.logger.Error("subscription cancel failed",
			zap.Int64("user_id", userID), zap.Error(err))
		response.Error(c, statusFor(err), "failed to cancel subscription", err)
		return
	}

	response.Success(c, http.StatusOK, "cancellation requested", sub)
}

// GetCurrentSubscription returns the caller's open subscription and premium flag
func (h *SubscriptionHandler) GetCurrentSubscription(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	current, err := h.billingService.GetCurrentSubscription(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, statusFor(err), "failed to load subscription", err)
		return
	}

	response.Success(c, http.StatusOK, "subscription retrieved", current)
}

// ListPayments returns the caller's payment history
func (h *SubscriptionHandler) ListPayments(c *gin.Context) {
	userID := middleware.MustGetUserID(c)

	payments, err := h.billingService.ListPayments(c.Request.Context(), userID)
	if err != nil {
		response.Error(c, statusFor(err), "failed to list payments", err)
		return
	}

	response.Success(c, http.StatusOK, "payments retrieved", payments)
}
