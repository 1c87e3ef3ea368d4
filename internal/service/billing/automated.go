// internal/service/billing/automated.go
package billing

import (
	"context"
	"fmt"

	"studyhub-service/internal/domain/billing"
	xerrors "studyhub-service/internal/pkg/errors"

	"go.uber.org/zap"
)

// CreatePayPalSubscription creates the subscription on the provider, then
// records it locally as pending and hands the approval URL back to the
// caller.
func (s *Service) CreatePayPalSubscription(ctx context.Context, userID int64, req *billing.CreateAutomatedSubscriptionRequest) (*billing.CreateAutomatedSubscriptionResponse, error) {
	if !req.PlanType.IsValid() {
		return nil, fmt.Errorf("%w: unknown plan %q", xerrors.ErrInvalidInput, req.PlanType)
	}

	open, err := s.subs.HasOpen(ctx, userID)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, fmt.Errorf("%w: user already has an open subscription", xerrors.ErrConflict)
	}

	planID, ok := s.provider.PlanID(string(req.PlanType))
	if !ok || planID == "" {
		return nil, fmt.Errorf("%w: no provider plan for %q", xerrors.ErrInternal, req.PlanType)
	}

	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	psub, err := s.provider.CreateSubscription(ctx, planID, u.Email)
	if err != nil {
		return nil, err
	}

	sub := billing.NewSubscription(userID, req.PlanType, billing.ChannelAutomatedBilling, psub.ID, s.now())
	if err := s.subs.Create(ctx, sub); err != nil {
		// The provider subscription now exists without a local record. The
		// activation callback and webhooks both look up by provider id, so
		// log the orphan and surface the failure.
		s.logger.Error("provider subscription created but local persist failed",
			zap.Int64("user_id", userID),
			zap.String("provider_subscription_id", psub.ID),
			zap.Error(err))
		return nil, err
	}

	s.logger.Info("paypal subscription created",
		zap.Int64("user_id", userID),
		zap.Int64("subscription_id", sub.ID),
		zap.String("provider_subscription_id", psub.ID))

	return &billing.CreateAutomatedSubscriptionResponse{
		Subscription: sub,
		ApprovalURL:  psub.ApprovalURL(),
	}, nil
}

// ActivatePayPalSubscription is the post-approval callback: it fetches the
// provider's view of the subscription and activates the local record when
// the provider reports ACTIVE. APPROVAL_PENDING leaves the record pending;
// any other provider status is rejected. The initial charge arrives via
// the provider's payment webhook, which owns the ledger.
func (s *Service) ActivatePayPalSubscription(ctx context.Context, userID int64, req *billing.ActivateAutomatedSubscriptionRequest) (*billing.Subscription, error) {
	sub, err := s.subs.FindByExternalReference(ctx, req.ProviderSubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.UserID != userID {
		return nil, xerrors.ErrNotFound
	}

	psub, err := s.provider.GetSubscription(ctx, req.ProviderSubscriptionID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	ev := billing.Event{
		Type:           billing.EventActivateAutomated,
		Now:            now,
		ProviderStatus: psub.Status,
	}
	if psub.BillingInfo != nil {
		ev.ProviderPeriodEnd = psub.BillingInfo.NextBillingTime
	}

	change, err := billing.Apply(sub, ev)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrBadRequest, err)
	}

	// Provider approval still outstanding: nothing to persist.
	if change.Status == billing.StatusPending {
		return sub, nil
	}

	sub.ApplyChange(change, now)
	if err := s.subs.Update(ctx, sub); err != nil {
		return nil, err
	}

	s.logger.Info("paypal subscription activated",
		zap.Int64("user_id", userID),
		zap.Int64("subscription_id", sub.ID))

	if err := s.syncEntitlement(ctx, sub.UserID); err != nil {
		return nil, err
	}

	return sub, nil
}

// CancelSubscription cancels the user's open subscription. For the
// automated channel the provider is cancelled first; an active local
// record is only flagged for period-end cancellation, keeping the
// entitlement until the provider reports expiry. A pending record cancels
// immediately.
func (s *Service) CancelSubscription(ctx context.Context, userID int64) (*billing.Subscription, error) {
	sub, err := s.subs.FindCurrentByUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	if sub.Channel == billing.ChannelAutomatedBilling {
		if err := s.provider.CancelSubscription(ctx, sub.ExternalReference, "user requested cancellation"); err != nil {
			return nil, err
		}
	}

	now := s.now()
	change, err := billing.Apply(sub, billing.Event{Type: billing.EventCancelUserInitiated, Now: now})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrBadRequest, err)
	}

	sub.ApplyChange(change, now)
	if err := s.subs.Update(ctx, sub); err != nil {
		return nil, err
	}

	s.logger.Info("subscription cancellation requested",
		zap.Int64("user_id", userID),
		zap.Int64("subscription_id", sub.ID),
		zap.String("status", string(sub.Status)),
		zap.Bool("cancel_at_period_end", sub.CancelAtPeriodEnd))

	if err := s.syncEntitlement(ctx, sub.UserID); err != nil {
		return nil, err
	}

	return sub, nil
}
