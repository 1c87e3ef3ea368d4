// internal/service/billing/manual.go
package billing

import (
	"context"
	"database/sql"
	"fmt"

	"studyhub-service/internal/domain/billing"
	xerrors "studyhub-service/internal/pkg/errors"

	"go.uber.org/zap"
)

// CreateManualSubscription records a bank-transfer subscription request.
// The subscription stays pending until an admin verifies the transfer.
func (s *Service) CreateManualSubscription(ctx context.Context, userID int64, req *billing.CreateManualSubscriptionRequest) (*billing.Subscription, error) {
	if !req.PlanType.IsValid() {
		return nil, fmt.Errorf("%w: unknown plan %q", xerrors.ErrInvalidInput, req.PlanType)
	}
	if req.PaymentReference == "" {
		return nil, fmt.Errorf("%w: payment reference is required", xerrors.ErrInvalidInput)
	}

	// Friendly pre-check; the partial unique index closes the race.
	open, err := s.subs.HasOpen(ctx, userID)
	if err != nil {
		return nil, err
	}
	if open {
		return nil, fmt.Errorf("%w: user already has an open subscription", xerrors.ErrConflict)
	}

	sub := billing.NewSubscription(userID, req.PlanType, billing.ChannelManualTransfer, req.PaymentReference, s.now())
	if err := s.subs.Create(ctx, sub); err != nil {
		return nil, err
	}

	s.logger.Info("manual subscription requested",
		zap.Int64("user_id", userID),
		zap.Int64("subscription_id", sub.ID),
		zap.String("plan", string(sub.Plan)))

	return sub, nil
}

// VerifyManualSubscription resolves a pending manual-transfer request.
// Approval activates the subscription and records the payment in one
// transaction; rejection cancels it. Only admins may verify, checked fresh
// on every call.
func (s *Service) VerifyManualSubscription(ctx context.Context, adminID, subID int64, req *billing.VerifyManualSubscriptionRequest) (*billing.Subscription, error) {
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}

	sub, err := s.subs.FindByID(ctx, subID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	eventType := billing.EventRejectManual
	if req.Approve {
		eventType = billing.EventApproveManual
	}

	change, err := billing.Apply(sub, billing.Event{Type: eventType, Now: now})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", xerrors.ErrBadRequest, err)
	}

	sub.ApplyChange(change, now)

	if change.RecordPayment != nil {
		pay := &billing.Payment{
			UserID:         sub.UserID,
			SubscriptionID: sub.ID,
			Amount:         change.RecordPayment.Amount,
			Currency:       change.RecordPayment.Currency,
			Status:         billing.PaymentStatusSucceeded,
			Plan:           sub.Plan,
		}
		if req.ExternalTransferID != "" {
			pay.ExternalPaymentID = sql.NullString{String: req.ExternalTransferID, Valid: true}
		}
		if err := s.subs.UpdateWithPayment(ctx, sub, pay); err != nil {
			return nil, err
		}
	} else {
		if err := s.subs.Update(ctx, sub); err != nil {
			return nil, err
		}
	}

	s.logger.Info("manual subscription verified",
		zap.Int64("admin_id", adminID),
		zap.Int64("subscription_id", sub.ID),
		zap.Bool("approved", req.Approve))

	if err := s.syncEntitlement(ctx, sub.UserID); err != nil {
		return nil, err
	}

	return sub, nil
}
