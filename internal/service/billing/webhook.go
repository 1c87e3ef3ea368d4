// internal/service/billing/webhook.go
package billing

import (
	"context"
	"database/sql"
	"fmt"

	"studyhub-service/internal/domain/billing"
	"studyhub-service/internal/paypal"
	xerrors "studyhub-service/internal/pkg/errors"

	"go.uber.org/zap"
)

// Provider webhook event types this service reacts to.
const (
	WebhookSubscriptionActivated = "BILLING.SUBSCRIPTION.ACTIVATED"
	WebhookSubscriptionCancelled = "BILLING.SUBSCRIPTION.CANCELLED"
	WebhookSubscriptionExpired   = "BILLING.SUBSCRIPTION.EXPIRED"
	WebhookSubscriptionSuspended = "BILLING.SUBSCRIPTION.SUSPENDED"
	WebhookPaymentSaleCompleted  = "PAYMENT.SALE.COMPLETED"
)

var subscriptionWebhookEvents = map[string]billing.EventType{
	WebhookSubscriptionActivated: billing.EventWebhookActivated,
	WebhookSubscriptionCancelled: billing.EventWebhookCancelled,
	WebhookSubscriptionExpired:   billing.EventWebhookExpired,
	WebhookSubscriptionSuspended: billing.EventWebhookSuspended,
}

// HandleProviderEvent ingests one provider notification. Only a malformed
// envelope is an error (the handler answers 400 so the provider retries a
// possibly-truncated delivery); everything else — unknown event types,
// unmatched subscriptions, duplicate payments, transitions the state
// machine rejects — is acknowledged after logging, because redelivery
// would produce the same outcome.
func (s *Service) HandleProviderEvent(ctx context.Context, env *billing.WebhookEnvelope) error {
	if env == nil || env.EventType == "" {
		return fmt.Errorf("%w: missing event_type", xerrors.ErrBadRequest)
	}

	if eventType, ok := subscriptionWebhookEvents[env.EventType]; ok {
		return s.handleSubscriptionEvent(ctx, env, eventType)
	}

	if env.EventType == WebhookPaymentSaleCompleted {
		return s.handlePaymentCompleted(ctx, env)
	}

	s.logger.Debug("ignoring webhook event", zap.String("event_type", env.EventType))
	return nil
}

func (s *Service) handleSubscriptionEvent(ctx context.Context, env *billing.WebhookEnvelope, eventType billing.EventType) error {
	providerID := stringField(env.Resource, "id")
	if providerID == "" {
		return fmt.Errorf("%w: subscription event without resource id", xerrors.ErrBadRequest)
	}

	sub, err := s.subs.FindByExternalReference(ctx, providerID)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			s.logger.Warn("webhook for unknown subscription",
				zap.String("event_type", env.EventType),
				zap.String("provider_subscription_id", providerID))
			return nil
		}
		return err
	}

	return s.applyWebhookEvent(ctx, sub, billing.Event{Type: eventType, Now: s.now()}, env.EventType)
}

func (s *Service) handlePaymentCompleted(ctx context.Context, env *billing.WebhookEnvelope) error {
	paymentID := stringField(env.Resource, "id")
	agreementID := stringField(env.Resource, "billing_agreement_id")
	if paymentID == "" || agreementID == "" {
		return fmt.Errorf("%w: payment event without id or billing_agreement_id", xerrors.ErrBadRequest)
	}

	// Duplicate delivery: the payment is already on the ledger, and the
	// period extension it carried has already been applied.
	exists, err := s.payments.ExistsByExternalID(ctx, paymentID)
	if err != nil {
		return err
	}
	if exists {
		s.logger.Debug("duplicate payment webhook", zap.String("payment_id", paymentID))
		return nil
	}

	sub, err := s.subs.FindByExternalReference(ctx, agreementID)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			s.logger.Warn("payment webhook for unknown subscription",
				zap.String("billing_agreement_id", agreementID))
			return nil
		}
		return err
	}

	info := &billing.PaymentInfo{
		ExternalID: paymentID,
		Currency:   billing.DefaultCurrency,
	}
	if amount, ok := env.Resource["amount"].(map[string]interface{}); ok {
		if total := stringField(amount, "total"); total != "" {
			if parsed, perr := paypal.ParseAmount(total); perr == nil {
				info.Amount = parsed
			} else {
				s.logger.Warn("unparseable webhook payment amount",
					zap.String("total", total), zap.Error(perr))
			}
		}
		if currency := stringField(amount, "currency"); currency != "" {
			info.Currency = currency
		}
	}

	ev := billing.Event{
		Type:    billing.EventWebhookPaymentCompleted,
		Now:     s.now(),
		Payment: info,
	}
	return s.applyWebhookEvent(ctx, sub, ev, env.EventType)
}

// applyWebhookEvent runs the state machine and persists the outcome. An
// illegal transition is logged and acknowledged; stored state is left
// untouched.
func (s *Service) applyWebhookEvent(ctx context.Context, sub *billing.Subscription, ev billing.Event, source string) error {
	change, err := billing.Apply(sub, ev)
	if err != nil {
		s.logger.Warn("webhook transition rejected",
			zap.String("event_type", source),
			zap.Int64("subscription_id", sub.ID),
			zap.String("status", string(sub.Status)),
			zap.Error(err))
		return nil
	}

	sub.ApplyChange(change, ev.Now)

	if change.RecordPayment != nil {
		pay := &billing.Payment{
			UserID:         sub.UserID,
			SubscriptionID: sub.ID,
			Amount:         change.RecordPayment.Amount,
			Currency:       change.RecordPayment.Currency,
			Status:         billing.PaymentStatusSucceeded,
			Plan:           sub.Plan,
		}
		if change.RecordPayment.ExternalID != "" {
			pay.ExternalPaymentID = sql.NullString{String: change.RecordPayment.ExternalID, Valid: true}
		}
		err = s.subs.UpdateWithPayment(ctx, sub, pay)
		if xerrors.Is(err, xerrors.ErrDuplicateEntry) {
			// Lost the race with a concurrent delivery of the same payment.
			s.logger.Debug("payment already recorded",
				zap.String("payment_id", change.RecordPayment.ExternalID))
			return nil
		}
	} else {
		err = s.subs.Update(ctx, sub)
	}
	if err != nil {
		return err
	}

	s.logger.Info("webhook event applied",
		zap.String("event_type", source),
		zap.Int64("subscription_id", sub.ID),
		zap.String("status", string(sub.Status)))

	return s.syncEntitlement(ctx, sub.UserID)
}

func stringField(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	v, _ := m[key].(string)
	return v
}
