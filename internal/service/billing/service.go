// internal/service/billing/service.go
package billing

import (
	"context"
	"fmt"
	"time"

	"studyhub-service/internal/domain/billing"
	"studyhub-service/internal/domain/user"
	"studyhub-service/internal/paypal"
	xerrors "studyhub-service/internal/pkg/errors"

	"go.uber.org/zap"
)

// SubscriptionStore persists subscriptions and their transitions.
type SubscriptionStore interface {
	Create(ctx context.Context, sub *billing.Subscription) error
	FindByID(ctx context.Context, id int64) (*billing.Subscription, error)
	FindByExternalReference(ctx context.Context, ref string) (*billing.Subscription, error)
	FindCurrentByUser(ctx context.Context, userID int64) (*billing.Subscription, error)
	HasActive(ctx context.Context, userID int64) (bool, error)
	HasOpen(ctx context.Context, userID int64) (bool, error)
	ListPendingManual(ctx context.Context) ([]billing.Subscription, error)
	Update(ctx context.Context, sub *billing.Subscription) error
	UpdateWithPayment(ctx context.Context, sub *billing.Subscription, pay *billing.Payment) error
}

// PaymentStore persists the immutable payment ledger.
type PaymentStore interface {
	Create(ctx context.Context, pay *billing.Payment) error
	ExistsByExternalID(ctx context.Context, externalID string) (bool, error)
	ListByUser(ctx context.Context, userID int64) ([]billing.Payment, error)
}

// UserStore exposes the user fields billing needs.
type UserStore interface {
	FindByID(ctx context.Context, id int64) (*user.User, error)
	IsAdmin(ctx context.Context, id int64) (bool, error)
	SetPremium(ctx context.Context, id int64, premium bool) (bool, error)
}

// Provider is the automated billing provider.
type Provider interface {
	PlanID(plan string) (string, bool)
	CreateSubscription(ctx context.Context, planID, subscriberEmail string) (*paypal.Subscription, error)
	GetSubscription(ctx context.Context, subscriptionID string) (*paypal.Subscription, error)
	CancelSubscription(ctx context.Context, subscriptionID, reason string) error
}

type Service struct {
	subs     SubscriptionStore
	payments PaymentStore
	users    UserStore
	provider Provider
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(
	subs SubscriptionStore,
	payments PaymentStore,
	users UserStore,
	provider Provider,
	logger *zap.Logger,
) *Service {
	return &Service{
		subs:     subs,
		payments: payments,
		users:    users,
		provider: provider,
		logger:   logger,
		now:      time.Now,
	}
}

// GetCurrentSubscription returns the user's newest open subscription, if
// any, together with the derived entitlement flag.
func (s *Service) GetCurrentSubscription(ctx context.Context, userID int64) (*billing.CurrentSubscriptionResponse, error) {
	u, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	resp := &billing.CurrentSubscriptionResponse{IsPremium: u.IsPremium}

	sub, err := s.subs.FindCurrentByUser(ctx, userID)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			return resp, nil
		}
		return nil, err
	}

	resp.Subscription = sub
	return resp, nil
}

// ListPayments returns the user's payment history, newest first.
func (s *Service) ListPayments(ctx context.Context, userID int64) ([]billing.Payment, error) {
	return s.payments.ListByUser(ctx, userID)
}

// ListPendingManual lists manual-transfer requests awaiting admin review.
// The admin capability is re-checked on every call.
func (s *Service) ListPendingManual(ctx context.Context, adminID int64) ([]billing.Subscription, error) {
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	return s.subs.ListPendingManual(ctx)
}

// AdminSetPremium grants or revokes premium out of band, without touching
// subscription records. The override is logged since the next entitlement
// sync can reverse it.
func (s *Service) AdminSetPremium(ctx context.Context, adminID, userID int64, grant bool) error {
	if err := s.requireAdmin(ctx, adminID); err != nil {
		return err
	}

	if _, err := s.users.FindByID(ctx, userID); err != nil {
		return fmt.Errorf("failed to load user: %w", err)
	}

	changed, err := s.users.SetPremium(ctx, userID, grant)
	if err != nil {
		return fmt.Errorf("failed to set premium flag: %w", err)
	}

	s.logger.Info("admin premium override",
		zap.Int64("admin_id", adminID),
		zap.Int64("user_id", userID),
		zap.Bool("grant", grant),
		zap.Bool("changed", changed))

	return nil
}

// requireAdmin rejects callers whose stored record is not an admin. Always
// a fresh lookup so revocation takes effect immediately.
func (s *Service) requireAdmin(ctx context.Context, adminID int64) error {
	isAdmin, err := s.users.IsAdmin(ctx, adminID)
	if err != nil {
		return fmt.Errorf("failed to check admin: %w", err)
	}
	if !isAdmin {
		return xerrors.ErrForbidden
	}
	return nil
}
