// internal/service/billing/entitlement.go
package billing

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// syncEntitlement recomputes is_premium from subscription state: the flag
// is true exactly when an active subscription exists. Called after every
// persisted transition, so the flag converges even if an earlier sync was
// missed or an admin overrode it.
func (s *Service) syncEntitlement(ctx context.Context, userID int64) error {
	active, err := s.subs.HasActive(ctx, userID)
	if err != nil {
		return fmt.Errorf("failed to derive entitlement: %w", err)
	}

	changed, err := s.users.SetPremium(ctx, userID, active)
	if err != nil {
		return fmt.Errorf("failed to sync entitlement: %w", err)
	}

	if changed {
		s.logger.Info("entitlement synced",
			zap.Int64("user_id", userID),
			zap.Bool("is_premium", active))
	}

	return nil
}
