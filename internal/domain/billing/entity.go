// internal/domain/billing/entity.go
package billing

import (
	"database/sql"
	"time"
)

type PlanType string

const (
	PlanMonthly PlanType = "monthly"
	PlanYearly  PlanType = "yearly"
)

// IsValid reports whether the plan type is one the service sells.
func (p PlanType) IsValid() bool {
	return p == PlanMonthly || p == PlanYearly
}

type Status string

const (
	StatusPending  Status = "pending"
	StatusActive   Status = "active"
	StatusCanceled Status = "canceled"
	StatusExpired  Status = "expired"
	StatusPastDue  Status = "past_due"
)

type Channel string

const (
	ChannelManualTransfer   Channel = "manual_transfer"
	ChannelAutomatedBilling Channel = "automated_billing"
)

// DefaultCurrency prices manual-channel payments; the provider reports its
// own currency for automated-channel payments.
const DefaultCurrency = "USD"

// PaymentStatusSucceeded is the only payment status this service writes.
const PaymentStatusSucceeded = "succeeded"

// Plan prices in minor currency units.
var planPrices = map[PlanType]int64{
	PlanMonthly: 499,
	PlanYearly:  3999,
}

// PlanPrice returns the local price for a plan, in minor units.
func PlanPrice(p PlanType) (int64, bool) {
	price, ok := planPrices[p]
	return price, ok
}

// PeriodEnd computes the end of one billing interval starting at start.
func PeriodEnd(start time.Time, p PlanType) time.Time {
	if p == PlanYearly {
		return start.AddDate(1, 0, 0)
	}
	return start.AddDate(0, 1, 0)
}

// Subscription is one entitlement grant attempt. A user may accumulate many,
// but at most one pending and one active exist at any time (enforced by a
// partial unique index on (user_id, status)).
type Subscription struct {
	ID      int64    `json:"id"`
	UserID  int64    `json:"user_id"`
	Plan    PlanType `json:"plan_type"`
	Status  Status   `json:"status"`
	Channel Channel  `json:"channel"`

	// Manual channel: the bank-transfer reference code supplied by the user.
	// Automated channel: the provider subscription id.
	ExternalReference string `json:"external_reference"`

	CurrentPeriodStart sql.NullTime `json:"current_period_start,omitempty"`
	CurrentPeriodEnd   sql.NullTime `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd  bool         `json:"cancel_at_period_end"`
	CanceledAt         sql.NullTime `json:"canceled_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsOpen reports whether the subscription still occupies the user's
// pending/active quota.
func (s *Subscription) IsOpen() bool {
	return s.Status == StatusPending || s.Status == StatusActive
}

// Payment is an immutable ledger entry for one settled charge.
// ExternalPaymentID carries the provider payment/transfer id and is the
// idempotency key: the payments table holds a unique constraint on it.
type Payment struct {
	ID                int64          `json:"id"`
	UserID            int64          `json:"user_id"`
	SubscriptionID    int64          `json:"subscription_id"`
	Amount            int64          `json:"amount"`
	Currency          string         `json:"currency"`
	Status            string         `json:"status"`
	ExternalPaymentID sql.NullString `json:"external_payment_id,omitempty"`
	Plan              PlanType       `json:"plan_type"`
	CreatedAt         time.Time      `json:"created_at"`
}
