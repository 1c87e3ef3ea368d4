// internal/domain/billing/statemachine.go
package billing

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when an event is not legal for the
// subscription's current status. Callers report it and leave stored state
// untouched.
var ErrInvalidTransition = errors.New("invalid subscription transition")

type EventType string

const (
	EventApproveManual           EventType = "approve_manual"
	EventRejectManual            EventType = "reject_manual"
	EventActivateAutomated       EventType = "activate_automated"
	EventWebhookActivated        EventType = "webhook_activated"
	EventWebhookCancelled        EventType = "webhook_cancelled"
	EventWebhookExpired          EventType = "webhook_expired"
	EventWebhookSuspended        EventType = "webhook_suspended"
	EventWebhookPaymentCompleted EventType = "webhook_payment_completed"
	EventCancelUserInitiated     EventType = "cancel_user_initiated"
)

// Provider-side subscription statuses accepted by the activation call.
const (
	ProviderStatusActive          = "ACTIVE"
	ProviderStatusApprovalPending = "APPROVAL_PENDING"
)

// PaymentInfo describes one settled charge observed alongside an event.
type PaymentInfo struct {
	ExternalID string
	Amount     int64
	Currency   string
}

// Event is the input to the state machine. Now is injected so transitions
// stay deterministic under test.
type Event struct {
	Type EventType
	Now  time.Time

	// EventActivateAutomated only
	ProviderStatus    string
	ProviderPeriodEnd time.Time // zero when the provider omits next_billing_time

	// EventWebhookPaymentCompleted only
	Payment *PaymentInfo
}

// Change is the computed outcome of applying an event: the next status plus
// the side effects the caller must persist. The state machine never touches
// storage itself.
type Change struct {
	Status Status

	SetPeriod   bool
	PeriodStart time.Time
	PeriodEnd   time.Time

	SetCanceledAt        bool
	SetCancelAtPeriodEnd bool

	RecordPayment *PaymentInfo
}

type transitionKey struct {
	from  Status
	event EventType
}

// Legal transitions. Anything absent is rejected with ErrInvalidTransition.
var transitions = map[transitionKey]Status{
	{StatusPending, EventApproveManual}:     StatusActive,
	{StatusPending, EventRejectManual}:      StatusCanceled,
	{StatusPending, EventActivateAutomated}: StatusActive,

	{StatusPending, EventWebhookActivated}: StatusActive,
	{StatusPastDue, EventWebhookActivated}: StatusActive,

	{StatusPending, EventWebhookCancelled}: StatusCanceled,
	{StatusActive, EventWebhookCancelled}:  StatusCanceled,
	{StatusPastDue, EventWebhookCancelled}: StatusCanceled,

	{StatusPending, EventWebhookExpired}: StatusExpired,
	{StatusActive, EventWebhookExpired}:  StatusExpired,
	{StatusPastDue, EventWebhookExpired}: StatusExpired,

	{StatusActive, EventWebhookSuspended}: StatusPastDue,

	// Payment settlement forces active, recovering from past_due.
	{StatusPending, EventWebhookPaymentCompleted}: StatusActive,
	{StatusActive, EventWebhookPaymentCompleted}:  StatusActive,
	{StatusPastDue, EventWebhookPaymentCompleted}: StatusActive,

	// Cancelling an active subscription only flags it; entitlement holds
	// until the provider reports expiry. Cancelling a pending request is
	// immediate.
	{StatusActive, EventCancelUserInitiated}:  StatusActive,
	{StatusPending, EventCancelUserInitiated}: StatusCanceled,
}

// Next returns the status ev leads to from current.
func Next(current Status, ev EventType) (Status, error) {
	next, ok := transitions[transitionKey{current, ev}]
	if !ok {
		return current, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, ev, current)
	}
	return next, nil
}

// NewSubscription is the Create event: every subscription starts pending.
// The no-open-subscription guard lives in the flows (and, against races, in
// the storage layer's partial unique index).
func NewSubscription(userID int64, plan PlanType, channel Channel, externalRef string, now time.Time) *Subscription {
	return &Subscription{
		UserID:            userID,
		Plan:              plan,
		Status:            StatusPending,
		Channel:           channel,
		ExternalReference: externalRef,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// Apply computes the Change for ev on sub. Pure: sub is not mutated.
func Apply(sub *Subscription, ev Event) (Change, error) {
	next, err := Next(sub.Status, ev.Type)
	if err != nil {
		return Change{}, err
	}

	ch := Change{Status: next}

	switch ev.Type {
	case EventApproveManual:
		if sub.Channel != ChannelManualTransfer {
			return Change{}, fmt.Errorf("%w: %s on %s channel", ErrInvalidTransition, ev.Type, sub.Channel)
		}
		price, ok := PlanPrice(sub.Plan)
		if !ok {
			return Change{}, fmt.Errorf("no price for plan %q", sub.Plan)
		}
		ch.SetPeriod = true
		ch.PeriodStart = ev.Now
		ch.PeriodEnd = PeriodEnd(ev.Now, sub.Plan)
		ch.RecordPayment = &PaymentInfo{Amount: price, Currency: DefaultCurrency}

	case EventRejectManual:
		if sub.Channel != ChannelManualTransfer {
			return Change{}, fmt.Errorf("%w: %s on %s channel", ErrInvalidTransition, ev.Type, sub.Channel)
		}
		ch.SetCanceledAt = true

	case EventActivateAutomated:
		if sub.Channel != ChannelAutomatedBilling {
			return Change{}, fmt.Errorf("%w: %s on %s channel", ErrInvalidTransition, ev.Type, sub.Channel)
		}
		switch ev.ProviderStatus {
		case ProviderStatusActive:
			ch.SetPeriod = true
			ch.PeriodStart = ev.Now
			if !ev.ProviderPeriodEnd.IsZero() {
				ch.PeriodEnd = ev.ProviderPeriodEnd
			} else {
				ch.PeriodEnd = PeriodEnd(ev.Now, sub.Plan)
			}
			// The initial charge is ledgered by the provider's payment
			// webhook, which carries the payment id. Recording it here too
			// would double-count the same sale.
		case ProviderStatusApprovalPending:
			// Approval still outstanding on the provider side
			ch.Status = StatusPending
		default:
			return Change{}, fmt.Errorf("%w: provider status %q", ErrInvalidTransition, ev.ProviderStatus)
		}

	case EventWebhookActivated:
		if !sub.CurrentPeriodEnd.Valid || !sub.CurrentPeriodEnd.Time.After(ev.Now) {
			ch.SetPeriod = true
			ch.PeriodStart = ev.Now
			ch.PeriodEnd = PeriodEnd(ev.Now, sub.Plan)
		}

	case EventWebhookCancelled, EventWebhookExpired:
		ch.SetCanceledAt = true

	case EventWebhookSuspended:
		// Status change only; the provider keeps the period authoritative

	case EventWebhookPaymentCompleted:
		if ev.Payment == nil || ev.Payment.ExternalID == "" {
			return Change{}, fmt.Errorf("payment event without payment info")
		}
		ch.SetPeriod = true
		ch.PeriodStart = ev.Now
		ch.PeriodEnd = PeriodEnd(ev.Now, sub.Plan)
		ch.RecordPayment = ev.Payment

	case EventCancelUserInitiated:
		ch.SetCanceledAt = true
		if sub.Status == StatusActive {
			ch.SetCancelAtPeriodEnd = true
		}

	default:
		return Change{}, fmt.Errorf("%w: unknown event %s", ErrInvalidTransition, ev.Type)
	}

	return ch, nil
}

// ApplyChange writes a computed Change onto the subscription.
func (s *Subscription) ApplyChange(ch Change, now time.Time) {
	s.Status = ch.Status
	if ch.SetPeriod {
		s.CurrentPeriodStart = sql.NullTime{Time: ch.PeriodStart, Valid: true}
		s.CurrentPeriodEnd = sql.NullTime{Time: ch.PeriodEnd, Valid: true}
	}
	if ch.SetCanceledAt {
		s.CanceledAt = sql.NullTime{Time: now, Valid: true}
	}
	if ch.SetCancelAtPeriodEnd {
		s.CancelAtPeriodEnd = true
	}
	s.UpdatedAt = now
}
