// internal/domain/billing/dto.go
package billing

type CreateManualSubscriptionRequest struct {
	PlanType         PlanType `json:"plan_type" binding:"required"`
	PaymentReference string   `json:"payment_reference" binding:"required"`
}

type CreateAutomatedSubscriptionRequest struct {
	PlanType PlanType `json:"plan_type" binding:"required"`
}

type CreateAutomatedSubscriptionResponse struct {
	Subscription *Subscription `json:"subscription"`
	ApprovalURL  string        `json:"approval_url"`
}

type ActivateAutomatedSubscriptionRequest struct {
	ProviderSubscriptionID string `json:"provider_subscription_id" binding:"required"`
}

type VerifyManualSubscriptionRequest struct {
	Approve            bool   `json:"approve"`
	ExternalTransferID string `json:"external_transfer_id"`
}

type SetPremiumRequest struct {
	Grant bool `json:"grant"`
}

// CurrentSubscriptionResponse pairs the newest open subscription (if any)
// with the derived entitlement flag.
type CurrentSubscriptionResponse struct {
	Subscription *Subscription `json:"subscription,omitempty"`
	IsPremium    bool          `json:"is_premium"`
}

// WebhookEnvelope is the provider notification shape: an event type plus an
// event-specific resource object.
type WebhookEnvelope struct {
	EventType string                 `json:"event_type"`
	Resource  map[string]interface{} `json:"resource"`
}
