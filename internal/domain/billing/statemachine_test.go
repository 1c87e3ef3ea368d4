package billing

import (
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func manualPending() *Subscription {
	return NewSubscription(1, PlanMonthly, ChannelManualTransfer, "REF123", testNow)
}

func automatedSub(status Status) *Subscription {
	sub := NewSubscription(1, PlanMonthly, ChannelAutomatedBilling, "I-ABC123", testNow)
	sub.Status = status
	return sub
}

func TestNext_TransitionTable(t *testing.T) {
	tests := []struct {
		name    string
		from    Status
		event   EventType
		want    Status
		wantErr bool
	}{
		{"approve pending", StatusPending, EventApproveManual, StatusActive, false},
		{"reject pending", StatusPending, EventRejectManual, StatusCanceled, false},
		{"webhook activates pending", StatusPending, EventWebhookActivated, StatusActive, false},
		{"webhook recovers past_due", StatusPastDue, EventWebhookActivated, StatusActive, false},
		{"webhook cancels active", StatusActive, EventWebhookCancelled, StatusCanceled, false},
		{"webhook expires active", StatusActive, EventWebhookExpired, StatusExpired, false},
		{"webhook expires past_due", StatusPastDue, EventWebhookExpired, StatusExpired, false},
		{"suspend active", StatusActive, EventWebhookSuspended, StatusPastDue, false},
		{"payment recovers past_due", StatusPastDue, EventWebhookPaymentCompleted, StatusActive, false},
		{"user cancel keeps active", StatusActive, EventCancelUserInitiated, StatusActive, false},
		{"user cancel of pending is immediate", StatusPending, EventCancelUserInitiated, StatusCanceled, false},

		{"approve active rejected", StatusActive, EventApproveManual, "", true},
		{"approve canceled rejected", StatusCanceled, EventApproveManual, "", true},
		{"suspend pending rejected", StatusPending, EventWebhookSuspended, "", true},
		{"activate expired rejected", StatusExpired, EventWebhookActivated, "", true},
		{"payment on canceled rejected", StatusCanceled, EventWebhookPaymentCompleted, "", true},
		{"cancel expired rejected", StatusExpired, EventCancelUserInitiated, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Next(tt.from, tt.event)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidTransition)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestApply_ApproveManual(t *testing.T) {
	sub := manualPending()

	ch, err := Apply(sub, Event{Type: EventApproveManual, Now: testNow})
	require.NoError(t, err)

	assert.Equal(t, StatusActive, ch.Status)
	assert.True(t, ch.SetPeriod)
	assert.Equal(t, testNow, ch.PeriodStart)
	assert.Equal(t, testNow.AddDate(0, 1, 0), ch.PeriodEnd)
	require.NotNil(t, ch.RecordPayment)
	assert.Equal(t, int64(499), ch.RecordPayment.Amount)
	assert.Equal(t, DefaultCurrency, ch.RecordPayment.Currency)
}

func TestApply_ApproveManual_YearlyPeriod(t *testing.T) {
	sub := manualPending()
	sub.Plan = PlanYearly

	ch, err := Apply(sub, Event{Type: EventApproveManual, Now: testNow})
	require.NoError(t, err)

	assert.Equal(t, testNow.AddDate(1, 0, 0), ch.PeriodEnd)
	assert.Equal(t, int64(3999), ch.RecordPayment.Amount)
}

func TestApply_ApproveManual_WrongChannel(t *testing.T) {
	sub := automatedSub(StatusPending)

	_, err := Apply(sub, Event{Type: EventApproveManual, Now: testNow})
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestApply_RejectManual(t *testing.T) {
	sub := manualPending()

	ch, err := Apply(sub, Event{Type: EventRejectManual, Now: testNow})
	require.NoError(t, err)

	assert.Equal(t, StatusCanceled, ch.Status)
	assert.True(t, ch.SetCanceledAt)
	assert.Nil(t, ch.RecordPayment)
}

func TestApply_ActivateAutomated(t *testing.T) {
	providerEnd := testNow.AddDate(0, 0, 30)

	t.Run("provider active with billing info", func(t *testing.T) {
		sub := automatedSub(StatusPending)
		ch, err := Apply(sub, Event{
			Type:              EventActivateAutomated,
			Now:               testNow,
			ProviderStatus:    ProviderStatusActive,
			ProviderPeriodEnd: providerEnd,
		})
		require.NoError(t, err)
		assert.Equal(t, StatusActive, ch.Status)
		assert.Equal(t, providerEnd, ch.PeriodEnd)
		assert.Nil(t, ch.RecordPayment, "the initial sale is ledgered by the payment webhook")
	})

	t.Run("provider omits next_billing_time", func(t *testing.T) {
		sub := automatedSub(StatusPending)
		ch, err := Apply(sub, Event{
			Type:           EventActivateAutomated,
			Now:            testNow,
			ProviderStatus: ProviderStatusActive,
		})
		require.NoError(t, err)
		assert.Equal(t, testNow.AddDate(0, 1, 0), ch.PeriodEnd)
		assert.Nil(t, ch.RecordPayment)
	})

	t.Run("approval still pending", func(t *testing.T) {
		sub := automatedSub(StatusPending)
		ch, err := Apply(sub, Event{
			Type:           EventActivateAutomated,
			Now:            testNow,
			ProviderStatus: ProviderStatusApprovalPending,
		})
		require.NoError(t, err)
		assert.Equal(t, StatusPending, ch.Status)
		assert.False(t, ch.SetPeriod)
	})

	t.Run("disallowed provider status", func(t *testing.T) {
		sub := automatedSub(StatusPending)
		_, err := Apply(sub, Event{
			Type:           EventActivateAutomated,
			Now:            testNow,
			ProviderStatus: "SUSPENDED",
		})
		require.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("manual channel rejected", func(t *testing.T) {
		sub := manualPending()
		_, err := Apply(sub, Event{
			Type:           EventActivateAutomated,
			Now:            testNow,
			ProviderStatus: ProviderStatusActive,
		})
		require.ErrorIs(t, err, ErrInvalidTransition)
	})
}

func TestApply_WebhookPaymentCompleted(t *testing.T) {
	sub := automatedSub(StatusPastDue)
	sub.CurrentPeriodEnd = sql.NullTime{Time: testNow.AddDate(0, 0, -3), Valid: true}

	ch, err := Apply(sub, Event{
		Type:    EventWebhookPaymentCompleted,
		Now:     testNow,
		Payment: &PaymentInfo{ExternalID: "PAY-2", Amount: 499, Currency: "USD"},
	})
	require.NoError(t, err)

	assert.Equal(t, StatusActive, ch.Status)
	assert.True(t, ch.SetPeriod)
	assert.Equal(t, testNow.AddDate(0, 1, 0), ch.PeriodEnd)
	require.NotNil(t, ch.RecordPayment)
}

func TestApply_WebhookPaymentCompleted_MissingPaymentInfo(t *testing.T) {
	sub := automatedSub(StatusActive)

	_, err := Apply(sub, Event{Type: EventWebhookPaymentCompleted, Now: testNow})
	require.Error(t, err)
}

func TestApply_CancelUserInitiated_ActiveHoldsEntitlement(t *testing.T) {
	sub := automatedSub(StatusActive)
	sub.CurrentPeriodEnd = sql.NullTime{Time: testNow.AddDate(1, 0, 0), Valid: true}

	ch, err := Apply(sub, Event{Type: EventCancelUserInitiated, Now: testNow})
	require.NoError(t, err)

	assert.Equal(t, StatusActive, ch.Status)
	assert.True(t, ch.SetCancelAtPeriodEnd)
	assert.True(t, ch.SetCanceledAt)

	sub.ApplyChange(ch, testNow)
	assert.Equal(t, StatusActive, sub.Status)
	assert.True(t, sub.CancelAtPeriodEnd)
	require.True(t, sub.CanceledAt.Valid)
	assert.Equal(t, testNow, sub.CanceledAt.Time)
}

func TestApply_WebhookActivated_SetsFallbackPeriod(t *testing.T) {
	sub := automatedSub(StatusPending)

	ch, err := Apply(sub, Event{Type: EventWebhookActivated, Now: testNow})
	require.NoError(t, err)

	assert.True(t, ch.SetPeriod)
	assert.Equal(t, testNow.AddDate(0, 1, 0), ch.PeriodEnd)
}

func TestApply_WebhookActivated_KeepsFuturePeriod(t *testing.T) {
	sub := automatedSub(StatusPastDue)
	end := testNow.AddDate(0, 0, 20)
	sub.CurrentPeriodEnd = sql.NullTime{Time: end, Valid: true}

	ch, err := Apply(sub, Event{Type: EventWebhookActivated, Now: testNow})
	require.NoError(t, err)

	assert.False(t, ch.SetPeriod)
	assert.Equal(t, StatusActive, ch.Status)
}

func TestApplyChange_MutatesSubscription(t *testing.T) {
	sub := manualPending()

	ch, err := Apply(sub, Event{Type: EventApproveManual, Now: testNow})
	require.NoError(t, err)

	sub.ApplyChange(ch, testNow)
	assert.Equal(t, StatusActive, sub.Status)
	require.True(t, sub.CurrentPeriodEnd.Valid)
	assert.Equal(t, testNow.AddDate(0, 1, 0), sub.CurrentPeriodEnd.Time)
}

func TestPlanPrice(t *testing.T) {
	monthly, ok := PlanPrice(PlanMonthly)
	require.True(t, ok)
	assert.Equal(t, int64(499), monthly)

	yearly, ok := PlanPrice(PlanYearly)
	require.True(t, ok)
	assert.Equal(t, int64(3999), yearly)

	_, ok = PlanPrice(PlanType("weekly"))
	assert.False(t, ok)
}
