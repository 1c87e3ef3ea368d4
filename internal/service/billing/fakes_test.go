package billing

import (
	"context"
	"fmt"

	"studyhub-service/internal/domain/billing"
	"studyhub-service/internal/domain/user"
	"studyhub-service/internal/paypal"
	xerrors "studyhub-service/internal/pkg/errors"
)

// In-memory stores mirroring the postgres constraint behaviour, so service
// tests exercise the same error paths the real repositories produce.

type fakeSubStore struct {
	nextID int64
	subs   map[int64]*billing.Subscription
	// shared ledger so UpdateWithPayment hits the same duplicate check
	payments *fakePayStore
}

func newFakeSubStore(payments *fakePayStore) *fakeSubStore {
	return &fakeSubStore{nextID: 1, subs: map[int64]*billing.Subscription{}, payments: payments}
}

func (f *fakeSubStore) Create(ctx context.Context, sub *billing.Subscription) error {
	for _, existing := range f.subs {
		if existing.UserID == sub.UserID && existing.Status == sub.Status && existing.IsOpen() {
			return xerrors.ErrConflict
		}
	}
	sub.ID = f.nextID
	f.nextID++
	copied := *sub
	f.subs[sub.ID] = &copied
	return nil
}

func (f *fakeSubStore) FindByID(ctx context.Context, id int64) (*billing.Subscription, error) {
	sub, ok := f.subs[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	copied := *sub
	return &copied, nil
}

func (f *fakeSubStore) FindByExternalReference(ctx context.Context, ref string) (*billing.Subscription, error) {
	for _, sub := range f.subs {
		if sub.ExternalReference == ref {
			copied := *sub
			return &copied, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (f *fakeSubStore) FindCurrentByUser(ctx context.Context, userID int64) (*billing.Subscription, error) {
	var pending *billing.Subscription
	for _, sub := range f.subs {
		if sub.UserID != userID {
			continue
		}
		if sub.Status == billing.StatusActive {
			copied := *sub
			return &copied, nil
		}
		if sub.Status == billing.StatusPending {
			pending = sub
		}
	}
	if pending != nil {
		copied := *pending
		return &copied, nil
	}
	return nil, xerrors.ErrNotFound
}

func (f *fakeSubStore) HasActive(ctx context.Context, userID int64) (bool, error) {
	for _, sub := range f.subs {
		if sub.UserID == userID && sub.Status == billing.StatusActive {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeSubStore) HasOpen(ctx context.Context, userID int64) (bool, error) {
	for _, sub := range f.subs {
		if sub.UserID == userID && sub.IsOpen() {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeSubStore) ListPendingManual(ctx context.Context) ([]billing.Subscription, error) {
	out := []billing.Subscription{}
	for _, sub := range f.subs {
		if sub.Status == billing.StatusPending && sub.Channel == billing.ChannelManualTransfer {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (f *fakeSubStore) Update(ctx context.Context, sub *billing.Subscription) error {
	if _, ok := f.subs[sub.ID]; !ok {
		return xerrors.ErrNotFound
	}
	copied := *sub
	f.subs[sub.ID] = &copied
	return nil
}

func (f *fakeSubStore) UpdateWithPayment(ctx context.Context, sub *billing.Subscription, pay *billing.Payment) error {
	if err := f.payments.Create(ctx, pay); err != nil {
		return err
	}
	return f.Update(ctx, sub)
}

type fakePayStore struct {
	nextID   int64
	payments []*billing.Payment
}

func newFakePayStore() *fakePayStore {
	return &fakePayStore{nextID: 1}
}

func (f *fakePayStore) Create(ctx context.Context, pay *billing.Payment) error {
	if pay.ExternalPaymentID.Valid {
		for _, p := range f.payments {
			if p.ExternalPaymentID.Valid && p.ExternalPaymentID.String == pay.ExternalPaymentID.String {
				return xerrors.ErrDuplicateEntry
			}
		}
	}
	pay.ID = f.nextID
	f.nextID++
	copied := *pay
	f.payments = append(f.payments, &copied)
	return nil
}

func (f *fakePayStore) ExistsByExternalID(ctx context.Context, externalID string) (bool, error) {
	for _, p := range f.payments {
		if p.ExternalPaymentID.Valid && p.ExternalPaymentID.String == externalID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakePayStore) ListByUser(ctx context.Context, userID int64) ([]billing.Payment, error) {
	out := []billing.Payment{}
	for _, p := range f.payments {
		if p.UserID == userID {
			out = append(out, *p)
		}
	}
	return out, nil
}

type fakeUserStore struct {
	users map[int64]*user.User
}

func newFakeUserStore(users ...*user.User) *fakeUserStore {
	f := &fakeUserStore{users: map[int64]*user.User{}}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeUserStore) FindByID(ctx context.Context, id int64) (*user.User, error) {
	u, ok := f.users[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return u, nil
}

func (f *fakeUserStore) IsAdmin(ctx context.Context, id int64) (bool, error) {
	u, ok := f.users[id]
	if !ok {
		return false, xerrors.ErrNotFound
	}
	return u.IsAdmin, nil
}

func (f *fakeUserStore) SetPremium(ctx context.Context, id int64, premium bool) (bool, error) {
	u, ok := f.users[id]
	if !ok {
		return false, xerrors.ErrNotFound
	}
	if u.IsPremium == premium {
		return false, nil
	}
	u.IsPremium = premium
	return true, nil
}

type fakeProvider struct {
	nextID        int
	subscriptions map[string]*paypal.Subscription
	subscribers   map[string]string
	cancelled     []string
	createErr     error
	cancelErr     error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		nextID:        1,
		subscriptions: map[string]*paypal.Subscription{},
		subscribers:   map[string]string{},
	}
}

func (f *fakeProvider) PlanID(plan string) (string, bool) {
	switch plan {
	case "monthly":
		return "P-MONTHLY", true
	case "yearly":
		return "P-YEARLY", true
	}
	return "", false
}

func (f *fakeProvider) CreateSubscription(ctx context.Context, planID, subscriberEmail string) (*paypal.Subscription, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	id := fmt.Sprintf("I-FAKE%03d", f.nextID)
	f.nextID++
	f.subscribers[id] = subscriberEmail
	sub := &paypal.Subscription{
		ID:     id,
		PlanID: planID,
		Status: "APPROVAL_PENDING",
		Links: []paypal.Link{
			{Href: "https://provider.example.com/approve/" + id, Rel: "approve"},
		},
	}
	f.subscriptions[id] = sub
	return sub, nil
}

func (f *fakeProvider) GetSubscription(ctx context.Context, subscriptionID string) (*paypal.Subscription, error) {
	sub, ok := f.subscriptions[subscriptionID]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return sub, nil
}

func (f *fakeProvider) CancelSubscription(ctx context.Context, subscriptionID, reason string) error {
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, subscriptionID)
	if sub, ok := f.subscriptions[subscriptionID]; ok {
		sub.Status = "CANCELLED"
	}
	return nil
}
