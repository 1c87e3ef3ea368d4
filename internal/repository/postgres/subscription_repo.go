// internal/repository/postgres/subscription_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"studyhub-service/internal/domain/billing"
	xerrors "studyhub-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SubscriptionRepository struct {
	db *pgxpool.Pool
}

func NewSubscriptionRepository(db *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const subscriptionColumns = `id, user_id, plan_type, status, channel, external_reference,
	current_period_start, current_period_end, cancel_at_period_end, canceled_at,
	created_at, updated_at`

func scanSubscription(row pgx.Row) (*billing.Subscription, error) {
	var sub billing.Subscription
	err := row.Scan(
		&sub.ID, &sub.UserID, &sub.Plan, &sub.Status, &sub.Channel, &sub.ExternalReference,
		&sub.CurrentPeriodStart, &sub.CurrentPeriodEnd, &sub.CancelAtPeriodEnd, &sub.CanceledAt,
		&sub.CreatedAt, &sub.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan subscription: %w", err)
	}
	return &sub, nil
}

// Create inserts a pending subscription. The partial unique index on
// (user_id, status) turns a concurrent duplicate create into a constraint
// violation, which maps to ErrConflict.
func (r *SubscriptionRepository) Create(ctx context.Context, sub *billing.Subscription) error {
	query := `
		INSERT INTO subscriptions (
			user_id, plan_type, status, channel, external_reference,
			current_period_start, current_period_end, cancel_at_period_end, canceled_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(
		ctx, query,
		sub.UserID, sub.Plan, sub.Status, sub.Channel, sub.ExternalReference,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd, sub.CancelAtPeriodEnd, sub.CanceledAt,
	).Scan(&sub.ID, &sub.CreatedAt, &sub.UpdatedAt)

	if isUniqueViolation(err, "uq_subscriptions_user_open") {
		return xerrors.ErrConflict
	}
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	return nil
}

func (r *SubscriptionRepository) FindByID(ctx context.Context, id int64) (*billing.Subscription, error) {
	query := fmt.Sprintf(`SELECT %s FROM subscriptions WHERE id = $1`, subscriptionColumns)
	return scanSubscription(r.db.QueryRow(ctx, query, id))
}

// FindByExternalReference locates a subscription by provider subscription id
// or payment reference code.
func (r *SubscriptionRepository) FindByExternalReference(ctx context.Context, ref string) (*billing.Subscription, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM subscriptions
		WHERE external_reference = $1
		ORDER BY created_at DESC
		LIMIT 1
	`, subscriptionColumns)
	return scanSubscription(r.db.QueryRow(ctx, query, ref))
}

// FindCurrentByUser returns the newest open (active or pending)
// subscription, preferring active.
func (r *SubscriptionRepository) FindCurrentByUser(ctx context.Context, userID int64) (*billing.Subscription, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM subscriptions
		WHERE user_id = $1 AND status IN ('active', 'pending')
		ORDER BY CASE status WHEN 'active' THEN 0 ELSE 1 END, created_at DESC
		LIMIT 1
	`, subscriptionColumns)
	return scanSubscription(r.db.QueryRow(ctx, query, userID))
}

// HasActive answers the entitlement derivation query.
func (r *SubscriptionRepository) HasActive(ctx context.Context, userID int64) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM subscriptions WHERE user_id = $1 AND status = 'active')`
	var exists bool
	err := r.db.QueryRow(ctx, query, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check active subscription: %w", err)
	}
	return exists, nil
}

// HasOpen reports whether the user already holds a pending or active
// subscription. Creation-time guard; the unique index backs it under races.
func (r *SubscriptionRepository) HasOpen(ctx context.Context, userID int64) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM subscriptions WHERE user_id = $1 AND status IN ('pending', 'active'))`
	var exists bool
	err := r.db.QueryRow(ctx, query, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check open subscription: %w", err)
	}
	return exists, nil
}

// ListPendingManual returns manual-transfer requests awaiting verification.
func (r *SubscriptionRepository) ListPendingManual(ctx context.Context) ([]billing.Subscription, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM subscriptions
		WHERE status = 'pending' AND channel = 'manual_transfer'
		ORDER BY created_at ASC
	`, subscriptionColumns)

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending subscriptions: %w", err)
	}
	defer rows.Close()

	subs := []billing.Subscription{}
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}

	return subs, rows.Err()
}

// Update persists a state-machine transition.
func (r *SubscriptionRepository) Update(ctx context.Context, sub *billing.Subscription) error {
	query := `
		UPDATE subscriptions
		SET status = $1, external_reference = $2,
		    current_period_start = $3, current_period_end = $4,
		    cancel_at_period_end = $5, canceled_at = $6, updated_at = $7
		WHERE id = $8
	`

	result, err := r.db.Exec(
		ctx, query,
		sub.Status, sub.ExternalReference,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd, sub.CanceledAt, time.Now(), sub.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}

	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}

	return nil
}

// UpdateWithPayment applies a transition and records its settled charge in
// one transaction, so an activation is never persisted without its payment.
// A duplicate external payment id rolls the whole transaction back and maps
// to ErrDuplicateEntry.
func (r *SubscriptionRepository) UpdateWithPayment(ctx context.Context, sub *billing.Subscription, pay *billing.Payment) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	updateQuery := `
		UPDATE subscriptions
		SET status = $1, external_reference = $2,
		    current_period_start = $3, current_period_end = $4,
		    cancel_at_period_end = $5, canceled_at = $6, updated_at = $7
		WHERE id = $8
	`

	result, err := tx.Exec(
		ctx, updateQuery,
		sub.Status, sub.ExternalReference,
		sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.CancelAtPeriodEnd, sub.CanceledAt, time.Now(), sub.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if result.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}

	insertQuery := `
		INSERT INTO payments (
			user_id, subscription_id, amount, currency, status, external_payment_id, plan_type
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	err = tx.QueryRow(
		ctx, insertQuery,
		pay.UserID, pay.SubscriptionID, pay.Amount, pay.Currency,
		pay.Status, pay.ExternalPaymentID, pay.Plan,
	).Scan(&pay.ID, &pay.CreatedAt)

	if isUniqueViolation(err, "") {
		return xerrors.ErrDuplicateEntry
	}
	if err != nil {
		return fmt.Errorf("failed to record payment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}
