// internal/repository/postgres/payment_repo.go
package postgres

import (
	"context"
	"fmt"

	"studyhub-service/internal/domain/billing"
	xerrors "studyhub-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PaymentRepository struct {
	db *pgxpool.Pool
}

func NewPaymentRepository(db *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{db: db}
}

// Create inserts a settled payment. The UNIQUE constraint on
// external_payment_id is the sole defense against duplicate webhook
// deliveries; a violation maps to ErrDuplicateEntry and callers treat it
// as already-processed.
func (r *PaymentRepository) Create(ctx context.Context, pay *billing.Payment) error {
	query := `
		INSERT INTO payments (
			user_id, subscription_id, amount, currency, status, external_payment_id, plan_type
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at
	`

	err := r.db.QueryRow(
		ctx, query,
		pay.UserID, pay.SubscriptionID, pay.Amount, pay.Currency,
		pay.Status, pay.ExternalPaymentID, pay.Plan,
	).Scan(&pay.ID, &pay.CreatedAt)

	if isUniqueViolation(err, "") {
		return xerrors.ErrDuplicateEntry
	}
	if err != nil {
		return fmt.Errorf("failed to create payment: %w", err)
	}

	return nil
}

func (r *PaymentRepository) ExistsByExternalID(ctx context.Context, externalID string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM payments WHERE external_payment_id = $1)`
	var exists bool
	err := r.db.QueryRow(ctx, query, externalID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check payment: %w", err)
	}
	return exists, nil
}

func (r *PaymentRepository) ListByUser(ctx context.Context, userID int64) ([]billing.Payment, error) {
	query := `
		SELECT id, user_id, subscription_id, amount, currency, status, external_payment_id, plan_type, created_at
		FROM payments
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payments: %w", err)
	}
	defer rows.Close()

	payments := []billing.Payment{}
	for rows.Next() {
		var pay billing.Payment
		err := rows.Scan(
			&pay.ID, &pay.UserID, &pay.SubscriptionID, &pay.Amount, &pay.Currency,
			&pay.Status, &pay.ExternalPaymentID, &pay.Plan, &pay.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment: %w", err)
		}
		payments = append(payments, pay)
	}

	return payments, rows.Err()
}
