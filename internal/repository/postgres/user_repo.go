// internal/repository/postgres/user_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"studyhub-service/internal/domain/user"
	xerrors "studyhub-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepository struct {
	db *pgxpool.Pool
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

const userColumns = `id, email, password_hash, full_name, is_admin, is_premium, created_at, updated_at`

func scanUser(row pgx.Row) (*user.User, error) {
	var u user.User
	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.FullName,
		&u.IsAdmin, &u.IsPremium, &u.CreatedAt, &u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, xerrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return &u, nil
}

// Create inserts a user. A duplicate email maps to ErrDuplicateEntry.
func (r *UserRepository) Create(ctx context.Context, u *user.User) error {
	query := `
		INSERT INTO users (email, password_hash, full_name, is_admin, is_premium)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`

	err := r.db.QueryRow(
		ctx, query,
		u.Email, u.PasswordHash, u.FullName, u.IsAdmin, u.IsPremium,
	).Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)

	if isUniqueViolation(err, "") {
		return xerrors.ErrDuplicateEntry
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}

	return nil
}

func (r *UserRepository) FindByID(ctx context.Context, id int64) (*user.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE id = $1`, userColumns)
	return scanUser(r.db.QueryRow(ctx, query, id))
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*user.User, error) {
	query := fmt.Sprintf(`SELECT %s FROM users WHERE email = $1`, userColumns)
	return scanUser(r.db.QueryRow(ctx, query, email))
}

func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE email = $1)`
	var exists bool
	err := r.db.QueryRow(ctx, query, email).Scan(&exists)
	return exists, err
}

// AdminExists reports whether any admin account exists, for startup seeding.
func (r *UserRepository) AdminExists(ctx context.Context) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE is_admin = TRUE)`
	var exists bool
	err := r.db.QueryRow(ctx, query).Scan(&exists)
	return exists, err
}

// IsAdmin answers the admin-capability lookup. Always queried fresh; admin
// capability is never cached across requests.
func (r *UserRepository) IsAdmin(ctx context.Context, id int64) (bool, error) {
	query := `SELECT is_admin FROM users WHERE id = $1`
	var isAdmin bool
	err := r.db.QueryRow(ctx, query, id).Scan(&isAdmin)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, xerrors.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to look up admin flag: %w", err)
	}
	return isAdmin, nil
}

// SetPremium conditionally writes the entitlement flag, returning whether a
// row actually changed.
func (r *UserRepository) SetPremium(ctx context.Context, id int64, premium bool) (bool, error) {
	query := `
		UPDATE users SET is_premium = $1, updated_at = $2
		WHERE id = $3 AND is_premium <> $1
	`

	result, err := r.db.Exec(ctx, query, premium, time.Now(), id)
	if err != nil {
		return false, fmt.Errorf("failed to update premium flag: %w", err)
	}

	return result.RowsAffected() > 0, nil
}
