package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/magabrotheeeer/coaching-billing/internal/models"
)

const userColumns = `id, email, name, role, password_hash, stripe_customer_id,
	activated_at, email_verified, created_at, updated_at`

func scanUser(row scanner) (*models.User, error) {
	u := &models.User{}
	var name, passwordHash, customerID sql.NullString
	var activatedAt sql.NullTime
	if err := row.Scan(&u.ID, &u.Email, &name, &u.Role, &passwordHash, &customerID,
		&activatedAt, &u.EmailVerified, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Name = stringPtr(name)
	u.PasswordHash = stringPtr(passwordHash)
	u.StripeCustomerID = stringPtr(customerID)
	if activatedAt.Valid {
		u.ActivatedAt = &activatedAt.Time
	}
	return u, nil
}

// GetUserByID возвращает пользователя по идентификатору.
func (s *Storage) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	const op = "storage.GetUserByID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, notFound(err))
	}
	return u, nil
}

// GetUserByEmail возвращает пользователя по email.
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	const op = "storage.GetUserByEmail"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	u, err := getUserByEmail(ctx, s.DB, email, false)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, notFound(err))
	}
	return u, nil
}

// GetUserByStripeCustomerID возвращает пользователя по идентификатору клиента Stripe.
func (s *Storage) GetUserByStripeCustomerID(ctx context.Context, customerID string) (*models.User, error) {
	const op = "storage.GetUserByStripeCustomerID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + userColumns + ` FROM users WHERE stripe_customer_id = $1`
	u, err := scanUser(s.DB.QueryRowContext(ctx, query, customerID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, notFound(err))
	}
	return u, nil
}

// SetStripeCustomerID привязывает клиента Stripe к пользователю, если
// привязки ещё нет и этот клиент не принадлежит другому пользователю.
func (s *Storage) SetStripeCustomerID(ctx context.Context, userID, customerID string) error {
	const op = "storage.SetStripeCustomerID"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	if err := setStripeCustomerID(ctx, s.DB, userID, customerID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func getUserByEmail(ctx context.Context, q querier, email string, forUpdate bool) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return scanUser(q.QueryRowContext(ctx, query, email))
}

func setStripeCustomerID(ctx context.Context, q querier, userID, customerID string) error {
	query := `UPDATE users
			  SET stripe_customer_id = $2, updated_at = NOW()
			  WHERE id = $1
			    AND stripe_customer_id IS NULL
			    AND NOT EXISTS (SELECT 1 FROM users WHERE stripe_customer_id = $2)`
	_, err := q.ExecContext(ctx, query, userID, customerID)
	return err
}
