package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/magabrotheeeer/coaching-billing/internal/models"
)

// CheckoutRecord данные завершённой оплаты для записи в ledger.
type CheckoutRecord struct {
	Email      string
	Name       *string
	CustomerID *string
	Order      models.Order
	Consent    *models.Consent
}

// CheckoutResult итог записи оплаты.
type CheckoutResult struct {
	User        *models.User
	UserCreated bool
	Order       *models.Order
	// Duplicate заказ с этим session id уже был записан, ничего не изменено.
	Duplicate bool
}

const orderColumns = `id, user_id, plan_id, amount, currency, stripe_session_id,
	stripe_payment_intent_id, stripe_subscription_id, status, sign_up_status,
	created_at, updated_at`

func scanOrder(row scanner) (*models.Order, error) {
	o := &models.Order{}
	var userID, paymentIntentID, subscriptionID sql.NullString
	if err := row.Scan(&o.ID, &userID, &o.PlanID, &o.Amount, &o.Currency, &o.StripeSessionID,
		&paymentIntentID, &subscriptionID, &o.Status, &o.SignUpStatus,
		&o.CreatedAt, &o.UpdatedAt); err != nil {
		return nil, err
	}
	o.UserID = stringPtr(userID)
	o.StripePaymentIntentID = stringPtr(paymentIntentID)
	o.StripeSubscriptionID = stringPtr(subscriptionID)
	return o, nil
}

// RecordCheckout в одной транзакции находит или создаёт пользователя по email,
// привязывает клиента Stripe, создаёт заказ и согласие.
//
// Повторная запись с тем же StripeSessionID ничего не меняет и возвращает
// результат с Duplicate = true.
func (s *Storage) RecordCheckout(ctx context.Context, rec CheckoutRecord) (*CheckoutResult, error) {
	const op = "storage.RecordCheckout"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	result := &CheckoutResult{}
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		existing, err := scanOrder(tx.QueryRowContext(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE stripe_session_id = $1`, rec.Order.StripeSessionID))
		if err == nil {
			result.Order = existing
			result.Duplicate = true
			return nil
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return err
		}

		user, created, err := findOrCreateUser(ctx, tx, rec.Email, rec.Name)
		if err != nil {
			return err
		}
		result.User = user
		result.UserCreated = created

		if rec.CustomerID != nil && user.StripeCustomerID == nil {
			if err = setStripeCustomerID(ctx, tx, user.ID, *rec.CustomerID); err != nil {
				return err
			}
		}

		o := rec.Order
		o.UserID = &user.ID
		query := `INSERT INTO orders (user_id, plan_id, amount, currency, stripe_session_id,
				      stripe_payment_intent_id, stripe_subscription_id, status, sign_up_status)
				  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
				  ON CONFLICT (stripe_session_id) DO NOTHING
				  RETURNING id, created_at, updated_at`
		err = tx.QueryRowContext(ctx, query, user.ID, o.PlanID, o.Amount, o.Currency, o.StripeSessionID,
			nullString(o.StripePaymentIntentID), nullString(o.StripeSubscriptionID), o.Status, o.SignUpStatus).
			Scan(&o.ID, &o.CreatedAt, &o.UpdatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			// параллельная доставка того же события успела раньше
			result.Duplicate = true
			return errDuplicateOrder
		}
		if err != nil {
			return err
		}
		result.Order = &o

		if rec.Consent == nil {
			return nil
		}
		c := rec.Consent
		_, err = tx.ExecContext(ctx, `INSERT INTO consents (order_id, terms_accepted, privacy_accepted,
				  terms_version, privacy_version, marketing_opt_in, ip_address, user_agent)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			  ON CONFLICT (order_id) DO NOTHING`,
			o.ID, c.TermsAccepted, c.PrivacyAccepted, c.TermsVersion, c.PrivacyVersion,
			c.MarketingOptIn, nullString(c.IPAddress), nullString(c.UserAgent))
		return err
	})
	if errors.Is(err, errDuplicateOrder) {
		order, getErr := s.GetOrderBySessionID(ctx, rec.Order.StripeSessionID)
		if getErr != nil {
			return nil, fmt.Errorf("%s: %w", op, getErr)
		}
		return &CheckoutResult{Order: order, Duplicate: true}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

var errDuplicateOrder = errors.New("duplicate order")

func findOrCreateUser(ctx context.Context, tx *sql.Tx, email string, name *string) (*models.User, bool, error) {
	user, err := getUserByEmail(ctx, tx, email, true)
	if err == nil {
		return user, false, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, err
	}

	query := `INSERT INTO users (email, name, role)
			  VALUES ($1, $2, $3)
			  ON CONFLICT (email) DO NOTHING
			  RETURNING ` + userColumns
	user, err = scanUser(tx.QueryRowContext(ctx, query, email, nullString(name), models.RoleClient))
	if errors.Is(err, sql.ErrNoRows) {
		user, err = getUserByEmail(ctx, tx, email, true)
		return user, false, err
	}
	if err != nil {
		return nil, false, err
	}
	return user, true, nil
}

// GetOrderBySessionID возвращает заказ по идентификатору сессии оплаты.
func (s *Storage) GetOrderBySessionID(ctx context.Context, sessionID string) (*models.Order, error) {
	const op = "storage.GetOrderBySessionID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	o, err := scanOrder(s.DB.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE stripe_session_id = $1`, sessionID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, notFound(err))
	}
	return o, nil
}

// ListOrdersByUser возвращает заказы пользователя от новых к старым.
func (s *Storage) ListOrdersByUser(ctx context.Context, userID string) ([]*models.Order, error) {
	const op = "storage.ListOrdersByUser"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, o)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
