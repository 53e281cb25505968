package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/magabrotheeeer/coaching-billing/internal/models"
)

const subscriptionColumns = `id, user_id, stripe_subscription_id, plan_id, status,
	cancel_at_period_end, current_period_start, current_period_end, created_at, updated_at`

func scanSubscription(row scanner) (*models.Subscription, error) {
	sub := &models.Subscription{}
	var planID sql.NullString
	if err := row.Scan(&sub.ID, &sub.UserID, &sub.StripeSubscriptionID, &planID, &sub.Status,
		&sub.CancelAtPeriodEnd, &sub.CurrentPeriodStart, &sub.CurrentPeriodEnd,
		&sub.CreatedAt, &sub.UpdatedAt); err != nil {
		return nil, err
	}
	sub.PlanID = stringPtr(planID)
	return sub, nil
}

// UpsertSubscription создаёт подписку или обновляет существующую с тем же
// идентификатором провайдера. Владелец подписки не меняется.
func (s *Storage) UpsertSubscription(ctx context.Context, sub models.Subscription) (*models.Subscription, error) {
	const op = "storage.UpsertSubscription"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `INSERT INTO subscriptions (user_id, stripe_subscription_id, plan_id, status,
			      cancel_at_period_end, current_period_start, current_period_end)
			  VALUES ($1, $2, $3, $4, $5, $6, $7)
			  ON CONFLICT (stripe_subscription_id) DO UPDATE SET
			      plan_id = COALESCE(EXCLUDED.plan_id, subscriptions.plan_id),
			      status = EXCLUDED.status,
			      cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			      current_period_start = EXCLUDED.current_period_start,
			      current_period_end = EXCLUDED.current_period_end,
			      updated_at = NOW()
			  RETURNING ` + subscriptionColumns
	res, err := scanSubscription(s.DB.QueryRowContext(ctx, query,
		sub.UserID, sub.StripeSubscriptionID, nullString(sub.PlanID), sub.Status,
		sub.CancelAtPeriodEnd, sub.CurrentPeriodStart, sub.CurrentPeriodEnd))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return res, nil
}

// GetSubscriptionByExternalID возвращает подписку по идентификатору провайдера.
func (s *Storage) GetSubscriptionByExternalID(ctx context.Context, externalID string) (*models.Subscription, error) {
	const op = "storage.GetSubscriptionByExternalID"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE stripe_subscription_id = $1`
	res, err := scanSubscription(s.DB.QueryRowContext(ctx, query, externalID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, notFound(err))
	}
	return res, nil
}

// GetActiveSubscription возвращает самую новую подписку пользователя
// в статусе ACTIVE, TRIALING или PAST_DUE.
func (s *Storage) GetActiveSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	const op = "storage.GetActiveSubscription"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + subscriptionColumns + `
			  FROM subscriptions
			  WHERE user_id = $1 AND status IN ('ACTIVE', 'TRIALING', 'PAST_DUE')
			  ORDER BY created_at DESC
			  LIMIT 1`
	res, err := scanSubscription(s.DB.QueryRowContext(ctx, query, userID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, notFound(err))
	}
	return res, nil
}

// GetReactivatableSubscription возвращает последнюю подписку пользователя,
// которую можно возобновить: ACTIVE с отменой в конце периода или CANCELLED.
func (s *Storage) GetReactivatableSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	const op = "storage.GetReactivatableSubscription"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT ` + subscriptionColumns + `
			  FROM subscriptions
			  WHERE user_id = $1
			    AND ((status = 'ACTIVE' AND cancel_at_period_end) OR status = 'CANCELLED')
			  ORDER BY updated_at DESC
			  LIMIT 1`
	res, err := scanSubscription(s.DB.QueryRowContext(ctx, query, userID))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, notFound(err))
	}
	return res, nil
}

// UpdateSubscriptionState обновляет статус и флаг отмены в конце периода.
func (s *Storage) UpdateSubscriptionState(ctx context.Context, id string, status models.SubscriptionStatus, cancelAtPeriodEnd bool) (*models.Subscription, error) {
	const op = "storage.UpdateSubscriptionState"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `UPDATE subscriptions
			  SET status = $2, cancel_at_period_end = $3, updated_at = NOW()
			  WHERE id = $1
			  RETURNING ` + subscriptionColumns
	res, err := scanSubscription(s.DB.QueryRowContext(ctx, query, id, status, cancelAtPeriodEnd))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, notFound(err))
	}
	return res, nil
}
