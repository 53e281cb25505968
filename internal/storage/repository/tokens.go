package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/magabrotheeeer/coaching-billing/internal/models"
)

// ActivateParams параметры активации учётной записи.
type ActivateParams struct {
	TokenID      string
	UserID       string
	PasswordHash string
	Name         *string
	Now          time.Time
}

// CreateActivationToken сохраняет хэш нового токена активации.
func (s *Storage) CreateActivationToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (*models.ActivationToken, error) {
	const op = "storage.CreateActivationToken"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	t := &models.ActivationToken{UserID: userID, TokenHash: tokenHash, ExpiresAt: expiresAt}
	query := `INSERT INTO activation_tokens (user_id, token_hash, expires_at)
			  VALUES ($1, $2, $3)
			  RETURNING id, created_at`
	if err := s.DB.QueryRowContext(ctx, query, userID, tokenHash, expiresAt).Scan(&t.ID, &t.CreatedAt); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return t, nil
}

// ListUnusedActivationTokens возвращает неиспользованные токены пользователя,
// включая истёкшие, от новых к старым.
func (s *Storage) ListUnusedActivationTokens(ctx context.Context, userID string) ([]models.ActivationToken, error) {
	const op = "storage.ListUnusedActivationTokens"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	query := `SELECT id, user_id, token_hash, expires_at, created_at
			  FROM activation_tokens
			  WHERE user_id = $1 AND used_at IS NULL
			  ORDER BY created_at DESC`
	rows, err := s.DB.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var result []models.ActivationToken
	for rows.Next() {
		var t models.ActivationToken
		if err = rows.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		result = append(result, t)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}

// InvalidateActivationTokens помечает все неиспользованные токены пользователя
// использованными и возвращает их количество.
func (s *Storage) InvalidateActivationTokens(ctx context.Context, userID string) (int64, error) {
	const op = "storage.InvalidateActivationTokens"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	n, err := invalidateTokens(ctx, s.DB, userID, time.Now())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// DeleteExpiredActivationTokens удаляет токены, истёкшие к моменту now.
func (s *Storage) DeleteExpiredActivationTokens(ctx context.Context, now time.Time) (int64, error) {
	const op = "storage.DeleteExpiredActivationTokens"
	select {
	case <-ctx.Done():
		return 0, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	res, err := s.DB.ExecContext(ctx, `DELETE FROM activation_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	return n, nil
}

// ActivateUser атомарно расходует токен, устанавливает пароль и флаги
// активации, гасит остальные токены пользователя и переводит его
// ожидающие заказы в ACTIVATED.
//
// Условное обновление токена сериализует конкурентные активации:
// проигравший получает models.ErrTokenUsed.
func (s *Storage) ActivateUser(ctx context.Context, p ActivateParams) (*models.User, error) {
	const op = "storage.ActivateUser"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	var user *models.User
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `UPDATE activation_tokens
			  SET used_at = $3
			  WHERE id = $1 AND user_id = $2 AND used_at IS NULL`,
			p.TokenID, p.UserID, p.Now)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n != 1 {
			return models.ErrTokenUsed
		}

		query := `UPDATE users
				  SET password_hash = $2,
				      name = COALESCE($3, name),
				      activated_at = $4,
				      email_verified = TRUE,
				      updated_at = $4
				  WHERE id = $1 AND password_hash IS NULL
				  RETURNING ` + userColumns
		user, err = scanUser(tx.QueryRowContext(ctx, query, p.UserID, p.PasswordHash, nullString(p.Name), p.Now))
		if errors.Is(err, sql.ErrNoRows) {
			return models.ErrAlreadyActivated
		}
		if err != nil {
			return err
		}

		if _, err = invalidateTokens(ctx, tx, p.UserID, p.Now); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `UPDATE orders
			  SET sign_up_status = 'ACTIVATED', updated_at = $2
			  WHERE user_id = $1 AND sign_up_status = 'PENDING'`,
			p.UserID, p.Now)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

func invalidateTokens(ctx context.Context, q querier, userID string, now time.Time) (int64, error) {
	res, err := q.ExecContext(ctx, `UPDATE activation_tokens
		  SET used_at = $2
		  WHERE user_id = $1 AND used_at IS NULL`, userID, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
