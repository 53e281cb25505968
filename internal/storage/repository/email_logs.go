package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/magabrotheeeer/coaching-billing/internal/models"
)

// CreateEmailLogs сохраняет записи журнала писем и возвращает их идентификаторы.
func (s *Storage) CreateEmailLogs(ctx context.Context, logs []models.EmailLog) ([]string, error) {
	const op = "storage.CreateEmailLogs"
	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	ids := make([]string, 0, len(logs))
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		for _, l := range logs {
			var id string
			err := tx.QueryRowContext(ctx, `INSERT INTO email_logs
					  (type, order_id, recipient, subject, status, provider_message_id, error_message)
				  VALUES ($1, $2, $3, $4, $5, $6, $7)
				  RETURNING id`,
				l.Type, nullString(l.OrderID), l.Recipient, l.Subject, l.Status,
				nullString(l.ProviderMessageID), nullString(l.ErrorMessage)).Scan(&id)
			if err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return ids, nil
}

// MarkEmailLogsSent отмечает записи отправленными и сохраняет идентификатор
// сообщения у провайдера.
func (s *Storage) MarkEmailLogsSent(ctx context.Context, ids []string, providerMessageID string) error {
	const op = "storage.MarkEmailLogsSent"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	_, err := s.DB.ExecContext(ctx, `UPDATE email_logs
		  SET status = 'SENT', provider_message_id = $2, error_message = NULL, updated_at = NOW()
		  WHERE id = ANY($1::uuid[])`, ids, providerMessageID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// MarkEmailLogsFailed отмечает записи неуспешными с текстом ошибки.
func (s *Storage) MarkEmailLogsFailed(ctx context.Context, ids []string, errMsg string) error {
	const op = "storage.MarkEmailLogsFailed"
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	_, err := s.DB.ExecContext(ctx, `UPDATE email_logs
		  SET status = 'FAILED', error_message = $2, updated_at = NOW()
		  WHERE id = ANY($1::uuid[])`, ids, errMsg)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
