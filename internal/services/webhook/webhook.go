// Package webhook разбирает вебхуки платёжного провайдера и направляет
// события в ledger и сверку подписок.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/magabrotheeeer/coaching-billing/internal/lib/sl"
	"github.com/magabrotheeeer/coaching-billing/internal/metrics"
	"github.com/magabrotheeeer/coaching-billing/internal/models"
	"github.com/magabrotheeeer/coaching-billing/internal/storage/repository"
)

// EventParser проверяет подпись и разбирает событие.
type EventParser interface {
	ParseEvent(payload []byte, signature string) (models.Event, error)
}

// Ledger запись завершённых оплат.
type Ledger interface {
	HandleCheckoutCompleted(ctx context.Context, ev models.CheckoutCompleted) (*repository.CheckoutResult, error)
}

// Reconciler сверка подписок.
type Reconciler interface {
	SyncFromProcessor(ctx context.Context, externalID string) (*models.Subscription, error)
}

// Service обработчик вебхуков.
type Service struct {
	parser     EventParser
	ledger     Ledger
	reconciler Reconciler
	log        *slog.Logger
}

// NewWebhookService создаёт Service.
func NewWebhookService(parser EventParser, ledger Ledger, reconciler Reconciler, log *slog.Logger) *Service {
	return &Service{
		parser:     parser,
		ledger:     ledger,
		reconciler: reconciler,
		log:        log,
	}
}

// Ingest проверяет подпись сырого тела запроса и обрабатывает событие.
// Ошибка подписи оборачивает models.ErrInvalidInput.
func (s *Service) Ingest(ctx context.Context, payload []byte, signature string) error {
	const op = "webhook.Ingest"
	ev, err := s.parser.ParseEvent(payload, signature)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues("unknown", "rejected").Inc()
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.Handle(ctx, ev); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// Handle направляет событие обработчику по его типу. Ошибки записи
// возвращаются, чтобы провайдер повторил доставку.
func (s *Service) Handle(ctx context.Context, ev models.Event) error {
	const op = "webhook.Handle"
	log := s.log.With(
		slog.String("op", op),
		slog.String("event_id", ev.EventID()),
		slog.String("event_type", ev.EventType()),
	)

	err := s.dispatch(ctx, log, ev)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(ev.EventType(), "error").Inc()
		log.Error("failed to handle event", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}
	metrics.WebhookEvents.WithLabelValues(ev.EventType(), "ok").Inc()
	return nil
}

func (s *Service) dispatch(ctx context.Context, log *slog.Logger, ev models.Event) error {
	switch e := ev.(type) {
	case models.CheckoutCompleted:
		_, err := s.ledger.HandleCheckoutCompleted(ctx, e)
		return err

	case models.SubscriptionChanged:
		// события приходят не по порядку, снимок из payload не применяется
		sub, err := s.reconciler.SyncFromProcessor(ctx, e.Subscription.ID)
		if errors.Is(err, models.ErrNotFound) {
			// оплата ещё не записана, подписку синхронизирует ledger
			log.Warn("subscription owner not resolved", slog.String("subscription_id", e.Subscription.ID))
			return nil
		}
		if err != nil {
			return err
		}
		log.Info("subscription updated from event",
			slog.String("subscription_id", sub.StripeSubscriptionID),
			slog.String("status", string(sub.Status)))
		return nil

	case models.PaymentFailed:
		log.Warn("invoice payment failed",
			slog.String("invoice_id", e.InvoiceID),
			slog.Int64("attempt", e.AttemptCount))
		if e.StripeSubscriptionID == "" {
			return nil
		}
		_, err := s.reconciler.SyncFromProcessor(ctx, e.StripeSubscriptionID)
		if errors.Is(err, models.ErrNotFound) {
			log.Warn("subscription for failed invoice not found", slog.String("subscription_id", e.StripeSubscriptionID))
			return nil
		}
		return err

	case models.Unhandled:
		log.Debug("event ignored")
		return nil
	}
	return fmt.Errorf("%w: unsupported event %T", models.ErrInvalidInput, ev)
}
