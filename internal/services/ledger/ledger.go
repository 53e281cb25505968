// Package ledger записывает завершённые оплаты: пользователя, заказ и
// согласие, после чего рассылает уведомления о заказе.
package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/magabrotheeeer/coaching-billing/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/coaching-billing/internal/lib/sl"
	"github.com/magabrotheeeer/coaching-billing/internal/models"
	"github.com/magabrotheeeer/coaching-billing/internal/storage/repository"
)

// unknownPlan план заказа, если сессия пришла без метаданных плана.
const unknownPlan = "unknown"

// Repository запись оплаты в одной транзакции.
type Repository interface {
	RecordCheckout(ctx context.Context, rec repository.CheckoutRecord) (*repository.CheckoutResult, error)
}

// TokenIssuer выпускает токен активации для нового пользователя.
type TokenIssuer interface {
	Issue(ctx context.Context, userID string) (string, error)
}

// Notifier письма покупателю.
type Notifier interface {
	SendOrderConfirmation(ctx context.Context, user *models.User, order *models.Order, newUser bool) error
	SendActivation(ctx context.Context, user *models.User, orderID *string, token string) error
}

// Publisher публикует события для фоновых обработчиков.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, message any) error
}

// Reconciler синхронизирует подписку, созданную оплатой.
type Reconciler interface {
	SyncFromProcessor(ctx context.Context, externalID string) (*models.Subscription, error)
}

// LedgerService обрабатывает завершённые оплаты.
type LedgerService struct {
	repo       Repository
	tokens     TokenIssuer
	notifier   Notifier
	publisher  Publisher
	reconciler Reconciler
	log        *slog.Logger
}

// NewLedgerService создаёт LedgerService. publisher может быть nil, тогда
// события администраторам не публикуются.
func NewLedgerService(repo Repository, tokens TokenIssuer, notifier Notifier, publisher Publisher, reconciler Reconciler, log *slog.Logger) *LedgerService {
	return &LedgerService{
		repo:       repo,
		tokens:     tokens,
		notifier:   notifier,
		publisher:  publisher,
		reconciler: reconciler,
		log:        log,
	}
}

// HandleCheckoutCompleted записывает оплату. Повтор с тем же session id
// возвращает результат с Duplicate и ничего не рассылает. Ошибки записи
// возвращаются, ошибки уведомлений только логируются.
func (s *LedgerService) HandleCheckoutCompleted(ctx context.Context, ev models.CheckoutCompleted) (*repository.CheckoutResult, error) {
	const op = "ledger.HandleCheckoutCompleted"
	log := s.log.With(slog.String("op", op), slog.String("session_id", ev.SessionID))

	email := models.NormalizeEmail(ev.CustomerEmail)
	if email == "" {
		return nil, fmt.Errorf("%s: %w: checkout session without customer email", op, models.ErrInvalidInput)
	}
	if ev.SessionID == "" {
		return nil, fmt.Errorf("%s: %w: empty session id", op, models.ErrInvalidInput)
	}

	planID := ev.Metadata[models.MetaPlanID]
	if planID == "" {
		planID = unknownPlan
	}
	res, err := s.repo.RecordCheckout(ctx, repository.CheckoutRecord{
		Email:      email,
		Name:       optional(ev.CustomerName),
		CustomerID: optional(ev.CustomerID),
		Order: models.Order{
			PlanID:                planID,
			Amount:                ev.AmountTotal,
			Currency:              strings.ToLower(ev.Currency),
			StripeSessionID:       ev.SessionID,
			StripePaymentIntentID: optional(ev.PaymentIntentID),
			StripeSubscriptionID:  optional(ev.StripeSubscriptionID),
			Status:                models.OrderCompleted,
			SignUpStatus:          models.SignUpPending,
		},
		Consent: consentFromMetadata(ev.Metadata),
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if res.Duplicate {
		log.Info("checkout already recorded")
		return res, nil
	}
	log.Info("checkout recorded",
		slog.String("order_id", res.Order.ID),
		slog.String("user_id", res.User.ID),
		slog.Bool("new_user", res.UserCreated))

	s.notify(ctx, log, res)
	s.publish(ctx, log, res)

	if ev.StripeSubscriptionID != "" && s.reconciler != nil {
		if _, err := s.reconciler.SyncFromProcessor(ctx, ev.StripeSubscriptionID); err != nil {
			// подписка догонится событиями customer.subscription.*
			log.Warn("failed to sync subscription", sl.Err(err), slog.String("subscription_id", ev.StripeSubscriptionID))
		}
	}
	return res, nil
}

func (s *LedgerService) notify(ctx context.Context, log *slog.Logger, res *repository.CheckoutResult) {
	var token string
	if res.UserCreated {
		var err error
		token, err = s.tokens.Issue(ctx, res.User.ID)
		if err != nil {
			log.Error("failed to issue activation token", sl.Err(err))
		}
	}
	if err := s.notifier.SendOrderConfirmation(ctx, res.User, res.Order, res.UserCreated); err != nil {
		log.Error("failed to send order confirmation", sl.Err(err))
	}
	if token != "" {
		orderID := res.Order.ID
		if err := s.notifier.SendActivation(ctx, res.User, &orderID, token); err != nil {
			log.Error("failed to send activation email", sl.Err(err))
		}
	}
}

func (s *LedgerService) publish(ctx context.Context, log *slog.Logger, res *repository.CheckoutResult) {
	if s.publisher == nil {
		return
	}
	n := models.OrderNotification{
		OrderID:       res.Order.ID,
		CustomerEmail: res.User.Email,
		PlanID:        res.Order.PlanID,
		Amount:        res.Order.Amount,
		Currency:      res.Order.Currency,
		NewUser:       res.UserCreated,
		CreatedAt:     res.Order.CreatedAt,
	}
	if res.User.Name != nil {
		n.CustomerName = *res.User.Name
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now().UTC()
	}
	if err := s.publisher.Publish(ctx, rabbitmq.RoutingKeyOrderCompleted, n); err != nil {
		log.Error("failed to publish order event", sl.Err(err))
	}
}

// consentFromMetadata возвращает согласие, только если метаданные содержат
// флаги согласия.
func consentFromMetadata(meta map[string]string) *models.Consent {
	terms, hasTerms := meta[models.MetaTermsAccepted]
	privacy, hasPrivacy := meta[models.MetaPrivacyAccepted]
	if !hasTerms && !hasPrivacy {
		return nil
	}
	return &models.Consent{
		TermsAccepted:   parseBool(terms),
		PrivacyAccepted: parseBool(privacy),
		TermsVersion:    meta[models.MetaTermsVersion],
		PrivacyVersion:  meta[models.MetaPrivacyVersion],
		MarketingOptIn:  parseBool(meta[models.MetaMarketingOptIn]),
		IPAddress:       optional(meta[models.MetaIPAddress]),
		UserAgent:       optional(meta[models.MetaUserAgent]),
	}
}

func parseBool(s string) bool {
	b, _ := strconv.ParseBool(s)
	return b
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
