// Package subscription сверяет локальные подписки с состоянием у платёжного
// провайдера и обрабатывает отмену и возобновление по запросу пользователя.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/magabrotheeeer/coaching-billing/internal/config"
	"github.com/magabrotheeeer/coaching-billing/internal/lib/sl"
	"github.com/magabrotheeeer/coaching-billing/internal/models"
)

// Repository определяет методы для работы с подписками и их владельцами.
type Repository interface {
	UpsertSubscription(ctx context.Context, sub models.Subscription) (*models.Subscription, error)
	GetSubscriptionByExternalID(ctx context.Context, externalID string) (*models.Subscription, error)
	GetActiveSubscription(ctx context.Context, userID string) (*models.Subscription, error)
	GetReactivatableSubscription(ctx context.Context, userID string) (*models.Subscription, error)
	UpdateSubscriptionState(ctx context.Context, id string, status models.SubscriptionStatus, cancelAtPeriodEnd bool) (*models.Subscription, error)
	GetUserByStripeCustomerID(ctx context.Context, customerID string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// Processor операции с подписками у платёжного провайдера.
type Processor interface {
	GetSubscription(ctx context.Context, id string) (*models.ProcessorSubscription, error)
	SetCancelAtPeriodEnd(ctx context.Context, id string, cancel bool) (*models.ProcessorSubscription, error)
	CancelSubscription(ctx context.Context, id string) (*models.ProcessorSubscription, error)
}

// Cache описывает методы для кэширования данных.
type Cache interface {
	// Get пытается получить значение из кеша по ключу.
	Get(ctx context.Context, key string, result any) (bool, error)
	// Set сохраняет значение в кеш с временем жизни.
	Set(ctx context.Context, key string, value any, expiration time.Duration) error
	// Invalidate удаляет значение из кеша по ключу.
	Invalidate(ctx context.Context, key string) error
}

// Locker распределённая блокировка.
type Locker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// SubscriptionService реализует жизненный цикл подписки. Все изменения одной
// подписки выполняются под блокировкой по её идентификатору у провайдера.
type SubscriptionService struct {
	repo        Repository
	processor   Processor
	cache       Cache
	locker      Locker
	planByPrice map[string]string
	cacheTTL    time.Duration
	lockTTL     time.Duration
	log         *slog.Logger
	now         func() time.Time
}

// NewSubscriptionService создает новый экземпляр SubscriptionService.
func NewSubscriptionService(
	repo Repository,
	processor Processor,
	cache Cache,
	locker Locker,
	cfg config.Subscription,
	plans []models.Plan,
	log *slog.Logger,
) *SubscriptionService {
	planByPrice := make(map[string]string, len(plans))
	for _, p := range plans {
		planByPrice[p.PriceID] = p.ID
	}
	return &SubscriptionService{
		repo:        repo,
		processor:   processor,
		cache:       cache,
		locker:      locker,
		planByPrice: planByPrice,
		cacheTTL:    cfg.CacheTTL,
		lockTTL:     cfg.LockTTL,
		log:         log,
		now:         time.Now,
	}
}

func cacheKey(userID string) string {
	return "subscription:active:" + userID
}

func lockKey(externalID string) string {
	return "subscription:" + externalID
}

// lockMargin запас между концом операции под блокировкой и истечением её TTL.
const lockMargin = time.Second

// lock берёт блокировку подписки и возвращает контекст, который истекает
// раньше блокировки. Вызовы провайдера и записи в базу под этим контекстом
// не переживут TTL.
func (s *SubscriptionService) lock(ctx context.Context, externalID string) (context.Context, func(), error) {
	unlock, err := s.locker.Lock(ctx, lockKey(externalID), s.lockTTL)
	if err != nil {
		return nil, nil, err
	}
	budget := s.lockTTL - lockMargin
	if budget <= 0 {
		budget = s.lockTTL
	}
	lockedCtx, cancel := context.WithTimeout(ctx, budget)
	return lockedCtx, func() {
		cancel()
		unlock()
	}, nil
}

type cachedSubscription struct {
	Subscription *models.Subscription `json:"subscription"`
}

// Get возвращает действующую подписку пользователя или nil.
func (s *SubscriptionService) Get(ctx context.Context, userID string) (*models.Subscription, error) {
	const op = "subscription.Get"
	log := s.log.With(slog.String("op", op), slog.String("user_id", userID))

	var cached cachedSubscription
	found, err := s.cache.Get(ctx, cacheKey(userID), &cached)
	if err != nil {
		log.Warn("cache read failed", sl.Err(err))
	}
	if found {
		return cached.Subscription, nil
	}

	sub, err := s.repo.GetActiveSubscription(ctx, userID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.cache.Set(ctx, cacheKey(userID), cachedSubscription{Subscription: sub}, s.cacheTTL); err != nil {
		log.Warn("cache write failed", sl.Err(err))
	}
	return sub, nil
}

// Cancel отменяет действующую подписку пользователя. При immediate подписка
// отменяется сразу, иначе в конце оплаченного периода.
func (s *SubscriptionService) Cancel(ctx context.Context, userID string, immediate bool) (*models.Subscription, error) {
	const op = "subscription.Cancel"
	log := s.log.With(slog.String("op", op), slog.String("user_id", userID))

	current, err := s.repo.GetActiveSubscription(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ctx, unlock, err := s.lock(ctx, current.StripeSubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()
	defer s.invalidate(ctx, userID)

	// состояние могло измениться, пока ждали блокировку
	current, err = s.repo.GetSubscriptionByExternalID(ctx, current.StripeSubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !current.IsLive() {
		return nil, fmt.Errorf("%s: %w: no active subscription", op, models.ErrNotFound)
	}

	var updated *models.Subscription
	if immediate {
		if _, err := s.processor.CancelSubscription(ctx, current.StripeSubscriptionID); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		updated, err = s.repo.UpdateSubscriptionState(ctx, current.ID, models.SubscriptionCancelled, false)
	} else {
		if _, err := s.processor.SetCancelAtPeriodEnd(ctx, current.StripeSubscriptionID, true); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		updated, err = s.repo.UpdateSubscriptionState(ctx, current.ID, current.Status, true)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	log.Info("subscription cancelled",
		slog.String("subscription_id", updated.StripeSubscriptionID),
		slog.Bool("immediate", immediate))
	return updated, nil
}

// Reactivate снимает запланированную отмену или возобновляет отменённую
// локально подписку, если у провайдера она ещё жива. Если провайдер уже
// отменил подписку, возвращает models.ErrAlreadyCancelled без изменений.
func (s *SubscriptionService) Reactivate(ctx context.Context, userID string) (*models.Subscription, error) {
	const op = "subscription.Reactivate"
	log := s.log.With(slog.String("op", op), slog.String("user_id", userID))

	current, err := s.repo.GetReactivatableSubscription(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	ctx, unlock, err := s.lock(ctx, current.StripeSubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	// состояние могло измениться, пока ждали блокировку
	current, err = s.repo.GetSubscriptionByExternalID(ctx, current.StripeSubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !current.CanReactivate() {
		return nil, fmt.Errorf("%s: %w: nothing to reactivate", op, models.ErrNotFound)
	}

	upstream, err := s.processor.GetSubscription(ctx, current.StripeSubscriptionID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("%s: %w", op, models.ErrAlreadyCancelled)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if models.MapProcessorStatus(upstream.Status) == models.SubscriptionCancelled {
		log.Info("subscription already cancelled upstream",
			slog.String("subscription_id", current.StripeSubscriptionID),
			slog.String("status", upstream.Status))
		return nil, fmt.Errorf("%s: %w", op, models.ErrAlreadyCancelled)
	}
	if upstream.CancelAtPeriodEnd {
		if _, err := s.processor.SetCancelAtPeriodEnd(ctx, current.StripeSubscriptionID, false); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	updated, err := s.repo.UpdateSubscriptionState(ctx, current.ID, models.SubscriptionActive, false)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.invalidate(ctx, userID)
	log.Info("subscription reactivated", slog.String("subscription_id", updated.StripeSubscriptionID))
	return updated, nil
}

// SyncFromProcessor перечитывает подписку у провайдера и применяет её состояние.
// Через него проходят и события вебхука: снимок из события может устареть,
// поэтому состояние всегда берётся у провайдера.
func (s *SubscriptionService) SyncFromProcessor(ctx context.Context, externalID string) (*models.Subscription, error) {
	const op = "subscription.SyncFromProcessor"
	if externalID == "" {
		return nil, fmt.Errorf("%s: %w: empty subscription id", op, models.ErrInvalidInput)
	}
	ctx, unlock, err := s.lock(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer unlock()

	upstream, err := s.processor.GetSubscription(ctx, externalID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	sub, err := s.apply(ctx, *upstream)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub, nil
}

// apply вызывается под блокировкой подписки.
func (s *SubscriptionService) apply(ctx context.Context, upstream models.ProcessorSubscription) (*models.Subscription, error) {
	existing, err := s.repo.GetSubscriptionByExternalID(ctx, upstream.ID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, err
	}
	// отменённая запись возвращается к жизни только через Reactivate
	if existing != nil && existing.Status == models.SubscriptionCancelled {
		s.log.Debug("skip sync of cancelled subscription", slog.String("subscription_id", upstream.ID))
		return existing, nil
	}

	status := models.MapProcessorStatus(upstream.Status)
	now := s.now()
	if upstream.CancelAtPeriodEnd && !upstream.CurrentPeriodEnd.IsZero() && !upstream.CurrentPeriodEnd.After(now) {
		status = models.SubscriptionCancelled
	}

	next := models.Subscription{
		StripeSubscriptionID: upstream.ID,
		PlanID:               s.planID(upstream),
		Status:               status,
		CancelAtPeriodEnd:    upstream.CancelAtPeriodEnd,
		CurrentPeriodStart:   upstream.CurrentPeriodStart,
		CurrentPeriodEnd:     upstream.CurrentPeriodEnd,
	}
	if existing != nil {
		next.UserID = existing.UserID
		if next.CurrentPeriodStart.IsZero() {
			next.CurrentPeriodStart = existing.CurrentPeriodStart
		}
		if next.CurrentPeriodEnd.IsZero() {
			next.CurrentPeriodEnd = existing.CurrentPeriodEnd
		}
	} else {
		user, err := s.resolveUser(ctx, upstream)
		if err != nil {
			return nil, err
		}
		next.UserID = user.ID
		if next.CurrentPeriodStart.IsZero() {
			next.CurrentPeriodStart = now
		}
		if next.CurrentPeriodEnd.IsZero() {
			next.CurrentPeriodEnd = next.CurrentPeriodStart
		}
	}

	saved, err := s.repo.UpsertSubscription(ctx, next)
	if err != nil {
		return nil, err
	}
	s.invalidate(ctx, saved.UserID)
	s.log.Info("subscription synced",
		slog.String("subscription_id", saved.StripeSubscriptionID),
		slog.String("status", string(saved.Status)),
		slog.Bool("cancel_at_period_end", saved.CancelAtPeriodEnd))
	return saved, nil
}

// resolveUser находит владельца новой подписки по клиенту провайдера,
// затем по email из метаданных.
func (s *SubscriptionService) resolveUser(ctx context.Context, upstream models.ProcessorSubscription) (*models.User, error) {
	if upstream.CustomerID != "" {
		user, err := s.repo.GetUserByStripeCustomerID(ctx, upstream.CustomerID)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
	}
	if email := models.NormalizeEmail(upstream.Metadata[models.MetaEmail]); email != "" {
		user, err := s.repo.GetUserByEmail(ctx, email)
		if err == nil {
			return user, nil
		}
		if !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: no user for subscription %s", models.ErrNotFound, upstream.ID)
}

func (s *SubscriptionService) planID(upstream models.ProcessorSubscription) *string {
	if id, ok := s.planByPrice[upstream.PriceID]; ok {
		return &id
	}
	if id := upstream.Metadata[models.MetaPlanID]; id != "" {
		return &id
	}
	return nil
}

func (s *SubscriptionService) invalidate(ctx context.Context, userID string) {
	if err := s.cache.Invalidate(context.WithoutCancel(ctx), cacheKey(userID)); err != nil {
		s.log.Warn("cache invalidate failed", sl.Err(err), slog.String("user_id", userID))
	}
}
