package models

import "time"

// SubscriptionStatus локальный статус подписки.
type SubscriptionStatus string

const (
	SubscriptionActive     SubscriptionStatus = "ACTIVE"
	SubscriptionCancelled  SubscriptionStatus = "CANCELLED"
	SubscriptionPastDue    SubscriptionStatus = "PAST_DUE"
	SubscriptionTrialing   SubscriptionStatus = "TRIALING"
	SubscriptionIncomplete SubscriptionStatus = "INCOMPLETE"
)

// Subscription локальное зеркало подписки у платёжного провайдера.
// Записи никогда не удаляются, отмена выражается статусом.
type Subscription struct {
	ID                   string             `json:"id"`
	UserID               string             `json:"user_id"`
	StripeSubscriptionID string             `json:"stripe_subscription_id"`
	PlanID               *string            `json:"plan_id,omitempty"`
	Status               SubscriptionStatus `json:"status"`
	CancelAtPeriodEnd    bool               `json:"cancel_at_period_end"`
	CurrentPeriodStart   time.Time          `json:"current_period_start"`
	CurrentPeriodEnd     time.Time          `json:"current_period_end"`
	CreatedAt            time.Time          `json:"created_at"`
	UpdatedAt            time.Time          `json:"updated_at"`
}

// IsLive сообщает, даёт ли подписка доступ (ACTIVE, TRIALING или PAST_DUE).
func (s *Subscription) IsLive() bool {
	switch s.Status {
	case SubscriptionActive, SubscriptionTrialing, SubscriptionPastDue:
		return true
	}
	return false
}

// CanReactivate сообщает, можно ли возобновить подписку: отмена запланирована
// на конец периода или подписка отменена локально.
func (s *Subscription) CanReactivate() bool {
	return (s.Status == SubscriptionActive && s.CancelAtPeriodEnd) || s.Status == SubscriptionCancelled
}

// ProcessorSubscription снимок подписки на стороне платёжного провайдера.
type ProcessorSubscription struct {
	ID                 string
	CustomerID         string
	Status             string
	CancelAtPeriodEnd  bool
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	PriceID            string
	Metadata           map[string]string
}

// MapProcessorStatus переводит статус провайдера в локальный. Всё, что не
// active, trialing, past_due или incomplete, считается отменой.
func MapProcessorStatus(status string) SubscriptionStatus {
	switch status {
	case "active":
		return SubscriptionActive
	case "trialing":
		return SubscriptionTrialing
	case "past_due":
		return SubscriptionPastDue
	case "incomplete":
		return SubscriptionIncomplete
	default:
		return SubscriptionCancelled
	}
}
