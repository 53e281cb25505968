package models

import "time"

// OrderStatus статус оплаты заказа.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderCompleted OrderStatus = "COMPLETED"
	OrderFailed    OrderStatus = "FAILED"
	OrderRefunded  OrderStatus = "REFUNDED"
)

// SignUpStatus отражает, завершил ли покупатель активацию учётной записи.
type SignUpStatus string

const (
	SignUpPending   SignUpStatus = "PENDING"
	SignUpActivated SignUpStatus = "ACTIVATED"
)

// Order запись об одной завершённой покупке. StripeSessionID уникален
// и служит ключом идемпотентности обработки вебхуков.
type Order struct {
	ID                    string       `json:"id"`
	UserID                *string      `json:"user_id,omitempty"`
	PlanID                string       `json:"plan_id"`
	Amount                int64        `json:"amount"`
	Currency              string       `json:"currency"`
	StripeSessionID       string       `json:"stripe_session_id"`
	StripePaymentIntentID *string      `json:"stripe_payment_intent_id,omitempty"`
	StripeSubscriptionID  *string      `json:"stripe_subscription_id,omitempty"`
	Status                OrderStatus  `json:"status"`
	SignUpStatus          SignUpStatus `json:"sign_up_status"`
	CreatedAt             time.Time    `json:"created_at"`
	UpdatedAt             time.Time    `json:"updated_at"`
}
