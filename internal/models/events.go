package models

import "time"

// Event проверенное событие платёжного провайдера. Конкретные типы:
// CheckoutCompleted, SubscriptionChanged, PaymentFailed и Unhandled.
type Event interface {
	EventID() string
	EventType() string
}

// CheckoutCompleted успешное завершение сессии оплаты.
type CheckoutCompleted struct {
	ID                   string
	SessionID            string
	CustomerEmail        string
	CustomerName         string
	CustomerID           string
	PaymentIntentID      string
	StripeSubscriptionID string
	AmountTotal          int64
	Currency             string
	Metadata             map[string]string
}

func (e CheckoutCompleted) EventID() string   { return e.ID }
func (e CheckoutCompleted) EventType() string { return "checkout.session.completed" }

// SubscriptionChangeKind вид изменения подписки.
type SubscriptionChangeKind string

const (
	SubscriptionCreated SubscriptionChangeKind = "created"
	SubscriptionUpdated SubscriptionChangeKind = "updated"
	SubscriptionDeleted SubscriptionChangeKind = "deleted"
)

// SubscriptionChanged создание, изменение или удаление подписки у провайдера.
type SubscriptionChanged struct {
	ID           string
	Kind         SubscriptionChangeKind
	Subscription ProcessorSubscription
}

func (e SubscriptionChanged) EventID() string { return e.ID }
func (e SubscriptionChanged) EventType() string {
	return "customer.subscription." + string(e.Kind)
}

// PaymentFailed неуспешное списание по счёту подписки.
type PaymentFailed struct {
	ID                   string
	InvoiceID            string
	CustomerID           string
	StripeSubscriptionID string
	AttemptCount         int64
}

func (e PaymentFailed) EventID() string   { return e.ID }
func (e PaymentFailed) EventType() string { return "invoice.payment_failed" }

// Unhandled событие, которое подтверждается без обработки.
type Unhandled struct {
	ID   string
	Type string
}

func (e Unhandled) EventID() string   { return e.ID }
func (e Unhandled) EventType() string { return e.Type }

// OrderNotification сообщение о новом заказе для администраторов,
// публикуемое в очередь уведомлений.
type OrderNotification struct {
	OrderID       string    `json:"order_id"`
	CustomerEmail string    `json:"customer_email"`
	CustomerName  string    `json:"customer_name,omitempty"`
	PlanID        string    `json:"plan_id"`
	Amount        int64     `json:"amount"`
	Currency      string    `json:"currency"`
	NewUser       bool      `json:"new_user"`
	CreatedAt     time.Time `json:"created_at"`
}
