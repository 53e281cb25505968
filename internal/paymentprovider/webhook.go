package paymentprovider

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/magabrotheeeer/coaching-billing/internal/models"
)

// ParseEvent проверяет подпись вебхука и переводит событие Stripe в доменное.
// Неизвестные типы событий возвращаются как models.Unhandled.
func (s *StripeClient) ParseEvent(payload []byte, signature string) (models.Event, error) {
	const op = "stripe.ParseEvent"

	if strings.TrimSpace(signature) == "" {
		return nil, fmt.Errorf("%s: %w: missing signature", op, models.ErrInvalidInput)
	}
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, models.ErrInvalidInput, err)
	}
	if event.Data == nil {
		return nil, fmt.Errorf("%s: %w: event without data", op, models.ErrInvalidInput)
	}

	eventType := string(event.Type)
	switch eventType {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded":
		var cs checkoutSessionWire
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return nil, fmt.Errorf("%s: %w: %w", op, models.ErrInvalidInput, err)
		}
		// отложенные способы оплаты придут отдельным async_payment_succeeded
		if cs.PaymentStatus == "unpaid" {
			return models.Unhandled{ID: event.ID, Type: eventType}, nil
		}
		email := cs.CustomerDetails.Email
		if email == "" {
			email = cs.CustomerEmail
		}
		return models.CheckoutCompleted{
			ID:                   event.ID,
			SessionID:            cs.ID,
			CustomerEmail:        email,
			CustomerName:         cs.CustomerDetails.Name,
			CustomerID:           string(cs.Customer),
			PaymentIntentID:      string(cs.PaymentIntent),
			StripeSubscriptionID: string(cs.Subscription),
			AmountTotal:          cs.AmountTotal,
			Currency:             cs.Currency,
			Metadata:             cs.Metadata,
		}, nil

	case "customer.subscription.created", "customer.subscription.updated", "customer.subscription.deleted":
		var sub subscriptionWire
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return nil, fmt.Errorf("%s: %w: %w", op, models.ErrInvalidInput, err)
		}
		return models.SubscriptionChanged{
			ID:           event.ID,
			Kind:         models.SubscriptionChangeKind(strings.TrimPrefix(eventType, "customer.subscription.")),
			Subscription: *sub.toModel(),
		}, nil

	case "invoice.payment_failed":
		var inv invoiceWire
		if err := json.Unmarshal(event.Data.Raw, &inv); err != nil {
			return nil, fmt.Errorf("%s: %w: %w", op, models.ErrInvalidInput, err)
		}
		subID := string(inv.Subscription)
		if subID == "" {
			subID = string(inv.Parent.SubscriptionDetails.Subscription)
		}
		return models.PaymentFailed{
			ID:                   event.ID,
			InvoiceID:            inv.ID,
			CustomerID:           string(inv.Customer),
			StripeSubscriptionID: subID,
			AttemptCount:         inv.AttemptCount,
		}, nil
	}

	return models.Unhandled{ID: event.ID, Type: eventType}, nil
}
