package paymentprovider

import (
	"encoding/json"
	"time"

	"github.com/magabrotheeeer/coaching-billing/internal/models"
)

type checkoutSessionWire struct {
	ID              string            `json:"id"`
	URL             string            `json:"url"`
	Mode            string            `json:"mode"`
	PaymentStatus   string            `json:"payment_status"`
	Customer        expandableID      `json:"customer"`
	Subscription    expandableID      `json:"subscription"`
	PaymentIntent   expandableID      `json:"payment_intent"`
	CustomerEmail   string            `json:"customer_email"`
	AmountTotal     int64             `json:"amount_total"`
	Currency        string            `json:"currency"`
	Metadata        map[string]string `json:"metadata"`
	CustomerDetails struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"customer_details"`
}

type subscriptionItemWire struct {
	CurrentPeriodStart int64 `json:"current_period_start"`
	CurrentPeriodEnd   int64 `json:"current_period_end"`
	Price              struct {
		ID string `json:"id"`
	} `json:"price"`
}

type subscriptionWire struct {
	ID                 string            `json:"id"`
	Customer           expandableID      `json:"customer"`
	Status             string            `json:"status"`
	CancelAtPeriodEnd  bool              `json:"cancel_at_period_end"`
	CurrentPeriodStart int64             `json:"current_period_start"`
	CurrentPeriodEnd   int64             `json:"current_period_end"`
	Metadata           map[string]string `json:"metadata"`
	Items              struct {
		Data []subscriptionItemWire `json:"data"`
	} `json:"items"`
}

type invoiceWire struct {
	ID           string       `json:"id"`
	Customer     expandableID `json:"customer"`
	Subscription expandableID `json:"subscription"`
	AttemptCount int64        `json:"attempt_count"`
	Parent       struct {
		SubscriptionDetails struct {
			Subscription expandableID `json:"subscription"`
		} `json:"subscription_details"`
	} `json:"parent"`
}

// toModel переводит подписку в доменную модель. Границы периода в новых
// версиях API находятся в позициях подписки, в старых на верхнем уровне.
func (w subscriptionWire) toModel() *models.ProcessorSubscription {
	start, end := w.CurrentPeriodStart, w.CurrentPeriodEnd
	var priceID string
	if len(w.Items.Data) > 0 {
		item := w.Items.Data[0]
		priceID = item.Price.ID
		if start == 0 {
			start = item.CurrentPeriodStart
		}
		if end == 0 {
			end = item.CurrentPeriodEnd
		}
	}
	return &models.ProcessorSubscription{
		ID:                 w.ID,
		CustomerID:         string(w.Customer),
		Status:             w.Status,
		CancelAtPeriodEnd:  w.CancelAtPeriodEnd,
		CurrentPeriodStart: unixTime(start),
		CurrentPeriodEnd:   unixTime(end),
		PriceID:            priceID,
		Metadata:           w.Metadata,
	}
}

func unixTime(sec int64) time.Time {
	if sec == 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0).UTC()
}

// expandableID принимает как строковый идентификатор, так и развёрнутый объект с полем id.
type expandableID string

func (e *expandableID) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*e = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*e = expandableID(s)
		return nil
	}
	var obj struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	*e = expandableID(obj.ID)
	return nil
}
