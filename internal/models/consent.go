package models

import "time"

// Consent фиксирует согласие покупателя с юридическими документами на момент
// оплаты. Запись создаётся один раз на заказ и больше не изменяется.
type Consent struct {
	ID              string
	OrderID         string
	TermsAccepted   bool
	PrivacyAccepted bool
	TermsVersion    string
	PrivacyVersion  string
	MarketingOptIn  bool
	IPAddress       *string
	UserAgent       *string
	CreatedAt       time.Time
}
