package models

// Plan тарифный план из каталога.
type Plan struct {
	ID       string `yaml:"id" json:"id"`
	Name     string `yaml:"name" json:"name"`
	PriceID  string `yaml:"price_id" json:"price_id"`
	Amount   int64  `yaml:"amount" json:"amount"`
	Currency string `yaml:"currency" json:"currency"`
	// Recurring план оплачивается подпиской, иначе разовым платежом.
	Recurring bool `yaml:"recurring" json:"recurring"`
}

// CheckoutSessionRequest параметры создания сессии оплаты у провайдера.
type CheckoutSessionRequest struct {
	PriceID       string
	Recurring     bool
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
	Metadata      map[string]string
}

// CheckoutSession созданная сессия оплаты.
type CheckoutSession struct {
	ID  string
	URL string
}

// Ключи метаданных сессии оплаты.
const (
	MetaPlanID          = "plan_id"
	MetaTermsAccepted   = "terms_accepted"
	MetaPrivacyAccepted = "privacy_accepted"
	MetaTermsVersion    = "terms_version"
	MetaPrivacyVersion  = "privacy_version"
	MetaMarketingOptIn  = "marketing_opt_in"
	MetaIPAddress       = "ip_address"
	MetaUserAgent       = "user_agent"
	MetaEmail           = "email"
)
