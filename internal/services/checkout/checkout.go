// Package checkout создаёт сессии оплаты для планов из каталога.
package checkout

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/magabrotheeeer/coaching-billing/internal/config"
	"github.com/magabrotheeeer/coaching-billing/internal/models"
)

// maxUserAgent ограничение длины user agent в метаданных провайдера.
const maxUserAgent = 500

// Processor создаёт сессии оплаты у провайдера.
type Processor interface {
	CreateCheckoutSession(ctx context.Context, req models.CheckoutSessionRequest) (*models.CheckoutSession, error)
}

// CaptchaVerifier проверка CAPTCHA.
type CaptchaVerifier interface {
	Verify(ctx context.Context, token, remoteIP string) error
}

// Request запрос на оформление заказа.
type Request struct {
	PlanID          string
	Email           string
	TermsAccepted   bool
	PrivacyAccepted bool
	MarketingOptIn  bool
	CaptchaToken    string
	IPAddress       string
	UserAgent       string
}

// Service оформление заказа.
type Service struct {
	processor Processor
	captcha   CaptchaVerifier
	cfg       config.Checkout
	log       *slog.Logger
}

// NewCheckoutService создаёт Service.
func NewCheckoutService(processor Processor, captcha CaptchaVerifier, cfg config.Checkout, log *slog.Logger) *Service {
	return &Service{
		processor: processor,
		captcha:   captcha,
		cfg:       cfg,
		log:       log,
	}
}

// Plans возвращает каталог планов.
func (s *Service) Plans() []models.Plan {
	return s.cfg.Plans
}

// Create проверяет запрос и создаёт сессию оплаты. Ошибки проверки и
// провайдера возвращаются вызывающему как есть.
func (s *Service) Create(ctx context.Context, req Request) (*models.CheckoutSession, error) {
	const op = "checkout.Create"

	plan, ok := s.cfg.Plan(req.PlanID)
	if !ok {
		return nil, fmt.Errorf("%s: %w: %q", op, models.ErrUnknownPlan, req.PlanID)
	}
	if !req.TermsAccepted || !req.PrivacyAccepted {
		return nil, fmt.Errorf("%s: %w: terms and privacy policy must be accepted", op, models.ErrInvalidInput)
	}
	if err := s.captcha.Verify(ctx, req.CaptchaToken, req.IPAddress); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	email := models.NormalizeEmail(req.Email)
	userAgent := req.UserAgent
	if len(userAgent) > maxUserAgent {
		userAgent = userAgent[:maxUserAgent]
	}
	meta := map[string]string{
		models.MetaPlanID:          plan.ID,
		models.MetaTermsAccepted:   strconv.FormatBool(req.TermsAccepted),
		models.MetaPrivacyAccepted: strconv.FormatBool(req.PrivacyAccepted),
		models.MetaTermsVersion:    s.cfg.TermsVersion,
		models.MetaPrivacyVersion:  s.cfg.PrivacyVersion,
		models.MetaMarketingOptIn:  strconv.FormatBool(req.MarketingOptIn),
	}
	if req.IPAddress != "" {
		meta[models.MetaIPAddress] = req.IPAddress
	}
	if userAgent != "" {
		meta[models.MetaUserAgent] = userAgent
	}
	if email != "" {
		meta[models.MetaEmail] = email
	}

	session, err := s.processor.CreateCheckoutSession(ctx, models.CheckoutSessionRequest{
		PriceID:       plan.PriceID,
		Recurring:     plan.Recurring,
		CustomerEmail: email,
		SuccessURL:    s.cfg.SuccessURL,
		CancelURL:     s.cfg.CancelURL,
		Metadata:      meta,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	s.log.Info("checkout session created",
		slog.String("session_id", session.ID),
		slog.String("plan_id", plan.ID))
	return session, nil
}
