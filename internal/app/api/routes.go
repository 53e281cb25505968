// Package api собирает HTTP API биллинга: маршруты, сервисы и их зависимости.
package api

import (
	"log/slog"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	_ "github.com/magabrotheeeer/coaching-billing/docs"
	"github.com/magabrotheeeer/coaching-billing/internal/captcha"
	"github.com/magabrotheeeer/coaching-billing/internal/config"
	"github.com/magabrotheeeer/coaching-billing/internal/http/handlers/activation/activate"
	"github.com/magabrotheeeer/coaching-billing/internal/http/handlers/activation/resend"
	"github.com/magabrotheeeer/coaching-billing/internal/http/handlers/activation/validate"
	"github.com/magabrotheeeer/coaching-billing/internal/http/handlers/auth/login"
	"github.com/magabrotheeeer/coaching-billing/internal/http/handlers/checkout/create"
	"github.com/magabrotheeeer/coaching-billing/internal/http/handlers/checkout/plans"
	"github.com/magabrotheeeer/coaching-billing/internal/http/handlers/health"
	"github.com/magabrotheeeer/coaching-billing/internal/http/handlers/payment/paymentwebhook"
	"github.com/magabrotheeeer/coaching-billing/internal/http/handlers/subscription/cancel"
	"github.com/magabrotheeeer/coaching-billing/internal/http/handlers/subscription/get"
	"github.com/magabrotheeeer/coaching-billing/internal/http/handlers/subscription/reactivate"
	"github.com/magabrotheeeer/coaching-billing/internal/http/handlers/subscription/resync"
	"github.com/magabrotheeeer/coaching-billing/internal/http/middlewarectx"
	"github.com/magabrotheeeer/coaching-billing/internal/models"
	activationservice "github.com/magabrotheeeer/coaching-billing/internal/services/activation"
	authservice "github.com/magabrotheeeer/coaching-billing/internal/services/auth"
	checkoutservice "github.com/magabrotheeeer/coaching-billing/internal/services/checkout"
	subservice "github.com/magabrotheeeer/coaching-billing/internal/services/subscription"
	webhookservice "github.com/magabrotheeeer/coaching-billing/internal/services/webhook"
)

// Services сервисы, которые обслуживает HTTP API.
type Services struct {
	Checkout     *checkoutservice.Service
	Webhook      *webhookservice.Service
	Activation   *activationservice.Service
	Auth         *authservice.AuthService
	Subscription *subservice.SubscriptionService
	Captcha      *captcha.Verifier
	DB           health.Pinger
}

// RegisterRoutes регистрирует все маршруты приложения.
func RegisterRoutes(r chi.Router, logger *slog.Logger, cfg config.RateLimit, s Services) {
	// Глобальные middleware
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Logger,
		middleware.Recoverer,
	)

	limiter := middlewarectx.NewLimiter(cfg.RPS, cfg.Burst)

	r.Route("/api/v1", func(r chi.Router) {
		// Открытые конечные точки
		r.Get("/plans", plans.New(s.Checkout).ServeHTTP)
		r.Post("/checkout", create.New(logger, s.Checkout).ServeHTTP)

		// Каждый запрос здесь стоит bcrypt-сравнений, поэтому лимит по IP
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.RateLimitMiddleware(limiter, logger))
			r.Post("/login", login.New(logger, s.Auth).ServeHTTP)
			r.Post("/activation/validate", validate.New(logger, s.Activation, s.Captcha).ServeHTTP)
			r.Post("/activation", activate.New(logger, s.Activation, s.Captcha).ServeHTTP)
			r.Post("/activation/resend", resend.New(logger, s.Activation, s.Captcha).ServeHTTP)
		})

		// Группа с JWT аутентификацией
		r.Group(func(r chi.Router) {
			r.Use(middlewarectx.JWTMiddleware(s.Auth, logger))
			r.Get("/subscription", get.New(logger, s.Subscription).ServeHTTP)
			r.Post("/subscription/cancel", cancel.New(logger, s.Subscription).ServeHTTP)
			r.Post("/subscription/reactivate", reactivate.New(logger, s.Subscription).ServeHTTP)

			r.With(middlewarectx.RequireRole(logger, models.RoleAdmin, models.RoleCoach)).
				Post("/subscription/sync", resync.New(logger, s.Subscription).ServeHTTP)
		})

		// Webhook endpoint (без аутентификации, подпись проверяет сервис)
		r.Post("/payments/webhook", paymentwebhook.New(logger, s.Webhook).ServeHTTP)
	})

	r.Get("/health", health.New(logger, s.DB).ServeHTTP)
	r.Handle("/metrics", promhttp.Handler())
	// Swagger docs endpoint
	r.Get("/docs/*", httpSwagger.WrapHandler)
}
