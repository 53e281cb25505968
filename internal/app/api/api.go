package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi"
	"github.com/streadway/amqp"
	"golang.org/x/sync/errgroup"

	"github.com/magabrotheeeer/coaching-billing/internal/cache"
	"github.com/magabrotheeeer/coaching-billing/internal/captcha"
	"github.com/magabrotheeeer/coaching-billing/internal/config"
	"github.com/magabrotheeeer/coaching-billing/internal/lib/jwt"
	"github.com/magabrotheeeer/coaching-billing/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/coaching-billing/internal/lib/sl"
	"github.com/magabrotheeeer/coaching-billing/internal/lib/smtp"
	"github.com/magabrotheeeer/coaching-billing/internal/migrations"
	"github.com/magabrotheeeer/coaching-billing/internal/paymentprovider"
	activationservice "github.com/magabrotheeeer/coaching-billing/internal/services/activation"
	authservice "github.com/magabrotheeeer/coaching-billing/internal/services/auth"
	checkoutservice "github.com/magabrotheeeer/coaching-billing/internal/services/checkout"
	ledgerservice "github.com/magabrotheeeer/coaching-billing/internal/services/ledger"
	"github.com/magabrotheeeer/coaching-billing/internal/services/notification"
	subservice "github.com/magabrotheeeer/coaching-billing/internal/services/subscription"
	webhookservice "github.com/magabrotheeeer/coaching-billing/internal/services/webhook"
	"github.com/magabrotheeeer/coaching-billing/internal/storage/repository"
)

const shutdownTimeout = 15 * time.Second

// App HTTP API биллинга.
type App struct {
	server *http.Server
	logger *slog.Logger
	db     *repository.Storage
	cache  *cache.Cache
	conn   *amqp.Connection
	ch     *amqp.Channel
}

// New подключает хранилища, применяет миграции и собирает сервисы.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "api.New"

	logger.Info("configuration loaded",
		slog.String("env", cfg.Env),
		slog.String("http_address", cfg.AddressHTTP),
		sl.Secret("storage_connection_string", cfg.StorageConnectionString),
		sl.Secret("stripe_secret_key", cfg.Stripe.SecretKey),
		sl.Secret("stripe_webhook_secret", cfg.Stripe.WebhookSecret),
		sl.Secret("jwt_secret_key", cfg.JWTSecretKey),
		slog.Bool("captcha_enabled", cfg.Captcha.Secret != ""),
		slog.Int("plans", len(cfg.Checkout.Plans)),
	)

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err = migrations.Run(db.DB, cfg.MigrationsPath); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cacheRedis, err := cache.InitServer(ctx, cfg.RedisConnection)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	app := &App{
		logger: logger,
		db:     db,
		cache:  cacheRedis,
	}

	// RabbitMQ нужен только для уведомлений администраторов, без него API работает.
	var publisher ledgerservice.Publisher
	if cfg.RabbitMQ.URL != "" {
		conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL, cfg.RabbitMQ.MaxRetries, cfg.RabbitMQ.RetryDelay)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		app.conn = conn
		ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetNotificationQueues())
		if err != nil {
			app.close()
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		app.ch = ch
		publisher = rabbitmq.NewPublisher(ch)
	} else {
		logger.Warn("rabbitmq is not configured, admin order notifications are disabled")
	}

	stripeClient := paymentprovider.NewStripeClient(cfg.Stripe, logger)
	mailer := smtp.NewMailer(smtp.NewTransport(cfg.SMTP, logger), cfg.SMTP.From, logger)
	dispatcher := notification.NewDispatcher(db, mailer, cfg.Notification, logger)

	activationService := activationservice.NewActivationService(db, db, dispatcher, logger)
	authService := authservice.NewAuthService(db, jwt.NewJWTMaker(cfg.JWTSecretKey, cfg.TokenTTL), logger)
	subscriptionService := subservice.NewSubscriptionService(
		db, stripeClient, cacheRedis, cacheRedis, cfg.Subscription, cfg.Checkout.Plans, logger,
	)
	ledgerService := ledgerservice.NewLedgerService(db, activationService, dispatcher, publisher, subscriptionService, logger)
	webhookService := webhookservice.NewWebhookService(stripeClient, ledgerService, subscriptionService, logger)
	captchaVerifier := captcha.NewVerifier(cfg.Captcha, logger)
	checkoutService := checkoutservice.NewCheckoutService(stripeClient, captchaVerifier, cfg.Checkout, logger)

	router := chi.NewRouter()
	RegisterRoutes(router, logger, cfg.RateLimit, Services{
		Checkout:     checkoutService,
		Webhook:      webhookService,
		Activation:   activationService,
		Auth:         authService,
		Subscription: subscriptionService,
		Captcha:      captchaVerifier,
		DB:           db.DB,
	})

	app.server = &http.Server{
		Addr:         cfg.AddressHTTP,
		Handler:      router,
		ReadTimeout:  cfg.TimeoutHTTP,
		WriteTimeout: cfg.TimeoutHTTP,
		IdleTimeout:  cfg.IdleTimeout,
	}
	return app, nil
}

// Run обслуживает HTTP до отмены ctx, затем корректно останавливает сервер.
func (a *App) Run(ctx context.Context) error {
	defer a.close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.logger.Info("HTTP server starting on", slog.String("address", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeoutCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.logger.Info("shutting down HTTP server gracefully")
		return a.server.Shutdown(timeoutCtx)
	})
	return g.Wait()
}

func (a *App) close() {
	if a.ch != nil {
		if err := a.ch.Close(); err != nil {
			a.logger.Error("failed to close channel", sl.Err(err))
		}
	}
	if a.conn != nil {
		if err := a.conn.Close(); err != nil {
			a.logger.Error("failed to close connection", sl.Err(err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Error("failed to close cache", sl.Err(err))
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close storage", sl.Err(err))
	}
}
