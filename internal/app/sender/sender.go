// Package sender содержит приложение, которое рассылает уведомления из очереди.
package sender

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/streadway/amqp"

	"github.com/magabrotheeeer/coaching-billing/internal/config"
	"github.com/magabrotheeeer/coaching-billing/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/coaching-billing/internal/lib/sl"
	"github.com/magabrotheeeer/coaching-billing/internal/lib/smtp"
	"github.com/magabrotheeeer/coaching-billing/internal/services/notification"
	"github.com/magabrotheeeer/coaching-billing/internal/storage/repository"
)

// App потребитель очереди заказов.
type App struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	db         *repository.Storage
	dispatcher *notification.Dispatcher
	logger     *slog.Logger
}

// New подключается к хранилищу и RabbitMQ и собирает рассылку.
func New(_ context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	const op = "sender.New"

	logger.Info("configuration loaded",
		slog.String("env", cfg.Env),
		sl.Secret("storage_connection_string", cfg.StorageConnectionString),
		sl.Secret("smtp_pass", cfg.SMTP.Pass),
		slog.Int("admin_emails", len(cfg.Notification.AdminEmails)),
	)

	db, err := repository.New(cfg.StorageConnectionString)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	conn, err := rabbitmq.Connect(cfg.RabbitMQ.URL, cfg.RabbitMQ.MaxRetries, cfg.RabbitMQ.RetryDelay)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	ch, err := rabbitmq.SetupChannel(conn, rabbitmq.GetNotificationQueues())
	if err != nil {
		_ = conn.Close()
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	mailer := smtp.NewMailer(smtp.NewTransport(cfg.SMTP, logger), cfg.SMTP.From, logger)

	return &App{
		conn:       conn,
		ch:         ch,
		db:         db,
		dispatcher: notification.NewDispatcher(db, mailer, cfg.Notification, logger),
		logger:     logger,
	}, nil
}

// Run потребляет события заказов до отмены ctx.
func (a *App) Run(ctx context.Context) error {
	err := rabbitmq.ConsumerMessage(ctx, a.ch, rabbitmq.QueueOrderCompleted, a.dispatcher.HandleOrderEvent, a.logger)
	if err != nil {
		a.logger.Error("failed to start consumer",
			slog.String("queue", rabbitmq.QueueOrderCompleted), sl.Err(err))
		a.close()
		return err
	}

	<-ctx.Done()
	a.logger.Info("sender service shutting down gracefully")
	a.close()
	return nil
}

func (a *App) close() {
	if err := a.ch.Close(); err != nil {
		a.logger.Error("failed to close channel", sl.Err(err))
	}
	if err := a.conn.Close(); err != nil {
		a.logger.Error("failed to close connection", sl.Err(err))
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close storage", sl.Err(err))
	}
}
