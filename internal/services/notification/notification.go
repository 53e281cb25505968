// Package notification отправляет письма клиентам и администраторам и ведёт
// журнал отправок. Ошибки отправки вызывающие считают некритичными.
package notification

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/magabrotheeeer/coaching-billing/internal/config"
	"github.com/magabrotheeeer/coaching-billing/internal/lib/sl"
	"github.com/magabrotheeeer/coaching-billing/internal/lib/smtp"
	"github.com/magabrotheeeer/coaching-billing/internal/metrics"
	"github.com/magabrotheeeer/coaching-billing/internal/models"
)

//go:embed templates/*.html
var templateFS embed.FS

// EmailLogRepository журнал отправленных писем.
type EmailLogRepository interface {
	CreateEmailLogs(ctx context.Context, logs []models.EmailLog) ([]string, error)
	MarkEmailLogsSent(ctx context.Context, ids []string, providerMessageID string) error
	MarkEmailLogsFailed(ctx context.Context, ids []string, errMsg string) error
}

// Provider почтовый провайдер.
type Provider interface {
	Send(ctx context.Context, email smtp.Email) (string, error)
}

// Message письмо, отправляемое одним вызовом провайдера.
type Message struct {
	Type     models.EmailType
	OrderID  *string
	To       []string
	Subject  string
	HTMLBody string
	TextBody string
}

// Dispatcher отправляет письма и записывает по строке журнала на каждого получателя.
type Dispatcher struct {
	repo        EmailLogRepository
	provider    Provider
	templates   *template.Template
	adminEmails []string
	baseURL     string
	log         *slog.Logger
}

// NewDispatcher создаёт Dispatcher. Шаблоны встроены в бинарник.
func NewDispatcher(repo EmailLogRepository, provider Provider, cfg config.Notification, log *slog.Logger) *Dispatcher {
	return &Dispatcher{
		repo:        repo,
		provider:    provider,
		templates:   template.Must(template.ParseFS(templateFS, "templates/*.html")),
		adminEmails: cfg.AdminEmails,
		baseURL:     strings.TrimSuffix(cfg.AppBaseURL, "/"),
		log:         log,
	}
}

// Send записывает журнал, отправляет письмо и помечает строки журнала
// результатом отправки. Без строки журнала письмо не отправляется.
// Ошибка провайдера возвращается как models.ErrExternalService.
func (d *Dispatcher) Send(ctx context.Context, msg Message) error {
	const op = "notification.Send"
	if len(msg.To) == 0 {
		return fmt.Errorf("%s: %w: no recipients", op, models.ErrInvalidInput)
	}
	log := d.log.With(slog.String("op", op), slog.String("type", string(msg.Type)))

	entries := make([]models.EmailLog, 0, len(msg.To))
	for _, to := range msg.To {
		entries = append(entries, models.EmailLog{
			Type:      msg.Type,
			OrderID:   msg.OrderID,
			Recipient: to,
			Subject:   msg.Subject,
			Status:    models.EmailSent,
		})
	}
	ids, err := d.repo.CreateEmailLogs(ctx, entries)
	if err != nil {
		log.Error("failed to write email log, email not sent", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	messageID, sendErr := d.provider.Send(ctx, smtp.Email{
		To:       msg.To,
		Subject:  msg.Subject,
		HTMLBody: msg.HTMLBody,
		TextBody: msg.TextBody,
	})
	if sendErr != nil {
		metrics.EmailsSent.WithLabelValues(string(msg.Type), string(models.EmailFailed)).Inc()
		log.Error("failed to send email", sl.Err(sendErr), slog.Int("recipients", len(msg.To)))
		if err := d.repo.MarkEmailLogsFailed(ctx, ids, sendErr.Error()); err != nil {
			log.Error("failed to mark email log failed", sl.Err(err))
		}
		return fmt.Errorf("%s: %w: %w", op, models.ErrExternalService, sendErr)
	}

	metrics.EmailsSent.WithLabelValues(string(msg.Type), string(models.EmailSent)).Inc()
	if err := d.repo.MarkEmailLogsSent(ctx, ids, messageID); err != nil {
		log.Error("failed to mark email log sent", sl.Err(err))
	}
	log.Info("email sent", slog.String("message_id", messageID), slog.Int("recipients", len(msg.To)))
	return nil
}

type orderConfirmationData struct {
	Name    string
	OrderID string
	PlanID  string
	Amount  string
	NewUser bool
}

// SendOrderConfirmation отправляет покупателю подтверждение заказа.
func (d *Dispatcher) SendOrderConfirmation(ctx context.Context, user *models.User, order *models.Order, newUser bool) error {
	const op = "notification.SendOrderConfirmation"
	body, err := d.render("order_confirmation.html", orderConfirmationData{
		Name:    deref(user.Name),
		OrderID: order.ID,
		PlanID:  order.PlanID,
		Amount:  FormatAmount(order.Amount, order.Currency),
		NewUser: newUser,
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	orderID := order.ID
	return d.Send(ctx, Message{
		Type:     models.EmailTransactional,
		OrderID:  &orderID,
		To:       []string{user.Email},
		Subject:  "Your order confirmation",
		HTMLBody: body,
		TextBody: fmt.Sprintf("Thank you for your purchase.\nOrder: %s\nPlan: %s\nAmount: %s\n",
			order.ID, order.PlanID, FormatAmount(order.Amount, order.Currency)),
	})
}

type activationData struct {
	Name       string
	Link       string
	ValidHours int
}

// SendActivation отправляет ссылку активации с открытым токеном.
func (d *Dispatcher) SendActivation(ctx context.Context, user *models.User, orderID *string, token string) error {
	const op = "notification.SendActivation"
	link := d.ActivationLink(user.ID, token)
	body, err := d.render("activation.html", activationData{
		Name:       deref(user.Name),
		Link:       link,
		ValidHours: int(models.ActivationTokenTTL / time.Hour),
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return d.Send(ctx, Message{
		Type:     models.EmailSignup,
		OrderID:  orderID,
		To:       []string{user.Email},
		Subject:  "Activate your account",
		HTMLBody: body,
		TextBody: "Set your password to activate your account: " + link + "\n",
	})
}

// ActivationLink собирает ссылку на страницу активации.
func (d *Dispatcher) ActivationLink(userID, token string) string {
	q := url.Values{}
	q.Set("token", token)
	q.Set("user", userID)
	return d.baseURL + "/activate?" + q.Encode()
}

type adminOrderData struct {
	models.OrderNotification
	Amount    string
	CreatedAt string
}

// SendAdminNewOrder уведомляет администраторов о новом заказе одним письмом.
// Без настроенных адресов ничего не делает.
func (d *Dispatcher) SendAdminNewOrder(ctx context.Context, n models.OrderNotification) error {
	const op = "notification.SendAdminNewOrder"
	if len(d.adminEmails) == 0 {
		return nil
	}
	amount := FormatAmount(n.Amount, n.Currency)
	body, err := d.render("admin_new_order.html", adminOrderData{
		OrderNotification: n,
		Amount:            amount,
		CreatedAt:         n.CreatedAt.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	orderID := n.OrderID
	return d.Send(ctx, Message{
		Type:     models.EmailTransactional,
		OrderID:  &orderID,
		To:       d.adminEmails,
		Subject:  fmt.Sprintf("New order: %s (%s)", n.PlanID, amount),
		HTMLBody: body,
		TextBody: fmt.Sprintf("New order %s from %s, plan %s, %s\n", n.OrderID, n.CustomerEmail, n.PlanID, amount),
	})
}

// HandleOrderEvent обработчик сообщений очереди orders.completed.
func (d *Dispatcher) HandleOrderEvent(ctx context.Context, body []byte) error {
	const op = "notification.HandleOrderEvent"
	var n models.OrderNotification
	if err := json.Unmarshal(body, &n); err != nil {
		return fmt.Errorf("%s: %w: %w", op, models.ErrInvalidInput, err)
	}
	if err := d.SendAdminNewOrder(ctx, n); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (d *Dispatcher) render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := d.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// FormatAmount форматирует сумму в минимальных единицах, например 15000 eur -> "150.00 EUR".
func FormatAmount(minor int64, currency string) string {
	sign := ""
	if minor < 0 {
		sign = "-"
		minor = -minor
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, minor/100, minor%100, strings.ToUpper(currency))
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
