package smtp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
)

// Email письмо для отправки.
type Email struct {
	To       []string
	Subject  string
	HTMLBody string
	TextBody string
}

// Mailer отправляет письма через Dialer.
type Mailer struct {
	dialer  Dialer
	from    string
	breaker *gobreaker.CircuitBreaker[string]
	log     *slog.Logger
}

// NewMailer создаёт Mailer с circuit breaker'ом "smtp".
func NewMailer(dialer Dialer, from string, log *slog.Logger) *Mailer {
	cb := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        "smtp",
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("circuit breaker state changed",
				slog.String("breaker", name),
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		},
	})
	return &Mailer{dialer: dialer, from: from, breaker: cb, log: log}
}

// Send отправляет письмо всем получателям одним SMTP-сеансом и возвращает
// сгенерированный Message-ID.
func (m *Mailer) Send(ctx context.Context, email Email) (string, error) {
	const op = "smtp.Send"
	if len(email.To) == 0 {
		return "", fmt.Errorf("%s: no recipients", op)
	}
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("%s: %w", op, ctx.Err())
	default:
	}

	id, err := m.breaker.Execute(func() (string, error) {
		return m.deliver(email)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return "", fmt.Errorf("%s: mail server unavailable: %w", op, err)
		}
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return id, nil
}

func (m *Mailer) deliver(email Email) (string, error) {
	client, err := m.dialer.Connect()
	if err != nil {
		return "", err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Mail(m.from); err != nil {
		return "", fmt.Errorf("MAIL FROM: %w", err)
	}
	for _, addr := range email.To {
		if err := client.Rcpt(addr); err != nil {
			return "", fmt.Errorf("RCPT TO %s: %w", addr, err)
		}
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), domainOf(m.from))
	wc, err := client.Data()
	if err != nil {
		return "", fmt.Errorf("DATA: %w", err)
	}
	if _, err = wc.Write(buildMessage(m.from, messageID, email)); err != nil {
		_ = wc.Close()
		return "", fmt.Errorf("write body: %w", err)
	}
	if err = wc.Close(); err != nil {
		return "", fmt.Errorf("close body: %w", err)
	}
	if err = client.Quit(); err != nil {
		m.log.Warn("failed to quit SMTP session", slog.String("error", err.Error()))
	}
	return messageID, nil
}

func domainOf(addr string) string {
	if i := strings.LastIndex(addr, "@"); i >= 0 && i < len(addr)-1 {
		return strings.Trim(addr[i+1:], "> ")
	}
	return "localhost"
}

const boundary = "coaching-billing-alt"

func buildMessage(from, messageID string, email Email) []byte {
	headers := []string{
		"From: " + from,
		"To: " + strings.Join(email.To, ", "),
		"Subject: " + mime.QEncoding.Encode("utf-8", email.Subject),
		"Message-ID: " + messageID,
		"Date: " + time.Now().UTC().Format(time.RFC1123Z),
		"MIME-Version: 1.0",
	}

	var b strings.Builder
	if email.HTMLBody == "" {
		headers = append(headers, `Content-Type: text/plain; charset="UTF-8"`)
		b.WriteString(strings.Join(headers, "\r\n"))
		b.WriteString("\r\n\r\n")
		b.WriteString(email.TextBody)
		return []byte(b.String())
	}

	headers = append(headers, `Content-Type: multipart/alternative; boundary="`+boundary+`"`)
	b.WriteString(strings.Join(headers, "\r\n"))
	b.WriteString("\r\n\r\n")
	if email.TextBody != "" {
		b.WriteString("--" + boundary + "\r\n")
		b.WriteString("Content-Type: text/plain; charset=\"UTF-8\"\r\n\r\n")
		b.WriteString(email.TextBody)
		b.WriteString("\r\n")
	}
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n\r\n")
	b.WriteString(email.HTMLBody)
	b.WriteString("\r\n--" + boundary + "--\r\n")
	return []byte(b.String())
}
