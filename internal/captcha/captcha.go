// Package captcha проверяет ответы CAPTCHA через siteverify-совместимый API (Cloudflare Turnstile).
package captcha

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/magabrotheeeer/coaching-billing/internal/config"
	"github.com/magabrotheeeer/coaching-billing/internal/lib/sl"
	"github.com/magabrotheeeer/coaching-billing/internal/models"
)

// Verifier проверяет токены CAPTCHA. Без секрета проверка отключена.
type Verifier struct {
	secret    string
	verifyURL string
	client    *http.Client
	log       *slog.Logger
}

type verifyResponse struct {
	Success    bool     `json:"success"`
	ErrorCodes []string `json:"error-codes"`
}

// NewVerifier создаёт Verifier.
func NewVerifier(cfg config.Captcha, log *slog.Logger) *Verifier {
	return &Verifier{
		secret:    cfg.Secret,
		verifyURL: cfg.VerifyURL,
		client:    &http.Client{Timeout: 10 * time.Second},
		log:       log,
	}
}

// Enabled сообщает, включена ли проверка. Nil-проверяльщик выключен.
func (v *Verifier) Enabled() bool {
	return v != nil && v.secret != ""
}

// Verify проверяет токен. Возвращает models.ErrCaptchaFailed при отказе
// и models.ErrExternalService при недоступности сервиса проверки.
func (v *Verifier) Verify(ctx context.Context, token, remoteIP string) error {
	const op = "captcha.Verify"
	if !v.Enabled() {
		return nil
	}
	if strings.TrimSpace(token) == "" {
		return fmt.Errorf("%s: %w", op, models.ErrCaptchaFailed)
	}

	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		v.log.Error("captcha verify request failed", sl.Err(err))
		return fmt.Errorf("%s: %w: %w", op, models.ErrExternalService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s: %w: status %d", op, models.ErrExternalService, resp.StatusCode)
	}
	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("%s: %w: %w", op, models.ErrExternalService, err)
	}
	if !out.Success {
		v.log.Info("captcha rejected", slog.Any("error_codes", out.ErrorCodes))
		return fmt.Errorf("%s: %w", op, models.ErrCaptchaFailed)
	}
	return nil
}
