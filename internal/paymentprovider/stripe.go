package paymentprovider

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	stripe "github.com/stripe/stripe-go/v82"

	"github.com/magabrotheeeer/coaching-billing/internal/config"
	"github.com/magabrotheeeer/coaching-billing/internal/models"
)

const stripeAPIBase = "https://api.stripe.com"

// StripeClient обращается к REST API Stripe через BaseClient.
type StripeClient struct {
	base          *BaseClient
	secretKey     string
	webhookSecret string
	baseURL       string
	log           *slog.Logger
}

// NewStripeClient создаёт клиента Stripe.
func NewStripeClient(cfg config.Stripe, log *slog.Logger) *StripeClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}
	return &StripeClient{
		base: NewBaseClient(&http.Client{Timeout: timeout}, "stripe", RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			Wait:       cfg.RetryWait,
		}),
		secretKey:     cfg.SecretKey,
		webhookSecret: cfg.WebhookSecret,
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		log:           log,
	}
}

// CreateCheckoutSession создаёт сессию Stripe Checkout и возвращает её URL.
func (s *StripeClient) CreateCheckoutSession(ctx context.Context, req models.CheckoutSessionRequest) (*models.CheckoutSession, error) {
	const op = "stripe.CreateCheckoutSession"

	params := url.Values{}
	if req.Recurring {
		params.Set("mode", "subscription")
	} else {
		params.Set("mode", "payment")
		params.Set("customer_creation", "always")
	}
	params.Set("success_url", req.SuccessURL)
	params.Set("cancel_url", req.CancelURL)
	params.Set("line_items[0][price]", req.PriceID)
	params.Set("line_items[0][quantity]", "1")
	if req.CustomerEmail != "" {
		params.Set("customer_email", req.CustomerEmail)
	}
	for _, k := range sortedKeys(req.Metadata) {
		params.Set("metadata["+k+"]", req.Metadata[k])
	}
	if req.Recurring && req.CustomerEmail != "" {
		// позволяет связать подписку с пользователем до привязки клиента
		params.Set("subscription_data[metadata]["+models.MetaEmail+"]", req.CustomerEmail)
		if plan := req.Metadata[models.MetaPlanID]; plan != "" {
			params.Set("subscription_data[metadata]["+models.MetaPlanID+"]", plan)
		}
	}

	var session checkoutSessionWire
	if err := s.call(ctx, http.MethodPost, "/v1/checkout/sessions", params, &session); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if session.URL == "" {
		return nil, fmt.Errorf("%s: %w: empty checkout url", op, models.ErrExternalService)
	}
	return &models.CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

// GetSubscription возвращает текущее состояние подписки у Stripe.
func (s *StripeClient) GetSubscription(ctx context.Context, id string) (*models.ProcessorSubscription, error) {
	const op = "stripe.GetSubscription"
	var sub subscriptionWire
	if err := s.call(ctx, http.MethodGet, "/v1/subscriptions/"+url.PathEscape(id), nil, &sub); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub.toModel(), nil
}

// SetCancelAtPeriodEnd включает или снимает отмену подписки в конце периода.
func (s *StripeClient) SetCancelAtPeriodEnd(ctx context.Context, id string, cancel bool) (*models.ProcessorSubscription, error) {
	const op = "stripe.SetCancelAtPeriodEnd"
	params := url.Values{}
	params.Set("cancel_at_period_end", strconv.FormatBool(cancel))
	var sub subscriptionWire
	if err := s.call(ctx, http.MethodPost, "/v1/subscriptions/"+url.PathEscape(id), params, &sub); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub.toModel(), nil
}

// CancelSubscription немедленно отменяет подписку.
func (s *StripeClient) CancelSubscription(ctx context.Context, id string) (*models.ProcessorSubscription, error) {
	const op = "stripe.CancelSubscription"
	var sub subscriptionWire
	if err := s.call(ctx, http.MethodDelete, "/v1/subscriptions/"+url.PathEscape(id), nil, &sub); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return sub.toModel(), nil
}

func (s *StripeClient) call(ctx context.Context, method, path string, params url.Values, out any) error {
	reqURL := s.baseURL + path
	var body io.Reader
	if method == http.MethodGet || method == http.MethodDelete {
		if len(params) > 0 {
			reqURL += "?" + params.Encode()
		}
	} else {
		body = strings.NewReader(params.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)

	resp, err := s.base.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return s.handleErrorResponse(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode response: %w", models.ErrExternalService, err)
	}
	return nil
}

type stripeErrorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Code    string `json:"code"`
		Message string `json:"message"`
		Param   string `json:"param"`
	} `json:"error"`
}

func (s *StripeClient) handleErrorResponse(resp *http.Response) error {
	var e stripeErrorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	_ = json.Unmarshal(raw, &e)
	msg := e.Error.Message
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	s.log.Warn("stripe request failed",
		slog.Int("status", resp.StatusCode),
		slog.String("type", e.Error.Type),
		slog.String("code", e.Error.Code))

	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", models.ErrNotFound, msg)
	case http.StatusBadRequest:
		if e.Error.Param != "" {
			return fmt.Errorf("%w: %s (%s)", models.ErrInvalidInput, msg, e.Error.Param)
		}
		return fmt.Errorf("%w: %s", models.ErrInvalidInput, msg)
	default:
		return fmt.Errorf("%w: %s", models.ErrExternalService, msg)
	}
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
