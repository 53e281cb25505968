package paymentprovider

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripe "github.com/stripe/stripe-go/v82"

	"github.com/magabrotheeeer/coaching-billing/internal/config"
	"github.com/magabrotheeeer/coaching-billing/internal/models"
)

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestClient(t *testing.T, h http.HandlerFunc) *StripeClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c := NewStripeClient(config.Stripe{
		SecretKey:     "sk_test_123",
		WebhookSecret: "whsec_test",
		BaseURL:       srv.URL,
		Timeout:       5 * time.Second,
		MaxRetries:    2,
	}, newNoopLogger())
	c.base.sleepFn = func(time.Duration) {}
	return c
}

func TestCreateCheckoutSession(t *testing.T) {
	var got url.Values
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.Equal(t, "Bearer sk_test_123", r.Header.Get("Authorization"))
		assert.Equal(t, stripe.APIVersion, r.Header.Get("Stripe-Version"))
		require.NoError(t, r.ParseForm())
		got = r.PostForm
		_, _ = io.WriteString(w, `{"id":"cs_1","url":"https://checkout.stripe.com/c/cs_1"}`)
	})

	session, err := c.CreateCheckoutSession(context.Background(), models.CheckoutSessionRequest{
		PriceID:       "price_monthly",
		Recurring:     true,
		CustomerEmail: "ann@example.com",
		SuccessURL:    "https://app/success",
		CancelURL:     "https://app/cancel",
		Metadata: map[string]string{
			models.MetaPlanID:        "monthly",
			models.MetaTermsAccepted: "true",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_1", session.ID)
	assert.Equal(t, "https://checkout.stripe.com/c/cs_1", session.URL)

	assert.Equal(t, "subscription", got.Get("mode"))
	assert.Equal(t, "price_monthly", got.Get("line_items[0][price]"))
	assert.Equal(t, "1", got.Get("line_items[0][quantity]"))
	assert.Equal(t, "ann@example.com", got.Get("customer_email"))
	assert.Equal(t, "monthly", got.Get("metadata[plan_id]"))
	assert.Equal(t, "true", got.Get("metadata[terms_accepted]"))
	assert.Equal(t, "ann@example.com", got.Get("subscription_data[metadata][email]"))
	assert.Equal(t, "monthly", got.Get("subscription_data[metadata][plan_id]"))
}

func TestCreateCheckoutSession_PaymentMode(t *testing.T) {
	var got url.Values
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		got = r.PostForm
		_, _ = io.WriteString(w, `{"id":"cs_2","url":"https://checkout.stripe.com/c/cs_2"}`)
	})

	_, err := c.CreateCheckoutSession(context.Background(), models.CheckoutSessionRequest{
		PriceID:       "price_once",
		CustomerEmail: "ann@example.com",
	})
	require.NoError(t, err)
	assert.Equal(t, "payment", got.Get("mode"))
	assert.Equal(t, "always", got.Get("customer_creation"))
	assert.Empty(t, got.Get("subscription_data[metadata][email]"))
}

func TestCreateCheckoutSession_BadRequest(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = io.WriteString(w, `{"error":{"type":"invalid_request_error","message":"No such price","param":"line_items[0][price]"}}`)
	})

	_, err := c.CreateCheckoutSession(context.Background(), models.CheckoutSessionRequest{PriceID: "price_missing"})
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
	assert.Contains(t, err.Error(), "No such price")
}

func TestGetSubscription(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantStart int64
		wantEnd   int64
	}{
		{
			name:      "top level period",
			body:      `{"id":"sub_1","customer":"cus_1","status":"active","cancel_at_period_end":true,"current_period_start":1700000000,"current_period_end":1702592000,"items":{"data":[{"price":{"id":"price_m"}}]},"metadata":{"email":"ann@example.com"}}`,
			wantStart: 1700000000,
			wantEnd:   1702592000,
		},
		{
			name:      "item level period",
			body:      `{"id":"sub_1","customer":{"id":"cus_1"},"status":"active","cancel_at_period_end":true,"items":{"data":[{"current_period_start":1700000000,"current_period_end":1702592000,"price":{"id":"price_m"}}]},"metadata":{"email":"ann@example.com"}}`,
			wantStart: 1700000000,
			wantEnd:   1702592000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodGet, r.Method)
				assert.Equal(t, "/v1/subscriptions/sub_1", r.URL.Path)
				_, _ = io.WriteString(w, tt.body)
			})

			sub, err := c.GetSubscription(context.Background(), "sub_1")
			require.NoError(t, err)
			assert.Equal(t, "sub_1", sub.ID)
			assert.Equal(t, "cus_1", sub.CustomerID)
			assert.Equal(t, "active", sub.Status)
			assert.True(t, sub.CancelAtPeriodEnd)
			assert.Equal(t, "price_m", sub.PriceID)
			assert.Equal(t, "ann@example.com", sub.Metadata["email"])
			assert.Equal(t, tt.wantStart, sub.CurrentPeriodStart.Unix())
			assert.Equal(t, tt.wantEnd, sub.CurrentPeriodEnd.Unix())
		})
	}
}

func TestGetSubscription_NotFound(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"error":{"type":"invalid_request_error","code":"resource_missing","message":"No such subscription"}}`)
	})

	_, err := c.GetSubscription(context.Background(), "sub_missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestSetCancelAtPeriodEnd(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/subscriptions/sub_1", r.URL.Path)
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "false", r.PostForm.Get("cancel_at_period_end"))
		_, _ = io.WriteString(w, `{"id":"sub_1","status":"active","cancel_at_period_end":false}`)
	})

	sub, err := c.SetCancelAtPeriodEnd(context.Background(), "sub_1", false)
	require.NoError(t, err)
	assert.False(t, sub.CancelAtPeriodEnd)
}

func TestCancelSubscription(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		_, _ = io.WriteString(w, `{"id":"sub_1","status":"canceled"}`)
	})

	sub, err := c.CancelSubscription(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "canceled", sub.Status)
	assert.True(t, sub.CurrentPeriodEnd.IsZero())
}

func TestRetriesOnServerError(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = io.WriteString(w, `{"id":"sub_1","status":"active"}`)
	})

	sub, err := c.GetSubscription(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "sub_1", sub.ID)
	assert.Equal(t, int32(3), calls.Load())
}

func TestServerErrorExhaustsRetries(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.GetSubscription(context.Background(), "sub_1")
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrExternalService)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetryResendsBody(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "true", r.PostForm.Get("cancel_at_period_end"))
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"id":"sub_1","status":"active","cancel_at_period_end":true}`)
	})

	sub, err := c.SetCancelAtPeriodEnd(context.Background(), "sub_1", true)
	require.NoError(t, err)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, int32(2), calls.Load())
}
