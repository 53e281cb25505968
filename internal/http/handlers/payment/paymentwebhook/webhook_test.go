package paymentwebhook

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/coaching-billing/internal/models"
)

type ServiceMock struct {
	mock.Mock
}

func (m *ServiceMock) Ingest(ctx context.Context, payload []byte, signature string) error {
	args := m.Called(ctx, payload, signature)
	return args.Error(0)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))
}

func TestWebhookHandler(t *testing.T) {
	payload := []byte(`{"id":"evt_1","type":"checkout.session.completed"}`)

	tests := []struct {
		name       string
		mockErr    error
		wantStatus int
	}{
		{name: "accepted", wantStatus: http.StatusOK},
		{
			name:       "bad signature",
			mockErr:    fmt.Errorf("paymentprovider.ParseEvent: %w: signature mismatch", models.ErrInvalidInput),
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "processing failed",
			mockErr:    errors.New("db down"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := new(ServiceMock)
			svc.On("Ingest", mock.Anything, payload, "t=1,v1=abc").Return(tt.mockErr).Once()

			req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(payload))
			req.Header.Set(SignatureHeader, "t=1,v1=abc")
			rec := httptest.NewRecorder()
			New(newNoopLogger(), svc).ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			svc.AssertExpectations(t)
		})
	}
}

func TestWebhookHandler_BodyTooLarge(t *testing.T) {
	svc := new(ServiceMock)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook",
		bytes.NewReader(bytes.Repeat([]byte("a"), MaxBodyBytes+1)))
	rec := httptest.NewRecorder()

	New(newNoopLogger(), svc).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	svc.AssertNotCalled(t, "Ingest", mock.Anything, mock.Anything, mock.Anything)
}
