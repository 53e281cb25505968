package ledger

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/coaching-billing/internal/lib/rabbitmq"
	"github.com/magabrotheeeer/coaching-billing/internal/models"
	"github.com/magabrotheeeer/coaching-billing/internal/storage/repository"
)

type RepoMock struct{ mock.Mock }

func (m *RepoMock) RecordCheckout(ctx context.Context, rec repository.CheckoutRecord) (*repository.CheckoutResult, error) {
	args := m.Called(ctx, rec)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.CheckoutResult), args.Error(1)
}

type IssuerMock struct{ mock.Mock }

func (m *IssuerMock) Issue(ctx context.Context, userID string) (string, error) {
	args := m.Called(ctx, userID)
	return args.String(0), args.Error(1)
}

type NotifierMock struct{ mock.Mock }

func (m *NotifierMock) SendOrderConfirmation(ctx context.Context, user *models.User, order *models.Order, newUser bool) error {
	return m.Called(ctx, user, order, newUser).Error(0)
}

func (m *NotifierMock) SendActivation(ctx context.Context, user *models.User, orderID *string, token string) error {
	return m.Called(ctx, user, orderID, token).Error(0)
}

type PublisherMock struct{ mock.Mock }

func (m *PublisherMock) Publish(ctx context.Context, routingKey string, message any) error {
	return m.Called(ctx, routingKey, message).Error(0)
}

type ReconcilerMock struct{ mock.Mock }

func (m *ReconcilerMock) SyncFromProcessor(ctx context.Context, externalID string) (*models.Subscription, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mocks struct {
	repo       *RepoMock
	issuer     *IssuerMock
	notifier   *NotifierMock
	publisher  *PublisherMock
	reconciler *ReconcilerMock
}

func newMocks() mocks {
	return mocks{new(RepoMock), new(IssuerMock), new(NotifierMock), new(PublisherMock), new(ReconcilerMock)}
}

func (m mocks) service() *LedgerService {
	return NewLedgerService(m.repo, m.issuer, m.notifier, m.publisher, m.reconciler, newNoopLogger())
}

func guestCheckout() models.CheckoutCompleted {
	return models.CheckoutCompleted{
		ID:            "evt_1",
		SessionID:     "cs_test_1",
		CustomerEmail: "New@Example.com",
		CustomerID:    "cus_1",
		AmountTotal:   15000,
		Currency:      "EUR",
		Metadata: map[string]string{
			models.MetaPlanID:          "woman-premium-6w",
			models.MetaTermsAccepted:   "true",
			models.MetaPrivacyAccepted: "true",
			models.MetaTermsVersion:    "1.0",
			models.MetaPrivacyVersion:  "1.1",
			models.MetaIPAddress:       "10.0.0.1",
		},
	}
}

func newUserResult() *repository.CheckoutResult {
	return &repository.CheckoutResult{
		User:        &models.User{ID: "user-1", Email: "new@example.com", Role: models.RoleClient},
		UserCreated: true,
		Order: &models.Order{
			ID:              "order-1",
			PlanID:          "woman-premium-6w",
			Amount:          15000,
			Currency:        "eur",
			StripeSessionID: "cs_test_1",
			Status:          models.OrderCompleted,
			SignUpStatus:    models.SignUpPending,
		},
	}
}

func TestHandleCheckoutCompleted_NewGuest(t *testing.T) {
	m := newMocks()
	m.repo.On("RecordCheckout", mock.Anything, mock.MatchedBy(func(rec repository.CheckoutRecord) bool {
		return rec.Email == "new@example.com" &&
			*rec.CustomerID == "cus_1" &&
			rec.Name == nil &&
			rec.Order.PlanID == "woman-premium-6w" &&
			rec.Order.Amount == 15000 &&
			rec.Order.Currency == "eur" &&
			rec.Order.StripeSessionID == "cs_test_1" &&
			rec.Order.Status == models.OrderCompleted &&
			rec.Order.SignUpStatus == models.SignUpPending &&
			rec.Consent != nil &&
			rec.Consent.TermsAccepted && rec.Consent.PrivacyAccepted &&
			rec.Consent.PrivacyVersion == "1.1" &&
			!rec.Consent.MarketingOptIn &&
			*rec.Consent.IPAddress == "10.0.0.1" &&
			rec.Consent.UserAgent == nil
	})).Return(newUserResult(), nil).Once()
	m.issuer.On("Issue", mock.Anything, "user-1").Return("plain-token", nil).Once()
	m.notifier.On("SendOrderConfirmation", mock.Anything, mock.Anything, mock.Anything, true).Return(nil).Once()
	m.notifier.On("SendActivation", mock.Anything, mock.Anything, mock.MatchedBy(func(id *string) bool {
		return id != nil && *id == "order-1"
	}), "plain-token").Return(nil).Once()
	m.publisher.On("Publish", mock.Anything, rabbitmq.RoutingKeyOrderCompleted, mock.MatchedBy(func(n models.OrderNotification) bool {
		return n.OrderID == "order-1" && n.NewUser && n.Amount == 15000 && !n.CreatedAt.IsZero()
	})).Return(nil).Once()

	res, err := m.service().HandleCheckoutCompleted(context.Background(), guestCheckout())
	require.NoError(t, err)
	assert.True(t, res.UserCreated)
	assert.False(t, res.Duplicate)
	m.repo.AssertExpectations(t)
	m.issuer.AssertExpectations(t)
	m.notifier.AssertExpectations(t)
	m.publisher.AssertExpectations(t)
	m.reconciler.AssertNotCalled(t, "SyncFromProcessor", mock.Anything, mock.Anything)
}

func TestHandleCheckoutCompleted_Replay(t *testing.T) {
	m := newMocks()
	dup := newUserResult()
	dup.Duplicate = true
	dup.UserCreated = false
	m.repo.On("RecordCheckout", mock.Anything, mock.Anything).Return(dup, nil).Once()

	res, err := m.service().HandleCheckoutCompleted(context.Background(), guestCheckout())
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	m.issuer.AssertNotCalled(t, "Issue", mock.Anything, mock.Anything)
	m.notifier.AssertNotCalled(t, "SendOrderConfirmation", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	m.publisher.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleCheckoutCompleted_ExistingUser(t *testing.T) {
	m := newMocks()
	res := newUserResult()
	res.UserCreated = false
	m.repo.On("RecordCheckout", mock.Anything, mock.Anything).Return(res, nil).Once()
	m.notifier.On("SendOrderConfirmation", mock.Anything, mock.Anything, mock.Anything, false).Return(nil).Once()
	m.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	_, err := m.service().HandleCheckoutCompleted(context.Background(), guestCheckout())
	require.NoError(t, err)
	m.issuer.AssertNotCalled(t, "Issue", mock.Anything, mock.Anything)
	m.notifier.AssertNotCalled(t, "SendActivation", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleCheckoutCompleted_NotificationFailuresAreSwallowed(t *testing.T) {
	m := newMocks()
	m.repo.On("RecordCheckout", mock.Anything, mock.Anything).Return(newUserResult(), nil).Once()
	m.issuer.On("Issue", mock.Anything, "user-1").Return("plain-token", nil).Once()
	m.notifier.On("SendOrderConfirmation", mock.Anything, mock.Anything, mock.Anything, true).Return(models.ErrExternalService).Once()
	m.notifier.On("SendActivation", mock.Anything, mock.Anything, mock.Anything, "plain-token").Return(models.ErrExternalService).Once()
	m.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("channel closed")).Once()

	res, err := m.service().HandleCheckoutCompleted(context.Background(), guestCheckout())
	require.NoError(t, err)
	assert.Equal(t, "order-1", res.Order.ID)
	m.notifier.AssertExpectations(t)
}

func TestHandleCheckoutCompleted_LedgerFailurePropagates(t *testing.T) {
	m := newMocks()
	m.repo.On("RecordCheckout", mock.Anything, mock.Anything).Return(nil, errors.New("db down")).Once()

	_, err := m.service().HandleCheckoutCompleted(context.Background(), guestCheckout())
	require.Error(t, err)
	m.notifier.AssertNotCalled(t, "SendOrderConfirmation", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestHandleCheckoutCompleted_SubscriptionSync(t *testing.T) {
	m := newMocks()
	ev := guestCheckout()
	ev.StripeSubscriptionID = "sub_1"
	ev.Metadata = map[string]string{models.MetaPlanID: "monthly"}

	res := newUserResult()
	res.UserCreated = false
	m.repo.On("RecordCheckout", mock.Anything, mock.MatchedBy(func(rec repository.CheckoutRecord) bool {
		return rec.Consent == nil && *rec.Order.StripeSubscriptionID == "sub_1"
	})).Return(res, nil).Once()
	m.notifier.On("SendOrderConfirmation", mock.Anything, mock.Anything, mock.Anything, false).Return(nil)
	m.publisher.On("Publish", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	m.reconciler.On("SyncFromProcessor", mock.Anything, "sub_1").Return(nil, models.ErrExternalService).Once()

	_, err := m.service().HandleCheckoutCompleted(context.Background(), ev)
	require.NoError(t, err)
	m.reconciler.AssertExpectations(t)
}

func TestHandleCheckoutCompleted_InvalidEvent(t *testing.T) {
	tests := []struct {
		name string
		ev   models.CheckoutCompleted
	}{
		{name: "no email", ev: models.CheckoutCompleted{SessionID: "cs_1"}},
		{name: "no session", ev: models.CheckoutCompleted{CustomerEmail: "a@example.com"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := newMocks()
			_, err := m.service().HandleCheckoutCompleted(context.Background(), tt.ev)
			assert.ErrorIs(t, err, models.ErrInvalidInput)
			m.repo.AssertNotCalled(t, "RecordCheckout", mock.Anything, mock.Anything)
		})
	}
}

func TestConsentFromMetadata(t *testing.T) {
	assert.Nil(t, consentFromMetadata(nil))
	assert.Nil(t, consentFromMetadata(map[string]string{models.MetaPlanID: "x"}))

	c := consentFromMetadata(map[string]string{
		models.MetaTermsAccepted:  "true",
		models.MetaMarketingOptIn: "1",
	})
	require.NotNil(t, c)
	assert.True(t, c.TermsAccepted)
	assert.False(t, c.PrivacyAccepted)
	assert.True(t, c.MarketingOptIn)
}
