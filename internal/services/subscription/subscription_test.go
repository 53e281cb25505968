package subscription

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/magabrotheeeer/coaching-billing/internal/cache"
	"github.com/magabrotheeeer/coaching-billing/internal/config"
	"github.com/magabrotheeeer/coaching-billing/internal/models"
)

type RepoMock struct{ mock.Mock }

func (m *RepoMock) UpsertSubscription(ctx context.Context, sub models.Subscription) (*models.Subscription, error) {
	args := m.Called(ctx, sub)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *RepoMock) GetSubscriptionByExternalID(ctx context.Context, externalID string) (*models.Subscription, error) {
	args := m.Called(ctx, externalID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *RepoMock) GetActiveSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *RepoMock) GetReactivatableSubscription(ctx context.Context, userID string) (*models.Subscription, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *RepoMock) UpdateSubscriptionState(ctx context.Context, id string, status models.SubscriptionStatus, cancelAtPeriodEnd bool) (*models.Subscription, error) {
	args := m.Called(ctx, id, status, cancelAtPeriodEnd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Subscription), args.Error(1)
}

func (m *RepoMock) GetUserByStripeCustomerID(ctx context.Context, customerID string) (*models.User, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

func (m *RepoMock) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.User), args.Error(1)
}

type ProcessorMock struct{ mock.Mock }

func (m *ProcessorMock) GetSubscription(ctx context.Context, id string) (*models.ProcessorSubscription, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ProcessorSubscription), args.Error(1)
}

func (m *ProcessorMock) SetCancelAtPeriodEnd(ctx context.Context, id string, cancel bool) (*models.ProcessorSubscription, error) {
	args := m.Called(ctx, id, cancel)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ProcessorSubscription), args.Error(1)
}

func (m *ProcessorMock) CancelSubscription(ctx context.Context, id string) (*models.ProcessorSubscription, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.ProcessorSubscription), args.Error(1)
}

func newNoopLogger() *slog.Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{})
	return slog.New(h)
}

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func setup(t *testing.T) (*SubscriptionService, *RepoMock, *ProcessorMock, *cache.Cache) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	c, err := cache.InitServer(context.Background(), config.RedisConnection{AddressRedis: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	r, p := new(RepoMock), new(ProcessorMock)
	svc := NewSubscriptionService(r, p, c, c,
		config.Subscription{CacheTTL: time.Minute, LockTTL: 5 * time.Second},
		[]models.Plan{{ID: "monthly", PriceID: "price_monthly", Recurring: true}},
		newNoopLogger())
	svc.now = func() time.Time { return fixedNow }
	return svc, r, p, c
}

func activeSub() *models.Subscription {
	return &models.Subscription{
		ID:                   "local-1",
		UserID:               "user-1",
		StripeSubscriptionID: "sub_1",
		Status:               models.SubscriptionActive,
		CurrentPeriodStart:   fixedNow.Add(-10 * 24 * time.Hour),
		CurrentPeriodEnd:     fixedNow.Add(20 * 24 * time.Hour),
	}
}

func TestGet_Cached(t *testing.T) {
	svc, r, _, _ := setup(t)
	r.On("GetActiveSubscription", mock.Anything, "user-1").Return(activeSub(), nil).Once()

	first, err := svc.Get(context.Background(), "user-1")
	require.NoError(t, err)
	second, err := svc.Get(context.Background(), "user-1")
	require.NoError(t, err)

	assert.Equal(t, "sub_1", first.StripeSubscriptionID)
	assert.Equal(t, first.StripeSubscriptionID, second.StripeSubscriptionID)
	r.AssertNumberOfCalls(t, "GetActiveSubscription", 1)
}

func TestGet_None(t *testing.T) {
	svc, r, _, _ := setup(t)
	r.On("GetActiveSubscription", mock.Anything, "user-1").Return(nil, models.ErrNotFound).Once()

	sub, err := svc.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Nil(t, sub)

	sub, err = svc.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Nil(t, sub)
	r.AssertNumberOfCalls(t, "GetActiveSubscription", 1)
}

func TestCancel(t *testing.T) {
	tests := []struct {
		name       string
		immediate  bool
		setupMocks func(r *RepoMock, p *ProcessorMock)
		wantStatus models.SubscriptionStatus
		wantFlag   bool
		wantErr    error
	}{
		{
			name: "at period end keeps status",
			setupMocks: func(r *RepoMock, p *ProcessorMock) {
				r.On("GetActiveSubscription", mock.Anything, "user-1").Return(activeSub(), nil)
				r.On("GetSubscriptionByExternalID", mock.Anything, "sub_1").Return(activeSub(), nil)
				p.On("SetCancelAtPeriodEnd", mock.Anything, "sub_1", true).
					Return(&models.ProcessorSubscription{ID: "sub_1", Status: "active", CancelAtPeriodEnd: true}, nil).Once()
				flagged := activeSub()
				flagged.CancelAtPeriodEnd = true
				r.On("UpdateSubscriptionState", mock.Anything, "local-1", models.SubscriptionActive, true).Return(flagged, nil).Once()
			},
			wantStatus: models.SubscriptionActive,
			wantFlag:   true,
		},
		{
			name:      "immediate",
			immediate: true,
			setupMocks: func(r *RepoMock, p *ProcessorMock) {
				r.On("GetActiveSubscription", mock.Anything, "user-1").Return(activeSub(), nil)
				r.On("GetSubscriptionByExternalID", mock.Anything, "sub_1").Return(activeSub(), nil)
				p.On("CancelSubscription", mock.Anything, "sub_1").
					Return(&models.ProcessorSubscription{ID: "sub_1", Status: "canceled"}, nil).Once()
				cancelled := activeSub()
				cancelled.Status = models.SubscriptionCancelled
				r.On("UpdateSubscriptionState", mock.Anything, "local-1", models.SubscriptionCancelled, false).Return(cancelled, nil).Once()
			},
			wantStatus: models.SubscriptionCancelled,
		},
		{
			name: "no active subscription",
			setupMocks: func(r *RepoMock, p *ProcessorMock) {
				r.On("GetActiveSubscription", mock.Anything, "user-1").Return(nil, models.ErrNotFound)
			},
			wantErr: models.ErrNotFound,
		},
		{
			name: "processor failure leaves local state",
			setupMocks: func(r *RepoMock, p *ProcessorMock) {
				r.On("GetActiveSubscription", mock.Anything, "user-1").Return(activeSub(), nil)
				r.On("GetSubscriptionByExternalID", mock.Anything, "sub_1").Return(activeSub(), nil)
				p.On("SetCancelAtPeriodEnd", mock.Anything, "sub_1", true).Return(nil, models.ErrExternalService)
			},
			wantErr: models.ErrExternalService,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, r, p, _ := setup(t)
			tt.setupMocks(r, p)

			sub, err := svc.Cancel(context.Background(), "user-1", tt.immediate)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				r.AssertNotCalled(t, "UpdateSubscriptionState", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, sub.Status)
			assert.Equal(t, tt.wantFlag, sub.CancelAtPeriodEnd)
			p.AssertExpectations(t)
		})
	}
}

func TestCancel_InvalidatesCache(t *testing.T) {
	svc, r, p, c := setup(t)
	ctx := context.Background()
	r.On("GetActiveSubscription", mock.Anything, "user-1").Return(activeSub(), nil)
	r.On("GetSubscriptionByExternalID", mock.Anything, "sub_1").Return(activeSub(), nil)
	p.On("SetCancelAtPeriodEnd", mock.Anything, "sub_1", true).Return(&models.ProcessorSubscription{ID: "sub_1"}, nil)
	r.On("UpdateSubscriptionState", mock.Anything, "local-1", models.SubscriptionActive, true).Return(activeSub(), nil)

	_, err := svc.Get(ctx, "user-1")
	require.NoError(t, err)
	_, err = svc.Cancel(ctx, "user-1", false)
	require.NoError(t, err)

	var cached cachedSubscription
	found, err := c.Get(ctx, cacheKey("user-1"), &cached)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestCancelThenSyncAfterPeriodEnd(t *testing.T) {
	svc, r, p, _ := setup(t)
	ctx := context.Background()

	flagged := activeSub()
	flagged.CancelAtPeriodEnd = true
	r.On("GetActiveSubscription", mock.Anything, "user-1").Return(activeSub(), nil)
	r.On("GetSubscriptionByExternalID", mock.Anything, "sub_1").Return(activeSub(), nil).Once()
	p.On("SetCancelAtPeriodEnd", mock.Anything, "sub_1", true).Return(&models.ProcessorSubscription{ID: "sub_1"}, nil)
	r.On("UpdateSubscriptionState", mock.Anything, "local-1", models.SubscriptionActive, true).Return(flagged, nil)

	sub, err := svc.Cancel(ctx, "user-1", false)
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionActive, sub.Status)
	assert.True(t, sub.CancelAtPeriodEnd)

	// период истёк, провайдер ещё не прислал удаление
	elapsed := fixedNow.Add(-time.Hour)
	r.On("GetSubscriptionByExternalID", mock.Anything, "sub_1").Return(flagged, nil).Once()
	p.On("GetSubscription", mock.Anything, "sub_1").Return(&models.ProcessorSubscription{
		ID:                 "sub_1",
		CustomerID:         "cus_1",
		Status:             "active",
		CancelAtPeriodEnd:  true,
		CurrentPeriodStart: elapsed.Add(-30 * 24 * time.Hour),
		CurrentPeriodEnd:   elapsed,
	}, nil)
	r.On("UpsertSubscription", mock.Anything, mock.MatchedBy(func(s models.Subscription) bool {
		return s.Status == models.SubscriptionCancelled && s.CancelAtPeriodEnd && s.UserID == "user-1" &&
			s.CurrentPeriodEnd.Equal(elapsed)
	})).Return(&models.Subscription{ID: "local-1", UserID: "user-1", StripeSubscriptionID: "sub_1", Status: models.SubscriptionCancelled, CancelAtPeriodEnd: true}, nil).Once()

	sub, err = svc.SyncFromProcessor(ctx, "sub_1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionCancelled, sub.Status)
}

func TestReactivate(t *testing.T) {
	t.Run("already cancelled upstream", func(t *testing.T) {
		svc, r, p, _ := setup(t)
		flagged := activeSub()
		flagged.CancelAtPeriodEnd = true
		r.On("GetReactivatableSubscription", mock.Anything, "user-1").Return(flagged, nil)
		r.On("GetSubscriptionByExternalID", mock.Anything, "sub_1").Return(flagged, nil)
		p.On("GetSubscription", mock.Anything, "sub_1").Return(&models.ProcessorSubscription{ID: "sub_1", Status: "canceled"}, nil)

		_, err := svc.Reactivate(context.Background(), "user-1")
		assert.ErrorIs(t, err, models.ErrAlreadyCancelled)
		assert.ErrorIs(t, err, models.ErrConflict)
		r.AssertNotCalled(t, "UpdateSubscriptionState", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		r.AssertNotCalled(t, "UpsertSubscription", mock.Anything, mock.Anything)
		p.AssertNotCalled(t, "SetCancelAtPeriodEnd", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("missing upstream", func(t *testing.T) {
		svc, r, p, _ := setup(t)
		cancelled := activeSub()
		cancelled.Status = models.SubscriptionCancelled
		r.On("GetReactivatableSubscription", mock.Anything, "user-1").Return(cancelled, nil)
		r.On("GetSubscriptionByExternalID", mock.Anything, "sub_1").Return(cancelled, nil)
		p.On("GetSubscription", mock.Anything, "sub_1").Return(nil, models.ErrNotFound)

		_, err := svc.Reactivate(context.Background(), "user-1")
		assert.ErrorIs(t, err, models.ErrAlreadyCancelled)
	})

	t.Run("clears scheduled cancellation", func(t *testing.T) {
		svc, r, p, _ := setup(t)
		flagged := activeSub()
		flagged.CancelAtPeriodEnd = true
		r.On("GetReactivatableSubscription", mock.Anything, "user-1").Return(flagged, nil)
		r.On("GetSubscriptionByExternalID", mock.Anything, "sub_1").Return(flagged, nil)
		p.On("GetSubscription", mock.Anything, "sub_1").
			Return(&models.ProcessorSubscription{ID: "sub_1", Status: "active", CancelAtPeriodEnd: true}, nil)
		p.On("SetCancelAtPeriodEnd", mock.Anything, "sub_1", false).
			Return(&models.ProcessorSubscription{ID: "sub_1", Status: "active"}, nil).Once()
		r.On("UpdateSubscriptionState", mock.Anything, "local-1", models.SubscriptionActive, false).Return(activeSub(), nil).Once()

		sub, err := svc.Reactivate(context.Background(), "user-1")
		require.NoError(t, err)
		assert.Equal(t, models.SubscriptionActive, sub.Status)
		assert.False(t, sub.CancelAtPeriodEnd)
		p.AssertExpectations(t)
	})

	t.Run("state changed while waiting for lock", func(t *testing.T) {
		svc, r, p, _ := setup(t)
		flagged := activeSub()
		flagged.CancelAtPeriodEnd = true
		r.On("GetReactivatableSubscription", mock.Anything, "user-1").Return(flagged, nil)
		// параллельный вызов уже снял флаг
		r.On("GetSubscriptionByExternalID", mock.Anything, "sub_1").Return(activeSub(), nil)

		_, err := svc.Reactivate(context.Background(), "user-1")
		assert.ErrorIs(t, err, models.ErrNotFound)
		p.AssertNotCalled(t, "GetSubscription", mock.Anything, mock.Anything)
		r.AssertNotCalled(t, "UpdateSubscriptionState", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("nothing to reactivate", func(t *testing.T) {
		svc, r, _, _ := setup(t)
		r.On("GetReactivatableSubscription", mock.Anything, "user-1").Return(nil, models.ErrNotFound)

		_, err := svc.Reactivate(context.Background(), "user-1")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestSyncFromProcessor_StatusMapping(t *testing.T) {
	tests := []struct {
		upstream string
		want     models.SubscriptionStatus
	}{
		{"active", models.SubscriptionActive},
		{"trialing", models.SubscriptionTrialing},
		{"past_due", models.SubscriptionPastDue},
		{"incomplete", models.SubscriptionIncomplete},
		{"canceled", models.SubscriptionCancelled},
		{"unpaid", models.SubscriptionCancelled},
		{"incomplete_expired", models.SubscriptionCancelled},
		{"paused", models.SubscriptionCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.upstream, func(t *testing.T) {
			svc, r, p, _ := setup(t)
			r.On("GetSubscriptionByExternalID", mock.Anything, "sub_1").Return(activeSub(), nil)
			p.On("GetSubscription", mock.Anything, "sub_1").Return(&models.ProcessorSubscription{
				ID:                 "sub_1",
				Status:             tt.upstream,
				CurrentPeriodStart: fixedNow,
				CurrentPeriodEnd:   fixedNow.Add(30 * 24 * time.Hour),
			}, nil).Once()
			r.On("UpsertSubscription", mock.Anything, mock.MatchedBy(func(s models.Subscription) bool {
				return s.Status == tt.want
			})).Return(&models.Subscription{UserID: "user-1", Status: tt.want}, nil).Once()

			sub, err := svc.SyncFromProcessor(context.Background(), "sub_1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, sub.Status)
		})
	}
}

func TestSyncFromProcessor_CancelledIsTerminal(t *testing.T) {
	svc, r, p, _ := setup(t)
	cancelled := activeSub()
	cancelled.Status = models.SubscriptionCancelled
	r.On("GetSubscriptionByExternalID", mock.Anything, "sub_1").Return(cancelled, nil)
	p.On("GetSubscription", mock.Anything, "sub_1").Return(&models.ProcessorSubscription{ID: "sub_1", Status: "active"}, nil)

	sub, err := svc.SyncFromProcessor(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, models.SubscriptionCancelled, sub.Status)
	r.AssertNotCalled(t, "UpsertSubscription", mock.Anything, mock.Anything)
}

func TestSyncFromProcessor_NewSubscription(t *testing.T) {
	upstream := models.ProcessorSubscription{
		ID:                 "sub_new",
		CustomerID:         "cus_1",
		Status:             "active",
		PriceID:            "price_monthly",
		CurrentPeriodStart: fixedNow,
		CurrentPeriodEnd:   fixedNow.Add(30 * 24 * time.Hour),
		Metadata:           map[string]string{models.MetaEmail: "Ann@Example.com"},
	}

	tests := []struct {
		name       string
		setupMocks func(r *RepoMock)
		wantErr    error
	}{
		{
			name: "linked by customer id",
			setupMocks: func(r *RepoMock) {
				r.On("GetUserByStripeCustomerID", mock.Anything, "cus_1").Return(&models.User{ID: "user-1"}, nil)
			},
		},
		{
			name: "falls back to metadata email",
			setupMocks: func(r *RepoMock) {
				r.On("GetUserByStripeCustomerID", mock.Anything, "cus_1").Return(nil, models.ErrNotFound)
				r.On("GetUserByEmail", mock.Anything, "ann@example.com").Return(&models.User{ID: "user-1"}, nil)
			},
		},
		{
			name: "unresolvable user",
			setupMocks: func(r *RepoMock) {
				r.On("GetUserByStripeCustomerID", mock.Anything, "cus_1").Return(nil, models.ErrNotFound)
				r.On("GetUserByEmail", mock.Anything, "ann@example.com").Return(nil, models.ErrNotFound)
			},
			wantErr: models.ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, r, p, _ := setup(t)
			p.On("GetSubscription", mock.Anything, "sub_new").Return(&upstream, nil)
			r.On("GetSubscriptionByExternalID", mock.Anything, "sub_new").Return(nil, models.ErrNotFound)
			tt.setupMocks(r)
			if tt.wantErr == nil {
				r.On("UpsertSubscription", mock.Anything, mock.MatchedBy(func(s models.Subscription) bool {
					return s.UserID == "user-1" && s.PlanID != nil && *s.PlanID == "monthly" &&
						s.Status == models.SubscriptionActive
				})).Return(&models.Subscription{ID: "local-2", UserID: "user-1", StripeSubscriptionID: "sub_new", Status: models.SubscriptionActive}, nil).Once()
			}

			sub, err := svc.SyncFromProcessor(context.Background(), "sub_new")
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				r.AssertNotCalled(t, "UpsertSubscription", mock.Anything, mock.Anything)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "user-1", sub.UserID)
		})
	}
}

func TestSyncFromProcessor_LockHeld(t *testing.T) {
	svc, _, p, c := setup(t)
	unlock, err := c.Lock(context.Background(), lockKey("sub_1"), time.Minute)
	require.NoError(t, err)
	defer unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	_, err = svc.SyncFromProcessor(ctx, "sub_1")
	assert.ErrorIs(t, err, cache.ErrLockNotAcquired)
	p.AssertNotCalled(t, "GetSubscription", mock.Anything, mock.Anything)
}

func TestSyncFromProcessor_EmptyID(t *testing.T) {
	svc, _, _, _ := setup(t)
	_, err := svc.SyncFromProcessor(context.Background(), "")
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestSyncFromProcessor_CallsBoundedByLockTTL(t *testing.T) {
	svc, r, p, _ := setup(t)
	start := time.Now()
	p.On("GetSubscription", mock.Anything, "sub_1").Run(func(args mock.Arguments) {
		ctx := args.Get(0).(context.Context)
		deadline, ok := ctx.Deadline()
		require.True(t, ok)
		assert.True(t, deadline.Before(start.Add(svc.lockTTL)), "processor call may outlive the lock")
	}).Return(nil, models.ErrExternalService).Once()

	_, err := svc.SyncFromProcessor(context.Background(), "sub_1")
	assert.ErrorIs(t, err, models.ErrExternalService)
	r.AssertNotCalled(t, "UpsertSubscription", mock.Anything, mock.Anything)
}

func TestSyncFromProcessor_AbortsWhenLockBudgetSpent(t *testing.T) {
	svc, r, p, _ := setup(t)
	svc.lockTTL = 1100 * time.Millisecond
	p.On("GetSubscription", mock.Anything, "sub_1").Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return(nil, context.DeadlineExceeded).Once()

	_, err := svc.SyncFromProcessor(context.Background(), "sub_1")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	r.AssertNotCalled(t, "UpsertSubscription", mock.Anything, mock.Anything)
}
