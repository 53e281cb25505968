package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/magabrotheeeer/coaching-billing/internal/migrations"
	"github.com/magabrotheeeer/coaching-billing/internal/models"
)

// setupTestDatabase поднимает контейнер PostgreSQL и применяет миграции.
func setupTestDatabase(t *testing.T) (*Storage, func()) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	require.NoError(t, err, "failed to start container")

	dsn, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	storage, err := New(dsn)
	require.NoError(t, err)

	migrationsPath, err := filepath.Abs("../../../migrations")
	require.NoError(t, err)
	require.NoError(t, migrations.Run(storage.DB, migrationsPath))

	cleanup := func() {
		_ = storage.Close()
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate container: %s", err)
		}
	}
	return storage, cleanup
}

// TestDataFactory создаёт тестовые данные напрямую в БД.
type TestDataFactory struct {
	storage *Storage
}

func NewTestDataFactory(storage *Storage) *TestDataFactory {
	return &TestDataFactory{storage: storage}
}

// CreateUser создаёт неактивированного пользователя.
func (f *TestDataFactory) CreateUser(t *testing.T, email string) string {
	var id string
	err := f.storage.DB.QueryRow(`INSERT INTO users (email, role) VALUES ($1, 'CLIENT') RETURNING id`, email).Scan(&id)
	require.NoError(t, err)
	return id
}

// CreateActivatedUser создаёт пользователя с паролем.
func (f *TestDataFactory) CreateActivatedUser(t *testing.T, email, passwordHash string) string {
	var id string
	err := f.storage.DB.QueryRow(`INSERT INTO users (email, role, password_hash, activated_at, email_verified)
		VALUES ($1, 'CLIENT', $2, NOW(), TRUE) RETURNING id`, email, passwordHash).Scan(&id)
	require.NoError(t, err)
	return id
}

// CreateSubscription создаёт подписку с заданным статусом.
func (f *TestDataFactory) CreateSubscription(t *testing.T, userID, externalID string,
	status models.SubscriptionStatus, cancelAtPeriodEnd bool, createdAt time.Time) string {
	var id string
	err := f.storage.DB.QueryRow(`INSERT INTO subscriptions (user_id, stripe_subscription_id, status,
			cancel_at_period_end, current_period_start, current_period_end, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $7) RETURNING id`,
		userID, externalID, status, cancelAtPeriodEnd, createdAt, createdAt.AddDate(0, 1, 0), createdAt).Scan(&id)
	require.NoError(t, err)
	return id
}

func countRows(t *testing.T, s *Storage, query string, args ...any) int {
	var n int
	require.NoError(t, s.DB.QueryRow(query, args...).Scan(&n))
	return n
}

func ptr[T any](v T) *T {
	return &v
}
