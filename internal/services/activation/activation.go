// Package activation выпускает и проверяет одноразовые токены активации
// учётной записи и выполняет саму активацию.
package activation

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/magabrotheeeer/coaching-billing/internal/lib/password"
	"github.com/magabrotheeeer/coaching-billing/internal/lib/sl"
	"github.com/magabrotheeeer/coaching-billing/internal/metrics"
	"github.com/magabrotheeeer/coaching-billing/internal/models"
	"github.com/magabrotheeeer/coaching-billing/internal/storage/repository"
)

const (
	tokenBytes = 32
	// MinPasswordLength минимальная длина пароля.
	MinPasswordLength = 8
	// MaxPasswordLength ограничение bcrypt.
	MaxPasswordLength = 72
)

// UserRepository чтение пользователей.
type UserRepository interface {
	GetUserByID(ctx context.Context, id string) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
}

// TokenRepository хранилище токенов активации.
type TokenRepository interface {
	CreateActivationToken(ctx context.Context, userID, tokenHash string, expiresAt time.Time) (*models.ActivationToken, error)
	ListUnusedActivationTokens(ctx context.Context, userID string) ([]models.ActivationToken, error)
	InvalidateActivationTokens(ctx context.Context, userID string) (int64, error)
	DeleteExpiredActivationTokens(ctx context.Context, now time.Time) (int64, error)
	ActivateUser(ctx context.Context, p repository.ActivateParams) (*models.User, error)
}

// Notifier отправляет письмо со ссылкой активации.
type Notifier interface {
	SendActivation(ctx context.Context, user *models.User, orderID *string, token string) error
}

// Service выпуск, проверка и погашение токенов активации.
type Service struct {
	users    UserRepository
	tokens   TokenRepository
	notifier Notifier
	log      *slog.Logger
	now      func() time.Time
}

// NewActivationService создаёт Service.
func NewActivationService(users UserRepository, tokens TokenRepository, notifier Notifier, log *slog.Logger) *Service {
	return &Service{
		users:    users,
		tokens:   tokens,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// Issue выпускает новый токен для пользователя и возвращает его открытое
// значение. Сохраняется только bcrypt-хэш.
func (s *Service) Issue(ctx context.Context, userID string) (string, error) {
	const op = "activation.Issue"
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	plaintext := hex.EncodeToString(buf)
	hash, err := password.GetHash(plaintext)
	if err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	if _, err := s.tokens.CreateActivationToken(ctx, userID, hash, s.now().Add(models.ActivationTokenTTL)); err != nil {
		return "", fmt.Errorf("%s: %w", op, err)
	}
	return plaintext, nil
}

// Validate проверяет токен пользователя без его погашения.
func (s *Service) Validate(ctx context.Context, plaintext, userID string) (*models.User, error) {
	const op = "activation.Validate"
	user, _, err := s.validate(ctx, plaintext, userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

func (s *Service) validate(ctx context.Context, plaintext, userID string) (*models.User, *models.ActivationToken, error) {
	if plaintext == "" {
		return nil, nil, models.ErrInvalidToken
	}
	if _, err := uuid.Parse(userID); err != nil {
		return nil, nil, models.ErrInvalidToken
	}
	user, err := s.users.GetUserByID(ctx, userID)
	if errors.Is(err, models.ErrNotFound) {
		return nil, nil, models.ErrInvalidToken
	}
	if err != nil {
		return nil, nil, err
	}
	if user.HasPassword() {
		return nil, nil, models.ErrAlreadyActivated
	}

	tokens, err := s.tokens.ListUnusedActivationTokens(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	// хэши солёные, поэтому поиск только перебором
	for i := range tokens {
		if password.CompareHash(tokens[i].TokenHash, plaintext) != nil {
			continue
		}
		if tokens[i].Expired(s.now()) {
			return nil, nil, models.ErrTokenExpired
		}
		return user, &tokens[i], nil
	}
	return nil, nil, models.ErrInvalidToken
}

// Activate погашает токен, устанавливает пароль и имя и активирует учётную запись.
func (s *Service) Activate(ctx context.Context, plaintext, userID, rawPassword string, name *string) (*models.User, error) {
	const op = "activation.Activate"
	if len(rawPassword) < MinPasswordLength || len(rawPassword) > MaxPasswordLength {
		return nil, fmt.Errorf("%s: %w: password must be %d to %d characters",
			op, models.ErrInvalidInput, MinPasswordLength, MaxPasswordLength)
	}

	_, token, err := s.validate(ctx, plaintext, userID)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("activate", "rejected").Inc()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	hash, err := password.GetHash(rawPassword)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	user, err := s.tokens.ActivateUser(ctx, repository.ActivateParams{
		TokenID:      token.ID,
		UserID:       userID,
		PasswordHash: hash,
		Name:         name,
		Now:          s.now().UTC(),
	})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("activate", "rejected").Inc()
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	metrics.AuthAttempts.WithLabelValues("activate", "success").Inc()
	s.log.Info("account activated", slog.String("user_id", user.ID))
	return user, nil
}

// InvalidateAll гасит все неиспользованные токены пользователя.
func (s *Service) InvalidateAll(ctx context.Context, userID string) error {
	const op = "activation.InvalidateAll"
	if _, err := s.tokens.InvalidateActivationTokens(ctx, userID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SweepExpired удаляет просроченные токены и возвращает их количество.
func (s *Service) SweepExpired(ctx context.Context) (int64, error) {
	const op = "activation.SweepExpired"
	n, err := s.tokens.DeleteExpiredActivationTokens(ctx, s.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	metrics.TokensSwept.Add(float64(n))
	return n, nil
}

// Resend перевыпускает токен и отправляет письмо активации. Результат для
// вызывающего всегда одинаков, чтобы не раскрывать существование адреса.
func (s *Service) Resend(ctx context.Context, email string) {
	const op = "activation.Resend"
	log := s.log.With(slog.String("op", op))

	user, err := s.users.GetUserByEmail(ctx, models.NormalizeEmail(email))
	if errors.Is(err, models.ErrNotFound) {
		log.Info("resend requested for unknown email")
		return
	}
	if err != nil {
		log.Error("failed to look up user", sl.Err(err))
		return
	}
	if user.HasPassword() {
		log.Info("resend requested for activated account", slog.String("user_id", user.ID))
		return
	}

	if err := s.InvalidateAll(ctx, user.ID); err != nil {
		log.Error("failed to invalidate tokens", sl.Err(err), slog.String("user_id", user.ID))
		return
	}
	token, err := s.Issue(ctx, user.ID)
	if err != nil {
		log.Error("failed to issue token", sl.Err(err), slog.String("user_id", user.ID))
		return
	}
	if err := s.notifier.SendActivation(ctx, user, nil, token); err != nil {
		log.Error("failed to send activation email", sl.Err(err), slog.String("user_id", user.ID))
		return
	}
	log.Info("activation email resent", slog.String("user_id", user.ID))
}
